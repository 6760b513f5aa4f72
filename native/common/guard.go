package common

import "errors"

var (
	ErrModulePaused  = errors.New("module paused")
	ErrReentrantCall = errors.New("reentrant call")
)

// PauseView reports whether a named module is administratively paused.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the operation when the module is paused.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// ReentrancyGuard is a process-wide mutual-exclusion flag bracketing every
// value-moving operation. Execution is serialized by the node, so a non-zero
// flag on entry can only mean an external callee called back into the engine
// before the original operation returned; such nested entry is rejected
// outright rather than queued.
type ReentrancyGuard struct {
	locked bool
}

// Enter acquires the guard or fails with ErrReentrantCall.
func (g *ReentrancyGuard) Enter() error {
	if g == nil {
		return nil
	}
	if g.locked {
		return ErrReentrantCall
	}
	g.locked = true
	return nil
}

// Exit releases the guard.
func (g *ReentrancyGuard) Exit() {
	if g != nil {
		g.locked = false
	}
}
