package common

import (
	"errors"
	"testing"
)

type pauses map[string]bool

func (p pauses) IsPaused(module string) bool { return p[module] }

func TestGuard(t *testing.T) {
	if err := Guard(nil, "market"); err != nil {
		t.Fatalf("nil view: %v", err)
	}
	if err := Guard(pauses{}, ""); err != nil {
		t.Fatalf("empty module: %v", err)
	}
	if err := Guard(pauses{"market": false}, "market"); err != nil {
		t.Fatalf("unpaused module: %v", err)
	}
	if err := Guard(pauses{"market": true}, "market"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("paused module: %v", err)
	}
}

func TestReentrancyGuard(t *testing.T) {
	var g ReentrancyGuard
	if err := g.Enter(); err != nil {
		t.Fatalf("first enter: %v", err)
	}
	if err := g.Enter(); !errors.Is(err, ErrReentrantCall) {
		t.Fatalf("nested enter: %v", err)
	}
	g.Exit()
	if err := g.Enter(); err != nil {
		t.Fatalf("enter after exit: %v", err)
	}
}

func TestReentrancyGuardNilReceiver(t *testing.T) {
	var g *ReentrancyGuard
	if err := g.Enter(); err != nil {
		t.Fatalf("nil guard enter: %v", err)
	}
	g.Exit()
}
