package market

// Allowed-token registry. Native currency is implicitly permitted at all
// times; the zero identifier can never be toggled. When enforcement is
// disabled every currency passes.

// SetAllowedToken toggles a fungible token's permitted flag. Restricted to
// the market-admin role.
func (e *Engine) SetAllowedToken(caller, token [20]byte, allowed bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !e.admin.HasRole(RoleMarketAdmin, caller) {
		return ErrUnauthorized
	}
	if token == ([20]byte{}) {
		return ErrNativeImmutable
	}
	if err := e.state.TokenAllowedSet(token, allowed); err != nil {
		return err
	}
	e.emit(NewTokenAllowedEvent(token, allowed))
	return nil
}

// SetWhitelistEnabled toggles allowlist enforcement. Restricted to the
// market-admin role.
func (e *Engine) SetWhitelistEnabled(caller [20]byte, enabled bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !e.admin.HasRole(RoleMarketAdmin, caller) {
		return ErrUnauthorized
	}
	if err := e.state.SetWhitelistEnabled(enabled); err != nil {
		return err
	}
	e.emit(NewWhitelistToggledEvent(enabled))
	return nil
}

// IsCurrencyAllowed reports whether the currency is currently accepted for
// payment.
func (e *Engine) IsCurrencyAllowed(cur Currency) (bool, error) {
	if e == nil || e.state == nil {
		return false, ErrNilState
	}
	return e.currencyAllowed(cur)
}
