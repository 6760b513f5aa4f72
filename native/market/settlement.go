package market

import (
	"fmt"
	"math/big"

	"deedmarket/native/fees"
)

// Payment rails. The marketplace's native-currency custody lives in the vault
// account; fungible-token custody lives in the token contracts against the
// vault address. Native movements are account writes inside the state
// overlay, so a failed native leg may abort the settlement and the overlay
// restores everything. Token movements are calls into an external contract
// that no overlay can recall: once the first token leg of a settlement has
// executed, the settlement must run to a committed end, and any later leg
// that cannot be delivered is parked as a claimable per-token pending
// balance instead of failing the operation.

func (e *Engine) moveNative(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	fromAcc, err := e.state.GetAccount(from)
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to)
	if err != nil {
		return err
	}
	fromAcc = fromAcc.EnsureDefaults()
	toAcc = toAcc.EnsureDefaults()
	if fromAcc.Balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	// Credit the recipient first: a rejected push then leaves the payer
	// untouched, which the refund fallback depends on.
	if err := e.state.PutAccount(to, toAcc); err != nil {
		return err
	}
	return e.state.PutAccount(from, fromAcc)
}

// refundNative pushes escrowed native currency from the vault back to the
// recipient. An undeliverable push is converted into a claimable pending
// balance instead of failing the enclosing operation, so a recipient that
// rejects transfers can neither block settlement nor lose funds.
func (e *Engine) refundNative(to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := e.moveNative(e.state.MarketVaultAddress(), to, amount); err != nil {
		return e.storePendingRefund(to, amount)
	}
	return nil
}

func (e *Engine) storePendingRefund(to [20]byte, amount *big.Int) error {
	pending, err := e.state.PendingRefundGet(to)
	if err != nil {
		return err
	}
	if pending == nil {
		pending = big.NewInt(0)
	}
	total := new(big.Int).Add(pending, amount)
	if err := e.state.PendingRefundSet(to, total); err != nil {
		return err
	}
	e.emit(NewRefundStoredEvent(to, amount, total))
	return nil
}

func (e *Engine) storePendingTokenRefund(to, tokenAddr [20]byte, amount *big.Int) error {
	pending, err := e.state.PendingTokenRefundGet(to, tokenAddr)
	if err != nil {
		return err
	}
	if pending == nil {
		pending = big.NewInt(0)
	}
	total := new(big.Int).Add(pending, amount)
	if err := e.state.PendingTokenRefundSet(to, tokenAddr, total); err != nil {
		return err
	}
	e.emit(NewTokenRefundStoredEvent(to, tokenAddr, amount, total))
	return nil
}

// WithdrawPendingRefund drains the caller's pull-refund balance. The balance
// is zeroed before the transfer so a re-entrant withdrawal observes nothing
// left to claim.
func (e *Engine) WithdrawPendingRefund(caller [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := e.guard.Enter(); err != nil {
		return nil, err
	}
	defer e.guard.Exit()
	pending, err := e.state.PendingRefundGet(caller)
	if err != nil {
		return nil, err
	}
	if pending == nil || pending.Sign() == 0 {
		return nil, ErrNoPendingRefund
	}
	if err := e.state.PendingRefundSet(caller, big.NewInt(0)); err != nil {
		return nil, err
	}
	if err := e.moveNative(e.state.MarketVaultAddress(), caller, pending); err != nil {
		return nil, err
	}
	e.emit(NewRefundWithdrawnEvent(caller, pending))
	return new(big.Int).Set(pending), nil
}

// WithdrawPendingTokenRefund drains the caller's pull-refund balance for one
// token. A failed push here returns an error with nothing moved, so the
// balance survives for a later retry.
func (e *Engine) WithdrawPendingTokenRefund(caller, tokenAddr [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := e.guard.Enter(); err != nil {
		return nil, err
	}
	defer e.guard.Exit()
	pending, err := e.state.PendingTokenRefundGet(caller, tokenAddr)
	if err != nil {
		return nil, err
	}
	if pending == nil || pending.Sign() == 0 {
		return nil, ErrNoPendingRefund
	}
	if err := e.state.PendingTokenRefundSet(caller, tokenAddr, big.NewInt(0)); err != nil {
		return nil, err
	}
	token, err := e.resolveToken(tokenAddr)
	if err != nil {
		return nil, err
	}
	if err := e.pushToken(token, caller, pending); err != nil {
		return nil, err
	}
	e.emit(NewTokenRefundWithdrawnEvent(caller, tokenAddr, pending))
	return new(big.Int).Set(pending), nil
}

// pullToken moves the nominal amount from the payer into vault custody and
// returns what actually arrived, measured as the vault's balance delta so
// fee-deducting tokens cannot inflate downstream accounting.
func (e *Engine) pullToken(token Token, from [20]byte, amount *big.Int) (*big.Int, error) {
	vault := e.state.MarketVaultAddress()
	before, err := token.BalanceOf(vault)
	if err != nil {
		return nil, err
	}
	ok, err := token.TransferFrom(from, vault, amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTransferFailed
	}
	after, err := token.BalanceOf(vault)
	if err != nil {
		return nil, err
	}
	received := new(big.Int).Sub(after, before)
	if received.Sign() <= 0 {
		return nil, ErrNothingReceived
	}
	return received, nil
}

func (e *Engine) pushToken(token Token, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	ok, err := token.Transfer(to, amount)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTransferFailed
	}
	return nil
}

// pushTokenOrPark delivers a token obligation from vault custody, converting
// an undeliverable push into a claimable per-token pending balance. A nil
// token means the contract could not be resolved; the amount parks directly.
func (e *Engine) pushTokenOrPark(tokenAddr [20]byte, token Token, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if token != nil {
		if err := e.pushToken(token, to, amount); err == nil {
			return nil
		}
	}
	return e.storePendingTokenRefund(to, tokenAddr, amount)
}

// distribute splits the gross payment into the seller-net and fee legs and
// moves both from vault custody. On the native rail both legs are mandatory
// and a failure aborts the settlement, which the overlay rolls back whole.
// On the token rail the funds already left the buyer irrevocably, so an
// undeliverable leg parks in the pending-token ledger and the settlement
// stands.
func (e *Engine) distribute(tokenID uint64, seller, buyer [20]byte, gross *big.Int, cur Currency) error {
	if e.admin == nil {
		return ErrNilAdmin
	}
	split := fees.Apply(fees.ApplyInput{Domain: fees.DomainMarket, Gross: gross, Config: e.admin.FeeConfig()})
	if cur.IsNative() {
		vault := e.state.MarketVaultAddress()
		if err := e.moveNative(vault, seller, split.Net); err != nil {
			return fmt.Errorf("market: seller leg: %w", err)
		}
		if err := e.moveNative(vault, split.Collector, split.Fee); err != nil {
			return fmt.Errorf("market: fee leg: %w", err)
		}
	} else {
		addr, _ := cur.TokenAddress()
		token, err := e.resolveToken(addr)
		if err != nil {
			token = nil
		}
		if err := e.pushTokenOrPark(addr, token, seller, split.Net); err != nil {
			return err
		}
		if err := e.pushTokenOrPark(addr, token, split.Collector, split.Fee); err != nil {
			return err
		}
	}
	e.emit(NewPaymentProcessedEvent(tokenID, seller, buyer, gross, split.Fee, cur))
	return nil
}

// refundBidEscrow returns a deactivated bid's escrow to its bidder.
// Undeliverable refunds park in the matching pull-refund ledger on either
// rail, so a bidder whose account or token rejects the push can neither
// block the operation nor lose the escrow.
func (e *Engine) refundBidEscrow(b *Bid) error {
	if b == nil || b.Escrowed == nil || b.Escrowed.Sign() == 0 {
		return nil
	}
	if b.Currency.IsNative() {
		return e.refundNative(b.Bidder, b.Escrowed)
	}
	addr, _ := b.Currency.TokenAddress()
	token, err := e.resolveToken(addr)
	if err != nil {
		token = nil
	}
	return e.pushTokenOrPark(addr, token, b.Bidder, b.Escrowed)
}

func (e *Engine) resolveToken(addr [20]byte) (Token, error) {
	if e.tokens == nil {
		return nil, ErrNilTokens
	}
	return e.tokens.Token(addr)
}
