package market

import (
	"math/big"
	"time"

	"deedmarket/core/events"
	"deedmarket/core/types"
	"deedmarket/native/common"
)

const moduleName = "market"

// DefaultCleanupThreshold is the bid-sequence length beyond which mutating
// operations trigger an opportunistic compaction.
const DefaultCleanupThreshold = 100

type engineState interface {
	ListingGet(tokenID uint64) (*Listing, bool, error)
	ListingPut(l *Listing) error
	BidsGet(tokenID uint64) ([]*Bid, error)
	BidsPut(tokenID uint64, bids []*Bid) error
	BidderIndexGet(bidder [20]byte, tokenID uint64) (uint64, error)
	BidderIndexSet(bidder [20]byte, tokenID uint64, slot uint64) error
	TokenAllowedGet(token [20]byte) (bool, error)
	TokenAllowedSet(token [20]byte, allowed bool) error
	WhitelistEnabled() (bool, error)
	SetWhitelistEnabled(enabled bool) error
	PendingRefundGet(addr [20]byte) (*big.Int, error)
	PendingRefundSet(addr [20]byte, amount *big.Int) error
	PendingTokenRefundGet(addr, token [20]byte) (*big.Int, error)
	PendingTokenRefundSet(addr, token [20]byte, amount *big.Int) error
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, acc *types.Account) error
	MarketVaultAddress() [20]byte
}

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

// Engine wires the marketplace business logic with external state, the
// role/KYC provider, the asset registry and the token contracts. All
// value-moving operations are bracketed by a process-wide re-entrancy guard
// and follow the state-mutation-before-external-calls sequencing contract.
type Engine struct {
	state            engineState
	emitter          events.Emitter
	admin            AdminControl
	assets           AssetRegistry
	tokens           TokenResolver
	pauses           common.PauseView
	guard            common.ReentrancyGuard
	nowFn            func() int64
	cleanupThreshold int
}

// NewEngine creates a marketplace engine with a no-op emitter. Callers
// configure collaborators via the Set* methods.
func NewEngine() *Engine {
	return &Engine{
		emitter:          events.NoopEmitter{},
		nowFn:            func() int64 { return time.Now().Unix() },
		cleanupThreshold: DefaultCleanupThreshold,
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetAdmin configures the role/KYC administration collaborator.
func (e *Engine) SetAdmin(admin AdminControl) { e.admin = admin }

// SetAssetRegistry configures the asset-ownership registry collaborator.
func (e *Engine) SetAssetRegistry(assets AssetRegistry) { e.assets = assets }

// SetTokenResolver configures the fungible-token binding.
func (e *Engine) SetTokenResolver(tokens TokenResolver) { e.tokens = tokens }

// SetPauses configures the administrative pause view.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetCleanupThreshold overrides the compaction trigger length. Values below
// one reset the default.
func (e *Engine) SetCleanupThreshold(n int) {
	if n < 1 {
		e.cleanupThreshold = DefaultCleanupThreshold
		return
	}
	e.cleanupThreshold = n
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(marketEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.admin == nil {
		return ErrNilAdmin
	}
	if e.assets == nil {
		return ErrNilAssets
	}
	return common.Guard(e.pauses, moduleName)
}

func (e *Engine) currentOwner(tokenID uint64) ([20]byte, error) {
	return e.assets.OwnerOf(tokenID)
}

func (e *Engine) requireKYC(addr [20]byte) error {
	if !e.admin.IsKYCVerified(addr) {
		return ErrNotKYCVerified
	}
	return nil
}

func (e *Engine) currencyAllowed(cur Currency) (bool, error) {
	if cur.IsNative() {
		return true, nil
	}
	enforced, err := e.state.WhitelistEnabled()
	if err != nil {
		return false, err
	}
	if !enforced {
		return true, nil
	}
	addr, _ := cur.TokenAddress()
	return e.state.TokenAllowedGet(addr)
}

func (e *Engine) requireCurrencyAllowed(cur Currency) error {
	ok, err := e.currencyAllowed(cur)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTokenNotAllowed
	}
	return nil
}

// List creates a listing in LISTED state, overwriting any previous record for
// the asset as long as no live LISTED entry exists. The caller must be the
// verified current owner.
func (e *Engine) List(caller [20]byte, tokenID uint64, price *big.Int, cur Currency) (*Listing, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.requireKYC(caller); err != nil {
		return nil, err
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := checkAmountDomain(price); err != nil {
		return nil, err
	}
	if err := e.requireCurrencyAllowed(cur); err != nil {
		return nil, err
	}
	owner, err := e.currentOwner(tokenID)
	if err != nil {
		return nil, err
	}
	if owner != caller {
		return nil, ErrNotOwner
	}
	existing, ok, err := e.state.ListingGet(tokenID)
	if err != nil {
		return nil, err
	}
	if ok && existing.Status == StatusListed {
		return nil, ErrAlreadyListed
	}
	now := e.now()
	listing := &Listing{
		TokenID:       tokenID,
		Seller:        caller,
		Price:         new(big.Int).Set(price),
		Currency:      cur,
		Status:        StatusListed,
		ListTimestamp: now,
		LastRenewed:   now,
	}
	if err := e.state.ListingPut(listing); err != nil {
		return nil, err
	}
	e.emit(NewListingCreatedEvent(listing))
	return listing.Clone(), nil
}

// UpdateListing mutates price and currency of a live listing. Ownership is
// re-validated against the registry, not the stored seller.
func (e *Engine) UpdateListing(caller [20]byte, tokenID uint64, price *big.Int, cur Currency) (*Listing, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	listing, ok, err := e.state.ListingGet(tokenID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrListingNotFound
	}
	if listing.Status != StatusListed {
		return nil, ErrListingNotActive
	}
	owner, err := e.currentOwner(tokenID)
	if err != nil {
		return nil, err
	}
	if owner != caller {
		return nil, ErrNotOwner
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := checkAmountDomain(price); err != nil {
		return nil, err
	}
	if err := e.requireCurrencyAllowed(cur); err != nil {
		return nil, err
	}
	listing.Seller = caller
	listing.Price = new(big.Int).Set(price)
	listing.Currency = cur
	listing.LastRenewed = e.now()
	if err := e.state.ListingPut(listing); err != nil {
		return nil, err
	}
	e.emit(NewListingUpdatedEvent(listing))
	return listing.Clone(), nil
}

// Delist withdraws a live listing, cancelling and refunding every live bid so
// no escrowed funds remain claimable against the dead listing.
func (e *Engine) Delist(caller [20]byte, tokenID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()
	listing, ok, err := e.state.ListingGet(tokenID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrListingNotFound
	}
	if listing.Status != StatusListed {
		return ErrListingNotActive
	}
	owner, err := e.currentOwner(tokenID)
	if err != nil {
		return err
	}
	if owner != caller {
		return ErrNotOwner
	}
	listing.Status = StatusDelisted
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	if err := e.cancelAllBidsExcept(tokenID, nil); err != nil {
		return err
	}
	e.emit(NewListingDelistedEvent(listing))
	return nil
}

// Purchase settles a listing directly. The offered amount must clear the true
// floor: the highest live bid when one exists, otherwise the nominal price.
// All live bids are cancelled and refunded as a side effect. For native
// listings value is the attached payment; for token listings value must be
// zero and the floor amount is pulled from the buyer's allowance.
func (e *Engine) Purchase(buyer [20]byte, tokenID uint64, value *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()
	if value == nil {
		value = big.NewInt(0)
	}
	if value.Sign() < 0 {
		return ErrInvalidAmount
	}
	listing, ok, err := e.state.ListingGet(tokenID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrListingNotFound
	}
	if listing.Status != StatusListed {
		return ErrListingNotActive
	}
	if err := e.requireKYC(buyer); err != nil {
		return err
	}
	owner, err := e.currentOwner(tokenID)
	if err != nil {
		return err
	}
	if owner == buyer {
		return ErrOwnerBid
	}
	bids, err := e.state.BidsGet(tokenID)
	if err != nil {
		return err
	}
	floor := HighestActiveBid(bids)
	if floor.Cmp(listing.Price) < 0 {
		floor = new(big.Int).Set(listing.Price)
	}

	// Validate payment feasibility before touching any state so a rejected
	// purchase leaves the listing and its bids exactly as they were.
	vault := e.state.MarketVaultAddress()
	var token Token
	if listing.Currency.IsNative() {
		if value.Cmp(floor) < 0 {
			return ErrInsufficientValue
		}
	} else {
		if value.Sign() != 0 {
			return ErrUnexpectedValue
		}
		addr, _ := listing.Currency.TokenAddress()
		token, err = e.resolveToken(addr)
		if err != nil {
			return err
		}
		allowance, err := token.Allowance(buyer, vault)
		if err != nil {
			return err
		}
		if allowance == nil || allowance.Cmp(floor) < 0 {
			return ErrInsufficientAllow
		}
	}

	// Flip the listing before moving any funds so re-entrant callbacks
	// observe a settled listing.
	listing.Status = StatusSold
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	if err := e.cancelAllBidsExcept(tokenID, nil); err != nil {
		return err
	}

	gross := floor
	if listing.Currency.IsNative() {
		if err := e.moveNative(buyer, vault, value); err != nil {
			return err
		}
		excess := new(big.Int).Sub(value, floor)
		if excess.Sign() > 0 {
			if err := e.refundNative(buyer, excess); err != nil {
				return err
			}
		}
	} else {
		// First irreversible external movement: from here on the sale must
		// reach a committed end, never an abort.
		received, err := e.pullToken(token, buyer, floor)
		if err != nil {
			return err
		}
		gross = received
	}
	if err := e.distribute(tokenID, owner, buyer, gross, listing.Currency); err != nil {
		return err
	}
	if err := e.assets.SafeTransferFrom(owner, buyer, tokenID, nil); err != nil {
		if listing.Currency.IsNative() {
			return err
		}
		if err := e.parkAssetDelivery(listing, buyer); err != nil {
			return err
		}
	}
	e.emit(NewListingSoldEvent(listing, buyer, gross))
	return nil
}

// parkAssetDelivery records a settled sale whose asset transfer failed. The
// payment already cleared on the token rail, so the listing stays SOLD and
// the buyer retries delivery through ClaimAsset.
func (e *Engine) parkAssetDelivery(listing *Listing, buyer [20]byte) error {
	listing.AcceptedBidder = buyer
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	e.emit(NewTransferPendingEvent(listing.TokenID, buyer))
	return nil
}

// ClaimAsset retries the asset delivery of a settled sale whose transfer
// failed at settlement time. Only the recorded buyer may claim.
func (e *Engine) ClaimAsset(caller [20]byte, tokenID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()
	listing, ok, err := e.state.ListingGet(tokenID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrListingNotFound
	}
	if listing.Status != StatusSold || listing.AcceptedBidder == ([20]byte{}) {
		return ErrNothingToClaim
	}
	if listing.AcceptedBidder != caller {
		return ErrUnauthorized
	}
	owner, err := e.currentOwner(tokenID)
	if err != nil {
		return err
	}
	if err := e.assets.SafeTransferFrom(owner, caller, tokenID, nil); err != nil {
		return err
	}
	listing.AcceptedBidder = [20]byte{}
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	e.emit(NewAssetClaimedEvent(tokenID, caller))
	return nil
}

// PlaceBid records a new bid or raises the caller's existing one. Native bids
// must attach exactly the bid amount; token bids pull the amount into market
// custody immediately. A bidder raising their own bid cannot switch currency.
func (e *Engine) PlaceBid(bidder [20]byte, tokenID uint64, amount *big.Int, cur Currency, value *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()
	if value == nil {
		value = big.NewInt(0)
	}
	listing, ok, err := e.state.ListingGet(tokenID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrListingNotFound
	}
	if listing.Status != StatusListed {
		return ErrListingNotActive
	}
	if err := e.requireKYC(bidder); err != nil {
		return err
	}
	owner, err := e.currentOwner(tokenID)
	if err != nil {
		return err
	}
	if owner == bidder {
		return ErrOwnerBid
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := checkAmountDomain(amount); err != nil {
		return err
	}
	if amount.Cmp(listing.Price) < 0 {
		return ErrBelowListingPrice
	}
	if err := e.requireCurrencyAllowed(cur); err != nil {
		return err
	}

	bids, err := e.state.BidsGet(tokenID)
	if err != nil {
		return err
	}
	slot, err := e.state.BidderIndexGet(bidder, tokenID)
	if err != nil {
		return err
	}

	var prior *Bid
	if slot > 0 {
		if slot > uint64(len(bids)) || bids[slot-1].Bidder != bidder {
			return ErrBidNotFound
		}
		prior = bids[slot-1]
		if !prior.Active {
			return ErrBidNotFound
		}
		if !prior.Currency.Equal(cur) {
			return ErrCurrencyMismatch
		}
		ok, err := ClearsIncrement(amount, prior.Amount)
		if err != nil {
			return err
		}
		if !ok {
			return ErrBelowMinIncrement
		}
	} else {
		highest := HighestActiveBid(bids)
		if highest.Sign() > 0 {
			ok, err := ClearsIncrement(amount, highest)
			if err != nil {
				return err
			}
			if !ok {
				return ErrBelowMinIncrement
			}
		}
	}

	// Escrow the funds. The attached value is locked against the bid; the
	// old immediate excess-refund behaviour is gone, so anything other than
	// an exact match is rejected up front.
	escrowed := new(big.Int)
	vault := e.state.MarketVaultAddress()
	if cur.IsNative() {
		if value.Cmp(amount) != 0 {
			return ErrExactValueRequired
		}
		if err := e.moveNative(bidder, vault, value); err != nil {
			return err
		}
		escrowed.Set(value)
	} else {
		if value.Sign() != 0 {
			return ErrUnexpectedValue
		}
		addr, _ := cur.TokenAddress()
		token, err := e.resolveToken(addr)
		if err != nil {
			return err
		}
		allowance, err := token.Allowance(bidder, vault)
		if err != nil {
			return err
		}
		if allowance == nil || allowance.Cmp(amount) < 0 {
			return ErrInsufficientAllow
		}
		received, err := e.pullToken(token, bidder, amount)
		if err != nil {
			return err
		}
		escrowed.Set(received)
	}

	now := e.now()
	if prior != nil {
		// The raise replaces the old escrow; return it before recording
		// the new position.
		oldEscrow := new(big.Int).Set(prior.Escrowed)
		prior.Amount = new(big.Int).Set(amount)
		prior.Escrowed = escrowed
		prior.BidTimestamp = now
		if err := e.state.BidsPut(tokenID, bids); err != nil {
			return err
		}
		if oldEscrow.Sign() > 0 {
			refund := &Bid{Bidder: bidder, Escrowed: oldEscrow, Currency: cur}
			if err := e.refundBidEscrow(refund); err != nil {
				return err
			}
		}
		e.emit(NewBidPlacedEvent(tokenID, prior))
	} else {
		bid := &Bid{
			Bidder:       bidder,
			Amount:       new(big.Int).Set(amount),
			Escrowed:     escrowed,
			Currency:     cur,
			BidTimestamp: now,
			Active:       true,
		}
		bids = append(bids, bid)
		if err := e.state.BidsPut(tokenID, bids); err != nil {
			return err
		}
		if err := e.state.BidderIndexSet(bidder, tokenID, uint64(len(bids))); err != nil {
			return err
		}
		e.emit(NewBidPlacedEvent(tokenID, bid))
	}

	if len(bids) > e.cleanupThreshold {
		if _, err := e.compactAndStore(tokenID, bids); err != nil {
			return err
		}
	}
	return nil
}

// CancelBid deactivates the caller's live bid and returns its escrow. An
// undeliverable native refund is parked in the pull-refund ledger rather than
// blocking the cancel forever.
func (e *Engine) CancelBid(bidder [20]byte, tokenID uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()
	listing, ok, err := e.state.ListingGet(tokenID)
	if err != nil {
		return err
	}
	if ok && listing.Status == StatusPendingPayment && listing.AcceptedBidder == bidder {
		return ErrBidAccepted
	}
	bids, err := e.state.BidsGet(tokenID)
	if err != nil {
		return err
	}
	slot, err := e.state.BidderIndexGet(bidder, tokenID)
	if err != nil {
		return err
	}
	if slot == 0 || slot > uint64(len(bids)) {
		return ErrBidNotFound
	}
	bid := bids[slot-1]
	if bid.Bidder != bidder || !bid.Active {
		return ErrBidNotFound
	}
	bid.Active = false
	if err := e.state.BidsPut(tokenID, bids); err != nil {
		return err
	}
	if err := e.state.BidderIndexSet(bidder, tokenID, 0); err != nil {
		return err
	}
	if err := e.refundBidEscrow(bid); err != nil {
		return err
	}
	e.emit(NewBidCancelledEvent(tokenID, bid))
	if len(bids) > e.cleanupThreshold {
		if _, err := e.compactAndStore(tokenID, bids); err != nil {
			return err
		}
	}
	return nil
}

// AcceptBid lets the verified current owner accept a specific bid, matched
// exactly by bidder, amount and currency to rule out index-confusion. Token
// bids settle immediately; native bids park the listing in PENDING_PAYMENT
// until the bidder completes the payment step.
func (e *Engine) AcceptBid(caller [20]byte, tokenID uint64, bidder [20]byte, amount *big.Int, cur Currency) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()
	listing, ok, err := e.state.ListingGet(tokenID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrListingNotFound
	}
	if listing.Status != StatusListed {
		return ErrListingNotActive
	}
	owner, err := e.currentOwner(tokenID)
	if err != nil {
		return err
	}
	if owner != caller {
		return ErrNotOwner
	}
	bids, err := e.state.BidsGet(tokenID)
	if err != nil {
		return err
	}
	slot, err := e.state.BidderIndexGet(bidder, tokenID)
	if err != nil {
		return err
	}
	if slot == 0 || slot > uint64(len(bids)) {
		return ErrBidNotFound
	}
	bid := bids[slot-1]
	if bid.Bidder != bidder || !bid.Active {
		return ErrBidNotFound
	}
	if amount == nil || bid.Amount.Cmp(amount) != 0 || !bid.Currency.Equal(cur) {
		return ErrBidMismatch
	}

	if bid.Currency.IsNative() {
		listing.Status = StatusPendingPayment
		listing.AcceptedBidder = bidder
		if err := e.state.ListingPut(listing); err != nil {
			return err
		}
		if err := e.cancelAllBidsExcept(tokenID, &bidder); err != nil {
			return err
		}
		e.emit(NewBidAcceptedEvent(tokenID, bid))
		return nil
	}

	listing.Status = StatusSold
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	// Tombstone the accepted slot first so the sweep below only touches the
	// losing bids.
	bid.Active = false
	if err := e.state.BidsPut(tokenID, bids); err != nil {
		return err
	}
	if err := e.state.BidderIndexSet(bidder, tokenID, 0); err != nil {
		return err
	}
	if err := e.cancelAllBidsExcept(tokenID, nil); err != nil {
		return err
	}
	// The escrow is already in vault custody, so from here the settlement
	// runs to a committed end: undeliverable payment legs park, and a failed
	// asset transfer leaves a claim instead of aborting.
	if err := e.distribute(tokenID, owner, bidder, bid.Escrowed, bid.Currency); err != nil {
		return err
	}
	if err := e.assets.SafeTransferFrom(owner, bidder, tokenID, nil); err != nil {
		if err := e.parkAssetDelivery(listing, bidder); err != nil {
			return err
		}
	}
	e.emit(NewBidAcceptedEvent(tokenID, bid))
	e.emit(NewListingSoldEvent(listing, bidder, bid.Escrowed))
	return nil
}

// CompleteBidPayment finishes an accepted native-currency bid. The amount was
// escrowed in full when the bid was placed, so any additional attached value
// is rejected outright rather than refunded.
func (e *Engine) CompleteBidPayment(caller [20]byte, tokenID uint64, value *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()
	if value != nil && value.Sign() != 0 {
		return ErrUnexpectedValue
	}
	listing, ok, err := e.state.ListingGet(tokenID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrListingNotFound
	}
	if listing.Status != StatusPendingPayment {
		return ErrNotPendingPayment
	}
	if listing.AcceptedBidder != caller {
		return ErrUnauthorized
	}
	bids, err := e.state.BidsGet(tokenID)
	if err != nil {
		return err
	}
	slot, err := e.state.BidderIndexGet(caller, tokenID)
	if err != nil {
		return err
	}
	if slot == 0 || slot > uint64(len(bids)) {
		return ErrBidNotFound
	}
	bid := bids[slot-1]
	if bid.Bidder != caller || !bid.Active || !bid.Currency.IsNative() {
		return ErrBidNotFound
	}
	owner, err := e.currentOwner(tokenID)
	if err != nil {
		return err
	}

	listing.Status = StatusSold
	listing.AcceptedBidder = [20]byte{}
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	bid.Active = false
	if err := e.state.BidsPut(tokenID, bids); err != nil {
		return err
	}
	if err := e.state.BidderIndexSet(caller, tokenID, 0); err != nil {
		return err
	}
	if err := e.distribute(tokenID, owner, caller, bid.Escrowed, bid.Currency); err != nil {
		return err
	}
	if err := e.assets.SafeTransferFrom(owner, caller, tokenID, nil); err != nil {
		return err
	}
	e.emit(NewListingSoldEvent(listing, caller, bid.Escrowed))
	return nil
}

// cancelAllBidsExcept deactivates every live slot for the asset, zeroes each
// bidder's index and refunds each deactivated escrow. The optionally kept
// bidder's slot survives untouched.
func (e *Engine) cancelAllBidsExcept(tokenID uint64, keep *[20]byte) error {
	bids, err := e.state.BidsGet(tokenID)
	if err != nil {
		return err
	}
	// Track the freshly-deactivated positions so tombstones from earlier
	// cycles, which were refunded when they died, are never touched again.
	cancelled := make([]int, 0, len(bids))
	for i, bid := range bids {
		if bid == nil || !bid.Active {
			continue
		}
		if keep != nil && bid.Bidder == *keep {
			continue
		}
		bid.Active = false
		cancelled = append(cancelled, i)
	}
	if len(cancelled) == 0 {
		return nil
	}
	if err := e.state.BidsPut(tokenID, bids); err != nil {
		return err
	}
	for _, i := range cancelled {
		bid := bids[i]
		if err := e.state.BidderIndexSet(bid.Bidder, tokenID, 0); err != nil {
			return err
		}
		if err := e.refundBidEscrow(bid); err != nil {
			return err
		}
		e.emit(NewBidCancelledEvent(tokenID, bid))
	}
	return nil
}

// CleanupBids compacts the asset's bid sequence, dropping tombstones and
// reindexing survivors. Anyone may trigger it.
func (e *Engine) CleanupBids(tokenID uint64) (CompactResult, error) {
	if err := e.ready(); err != nil {
		return CompactResult{}, err
	}
	bids, err := e.state.BidsGet(tokenID)
	if err != nil {
		return CompactResult{}, err
	}
	return e.compactAndStore(tokenID, bids)
}

func (e *Engine) compactAndStore(tokenID uint64, bids []*Bid) (CompactResult, error) {
	retained, index, res := Compact(bids)
	if res.Removed == 0 {
		return res, nil
	}
	for _, bid := range bids {
		if bid == nil || bid.Active {
			continue
		}
		if _, survives := index[bid.Bidder]; survives {
			continue
		}
		if err := e.state.BidderIndexSet(bid.Bidder, tokenID, 0); err != nil {
			return res, err
		}
	}
	for bidder, slot := range index {
		if err := e.state.BidderIndexSet(bidder, tokenID, slot); err != nil {
			return res, err
		}
	}
	if err := e.state.BidsPut(tokenID, retained); err != nil {
		return res, err
	}
	e.emit(NewBidsCleanedEvent(tokenID, res))
	return res, nil
}

// EmergencyWithdraw moves custody funds out of the marketplace. Restricted to
// the admin role; every use is recorded on the event log.
func (e *Engine) EmergencyWithdraw(caller, to [20]byte, amount *big.Int, cur Currency) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()
	if !e.admin.HasRole(RoleAdmin, caller) {
		return ErrUnauthorized
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if cur.IsNative() {
		if err := e.moveNative(e.state.MarketVaultAddress(), to, amount); err != nil {
			return err
		}
	} else {
		addr, _ := cur.TokenAddress()
		token, err := e.resolveToken(addr)
		if err != nil {
			return err
		}
		if err := e.pushToken(token, to, amount); err != nil {
			return err
		}
	}
	e.emit(NewEmergencyWithdrawalEvent(caller, to, amount, cur))
	return nil
}

// Listing returns a copy of the stored listing record.
func (e *Engine) Listing(tokenID uint64) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	listing, ok, err := e.state.ListingGet(tokenID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrListingNotFound
	}
	return listing.Clone(), nil
}

// HighestBid returns the highest live bid amount for the asset, zero if none.
func (e *Engine) HighestBid(tokenID uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	bids, err := e.state.BidsGet(tokenID)
	if err != nil {
		return nil, err
	}
	return HighestActiveBid(bids), nil
}

// ActiveBids returns an order-preserving page of live bids together with the
// total live count.
func (e *Engine) ActiveBids(tokenID uint64, offset, limit int) ([]*Bid, int, error) {
	if e == nil || e.state == nil {
		return nil, 0, ErrNilState
	}
	bids, err := e.state.BidsGet(tokenID)
	if err != nil {
		return nil, 0, err
	}
	page, total := PaginateActive(bids, offset, limit)
	return page, total, nil
}

// PendingRefund returns the caller's claimable pull-refund balance.
func (e *Engine) PendingRefund(addr [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	pending, err := e.state.PendingRefundGet(addr)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(pending), nil
}

// PendingTokenRefund returns the claimable pull-refund balance for one token.
func (e *Engine) PendingTokenRefund(addr, token [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	pending, err := e.state.PendingTokenRefundGet(addr, token)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(pending), nil
}
