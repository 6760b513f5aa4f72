package core

import (
	"log/slog"
	"math/big"
	"sync"
	"time"

	"deedmarket/core/events"
	"deedmarket/core/types"
	"deedmarket/native/market"
	"deedmarket/observability"
	"deedmarket/state"
	"deedmarket/storage"
)

const recentEventCap = 1024

// Node serializes every marketplace operation under a single mutex, matching
// the one-transaction-at-a-time execution model, and brackets each operation
// with the state overlay's commit-or-abort so a failure leaves no partial
// mutation behind. Events emitted during an operation are buffered and
// published only after the operation commits.
type Node struct {
	mu       sync.Mutex
	state    *state.Manager
	engine   *market.Engine
	recorder *events.Recorder
	log      *slog.Logger
	metrics  *observability.MarketMetrics
	recent   []*types.Event
}

// NewNode wires the engine, state manager and event recorder together.
func NewNode(db storage.Database, admin market.AdminControl, assets market.AssetRegistry, tokens market.TokenResolver, log *slog.Logger) *Node {
	if log == nil {
		log = slog.Default()
	}
	manager := state.NewManager(db)
	recorder := &events.Recorder{}
	engine := market.NewEngine()
	engine.SetState(manager)
	engine.SetAdmin(admin)
	engine.SetAssetRegistry(assets)
	engine.SetTokenResolver(tokens)
	engine.SetEmitter(recorder)
	return &Node{
		state:    manager,
		engine:   engine,
		recorder: recorder,
		log:      log,
		metrics:  observability.Market(),
	}
}

// Engine exposes the underlying engine for test configuration (deterministic
// clocks, cleanup thresholds).
func (n *Node) Engine() *market.Engine { return n.engine }

func (n *Node) execute(op string, fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	start := time.Now()
	err := fn()
	if err == nil {
		err = n.state.Commit()
	}
	if err != nil {
		n.state.Abort()
		n.recorder.Discard()
		n.log.Warn("market operation failed", "op", op, "err", err)
	} else {
		n.publish()
	}
	n.metrics.ObserveOperation(op, err, time.Since(start))
	return err
}

func (n *Node) publish() {
	for _, evt := range n.recorder.Drain() {
		record := evt.Event()
		if record == nil {
			continue
		}
		n.recent = append(n.recent, record)
		if len(n.recent) > recentEventCap {
			n.recent = n.recent[len(n.recent)-recentEventCap:]
		}
		switch record.Type {
		case market.EventTypeListingSold:
			n.metrics.ObserveSettlement()
		case market.EventTypeBidCancelled, market.EventTypeRefundWithdrawn:
			n.metrics.ObserveRefund()
		}
		n.log.Info("market event", "type", record.Type, "attributes", record.Attributes)
	}
}

// InitGenesis credits the given native balances once, on first start. The
// applied marker rides the same overlay as the allocations, so a failed
// commit leaves genesis fully unapplied and retryable.
func (n *Node) InitGenesis(alloc map[[20]byte]*big.Int) error {
	return n.execute("init_genesis", func() error {
		applied, err := n.state.GenesisApplied()
		if err != nil {
			return err
		}
		if applied {
			return nil
		}
		for addr, balance := range alloc {
			acc, err := n.state.GetAccount(addr)
			if err != nil {
				return err
			}
			acc.Balance = new(big.Int).Add(acc.Balance, balance)
			if err := n.state.PutAccount(addr, acc); err != nil {
				return err
			}
		}
		n.state.MarkGenesisApplied()
		return nil
	})
}

// List creates a listing for the asset.
func (n *Node) List(caller [20]byte, tokenID uint64, price *big.Int, cur market.Currency) (*market.Listing, error) {
	var listing *market.Listing
	err := n.execute("list", func() error {
		var err error
		listing, err = n.engine.List(caller, tokenID, price, cur)
		return err
	})
	return listing, err
}

// UpdateListing mutates a live listing's price and currency.
func (n *Node) UpdateListing(caller [20]byte, tokenID uint64, price *big.Int, cur market.Currency) (*market.Listing, error) {
	var listing *market.Listing
	err := n.execute("update_listing", func() error {
		var err error
		listing, err = n.engine.UpdateListing(caller, tokenID, price, cur)
		return err
	})
	return listing, err
}

// Delist withdraws a live listing and refunds every live bid.
func (n *Node) Delist(caller [20]byte, tokenID uint64) error {
	return n.execute("delist", func() error {
		return n.engine.Delist(caller, tokenID)
	})
}

// Purchase settles a listing directly.
func (n *Node) Purchase(buyer [20]byte, tokenID uint64, value *big.Int) error {
	return n.execute("purchase", func() error {
		return n.engine.Purchase(buyer, tokenID, value)
	})
}

// PlaceBid records or raises a bid.
func (n *Node) PlaceBid(bidder [20]byte, tokenID uint64, amount *big.Int, cur market.Currency, value *big.Int) error {
	return n.execute("place_bid", func() error {
		return n.engine.PlaceBid(bidder, tokenID, amount, cur, value)
	})
}

// CancelBid deactivates and refunds the caller's live bid.
func (n *Node) CancelBid(bidder [20]byte, tokenID uint64) error {
	return n.execute("cancel_bid", func() error {
		return n.engine.CancelBid(bidder, tokenID)
	})
}

// AcceptBid accepts an exactly-matched bid.
func (n *Node) AcceptBid(caller [20]byte, tokenID uint64, bidder [20]byte, amount *big.Int, cur market.Currency) error {
	return n.execute("accept_bid", func() error {
		return n.engine.AcceptBid(caller, tokenID, bidder, amount, cur)
	})
}

// CompleteBidPayment finishes an accepted native-currency bid.
func (n *Node) CompleteBidPayment(caller [20]byte, tokenID uint64, value *big.Int) error {
	return n.execute("complete_bid_payment", func() error {
		return n.engine.CompleteBidPayment(caller, tokenID, value)
	})
}

// CleanupBids compacts the asset's bid sequence.
func (n *Node) CleanupBids(tokenID uint64) (market.CompactResult, error) {
	var res market.CompactResult
	err := n.execute("cleanup_bids", func() error {
		var err error
		res, err = n.engine.CleanupBids(tokenID)
		return err
	})
	return res, err
}

// WithdrawPendingRefund drains the caller's pull-refund balance.
func (n *Node) WithdrawPendingRefund(caller [20]byte) (*big.Int, error) {
	var amount *big.Int
	err := n.execute("withdraw_pending_refund", func() error {
		var err error
		amount, err = n.engine.WithdrawPendingRefund(caller)
		return err
	})
	return amount, err
}

// WithdrawPendingTokenRefund drains the caller's pull-refund balance for one
// token.
func (n *Node) WithdrawPendingTokenRefund(caller, token [20]byte) (*big.Int, error) {
	var amount *big.Int
	err := n.execute("withdraw_pending_token_refund", func() error {
		var err error
		amount, err = n.engine.WithdrawPendingTokenRefund(caller, token)
		return err
	})
	return amount, err
}

// ClaimAsset retries a failed asset delivery on a settled sale.
func (n *Node) ClaimAsset(caller [20]byte, tokenID uint64) error {
	return n.execute("claim_asset", func() error {
		return n.engine.ClaimAsset(caller, tokenID)
	})
}

// SetAllowedToken toggles a token's allowlist flag.
func (n *Node) SetAllowedToken(caller, token [20]byte, allowed bool) error {
	return n.execute("set_allowed_token", func() error {
		return n.engine.SetAllowedToken(caller, token, allowed)
	})
}

// SetWhitelistEnabled toggles allowlist enforcement.
func (n *Node) SetWhitelistEnabled(caller [20]byte, enabled bool) error {
	return n.execute("set_whitelist_enabled", func() error {
		return n.engine.SetWhitelistEnabled(caller, enabled)
	})
}

// EmergencyWithdraw moves custody funds out under the admin role.
func (n *Node) EmergencyWithdraw(caller, to [20]byte, amount *big.Int, cur market.Currency) error {
	return n.execute("emergency_withdraw", func() error {
		return n.engine.EmergencyWithdraw(caller, to, amount, cur)
	})
}

// Listing returns the stored listing record.
func (n *Node) Listing(tokenID uint64) (*market.Listing, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Listing(tokenID)
}

// HighestBid returns the highest live bid amount for the asset.
func (n *Node) HighestBid(tokenID uint64) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.HighestBid(tokenID)
}

// ActiveBids returns a page of live bids plus the total live count.
func (n *Node) ActiveBids(tokenID uint64, offset, limit int) ([]*market.Bid, int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.ActiveBids(tokenID, offset, limit)
}

// PendingRefund returns the claimable pull-refund balance for an address.
func (n *Node) PendingRefund(addr [20]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.PendingRefund(addr)
}

// PendingTokenRefund returns the claimable pull-refund balance for an address
// in one token.
func (n *Node) PendingTokenRefund(addr, token [20]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.PendingTokenRefund(addr, token)
}

// Balance returns the native balance tracked for an address.
func (n *Node) Balance(addr [20]byte) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	acc, err := n.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(acc.Balance), nil
}

// RecentEvents returns up to limit of the most recently published events,
// newest last.
func (n *Node) RecentEvents(limit int) []*types.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	if limit <= 0 || limit > len(n.recent) {
		limit = len(n.recent)
	}
	out := make([]*types.Event, limit)
	copy(out, n.recent[len(n.recent)-limit:])
	return out
}
