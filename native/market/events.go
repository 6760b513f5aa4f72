package market

import (
	"math/big"
	"strconv"

	"deedmarket/core/types"
	"deedmarket/crypto"
)

const (
	EventTypeListingCreated      = "market.listing.created"
	EventTypeListingUpdated      = "market.listing.updated"
	EventTypeListingDelisted     = "market.listing.delisted"
	EventTypeListingSold         = "market.listing.sold"
	EventTypeBidPlaced           = "market.bid.placed"
	EventTypeBidAccepted         = "market.bid.accepted"
	EventTypeBidCancelled        = "market.bid.cancelled"
	EventTypeBidsCleaned         = "market.bids.cleaned"
	EventTypePaymentProcessed    = "market.payment.processed"
	EventTypeRefundStored        = "market.refund.stored"
	EventTypeRefundWithdrawn     = "market.refund.withdrawn"
	EventTypeTransferPending     = "market.asset.transfer_pending"
	EventTypeAssetClaimed        = "market.asset.claimed"
	EventTypeEmergencyWithdrawal = "market.emergency.withdrawal"
	EventTypeTokenAllowed        = "market.token.allowed"
	EventTypeWhitelistToggled    = "market.whitelist.toggled"
)

func formatAddr(addr [20]byte) string {
	return crypto.NewAddress(crypto.DeedPrefix, addr).String()
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatCurrency(c Currency) string {
	if c.IsNative() {
		return "native"
	}
	return formatAddr(c.Address())
}

func formatTokenID(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// NewListingCreatedEvent returns the canonical payload for a fresh listing.
func NewListingCreatedEvent(l *Listing) *types.Event {
	return newListingEvent(EventTypeListingCreated, l)
}

// NewListingUpdatedEvent returns the canonical payload for a price/currency
// update on a live listing.
func NewListingUpdatedEvent(l *Listing) *types.Event {
	return newListingEvent(EventTypeListingUpdated, l)
}

// NewListingDelistedEvent returns the canonical payload emitted when a seller
// withdraws a listing.
func NewListingDelistedEvent(l *Listing) *types.Event {
	return newListingEvent(EventTypeListingDelisted, l)
}

// NewListingSoldEvent returns the canonical payload emitted when a listing
// settles, either by direct purchase or via an accepted bid.
func NewListingSoldEvent(l *Listing, buyer [20]byte, gross *big.Int) *types.Event {
	evt := newListingEvent(EventTypeListingSold, l)
	evt.Attributes["buyer"] = formatAddr(buyer)
	evt.Attributes["gross"] = formatAmount(gross)
	return evt
}

func newListingEvent(eventType string, l *Listing) *types.Event {
	attrs := make(map[string]string)
	if l != nil {
		attrs["tokenId"] = formatTokenID(l.TokenID)
		attrs["seller"] = formatAddr(l.Seller)
		attrs["price"] = formatAmount(l.Price)
		attrs["currency"] = formatCurrency(l.Currency)
		attrs["status"] = l.Status.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewBidPlacedEvent returns the canonical payload for a new or raised bid.
func NewBidPlacedEvent(tokenID uint64, b *Bid) *types.Event {
	return newBidEvent(EventTypeBidPlaced, tokenID, b)
}

// NewBidAcceptedEvent returns the canonical payload emitted when the seller
// accepts a specific bid.
func NewBidAcceptedEvent(tokenID uint64, b *Bid) *types.Event {
	return newBidEvent(EventTypeBidAccepted, tokenID, b)
}

// NewBidCancelledEvent returns the canonical payload emitted when a bid is
// deactivated and its escrow returned.
func NewBidCancelledEvent(tokenID uint64, b *Bid) *types.Event {
	return newBidEvent(EventTypeBidCancelled, tokenID, b)
}

func newBidEvent(eventType string, tokenID uint64, b *Bid) *types.Event {
	attrs := map[string]string{"tokenId": formatTokenID(tokenID)}
	if b != nil {
		attrs["bidder"] = formatAddr(b.Bidder)
		attrs["amount"] = formatAmount(b.Amount)
		attrs["escrowed"] = formatAmount(b.Escrowed)
		attrs["currency"] = formatCurrency(b.Currency)
		attrs["timestamp"] = strconv.FormatInt(b.BidTimestamp, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewBidsCleanedEvent reports a ledger compaction.
func NewBidsCleanedEvent(tokenID uint64, res CompactResult) *types.Event {
	return &types.Event{
		Type: EventTypeBidsCleaned,
		Attributes: map[string]string{
			"tokenId":  formatTokenID(tokenID),
			"removed":  strconv.Itoa(res.Removed),
			"retained": strconv.Itoa(res.Retained),
		},
	}
}

// NewPaymentProcessedEvent records a completed payment distribution.
func NewPaymentProcessedEvent(tokenID uint64, seller, buyer [20]byte, gross, fee *big.Int, cur Currency) *types.Event {
	return &types.Event{
		Type: EventTypePaymentProcessed,
		Attributes: map[string]string{
			"tokenId":  formatTokenID(tokenID),
			"seller":   formatAddr(seller),
			"buyer":    formatAddr(buyer),
			"gross":    formatAmount(gross),
			"fee":      formatAmount(fee),
			"currency": formatCurrency(cur),
		},
	}
}

// NewRefundStoredEvent records an undeliverable native refund converted into
// a claimable pending balance.
func NewRefundStoredEvent(addr [20]byte, amount, total *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeRefundStored,
		Attributes: map[string]string{
			"recipient": formatAddr(addr),
			"amount":    formatAmount(amount),
			"pending":   formatAmount(total),
		},
	}
}

// NewRefundWithdrawnEvent records a drained pending-refund balance.
func NewRefundWithdrawnEvent(addr [20]byte, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeRefundWithdrawn,
		Attributes: map[string]string{
			"recipient": formatAddr(addr),
			"amount":    formatAmount(amount),
		},
	}
}

// NewTokenRefundStoredEvent records an undeliverable token push converted
// into a claimable per-token pending balance.
func NewTokenRefundStoredEvent(addr, token [20]byte, amount, total *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeRefundStored,
		Attributes: map[string]string{
			"recipient": formatAddr(addr),
			"token":     formatAddr(token),
			"amount":    formatAmount(amount),
			"pending":   formatAmount(total),
		},
	}
}

// NewTokenRefundWithdrawnEvent records a drained per-token pending balance.
func NewTokenRefundWithdrawnEvent(addr, token [20]byte, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeRefundWithdrawn,
		Attributes: map[string]string{
			"recipient": formatAddr(addr),
			"token":     formatAddr(token),
			"amount":    formatAmount(amount),
		},
	}
}

// NewTransferPendingEvent records a settled sale whose asset delivery failed
// and is awaiting an explicit claim by the buyer.
func NewTransferPendingEvent(tokenID uint64, to [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeTransferPending,
		Attributes: map[string]string{
			"tokenId": formatTokenID(tokenID),
			"to":      formatAddr(to),
		},
	}
}

// NewAssetClaimedEvent records a retried asset delivery succeeding.
func NewAssetClaimedEvent(tokenID uint64, to [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeAssetClaimed,
		Attributes: map[string]string{
			"tokenId": formatTokenID(tokenID),
			"to":      formatAddr(to),
		},
	}
}

// NewEmergencyWithdrawalEvent records a role-gated withdrawal of marketplace
// custody funds.
func NewEmergencyWithdrawalEvent(caller, to [20]byte, amount *big.Int, cur Currency) *types.Event {
	return &types.Event{
		Type: EventTypeEmergencyWithdrawal,
		Attributes: map[string]string{
			"caller":   formatAddr(caller),
			"to":       formatAddr(to),
			"amount":   formatAmount(amount),
			"currency": formatCurrency(cur),
		},
	}
}

// NewTokenAllowedEvent records an allowlist mutation.
func NewTokenAllowedEvent(token [20]byte, allowed bool) *types.Event {
	return &types.Event{
		Type: EventTypeTokenAllowed,
		Attributes: map[string]string{
			"token":   formatAddr(token),
			"allowed": strconv.FormatBool(allowed),
		},
	}
}

// NewWhitelistToggledEvent records enabling or disabling allowlist
// enforcement.
func NewWhitelistToggledEvent(enabled bool) *types.Event {
	return &types.Event{
		Type: EventTypeWhitelistToggled,
		Attributes: map[string]string{
			"enabled": strconv.FormatBool(enabled),
		},
	}
}
