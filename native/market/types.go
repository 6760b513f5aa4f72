package market

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// ListingStatus represents the lifecycle states of a marketplace listing.
type ListingStatus uint8

const (
	StatusListed ListingStatus = iota
	StatusRented
	StatusSold
	StatusDelisted
	StatusPendingPayment
)

// Valid reports whether the status value is within the supported range.
func (s ListingStatus) Valid() bool {
	switch s {
	case StatusListed, StatusRented, StatusSold, StatusDelisted, StatusPendingPayment:
		return true
	default:
		return false
	}
}

// String returns the canonical label for the status.
func (s ListingStatus) String() string {
	switch s {
	case StatusListed:
		return "LISTED"
	case StatusRented:
		return "RENTED"
	case StatusSold:
		return "SOLD"
	case StatusDelisted:
		return "DELISTED"
	case StatusPendingPayment:
		return "PENDING_PAYMENT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// Terminal reports whether the listing can no longer transition. RENTED is a
// reserved state set by out-of-band rental flows; the marketplace never enters
// it but refuses to touch listings parked there.
func (s ListingStatus) Terminal() bool {
	return s == StatusSold || s == StatusDelisted
}

// Currency is a tagged payment-method value: either the native currency or a
// fungible token identified by its 20-byte contract address. The zero-address
// convention for "native" survives only at the RPC boundary via
// CurrencyFromAddress.
type Currency struct {
	token   [20]byte
	isToken bool
}

// NativeCurrency returns the native-currency tag.
func NativeCurrency() Currency { return Currency{} }

// TokenCurrency wraps a token contract address. The zero address is reserved
// for the native currency and rejected here.
func TokenCurrency(addr [20]byte) (Currency, error) {
	if addr == ([20]byte{}) {
		return Currency{}, fmt.Errorf("market: zero address is not a token")
	}
	return Currency{token: addr, isToken: true}, nil
}

// CurrencyFromAddress maps the external zero-address convention onto the
// tagged representation.
func CurrencyFromAddress(addr [20]byte) Currency {
	if addr == ([20]byte{}) {
		return NativeCurrency()
	}
	return Currency{token: addr, isToken: true}
}

// IsNative reports whether the currency is the native one.
func (c Currency) IsNative() bool { return !c.isToken }

// TokenAddress returns the token contract address and whether the currency is
// a token at all.
func (c Currency) TokenAddress() ([20]byte, bool) { return c.token, c.isToken }

// Address renders the currency in the zero-address convention.
func (c Currency) Address() [20]byte {
	if !c.isToken {
		return [20]byte{}
	}
	return c.token
}

// Equal reports whether two currencies denote the same payment method.
func (c Currency) Equal(o Currency) bool {
	return c.isToken == o.isToken && c.token == o.token
}

// Listing is the per-asset record driving which operations are legal. Seller
// may go stale if ownership moves out-of-band; every listing-management
// operation re-validates true ownership against the asset registry.
type Listing struct {
	TokenID        uint64
	Seller         [20]byte
	Price          *big.Int
	Currency       Currency
	Status         ListingStatus
	ListTimestamp  int64
	LastRenewed    int64
	AcceptedBidder [20]byte
}

// Clone returns a deep copy of the listing.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	if l.Price != nil {
		clone.Price = new(big.Int).Set(l.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return &clone
}

// Bid is one slot in an asset's append-only bid sequence. Amount is the
// nominal bid used by the ordering rules; Escrowed is what the contract
// actually holds, which for fee-deducting tokens can be less than Amount.
type Bid struct {
	Bidder       [20]byte
	Amount       *big.Int
	Escrowed     *big.Int
	Currency     Currency
	BidTimestamp int64
	Active       bool
}

// Clone returns a deep copy of the bid.
func (b *Bid) Clone() *Bid {
	if b == nil {
		return nil
	}
	clone := *b
	if b.Amount != nil {
		clone.Amount = new(big.Int).Set(b.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	if b.Escrowed != nil {
		clone.Escrowed = new(big.Int).Set(b.Escrowed)
	} else {
		clone.Escrowed = big.NewInt(0)
	}
	return &clone
}

// SanitizeListing validates and normalises a listing record without mutating
// the original.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil {
		return nil, fmt.Errorf("market: nil listing")
	}
	clone := l.Clone()
	if clone.Price == nil || clone.Price.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := checkAmountDomain(clone.Price); err != nil {
		return nil, err
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("market: invalid listing status: %d", clone.Status)
	}
	return clone, nil
}

// SanitizeBid validates and normalises a bid slot without mutating the
// original.
func SanitizeBid(b *Bid) (*Bid, error) {
	if b == nil {
		return nil, fmt.Errorf("market: nil bid")
	}
	clone := b.Clone()
	if clone.Amount == nil || clone.Amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if clone.Escrowed.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if err := checkAmountDomain(clone.Amount); err != nil {
		return nil, err
	}
	return clone, nil
}

// checkAmountDomain bounds amounts to the uint256 domain mirrored from the
// external interface boundary.
func checkAmountDomain(v *big.Int) error {
	if v == nil || v.Sign() < 0 {
		return ErrInvalidAmount
	}
	if _, overflow := uint256.FromBig(v); overflow {
		return ErrAmountOverflow
	}
	return nil
}
