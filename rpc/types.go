package rpc

import (
	"fmt"
	"math/big"
	"strings"

	"deedmarket/crypto"
	"deedmarket/native/market"
)

const currencyNative = "native"

// listingJSON is the wire form of a listing record.
type listingJSON struct {
	TokenID        uint64 `json:"tokenId"`
	Seller         string `json:"seller"`
	Price          string `json:"price"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	ListTimestamp  int64  `json:"listTimestamp"`
	LastRenewed    int64  `json:"lastRenewed"`
	AcceptedBidder string `json:"acceptedBidder,omitempty"`
}

// bidJSON is the wire form of a bid slot.
type bidJSON struct {
	Bidder       string `json:"bidder"`
	Amount       string `json:"amount"`
	Escrowed     string `json:"escrowed"`
	Currency     string `json:"currency"`
	BidTimestamp int64  `json:"bidTimestamp"`
}

func formatBech32(addr [20]byte) string {
	return crypto.NewAddress(crypto.DeedPrefix, addr).String()
}

func parseBech32Address(value string) ([20]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("address required")
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Bytes(), nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}

func parseOptionalAmount(value string) (*big.Int, error) {
	if strings.TrimSpace(value) == "" {
		return big.NewInt(0), nil
	}
	return parseAmount(value)
}

func parseCurrency(value string) (market.Currency, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || strings.EqualFold(trimmed, currencyNative) {
		return market.NativeCurrency(), nil
	}
	addr, err := parseBech32Address(trimmed)
	if err != nil {
		return market.Currency{}, fmt.Errorf("invalid currency: %w", err)
	}
	return market.TokenCurrency(addr)
}

func formatCurrency(cur market.Currency) string {
	if cur.IsNative() {
		return currencyNative
	}
	return formatBech32(cur.Address())
}

func listingToJSON(l *market.Listing) *listingJSON {
	if l == nil {
		return nil
	}
	out := &listingJSON{
		TokenID:       l.TokenID,
		Seller:        formatBech32(l.Seller),
		Price:         l.Price.String(),
		Currency:      formatCurrency(l.Currency),
		Status:        l.Status.String(),
		ListTimestamp: l.ListTimestamp,
		LastRenewed:   l.LastRenewed,
	}
	if l.AcceptedBidder != ([20]byte{}) {
		out.AcceptedBidder = formatBech32(l.AcceptedBidder)
	}
	return out
}

func bidToJSON(b *market.Bid) *bidJSON {
	if b == nil {
		return nil
	}
	return &bidJSON{
		Bidder:       formatBech32(b.Bidder),
		Amount:       b.Amount.String(),
		Escrowed:     b.Escrowed.String(),
		Currency:     formatCurrency(b.Currency),
		BidTimestamp: b.BidTimestamp,
	}
}
