package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"deedmarket/core/types"
	"deedmarket/native/market"
	"deedmarket/storage"
)

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func newTestManager(t *testing.T) (*Manager, storage.Database) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return NewManager(db), db
}

func TestListingRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)
	tokenCur, err := market.TokenCurrency(testAddr(0xAA))
	require.NoError(t, err)

	listing := &market.Listing{
		TokenID:        42,
		Seller:         testAddr(0x01),
		Price:          big.NewInt(1_000_000),
		Currency:       tokenCur,
		Status:         market.StatusPendingPayment,
		ListTimestamp:  1_700_000_000,
		LastRenewed:    1_700_000_500,
		AcceptedBidder: testAddr(0x02),
	}
	require.NoError(t, m.ListingPut(listing))
	require.NoError(t, m.Commit())

	got, ok, err := m.ListingGet(42)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, listing.TokenID, got.TokenID)
	require.Equal(t, listing.Seller, got.Seller)
	require.Zero(t, listing.Price.Cmp(got.Price))
	require.True(t, listing.Currency.Equal(got.Currency))
	require.Equal(t, market.StatusPendingPayment, got.Status)
	require.Equal(t, listing.ListTimestamp, got.ListTimestamp)
	require.Equal(t, listing.LastRenewed, got.LastRenewed)
	require.Equal(t, listing.AcceptedBidder, got.AcceptedBidder)
}

func TestListingNativeCurrencySurvivesZeroAddress(t *testing.T) {
	m, _ := newTestManager(t)
	listing := &market.Listing{
		TokenID:       7,
		Seller:        testAddr(0x01),
		Price:         big.NewInt(5),
		Currency:      market.NativeCurrency(),
		Status:        market.StatusListed,
		ListTimestamp: 1,
		LastRenewed:   1,
	}
	require.NoError(t, m.ListingPut(listing))

	got, ok, err := m.ListingGet(7)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, got.Currency.IsNative())
}

func TestListingPutRejectsInvalidRecords(t *testing.T) {
	m, _ := newTestManager(t)
	require.Error(t, m.ListingPut(nil))
	require.Error(t, m.ListingPut(&market.Listing{TokenID: 1, Price: big.NewInt(0), Status: market.StatusListed}))
}

func TestBidsRoundTripPreservesTombstones(t *testing.T) {
	m, _ := newTestManager(t)
	bids := []*market.Bid{
		{Bidder: testAddr(0x01), Amount: big.NewInt(100), Escrowed: big.NewInt(100), Currency: market.NativeCurrency(), BidTimestamp: 10, Active: false},
		{Bidder: testAddr(0x02), Amount: big.NewInt(110), Escrowed: big.NewInt(109), Currency: market.CurrencyFromAddress(testAddr(0xAA)), BidTimestamp: 11, Active: true},
	}
	require.NoError(t, m.BidsPut(9, bids))
	require.NoError(t, m.Commit())

	got, err := m.BidsGet(9)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.False(t, got[0].Active)
	require.True(t, got[1].Active)
	require.Zero(t, got[1].Escrowed.Cmp(big.NewInt(109)))
	require.False(t, got[1].Currency.IsNative())

	missing, err := m.BidsGet(10)
	require.NoError(t, err)
	require.Empty(t, missing)
}

func TestBidderIndexRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)
	bidder := testAddr(0x05)

	slot, err := m.BidderIndexGet(bidder, 1)
	require.NoError(t, err)
	require.Zero(t, slot)

	require.NoError(t, m.BidderIndexSet(bidder, 1, 3))
	slot, err = m.BidderIndexGet(bidder, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(3), slot)

	// The same bidder on a different asset resolves independently.
	slot, err = m.BidderIndexGet(bidder, 2)
	require.NoError(t, err)
	require.Zero(t, slot)
}

func TestAllowedTokensAndWhitelist(t *testing.T) {
	m, _ := newTestManager(t)
	token := testAddr(0xAA)

	allowed, err := m.TokenAllowedGet(token)
	require.NoError(t, err)
	require.False(t, allowed)

	require.NoError(t, m.TokenAllowedSet(token, true))
	allowed, err = m.TokenAllowedGet(token)
	require.NoError(t, err)
	require.True(t, allowed)

	enabled, err := m.WhitelistEnabled()
	require.NoError(t, err)
	require.False(t, enabled)
	require.NoError(t, m.SetWhitelistEnabled(true))
	enabled, err = m.WhitelistEnabled()
	require.NoError(t, err)
	require.True(t, enabled)
}

func TestPendingRefundRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)
	addr := testAddr(0x07)

	pending, err := m.PendingRefundGet(addr)
	require.NoError(t, err)
	require.Zero(t, pending.Sign())

	require.NoError(t, m.PendingRefundSet(addr, big.NewInt(77)))
	pending, err = m.PendingRefundGet(addr)
	require.NoError(t, err)
	require.Zero(t, pending.Cmp(big.NewInt(77)))

	require.Error(t, m.PendingRefundSet(addr, big.NewInt(-1)))
}

func TestPendingTokenRefundRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)
	addr := testAddr(0x07)
	tokenA := testAddr(0xAA)
	tokenB := testAddr(0xBB)

	pending, err := m.PendingTokenRefundGet(addr, tokenA)
	require.NoError(t, err)
	require.Zero(t, pending.Sign())

	// Balances are keyed per (address, token) pair.
	require.NoError(t, m.PendingTokenRefundSet(addr, tokenA, big.NewInt(25)))
	pending, err = m.PendingTokenRefundGet(addr, tokenA)
	require.NoError(t, err)
	require.Zero(t, pending.Cmp(big.NewInt(25)))
	pending, err = m.PendingTokenRefundGet(addr, tokenB)
	require.NoError(t, err)
	require.Zero(t, pending.Sign())

	require.NoError(t, m.PendingTokenRefundSet(addr, tokenA, big.NewInt(0)))
	pending, err = m.PendingTokenRefundGet(addr, tokenA)
	require.NoError(t, err)
	require.Zero(t, pending.Sign())

	require.Error(t, m.PendingTokenRefundSet(addr, tokenA, big.NewInt(-1)))
}

func TestGenesisMarkerRidesOverlay(t *testing.T) {
	m, db := newTestManager(t)

	applied, err := m.GenesisApplied()
	require.NoError(t, err)
	require.False(t, applied)

	// Marking is an overlay write: visible through this manager, absent
	// from the backing store until Commit.
	m.MarkGenesisApplied()
	applied, err = m.GenesisApplied()
	require.NoError(t, err)
	require.True(t, applied)
	applied, err = NewManager(db).GenesisApplied()
	require.NoError(t, err)
	require.False(t, applied)

	m.Abort()
	applied, err = m.GenesisApplied()
	require.NoError(t, err)
	require.False(t, applied)

	m.MarkGenesisApplied()
	require.NoError(t, m.Commit())
	applied, err = NewManager(db).GenesisApplied()
	require.NoError(t, err)
	require.True(t, applied)
}

func TestAccountDefaultsAndRoundTrip(t *testing.T) {
	m, _ := newTestManager(t)
	addr := testAddr(0x09)

	acc, err := m.GetAccount(addr)
	require.NoError(t, err)
	require.NotNil(t, acc.Balance)
	require.Zero(t, acc.Balance.Sign())

	require.NoError(t, m.PutAccount(addr, &types.Account{Nonce: 4, Balance: big.NewInt(1234)}))
	acc, err = m.GetAccount(addr)
	require.NoError(t, err)
	require.Equal(t, uint64(4), acc.Nonce)
	require.Zero(t, acc.Balance.Cmp(big.NewInt(1234)))

	require.Error(t, m.PutAccount(addr, &types.Account{Balance: big.NewInt(-1)}))
}

func TestOverlayCommitAndAbort(t *testing.T) {
	m, db := newTestManager(t)
	addr := testAddr(0x01)

	require.NoError(t, m.PutAccount(addr, &types.Account{Balance: big.NewInt(50)}))
	require.True(t, m.Dirty())

	// Uncommitted writes are visible through the manager but absent from
	// the backing store.
	acc, err := m.GetAccount(addr)
	require.NoError(t, err)
	require.Zero(t, acc.Balance.Cmp(big.NewInt(50)))
	other := NewManager(db)
	acc, err = other.GetAccount(addr)
	require.NoError(t, err)
	require.Zero(t, acc.Balance.Sign())

	// Abort drops the overlay entirely.
	m.Abort()
	require.False(t, m.Dirty())
	acc, err = m.GetAccount(addr)
	require.NoError(t, err)
	require.Zero(t, acc.Balance.Sign())

	// A committed write lands in the store and survives a fresh manager.
	require.NoError(t, m.PutAccount(addr, &types.Account{Balance: big.NewInt(60)}))
	require.NoError(t, m.Commit())
	require.False(t, m.Dirty())
	acc, err = NewManager(db).GetAccount(addr)
	require.NoError(t, err)
	require.Zero(t, acc.Balance.Cmp(big.NewInt(60)))
}

func TestVaultAddressIsStable(t *testing.T) {
	m, db := newTestManager(t)
	require.NotEqual(t, [20]byte{}, m.MarketVaultAddress())
	require.Equal(t, m.MarketVaultAddress(), NewManager(db).MarketVaultAddress())
}
