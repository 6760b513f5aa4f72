package state

import (
	"encoding/binary"
	"errors"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"deedmarket/core/types"
	"deedmarket/native/market"
	"deedmarket/storage"
)

// Key prefixes for the marketplace keyspace.
const (
	prefixListing   = "market/listing/"
	prefixBids      = "market/bids/"
	prefixBidIndex  = "market/idx/"
	prefixRefund    = "market/refund/"
	prefixTokRefund = "market/tokrefund/"
	prefixAllowed   = "market/allowed/"
	keyWhitelist    = "market/whitelist"
	keyGenesis      = "genesis/applied"
	prefixAccount   = "account/"
	vaultDerivation = "deedmarket/vault"
)

// Manager implements the marketplace engine's state interface over a
// key-value database, buffering every write in an overlay until Commit. An
// Abort drops the overlay, which is how a failed settlement rolls back as one
// atomic unit.
type Manager struct {
	db      storage.Database
	overlay map[string][]byte
	vault   [20]byte
}

// NewManager wraps the database in a fresh overlay-backed manager.
func NewManager(db storage.Database) *Manager {
	var vault [20]byte
	copy(vault[:], ethcrypto.Keccak256([]byte(vaultDerivation))[12:])
	return &Manager{
		db:      db,
		overlay: make(map[string][]byte),
		vault:   vault,
	}
}

// Commit flushes the overlay into the backing database and resets it.
func (m *Manager) Commit() error {
	for key, value := range m.overlay {
		if err := m.db.Put([]byte(key), value); err != nil {
			return err
		}
	}
	m.overlay = make(map[string][]byte)
	return nil
}

// Abort discards every buffered write.
func (m *Manager) Abort() {
	m.overlay = make(map[string][]byte)
}

// Dirty reports whether uncommitted writes exist.
func (m *Manager) Dirty() bool {
	return len(m.overlay) > 0
}

func (m *Manager) get(key []byte) ([]byte, bool, error) {
	if value, ok := m.overlay[string(key)]; ok {
		return value, true, nil
	}
	value, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (m *Manager) put(key, value []byte) {
	m.overlay[string(key)] = value
}

// MarketVaultAddress returns the address holding the marketplace's native
// custody balance, derived deterministically from the module name.
func (m *Manager) MarketVaultAddress() [20]byte {
	return m.vault
}

// --- codecs ---
//
// RLP carries only unsigned integers and exported fields, so persisted shapes
// are flattened into stored* twins and currencies travel in the zero-address
// convention.

type storedListing struct {
	TokenID        uint64
	Seller         [20]byte
	Price          *big.Int
	Currency       [20]byte
	Status         uint8
	ListTimestamp  uint64
	LastRenewed    uint64
	AcceptedBidder [20]byte
}

type storedBid struct {
	Bidder       [20]byte
	Amount       *big.Int
	Escrowed     *big.Int
	Currency     [20]byte
	BidTimestamp uint64
	Active       bool
}

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

func listingKey(tokenID uint64) []byte {
	return appendUint64([]byte(prefixListing), tokenID)
}

func bidsKey(tokenID uint64) []byte {
	return appendUint64([]byte(prefixBids), tokenID)
}

func bidIndexKey(bidder [20]byte, tokenID uint64) []byte {
	key := append([]byte(prefixBidIndex), bidder[:]...)
	return appendUint64(key, tokenID)
}

func refundKey(addr [20]byte) []byte {
	return append([]byte(prefixRefund), addr[:]...)
}

func tokenRefundKey(addr, token [20]byte) []byte {
	key := append([]byte(prefixTokRefund), addr[:]...)
	return append(key, token[:]...)
}

func allowedKey(token [20]byte) []byte {
	return append([]byte(prefixAllowed), token[:]...)
}

func accountKey(addr [20]byte) []byte {
	return append([]byte(prefixAccount), addr[:]...)
}

func appendUint64(key []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(key, buf[:]...)
}

// --- listings ---

func (m *Manager) ListingGet(tokenID uint64) (*market.Listing, bool, error) {
	raw, ok, err := m.get(listingKey(tokenID))
	if err != nil || !ok {
		return nil, false, err
	}
	var stored storedListing
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false, err
	}
	listing := &market.Listing{
		TokenID:        stored.TokenID,
		Seller:         stored.Seller,
		Price:          stored.Price,
		Currency:       market.CurrencyFromAddress(stored.Currency),
		Status:         market.ListingStatus(stored.Status),
		ListTimestamp:  int64(stored.ListTimestamp),
		LastRenewed:    int64(stored.LastRenewed),
		AcceptedBidder: stored.AcceptedBidder,
	}
	return listing, true, nil
}

func (m *Manager) ListingPut(l *market.Listing) error {
	sanitized, err := market.SanitizeListing(l)
	if err != nil {
		return err
	}
	stored := storedListing{
		TokenID:        sanitized.TokenID,
		Seller:         sanitized.Seller,
		Price:          sanitized.Price,
		Currency:       sanitized.Currency.Address(),
		Status:         uint8(sanitized.Status),
		ListTimestamp:  uint64(sanitized.ListTimestamp),
		LastRenewed:    uint64(sanitized.LastRenewed),
		AcceptedBidder: sanitized.AcceptedBidder,
	}
	raw, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return err
	}
	m.put(listingKey(sanitized.TokenID), raw)
	return nil
}

// --- bids ---

func (m *Manager) BidsGet(tokenID uint64) ([]*market.Bid, error) {
	raw, ok, err := m.get(bidsKey(tokenID))
	if err != nil || !ok {
		return nil, err
	}
	var stored []storedBid
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, err
	}
	bids := make([]*market.Bid, 0, len(stored))
	for _, s := range stored {
		bids = append(bids, &market.Bid{
			Bidder:       s.Bidder,
			Amount:       s.Amount,
			Escrowed:     s.Escrowed,
			Currency:     market.CurrencyFromAddress(s.Currency),
			BidTimestamp: int64(s.BidTimestamp),
			Active:       s.Active,
		})
	}
	return bids, nil
}

func (m *Manager) BidsPut(tokenID uint64, bids []*market.Bid) error {
	stored := make([]storedBid, 0, len(bids))
	for _, b := range bids {
		sanitized, err := market.SanitizeBid(b)
		if err != nil {
			return err
		}
		stored = append(stored, storedBid{
			Bidder:       sanitized.Bidder,
			Amount:       sanitized.Amount,
			Escrowed:     sanitized.Escrowed,
			Currency:     sanitized.Currency.Address(),
			BidTimestamp: uint64(sanitized.BidTimestamp),
			Active:       sanitized.Active,
		})
	}
	raw, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	m.put(bidsKey(tokenID), raw)
	return nil
}

func (m *Manager) BidderIndexGet(bidder [20]byte, tokenID uint64) (uint64, error) {
	raw, ok, err := m.get(bidIndexKey(bidder, tokenID))
	if err != nil || !ok {
		return 0, err
	}
	var slot uint64
	if err := rlp.DecodeBytes(raw, &slot); err != nil {
		return 0, err
	}
	return slot, nil
}

func (m *Manager) BidderIndexSet(bidder [20]byte, tokenID uint64, slot uint64) error {
	raw, err := rlp.EncodeToBytes(slot)
	if err != nil {
		return err
	}
	m.put(bidIndexKey(bidder, tokenID), raw)
	return nil
}

// --- allowed-token registry ---

func (m *Manager) TokenAllowedGet(token [20]byte) (bool, error) {
	raw, ok, err := m.get(allowedKey(token))
	if err != nil || !ok {
		return false, err
	}
	var allowed bool
	if err := rlp.DecodeBytes(raw, &allowed); err != nil {
		return false, err
	}
	return allowed, nil
}

func (m *Manager) TokenAllowedSet(token [20]byte, allowed bool) error {
	raw, err := rlp.EncodeToBytes(allowed)
	if err != nil {
		return err
	}
	m.put(allowedKey(token), raw)
	return nil
}

func (m *Manager) WhitelistEnabled() (bool, error) {
	raw, ok, err := m.get([]byte(keyWhitelist))
	if err != nil || !ok {
		return false, err
	}
	var enabled bool
	if err := rlp.DecodeBytes(raw, &enabled); err != nil {
		return false, err
	}
	return enabled, nil
}

func (m *Manager) SetWhitelistEnabled(enabled bool) error {
	raw, err := rlp.EncodeToBytes(enabled)
	if err != nil {
		return err
	}
	m.put([]byte(keyWhitelist), raw)
	return nil
}

// --- pending refunds ---

func (m *Manager) PendingRefundGet(addr [20]byte) (*big.Int, error) {
	raw, ok, err := m.get(refundKey(addr))
	if err != nil || !ok {
		return big.NewInt(0), err
	}
	pending := new(big.Int)
	if err := rlp.DecodeBytes(raw, pending); err != nil {
		return nil, err
	}
	return pending, nil
}

func (m *Manager) PendingRefundSet(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errors.New("state: pending refund must be non-negative")
	}
	raw, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	m.put(refundKey(addr), raw)
	return nil
}

func (m *Manager) PendingTokenRefundGet(addr, token [20]byte) (*big.Int, error) {
	raw, ok, err := m.get(tokenRefundKey(addr, token))
	if err != nil || !ok {
		return big.NewInt(0), err
	}
	pending := new(big.Int)
	if err := rlp.DecodeBytes(raw, pending); err != nil {
		return nil, err
	}
	return pending, nil
}

func (m *Manager) PendingTokenRefundSet(addr, token [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errors.New("state: pending refund must be non-negative")
	}
	raw, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	m.put(tokenRefundKey(addr, token), raw)
	return nil
}

// --- genesis marker ---
//
// The marker travels through the overlay so it commits in the same atomic
// unit as the genesis allocations themselves.

func (m *Manager) GenesisApplied() (bool, error) {
	_, ok, err := m.get([]byte(keyGenesis))
	return ok, err
}

func (m *Manager) MarkGenesisApplied() {
	m.put([]byte(keyGenesis), []byte{1})
}

// --- accounts ---

func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	raw, ok, err := m.get(accountKey(addr))
	if err != nil {
		return nil, err
	}
	if !ok {
		return (&types.Account{}).EnsureDefaults(), nil
	}
	var stored storedAccount
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, err
	}
	return (&types.Account{Nonce: stored.Nonce, Balance: stored.Balance}).EnsureDefaults(), nil
}

func (m *Manager) PutAccount(addr [20]byte, acc *types.Account) error {
	acc = acc.EnsureDefaults()
	if acc.Balance.Sign() < 0 {
		return errors.New("state: account balance must be non-negative")
	}
	raw, err := rlp.EncodeToBytes(&storedAccount{Nonce: acc.Nonce, Balance: acc.Balance})
	if err != nil {
		return err
	}
	m.put(accountKey(addr), raw)
	return nil
}
