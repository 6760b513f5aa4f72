// Package local provides development-grade implementations of the
// marketplace's external collaborators: the role/KYC provider, the asset
// registry and the token resolver. Production deployments replace these with
// adapters to the real systems.
package local

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"deedmarket/native/fees"
	"deedmarket/native/market"
	"deedmarket/storage"
)

// Admin is a static role/KYC provider configured at startup.
type Admin struct {
	mu        sync.RWMutex
	roles     map[market.Role]map[[20]byte]struct{}
	kycOpen   bool
	kyc       map[[20]byte]struct{}
	feeConfig fees.Config
}

// NewAdmin builds an Admin with the given fee policy. When kycOpen is true
// every address counts as verified.
func NewAdmin(feeConfig fees.Config, kycOpen bool) *Admin {
	return &Admin{
		roles:     make(map[market.Role]map[[20]byte]struct{}),
		kycOpen:   kycOpen,
		kyc:       make(map[[20]byte]struct{}),
		feeConfig: feeConfig.Normalize(),
	}
}

// Grant assigns a role to an address.
func (a *Admin) Grant(role market.Role, addr [20]byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	holders, ok := a.roles[role]
	if !ok {
		holders = make(map[[20]byte]struct{})
		a.roles[role] = holders
	}
	holders[addr] = struct{}{}
}

// Verify marks an address as KYC verified.
func (a *Admin) Verify(addr [20]byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.kyc[addr] = struct{}{}
}

// HasRole implements market.AdminControl.
func (a *Admin) HasRole(role market.Role, addr [20]byte) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.roles[role][addr]
	return ok
}

// IsKYCVerified implements market.AdminControl.
func (a *Admin) IsKYCVerified(addr [20]byte) bool {
	if a.kycOpen {
		return true
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.kyc[addr]
	return ok
}

// FeeConfig implements market.AdminControl.
func (a *Admin) FeeConfig() fees.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.feeConfig
}

// Assets is a database-backed ownership registry for development networks.
type Assets struct {
	mu sync.Mutex
	db storage.Database
}

// NewAssets wraps the database.
func NewAssets(db storage.Database) *Assets {
	return &Assets{db: db}
}

func assetKey(tokenID uint64) []byte {
	key := []byte("assets/owner/")
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], tokenID)
	return append(key, buf[:]...)
}

// Mint assigns an unowned token to the given address.
func (a *Assets) Mint(tokenID uint64, owner [20]byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	ok, err := a.db.Has(assetKey(tokenID))
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("assets: token %d already minted", tokenID)
	}
	return a.db.Put(assetKey(tokenID), owner[:])
}

// OwnerOf implements market.AssetRegistry.
func (a *Assets) OwnerOf(tokenID uint64) ([20]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	raw, err := a.db.Get(assetKey(tokenID))
	if errors.Is(err, storage.ErrNotFound) {
		return [20]byte{}, fmt.Errorf("assets: token %d not minted", tokenID)
	}
	if err != nil {
		return [20]byte{}, err
	}
	var owner [20]byte
	copy(owner[:], raw)
	return owner, nil
}

// SafeTransferFrom implements market.AssetRegistry.
func (a *Assets) SafeTransferFrom(from, to [20]byte, tokenID uint64, _ []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	raw, err := a.db.Get(assetKey(tokenID))
	if err != nil {
		return err
	}
	var owner [20]byte
	copy(owner[:], raw)
	if owner != from {
		return fmt.Errorf("assets: %x does not own token %d", from, tokenID)
	}
	if to == ([20]byte{}) {
		return fmt.Errorf("assets: transfer to zero address")
	}
	return a.db.Put(assetKey(tokenID), to[:])
}

// Tokens resolves token contract addresses to registered bindings.
type Tokens struct {
	mu       sync.RWMutex
	bindings map[[20]byte]market.Token
}

// NewTokens returns an empty resolver; native-only markets need no bindings.
func NewTokens() *Tokens {
	return &Tokens{bindings: make(map[[20]byte]market.Token)}
}

// Register binds a token contract address.
func (t *Tokens) Register(addr [20]byte, token market.Token) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bindings[addr] = token
}

// Token implements market.TokenResolver.
func (t *Tokens) Token(addr [20]byte) (market.Token, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	token, ok := t.bindings[addr]
	if !ok {
		return nil, fmt.Errorf("tokens: no binding for %x", addr)
	}
	return token, nil
}
