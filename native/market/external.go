package market

import (
	"math/big"

	"deedmarket/native/fees"
)

// Role identifies a permission gate checked against the admin-control
// collaborator.
type Role string

const (
	// RoleAdmin may perform emergency withdrawals.
	RoleAdmin Role = "ROLE_ADMIN"
	// RoleMarketAdmin may mutate the payment-token allowlist.
	RoleMarketAdmin Role = "ROLE_MARKET_ADMIN"
)

// AdminControl is the role/KYC administration collaborator. It lives outside
// the marketplace and is consumed via this interface only.
type AdminControl interface {
	HasRole(role Role, addr [20]byte) bool
	IsKYCVerified(addr [20]byte) bool
	FeeConfig() fees.Config
}

// AssetRegistry is the ERC-721-shaped ownership registry for the underlying
// real-estate tokens. It is treated as untrusted: calls into it may re-enter
// the marketplace.
type AssetRegistry interface {
	OwnerOf(tokenID uint64) ([20]byte, error)
	SafeTransferFrom(from, to [20]byte, tokenID uint64, data []byte) error
}

// Token is the ERC-20-shaped fungible-currency collaborator. Implementations
// may deliver less than the nominal transfer amount; callers must measure
// balance deltas instead of trusting the argument.
type Token interface {
	TransferFrom(from, to [20]byte, amount *big.Int) (bool, error)
	Transfer(to [20]byte, amount *big.Int) (bool, error)
	Allowance(owner, spender [20]byte) (*big.Int, error)
	BalanceOf(addr [20]byte) (*big.Int, error)
}

// TokenResolver binds a token contract address to a callable Token.
type TokenResolver interface {
	Token(addr [20]byte) (Token, error)
}
