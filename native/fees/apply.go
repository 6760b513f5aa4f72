package fees

import "math/big"

// DomainMarket identifies marketplace settlement flows.
const DomainMarket = "market"

// DefaultPercentageBase is the canonical basis-point denominator.
const DefaultPercentageBase = 10_000

// Config captures the fee policy applied to a settlement: the rate in basis
// points, the denominator, and the wallet the fee leg routes to.
type Config struct {
	RateBps   uint32
	Base      uint32
	Collector [20]byte
}

// Normalize backfills a zero denominator with the canonical base.
func (c Config) Normalize() Config {
	if c.Base == 0 {
		c.Base = DefaultPercentageBase
	}
	return c
}

// ApplyInput captures the context required to evaluate the fee obligation for
// a settlement.
type ApplyInput struct {
	Domain string
	Gross  *big.Int
	Config Config
}

// ApplyResult summarises the computed fee and resulting net amount. The split
// is exact: Fee + Net always equals the gross amount.
type ApplyResult struct {
	Fee       *big.Int
	Net       *big.Int
	Collector [20]byte
}

// Apply evaluates the fee policy against the gross amount using floor
// division: fee = gross*rate/base. The caller is responsible for moving the
// resulting legs.
func Apply(input ApplyInput) ApplyResult {
	cfg := input.Config.Normalize()
	result := ApplyResult{Fee: big.NewInt(0), Collector: cfg.Collector}
	if input.Gross != nil {
		result.Net = new(big.Int).Set(input.Gross)
	} else {
		result.Net = big.NewInt(0)
	}
	if result.Net.Sign() <= 0 || cfg.RateBps == 0 {
		return result
	}
	fee := new(big.Int).Mul(result.Net, big.NewInt(int64(cfg.RateBps)))
	fee.Div(fee, big.NewInt(int64(cfg.Base)))
	if fee.Sign() <= 0 {
		return result
	}
	if fee.Cmp(result.Net) >= 0 {
		result.Fee = new(big.Int).Set(result.Net)
		result.Net = big.NewInt(0)
		return result
	}
	result.Fee = fee
	result.Net = new(big.Int).Sub(result.Net, fee)
	return result
}

// Totals aggregates settlement fee accounting per collector wallet.
type Totals struct {
	Domain string
	Wallet [20]byte
	Gross  *big.Int
	Fee    *big.Int
	Net    *big.Int
}

// Clone returns a copy of the totals structure with duplicated big.Int values.
func (t Totals) Clone() Totals {
	clone := Totals{Domain: t.Domain, Wallet: t.Wallet}
	if t.Gross != nil {
		clone.Gross = new(big.Int).Set(t.Gross)
	}
	if t.Fee != nil {
		clone.Fee = new(big.Int).Set(t.Fee)
	}
	if t.Net != nil {
		clone.Net = new(big.Int).Set(t.Net)
	}
	return clone
}

// Accumulate folds a settlement into the running totals.
func (t *Totals) Accumulate(res ApplyResult, gross *big.Int) {
	if t == nil {
		return
	}
	if t.Gross == nil {
		t.Gross = big.NewInt(0)
	}
	if t.Fee == nil {
		t.Fee = big.NewInt(0)
	}
	if t.Net == nil {
		t.Net = big.NewInt(0)
	}
	if gross != nil {
		t.Gross.Add(t.Gross, gross)
	}
	if res.Fee != nil {
		t.Fee.Add(t.Fee, res.Fee)
	}
	if res.Net != nil {
		t.Net.Add(t.Net, res.Net)
	}
}
