package market

import "math/big"

// The minimum-increment rule is tiered on the reference amount R being raised
// against: below one native unit a raise must reach 110% of R, below ten
// units 105%, and 102% above that. Tier boundaries are denominated in the
// native unit (1e18 base units).
var (
	oneNativeUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	tenNativeUnit = new(big.Int).Mul(oneNativeUnit, big.NewInt(10))
)

const incrementBase = 10_000

func incrementBps(reference *big.Int) int64 {
	switch {
	case reference.Cmp(oneNativeUnit) < 0:
		return 11_000
	case reference.Cmp(tenNativeUnit) < 0:
		return 10_500
	default:
		return 10_200
	}
}

// MinimumRaise returns the smallest amount that clears the tiered increment
// rule over the reference amount. The result is floor(R*bps/10000); amounts
// whose raise would leave the uint256 domain are rejected.
func MinimumRaise(reference *big.Int) (*big.Int, error) {
	if reference == nil || reference.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	required := new(big.Int).Mul(reference, big.NewInt(incrementBps(reference)))
	required.Div(required, big.NewInt(incrementBase))
	if err := checkAmountDomain(required); err != nil {
		return nil, err
	}
	return required, nil
}

// ClearsIncrement reports whether amount satisfies the tiered increment rule
// against the reference amount.
func ClearsIncrement(amount, reference *big.Int) (bool, error) {
	required, err := MinimumRaise(reference)
	if err != nil {
		return false, err
	}
	return amount.Cmp(required) >= 0, nil
}
