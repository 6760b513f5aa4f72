package market

import (
	"errors"
	"math/big"
	"testing"
)

func TestMinimumRaiseTiers(t *testing.T) {
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	half := new(big.Int).Div(unit, big.NewInt(2))

	cases := []struct {
		name      string
		reference *big.Int
		want      *big.Int
	}{
		{
			// Below one unit the raise must reach 110%.
			name:      "sub unit",
			reference: half,
			want:      new(big.Int).Div(new(big.Int).Mul(half, big.NewInt(11_000)), big.NewInt(10_000)),
		},
		{
			// From one unit up to ten: 105%.
			name:      "mid tier",
			reference: new(big.Int).Mul(unit, big.NewInt(5)),
			want:      new(big.Int).Div(new(big.Int).Mul(new(big.Int).Mul(unit, big.NewInt(5)), big.NewInt(10_500)), big.NewInt(10_000)),
		},
		{
			// Ten units and above: 102%.
			name:      "top tier",
			reference: new(big.Int).Mul(unit, big.NewInt(100)),
			want:      new(big.Int).Mul(unit, big.NewInt(102)),
		},
		{
			// The boundary itself belongs to the next tier up.
			name:      "one unit boundary",
			reference: new(big.Int).Set(unit),
			want:      new(big.Int).Div(new(big.Int).Mul(unit, big.NewInt(10_500)), big.NewInt(10_000)),
		},
		{
			name:      "ten unit boundary",
			reference: new(big.Int).Mul(unit, big.NewInt(10)),
			want:      new(big.Int).Div(new(big.Int).Mul(new(big.Int).Mul(unit, big.NewInt(10)), big.NewInt(10_200)), big.NewInt(10_000)),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := MinimumRaise(tc.reference)
			if err != nil {
				t.Fatalf("minimum raise: %v", err)
			}
			if got.Cmp(tc.want) != 0 {
				t.Fatalf("minimum raise = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestMinimumRaiseFloorDivision(t *testing.T) {
	// floor(103 * 1.02) = 105.06 -> 105 when working in whole units.
	reference := big.NewInt(103)
	got, err := MinimumRaise(reference)
	if err != nil {
		t.Fatalf("minimum raise: %v", err)
	}
	// 103 sits far below one native unit, so the 110% tier applies:
	// floor(103 * 1.10) = 113.
	if got.Cmp(big.NewInt(113)) != 0 {
		t.Fatalf("minimum raise = %s, want 113", got)
	}
}

func TestMinimumRaiseRejectsBadReference(t *testing.T) {
	if _, err := MinimumRaise(nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("nil reference: %v", err)
	}
	if _, err := MinimumRaise(big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero reference: %v", err)
	}
	if _, err := MinimumRaise(big.NewInt(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative reference: %v", err)
	}
}

func TestMinimumRaiseOverflowGuard(t *testing.T) {
	// A reference near the top of the uint256 domain would overflow once
	// multiplied by the increment factor.
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	if _, err := MinimumRaise(max); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("overflowing raise: %v", err)
	}
}

func TestClearsIncrement(t *testing.T) {
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	reference := new(big.Int).Mul(unit, big.NewInt(100))
	exact := new(big.Int).Mul(unit, big.NewInt(102))

	ok, err := ClearsIncrement(exact, reference)
	if err != nil {
		t.Fatalf("clears increment: %v", err)
	}
	if !ok {
		t.Fatalf("exact minimum should clear")
	}
	below := new(big.Int).Sub(exact, big.NewInt(1))
	ok, err = ClearsIncrement(below, reference)
	if err != nil {
		t.Fatalf("clears increment: %v", err)
	}
	if ok {
		t.Fatalf("one below the minimum should not clear")
	}
}
