package fees

import (
	"math/big"
	"testing"
)

func collectorAddr() [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = 0xFC
	}
	return addr
}

func TestApplySplitIsExact(t *testing.T) {
	cfg := Config{RateBps: 250, Base: 10_000, Collector: collectorAddr()}
	cases := []int64{1, 39, 40, 41, 10_000, 999_999_999}
	for _, gross := range cases {
		res := Apply(ApplyInput{Domain: DomainMarket, Gross: big.NewInt(gross), Config: cfg})
		sum := new(big.Int).Add(res.Fee, res.Net)
		if sum.Cmp(big.NewInt(gross)) != 0 {
			t.Fatalf("gross %d: fee %s + net %s != gross", gross, res.Fee, res.Net)
		}
		want := gross * 250 / 10_000
		if res.Fee.Cmp(big.NewInt(want)) != 0 {
			t.Fatalf("gross %d: fee = %s, want %d", gross, res.Fee, want)
		}
		if res.Collector != cfg.Collector {
			t.Fatalf("collector not propagated")
		}
	}
}

func TestApplyZeroRate(t *testing.T) {
	res := Apply(ApplyInput{Domain: DomainMarket, Gross: big.NewInt(500), Config: Config{Base: 10_000}})
	if res.Fee.Sign() != 0 {
		t.Fatalf("fee = %s, want 0", res.Fee)
	}
	if res.Net.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("net = %s, want 500", res.Net)
	}
}

func TestApplyTinyGrossRoundsFeeToZero(t *testing.T) {
	// 2.5% of 39 floors to zero; the seller keeps everything.
	res := Apply(ApplyInput{Domain: DomainMarket, Gross: big.NewInt(39), Config: Config{RateBps: 250, Base: 10_000}})
	if res.Fee.Sign() != 0 {
		t.Fatalf("fee = %s, want 0", res.Fee)
	}
	if res.Net.Cmp(big.NewInt(39)) != 0 {
		t.Fatalf("net = %s, want 39", res.Net)
	}
}

func TestApplyNilAndNonPositiveGross(t *testing.T) {
	cfg := Config{RateBps: 250, Base: 10_000}
	res := Apply(ApplyInput{Domain: DomainMarket, Gross: nil, Config: cfg})
	if res.Fee.Sign() != 0 || res.Net.Sign() != 0 {
		t.Fatalf("nil gross: fee %s net %s", res.Fee, res.Net)
	}
	res = Apply(ApplyInput{Domain: DomainMarket, Gross: big.NewInt(-5), Config: cfg})
	if res.Fee.Sign() != 0 || res.Net.Cmp(big.NewInt(-5)) != 0 {
		t.Fatalf("negative gross: fee %s net %s", res.Fee, res.Net)
	}
}

func TestApplyFeeNeverExceedsGross(t *testing.T) {
	// A misconfigured rate above the base caps the fee at the full gross.
	res := Apply(ApplyInput{Domain: DomainMarket, Gross: big.NewInt(100), Config: Config{RateBps: 20_000, Base: 10_000}})
	if res.Fee.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("fee = %s, want the full gross", res.Fee)
	}
	if res.Net.Sign() != 0 {
		t.Fatalf("net = %s, want 0", res.Net)
	}
}

func TestNormalizeBackfillsBase(t *testing.T) {
	cfg := Config{RateBps: 100}.Normalize()
	if cfg.Base != DefaultPercentageBase {
		t.Fatalf("base = %d, want %d", cfg.Base, DefaultPercentageBase)
	}
}

func TestTotalsAccumulate(t *testing.T) {
	var totals Totals
	cfg := Config{RateBps: 250, Base: 10_000}
	for _, gross := range []int64{1_000, 2_000} {
		res := Apply(ApplyInput{Domain: DomainMarket, Gross: big.NewInt(gross), Config: cfg})
		totals.Accumulate(res, big.NewInt(gross))
	}
	if totals.Gross.Cmp(big.NewInt(3_000)) != 0 {
		t.Fatalf("gross = %s", totals.Gross)
	}
	if totals.Fee.Cmp(big.NewInt(75)) != 0 {
		t.Fatalf("fee = %s", totals.Fee)
	}
	if totals.Net.Cmp(big.NewInt(2_925)) != 0 {
		t.Fatalf("net = %s", totals.Net)
	}

	clone := totals.Clone()
	clone.Fee.SetInt64(0)
	if totals.Fee.Cmp(big.NewInt(75)) != 0 {
		t.Fatalf("totals mutated through clone")
	}
}
