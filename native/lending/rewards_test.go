package lending

import (
	"errors"
	"math/big"
	"testing"
)

func TestSplitValidation(t *testing.T) {
	if err := (RepaidSplit{LP: Percent(80), Dev: Percent(20)}).Validate(); err != nil {
		t.Fatalf("valid repaid split rejected: %v", err)
	}
	if err := (RepaidSplit{LP: Percent(80), Dev: Percent(21)}).Validate(); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("oversubscribed split accepted: %v", err)
	}
	if err := (RepaidSplit{LP: Percent(80)}).Validate(); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("nil share accepted: %v", err)
	}
	if err := (CalledSplit{LP: Percent(80), Dev: Percent(10), Recaller: Percent(10)}).Validate(); err != nil {
		t.Fatalf("valid called split rejected: %v", err)
	}
	if err := (CalledSplit{LP: Percent(80), Dev: Percent(10), Recaller: Percent(5)}).Validate(); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("undersubscribed split accepted: %v", err)
	}
}

func TestRepaidSplitApply(t *testing.T) {
	split := RepaidSplit{LP: Percent(80), Dev: Percent(20)}
	lp, dev := split.Apply(big.NewInt(1000))
	if lp.Int64() != 800 || dev.Int64() != 200 {
		t.Fatalf("split 1000: got %s/%s, want 800/200", lp, dev)
	}
	lp, dev = split.Apply(big.NewInt(0))
	if lp.Sign() != 0 || dev.Sign() != 0 {
		t.Fatalf("split 0: got %s/%s", lp, dev)
	}
}

func TestCalledSplitApplyConserves(t *testing.T) {
	split := CalledSplit{LP: Percent(80), Dev: Percent(10), Recaller: Percent(10)}
	for _, amount := range []int64{0, 1, 3, 7, 999, 1000, 12345671} {
		lp, dev, recaller, remainder := split.Apply(big.NewInt(amount))
		total := new(big.Int).Add(lp, dev)
		total.Add(total, recaller)
		total.Add(total, remainder)
		if total.Int64() != amount {
			t.Fatalf("amount %d not conserved: lp=%s dev=%s recaller=%s remainder=%s", amount, lp, dev, recaller, remainder)
		}
		if remainder.Sign() < 0 {
			t.Fatalf("amount %d: negative remainder %s", amount, remainder)
		}
	}
}

func TestPercentScale(t *testing.T) {
	if Percent(100).Cmp(onePercentScale) != 0 {
		t.Fatalf("100%% != scale: %s", Percent(100))
	}
	half := new(big.Int).Quo(onePercentScale, big.NewInt(2))
	if Percent(50).Cmp(half) != 0 {
		t.Fatalf("50%%: got %s, want %s", Percent(50), half)
	}
}
