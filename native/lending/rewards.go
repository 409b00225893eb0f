package lending

import "math/big"

// onePercentScale is the 1e18 fixed-point unit percentages are expressed in:
// 1e18 means 100%.
var onePercentScale = big.NewInt(1_000_000_000_000_000_000)

// RepaidSplit distributes the non-score half of a repayment's profit between
// the liquidity pool and the treasury. Shares are 1e18-scaled and must sum to
// exactly 100%.
type RepaidSplit struct {
	LP  *big.Int
	Dev *big.Int
}

// Validate checks the split sums to exactly 100%.
func (s RepaidSplit) Validate() error {
	if s.LP == nil || s.Dev == nil || s.LP.Sign() < 0 || s.Dev.Sign() < 0 {
		return ErrInvalidParams
	}
	total := new(big.Int).Add(s.LP, s.Dev)
	if total.Cmp(onePercentScale) != 0 {
		return ErrInvalidParams
	}
	return nil
}

// Clone returns a deep copy of the split.
func (s RepaidSplit) Clone() RepaidSplit {
	clone := RepaidSplit{}
	if s.LP != nil {
		clone.LP = new(big.Int).Set(s.LP)
	}
	if s.Dev != nil {
		clone.Dev = new(big.Int).Set(s.Dev)
	}
	return clone
}

// Apply splits amount into the LP and treasury shares. Both shares round
// down; the caller keeps the dust.
func (s RepaidSplit) Apply(amount *big.Int) (lp, dev *big.Int) {
	return share(amount, s.LP), share(amount, s.Dev)
}

// CalledSplit distributes one token's seized collateral between the pool, the
// treasury and the recaller who reported the default. Shares are 1e18-scaled
// and must sum to exactly 100%.
type CalledSplit struct {
	LP       *big.Int
	Dev      *big.Int
	Recaller *big.Int
}

// Validate checks the split sums to exactly 100%.
func (s CalledSplit) Validate() error {
	if s.LP == nil || s.Dev == nil || s.Recaller == nil {
		return ErrInvalidParams
	}
	if s.LP.Sign() < 0 || s.Dev.Sign() < 0 || s.Recaller.Sign() < 0 {
		return ErrInvalidParams
	}
	total := new(big.Int).Add(s.LP, s.Dev)
	total.Add(total, s.Recaller)
	if total.Cmp(onePercentScale) != 0 {
		return ErrInvalidParams
	}
	return nil
}

// Clone returns a deep copy of the split.
func (s CalledSplit) Clone() CalledSplit {
	clone := CalledSplit{}
	if s.LP != nil {
		clone.LP = new(big.Int).Set(s.LP)
	}
	if s.Dev != nil {
		clone.Dev = new(big.Int).Set(s.Dev)
	}
	if s.Recaller != nil {
		clone.Recaller = new(big.Int).Set(s.Recaller)
	}
	return clone
}

// Apply splits a seized amount. Every share rounds down independently; the
// remainder is not reconciled across tokens and returns to the pool, so
// lp + dev + recaller + remainder always equals amount exactly.
func (s CalledSplit) Apply(amount *big.Int) (lp, dev, recaller, remainder *big.Int) {
	lp = share(amount, s.LP)
	dev = share(amount, s.Dev)
	recaller = share(amount, s.Recaller)
	remainder = new(big.Int).Set(amount)
	remainder.Sub(remainder, lp)
	remainder.Sub(remainder, dev)
	remainder.Sub(remainder, recaller)
	return lp, dev, recaller, remainder
}

// share computes amount * pct / 1e18 with floor rounding.
func share(amount, pct *big.Int) *big.Int {
	if amount == nil || amount.Sign() == 0 || pct == nil || pct.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(amount, pct)
	return out.Quo(out, onePercentScale)
}

// Percent converts a whole-number percentage into the 1e18 fixed-point scale.
func Percent(pct uint64) *big.Int {
	out := new(big.Int).SetUint64(pct)
	out.Mul(out, onePercentScale)
	return out.Quo(out, big.NewInt(100))
}
