package lending

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// LoanState tracks the lifecycle of a loan. Terminal states are immutable.
type LoanState uint8

const (
	LoanStateUnknown LoanState = iota
	LoanStateActive
	LoanStatePaid
	LoanStateRecalled
)

// String renders the state for events and RPC payloads.
func (s LoanState) String() string {
	switch s {
	case LoanStateActive:
		return "active"
	case LoanStatePaid:
		return "paid"
	case LoanStateRecalled:
		return "recalled"
	default:
		return "unknown"
	}
}

// CollateralLock records how much of one token was reserved for a loan at
// issuance, split between the borrower's crypto score and their pool deposit.
// Repayment releases and recall seizes exactly these recorded amounts.
type CollateralLock struct {
	Token     common.Address `json:"token"`
	FromScore *big.Int       `json:"fromScore"`
	FromPool  *big.Int       `json:"fromPool"`
}

// Amount returns the total reserved amount of the lock's token.
func (l CollateralLock) Amount() *big.Int {
	total := big.NewInt(0)
	if l.FromScore != nil {
		total.Add(total, l.FromScore)
	}
	if l.FromPool != nil {
		total.Add(total, l.FromPool)
	}
	return total
}

// Clone returns a deep copy of the lock.
func (l CollateralLock) Clone() CollateralLock {
	clone := CollateralLock{Token: l.Token}
	if l.FromScore != nil {
		clone.FromScore = new(big.Int).Set(l.FromScore)
	}
	if l.FromPool != nil {
		clone.FromPool = new(big.Int).Set(l.FromPool)
	}
	return clone
}

// Loan is the per-loan record. Amount is the principal in the loan token's
// own precision; InterestPerDay is the 1e18-scaled daily rate snapshotted at
// issuance, penalization included.
type Loan struct {
	ID             uint64           `json:"id"`
	Owner          common.Address   `json:"owner"`
	Token          common.Address   `json:"token"`
	Amount         *big.Int         `json:"amount"`
	DaysToRepay    uint64           `json:"daysToRepay"`
	InterestPerDay *big.Int         `json:"interestPerDay"`
	IssuedAt       int64            `json:"issuedAt"`
	State          LoanState        `json:"state"`
	Collateral     []CollateralLock `json:"collateral"`
}

// Clone returns a deep copy of the loan.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := &Loan{
		ID:          l.ID,
		Owner:       l.Owner,
		Token:       l.Token,
		DaysToRepay: l.DaysToRepay,
		IssuedAt:    l.IssuedAt,
		State:       l.State,
	}
	if l.Amount != nil {
		clone.Amount = new(big.Int).Set(l.Amount)
	}
	if l.InterestPerDay != nil {
		clone.InterestPerDay = new(big.Int).Set(l.InterestPerDay)
	}
	if len(l.Collateral) > 0 {
		clone.Collateral = make([]CollateralLock, len(l.Collateral))
		for i, lock := range l.Collateral {
			clone.Collateral[i] = lock.Clone()
		}
	}
	return clone
}

// Deadline returns the unix timestamp after which the loan is overdue.
func (l *Loan) Deadline() int64 {
	return l.IssuedAt + int64(l.DaysToRepay)*86400
}

// Position is the per-(token, user) ledger entry.
type Position struct {
	// LockedCollateral is the portion of the user's holdings reserved for
	// their active loan.
	LockedCollateral *big.Int `json:"lockedCollateral"`
	// CryptoScore is the reputation balance earned from repayment profit,
	// usable as collateral and forfeited on recall.
	CryptoScore *big.Int `json:"cryptoScore"`
	// ActiveFundsLent mirrors the outstanding principal the user borrowed in
	// this token. Observability only.
	ActiveFundsLent *big.Int `json:"activeFundsLent"`
}

// EnsureDefaults populates nil amounts so callers can mutate freely.
func (p *Position) EnsureDefaults() {
	if p.LockedCollateral == nil {
		p.LockedCollateral = big.NewInt(0)
	}
	if p.CryptoScore == nil {
		p.CryptoScore = big.NewInt(0)
	}
	if p.ActiveFundsLent == nil {
		p.ActiveFundsLent = big.NewInt(0)
	}
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := &Position{}
	if p.LockedCollateral != nil {
		clone.LockedCollateral = new(big.Int).Set(p.LockedCollateral)
	}
	if p.CryptoScore != nil {
		clone.CryptoScore = new(big.Int).Set(p.CryptoScore)
	}
	if p.ActiveFundsLent != nil {
		clone.ActiveFundsLent = new(big.Int).Set(p.ActiveFundsLent)
	}
	return clone
}

// TokenStats aggregates per-token accounting across all users.
type TokenStats struct {
	// ActiveFundsLent is the outstanding principal currently on loan.
	ActiveFundsLent *big.Int `json:"activeFundsLent"`
	// TotalFundsLent is the cumulative principal ever lent. Never decremented.
	TotalFundsLent *big.Int `json:"totalFundsLent"`
	// LockedCollateral is the sum of all users' reserved collateral.
	LockedCollateral *big.Int `json:"lockedCollateral"`
}

// EnsureDefaults populates nil amounts.
func (s *TokenStats) EnsureDefaults() {
	if s.ActiveFundsLent == nil {
		s.ActiveFundsLent = big.NewInt(0)
	}
	if s.TotalFundsLent == nil {
		s.TotalFundsLent = big.NewInt(0)
	}
	if s.LockedCollateral == nil {
		s.LockedCollateral = big.NewInt(0)
	}
}

// Clone returns a deep copy of the stats.
func (s *TokenStats) Clone() *TokenStats {
	if s == nil {
		return nil
	}
	clone := &TokenStats{}
	if s.ActiveFundsLent != nil {
		clone.ActiveFundsLent = new(big.Int).Set(s.ActiveFundsLent)
	}
	if s.TotalFundsLent != nil {
		clone.TotalFundsLent = new(big.Int).Set(s.TotalFundsLent)
	}
	if s.LockedCollateral != nil {
		clone.LockedCollateral = new(big.Int).Set(s.LockedCollateral)
	}
	return clone
}

// Params groups the governance-controlled protocol parameters. Mutated only
// through the engine's privileged setters, never by loan flow.
type Params struct {
	// CollateralRatio is the minimum percent of USD-valued collateral per
	// USD-valued principal, e.g. 140.
	CollateralRatio uint64
	// InterestPerDay is the 1e18-scaled daily interest rate.
	InterestPerDay *big.Int
	// PenalizationPerDay is added to the daily rate for a borrower whose
	// previous loan was recalled.
	PenalizationPerDay *big.Int
	// MaxLoanDays bounds the requested loan duration.
	MaxLoanDays uint64
	// LockDuration is the minimum liquidity lock, in seconds.
	LockDuration int64
	// RepaidSplit distributes the non-score half of repayment profit.
	RepaidSplit RepaidSplit
	// CalledSplit distributes seized collateral on recall.
	CalledSplit CalledSplit
}

// Clone returns a deep copy of the parameters.
func (p Params) Clone() Params {
	clone := p
	if p.InterestPerDay != nil {
		clone.InterestPerDay = new(big.Int).Set(p.InterestPerDay)
	}
	if p.PenalizationPerDay != nil {
		clone.PenalizationPerDay = new(big.Int).Set(p.PenalizationPerDay)
	}
	return clone
}

// Validate checks internal consistency of the parameter set.
func (p Params) Validate() error {
	if p.CollateralRatio < 100 {
		return ErrInvalidParams
	}
	if p.InterestPerDay == nil || p.InterestPerDay.Sign() < 0 {
		return ErrInvalidParams
	}
	if p.PenalizationPerDay == nil || p.PenalizationPerDay.Sign() < 0 {
		return ErrInvalidParams
	}
	if p.MaxLoanDays == 0 {
		return ErrInvalidParams
	}
	if p.LockDuration < 0 {
		return ErrInvalidParams
	}
	if err := p.RepaidSplit.Validate(); err != nil {
		return err
	}
	return p.CalledSplit.Validate()
}
