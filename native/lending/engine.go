package lending

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ZeusMonkey/cdl-loan/core/types"
	nativecommon "github.com/ZeusMonkey/cdl-loan/native/common"
	"github.com/ZeusMonkey/cdl-loan/native/oracle"
	"github.com/ZeusMonkey/cdl-loan/native/token"
)

const moduleName = "lending"

const secondsPerDay = 86400

// DefaultParams returns the launch parameter set: 140% collateral ratio,
// 0.4%/day interest, 0.1%/day penalization, 30 day maximum term, 365 day
// liquidity lock, repaid profit split 80/20 LP/treasury and seized collateral
// split 80/10/10 LP/treasury/recaller.
func DefaultParams() Params {
	return Params{
		CollateralRatio:    140,
		InterestPerDay:     big.NewInt(4_000_000_000_000_000),
		PenalizationPerDay: big.NewInt(1_000_000_000_000_000),
		MaxLoanDays:        30,
		LockDuration:       365 * secondsPerDay,
		RepaidSplit:        RepaidSplit{LP: Percent(80), Dev: Percent(20)},
		CalledSplit:        CalledSplit{LP: Percent(80), Dev: Percent(10), Recaller: Percent(10)},
	}
}

// Engine is the loan ledger. It owns one liquidity pool per registered
// collateral token, a reserve account that holds repayment intake and the
// crypto score backing, and the per-user positions in State.
//
// Every operation validates fully before mutating: a returned error means no
// balance moved and no record changed.
type Engine struct {
	state     State
	ledger    token.NativeLedger
	converter *oracle.Converter
	params    Params

	reserve  common.Address
	treasury common.Address

	tokens        []common.Address
	pools         map[common.Address]*Pool
	wrappedNative common.Address

	nowFn     func() int64
	pauses    nativecommon.PauseView
	emitter   EventEmitter
	poolSaver PoolSnapshotSaver
}

// NewEngine wires the ledger. reserve is the module account that controls the
// pools and custodies repayment intake; treasury receives the dev shares.
func NewEngine(state State, ledger token.NativeLedger, converter *oracle.Converter, reserve, treasury common.Address) *Engine {
	return &Engine{
		state:     state,
		ledger:    ledger,
		converter: converter,
		params:    DefaultParams(),
		reserve:   reserve,
		treasury:  treasury,
		pools:     make(map[common.Address]*Pool),
		nowFn:     func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the wall clock, for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now != nil {
		e.nowFn = now
	}
}

// SetPauses wires the operator pause switches.
func (e *Engine) SetPauses(pauses nativecommon.PauseView) { e.pauses = pauses }

// SetEmitter wires the event sink. A nil emitter disables events.
func (e *Engine) SetEmitter(emitter EventEmitter) { e.emitter = emitter }

// SetPoolSaver wires the store that persists pool depositor tables. A nil
// saver disables persistence; every operation that changes a table writes a
// fresh snapshot through it.
func (e *Engine) SetPoolSaver(saver PoolSnapshotSaver) { e.poolSaver = saver }

// Params returns a copy of the current parameter set.
func (e *Engine) Params() Params { return e.params.Clone() }

// SetParams replaces the whole parameter set after validation.
func (e *Engine) SetParams(params Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	e.params = params.Clone()
	for _, pool := range e.pools {
		pool.SetLockDuration(params.LockDuration)
	}
	return nil
}

// SetInterestPerDay updates the 1e18-scaled daily rate for future loans.
// Outstanding loans keep the rate snapshotted at issuance.
func (e *Engine) SetInterestPerDay(rate *big.Int) error {
	if rate == nil || rate.Sign() < 0 {
		return ErrInvalidParams
	}
	e.params.InterestPerDay = new(big.Int).Set(rate)
	return nil
}

// SetPenalizationPerDay updates the surcharge applied after a recall.
func (e *Engine) SetPenalizationPerDay(rate *big.Int) error {
	if rate == nil || rate.Sign() < 0 {
		return ErrInvalidParams
	}
	e.params.PenalizationPerDay = new(big.Int).Set(rate)
	return nil
}

// SetCollateralRatio updates the minimum collateral percentage.
func (e *Engine) SetCollateralRatio(ratio uint64) error {
	if ratio < 100 {
		return ErrInvalidParams
	}
	e.params.CollateralRatio = ratio
	return nil
}

// SetMaxLoanDays updates the duration ceiling for future loans.
func (e *Engine) SetMaxLoanDays(days uint64) error {
	if days == 0 {
		return ErrInvalidParams
	}
	e.params.MaxLoanDays = days
	return nil
}

// SetLockDuration updates the liquidity lock for future deposits on every
// registered pool.
func (e *Engine) SetLockDuration(seconds int64) error {
	if seconds < 0 {
		return ErrInvalidParams
	}
	e.params.LockDuration = seconds
	for _, pool := range e.pools {
		pool.SetLockDuration(seconds)
	}
	return nil
}

// SetRepaidSplit updates how the non-score half of repayment profit is
// distributed.
func (e *Engine) SetRepaidSplit(split RepaidSplit) error {
	if err := split.Validate(); err != nil {
		return err
	}
	e.params.RepaidSplit = split.Clone()
	return nil
}

// SetCalledSplit updates how seized collateral is distributed on recall.
func (e *Engine) SetCalledSplit(split CalledSplit) error {
	if err := split.Validate(); err != nil {
		return err
	}
	e.params.CalledSplit = split.Clone()
	return nil
}

// RegisterCollateralToken admits a token with its liquidity pool. Registration
// order is permanent and fixes the collateral walk order for every loan.
func (e *Engine) RegisterCollateralToken(tokenAddr common.Address, pool *Pool) error {
	if pool == nil {
		return ErrInvalidParams
	}
	if _, exists := e.pools[tokenAddr]; exists {
		return ErrDuplicateToken
	}
	pool.SetController(e.reserve)
	pool.SetLockDuration(e.params.LockDuration)
	e.pools[tokenAddr] = pool
	e.tokens = append(e.tokens, tokenAddr)
	if pool.IsNative() {
		e.wrappedNative = tokenAddr
	}
	return nil
}

// Tokens returns the registered collateral tokens in registration order.
func (e *Engine) Tokens() []common.Address {
	return append([]common.Address(nil), e.tokens...)
}

// PoolFor returns the liquidity pool of the given token.
func (e *Engine) PoolFor(tokenAddr common.Address) (*Pool, error) {
	pool, ok := e.pools[tokenAddr]
	if !ok {
		return nil, ErrUnknownCollateralToken
	}
	return pool, nil
}

// WrappedNative returns the wrapped-native token, if a native pool is
// registered.
func (e *Engine) WrappedNative() (common.Address, bool) {
	return e.wrappedNative, e.wrappedNative != (common.Address{})
}

// Reserve returns the module account holding repayment intake and the crypto
// score backing.
func (e *Engine) Reserve() common.Address { return e.reserve }

// Treasury returns the account receiving the dev shares.
func (e *Engine) Treasury() common.Address { return e.treasury }

// LockLiquidity deposits into the token's pool and emits the lock event.
func (e *Engine) LockLiquidity(tokenAddr, depositor common.Address, amount *big.Int) error {
	pool, err := e.PoolFor(tokenAddr)
	if err != nil {
		return err
	}
	if err := pool.Lock(depositor, amount); err != nil {
		return err
	}
	if err := e.savePool(pool); err != nil {
		return err
	}
	e.emit(newPoolLockedEvent(tokenAddr, depositor, amount, pool.LockingTime(depositor)))
	return nil
}

// LockLiquidityNative wraps attached native value into the native pool.
func (e *Engine) LockLiquidityNative(depositor common.Address, amount *big.Int) error {
	wrapped, ok := e.WrappedNative()
	if !ok {
		return token.ErrNoWrappedNative
	}
	pool := e.pools[wrapped]
	if err := pool.LockNative(depositor, amount); err != nil {
		return err
	}
	if err := e.savePool(pool); err != nil {
		return err
	}
	e.emit(newPoolLockedEvent(wrapped, depositor, amount, pool.LockingTime(depositor)))
	return nil
}

// ExtractLiquidity withdraws the depositor's entire unlocked balance. A
// deposit reserved as collateral for an active loan cannot leave the pool
// before that loan closes.
func (e *Engine) ExtractLiquidity(tokenAddr, depositor common.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	pool, err := e.PoolFor(tokenAddr)
	if err != nil {
		return nil, err
	}
	position, err := e.state.Position(tokenAddr, depositor)
	if err != nil {
		return nil, err
	}
	if position.LockedCollateral.Sign() > 0 {
		return nil, ErrCollateralReserved
	}
	amount, err := pool.Extract(depositor)
	if err != nil {
		return nil, err
	}
	if err := e.savePool(pool); err != nil {
		return nil, err
	}
	e.emit(newPoolExtractedEvent(tokenAddr, depositor, amount))
	return amount, nil
}

// GenerateLoan issues a loan of amount in tokenAddr against the borrower's
// combined collateral across all registered tokens. The borrower receives the
// principal immediately; the reserved collateral stays where it is and is
// only recorded against the loan.
func (e *Engine) GenerateLoan(borrower, tokenAddr common.Address, amount *big.Int, daysToRepay uint64) (*Loan, error) {
	return e.generateLoan(borrower, tokenAddr, amount, daysToRepay, false)
}

// GenerateLoanNative issues a native-value loan through the wrapped-native
// pool and pays the borrower in unwrapped native value.
func (e *Engine) GenerateLoanNative(borrower common.Address, amount *big.Int, daysToRepay uint64) (*Loan, error) {
	wrapped, ok := e.WrappedNative()
	if !ok {
		return nil, token.ErrNoWrappedNative
	}
	return e.generateLoan(borrower, wrapped, amount, daysToRepay, true)
}

func (e *Engine) generateLoan(borrower, tokenAddr common.Address, amount *big.Int, daysToRepay uint64, native bool) (*Loan, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if daysToRepay == 0 {
		return nil, ErrZeroDuration
	}
	if daysToRepay > e.params.MaxLoanDays {
		return nil, ErrDurationTooLong
	}
	pool, err := e.PoolFor(tokenAddr)
	if err != nil {
		return nil, err
	}
	if _, ok, err := e.state.ActiveLoanID(borrower); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrBorrowerHasActiveLoan
	}
	held, err := pool.HeldBalance()
	if err != nil {
		return nil, err
	}
	if held.Cmp(amount) < 0 {
		return nil, ErrInsufficientPoolLiquidity
	}

	rate, err := e.rateFor(borrower)
	if err != nil {
		return nil, err
	}
	requiredUSD, err := e.requiredCollateralUSD(tokenAddr, amount)
	if err != nil {
		return nil, err
	}
	locks, err := e.reserveCollateral(borrower, requiredUSD)
	if err != nil {
		return nil, err
	}

	// All checks passed. Move the principal, then persist.
	if err := pool.DrawForLoan(e.reserve, amount, borrower); err != nil {
		return nil, err
	}
	if native {
		if err := e.ledger.Unwrap(borrower, amount); err != nil {
			return nil, err
		}
	}

	lastID, err := e.state.LastLoanID()
	if err != nil {
		return nil, err
	}
	loan := &Loan{
		ID:             lastID + 1,
		Owner:          borrower,
		Token:          tokenAddr,
		Amount:         new(big.Int).Set(amount),
		DaysToRepay:    daysToRepay,
		InterestPerDay: rate,
		IssuedAt:       e.nowFn(),
		State:          LoanStateActive,
		Collateral:     locks,
	}
	if err := e.state.SetLastLoanID(loan.ID); err != nil {
		return nil, err
	}
	if err := e.state.AppendLoanID(loan.ID); err != nil {
		return nil, err
	}
	if err := e.state.PutLoan(loan); err != nil {
		return nil, err
	}
	if err := e.state.SetActiveLoanID(borrower, loan.ID); err != nil {
		return nil, err
	}

	for _, lock := range locks {
		if err := e.adjustReservation(lock.Token, borrower, lock.Amount(), true); err != nil {
			return nil, err
		}
	}
	if err := e.recordLentOut(tokenAddr, borrower, amount); err != nil {
		return nil, err
	}

	e.emit(newLoanCreatedEvent(loan))
	return loan.Clone(), nil
}

// rateFor returns the daily rate for the borrower's next loan: the base rate,
// plus the penalization when their previous loan ended recalled.
func (e *Engine) rateFor(borrower common.Address) (*big.Int, error) {
	last, err := e.state.LastClosedState(borrower)
	if err != nil {
		return nil, err
	}
	rate := new(big.Int).Set(e.params.InterestPerDay)
	if last == LoanStateRecalled {
		rate.Add(rate, e.params.PenalizationPerDay)
	}
	return rate, nil
}

// requiredCollateralUSD values the principal in USD and scales it by the
// collateral ratio, rounding up against the borrower.
func (e *Engine) requiredCollateralUSD(tokenAddr common.Address, amount *big.Int) (*big.Int, error) {
	principalUSD, err := e.converter.USDValue(tokenAddr, amount)
	if err != nil {
		return nil, err
	}
	required := new(big.Int).Mul(principalUSD, new(big.Int).SetUint64(e.params.CollateralRatio))
	required.Add(required, big.NewInt(99))
	return required.Quo(required, big.NewInt(100)), nil
}

// reserveCollateral walks the registered tokens in registration order and
// assembles locks covering requiredUSD, consuming each token's crypto score
// before its pool deposit. No state is mutated; the returned locks are what
// the caller records on the loan.
func (e *Engine) reserveCollateral(borrower common.Address, requiredUSD *big.Int) ([]CollateralLock, error) {
	remaining := new(big.Int).Set(requiredUSD)
	var locks []CollateralLock
	for _, t := range e.tokens {
		if remaining.Sign() == 0 {
			break
		}
		position, err := e.state.Position(t, borrower)
		if err != nil {
			return nil, err
		}
		freeScore := new(big.Int).Set(position.CryptoScore)
		freePool := e.pools[t].AmountLocked(borrower)
		free := new(big.Int).Add(freeScore, freePool)
		if free.Sign() == 0 {
			continue
		}
		need, err := e.converter.TokenAmountCeil(t, remaining)
		if err != nil {
			return nil, err
		}
		take := need
		if free.Cmp(need) < 0 {
			take = free
		}
		fromScore := new(big.Int).Set(freeScore)
		if fromScore.Cmp(take) > 0 {
			fromScore.Set(take)
		}
		fromPool := new(big.Int).Sub(take, fromScore)
		locks = append(locks, CollateralLock{Token: t, FromScore: fromScore, FromPool: fromPool})
		if take.Cmp(need) == 0 {
			remaining.SetInt64(0)
			break
		}
		covered, err := e.converter.USDValue(t, take)
		if err != nil {
			return nil, err
		}
		remaining.Sub(remaining, covered)
		if remaining.Sign() < 0 {
			remaining.SetInt64(0)
		}
	}
	if remaining.Sign() > 0 {
		return nil, ErrInsufficientCollateral
	}
	return locks, nil
}

// AmountToRepay returns the full amount due on the loan: principal plus the
// full-term interest snapshotted at issuance. Early repayment does not reduce
// it.
func (e *Engine) AmountToRepay(loan *Loan) *big.Int {
	if loan == nil || loan.Amount == nil {
		return big.NewInt(0)
	}
	interest := new(big.Int).Set(loan.InterestPerDay)
	interest.Mul(interest, new(big.Int).SetUint64(loan.DaysToRepay))
	interest.Mul(interest, loan.Amount)
	interest.Quo(interest, onePercentScale)
	return interest.Add(interest, loan.Amount)
}

// RepayLoan settles the borrower's active loan. The borrower must have
// approved the reserve for the full amount due beforehand. Half of the profit
// becomes crypto score, the rest is split between the pool and the treasury,
// and every collateral reservation is released.
func (e *Engine) RepayLoan(borrower common.Address) (*Loan, error) {
	loan, due, err := e.repayable(borrower)
	if err != nil {
		return nil, err
	}
	allowance, err := e.ledger.Allowance(loan.Token, borrower, e.reserve)
	if err != nil {
		return nil, err
	}
	if allowance.Cmp(due) < 0 {
		return nil, token.ErrInsufficientAllowance
	}
	balance, err := e.ledger.BalanceOf(loan.Token, borrower)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(due) < 0 {
		return nil, token.ErrInsufficientBalance
	}
	if err := e.ledger.TransferFrom(loan.Token, e.reserve, borrower, e.reserve, due); err != nil {
		return nil, err
	}
	return e.settleRepayment(loan, due)
}

// RepayLoanNative settles a native-denominated loan with attached native
// value. Excess value above the amount due stays with the borrower.
func (e *Engine) RepayLoanNative(borrower common.Address, value *big.Int) (*Loan, error) {
	loan, due, err := e.repayable(borrower)
	if err != nil {
		return nil, err
	}
	wrapped, ok := e.WrappedNative()
	if !ok || loan.Token != wrapped {
		return nil, ErrLoanNotNative
	}
	if value == nil || value.Cmp(due) < 0 {
		return nil, ErrInsufficientNativeValue
	}
	if err := e.ledger.Wrap(borrower, due); err != nil {
		return nil, err
	}
	if err := e.ledger.Transfer(loan.Token, borrower, e.reserve, due); err != nil {
		return nil, err
	}
	return e.settleRepayment(loan, due)
}

func (e *Engine) repayable(borrower common.Address) (*Loan, *big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	id, ok, err := e.state.ActiveLoanID(borrower)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrNoActiveLoan
	}
	loan, err := e.state.Loan(id)
	if err != nil {
		return nil, nil, err
	}
	if loan == nil {
		return nil, nil, ErrLoanNotFound
	}
	if loan.State != LoanStateActive {
		return nil, nil, ErrLoanNotActive
	}
	return loan, e.AmountToRepay(loan), nil
}

// settleRepayment distributes an amount already sitting in the reserve and
// closes the loan.
func (e *Engine) settleRepayment(loan *Loan, due *big.Int) (*Loan, error) {
	pool := e.pools[loan.Token]
	profit := new(big.Int).Sub(due, loan.Amount)
	scoreShare := new(big.Int).Quo(profit, big.NewInt(2))
	rest := new(big.Int).Sub(profit, scoreShare)
	lpReward, devReward := e.params.RepaidSplit.Apply(rest)

	// Principal and the LP reward return to the pool; the treasury takes the
	// dev share; the score share and split dust stay in the reserve backing
	// the borrower's crypto score.
	poolReturn := new(big.Int).Add(loan.Amount, lpReward)
	if err := pool.ReturnRepayment(e.reserve, poolReturn, e.reserve); err != nil {
		return nil, err
	}
	if devReward.Sign() > 0 {
		if err := e.ledger.Transfer(loan.Token, e.reserve, e.treasury, devReward); err != nil {
			return nil, err
		}
	}

	position, err := e.state.Position(loan.Token, loan.Owner)
	if err != nil {
		return nil, err
	}
	position.CryptoScore.Add(position.CryptoScore, scoreShare)
	if err := e.state.PutPosition(loan.Token, loan.Owner, position); err != nil {
		return nil, err
	}

	for _, lock := range loan.Collateral {
		if err := e.adjustReservation(lock.Token, loan.Owner, lock.Amount(), false); err != nil {
			return nil, err
		}
	}
	if err := e.recordReturned(loan.Token, loan.Owner, loan.Amount); err != nil {
		return nil, err
	}

	loan.State = LoanStatePaid
	if err := e.state.PutLoan(loan); err != nil {
		return nil, err
	}
	if err := e.state.ClearActiveLoanID(loan.Owner); err != nil {
		return nil, err
	}
	if err := e.state.SetLastClosedState(loan.Owner, LoanStatePaid); err != nil {
		return nil, err
	}

	e.emit(newLoanRepaidEvent(loan, due, scoreShare))
	return loan.Clone(), nil
}

// CallLatePayment recalls an overdue loan. Anyone may call it. The recorded
// collateral reservations are seized at their recorded amounts: per token the
// seizure is split between the pool, the treasury and the recaller, the
// borrower's crypto score is forfeited across all tokens, and their next loan
// is penalized.
func (e *Engine) CallLatePayment(recaller common.Address, loanID uint64) (*Loan, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	loan, err := e.state.Loan(loanID)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, ErrLoanNotFound
	}
	if loan.State != LoanStateActive {
		return nil, ErrLoanNotActive
	}
	if e.nowFn() < loan.Deadline() {
		return nil, ErrNotYetOverdue
	}

	// Verify every seizure is payable before moving anything.
	for _, lock := range loan.Collateral {
		pool, ok := e.pools[lock.Token]
		if !ok {
			return nil, ErrUnknownCollateralToken
		}
		if lock.FromPool != nil && lock.FromPool.Sign() > 0 {
			if pool.AmountLocked(loan.Owner).Cmp(lock.FromPool) < 0 {
				return nil, ErrPoolInsufficientLocked
			}
			held, err := pool.HeldBalance()
			if err != nil {
				return nil, err
			}
			if held.Cmp(lock.FromPool) < 0 {
				return nil, ErrPoolInsufficientBalance
			}
		}
	}

	seizedUSD := big.NewInt(0)
	seizedUSDPartial := false
	for _, lock := range loan.Collateral {
		pool := e.pools[lock.Token]
		if lock.FromPool != nil && lock.FromPool.Sign() > 0 {
			if err := pool.TakeRepayment(e.reserve, lock.FromPool, loan.Owner); err != nil {
				return nil, err
			}
		}
		seized := lock.Amount()
		lpShare, devShare, recallerShare, remainder := e.params.CalledSplit.Apply(seized)
		lpShare.Add(lpShare, remainder)
		if lpShare.Sign() > 0 {
			if err := pool.ReturnRepayment(e.reserve, lpShare, e.reserve); err != nil {
				return nil, err
			}
		}
		if devShare.Sign() > 0 {
			if err := e.ledger.Transfer(lock.Token, e.reserve, e.treasury, devShare); err != nil {
				return nil, err
			}
		}
		if recallerShare.Sign() > 0 {
			if err := e.ledger.Transfer(lock.Token, e.reserve, recaller, recallerShare); err != nil {
				return nil, err
			}
		}
		if err := e.adjustReservation(lock.Token, loan.Owner, seized, false); err != nil {
			return nil, err
		}
		if err := e.savePool(pool); err != nil {
			return nil, err
		}
		usd, err := e.converter.USDValue(lock.Token, seized)
		if err != nil {
			seizedUSDPartial = true
		} else {
			seizedUSD.Add(seizedUSD, usd)
		}
	}

	// Forfeit the crypto score everywhere, not only on the seized tokens.
	for _, t := range e.tokens {
		position, err := e.state.Position(t, loan.Owner)
		if err != nil {
			return nil, err
		}
		if position.CryptoScore.Sign() == 0 {
			continue
		}
		position.CryptoScore.SetInt64(0)
		if err := e.state.PutPosition(t, loan.Owner, position); err != nil {
			return nil, err
		}
	}

	if err := e.recordReturned(loan.Token, loan.Owner, loan.Amount); err != nil {
		return nil, err
	}

	loan.State = LoanStateRecalled
	if err := e.state.PutLoan(loan); err != nil {
		return nil, err
	}
	if err := e.state.ClearActiveLoanID(loan.Owner); err != nil {
		return nil, err
	}
	if err := e.state.SetLastClosedState(loan.Owner, LoanStateRecalled); err != nil {
		return nil, err
	}

	e.emit(newLoanRecalledEvent(loan, recaller, seizedUSD, seizedUSDPartial))
	return loan.Clone(), nil
}

// savePool persists the pool's depositor table through the configured saver.
func (e *Engine) savePool(pool *Pool) error {
	if e.poolSaver == nil {
		return nil
	}
	return e.poolSaver.SavePoolSnapshot(pool.Snapshot())
}

// adjustReservation moves a token's reservation accounting up (issuance) or
// down (release or seizure) for both the position and the token aggregates.
func (e *Engine) adjustReservation(tokenAddr, user common.Address, amount *big.Int, up bool) error {
	position, err := e.state.Position(tokenAddr, user)
	if err != nil {
		return err
	}
	stats, err := e.state.TokenStats(tokenAddr)
	if err != nil {
		return err
	}
	if up {
		position.LockedCollateral.Add(position.LockedCollateral, amount)
		stats.LockedCollateral.Add(stats.LockedCollateral, amount)
	} else {
		position.LockedCollateral.Sub(position.LockedCollateral, amount)
		stats.LockedCollateral.Sub(stats.LockedCollateral, amount)
	}
	if err := e.state.PutPosition(tokenAddr, user, position); err != nil {
		return err
	}
	return e.state.PutTokenStats(tokenAddr, stats)
}

func (e *Engine) recordLentOut(tokenAddr, borrower common.Address, amount *big.Int) error {
	position, err := e.state.Position(tokenAddr, borrower)
	if err != nil {
		return err
	}
	stats, err := e.state.TokenStats(tokenAddr)
	if err != nil {
		return err
	}
	position.ActiveFundsLent.Add(position.ActiveFundsLent, amount)
	stats.ActiveFundsLent.Add(stats.ActiveFundsLent, amount)
	stats.TotalFundsLent.Add(stats.TotalFundsLent, amount)
	if err := e.state.PutPosition(tokenAddr, borrower, position); err != nil {
		return err
	}
	return e.state.PutTokenStats(tokenAddr, stats)
}

func (e *Engine) recordReturned(tokenAddr, borrower common.Address, amount *big.Int) error {
	position, err := e.state.Position(tokenAddr, borrower)
	if err != nil {
		return err
	}
	stats, err := e.state.TokenStats(tokenAddr)
	if err != nil {
		return err
	}
	position.ActiveFundsLent.Sub(position.ActiveFundsLent, amount)
	stats.ActiveFundsLent.Sub(stats.ActiveFundsLent, amount)
	if err := e.state.PutPosition(tokenAddr, borrower, position); err != nil {
		return err
	}
	return e.state.PutTokenStats(tokenAddr, stats)
}

// Loan returns a copy of the loan record.
func (e *Engine) Loan(id uint64) (*Loan, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	loan, err := e.state.Loan(id)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, ErrLoanNotFound
	}
	return loan, nil
}

// LoanIDs returns every issued loan id in issuance order.
func (e *Engine) LoanIDs() ([]uint64, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.state.LoanIDs()
}

// ActiveLoan returns the borrower's active loan, if any.
func (e *Engine) ActiveLoan(borrower common.Address) (*Loan, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	id, ok, err := e.state.ActiveLoanID(borrower)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoActiveLoan
	}
	return e.Loan(id)
}

// CryptoScore returns the borrower's reputation balance in the given token.
func (e *Engine) CryptoScore(tokenAddr, user common.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	position, err := e.state.Position(tokenAddr, user)
	if err != nil {
		return nil, err
	}
	return position.CryptoScore, nil
}

// UserCollateral returns the user's collateral base in one token: their pool
// deposit plus their crypto score.
func (e *Engine) UserCollateral(tokenAddr, user common.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	pool, err := e.PoolFor(tokenAddr)
	if err != nil {
		return nil, err
	}
	position, err := e.state.Position(tokenAddr, user)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Add(pool.AmountLocked(user), position.CryptoScore), nil
}

// USDAmountForToken values a token amount in 18-decimal USD.
func (e *Engine) USDAmountForToken(tokenAddr common.Address, amount *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if _, ok := e.pools[tokenAddr]; !ok {
		return nil, ErrUnknownCollateralToken
	}
	return e.converter.USDValue(tokenAddr, amount)
}

// TotalCollateralInUSD values the user's collateral base across all
// registered tokens.
func (e *Engine) TotalCollateralInUSD(user common.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	for _, t := range e.tokens {
		collateral, err := e.UserCollateral(t, user)
		if err != nil {
			return nil, err
		}
		if collateral.Sign() == 0 {
			continue
		}
		usd, err := e.converter.USDValue(t, collateral)
		if err != nil {
			return nil, err
		}
		total.Add(total, usd)
	}
	return total, nil
}

// UserActiveFundsLentInUSD values the user's outstanding borrowed principal.
func (e *Engine) UserActiveFundsLentInUSD(user common.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	for _, t := range e.tokens {
		position, err := e.state.Position(t, user)
		if err != nil {
			return nil, err
		}
		if position.ActiveFundsLent.Sign() == 0 {
			continue
		}
		usd, err := e.converter.USDValue(t, position.ActiveFundsLent)
		if err != nil {
			return nil, err
		}
		total.Add(total, usd)
	}
	return total, nil
}

// ActiveFundsLentInUSD values the outstanding principal across all borrowers.
func (e *Engine) ActiveFundsLentInUSD() (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	for _, t := range e.tokens {
		stats, err := e.state.TokenStats(t)
		if err != nil {
			return nil, err
		}
		if stats.ActiveFundsLent.Sign() == 0 {
			continue
		}
		usd, err := e.converter.USDValue(t, stats.ActiveFundsLent)
		if err != nil {
			return nil, err
		}
		total.Add(total, usd)
	}
	return total, nil
}

// TotalLockedCollateralInUSD values every outstanding collateral reservation.
func (e *Engine) TotalLockedCollateralInUSD() (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	for _, t := range e.tokens {
		stats, err := e.state.TokenStats(t)
		if err != nil {
			return nil, err
		}
		if stats.LockedCollateral.Sign() == 0 {
			continue
		}
		usd, err := e.converter.USDValue(t, stats.LockedCollateral)
		if err != nil {
			return nil, err
		}
		total.Add(total, usd)
	}
	return total, nil
}

// UserLockedCollateralInUSD values the user's outstanding reservations.
func (e *Engine) UserLockedCollateralInUSD(user common.Address) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	for _, t := range e.tokens {
		position, err := e.state.Position(t, user)
		if err != nil {
			return nil, err
		}
		if position.LockedCollateral.Sign() == 0 {
			continue
		}
		usd, err := e.converter.USDValue(t, position.LockedCollateral)
		if err != nil {
			return nil, err
		}
		total.Add(total, usd)
	}
	return total, nil
}

func (e *Engine) ready() error {
	if e.state == nil {
		return ErrNilState
	}
	if e.ledger == nil {
		return ErrNilLedger
	}
	if e.converter == nil {
		return ErrNilConverter
	}
	return nil
}

func (e *Engine) emit(evt *types.Event) {
	if e.emitter != nil {
		e.emitter.Emit(evt)
	}
}
