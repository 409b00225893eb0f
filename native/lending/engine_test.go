package lending

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	coretypes "github.com/ZeusMonkey/cdl-loan/core/types"
	"github.com/ZeusMonkey/cdl-loan/native/oracle"
	"github.com/ZeusMonkey/cdl-loan/native/token"
)

var (
	tokenA    = testAddr(0xA0)
	tokenB    = testAddr(0xB0)
	wnative   = testAddr(0xC0)
	poolAddrA = testAddr(0xA1)
	poolAddrB = testAddr(0xB1)
	poolAddrW = testAddr(0xC1)
	reserve   = testAddr(0x01)
	treasury  = testAddr(0x02)
	lender    = testAddr(0x10)
	borrower  = testAddr(0x11)
	recaller  = testAddr(0x12)
)

func testAddr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000_000_000_000))
}

type testEnv struct {
	engine *Engine
	ledger *token.Registry
	feed   *oracle.ManualFeed
	state  *MemoryState
	now    int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		ledger: token.NewRegistry(),
		feed:   oracle.NewManualFeed(),
		state:  NewMemoryState(),
		now:    1_700_000_000,
	}
	if err := env.ledger.Register(tokenA, "TKA", 18); err != nil {
		t.Fatalf("register token A: %v", err)
	}
	if err := env.feed.SetPrice(tokenA, units(1)); err != nil {
		t.Fatalf("price token A: %v", err)
	}
	converter := oracle.NewConverter(env.feed, env.ledger)
	env.engine = NewEngine(env.state, env.ledger, converter, reserve, treasury)
	env.engine.SetNowFunc(env.clock)
	poolA := NewPool(tokenA, poolAddrA, env.ledger, 0)
	poolA.SetNowFunc(env.clock)
	if err := env.engine.RegisterCollateralToken(tokenA, poolA); err != nil {
		t.Fatalf("register pool A: %v", err)
	}
	return env
}

func (env *testEnv) clock() int64 { return env.now }

func (env *testEnv) advanceDays(days int64) { env.now += days * secondsPerDay }

func (env *testEnv) addTokenB(t *testing.T) {
	t.Helper()
	if err := env.ledger.Register(tokenB, "TKB", 18); err != nil {
		t.Fatalf("register token B: %v", err)
	}
	if err := env.feed.SetPrice(tokenB, units(2)); err != nil {
		t.Fatalf("price token B: %v", err)
	}
	poolB := NewPool(tokenB, poolAddrB, env.ledger, 0)
	poolB.SetNowFunc(env.clock)
	if err := env.engine.RegisterCollateralToken(tokenB, poolB); err != nil {
		t.Fatalf("register pool B: %v", err)
	}
}

func (env *testEnv) addNative(t *testing.T) {
	t.Helper()
	if err := env.ledger.RegisterWrappedNative(wnative, "WNAT"); err != nil {
		t.Fatalf("register wrapped native: %v", err)
	}
	if err := env.feed.SetPrice(wnative, units(1)); err != nil {
		t.Fatalf("price wrapped native: %v", err)
	}
	poolW := NewNativePool(wnative, poolAddrW, env.ledger, 0)
	poolW.SetNowFunc(env.clock)
	if err := env.engine.RegisterCollateralToken(wnative, poolW); err != nil {
		t.Fatalf("register native pool: %v", err)
	}
}

func (env *testEnv) mintAndLock(t *testing.T, tokenAddr, depositor common.Address, amount *big.Int) {
	t.Helper()
	pool, err := env.engine.PoolFor(tokenAddr)
	if err != nil {
		t.Fatalf("pool for %s: %v", tokenAddr.Hex(), err)
	}
	if err := env.ledger.Mint(tokenAddr, depositor, amount); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := env.ledger.Approve(tokenAddr, depositor, pool.Address(), amount); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := env.engine.LockLiquidity(tokenAddr, depositor, amount); err != nil {
		t.Fatalf("lock liquidity: %v", err)
	}
}

func (env *testEnv) balance(t *testing.T, tokenAddr, holder common.Address) *big.Int {
	t.Helper()
	balance, err := env.ledger.BalanceOf(tokenAddr, holder)
	if err != nil {
		t.Fatalf("balance of %s: %v", holder.Hex(), err)
	}
	return balance
}

func assertAmount(t *testing.T, got *big.Int, want *big.Int, what string) {
	t.Helper()
	if got.Cmp(want) != 0 {
		t.Fatalf("%s: got %s, want %s", what, got, want)
	}
}

func TestGenerateLoanValidation(t *testing.T) {
	env := newTestEnv(t)
	env.mintAndLock(t, tokenA, lender, units(2000))
	env.mintAndLock(t, tokenA, borrower, units(1400))

	if _, err := env.engine.GenerateLoan(borrower, tokenA, nil, 10); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("nil amount: got %v, want %v", err, ErrZeroAmount)
	}
	if _, err := env.engine.GenerateLoan(borrower, tokenA, big.NewInt(0), 10); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("zero amount: got %v, want %v", err, ErrZeroAmount)
	}
	if _, err := env.engine.GenerateLoan(borrower, tokenA, units(100), 0); !errors.Is(err, ErrZeroDuration) {
		t.Fatalf("zero duration: got %v, want %v", err, ErrZeroDuration)
	}
	if _, err := env.engine.GenerateLoan(borrower, tokenA, units(100), 31); !errors.Is(err, ErrDurationTooLong) {
		t.Fatalf("too long: got %v, want %v", err, ErrDurationTooLong)
	}
	if _, err := env.engine.GenerateLoan(borrower, tokenB, units(100), 10); !errors.Is(err, ErrUnknownCollateralToken) {
		t.Fatalf("unknown token: got %v, want %v", err, ErrUnknownCollateralToken)
	}
	if _, err := env.engine.GenerateLoan(borrower, tokenA, units(10000), 10); !errors.Is(err, ErrInsufficientPoolLiquidity) {
		t.Fatalf("over liquidity: got %v, want %v", err, ErrInsufficientPoolLiquidity)
	}
	// 1400 deposit covers at most 1000 principal at 140%.
	if _, err := env.engine.GenerateLoan(borrower, tokenA, units(1001), 10); !errors.Is(err, ErrInsufficientCollateral) {
		t.Fatalf("under collateralised: got %v, want %v", err, ErrInsufficientCollateral)
	}
	// Rejected attempts must leave no trace.
	if ids, _ := env.state.LoanIDs(); len(ids) != 0 {
		t.Fatalf("expected no issued loans, got %d", len(ids))
	}
	assertAmount(t, env.balance(t, tokenA, borrower), big.NewInt(0), "borrower balance")
}

func TestGenerateLoanReservesCollateral(t *testing.T) {
	env := newTestEnv(t)
	env.mintAndLock(t, tokenA, lender, units(2000))
	env.mintAndLock(t, tokenA, borrower, units(1400))

	loan, err := env.engine.GenerateLoan(borrower, tokenA, units(1000), 10)
	if err != nil {
		t.Fatalf("generate loan: %v", err)
	}
	if loan.ID != 1 {
		t.Fatalf("loan id: got %d, want 1", loan.ID)
	}
	if loan.State != LoanStateActive {
		t.Fatalf("loan state: got %s, want active", loan.State)
	}
	assertAmount(t, loan.InterestPerDay, big.NewInt(4_000_000_000_000_000), "snapshotted rate")
	if len(loan.Collateral) != 1 {
		t.Fatalf("collateral locks: got %d, want 1", len(loan.Collateral))
	}
	assertAmount(t, loan.Collateral[0].FromPool, units(1400), "pool reservation")
	assertAmount(t, loan.Collateral[0].FromScore, big.NewInt(0), "score reservation")

	assertAmount(t, env.balance(t, tokenA, borrower), units(1000), "borrower received principal")
	pool, _ := env.engine.PoolFor(tokenA)
	held, _ := pool.HeldBalance()
	assertAmount(t, held, units(2400), "pool held after draw")
	// Depositor table untouched by the draw.
	assertAmount(t, pool.AmountLocked(borrower), units(1400), "borrower deposit intact")
	assertAmount(t, pool.TotalLocked(), units(3400), "total locked intact")

	position, _ := env.state.Position(tokenA, borrower)
	assertAmount(t, position.LockedCollateral, units(1400), "position reservation")
	stats, _ := env.state.TokenStats(tokenA)
	assertAmount(t, stats.ActiveFundsLent, units(1000), "active funds lent")
	assertAmount(t, stats.TotalFundsLent, units(1000), "total funds lent")

	if _, err := env.engine.GenerateLoan(borrower, tokenA, units(10), 5); !errors.Is(err, ErrBorrowerHasActiveLoan) {
		t.Fatalf("second loan: got %v, want %v", err, ErrBorrowerHasActiveLoan)
	}
}

func TestRepayLoanDistributesProfit(t *testing.T) {
	env := newTestEnv(t)
	env.mintAndLock(t, tokenA, lender, units(2000))
	env.mintAndLock(t, tokenA, borrower, units(1400))

	if _, err := env.engine.GenerateLoan(borrower, tokenA, units(1000), 10); err != nil {
		t.Fatalf("generate loan: %v", err)
	}
	// Full-term interest regardless of early repayment:
	// 1000 * 0.4%/day * 10 days = 40.
	due := units(1040)
	loan, _ := env.engine.ActiveLoan(borrower)
	assertAmount(t, env.engine.AmountToRepay(loan), due, "amount to repay")

	if err := env.ledger.Mint(tokenA, borrower, units(40)); err != nil {
		t.Fatalf("mint interest: %v", err)
	}
	if err := env.ledger.Approve(tokenA, borrower, reserve, due); err != nil {
		t.Fatalf("approve reserve: %v", err)
	}
	env.advanceDays(3)
	repaid, err := env.engine.RepayLoan(borrower)
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if repaid.State != LoanStatePaid {
		t.Fatalf("loan state: got %s, want paid", repaid.State)
	}

	// Profit 40: half (20) backs the crypto score, the rest splits 80/20.
	score, _ := env.engine.CryptoScore(tokenA, borrower)
	assertAmount(t, score, units(20), "crypto score")
	assertAmount(t, env.balance(t, tokenA, reserve), units(20), "reserve backing")
	assertAmount(t, env.balance(t, tokenA, treasury), units(4), "treasury share")
	pool, _ := env.engine.PoolFor(tokenA)
	held, _ := pool.HeldBalance()
	assertAmount(t, held, units(3416), "pool held after repay")

	position, _ := env.state.Position(tokenA, borrower)
	assertAmount(t, position.LockedCollateral, big.NewInt(0), "reservation released")
	stats, _ := env.state.TokenStats(tokenA)
	assertAmount(t, stats.ActiveFundsLent, big.NewInt(0), "active funds lent cleared")
	assertAmount(t, stats.TotalFundsLent, units(1000), "total funds lent sticky")

	if _, err := env.engine.RepayLoan(borrower); !errors.Is(err, ErrNoActiveLoan) {
		t.Fatalf("double repay: got %v, want %v", err, ErrNoActiveLoan)
	}
	// Score now counts as collateral for the next loan.
	collateral, _ := env.engine.UserCollateral(tokenA, borrower)
	assertAmount(t, collateral, units(1420), "collateral base with score")
}

func TestRepayLoanRequiresFunds(t *testing.T) {
	env := newTestEnv(t)
	env.mintAndLock(t, tokenA, lender, units(2000))
	env.mintAndLock(t, tokenA, borrower, units(1400))
	if _, err := env.engine.GenerateLoan(borrower, tokenA, units(1000), 10); err != nil {
		t.Fatalf("generate loan: %v", err)
	}
	if _, err := env.engine.RepayLoan(borrower); !errors.Is(err, token.ErrInsufficientAllowance) {
		t.Fatalf("no allowance: got %v, want %v", err, token.ErrInsufficientAllowance)
	}
	if err := env.ledger.Approve(tokenA, borrower, reserve, units(1040)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := env.engine.RepayLoan(borrower); !errors.Is(err, token.ErrInsufficientBalance) {
		t.Fatalf("short balance: got %v, want %v", err, token.ErrInsufficientBalance)
	}
	// Still active, still reserved.
	if _, err := env.engine.ActiveLoan(borrower); err != nil {
		t.Fatalf("loan should remain active: %v", err)
	}
	position, _ := env.state.Position(tokenA, borrower)
	assertAmount(t, position.LockedCollateral, units(1400), "reservation intact")
}

func TestCallLatePayment(t *testing.T) {
	env := newTestEnv(t)
	env.mintAndLock(t, tokenA, lender, units(2000))
	env.mintAndLock(t, tokenA, borrower, units(1400))
	loan, err := env.engine.GenerateLoan(borrower, tokenA, units(1000), 10)
	if err != nil {
		t.Fatalf("generate loan: %v", err)
	}

	if _, err := env.engine.CallLatePayment(recaller, loan.ID); !errors.Is(err, ErrNotYetOverdue) {
		t.Fatalf("not yet overdue: got %v, want %v", err, ErrNotYetOverdue)
	}
	env.advanceDays(10)
	env.now--
	if _, err := env.engine.CallLatePayment(recaller, loan.ID); !errors.Is(err, ErrNotYetOverdue) {
		t.Fatalf("before deadline: got %v, want %v", err, ErrNotYetOverdue)
	}
	env.now++
	if _, err := env.engine.CallLatePayment(recaller, 99); !errors.Is(err, ErrLoanNotFound) {
		t.Fatalf("unknown loan: got %v, want %v", err, ErrLoanNotFound)
	}
	// Recall is allowed from the deadline itself onward.
	recalled, err := env.engine.CallLatePayment(recaller, loan.ID)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if recalled.State != LoanStateRecalled {
		t.Fatalf("loan state: got %s, want recalled", recalled.State)
	}

	// Seized 1400, split 80/10/10: 1120 pool, 140 treasury, 140 recaller.
	assertAmount(t, env.balance(t, tokenA, treasury), units(140), "treasury share")
	assertAmount(t, env.balance(t, tokenA, recaller), units(140), "recaller share")
	pool, _ := env.engine.PoolFor(tokenA)
	held, _ := pool.HeldBalance()
	assertAmount(t, held, units(2120), "pool held after recall")
	assertAmount(t, pool.AmountLocked(borrower), big.NewInt(0), "borrower deposit seized")
	assertAmount(t, pool.TotalLocked(), units(2000), "total locked shrunk")

	position, _ := env.state.Position(tokenA, borrower)
	assertAmount(t, position.LockedCollateral, big.NewInt(0), "reservation cleared")
	assertAmount(t, position.CryptoScore, big.NewInt(0), "score forfeited")
	stats, _ := env.state.TokenStats(tokenA)
	assertAmount(t, stats.ActiveFundsLent, big.NewInt(0), "active funds lent cleared")

	// Terminal states reject further transitions.
	if _, err := env.engine.CallLatePayment(recaller, loan.ID); !errors.Is(err, ErrLoanNotActive) {
		t.Fatalf("double recall: got %v, want %v", err, ErrLoanNotActive)
	}
	if _, err := env.engine.RepayLoan(borrower); !errors.Is(err, ErrNoActiveLoan) {
		t.Fatalf("repay after recall: got %v, want %v", err, ErrNoActiveLoan)
	}
}

func TestExtractLiquidityGuardsReservedCollateral(t *testing.T) {
	env := newTestEnv(t)
	env.mintAndLock(t, tokenA, lender, units(2000))
	env.mintAndLock(t, tokenA, borrower, units(2000))
	// The deposit lock has long elapsed; only the loan reservation may keep
	// the funds in the pool.
	env.advanceDays(400)
	loan, err := env.engine.GenerateLoan(borrower, tokenA, units(1000), 10)
	if err != nil {
		t.Fatalf("generate loan: %v", err)
	}

	if _, err := env.engine.ExtractLiquidity(tokenA, borrower); !errors.Is(err, ErrCollateralReserved) {
		t.Fatalf("reserved extract: got %v, want %v", err, ErrCollateralReserved)
	}
	pool, _ := env.engine.PoolFor(tokenA)
	assertAmount(t, pool.AmountLocked(borrower), units(2000), "deposit untouched")

	// The blocked extraction must not break the recall path.
	env.advanceDays(11)
	if _, err := env.engine.CallLatePayment(recaller, loan.ID); err != nil {
		t.Fatalf("recall: %v", err)
	}
	// Once the loan closed, the unreserved remainder may leave.
	amount, err := env.engine.ExtractLiquidity(tokenA, borrower)
	if err != nil {
		t.Fatalf("extract after close: %v", err)
	}
	assertAmount(t, amount, units(600), "residual deposit")
}

type snapshotRecorder struct {
	snapshots map[common.Address]*PoolSnapshot
}

func (r *snapshotRecorder) SavePoolSnapshot(snapshot *PoolSnapshot) error {
	if r.snapshots == nil {
		r.snapshots = make(map[common.Address]*PoolSnapshot)
	}
	r.snapshots[snapshot.Token] = snapshot
	return nil
}

func TestPoolSnapshotsPersistedAcrossRestart(t *testing.T) {
	env := newTestEnv(t)
	recorder := &snapshotRecorder{}
	env.engine.SetPoolSaver(recorder)
	env.mintAndLock(t, tokenA, lender, units(2000))
	env.mintAndLock(t, tokenA, borrower, units(1400))

	snapshot := recorder.snapshots[tokenA]
	if snapshot == nil {
		t.Fatal("no snapshot saved after lock")
	}
	assertAmount(t, snapshot.TotalLocked, units(3400), "snapshot total after locks")

	loan, err := env.engine.GenerateLoan(borrower, tokenA, units(1000), 10)
	if err != nil {
		t.Fatalf("generate loan: %v", err)
	}
	env.advanceDays(11)
	if _, err := env.engine.CallLatePayment(recaller, loan.ID); err != nil {
		t.Fatalf("recall: %v", err)
	}
	snapshot = recorder.snapshots[tokenA]
	assertAmount(t, snapshot.TotalLocked, units(2000), "snapshot total after seizure")
	assertAmount(t, snapshot.AmountLocked[lender], units(2000), "lender entry survives")

	// A pool restored from the last snapshot matches the live table.
	restored := NewPool(tokenA, poolAddrA, env.ledger, 0)
	restored.Restore(snapshot)
	live, _ := env.engine.PoolFor(tokenA)
	assertAmount(t, restored.TotalLocked(), live.TotalLocked(), "restored total")
	assertAmount(t, restored.AmountLocked(lender), live.AmountLocked(lender), "restored lender entry")
	assertAmount(t, restored.AmountLocked(borrower), live.AmountLocked(borrower), "restored borrower entry")
}

type droppableFeed struct {
	*oracle.ManualFeed
	dropped map[common.Address]bool
}

func (f *droppableFeed) PriceOf(token common.Address) (*big.Int, uint8, error) {
	if f.dropped[token] {
		return nil, 0, oracle.ErrNoPrice
	}
	return f.ManualFeed.PriceOf(token)
}

func TestRecallEventFlagsMissingPrice(t *testing.T) {
	ledger := token.NewRegistry()
	if err := ledger.Register(tokenA, "TKA", 18); err != nil {
		t.Fatalf("register: %v", err)
	}
	feed := &droppableFeed{ManualFeed: oracle.NewManualFeed(), dropped: make(map[common.Address]bool)}
	if err := feed.SetPrice(tokenA, units(1)); err != nil {
		t.Fatalf("price: %v", err)
	}
	engine := NewEngine(NewMemoryState(), ledger, oracle.NewConverter(feed, ledger), reserve, treasury)
	now := int64(1_700_000_000)
	engine.SetNowFunc(func() int64 { return now })
	pool := NewPool(tokenA, poolAddrA, ledger, 0)
	pool.SetNowFunc(func() int64 { return now })
	if err := engine.RegisterCollateralToken(tokenA, pool); err != nil {
		t.Fatalf("register pool: %v", err)
	}
	sink := &eventSink{}
	engine.SetEmitter(sink)

	for _, deposit := range []struct {
		who    common.Address
		amount *big.Int
	}{
		{lender, units(2000)},
		{borrower, units(1400)},
	} {
		if err := ledger.Mint(tokenA, deposit.who, deposit.amount); err != nil {
			t.Fatalf("mint: %v", err)
		}
		if err := ledger.Approve(tokenA, deposit.who, poolAddrA, deposit.amount); err != nil {
			t.Fatalf("approve: %v", err)
		}
		if err := engine.LockLiquidity(tokenA, deposit.who, deposit.amount); err != nil {
			t.Fatalf("lock: %v", err)
		}
	}
	loan, err := engine.GenerateLoan(borrower, tokenA, units(1000), 10)
	if err != nil {
		t.Fatalf("generate loan: %v", err)
	}

	// The quote disappears before the recall; seizure proceeds but the USD
	// figure on the event is flagged incomplete.
	feed.dropped[tokenA] = true
	now += 11 * secondsPerDay
	if _, err := engine.CallLatePayment(recaller, loan.ID); err != nil {
		t.Fatalf("recall: %v", err)
	}
	last := sink.events[len(sink.events)-1]
	if last.Type != EventTypeLoanRecalled {
		t.Fatalf("last event: got %s, want %s", last.Type, EventTypeLoanRecalled)
	}
	if got := last.Attributes["seizedUsdPartial"]; got != "true" {
		t.Fatalf("partial flag: got %q, want \"true\"", got)
	}
	if got := last.Attributes["seizedUsd"]; got != "0" {
		t.Fatalf("seized usd: got %q, want \"0\"", got)
	}
}

func TestPenalizationAfterRecall(t *testing.T) {
	env := newTestEnv(t)
	env.mintAndLock(t, tokenA, lender, units(4000))
	env.mintAndLock(t, tokenA, borrower, units(1400))
	loan, err := env.engine.GenerateLoan(borrower, tokenA, units(100), 10)
	if err != nil {
		t.Fatalf("generate loan: %v", err)
	}
	env.advanceDays(11)
	if _, err := env.engine.CallLatePayment(recaller, loan.ID); err != nil {
		t.Fatalf("recall: %v", err)
	}

	// Seizure drained only the recorded 140 reservation; 1260 deposit remains.
	env.mintAndLock(t, tokenA, borrower, units(140))
	penalized, err := env.engine.GenerateLoan(borrower, tokenA, units(100), 10)
	if err != nil {
		t.Fatalf("penalized loan: %v", err)
	}
	assertAmount(t, penalized.InterestPerDay, big.NewInt(5_000_000_000_000_000), "penalized rate")
	if penalized.ID != loan.ID+1 {
		t.Fatalf("loan ids not monotonic: %d after %d", penalized.ID, loan.ID)
	}

	// A clean repayment clears the penalty for the loan after.
	due := env.engine.AmountToRepay(penalized)
	short := new(big.Int).Sub(due, env.balance(t, tokenA, borrower))
	if short.Sign() > 0 {
		if err := env.ledger.Mint(tokenA, borrower, short); err != nil {
			t.Fatalf("mint: %v", err)
		}
	}
	if err := env.ledger.Approve(tokenA, borrower, reserve, due); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := env.engine.RepayLoan(borrower); err != nil {
		t.Fatalf("repay: %v", err)
	}
	clean, err := env.engine.GenerateLoan(borrower, tokenA, units(100), 10)
	if err != nil {
		t.Fatalf("clean loan: %v", err)
	}
	assertAmount(t, clean.InterestPerDay, big.NewInt(4_000_000_000_000_000), "base rate restored")
}

func TestCollateralWalkOrderAndScoreFirst(t *testing.T) {
	env := newTestEnv(t)
	env.addTokenB(t)
	env.mintAndLock(t, tokenA, lender, units(5000))

	// Borrower: 50 deposited in A, plus a 100 A crypto score backed by the
	// reserve, plus 2000 deposited in B ($2 each).
	env.mintAndLock(t, tokenA, borrower, units(50))
	env.mintAndLock(t, tokenB, borrower, units(2000))
	if err := env.ledger.Mint(tokenA, reserve, units(100)); err != nil {
		t.Fatalf("mint reserve: %v", err)
	}
	position, _ := env.state.Position(tokenA, borrower)
	position.CryptoScore = units(100)
	if err := env.state.PutPosition(tokenA, borrower, position); err != nil {
		t.Fatalf("seed score: %v", err)
	}

	// 1000 principal at $1 needs 1400 USD of collateral. Token A covers 150
	// (score before deposit), token B covers the remaining 1250 USD = 625 TKB.
	loan, err := env.engine.GenerateLoan(borrower, tokenA, units(1000), 10)
	if err != nil {
		t.Fatalf("generate loan: %v", err)
	}
	if len(loan.Collateral) != 2 {
		t.Fatalf("collateral locks: got %d, want 2", len(loan.Collateral))
	}
	if loan.Collateral[0].Token != tokenA || loan.Collateral[1].Token != tokenB {
		t.Fatalf("walk order broken: %s then %s", loan.Collateral[0].Token.Hex(), loan.Collateral[1].Token.Hex())
	}
	assertAmount(t, loan.Collateral[0].FromScore, units(100), "score consumed first")
	assertAmount(t, loan.Collateral[0].FromPool, units(50), "then the deposit")
	assertAmount(t, loan.Collateral[1].FromScore, big.NewInt(0), "no B score")
	assertAmount(t, loan.Collateral[1].FromPool, units(625), "B deposit tops up")

	usd, err := env.engine.TotalCollateralInUSD(borrower)
	if err != nil {
		t.Fatalf("total collateral usd: %v", err)
	}
	// 150 * $1 + 2000 * $2.
	assertAmount(t, usd, units(4150), "total collateral in usd")
}

func TestNativeLoanRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.addNative(t)
	if err := env.ledger.MintNative(lender, units(3000)); err != nil {
		t.Fatalf("mint native: %v", err)
	}
	if err := env.ledger.MintNative(borrower, units(1500)); err != nil {
		t.Fatalf("mint native: %v", err)
	}
	if err := env.engine.LockLiquidityNative(lender, units(3000)); err != nil {
		t.Fatalf("lock native: %v", err)
	}
	if err := env.engine.LockLiquidityNative(borrower, units(1400)); err != nil {
		t.Fatalf("lock native: %v", err)
	}

	loan, err := env.engine.GenerateLoanNative(borrower, units(1000), 10)
	if err != nil {
		t.Fatalf("generate native loan: %v", err)
	}
	if loan.Token != wnative {
		t.Fatalf("loan token: got %s, want wrapped native", loan.Token.Hex())
	}
	// Principal arrives unwrapped: 100 kept back + 1000 drawn.
	assertAmount(t, env.ledger.NativeBalanceOf(borrower), units(1100), "native principal")

	due := env.engine.AmountToRepay(loan)
	if _, err := env.engine.RepayLoanNative(borrower, units(1)); !errors.Is(err, ErrInsufficientNativeValue) {
		t.Fatalf("short value: got %v, want %v", err, ErrInsufficientNativeValue)
	}
	if _, err := env.engine.RepayLoanNative(borrower, due); err != nil {
		t.Fatalf("repay native: %v", err)
	}
	// 1100 - 1040 due.
	assertAmount(t, env.ledger.NativeBalanceOf(borrower), units(60), "native change")
	score, _ := env.engine.CryptoScore(wnative, borrower)
	assertAmount(t, score, units(20), "native crypto score")
}

func TestRepayLoanNativeRejectsTokenLoan(t *testing.T) {
	env := newTestEnv(t)
	env.addNative(t)
	env.mintAndLock(t, tokenA, lender, units(2000))
	env.mintAndLock(t, tokenA, borrower, units(1400))
	if _, err := env.engine.GenerateLoan(borrower, tokenA, units(100), 10); err != nil {
		t.Fatalf("generate loan: %v", err)
	}
	if _, err := env.engine.RepayLoanNative(borrower, units(200)); !errors.Is(err, ErrLoanNotNative) {
		t.Fatalf("token loan: got %v, want %v", err, ErrLoanNotNative)
	}
}

func TestUSDViews(t *testing.T) {
	env := newTestEnv(t)
	env.addTokenB(t)
	env.mintAndLock(t, tokenA, lender, units(2000))
	env.mintAndLock(t, tokenA, borrower, units(1400))
	if _, err := env.engine.GenerateLoan(borrower, tokenA, units(1000), 10); err != nil {
		t.Fatalf("generate loan: %v", err)
	}

	usd, err := env.engine.USDAmountForToken(tokenB, units(10))
	if err != nil {
		t.Fatalf("usd for token: %v", err)
	}
	assertAmount(t, usd, units(20), "token B at $2")
	if _, err := env.engine.USDAmountForToken(testAddr(0xEE), units(1)); !errors.Is(err, ErrUnknownCollateralToken) {
		t.Fatalf("unknown token: got %v, want %v", err, ErrUnknownCollateralToken)
	}

	lent, err := env.engine.ActiveFundsLentInUSD()
	if err != nil {
		t.Fatalf("active funds lent: %v", err)
	}
	assertAmount(t, lent, units(1000), "outstanding principal in usd")
	userLent, err := env.engine.UserActiveFundsLentInUSD(borrower)
	if err != nil {
		t.Fatalf("user active funds lent: %v", err)
	}
	assertAmount(t, userLent, units(1000), "user principal in usd")
	locked, err := env.engine.TotalLockedCollateralInUSD()
	if err != nil {
		t.Fatalf("locked collateral: %v", err)
	}
	assertAmount(t, locked, units(1400), "reserved collateral in usd")
	userLocked, err := env.engine.UserLockedCollateralInUSD(borrower)
	if err != nil {
		t.Fatalf("user locked collateral: %v", err)
	}
	assertAmount(t, userLocked, units(1400), "user reservation in usd")
}

func TestPauseBlocksLoanFlow(t *testing.T) {
	env := newTestEnv(t)
	env.mintAndLock(t, tokenA, lender, units(2000))
	env.mintAndLock(t, tokenA, borrower, units(1400))
	pauses := pauseSet{moduleName: true}
	env.engine.SetPauses(pauses)
	if _, err := env.engine.GenerateLoan(borrower, tokenA, units(100), 10); err == nil {
		t.Fatal("expected pause to block loan generation")
	}
	delete(pauses, moduleName)
	if _, err := env.engine.GenerateLoan(borrower, tokenA, units(100), 10); err != nil {
		t.Fatalf("unpaused generate: %v", err)
	}
}

type pauseSet map[string]bool

func (p pauseSet) IsPaused(module string) bool { return p[module] }

func TestParamSetters(t *testing.T) {
	env := newTestEnv(t)
	if err := env.engine.SetCollateralRatio(99); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("ratio below 100: got %v, want %v", err, ErrInvalidParams)
	}
	if err := env.engine.SetCollateralRatio(150); err != nil {
		t.Fatalf("set ratio: %v", err)
	}
	if err := env.engine.SetMaxLoanDays(0); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("zero max days: got %v, want %v", err, ErrInvalidParams)
	}
	if err := env.engine.SetInterestPerDay(nil); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("nil rate: got %v, want %v", err, ErrInvalidParams)
	}
	bad := RepaidSplit{LP: Percent(70), Dev: Percent(20)}
	if err := env.engine.SetRepaidSplit(bad); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("split not 100%%: got %v, want %v", err, ErrInvalidParams)
	}
	if err := env.engine.SetRepaidSplit(RepaidSplit{LP: Percent(90), Dev: Percent(10)}); err != nil {
		t.Fatalf("set repaid split: %v", err)
	}
	params := env.engine.Params()
	if params.CollateralRatio != 150 {
		t.Fatalf("ratio not applied: got %d", params.CollateralRatio)
	}
	assertAmount(t, params.RepaidSplit.LP, Percent(90), "lp split")
}

func TestEventsEmitted(t *testing.T) {
	env := newTestEnv(t)
	sink := &eventSink{}
	env.engine.SetEmitter(sink)
	env.mintAndLock(t, tokenA, lender, units(2000))
	env.mintAndLock(t, tokenA, borrower, units(1400))
	loan, err := env.engine.GenerateLoan(borrower, tokenA, units(1000), 10)
	if err != nil {
		t.Fatalf("generate loan: %v", err)
	}
	env.advanceDays(11)
	if _, err := env.engine.CallLatePayment(recaller, loan.ID); err != nil {
		t.Fatalf("recall: %v", err)
	}
	got := sink.types()
	want := []string{
		EventTypePoolLocked, EventTypePoolLocked,
		EventTypeLoanCreated, EventTypeLoanRecalled,
	}
	if len(got) != len(want) {
		t.Fatalf("event count: got %d (%v), want %d", len(got), got, len(want))
	}
	for i, typ := range want {
		if got[i] != typ {
			t.Fatalf("event %d: got %s, want %s", i, got[i], typ)
		}
	}
}

type eventSink struct {
	events []*coretypes.Event
}

func (s *eventSink) Emit(evt *coretypes.Event) {
	s.events = append(s.events, evt)
}

func (s *eventSink) types() []string {
	out := make([]string, len(s.events))
	for i, evt := range s.events {
		out[i] = evt.Type
	}
	return out
}
