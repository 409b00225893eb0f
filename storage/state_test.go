package storage

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ZeusMonkey/cdl-loan/native/lending"
)

var (
	testToken    = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	testBorrower = common.HexToAddress("0x0000000000000000000000000000000000000010")
)

func TestStateStoreLoanRoundTrip(t *testing.T) {
	store := NewStateStore(NewMemDB())

	if loan, err := store.Loan(1); err != nil || loan != nil {
		t.Fatalf("missing loan: got %v, %v", loan, err)
	}
	loan := &lending.Loan{
		ID:             1,
		Owner:          testBorrower,
		Token:          testToken,
		Amount:         big.NewInt(1000),
		DaysToRepay:    10,
		InterestPerDay: big.NewInt(4_000_000_000_000_000),
		IssuedAt:       1_700_000_000,
		State:          lending.LoanStateActive,
		Collateral: []lending.CollateralLock{
			{Token: testToken, FromScore: big.NewInt(100), FromPool: big.NewInt(1300)},
		},
	}
	if err := store.PutLoan(loan); err != nil {
		t.Fatalf("put loan: %v", err)
	}
	got, err := store.Loan(1)
	if err != nil {
		t.Fatalf("get loan: %v", err)
	}
	if got.Owner != loan.Owner || got.State != lending.LoanStateActive || got.Amount.Cmp(loan.Amount) != 0 {
		t.Fatalf("loan mangled: %+v", got)
	}
	if len(got.Collateral) != 1 || got.Collateral[0].FromPool.Cmp(big.NewInt(1300)) != 0 {
		t.Fatalf("collateral mangled: %+v", got.Collateral)
	}
}

func TestStateStoreCounters(t *testing.T) {
	store := NewStateStore(NewMemDB())
	if id, err := store.LastLoanID(); err != nil || id != 0 {
		t.Fatalf("fresh last id: got %d, %v", id, err)
	}
	if err := store.SetLastLoanID(7); err != nil {
		t.Fatalf("set last id: %v", err)
	}
	if id, _ := store.LastLoanID(); id != 7 {
		t.Fatalf("last id: got %d, want 7", id)
	}
	for _, id := range []uint64{1, 2, 3} {
		if err := store.AppendLoanID(id); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	ids, err := store.LoanIDs()
	if err != nil || len(ids) != 3 || ids[2] != 3 {
		t.Fatalf("ids: got %v, %v", ids, err)
	}
}

func TestStateStoreActiveLoanLifecycle(t *testing.T) {
	store := NewStateStore(NewMemDB())
	if _, ok, err := store.ActiveLoanID(testBorrower); err != nil || ok {
		t.Fatalf("fresh active: ok=%v err=%v", ok, err)
	}
	if err := store.SetActiveLoanID(testBorrower, 4); err != nil {
		t.Fatalf("set active: %v", err)
	}
	id, ok, err := store.ActiveLoanID(testBorrower)
	if err != nil || !ok || id != 4 {
		t.Fatalf("active: id=%d ok=%v err=%v", id, ok, err)
	}
	if err := store.ClearActiveLoanID(testBorrower); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := store.ActiveLoanID(testBorrower); ok {
		t.Fatal("active id survived clear")
	}
}

func TestStateStorePositionsAndStats(t *testing.T) {
	store := NewStateStore(NewMemDB())
	position, err := store.Position(testToken, testBorrower)
	if err != nil {
		t.Fatalf("fresh position: %v", err)
	}
	if position.CryptoScore.Sign() != 0 || position.LockedCollateral.Sign() != 0 {
		t.Fatalf("fresh position not zeroed: %+v", position)
	}
	position.CryptoScore = big.NewInt(42)
	if err := store.PutPosition(testToken, testBorrower, position); err != nil {
		t.Fatalf("put position: %v", err)
	}
	got, _ := store.Position(testToken, testBorrower)
	if got.CryptoScore.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("position: got %s", got.CryptoScore)
	}

	stats, err := store.TokenStats(testToken)
	if err != nil {
		t.Fatalf("fresh stats: %v", err)
	}
	stats.TotalFundsLent = big.NewInt(9000)
	if err := store.PutTokenStats(testToken, stats); err != nil {
		t.Fatalf("put stats: %v", err)
	}
	gotStats, _ := store.TokenStats(testToken)
	if gotStats.TotalFundsLent.Cmp(big.NewInt(9000)) != 0 {
		t.Fatalf("stats: got %s", gotStats.TotalFundsLent)
	}
}

func TestStateStoreLastClosedAndPoolSnapshot(t *testing.T) {
	store := NewStateStore(NewMemDB())
	if state, err := store.LastClosedState(testBorrower); err != nil || state != lending.LoanStateUnknown {
		t.Fatalf("fresh last closed: %v, %v", state, err)
	}
	if err := store.SetLastClosedState(testBorrower, lending.LoanStateRecalled); err != nil {
		t.Fatalf("set last closed: %v", err)
	}
	if state, _ := store.LastClosedState(testBorrower); state != lending.LoanStateRecalled {
		t.Fatalf("last closed: got %v", state)
	}

	if snapshot, err := store.LoadPoolSnapshot(testToken); err != nil || snapshot != nil {
		t.Fatalf("missing snapshot: %v, %v", snapshot, err)
	}
	saved := &lending.PoolSnapshot{
		Token:       testToken,
		TotalLocked: big.NewInt(500),
		AmountLocked: map[common.Address]*big.Int{
			testBorrower: big.NewInt(500),
		},
		LockingTime: map[common.Address]int64{
			testBorrower: 1_700_000_100,
		},
	}
	if err := store.SavePoolSnapshot(saved); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	restored, err := store.LoadPoolSnapshot(testToken)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if restored.TotalLocked.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("snapshot total: got %s", restored.TotalLocked)
	}
	if restored.AmountLocked[testBorrower].Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("snapshot lock: got %v", restored.AmountLocked)
	}
	if restored.LockingTime[testBorrower] != 1_700_000_100 {
		t.Fatalf("snapshot time: got %d", restored.LockingTime[testBorrower])
	}
}
