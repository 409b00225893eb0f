package lending

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "github.com/ZeusMonkey/cdl-loan/native/common"
	"github.com/ZeusMonkey/cdl-loan/native/token"
)

const poolModuleName = "liquidity"

// Pool is the per-token liquidity reserve. Depositors lock value for a
// minimum duration; the registered controller (the loan ledger) draws loan
// principal out and returns repayments. Per-depositor entries are the pool's
// internal liability accounting, not 1:1 claims on specific funds.
type Pool struct {
	token        common.Address
	addr         common.Address
	ledger       token.Ledger
	controller   common.Address
	lockDuration int64
	native       bool

	totalLocked  *big.Int
	amountLocked map[common.Address]*big.Int
	lockingTime  map[common.Address]int64

	nowFn  func() int64
	pauses nativecommon.PauseView
}

// NewPool constructs a pool for the given token. addr is the pool's holding
// account in the token ledger; lockDuration is the minimum lock in seconds.
func NewPool(tokenAddr, addr common.Address, ledger token.Ledger, lockDuration int64) *Pool {
	return &Pool{
		token:        tokenAddr,
		addr:         addr,
		ledger:       ledger,
		lockDuration: lockDuration,
		totalLocked:  big.NewInt(0),
		amountLocked: make(map[common.Address]*big.Int),
		lockingTime:  make(map[common.Address]int64),
		nowFn:        func() int64 { return time.Now().Unix() },
	}
}

// NewNativePool constructs the pool whose token wraps the chain-native value.
func NewNativePool(wrapped, addr common.Address, ledger token.NativeLedger, lockDuration int64) *Pool {
	pool := NewPool(wrapped, addr, ledger, lockDuration)
	pool.native = true
	return pool
}

// SetController registers the single address allowed to call DrawForLoan,
// ReturnRepayment and TakeRepayment.
func (p *Pool) SetController(controller common.Address) {
	p.controller = controller
}

// Controller returns the registered controller address.
func (p *Pool) Controller() common.Address { return p.controller }

// SetNowFunc overrides the wall clock, for tests.
func (p *Pool) SetNowFunc(now func() int64) {
	if now != nil {
		p.nowFn = now
	}
}

// SetPauses wires the operator pause switches.
func (p *Pool) SetPauses(pauses nativecommon.PauseView) { p.pauses = pauses }

// SetLockDuration updates the minimum lock applied to future deposits.
func (p *Pool) SetLockDuration(seconds int64) { p.lockDuration = seconds }

// Token returns the pool's denomination.
func (p *Pool) Token() common.Address { return p.token }

// Address returns the pool's holding account.
func (p *Pool) Address() common.Address { return p.addr }

// IsNative reports whether this pool wraps the chain-native value.
func (p *Pool) IsNative() bool { return p.native }

// TotalLocked returns a copy of the aggregate locked amount.
func (p *Pool) TotalLocked() *big.Int { return new(big.Int).Set(p.totalLocked) }

// AmountLocked returns a copy of the depositor's locked amount.
func (p *Pool) AmountLocked(depositor common.Address) *big.Int {
	if locked, ok := p.amountLocked[depositor]; ok {
		return new(big.Int).Set(locked)
	}
	return big.NewInt(0)
}

// LockingTime returns the timestamp after which the depositor may extract.
func (p *Pool) LockingTime(depositor common.Address) int64 {
	return p.lockingTime[depositor]
}

// HeldBalance returns the pool's actual token balance: deposits minus funds
// currently lent out.
func (p *Pool) HeldBalance() (*big.Int, error) {
	return p.ledger.BalanceOf(p.token, p.addr)
}

// Lock transfers amount from the depositor into the pool and starts the lock
// clock. The depositor must have approved the pool beforehand.
func (p *Pool) Lock(depositor common.Address, amount *big.Int) error {
	if err := nativecommon.Guard(p.pauses, poolModuleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrPoolInvalidAmount
	}
	allowance, err := p.ledger.Allowance(p.token, depositor, p.addr)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return ErrPoolInsufficientAllowance
	}
	if err := p.ledger.TransferFrom(p.token, p.addr, depositor, p.addr, amount); err != nil {
		return err
	}
	p.credit(depositor, amount)
	return nil
}

// LockNative wraps attached native value and locks it. Only valid on the
// native pool.
func (p *Pool) LockNative(depositor common.Address, amount *big.Int) error {
	if err := nativecommon.Guard(p.pauses, poolModuleName); err != nil {
		return err
	}
	if !p.native {
		return ErrPoolNotNative
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrPoolInvalidAmount
	}
	native, ok := p.ledger.(token.NativeLedger)
	if !ok {
		return ErrPoolNotNative
	}
	if err := native.Wrap(depositor, amount); err != nil {
		return err
	}
	if err := p.ledger.Transfer(p.token, depositor, p.addr, amount); err != nil {
		return err
	}
	p.credit(depositor, amount)
	return nil
}

// Extract withdraws the depositor's entire locked balance once the lock
// duration has elapsed. The native pool pays out unwrapped value.
func (p *Pool) Extract(depositor common.Address) (*big.Int, error) {
	if err := nativecommon.Guard(p.pauses, poolModuleName); err != nil {
		return nil, err
	}
	locked := p.amountLocked[depositor]
	if locked == nil || locked.Sign() == 0 {
		return nil, ErrPoolNothingLocked
	}
	if p.nowFn() < p.lockingTime[depositor] {
		return nil, ErrPoolStillLocked
	}
	held, err := p.HeldBalance()
	if err != nil {
		return nil, err
	}
	if held.Cmp(locked) < 0 {
		return nil, ErrPoolInsufficientBalance
	}
	amount := new(big.Int).Set(locked)
	if err := p.ledger.Transfer(p.token, p.addr, depositor, amount); err != nil {
		return nil, err
	}
	if p.native {
		if native, ok := p.ledger.(token.NativeLedger); ok {
			if err := native.Unwrap(depositor, amount); err != nil {
				return nil, err
			}
		}
	}
	p.totalLocked = new(big.Int).Sub(p.totalLocked, amount)
	delete(p.amountLocked, depositor)
	delete(p.lockingTime, depositor)
	return amount, nil
}

// DrawForLoan moves loan principal out of the pool to the borrower. The
// per-depositor table is untouched: the pool's aggregate balance shrinks, its
// liabilities do not.
func (p *Pool) DrawForLoan(caller common.Address, amount *big.Int, borrower common.Address) error {
	if err := p.authorize(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrPoolInvalidAmount
	}
	held, err := p.HeldBalance()
	if err != nil {
		return err
	}
	if held.Cmp(amount) < 0 {
		return ErrPoolInsufficientBalance
	}
	return p.ledger.Transfer(p.token, p.addr, borrower, amount)
}

// ReturnRepayment moves repaid value from the payer back into the pool.
func (p *Pool) ReturnRepayment(caller common.Address, amount *big.Int, payer common.Address) error {
	if err := p.authorize(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrPoolInvalidAmount
	}
	return p.ledger.Transfer(p.token, payer, p.addr, amount)
}

// TakeRepayment drains value from a depositor's lock to the controller. Used
// during recall to seize the pool-backed portion of reserved collateral; the
// depositor's entry and the aggregate both shrink.
func (p *Pool) TakeRepayment(caller common.Address, amount *big.Int, depositor common.Address) error {
	if err := p.authorize(caller); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrPoolInvalidAmount
	}
	locked := p.amountLocked[depositor]
	if locked == nil || locked.Cmp(amount) < 0 {
		return ErrPoolInsufficientLocked
	}
	held, err := p.HeldBalance()
	if err != nil {
		return err
	}
	if held.Cmp(amount) < 0 {
		return ErrPoolInsufficientBalance
	}
	if err := p.ledger.Transfer(p.token, p.addr, p.controller, amount); err != nil {
		return err
	}
	p.amountLocked[depositor] = new(big.Int).Sub(locked, amount)
	p.totalLocked = new(big.Int).Sub(p.totalLocked, amount)
	return nil
}

func (p *Pool) authorize(caller common.Address) error {
	if caller != p.controller || caller == (common.Address{}) {
		return ErrPoolAuthorityMismatch
	}
	return nil
}

func (p *Pool) credit(depositor common.Address, amount *big.Int) {
	p.amountLocked[depositor] = add(p.amountLocked[depositor], amount)
	p.lockingTime[depositor] = p.nowFn() + p.lockDuration
	p.totalLocked = new(big.Int).Add(p.totalLocked, amount)
}

func add(existing, amount *big.Int) *big.Int {
	if existing == nil {
		return new(big.Int).Set(amount)
	}
	return new(big.Int).Add(existing, amount)
}

// PoolSnapshotSaver persists pool depositor tables so they survive restarts
// alongside the loan records.
type PoolSnapshotSaver interface {
	SavePoolSnapshot(snapshot *PoolSnapshot) error
}

// PoolSnapshot is the serialisable form of a pool's depositor table, used by
// the persistent state store.
type PoolSnapshot struct {
	Token        common.Address              `json:"token"`
	TotalLocked  *big.Int                    `json:"totalLocked"`
	AmountLocked map[common.Address]*big.Int `json:"amountLocked"`
	LockingTime  map[common.Address]int64    `json:"lockingTime"`
}

// Snapshot captures the pool's depositor table.
func (p *Pool) Snapshot() *PoolSnapshot {
	snapshot := &PoolSnapshot{
		Token:        p.token,
		TotalLocked:  new(big.Int).Set(p.totalLocked),
		AmountLocked: make(map[common.Address]*big.Int, len(p.amountLocked)),
		LockingTime:  make(map[common.Address]int64, len(p.lockingTime)),
	}
	for depositor, locked := range p.amountLocked {
		snapshot.AmountLocked[depositor] = new(big.Int).Set(locked)
	}
	for depositor, at := range p.lockingTime {
		snapshot.LockingTime[depositor] = at
	}
	return snapshot
}

// Restore replaces the pool's depositor table with the snapshot contents.
func (p *Pool) Restore(snapshot *PoolSnapshot) {
	if snapshot == nil {
		return
	}
	p.totalLocked = big.NewInt(0)
	if snapshot.TotalLocked != nil {
		p.totalLocked = new(big.Int).Set(snapshot.TotalLocked)
	}
	p.amountLocked = make(map[common.Address]*big.Int, len(snapshot.AmountLocked))
	for depositor, locked := range snapshot.AmountLocked {
		if locked != nil {
			p.amountLocked[depositor] = new(big.Int).Set(locked)
		}
	}
	p.lockingTime = make(map[common.Address]int64, len(snapshot.LockingTime))
	for depositor, at := range snapshot.LockingTime {
		p.lockingTime[depositor] = at
	}
}
