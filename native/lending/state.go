package lending

import (
	"github.com/ethereum/go-ethereum/common"
)

// State is the persistence boundary of the loan ledger. Getters return deep
// copies: the engine mutates its copies and persists them with Put calls only
// after every precondition has passed, so a rejected operation leaves the
// stored state byte-for-byte unchanged.
type State interface {
	Loan(id uint64) (*Loan, error)
	PutLoan(loan *Loan) error
	LastLoanID() (uint64, error)
	SetLastLoanID(id uint64) error
	LoanIDs() ([]uint64, error)
	AppendLoanID(id uint64) error

	ActiveLoanID(borrower common.Address) (uint64, bool, error)
	SetActiveLoanID(borrower common.Address, id uint64) error
	ClearActiveLoanID(borrower common.Address) error

	Position(token, user common.Address) (*Position, error)
	PutPosition(token, user common.Address, position *Position) error
	TokenStats(token common.Address) (*TokenStats, error)
	PutTokenStats(token common.Address, stats *TokenStats) error

	LastClosedState(borrower common.Address) (LoanState, error)
	SetLastClosedState(borrower common.Address, state LoanState) error
}

type positionKey struct {
	token common.Address
	user  common.Address
}

// MemoryState is the in-memory State used by tests and single-process
// deployments that do not need durability.
type MemoryState struct {
	loans      map[uint64]*Loan
	lastLoanID uint64
	loanIDs    []uint64
	active     map[common.Address]uint64
	positions  map[positionKey]*Position
	stats      map[common.Address]*TokenStats
	lastClosed map[common.Address]LoanState
}

// NewMemoryState constructs an empty memory state.
func NewMemoryState() *MemoryState {
	return &MemoryState{
		loans:      make(map[uint64]*Loan),
		active:     make(map[common.Address]uint64),
		positions:  make(map[positionKey]*Position),
		stats:      make(map[common.Address]*TokenStats),
		lastClosed: make(map[common.Address]LoanState),
	}
}

// Loan returns a copy of the stored loan, or nil when unknown.
func (m *MemoryState) Loan(id uint64) (*Loan, error) {
	return m.loans[id].Clone(), nil
}

// PutLoan stores a copy of the loan keyed by its id.
func (m *MemoryState) PutLoan(loan *Loan) error {
	if loan == nil {
		return nil
	}
	m.loans[loan.ID] = loan.Clone()
	return nil
}

// LastLoanID returns the most recently issued loan id.
func (m *MemoryState) LastLoanID() (uint64, error) { return m.lastLoanID, nil }

// SetLastLoanID records the most recently issued loan id.
func (m *MemoryState) SetLastLoanID(id uint64) error {
	m.lastLoanID = id
	return nil
}

// LoanIDs returns a copy of the append-only issued id list.
func (m *MemoryState) LoanIDs() ([]uint64, error) {
	return append([]uint64(nil), m.loanIDs...), nil
}

// AppendLoanID appends to the issued id list.
func (m *MemoryState) AppendLoanID(id uint64) error {
	m.loanIDs = append(m.loanIDs, id)
	return nil
}

// ActiveLoanID returns the borrower's active loan id, if any.
func (m *MemoryState) ActiveLoanID(borrower common.Address) (uint64, bool, error) {
	id, ok := m.active[borrower]
	return id, ok, nil
}

// SetActiveLoanID marks the borrower's active loan.
func (m *MemoryState) SetActiveLoanID(borrower common.Address, id uint64) error {
	m.active[borrower] = id
	return nil
}

// ClearActiveLoanID removes the borrower's active loan marker.
func (m *MemoryState) ClearActiveLoanID(borrower common.Address) error {
	delete(m.active, borrower)
	return nil
}

// Position returns a copy of the (token, user) entry with defaults populated.
func (m *MemoryState) Position(token, user common.Address) (*Position, error) {
	position := m.positions[positionKey{token: token, user: user}].Clone()
	if position == nil {
		position = &Position{}
	}
	position.EnsureDefaults()
	return position, nil
}

// PutPosition stores a copy of the (token, user) entry.
func (m *MemoryState) PutPosition(token, user common.Address, position *Position) error {
	if position == nil {
		return nil
	}
	m.positions[positionKey{token: token, user: user}] = position.Clone()
	return nil
}

// TokenStats returns a copy of the per-token aggregates with defaults
// populated.
func (m *MemoryState) TokenStats(token common.Address) (*TokenStats, error) {
	stats := m.stats[token].Clone()
	if stats == nil {
		stats = &TokenStats{}
	}
	stats.EnsureDefaults()
	return stats, nil
}

// PutTokenStats stores a copy of the per-token aggregates.
func (m *MemoryState) PutTokenStats(token common.Address, stats *TokenStats) error {
	if stats == nil {
		return nil
	}
	m.stats[token] = stats.Clone()
	return nil
}

// LastClosedState returns how the borrower's most recent loan ended.
func (m *MemoryState) LastClosedState(borrower common.Address) (LoanState, error) {
	return m.lastClosed[borrower], nil
}

// SetLastClosedState records how the borrower's most recent loan ended.
func (m *MemoryState) SetLastClosedState(borrower common.Address, state LoanState) error {
	m.lastClosed[borrower] = state
	return nil
}

var _ State = (*MemoryState)(nil)
