package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ZeusMonkey/cdl-loan/native/lending"
)

// Key layout of the lending state. Every record is a standalone JSON value so
// a stuck deployment can be inspected with nothing but a leveldb dump tool.
const (
	keyLastLoanID    = "lending/lastLoanID"
	keyLoanIDs       = "lending/loanIDs"
	prefixLoan       = "lending/loan/"
	prefixActive     = "lending/active/"
	prefixPosition   = "lending/position/"
	prefixStats      = "lending/stats/"
	prefixLastClosed = "lending/lastClosed/"
	prefixPool       = "lending/pool/"
)

// StateStore persists the lending state in a key-value database. It
// implements lending.State; getters decode fresh copies so the engine's
// check-then-persist discipline holds across restarts.
type StateStore struct {
	db Database
}

// NewStateStore wraps a database.
func NewStateStore(db Database) *StateStore {
	return &StateStore{db: db}
}

func (s *StateStore) Loan(id uint64) (*lending.Loan, error) {
	var loan lending.Loan
	found, err := s.get(loanKey(id), &loan)
	if err != nil || !found {
		return nil, err
	}
	return &loan, nil
}

func (s *StateStore) PutLoan(loan *lending.Loan) error {
	if loan == nil {
		return nil
	}
	return s.put(loanKey(loan.ID), loan)
}

func (s *StateStore) LastLoanID() (uint64, error) {
	var id uint64
	if _, err := s.get([]byte(keyLastLoanID), &id); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *StateStore) SetLastLoanID(id uint64) error {
	return s.put([]byte(keyLastLoanID), id)
}

func (s *StateStore) LoanIDs() ([]uint64, error) {
	var ids []uint64
	if _, err := s.get([]byte(keyLoanIDs), &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *StateStore) AppendLoanID(id uint64) error {
	ids, err := s.LoanIDs()
	if err != nil {
		return err
	}
	return s.put([]byte(keyLoanIDs), append(ids, id))
}

func (s *StateStore) ActiveLoanID(borrower common.Address) (uint64, bool, error) {
	var id uint64
	found, err := s.get(addrKey(prefixActive, borrower), &id)
	if err != nil {
		return 0, false, err
	}
	return id, found, nil
}

func (s *StateStore) SetActiveLoanID(borrower common.Address, id uint64) error {
	return s.put(addrKey(prefixActive, borrower), id)
}

func (s *StateStore) ClearActiveLoanID(borrower common.Address) error {
	return s.db.Delete(addrKey(prefixActive, borrower))
}

func (s *StateStore) Position(token, user common.Address) (*lending.Position, error) {
	position := &lending.Position{}
	if _, err := s.get(pairKey(prefixPosition, token, user), position); err != nil {
		return nil, err
	}
	position.EnsureDefaults()
	return position, nil
}

func (s *StateStore) PutPosition(token, user common.Address, position *lending.Position) error {
	if position == nil {
		return nil
	}
	return s.put(pairKey(prefixPosition, token, user), position)
}

func (s *StateStore) TokenStats(token common.Address) (*lending.TokenStats, error) {
	stats := &lending.TokenStats{}
	if _, err := s.get(addrKey(prefixStats, token), stats); err != nil {
		return nil, err
	}
	stats.EnsureDefaults()
	return stats, nil
}

func (s *StateStore) PutTokenStats(token common.Address, stats *lending.TokenStats) error {
	if stats == nil {
		return nil
	}
	return s.put(addrKey(prefixStats, token), stats)
}

func (s *StateStore) LastClosedState(borrower common.Address) (lending.LoanState, error) {
	var state lending.LoanState
	if _, err := s.get(addrKey(prefixLastClosed, borrower), &state); err != nil {
		return lending.LoanStateUnknown, err
	}
	return state, nil
}

func (s *StateStore) SetLastClosedState(borrower common.Address, state lending.LoanState) error {
	return s.put(addrKey(prefixLastClosed, borrower), state)
}

// SavePoolSnapshot persists a pool's depositor table under its token address.
func (s *StateStore) SavePoolSnapshot(snapshot *lending.PoolSnapshot) error {
	if snapshot == nil {
		return nil
	}
	return s.put(addrKey(prefixPool, snapshot.Token), snapshot)
}

// LoadPoolSnapshot restores a pool's depositor table, if one was saved.
func (s *StateStore) LoadPoolSnapshot(token common.Address) (*lending.PoolSnapshot, error) {
	var snapshot lending.PoolSnapshot
	found, err := s.get(addrKey(prefixPool, token), &snapshot)
	if err != nil || !found {
		return nil, err
	}
	return &snapshot, nil
}

func (s *StateStore) put(key []byte, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", key, err)
	}
	return s.db.Put(key, encoded)
}

// get decodes the record into out and reports whether it existed.
func (s *StateStore) get(key []byte, out any) (bool, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("storage: decode %s: %w", key, err)
	}
	return true, nil
}

func loanKey(id uint64) []byte {
	return []byte(prefixLoan + strconv.FormatUint(id, 10))
}

func addrKey(prefix string, addr common.Address) []byte {
	return []byte(prefix + addr.Hex())
}

func pairKey(prefix string, token, user common.Address) []byte {
	return []byte(prefix + token.Hex() + "/" + user.Hex())
}

var _ lending.State = (*StateStore)(nil)
