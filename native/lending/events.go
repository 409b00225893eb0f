package lending

import (
	"log/slog"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ZeusMonkey/cdl-loan/core/types"
)

// Event types emitted by the loan ledger and the liquidity pools.
const (
	EventTypeLoanCreated   = "lending.loan.created"
	EventTypeLoanRepaid    = "lending.loan.repaid"
	EventTypeLoanRecalled  = "lending.loan.recalled"
	EventTypePoolLocked    = "lending.pool.locked"
	EventTypePoolExtracted = "lending.pool.extracted"
)

// EventEmitter receives ledger events. Emission happens after the state
// transition commits; a nil emitter disables events.
type EventEmitter interface {
	Emit(evt *types.Event)
}

func newLoanCreatedEvent(loan *Loan) *types.Event {
	evt := types.NewEvent(EventTypeLoanCreated)
	evt.Attributes["loanId"] = strconv.FormatUint(loan.ID, 10)
	evt.Attributes["owner"] = loan.Owner.Hex()
	evt.Attributes["token"] = loan.Token.Hex()
	evt.Attributes["amount"] = bigString(loan.Amount)
	evt.Attributes["daysToRepay"] = strconv.FormatUint(loan.DaysToRepay, 10)
	evt.Attributes["interestPerDay"] = bigString(loan.InterestPerDay)
	evt.Attributes["deadline"] = strconv.FormatInt(loan.Deadline(), 10)
	return evt
}

func newLoanRepaidEvent(loan *Loan, repaid, scoreGained *big.Int) *types.Event {
	evt := types.NewEvent(EventTypeLoanRepaid)
	evt.Attributes["loanId"] = strconv.FormatUint(loan.ID, 10)
	evt.Attributes["owner"] = loan.Owner.Hex()
	evt.Attributes["token"] = loan.Token.Hex()
	evt.Attributes["repaid"] = bigString(repaid)
	evt.Attributes["scoreGained"] = bigString(scoreGained)
	return evt
}

func newLoanRecalledEvent(loan *Loan, recaller common.Address, seizedUSD *big.Int, seizedUSDPartial bool) *types.Event {
	evt := types.NewEvent(EventTypeLoanRecalled)
	evt.Attributes["loanId"] = strconv.FormatUint(loan.ID, 10)
	evt.Attributes["owner"] = loan.Owner.Hex()
	evt.Attributes["token"] = loan.Token.Hex()
	evt.Attributes["recaller"] = recaller.Hex()
	evt.Attributes["seizedUsd"] = bigString(seizedUSD)
	// Flags a seizedUsd figure missing one or more token valuations because
	// the oracle had no quote at recall time.
	evt.Attributes["seizedUsdPartial"] = strconv.FormatBool(seizedUSDPartial)
	return evt
}

func newPoolLockedEvent(token, depositor common.Address, amount *big.Int, unlockAt int64) *types.Event {
	evt := types.NewEvent(EventTypePoolLocked)
	evt.Attributes["token"] = token.Hex()
	evt.Attributes["depositor"] = depositor.Hex()
	evt.Attributes["amount"] = bigString(amount)
	evt.Attributes["unlockAt"] = strconv.FormatInt(unlockAt, 10)
	return evt
}

func newPoolExtractedEvent(token, depositor common.Address, amount *big.Int) *types.Event {
	evt := types.NewEvent(EventTypePoolExtracted)
	evt.Attributes["token"] = token.Hex()
	evt.Attributes["depositor"] = depositor.Hex()
	evt.Attributes["amount"] = bigString(amount)
	return evt
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// LogEmitter writes ledger events to a structured logger, one line per event
// with the event type as the message and the attributes as fields.
type LogEmitter struct {
	log *slog.Logger
}

// NewLogEmitter wraps a logger as an event sink. A nil logger falls back to
// the process default.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{log: logger}
}

// Emit logs the event.
func (e *LogEmitter) Emit(evt *types.Event) {
	if evt == nil {
		return
	}
	args := make([]any, 0, len(evt.Attributes)*2)
	for key, value := range evt.Attributes {
		args = append(args, slog.String(key, value))
	}
	e.log.Info(evt.Type, args...)
}
