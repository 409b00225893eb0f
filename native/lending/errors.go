package lending

import "errors"

// Validation errors: rejected before any state change.
var (
	ErrZeroAmount             = errors.New("lending: loan amount must be larger than zero")
	ErrZeroDuration           = errors.New("lending: days to repay must be larger than zero")
	ErrDurationTooLong        = errors.New("lending: days to repay exceeds the maximum loan duration")
	ErrUnknownCollateralToken = errors.New("lending: collateral token has no registered liquidity pool")
	ErrDuplicateToken         = errors.New("lending: collateral token already registered")
)

// State errors: the operation does not apply to the current ledger state.
var (
	ErrBorrowerHasActiveLoan = errors.New("lending: borrower already has an active loan")
	ErrNoActiveLoan          = errors.New("lending: borrower has no active loan")
	ErrLoanNotFound          = errors.New("lending: loan not found")
	ErrLoanNotActive         = errors.New("lending: loan is not active")
	ErrNotYetOverdue         = errors.New("lending: loan is not overdue yet")
	ErrLoanNotNative         = errors.New("lending: loan is not denominated in the native token")
)

// Liquidity errors: distinguishable so callers can react differently.
var (
	ErrInsufficientPoolLiquidity = errors.New("lending: not enough pool liquidity to generate this loan")
	ErrInsufficientCollateral    = errors.New("lending: combined collateral and crypto score cannot cover this loan")
	ErrInsufficientNativeValue   = errors.New("lending: attached native value below the amount due")
	ErrCollateralReserved        = errors.New("lending: deposit is reserved as collateral for an active loan")
)

// Pool errors.
var (
	ErrPoolInvalidAmount         = errors.New("liquidity: amount must be larger than zero")
	ErrPoolInsufficientAllowance = errors.New("liquidity: approve the desired amount to the pool first")
	ErrPoolStillLocked           = errors.New("liquidity: lock duration has not elapsed")
	ErrPoolNothingLocked         = errors.New("liquidity: nothing locked for this depositor")
	ErrPoolNotNative             = errors.New("liquidity: not the native liquidity provider")
	ErrPoolAuthorityMismatch     = errors.New("liquidity: caller is not the registered controller")
	ErrPoolInsufficientBalance   = errors.New("liquidity: pool balance cannot cover this amount")
	ErrPoolInsufficientLocked    = errors.New("liquidity: depositor lock cannot cover this amount")
)

// Wiring errors.
var (
	ErrNilState      = errors.New("lending: state not configured")
	ErrNilConverter  = errors.New("lending: oracle converter not configured")
	ErrNilLedger     = errors.New("lending: token ledger not configured")
	ErrInvalidParams = errors.New("lending: invalid parameters")
)
