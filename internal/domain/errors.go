package domain

import "errors"

// Kind classifies a domain error. Callers decide retry policy per kind.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindInvalidState Kind = "invalid_state"
	KindInvalidInput Kind = "invalid_input"
	KindUnauthorized Kind = "unauthorized"
	KindArithmetic   Kind = "arithmetic"
	KindConflict     Kind = "conflict"
	KindInternal     Kind = "internal"
)

// Error is a typed engine rejection. Two errors match under errors.Is when
// their codes are equal, so a sentinel still matches after WithMessage.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// WithMessage returns a copy of e carrying a more specific message.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: msg}
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrMarketNotFound   = newError(KindNotFound, "market_not_found", "market not found")
	ErrPositionNotFound = newError(KindNotFound, "position_not_found", "position not found")
	ErrEscrowNotFound   = newError(KindNotFound, "escrow_not_found", "escrow not found")

	ErrMarketAlreadyExists = newError(KindInvalidState, "market_already_exists", "market already exists")
	ErrMarketClosed        = newError(KindInvalidState, "market_closed", "market is not accepting stakes")
	ErrMarketExpired       = newError(KindInvalidState, "market_expired", "market end time has passed")
	ErrAlreadyResolved     = newError(KindInvalidState, "already_resolved", "market already resolved")
	ErrMarketNotResolved   = newError(KindInvalidState, "market_not_resolved", "market not resolved")
	ErrAlreadyClaimed      = newError(KindInvalidState, "already_claimed", "position already claimed")
	ErrLosingPosition      = newError(KindInvalidState, "losing_position", "position did not win")
	ErrPositionExists      = newError(KindInvalidState, "position_exists", "position already exists")

	ErrInvalidAmount      = newError(KindInvalidInput, "invalid_amount", "amount must be positive")
	ErrInvalidEndTime     = newError(KindInvalidInput, "invalid_end_time", "end time must be in the future")
	ErrInvalidOutcome     = newError(KindInvalidInput, "invalid_outcome", "outcome must be yes or no")
	ErrInvalidMarketID    = newError(KindInvalidInput, "invalid_market_id", "invalid market id")
	ErrInvalidQuestion    = newError(KindInvalidInput, "invalid_question", "invalid question")
	ErrInvalidOwner       = newError(KindInvalidInput, "invalid_owner", "owner identity required")
	ErrInvalidInstruction = newError(KindInvalidInput, "invalid_instruction", "invalid instruction")
	ErrInvalidFilter      = newError(KindInvalidInput, "invalid_filter", "invalid list filter")

	ErrUnauthorized = newError(KindUnauthorized, "unauthorized", "caller is not permitted to perform this operation")

	ErrOverflow           = newError(KindArithmetic, "overflow", "arithmetic overflow")
	ErrEmptyWinningPool   = newError(KindArithmetic, "empty_winning_pool", "winning pool is empty")
	ErrInsufficientEscrow = newError(KindArithmetic, "insufficient_escrow", "escrow balance too low for payout")

	ErrIdempotencyConflict = newError(KindConflict, "idempotency_conflict", "request in progress")
	ErrIdempotencyMismatch = newError(KindConflict, "idempotency_mismatch", "key reuse with mismatched payload")
	ErrSerialization       = newError(KindConflict, "serialization_failure", "concurrent update, retry the request")
)

// KindOf extracts the kind of a domain error anywhere in err's chain.
// Anything that is not a domain error is internal.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// AsError returns the domain error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
