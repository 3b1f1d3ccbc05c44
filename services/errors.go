package services

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable machine-readable error category returned to API callers.
type Code string

const (
	CodePhaseViolation   Code = "PHASE_VIOLATION"
	CodeDuplicateEntry   Code = "DUPLICATE_ENTRY"
	CodeNotFound         Code = "NOT_FOUND"
	CodeAlreadySettled   Code = "ALREADY_SETTLED"
	CodeInvalidArgument  Code = "INVALID_ARGUMENT"
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeTransferFailed   Code = "TRANSFER_FAILED"
	CodeBallotRejected   Code = "BALLOT_REJECTED"
	CodeInternal         Code = "INTERNAL"
)

// codedError is a sentinel carrying its Code. Wrapped sentinels keep their code through errors.As.
type codedError struct {
	code   Code
	msg    string
	parent error
}

func (e *codedError) Error() string { return e.msg }

func (e *codedError) Unwrap() error { return e.parent }

func newError(code Code, msg string) error {
	return &codedError{code: code, msg: msg}
}

func newChildError(parent error, msg string) error {
	var pe *codedError
	errors.As(parent, &pe)
	return &codedError{code: pe.code, msg: msg, parent: parent}
}

var (
	// ErrPhaseViolation is the parent of both phase errors.
	ErrPhaseViolation    = newError(CodePhaseViolation, "action not allowed in current phase")
	ErrCompetitionClosed = newChildError(ErrPhaseViolation, "competition is closed")
	ErrCompetitionOpen   = newChildError(ErrPhaseViolation, "competition is still open")

	ErrDuplicateEntry      = newError(CodeDuplicateEntry, "entry already registered")
	ErrUnknownEntry        = newError(CodeNotFound, "entry not found")
	ErrNoPosition          = newError(CodeNotFound, "no stake position")
	ErrCompetitionNotFound = newError(CodeNotFound, "competition not found")
	ErrCommunityNotFound   = newError(CodeNotFound, "community not found")

	ErrAlreadyWithdrawn = newError(CodeAlreadySettled, "position already withdrawn")
	ErrAlreadyClaimed   = newError(CodeAlreadySettled, "royalty already claimed")

	ErrZeroAmount          = newError(CodeInvalidArgument, "amount must be greater than zero")
	ErrInvalidInput        = newError(CodeInvalidArgument, "invalid input")
	ErrWrongToken          = newError(CodeInvalidArgument, "token does not match competition stake token")
	ErrTokenNotWhitelisted = newError(CodeInvalidArgument, "token is not whitelisted")
	ErrInsufficientStake   = newError(CodeInvalidArgument, "retraction exceeds escrowed stake")

	ErrNotOwner      = newError(CodePermissionDenied, "caller is not the entry owner")
	ErrNotAuthorized = newError(CodePermissionDenied, "transfer not authorized")

	ErrTransferFailed      = newError(CodeTransferFailed, "token transfer failed")
	ErrInsufficientBalance = newError(CodeTransferFailed, "insufficient balance")

	ErrInvalidProof    = newError(CodeBallotRejected, "ballot proof rejected")
	ErrNullifierReused = newError(CodeBallotRejected, "ballot nullifier already used")
)

// CodeOf returns the code of the first coded error in err's chain.
func CodeOf(err error) Code {
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	return CodeInternal
}

// HTTPStatus maps an error to the status the API replies with.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodePhaseViolation, CodeDuplicateEntry, CodeAlreadySettled:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeTransferFailed:
		return http.StatusPaymentRequired
	case CodeBallotRejected:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// transferFailed wraps a custody error so both ErrTransferFailed and the cause match errors.Is.
func transferFailed(err error) error {
	if errors.Is(err, ErrTransferFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTransferFailed, err)
}
