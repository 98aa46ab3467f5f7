package coordinator

import (
	"context"
	"fmt"
	"net/http"

	"insider/internal/store"

	"github.com/pkg/errors"
)

type Code string

const (
	CodeAlreadyVoted      Code = "ALREADY_VOTED"
	CodeResultExists      Code = "RESULT_EXISTS"
	CodeIncompleteVoting  Code = "INCOMPLETE_VOTING"
	CodeStaleTransition   Code = "STALE_TRANSITION"
	CodeForbidden         Code = "FORBIDDEN"
	CodeInvalidPhase      Code = "INVALID_PHASE"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeInvalidVote       Code = "INVALID_VOTE"
	CodeRoundMismatch     Code = "ROUND_MISMATCH"
	CodeTimeExpired       Code = "TIME_EXPIRED"
	CodeNotEnoughPlayers  Code = "NOT_ENOUGH_PLAYERS"
	CodeNotFound          Code = "NOT_FOUND"
	CodeValidation        Code = "VALIDATION"
	CodeSuspended         Code = "SUSPENDED"
	CodeConflict          Code = "CONFLICT"
	CodeRateLimited       Code = "RATE_LIMITED"
	CodeUnavailable       Code = "UNAVAILABLE"
)

// Error is the typed failure every coordinator operation returns.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so errors.Is(err, ErrForbidden) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Retryable reports whether the caller may retry the same request unchanged.
func (e *Error) Retryable() bool {
	return e.Code.Retryable()
}

func (c Code) Retryable() bool {
	switch c {
	case CodeUnavailable, CodeRateLimited, CodeIncompleteVoting:
		return true
	default:
		return false
	}
}

// Expected reports races that callers reconcile by re-reading state.
func (c Code) Expected() bool {
	switch c {
	case CodeAlreadyVoted, CodeResultExists, CodeIncompleteVoting, CodeStaleTransition:
		return true
	default:
		return false
	}
}

func (c Code) HTTPStatus() int {
	switch c {
	case CodeIncompleteVoting:
		return http.StatusAccepted
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyVoted, CodeResultExists, CodeStaleTransition, CodeConflict,
		CodeInvalidPhase, CodeInvalidTransition, CodeRoundMismatch, CodeTimeExpired,
		CodeNotEnoughPlayers, CodeSuspended:
		return http.StatusConflict
	case CodeValidation, CodeInvalidVote:
		return http.StatusUnprocessableEntity
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var (
	ErrAlreadyVoted      = &Error{Code: CodeAlreadyVoted}
	ErrResultExists      = &Error{Code: CodeResultExists}
	ErrIncompleteVoting  = &Error{Code: CodeIncompleteVoting}
	ErrStaleTransition   = &Error{Code: CodeStaleTransition}
	ErrForbidden         = &Error{Code: CodeForbidden}
	ErrInvalidPhase      = &Error{Code: CodeInvalidPhase}
	ErrInvalidTransition = &Error{Code: CodeInvalidTransition}
	ErrInvalidVote       = &Error{Code: CodeInvalidVote}
	ErrRoundMismatch     = &Error{Code: CodeRoundMismatch}
	ErrTimeExpired       = &Error{Code: CodeTimeExpired}
	ErrNotEnoughPlayers  = &Error{Code: CodeNotEnoughPlayers}
	ErrNotFound          = &Error{Code: CodeNotFound}
	ErrValidation        = &Error{Code: CodeValidation}
	ErrSuspended         = &Error{Code: CodeSuspended}
	ErrConflict          = &Error{Code: CodeConflict}
	ErrUnavailable       = &Error{Code: CodeUnavailable}
)

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func newErrorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the code of err, or UNAVAILABLE for anything untyped.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Code
	}
	return CodeUnavailable
}

// fromStore converts a store failure into a typed error. Context errors pass through.
func fromStore(err error, what string) error {
	if err == nil {
		return nil
	}
	var typed *Error
	switch {
	case errors.As(err, &typed):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, store.ErrNotFound):
		return &Error{Code: CodeNotFound, Message: what + " not found", Err: err}
	case errors.Is(err, store.ErrDuplicateVote):
		return &Error{Code: CodeAlreadyVoted, Message: "vote already recorded", Err: err}
	case errors.Is(err, store.ErrResultExists):
		return &Error{Code: CodeResultExists, Message: "result already published", Err: err}
	case errors.Is(err, store.ErrDuplicateNickname):
		return &Error{Code: CodeConflict, Message: "nickname already taken", Err: err}
	case errors.Is(err, store.ErrStale):
		return &Error{Code: CodeStaleTransition, Message: what + " changed concurrently", Err: err}
	default:
		return &Error{Code: CodeUnavailable, Message: "store unavailable", Err: errors.Wrap(err, what)}
	}
}
