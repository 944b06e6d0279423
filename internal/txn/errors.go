package txn

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorType classifies a transaction failure.
type ErrorType string

const (
	ErrorValidation   ErrorType = "VALIDATION"
	ErrorBusinessRule ErrorType = "BUSINESS_RULE"
	ErrorConstraint   ErrorType = "CONSTRAINT"
	ErrorTimeout      ErrorType = "TIMEOUT"
	ErrorDeadlock     ErrorType = "DEADLOCK"
	ErrorConnection   ErrorType = "CONNECTION"
	ErrorUnknown      ErrorType = "UNKNOWN"
)

// Error is a tagged error raised at the throw site so classification does not
// depend on message text.
type Error struct {
	Type ErrorType
	err  error
}

// NewError tags an error with a transaction error type.
func NewError(errType ErrorType, err error) *Error {
	return &Error{Type: errType, err: err}
}

// Validationf builds a tagged input validation error.
func Validationf(format string, args ...any) *Error {
	return &Error{Type: ErrorValidation, err: fmt.Errorf(format, args...)}
}

// BusinessRulef builds a tagged business rule error.
func BusinessRulef(format string, args ...any) *Error {
	return &Error{Type: ErrorBusinessRule, err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e == nil || e.err == nil {
		return string(ErrorUnknown)
	}
	return e.err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// Retryable reports whether an error type is worth retrying.
func (t ErrorType) Retryable() bool {
	switch t {
	case ErrorTimeout, ErrorDeadlock, ErrorConnection:
		return true
	default:
		return false
	}
}

// Classify maps an error onto an ErrorType. Tagged errors win, then postgres
// SQLSTATE codes, then context errors; message keywords are the last resort
// for errors raised by uninstrumented code.
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorUnknown
	}

	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Type
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}

	return classifyMessage(err.Error())
}

func classifySQLState(code string) ErrorType {
	switch code {
	case "40P01": // deadlock_detected
		return ErrorDeadlock
	case "40001": // serialization_failure
		return ErrorDeadlock
	case "57014": // query_canceled
		return ErrorTimeout
	case "55P03": // lock_not_available
		return ErrorTimeout
	}
	switch {
	case strings.HasPrefix(code, "23"):
		return ErrorConstraint
	case strings.HasPrefix(code, "08"):
		return ErrorConnection
	case strings.HasPrefix(code, "22"):
		return ErrorValidation
	default:
		return ErrorUnknown
	}
}

func classifyMessage(msg string) ErrorType {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "deadlock"):
		return ErrorDeadlock
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"):
		return ErrorTimeout
	case strings.Contains(lower, "connection"), strings.Contains(lower, "broken pipe"):
		return ErrorConnection
	case strings.Contains(lower, "constraint"), strings.Contains(lower, "duplicate key"):
		return ErrorConstraint
	case strings.Contains(lower, "validation"), strings.Contains(lower, "invalid"):
		return ErrorValidation
	default:
		return ErrorUnknown
	}
}
