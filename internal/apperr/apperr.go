package apperr

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// Kind represents the category of a ledger failure.
type Kind int

const (
	KindTransactionFailure Kind = iota
	KindNotFound
	KindValidation
	KindConcurrencyConflict
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NOT_FOUND"
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindConcurrencyConflict:
		return "CONCURRENCY_CONFLICT"
	default:
		return "TRANSACTION_FAILURE"
	}
}

// Error is returned by every ledger operation that fails.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err, apperr.ErrNotFound) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Message == "" && t.Kind == e.Kind
}

// Kind-only targets for errors.Is.
var (
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrValidation          = &Error{Kind: KindValidation}
	ErrConcurrencyConflict = &Error{Kind: KindConcurrencyConflict}
	ErrTransactionFailure  = &Error{Kind: KindTransactionFailure}
)

func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Conflict(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindConcurrencyConflict, Message: fmt.Sprintf(format, args...), Err: err}
}

func TransactionFailure(err error, format string, args ...interface{}) *Error {
	return &Error{Kind: KindTransactionFailure, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf classifies err. Anything that is not an *Error is a transaction failure.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransactionFailure
}

// Wrap leaves ledger errors untouched and turns anything else into a
// TransactionFailure, or a ConcurrencyConflict for MySQL lock contention.
func Wrap(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if IsLockContention(err) {
		return Conflict(err, format, args...)
	}
	return TransactionFailure(err, format, args...)
}

// IsLockContention checks if the error is a MySQL deadlock or lock wait timeout.
func IsLockContention(err error) bool {
	var driverErr *mysql.MySQLError
	if errors.As(err, &driverErr) {
		switch driverErr.Number {
		case 1205: // ER_LOCK_WAIT_TIMEOUT: Lock wait timeout exceeded
			return true
		case 1213: // ER_LOCK_DEADLOCK: Deadlock found
			return true
		}
	}
	return false
}
