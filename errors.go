package walletstore

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation failed")
	ErrAlreadyOpening      = errors.New("store is already opening")
	ErrAlreadyOpen         = errors.New("store is already open")
	ErrNotReady            = errors.New("store is not open")
	ErrMigrationStepFailed = errors.New("migration step failed")
	ErrCorruptStore        = errors.New("corrupt store")
	ErrReadOnlyTx          = errors.New("read-only transaction")
)

// OpenFailure is the machine-readable reason of an OpenError.
type OpenFailure string

const (
	ReasonMigrationFailed OpenFailure = "migration-failed"
	ReasonCorruptStore    OpenFailure = "corrupt-store"
	ReasonAlreadyOpening  OpenFailure = "already-opening"
)

// OpenError is returned by Store.Open. The application must not use the store
// after receiving one, except to retry Open with a fresh process state.
type OpenError struct {
	Reason OpenFailure
	Err    error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open store: %s: %v", e.Reason, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// MigrationError identifies the schema version whose step failed.
type MigrationError struct {
	Version uint64
	Err     error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration to v%d: %v", e.Version, e.Err)
}

func (e *MigrationError) Unwrap() []error {
	return []error{ErrMigrationStepFailed, e.Err}
}

// ValidationError rejects a write that does not match the current schema.
type ValidationError struct {
	Entity string
	Field  string
	Msg    string
	Err    error
}

func validationErrf(entity, field string, err error, format string, args ...any) error {
	return &ValidationError{entity, field, fmt.Sprintf(format, args...), err}
}

func (e *ValidationError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Entity)
	if e.Field != "" {
		buf.WriteByte('.')
		buf.WriteString(e.Field)
	}
	buf.WriteString(": ")
	buf.WriteString(e.Msg)
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrValidation, e.Err}
	}
	return []error{ErrValidation}
}

// NotFoundError names the missing record.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s/%s: not found", e.Entity, e.Key)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// DataError reports bytes in the store file that cannot be decoded.
type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrCorruptStore, e.Err}
	}
	return []error{ErrCorruptStore}
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}
