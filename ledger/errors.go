package ledger

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownVariant        = errors.New("unknown transaction type")
	ErrMalformedTransaction  = errors.New("malformed transaction")
	ErrIncompleteTransaction = errors.New("incomplete transaction")
	ErrUndeclaredField       = errors.New("field is not declared for the transaction type")
	ErrImmutableField        = errors.New("field cannot be changed")
	ErrFinalized             = errors.New("transaction is finalized")
)

// VariantError reports a discriminant missing from the field registry.
type VariantError struct {
	Type string
}

func (e *VariantError) Error() string {
	return fmt.Sprintf("%v: %q", ErrUnknownVariant, e.Type)
}

func (e *VariantError) Unwrap() error {
	return ErrUnknownVariant
}

// FieldError rejects one field. Err is one of ErrMalformedTransaction,
// ErrUndeclaredField or ErrImmutableField.
type FieldError struct {
	Type  TransactionType
	Field string
	Msg   string
	Err   error
}

func (e *FieldError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Err.Error())
	if e.Type != "" {
		buf.WriteString(": ")
		buf.WriteString(string(e.Type))
	}
	if e.Field != "" {
		buf.WriteString(".")
		buf.WriteString(e.Field)
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
	}
	return buf.String()
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

func malformed(t TransactionType, field, format string, args ...any) error {
	return &FieldError{t, field, fmt.Sprintf(format, args...), ErrMalformedTransaction}
}

// IncompleteError lists required fields that are absent.
type IncompleteError struct {
	Type    TransactionType
	Missing []string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("%v: %s is missing %s", ErrIncompleteTransaction, e.Type, strings.Join(e.Missing, ", "))
}

func (e *IncompleteError) Unwrap() error {
	return ErrIncompleteTransaction
}
