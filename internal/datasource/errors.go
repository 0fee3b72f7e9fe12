package datasource

import (
	"errors"
	"fmt"

	"github.com/roach88/sieve/internal/schema"
)

// QueryError represents an error detected while setting up or rewriting a
// query against a collection.
//
// Query errors include:
//   - Configuration: a registration or setup call is invalid
//   - Unsupported operator: a leaf survived every rewrite layer and the
//     collection below cannot evaluate it
//   - Validation: the tree is malformed for the collection (unknown field,
//     bad value shape)
//
// All of them are caller errors, never store I/O failures.
type QueryError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Collection is the collection the error was detected on.
	Collection string

	// Field is the field path involved, if any.
	Field string

	// Operator is the operator involved, if any.
	Operator schema.Operator

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes query errors.
type ErrorCode string

const (
	// ErrCodeConfiguration indicates an invalid setup call.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION"

	// ErrCodeUnsupportedOperator indicates a leaf the collection cannot evaluate.
	ErrCodeUnsupportedOperator ErrorCode = "UNSUPPORTED_OPERATOR"

	// ErrCodeValidation indicates a malformed condition tree.
	ErrCodeValidation ErrorCode = "VALIDATION"
)

// Error implements the error interface.
func (e *QueryError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Collection != "" {
		msg += fmt.Sprintf(" (collection=%s", e.Collection)
		if e.Field != "" {
			msg += ", field=" + e.Field
		}
		if e.Operator != "" {
			msg += ", operator=" + string(e.Operator)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *QueryError) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Code == code
	}
	return false
}

// IsConfigurationError returns true if the error is a configuration error.
// Uses errors.As to handle wrapped errors.
func IsConfigurationError(err error) bool {
	return hasCode(err, ErrCodeConfiguration)
}

// IsUnsupportedOperatorError returns true if the error reports an operator
// the collection cannot evaluate.
func IsUnsupportedOperatorError(err error) bool {
	return hasCode(err, ErrCodeUnsupportedOperator)
}

// IsValidationError returns true if the error reports a malformed tree.
func IsValidationError(err error) bool {
	return hasCode(err, ErrCodeValidation)
}

// NewConfigurationError creates a QueryError for an invalid setup call.
func NewConfigurationError(collection, field, format string, args ...any) *QueryError {
	return &QueryError{
		Code:       ErrCodeConfiguration,
		Message:    fmt.Sprintf(format, args...),
		Collection: collection,
		Field:      field,
	}
}

// NewUnsupportedOperatorError creates a QueryError for an operator the
// collection does not support on field.
func NewUnsupportedOperatorError(collection, field string, op schema.Operator) *QueryError {
	return &QueryError{
		Code:       ErrCodeUnsupportedOperator,
		Message:    fmt.Sprintf("operator %s is not supported on field %q", op, field),
		Collection: collection,
		Field:      field,
		Operator:   op,
	}
}

// NewValidationError creates a QueryError for a malformed tree.
func NewValidationError(collection, field string, cause error) *QueryError {
	return &QueryError{
		Code:       ErrCodeValidation,
		Message:    "invalid condition tree",
		Collection: collection,
		Field:      field,
		Err:        cause,
	}
}
