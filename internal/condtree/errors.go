package condtree

import (
	"errors"
	"fmt"

	"github.com/roach88/sieve/internal/schema"
)

// ErrUnsupportedOperation is returned when a tree operation has no
// definition for an operator, such as inverting "before".
var ErrUnsupportedOperation = errors.New("unsupported operation")

// OperationError reports which operation failed on which operator.
type OperationError struct {
	Operation string
	Operator  schema.Operator
	Field     string
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s: %s is not defined for operator %s on field %q",
		ErrUnsupportedOperation, e.Operation, e.Operator, e.Field)
}

func (e *OperationError) Unwrap() error {
	return ErrUnsupportedOperation
}

// PlainError reports a malformed plain tree.
type PlainError struct {
	Path    string
	Message string
}

func (e *PlainError) Error() string {
	if e.Path == "" {
		return "invalid condition tree: " + e.Message
	}
	return fmt.Sprintf("invalid condition tree at %s: %s", e.Path, e.Message)
}

// IsPlainError reports whether err is a PlainError.
func IsPlainError(err error) bool {
	var pe *PlainError
	return errors.As(err, &pe)
}
