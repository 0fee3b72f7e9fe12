package emulate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/sieve/internal/schema"
)

// ErrCodeReplacementCycle identifies ReplacementCycleError in CLI output.
const ErrCodeReplacementCycle = "REPLACEMENT_CYCLE"

// ErrCodeFallbackLimit identifies FallbackLimitError in CLI output.
const ErrCodeFallbackLimit = "FALLBACK_LIMIT"

// ReplacementCycleError is returned when replacement handlers rewrite into
// each other. Chain lists the replacement ids in the order they were
// entered, ending with the id that closed the loop.
type ReplacementCycleError struct {
	Chain []string
}

// Error implements the error interface.
func (e *ReplacementCycleError) Error() string {
	return fmt.Sprintf("%s: operator replacement cycle: %s", ErrCodeReplacementCycle, strings.Join(e.Chain, " -> "))
}

// IsReplacementCycleError returns true if the error is a replacement cycle.
// Uses errors.As to handle wrapped errors.
func IsReplacementCycleError(err error) bool {
	var ce *ReplacementCycleError
	return errors.As(err, &ce)
}

// FallbackLimitError is returned when the in-memory fallback would scan
// more rows than the configured cap.
type FallbackLimitError struct {
	Collection string
	Field      string
	Operator   schema.Operator
	Limit      int
}

// Error implements the error interface.
func (e *FallbackLimitError) Error() string {
	return fmt.Sprintf("%s: emulating %s on %s.%s needs more than %d rows",
		ErrCodeFallbackLimit, e.Operator, e.Collection, e.Field, e.Limit)
}

// IsFallbackLimitError returns true if the error is a fallback cap hit.
func IsFallbackLimitError(err error) bool {
	var le *FallbackLimitError
	return errors.As(err, &le)
}

// ReplacementID names a (collection, field, operator) step in a chain.
func ReplacementID(collection, field string, op schema.Operator) string {
	return fmt.Sprintf("%s.%s[%s]", collection, field, op)
}
