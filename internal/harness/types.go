package harness

import (
	"github.com/roach88/sieve/internal/condtree"
	"github.com/roach88/sieve/internal/decorator"
)

// QueryTrace is what one query did.
type QueryTrace struct {
	Name       string
	Collection string

	// Filter is the tree the query was issued with.
	Filter condtree.Node

	// Calls are the native calls the query caused, in order.
	Calls []decorator.Call

	// IDs are the primary keys of the returned records. A single-column
	// key yields its value, a composite key a []any.
	IDs []any

	// ErrorCode and Error are set when the query failed.
	ErrorCode string
	Error     string
}

// NativeFilter returns the filter of the last native call on the queried
// collection.
func (q *QueryTrace) NativeFilter() condtree.Node {
	for i := len(q.Calls) - 1; i >= 0; i-- {
		if q.Calls[i].Collection == q.Collection {
			return q.Calls[i].Filter
		}
	}
	return nil
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expectation held.
	Pass bool `json:"pass"`

	Queries []QueryTrace `json:"-"`

	// Errors contains expectation failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Errors: []string{},
	}
}

// AddError adds an expectation failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
