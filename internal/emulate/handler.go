package emulate

import (
	"context"

	"github.com/roach88/sieve/internal/condtree"
	"github.com/roach88/sieve/internal/datasource"
)

// ReplaceFunc returns a tree equivalent to "field operator value". It may
// use any operator the collection advertises, including emulated ones.
// Returning a nil tree means no equivalent exists for this value and the
// leaf is emulated in memory instead.
type ReplaceFunc func(ctx context.Context, value any, caller *datasource.Caller) (condtree.Node, error)

// Handler says how a (field, operator) pair is provided. It is either
// Emulate() or Replace(fn).
type Handler struct {
	replace ReplaceFunc
}

// Emulate provides the operator by filtering records in memory.
func Emulate() Handler {
	return Handler{}
}

// Replace provides the operator by rewriting it with fn.
func Replace(fn ReplaceFunc) Handler {
	return Handler{replace: fn}
}

// IsEmulation reports whether the handler filters in memory.
func (h Handler) IsEmulation() bool {
	return h.replace == nil
}
