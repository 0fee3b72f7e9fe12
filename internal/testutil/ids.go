package testutil

import (
	"fmt"
	"sync"
)

// SequentialRequestIDs generates "<prefix>-1", "<prefix>-2", ...
//
// This enables deterministic test execution and golden snapshot comparison:
// the same scenario produces the same request ids on every run.
//
// Thread-safety: Generate is safe for concurrent use.
type SequentialRequestIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialRequestIDs creates a generator. If prefix is empty, "req"
// is used.
func NewSequentialRequestIDs(prefix string) *SequentialRequestIDs {
	if prefix == "" {
		prefix = "req"
	}
	return &SequentialRequestIDs{prefix: prefix}
}

// Generate implements datasource.RequestIDGenerator.
func (g *SequentialRequestIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
