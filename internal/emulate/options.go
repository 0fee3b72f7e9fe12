package emulate

import "github.com/roach88/sieve/internal/datasource"

// Option configures the emulation layer.
type Option func(*options)

type options struct {
	maxFallbackRows int
	clock           datasource.Clock
}

func defaultOptions() options {
	return options{clock: datasource.SystemClock{}}
}

// WithMaxFallbackRows caps how many rows one in-memory fallback may scan.
// Zero, the default, means no cap. Hitting the cap fails the query with a
// FallbackLimitError.
func WithMaxFallbackRows(n int) Option {
	return func(o *options) {
		o.maxFallbackRows = n
	}
}

// WithClock sets the clock used when matching relative-time operators in
// memory.
func WithClock(c datasource.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}
