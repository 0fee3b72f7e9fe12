// Package pipeline stacks the rewriting layers over a native data source.
//
// From the inside out:
//
//	native -> recorder (optional) -> emulate -> equivalence
//
// Callers query the outermost layer. Filters flow inwards and are rewritten
// by each layer; records flow back out untouched.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/sieve/internal/condtree"
	"github.com/roach88/sieve/internal/datasource"
	"github.com/roach88/sieve/internal/decorator"
	"github.com/roach88/sieve/internal/emulate"
	"github.com/roach88/sieve/internal/equivalence"
	"github.com/roach88/sieve/internal/schema"
)

// Option configures Build.
type Option func(*config)

type config struct {
	journal         *decorator.Journal
	clock           datasource.Clock
	maxFallbackRows int
}

// WithJournal records every call reaching the native data source.
func WithJournal(j *decorator.Journal) Option {
	return func(c *config) {
		c.journal = j
	}
}

// WithClock sets the clock of every layer that evaluates relative time.
func WithClock(clock datasource.Clock) Option {
	return func(c *config) {
		c.clock = clock
	}
}

// WithMaxFallbackRows caps in-memory emulation scans.
func WithMaxFallbackRows(n int) Option {
	return func(c *config) {
		c.maxFallbackRows = n
	}
}

// Pipeline is a built layer stack.
type Pipeline struct {
	native    datasource.DataSource
	journal   *decorator.Journal
	emulation *decorator.DataSource[*emulate.Collection]
	top       *decorator.DataSource[*equivalence.Collection]
}

// Build wraps native with the rewriting layers.
func Build(native datasource.DataSource, opts ...Option) *Pipeline {
	cfg := config{clock: datasource.SystemClock{}}
	for _, opt := range opts {
		opt(&cfg)
	}

	inner := native
	if cfg.journal != nil {
		inner = decorator.NewRecording(native, cfg.journal)
	}
	emulation := emulate.New(inner,
		emulate.WithClock(cfg.clock),
		emulate.WithMaxFallbackRows(cfg.maxFallbackRows),
	)
	top := equivalence.New(emulation, equivalence.WithClock(cfg.clock))

	return &Pipeline{
		native:    native,
		journal:   cfg.journal,
		emulation: emulation,
		top:       top,
	}
}

// DataSource returns the outermost layer.
func (p *Pipeline) DataSource() datasource.DataSource { return p.top }

// Native returns the data source the pipeline was built on.
func (p *Pipeline) Native() datasource.DataSource { return p.native }

// Journal returns the recording journal, nil when not recording.
func (p *Pipeline) Journal() *decorator.Journal { return p.journal }

// Emulation returns the emulation layer of a collection, for handler
// registration.
func (p *Pipeline) Emulation(name string) (*emulate.Collection, error) {
	return p.emulation.Collection(name)
}

// Freeze seals every emulation registry.
func (p *Pipeline) Freeze() {
	emulate.Freeze(p.emulation)
}

// Collection returns the outermost layer of a collection.
func (p *Pipeline) Collection(name string) (datasource.Collection, error) {
	return p.top.GetCollection(name)
}

// List queries a collection through every layer.
func (p *Pipeline) List(ctx context.Context, caller *datasource.Caller, collection string, filter *datasource.Filter, projection schema.Projection) ([]schema.Record, error) {
	c, err := p.Collection(collection)
	if err != nil {
		return nil, err
	}
	return c.List(ctx, caller, filter, projection)
}

// Explanation is what a query turned into on its way down.
type Explanation struct {
	Collection string
	Filter     condtree.Node
	Records    []schema.Record

	// Calls are the native calls in order: in-memory fallback scans first,
	// the final rewritten query last.
	Calls []decorator.Call
}

// NativeFilter returns the filter of the last native call on the queried
// collection, the one that produced Records.
func (e *Explanation) NativeFilter() condtree.Node {
	for i := len(e.Calls) - 1; i >= 0; i-- {
		if e.Calls[i].Collection == e.Collection {
			return e.Calls[i].Filter
		}
	}
	return nil
}

// Explain runs a query and reports the native calls it caused. The
// pipeline must record.
func (p *Pipeline) Explain(ctx context.Context, caller *datasource.Caller, collection string, filter *datasource.Filter, projection schema.Projection) (*Explanation, error) {
	if p.journal == nil {
		return nil, fmt.Errorf("explain %s: pipeline was built without a journal", collection)
	}
	start := len(p.journal.Calls())
	records, err := p.List(ctx, caller, collection, filter, projection)
	if err != nil {
		return nil, err
	}
	return &Explanation{
		Collection: collection,
		Filter:     filter.Tree(),
		Records:    records,
		Calls:      p.journal.Calls()[start:],
	}, nil
}

// ErrorCode classifies a query error for reports: the QueryError code, the
// emulation error codes, CANCELED for context errors, ERROR otherwise.
func ErrorCode(err error) string {
	var qe *datasource.QueryError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &qe):
		return string(qe.Code)
	case emulate.IsReplacementCycleError(err):
		return emulate.ErrCodeReplacementCycle
	case emulate.IsFallbackLimitError(err):
		return emulate.ErrCodeFallbackLimit
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "CANCELED"
	default:
		return "ERROR"
	}
}
