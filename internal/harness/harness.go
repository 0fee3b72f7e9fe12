package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/sieve/internal/celfilter"
	"github.com/roach88/sieve/internal/condtree"
	"github.com/roach88/sieve/internal/config"
	"github.com/roach88/sieve/internal/datasource"
	"github.com/roach88/sieve/internal/decorator"
	"github.com/roach88/sieve/internal/memstore"
	"github.com/roach88/sieve/internal/pipeline"
	"github.com/roach88/sieve/internal/schema"
	"github.com/roach88/sieve/internal/testutil"
)

// Harness executes the queries of one scenario.
// It owns a fresh in-memory data source, a fixed clock and a recording
// pipeline, so runs are reproducible.
type Harness struct {
	definition *config.Definition
	pipeline   *pipeline.Pipeline
	journal    *decorator.Journal
	caller     *datasource.Caller
	logger     *slog.Logger
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger. Logs are discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// New loads the scenario's definitions and builds the pipeline.
func New(scenario *Scenario, opts ...Option) (*Harness, error) {
	def, err := config.Load(scenario.Definitions)
	if err != nil {
		return nil, fmt.Errorf("failed to load definitions: %w", err)
	}

	now := testutil.DefaultNow
	if scenario.Now != "" {
		if now, err = time.Parse(time.RFC3339, scenario.Now); err != nil {
			return nil, fmt.Errorf("now: %w", err)
		}
	}
	tz := time.UTC
	if scenario.Timezone != "" {
		if tz, err = time.LoadLocation(scenario.Timezone); err != nil {
			return nil, fmt.Errorf("timezone: %w", err)
		}
	}
	clock := testutil.NewFixedClock(now)

	native, err := def.NewMemory(memstore.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("failed to create collections: %w", err)
	}
	journal := &decorator.Journal{}
	p := pipeline.Build(native,
		pipeline.WithJournal(journal),
		pipeline.WithClock(clock),
		pipeline.WithMaxFallbackRows(scenario.MaxFallbackRows),
	)
	if err := def.Apply(p); err != nil {
		return nil, err
	}
	p.Freeze()

	h := &Harness{
		definition: def,
		pipeline:   p,
		journal:    journal,
		caller: &datasource.Caller{
			ID:        "harness",
			RequestID: testutil.NewSequentialRequestIDs(scenario.Name).Generate(),
			Timezone:  tz,
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Run executes a scenario and checks its expectations.
//
// The returned error is reserved for scenarios that cannot run at all
// (bad definitions, unparsable filters). Query errors are part of the
// trace and failed expectations are reported in Result.Errors.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	h, err := New(scenario, opts...)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	for i, q := range scenario.Queries {
		trace, err := h.Query(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("queries[%d] (%s): %w", i, q.Name, err)
		}
		result.Queries = append(result.Queries, *trace)
		if err := checkQuery(q, trace); err != nil {
			result.AddError(err.Error())
		}
	}
	return result, nil
}

// Query runs one query and traces the native calls it caused.
func (h *Harness) Query(ctx context.Context, q Query) (*QueryTrace, error) {
	tree, err := queryTree(q)
	if err != nil {
		return nil, err
	}
	c := h.definition.Collection(q.Collection)
	if c == nil {
		return nil, fmt.Errorf("collection %q is not defined", q.Collection)
	}

	filter := &datasource.Filter{ConditionTree: tree}
	for _, s := range q.Sort {
		field, desc := strings.CutPrefix(s, "-")
		filter.Sort = append(filter.Sort, datasource.SortClause{Field: field, Ascending: !desc})
	}
	if q.Skip > 0 || q.Limit > 0 {
		filter.Page = &datasource.Page{Skip: q.Skip, Limit: q.Limit}
	}
	projection := schema.Projection(q.Projection)
	if len(projection) == 0 {
		projection = schema.Projection{}.WithPrimaryKeys(c.Schema)
	}

	trace := &QueryTrace{Name: q.Name, Collection: q.Collection, Filter: tree}
	start := len(h.journal.Calls())
	explanation, err := h.pipeline.Explain(ctx, h.caller, q.Collection, filter, projection)
	if err != nil {
		trace.Calls = h.journal.Calls()[start:]
		trace.ErrorCode = pipeline.ErrorCode(err)
		trace.Error = err.Error()
		h.logger.Debug("query failed", "query", q.Name, "code", trace.ErrorCode, "error", err)
		return trace, nil
	}

	trace.Calls = explanation.Calls
	trace.IDs = make([]any, 0, len(explanation.Records))
	for _, rec := range explanation.Records {
		pk := rec.PrimaryKey(c.Schema)
		if len(pk) == 1 {
			trace.IDs = append(trace.IDs, pk[0])
		} else {
			trace.IDs = append(trace.IDs, pk)
		}
	}
	h.logger.Debug("query done",
		"query", q.Name,
		"native", condtree.Format(explanation.NativeFilter()),
		"rows", len(explanation.Records),
	)
	return trace, nil
}

// queryTree parses the query's filter, CEL or plain.
func queryTree(q Query) (condtree.Node, error) {
	if q.Filter != "" {
		return celfilter.Parse(q.Filter)
	}
	return condtree.FromPlain(q.Plain)
}
