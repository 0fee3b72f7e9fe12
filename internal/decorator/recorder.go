package decorator

import (
	"context"
	"sync"

	"github.com/roach88/sieve/internal/condtree"
	"github.com/roach88/sieve/internal/datasource"
	"github.com/roach88/sieve/internal/schema"
)

// Call is one List call observed by a Recorder.
type Call struct {
	Collection string
	Filter     condtree.Node
	Projection schema.Projection
	Rows       int
}

// Journal collects calls from every Recorder of a data source, in order.
//
// Thread-safety: Journal is safe for concurrent use.
type Journal struct {
	mu    sync.Mutex
	calls []Call
}

// Calls returns a copy of the recorded calls.
func (j *Journal) Calls() []Call {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Call(nil), j.calls...)
}

// Reset forgets recorded calls.
func (j *Journal) Reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = nil
}

func (j *Journal) add(c Call) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, c)
}

// Recorder is a pass-through layer that records the filters reaching its
// child. Placed right above a native collection it shows exactly what the
// store was asked to evaluate.
type Recorder struct {
	Base
	journal *Journal
}

// NewRecording wraps every collection of child with a Recorder writing to
// journal.
func NewRecording(child datasource.DataSource, journal *Journal) *DataSource[*Recorder] {
	return NewDataSource(child, func(c datasource.Collection, ds datasource.DataSource) *Recorder {
		return &Recorder{Base: NewBase(c, ds), journal: journal}
	})
}

// List implements datasource.Collection.
func (r *Recorder) List(ctx context.Context, caller *datasource.Caller, filter *datasource.Filter, projection schema.Projection) ([]schema.Record, error) {
	records, err := r.Child().List(ctx, caller, filter, projection)
	r.journal.add(Call{
		Collection: r.Name(),
		Filter:     filter.Tree(),
		Projection: projection,
		Rows:       len(records),
	})
	return records, err
}
