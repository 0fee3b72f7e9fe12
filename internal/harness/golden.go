package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/sieve/internal/condtree"
	"github.com/roach88/sieve/internal/wire"
)

// Snapshot converts a run into plain data for canonical serialization.
func Snapshot(name string, result *Result) map[string]any {
	queries := make([]any, len(result.Queries))
	for i, q := range result.Queries {
		calls := make([]any, len(q.Calls))
		for j, call := range q.Calls {
			calls[j] = map[string]any{
				"collection": call.Collection,
				"filter":     condtree.ToPlain(call.Filter),
				"rows":       call.Rows,
			}
		}
		entry := map[string]any{
			"name":       q.Name,
			"collection": q.Collection,
			"filter":     condtree.ToPlain(q.Filter),
			"calls":      calls,
		}
		if q.ErrorCode != "" {
			entry["error"] = q.ErrorCode
		} else {
			entry["ids"] = q.IDs
		}
		queries[i] = entry
	}
	return map[string]any{
		"scenario": name,
		"queries":  queries,
	}
}

// MarshalTrace serializes a run as indented canonical JSON with a
// trailing newline.
func MarshalTrace(name string, result *Result) ([]byte, error) {
	data, err := wire.MarshalCanonicalValue(Snapshot(name, result))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares the trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Expectation failures are returned as an error; trace mismatches fail t
// through goldie.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	result, err := Run(ctx, scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	if !result.Pass {
		return result, fmt.Errorf("scenario %s failed:\n%s", scenario.Name, joinErrors(result.Errors))
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := MarshalTrace(name, result)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}

// GoldenPath returns the golden file of a scenario file:
// golden/<base>.golden in the scenario's directory.
func GoldenPath(scenarioFile string) string {
	base := filepath.Base(scenarioFile)
	name := base[:len(base)-len(filepath.Ext(base))]
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}

// WriteGolden writes the trace of a run to path, creating directories.
func WriteGolden(path, name string, result *Result) error {
	data, err := MarshalTrace(name, result)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

// CompareGolden reports whether the trace of a run matches the golden
// file at path.
func CompareGolden(path, name string, result *Result) (bool, error) {
	want, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("failed to read golden file: %w", err)
	}
	got, err := MarshalTrace(name, result)
	if err != nil {
		return false, err
	}
	return bytes.Equal(want, got), nil
}

func joinErrors(errs []string) string {
	var buf bytes.Buffer
	for _, e := range errs {
		buf.WriteString(e)
		if len(e) == 0 || e[len(e)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}
