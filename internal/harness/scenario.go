package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/sieve/internal/condtree"
)

// Scenario is a list of queries run against one set of collection
// definitions.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Definitions is the CUE package directory declaring the collections.
	// Relative paths are resolved against the scenario file.
	Definitions string `yaml:"definitions"`

	// Now fixes the clock, RFC 3339. Defaults to testutil.DefaultNow.
	Now string `yaml:"now,omitempty"`

	// Timezone is the caller's IANA zone. Defaults to UTC.
	Timezone string `yaml:"timezone,omitempty"`

	// MaxFallbackRows caps in-memory emulation scans. Zero means no cap.
	MaxFallbackRows int `yaml:"max_fallback_rows,omitempty"`

	Queries []Query `yaml:"queries"`
}

// Query is one List call through the pipeline.
type Query struct {
	Name       string `yaml:"name"`
	Collection string `yaml:"collection"`

	// Filter is a CEL expression. Mutually exclusive with Plain.
	Filter string `yaml:"filter,omitempty"`

	// Plain is a condition tree in plain form.
	Plain any `yaml:"plain,omitempty"`

	// Projection defaults to the primary keys.
	Projection []string `yaml:"projection,omitempty"`

	// Sort lists field names, "-" prefixed for descending.
	Sort []string `yaml:"sort,omitempty"`

	Skip  int `yaml:"skip,omitempty"`
	Limit int `yaml:"limit,omitempty"`

	Expect Expectation `yaml:"expect"`
}

// Expectation is checked against the outcome of a query. Nil fields are
// not checked; an explicit empty ids list expects no records.
type Expectation struct {
	IDs    []any  `yaml:"ids,omitempty"`
	Count  *int   `yaml:"count,omitempty"`
	Native any    `yaml:"native,omitempty"`
	Calls  *int   `yaml:"calls,omitempty"`
	Error  string `yaml:"error,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields, or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if scenario.Definitions != "" && !filepath.IsAbs(scenario.Definitions) {
		scenario.Definitions = filepath.Join(filepath.Dir(path), scenario.Definitions)
	}
	if _, err := os.Stat(scenario.Definitions); err != nil {
		return nil, fmt.Errorf("invalid scenario: definitions not found: %s", scenario.Definitions)
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML. Definitions are left as written.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // typos like "expcet:" fail loudly
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Definitions == "" {
		return fmt.Errorf("definitions is required")
	}
	if s.Now != "" {
		if _, err := time.Parse(time.RFC3339, s.Now); err != nil {
			return fmt.Errorf("now: %w", err)
		}
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
	}
	if s.MaxFallbackRows < 0 {
		return fmt.Errorf("max_fallback_rows must be non-negative")
	}
	if len(s.Queries) == 0 {
		return fmt.Errorf("queries list is required and must be non-empty")
	}

	names := map[string]bool{}
	for i := range s.Queries {
		q := &s.Queries[i]
		if q.Name == "" {
			return fmt.Errorf("queries[%d]: name is required", i)
		}
		if names[q.Name] {
			return fmt.Errorf("queries[%d]: duplicate name %q", i, q.Name)
		}
		names[q.Name] = true
		if err := validateQuery(q); err != nil {
			return fmt.Errorf("queries[%d] (%s): %w", i, q.Name, err)
		}
	}
	return nil
}

func validateQuery(q *Query) error {
	if q.Collection == "" {
		return fmt.Errorf("collection is required")
	}
	if q.Filter != "" && q.Plain != nil {
		return fmt.Errorf("filter and plain are mutually exclusive")
	}
	if q.Plain != nil {
		if _, err := condtree.FromPlain(q.Plain); err != nil {
			return fmt.Errorf("plain: %w", err)
		}
	}
	for j, s := range q.Sort {
		if strings.TrimPrefix(s, "-") == "" {
			return fmt.Errorf("sort[%d]: field is required", j)
		}
	}
	if q.Skip < 0 || q.Limit < 0 {
		return fmt.Errorf("skip and limit must be non-negative")
	}
	if q.Expect.Native != nil {
		if _, err := condtree.FromPlain(q.Expect.Native); err != nil {
			return fmt.Errorf("expect.native: %w", err)
		}
	}
	if q.Expect.Error != "" && (q.Expect.IDs != nil || q.Expect.Count != nil || q.Expect.Native != nil) {
		return fmt.Errorf("expect.error cannot be combined with result expectations")
	}
	if q.Expect.Count != nil && *q.Expect.Count < 0 {
		return fmt.Errorf("expect.count must be non-negative")
	}
	return nil
}
