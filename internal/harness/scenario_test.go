package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "defs"), 0o755))
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, `
name: test_scenario
description: "Test scenario for validation"
definitions: defs
timezone: Europe/Paris
queries:
  - name: by title
    collection: books
    filter: 'title == "Foundation"'
    sort: [-id]
    expect:
      ids: []
      count: 0
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "defs"), scenario.Definitions)
	require.Len(t, scenario.Queries, 1)
	q := scenario.Queries[0]
	assert.Equal(t, []string{"-id"}, q.Sort)
	assert.NotNil(t, q.Expect.IDs, "an explicit empty list is checked")
	assert.Empty(t, q.Expect.IDs)
	require.NotNil(t, q.Expect.Count)
	assert.Equal(t, 0, *q.Expect.Count)
	assert.Nil(t, q.Expect.Calls)
}

func TestLoadScenario_PlainFilter(t *testing.T) {
	path := writeScenario(t, `
name: plain
description: "plain form filter"
definitions: defs
queries:
  - name: q
    collection: books
    plain:
      aggregator: Or
      conditions:
        - {field: id, operator: equal, value: 1}
        - {field: title, operator: blank}
    expect:
      native: {field: id, operator: in, value: [1, 2]}
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	assert.NotNil(t, scenario.Queries[0].Plain)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_MissingDefinitions(t *testing.T) {
	path := writeScenario(t, `
name: s
description: d
definitions: elsewhere
queries:
  - {name: q, collection: books}
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "definitions not found")
}

func TestParseScenario_Invalid(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "unknown field",
			content: "name: s\ndescription: d\ndefinitions: x\nquerys: []\n",
			errMsg:  "failed to parse YAML",
		},
		{
			name:    "missing name",
			content: "description: d\ndefinitions: x\nqueries: [{name: q, collection: c}]\n",
			errMsg:  "name is required",
		},
		{
			name:    "missing description",
			content: "name: s\ndefinitions: x\nqueries: [{name: q, collection: c}]\n",
			errMsg:  "description is required",
		},
		{
			name:    "missing definitions",
			content: "name: s\ndescription: d\nqueries: [{name: q, collection: c}]\n",
			errMsg:  "definitions is required",
		},
		{
			name:    "no queries",
			content: "name: s\ndescription: d\ndefinitions: x\n",
			errMsg:  "queries list is required",
		},
		{
			name:    "bad now",
			content: "name: s\ndescription: d\ndefinitions: x\nnow: yesterday\nqueries: [{name: q, collection: c}]\n",
			errMsg:  "now:",
		},
		{
			name:    "bad timezone",
			content: "name: s\ndescription: d\ndefinitions: x\ntimezone: Mars/Olympus\nqueries: [{name: q, collection: c}]\n",
			errMsg:  "timezone:",
		},
		{
			name:    "missing collection",
			content: "name: s\ndescription: d\ndefinitions: x\nqueries: [{name: q}]\n",
			errMsg:  "collection is required",
		},
		{
			name:    "duplicate query",
			content: "name: s\ndescription: d\ndefinitions: x\nqueries: [{name: q, collection: c}, {name: q, collection: c}]\n",
			errMsg:  "duplicate name",
		},
		{
			name:    "filter and plain",
			content: "name: s\ndescription: d\ndefinitions: x\nqueries: [{name: q, collection: c, filter: 'id == 1', plain: {field: id, operator: equal, value: 1}}]\n",
			errMsg:  "mutually exclusive",
		},
		{
			name:    "bad plain",
			content: "name: s\ndescription: d\ndefinitions: x\nqueries: [{name: q, collection: c, plain: {field: id}}]\n",
			errMsg:  "plain:",
		},
		{
			name:    "empty sort field",
			content: "name: s\ndescription: d\ndefinitions: x\nqueries: [{name: q, collection: c, sort: ['-']}]\n",
			errMsg:  "sort[0]",
		},
		{
			name:    "error with ids",
			content: "name: s\ndescription: d\ndefinitions: x\nqueries: [{name: q, collection: c, expect: {error: VALIDATION, ids: [1]}}]\n",
			errMsg:  "cannot be combined",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}
