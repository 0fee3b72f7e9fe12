// Package harness runs filter scenarios against an in-memory pipeline and
// records what reached the native store.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: prefix_search
//	description: "starts_with is rewritten into like"
//	definitions: ../../config/testdata/library
//	now: "2024-03-14T15:09:26Z"
//	timezone: Europe/Paris
//	queries:
//	  - name: title prefix
//	    collection: books
//	    filter: 'title.startsWith("Foun")'
//	    projection: [id, title]
//	    sort: [-id]
//	    expect:
//	      ids: [2]
//	      native: {field: title, operator: like, value: "Foun%"}
//	      calls: 1
//
// definitions points to a CUE package directory (see package config),
// relative to the scenario file. A query gives its condition tree either
// as CEL (filter) or in plain form (plain). Sort entries prefixed with "-"
// are descending.
//
// # Expectations
//
//   - ids: primary keys of the returned records, in order
//   - count: number of returned records
//   - native: the filter of the last native call on the queried collection
//   - calls: number of native calls, fallback scans included
//   - error: the error code the query fails with
//
// Omitted expectations are not checked.
//
// # Golden Traces
//
// The trace of a run lists, per query, the native calls with their
// filters and row counts. It is serialized as indented canonical JSON and
// compared against testdata/golden/<name>.golden in tests, or against
// golden/<file>.golden next to the scenario from the CLI.
package harness
