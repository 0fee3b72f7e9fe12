package emulate

import (
	"fmt"
	"slices"
	"strings"
)

// RuleRef describes one declarative replacement for static analysis: the
// replacement id it provides and the ids of the replacements its template
// uses.
type RuleRef struct {
	ID   string
	Uses []string
}

// CycleWarning reports replacements that rewrite into each other. At query
// time such a loop fails with a ReplacementCycleError, but only for the
// values that reach it, so it is surfaced early as a warning.
type CycleWarning struct {
	Path    []string `json:"path"`
	Message string   `json:"message"`
}

// AnalyzeCycles finds loops among declarative replacements.
//
// Rules form a graph where an edge a -> b means a's template uses b. Each
// strongly connected component with more than one rule, or a rule that
// uses itself, is reported once. Output is sorted by the first id of each
// path.
func AnalyzeCycles(rules []RuleRef) []CycleWarning {
	if len(rules) == 0 {
		return []CycleWarning{}
	}

	graph := buildRuleGraph(rules)
	warnings := []CycleWarning{}
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || slices.Contains(graph[scc[0]], scc[0]) {
			warnings = append(warnings, sccToWarning(scc, graph))
		}
	}
	slices.SortFunc(warnings, func(a, b CycleWarning) int {
		return strings.Compare(a.Path[0], b.Path[0])
	})
	return warnings
}

type ruleGraph map[string][]string

// buildRuleGraph keeps only edges to ids that are themselves rules; uses
// of native or emulated operators end the chain.
func buildRuleGraph(rules []RuleRef) ruleGraph {
	graph := make(ruleGraph, len(rules))
	for _, r := range rules {
		if graph[r.ID] == nil {
			graph[r.ID] = []string{}
		}
	}
	for _, r := range rules {
		for _, u := range r.Uses {
			if _, ok := graph[u]; ok && !slices.Contains(graph[r.ID], u) {
				graph[r.ID] = append(graph[r.ID], u)
			}
		}
		slices.Sort(graph[r.ID])
	}
	return graph
}

func tarjanSCC(graph ruleGraph) [][]string {
	var (
		index   int
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, seen := indices[w]; !seen {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			slices.Sort(scc)
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for n := range graph {
		nodes = append(nodes, n)
	}
	slices.Sort(nodes)
	for _, n := range nodes {
		if _, seen := indices[n]; !seen {
			strongConnect(n)
		}
	}
	return sccs
}

// sccToWarning walks the component from its smallest id back to itself.
func sccToWarning(scc []string, graph ruleGraph) CycleWarning {
	start := scc[0]
	if len(scc) == 1 {
		return CycleWarning{
			Path:    []string{start, start},
			Message: fmt.Sprintf("replacement %s uses itself", start),
		}
	}

	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}
	path := []string{start}
	visited := map[string]bool{start: true}
	current := start
	for {
		next := ""
		for _, w := range graph[current] {
			if members[w] && (!visited[w] || w == start) {
				next = w
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		visited[next] = true
		current = next
	}
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("replacement cycle: %s", strings.Join(path, " -> ")),
	}
}
