package condtree

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/sieve/internal/schema"
)

// Plain form keys. This is the wire contract for condition trees.
const (
	keyField      = "field"
	keyOperator   = "operator"
	keyValue      = "value"
	keyAggregator = "aggregator"
	keyConditions = "conditions"
	keyCondition  = "condition"
)

// ToPlain converts a tree to its plain form:
//
//	{"field": ..., "operator": ..., "value": ...}
//	{"aggregator": "And"|"Or", "conditions": [...]}
//	{"condition": ...}
//
// A leaf without a value omits the value key. A nil tree yields nil.
func ToPlain(tree Node) any {
	switch n := tree.(type) {
	case *Leaf:
		out := map[string]any{keyField: n.Field, keyOperator: string(n.Operator)}
		if n.Value != nil {
			out[keyValue] = n.Value
		}
		return out
	case *Branch:
		conditions := make([]any, len(n.Conditions))
		for i, c := range n.Conditions {
			conditions[i] = ToPlain(c)
		}
		return map[string]any{keyAggregator: string(n.Aggregator), keyConditions: conditions}
	case *Not:
		return map[string]any{keyCondition: ToPlain(n.Condition)}
	default:
		return nil
	}
}

// FromPlain builds a tree from its plain form. It accepts the maps and
// slices produced by encoding/json, yaml.v3 and msgpack decoders. A nil
// input yields a nil tree.
//
// Branches with one condition collapse to that condition; branches with
// none become MatchNone or MatchAll.
func FromPlain(plain any) (Node, error) {
	if plain == nil {
		return nil, nil
	}
	return fromPlain(plain, "$")
}

func fromPlain(plain any, path string) (Node, error) {
	obj, ok := asObject(plain)
	if !ok {
		return nil, &PlainError{Path: path, Message: fmt.Sprintf("expected an object, got %T", plain)}
	}

	switch {
	case obj[keyField] != nil:
		return leafFromPlain(obj, path)
	case obj[keyAggregator] != nil:
		return branchFromPlain(obj, path)
	case obj[keyCondition] != nil:
		child, err := fromPlain(obj[keyCondition], path+".condition")
		if err != nil {
			return nil, err
		}
		return NewNot(child), nil
	default:
		return nil, &PlainError{Path: path, Message: "object is neither a leaf, a branch nor a negation"}
	}
}

func leafFromPlain(obj map[string]any, path string) (Node, error) {
	field, ok := obj[keyField].(string)
	if !ok || field == "" {
		return nil, &PlainError{Path: path + ".field", Message: "must be a non-empty string"}
	}
	name, ok := obj[keyOperator].(string)
	if !ok {
		return nil, &PlainError{Path: path + ".operator", Message: "must be a string"}
	}
	op, err := schema.ParseOperator(name)
	if err != nil {
		return nil, &PlainError{Path: path + ".operator", Message: err.Error()}
	}
	return NewLeaf(field, op, obj[keyValue]), nil
}

func branchFromPlain(obj map[string]any, path string) (Node, error) {
	name, ok := obj[keyAggregator].(string)
	if !ok {
		return nil, &PlainError{Path: path + ".aggregator", Message: "must be a string"}
	}
	agg, err := ParseAggregator(name)
	if err != nil {
		return nil, &PlainError{Path: path + ".aggregator", Message: err.Error()}
	}
	var raw []any
	if obj[keyConditions] != nil {
		if raw, ok = asList(obj[keyConditions]); !ok {
			return nil, &PlainError{Path: path + ".conditions", Message: "must be a list"}
		}
	}

	conditions := make([]Node, len(raw))
	for i, c := range raw {
		child, err := fromPlain(c, fmt.Sprintf("%s.conditions[%d]", path, i))
		if err != nil {
			return nil, err
		}
		conditions[i] = child
	}
	if len(conditions) == 1 {
		return conditions[0], nil
	}
	return &Branch{Aggregator: agg, Conditions: conditions}, nil
}

func asObject(v any) (map[string]any, bool) {
	switch o := v.(type) {
	case map[string]any:
		return o, true
	case schema.Record:
		return o, true
	case map[any]any:
		out := make(map[string]any, len(o))
		for k, val := range o {
			s, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[s] = val
		}
		return out, true
	}
	return nil, false
}

// MarshalJSON encodes a tree in plain form.
func MarshalJSON(tree Node) ([]byte, error) {
	return json.Marshal(ToPlain(tree))
}

// UnmarshalJSON decodes a tree from plain-form JSON.
func UnmarshalJSON(data []byte) (Node, error) {
	var plain any
	if err := json.Unmarshal(data, &plain); err != nil {
		return nil, &PlainError{Message: err.Error()}
	}
	return FromPlain(plain)
}
