package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/sieve/internal/condtree"
	"github.com/roach88/sieve/internal/datasource"
	"github.com/roach88/sieve/internal/emulate"
	"github.com/roach88/sieve/internal/schema"
)

// Placeholder is replaced by the query value in a replacement template.
const Placeholder = "$value"

// Replacement rewrites "Field Operator value" into the template tree with
// the value substituted.
type Replacement struct {
	Field    string
	Operator schema.Operator
	Template any // plain form
}

// NewReplacement checks that template is a well-formed plain tree.
func NewReplacement(field string, op schema.Operator, template any) (*Replacement, error) {
	r := &Replacement{Field: field, Operator: op, Template: template}
	tree, err := r.Build("")
	if err != nil {
		return nil, err
	}
	if tree == nil {
		return nil, fmt.Errorf("template is empty")
	}
	return r, nil
}

// Build returns the template tree for value.
func (r *Replacement) Build(value any) (condtree.Node, error) {
	return condtree.FromPlain(substitute(r.Template, value))
}

// Handler adapts the replacement to the emulation layer.
func (r *Replacement) Handler() emulate.Handler {
	return emulate.Replace(func(_ context.Context, value any, _ *datasource.Caller) (condtree.Node, error) {
		return r.Build(value)
	})
}

// Leaves returns the leaves of the template.
func (r *Replacement) Leaves() []*condtree.Leaf {
	tree, err := r.Build("")
	if err != nil || tree == nil {
		return nil
	}
	var leaves []*condtree.Leaf
	tree.ForEachLeaf(func(l *condtree.Leaf) {
		leaves = append(leaves, l)
	})
	return leaves
}

func substitute(template, value any) any {
	switch t := template.(type) {
	case string:
		if t == Placeholder {
			return value
		}
		if strings.Contains(t, Placeholder) {
			s, ok := value.(string)
			if !ok {
				s = fmt.Sprint(value)
			}
			return strings.ReplaceAll(t, Placeholder, s)
		}
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			out[k] = substitute(v, value)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			out[i] = substitute(v, value)
		}
		return out
	default:
		return template
	}
}
