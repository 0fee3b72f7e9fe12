// Package celfilter parses textual filters written in CEL syntax into
// condition trees.
//
// Supported forms:
//
//	title == "Foundation" && !(id in [1, 2])
//	publishedAt >= "1950-01-01" || author.firstName.startsWith("Isa")
//	title.contains("ound")   title.matches("^F")   size(title) < 12
//	previous_x_days("publishedAt", 7)   blank("title")
//
// Any operator can be written in the function form with its wire name, the
// field path as the first argument and the value, if any, as the second.
// Relation paths use dots and come out with colons (author:firstName).
package celfilter

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	exprv1 "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	"github.com/roach88/sieve/internal/condtree"
	"github.com/roach88/sieve/internal/schema"
)

// ErrUnsupported is wrapped by errors for valid CEL that has no condition
// tree equivalent.
var ErrUnsupported = errors.New("unsupported expression")

// Parser turns CEL source into condition trees. It only parses: fields need
// no declarations and nothing is evaluated.
type Parser struct {
	env *cel.Env
}

// NewParser creates a parser.
func NewParser() (*Parser, error) {
	env, err := cel.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Parser{env: env}, nil
}

var defaultParser = sync.OnceValues(NewParser)

// Parse parses filter with a shared parser.
func Parse(filter string) (condtree.Node, error) {
	p, err := defaultParser()
	if err != nil {
		return nil, err
	}
	return p.Parse(filter)
}

// Parse parses one filter expression.
func (p *Parser) Parse(filter string) (condtree.Node, error) {
	if strings.TrimSpace(filter) == "" {
		return nil, fmt.Errorf("filter expression is empty")
	}
	ast, issues := p.env.Parse(filter)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to parse filter: %w", issues.Err())
	}
	parsed, err := cel.AstToParsedExpr(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to convert AST: %w", err)
	}
	return buildNode(parsed.GetExpr())
}

func buildNode(expr *exprv1.Expr) (condtree.Node, error) {
	switch v := expr.ExprKind.(type) {
	case *exprv1.Expr_CallExpr:
		return buildCall(v.CallExpr)
	case *exprv1.Expr_ConstExpr:
		b, ok := v.ConstExpr.ConstantKind.(*exprv1.Constant_BoolValue)
		if !ok {
			return nil, fmt.Errorf("%w: filter must be a boolean expression", ErrUnsupported)
		}
		if b.BoolValue {
			return condtree.MatchAll(), nil
		}
		return condtree.MatchNone(), nil
	default:
		return nil, fmt.Errorf("%w: %T at top level", ErrUnsupported, expr.ExprKind)
	}
}

var comparisonOperators = map[string]schema.Operator{
	"_==_": schema.Equal,
	"_!=_": schema.NotEqual,
	"_<_":  schema.LessThan,
	"_>_":  schema.GreaterThan,
	"_<=_": schema.LessThanOrEqual,
	"_>=_": schema.GreaterThanOrEqual,
}

// flipped mirrors a comparison when the field is on the right.
var flipped = map[schema.Operator]schema.Operator{
	schema.Equal:              schema.Equal,
	schema.NotEqual:           schema.NotEqual,
	schema.LessThan:           schema.GreaterThan,
	schema.GreaterThan:        schema.LessThan,
	schema.LessThanOrEqual:    schema.GreaterThanOrEqual,
	schema.GreaterThanOrEqual: schema.LessThanOrEqual,
}

var methodOperators = map[string]schema.Operator{
	"contains":   schema.Contains,
	"startsWith": schema.StartsWith,
	"endsWith":   schema.EndsWith,
	"matches":    schema.Match,
}

func buildCall(call *exprv1.Expr_Call) (condtree.Node, error) {
	switch call.Function {
	case "_&&_", "_||_":
		if len(call.Args) != 2 {
			return nil, fmt.Errorf("logical operator expects two arguments")
		}
		left, err := buildNode(call.Args[0])
		if err != nil {
			return nil, err
		}
		right, err := buildNode(call.Args[1])
		if err != nil {
			return nil, err
		}
		if call.Function == "_&&_" {
			return condtree.Intersect(left, right), nil
		}
		return condtree.Union(left, right), nil

	case "!_":
		if len(call.Args) != 1 {
			return nil, fmt.Errorf("logical NOT expects one argument")
		}
		child, err := buildNode(call.Args[0])
		if err != nil {
			return nil, err
		}
		return condtree.NewNot(child), nil

	case "@in":
		return buildIn(call)
	}

	if op, ok := comparisonOperators[call.Function]; ok {
		return buildComparison(op, call)
	}
	if call.Target != nil {
		if op, ok := methodOperators[call.Function]; ok {
			return buildMethod(op, call)
		}
	}
	return buildFunction(call)
}

func buildComparison(op schema.Operator, call *exprv1.Expr_Call) (condtree.Node, error) {
	if len(call.Args) != 2 {
		return nil, fmt.Errorf("comparison expects two arguments")
	}
	left, right := call.Args[0], call.Args[1]

	// size(f) < n and n > size(f)
	if n, ok := sizeOf(left); ok {
		return buildLength(op, n, right)
	}
	if n, ok := sizeOf(right); ok {
		return buildLength(flipped[op], n, left)
	}

	field, err := fieldPath(left)
	if err != nil {
		field, err = fieldPath(right)
		if err != nil {
			return nil, fmt.Errorf("%w: comparison needs a field on one side", ErrUnsupported)
		}
		op, right = flipped[op], left
	}
	value, err := literal(right)
	if err != nil {
		return nil, err
	}

	if value == nil {
		switch op {
		case schema.Equal:
			return condtree.NewLeaf(field, schema.Missing, nil), nil
		case schema.NotEqual:
			return condtree.NewNot(condtree.NewLeaf(field, schema.Missing, nil)), nil
		default:
			return nil, fmt.Errorf("%w: null can only be compared with == and !=", ErrUnsupported)
		}
	}
	return condtree.NewLeaf(field, op, value), nil
}

func buildLength(op schema.Operator, field string, bound *exprv1.Expr) (condtree.Node, error) {
	v, err := literal(bound)
	if err != nil {
		return nil, err
	}
	n, ok := v.(int64)
	if !ok {
		return nil, fmt.Errorf("size() must be compared with an integer")
	}
	switch op {
	case schema.LessThan:
		return condtree.NewLeaf(field, schema.ShorterThan, n), nil
	case schema.GreaterThan:
		return condtree.NewLeaf(field, schema.LongerThan, n), nil
	case schema.LessThanOrEqual:
		return condtree.NewLeaf(field, schema.ShorterThan, n+1), nil
	case schema.GreaterThanOrEqual:
		return condtree.NewLeaf(field, schema.LongerThan, n-1), nil
	default:
		return nil, fmt.Errorf("%w: size() supports <, >, <= and >=", ErrUnsupported)
	}
}

// sizeOf matches size(f) and f.size().
func sizeOf(expr *exprv1.Expr) (string, bool) {
	call := expr.GetCallExpr()
	if call == nil || call.Function != "size" {
		return "", false
	}
	var arg *exprv1.Expr
	switch {
	case call.Target != nil && len(call.Args) == 0:
		arg = call.Target
	case call.Target == nil && len(call.Args) == 1:
		arg = call.Args[0]
	default:
		return "", false
	}
	field, err := fieldPath(arg)
	return field, err == nil
}

func buildIn(call *exprv1.Expr_Call) (condtree.Node, error) {
	if len(call.Args) != 2 {
		return nil, fmt.Errorf("in operator expects two arguments")
	}
	field, err := fieldPath(call.Args[0])
	if err != nil {
		return nil, fmt.Errorf("%w: left side of in must be a field", ErrUnsupported)
	}
	values, err := literal(call.Args[1])
	if err != nil {
		return nil, err
	}
	if _, ok := values.([]any); !ok {
		return nil, fmt.Errorf("right side of in must be a list")
	}
	return condtree.NewLeaf(field, schema.In, values), nil
}

func buildMethod(op schema.Operator, call *exprv1.Expr_Call) (condtree.Node, error) {
	if len(call.Args) != 1 {
		return nil, fmt.Errorf("%s expects one argument", call.Function)
	}
	field, err := fieldPath(call.Target)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be called on a field", ErrUnsupported, call.Function)
	}
	value, err := literal(call.Args[0])
	if err != nil {
		return nil, err
	}
	return condtree.NewLeaf(field, op, value), nil
}

// buildFunction handles op("field") and op("field", value).
func buildFunction(call *exprv1.Expr_Call) (condtree.Node, error) {
	if call.Target != nil {
		return nil, fmt.Errorf("%w: method %q", ErrUnsupported, call.Function)
	}
	op, err := schema.ParseOperator(call.Function)
	if err != nil {
		return nil, fmt.Errorf("%w: function %q", ErrUnsupported, call.Function)
	}
	if len(call.Args) < 1 || len(call.Args) > 2 {
		return nil, fmt.Errorf("%s expects a field name and an optional value", call.Function)
	}
	name, err := literal(call.Args[0])
	if err != nil {
		return nil, err
	}
	field, ok := name.(string)
	if !ok || field == "" {
		return nil, fmt.Errorf("%s: field name must be a non-empty string", call.Function)
	}
	var value any
	if len(call.Args) == 2 {
		if value, err = literal(call.Args[1]); err != nil {
			return nil, err
		}
	}
	return condtree.NewLeaf(field, op, value), nil
}

// fieldPath reads identifiers and selections: author.firstName becomes
// author:firstName.
func fieldPath(expr *exprv1.Expr) (string, error) {
	switch v := expr.ExprKind.(type) {
	case *exprv1.Expr_IdentExpr:
		return v.IdentExpr.GetName(), nil
	case *exprv1.Expr_SelectExpr:
		if v.SelectExpr.GetTestOnly() {
			return "", fmt.Errorf("%w: has()", ErrUnsupported)
		}
		parent, err := fieldPath(v.SelectExpr.GetOperand())
		if err != nil {
			return "", err
		}
		return parent + ":" + v.SelectExpr.GetField(), nil
	default:
		return "", fmt.Errorf("expression is not a field")
	}
}

// literal reads constants and lists of constants.
func literal(expr *exprv1.Expr) (any, error) {
	switch v := expr.ExprKind.(type) {
	case *exprv1.Expr_ConstExpr:
		switch c := v.ConstExpr.ConstantKind.(type) {
		case *exprv1.Constant_StringValue:
			return c.StringValue, nil
		case *exprv1.Constant_Int64Value:
			return c.Int64Value, nil
		case *exprv1.Constant_Uint64Value:
			return int64(c.Uint64Value), nil
		case *exprv1.Constant_DoubleValue:
			return c.DoubleValue, nil
		case *exprv1.Constant_BoolValue:
			return c.BoolValue, nil
		case *exprv1.Constant_NullValue:
			return nil, nil
		default:
			return nil, fmt.Errorf("%w: constant %T", ErrUnsupported, c)
		}
	case *exprv1.Expr_ListExpr:
		out := make([]any, 0, len(v.ListExpr.GetElements()))
		for _, elem := range v.ListExpr.GetElements() {
			item, err := literal(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, item)
		}
		return out, nil
	case *exprv1.Expr_CallExpr:
		// -x on a literal.
		if v.CallExpr.Function == "-_" && len(v.CallExpr.Args) == 1 {
			inner, err := literal(v.CallExpr.Args[0])
			if err != nil {
				return nil, err
			}
			switch n := inner.(type) {
			case int64:
				return -n, nil
			case float64:
				return -n, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: value must be a literal", ErrUnsupported)
}
