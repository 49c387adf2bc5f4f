package query

import (
	"fmt"

	"github.com/google/cel-go/cel"
	celpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// ParsePredicate parses a CEL-syntax predicate expression, such as
// `n >= 10 && n <= 20`, into a Predicate tree.
//
// Grounded on the teacher's cel.Evaluator (cel/cel.go): that type compiles
// an expression and runs it through cel's own evaluator. This package only
// needs the syntax tree, not an evaluator — the planner has to inspect
// operators and operands directly to choose indexes — so it calls env.Parse
// (skipping type-checking, since field names are collection-specific and
// not declared as CEL variables up front) and walks the resulting AST
// itself rather than compiling a cel.Program.
func ParsePredicate(expression string) (Predicate, error) {
	env, err := cel.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("creating CEL environment: %w", err)
	}
	ast, iss := env.Parse(expression)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("parsing predicate expression: %w", iss.Err())
	}
	parsed, err := cel.AstToParsedExpr(ast)
	if err != nil {
		return nil, fmt.Errorf("converting predicate AST: %w", err)
	}
	return walk(parsed.GetExpr())
}

func walk(e *celpb.Expr) (Predicate, error) {
	call := e.GetCallExpr()
	if call == nil {
		return nil, fmt.Errorf("unsupported predicate expression %q", e.String())
	}

	switch call.GetFunction() {
	case "_&&_":
		children, err := walkArgs(call.GetArgs())
		if err != nil {
			return nil, err
		}
		return And{Children: children}, nil
	case "_||_":
		children, err := walkArgs(call.GetArgs())
		if err != nil {
			return nil, err
		}
		return Or{Children: children}, nil
	case "!_":
		args := call.GetArgs()
		if len(args) != 1 {
			return nil, fmt.Errorf("negation expects exactly one operand")
		}
		child, err := walk(args[0])
		if err != nil {
			return nil, err
		}
		return Not{Child: child}, nil
	case "_==_", "_!=_", "_<_", "_<=_", "_>_", "_>=_":
		return walkComparison(call.GetFunction(), call.GetArgs())
	default:
		return nil, fmt.Errorf("unsupported operator %q in predicate", call.GetFunction())
	}
}

func walkArgs(args []*celpb.Expr) ([]Predicate, error) {
	out := make([]Predicate, 0, len(args))
	for _, a := range args {
		p, err := walk(a)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func walkComparison(function string, args []*celpb.Expr) (Predicate, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("comparison %q expects exactly two operands", function)
	}
	op := opFor(function)

	if field, ok := fieldName(args[0]); ok {
		if lit, ok := literal(args[1]); ok {
			return Leaf{Field: field, Op: op, Literal: lit}, nil
		}
	}
	if field, ok := fieldName(args[1]); ok {
		if lit, ok := literal(args[0]); ok {
			return Leaf{Field: field, Op: op.flip(), Literal: lit}, nil
		}
	}
	return nil, fmt.Errorf("comparison %q must be between a field name and a literal", function)
}

func opFor(function string) Op {
	switch function {
	case "_==_":
		return Eq
	case "_!=_":
		return Ne
	case "_<_":
		return Lt
	case "_<=_":
		return Le
	case "_>_":
		return Gt
	case "_>=_":
		return Ge
	default:
		return Eq
	}
}

func fieldName(e *celpb.Expr) (string, bool) {
	if id := e.GetIdentExpr(); id != nil {
		return id.GetName(), true
	}
	return "", false
}

func literal(e *celpb.Expr) (any, bool) {
	c := e.GetConstExpr()
	if c == nil {
		return nil, false
	}
	switch v := c.GetConstantKind().(type) {
	case *celpb.Constant_Int64Value:
		return v.Int64Value, true
	case *celpb.Constant_Uint64Value:
		return v.Uint64Value, true
	case *celpb.Constant_DoubleValue:
		return v.DoubleValue, true
	case *celpb.Constant_StringValue:
		return v.StringValue, true
	case *celpb.Constant_BoolValue:
		return v.BoolValue, true
	default:
		return nil, false
	}
}
