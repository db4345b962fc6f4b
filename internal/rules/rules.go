// Package rules evaluates the conditions attached to outgoing connections.
package rules

import (
	"context"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/ast"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/parser"
	cuejson "cuelang.org/go/encoding/json"

	"github.com/roach88/procflow/internal/ir"
)

// Evaluator decides whether a condition holds for an instance's variables.
type Evaluator interface {
	Evaluate(ctx context.Context, condition string, vars ir.Object) (bool, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, condition string, vars ir.Object) (bool, error)

// Evaluate calls f.
func (f EvaluatorFunc) Evaluate(ctx context.Context, condition string, vars ir.Object) (bool, error) {
	return f(ctx, condition, vars)
}

// CUEEvaluator evaluates conditions as CUE expressions. Instance variables
// are in scope by name, so "amount > 100 && approved" reads the variables
// amount and approved. The expression must evaluate to a concrete bool.
// Decimal variables keep their exact value.
//
// Parsed conditions are cached by their source text. Safe for concurrent use.
type CUEEvaluator struct {
	mu    sync.Mutex
	ctx   *cue.Context
	exprs map[string]ast.Expr
}

// NewCUEEvaluator creates a CUEEvaluator.
func NewCUEEvaluator() *CUEEvaluator {
	return &CUEEvaluator{ctx: cuecontext.New(), exprs: make(map[string]ast.Expr)}
}

// Evaluate builds condition against vars and returns its boolean value.
func (e *CUEEvaluator) Evaluate(ctx context.Context, condition string, vars ir.Object) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	data, err := ir.MarshalCanonical(vars)
	if err != nil {
		return false, fmt.Errorf("evaluate %q: encode variables: %w", condition, err)
	}
	// Variables go through their JSON form so numbers stay numbers.
	varsExpr, err := cuejson.Extract("variables", data)
	if err != nil {
		return false, fmt.Errorf("evaluate %q: encode variables: %w", condition, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	expr, err := e.parse(condition)
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", condition, err)
	}

	scope := e.ctx.BuildExpr(varsExpr)
	if err := scope.Err(); err != nil {
		return false, fmt.Errorf("evaluate %q: encode variables: %w", condition, err)
	}

	v := e.ctx.BuildExpr(expr, cue.Scope(scope))
	if err := v.Err(); err != nil {
		return false, fmt.Errorf("evaluate %q: %w", condition, err)
	}

	b, err := v.Bool()
	if err != nil {
		return false, fmt.Errorf("evaluate %q: not a boolean: %w", condition, err)
	}
	return b, nil
}

// parse returns the cached syntax tree of condition. e.mu must be held.
func (e *CUEEvaluator) parse(condition string) (ast.Expr, error) {
	if expr, ok := e.exprs[condition]; ok {
		return expr, nil
	}
	expr, err := parser.ParseExpr("condition", condition)
	if err != nil {
		return nil, err
	}
	e.exprs[condition] = expr
	return expr, nil
}
