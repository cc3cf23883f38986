package conditions

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/flowline-ai/flowline/pkg/models"
)

// exprEnv is the evaluation environment exposed to expression predicates.
type exprEnv struct {
	Metadata   map[string]any `expr:"metadata"`
	Extensions map[string]any `expr:"extensions"`
	Intent     string         `expr:"intent"`
	Confidence float64        `expr:"confidence"`
	Content    string         `expr:"content"`
}

// Expression compiles an expr-lang boolean expression into a predicate.
// The expression sees `metadata`, `extensions`, `intent`, `confidence`,
// and `content` (the last message's text), e.g.:
//
//	conditions.Expression(`metadata.tier == "pro" and intent != "general"`)
//
// Compilation errors surface on the first evaluation, so a bad expression
// fails the gated stage rather than the process.
func Expression(src string) Predicate {
	program, compileErr := expr.Compile(src, expr.Env(exprEnv{}), expr.AsBool(), expr.AllowUndefinedVariables())

	return func(_ context.Context, s *models.State) (bool, error) {
		if compileErr != nil {
			return false, fmt.Errorf("compile condition %q: %w", src, compileErr)
		}
		return runExpr(program, s)
	}
}

func runExpr(program *vm.Program, s *models.State) (bool, error) {
	env := exprEnv{
		Metadata:   s.Request.Metadata,
		Extensions: s.Extensions,
	}
	if env.Metadata == nil {
		env.Metadata = map[string]any{}
	}
	if env.Extensions == nil {
		env.Extensions = map[string]any{}
	}
	if ir, ok := s.Intent(); ok {
		env.Intent = ir.Intent
		env.Confidence = ir.Confidence
	}
	if msg, ok := s.Request.LastMessage(); ok {
		env.Content = msg.Text()
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate condition: %w", err)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, fmt.Errorf("condition did not yield a boolean")
	}
	return ok, nil
}
