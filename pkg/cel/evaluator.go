package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// Document is the view of a rule exposed to filter expressions.
type Document struct {
	RuleID   string
	Name     string
	Kind     string
	Maturity string
	Contents map[string]interface{}
	Metadata map[string]interface{}
}

// Evaluator compiles and runs CEL filter expressions over rule documents.
type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("rule_id", cel.StringType),
		cel.Variable("name", cel.StringType),
		cel.Variable("kind", cel.StringType),
		cel.Variable("maturity", cel.StringType),
		cel.Variable("contents", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

// ValidateFilterExpression checks that an expression compiles and returns a
// boolean, without building a program.
func (e *Evaluator) ValidateFilterExpression(expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	return nil
}

// Filter is a compiled boolean expression, reusable across a whole rule set.
type Filter struct {
	program cel.Program
}

// CompileFilter compiles an expression once; Eval can then be applied to
// every rule in a package without recompiling.
func (e *Evaluator) CompileFilter(expression string) (*Filter, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Filter{program: program}, nil
}

// Eval runs the filter against one rule document.
func (f *Filter) Eval(ctx context.Context, doc Document) (bool, error) {
	vars := map[string]interface{}{
		"rule_id":  doc.RuleID,
		"name":     doc.Name,
		"kind":     doc.Kind,
		"maturity": doc.Maturity,
		"contents": doc.Contents,
		"metadata": doc.Metadata,
	}

	result, _, err := f.program.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}
