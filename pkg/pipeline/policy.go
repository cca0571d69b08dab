package pipeline

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/parapet-labs/parapet/pkg/contracts"
)

// Policy is the compiled threshold expression consulted after
// authorization. A false verdict is a terminal REQUIRE_APPROVAL, not a
// deny.
type Policy struct {
	prg cel.Program
}

// CompilePolicy compiles a CEL expression over {tool, risk, risk_rank,
// pattern, principal}. An empty expression yields a nil policy, which
// always allows.
func CompilePolicy(expr string) (*Policy, error) {
	if expr == "" {
		return nil, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("tool", cel.StringType),
		cel.Variable("risk", cel.StringType),
		cel.Variable("risk_rank", cel.IntType),
		cel.Variable("pattern", cel.StringType),
		cel.Variable("principal", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("policy environment: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("policy expression: %w", issues.Err())
	}
	prg, err := env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("policy program: %w", err)
	}
	return &Policy{prg: prg}, nil
}

// Allow evaluates the policy for one classified action.
func (p *Policy) Allow(action contracts.ToolAction) (bool, error) {
	if p == nil {
		return true, nil
	}
	out, _, err := p.prg.Eval(map[string]any{
		"tool":      action.Tool,
		"risk":      string(action.RiskLevel),
		"risk_rank": action.RiskLevel.Rank(),
		"pattern":   action.PatternName,
		"principal": action.Principal,
	})
	if err != nil {
		return false, fmt.Errorf("policy eval: %w", err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("policy expression did not yield bool")
	}
	return ok, nil
}
