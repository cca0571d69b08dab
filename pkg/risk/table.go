// Package risk classifies tool actions into LOW/MEDIUM/HIGH/CRITICAL by
// ordered pattern match against a configurable signature table.
package risk

import (
	"fmt"
	"regexp"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"

	"github.com/parapet-labs/parapet/pkg/contracts"
)

// PatternSpec is the serializable form of one signature.
type PatternSpec struct {
	Name  string              `yaml:"name" json:"name"`
	Level contracts.RiskLevel `yaml:"level" json:"level"`
	Match string              `yaml:"match" json:"match"` // regexp over the command, case-insensitive
	Guard string              `yaml:"guard,omitempty" json:"guard,omitempty"` // optional CEL over {tool, command, scope}
}

// pattern is a compiled signature. Patterns are evaluated in table order;
// the first match wins.
type pattern struct {
	spec  PatternSpec
	re    *regexp.Regexp
	guard cel.Program // nil when no guard
}

// Table is an immutable, compiled pattern table. Reload builds a fresh
// Table and swaps it in atomically; a Table is never mutated in place.
type Table struct {
	patterns []pattern
}

func newCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("tool", cel.StringType),
		cel.Variable("command", cel.StringType),
		cel.Variable("scope", cel.StringType),
	)
}

// CompileTable compiles specs into a Table. Specs must be ordered most
// severe first; compilation preserves order.
func CompileTable(specs []PatternSpec) (*Table, error) {
	env, err := newCELEnv()
	if err != nil {
		return nil, fmt.Errorf("cel environment: %w", err)
	}

	compiled := make([]pattern, 0, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("pattern with empty name")
		}
		if !spec.Level.Valid() {
			return nil, fmt.Errorf("pattern %s: invalid level %q", spec.Name, spec.Level)
		}
		re, err := regexp.Compile("(?i)" + spec.Match)
		if err != nil {
			return nil, fmt.Errorf("pattern %s: %w", spec.Name, err)
		}

		p := pattern{spec: spec, re: re}
		if spec.Guard != "" {
			ast, issues := env.Compile(spec.Guard)
			if issues != nil && issues.Err() != nil {
				return nil, fmt.Errorf("pattern %s guard: %w", spec.Name, issues.Err())
			}
			prg, err := env.Program(ast,
				cel.InterruptCheckFrequency(100),
				cel.CostLimit(10000),
			)
			if err != nil {
				return nil, fmt.Errorf("pattern %s guard program: %w", spec.Name, err)
			}
			p.guard = prg
		}
		compiled = append(compiled, p)
	}
	return &Table{patterns: compiled}, nil
}

// LoadTableYAML parses and compiles a YAML pattern table.
func LoadTableYAML(data []byte) (*Table, error) {
	var doc struct {
		Patterns []PatternSpec `yaml:"patterns"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("pattern table yaml: %w", err)
	}
	if len(doc.Patterns) == 0 {
		return nil, fmt.Errorf("pattern table has no patterns")
	}
	return CompileTable(doc.Patterns)
}

func (p *pattern) matches(tool, command, scope string) (bool, error) {
	if !p.re.MatchString(command) {
		return false, nil
	}
	if p.guard == nil {
		return true, nil
	}
	out, _, err := p.guard.Eval(map[string]any{
		"tool":    tool,
		"command": command,
		"scope":   scope,
	})
	if err != nil {
		return false, fmt.Errorf("guard eval for %s: %w", p.spec.Name, err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("guard for %s did not yield bool", p.spec.Name)
	}
	return ok, nil
}
