package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/parapet-labs/parapet/pkg/contracts"
)

// Duration parses YAML durations in time.ParseDuration notation.
type Duration time.Duration

// UnmarshalYAML accepts either "30s" style strings or integer
// nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var asString string
	if err := value.Decode(&asString); err == nil {
		parsed, perr := time.ParseDuration(asString)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", asString, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var asInt int64
	if err := value.Decode(&asInt); err != nil {
		return fmt.Errorf("invalid duration node")
	}
	*d = Duration(asInt)
	return nil
}

// Std returns the standard-library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Profile is one execution posture. high_trust treats every internal
// fault as a refusal; dev logs and reports the fault as a fault-class
// outcome. Both persist a receipt documenting the failure mode.
type Profile struct {
	Name              string              `yaml:"name"`
	ProofTier         contracts.ProofTier `yaml:"proof_tier"`
	FailClosed        bool                `yaml:"fail_closed"`
	RequireSignedPlan bool                `yaml:"require_signed_plan"`
	AllowedTools      []string            `yaml:"allowed_tools,omitempty"` // empty means every tool
	ForbiddenPatterns []string            `yaml:"forbidden_patterns,omitempty"`
	PolicyExpr        string              `yaml:"policy_expr,omitempty"` // CEL over {tool, risk, risk_rank, pattern, principal}
	RatePerSecond     float64             `yaml:"rate_per_second"`
	RateBurst         int                 `yaml:"rate_burst"`
	MaxPayloadBytes   int                 `yaml:"max_payload_bytes"`
	ExecutorTimeout   Duration            `yaml:"executor_timeout"`
	WorkspaceRoot     string              `yaml:"workspace_root"`
	NetworkAllowlist  []string            `yaml:"network_allowlist,omitempty"`
}

// HighTrust is the production posture.
func HighTrust() Profile {
	return Profile{
		Name:              "high_trust",
		ProofTier:         contracts.TierSigned,
		FailClosed:        true,
		RequireSignedPlan: true,
		RatePerSecond:     20,
		RateBurst:         40,
		ExecutorTimeout:   Duration(30 * time.Second),
		WorkspaceRoot:     "/workspace",
	}
}

// Dev is the local development posture.
func Dev() Profile {
	return Profile{
		Name:            "dev",
		ProofTier:       contracts.TierStandard,
		RatePerSecond:   100,
		RateBurst:       200,
		ExecutorTimeout: Duration(2 * time.Minute),
		WorkspaceRoot:   "/workspace",
	}
}

// LoadProfile resolves a profile by name: the built-ins first, then
// <dir>/profile_<name>.yaml layered over the closest built-in.
func LoadProfile(dir, name string) (Profile, error) {
	base := Dev()
	builtin := true
	switch strings.ToLower(name) {
	case "dev":
	case "high_trust":
		base = HighTrust()
	default:
		builtin = false
		base.Name = name
	}

	path := filepath.Join(dir, fmt.Sprintf("profile_%s.yaml", strings.ToLower(name)))
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if builtin {
			return base, nil
		}
		return Profile{}, fmt.Errorf("unknown profile %q and no %s", name, path)
	}
	if err != nil {
		return Profile{}, fmt.Errorf("read profile %q: %w", name, err)
	}
	if err := yaml.Unmarshal(data, &base); err != nil {
		return Profile{}, fmt.Errorf("parse profile %q: %w", name, err)
	}
	if base.Name == "" {
		base.Name = name
	}
	return base, base.Validate()
}

// Validate rejects profiles the pipeline cannot run under.
func (p Profile) Validate() error {
	switch p.ProofTier {
	case contracts.TierBasic, contracts.TierStandard, contracts.TierSigned:
	default:
		return fmt.Errorf("profile %s: invalid proof tier %q", p.Name, p.ProofTier)
	}
	if p.RatePerSecond <= 0 {
		return fmt.Errorf("profile %s: rate_per_second must be positive", p.Name)
	}
	if p.ExecutorTimeout <= 0 {
		return fmt.Errorf("profile %s: executor_timeout must be positive", p.Name)
	}
	return nil
}

// ToolAllowed reports whether the allowlist admits the tool.
func (p Profile) ToolAllowed(tool string) bool {
	if len(p.AllowedTools) == 0 {
		return true
	}
	for _, t := range p.AllowedTools {
		if t == tool {
			return true
		}
	}
	return false
}

// PatternForbidden reports whether the matched classifier pattern is on
// the profile's hard deny list.
func (p Profile) PatternForbidden(pattern string) bool {
	if pattern == "" {
		return false
	}
	for _, f := range p.ForbiddenPatterns {
		if f == pattern {
			return true
		}
	}
	return false
}
