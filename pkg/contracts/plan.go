package contracts

import "time"

// PlanStep declares one intended tool use with its scope and risk ceiling.
type PlanStep struct {
	Tool  string    `json:"tool"`
	Scope string    `json:"scope"`
	Risk  RiskLevel `json:"risk"`
}

// ToolPlan is a structured declaration of intended tool steps, created
// before a HIGH/CRITICAL action and consumed exactly once per matching
// action. Each step is checked independently against the action it
// authorizes.
type ToolPlan struct {
	PlanID      string     `json:"plan_id"`
	EpisodeID   string     `json:"episode_id,omitempty"`
	Subject     string     `json:"subject"`
	Summary     string     `json:"summary,omitempty"`
	Steps       []PlanStep `json:"steps"`
	Signature   string     `json:"signature,omitempty"`
	SignerKeyID string     `json:"signer_key_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// VerdictDecision is the guardian's ruling on a plan.
type VerdictDecision string

const (
	VerdictAllow    VerdictDecision = "ALLOW"
	VerdictEscalate VerdictDecision = "ESCALATE"
	VerdictDeny     VerdictDecision = "DENY"
)

// GuardianVerdict is an authorization decision cryptographically bound to
// one ToolPlan via PlanHash. Only ALLOW (or an ESCALATE later resolved to
// ALLOW) permits execution; a binding mismatch is a hard refusal.
type GuardianVerdict struct {
	VerdictID   string          `json:"verdict_id"`
	PlanID      string          `json:"plan_id"`
	PlanHash    string          `json:"plan_hash"`
	Decision    VerdictDecision `json:"decision"`
	Rationale   string          `json:"rationale"`
	Authority   string          `json:"authority"`
	ResolvesID  string          `json:"resolves_id,omitempty"` // set when this verdict resolves a prior ESCALATE
	Signature   string          `json:"signature,omitempty"`
	SignerKeyID string          `json:"signer_key_id,omitempty"`
	IssuedAt    time.Time       `json:"issued_at"`
}

// Guardian is the policy authority evaluated before HIGH/CRITICAL
// execution. It is stateless from the gateway's point of view; any
// personality or presentation lives outside this core.
type Guardian interface {
	Evaluate(plan *ToolPlan) (*GuardianVerdict, error)
}
