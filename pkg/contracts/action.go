package contracts

import "time"

// ToolAction is one proposed tool invocation. It is created per attempt,
// owned by the pipeline for the lifetime of that request, and immutable
// once classified.
type ToolAction struct {
	ActionID       string         `json:"action_id"`
	Tool           string         `json:"tool"`
	Command        string         `json:"command,omitempty"`
	Scope          string         `json:"scope,omitempty"` // path/host/db/table/namespace
	Arguments      map[string]any `json:"-"`               // never serialized; receipts carry the digest
	ArgumentDigest string         `json:"argument_digest,omitempty"`
	RiskLevel      RiskLevel      `json:"risk_level,omitempty"`
	PatternName    string         `json:"pattern_name,omitempty"` // matched classifier pattern, if any
	SessionID      string         `json:"session_id,omitempty"`
	Principal      string         `json:"principal,omitempty"`
	RequestedAt    time.Time      `json:"requested_at"`
}

// Classified returns a copy of the action with classification applied.
// The original is left untouched so classification cannot be rewritten
// mid-request.
func (a ToolAction) Classified(level RiskLevel, pattern string) ToolAction {
	a.RiskLevel = level
	a.PatternName = pattern
	return a
}
