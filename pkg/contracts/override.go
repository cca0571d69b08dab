package contracts

import "time"

// EphemeralAttestation proves an isolated, disposable execution context
// is alive. Single-use; never reused across environments or persisted
// into production scope.
type EphemeralAttestation struct {
	EnvironmentID   string    `json:"environment_id"`
	EphemeralRoot   string    `json:"ephemeral_root"`
	AttestedBy      string    `json:"attested_by"`
	DestroyBy       time.Time `json:"destroy_by"`
	IsolationClaims []string  `json:"isolation_claims"`
}

// Live reports whether the attested environment is still within its
// destruction deadline at t.
func (a *EphemeralAttestation) Live(t time.Time) bool {
	return a != nil && t.Before(a.DestroyBy)
}

// EmergencyOverride permits exactly one subsequent execution of a
// previously refused action. Linked to exactly one prior Refusal.
type EmergencyOverride struct {
	OverrideID        string    `json:"override_id"`
	OriginalRefusalID string    `json:"original_refusal_id"`
	Justification     string    `json:"justification"`
	Authority         string    `json:"authority"`
	ExpiresAt         time.Time `json:"expires_at"`
	Consumed          bool      `json:"consumed"`
}

// IncidentSnapshot is an immutable view of process-wide incident state,
// consulted by the pipeline on every decision. Mutated only by the
// incident controller via copy-on-write.
type IncidentSnapshot struct {
	KilledTools         map[string]struct{}
	QuarantinedSessions map[string]struct{}
	RevokedPrincipals   map[string]struct{} // glob patterns
}
