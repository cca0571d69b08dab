// Package plan manages tool plans, guardian verdicts, and the ordered
// authorization check that binds an action to a planned step.
package plan

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parapet-labs/parapet/pkg/canonicalize"
	"github.com/parapet-labs/parapet/pkg/contracts"
	"github.com/parapet-labs/parapet/pkg/crypto"
)

// Authorization is the outcome of an authorize call. When Allowed is
// false, Reason carries the specific refusal code, never a generic
// failure, because refusal messaging and the override-escalation counter
// key off it.
type Authorization struct {
	Allowed   bool
	Reason    contracts.ReasonCode
	PlanID    string
	VerdictID string
	StepIndex int
}

// Manager holds registered plans and their verdicts. All methods are
// safe for concurrent use.
type Manager struct {
	mu            sync.Mutex
	clock         func() time.Time
	requireSigned bool
	trustedKeys   map[string]string // key ID -> hex public key

	plans      map[string]*contracts.ToolPlan
	byEpisode  map[string][]string // episode ID -> plan IDs in registration order
	verdicts   map[string]*contracts.GuardianVerdict // plan ID -> latest verdict
	byVerdict  map[string]*contracts.GuardianVerdict
	resolvedBy map[string]string // ESCALATE verdict ID -> resolving verdict ID
}

// NewManager builds an empty manager.
func NewManager() *Manager {
	return &Manager{
		clock:      time.Now,
		plans:      make(map[string]*contracts.ToolPlan),
		byEpisode:  make(map[string][]string),
		verdicts:   make(map[string]*contracts.GuardianVerdict),
		byVerdict:  make(map[string]*contracts.GuardianVerdict),
		resolvedBy: make(map[string]string),
	}
}

// WithClock overrides the clock for deterministic testing.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// RequireSignatures makes unsigned plans non-authorizable. When trusted
// is non-empty, signatures must also verify against the signer's
// registered public key.
func (m *Manager) RequireSignatures(trusted map[string]string) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requireSigned = true
	m.trustedKeys = trusted
	return m
}

// CreatePlan registers a new plan. It fails if any step omits its tool,
// scope, or risk ceiling.
func (m *Manager) CreatePlan(episodeID, subject, summary string, steps []contracts.PlanStep) (*contracts.ToolPlan, error) {
	if subject == "" {
		return nil, fmt.Errorf("plan subject is required")
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("plan has no steps")
	}
	for i, s := range steps {
		if s.Tool == "" {
			return nil, fmt.Errorf("step %d: tool is required", i)
		}
		if s.Scope == "" {
			return nil, fmt.Errorf("step %d: scope is required", i)
		}
		if !s.Risk.Valid() {
			return nil, fmt.Errorf("step %d: risk level is unspecified or invalid", i)
		}
	}

	p := &contracts.ToolPlan{
		PlanID:    uuid.NewString(),
		EpisodeID: episodeID,
		Subject:   subject,
		Summary:   summary,
		Steps:     steps,
		CreatedAt: m.clock().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[p.PlanID] = p
	m.byEpisode[episodeID] = append(m.byEpisode[episodeID], p.PlanID)
	return p, nil
}

// HashPlan computes the canonical hash of a plan, excluding its
// signature fields. Verdicts bind to this hash.
func HashPlan(p *contracts.ToolPlan) (string, error) {
	unsigned := *p
	unsigned.Signature = ""
	unsigned.SignerKeyID = ""
	return canonicalize.CanonicalHash(unsigned)
}

// SignPlan signs the plan's canonical form in place.
func (m *Manager) SignPlan(p *contracts.ToolPlan, signer crypto.Signer) error {
	unsigned := *p
	unsigned.Signature = ""
	unsigned.SignerKeyID = ""
	data, err := canonicalize.JCS(unsigned)
	if err != nil {
		return fmt.Errorf("canonicalize plan: %w", err)
	}
	sig, err := signer.Sign(data)
	if err != nil {
		return fmt.Errorf("sign plan: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p.Signature = sig
	p.SignerKeyID = signer.KeyID()
	return nil
}

// RecordVerdict issues a verdict bound to the plan's canonical hash and
// stores it as the plan's latest. An optional signer signs the verdict.
func (m *Manager) RecordVerdict(p *contracts.ToolPlan, decision contracts.VerdictDecision, rationale, authority string, signer crypto.Signer) (*contracts.GuardianVerdict, error) {
	switch decision {
	case contracts.VerdictAllow, contracts.VerdictEscalate, contracts.VerdictDeny:
	default:
		return nil, fmt.Errorf("invalid verdict decision %q", decision)
	}

	m.mu.Lock()
	stored, ok := m.plans[p.PlanID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown plan %s", p.PlanID)
	}

	hash, err := HashPlan(stored)
	if err != nil {
		return nil, err
	}

	v := &contracts.GuardianVerdict{
		VerdictID: uuid.NewString(),
		PlanID:    stored.PlanID,
		PlanHash:  hash,
		Decision:  decision,
		Rationale: rationale,
		Authority: authority,
		IssuedAt:  m.clock().UTC(),
	}
	if signer != nil {
		if err := signVerdict(v, signer); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.verdicts[stored.PlanID] = v
	m.byVerdict[v.VerdictID] = v
	return v, nil
}

// ResolveEscalation records a human ruling on a pending ESCALATE
// verdict. Only ALLOW or DENY resolve it; resolution is one-shot.
func (m *Manager) ResolveEscalation(verdictID string, decision contracts.VerdictDecision, rationale, authority string, signer crypto.Signer) (*contracts.GuardianVerdict, error) {
	if decision != contracts.VerdictAllow && decision != contracts.VerdictDeny {
		return nil, fmt.Errorf("escalation resolves to ALLOW or DENY, got %q", decision)
	}

	m.mu.Lock()
	prior, ok := m.byVerdict[verdictID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("unknown verdict %s", verdictID)
	}
	if prior.Decision != contracts.VerdictEscalate {
		m.mu.Unlock()
		return nil, fmt.Errorf("verdict %s is %s, not ESCALATE", verdictID, prior.Decision)
	}
	if resolved, done := m.resolvedBy[verdictID]; done {
		m.mu.Unlock()
		return nil, fmt.Errorf("verdict %s already resolved by %s", verdictID, resolved)
	}
	m.mu.Unlock()

	v := &contracts.GuardianVerdict{
		VerdictID:  uuid.NewString(),
		PlanID:     prior.PlanID,
		PlanHash:   prior.PlanHash,
		Decision:   decision,
		Rationale:  rationale,
		Authority:  authority,
		ResolvesID: prior.VerdictID,
		IssuedAt:   m.clock().UTC(),
	}
	if signer != nil {
		if err := signVerdict(v, signer); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if resolved, done := m.resolvedBy[verdictID]; done {
		return nil, fmt.Errorf("verdict %s already resolved by %s", verdictID, resolved)
	}
	m.resolvedBy[verdictID] = v.VerdictID
	m.verdicts[prior.PlanID] = v
	m.byVerdict[v.VerdictID] = v
	return v, nil
}

func signVerdict(v *contracts.GuardianVerdict, signer crypto.Signer) error {
	unsigned := *v
	unsigned.Signature = ""
	unsigned.SignerKeyID = ""
	data, err := canonicalize.JCS(unsigned)
	if err != nil {
		return fmt.Errorf("canonicalize verdict: %w", err)
	}
	sig, err := signer.Sign(data)
	if err != nil {
		return fmt.Errorf("sign verdict: %w", err)
	}
	v.Signature = sig
	v.SignerKeyID = signer.KeyID()
	return nil
}

// Authorize runs the ordered authorization check for one action against
// the plans registered for its episode. The check order is fixed: plan
// exists, plan signed if required, verdict exists and hash-matches,
// verdict permits execution, a planned step covers the action's tool,
// scope, and risk ceiling.
func (m *Manager) Authorize(episodeID string, action contracts.ToolAction) Authorization {
	m.mu.Lock()
	defer m.mu.Unlock()

	planIDs := m.byEpisode[episodeID]
	if len(planIDs) == 0 {
		return Authorization{Reason: contracts.ReasonNoPlan, StepIndex: -1}
	}

	// Evaluate plans newest-first so an amended plan supersedes its
	// predecessor. The first plan that passes the structural checks
	// decides the outcome.
	deniedReason := contracts.ReasonScopeMismatch
	for i := len(planIDs) - 1; i >= 0; i-- {
		p := m.plans[planIDs[i]]

		if m.requireSigned {
			if p.Signature == "" {
				deniedReason = worst(deniedReason, contracts.ReasonUnsignedPlan)
				continue
			}
			if !m.signatureTrusted(p) {
				deniedReason = worst(deniedReason, contracts.ReasonUnsignedPlan)
				continue
			}
		}

		v := m.verdicts[p.PlanID]
		if v == nil {
			deniedReason = worst(deniedReason, contracts.ReasonNoGuardianVerdict)
			continue
		}
		hash, err := HashPlan(p)
		if err != nil || v.PlanHash != hash {
			// A verdict bound to different plan bytes is no verdict at all.
			deniedReason = worst(deniedReason, contracts.ReasonNoGuardianVerdict)
			continue
		}

		switch v.Decision {
		case contracts.VerdictDeny:
			return Authorization{Reason: contracts.ReasonGuardianDenied, PlanID: p.PlanID, VerdictID: v.VerdictID, StepIndex: -1}
		case contracts.VerdictEscalate:
			// Resolution replaces the latest verdict, so any ESCALATE
			// still visible here is pending.
			return Authorization{Reason: contracts.ReasonEscalatePending, PlanID: p.PlanID, VerdictID: v.VerdictID, StepIndex: -1}
		}

		for idx, step := range p.Steps {
			if step.Tool != action.Tool {
				continue
			}
			if !scopeContains(step.Scope, action.Scope) {
				continue
			}
			if action.RiskLevel.Exceeds(step.Risk) {
				continue
			}
			return Authorization{
				Allowed:   true,
				PlanID:    p.PlanID,
				VerdictID: v.VerdictID,
				StepIndex: idx,
			}
		}
		deniedReason = worst(deniedReason, contracts.ReasonScopeMismatch)
	}

	return Authorization{Reason: deniedReason, StepIndex: -1}
}

func (m *Manager) signatureTrusted(p *contracts.ToolPlan) bool {
	if len(m.trustedKeys) == 0 {
		return true
	}
	pub, ok := m.trustedKeys[p.SignerKeyID]
	if !ok {
		return false
	}
	unsigned := *p
	unsigned.Signature = ""
	unsigned.SignerKeyID = ""
	data, err := canonicalize.JCS(unsigned)
	if err != nil {
		return false
	}
	valid, err := crypto.Verify(pub, p.Signature, data)
	return err == nil && valid
}

// reasonOrder ranks refusal reasons by how early their check runs.
var reasonOrder = map[contracts.ReasonCode]int{
	contracts.ReasonUnsignedPlan:      0,
	contracts.ReasonNoGuardianVerdict: 1,
	contracts.ReasonScopeMismatch:     2,
}

// worst keeps the earliest failing check across candidate plans so the
// refusal reason reflects how far authorization got.
func worst(current, candidate contracts.ReasonCode) contracts.ReasonCode {
	if reasonOrder[candidate] < reasonOrder[current] {
		return candidate
	}
	return current
}
