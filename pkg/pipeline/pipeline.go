// Package pipeline is the enforcement path every tool action walks
// before anything executes: incident state, rate and allowlist checks,
// classification, plan/verdict authorization, argument validation,
// credential resolution, boundary validation, dispatch. Every terminal
// transition persists a receipt before the caller learns the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/parapet-labs/parapet/pkg/broker"
	"github.com/parapet-labs/parapet/pkg/config"
	"github.com/parapet-labs/parapet/pkg/contracts"
	"github.com/parapet-labs/parapet/pkg/incident"
	"github.com/parapet-labs/parapet/pkg/ledger"
	"github.com/parapet-labs/parapet/pkg/observability"
	"github.com/parapet-labs/parapet/pkg/override"
	"github.com/parapet-labs/parapet/pkg/plan"
	"github.com/parapet-labs/parapet/pkg/preflight"
	"github.com/parapet-labs/parapet/pkg/risk"
	"github.com/parapet-labs/parapet/pkg/sandbox"
)

// State is a pipeline position. REFUSED is terminal from any state
// before DISPATCHED.
type State string

const (
	StateReceived     State = "RECEIVED"
	StateClassified   State = "CLASSIFIED"
	StateAuthorized   State = "AUTHORIZED"
	StateValidated    State = "VALIDATED"
	StateCredentialed State = "CREDENTIALED"
	StateDispatched   State = "DISPATCHED"
	StateReceipted    State = "RECEIPTED"
	StateDone         State = "DONE"
	StateRefused      State = "REFUSED"
)

// Decision is the terminal outcome class returned to the caller.
type Decision string

const (
	DecisionAllowed         Decision = "allowed"
	DecisionRefused         Decision = "refused"
	DecisionRequireApproval Decision = "require_approval"
	DecisionFault           Decision = "fault"
)

// Request is one inbound tool-call evaluation.
type Request struct {
	Action            contracts.ToolAction
	EpisodeID         string
	ClientCredential  string
	TargetResource    string
	Attestation       *contracts.EphemeralAttestation
	OverrideRefusalID string // redeem a granted emergency override
}

// Result is the terminal pipeline outcome. Receipt is the decision
// receipt persisted for this request; it is never nil on a clean
// return.
type Result struct {
	State          State
	Decision       Decision
	Reason         contracts.ReasonCode
	Hint           string
	RefusalID      string
	Receipt        *contracts.Receipt
	Outcome        *Outcome
	Classification risk.Classification
	OverrideUsed   bool
}

// Deps wires a gateway. Executor and Ledger are required; the rest
// default to sane components when nil.
type Deps struct {
	Profile    config.Profile
	Classifier *risk.Classifier
	Plans      *plan.Manager
	Validator  *preflight.Validator
	Broker     *broker.Broker
	Ledger     *ledger.Ledger
	Incidents  *incident.Controller
	Overrides  *override.Manager
	Executor   Executor
	Logger     *slog.Logger
	Metrics    *observability.Provider
}

// Gateway is the assembled enforcement pipeline. Safe for concurrent
// use; per-request state lives on the stack.
type Gateway struct {
	profile    config.Profile
	classifier *risk.Classifier
	plans      *plan.Manager
	validator  *preflight.Validator
	broker     *broker.Broker
	ledger     *ledger.Ledger
	incidents  *incident.Controller
	overrides  *override.Manager
	policy     *Policy
	limiter    *rate.Limiter
	executor   Executor
	boundary   sandbox.Contract
	metrics    *observability.Provider
	log        *slog.Logger
	clock      func() time.Time
}

// New validates and assembles a gateway from its dependencies.
func New(d Deps) (*Gateway, error) {
	if err := d.Profile.Validate(); err != nil {
		return nil, err
	}
	if d.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if d.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if d.Classifier == nil {
		var err error
		d.Classifier, err = risk.NewClassifier(nil)
		if err != nil {
			return nil, err
		}
	}
	if d.Plans == nil {
		d.Plans = plan.NewManager()
	}
	if d.Profile.RequireSignedPlan {
		d.Plans.RequireSignatures(nil)
	}
	if d.Validator == nil {
		d.Validator = preflight.NewValidator(d.Profile.MaxPayloadBytes)
	}
	if d.Broker == nil {
		d.Broker = broker.New(nil, nil)
	}
	if d.Overrides == nil {
		d.Overrides = override.NewManager(d.Ledger, nil, 0, 0, 0)
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	policy, err := CompilePolicy(d.Profile.PolicyExpr)
	if err != nil {
		return nil, err
	}

	boundary := sandbox.Contract{
		WorkspaceRoot:    d.Profile.WorkspaceRoot,
		NetworkAllowlist: d.Profile.NetworkAllowlist,
	}

	return &Gateway{
		profile:    d.Profile,
		classifier: d.Classifier,
		plans:      d.Plans,
		validator:  d.Validator,
		broker:     d.Broker,
		ledger:     d.Ledger,
		incidents:  d.Incidents,
		overrides:  d.Overrides,
		policy:     policy,
		limiter:    rate.NewLimiter(rate.Limit(d.Profile.RatePerSecond), d.Profile.RateBurst),
		executor:   d.Executor,
		boundary:   boundary,
		metrics:    d.Metrics,
		log:        d.Logger,
		clock:      time.Now,
	}, nil
}

// WithClock overrides the clock for deterministic testing.
func (g *Gateway) WithClock(clock func() time.Time) *Gateway {
	g.clock = clock
	return g
}

// Plans exposes the plan manager for plan/verdict registration.
func (g *Gateway) Plans() *plan.Manager { return g.plans }

// Overrides exposes the override manager for emergency grants.
func (g *Gateway) Overrides() *override.Manager { return g.overrides }

// Process runs one request through the fixed check order. The
// authorization check cannot be reordered or skipped by any
// configuration; only a previously granted single-use override can
// excuse a failed authorization, and that grant is itself receipted.
func (g *Gateway) Process(ctx context.Context, req Request) (*Result, error) {
	if g.metrics == nil {
		return g.process(ctx, req)
	}
	ctx, done := g.metrics.TrackEvaluation(ctx, req.Action.Tool)
	res, err := g.process(ctx, req)
	done(err)
	if res != nil {
		g.metrics.RecordDecision(ctx, req.Action.Tool, string(res.Decision))
		if res.Decision == DecisionRefused {
			g.metrics.RecordRefusal(ctx, req.Action.Tool, string(res.Reason))
		}
		if res.OverrideUsed {
			g.metrics.RecordOverride(ctx, res.Classification.Pattern)
		}
	}
	return res, err
}

func (g *Gateway) process(ctx context.Context, req Request) (*Result, error) {
	if req.EpisodeID == "" {
		return nil, fmt.Errorf("episode id is required")
	}

	action := req.Action
	if action.ActionID == "" {
		action.ActionID = uuid.NewString()
	}
	if action.RequestedAt.IsZero() {
		action.RequestedAt = g.clock().UTC()
	}
	res := &Result{State: StateReceived}

	digest, err := preflight.Digest(action.Arguments)
	if err != nil {
		return g.fault(ctx, req, action, res, fmt.Errorf("argument digest: %w", err))
	}
	action.ArgumentDigest = digest

	cls, err := g.classifier.ClassifyWithAttestation(action, req.Attestation)
	if err != nil {
		return g.fault(ctx, req, action, res, fmt.Errorf("classification: %w", err))
	}
	action = action.Classified(cls.Level, cls.Pattern)
	res.Classification = cls
	res.State = StateClassified

	if cls.Downgraded {
		if _, err := g.ledger.Append(ctx, contracts.Draft{
			ReceiptType: contracts.ReceiptRiskOverride,
			EpisodeID:   req.EpisodeID,
			Payload: map[string]any{
				"action_id":       action.ActionID,
				"original_level":  string(cls.DefaultLevel),
				"effective_level": string(cls.Level),
				"environment_id":  req.Attestation.EnvironmentID,
			},
		}); err != nil {
			return g.fault(ctx, req, action, res, fmt.Errorf("risk override receipt: %w", err))
		}
	}

	if g.incidents != nil {
		snap := g.incidents.Snapshot()
		if incident.ToolKilled(snap, action.Tool) {
			return g.refuse(ctx, req, action, res, contracts.ReasonKillSwitchActive)
		}
		if incident.PrincipalRevoked(snap, action.Principal) {
			return g.refuse(ctx, req, action, res, contracts.ReasonPrincipalRevoked)
		}
		if incident.SessionQuarantined(snap, action.SessionID) {
			return g.requireApproval(ctx, req, action, res, contracts.ReasonSessionQuarantined)
		}
	}

	if !g.limiter.Allow() {
		return g.refuse(ctx, req, action, res, contracts.ReasonRateLimited)
	}
	if !g.profile.ToolAllowed(action.Tool) {
		return g.refuse(ctx, req, action, res, contracts.ReasonToolNotAllowed)
	}
	if g.profile.PatternForbidden(action.PatternName) {
		return g.refuse(ctx, req, action, res, contracts.ReasonForbiddenPattern)
	}

	if g.requiresAuthorization(action) {
		authz := g.plans.Authorize(req.EpisodeID, action)
		switch {
		case authz.Allowed:
		case req.OverrideRefusalID != "":
			if _, err := g.overrides.Redeem(req.OverrideRefusalID); err != nil {
				return g.refuse(ctx, req, action, res, authz.Reason)
			}
			res.OverrideUsed = true
		default:
			return g.refuse(ctx, req, action, res, authz.Reason)
		}
	}
	res.State = StateAuthorized

	allowed, err := g.policy.Allow(action)
	if err != nil {
		return g.fault(ctx, req, action, res, fmt.Errorf("policy threshold: %w", err))
	}
	if !allowed {
		return g.requireApproval(ctx, req, action, res, contracts.ReasonRequireApproval)
	}

	if pf := g.validator.Check(action, g.profile.WorkspaceRoot); !pf.OK {
		return g.refuse(ctx, req, action, res, pf.Reason)
	}
	res.State = StateValidated

	cred, err := g.broker.Resolve(ctx, req.ClientCredential, req.TargetResource, action.Principal)
	if err != nil {
		if errors.Is(err, broker.ErrPassthroughBlocked) {
			return g.refuse(ctx, req, action, res, contracts.ReasonPassthroughBlocked)
		}
		return g.fault(ctx, req, action, res, fmt.Errorf("credential resolution: %w", err))
	}
	if req.TargetResource != "" {
		payload := cred.ReceiptPayload()
		payload["target_resource"] = req.TargetResource
		if _, err := g.ledger.Append(ctx, contracts.Draft{
			ReceiptType: contracts.ReceiptCredential,
			EpisodeID:   req.EpisodeID,
			Payload:     payload,
		}); err != nil {
			return g.fault(ctx, req, action, res, fmt.Errorf("credential receipt: %w", err))
		}
	}
	res.State = StateCredentialed

	if err := g.boundary.Validate(); err != nil {
		return g.refuse(ctx, req, action, res, contracts.ReasonContractMalformed)
	}

	res.State = StateDispatched
	execCtx, cancel := context.WithTimeout(ctx, g.profile.ExecutorTimeout.Std())
	outcome, execErr := g.executor.Execute(execCtx, action, cred, g.boundary)
	cancel()

	switch {
	case execErr == nil:
	case errors.Is(execErr, context.DeadlineExceeded):
		outcome = Outcome{Status: "error", Detail: string(contracts.ReasonExecutorTimeout)}
		res.Decision = DecisionFault
		res.Reason = contracts.ReasonExecutorTimeout
	default:
		outcome = Outcome{Status: "error", Detail: execErr.Error()}
		res.Decision = DecisionFault
		res.Reason = contracts.ReasonInternalError
	}
	res.Outcome = &outcome

	receipt, err := g.ledger.Append(ctx, contracts.Draft{
		ReceiptType: contracts.ReceiptAction,
		EpisodeID:   req.EpisodeID,
		Payload:     g.actionPayload(action, outcome, res.OverrideUsed),
	})
	if err != nil {
		return nil, fmt.Errorf("action receipt: %w", err)
	}
	res.Receipt = receipt
	res.State = StateReceipted

	if res.Decision == "" {
		res.Decision = DecisionAllowed
		res.State = StateDone
	}
	return res, nil
}

// requiresAuthorization gates the plan/verdict check: HIGH and CRITICAL
// actions need a plan at standard tier and above. Basic tier waives
// plans for everything below CRITICAL; a default-CRITICAL action never
// executes unauthorized at any tier.
func (g *Gateway) requiresAuthorization(action contracts.ToolAction) bool {
	if g.profile.ProofTier == contracts.TierBasic {
		return action.RiskLevel == contracts.RiskCritical
	}
	return action.RiskLevel.Exceeds(contracts.RiskMedium)
}

func (g *Gateway) actionPayload(action contracts.ToolAction, outcome Outcome, overrideUsed bool) map[string]any {
	payload := map[string]any{
		"action_id":       action.ActionID,
		"tool":            action.Tool,
		"risk_level":      string(action.RiskLevel),
		"outcome":         outcome.Status,
		"argument_digest": action.ArgumentDigest,
		"sandbox":         g.boundary.ReceiptFragment(),
	}
	if action.Command != "" {
		payload["command"] = Scrub(action.Command)
	}
	if action.Scope != "" {
		payload["scope"] = action.Scope
	}
	if action.PatternName != "" {
		payload["pattern"] = action.PatternName
	}
	if outcome.Detail != "" {
		payload["detail"] = Scrub(outcome.Detail)
	}
	if overrideUsed {
		payload["override_used"] = true
	}
	return payload
}

// refuse persists the refusal receipt and returns the terminal result.
// No refusal leaves the pipeline without its receipt.
func (g *Gateway) refuse(ctx context.Context, req Request, action contracts.ToolAction, res *Result, reason contracts.ReasonCode) (*Result, error) {
	return g.terminal(ctx, req, action, res, reason, DecisionRefused)
}

// requireApproval is a terminal non-deny outcome: control returns to
// the caller immediately, and resumption is a new request.
func (g *Gateway) requireApproval(ctx context.Context, req Request, action contracts.ToolAction, res *Result, reason contracts.ReasonCode) (*Result, error) {
	return g.terminal(ctx, req, action, res, reason, DecisionRequireApproval)
}

func (g *Gateway) terminal(ctx context.Context, req Request, action contracts.ToolAction, res *Result, reason contracts.ReasonCode, decision Decision) (*Result, error) {
	refusalID := uuid.NewString()
	payload := map[string]any{
		"refusal_id": refusalID,
		"action_id":  action.ActionID,
		"reason":     string(reason),
		"risk_level": string(action.RiskLevel),
	}
	if action.Tool != "" {
		payload["tool"] = action.Tool
	}
	if action.Command != "" {
		payload["command"] = Scrub(action.Command)
	}
	if action.PatternName != "" {
		payload["pattern"] = action.PatternName
	}
	if hint := contracts.RemediationHint(reason); hint != "" {
		payload["remediation_hint"] = hint
		res.Hint = hint
	}

	receipt, err := g.ledger.Append(ctx, contracts.Draft{
		ReceiptType: contracts.ReceiptRefusal,
		EpisodeID:   req.EpisodeID,
		Payload:     payload,
	})
	if err != nil {
		return nil, fmt.Errorf("refusal receipt: %w", err)
	}

	g.log.Warn("action refused",
		"action_id", action.ActionID,
		"tool", action.Tool,
		"reason", string(reason),
		"risk", string(action.RiskLevel),
	)

	res.State = StateRefused
	res.Decision = decision
	res.Reason = reason
	res.RefusalID = refusalID
	res.Receipt = receipt
	return res, nil
}

// fault converts an internal error into the profile's failure mode:
// fail closed in high-trust, receipt-and-refuse with a distinct reason
// either way. Even the permissive profile never executes an action it
// could not evaluate.
func (g *Gateway) fault(ctx context.Context, req Request, action contracts.ToolAction, res *Result, err error) (*Result, error) {
	if g.profile.FailClosed {
		g.log.Error("internal fault, failing closed", "action_id", action.ActionID, "error", err)
		return g.refuse(ctx, req, action, res, contracts.ReasonInternalError)
	}
	g.log.Warn("internal fault", "action_id", action.ActionID, "error", err, "profile", g.profile.Name)
	out, terr := g.terminal(ctx, req, action, res, contracts.ReasonInternalError, DecisionFault)
	if terr != nil {
		return nil, terr
	}
	return out, nil
}
