package contracts

// ReasonCode is a stable refusal/fault identifier. Downstream refusal
// messaging and the override-escalation counter key off these, so they
// MUST NOT change between releases.
type ReasonCode string

const (
	// Authorization
	ReasonNoPlan            ReasonCode = "no_plan"
	ReasonUnsignedPlan      ReasonCode = "unsigned_plan"
	ReasonNoGuardianVerdict ReasonCode = "no_guardian_verdict"
	ReasonScopeMismatch     ReasonCode = "scope_mismatch"
	ReasonEscalatePending   ReasonCode = "escalate_pending"
	ReasonGuardianDenied    ReasonCode = "guardian_denied"

	// Validation
	ReasonUnknownFields   ReasonCode = "unknown_fields"
	ReasonPayloadTooLarge ReasonCode = "payload_too_large"
	ReasonPathTraversal   ReasonCode = "path_traversal"
	ReasonRateLimited     ReasonCode = "rate_limited"

	// Security
	ReasonForbiddenPattern   ReasonCode = "forbidden_pattern"
	ReasonPassthroughBlocked ReasonCode = "passthrough_blocked"
	ReasonKillSwitchActive   ReasonCode = "kill_switch_active"
	ReasonSessionQuarantined ReasonCode = "session_quarantined"
	ReasonPrincipalRevoked   ReasonCode = "principal_revoked"
	ReasonToolNotAllowed     ReasonCode = "tool_not_allowed"
	ReasonContractMalformed  ReasonCode = "contract_malformed"

	// Faults
	ReasonInternalError   ReasonCode = "internal_error"
	ReasonExecutorTimeout ReasonCode = "executor_timeout"

	// Terminal non-deny outcomes
	ReasonRequireApproval ReasonCode = "require_approval"
)

var knownReasons = map[ReasonCode]struct{}{
	ReasonNoPlan: {}, ReasonUnsignedPlan: {}, ReasonNoGuardianVerdict: {},
	ReasonScopeMismatch: {}, ReasonEscalatePending: {}, ReasonGuardianDenied: {},
	ReasonUnknownFields: {}, ReasonPayloadTooLarge: {}, ReasonPathTraversal: {},
	ReasonRateLimited: {}, ReasonForbiddenPattern: {}, ReasonPassthroughBlocked: {},
	ReasonKillSwitchActive: {}, ReasonSessionQuarantined: {}, ReasonPrincipalRevoked: {},
	ReasonToolNotAllowed: {}, ReasonContractMalformed: {}, ReasonInternalError: {},
	ReasonExecutorTimeout: {}, ReasonRequireApproval: {},
}

// Known reports whether r is one of the stable reason codes.
func (r ReasonCode) Known() bool {
	_, ok := knownReasons[r]
	return ok
}

// RemediationHint returns the operator-facing hint attached to refusal
// receipts for the given reason, or "" when none applies.
func RemediationHint(reason ReasonCode) string {
	switch reason {
	case ReasonNoPlan:
		return "submit a plan covering this action and obtain a guardian verdict"
	case ReasonUnsignedPlan:
		return "sign the plan with a registered key; this tier requires signed plans"
	case ReasonNoGuardianVerdict:
		return "obtain a guardian ALLOW verdict bound to the submitted plan"
	case ReasonScopeMismatch:
		return "the action falls outside the plan's declared tool/scope/risk; amend the plan"
	case ReasonEscalatePending:
		return "the verdict is ESCALATE; a human must resolve it before retrying"
	case ReasonGuardianDenied:
		return "the guardian denied this plan; amend the plan and re-submit for review"
	case ReasonPassthroughBlocked:
		return "configure token exchange or a vault secret for the target resource"
	case ReasonKillSwitchActive:
		return "the tool is under an active kill switch; contact the incident operator"
	case ReasonSessionQuarantined:
		return "this session is quarantined; all actions require operator approval"
	case ReasonPathTraversal:
		return "path arguments must stay within the declared workspace"
	}
	return ""
}
