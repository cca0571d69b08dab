package contracts

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Each receipt variant carries its own required-field schema, validated
// at construction time rather than at consumption time.
var variantSchemas = map[ReceiptType]string{
	ReceiptAction: `{
		"type": "object",
		"required": ["action_id", "tool", "risk_level", "outcome"],
		"properties": {
			"action_id": {"type": "string", "minLength": 1},
			"tool": {"type": "string", "minLength": 1},
			"risk_level": {"enum": ["LOW", "MEDIUM", "HIGH", "CRITICAL"]},
			"outcome": {"type": "string", "minLength": 1}
		}
	}`,
	ReceiptRefusal: `{
		"type": "object",
		"required": ["refusal_id", "action_id", "reason", "risk_level"],
		"properties": {
			"refusal_id": {"type": "string", "minLength": 1},
			"action_id": {"type": "string", "minLength": 1},
			"reason": {"type": "string", "minLength": 1},
			"risk_level": {"enum": ["LOW", "MEDIUM", "HIGH", "CRITICAL"]}
		}
	}`,
	ReceiptPlan: `{
		"type": "object",
		"required": ["plan_id", "subject", "steps"],
		"properties": {
			"plan_id": {"type": "string", "minLength": 1},
			"subject": {"type": "string", "minLength": 1},
			"steps": {"type": "array", "minItems": 1}
		}
	}`,
	ReceiptVerdict: `{
		"type": "object",
		"required": ["verdict_id", "plan_hash", "decision"],
		"properties": {
			"verdict_id": {"type": "string", "minLength": 1},
			"plan_hash": {"type": "string", "minLength": 1},
			"decision": {"enum": ["ALLOW", "ESCALATE", "DENY"]}
		}
	}`,
	ReceiptOverride: `{
		"type": "object",
		"required": ["override_id", "original_refusal_id", "justification", "authority"],
		"properties": {
			"override_id": {"type": "string", "minLength": 1},
			"original_refusal_id": {"type": "string", "minLength": 1},
			"justification": {"type": "string", "minLength": 1},
			"authority": {"type": "string", "minLength": 1}
		}
	}`,
	ReceiptRiskOverride: `{
		"type": "object",
		"required": ["action_id", "original_level", "effective_level", "environment_id"],
		"properties": {
			"original_level": {"enum": ["CRITICAL"]},
			"effective_level": {"enum": ["HIGH"]},
			"environment_id": {"type": "string", "minLength": 1}
		}
	}`,
	ReceiptInvariantStress: `{
		"type": "object",
		"required": ["pattern", "authority", "count", "threshold", "window_days"],
		"properties": {
			"pattern": {"type": "string", "minLength": 1},
			"authority": {"type": "string", "minLength": 1},
			"count": {"type": "integer", "minimum": 1},
			"threshold": {"type": "integer", "minimum": 1},
			"window_days": {"type": "integer", "minimum": 1}
		}
	}`,
	ReceiptCheckpoint: `{
		"type": "object",
		"required": ["checkpoint_id"],
		"properties": {"checkpoint_id": {"type": "string", "minLength": 1}}
	}`,
	ReceiptAnchor: `{
		"type": "object",
		"required": ["merkle_root", "receipt_count"],
		"properties": {
			"merkle_root": {"type": "string", "minLength": 1},
			"receipt_count": {"type": "integer", "minimum": 1}
		}
	}`,
	ReceiptIncident: `{
		"type": "object",
		"required": ["incident_action", "target"],
		"properties": {
			"incident_action": {"type": "string", "minLength": 1},
			"target": {"type": "string", "minLength": 1}
		}
	}`,
	ReceiptCredential: `{
		"type": "object",
		"required": ["target_resource", "mode", "blocked"],
		"properties": {
			"target_resource": {"type": "string", "minLength": 1},
			"mode": {"enum": ["exchanged", "vault", "none", "blocked"]},
			"blocked": {"type": "boolean"}
		}
	}`,
}

var compiledVariants = func() map[ReceiptType]*jsonschema.Schema {
	out := make(map[ReceiptType]*jsonschema.Schema, len(variantSchemas))
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	for rt, raw := range variantSchemas {
		url := fmt.Sprintf("https://parapet.schemas.local/receipts/%s.schema.json", rt)
		if err := c.AddResource(url, strings.NewReader(raw)); err != nil {
			panic(fmt.Sprintf("receipt schema %s: %v", rt, err))
		}
		compiled, err := c.Compile(url)
		if err != nil {
			panic(fmt.Sprintf("receipt schema %s: %v", rt, err))
		}
		out[rt] = compiled
	}
	return out
}()

// ValidatePayload checks a variant payload against its required-field
// schema. Unknown receipt types are rejected: the variant set is closed.
func ValidatePayload(rt ReceiptType, payload map[string]any) error {
	schema, ok := compiledVariants[rt]
	if !ok {
		return fmt.Errorf("unknown receipt type %q", rt)
	}
	// jsonschema validates generic values; map[string]any is accepted directly.
	normalized := normalizeForSchema(payload)
	if err := schema.Validate(normalized); err != nil {
		return fmt.Errorf("payload for %s: %w", rt, err)
	}
	return nil
}

// normalizeForSchema converts typed values (RiskLevel, ReasonCode, ints)
// into the plain JSON shapes the validator expects.
func normalizeForSchema(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeForSchema(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeForSchema(val)
		}
		return out
	case RiskLevel:
		return string(t)
	case ReasonCode:
		return string(t)
	case ReceiptType:
		return string(t)
	case VerdictDecision:
		return string(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return v
	}
}
