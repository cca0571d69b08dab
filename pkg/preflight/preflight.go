// Package preflight validates tool arguments before dispatch: per-tool
// JSON Schema checks, payload size limits, and path containment.
package preflight

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"golang.org/x/text/unicode/norm"

	"github.com/parapet-labs/parapet/pkg/canonicalize"
	"github.com/parapet-labs/parapet/pkg/contracts"
)

// DefaultMaxPayloadBytes bounds the serialized argument payload.
const DefaultMaxPayloadBytes = 1 << 20

// Result is one preflight outcome. Reason is set only when OK is false.
type Result struct {
	OK     bool
	Reason contracts.ReasonCode
	Detail string
}

func pass() Result { return Result{OK: true} }

func fail(reason contracts.ReasonCode, detail string) Result {
	return Result{Reason: reason, Detail: detail}
}

// Validator holds per-tool argument schemas and the payload limit.
type Validator struct {
	mu         sync.RWMutex
	schemas    map[string]*jsonschema.Schema
	maxPayload int
}

// NewValidator builds a validator with the given payload cap, or the
// default when maxPayloadBytes is zero or negative.
func NewValidator(maxPayloadBytes int) *Validator {
	if maxPayloadBytes <= 0 {
		maxPayloadBytes = DefaultMaxPayloadBytes
	}
	return &Validator{
		schemas:    make(map[string]*jsonschema.Schema),
		maxPayload: maxPayloadBytes,
	}
}

// RegisterToolSchema compiles and installs the argument schema for a
// tool. Schemas should set additionalProperties=false so undeclared
// fields are rejected rather than silently forwarded.
func (v *Validator) RegisterToolSchema(tool string, schemaJSON []byte) error {
	if tool == "" {
		return fmt.Errorf("tool name is required")
	}
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	url := "parapet://tool-schema/" + tool
	if err := compiler.AddResource(url, strings.NewReader(string(schemaJSON))); err != nil {
		return fmt.Errorf("schema for %s: %w", tool, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", tool, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.schemas[tool] = schema
	return nil
}

// Check validates the action's arguments. workspaceRoot, when set,
// bounds every path-like argument; an escape is a path_traversal
// refusal. Checks run in a fixed order: size, schema, paths.
func (v *Validator) Check(action contracts.ToolAction, workspaceRoot string) Result {
	raw, err := json.Marshal(action.Arguments)
	if err != nil {
		return fail(contracts.ReasonContractMalformed, fmt.Sprintf("arguments not serializable: %v", err))
	}
	if len(raw) > v.maxPayload {
		return fail(contracts.ReasonPayloadTooLarge,
			fmt.Sprintf("argument payload is %d bytes, limit %d", len(raw), v.maxPayload))
	}

	v.mu.RLock()
	schema := v.schemas[action.Tool]
	v.mu.RUnlock()
	if schema != nil {
		// Round-trip through JSON so the schema sees plain types.
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fail(contracts.ReasonContractMalformed, err.Error())
		}
		if err := schema.Validate(doc); err != nil {
			reason := contracts.ReasonContractMalformed
			if strings.Contains(err.Error(), "additionalProperties") {
				reason = contracts.ReasonUnknownFields
			}
			return fail(reason, err.Error())
		}
	}

	if detail := findTraversal(action.Arguments, workspaceRoot); detail != "" {
		return fail(contracts.ReasonPathTraversal, detail)
	}
	return pass()
}

// Digest computes the canonical hash of the arguments for receipts, so
// proofs never carry raw argument values.
func Digest(args map[string]any) (string, error) {
	if len(args) == 0 {
		return canonicalize.CanonicalHash(map[string]any{})
	}
	return canonicalize.CanonicalHash(args)
}

// findTraversal walks string argument values that look like filesystem
// paths. Values are NFC-normalized before cleaning so decomposed
// Unicode cannot hide a ".." segment.
func findTraversal(args map[string]any, workspaceRoot string) string {
	root := ""
	if workspaceRoot != "" {
		root = path.Clean(norm.NFC.String(workspaceRoot))
	}
	var walk func(v any) string
	walk = func(v any) string {
		switch val := v.(type) {
		case string:
			return checkPath(val, root)
		case map[string]any:
			for _, inner := range val {
				if d := walk(inner); d != "" {
					return d
				}
			}
		case []any:
			for _, inner := range val {
				if d := walk(inner); d != "" {
					return d
				}
			}
		}
		return ""
	}
	for _, v := range args {
		if d := walk(v); d != "" {
			return d
		}
	}
	return ""
}

func checkPath(value, root string) string {
	if !strings.Contains(value, "/") {
		return ""
	}
	cleaned := path.Clean(norm.NFC.String(value))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Sprintf("path %q escapes upward", value)
	}
	if root != "" && strings.HasPrefix(cleaned, "/") {
		if cleaned != root && !strings.HasPrefix(cleaned, root+"/") {
			return fmt.Sprintf("path %q is outside the workspace", value)
		}
	}
	return ""
}
