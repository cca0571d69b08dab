package preflight

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parapet-labs/parapet/pkg/contracts"
)

const fsSchema = `{
	"type": "object",
	"properties": {
		"path": {"type": "string"},
		"content": {"type": "string"}
	},
	"required": ["path"],
	"additionalProperties": false
}`

func fsAction(args map[string]any) contracts.ToolAction {
	return contracts.ToolAction{ActionID: "act-1", Tool: "fs", Arguments: args}
}

func TestCheckPassesValidArguments(t *testing.T) {
	v := NewValidator(0)
	require.NoError(t, v.RegisterToolSchema("fs", []byte(fsSchema)))

	res := v.Check(fsAction(map[string]any{"path": "/workspace/out.txt"}), "/workspace")
	require.True(t, res.OK)
	require.Empty(t, res.Reason)
}

func TestCheckRejectsUnknownFields(t *testing.T) {
	v := NewValidator(0)
	require.NoError(t, v.RegisterToolSchema("fs", []byte(fsSchema)))

	res := v.Check(fsAction(map[string]any{
		"path":    "/workspace/out.txt",
		"sneaky":  true,
	}), "/workspace")
	require.False(t, res.OK)
	require.Equal(t, contracts.ReasonUnknownFields, res.Reason)
}

func TestCheckRejectsOversizedPayload(t *testing.T) {
	v := NewValidator(64)

	res := v.Check(fsAction(map[string]any{
		"path":    "/workspace/out.txt",
		"content": strings.Repeat("a", 256),
	}), "")
	require.False(t, res.OK)
	require.Equal(t, contracts.ReasonPayloadTooLarge, res.Reason)
}

func TestCheckRejectsTraversal(t *testing.T) {
	v := NewValidator(0)

	cases := []map[string]any{
		{"path": "/workspace/../etc/passwd"},
		{"path": "../../etc/shadow"},
		{"nested": map[string]any{"dest": "/etc/hosts"}},
		{"paths": []any{"/workspace/ok.txt", "/workspace/../../root"}},
	}
	for _, args := range cases {
		res := v.Check(fsAction(args), "/workspace")
		require.False(t, res.OK, "%v", args)
		require.Equal(t, contracts.ReasonPathTraversal, res.Reason, "%v", args)
	}

	res := v.Check(fsAction(map[string]any{"path": "/workspace/sub/dir/file"}), "/workspace")
	require.True(t, res.OK)
}

func TestCheckWithoutSchemaOrRootStillBoundsSize(t *testing.T) {
	v := NewValidator(0)

	res := v.Check(contracts.ToolAction{Tool: "http", Arguments: map[string]any{
		"url": "https://api.internal.example/v1",
	}}, "")
	require.True(t, res.OK)
}

func TestDigestIsDeterministic(t *testing.T) {
	a, err := Digest(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	b, err := Digest(map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.True(t, strings.HasPrefix(a, "sha256:"))

	empty, err := Digest(nil)
	require.NoError(t, err)
	require.NotEmpty(t, empty)
}
