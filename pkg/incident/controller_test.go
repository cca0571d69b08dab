package incident

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parapet-labs/parapet/pkg/contracts"
	"github.com/parapet-labs/parapet/pkg/ledger"
)

func testController(t *testing.T) (*Controller, *ledger.Ledger) {
	t.Helper()
	l, err := ledger.New(ledger.NewMemoryStore(), contracts.TierStandard, nil)
	require.NoError(t, err)
	return NewController(l, "incident-ep"), l
}

func TestKillSwitchLifecycle(t *testing.T) {
	ctx := context.Background()
	c, l := testController(t)

	require.False(t, ToolKilled(c.Snapshot(), "shell"))

	require.NoError(t, c.ActivateKillSwitch(ctx, "shell", "db"))
	snap := c.Snapshot()
	require.True(t, ToolKilled(snap, "shell"))
	require.True(t, ToolKilled(snap, "db"))

	// Idempotent: re-activating emits no new receipts.
	receipts, err := l.Episode(ctx, "incident-ep")
	require.NoError(t, err)
	before := len(receipts)
	require.NoError(t, c.ActivateKillSwitch(ctx, "shell"))
	receipts, err = l.Episode(ctx, "incident-ep")
	require.NoError(t, err)
	require.Equal(t, before, len(receipts))

	require.NoError(t, c.DeactivateKillSwitch(ctx, "shell"))
	require.False(t, ToolKilled(c.Snapshot(), "shell"))
	require.True(t, ToolKilled(c.Snapshot(), "db"))
}

func TestTransitionsEmitReceipts(t *testing.T) {
	ctx := context.Background()
	c, l := testController(t)

	require.NoError(t, c.ActivateKillSwitch(ctx, "shell"))
	require.NoError(t, c.Quarantine(ctx, "sess-1"))
	require.NoError(t, c.Revoke(ctx, "agent-*"))

	receipts, err := l.Episode(ctx, "incident-ep")
	require.NoError(t, err)
	require.Len(t, receipts, 3)
	for _, r := range receipts {
		require.Equal(t, contracts.ReceiptIncident, r.ReceiptType)
	}
	require.Equal(t, "kill_switch_activated", receipts[0].Payload["incident_action"])
	require.Equal(t, "shell", receipts[0].Payload["target"])
}

func TestQuarantineAndRelease(t *testing.T) {
	ctx := context.Background()
	c, _ := testController(t)

	require.NoError(t, c.Quarantine(ctx, "sess-1"))
	require.True(t, SessionQuarantined(c.Snapshot(), "sess-1"))
	require.False(t, SessionQuarantined(c.Snapshot(), "sess-2"))

	require.NoError(t, c.Release(ctx, "sess-1"))
	require.False(t, SessionQuarantined(c.Snapshot(), "sess-1"))
}

func TestRevokeMatchesGlob(t *testing.T) {
	ctx := context.Background()
	c, _ := testController(t)

	require.Error(t, c.Revoke(ctx, ""))
	require.Error(t, c.Revoke(ctx, "[bad"))

	require.NoError(t, c.Revoke(ctx, "contractor-*"))
	snap := c.Snapshot()
	require.True(t, PrincipalRevoked(snap, "contractor-7"))
	require.False(t, PrincipalRevoked(snap, "employee-7"))
}

func TestSnapshotIsStableAcrossWrites(t *testing.T) {
	ctx := context.Background()
	c, _ := testController(t)

	before := c.Snapshot()
	require.NoError(t, c.ActivateKillSwitch(ctx, "shell"))

	// The old snapshot is unchanged; only new reads observe the switch.
	require.False(t, ToolKilled(before, "shell"))
	require.True(t, ToolKilled(c.Snapshot(), "shell"))
}
