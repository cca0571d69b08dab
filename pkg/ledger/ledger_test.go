package ledger

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parapet-labs/parapet/pkg/canonicalize"
	"github.com/parapet-labs/parapet/pkg/contracts"
	"github.com/parapet-labs/parapet/pkg/crypto"
)

func actionDraft(episodeID, actionID string) contracts.Draft {
	return contracts.Draft{
		ReceiptType: contracts.ReceiptAction,
		EpisodeID:   episodeID,
		Payload: map[string]any{
			"action_id":  actionID,
			"tool":       "shell",
			"risk_level": "LOW",
			"outcome":    "success",
		},
	}
}

func refusalDraft(episodeID, actionID string) contracts.Draft {
	return contracts.Draft{
		ReceiptType: contracts.ReceiptRefusal,
		EpisodeID:   episodeID,
		Payload: map[string]any{
			"refusal_id": "ref-" + actionID,
			"action_id":  actionID,
			"reason":     "no_plan",
			"risk_level": "HIGH",
		},
	}
}

func testLedger(t *testing.T, store Store, tier contracts.ProofTier, signer crypto.Signer) *Ledger {
	t.Helper()
	l, err := New(store, tier, signer)
	require.NoError(t, err)
	ts := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	return l.WithClock(func() time.Time {
		ts = ts.Add(time.Second)
		return ts
	})
}

func TestAppendBuildsEpisodeChain(t *testing.T) {
	ctx := context.Background()
	l := testLedger(t, NewMemoryStore(), contracts.TierStandard, nil)

	r1, err := l.Append(ctx, actionDraft("ep-1", "a1"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(r1.ReceiptHash, "sha256:"))
	require.Empty(t, r1.ParentHashes)
	require.Equal(t, contracts.SchemaVersion, r1.SchemaVersion)

	r2, err := l.Append(ctx, actionDraft("ep-1", "a2"))
	require.NoError(t, err)
	require.Equal(t, []string{r1.ReceiptHash}, r2.ParentHashes)

	// A different episode starts its own chain.
	other, err := l.Append(ctx, actionDraft("ep-2", "b1"))
	require.NoError(t, err)
	require.Empty(t, other.ParentHashes)

	receipts, err := l.Episode(ctx, "ep-1")
	require.NoError(t, err)
	require.Len(t, receipts, 2)

	report := VerifyChain(receipts, nil)
	require.True(t, report.OK, "%+v", report.Problems)
}

func TestAppendRejectsInvalidPayload(t *testing.T) {
	l := testLedger(t, NewMemoryStore(), contracts.TierStandard, nil)

	_, err := l.Append(context.Background(), contracts.Draft{
		ReceiptType: contracts.ReceiptAction,
		EpisodeID:   "ep-1",
		Payload:     map[string]any{"action_id": "a1"},
	})
	require.Error(t, err)

	_, err = l.Append(context.Background(), contracts.Draft{
		ReceiptType: contracts.ReceiptType("parapet.unknown.v1"),
		EpisodeID:   "ep-1",
		Payload:     map[string]any{},
	})
	require.Error(t, err, "the variant set is closed")
}

func TestAppendSignedTier(t *testing.T) {
	ctx := context.Background()
	signer, err := crypto.NewEd25519Signer("ledger-1")
	require.NoError(t, err)
	l := testLedger(t, NewMemoryStore(), contracts.TierSigned, signer)

	r, err := l.Append(ctx, actionDraft("ep-1", "a1"))
	require.NoError(t, err)
	require.NotEmpty(t, r.Signature)
	require.Equal(t, "ledger-1", r.SignerKeyID)

	report := VerifyChain([]*contracts.Receipt{r}, map[string]string{"ledger-1": signer.PublicKey()})
	require.True(t, report.OK, "%+v", report.Problems)

	// Unknown signer key is a finding, not a pass.
	report = VerifyChain([]*contracts.Receipt{r}, nil)
	require.False(t, report.OK)
	require.Equal(t, ProblemUnknownSigner, report.Problems[0].Code)
}

func TestAppendExtraParentsCrossLink(t *testing.T) {
	ctx := context.Background()
	l := testLedger(t, NewMemoryStore(), contracts.TierStandard, nil)

	refusal, err := l.Append(ctx, refusalDraft("ep-1", "a1"))
	require.NoError(t, err)
	_, err = l.Append(ctx, actionDraft("ep-1", "a2"))
	require.NoError(t, err)

	override, err := l.Append(ctx, contracts.Draft{
		ReceiptType: contracts.ReceiptOverride,
		EpisodeID:   "ep-1",
		Payload: map[string]any{
			"override_id":         "ov-1",
			"original_refusal_id": "ref-a1",
			"justification":       "incident response",
			"authority":           "operator",
		},
	}, refusal.ReceiptHash)
	require.NoError(t, err)
	require.Len(t, override.ParentHashes, 2)
	require.Contains(t, override.ParentHashes, refusal.ReceiptHash)

	_, err = l.Append(ctx, actionDraft("ep-1", "a3"), "sha256:does-not-exist")
	require.Error(t, err, "unknown parents are rejected at insertion")
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	ctx := context.Background()
	signer, err := crypto.NewEd25519Signer("ledger-1")
	require.NoError(t, err)
	keys := map[string]string{"ledger-1": signer.PublicKey()}
	l := testLedger(t, NewMemoryStore(), contracts.TierSigned, signer)

	r1, err := l.Append(ctx, actionDraft("ep-1", "a1"))
	require.NoError(t, err)
	r2, err := l.Append(ctx, actionDraft("ep-1", "a2"))
	require.NoError(t, err)

	tampered := *r1
	tampered.Payload = map[string]any{
		"action_id":  "a1",
		"tool":       "shell",
		"risk_level": "CRITICAL",
		"outcome":    "success",
	}
	report := VerifyChain([]*contracts.Receipt{&tampered, r2}, keys)
	require.False(t, report.OK)
	require.Equal(t, ProblemHashMismatch, report.Problems[0].Code)

	badSig := *r1
	badSig.Signature = strings.Repeat("ab", 64)
	report = VerifyChain([]*contracts.Receipt{&badSig, r2}, keys)
	require.False(t, report.OK)
	hasBadSig := false
	for _, p := range report.Problems {
		if p.Code == ProblemBadSignature {
			hasBadSig = true
		}
	}
	require.True(t, hasBadSig)
}

func TestVerifyChainMissingParentAndOrdering(t *testing.T) {
	ctx := context.Background()
	l := testLedger(t, NewMemoryStore(), contracts.TierStandard, nil)

	r1, err := l.Append(ctx, actionDraft("ep-1", "a1"))
	require.NoError(t, err)
	r2, err := l.Append(ctx, actionDraft("ep-1", "a2"))
	require.NoError(t, err)

	report := VerifyChain([]*contracts.Receipt{r2}, nil)
	require.False(t, report.OK)
	require.Equal(t, ProblemMissingParent, report.Problems[0].Code)

	// A child older than its parent is an ordering violation.
	child := &contracts.Receipt{
		ReceiptID:     "manual-1",
		ReceiptType:   contracts.ReceiptCheckpoint,
		SchemaVersion: contracts.SchemaVersion,
		TS:            r1.TS.Add(-time.Hour),
		EpisodeID:     "ep-1",
		ParentHashes:  []string{r1.ReceiptHash},
		ProofTier:     contracts.TierStandard,
		Payload:       map[string]any{"checkpoint_id": "cp-1"},
	}
	canonical, err := canonicalBytes(child)
	require.NoError(t, err)
	child.ReceiptHash = canonicalize.HashBytes(canonical)

	report = VerifyChain([]*contracts.Receipt{r1, child}, nil)
	require.False(t, report.OK)
	require.Equal(t, ProblemTimestampOrder, report.Problems[0].Code)
}

func TestDetectCyclesOnFabricatedGraph(t *testing.T) {
	a := &contracts.Receipt{ReceiptID: "a", ReceiptHash: "sha256:aa", ParentHashes: []string{"sha256:bb"}}
	b := &contracts.Receipt{ReceiptID: "b", ReceiptHash: "sha256:bb", ParentHashes: []string{"sha256:aa"}}
	byHash := map[string]*contracts.Receipt{
		"sha256:aa": a,
		"sha256:bb": b,
	}
	report := &Report{OK: true}
	detectCycles(report, []*contracts.Receipt{a, b}, byHash)
	require.False(t, report.OK)
	require.Equal(t, ProblemCycle, report.Problems[0].Code)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "receipts.db"))
	require.NoError(t, err)
	defer store.Close()

	l := testLedger(t, store, contracts.TierStandard, nil)
	r1, err := l.Append(ctx, actionDraft("ep-1", "a1"))
	require.NoError(t, err)
	r2, err := l.Append(ctx, actionDraft("ep-1", "a2"))
	require.NoError(t, err)

	got, err := store.Get(ctx, r1.ReceiptHash)
	require.NoError(t, err)
	require.Equal(t, r1.ReceiptID, got.ReceiptID)

	head, err := store.Head(ctx, "ep-1")
	require.NoError(t, err)
	require.Equal(t, r2.ReceiptHash, head)

	receipts, err := store.ListEpisode(ctx, "ep-1")
	require.NoError(t, err)
	require.True(t, VerifyChain(receipts, nil).OK)

	_, err = store.Get(ctx, "sha256:missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := OpenFileStore(root)
	require.NoError(t, err)

	l := testLedger(t, store, contracts.TierStandard, nil)
	r1, err := l.Append(ctx, actionDraft("ep-1", "a1"))
	require.NoError(t, err)
	_, err = l.Append(ctx, actionDraft("ep-1", "a2"))
	require.NoError(t, err)
	_, err = l.Append(ctx, actionDraft("ep-2", "b1"))
	require.NoError(t, err)

	got, err := store.Get(ctx, r1.ReceiptHash)
	require.NoError(t, err)
	require.Equal(t, r1.ReceiptID, got.ReceiptID)

	all, err := LoadDir(root)
	require.NoError(t, err)
	require.Len(t, all, 3)

	ep1, err := store.ListEpisode(ctx, "ep-1")
	require.NoError(t, err)
	require.Len(t, ep1, 2)
	require.True(t, VerifyChain(ep1, nil).OK)
}
