package merkle

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"

	"github.com/parapet-labs/parapet/pkg/contracts"
)

func TestRootDeterministicAndOrderSensitive(t *testing.T) {
	hashes := []string{"sha256:aa", "sha256:bb", "sha256:cc"}

	r1, err := Root(hashes)
	require.NoError(t, err)
	r2, err := Root(hashes)
	require.NoError(t, err)
	require.Equal(t, r1, r2)
	require.True(t, strings.HasPrefix(r1, "sha256:"))

	swapped, err := Root([]string{"sha256:bb", "sha256:aa", "sha256:cc"})
	require.NoError(t, err)
	require.NotEqual(t, r1, swapped)
}

func TestRootDomainSeparation(t *testing.T) {
	// A single leaf's root must not equal the raw leaf value, and a
	// two-leaf root must differ from a leaf built over the concatenation.
	single, err := Root([]string{"sha256:aa"})
	require.NoError(t, err)
	require.NotEqual(t, "sha256:aa", single)

	pair, err := Root([]string{"sha256:aa", "sha256:bb"})
	require.NoError(t, err)
	concat, err := Root([]string{"sha256:aasha256:bb"})
	require.NoError(t, err)
	require.NotEqual(t, pair, concat)
}

func TestRootRejectsEmptyBatch(t *testing.T) {
	_, err := Root(nil)
	require.Error(t, err)
	_, err = Root([]string{"sha256:aa", ""})
	require.Error(t, err)
}

func TestBuildAnchor(t *testing.T) {
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	receipts := []*contracts.Receipt{
		{ReceiptHash: "sha256:aa", EpisodeID: "ep-1"},
		{ReceiptHash: "sha256:bb", EpisodeID: "ep-1"},
	}

	anchor, err := BuildAnchor(receipts, now)
	require.NoError(t, err)
	require.Equal(t, 2, anchor.ReceiptCount)
	require.Equal(t, "ep-1", anchor.EpisodeID)

	payload := anchor.ReceiptPayload()
	require.NoError(t, contracts.ValidatePayload(contracts.ReceiptAnchor, payload))

	// Mixed-episode batches carry no episode attribution.
	receipts[1].EpisodeID = "ep-2"
	anchor, err = BuildAnchor(receipts, now)
	require.NoError(t, err)
	require.Empty(t, anchor.EpisodeID)
}

func TestVerifyAnchor(t *testing.T) {
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	receipts := []*contracts.Receipt{
		{ReceiptHash: "sha256:aa", EpisodeID: "ep-1"},
		{ReceiptHash: "sha256:bb", EpisodeID: "ep-1"},
	}
	anchor, err := BuildAnchor(receipts, now)
	require.NoError(t, err)

	require.NoError(t, VerifyAnchor(receipts, anchor))

	// A dropped receipt fails on count before root comparison.
	err = VerifyAnchor(receipts[:1], anchor)
	require.ErrorContains(t, err, "anchor covers 2")

	// A substituted hash fails on the root.
	tampered := []*contracts.Receipt{
		{ReceiptHash: "sha256:aa", EpisodeID: "ep-1"},
		{ReceiptHash: "sha256:ff", EpisodeID: "ep-1"},
	}
	err = VerifyAnchor(tampered, anchor)
	require.ErrorContains(t, err, "merkle root mismatch")
}

type fakeS3 struct {
	putKeys []string
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.putKeys = append(f.putKeys, *in.Key)
	return &s3.PutObjectOutput{}, nil
}

func TestS3PublisherWritesAnchorObject(t *testing.T) {
	fake := &fakeS3{}
	p := NewS3PublisherWithClient(fake, "proofs", "anchors/")

	anchor, err := BuildAnchor([]*contracts.Receipt{{ReceiptHash: "sha256:aa", EpisodeID: "ep-1"}}, time.Now())
	require.NoError(t, err)

	loc, err := p.Publish(context.Background(), anchor)
	require.NoError(t, err)
	require.Len(t, fake.putKeys, 1)
	require.True(t, strings.HasPrefix(fake.putKeys[0], "anchors/"))
	require.True(t, strings.HasPrefix(loc, "s3://proofs/anchors/"))
}
