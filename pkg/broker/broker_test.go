package broker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testMaster = []byte("0123456789abcdef0123456789abcdef")

func testVault(t *testing.T) *Vault {
	t.Helper()
	v, err := OpenVault(filepath.Join(t.TempDir(), "vault.db"), testMaster)
	require.NoError(t, err)
	t.Cleanup(func() { v.Close() })
	return v
}

func testExchanger(t *testing.T) *TokenExchanger {
	t.Helper()
	e, err := NewTokenExchanger(testMaster, "parapet/broker", 5*time.Minute)
	require.NoError(t, err)
	return e
}

func TestVaultRoundTrip(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)

	require.NoError(t, v.Put(ctx, "db-prod", "s3cret"))

	got, found, err := v.Get(ctx, "db-prod")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "s3cret", got)

	_, found, err = v.Get(ctx, "db-staging")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, v.Put(ctx, "db-prod", "rotated"))
	got, _, err = v.Get(ctx, "db-prod")
	require.NoError(t, err)
	require.Equal(t, "rotated", got)

	require.NoError(t, v.Delete(ctx, "db-prod"))
	_, found, err = v.Get(ctx, "db-prod")
	require.NoError(t, err)
	require.False(t, found)
}

func TestVaultRejectsShortMaster(t *testing.T) {
	_, err := OpenVault(":memory:", []byte("short"))
	require.Error(t, err)
}

func TestExchangeIsAudienceBound(t *testing.T) {
	e := testExchanger(t)

	token, expires, err := e.Exchange("client-token", "api.upstream.example", "agent-7")
	require.NoError(t, err)
	require.NotEqual(t, "client-token", token)
	require.False(t, expires.IsZero())

	claims, err := e.Validate(token, "api.upstream.example")
	require.NoError(t, err)
	require.Equal(t, "agent-7", claims.Subject)
	require.NotEmpty(t, claims.CredHash)

	_, err = e.Validate(token, "api.other.example")
	require.Error(t, err, "audience mismatch must fail validation")
}

func TestExchangedTokenExpires(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	e := testExchanger(t).WithClock(func() time.Time { return now })

	token, _, err := e.Exchange("client-token", "api.upstream.example", "agent-7")
	require.NoError(t, err)

	now = now.Add(10 * time.Minute)
	_, err = e.Validate(token, "api.upstream.example")
	require.Error(t, err)
}

func TestResolvePrefersVault(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)
	require.NoError(t, v.Put(ctx, "db-prod", "vault-secret"))

	b := New(v, testExchanger(t))

	cred, err := b.Resolve(ctx, "client-token", "db-prod", "agent-7")
	require.NoError(t, err)
	require.Equal(t, ModeVault, cred.Mode)
	require.Equal(t, "vault-secret", cred.Token)
	require.False(t, cred.Blocked)
}

func TestResolveFallsBackToExchange(t *testing.T) {
	ctx := context.Background()
	b := New(testVault(t), testExchanger(t))

	cred, err := b.Resolve(ctx, "client-token", "api.upstream.example", "agent-7")
	require.NoError(t, err)
	require.Equal(t, ModeExchanged, cred.Mode)
	require.Equal(t, "api.upstream.example", cred.Audience)
	require.NotEqual(t, "client-token", cred.Token)
}

func TestResolveFailsClosedWithoutAnyPath(t *testing.T) {
	ctx := context.Background()
	b := New(nil, nil)

	cred, err := b.Resolve(ctx, "client-token", "api.upstream.example", "agent-7")
	require.ErrorIs(t, err, ErrPassthroughBlocked)
	require.Equal(t, ModeBlocked, cred.Mode)
	require.True(t, cred.Blocked)
	require.Empty(t, cred.Token, "the client credential must never pass through")
}

func TestResolveBlocksPassthroughVaultSecret(t *testing.T) {
	ctx := context.Background()
	v := testVault(t)
	require.NoError(t, v.Put(ctx, "db-prod", "client-token"))

	b := New(v, nil)
	cred, err := b.Resolve(ctx, "client-token", "db-prod", "agent-7")
	require.ErrorIs(t, err, ErrPassthroughBlocked)
	require.True(t, cred.Blocked)
}

func TestResolveNoCredentialNeeded(t *testing.T) {
	b := New(nil, nil)
	cred, err := b.Resolve(context.Background(), "", "", "agent-7")
	require.NoError(t, err)
	require.Equal(t, ModeNone, cred.Mode)
	require.False(t, cred.Blocked)
}

func TestReceiptPayloadCarriesNoTokenMaterial(t *testing.T) {
	cred := UpstreamCredential{
		Token:    "top-secret",
		Mode:     ModeVault,
		Audience: "db-prod",
	}
	payload := cred.ReceiptPayload()
	require.Equal(t, "vault", payload["mode"])
	require.Equal(t, false, payload["blocked"])
	for _, v := range payload {
		require.NotEqual(t, "top-secret", v)
	}
}
