package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "parapet", cfg.ServiceName)
	require.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	require.Equal(t, 1.0, cfg.SampleRate)
	require.True(t, cfg.Enabled)
	require.False(t, cfg.Insecure)
}

func TestDisabledProviderIsInert(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, &Config{Enabled: false})
	require.NoError(t, err)

	// No instruments exist; every record path must be a no-op.
	p.RecordDecision(ctx, "shell", "allowed")
	p.RecordRefusal(ctx, "shell", "no_plan")
	p.RecordOverride(ctx, "git_force_push")

	_, done := p.TrackEvaluation(ctx, "shell")
	done(errors.New("boom"))
	done(nil)

	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())
	require.NoError(t, p.Shutdown(ctx))
}
