package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"github.com/parapet-labs/parapet/pkg/broker"
	"github.com/parapet-labs/parapet/pkg/config"
	"github.com/parapet-labs/parapet/pkg/contracts"
	"github.com/parapet-labs/parapet/pkg/crypto"
	"github.com/parapet-labs/parapet/pkg/incident"
	"github.com/parapet-labs/parapet/pkg/ledger"
	"github.com/parapet-labs/parapet/pkg/pipeline"
	"github.com/parapet-labs/parapet/pkg/sandbox"
)

// runDemoCmd drives one scripted episode through the gateway against a
// filesystem receipt store, so `parapet verify` and `parapet conform`
// have real material to audit.
func runDemoCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("demo", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		dir         string
		profileName string
		episodeID   string
	)
	cmd.StringVar(&dir, "dir", "receipts", "Receipt directory to write")
	cmd.StringVar(&profileName, "profile", "dev", "Execution profile (dev, high_trust)")
	cmd.StringVar(&episodeID, "episode", "demo-episode", "Episode ID for the scripted run")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	profile, err := config.LoadProfile(config.Load().ProfilesDir, profileName)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	// The scripted episode works inside /tmp regardless of profile.
	profile.WorkspaceRoot = "/tmp"

	store, err := ledger.OpenFileStore(dir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer store.Close()

	var signer crypto.Signer
	if profile.ProofTier == contracts.TierSigned || profile.RequireSignedPlan {
		signer, err = crypto.NewEd25519Signer("demo-key")
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		fmt.Fprintf(stdout, "ephemeral signing key %s %s\n", signer.KeyID(), signer.PublicKey())
	}

	var ledgerSigner crypto.Signer
	if profile.ProofTier == contracts.TierSigned {
		ledgerSigner = signer
	}
	l, err := ledger.New(store, profile.ProofTier, ledgerSigner)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	gw, err := pipeline.New(pipeline.Deps{
		Profile:   profile,
		Ledger:    l,
		Incidents: incident.NewController(l, episodeID+"-incidents"),
		Executor: pipeline.ExecutorFunc(func(_ context.Context, action contracts.ToolAction, _ broker.UpstreamCredential, _ sandbox.Contract) (pipeline.Outcome, error) {
			return pipeline.Outcome{Status: "success", Detail: "demo executor ran " + action.Tool}, nil
		}),
		Logger: slog.Default(),
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	if profile.RequireSignedPlan {
		gw.Plans().RequireSignatures(map[string]string{signer.KeyID(): signer.PublicKey()})
	}

	ctx := context.Background()

	// 1. A destructive action with no plan: refused and receipted.
	res, err := gw.Process(ctx, pipeline.Request{
		EpisodeID: episodeID,
		Action: contracts.ToolAction{
			Tool:      "shell",
			Command:   "rm -rf /",
			Scope:     "/",
			SessionID: "demo-session",
			Principal: "demo-agent",
		},
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	fmt.Fprintf(stdout, "unplanned wipe    -> %s (%s)\n", res.Decision, res.Reason)

	// 2. Declare a plan, get an ALLOW verdict, and receipt both.
	p, err := gw.Plans().CreatePlan(episodeID, "cache maintenance", "clear stale build cache", []contracts.PlanStep{
		{Tool: "shell", Scope: "/tmp/cache/*", Risk: contracts.RiskHigh},
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if profile.RequireSignedPlan {
		if err := gw.Plans().SignPlan(p, signer); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
	}
	v, err := gw.Plans().RecordVerdict(p, contracts.VerdictAllow, "scoped and recoverable", "guardian", signer)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if _, err := l.Append(ctx, contracts.Draft{
		ReceiptType: contracts.ReceiptPlan,
		EpisodeID:   episodeID,
		Payload: map[string]any{
			"plan_id": p.PlanID,
			"subject": p.Subject,
			"steps":   planStepsPayload(p.Steps),
		},
	}); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if _, err := l.Append(ctx, contracts.Draft{
		ReceiptType: contracts.ReceiptVerdict,
		EpisodeID:   episodeID,
		Payload: map[string]any{
			"verdict_id": v.VerdictID,
			"plan_hash":  v.PlanHash,
			"decision":   string(v.Decision),
			"authority":  v.Authority,
		},
	}); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	// 3. The planned action executes.
	res, err = gw.Process(ctx, pipeline.Request{
		EpisodeID: episodeID,
		Action: contracts.ToolAction{
			Tool:      "shell",
			Command:   "rm -rf /tmp/cache/old",
			Scope:     "/tmp/cache/old",
			SessionID: "demo-session",
			Principal: "demo-agent",
		},
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	fmt.Fprintf(stdout, "planned cleanup   -> %s\n", res.Decision)

	// 4. The same plan does not cover a wider scope.
	res, err = gw.Process(ctx, pipeline.Request{
		EpisodeID: episodeID,
		Action: contracts.ToolAction{
			Tool:      "shell",
			Command:   "rm -rf /tmp/secrets",
			Scope:     "/tmp/secrets",
			SessionID: "demo-session",
			Principal: "demo-agent",
		},
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	fmt.Fprintf(stdout, "out-of-scope wipe -> %s (%s)\n", res.Decision, res.Reason)

	fmt.Fprintf(stdout, "receipts written to %s\n", dir)
	return 0
}

func planStepsPayload(steps []contracts.PlanStep) []any {
	out := make([]any, 0, len(steps))
	for _, s := range steps {
		out = append(out, map[string]any{
			"tool":  s.Tool,
			"scope": s.Scope,
			"risk":  string(s.Risk),
		})
	}
	return out
}
