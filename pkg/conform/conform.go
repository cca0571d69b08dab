// Package conform audits a set of persisted receipts against the
// gateway's safety claims: chain and hash integrity, schema version
// compatibility, and the behavioral properties an honest deployment
// must exhibit. It is designed to run offline over an exported receipt
// directory, far from the process that wrote it.
package conform

import (
	"fmt"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/parapet-labs/parapet/pkg/canonicalize"
	"github.com/parapet-labs/parapet/pkg/contracts"
	"github.com/parapet-labs/parapet/pkg/crypto"
	"github.com/parapet-labs/parapet/pkg/ledger"
)

// Check codes are stable identifiers; CI pipelines and dashboards key
// off them.
const (
	CheckHashIntegrity   = "hash_integrity"
	CheckChainIntegrity  = "chain_integrity"
	CheckTimestampOrder  = "timestamp_order"
	CheckSignatures      = "signatures"
	CheckSchemaVersion   = "schema_version"
	CheckCriticalBlocked = "critical_pattern_blocked"
	CheckPlanEvidence    = "plan_evidence"
	CheckRefusalReasons  = "refusal_reasons"
)

// Finding is one failed expectation within a check.
type Finding struct {
	ReceiptID string `json:"receipt_id,omitempty"`
	Detail    string `json:"detail"`
}

// CheckResult is the outcome of a single named check.
type CheckResult struct {
	Code     string    `json:"code"`
	Passed   bool      `json:"passed"`
	Findings []Finding `json:"findings,omitempty"`
}

// Report is the machine-readable conformance verdict over one receipt
// set.
type Report struct {
	GeneratedAt   time.Time     `json:"generated_at"`
	SchemaVersion string        `json:"schema_version"`
	ReceiptCount  int           `json:"receipt_count"`
	Passed        bool          `json:"passed"`
	Checks        []CheckResult `json:"checks"`
}

// FailureCount returns the total finding count across all checks.
func (r *Report) FailureCount() int {
	n := 0
	for _, c := range r.Checks {
		n += len(c.Findings)
	}
	return n
}

// Options configures a conformance run.
type Options struct {
	// TrustedKeys maps signer key IDs to hex Ed25519 public keys.
	TrustedKeys map[string]string
	// RequireSignatures fails any unsigned receipt, matching a
	// signed-tier deployment claim.
	RequireSignatures bool
	// SchemaConstraint is a semver range every receipt's schema_version
	// must satisfy. Defaults to the major line this tool understands.
	SchemaConstraint string
}

type checker struct {
	receipts []*contracts.Receipt
	results  map[string]*CheckResult
	order    []string
}

func newChecker(receipts []*contracts.Receipt) *checker {
	return &checker{receipts: receipts, results: map[string]*CheckResult{}}
}

func (c *checker) result(code string) *CheckResult {
	r, ok := c.results[code]
	if !ok {
		r = &CheckResult{Code: code, Passed: true}
		c.results[code] = r
		c.order = append(c.order, code)
	}
	return r
}

func (c *checker) fail(code, receiptID, detail string) {
	r := c.result(code)
	r.Passed = false
	r.Findings = append(r.Findings, Finding{ReceiptID: receiptID, Detail: detail})
}

// Run executes every check over the receipt set and returns the report.
// Checks never short-circuit; the report lists all findings.
func Run(receipts []*contracts.Receipt, opts Options) (*Report, error) {
	c := newChecker(receipts)

	// Seed the check order so a clean run still lists every check.
	for _, code := range []string{
		CheckHashIntegrity, CheckChainIntegrity, CheckTimestampOrder,
		CheckSignatures, CheckSchemaVersion, CheckCriticalBlocked,
		CheckPlanEvidence, CheckRefusalReasons,
	} {
		c.result(code)
	}

	c.runChainChecks(opts)
	if err := c.runSchemaVersion(opts); err != nil {
		return nil, err
	}
	c.runCriticalBlocked()
	c.runPlanEvidence()
	c.runRefusalReasons()

	report := &Report{
		GeneratedAt:   time.Now().UTC(),
		SchemaVersion: contracts.SchemaVersion,
		ReceiptCount:  len(receipts),
		Passed:        true,
	}
	for _, code := range c.order {
		r := c.results[code]
		report.Checks = append(report.Checks, *r)
		if !r.Passed {
			report.Passed = false
		}
	}
	return report, nil
}

// runChainChecks delegates the cryptographic checks to the ledger
// verifier and buckets its findings under the conformance check codes.
func (c *checker) runChainChecks(opts Options) {
	chain := ledger.VerifyChain(c.receipts, opts.TrustedKeys)
	for _, p := range chain.Problems {
		switch p.Code {
		case ledger.ProblemHashMismatch, ledger.ProblemBadPayload:
			c.fail(CheckHashIntegrity, p.ReceiptID, p.Detail)
		case ledger.ProblemMissingParent, ledger.ProblemCycle:
			c.fail(CheckChainIntegrity, p.ReceiptID, p.Detail)
		case ledger.ProblemTimestampOrder:
			c.fail(CheckTimestampOrder, p.ReceiptID, p.Detail)
		case ledger.ProblemBadSignature, ledger.ProblemUnknownSigner:
			c.fail(CheckSignatures, p.ReceiptID, p.Detail)
		default:
			c.fail(CheckChainIntegrity, p.ReceiptID, p.Detail)
		}
	}

	if opts.RequireSignatures {
		for _, r := range c.receipts {
			if r.Signature == "" {
				c.fail(CheckSignatures, r.ReceiptID, "receipt is unsigned")
			}
		}
	}
}

func (c *checker) runSchemaVersion(opts Options) error {
	constraint := opts.SchemaConstraint
	if constraint == "" {
		own := semver.MustParse(contracts.SchemaVersion)
		constraint = fmt.Sprintf("^%d", own.Major())
	}
	rng, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("schema constraint %q: %w", constraint, err)
	}
	for _, r := range c.receipts {
		v, err := semver.NewVersion(r.SchemaVersion)
		if err != nil {
			c.fail(CheckSchemaVersion, r.ReceiptID,
				fmt.Sprintf("unparseable schema_version %q", r.SchemaVersion))
			continue
		}
		if !rng.Check(v) {
			c.fail(CheckSchemaVersion, r.ReceiptID,
				fmt.Sprintf("schema_version %s outside %s", r.SchemaVersion, constraint))
		}
	}
	return nil
}

// runCriticalBlocked enforces the core property: a CRITICAL action never
// executes without explicit, receipted override evidence. Attested
// downgrades re-label the action HIGH before execution, so any action
// receipt still carrying CRITICAL must show a consumed emergency
// override.
func (c *checker) runCriticalBlocked() {
	for _, r := range c.receipts {
		if r.ReceiptType != contracts.ReceiptAction {
			continue
		}
		level, _ := r.Payload["risk_level"].(string)
		if level != string(contracts.RiskCritical) {
			continue
		}
		if used, _ := r.Payload["override_used"].(bool); used {
			continue
		}
		c.fail(CheckCriticalBlocked, r.ReceiptID,
			"CRITICAL action executed without override evidence")
	}
}

// runPlanEvidence requires every executed HIGH/CRITICAL action to sit in
// an episode that also persists plan and ALLOW-verdict receipts, unless
// the action was an override redemption.
func (c *checker) runPlanEvidence() {
	type episodeEvidence struct {
		hasPlan  bool
		hasAllow bool
	}
	evidence := map[string]*episodeEvidence{}
	for _, r := range c.receipts {
		e, ok := evidence[r.EpisodeID]
		if !ok {
			e = &episodeEvidence{}
			evidence[r.EpisodeID] = e
		}
		switch r.ReceiptType {
		case contracts.ReceiptPlan:
			e.hasPlan = true
		case contracts.ReceiptVerdict:
			if d, _ := r.Payload["decision"].(string); d == string(contracts.VerdictAllow) {
				e.hasAllow = true
			}
		}
	}

	for _, r := range c.receipts {
		if r.ReceiptType != contracts.ReceiptAction {
			continue
		}
		level, _ := r.Payload["risk_level"].(string)
		if level != string(contracts.RiskHigh) && level != string(contracts.RiskCritical) {
			continue
		}
		if used, _ := r.Payload["override_used"].(bool); used {
			continue
		}
		e := evidence[r.EpisodeID]
		if !e.hasPlan {
			c.fail(CheckPlanEvidence, r.ReceiptID,
				fmt.Sprintf("%s action in episode %s with no plan receipt", level, r.EpisodeID))
			continue
		}
		if !e.hasAllow {
			c.fail(CheckPlanEvidence, r.ReceiptID,
				fmt.Sprintf("%s action in episode %s with no ALLOW verdict receipt", level, r.EpisodeID))
		}
	}
}

func (c *checker) runRefusalReasons() {
	for _, r := range c.receipts {
		if r.ReceiptType != contracts.ReceiptRefusal {
			continue
		}
		reason, _ := r.Payload["reason"].(string)
		if !contracts.ReasonCode(reason).Known() {
			c.fail(CheckRefusalReasons, r.ReceiptID,
				fmt.Sprintf("unknown refusal reason %q", reason))
		}
	}
}

// SignedReport wraps a report with a detached Ed25519 signature over its
// canonical JSON form, so the artifact itself is tamper-evident.
type SignedReport struct {
	Report      *Report `json:"report"`
	SignerKeyID string  `json:"signer_key_id"`
	Signature   string  `json:"signature"`
}

// Sign canonicalizes and signs the report.
func Sign(report *Report, signer crypto.Signer) (*SignedReport, error) {
	canonical, err := canonicalize.JCS(report)
	if err != nil {
		return nil, fmt.Errorf("canonicalize report: %w", err)
	}
	sig, err := signer.Sign(canonical)
	if err != nil {
		return nil, fmt.Errorf("sign report: %w", err)
	}
	return &SignedReport{Report: report, SignerKeyID: signer.KeyID(), Signature: sig}, nil
}

// VerifySigned checks a signed report against a hex public key.
func VerifySigned(sr *SignedReport, pubKeyHex string) (bool, error) {
	canonical, err := canonicalize.JCS(sr.Report)
	if err != nil {
		return false, fmt.Errorf("canonicalize report: %w", err)
	}
	return crypto.Verify(pubKeyHex, sr.Signature, canonical)
}

// FailingChecks returns the codes of failed checks in report order.
func (r *Report) FailingChecks() []string {
	var out []string
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c.Code)
		}
	}
	sort.Strings(out)
	return out
}
