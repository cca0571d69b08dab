package contracts

import "time"

// ReceiptContentType is the dedicated wire content type for receipts,
// distinct from generic JSON.
const ReceiptContentType = "application/vnd.parapet.receipt+json"

// ReceiptType identifies a receipt variant. Identifiers are namespaced
// and versioned (`parapet.<type>.vN`).
type ReceiptType string

const (
	ReceiptAction          ReceiptType = "parapet.action.v1"
	ReceiptRefusal         ReceiptType = "parapet.refusal.v1"
	ReceiptPlan            ReceiptType = "parapet.plan.v1"
	ReceiptVerdict         ReceiptType = "parapet.verdict.v1"
	ReceiptOverride        ReceiptType = "parapet.override.v1"
	ReceiptRiskOverride    ReceiptType = "parapet.risk_override.v1"
	ReceiptInvariantStress ReceiptType = "parapet.invariant_stress.v1"
	ReceiptCheckpoint      ReceiptType = "parapet.checkpoint.v1"
	ReceiptAnchor          ReceiptType = "parapet.anchor.v1"
	ReceiptIncident        ReceiptType = "parapet.incident.v1"
	ReceiptCredential      ReceiptType = "parapet.credential.v1"
)

// ProofTier selects how much cryptographic weight receipts carry.
type ProofTier string

const (
	TierBasic    ProofTier = "basic"    // hashed, unsigned
	TierStandard ProofTier = "standard" // hashed + chained, plans required for HIGH/CRITICAL
	TierSigned   ProofTier = "signed"   // standard + Ed25519 signatures, signed plans required
)

// SchemaVersion is the semantic version of the receipt envelope schema.
const SchemaVersion = "1.0.0"

// Receipt is the common envelope shared by every variant. ReceiptHash is
// computed over the JCS canonical form of every field except ReceiptHash
// and Signature themselves; that exclusion is an invariant, not a
// convention, because it prevents hash self-reference. Ordering is
// established by ParentHashes, which form an acyclic DAG.
type Receipt struct {
	ReceiptID     string         `json:"receipt_id"`
	ReceiptType   ReceiptType    `json:"receipt_type"`
	SchemaVersion string         `json:"schema_version"`
	TS            time.Time      `json:"ts"`
	EpisodeID     string         `json:"episode_id"`
	ParentHashes  []string       `json:"parent_hashes"`
	ProofTier     ProofTier      `json:"proof_tier"`
	Payload       map[string]any `json:"payload"`
	ReceiptHash   string         `json:"receipt_hash,omitempty"`
	Signature     string         `json:"signature,omitempty"`
	SignerKeyID   string         `json:"signer_key_id,omitempty"`
}

// Draft is an unpersisted receipt: type plus payload. The ledger fills in
// identity, chain linkage, hash, and signature at append time.
type Draft struct {
	ReceiptType ReceiptType
	EpisodeID   string
	Payload     map[string]any
}
