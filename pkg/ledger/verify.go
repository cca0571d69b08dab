package ledger

import (
	"fmt"

	"github.com/parapet-labs/parapet/pkg/canonicalize"
	"github.com/parapet-labs/parapet/pkg/contracts"
	"github.com/parapet-labs/parapet/pkg/crypto"
)

// Problem codes reported by VerifyChain. These are stable identifiers;
// conformance reporting keys off them.
const (
	ProblemHashMismatch   = "hash_mismatch"
	ProblemMissingParent  = "missing_parent"
	ProblemCycle          = "cycle"
	ProblemTimestampOrder = "timestamp_order"
	ProblemBadSignature   = "bad_signature"
	ProblemUnknownSigner  = "unknown_signer"
	ProblemBadPayload     = "bad_payload"
)

// Problem is one verification finding.
type Problem struct {
	Code      string `json:"code"`
	ReceiptID string `json:"receipt_id"`
	Detail    string `json:"detail"`
}

// Report is the outcome of verifying a receipt set.
type Report struct {
	OK       bool      `json:"ok"`
	Checked  int       `json:"checked"`
	Problems []Problem `json:"problems,omitempty"`
}

func (r *Report) add(code, receiptID, detail string) {
	r.OK = false
	r.Problems = append(r.Problems, Problem{Code: code, ReceiptID: receiptID, Detail: detail})
}

// VerifyChain re-derives every receipt hash, walks the parent DAG for
// cycles and missing links, checks timestamp ordering against parents,
// validates payloads against their variant schemas, and verifies
// signatures against trustedKeys (key ID to hex public key). The whole
// set is checked; verification never stops at the first finding.
func VerifyChain(receipts []*contracts.Receipt, trustedKeys map[string]string) *Report {
	report := &Report{OK: true, Checked: len(receipts)}
	byHash := make(map[string]*contracts.Receipt, len(receipts))

	for _, r := range receipts {
		canonical, err := canonicalBytes(r)
		if err != nil {
			report.add(ProblemHashMismatch, r.ReceiptID, err.Error())
			continue
		}
		if got := canonicalize.HashBytes(canonical); got != r.ReceiptHash {
			report.add(ProblemHashMismatch, r.ReceiptID,
				fmt.Sprintf("stored %s, recomputed %s", r.ReceiptHash, got))
			continue
		}
		byHash[r.ReceiptHash] = r

		if err := contracts.ValidatePayload(r.ReceiptType, r.Payload); err != nil {
			report.add(ProblemBadPayload, r.ReceiptID, err.Error())
		}

		if r.Signature != "" {
			verifySignature(report, r, canonical, trustedKeys)
		}
	}

	for _, r := range receipts {
		for _, p := range r.ParentHashes {
			parent, ok := byHash[p]
			if !ok {
				report.add(ProblemMissingParent, r.ReceiptID, fmt.Sprintf("parent %s not in set", p))
				continue
			}
			if parent.TS.After(r.TS) {
				report.add(ProblemTimestampOrder, r.ReceiptID,
					fmt.Sprintf("parent %s is newer than child", parent.ReceiptID))
			}
		}
	}

	detectCycles(report, receipts, byHash)
	return report
}

func verifySignature(report *Report, r *contracts.Receipt, canonical []byte, trustedKeys map[string]string) {
	pub, ok := trustedKeys[r.SignerKeyID]
	if !ok {
		report.add(ProblemUnknownSigner, r.ReceiptID,
			fmt.Sprintf("no trusted key for signer %q", r.SignerKeyID))
		return
	}
	valid, err := crypto.Verify(pub, r.Signature, canonical)
	if err != nil {
		report.add(ProblemBadSignature, r.ReceiptID, err.Error())
		return
	}
	if !valid {
		report.add(ProblemBadSignature, r.ReceiptID, "signature does not verify")
	}
}

// detectCycles runs a three-color DFS over the parent DAG.
func detectCycles(report *Report, receipts []*contracts.Receipt, byHash map[string]*contracts.Receipt) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(byHash))

	var visit func(hash string) bool
	visit = func(hash string) bool {
		switch color[hash] {
		case gray:
			return true
		case black:
			return false
		}
		color[hash] = gray
		if r, ok := byHash[hash]; ok {
			for _, p := range r.ParentHashes {
				if visit(p) {
					return true
				}
			}
		}
		color[hash] = black
		return false
	}

	for _, r := range receipts {
		if r.ReceiptHash == "" || byHash[r.ReceiptHash] == nil {
			continue
		}
		if color[r.ReceiptHash] == white && visit(r.ReceiptHash) {
			report.add(ProblemCycle, r.ReceiptID, "receipt participates in an ancestry cycle")
		}
	}
}
