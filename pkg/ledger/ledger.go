// Package ledger appends receipts to a hash-chained, append-only DAG
// and verifies chains end to end. A receipt is durably stored before
// Append returns; ordering inside an episode comes from parent hashes,
// not wall clocks.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parapet-labs/parapet/pkg/canonicalize"
	"github.com/parapet-labs/parapet/pkg/contracts"
	"github.com/parapet-labs/parapet/pkg/crypto"
)

// Ledger appends receipts over a Store. Each episode forms one chain:
// the previous episode receipt is always a parent of the next, so the
// per-episode head is guarded by a per-episode mutex.
type Ledger struct {
	store  Store
	signer crypto.Signer // nil below TierSigned
	tier   contracts.ProofTier
	clock  func() time.Time

	mu     sync.Mutex
	chains map[string]*sync.Mutex // episode ID -> chain lock
}

// New builds a ledger at the given proof tier. A signer is required at
// TierSigned and ignored otherwise.
func New(store Store, tier contracts.ProofTier, signer crypto.Signer) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger store is required")
	}
	switch tier {
	case contracts.TierBasic, contracts.TierStandard:
	case contracts.TierSigned:
		if signer == nil {
			return nil, fmt.Errorf("signed tier requires a signer")
		}
	default:
		return nil, fmt.Errorf("unknown proof tier %q", tier)
	}
	return &Ledger{
		store:  store,
		signer: signer,
		tier:   tier,
		clock:  time.Now,
		chains: make(map[string]*sync.Mutex),
	}, nil
}

// WithClock overrides the clock for deterministic testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

func (l *Ledger) chainLock(episodeID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.chains[episodeID]
	if !ok {
		m = &sync.Mutex{}
		l.chains[episodeID] = m
	}
	return m
}

// Append validates the draft payload, links the receipt into its
// episode chain plus any extra parents, hashes, optionally signs, and
// persists durably before returning.
func (l *Ledger) Append(ctx context.Context, draft contracts.Draft, extraParents ...string) (*contracts.Receipt, error) {
	if draft.EpisodeID == "" {
		return nil, fmt.Errorf("draft episode id is required")
	}
	if err := contracts.ValidatePayload(draft.ReceiptType, draft.Payload); err != nil {
		return nil, fmt.Errorf("draft payload: %w", err)
	}

	lock := l.chainLock(draft.EpisodeID)
	lock.Lock()
	defer lock.Unlock()

	now := l.clock().UTC()

	parents := make([]string, 0, 1+len(extraParents))
	head, err := l.store.Head(ctx, draft.EpisodeID)
	if err != nil {
		return nil, fmt.Errorf("load chain head: %w", err)
	}
	if head != "" {
		parents = append(parents, head)
	}
	for _, p := range extraParents {
		if p == head {
			continue
		}
		parent, err := l.store.Get(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("parent %s: %w", p, err)
		}
		if parent.TS.After(now) {
			return nil, fmt.Errorf("parent %s has a future timestamp", p)
		}
		parents = append(parents, p)
	}

	r := &contracts.Receipt{
		ReceiptID:     uuid.NewString(),
		ReceiptType:   draft.ReceiptType,
		SchemaVersion: contracts.SchemaVersion,
		TS:            now,
		EpisodeID:     draft.EpisodeID,
		ParentHashes:  parents,
		ProofTier:     l.tier,
		Payload:       draft.Payload,
	}
	if l.signer != nil {
		r.SignerKeyID = l.signer.KeyID()
	}

	canonical, err := canonicalBytes(r)
	if err != nil {
		return nil, err
	}
	r.ReceiptHash = canonicalize.HashBytes(canonical)

	// A fresh hash can only appear in its own ancestry if a parent
	// already references it, which would make the DAG cyclic.
	if err := l.rejectSelfAncestry(ctx, r.ReceiptHash, parents); err != nil {
		return nil, err
	}

	if l.signer != nil {
		sig, err := l.signer.Sign(canonical)
		if err != nil {
			return nil, fmt.Errorf("sign receipt: %w", err)
		}
		r.Signature = sig
	}

	if err := l.store.Put(ctx, r); err != nil {
		return nil, fmt.Errorf("persist receipt: %w", err)
	}
	return r, nil
}

// canonicalBytes returns the JCS form hashed and signed: every field
// except receipt_hash and signature.
func canonicalBytes(r *contracts.Receipt) ([]byte, error) {
	unsigned := *r
	unsigned.ReceiptHash = ""
	unsigned.Signature = ""
	b, err := canonicalize.JCS(unsigned)
	if err != nil {
		return nil, fmt.Errorf("canonicalize receipt: %w", err)
	}
	return b, nil
}

func (l *Ledger) rejectSelfAncestry(ctx context.Context, hash string, parents []string) error {
	seen := make(map[string]bool)
	stack := append([]string(nil), parents...)
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if h == hash {
			return fmt.Errorf("receipt %s would be its own ancestor", hash)
		}
		if seen[h] {
			continue
		}
		seen[h] = true
		parent, err := l.store.Get(ctx, h)
		if err != nil {
			return fmt.Errorf("ancestry walk at %s: %w", h, err)
		}
		stack = append(stack, parent.ParentHashes...)
	}
	return nil
}

// Get returns a stored receipt by hash.
func (l *Ledger) Get(ctx context.Context, receiptHash string) (*contracts.Receipt, error) {
	return l.store.Get(ctx, receiptHash)
}

// Episode returns an episode's receipts in timestamp order.
func (l *Ledger) Episode(ctx context.Context, episodeID string) ([]*contracts.Receipt, error) {
	return l.store.ListEpisode(ctx, episodeID)
}
