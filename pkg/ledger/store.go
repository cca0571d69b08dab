package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/parapet-labs/parapet/pkg/contracts"
)

// ErrNotFound is returned when a receipt hash is unknown to a store.
var ErrNotFound = fmt.Errorf("receipt not found")

// Store persists receipts durably. Put must not return before the
// receipt is durable; the pipeline relies on that ordering to treat
// receipts as proof rather than best-effort logs.
type Store interface {
	Put(ctx context.Context, r *contracts.Receipt) error
	Get(ctx context.Context, receiptHash string) (*contracts.Receipt, error)
	ListEpisode(ctx context.Context, episodeID string) ([]*contracts.Receipt, error)
	Head(ctx context.Context, episodeID string) (string, error)
	Close() error
}

// MemoryStore is the in-process Store used in tests and ephemeral
// profiles.
type MemoryStore struct {
	mu       sync.RWMutex
	byHash   map[string]*contracts.Receipt
	episodes map[string][]string // episode ID -> receipt hashes in insertion order
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHash:   make(map[string]*contracts.Receipt),
		episodes: make(map[string][]string),
	}
}

func (s *MemoryStore) Put(_ context.Context, r *contracts.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byHash[r.ReceiptHash]; exists {
		return fmt.Errorf("receipt %s already stored", r.ReceiptHash)
	}
	cp := *r
	s.byHash[r.ReceiptHash] = &cp
	s.episodes[r.EpisodeID] = append(s.episodes[r.EpisodeID], r.ReceiptHash)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, receiptHash string) (*contracts.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byHash[receiptHash]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListEpisode(_ context.Context, episodeID string) ([]*contracts.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hashes := s.episodes[episodeID]
	out := make([]*contracts.Receipt, 0, len(hashes))
	for _, h := range hashes {
		cp := *s.byHash[h]
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out, nil
}

func (s *MemoryStore) Head(_ context.Context, episodeID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hashes := s.episodes[episodeID]
	if len(hashes) == 0 {
		return "", nil
	}
	return hashes[len(hashes)-1], nil
}

func (s *MemoryStore) Close() error { return nil }
