// Package override grants single-use emergency overrides for refused
// actions and watches for repeated overrides of the same pattern, which
// signal a policy under stress rather than a one-off emergency.
package override

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parapet-labs/parapet/pkg/contracts"
	"github.com/parapet-labs/parapet/pkg/ledger"
)

const (
	// DefaultThreshold and DefaultWindow bound how often the same
	// pattern may be overridden before an InvariantStress receipt fires.
	DefaultThreshold = 3
	DefaultWindow    = 30 * 24 * time.Hour

	// DefaultTTL bounds how long a granted override stays redeemable.
	DefaultTTL = time.Hour
)

// Manager issues and redeems overrides. Redemption is one-shot per
// grant and one grant covers exactly one refusal.
type Manager struct {
	ledger    *ledger.Ledger
	counter   WindowCounter
	threshold int
	window    time.Duration
	ttl       time.Duration
	clock     func() time.Time

	mu        sync.Mutex
	grants    map[string]*contracts.EmergencyOverride // override ID -> grant
	byRefusal map[string]string                       // refusal ID -> override ID
}

// NewManager wires the manager over a ledger and counter. Zero values
// select the defaults.
func NewManager(l *ledger.Ledger, counter WindowCounter, threshold int, window, ttl time.Duration) *Manager {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if counter == nil {
		counter = NewMemoryCounter()
	}
	return &Manager{
		ledger:    l,
		counter:   counter,
		threshold: threshold,
		window:    window,
		ttl:       ttl,
		clock:     time.Now,
		grants:    make(map[string]*contracts.EmergencyOverride),
		byRefusal: make(map[string]string),
	}
}

// WithClock overrides the clock for deterministic testing.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// Grant issues an override for a prior refusal. The pattern is the
// classifier pattern of the refused action; together with the granting
// authority it keys the stress counter. The refusal is reserved before
// anything is appended, so a losing concurrent grant for the same
// refusal persists nothing. The Override receipt, and the
// InvariantStress receipt when the window count exceeds the threshold,
// are persisted before returning.
func (m *Manager) Grant(ctx context.Context, episodeID, refusalID, pattern, justification, authority string) (*contracts.EmergencyOverride, error) {
	if refusalID == "" {
		return nil, fmt.Errorf("refusal id is required")
	}
	if justification == "" {
		return nil, fmt.Errorf("justification is required")
	}
	if authority == "" {
		return nil, fmt.Errorf("authority is required")
	}

	now := m.clock().UTC()
	grant := &contracts.EmergencyOverride{
		OverrideID:        uuid.NewString(),
		OriginalRefusalID: refusalID,
		Justification:     justification,
		Authority:         authority,
		ExpiresAt:         now.Add(m.ttl),
	}

	m.mu.Lock()
	if prior, exists := m.byRefusal[refusalID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("refusal %s already has override %s", refusalID, prior)
	}
	m.byRefusal[refusalID] = grant.OverrideID
	m.grants[grant.OverrideID] = grant
	m.mu.Unlock()

	rollback := func() {
		m.mu.Lock()
		delete(m.byRefusal, refusalID)
		delete(m.grants, grant.OverrideID)
		m.mu.Unlock()
	}

	if _, err := m.ledger.Append(ctx, contracts.Draft{
		ReceiptType: contracts.ReceiptOverride,
		EpisodeID:   episodeID,
		Payload: map[string]any{
			"override_id":         grant.OverrideID,
			"original_refusal_id": refusalID,
			"justification":       justification,
			"authority":           authority,
		},
	}); err != nil {
		rollback()
		return nil, fmt.Errorf("override receipt: %w", err)
	}

	if pattern != "" {
		count, err := m.counter.Increment(ctx, pattern+"|"+authority, now, m.window)
		if err != nil {
			rollback()
			return nil, fmt.Errorf("override counter: %w", err)
		}
		if count > m.threshold {
			if _, err := m.ledger.Append(ctx, contracts.Draft{
				ReceiptType: contracts.ReceiptInvariantStress,
				EpisodeID:   episodeID,
				Payload: map[string]any{
					"pattern":     pattern,
					"authority":   authority,
					"count":       count,
					"threshold":   m.threshold,
					"window_days": int(m.window.Hours() / 24),
				},
			}); err != nil {
				rollback()
				return nil, fmt.Errorf("invariant stress receipt: %w", err)
			}
		}
	}

	return grant, nil
}

// Redeem consumes the live override for a refusal, permitting exactly
// one execution. The second redemption of the same grant fails.
func (m *Manager) Redeem(refusalID string) (*contracts.EmergencyOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byRefusal[refusalID]
	if !ok {
		return nil, fmt.Errorf("no override for refusal %s", refusalID)
	}
	grant := m.grants[id]
	if grant.Consumed {
		return nil, fmt.Errorf("override %s already consumed", id)
	}
	if !m.clock().Before(grant.ExpiresAt) {
		return nil, fmt.Errorf("override %s expired", id)
	}
	grant.Consumed = true
	cp := *grant
	return &cp, nil
}
