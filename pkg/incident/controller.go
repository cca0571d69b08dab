// Package incident owns process-wide kill-switch, quarantine, and
// revocation state. Every transition emits an Incident receipt and
// swaps in a fresh immutable snapshot, so per-request reads never take
// a lock.
package incident

import (
	"context"
	"fmt"
	"path"
	"sync"
	"sync/atomic"

	"github.com/parapet-labs/parapet/pkg/contracts"
	"github.com/parapet-labs/parapet/pkg/ledger"
)

// Controller is the single owner of incident state. Reads go through
// Snapshot; writes copy, mutate, and swap under the write lock.
type Controller struct {
	state     atomic.Pointer[contracts.IncidentSnapshot]
	writeMu   sync.Mutex
	ledger    *ledger.Ledger
	episodeID string
}

// NewController starts with a clean snapshot. Transitions are receipted
// into the given episode, conventionally a dedicated incident episode.
func NewController(l *ledger.Ledger, episodeID string) *Controller {
	c := &Controller{ledger: l, episodeID: episodeID}
	c.state.Store(emptySnapshot())
	return c
}

func emptySnapshot() *contracts.IncidentSnapshot {
	return &contracts.IncidentSnapshot{
		KilledTools:         map[string]struct{}{},
		QuarantinedSessions: map[string]struct{}{},
		RevokedPrincipals:   map[string]struct{}{},
	}
}

// Snapshot returns the current immutable state. Callers must not
// mutate it.
func (c *Controller) Snapshot() *contracts.IncidentSnapshot {
	return c.state.Load()
}

func cloneSet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

func (c *Controller) clone() *contracts.IncidentSnapshot {
	cur := c.state.Load()
	return &contracts.IncidentSnapshot{
		KilledTools:         cloneSet(cur.KilledTools),
		QuarantinedSessions: cloneSet(cur.QuarantinedSessions),
		RevokedPrincipals:   cloneSet(cur.RevokedPrincipals),
	}
}

func (c *Controller) emit(ctx context.Context, action, target string) error {
	if c.ledger == nil {
		return nil
	}
	_, err := c.ledger.Append(ctx, contracts.Draft{
		ReceiptType: contracts.ReceiptIncident,
		EpisodeID:   c.episodeID,
		Payload: map[string]any{
			"incident_action": action,
			"target":          target,
		},
	})
	if err != nil {
		return fmt.Errorf("incident receipt: %w", err)
	}
	return nil
}

// ActivateKillSwitch denies the named tools unconditionally until
// deactivated. Already-killed tools are skipped; the operation is
// idempotent.
func (c *Controller) ActivateKillSwitch(ctx context.Context, toolNames ...string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	next := c.clone()
	var changed []string
	for _, tool := range toolNames {
		if _, done := next.KilledTools[tool]; done {
			continue
		}
		next.KilledTools[tool] = struct{}{}
		changed = append(changed, tool)
	}
	if len(changed) == 0 {
		return nil
	}
	for _, tool := range changed {
		if err := c.emit(ctx, "kill_switch_activated", tool); err != nil {
			return err
		}
	}
	c.state.Store(next)
	return nil
}

// DeactivateKillSwitch lifts the kill switch from the named tools.
func (c *Controller) DeactivateKillSwitch(ctx context.Context, toolNames ...string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	next := c.clone()
	var changed []string
	for _, tool := range toolNames {
		if _, active := next.KilledTools[tool]; !active {
			continue
		}
		delete(next.KilledTools, tool)
		changed = append(changed, tool)
	}
	if len(changed) == 0 {
		return nil
	}
	for _, tool := range changed {
		if err := c.emit(ctx, "kill_switch_deactivated", tool); err != nil {
			return err
		}
	}
	c.state.Store(next)
	return nil
}

// Revoke invalidates credentials for principals matching the glob
// pattern, effective on the next pipeline evaluation.
func (c *Controller) Revoke(ctx context.Context, principalPattern string) error {
	if principalPattern == "" {
		return fmt.Errorf("principal pattern is required")
	}
	if _, err := path.Match(principalPattern, "probe"); err != nil {
		return fmt.Errorf("principal pattern %q: %w", principalPattern, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	next := c.clone()
	if _, done := next.RevokedPrincipals[principalPattern]; done {
		return nil
	}
	next.RevokedPrincipals[principalPattern] = struct{}{}
	if err := c.emit(ctx, "principal_revoked", principalPattern); err != nil {
		return err
	}
	c.state.Store(next)
	return nil
}

// Quarantine forces approval on all subsequent actions from a session.
func (c *Controller) Quarantine(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	next := c.clone()
	if _, done := next.QuarantinedSessions[sessionID]; done {
		return nil
	}
	next.QuarantinedSessions[sessionID] = struct{}{}
	if err := c.emit(ctx, "session_quarantined", sessionID); err != nil {
		return err
	}
	c.state.Store(next)
	return nil
}

// Release lifts a session quarantine.
func (c *Controller) Release(ctx context.Context, sessionID string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	next := c.clone()
	if _, active := next.QuarantinedSessions[sessionID]; !active {
		return nil
	}
	delete(next.QuarantinedSessions, sessionID)
	if err := c.emit(ctx, "session_released", sessionID); err != nil {
		return err
	}
	c.state.Store(next)
	return nil
}

// ToolKilled reports whether the tool is under an active kill switch.
func ToolKilled(s *contracts.IncidentSnapshot, tool string) bool {
	_, killed := s.KilledTools[tool]
	return killed
}

// SessionQuarantined reports whether the session requires approval.
func SessionQuarantined(s *contracts.IncidentSnapshot, sessionID string) bool {
	_, q := s.QuarantinedSessions[sessionID]
	return q
}

// PrincipalRevoked reports whether any revocation pattern matches the
// principal.
func PrincipalRevoked(s *contracts.IncidentSnapshot, principal string) bool {
	for pattern := range s.RevokedPrincipals {
		if ok, err := path.Match(pattern, principal); err == nil && ok {
			return true
		}
	}
	return false
}
