package risk

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parapet-labs/parapet/pkg/contracts"
)

// Classification is the classifier output: a level plus the matched
// pattern name (empty when only the secondary heuristic fired).
type Classification struct {
	Level        contracts.RiskLevel
	Pattern      string
	DefaultLevel contracts.RiskLevel // level before any attestation downgrade
	Downgraded   bool                // CRITICAL treated as HIGH under attestation
}

// Classifier maps a proposed tool invocation to a risk level. Pattern
// matching is a pure function over (action, pattern table); the table
// is swapped atomically on reload so no request observes a half-updated
// table. The only state is the set of spent attestations: a downgrade
// burns its environment ID.
type Classifier struct {
	table atomic.Pointer[Table]
	clock func() time.Time

	mu    sync.Mutex
	spent map[string]bool // environment IDs already used for a downgrade
}

// NewClassifier builds a classifier over the given table, or the default
// table when nil.
func NewClassifier(t *Table) (*Classifier, error) {
	if t == nil {
		var err error
		t, err = CompileTable(DefaultPatternSpecs())
		if err != nil {
			return nil, err
		}
	}
	c := &Classifier{clock: time.Now, spent: make(map[string]bool)}
	c.table.Store(t)
	return c, nil
}

// WithClock overrides the clock for deterministic testing.
func (c *Classifier) WithClock(clock func() time.Time) *Classifier {
	c.clock = clock
	return c
}

// Reload swaps in a new pattern table for all subsequent requests.
func (c *Classifier) Reload(t *Table) error {
	if t == nil {
		return fmt.Errorf("nil pattern table")
	}
	c.table.Store(t)
	return nil
}

// Classify runs the ordered pattern match, then the secondary heuristic.
func (c *Classifier) Classify(action contracts.ToolAction) (Classification, error) {
	return c.ClassifyWithAttestation(action, nil)
}

// ClassifyWithAttestation classifies the action, applying the only legal
// downgrade: a default-CRITICAL match may be treated as HIGH, never
// lower, inside a live, single-use ephemeral environment. The caller
// must emit a RiskOverride receipt whenever Downgraded is true.
func (c *Classifier) ClassifyWithAttestation(action contracts.ToolAction, att *contracts.EphemeralAttestation) (Classification, error) {
	t := c.table.Load()
	command := strings.TrimSpace(action.Command)

	for i := range t.patterns {
		p := &t.patterns[i]
		ok, err := p.matches(action.Tool, command, action.Scope)
		if err != nil {
			return Classification{}, err
		}
		if !ok {
			continue
		}
		cls := Classification{
			Level:        p.spec.Level,
			Pattern:      p.spec.Name,
			DefaultLevel: p.spec.Level,
		}
		if p.spec.Level == contracts.RiskCritical && c.consumeAttestation(att) {
			cls.Level = contracts.RiskHigh
			cls.Downgraded = true
		}
		return cls, nil
	}

	return c.secondary(command), nil
}

// consumeAttestation burns a live attestation for exactly one downgrade.
// Reusing the same environment ID downgrades nothing; so does an
// attestation with no environment identity.
func (c *Classifier) consumeAttestation(att *contracts.EphemeralAttestation) bool {
	if !att.Live(c.clock()) || att.EnvironmentID == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.spent[att.EnvironmentID] {
		return false
	}
	c.spent[att.EnvironmentID] = true
	return true
}

func (c *Classifier) secondary(command string) Classification {
	// Secondary heuristic: write/delete verbs imply MEDIUM.
	lower := strings.ToLower(command)
	for _, verb := range mediumVerbs {
		if strings.Contains(lower, verb) {
			return Classification{Level: contracts.RiskMedium, DefaultLevel: contracts.RiskMedium}
		}
	}
	return Classification{Level: contracts.RiskLow, DefaultLevel: contracts.RiskLow}
}
