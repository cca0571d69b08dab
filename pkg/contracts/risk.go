package contracts

import "fmt"

// RiskLevel is the ordered action risk classification.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

var riskRank = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// Rank returns the ordinal position of the level (LOW=0 .. CRITICAL=3).
func (r RiskLevel) Rank() int {
	return riskRank[r]
}

// Valid reports whether r is one of the four defined levels.
func (r RiskLevel) Valid() bool {
	_, ok := riskRank[r]
	return ok
}

// Exceeds reports whether r is strictly higher than other.
func (r RiskLevel) Exceeds(other RiskLevel) bool {
	return r.Rank() > other.Rank()
}

// ParseRiskLevel converts a string to a RiskLevel.
func ParseRiskLevel(s string) (RiskLevel, error) {
	r := RiskLevel(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown risk level %q", s)
	}
	return r, nil
}
