// Package incident defines the classification vocabulary shared by the
// router, the audit store and the triage service.
package incident

import "fmt"

// Category is the incident class assigned by the router.
type Category string

const (
	CategoryAccountTakeover Category = "account_takeover"
	CategoryBruteforce      Category = "bruteforce"
	CategoryPhishing        Category = "phishing"
	CategoryUnknown         Category = "unknown"
)

// Categories lists every known category in routing order.
var Categories = []Category{
	CategoryAccountTakeover,
	CategoryBruteforce,
	CategoryPhishing,
	CategoryUnknown,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory converts s to a Category, rejecting unknown values.
func ParseCategory(s string) (Category, error) {
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("invalid category %q", s)
	}
	return c, nil
}

// Severity is the urgency of an incident. P1 is the most urgent.
type Severity string

const (
	SeverityP1 Severity = "P1"
	SeverityP2 Severity = "P2"
	SeverityP3 Severity = "P3"
	SeverityP4 Severity = "P4"
)

// Rank returns 1 for P1 through 4 for P4, and 0 for unknown values.
func (s Severity) Rank() int {
	switch s {
	case SeverityP1:
		return 1
	case SeverityP2:
		return 2
	case SeverityP3:
		return 3
	case SeverityP4:
		return 4
	default:
		return 0
	}
}

// Valid reports whether s is one of P1..P4.
func (s Severity) Valid() bool { return s.Rank() != 0 }

// AtLeast reports whether s is as urgent as, or more urgent than, other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Valid() && other.Valid() && s.Rank() <= other.Rank()
}

// ParseSeverity converts s to a Severity, rejecting unknown values.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if !sev.Valid() {
		return "", fmt.Errorf("invalid severity %q (must be P1..P4)", s)
	}
	return sev, nil
}

// Decision is the outcome of routing one event. It is a value type and
// is never mutated after the router returns it.
type Decision struct {
	Category   Category `json:"category"`
	Severity   Severity `json:"severity"`
	Confidence float64  `json:"confidence"`
	RuleTag    string   `json:"rule_tag"`
}
