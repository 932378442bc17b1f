package models

// Severity is the classified urgency tier of an alert.
// Four ordered levels, most severe first.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// severityRank orders severities for comparison. Higher = more severe.
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the ordinal rank of the severity (higher = more severe).
// Unknown values rank below SeverityLow.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether s is one of the four defined tiers.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// MostSevere returns the more severe of a and b.
// Used by synthesis to resolve contradictory specialist assessments
// (most-severe-wins is the conservative policy).
func MostSevere(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Category is the classified incident category.
type Category string

const (
	CategoryInfrastructure Category = "infrastructure"
	CategoryApplication    Category = "application"
	CategoryDatabase       Category = "database"
	CategoryNetwork        Category = "network"
	CategoryCapacity       Category = "capacity"
	CategorySecurity       Category = "security"
	CategoryUnknown        Category = "unknown"
)

// Valid reports whether c is a defined category.
func (c Category) Valid() bool {
	switch c {
	case CategoryInfrastructure, CategoryApplication, CategoryDatabase,
		CategoryNetwork, CategoryCapacity, CategorySecurity, CategoryUnknown:
		return true
	}
	return false
}

// UserScope is the estimated ordinal scope of affected users.
type UserScope string

const (
	ScopeNone       UserScope = "none"
	ScopeIsolated   UserScope = "isolated"
	ScopePartial    UserScope = "partial"
	ScopeWidespread UserScope = "widespread"
	ScopeUnknown    UserScope = "unknown"
)

// Classification is the derived triage assessment of an alert.
// Produced once per alert by the classifier; immutable after creation.
type Classification struct {
	Severity   Severity  `json:"severity"`
	Category   Category  `json:"category"`
	UserScope  UserScope `json:"user_scope"`
	Confidence float64   `json:"confidence"`
	Rationale  string    `json:"rationale,omitempty"`
}

// DefaultClassification is the safe fallback used when the classifier's
// model output cannot be parsed. Lowest urgency, zero confidence — parse
// failure must never block the pipeline.
func DefaultClassification() Classification {
	return Classification{
		Severity:   SeverityLow,
		Category:   CategoryUnknown,
		UserScope:  ScopeUnknown,
		Confidence: 0,
	}
}
