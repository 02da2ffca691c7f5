package domain

import "time"

// Experiment statuses.
const (
	TestStatusDraft     = "draft"
	TestStatusActive    = "active"
	TestStatusPaused    = "paused"
	TestStatusCompleted = "completed"
)

// Experiment event types.
const (
	EventTypeExposure   = "exposure"
	EventTypeConversion = "conversion"
	EventTypeCustom     = "custom"
)

// ValidTestStatus reports whether s is a known experiment status.
func ValidTestStatus(s string) bool {
	switch s {
	case TestStatusDraft, TestStatusActive, TestStatusPaused, TestStatusCompleted:
		return true
	}
	return false
}

// ValidEventType reports whether t is a known experiment event type.
func ValidEventType(t string) bool {
	switch t {
	case EventTypeExposure, EventTypeConversion, EventTypeCustom:
		return true
	}
	return false
}

// Targeting restricts which sessions an experiment applies to. Empty lists
// match everything; both lists must match when populated.
type Targeting struct {
	Personas     []string `json:"personas,omitempty"`
	FunnelStages []string `json:"funnel_stages,omitempty"`
}

// Matches evaluates the targeting predicate against a session snapshot.
func (t Targeting) Matches(persona, funnelStage string) bool {
	return matchesList(t.Personas, persona) && matchesList(t.FunnelStages, funnelStage)
}

func matchesList(allowed []string, value string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == value {
			return true
		}
	}
	return false
}

// Experiment is an A/B test definition.
type Experiment struct {
	TestID    string    `json:"test_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Targeting Targeting `json:"targeting"`
	CreatedAt time.Time `json:"created_at"`
}

// Variant is one arm of an experiment. TrafficWeight is relative, not a
// percentage; selection probability is weight over the test's total weight.
type Variant struct {
	VariantID     string    `json:"variant_id"`
	TestID        string    `json:"test_id"`
	Name          string    `json:"name"`
	TrafficWeight float64   `json:"traffic_weight"`
	CreatedAt     time.Time `json:"created_at"`
}

// Assignment pins a session to a variant for the lifetime of a test. At most
// one assignment exists per (test, session); persona and funnel stage are
// snapshots taken at assignment time.
type Assignment struct {
	TestID      string    `json:"test_id"`
	VariantID   string    `json:"variant_id"`
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id,omitempty"`
	Persona     string    `json:"persona,omitempty"`
	FunnelStage string    `json:"funnel_stage,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExperimentEvent is a single immutable exposure/conversion/custom event.
// Events are never deduplicated; a session may emit multiple conversions.
type ExperimentEvent struct {
	EventID     string    `json:"event_id"`
	TestID      string    `json:"test_id"`
	VariantID   string    `json:"variant_id"`
	SessionID   string    `json:"session_id"`
	EventType   string    `json:"event_type"`
	OccurredAt  time.Time `json:"occurred_at"`
	ProcessedAt time.Time `json:"processed_at"`
}

// VariantAnalytics is one row of a test's analytics report. ConversionRate is
// nil when the variant has no exposures. IsSignificant is nil for the control
// variant and whenever the comparison is undefined.
type VariantAnalytics struct {
	VariantID      string   `json:"variant_id"`
	VariantName    string   `json:"variant_name"`
	IsControl      bool     `json:"is_control"`
	Exposures      int64    `json:"exposures"`
	Conversions    int64    `json:"conversions"`
	ConversionRate *float64 `json:"conversion_rate"`
	IsSignificant  *bool    `json:"is_significant"`
}
