package domain

import "time"

// StageDefinition is an ordered step in the lead funnel. Position defines the
// funnel order; slugs are the stable keys referenced by transitions.
type StageDefinition struct {
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// Lead is the core's view of a lead record: an identifier plus the
// current-stage pointer this service owns. The pointer always equals the
// to_stage of the lead's most recent transition.
type Lead struct {
	ID           string    `json:"id"`
	CurrentStage string    `json:"current_stage"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// StageTransition is a single immutable entry in the stage-transition ledger.
// FromStage is empty for a lead's first recorded stage.
type StageTransition struct {
	ID         int64     `json:"id"`
	LeadID     string    `json:"lead_id"`
	FromStage  string    `json:"from_stage,omitempty"`
	ToStage    string    `json:"to_stage"`
	ActorID    string    `json:"actor_id"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// StageAnalytics is one row of the funnel analytics report. ConversionRate
// and AvgTimeInDays are nil when no data exists yet; dashboards render that
// as an explicit "no data" state.
type StageAnalytics struct {
	Stage          string   `json:"stage"`
	StageSlug      string   `json:"stage_slug"`
	Position       int      `json:"position"`
	LeadsInStage   int      `json:"leads_in_stage"`
	TotalEntered   int      `json:"total_entered"`
	ConversionRate *float64 `json:"conversion_rate"`
	AvgTimeInDays  *float64 `json:"avg_time_in_days"`
	IsBottleneck   bool     `json:"is_bottleneck"`
}
