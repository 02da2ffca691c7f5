package dto

import "github.com/lumenpath/funnel-analytics-service/internal/domain"

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"validation_error"`
	Message string `json:"message,omitempty" example:"to_stage is required"`
}

// BoardSnapshotResponse groups leads by their current funnel stage
type BoardSnapshotResponse struct {
	Stages []domain.StageDefinition `json:"stages"`
	Leads  map[string][]string      `json:"leads"`
}

// FunnelAnalyticsResponse is the per-stage funnel report
type FunnelAnalyticsResponse struct {
	Stages []domain.StageAnalytics `json:"stages"`
}

// AssignmentResponse is the session's sticky variant assignment
type AssignmentResponse struct {
	TestID       string `json:"test_id" example:"tst_8f2c"`
	VariantID    string `json:"variant_id" example:"var_13aa"`
	SessionID    string `json:"session_id" example:"sess_a91d"`
	NewlyCreated bool   `json:"newly_created" example:"true"`
}

// TrackEventResponse acknowledges an accepted event
type TrackEventResponse struct {
	EventID string `json:"event_id" example:"evt_1a2b3c4d"`
	Status  string `json:"status" example:"accepted"`
}

// TrackEventsBulkResponse acknowledges a bulk event submission
type TrackEventsBulkResponse struct {
	Accepted int      `json:"accepted" example:"5"`
	Rejected int      `json:"rejected" example:"0"`
	EventIDs []string `json:"event_ids,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// TestAnalyticsResponse is the per-variant experiment report
type TestAnalyticsResponse struct {
	TestID          string                    `json:"test_id" example:"tst_8f2c"`
	ConfidenceLevel float64                   `json:"confidence_level" example:"0.95"`
	Variants        []domain.VariantAnalytics `json:"variants"`
}
