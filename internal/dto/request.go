package dto

// CreateStageRequest registers a funnel stage definition
type CreateStageRequest struct {
	Slug     string `json:"slug" binding:"required" example:"new_lead"`
	Name     string `json:"name" binding:"required" example:"New Lead"`
	Position int    `json:"position" binding:"min=0" example:"0"`
}

// RecordTransitionRequest moves a lead to a new funnel stage
type RecordTransitionRequest struct {
	LeadID  string `json:"lead_id" binding:"required" example:"lead_42"`
	ToStage string `json:"to_stage" binding:"required" example:"contacted"`
	ActorID string `json:"actor_id" binding:"required" example:"user_7"`
	Reason  string `json:"reason" example:"responded to outreach call"`
}

// TargetingRequest restricts which sessions a test applies to
type TargetingRequest struct {
	Personas     []string `json:"personas" example:"donor,volunteer"`
	FunnelStages []string `json:"funnel_stages" example:"new_lead,contacted"`
}

// CreateTestRequest creates a new experiment in draft status
type CreateTestRequest struct {
	Name      string           `json:"name" binding:"required" example:"Homepage hero copy"`
	Targeting TargetingRequest `json:"targeting"`
}

// UpdateTestStatusRequest transitions an experiment's lifecycle status
type UpdateTestStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=draft active paused completed" example:"active"`
}

// CreateVariantRequest adds a variant to an experiment
type CreateVariantRequest struct {
	Name          string  `json:"name" binding:"required" example:"Variant B"`
	TrafficWeight float64 `json:"traffic_weight" binding:"min=0" example:"50"`
}

// AssignmentRequest requests a sticky variant assignment for a session
type AssignmentRequest struct {
	TestID      string `json:"test_id" binding:"required" example:"tst_8f2c"`
	SessionID   string `json:"session_id" binding:"required" example:"sess_a91d"`
	UserID      string `json:"user_id" example:"user_123"`
	Persona     string `json:"persona" example:"donor"`
	FunnelStage string `json:"funnel_stage" example:"contacted"`
}

// TrackEventRequest records an exposure/conversion/custom event. Timestamp is
// optional (unix seconds); the server time is used when omitted.
type TrackEventRequest struct {
	TestID    string `json:"test_id" binding:"required" example:"tst_8f2c"`
	VariantID string `json:"variant_id" binding:"required" example:"var_13aa"`
	SessionID string `json:"session_id" binding:"required" example:"sess_a91d"`
	EventType string `json:"event_type" binding:"required,oneof=exposure conversion custom" example:"exposure"`
	Timestamp int64  `json:"timestamp" example:"1723475612"`
}

// TrackEventsBulkRequest records multiple events in one call
type TrackEventsBulkRequest struct {
	Events []TrackEventRequest `json:"events" binding:"required,min=1,max=1000,dive"`
}

// EligibleTestsRequest filters active tests by targeting snapshot
type EligibleTestsRequest struct {
	Persona     string `form:"persona" example:"donor"`
	FunnelStage string `form:"funnel_stage" example:"contacted"`
}
