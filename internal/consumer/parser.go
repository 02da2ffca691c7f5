package consumer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lumenpath/funnel-analytics-service/internal/domain"
)

// JSONEventParser implements MessageParser for JSON-formatted experiment
// event messages
type JSONEventParser struct{}

// NewJSONEventParser creates a new JSON event parser
func NewJSONEventParser() *JSONEventParser {
	return &JSONEventParser{}
}

type eventMessage struct {
	EventID    string `json:"event_id"`
	TestID     string `json:"test_id"`
	VariantID  string `json:"variant_id"`
	SessionID  string `json:"session_id"`
	EventType  string `json:"event_type"`
	OccurredAt int64  `json:"occurred_at"`
}

// Parse parses a JSON message body into an ExperimentEvent. Messages missing
// required fields or carrying an unknown event type are rejected so they get
// dropped instead of poisoning the batch.
func (p *JSONEventParser) Parse(body []byte) (*domain.ExperimentEvent, error) {
	var msg eventMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message body: %w", err)
	}

	if msg.EventID == "" || msg.TestID == "" || msg.VariantID == "" || msg.SessionID == "" {
		return nil, fmt.Errorf("message missing required identifiers")
	}
	if !domain.ValidEventType(msg.EventType) {
		return nil, fmt.Errorf("unsupported event type %q", msg.EventType)
	}

	occurredAt := time.Now().UTC()
	if msg.OccurredAt > 0 {
		occurredAt = time.UnixMilli(msg.OccurredAt).UTC()
	}

	return &domain.ExperimentEvent{
		EventID:     msg.EventID,
		TestID:      msg.TestID,
		VariantID:   msg.VariantID,
		SessionID:   msg.SessionID,
		EventType:   msg.EventType,
		OccurredAt:  occurredAt,
		ProcessedAt: time.Now().UTC(),
	}, nil
}
