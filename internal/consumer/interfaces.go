package consumer

import (
	"github.com/lumenpath/funnel-analytics-service/internal/domain"
)

// MessageParser defines the interface for parsing raw message bytes into
// experiment events
type MessageParser interface {
	Parse(body []byte) (*domain.ExperimentEvent, error)
}
