package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Service holds process-level settings shared by both binaries.
type Service struct {
	Environment string `envconfig:"SERVICE_ENVIRONMENT" required:"true"`
	APIPort     string `envconfig:"SERVICE_API_PORT" default:"8080"`
	Host        string `envconfig:"SERVICE_HOST" default:"localhost:8080"`
}

// SQLite holds storage settings.
type SQLite struct {
	Path         string `envconfig:"SQLITE_PATH" required:"true"`
	MaxOpenConns int    `envconfig:"SQLITE_MAX_OPEN_CONNS" default:"5"`
}

// SQS holds queue settings. Endpoint is only set for local development
// against ElasticMQ.
type SQS struct {
	Endpoint string `envconfig:"SQS_ENDPOINT"`
	QueueURL string `envconfig:"SQS_QUEUE_URL" required:"true"`
	Region   string `envconfig:"SQS_REGION" required:"true"`
}

// Consumer holds batch-ingestion settings for the consumer binary.
type Consumer struct {
	BatchSizeMax    int    `envconfig:"CONSUMER_BATCH_SIZE_MAX" default:"500"`
	BatchTimeoutSec int    `envconfig:"CONSUMER_BATCH_TIMEOUT_SEC" default:"10"`
	HealthCheckPort string `envconfig:"CONSUMER_HEALTH_CHECK_PORT" default:"8081"`
}

// Analytics holds reporting policy knobs. Thresholds are policy, not
// architecture, so they live in configuration rather than code.
type Analytics struct {
	BottleneckMaxDays       float64 `envconfig:"ANALYTICS_BOTTLENECK_MAX_DAYS" default:"7"`
	BottleneckMinConversion float64 `envconfig:"ANALYTICS_BOTTLENECK_MIN_CONVERSION" default:"50"`
	ConfidenceLevel         float64 `envconfig:"ANALYTICS_CONFIDENCE_LEVEL" default:"0.95"`
}

type Config struct {
	Service   Service
	SQLite    SQLite
	SQS       SQS
	Consumer  Consumer
	Analytics Analytics
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if cfg.Analytics.ConfidenceLevel <= 0 || cfg.Analytics.ConfidenceLevel >= 1 {
		return nil, fmt.Errorf("confidence level must be in (0, 1), got %v", cfg.Analytics.ConfidenceLevel)
	}

	return &cfg, nil
}
