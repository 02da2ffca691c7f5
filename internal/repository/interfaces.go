package repository

import (
	"context"

	"github.com/lumenpath/funnel-analytics-service/internal/domain"
)

// VariantEventCounts is the grouped event tally for one variant of a test.
type VariantEventCounts struct {
	VariantID   string
	Exposures   int64
	Conversions int64
}

// FunnelRepository defines the interface for funnel storage operations.
// Stage transitions are append-only: no update or delete path exists.
type FunnelRepository interface {
	// CreateStage registers a stage definition. Slug and position are unique;
	// violations return domain.ErrDuplicateStage.
	CreateStage(ctx context.Context, stage *domain.StageDefinition) error

	// ListStages returns all stage definitions ordered by position.
	ListStages(ctx context.Context) ([]domain.StageDefinition, error)

	// AppendTransition appends a ledger record and updates the lead's
	// current-stage pointer as a single transaction. The lead's prior stage
	// becomes the record's from_stage (empty for a first transition).
	// Unknown target stages return domain.ErrUnknownStage with nothing
	// written.
	AppendTransition(ctx context.Context, leadID, toStage, actorID, reason string) (*domain.Lead, error)

	// ListTransitions returns the full ledger ordered by lead, then time.
	ListTransitions(ctx context.Context) ([]domain.StageTransition, error)

	// LeadsByStage returns lead IDs grouped by current stage slug.
	LeadsByStage(ctx context.Context) (map[string][]string, error)
}

// ExperimentRepository defines the interface for experiment storage
// operations. Experiment events are append-only.
type ExperimentRepository interface {
	// CreateTest persists a new experiment definition.
	CreateTest(ctx context.Context, test *domain.Experiment) error

	// GetTest returns a test by ID, or domain.ErrUnknownTest.
	GetTest(ctx context.Context, testID string) (*domain.Experiment, error)

	// ListTests returns all tests ordered by creation time.
	ListTests(ctx context.Context) ([]domain.Experiment, error)

	// UpdateTestStatus sets a test's status, or domain.ErrUnknownTest.
	UpdateTestStatus(ctx context.Context, testID, status string) error

	// CreateVariant persists a new variant, or domain.ErrUnknownTest.
	CreateVariant(ctx context.Context, variant *domain.Variant) error

	// ListVariants returns a test's variants in creation order.
	ListVariants(ctx context.Context, testID string) ([]domain.Variant, error)

	// GetVariant returns a variant of a test, or domain.ErrUnknownVariant.
	GetVariant(ctx context.Context, testID, variantID string) (*domain.Variant, error)

	// GetAssignment returns the assignment for (test, session) if one exists.
	GetAssignment(ctx context.Context, testID, sessionID string) (*domain.Assignment, bool, error)

	// CreateAssignment inserts an assignment unless one already exists for
	// (test, session). It returns the row that ended up persisted and
	// whether this call created it; on a conflict the stored assignment is
	// re-read and returned, never an error.
	CreateAssignment(ctx context.Context, assignment *domain.Assignment) (*domain.Assignment, bool, error)

	// InsertEventBatch appends a batch of experiment events and returns how
	// many were written.
	InsertEventBatch(ctx context.Context, events []*domain.ExperimentEvent) (int, error)

	// CountEventsByVariant returns exposure/conversion tallies grouped by
	// variant for one test.
	CountEventsByVariant(ctx context.Context, testID string) ([]VariantEventCounts, error)
}

// Store is the shared lifecycle surface of the backing database.
type Store interface {
	// InitSchema creates tables and indexes if they don't exist.
	InitSchema(ctx context.Context) error

	// Ping checks if the database connection is alive.
	Ping(ctx context.Context) error

	// Close closes the store and releases resources.
	Close() error
}
