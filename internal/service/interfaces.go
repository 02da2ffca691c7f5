package service

import (
	"context"

	"github.com/lumenpath/funnel-analytics-service/internal/domain"
	"github.com/lumenpath/funnel-analytics-service/internal/dto"
)

// FunnelServicer defines the interface for funnel operations
type FunnelServicer interface {
	CreateStage(ctx context.Context, req *dto.CreateStageRequest) (*domain.StageDefinition, error)
	ListStages(ctx context.Context) ([]domain.StageDefinition, error)
	RecordTransition(ctx context.Context, req *dto.RecordTransitionRequest) (*domain.Lead, error)
	BoardSnapshot(ctx context.Context) (*dto.BoardSnapshotResponse, error)
	FunnelAnalytics(ctx context.Context) ([]domain.StageAnalytics, error)
}

// ExperimentServicer defines the interface for experiment operations
type ExperimentServicer interface {
	CreateTest(ctx context.Context, req *dto.CreateTestRequest) (*domain.Experiment, error)
	GetTest(ctx context.Context, testID string) (*domain.Experiment, error)
	ListTests(ctx context.Context) ([]domain.Experiment, error)
	UpdateTestStatus(ctx context.Context, testID, status string) (*domain.Experiment, error)
	CreateVariant(ctx context.Context, testID string, req *dto.CreateVariantRequest) (*domain.Variant, error)
	ListVariants(ctx context.Context, testID string) ([]domain.Variant, error)
	ListEligibleTests(ctx context.Context, persona, funnelStage string) ([]domain.Experiment, error)
	GetOrCreateAssignment(ctx context.Context, req *dto.AssignmentRequest) (*dto.AssignmentResponse, error)
	TrackEvent(ctx context.Context, req *dto.TrackEventRequest) (string, error)
	TrackBulkEvents(ctx context.Context, events []dto.TrackEventRequest) ([]string, []string, error)
	TestAnalytics(ctx context.Context, testID string) (*dto.TestAnalyticsResponse, error)
}
