package service

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lumenpath/funnel-analytics-service/internal/config"
	"github.com/lumenpath/funnel-analytics-service/internal/domain"
	"github.com/lumenpath/funnel-analytics-service/internal/dto"
	"github.com/lumenpath/funnel-analytics-service/internal/queue"
	"github.com/lumenpath/funnel-analytics-service/internal/repository"
)

// ExperimentService implements experiment registry, assignment, tracking and
// analytics operations.
type ExperimentService struct {
	publisher  queue.QueuePublisher
	repository repository.ExperimentRepository
	analytics  config.Analytics
	rng        func() float64
	log        *zap.Logger
}

// NewExperimentService creates a new experiment service
func NewExperimentService(publisher queue.QueuePublisher, repo repository.ExperimentRepository, analytics config.Analytics, log *zap.Logger) *ExperimentService {
	return &ExperimentService{
		publisher:  publisher,
		repository: repo,
		analytics:  analytics,
		rng:        rand.Float64,
		log:        log,
	}
}

// CreateTest creates a new experiment in draft status.
func (s *ExperimentService) CreateTest(ctx context.Context, req *dto.CreateTestRequest) (*domain.Experiment, error) {
	test := &domain.Experiment{
		TestID: uuid.NewString(),
		Name:   req.Name,
		Status: domain.TestStatusDraft,
		Targeting: domain.Targeting{
			Personas:     req.Targeting.Personas,
			FunnelStages: req.Targeting.FunnelStages,
		},
		CreatedAt: time.Now().UTC(),
	}

	if err := s.repository.CreateTest(ctx, test); err != nil {
		return nil, err
	}

	s.log.Info("Test created",
		zap.String("test_id", test.TestID),
		zap.String("name", test.Name))

	return test, nil
}

// GetTest returns a test by ID.
func (s *ExperimentService) GetTest(ctx context.Context, testID string) (*domain.Experiment, error) {
	return s.repository.GetTest(ctx, testID)
}

// ListTests returns all tests.
func (s *ExperimentService) ListTests(ctx context.Context) ([]domain.Experiment, error) {
	return s.repository.ListTests(ctx)
}

// UpdateTestStatus transitions a test's lifecycle status. Activation is
// gated: a test may only become active with at least one positively weighted
// variant.
func (s *ExperimentService) UpdateTestStatus(ctx context.Context, testID, status string) (*domain.Experiment, error) {
	if !domain.ValidTestStatus(status) {
		return nil, fmt.Errorf("invalid status %q", status)
	}

	if status == domain.TestStatusActive {
		variants, err := s.repository.ListVariants(ctx, testID)
		if err != nil {
			return nil, err
		}
		if !anyPositiveWeight(variants) {
			return nil, fmt.Errorf("cannot activate test %q: %w", testID, domain.ErrNoEligibleVariants)
		}
	}

	if err := s.repository.UpdateTestStatus(ctx, testID, status); err != nil {
		return nil, err
	}

	s.log.Info("Test status updated",
		zap.String("test_id", testID),
		zap.String("status", status))

	return s.repository.GetTest(ctx, testID)
}

// CreateVariant adds a variant to a test.
func (s *ExperimentService) CreateVariant(ctx context.Context, testID string, req *dto.CreateVariantRequest) (*domain.Variant, error) {
	if req.TrafficWeight < 0 {
		return nil, fmt.Errorf("traffic weight must be non-negative, got %v", req.TrafficWeight)
	}

	variant := &domain.Variant{
		VariantID:     uuid.NewString(),
		TestID:        testID,
		Name:          req.Name,
		TrafficWeight: req.TrafficWeight,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.repository.CreateVariant(ctx, variant); err != nil {
		return nil, err
	}

	s.log.Info("Variant created",
		zap.String("test_id", testID),
		zap.String("variant_id", variant.VariantID),
		zap.Float64("traffic_weight", variant.TrafficWeight))

	return variant, nil
}

// ListVariants returns a test's variants in creation order.
func (s *ExperimentService) ListVariants(ctx context.Context, testID string) ([]domain.Variant, error) {
	return s.repository.ListVariants(ctx, testID)
}

// ListEligibleTests returns active tests whose targeting matches the given
// session snapshot. The targeting predicate is evaluated here, on behalf of
// the caller; assignment itself does not re-check it.
func (s *ExperimentService) ListEligibleTests(ctx context.Context, persona, funnelStage string) ([]domain.Experiment, error) {
	tests, err := s.repository.ListTests(ctx)
	if err != nil {
		return nil, err
	}

	var eligible []domain.Experiment
	for _, test := range tests {
		if test.Status != domain.TestStatusActive {
			continue
		}
		if !test.Targeting.Matches(persona, funnelStage) {
			continue
		}
		eligible = append(eligible, test)
	}
	return eligible, nil
}

// GetOrCreateAssignment returns the session's sticky assignment for a test,
// creating one by weighted random selection if absent. Two concurrent calls
// for the same (test, session) resolve to the same variant: the insert is
// guarded by the primary key and a conflict re-reads the winner.
func (s *ExperimentService) GetOrCreateAssignment(ctx context.Context, req *dto.AssignmentRequest) (*dto.AssignmentResponse, error) {
	existing, found, err := s.repository.GetAssignment(ctx, req.TestID, req.SessionID)
	if err != nil {
		return nil, err
	}
	if found {
		return assignmentResponse(existing, false), nil
	}

	test, err := s.repository.GetTest(ctx, req.TestID)
	if err != nil {
		return nil, err
	}
	if test.Status != domain.TestStatusActive {
		return nil, fmt.Errorf("test %q has status %q: %w", test.TestID, test.Status, domain.ErrTestNotActive)
	}

	variants, err := s.repository.ListVariants(ctx, req.TestID)
	if err != nil {
		return nil, err
	}
	if len(variants) == 0 {
		return nil, fmt.Errorf("test %q: %w", req.TestID, domain.ErrNoVariants)
	}

	selected, err := selectWeighted(variants, s.rng())
	if err != nil {
		return nil, fmt.Errorf("test %q: %w", req.TestID, err)
	}

	assignment := &domain.Assignment{
		TestID:      req.TestID,
		VariantID:   selected.VariantID,
		SessionID:   req.SessionID,
		UserID:      req.UserID,
		Persona:     req.Persona,
		FunnelStage: req.FunnelStage,
		CreatedAt:   time.Now().UTC(),
	}

	stored, created, err := s.repository.CreateAssignment(ctx, assignment)
	if err != nil {
		return nil, err
	}

	s.log.Info("Assignment resolved",
		zap.String("test_id", stored.TestID),
		zap.String("session_id", stored.SessionID),
		zap.String("variant_id", stored.VariantID),
		zap.Bool("newly_created", created))

	return assignmentResponse(stored, created), nil
}

// TrackEvent validates an experiment event and publishes it to the queue for
// batch ingestion. Events are never deduplicated.
func (s *ExperimentService) TrackEvent(ctx context.Context, req *dto.TrackEventRequest) (string, error) {
	if !domain.ValidEventType(req.EventType) {
		return "", fmt.Errorf("unsupported event type %q", req.EventType)
	}

	occurredAt := time.Now().UTC()
	if req.Timestamp != 0 {
		if req.Timestamp > time.Now().Unix()+1 {
			s.log.Warn("Timestamp validation failed: future timestamp",
				zap.Int64("event_timestamp", req.Timestamp),
				zap.String("test_id", req.TestID))
			return "", fmt.Errorf("timestamp cannot be in the future: %d", req.Timestamp)
		}
		occurredAt = time.Unix(req.Timestamp, 0).UTC()
	}

	if _, err := s.repository.GetVariant(ctx, req.TestID, req.VariantID); err != nil {
		return "", err
	}

	event := &domain.ExperimentEvent{
		EventID:    uuid.NewString(),
		TestID:     req.TestID,
		VariantID:  req.VariantID,
		SessionID:  req.SessionID,
		EventType:  req.EventType,
		OccurredAt: occurredAt,
	}

	if err := s.publisher.PublishEvent(ctx, event); err != nil {
		return "", fmt.Errorf("failed to publish event to queue: %w", err)
	}

	return event.EventID, nil
}

// TrackBulkEvents validates and publishes multiple events.
func (s *ExperimentService) TrackBulkEvents(ctx context.Context, events []dto.TrackEventRequest) ([]string, []string, error) {
	var eventIDs []string
	var errs []string

	for i, event := range events {
		eventID, err := s.TrackEvent(ctx, &event)
		if err != nil {
			errs = append(errs, err.Error())
			s.log.Warn("Failed to track event in bulk",
				zap.Int("index", i),
				zap.Error(err),
				zap.String("test_id", event.TestID))
			continue
		}
		eventIDs = append(eventIDs, eventID)
	}

	return eventIDs, errs, nil
}

// TestAnalytics recomputes per-variant exposure/conversion statistics for a
// test. The earliest-created variant serves as the control for significance
// comparisons.
func (s *ExperimentService) TestAnalytics(ctx context.Context, testID string) (*dto.TestAnalyticsResponse, error) {
	if _, err := s.repository.GetTest(ctx, testID); err != nil {
		return nil, err
	}

	variants, err := s.repository.ListVariants(ctx, testID)
	if err != nil {
		return nil, err
	}

	counts, err := s.repository.CountEventsByVariant(ctx, testID)
	if err != nil {
		return nil, err
	}

	countsByVariant := make(map[string]repository.VariantEventCounts, len(counts))
	for _, c := range counts {
		countsByVariant[c.VariantID] = c
	}

	response := &dto.TestAnalyticsResponse{
		TestID:          testID,
		ConfidenceLevel: s.analytics.ConfidenceLevel,
		Variants:        make([]domain.VariantAnalytics, 0, len(variants)),
	}

	var control repository.VariantEventCounts
	if len(variants) > 0 {
		control = countsByVariant[variants[0].VariantID]
	}

	for i, variant := range variants {
		c := countsByVariant[variant.VariantID]

		row := domain.VariantAnalytics{
			VariantID:   variant.VariantID,
			VariantName: variant.Name,
			IsControl:   i == 0,
			Exposures:   c.Exposures,
			Conversions: c.Conversions,
		}

		if c.Exposures > 0 {
			rate := float64(c.Conversions) / float64(c.Exposures)
			row.ConversionRate = &rate
		}

		if i > 0 {
			row.IsSignificant = twoProportionSignificant(
				control.Conversions, control.Exposures,
				c.Conversions, c.Exposures,
				s.analytics.ConfidenceLevel,
			)
		}

		response.Variants = append(response.Variants, row)
	}

	s.log.Info("Test analytics computed",
		zap.String("test_id", testID),
		zap.Int("variant_count", len(variants)))

	return response, nil
}

// selectWeighted picks a variant by weighted random sampling. roll must be
// uniform in [0, 1); each variant's selection probability is its weight over
// the total. Zero-weight variants are never selected.
func selectWeighted(variants []domain.Variant, roll float64) (*domain.Variant, error) {
	var totalWeight float64
	for _, v := range variants {
		totalWeight += v.TrafficWeight
	}
	if totalWeight <= 0 {
		return nil, domain.ErrNoEligibleVariants
	}

	r := roll * totalWeight
	var last *domain.Variant
	for i := range variants {
		v := &variants[i]
		if v.TrafficWeight <= 0 {
			continue
		}
		if r < v.TrafficWeight {
			return v, nil
		}
		r -= v.TrafficWeight
		last = v
	}

	// Floating-point drift can leave a sliver past the final bucket.
	return last, nil
}

func anyPositiveWeight(variants []domain.Variant) bool {
	for _, v := range variants {
		if v.TrafficWeight > 0 {
			return true
		}
	}
	return false
}

func assignmentResponse(a *domain.Assignment, created bool) *dto.AssignmentResponse {
	return &dto.AssignmentResponse{
		TestID:       a.TestID,
		VariantID:    a.VariantID,
		SessionID:    a.SessionID,
		NewlyCreated: created,
	}
}
