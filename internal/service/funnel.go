package service

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/lumenpath/funnel-analytics-service/internal/config"
	"github.com/lumenpath/funnel-analytics-service/internal/domain"
	"github.com/lumenpath/funnel-analytics-service/internal/dto"
	"github.com/lumenpath/funnel-analytics-service/internal/repository"
)

const millisPerDay = 24 * 60 * 60 * 1000

// FunnelService implements funnel-stage operations and analytics.
type FunnelService struct {
	repository repository.FunnelRepository
	analytics  config.Analytics
	log        *zap.Logger
}

// NewFunnelService creates a new funnel service
func NewFunnelService(repo repository.FunnelRepository, analytics config.Analytics, log *zap.Logger) *FunnelService {
	return &FunnelService{
		repository: repo,
		analytics:  analytics,
		log:        log,
	}
}

// CreateStage registers a stage definition.
func (s *FunnelService) CreateStage(ctx context.Context, req *dto.CreateStageRequest) (*domain.StageDefinition, error) {
	stage := &domain.StageDefinition{
		Slug:     req.Slug,
		Name:     req.Name,
		Position: req.Position,
	}

	if err := s.repository.CreateStage(ctx, stage); err != nil {
		return nil, err
	}

	s.log.Info("Stage created",
		zap.String("slug", stage.Slug),
		zap.Int("position", stage.Position))

	return stage, nil
}

// ListStages returns all stage definitions in funnel order.
func (s *FunnelService) ListStages(ctx context.Context) ([]domain.StageDefinition, error) {
	return s.repository.ListStages(ctx)
}

// RecordTransition appends a ledger record and moves the lead's current-stage
// pointer. The append and the pointer update commit together or not at all.
func (s *FunnelService) RecordTransition(ctx context.Context, req *dto.RecordTransitionRequest) (*domain.Lead, error) {
	lead, err := s.repository.AppendTransition(ctx, req.LeadID, req.ToStage, req.ActorID, req.Reason)
	if err != nil {
		return nil, err
	}

	s.log.Info("Stage transition recorded",
		zap.String("lead_id", lead.ID),
		zap.String("to_stage", lead.CurrentStage),
		zap.String("actor_id", req.ActorID))

	return lead, nil
}

// BoardSnapshot returns the ordered stages with leads grouped by their
// current stage.
func (s *FunnelService) BoardSnapshot(ctx context.Context) (*dto.BoardSnapshotResponse, error) {
	stages, err := s.repository.ListStages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}

	grouped, err := s.repository.LeadsByStage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to group leads: %w", err)
	}

	// Every stage appears in the map so empty columns render.
	leads := make(map[string][]string, len(stages))
	for _, stage := range stages {
		if ids, ok := grouped[stage.Slug]; ok {
			leads[stage.Slug] = ids
		} else {
			leads[stage.Slug] = []string{}
		}
	}

	return &dto.BoardSnapshotResponse{Stages: stages, Leads: leads}, nil
}

// FunnelAnalytics recomputes the per-stage report from the full ledger. There
// is no materialized aggregate; re-running against a growing ledger is always
// safe.
func (s *FunnelService) FunnelAnalytics(ctx context.Context) ([]domain.StageAnalytics, error) {
	stages, err := s.repository.ListStages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}

	transitions, err := s.repository.ListTransitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}

	grouped, err := s.repository.LeadsByStage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to group leads: %w", err)
	}

	leadsInStage := make(map[string]int, len(grouped))
	for slug, ids := range grouped {
		leadsInStage[slug] = len(ids)
	}

	report := computeStageAnalytics(stages, transitions, leadsInStage, s.analytics)

	s.log.Info("Funnel analytics computed",
		zap.Int("stage_count", len(stages)),
		zap.Int("transition_count", len(transitions)))

	return report, nil
}

// computeStageAnalytics derives the per-stage report from an ordered ledger.
// transitions must be sorted by lead, then occurrence time.
//
// An entry into a stage is a record with to_stage == stage; its exit is the
// lead's earliest subsequent record with from_stage == stage. Entries without
// an exit (the lead is still in the stage) are excluded from dwell time:
// right-censored durations are dropped, which understates dwell for slow
// movers and is the documented product behavior.
func computeStageAnalytics(stages []domain.StageDefinition, transitions []domain.StageTransition, leadsInStage map[string]int, cfg config.Analytics) []domain.StageAnalytics {
	byLead := groupByLead(transitions)

	report := make([]domain.StageAnalytics, 0, len(stages))
	for i, stage := range stages {
		row := domain.StageAnalytics{
			Stage:        stage.Name,
			StageSlug:    stage.Slug,
			Position:     stage.Position,
			LeadsInStage: leadsInStage[stage.Slug],
		}

		var nextSlug string
		if i+1 < len(stages) {
			nextSlug = stages[i+1].Slug
		}

		exitsToNext := 0
		var dwellDays []float64

		for _, history := range byLead {
			for j, entry := range history {
				if entry.ToStage != stage.Slug {
					continue
				}
				row.TotalEntered++

				exit, ok := findExit(history, j, stage.Slug)
				if !ok {
					continue
				}
				dwellDays = append(dwellDays,
					float64(exit.OccurredAt.Sub(entry.OccurredAt).Milliseconds())/millisPerDay)
				if nextSlug != "" && exit.ToStage == nextSlug {
					exitsToNext++
				}
			}
		}

		if nextSlug != "" && row.TotalEntered > 0 {
			rate := roundToOneDecimal(float64(exitsToNext) / float64(row.TotalEntered) * 100)
			row.ConversionRate = &rate
		}

		if len(dwellDays) > 0 {
			var sum float64
			for _, d := range dwellDays {
				sum += d
			}
			avg := sum / float64(len(dwellDays))
			row.AvgTimeInDays = &avg
		}

		row.IsBottleneck = (row.AvgTimeInDays != nil && *row.AvgTimeInDays > cfg.BottleneckMaxDays) ||
			(row.ConversionRate != nil && *row.ConversionRate < cfg.BottleneckMinConversion)

		report = append(report, row)
	}

	return report
}

// groupByLead splits an ordered ledger into per-lead histories, preserving
// order within each lead.
func groupByLead(transitions []domain.StageTransition) map[string][]domain.StageTransition {
	byLead := make(map[string][]domain.StageTransition)
	for _, t := range transitions {
		byLead[t.LeadID] = append(byLead[t.LeadID], t)
	}
	return byLead
}

// findExit locates the earliest record after index entryIdx that leaves the
// given stage.
func findExit(history []domain.StageTransition, entryIdx int, stage string) (domain.StageTransition, bool) {
	for _, t := range history[entryIdx+1:] {
		if t.FromStage == stage {
			return t, true
		}
	}
	return domain.StageTransition{}, false
}

func roundToOneDecimal(v float64) float64 {
	return math.Round(v*10) / 10
}
