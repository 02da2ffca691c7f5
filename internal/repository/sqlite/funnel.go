package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lumenpath/funnel-analytics-service/internal/domain"
)

// FunnelRepository implements repository.FunnelRepository for SQLite.
type FunnelRepository struct {
	client *Client
	log    *zap.Logger
}

// NewFunnelRepository creates a new SQLite funnel repository.
func NewFunnelRepository(client *Client, log *zap.Logger) *FunnelRepository {
	return &FunnelRepository{client: client, log: log}
}

// CreateStage registers a stage definition.
func (r *FunnelRepository) CreateStage(ctx context.Context, stage *domain.StageDefinition) error {
	_, err := r.client.DB().ExecContext(ctx,
		`INSERT INTO stage_definitions (slug, name, position) VALUES (?, ?, ?)`,
		stage.Slug, stage.Name, stage.Position,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("stage %q at position %d: %w", stage.Slug, stage.Position, domain.ErrDuplicateStage)
		}
		return fmt.Errorf("failed to insert stage: %w", err)
	}
	return nil
}

// ListStages returns all stage definitions ordered by position.
func (r *FunnelRepository) ListStages(ctx context.Context) ([]domain.StageDefinition, error) {
	rows, err := r.client.DB().QueryContext(ctx,
		`SELECT slug, name, position FROM stage_definitions ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stages: %w", err)
	}
	defer closeRows(rows, r.log)

	var stages []domain.StageDefinition
	for rows.Next() {
		var s domain.StageDefinition
		if err := rows.Scan(&s.Slug, &s.Name, &s.Position); err != nil {
			return nil, fmt.Errorf("failed to scan stage row: %w", err)
		}
		stages = append(stages, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stage rows: %w", err)
	}
	return stages, nil
}

// AppendTransition appends a ledger record and moves the lead's
// current-stage pointer in one transaction. Ledger rows are never updated
// or deleted afterwards.
func (r *FunnelRepository) AppendTransition(ctx context.Context, leadID, toStage, actorID, reason string) (*domain.Lead, error) {
	tx, err := r.client.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM stage_definitions WHERE slug = ?`, toStage,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check stage: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("stage %q: %w", toStage, domain.ErrUnknownStage)
	}

	var fromStage sql.NullString
	var currentStage string
	err = tx.QueryRowContext(ctx,
		`SELECT current_stage FROM leads WHERE lead_id = ?`, leadID,
	).Scan(&currentStage)
	switch {
	case err == sql.ErrNoRows:
		// First recorded stage for this lead; from_stage stays NULL.
	case err != nil:
		return nil, fmt.Errorf("failed to look up lead: %w", err)
	default:
		fromStage = sql.NullString{String: currentStage, Valid: true}
	}

	now := time.Now().UTC()
	nowMillis := timeToUnixMillis(now)

	var reasonVal sql.NullString
	if reason != "" {
		reasonVal = sql.NullString{String: reason, Valid: true}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO stage_transitions (lead_id, from_stage, to_stage, actor_id, reason, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		leadID, fromStage, toStage, actorID, reasonVal, nowMillis,
	); err != nil {
		return nil, fmt.Errorf("failed to insert transition: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO leads (lead_id, current_stage, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(lead_id) DO UPDATE SET
		    current_stage = excluded.current_stage,
		    updated_at = excluded.updated_at`,
		leadID, toStage, nowMillis,
	); err != nil {
		return nil, fmt.Errorf("failed to update lead stage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}

	return &domain.Lead{ID: leadID, CurrentStage: toStage, UpdatedAt: now}, nil
}

// ListTransitions returns the full ledger ordered by lead, then time of
// occurrence. Insertion order breaks ties so a lead's history replays in the
// order it was written.
func (r *FunnelRepository) ListTransitions(ctx context.Context) ([]domain.StageTransition, error) {
	rows, err := r.client.DB().QueryContext(ctx,
		`SELECT id, lead_id, from_stage, to_stage, actor_id, reason, occurred_at
		 FROM stage_transitions
		 ORDER BY lead_id, occurred_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	defer closeRows(rows, r.log)

	var transitions []domain.StageTransition
	for rows.Next() {
		var t domain.StageTransition
		var fromStage, reason sql.NullString
		var occurredAt int64
		if err := rows.Scan(&t.ID, &t.LeadID, &fromStage, &t.ToStage, &t.ActorID, &reason, &occurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan transition row: %w", err)
		}
		t.FromStage = fromStage.String
		t.Reason = reason.String
		t.OccurredAt = unixMillisToTime(occurredAt)
		transitions = append(transitions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transition rows: %w", err)
	}
	return transitions, nil
}

// LeadsByStage returns lead IDs grouped by current stage slug.
func (r *FunnelRepository) LeadsByStage(ctx context.Context) (map[string][]string, error) {
	rows, err := r.client.DB().QueryContext(ctx,
		`SELECT lead_id, current_stage FROM leads ORDER BY current_stage, lead_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	defer closeRows(rows, r.log)

	grouped := make(map[string][]string)
	for rows.Next() {
		var leadID, stage string
		if err := rows.Scan(&leadID, &stage); err != nil {
			return nil, fmt.Errorf("failed to scan lead row: %w", err)
		}
		grouped[stage] = append(grouped[stage], leadID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lead rows: %w", err)
	}
	return grouped, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func closeRows(rows *sql.Rows, log *zap.Logger) {
	if err := rows.Close(); err != nil {
		log.Error("Failed to close rows", zap.Error(err))
	}
}

func timeToUnixMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func unixMillisToTime(millis int64) time.Time {
	return time.UnixMilli(millis).UTC()
}
