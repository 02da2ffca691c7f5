package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lumenpath/funnel-analytics-service/internal/domain"
	"github.com/lumenpath/funnel-analytics-service/internal/repository"
)

// ExperimentRepository implements repository.ExperimentRepository for SQLite.
type ExperimentRepository struct {
	client *Client
	log    *zap.Logger
}

// NewExperimentRepository creates a new SQLite experiment repository.
func NewExperimentRepository(client *Client, log *zap.Logger) *ExperimentRepository {
	return &ExperimentRepository{client: client, log: log}
}

// CreateTest persists a new experiment definition.
func (r *ExperimentRepository) CreateTest(ctx context.Context, test *domain.Experiment) error {
	personas, err := json.Marshal(test.Targeting.Personas)
	if err != nil {
		return fmt.Errorf("failed to marshal target personas: %w", err)
	}
	stages, err := json.Marshal(test.Targeting.FunnelStages)
	if err != nil {
		return fmt.Errorf("failed to marshal target stages: %w", err)
	}

	_, err = r.client.DB().ExecContext(ctx,
		`INSERT INTO experiments (test_id, name, status, target_personas, target_stages, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		test.TestID, test.Name, test.Status, string(personas), string(stages),
		timeToUnixMillis(test.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert test: %w", err)
	}
	return nil
}

// GetTest returns a test by ID.
func (r *ExperimentRepository) GetTest(ctx context.Context, testID string) (*domain.Experiment, error) {
	row := r.client.DB().QueryRowContext(ctx,
		`SELECT test_id, name, status, target_personas, target_stages, created_at
		 FROM experiments WHERE test_id = ?`, testID)

	test, err := scanTest(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("test %q: %w", testID, domain.ErrUnknownTest)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get test: %w", err)
	}
	return test, nil
}

// ListTests returns all tests ordered by creation time.
func (r *ExperimentRepository) ListTests(ctx context.Context) ([]domain.Experiment, error) {
	rows, err := r.client.DB().QueryContext(ctx,
		`SELECT test_id, name, status, target_personas, target_stages, created_at
		 FROM experiments ORDER BY created_at, test_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tests: %w", err)
	}
	defer closeRows(rows, r.log)

	var tests []domain.Experiment
	for rows.Next() {
		test, err := scanTest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan test row: %w", err)
		}
		tests = append(tests, *test)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating test rows: %w", err)
	}
	return tests, nil
}

// UpdateTestStatus sets a test's status.
func (r *ExperimentRepository) UpdateTestStatus(ctx context.Context, testID, status string) error {
	res, err := r.client.DB().ExecContext(ctx,
		`UPDATE experiments SET status = ? WHERE test_id = ?`, status, testID)
	if err != nil {
		return fmt.Errorf("failed to update test status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("test %q: %w", testID, domain.ErrUnknownTest)
	}
	return nil
}

// CreateVariant persists a new variant.
func (r *ExperimentRepository) CreateVariant(ctx context.Context, variant *domain.Variant) error {
	var exists int
	if err := r.client.DB().QueryRowContext(ctx,
		`SELECT COUNT(1) FROM experiments WHERE test_id = ?`, variant.TestID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check test: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("test %q: %w", variant.TestID, domain.ErrUnknownTest)
	}

	_, err := r.client.DB().ExecContext(ctx,
		`INSERT INTO variants (variant_id, test_id, name, traffic_weight, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		variant.VariantID, variant.TestID, variant.Name, variant.TrafficWeight,
		timeToUnixMillis(variant.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert variant: %w", err)
	}
	return nil
}

// ListVariants returns a test's variants in creation order. Creation order is
// the fixed walk order for weighted selection.
func (r *ExperimentRepository) ListVariants(ctx context.Context, testID string) ([]domain.Variant, error) {
	rows, err := r.client.DB().QueryContext(ctx,
		`SELECT variant_id, test_id, name, traffic_weight, created_at
		 FROM variants WHERE test_id = ? ORDER BY created_at, variant_id`, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to query variants: %w", err)
	}
	defer closeRows(rows, r.log)

	var variants []domain.Variant
	for rows.Next() {
		var v domain.Variant
		var createdAt int64
		if err := rows.Scan(&v.VariantID, &v.TestID, &v.Name, &v.TrafficWeight, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan variant row: %w", err)
		}
		v.CreatedAt = unixMillisToTime(createdAt)
		variants = append(variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating variant rows: %w", err)
	}
	return variants, nil
}

// GetVariant returns a variant of a test.
func (r *ExperimentRepository) GetVariant(ctx context.Context, testID, variantID string) (*domain.Variant, error) {
	var v domain.Variant
	var createdAt int64
	err := r.client.DB().QueryRowContext(ctx,
		`SELECT variant_id, test_id, name, traffic_weight, created_at
		 FROM variants WHERE test_id = ? AND variant_id = ?`, testID, variantID,
	).Scan(&v.VariantID, &v.TestID, &v.Name, &v.TrafficWeight, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("variant %q of test %q: %w", variantID, testID, domain.ErrUnknownVariant)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get variant: %w", err)
	}
	v.CreatedAt = unixMillisToTime(createdAt)
	return &v, nil
}

// GetAssignment returns the assignment for (test, session) if one exists.
func (r *ExperimentRepository) GetAssignment(ctx context.Context, testID, sessionID string) (*domain.Assignment, bool, error) {
	row := r.client.DB().QueryRowContext(ctx,
		`SELECT test_id, variant_id, session_id, user_id, persona, funnel_stage, created_at
		 FROM assignments WHERE test_id = ? AND session_id = ?`, testID, sessionID)

	assignment, err := scanAssignment(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get assignment: %w", err)
	}
	return assignment, true, nil
}

// CreateAssignment inserts an assignment guarded by the (test_id, session_id)
// primary key. A conflict means another caller won the race; the stored row
// is re-read and returned so both callers observe the same variant.
func (r *ExperimentRepository) CreateAssignment(ctx context.Context, assignment *domain.Assignment) (*domain.Assignment, bool, error) {
	res, err := r.client.DB().ExecContext(ctx,
		`INSERT INTO assignments (test_id, variant_id, session_id, user_id, persona, funnel_stage, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(test_id, session_id) DO NOTHING`,
		assignment.TestID, assignment.VariantID, assignment.SessionID,
		nullable(assignment.UserID), nullable(assignment.Persona), nullable(assignment.FunnelStage),
		timeToUnixMillis(assignment.CreatedAt),
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert assignment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 1 {
		return assignment, true, nil
	}

	r.log.Info("Assignment insert lost race, returning winner",
		zap.String("test_id", assignment.TestID),
		zap.String("session_id", assignment.SessionID))

	stored, found, err := r.GetAssignment(ctx, assignment.TestID, assignment.SessionID)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, fmt.Errorf("assignment conflict but no stored row for test %q session %q",
			assignment.TestID, assignment.SessionID)
	}
	return stored, false, nil
}

// InsertEventBatch appends a batch of experiment events inside one
// transaction and returns how many were handled. Queue delivery is
// at-least-once, so a redelivered event whose event_id is already stored is
// absorbed rather than failing the batch.
func (r *ExperimentRepository) InsertEventBatch(ctx context.Context, events []*domain.ExperimentEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := r.client.DB().BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO experiment_events (event_id, test_id, variant_id, session_id, event_type, occurred_at, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(event_id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare event insert: %w", err)
	}
	defer func() {
		_ = stmt.Close()
	}()

	handled := 0
	for _, event := range events {
		processedAt := event.ProcessedAt
		if processedAt.IsZero() {
			processedAt = time.Now().UTC()
		}

		res, err := stmt.ExecContext(ctx,
			event.EventID, event.TestID, event.VariantID, event.SessionID,
			event.EventType, timeToUnixMillis(event.OccurredAt), timeToUnixMillis(processedAt),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert event %q: %w", event.EventID, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read rows affected: %w", err)
		}
		if affected == 0 {
			r.log.Debug("Skipping already-stored event", zap.String("event_id", event.EventID))
		}
		handled++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit event batch: %w", err)
	}

	return handled, nil
}

// CountEventsByVariant returns exposure/conversion tallies grouped by variant
// for one test. Variants with no events yet are absent from the result.
func (r *ExperimentRepository) CountEventsByVariant(ctx context.Context, testID string) ([]repository.VariantEventCounts, error) {
	rows, err := r.client.DB().QueryContext(ctx,
		`SELECT variant_id,
		        SUM(CASE WHEN event_type = 'exposure' THEN 1 ELSE 0 END) AS exposures,
		        SUM(CASE WHEN event_type = 'conversion' THEN 1 ELSE 0 END) AS conversions
		 FROM experiment_events
		 WHERE test_id = ?
		 GROUP BY variant_id`, testID)
	if err != nil {
		return nil, fmt.Errorf("failed to query event counts: %w", err)
	}
	defer closeRows(rows, r.log)

	var counts []repository.VariantEventCounts
	for rows.Next() {
		var c repository.VariantEventCounts
		if err := rows.Scan(&c.VariantID, &c.Exposures, &c.Conversions); err != nil {
			return nil, fmt.Errorf("failed to scan event count row: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event count rows: %w", err)
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTest(row rowScanner) (*domain.Experiment, error) {
	var test domain.Experiment
	var personas, stages string
	var createdAt int64
	if err := row.Scan(&test.TestID, &test.Name, &test.Status, &personas, &stages, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(personas), &test.Targeting.Personas); err != nil {
		return nil, fmt.Errorf("failed to unmarshal target personas: %w", err)
	}
	if err := json.Unmarshal([]byte(stages), &test.Targeting.FunnelStages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal target stages: %w", err)
	}
	test.CreatedAt = unixMillisToTime(createdAt)
	return &test, nil
}

func scanAssignment(row rowScanner) (*domain.Assignment, error) {
	var a domain.Assignment
	var userID, persona, funnelStage sql.NullString
	var createdAt int64
	if err := row.Scan(&a.TestID, &a.VariantID, &a.SessionID, &userID, &persona, &funnelStage, &createdAt); err != nil {
		return nil, err
	}
	a.UserID = userID.String
	a.Persona = persona.String
	a.FunnelStage = funnelStage.String
	a.CreatedAt = unixMillisToTime(createdAt)
	return &a, nil
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
