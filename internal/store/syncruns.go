package store

import (
	"context"
	"database/sql"
	"fmt"

	"reconciliation-service/internal/models"
)

// CreateSyncRun inserts a new run record in its initial state
func (s *Store) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	query := `
		INSERT INTO sync_runs (id, tenant_id, mode, since_date, until_date, state)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING started_at`

	return s.db.GetContext(ctx, &run.StartedAt, query,
		run.ID, run.TenantID, run.Mode, run.SinceDate, run.UntilDate, run.State)
}

// UpdateSyncRunState records a state transition
func (s *Store) UpdateSyncRunState(ctx context.Context, runID, state string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sync_runs SET state = $1 WHERE id = $2",
		state, runID)
	return err
}

// FinishSyncRun records the terminal state and the run's counters
func (s *Store) FinishSyncRun(ctx context.Context, run *models.SyncRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_runs
		SET state = $1, failure_reason = $2, orders_fetched = $3,
		    orders_skipped = $4, rows_written = $5, finished_at = NOW()
		WHERE id = $6`,
		run.State, run.FailureReason, run.OrdersFetched,
		run.OrdersSkipped, run.RowsWritten, run.ID)
	return err
}

// GetSyncRun retrieves a run by ID
func (s *Store) GetSyncRun(ctx context.Context, runID string) (*models.SyncRun, error) {
	query := `
		SELECT id, tenant_id, mode, since_date::text AS since_date,
		       until_date::text AS until_date, state, failure_reason,
		       orders_fetched, orders_skipped, rows_written, started_at, finished_at
		FROM sync_runs WHERE id = $1`

	var run models.SyncRun
	err := s.db.GetContext(ctx, &run, query, runID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sync run not found: %s", runID)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListSyncRuns retrieves a tenant's most recent runs
func (s *Store) ListSyncRuns(ctx context.Context, tenantID string, limit int) ([]models.SyncRun, error) {
	query := `
		SELECT id, tenant_id, mode, since_date::text AS since_date,
		       until_date::text AS until_date, state, failure_reason,
		       orders_fetched, orders_skipped, rows_written, started_at, finished_at
		FROM sync_runs
		WHERE tenant_id = $1
		ORDER BY started_at DESC
		LIMIT $2`

	var runs []models.SyncRun
	err := s.db.SelectContext(ctx, &runs, query, tenantID, limit)
	return runs, err
}

// IsEventProcessed checks if a scheduler event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks a scheduler event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
