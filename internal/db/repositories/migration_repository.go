// migration_repository.go implements MigrationRepository, providing database
// queries for per-module schema migrations and their execution runs. The
// running-run insert doubles as the mutual-exclusion point for concurrent
// migration attempts against the same installation.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sitehub/module-engine/internal/db/models"
)

// MigrationRepository handles database operations for module migrations and
// migration runs
type MigrationRepository struct {
	db *sql.DB
}

// NewMigrationRepository creates a new migration repository
func NewMigrationRepository(db *sql.DB) *MigrationRepository {
	return &MigrationRepository{db: db}
}

const migrationColumns = `
	id, module_id, from_version, to_version, sequence,
	up_payload_ref, down_payload_ref, is_reversible, requires_maintenance,
	estimated_duration_seconds, created_at`

func scanMigration(row interface{ Scan(...interface{}) error }) (*models.Migration, error) {
	m := &models.Migration{}
	err := row.Scan(
		&m.ID,
		&m.ModuleID,
		&m.FromVersion,
		&m.ToVersion,
		&m.Sequence,
		&m.UpPayloadRef,
		&m.DownPayloadRef,
		&m.IsReversible,
		&m.RequiresMaintenance,
		&m.EstimatedDurationSeconds,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// CreateMigration inserts a new migration. The sequence number is assigned
// server-side as max(sequence)+1 for the module so callers never race on it.
func (r *MigrationRepository) CreateMigration(ctx context.Context, m *models.Migration) error {
	query := `
		INSERT INTO module_migrations
		  (module_id, from_version, to_version, sequence,
		   up_payload_ref, down_payload_ref, is_reversible, requires_maintenance,
		   estimated_duration_seconds)
		VALUES ($1, $2, $3,
		        (SELECT COALESCE(MAX(sequence), 0) + 1 FROM module_migrations WHERE module_id = $1),
		        $4, $5, $6, $7, $8)
		RETURNING id, sequence, created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		m.ModuleID,
		m.FromVersion,
		m.ToVersion,
		m.UpPayloadRef,
		m.DownPayloadRef,
		m.IsReversible,
		m.RequiresMaintenance,
		m.EstimatedDurationSeconds,
	).Scan(&m.ID, &m.Sequence, &m.CreatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("migration %s -> %s already exists for module %s: %w",
				m.FromVersion, m.ToVersion, m.ModuleID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create migration: %w", err)
	}

	return nil
}

// GetBridge retrieves the migration bridging fromVersion to toVersion
func (r *MigrationRepository) GetBridge(ctx context.Context, moduleID, fromVersion, toVersion string) (*models.Migration, error) {
	query := `
		SELECT ` + migrationColumns + `
		FROM module_migrations
		WHERE module_id = $1 AND from_version = $2 AND to_version = $3
	`

	m, err := scanMigration(r.db.QueryRowContext(ctx, query, moduleID, fromVersion, toVersion))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get migration: %w", err)
	}
	return m, nil
}

// ListByModule retrieves all migrations for a module in sequence order. The
// rollback planner walks the full chain to map versions to sequence
// boundaries, since not every version has a migration producing it.
func (r *MigrationRepository) ListByModule(ctx context.Context, moduleID string) ([]*models.Migration, error) {
	query := `
		SELECT ` + migrationColumns + `
		FROM module_migrations
		WHERE module_id = $1
		ORDER BY sequence ASC
	`

	rows, err := r.db.QueryContext(ctx, query, moduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list module migrations: %w", err)
	}
	defer rows.Close()

	var migrations []*models.Migration
	for rows.Next() {
		m, err := scanMigration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		migrations = append(migrations, m)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migrations: %w", err)
	}

	return migrations, nil
}

// ListBySequenceRange retrieves migrations with afterSequence < sequence <=
// throughSequence. Ascending order is the forward execution order; descending
// (newest first) is the rollback order.
func (r *MigrationRepository) ListBySequenceRange(ctx context.Context, moduleID string, afterSequence, throughSequence int, descending bool) ([]*models.Migration, error) {
	order := "ASC"
	if descending {
		order = "DESC"
	}
	query := `
		SELECT ` + migrationColumns + `
		FROM module_migrations
		WHERE module_id = $1 AND sequence > $2 AND sequence <= $3
		ORDER BY sequence ` + order

	rows, err := r.db.QueryContext(ctx, query, moduleID, afterSequence, throughSequence)
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	defer rows.Close()

	var migrations []*models.Migration
	for rows.Next() {
		m, err := scanMigration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan migration: %w", err)
		}
		migrations = append(migrations, m)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migrations: %w", err)
	}

	return migrations, nil
}

// ---------------------------------------------------------------------------
// Migration runs
// ---------------------------------------------------------------------------

const runColumns = `
	id, installation_id, migration_id, direction, status,
	backup_id, executed_by, started_at, completed_at, error_message`

func scanRun(row interface{ Scan(...interface{}) error }) (*models.MigrationRun, error) {
	run := &models.MigrationRun{}
	err := row.Scan(
		&run.ID,
		&run.InstallationID,
		&run.MigrationID,
		&run.Direction,
		&run.Status,
		&run.BackupID,
		&run.ExecutedBy,
		&run.StartedAt,
		&run.CompletedAt,
		&run.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// StartRun inserts a run in running state. A partial unique index allows at
// most one running row per (installation, migration, direction); a concurrent
// second attempt violates it and gets ErrDuplicate, which the engine maps to
// MigrationInProgress.
func (r *MigrationRepository) StartRun(ctx context.Context, run *models.MigrationRun) error {
	query := `
		INSERT INTO module_migration_runs
		  (installation_id, migration_id, direction, status, backup_id, executed_by)
		VALUES ($1, $2, $3, 'running', $4, $5)
		RETURNING id, started_at
	`

	err := r.db.QueryRowContext(ctx, query,
		run.InstallationID,
		run.MigrationID,
		run.Direction,
		run.BackupID,
		run.ExecutedBy,
	).Scan(&run.ID, &run.StartedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("migration run already in progress for installation %s: %w",
				run.InstallationID, ErrDuplicate)
		}
		return fmt.Errorf("failed to start migration run: %w", err)
	}

	run.Status = models.RunStatusRunning
	return nil
}

// CompleteRun transitions a running run to success or failed with a completion
// timestamp and optional error message. The status guard means a run can only
// be completed once.
func (r *MigrationRepository) CompleteRun(ctx context.Context, runID string, status models.RunStatus, errorMessage *string) error {
	switch status {
	case models.RunStatusSuccess, models.RunStatusFailed:
	default:
		return fmt.Errorf("invalid terminal run status: %s", status)
	}

	query := `
		UPDATE module_migration_runs
		SET status = $2, completed_at = NOW(), error_message = $3
		WHERE id = $1 AND status = 'running'
	`

	result, err := r.db.ExecContext(ctx, query, runID, status, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to complete migration run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("migration run %s is not running", runID)
	}

	return nil
}

// ListRuns retrieves all runs for an installation, newest first.
func (r *MigrationRepository) ListRuns(ctx context.Context, installationID string) ([]*models.MigrationRun, error) {
	query := `
		SELECT ` + runColumns + `
		FROM module_migration_runs
		WHERE installation_id = $1
		ORDER BY started_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, installationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list migration runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.MigrationRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan migration run: %w", err)
		}
		runs = append(runs, run)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating migration runs: %w", err)
	}

	return runs, nil
}
