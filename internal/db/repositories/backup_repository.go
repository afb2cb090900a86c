// backup_repository.go implements BackupRepository, providing database queries
// for tenant data backup records. Uses sqlx struct scanning — the backup rows
// are flat and read-heavy, so Get/Select carry less ceremony than hand-rolled
// Scan lists. Follows the same pattern as the other repositories otherwise.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sitehub/module-engine/internal/db/models"
)

// BackupRepository handles database operations for module data backups
type BackupRepository struct {
	db *sqlx.DB
}

// NewBackupRepository creates a new backup repository
func NewBackupRepository(db *sqlx.DB) *BackupRepository {
	return &BackupRepository{db: db}
}

// Create inserts a new backup record
func (r *BackupRepository) Create(ctx context.Context, backup *models.DataBackup) error {
	query := `
		INSERT INTO module_data_backups (installation_id, version, reason, storage_ref, size_bytes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := r.db.QueryRowxContext(ctx, query,
		backup.InstallationID,
		backup.Version,
		backup.Reason,
		backup.StorageRef,
		backup.SizeBytes,
	).Scan(&backup.ID, &backup.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create backup record: %w", err)
	}

	return nil
}

// GetByID retrieves a backup record by its UUID
func (r *BackupRepository) GetByID(ctx context.Context, id string) (*models.DataBackup, error) {
	query := `
		SELECT id, installation_id, version, reason, storage_ref, size_bytes, created_at
		FROM module_data_backups
		WHERE id = $1
	`

	backup := &models.DataBackup{}
	err := r.db.GetContext(ctx, backup, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get backup: %w", err)
	}

	return backup, nil
}

// LatestForVersion retrieves the most recent backup of an installation taken
// against the given module version, or nil when none exists.
func (r *BackupRepository) LatestForVersion(ctx context.Context, installationID, version string) (*models.DataBackup, error) {
	query := `
		SELECT id, installation_id, version, reason, storage_ref, size_bytes, created_at
		FROM module_data_backups
		WHERE installation_id = $1 AND version = $2
		ORDER BY created_at DESC
		LIMIT 1
	`

	backup := &models.DataBackup{}
	err := r.db.GetContext(ctx, backup, query, installationID, version)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get latest backup for version: %w", err)
	}

	return backup, nil
}

// ListForInstallation retrieves all backup records for an installation,
// newest first.
func (r *BackupRepository) ListForInstallation(ctx context.Context, installationID string) ([]*models.DataBackup, error) {
	query := `
		SELECT id, installation_id, version, reason, storage_ref, size_bytes, created_at
		FROM module_data_backups
		WHERE installation_id = $1
		ORDER BY created_at DESC
	`

	var backups []*models.DataBackup
	if err := r.db.SelectContext(ctx, &backups, query, installationID); err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	return backups, nil
}

// ListOlderThan retrieves backup records created before the cutoff, oldest
// first. Used by the retention job to find expired backups.
func (r *BackupRepository) ListOlderThan(ctx context.Context, cutoff time.Time) ([]*models.DataBackup, error) {
	query := `
		SELECT id, installation_id, version, reason, storage_ref, size_bytes, created_at
		FROM module_data_backups
		WHERE created_at < $1
		ORDER BY created_at ASC
	`

	var backups []*models.DataBackup
	if err := r.db.SelectContext(ctx, &backups, query, cutoff); err != nil {
		return nil, fmt.Errorf("failed to list expired backups: %w", err)
	}

	return backups, nil
}

// Delete removes a backup record. The caller is responsible for deleting the
// blob first; a dangling row is recoverable, a dangling blob is not traceable.
func (r *BackupRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM module_data_backups WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete backup record: %w", err)
	}
	return nil
}
