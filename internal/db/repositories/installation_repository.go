// installation_repository.go implements InstallationRepository, providing
// database queries for the installation↔version join rows. All status writes
// are conditional updates (compare-and-swap on the current status) so that
// concurrent upgrade and rollback callers fail fast instead of corrupting the
// single-active invariant.
package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sitehub/module-engine/internal/db/models"
)

// InstallationRepository handles database operations for site module version
// installations
type InstallationRepository struct {
	db *sql.DB
}

// NewInstallationRepository creates a new installation repository
func NewInstallationRepository(db *sql.DB) *InstallationRepository {
	return &InstallationRepository{db: db}
}

const installationColumns = `
	smv.id, smv.installation_id, smv.version_id, smv.status,
	smv.installed_at, smv.activated_at, smv.deactivated_at, smv.installed_by,
	mv.version`

func scanInstallation(row interface{ Scan(...interface{}) error }) (*models.SiteModuleVersion, error) {
	i := &models.SiteModuleVersion{}
	err := row.Scan(
		&i.ID,
		&i.InstallationID,
		&i.VersionID,
		&i.Status,
		&i.InstalledAt,
		&i.ActivatedAt,
		&i.DeactivatedAt,
		&i.InstalledBy,
		&i.Version,
	)
	if err != nil {
		return nil, err
	}
	return i, nil
}

// GetActive retrieves the single active row for an installation
func (r *InstallationRepository) GetActive(ctx context.Context, installationID string) (*models.SiteModuleVersion, error) {
	query := `
		SELECT ` + installationColumns + `
		FROM site_module_versions smv
		JOIN module_versions mv ON smv.version_id = mv.id
		WHERE smv.installation_id = $1 AND smv.status = 'active'
	`

	i, err := scanInstallation(r.db.QueryRowContext(ctx, query, installationID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No active version
		}
		return nil, fmt.Errorf("failed to get active installation version: %w", err)
	}
	return i, nil
}

// ListHistory retrieves all rows for an installation, newest first
func (r *InstallationRepository) ListHistory(ctx context.Context, installationID string) ([]*models.SiteModuleVersion, error) {
	query := `
		SELECT ` + installationColumns + `
		FROM site_module_versions smv
		JOIN module_versions mv ON smv.version_id = mv.id
		WHERE smv.installation_id = $1
		ORDER BY smv.installed_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, installationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list installation history: %w", err)
	}
	defer rows.Close()

	var history []*models.SiteModuleVersion
	for rows.Next() {
		i, err := scanInstallation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan installation row: %w", err)
		}
		history = append(history, i)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating installation history: %w", err)
	}

	return history, nil
}

// CreateActive inserts a new active row for an installation. The partial
// unique index on (installation_id) WHERE status='active' rejects the insert
// if another active row exists.
func (r *InstallationRepository) CreateActive(ctx context.Context, installationID, versionID string, installedBy *string) (*models.SiteModuleVersion, error) {
	query := `
		INSERT INTO site_module_versions (installation_id, version_id, status, activated_at, installed_by)
		VALUES ($1, $2, 'active', NOW(), $3)
		RETURNING id, installed_at, activated_at
	`

	i := &models.SiteModuleVersion{
		InstallationID: installationID,
		VersionID:      versionID,
		Status:         models.InstallationStatusActive,
		InstalledBy:    installedBy,
	}
	err := r.db.QueryRowContext(ctx, query, installationID, versionID, installedBy).
		Scan(&i.ID, &i.InstalledAt, &i.ActivatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("installation %s already has an active version: %w",
				installationID, ErrDuplicate)
		}
		return nil, fmt.Errorf("failed to create active installation version: %w", err)
	}

	return i, nil
}

// AdvanceVersion moves the active row's version pointer from
// expectedVersionID to newVersionID. The version check makes concurrent
// advances on the same row fail instead of double-applying; false means the
// row was not in the expected state.
func (r *InstallationRepository) AdvanceVersion(ctx context.Context, rowID, expectedVersionID, newVersionID string) (bool, error) {
	query := `
		UPDATE site_module_versions
		SET version_id = $3, activated_at = NOW()
		WHERE id = $1 AND version_id = $2 AND status = 'active'
	`

	result, err := r.db.ExecContext(ctx, query, rowID, expectedVersionID, newVersionID)
	if err != nil {
		return false, fmt.Errorf("failed to advance installation version: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// TransitionStatus performs a compare-and-swap status transition on one row.
// Terminal transitions (rolled_back, failed) stamp deactivated_at. Returns
// false when the row was not in the expected `from` status, which is how a
// concurrent second caller discovers it lost the race.
func (r *InstallationRepository) TransitionStatus(ctx context.Context, rowID string, from, to models.InstallationStatus) (bool, error) {
	if !from.Valid() || !to.Valid() {
		return false, fmt.Errorf("invalid installation status transition: %s -> %s", from, to)
	}

	var query string
	switch to {
	case models.InstallationStatusRolledBack, models.InstallationStatusFailed:
		query = `
			UPDATE site_module_versions
			SET status = $3, deactivated_at = NOW()
			WHERE id = $1 AND status = $2
		`
	default:
		query = `
			UPDATE site_module_versions
			SET status = $3
			WHERE id = $1 AND status = $2
		`
	}

	result, err := r.db.ExecContext(ctx, query, rowID, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to transition installation status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// ReactivateVersion flips the most recent rolled_back row for (installation,
// version) back to active. Returns false when no such row exists and the
// caller should insert a fresh one via CreateActive.
func (r *InstallationRepository) ReactivateVersion(ctx context.Context, installationID, versionID string) (bool, error) {
	query := `
		UPDATE site_module_versions
		SET status = 'active', activated_at = NOW(), deactivated_at = NULL
		WHERE id = (
			SELECT id FROM site_module_versions
			WHERE installation_id = $1 AND version_id = $2 AND status = 'rolled_back'
			ORDER BY installed_at DESC
			LIMIT 1
		)
	`

	result, err := r.db.ExecContext(ctx, query, installationID, versionID)
	if err != nil {
		if isUniqueViolation(err) {
			return false, fmt.Errorf("installation %s already has an active version: %w",
				installationID, ErrDuplicate)
		}
		return false, fmt.Errorf("failed to reactivate installation version: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}
