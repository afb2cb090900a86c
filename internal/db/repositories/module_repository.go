// module_repository.go implements ModuleRepository, providing database queries
// for module working copies and their immutable version snapshots: creation,
// status transitions, version-pointer updates, and ordered version listings.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/sitehub/module-engine/internal/db/models"
)

// ErrDuplicate is returned when an insert violates a uniqueness constraint,
// e.g. creating a version string that already exists for a module or starting
// a second running migration run for the same (installation, migration,
// direction). Callers map it to their domain error.
var ErrDuplicate = errors.New("duplicate row")

// isUniqueViolation reports whether err is a Postgres unique-constraint error.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// ModuleRepository handles database operations for modules and module versions
type ModuleRepository struct {
	db *sql.DB
}

// NewModuleRepository creates a new module repository
func NewModuleRepository(db *sql.DB) *ModuleRepository {
	return &ModuleRepository{db: db}
}

// CreateModule inserts a new module working copy
func (r *ModuleRepository) CreateModule(ctx context.Context, module *models.Module) error {
	query := `
		INSERT INTO modules (organization_id, name, slug, description, render_source_ref,
		                     settings_schema, api_routes, styling, default_settings, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query,
		module.OrganizationID,
		module.Name,
		module.Slug,
		module.Description,
		module.RenderSourceRef,
		module.SettingsSchema,
		module.APIRoutes,
		module.Styling,
		module.DefaultSettings,
		module.CreatedBy,
	).Scan(&module.ID, &module.CreatedAt, &module.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("module slug %q already exists: %w", module.Slug, ErrDuplicate)
		}
		return fmt.Errorf("failed to create module: %w", err)
	}

	return nil
}

// GetModuleByID retrieves a module working copy by its UUID
func (r *ModuleRepository) GetModuleByID(ctx context.Context, id string) (*models.Module, error) {
	query := `
		SELECT id, organization_id, name, slug, description, render_source_ref,
		       settings_schema, api_routes, styling, default_settings,
		       latest_version, published_version, created_by, created_at, updated_at
		FROM modules
		WHERE id = $1
	`

	module := &models.Module{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&module.ID,
		&module.OrganizationID,
		&module.Name,
		&module.Slug,
		&module.Description,
		&module.RenderSourceRef,
		&module.SettingsSchema,
		&module.APIRoutes,
		&module.Styling,
		&module.DefaultSettings,
		&module.LatestVersion,
		&module.PublishedVersion,
		&module.CreatedBy,
		&module.CreatedAt,
		&module.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get module by ID: %w", err)
	}

	return module, nil
}

// UpdateLatestVersion updates the module's latest-version pointer
func (r *ModuleRepository) UpdateLatestVersion(ctx context.Context, moduleID, version string) error {
	query := `UPDATE modules SET latest_version = $2, updated_at = NOW() WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, moduleID, version); err != nil {
		return fmt.Errorf("failed to update latest version: %w", err)
	}
	return nil
}

// UpdatePublishedVersion updates the module's published-version pointer
func (r *ModuleRepository) UpdatePublishedVersion(ctx context.Context, moduleID, version string) error {
	query := `UPDATE modules SET published_version = $2, updated_at = NOW() WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, moduleID, version); err != nil {
		return fmt.Errorf("failed to update published version: %w", err)
	}
	return nil
}

const versionColumns = `
	id, module_id, version, version_major, version_minor, version_patch, prerelease,
	render_source_ref, settings_schema, api_routes, styling, default_settings,
	changelog, release_notes, min_platform_version,
	is_breaking_change, breaking_change_description, dependencies,
	status, status_reason, published_at, published_by,
	download_count, active_install_count, created_at`

// scanVersion scans one module_versions row in versionColumns order.
func scanVersion(row interface{ Scan(...interface{}) error }) (*models.ModuleVersion, error) {
	v := &models.ModuleVersion{}
	err := row.Scan(
		&v.ID,
		&v.ModuleID,
		&v.Version,
		&v.VersionMajor,
		&v.VersionMinor,
		&v.VersionPatch,
		&v.Prerelease,
		&v.RenderSourceRef,
		&v.SettingsSchema,
		&v.APIRoutes,
		&v.Styling,
		&v.DefaultSettings,
		&v.Changelog,
		&v.ReleaseNotes,
		&v.MinPlatformVersion,
		&v.IsBreakingChange,
		&v.BreakingChangeDescription,
		&v.Dependencies,
		&v.Status,
		&v.StatusReason,
		&v.PublishedAt,
		&v.PublishedBy,
		&v.DownloadCount,
		&v.ActiveInstallCount,
		&v.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// CreateVersion inserts a new module version snapshot
func (r *ModuleRepository) CreateVersion(ctx context.Context, version *models.ModuleVersion) error {
	query := `
		INSERT INTO module_versions
		  (module_id, version, version_major, version_minor, version_patch, prerelease,
		   render_source_ref, settings_schema, api_routes, styling, default_settings,
		   changelog, release_notes, min_platform_version,
		   is_breaking_change, breaking_change_description, dependencies, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		RETURNING id, created_at
	`

	err := r.db.QueryRowContext(ctx, query,
		version.ModuleID,
		version.Version,
		version.VersionMajor,
		version.VersionMinor,
		version.VersionPatch,
		version.Prerelease,
		version.RenderSourceRef,
		version.SettingsSchema,
		version.APIRoutes,
		version.Styling,
		version.DefaultSettings,
		version.Changelog,
		version.ReleaseNotes,
		version.MinPlatformVersion,
		version.IsBreakingChange,
		version.BreakingChangeDescription,
		version.Dependencies,
		version.Status,
	).Scan(&version.ID, &version.CreatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("version %s already exists for module %s: %w",
				version.Version, version.ModuleID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create module version: %w", err)
	}

	return nil
}

// GetVersionByID retrieves a module version by its UUID
func (r *ModuleRepository) GetVersionByID(ctx context.Context, id string) (*models.ModuleVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM module_versions WHERE id = $1`

	v, err := scanVersion(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get module version: %w", err)
	}
	return v, nil
}

// GetVersion retrieves a specific version of a module by version string
func (r *ModuleRepository) GetVersion(ctx context.Context, moduleID, version string) (*models.ModuleVersion, error) {
	query := `SELECT ` + versionColumns + ` FROM module_versions WHERE module_id = $1 AND version = $2`

	v, err := scanVersion(r.db.QueryRowContext(ctx, query, moduleID, version))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get module version: %w", err)
	}
	return v, nil
}

// ListVersions retrieves all versions for a module ordered ascending by the
// decomposed version columns. A release sorts after prereleases of the same
// numeric version: `(prerelease = '')` sorts false (prerelease present) first.
func (r *ModuleRepository) ListVersions(ctx context.Context, moduleID string) ([]*models.ModuleVersion, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM module_versions
		WHERE module_id = $1
		ORDER BY version_major, version_minor, version_patch,
		         (prerelease = '') ASC, prerelease ASC
	`
	return r.listVersions(ctx, query, moduleID)
}

// ListVersionsByStatus retrieves versions of a module in a given status,
// ordered ascending like ListVersions.
func (r *ModuleRepository) ListVersionsByStatus(ctx context.Context, moduleID string, status models.VersionStatus) ([]*models.ModuleVersion, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM module_versions
		WHERE module_id = $1 AND status = $2
		ORDER BY version_major, version_minor, version_patch,
		         (prerelease = '') ASC, prerelease ASC
	`
	return r.listVersions(ctx, query, moduleID, status)
}

func (r *ModuleRepository) listVersions(ctx context.Context, query string, args ...interface{}) ([]*models.ModuleVersion, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list module versions: %w", err)
	}
	defer rows.Close()

	var versions []*models.ModuleVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan module version: %w", err)
		}
		versions = append(versions, v)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating module versions: %w", err)
	}

	return versions, nil
}

// PublishVersion flips a draft version to published, stamping the publish time
// and actor. The status check is part of the UPDATE so a concurrent publish or
// a non-draft version fails cleanly: false is returned when no row
// transitioned.
func (r *ModuleRepository) PublishVersion(ctx context.Context, versionID string, actor *string) (bool, error) {
	query := `
		UPDATE module_versions
		SET status = 'published', published_at = NOW(), published_by = $2
		WHERE id = $1 AND status = 'draft'
	`

	result, err := r.db.ExecContext(ctx, query, versionID, actor)
	if err != nil {
		return false, fmt.Errorf("failed to publish module version: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// SetVersionStatus performs a one-way status transition (deprecate, yank) with
// an optional reason. The version must currently be published.
func (r *ModuleRepository) SetVersionStatus(ctx context.Context, versionID string, status models.VersionStatus, reason *string) (bool, error) {
	query := `
		UPDATE module_versions
		SET status = $2, status_reason = $3
		WHERE id = $1 AND status = 'published'
	`

	result, err := r.db.ExecContext(ctx, query, versionID, status, reason)
	if err != nil {
		return false, fmt.Errorf("failed to set version status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// IncrementDownloadCount increments the download counter for a version
func (r *ModuleRepository) IncrementDownloadCount(ctx context.Context, versionID string) error {
	query := `
		UPDATE module_versions
		SET download_count = download_count + 1
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, versionID); err != nil {
		return fmt.Errorf("failed to increment download count: %w", err)
	}
	return nil
}

// AdjustActiveInstallCount moves the active-install counter by delta (+1 on
// activation, -1 on deactivation). The counter is observational and never
// drops below zero.
func (r *ModuleRepository) AdjustActiveInstallCount(ctx context.Context, versionID string, delta int) error {
	query := `
		UPDATE module_versions
		SET active_install_count = GREATEST(active_install_count + $2, 0)
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, versionID, delta); err != nil {
		return fmt.Errorf("failed to adjust active install count: %w", err)
	}
	return nil
}
