package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sitehub/module-engine/internal/db/models"
	"github.com/sitehub/module-engine/internal/telemetry"
	"github.com/sitehub/module-engine/pkg/semver"
)

// RollbackPlan is the dry-run answer to "what happens if this installation
// goes back to that version": the down migrations in execution order, the
// blockers that would stop it, data-loss warnings scraped from the down
// payloads, and the backup that would be restored.
type RollbackPlan struct {
	InstallationID string `json:"installation_id"`
	ModuleID       string `json:"module_id"`
	FromVersionID  string `json:"from_version_id"`
	FromVersion    string `json:"from_version"`
	ToVersionID    string `json:"to_version_id"`
	ToVersion      string `json:"to_version"`

	// Migrations to reverse, newest first (rollback execution order).
	Migrations []*models.Migration `json:"migrations"`

	CanRollback              bool     `json:"can_rollback"`
	Blockers                 []string `json:"blockers,omitempty"`
	DataLossWarnings         []string `json:"data_loss_warnings,omitempty"`
	RequiresMaintenance      bool     `json:"requires_maintenance"`
	EstimatedDurationSeconds int      `json:"estimated_duration_seconds"`

	// BackupID is the most recent backup taken at the target version, if any.
	BackupID *string `json:"backup_id,omitempty"`
}

// RollbackOptions controls one rollback execution.
type RollbackOptions struct {
	// Force executes despite blockers. Steps whose down payload is missing
	// are skipped under force, since there is nothing to execute.
	Force bool
	// CreateBackup captures the tenant's data before the first down
	// migration. The backup is a best-effort safety net: a failure is
	// logged and the rollback proceeds without it.
	CreateBackup bool
	// RestoreData restores the target-version backup (when one exists) after
	// the down migrations complete.
	RestoreData bool
	// TenantScope is the tenant data scope payloads execute against.
	TenantScope string
	ExecutedBy  *string
}

// RollbackResult reports what a rollback execution did.
type RollbackResult struct {
	InstallationID       string  `json:"installation_id"`
	FromVersion          string  `json:"from_version"`
	ToVersion            string  `json:"to_version"`
	MigrationsRolledBack int     `json:"migrations_rolled_back"`
	DataRestored         bool    `json:"data_restored"`
	BackupID             *string `json:"backup_id,omitempty"`
}

// RollbackPoint is one candidate version an installation can return to.
type RollbackPoint struct {
	VersionID   string   `json:"version_id"`
	Version     string   `json:"version"`
	CanRollback bool     `json:"can_rollback"`
	Blockers    []string `json:"blockers,omitempty"`
	HasBackup   bool     `json:"has_backup"`
}

// RollbackService plans and executes rollbacks. Planning is read-only and
// always permitted; execution moves the installation row through
// pending_rollback so a concurrent upgrade or second rollback observes a
// non-active row and fails fast.
type RollbackService struct {
	modules       ModuleStore
	migrations    MigrationStore
	installations InstallationStore
	backups       BackupManager
	executor      PayloadExecutor
	payloads      PayloadReader
}

// NewRollbackService creates a new rollback service
func NewRollbackService(
	modules ModuleStore,
	migrations MigrationStore,
	installations InstallationStore,
	backups BackupManager,
	executor PayloadExecutor,
	payloads PayloadReader,
) *RollbackService {
	return &RollbackService{
		modules:       modules,
		migrations:    migrations,
		installations: installations,
		backups:       backups,
		executor:      executor,
		payloads:      payloads,
	}
}

// CreatePlan computes a rollback plan from the installation's active version
// to targetVersionID without mutating anything. The target must belong to the
// same module, sort strictly before the current version, and not be yanked.
func (s *RollbackService) CreatePlan(ctx context.Context, installationID, targetVersionID string) (*RollbackPlan, error) {
	active, err := s.installations.GetActive(ctx, installationID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up active version: %w", err)
	}
	if active == nil || active.Version == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveVersion, installationID)
	}

	current, err := s.modules.GetVersionByID(ctx, active.VersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up current version: %w", err)
	}
	if current == nil {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, active.VersionID)
	}

	target, err := s.modules.GetVersionByID(ctx, targetVersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up target version: %w", err)
	}
	if target == nil {
		return nil, fmt.Errorf("%w: unknown version %s", ErrInvalidTarget, targetVersionID)
	}
	if target.ModuleID != current.ModuleID {
		return nil, fmt.Errorf("%w: version %s belongs to another module", ErrInvalidTarget, target.Version)
	}
	if target.Status == models.VersionStatusYanked {
		return nil, fmt.Errorf("%w: version %s is yanked", ErrInvalidTarget, target.Version)
	}
	cmp, err := semver.CompareStrings(target.Version, current.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVersion, err)
	}
	if cmp >= 0 {
		return nil, fmt.Errorf("%w: %s is not older than %s", ErrInvalidTarget, target.Version, current.Version)
	}

	plan := &RollbackPlan{
		InstallationID: installationID,
		ModuleID:       current.ModuleID,
		FromVersionID:  current.ID,
		FromVersion:    current.Version,
		ToVersionID:    target.ID,
		ToVersion:      target.Version,
	}

	// The migrations to reverse are those with sequence in
	// (target boundary, current boundary], newest first. A version released
	// without its own migration takes the boundary of the nearest migrated
	// version at or below it, so the window never skips or double-counts a
	// step around such versions.
	throughSeq, err := s.sequenceBoundary(ctx, current.ModuleID, current.Version)
	if err != nil {
		return nil, err
	}
	afterSeq, err := s.sequenceBoundary(ctx, current.ModuleID, target.Version)
	if err != nil {
		return nil, err
	}
	if throughSeq > afterSeq {
		plan.Migrations, err = s.migrations.ListBySequenceRange(ctx, current.ModuleID, afterSeq, throughSeq, true)
		if err != nil {
			return nil, fmt.Errorf("failed to list migrations to reverse: %w", err)
		}
	}

	for _, m := range plan.Migrations {
		if !m.IsReversible {
			plan.Blockers = append(plan.Blockers,
				fmt.Sprintf("migration %s -> %s is marked irreversible", m.FromVersion, m.ToVersion))
		} else if m.DownPayloadRef == nil {
			plan.Blockers = append(plan.Blockers,
				fmt.Sprintf("migration %s -> %s has no down payload", m.FromVersion, m.ToVersion))
		}
		if m.RequiresMaintenance {
			plan.RequiresMaintenance = true
		}
		plan.EstimatedDurationSeconds += m.EstimatedDurationSeconds

		plan.DataLossWarnings = append(plan.DataLossWarnings, s.scanDownPayload(ctx, m)...)
	}

	backup, err := s.backups.LatestForVersion(ctx, installationID, target.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to look up backup for target version: %w", err)
	}
	if backup != nil {
		plan.BackupID = &backup.ID
	}

	plan.CanRollback = len(plan.Blockers) == 0
	return plan, nil
}

// Execute rolls an installation back to targetVersionID. The plan is
// recomputed first; blockers abort unless opts.Force is set. The installation
// row moves active -> pending_rollback before any down migration runs, then
// to rolled_back on success or failed on error, and the target version is
// reactivated (or freshly inserted) as the new active row.
func (s *RollbackService) Execute(ctx context.Context, installationID, targetVersionID string, opts RollbackOptions) (*RollbackResult, error) {
	plan, err := s.CreatePlan(ctx, installationID, targetVersionID)
	if err != nil {
		return nil, err
	}
	if !plan.CanRollback && !opts.Force {
		return nil, &RollbackBlockedError{Blockers: plan.Blockers}
	}

	active, err := s.installations.GetActive(ctx, installationID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up active version: %w", err)
	}
	if active == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveVersion, installationID)
	}

	result := &RollbackResult{
		InstallationID: installationID,
		FromVersion:    plan.FromVersion,
		ToVersion:      plan.ToVersion,
		BackupID:       plan.BackupID,
	}

	var backupID *string
	if opts.CreateBackup {
		backup, err := s.backups.CreateBackup(ctx, installationID, plan.FromVersion, models.BackupReasonPreRollback)
		if err != nil {
			slog.Warn("pre-rollback backup failed, continuing without it",
				"installation_id", installationID, "error", err)
		} else {
			backupID = &backup.ID
		}
	}

	// Claim the installation. A concurrent caller that already moved the row
	// out of active makes this CAS fail, and we stop with no side effects.
	claimed, err := s.installations.TransitionStatus(ctx, active.ID,
		models.InstallationStatusActive, models.InstallationStatusPendingRollback)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveVersion, installationID)
	}

	for _, m := range plan.Migrations {
		if err := s.reverseMigration(ctx, active, m, backupID, opts); err != nil {
			s.markFailed(ctx, active.ID)
			telemetry.RecordRollback("failed")
			return result, err
		}
		if m.DownPayloadRef != nil {
			result.MigrationsRolledBack++
		}
	}

	if opts.RestoreData && plan.BackupID != nil {
		if err := s.backups.RestoreBackup(ctx, *plan.BackupID); err != nil {
			// Schema is already rolled back; surface the restore failure but
			// do not fail the installation over it.
			slog.Warn("backup restore failed after rollback",
				"installation_id", installationID, "backup_id", *plan.BackupID, "error", err)
		} else {
			result.DataRestored = true
		}
	}

	if _, err := s.installations.TransitionStatus(ctx, active.ID,
		models.InstallationStatusPendingRollback, models.InstallationStatusRolledBack); err != nil {
		return result, err
	}

	reactivated, err := s.installations.ReactivateVersion(ctx, installationID, plan.ToVersionID)
	if err != nil {
		return result, err
	}
	if !reactivated {
		if _, err := s.installations.CreateActive(ctx, installationID, plan.ToVersionID, opts.ExecutedBy); err != nil {
			return result, fmt.Errorf("failed to activate rollback target: %w", err)
		}
	}

	if err := s.modules.AdjustActiveInstallCount(ctx, plan.FromVersionID, -1); err != nil {
		slog.Warn("failed to decrement active install count", "version_id", plan.FromVersionID, "error", err)
	}
	if err := s.modules.AdjustActiveInstallCount(ctx, plan.ToVersionID, 1); err != nil {
		slog.Warn("failed to increment active install count", "version_id", plan.ToVersionID, "error", err)
	}

	telemetry.RecordRollback("success")
	slog.Info("rollback complete",
		"installation_id", installationID,
		"from_version", result.FromVersion,
		"to_version", result.ToVersion,
		"migrations_rolled_back", result.MigrationsRolledBack,
		"data_restored", result.DataRestored)
	return result, nil
}

// RollbackToPrevious rolls back to the newest prior version that can be
// rolled back to cleanly. Blocked candidates are passed over; when every
// candidate is blocked (or none exists) ErrNoValidRollbackPoint is returned.
func (s *RollbackService) RollbackToPrevious(ctx context.Context, installationID string, opts RollbackOptions) (*RollbackResult, error) {
	points, err := s.GetRollbackPoints(ctx, installationID)
	if err != nil {
		return nil, err
	}
	for _, p := range points {
		if p.CanRollback {
			return s.Execute(ctx, installationID, p.VersionID, opts)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoValidRollbackPoint, installationID)
}

// GetRollbackPoints lists the versions an installation can return to, newest
// first, each annotated with feasibility.
func (s *RollbackService) GetRollbackPoints(ctx context.Context, installationID string) ([]*RollbackPoint, error) {
	active, err := s.installations.GetActive(ctx, installationID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up active version: %w", err)
	}
	if active == nil || active.Version == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveVersion, installationID)
	}

	current, err := s.modules.GetVersionByID(ctx, active.VersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up current version: %w", err)
	}
	if current == nil {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, active.VersionID)
	}

	versions, err := s.modules.ListVersions(ctx, current.ModuleID)
	if err != nil {
		return nil, err
	}

	var points []*RollbackPoint
	// Walk newest first so the most recent candidate comes first.
	for i := len(versions) - 1; i >= 0; i-- {
		v := versions[i]
		cmp, err := semver.CompareStrings(v.Version, current.Version)
		if err != nil {
			return nil, fmt.Errorf("stored version %q is invalid: %w", v.Version, err)
		}
		if cmp >= 0 {
			continue
		}
		// Drafts never ran anywhere; yanked versions are not valid targets.
		if v.Status != models.VersionStatusPublished && v.Status != models.VersionStatusDeprecated {
			continue
		}

		plan, err := s.CreatePlan(ctx, installationID, v.ID)
		if err != nil {
			return nil, err
		}
		points = append(points, &RollbackPoint{
			VersionID:   v.ID,
			Version:     v.Version,
			CanRollback: plan.CanRollback,
			Blockers:    plan.Blockers,
			HasBackup:   plan.BackupID != nil,
		})
	}
	return points, nil
}

// sequenceBoundary maps a version to its migration-chain boundary: the
// highest sequence among the module's migrations whose target version sorts
// at or below it. A version released without a schema delta inherits the
// boundary of the nearest migrated version beneath it; 0 means no migration
// precedes the version at all.
func (s *RollbackService) sequenceBoundary(ctx context.Context, moduleID, version string) (int, error) {
	migrations, err := s.migrations.ListByModule(ctx, moduleID)
	if err != nil {
		return 0, fmt.Errorf("failed to list module migrations: %w", err)
	}

	boundary := 0
	for _, m := range migrations {
		cmp, err := semver.CompareStrings(m.ToVersion, version)
		if err != nil {
			return 0, fmt.Errorf("migration %s has invalid target version: %w", m.ID, err)
		}
		if cmp <= 0 && m.Sequence > boundary {
			boundary = m.Sequence
		}
	}
	return boundary, nil
}

// reverseMigration runs one migration's down payload inside a recorded run.
// A missing down payload is skipped (only reachable under force).
func (s *RollbackService) reverseMigration(ctx context.Context, active *models.SiteModuleVersion, m *models.Migration, backupID *string, opts RollbackOptions) error {
	if m.DownPayloadRef == nil {
		slog.Warn("skipping migration with no down payload",
			"migration_id", m.ID, "from_version", m.FromVersion, "to_version", m.ToVersion)
		return nil
	}

	run := &models.MigrationRun{
		InstallationID: active.InstallationID,
		MigrationID:    m.ID,
		Direction:      models.RunDirectionDown,
		BackupID:       backupID,
		ExecutedBy:     opts.ExecutedBy,
	}
	if err := s.migrations.StartRun(ctx, run); err != nil {
		return err
	}

	start := time.Now()
	execErr := s.executor.Execute(ctx, *m.DownPayloadRef, opts.TenantScope)
	telemetry.MigrationRunDuration.WithLabelValues(string(models.RunDirectionDown)).Observe(time.Since(start).Seconds())
	if execErr != nil {
		msg := execErr.Error()
		if err := s.migrations.CompleteRun(ctx, run.ID, models.RunStatusFailed, &msg); err != nil {
			slog.Error("failed to record migration run failure", "run_id", run.ID, "error", err)
		}
		telemetry.RecordMigrationRun(string(models.RunDirectionDown), string(models.RunStatusFailed))
		return &MigrationFailedError{
			FromVersion: m.ToVersion,
			ToVersion:   m.FromVersion,
			Direction:   string(models.RunDirectionDown),
			Err:         execErr,
		}
	}

	if err := s.migrations.CompleteRun(ctx, run.ID, models.RunStatusSuccess, nil); err != nil {
		return fmt.Errorf("migration reversed but run not completed: %w", err)
	}
	telemetry.RecordMigrationRun(string(models.RunDirectionDown), string(models.RunStatusSuccess))
	return nil
}

func (s *RollbackService) markFailed(ctx context.Context, rowID string) {
	if _, err := s.installations.TransitionStatus(ctx, rowID,
		models.InstallationStatusPendingRollback, models.InstallationStatusFailed); err != nil {
		slog.Error("failed to mark installation row failed", "row_id", rowID, "error", err)
	}
}

// scanDownPayload inspects a migration's down payload for statements that
// discard tenant data. The scan is textual and advisory: it catches the
// obvious DROP/TRUNCATE/unconditioned DELETE cases, not every destructive
// construct.
func (s *RollbackService) scanDownPayload(ctx context.Context, m *models.Migration) []string {
	if m.DownPayloadRef == nil {
		return nil
	}
	payload, err := s.payloads.ReadPayload(ctx, *m.DownPayloadRef)
	if err != nil {
		return []string{fmt.Sprintf("migration %s -> %s: could not inspect down payload: %v",
			m.FromVersion, m.ToVersion, err)}
	}
	warnings := ScanForDataLoss(payload)
	for i, w := range warnings {
		warnings[i] = fmt.Sprintf("migration %s -> %s: %s", m.FromVersion, m.ToVersion, w)
	}
	return warnings
}

// ScanForDataLoss reports the destructive statements found in a SQL payload:
// DROP TABLE, DROP COLUMN, TRUNCATE, and DELETE FROM without a WHERE clause.
func ScanForDataLoss(payload string) []string {
	var warnings []string
	for _, stmt := range strings.Split(payload, ";") {
		lower := strings.ToLower(stmt)
		switch {
		case strings.Contains(lower, "drop table"):
			warnings = append(warnings, "drops a table")
		case strings.Contains(lower, "drop column"):
			warnings = append(warnings, "drops a column")
		case strings.Contains(lower, "truncate"):
			warnings = append(warnings, "truncates a table")
		case strings.Contains(lower, "delete from") && !strings.Contains(lower, "where"):
			warnings = append(warnings, "deletes all rows from a table")
		}
	}
	return warnings
}
