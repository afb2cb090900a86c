package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sitehub/module-engine/internal/db/models"
	"github.com/sitehub/module-engine/internal/db/repositories"
	"github.com/sitehub/module-engine/internal/telemetry"
)

// MigrationEngine executes upgrade paths against an installation. Each step
// runs the bridging migration's up payload inside a recorded MigrationRun and
// advances the installation's version pointer only after the payload
// succeeds, so a mid-path failure leaves the installation at the last
// successfully migrated version.
type MigrationEngine struct {
	modules       ModuleStore
	migrations    MigrationStore
	installations InstallationStore
	backups       BackupManager
	executor      PayloadExecutor
	calculator    *UpgradeCalculator
}

// NewMigrationEngine creates a new migration execution engine
func NewMigrationEngine(
	modules ModuleStore,
	migrations MigrationStore,
	installations InstallationStore,
	backups BackupManager,
	executor PayloadExecutor,
	calculator *UpgradeCalculator,
) *MigrationEngine {
	return &MigrationEngine{
		modules:       modules,
		migrations:    migrations,
		installations: installations,
		backups:       backups,
		executor:      executor,
		calculator:    calculator,
	}
}

// UpgradeOptions controls one upgrade run.
type UpgradeOptions struct {
	// TargetVersion is the published version to upgrade to.
	TargetVersion string
	// CreateBackup captures the tenant's module data before the first step.
	// A failed backup aborts the upgrade before any migration runs.
	CreateBackup bool
	// TenantScope is the tenant data scope payloads execute against.
	TenantScope string
	ExecutedBy  *string
}

// UpgradeResult reports what an upgrade run did.
type UpgradeResult struct {
	InstallationID string  `json:"installation_id"`
	FromVersion    string  `json:"from_version"`
	ToVersion      string  `json:"to_version"`
	StepsApplied   int     `json:"steps_applied"`
	BackupID       *string `json:"backup_id,omitempty"`
}

// RunUpgrade upgrades an installation to opts.TargetVersion, walking every
// published version in between. Steps without a recorded migration advance
// the version pointer directly. Upgrading to the current version is a no-op.
//
// On a payload failure the step's run is marked failed with the error message
// and the upgrade aborts; already-applied steps are not unwound (rollback is
// a separate, deliberate operation).
func (e *MigrationEngine) RunUpgrade(ctx context.Context, installationID string, opts UpgradeOptions) (*UpgradeResult, error) {
	active, err := e.installations.GetActive(ctx, installationID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up active version: %w", err)
	}
	if active == nil || active.Version == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveVersion, installationID)
	}
	currentVersion := *active.Version

	current, err := e.modules.GetVersionByID(ctx, active.VersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up current version: %w", err)
	}
	if current == nil {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, active.VersionID)
	}

	target, err := e.modules.GetVersion(ctx, current.ModuleID, opts.TargetVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to look up target version: %w", err)
	}
	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, opts.TargetVersion)
	}
	if target.Status != models.VersionStatusPublished {
		return nil, fmt.Errorf("%w: target %s is %s", ErrInvalidTarget, target.Version, target.Status)
	}

	path, err := e.calculator.GetUpgradePath(ctx, current.ModuleID, currentVersion, opts.TargetVersion)
	if err != nil {
		return nil, err
	}

	result := &UpgradeResult{
		InstallationID: installationID,
		FromVersion:    currentVersion,
		ToVersion:      currentVersion,
	}
	if len(path.Steps) == 0 {
		return result, nil
	}

	if opts.CreateBackup {
		backup, err := e.backups.CreateBackup(ctx, installationID, currentVersion, models.BackupReasonPreUpgrade)
		if err != nil {
			return nil, fmt.Errorf("pre-upgrade backup failed: %w", err)
		}
		result.BackupID = &backup.ID
	}

	fromVersion, fromVersionID := currentVersion, active.VersionID
	for _, step := range path.Steps {
		if err := e.applyStep(ctx, active, fromVersion, fromVersionID, step, result.BackupID, opts); err != nil {
			result.ToVersion = fromVersion
			return result, err
		}

		// Counters are observational; a failed adjustment never fails the run.
		if err := e.modules.AdjustActiveInstallCount(ctx, fromVersionID, -1); err != nil {
			slog.Warn("failed to decrement active install count", "version_id", fromVersionID, "error", err)
		}
		if err := e.modules.AdjustActiveInstallCount(ctx, step.ID, 1); err != nil {
			slog.Warn("failed to increment active install count", "version_id", step.ID, "error", err)
		}

		fromVersion, fromVersionID = step.Version, step.ID
		result.StepsApplied++
		result.ToVersion = step.Version
	}

	slog.Info("upgrade complete",
		"installation_id", installationID,
		"from_version", currentVersion,
		"to_version", result.ToVersion,
		"steps", result.StepsApplied)
	return result, nil
}

// applyStep runs the bridging migration for one version step (if one exists)
// and advances the installation's version pointer.
func (e *MigrationEngine) applyStep(
	ctx context.Context,
	active *models.SiteModuleVersion,
	fromVersion, fromVersionID string,
	step *models.ModuleVersion,
	backupID *string,
	opts UpgradeOptions,
) error {
	bridge, err := e.migrations.GetBridge(ctx, step.ModuleID, fromVersion, step.Version)
	if err != nil {
		return fmt.Errorf("failed to look up migration %s -> %s: %w", fromVersion, step.Version, err)
	}

	if bridge != nil {
		run := &models.MigrationRun{
			InstallationID: active.InstallationID,
			MigrationID:    bridge.ID,
			Direction:      models.RunDirectionUp,
			BackupID:       backupID,
			ExecutedBy:     opts.ExecutedBy,
		}
		if err := e.migrations.StartRun(ctx, run); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				return fmt.Errorf("%w: %s -> %s", ErrMigrationInProgress, fromVersion, step.Version)
			}
			return err
		}

		start := time.Now()
		execErr := e.executor.Execute(ctx, bridge.UpPayloadRef, opts.TenantScope)
		telemetry.MigrationRunDuration.WithLabelValues(string(models.RunDirectionUp)).Observe(time.Since(start).Seconds())
		if execErr != nil {
			msg := execErr.Error()
			if err := e.migrations.CompleteRun(ctx, run.ID, models.RunStatusFailed, &msg); err != nil {
				slog.Error("failed to record migration run failure", "run_id", run.ID, "error", err)
			}
			telemetry.RecordMigrationRun(string(models.RunDirectionUp), string(models.RunStatusFailed))
			return &MigrationFailedError{
				FromVersion: fromVersion,
				ToVersion:   step.Version,
				Direction:   string(models.RunDirectionUp),
				Err:         execErr,
			}
		}

		if err := e.migrations.CompleteRun(ctx, run.ID, models.RunStatusSuccess, nil); err != nil {
			return fmt.Errorf("migration applied but run not completed: %w", err)
		}
		telemetry.RecordMigrationRun(string(models.RunDirectionUp), string(models.RunStatusSuccess))
	}

	advanced, err := e.installations.AdvanceVersion(ctx, active.ID, fromVersionID, step.ID)
	if err != nil {
		return err
	}
	if !advanced {
		return fmt.Errorf("%w: installation %s changed concurrently", ErrMigrationInProgress, active.InstallationID)
	}
	return nil
}
