// deps.go declares the narrow interfaces the services consume. The concrete
// implementations live in internal/db/repositories (Postgres), internal/storage
// (payload and backup blobs), and internal/platform (SQL execution and tenant
// data export); tests substitute in-memory fakes.
package services

import (
	"context"

	"github.com/sitehub/module-engine/internal/db/models"
)

// ModuleStore is the version-catalog surface of the lifecycle manager,
// resolver, and upgrade calculator.
type ModuleStore interface {
	GetModuleByID(ctx context.Context, id string) (*models.Module, error)
	UpdateLatestVersion(ctx context.Context, moduleID, version string) error
	UpdatePublishedVersion(ctx context.Context, moduleID, version string) error

	CreateVersion(ctx context.Context, version *models.ModuleVersion) error
	GetVersionByID(ctx context.Context, id string) (*models.ModuleVersion, error)
	GetVersion(ctx context.Context, moduleID, version string) (*models.ModuleVersion, error)
	ListVersions(ctx context.Context, moduleID string) ([]*models.ModuleVersion, error)
	ListVersionsByStatus(ctx context.Context, moduleID string, status models.VersionStatus) ([]*models.ModuleVersion, error)
	PublishVersion(ctx context.Context, versionID string, actor *string) (bool, error)
	SetVersionStatus(ctx context.Context, versionID string, status models.VersionStatus, reason *string) (bool, error)
	AdjustActiveInstallCount(ctx context.Context, versionID string, delta int) error
}

// MigrationStore is the migration-catalog and run-ledger surface of the
// execution engine and rollback planner.
type MigrationStore interface {
	GetBridge(ctx context.Context, moduleID, fromVersion, toVersion string) (*models.Migration, error)
	ListByModule(ctx context.Context, moduleID string) ([]*models.Migration, error)
	ListBySequenceRange(ctx context.Context, moduleID string, afterSequence, throughSequence int, descending bool) ([]*models.Migration, error)
	StartRun(ctx context.Context, run *models.MigrationRun) error
	CompleteRun(ctx context.Context, runID string, status models.RunStatus, errorMessage *string) error
}

// InstallationStore is the installation-row surface shared by the execution
// engine and the rollback executor.
type InstallationStore interface {
	GetActive(ctx context.Context, installationID string) (*models.SiteModuleVersion, error)
	CreateActive(ctx context.Context, installationID, versionID string, installedBy *string) (*models.SiteModuleVersion, error)
	AdvanceVersion(ctx context.Context, rowID, expectedVersionID, newVersionID string) (bool, error)
	TransitionStatus(ctx context.Context, rowID string, from, to models.InstallationStatus) (bool, error)
	ReactivateVersion(ctx context.Context, installationID, versionID string) (bool, error)
}

// PayloadExecutor applies one migration payload to a tenant's data scope.
// Payloads are referenced by storage key, never inlined.
type PayloadExecutor interface {
	Execute(ctx context.Context, payloadRef, tenantScope string) error
}

// PayloadReader fetches payload text for inspection without executing it. The
// rollback planner uses it to scan down payloads for destructive statements.
type PayloadReader interface {
	ReadPayload(ctx context.Context, payloadRef string) (string, error)
}

// BackupManager captures and restores tenant module data around migrations.
type BackupManager interface {
	CreateBackup(ctx context.Context, installationID, version string, reason models.BackupReason) (*models.DataBackup, error)
	RestoreBackup(ctx context.Context, backupID string) error
	LatestForVersion(ctx context.Context, installationID, version string) (*models.DataBackup, error)
}
