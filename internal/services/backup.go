package services

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/sitehub/module-engine/internal/db/models"
	"github.com/sitehub/module-engine/internal/storage"
	"github.com/sitehub/module-engine/internal/telemetry"
)

// BackupStore is the record-keeping surface of the backup service, implemented
// by repositories.BackupRepository.
type BackupStore interface {
	Create(ctx context.Context, backup *models.DataBackup) error
	GetByID(ctx context.Context, id string) (*models.DataBackup, error)
	LatestForVersion(ctx context.Context, installationID, version string) (*models.DataBackup, error)
	ListForInstallation(ctx context.Context, installationID string) ([]*models.DataBackup, error)
}

// TenantDataPort exports and imports one installation's module data. The
// production implementation serializes the tenant's rows as JSON; tests use
// an in-memory fake.
type TenantDataPort interface {
	Export(ctx context.Context, installationID string) ([]byte, error)
	Import(ctx context.Context, installationID string, r io.Reader) error
}

// BackupService captures tenant module data into blob storage and restores it
// on demand. Backups are keyed by installation and the module version they
// were taken against, which is how the rollback planner finds a restore
// candidate for a target version.
type BackupService struct {
	store BackupStore
	blobs storage.Storage
	data  TenantDataPort
}

// NewBackupService creates a new backup service
func NewBackupService(store BackupStore, blobs storage.Storage, data TenantDataPort) *BackupService {
	return &BackupService{store: store, blobs: blobs, data: data}
}

// CreateBackup exports the installation's module data, uploads it, and
// records the backup.
func (s *BackupService) CreateBackup(ctx context.Context, installationID, version string, reason models.BackupReason) (*models.DataBackup, error) {
	data, err := s.data.Export(ctx, installationID)
	if err != nil {
		return nil, fmt.Errorf("failed to export tenant data: %w", err)
	}

	key := fmt.Sprintf("backups/%s/%s.json", installationID, uuid.New().String())
	result, err := s.blobs.Upload(ctx, key, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to upload backup: %w", err)
	}

	backup := &models.DataBackup{
		InstallationID: installationID,
		Version:        version,
		Reason:         reason,
		StorageRef:     result.Path,
		SizeBytes:      result.Size,
	}
	if err := s.store.Create(ctx, backup); err != nil {
		return nil, err
	}

	telemetry.BackupsTotal.WithLabelValues(string(reason)).Inc()
	telemetry.BackupSizeBytes.Observe(float64(backup.SizeBytes))
	return backup, nil
}

// RestoreBackup downloads a backup and imports it into the installation's
// module data scope, replacing what is there.
func (s *BackupService) RestoreBackup(ctx context.Context, backupID string) error {
	backup, err := s.store.GetByID(ctx, backupID)
	if err != nil {
		return err
	}
	if backup == nil {
		return fmt.Errorf("backup %s not found", backupID)
	}

	reader, err := s.blobs.Download(ctx, backup.StorageRef)
	if err != nil {
		return fmt.Errorf("failed to download backup: %w", err)
	}
	defer reader.Close()

	if err := s.data.Import(ctx, backup.InstallationID, reader); err != nil {
		return fmt.Errorf("failed to import tenant data: %w", err)
	}
	return nil
}

// LatestForVersion returns the most recent backup of an installation taken at
// the given version, or nil when none exists.
func (s *BackupService) LatestForVersion(ctx context.Context, installationID, version string) (*models.DataBackup, error) {
	return s.store.LatestForVersion(ctx, installationID, version)
}

// ListBackups returns all backups for an installation, newest first.
func (s *BackupService) ListBackups(ctx context.Context, installationID string) ([]*models.DataBackup, error) {
	return s.store.ListForInstallation(ctx, installationID)
}
