// Package jobs contains background jobs that run alongside the HTTP server.
// backup_retention.go implements the BackupRetentionJob, which periodically
// deletes tenant data backups past their retention window.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/sitehub/module-engine/internal/db/repositories"
	"github.com/sitehub/module-engine/internal/safego"
	"github.com/sitehub/module-engine/internal/storage"
)

// BackupRetentionJob deletes expired tenant data backups. The blob is deleted
// before the database row: a row whose blob is gone fails loudly on restore,
// while an orphaned blob would never be found again.
type BackupRetentionJob struct {
	backups       *repositories.BackupRepository
	blobs         storage.Storage
	retentionDays int
	stopChan      chan struct{}
}

// NewBackupRetentionJob creates a new backup retention job. retentionDays <= 0
// disables deletion entirely; the job still starts but every sweep is a no-op.
func NewBackupRetentionJob(backups *repositories.BackupRepository, blobs storage.Storage, retentionDays int) *BackupRetentionJob {
	return &BackupRetentionJob{
		backups:       backups,
		blobs:         blobs,
		retentionDays: retentionDays,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the retention sweep loop in a background goroutine.
func (j *BackupRetentionJob) Start(ctx context.Context, intervalHours int) {
	if intervalHours <= 0 {
		intervalHours = 24
	}
	interval := time.Duration(intervalHours) * time.Hour

	safego.Go(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		slog.Info("backup retention job started",
			"interval", interval, "retention_days", j.retentionDays)

		// Run immediately on start
		j.sweep(ctx)

		for {
			select {
			case <-ticker.C:
				j.sweep(ctx)
			case <-j.stopChan:
				slog.Info("backup retention job stopped")
				return
			case <-ctx.Done():
				slog.Info("backup retention job context cancelled")
				return
			}
		}
	})
}

// Stop signals the sweep loop to exit.
func (j *BackupRetentionJob) Stop() {
	close(j.stopChan)
}

// sweep deletes every backup older than the retention window.
func (j *BackupRetentionJob) sweep(ctx context.Context) {
	if j.retentionDays <= 0 {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -j.retentionDays)
	expired, err := j.backups.ListOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("backup retention sweep failed to list expired backups", "error", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	deleted := 0
	for _, backup := range expired {
		if err := j.blobs.Delete(ctx, backup.StorageRef); err != nil {
			slog.Error("failed to delete expired backup blob",
				"backup_id", backup.ID, "storage_ref", backup.StorageRef, "error", err)
			continue
		}
		if err := j.backups.Delete(ctx, backup.ID); err != nil {
			slog.Error("failed to delete expired backup record",
				"backup_id", backup.ID, "error", err)
			continue
		}
		deleted++
	}

	slog.Info("backup retention sweep complete",
		"expired", len(expired), "deleted", deleted, "cutoff", cutoff.Format(time.RFC3339))
}
