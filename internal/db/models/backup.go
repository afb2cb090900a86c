// backup.go defines the DataBackup model: a point-in-time export of a tenant
// installation's module data, referenced by migration runs and rollback plans
// for restore.
package models

import "time"

// BackupReason records why a backup was taken.
type BackupReason string

const (
	BackupReasonPreUpgrade  BackupReason = "pre_upgrade"
	BackupReasonPreRollback BackupReason = "pre_rollback"
	BackupReasonManual      BackupReason = "manual"
)

// Valid reports whether r is a known backup reason.
func (r BackupReason) Valid() bool {
	switch r {
	case BackupReasonPreUpgrade, BackupReasonPreRollback, BackupReasonManual:
		return true
	}
	return false
}

// DataBackup is a point-in-time export of a tenant's module data, tagged with
// the module version it was taken against. The export itself lives in blob
// storage under StorageRef; the row is the index.
type DataBackup struct {
	ID             string       `json:"id" db:"id"`
	InstallationID string       `json:"installation_id" db:"installation_id"`
	Version        string       `json:"version" db:"version"`
	Reason         BackupReason `json:"reason" db:"reason"`
	StorageRef     string       `json:"storage_ref" db:"storage_ref"`
	SizeBytes      int64        `json:"size_bytes" db:"size_bytes"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
}
