// migration.go defines the Migration and MigrationRun models: the schema
// transformation declared between two adjacent published versions, and one
// execution attempt of that transformation against a tenant installation.
package models

import "time"

// Migration is one forward+backward schema transformation between two adjacent
// published versions of a module. The sequence number increases monotonically
// per module and is the authoritative window for which migrations apply
// between two versions — it is never re-derived from the version strings.
type Migration struct {
	ID          string `json:"id"`
	ModuleID    string `json:"module_id"`
	FromVersion string `json:"from_version"`
	ToVersion   string `json:"to_version"`
	Sequence    int    `json:"sequence"`
	// Storage references to the SQL payloads. DownPayloadRef may be nil,
	// which makes the migration a hard rollback blocker.
	UpPayloadRef        string  `json:"up_payload_ref"`
	DownPayloadRef      *string `json:"down_payload_ref,omitempty"`
	IsReversible        bool    `json:"is_reversible"`
	RequiresMaintenance bool    `json:"requires_maintenance"`
	// EstimatedDurationSeconds feeds upgrade/rollback duration estimates.
	EstimatedDurationSeconds int       `json:"estimated_duration_seconds"`
	CreatedAt                time.Time `json:"created_at"`
}

// RunDirection is the direction a migration was executed in.
type RunDirection string

const (
	RunDirectionUp   RunDirection = "up"
	RunDirectionDown RunDirection = "down"
)

// Valid reports whether d is a known run direction.
func (d RunDirection) Valid() bool {
	return d == RunDirectionUp || d == RunDirectionDown
}

// RunStatus is the state of a MigrationRun. A run starts as running and ends
// as success or failed; there is no cancellation state — a stuck running row
// is a manual-intervention case.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// Valid reports whether s is a known run status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusRunning, RunStatusSuccess, RunStatusFailed:
		return true
	}
	return false
}

// MigrationRun records one execution attempt of a Migration against one
// tenant installation, in one direction. At most one running row may exist
// per (installation, migration, direction) — the insert is the serialization
// point for concurrent upgrade attempts.
type MigrationRun struct {
	ID             string       `json:"id"`
	InstallationID string       `json:"installation_id"`
	MigrationID    string       `json:"migration_id"`
	Direction      RunDirection `json:"direction"`
	Status         RunStatus    `json:"status"`
	BackupID       *string      `json:"backup_id,omitempty"`
	ExecutedBy     *string      `json:"executed_by,omitempty"`
	StartedAt      time.Time    `json:"started_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	ErrorMessage   *string      `json:"error_message,omitempty"`
}
