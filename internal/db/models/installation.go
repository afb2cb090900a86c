// installation.go defines the SiteModuleVersion model: the join between a
// tenant installation and the module version it currently runs, with its own
// status lifecycle driven by upgrades and rollbacks.
package models

import "time"

// InstallationStatus is the state of one installation↔version row. Exactly one
// row per installation is active at any time. Rollback transitions always pass
// through pending_rollback before reaching rolled_back or failed; terminal
// rows are retained for audit.
type InstallationStatus string

const (
	InstallationStatusActive          InstallationStatus = "active"
	InstallationStatusPendingRollback InstallationStatus = "pending_rollback"
	InstallationStatusRolledBack      InstallationStatus = "rolled_back"
	InstallationStatusFailed          InstallationStatus = "failed"
)

// Valid reports whether s is a known installation status.
func (s InstallationStatus) Valid() bool {
	switch s {
	case InstallationStatusActive, InstallationStatusPendingRollback,
		InstallationStatusRolledBack, InstallationStatusFailed:
		return true
	}
	return false
}

// SiteModuleVersion binds one tenant installation to one ModuleVersion.
// History is kept: every version an installation has ever run has a row here,
// and the non-active rows are the installation's rollback points.
type SiteModuleVersion struct {
	ID             string             `json:"id"`
	InstallationID string             `json:"installation_id"`
	VersionID      string             `json:"version_id"`
	Status         InstallationStatus `json:"status"`
	InstalledAt    time.Time          `json:"installed_at"`
	ActivatedAt    *time.Time         `json:"activated_at,omitempty"`
	DeactivatedAt  *time.Time         `json:"deactivated_at,omitempty"`
	InstalledBy    *string            `json:"installed_by,omitempty"`
	// Joined from module_versions for display (not stored on this table).
	Version *string `json:"version,omitempty"`
}
