// Package models - module.go defines the Module working copy and ModuleVersion
// snapshot models for installable site modules and their published version
// metadata.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JSONMap is a JSONB column holding an arbitrary object (settings schemas,
// route tables, styling). It round-trips through database/sql as raw JSON.
type JSONMap map[string]interface{}

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src interface{}) error {
	if src == nil {
		*m = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONMap", src)
	}
	return json.Unmarshal(b, m)
}

// Dependencies maps a depended-on module ID to a version constraint string
// (e.g. "^1.2.0"). Stored as JSONB on the version row.
type Dependencies map[string]string

// Value implements driver.Valuer.
func (d Dependencies) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	return json.Marshal(d)
}

// Scan implements sql.Scanner.
func (d *Dependencies) Scan(src interface{}) error {
	if src == nil {
		*d = nil
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into Dependencies", src)
	}
	return json.Unmarshal(b, d)
}

// Module represents the working copy of an installable site module. The
// working copy is what the author edits; publishing snapshots it into an
// immutable ModuleVersion.
type Module struct {
	ID             string  `json:"id"`
	OrganizationID string  `json:"organization_id"`
	Name           string  `json:"name"`
	Slug           string  `json:"slug"`
	Description    *string `json:"description,omitempty"`
	// Working-copy payload, snapshotted into each new version.
	RenderSourceRef string  `json:"render_source_ref"`
	SettingsSchema  JSONMap `json:"settings_schema,omitempty"`
	APIRoutes       JSONMap `json:"api_routes,omitempty"`
	Styling         JSONMap `json:"styling,omitempty"`
	DefaultSettings JSONMap `json:"default_settings,omitempty"`
	// Version pointers maintained by the lifecycle manager.
	LatestVersion    *string   `json:"latest_version,omitempty"`
	PublishedVersion *string   `json:"published_version,omitempty"`
	CreatedBy        *string   `json:"created_by,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// VersionStatus is the lifecycle state of a ModuleVersion. Draft versions may
// be published; published versions may be deprecated or yanked; deprecated and
// yanked are terminal for normal traffic.
type VersionStatus string

const (
	VersionStatusDraft      VersionStatus = "draft"
	VersionStatusPublished  VersionStatus = "published"
	VersionStatusDeprecated VersionStatus = "deprecated"
	VersionStatusYanked     VersionStatus = "yanked"
)

// Valid reports whether s is a known version status.
func (s VersionStatus) Valid() bool {
	switch s {
	case VersionStatusDraft, VersionStatusPublished, VersionStatusDeprecated, VersionStatusYanked:
		return true
	}
	return false
}

// ModuleVersion represents one immutable snapshot of a module's code and
// schema. Only Status and the observational counters mutate after creation;
// the version string and payload columns never change.
type ModuleVersion struct {
	ID       string `json:"id"`
	ModuleID string `json:"module_id"`
	Version  string `json:"version"`
	// Decomposed version components, written once at creation so ordering
	// queries never re-parse the version string.
	VersionMajor int    `json:"version_major"`
	VersionMinor int    `json:"version_minor"`
	VersionPatch int    `json:"version_patch"`
	Prerelease   string `json:"prerelease,omitempty"`
	// Payload snapshot copied from the module working copy at creation time.
	RenderSourceRef string  `json:"render_source_ref"`
	SettingsSchema  JSONMap `json:"settings_schema,omitempty"`
	APIRoutes       JSONMap `json:"api_routes,omitempty"`
	Styling         JSONMap `json:"styling,omitempty"`
	DefaultSettings JSONMap `json:"default_settings,omitempty"`
	// Release metadata.
	Changelog                 *string      `json:"changelog,omitempty"`
	ReleaseNotes              *string      `json:"release_notes,omitempty"`
	MinPlatformVersion        *string      `json:"min_platform_version,omitempty"`
	IsBreakingChange          bool         `json:"is_breaking_change"`
	BreakingChangeDescription *string      `json:"breaking_change_description,omitempty"`
	Dependencies              Dependencies `json:"dependencies,omitempty"`

	Status       VersionStatus `json:"status"`
	StatusReason *string       `json:"status_reason,omitempty"` // set by deprecate/yank
	PublishedAt  *time.Time    `json:"published_at,omitempty"`
	PublishedBy  *string       `json:"published_by,omitempty"`

	// Observational counters updated by external reporting.
	DownloadCount      int64 `json:"download_count"`
	ActiveInstallCount int64 `json:"active_install_count"`

	CreatedAt time.Time `json:"created_at"`
}
