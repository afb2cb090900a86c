package services

import (
	"context"
	"fmt"

	"github.com/sitehub/module-engine/internal/db/models"
	"github.com/sitehub/module-engine/pkg/semver"
)

// defaultStepDurationSeconds is assumed for an upgrade step with no recorded
// migration (a release without schema changes still takes time to activate).
const defaultStepDurationSeconds = 30

// UpgradePath describes the ordered chain of published versions an
// installation passes through to reach a target, with the warnings an
// operator needs before committing: breaking steps, maintenance windows, and
// a duration estimate.
type UpgradePath struct {
	FromVersion string                  `json:"from_version"`
	ToVersion   string                  `json:"to_version"`
	Steps       []*models.ModuleVersion `json:"steps"`

	HasBreakingChanges       bool     `json:"has_breaking_changes"`
	BreakingVersions         []string `json:"breaking_versions,omitempty"`
	RequiresMaintenance      bool     `json:"requires_maintenance"`
	EstimatedDurationSeconds int      `json:"estimated_duration_seconds"`
}

// UpgradeCalculator computes upgrade paths from the published version catalog
// and the module's migration chain.
type UpgradeCalculator struct {
	modules    ModuleStore
	migrations MigrationStore
}

// NewUpgradeCalculator creates a new upgrade calculator
func NewUpgradeCalculator(modules ModuleStore, migrations MigrationStore) *UpgradeCalculator {
	return &UpgradeCalculator{modules: modules, migrations: migrations}
}

// GetUpgradePath returns every published version strictly after currentVersion
// up to and including targetVersion, in ascending order. Upgrading from a
// version to itself yields an empty path. Deprecated and yanked versions are
// passed over: they neither appear as steps nor terminate the path.
func (c *UpgradeCalculator) GetUpgradePath(ctx context.Context, moduleID, currentVersion, targetVersion string) (*UpgradePath, error) {
	current, err := semver.Parse(currentVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: current version %q", ErrInvalidVersion, currentVersion)
	}
	target, err := semver.Parse(targetVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: target version %q", ErrInvalidVersion, targetVersion)
	}
	if semver.Compare(target, current) < 0 {
		return nil, fmt.Errorf("%w: target %s is older than current %s", ErrInvalidTarget, targetVersion, currentVersion)
	}

	published, err := c.modules.ListVersionsByStatus(ctx, moduleID, models.VersionStatusPublished)
	if err != nil {
		return nil, fmt.Errorf("failed to list published versions: %w", err)
	}

	path := &UpgradePath{FromVersion: currentVersion, ToVersion: targetVersion}
	for _, v := range published {
		parsed, err := semver.Parse(v.Version)
		if err != nil {
			return nil, fmt.Errorf("stored version %q is invalid: %w", v.Version, err)
		}
		if semver.Compare(parsed, current) <= 0 || semver.Compare(parsed, target) > 0 {
			continue
		}
		path.Steps = append(path.Steps, v)
		if v.IsBreakingChange {
			path.HasBreakingChanges = true
			path.BreakingVersions = append(path.BreakingVersions, v.Version)
		}
	}

	// Duration and maintenance flags come from the bridging migrations, when
	// they exist. Steps without a migration get the default estimate.
	prev := currentVersion
	for _, step := range path.Steps {
		bridge, err := c.migrations.GetBridge(ctx, moduleID, prev, step.Version)
		if err != nil {
			return nil, fmt.Errorf("failed to look up migration %s -> %s: %w", prev, step.Version, err)
		}
		if bridge != nil {
			path.EstimatedDurationSeconds += bridge.EstimatedDurationSeconds
			if bridge.RequiresMaintenance {
				path.RequiresMaintenance = true
			}
		} else {
			path.EstimatedDurationSeconds += defaultStepDurationSeconds
		}
		prev = step.Version
	}

	return path, nil
}
