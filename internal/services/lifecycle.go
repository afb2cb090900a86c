// Package services implements the business logic that coordinates across the
// repositories and external systems: version lifecycle management, dependency
// resolution, upgrade path calculation, migration execution, and rollback
// planning. Each service is a small struct over the store interfaces declared
// in deps.go so tests can substitute in-memory fakes.
package services

import (
	"context"
	"errors"
	"fmt"

	goversion "github.com/hashicorp/go-version"

	"github.com/sitehub/module-engine/internal/db/models"
	"github.com/sitehub/module-engine/internal/db/repositories"
	"github.com/sitehub/module-engine/pkg/semver"
)

// Lifecycle manages module version creation and status transitions. Creating a
// version snapshots the module working copy; publishing freezes it for
// installation after dependency and platform checks pass.
type Lifecycle struct {
	modules  ModuleStore
	resolver *Resolver
	// platformVersion is the running platform release, compared against each
	// version's min_platform_version at publish time. Nil disables the check.
	platformVersion *goversion.Version
}

// NewLifecycle creates a new lifecycle manager. platformVersion may be empty
// to skip platform compatibility checks (e.g. in development builds).
func NewLifecycle(modules ModuleStore, resolver *Resolver, platformVersion string) (*Lifecycle, error) {
	l := &Lifecycle{modules: modules, resolver: resolver}
	if platformVersion != "" {
		pv, err := goversion.NewVersion(platformVersion)
		if err != nil {
			return nil, fmt.Errorf("invalid platform version %q: %w", platformVersion, err)
		}
		l.platformVersion = pv
	}
	return l, nil
}

// CreateVersionInput carries the release metadata for a new draft version. The
// payload itself is snapshotted from the module working copy, never supplied
// by the caller.
type CreateVersionInput struct {
	Version                   string
	Changelog                 *string
	ReleaseNotes              *string
	MinPlatformVersion        *string
	IsBreakingChange          bool
	BreakingChangeDescription *string
	Dependencies              models.Dependencies
}

// CreateVersion creates a new draft version of a module. The version string
// must parse as strict semver and sort strictly after the module's current
// latest version. A major-version bump is marked breaking even when the caller
// did not flag it. On success the module's latest-version pointer advances.
func (l *Lifecycle) CreateVersion(ctx context.Context, moduleID string, in CreateVersionInput) (*models.ModuleVersion, error) {
	parsed, err := semver.Parse(in.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVersion, err)
	}

	if in.MinPlatformVersion != nil {
		if _, err := goversion.NewVersion(*in.MinPlatformVersion); err != nil {
			return nil, fmt.Errorf("%w: min platform version %q: %v", ErrInvalidVersion, *in.MinPlatformVersion, err)
		}
	}

	module, err := l.modules.GetModuleByID(ctx, moduleID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up module: %w", err)
	}
	if module == nil {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, moduleID)
	}

	existing, err := l.modules.GetVersion(ctx, moduleID, in.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to check for existing version: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateVersion, in.Version)
	}

	isBreaking := in.IsBreakingChange
	if module.LatestVersion != nil {
		latest, err := semver.Parse(*module.LatestVersion)
		if err != nil {
			return nil, fmt.Errorf("stored latest version %q is invalid: %w", *module.LatestVersion, err)
		}
		if semver.Compare(parsed, latest) <= 0 {
			return nil, fmt.Errorf("%w: %s does not sort after %s", ErrVersionNotIncreasing, in.Version, *module.LatestVersion)
		}
		// A major bump is breaking regardless of what the caller declared.
		if parsed.Major > latest.Major {
			isBreaking = true
		}
	}

	version := &models.ModuleVersion{
		ModuleID:     moduleID,
		Version:      in.Version,
		VersionMajor: parsed.Major,
		VersionMinor: parsed.Minor,
		VersionPatch: parsed.Patch,
		Prerelease:   parsed.Prerelease,

		RenderSourceRef: module.RenderSourceRef,
		SettingsSchema:  module.SettingsSchema,
		APIRoutes:       module.APIRoutes,
		Styling:         module.Styling,
		DefaultSettings: module.DefaultSettings,

		Changelog:                 in.Changelog,
		ReleaseNotes:              in.ReleaseNotes,
		MinPlatformVersion:        in.MinPlatformVersion,
		IsBreakingChange:          isBreaking,
		BreakingChangeDescription: in.BreakingChangeDescription,
		Dependencies:              in.Dependencies,

		Status: models.VersionStatusDraft,
	}

	if err := l.modules.CreateVersion(ctx, version); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateVersion, in.Version)
		}
		return nil, err
	}

	if err := l.modules.UpdateLatestVersion(ctx, moduleID, in.Version); err != nil {
		return nil, fmt.Errorf("version created but latest pointer not advanced: %w", err)
	}

	return version, nil
}

// PublishVersion transitions a draft version to published. Dependencies must
// resolve against currently-published versions and the version's minimum
// platform requirement must not exceed the running platform. The module's
// published-version pointer advances on success.
func (l *Lifecycle) PublishVersion(ctx context.Context, versionID string, actor *string) (*models.ModuleVersion, error) {
	version, err := l.modules.GetVersionByID(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up version: %w", err)
	}
	if version == nil {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, versionID)
	}
	if version.Status != models.VersionStatusDraft {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotDraft, version.Version, version.Status)
	}

	if err := l.checkPlatformCompatibility(version); err != nil {
		return nil, err
	}

	if err := l.resolver.ValidateDependencies(ctx, version.Dependencies); err != nil {
		return nil, err
	}

	published, err := l.modules.PublishVersion(ctx, versionID, actor)
	if err != nil {
		return nil, err
	}
	if !published {
		// Lost a race: someone else transitioned the row first.
		return nil, fmt.Errorf("%w: %s", ErrNotDraft, version.Version)
	}

	if err := l.modules.UpdatePublishedVersion(ctx, version.ModuleID, version.Version); err != nil {
		return nil, fmt.Errorf("version published but published pointer not advanced: %w", err)
	}

	return l.modules.GetVersionByID(ctx, versionID)
}

// DeprecateVersion marks a published version deprecated. Deprecated versions
// stay installed where they are but are excluded from dependency resolution
// and upgrade targets.
func (l *Lifecycle) DeprecateVersion(ctx context.Context, versionID string, reason *string) error {
	return l.setStatus(ctx, versionID, models.VersionStatusDeprecated, reason)
}

// YankVersion marks a published version yanked, e.g. for a security defect.
// Yanked versions are excluded from resolution and upgrades, and rollback
// refuses to target them.
func (l *Lifecycle) YankVersion(ctx context.Context, versionID string, reason *string) error {
	return l.setStatus(ctx, versionID, models.VersionStatusYanked, reason)
}

func (l *Lifecycle) setStatus(ctx context.Context, versionID string, status models.VersionStatus, reason *string) error {
	version, err := l.modules.GetVersionByID(ctx, versionID)
	if err != nil {
		return fmt.Errorf("failed to look up version: %w", err)
	}
	if version == nil {
		return fmt.Errorf("%w: %s", ErrVersionNotFound, versionID)
	}

	changed, err := l.modules.SetVersionStatus(ctx, versionID, status, reason)
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("%w: %s is %s", ErrNotPublished, version.Version, version.Status)
	}
	return nil
}

// LatestPublished returns the newest published version of a module, or nil
// when none exists. Prerelease versions are skipped unless includePrerelease
// is set.
func (l *Lifecycle) LatestPublished(ctx context.Context, moduleID string, includePrerelease bool) (*models.ModuleVersion, error) {
	versions, err := l.modules.ListVersionsByStatus(ctx, moduleID, models.VersionStatusPublished)
	if err != nil {
		return nil, err
	}

	// Versions come back ascending; walk backwards for the newest match.
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].Prerelease != "" && !includePrerelease {
			continue
		}
		return versions[i], nil
	}
	return nil, nil
}

func (l *Lifecycle) checkPlatformCompatibility(version *models.ModuleVersion) error {
	if l.platformVersion == nil || version.MinPlatformVersion == nil {
		return nil
	}
	min, err := goversion.NewVersion(*version.MinPlatformVersion)
	if err != nil {
		return fmt.Errorf("%w: min platform version %q: %v", ErrInvalidVersion, *version.MinPlatformVersion, err)
	}
	if min.GreaterThan(l.platformVersion) {
		return fmt.Errorf("%w: version %s requires platform >= %s, running %s",
			ErrPlatformIncompatible, version.Version, min, l.platformVersion)
	}
	return nil
}
