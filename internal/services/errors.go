// errors.go defines the domain error taxonomy for the module lifecycle
// engine. Validation errors are returned before any mutation; execution
// errors are recorded on the run/installation rows and wrapped so callers can
// branch on the sentinel with errors.Is / errors.As.
package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidVersion is returned when a version string does not parse as
	// strict MAJOR.MINOR.PATCH[-PRERELEASE].
	ErrInvalidVersion = errors.New("invalid version")

	// ErrDuplicateVersion is returned when the exact version string already
	// exists for the module.
	ErrDuplicateVersion = errors.New("duplicate version")

	// ErrVersionNotIncreasing is returned when a new version does not sort
	// strictly after the module's current latest version.
	ErrVersionNotIncreasing = errors.New("version not increasing")

	// ErrNotDraft is returned when publishing a version that is not in draft
	// status.
	ErrNotDraft = errors.New("version is not a draft")

	// ErrVersionNotFound is returned when a referenced version does not exist.
	ErrVersionNotFound = errors.New("version not found")

	// ErrNotPublished is returned when deprecating or yanking a version that
	// is not currently published.
	ErrNotPublished = errors.New("version is not published")

	// ErrModuleNotFound is returned when a referenced module does not exist.
	ErrModuleNotFound = errors.New("module not found")

	// ErrPlatformIncompatible is returned when a version's minimum platform
	// version exceeds the running platform version.
	ErrPlatformIncompatible = errors.New("platform version incompatible")

	// ErrNoActiveVersion is returned when an installation has no active
	// version row (including when a concurrent caller has already moved the
	// row out of active).
	ErrNoActiveVersion = errors.New("installation has no active version")

	// ErrInvalidTarget is returned when a rollback target is unknown, belongs
	// to another module, or is not strictly older than the current version.
	ErrInvalidTarget = errors.New("invalid rollback target")

	// ErrMigrationInProgress is returned when another migration run is
	// already running for the same installation, migration, and direction.
	ErrMigrationInProgress = errors.New("migration already in progress")

	// ErrNoValidRollbackPoint is returned when no previously-installed
	// version can be rolled back to.
	ErrNoValidRollbackPoint = errors.New("no valid rollback point")
)

// UnsatisfiableDependencyError reports the first dependency for which no
// published version satisfies the declared constraint.
type UnsatisfiableDependencyError struct {
	ModuleID   string
	Constraint string
}

func (e *UnsatisfiableDependencyError) Error() string {
	return fmt.Sprintf("no published version of module %s satisfies constraint %q", e.ModuleID, e.Constraint)
}

// RollbackBlockedError reports why a rollback plan cannot execute. The
// blocker list is surfaced verbatim so the operator's decision to force is
// informed.
type RollbackBlockedError struct {
	Blockers []string
}

func (e *RollbackBlockedError) Error() string {
	return fmt.Sprintf("rollback blocked: %s", strings.Join(e.Blockers, "; "))
}

// MigrationFailedError reports a failed migration step with the versions it
// bridged. The installation is left at the last successfully-migrated
// version; the failed MigrationRun row carries the same message for
// diagnosis.
type MigrationFailedError struct {
	FromVersion string
	ToVersion   string
	Direction   string
	Err         error
}

func (e *MigrationFailedError) Error() string {
	return fmt.Sprintf("migration %s (%s -> %s) failed: %v", e.Direction, e.FromVersion, e.ToVersion, e.Err)
}

func (e *MigrationFailedError) Unwrap() error { return e.Err }
