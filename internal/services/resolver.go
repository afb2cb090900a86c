package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/sitehub/module-engine/internal/db/models"
	"github.com/sitehub/module-engine/pkg/semver"
)

// Resolver resolves version constraints against the catalog of published
// versions. Only published versions are candidates: drafts, deprecated, and
// yanked versions never satisfy a constraint. Malformed constraints fail
// closed rather than matching anything.
type Resolver struct {
	modules ModuleStore
}

// NewResolver creates a new dependency resolver
func NewResolver(modules ModuleStore) *Resolver {
	return &Resolver{modules: modules}
}

// FindFirstSatisfying returns the oldest published version of a module
// satisfying the constraint, or nil when none does. Resolution prefers the
// oldest match so installations move forward deliberately rather than being
// dragged to the newest release by a loose constraint.
func (r *Resolver) FindFirstSatisfying(ctx context.Context, moduleID, constraint string) (*models.ModuleVersion, error) {
	versions, err := r.modules.ListVersionsByStatus(ctx, moduleID, models.VersionStatusPublished)
	if err != nil {
		return nil, fmt.Errorf("failed to list published versions: %w", err)
	}

	for _, v := range versions {
		if semver.Satisfies(v.Version, constraint) {
			return v, nil
		}
	}
	return nil, nil
}

// ValidateDependencies checks that every declared dependency has at least one
// published version satisfying its constraint. The first unsatisfiable
// dependency is reported; iteration order is fixed so the error is
// deterministic.
func (r *Resolver) ValidateDependencies(ctx context.Context, deps models.Dependencies) error {
	for _, moduleID := range sortedKeys(deps) {
		constraint := deps[moduleID]
		match, err := r.FindFirstSatisfying(ctx, moduleID, constraint)
		if err != nil {
			return err
		}
		if match == nil {
			return &UnsatisfiableDependencyError{ModuleID: moduleID, Constraint: constraint}
		}
	}
	return nil
}

// ResolveDependencies maps each declared dependency to the concrete published
// version that satisfies it. Fails with UnsatisfiableDependencyError when any
// constraint has no match.
func (r *Resolver) ResolveDependencies(ctx context.Context, deps models.Dependencies) (map[string]*models.ModuleVersion, error) {
	resolved := make(map[string]*models.ModuleVersion, len(deps))
	for _, moduleID := range sortedKeys(deps) {
		constraint := deps[moduleID]
		match, err := r.FindFirstSatisfying(ctx, moduleID, constraint)
		if err != nil {
			return nil, err
		}
		if match == nil {
			return nil, &UnsatisfiableDependencyError{ModuleID: moduleID, Constraint: constraint}
		}
		resolved[moduleID] = match
	}
	return resolved, nil
}

func sortedKeys(deps models.Dependencies) []string {
	keys := make([]string, 0, len(deps))
	for k := range deps {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
