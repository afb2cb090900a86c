// fakes_test.go provides in-memory implementations of the store interfaces in
// deps.go. Each fake keeps just enough state to exercise the service logic and
// records the mutations tests assert on.
package services

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/sitehub/module-engine/internal/db/models"
	"github.com/sitehub/module-engine/internal/db/repositories"
	"github.com/sitehub/module-engine/internal/storage"
)

func strPtr(s string) *string { return &s }

// ---------------------------------------------------------------------------
// fakeModuleStore
// ---------------------------------------------------------------------------

type fakeModuleStore struct {
	mu       sync.Mutex
	modules  map[string]*models.Module
	versions []*models.ModuleVersion // insertion order == ascending version order

	installCounts map[string]int
	adjustErr     error
}

func newFakeModuleStore() *fakeModuleStore {
	return &fakeModuleStore{
		modules:       make(map[string]*models.Module),
		installCounts: make(map[string]int),
	}
}

func (f *fakeModuleStore) addModule(m *models.Module) { f.modules[m.ID] = m }

func (f *fakeModuleStore) addVersion(v *models.ModuleVersion) { f.versions = append(f.versions, v) }

func (f *fakeModuleStore) GetModuleByID(_ context.Context, id string) (*models.Module, error) {
	return f.modules[id], nil
}

func (f *fakeModuleStore) UpdateLatestVersion(_ context.Context, moduleID, version string) error {
	m, ok := f.modules[moduleID]
	if !ok {
		return fmt.Errorf("module %s not found", moduleID)
	}
	m.LatestVersion = &version
	return nil
}

func (f *fakeModuleStore) UpdatePublishedVersion(_ context.Context, moduleID, version string) error {
	m, ok := f.modules[moduleID]
	if !ok {
		return fmt.Errorf("module %s not found", moduleID)
	}
	m.PublishedVersion = &version
	return nil
}

func (f *fakeModuleStore) CreateVersion(_ context.Context, v *models.ModuleVersion) error {
	for _, existing := range f.versions {
		if existing.ModuleID == v.ModuleID && existing.Version == v.Version {
			return repositories.ErrDuplicate
		}
	}
	if v.ID == "" {
		v.ID = fmt.Sprintf("ver-%d", len(f.versions)+1)
	}
	f.versions = append(f.versions, v)
	return nil
}

func (f *fakeModuleStore) GetVersionByID(_ context.Context, id string) (*models.ModuleVersion, error) {
	for _, v := range f.versions {
		if v.ID == id {
			return v, nil
		}
	}
	return nil, nil
}

func (f *fakeModuleStore) GetVersion(_ context.Context, moduleID, version string) (*models.ModuleVersion, error) {
	for _, v := range f.versions {
		if v.ModuleID == moduleID && v.Version == version {
			return v, nil
		}
	}
	return nil, nil
}

func (f *fakeModuleStore) ListVersions(_ context.Context, moduleID string) ([]*models.ModuleVersion, error) {
	var out []*models.ModuleVersion
	for _, v := range f.versions {
		if v.ModuleID == moduleID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeModuleStore) ListVersionsByStatus(_ context.Context, moduleID string, status models.VersionStatus) ([]*models.ModuleVersion, error) {
	var out []*models.ModuleVersion
	for _, v := range f.versions {
		if v.ModuleID == moduleID && v.Status == status {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeModuleStore) PublishVersion(_ context.Context, versionID string, actor *string) (bool, error) {
	for _, v := range f.versions {
		if v.ID == versionID {
			if v.Status != models.VersionStatusDraft {
				return false, nil
			}
			v.Status = models.VersionStatusPublished
			v.PublishedBy = actor
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeModuleStore) SetVersionStatus(_ context.Context, versionID string, status models.VersionStatus, reason *string) (bool, error) {
	for _, v := range f.versions {
		if v.ID == versionID {
			if v.Status != models.VersionStatusPublished {
				return false, nil
			}
			v.Status = status
			v.StatusReason = reason
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeModuleStore) AdjustActiveInstallCount(_ context.Context, versionID string, delta int) error {
	if f.adjustErr != nil {
		return f.adjustErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installCounts[versionID] += delta
	return nil
}

// ---------------------------------------------------------------------------
// fakeMigrationStore
// ---------------------------------------------------------------------------

type fakeMigrationStore struct {
	migrations []*models.Migration
	runs       []*models.MigrationRun
	running    map[string]bool // installation|migration|direction
}

func newFakeMigrationStore() *fakeMigrationStore {
	return &fakeMigrationStore{running: make(map[string]bool)}
}

func (f *fakeMigrationStore) addMigration(m *models.Migration) {
	f.migrations = append(f.migrations, m)
}

func (f *fakeMigrationStore) GetBridge(_ context.Context, moduleID, fromVersion, toVersion string) (*models.Migration, error) {
	for _, m := range f.migrations {
		if m.ModuleID == moduleID && m.FromVersion == fromVersion && m.ToVersion == toVersion {
			return m, nil
		}
	}
	return nil, nil
}

func (f *fakeMigrationStore) ListByModule(_ context.Context, moduleID string) ([]*models.Migration, error) {
	var out []*models.Migration
	for _, m := range f.migrations {
		if m.ModuleID == moduleID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (f *fakeMigrationStore) ListBySequenceRange(_ context.Context, moduleID string, afterSequence, throughSequence int, descending bool) ([]*models.Migration, error) {
	var out []*models.Migration
	for _, m := range f.migrations {
		if m.ModuleID == moduleID && m.Sequence > afterSequence && m.Sequence <= throughSequence {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Sequence > out[j].Sequence
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out, nil
}

func runKey(run *models.MigrationRun) string {
	return run.InstallationID + "|" + run.MigrationID + "|" + string(run.Direction)
}

func (f *fakeMigrationStore) StartRun(_ context.Context, run *models.MigrationRun) error {
	if f.running[runKey(run)] {
		return fmt.Errorf("run already in progress: %w", repositories.ErrDuplicate)
	}
	run.ID = fmt.Sprintf("run-%d", len(f.runs)+1)
	run.Status = models.RunStatusRunning
	f.running[runKey(run)] = true
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeMigrationStore) CompleteRun(_ context.Context, runID string, status models.RunStatus, errorMessage *string) error {
	for _, run := range f.runs {
		if run.ID == runID && run.Status == models.RunStatusRunning {
			run.Status = status
			run.ErrorMessage = errorMessage
			delete(f.running, runKey(run))
			return nil
		}
	}
	return fmt.Errorf("run %s is not running", runID)
}

// ---------------------------------------------------------------------------
// fakeInstallationStore
// ---------------------------------------------------------------------------

type fakeInstallationStore struct {
	rows []*models.SiteModuleVersion
	// versionNames resolves a version ID to its version string, standing in
	// for the join the real repository performs.
	versionNames map[string]string
}

func newFakeInstallationStore() *fakeInstallationStore {
	return &fakeInstallationStore{versionNames: make(map[string]string)}
}

func (f *fakeInstallationStore) addActive(installationID, versionID string) *models.SiteModuleVersion {
	row := &models.SiteModuleVersion{
		ID:             fmt.Sprintf("row-%d", len(f.rows)+1),
		InstallationID: installationID,
		VersionID:      versionID,
		Status:         models.InstallationStatusActive,
	}
	f.rows = append(f.rows, row)
	return row
}

func (f *fakeInstallationStore) GetActive(_ context.Context, installationID string) (*models.SiteModuleVersion, error) {
	for _, row := range f.rows {
		if row.InstallationID == installationID && row.Status == models.InstallationStatusActive {
			if name, ok := f.versionNames[row.VersionID]; ok {
				row.Version = strPtr(name)
			}
			return row, nil
		}
	}
	return nil, nil
}

func (f *fakeInstallationStore) CreateActive(_ context.Context, installationID, versionID string, installedBy *string) (*models.SiteModuleVersion, error) {
	for _, row := range f.rows {
		if row.InstallationID == installationID && row.Status == models.InstallationStatusActive {
			return nil, repositories.ErrDuplicate
		}
	}
	row := f.addActive(installationID, versionID)
	row.InstalledBy = installedBy
	return row, nil
}

func (f *fakeInstallationStore) AdvanceVersion(_ context.Context, rowID, expectedVersionID, newVersionID string) (bool, error) {
	for _, row := range f.rows {
		if row.ID == rowID && row.VersionID == expectedVersionID && row.Status == models.InstallationStatusActive {
			row.VersionID = newVersionID
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeInstallationStore) TransitionStatus(_ context.Context, rowID string, from, to models.InstallationStatus) (bool, error) {
	for _, row := range f.rows {
		if row.ID == rowID && row.Status == from {
			row.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeInstallationStore) ReactivateVersion(_ context.Context, installationID, versionID string) (bool, error) {
	for i := len(f.rows) - 1; i >= 0; i-- {
		row := f.rows[i]
		if row.InstallationID == installationID && row.VersionID == versionID && row.Status == models.InstallationStatusRolledBack {
			row.Status = models.InstallationStatusActive
			return true, nil
		}
	}
	return false, nil
}

// ---------------------------------------------------------------------------
// fakeExecutor — PayloadExecutor + PayloadReader
// ---------------------------------------------------------------------------

type fakeExecutor struct {
	executed []string // payload refs in execution order
	scopes   []string
	failRef  string
	failErr  error
	payloads map[string]string
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{payloads: make(map[string]string)}
}

func (f *fakeExecutor) Execute(_ context.Context, payloadRef, tenantScope string) error {
	if f.failRef != "" && payloadRef == f.failRef {
		return f.failErr
	}
	f.executed = append(f.executed, payloadRef)
	f.scopes = append(f.scopes, tenantScope)
	return nil
}

func (f *fakeExecutor) ReadPayload(_ context.Context, payloadRef string) (string, error) {
	payload, ok := f.payloads[payloadRef]
	if !ok {
		return "", fmt.Errorf("payload %s not found", payloadRef)
	}
	return payload, nil
}

// ---------------------------------------------------------------------------
// fakeBackupManager
// ---------------------------------------------------------------------------

type fakeBackupManager struct {
	created    []*models.DataBackup
	createErr  error
	latest     map[string]*models.DataBackup // installation|version
	restored   []string
	restoreErr error
}

func newFakeBackupManager() *fakeBackupManager {
	return &fakeBackupManager{latest: make(map[string]*models.DataBackup)}
}

func (f *fakeBackupManager) setLatest(installationID, version string, backup *models.DataBackup) {
	f.latest[installationID+"|"+version] = backup
}

func (f *fakeBackupManager) CreateBackup(_ context.Context, installationID, version string, reason models.BackupReason) (*models.DataBackup, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	backup := &models.DataBackup{
		ID:             fmt.Sprintf("bk-%d", len(f.created)+1),
		InstallationID: installationID,
		Version:        version,
		Reason:         reason,
	}
	f.created = append(f.created, backup)
	return backup, nil
}

func (f *fakeBackupManager) RestoreBackup(_ context.Context, backupID string) error {
	if f.restoreErr != nil {
		return f.restoreErr
	}
	f.restored = append(f.restored, backupID)
	return nil
}

func (f *fakeBackupManager) LatestForVersion(_ context.Context, installationID, version string) (*models.DataBackup, error) {
	return f.latest[installationID+"|"+version], nil
}

// ---------------------------------------------------------------------------
// fakeBlobStorage — storage.Storage over a map
// ---------------------------------------------------------------------------

type fakeBlobStorage struct {
	objects map[string][]byte
}

func newFakeBlobStorage() *fakeBlobStorage {
	return &fakeBlobStorage{objects: make(map[string][]byte)}
}

func (f *fakeBlobStorage) Upload(_ context.Context, path string, reader io.Reader, size int64) (*storage.UploadResult, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	f.objects[path] = data
	return &storage.UploadResult{Path: path, Size: int64(len(data)), Checksum: "fake"}, nil
}

func (f *fakeBlobStorage) Download(_ context.Context, path string) (io.ReadCloser, error) {
	data, ok := f.objects[path]
	if !ok {
		return nil, fmt.Errorf("object %s not found", path)
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

func (f *fakeBlobStorage) Delete(_ context.Context, path string) error {
	delete(f.objects, path)
	return nil
}

func (f *fakeBlobStorage) Exists(_ context.Context, path string) (bool, error) {
	_, ok := f.objects[path]
	return ok, nil
}

func (f *fakeBlobStorage) GetMetadata(_ context.Context, path string) (*storage.FileMetadata, error) {
	data, ok := f.objects[path]
	if !ok {
		return nil, fmt.Errorf("object %s not found", path)
	}
	return &storage.FileMetadata{Path: path, Size: int64(len(data)), Checksum: "fake"}, nil
}

// ---------------------------------------------------------------------------
// Fixture builders
// ---------------------------------------------------------------------------

func testModule(id string) *models.Module {
	return &models.Module{
		ID:              id,
		OrganizationID:  "org-1",
		Name:            "Photo Gallery",
		Slug:            "photo-gallery",
		RenderSourceRef: "render/" + id + "/bundle.js",
		SettingsSchema:  models.JSONMap{"type": "object"},
	}
}

func testVersion(id, moduleID, version string, status models.VersionStatus) *models.ModuleVersion {
	return &models.ModuleVersion{
		ID:              id,
		ModuleID:        moduleID,
		Version:         version,
		RenderSourceRef: "render/" + moduleID + "/bundle.js",
		Status:          status,
	}
}
