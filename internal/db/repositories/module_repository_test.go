package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/sitehub/module-engine/internal/db/models"
)

// ---------------------------------------------------------------------------
// Column definitions
// ---------------------------------------------------------------------------

var moduleCols = []string{
	"id", "organization_id", "name", "slug", "description", "render_source_ref",
	"settings_schema", "api_routes", "styling", "default_settings",
	"latest_version", "published_version", "created_by", "created_at", "updated_at",
}

var versionCols = []string{
	"id", "module_id", "version", "version_major", "version_minor", "version_patch", "prerelease",
	"render_source_ref", "settings_schema", "api_routes", "styling", "default_settings",
	"changelog", "release_notes", "min_platform_version",
	"is_breaking_change", "breaking_change_description", "dependencies",
	"status", "status_reason", "published_at", "published_by",
	"download_count", "active_install_count", "created_at",
}

var modCreateCols = []string{"id", "created_at", "updated_at"}
var versionCreateCols = []string{"id", "created_at"}

// ---------------------------------------------------------------------------
// Row builders
// ---------------------------------------------------------------------------

func sampleModuleRow() *sqlmock.Rows {
	return sqlmock.NewRows(moduleCols).
		AddRow("mod-1", "org-1", "Photo Gallery", "photo-gallery", nil, "render/gallery@v3",
			nil, nil, nil, nil, "1.2.0", "1.1.0", nil, time.Now(), time.Now())
}

func sampleVersionRow(id, version string, major, minor, patch int, status string) *sqlmock.Rows {
	return sqlmock.NewRows(versionCols).
		AddRow(id, "mod-1", version, major, minor, patch, "",
			"render/gallery@v3", nil, nil, nil, nil,
			nil, nil, nil,
			false, nil, nil,
			status, nil, nil, nil,
			int64(0), int64(0), time.Now())
}

func emptyVersionRows() *sqlmock.Rows {
	return sqlmock.NewRows(versionCols)
}

func newModuleRepo(t *testing.T) (*ModuleRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewModuleRepository(db), mock
}

// ---------------------------------------------------------------------------
// CreateModule
// ---------------------------------------------------------------------------

func TestCreateModule(t *testing.T) {
	repo, mock := newModuleRepo(t)
	mock.ExpectQuery("INSERT INTO modules").
		WillReturnRows(sqlmock.NewRows(modCreateCols).AddRow("mod-1", time.Now(), time.Now()))

	m := &models.Module{
		OrganizationID:  "org-1",
		Name:            "Photo Gallery",
		Slug:            "photo-gallery",
		RenderSourceRef: "render/gallery@v3",
	}
	if err := repo.CreateModule(context.Background(), m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.ID != "mod-1" {
		t.Errorf("ID = %s, want mod-1", m.ID)
	}
}

func TestCreateModule_DuplicateSlug(t *testing.T) {
	repo, mock := newModuleRepo(t)
	mock.ExpectQuery("INSERT INTO modules").
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.CreateModule(context.Background(), &models.Module{Slug: "photo-gallery"})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("error = %v, want ErrDuplicate", err)
	}
}

// ---------------------------------------------------------------------------
// GetModuleByID
// ---------------------------------------------------------------------------

func TestGetModuleByID_Found(t *testing.T) {
	repo, mock := newModuleRepo(t)
	mock.ExpectQuery("SELECT.*FROM modules.*WHERE id").
		WillReturnRows(sampleModuleRow())

	m, err := repo.GetModuleByID(context.Background(), "mod-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m == nil {
		t.Fatal("expected module, got nil")
	}
	if m.Slug != "photo-gallery" {
		t.Errorf("Slug = %s, want photo-gallery", m.Slug)
	}
	if m.LatestVersion == nil || *m.LatestVersion != "1.2.0" {
		t.Errorf("LatestVersion = %v, want 1.2.0", m.LatestVersion)
	}
}

func TestGetModuleByID_NotFound(t *testing.T) {
	repo, mock := newModuleRepo(t)
	mock.ExpectQuery("SELECT.*FROM modules.*WHERE id").
		WillReturnRows(sqlmock.NewRows(moduleCols))

	m, err := repo.GetModuleByID(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m != nil {
		t.Errorf("expected nil for missing module, got %+v", m)
	}
}

// ---------------------------------------------------------------------------
// Version pointer updates
// ---------------------------------------------------------------------------

func TestUpdateLatestVersion(t *testing.T) {
	repo, mock := newModuleRepo(t)
	mock.ExpectExec("UPDATE modules SET latest_version").
		WithArgs("mod-1", "1.3.0").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdateLatestVersion(context.Background(), "mod-1", "1.3.0"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpdatePublishedVersion(t *testing.T) {
	repo, mock := newModuleRepo(t)
	mock.ExpectExec("UPDATE modules SET published_version").
		WithArgs("mod-1", "1.3.0").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdatePublishedVersion(context.Background(), "mod-1", "1.3.0"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// ---------------------------------------------------------------------------
// CreateVersion
// ---------------------------------------------------------------------------

func TestCreateVersion(t *testing.T) {
	repo, mock := newModuleRepo(t)
	mock.ExpectQuery("INSERT INTO module_versions").
		WillReturnRows(sqlmock.NewRows(versionCreateCols).AddRow("ver-1", time.Now()))

	v := &models.ModuleVersion{
		ModuleID:     "mod-1",
		Version:      "1.3.0",
		VersionMajor: 1,
		VersionMinor: 3,
		VersionPatch: 0,
		Status:       models.VersionStatusDraft,
	}
	if err := repo.CreateVersion(context.Background(), v); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.ID != "ver-1" {
		t.Errorf("ID = %s, want ver-1", v.ID)
	}
}

func TestCreateVersion_Duplicate(t *testing.T) {
	repo, mock := newModuleRepo(t)
	mock.ExpectQuery("INSERT INTO module_versions").
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.CreateVersion(context.Background(), &models.ModuleVersion{ModuleID: "mod-1", Version: "1.3.0"})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("error = %v, want ErrDuplicate", err)
	}
}

// ---------------------------------------------------------------------------
// GetVersion / GetVersionByID
// ---------------------------------------------------------------------------

func TestGetVersion_Found(t *testing.T) {
	repo, mock := newModuleRepo(t)
	mock.ExpectQuery("SELECT.*FROM module_versions.*WHERE module_id").
		WithArgs("mod-1", "1.0.0").
		WillReturnRows(sampleVersionRow("ver-1", "1.0.0", 1, 0, 0, "published"))

	v, err := repo.GetVersion(context.Background(), "mod-1", "1.0.0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v == nil {
		t.Fatal("expected version, got nil")
	}
	if v.Status != models.VersionStatusPublished {
		t.Errorf("Status = %s, want published", v.Status)
	}
}

func TestGetVersion_NotFound(t *testing.T) {
	repo, mock := newModuleRepo(t)
	mock.ExpectQuery("SELECT.*FROM module_versions.*WHERE module_id").
		WillReturnRows(emptyVersionRows())

	v, err := repo.GetVersion(context.Background(), "mod-1", "9.9.9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != nil {
		t.Errorf("expected nil for missing version, got %+v", v)
	}
}

func TestGetVersionByID_Found(t *testing.T) {
	repo, mock := newModuleRepo(t)
	mock.ExpectQuery("SELECT.*FROM module_versions.*WHERE id").
		WithArgs("ver-1").
		WillReturnRows(sampleVersionRow("ver-1", "1.0.0", 1, 0, 0, "draft"))

	v, err := repo.GetVersionByID(context.Background(), "ver-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v == nil || v.ID != "ver-1" {
		t.Fatalf("expected ver-1, got %+v", v)
	}
}

// ---------------------------------------------------------------------------
// ListVersions / ListVersionsByStatus
// ---------------------------------------------------------------------------

func TestListVersions(t *testing.T) {
	repo, mock := newModuleRepo(t)
	rows := sampleVersionRow("ver-1", "1.0.0", 1, 0, 0, "published").
		AddRow("ver-2", "mod-1", "1.1.0", 1, 1, 0, "",
			"render/gallery@v3", nil, nil, nil, nil,
			nil, nil, nil,
			false, nil, nil,
			"published", nil, nil, nil,
			int64(0), int64(0), time.Now())
	mock.ExpectQuery("SELECT.*FROM module_versions.*ORDER BY version_major").
		WillReturnRows(rows)

	versions, err := repo.ListVersions(context.Background(), "mod-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("len = %d, want 2", len(versions))
	}
	if versions[0].Version != "1.0.0" || versions[1].Version != "1.1.0" {
		t.Errorf("order = %s, %s; want 1.0.0, 1.1.0", versions[0].Version, versions[1].Version)
	}
}

func TestListVersionsByStatus(t *testing.T) {
	repo, mock := newModuleRepo(t)
	mock.ExpectQuery("SELECT.*FROM module_versions.*status = \\$2").
		WithArgs("mod-1", models.VersionStatusPublished).
		WillReturnRows(sampleVersionRow("ver-1", "1.0.0", 1, 0, 0, "published"))

	versions, err := repo.ListVersionsByStatus(context.Background(), "mod-1", models.VersionStatusPublished)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(versions) != 1 {
		t.Fatalf("len = %d, want 1", len(versions))
	}
}

func TestListVersions_Empty(t *testing.T) {
	repo, mock := newModuleRepo(t)
	mock.ExpectQuery("SELECT.*FROM module_versions").
		WillReturnRows(emptyVersionRows())

	versions, err := repo.ListVersions(context.Background(), "mod-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(versions) != 0 {
		t.Errorf("len = %d, want 0", len(versions))
	}
}

// ---------------------------------------------------------------------------
// PublishVersion (CAS on draft status)
// ---------------------------------------------------------------------------

func TestPublishVersion_Transitions(t *testing.T) {
	repo, mock := newModuleRepo(t)
	actor := "user-1"
	mock.ExpectExec("UPDATE module_versions.*status = 'draft'").
		WithArgs("ver-1", &actor).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.PublishVersion(context.Background(), "ver-1", &actor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected transition, got false")
	}
}

func TestPublishVersion_NotDraft(t *testing.T) {
	repo, mock := newModuleRepo(t)
	mock.ExpectExec("UPDATE module_versions.*status = 'draft'").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.PublishVersion(context.Background(), "ver-1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected no transition for non-draft version")
	}
}

// ---------------------------------------------------------------------------
// SetVersionStatus
// ---------------------------------------------------------------------------

func TestSetVersionStatus_Deprecate(t *testing.T) {
	repo, mock := newModuleRepo(t)
	reason := "superseded by 2.x"
	mock.ExpectExec("UPDATE module_versions.*status = 'published'").
		WithArgs("ver-1", models.VersionStatusDeprecated, &reason).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.SetVersionStatus(context.Background(), "ver-1", models.VersionStatusDeprecated, &reason)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected transition, got false")
	}
}

func TestSetVersionStatus_NotPublished(t *testing.T) {
	repo, mock := newModuleRepo(t)
	mock.ExpectExec("UPDATE module_versions.*status = 'published'").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.SetVersionStatus(context.Background(), "ver-1", models.VersionStatusYanked, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected no transition for draft version")
	}
}

// ---------------------------------------------------------------------------
// Counters
// ---------------------------------------------------------------------------

func TestAdjustActiveInstallCount(t *testing.T) {
	repo, mock := newModuleRepo(t)
	mock.ExpectExec("UPDATE module_versions.*active_install_count").
		WithArgs("ver-1", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.AdjustActiveInstallCount(context.Background(), "ver-1", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestIncrementDownloadCount(t *testing.T) {
	repo, mock := newModuleRepo(t)
	mock.ExpectExec("UPDATE module_versions.*download_count").
		WithArgs("ver-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.IncrementDownloadCount(context.Background(), "ver-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
