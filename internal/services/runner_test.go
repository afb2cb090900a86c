package services

import (
	"context"
	"errors"
	"testing"

	"github.com/sitehub/module-engine/internal/db/models"
)

type engineFixture struct {
	modules       *fakeModuleStore
	migrations    *fakeMigrationStore
	installations *fakeInstallationStore
	backups       *fakeBackupManager
	executor      *fakeExecutor
	engine        *MigrationEngine
}

// newEngineFixture builds an engine over the upgrade fixture catalog with
// inst-1 active at 1.0.0.
func newEngineFixture() *engineFixture {
	modules, migrations := upgradeFixture()

	installations := newFakeInstallationStore()
	installations.versionNames["ver-1"] = "1.0.0"
	installations.versionNames["ver-2"] = "1.1.0"
	installations.versionNames["ver-3"] = "1.2.0"
	installations.versionNames["ver-4"] = "1.3.0"
	installations.addActive("inst-1", "ver-1")

	backups := newFakeBackupManager()
	executor := newFakeExecutor()
	engine := NewMigrationEngine(modules, migrations, installations, backups, executor,
		NewUpgradeCalculator(modules, migrations))

	return &engineFixture{
		modules:       modules,
		migrations:    migrations,
		installations: installations,
		backups:       backups,
		executor:      executor,
		engine:        engine,
	}
}

// ---------------------------------------------------------------------------
// RunUpgrade
// ---------------------------------------------------------------------------

func TestRunUpgrade(t *testing.T) {
	f := newEngineFixture()
	ctx := context.Background()

	result, err := f.engine.RunUpgrade(ctx, "inst-1", UpgradeOptions{
		TargetVersion: "1.2.0",
		TenantScope:   "tenant_inst_1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.StepsApplied != 2 {
		t.Errorf("StepsApplied = %d, want 2", result.StepsApplied)
	}
	if result.FromVersion != "1.0.0" || result.ToVersion != "1.2.0" {
		t.Errorf("path = %s -> %s, want 1.0.0 -> 1.2.0", result.FromVersion, result.ToVersion)
	}

	// Both bridge payloads ran in order, against the tenant scope.
	if len(f.executor.executed) != 2 ||
		f.executor.executed[0] != "payloads/mod-1/1.0.0_1.1.0/up.sql" ||
		f.executor.executed[1] != "payloads/mod-1/1.1.0_1.2.0/up.sql" {
		t.Errorf("executed payloads = %v", f.executor.executed)
	}
	if f.executor.scopes[0] != "tenant_inst_1" {
		t.Errorf("scope = %s, want tenant_inst_1", f.executor.scopes[0])
	}

	// Runs are recorded and completed.
	if len(f.migrations.runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(f.migrations.runs))
	}
	for _, run := range f.migrations.runs {
		if run.Status != models.RunStatusSuccess {
			t.Errorf("run %s status = %s, want success", run.ID, run.Status)
		}
	}

	// Installation now points at 1.2.0.
	active, _ := f.installations.GetActive(ctx, "inst-1")
	if active.VersionID != "ver-3" {
		t.Errorf("active version_id = %s, want ver-3", active.VersionID)
	}

	// Counters moved from the start version to the final one.
	if f.modules.installCounts["ver-1"] != -1 || f.modules.installCounts["ver-3"] != 1 {
		t.Errorf("install counts = %v", f.modules.installCounts)
	}
}

func TestRunUpgrade_NoOpAtTarget(t *testing.T) {
	f := newEngineFixture()

	result, err := f.engine.RunUpgrade(context.Background(), "inst-1", UpgradeOptions{
		TargetVersion: "1.0.0",
		TenantScope:   "tenant_inst_1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.StepsApplied != 0 {
		t.Errorf("StepsApplied = %d, want 0", result.StepsApplied)
	}
	if len(f.migrations.runs) != 0 {
		t.Errorf("recorded %d runs for a no-op upgrade", len(f.migrations.runs))
	}
}

func TestRunUpgrade_NoActiveVersion(t *testing.T) {
	f := newEngineFixture()

	_, err := f.engine.RunUpgrade(context.Background(), "inst-other", UpgradeOptions{
		TargetVersion: "1.2.0",
	})
	if !errors.Is(err, ErrNoActiveVersion) {
		t.Errorf("error = %v, want ErrNoActiveVersion", err)
	}
}

func TestRunUpgrade_UnknownTarget(t *testing.T) {
	f := newEngineFixture()

	_, err := f.engine.RunUpgrade(context.Background(), "inst-1", UpgradeOptions{
		TargetVersion: "9.9.9",
	})
	if !errors.Is(err, ErrVersionNotFound) {
		t.Errorf("error = %v, want ErrVersionNotFound", err)
	}
}

func TestRunUpgrade_TargetNotPublished(t *testing.T) {
	f := newEngineFixture()
	f.modules.addVersion(testVersion("ver-9", "mod-1", "1.9.0", models.VersionStatusDraft))

	_, err := f.engine.RunUpgrade(context.Background(), "inst-1", UpgradeOptions{
		TargetVersion: "1.9.0",
	})
	if !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("error = %v, want ErrInvalidTarget", err)
	}
}

func TestRunUpgrade_WithBackup(t *testing.T) {
	f := newEngineFixture()

	result, err := f.engine.RunUpgrade(context.Background(), "inst-1", UpgradeOptions{
		TargetVersion: "1.1.0",
		CreateBackup:  true,
		TenantScope:   "tenant_inst_1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.BackupID == nil {
		t.Fatal("BackupID = nil, want backup recorded")
	}
	if len(f.backups.created) != 1 {
		t.Fatalf("created %d backups, want 1", len(f.backups.created))
	}
	b := f.backups.created[0]
	if b.Version != "1.0.0" || b.Reason != models.BackupReasonPreUpgrade {
		t.Errorf("backup = %s/%s, want 1.0.0/pre_upgrade", b.Version, b.Reason)
	}
	// The run row references the backup.
	if f.migrations.runs[0].BackupID == nil || *f.migrations.runs[0].BackupID != b.ID {
		t.Errorf("run backup_id = %v, want %s", f.migrations.runs[0].BackupID, b.ID)
	}
}

func TestRunUpgrade_BackupFailureAborts(t *testing.T) {
	f := newEngineFixture()
	f.backups.createErr = errors.New("storage unavailable")

	_, err := f.engine.RunUpgrade(context.Background(), "inst-1", UpgradeOptions{
		TargetVersion: "1.2.0",
		CreateBackup:  true,
		TenantScope:   "tenant_inst_1",
	})
	if err == nil {
		t.Fatal("expected error when backup fails")
	}
	if len(f.executor.executed) != 0 {
		t.Errorf("executed %d payloads after backup failure, want 0", len(f.executor.executed))
	}
	active, _ := f.installations.GetActive(context.Background(), "inst-1")
	if active.VersionID != "ver-1" {
		t.Errorf("active version_id = %s, want ver-1 (unchanged)", active.VersionID)
	}
}

func TestRunUpgrade_PayloadFailure(t *testing.T) {
	f := newEngineFixture()
	f.executor.failRef = "payloads/mod-1/1.1.0_1.2.0/up.sql"
	f.executor.failErr = errors.New("column gallery_items.caption does not exist")

	result, err := f.engine.RunUpgrade(context.Background(), "inst-1", UpgradeOptions{
		TargetVersion: "1.2.0",
		TenantScope:   "tenant_inst_1",
	})

	var failErr *MigrationFailedError
	if !errors.As(err, &failErr) {
		t.Fatalf("error = %v, want MigrationFailedError", err)
	}
	if failErr.FromVersion != "1.1.0" || failErr.ToVersion != "1.2.0" || failErr.Direction != "up" {
		t.Errorf("failure = %s %s -> %s", failErr.Direction, failErr.FromVersion, failErr.ToVersion)
	}

	// Partial progress is reported, not unwound.
	if result.StepsApplied != 1 || result.ToVersion != "1.1.0" {
		t.Errorf("result = %d steps, at %s; want 1 step, at 1.1.0", result.StepsApplied, result.ToVersion)
	}
	active, _ := f.installations.GetActive(context.Background(), "inst-1")
	if active.VersionID != "ver-2" {
		t.Errorf("active version_id = %s, want ver-2 (last successful step)", active.VersionID)
	}

	// The failed run carries the executor's error message.
	failed := f.migrations.runs[1]
	if failed.Status != models.RunStatusFailed {
		t.Errorf("run status = %s, want failed", failed.Status)
	}
	if failed.ErrorMessage == nil || *failed.ErrorMessage != f.executor.failErr.Error() {
		t.Errorf("run error = %v, want executor message", failed.ErrorMessage)
	}
}

func TestRunUpgrade_ConcurrentRunRejected(t *testing.T) {
	f := newEngineFixture()
	// Simulate an in-flight run for the first bridge.
	f.migrations.running["inst-1|mig-1|up"] = true

	_, err := f.engine.RunUpgrade(context.Background(), "inst-1", UpgradeOptions{
		TargetVersion: "1.1.0",
		TenantScope:   "tenant_inst_1",
	})
	if !errors.Is(err, ErrMigrationInProgress) {
		t.Errorf("error = %v, want ErrMigrationInProgress", err)
	}
	if len(f.executor.executed) != 0 {
		t.Error("payload executed despite concurrent run")
	}
}

func TestRunUpgrade_StepWithoutMigration(t *testing.T) {
	f := newEngineFixture()
	// Move inst-1 to 1.2.0; the 1.2.0 -> 1.3.0 step has no bridge.
	f.installations.rows[0].VersionID = "ver-3"

	result, err := f.engine.RunUpgrade(context.Background(), "inst-1", UpgradeOptions{
		TargetVersion: "1.3.0",
		TenantScope:   "tenant_inst_1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.StepsApplied != 1 {
		t.Errorf("StepsApplied = %d, want 1", result.StepsApplied)
	}
	if len(f.migrations.runs) != 0 {
		t.Errorf("recorded %d runs for a migration-less step", len(f.migrations.runs))
	}
	active, _ := f.installations.GetActive(context.Background(), "inst-1")
	if active.VersionID != "ver-4" {
		t.Errorf("active version_id = %s, want ver-4", active.VersionID)
	}
}
