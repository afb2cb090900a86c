package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func newTestExporter(t *testing.T) (*TenantDataExporter, sqlmock.Sqlmock) {
	t.Helper()
	mockDb, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { mockDb.Close() })
	return NewTenantDataExporter(sqlx.NewDb(mockDb, "sqlmock")), mock
}

// ---------------------------------------------------------------------------
// Export
// ---------------------------------------------------------------------------

func TestExport(t *testing.T) {
	e, mock := newTestExporter(t)
	rows := sqlmock.NewRows([]string{"collection", "doc"}).
		AddRow("gallery_items", []byte(`{"id":1,"title":"Sunset"}`)).
		AddRow("gallery_settings", []byte(`{"per_page":12}`))
	mock.ExpectQuery("SELECT collection, doc\\s+FROM module_instance_data.*ORDER BY collection, id").
		WithArgs("inst-1").
		WillReturnRows(rows)

	data, err := e.Export(context.Background(), "inst-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var doc []instanceDataRow
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if len(doc) != 2 {
		t.Fatalf("len = %d, want 2", len(doc))
	}
	if doc[0].Collection != "gallery_items" {
		t.Errorf("first collection = %s, want gallery_items", doc[0].Collection)
	}
	if !bytes.Contains(doc[1].Doc, []byte("per_page")) {
		t.Errorf("doc = %s, want settings payload", doc[1].Doc)
	}
}

func TestExport_NoData(t *testing.T) {
	e, mock := newTestExporter(t)
	mock.ExpectQuery("SELECT collection, doc").
		WithArgs("inst-empty").
		WillReturnRows(sqlmock.NewRows([]string{"collection", "doc"}))

	data, err := e.Export(context.Background(), "inst-empty")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// An installation with no data exports an empty array, not null.
	if string(data) != "[]" {
		t.Errorf("export = %s, want []", data)
	}
}

// ---------------------------------------------------------------------------
// Import
// ---------------------------------------------------------------------------

func TestImport(t *testing.T) {
	e, mock := newTestExporter(t)
	doc := `[
		{"collection":"gallery_items","doc":{"id":1,"title":"Sunset"}},
		{"collection":"gallery_settings","doc":{"per_page":12}}
	]`

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM module_instance_data").
		WithArgs("inst-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO module_instance_data").
		WithArgs("inst-1", "gallery_items", []byte(`{"id":1,"title":"Sunset"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO module_instance_data").
		WithArgs("inst-1", "gallery_settings", []byte(`{"per_page":12}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := e.Import(context.Background(), "inst-1", strings.NewReader(doc)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestImport_EmptyDocument(t *testing.T) {
	e, mock := newTestExporter(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM module_instance_data").
		WithArgs("inst-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	// Restoring an empty backup clears the installation's data.
	if err := e.Import(context.Background(), "inst-1", strings.NewReader("[]")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestImport_MalformedDocument(t *testing.T) {
	e, mock := newTestExporter(t)

	err := e.Import(context.Background(), "inst-1", strings.NewReader("{not json"))
	if err == nil {
		t.Fatal("expected error for malformed document")
	}
	// The document is rejected before any transaction begins.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("database touched for malformed document: %v", err)
	}
}

func TestImport_InsertFailureRollsBack(t *testing.T) {
	e, mock := newTestExporter(t)
	doc := `[{"collection":"gallery_items","doc":{"id":1}}]`

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM module_instance_data").
		WithArgs("inst-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO module_instance_data").
		WillReturnError(sqlmock.ErrCancelled)
	mock.ExpectRollback()

	if err := e.Import(context.Background(), "inst-1", strings.NewReader(doc)); err == nil {
		t.Fatal("expected error when insert fails")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
