package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jmoiron/sqlx"
)

// instanceDataRow is one module_instance_data row as it appears in a backup
// document.
type instanceDataRow struct {
	Collection string          `db:"collection" json:"collection"`
	Doc        json.RawMessage `db:"doc" json:"doc"`
}

// TenantDataExporter serializes an installation's module_instance_data rows
// to a JSON document and restores them from one. It backs the backup
// service's TenantDataPort.
type TenantDataExporter struct {
	db *sqlx.DB
}

// NewTenantDataExporter creates a new tenant data exporter
func NewTenantDataExporter(db *sqlx.DB) *TenantDataExporter {
	return &TenantDataExporter{db: db}
}

// Export returns the installation's module data as a JSON array, ordered by
// collection so identical data always produces identical documents.
func (e *TenantDataExporter) Export(ctx context.Context, installationID string) ([]byte, error) {
	query := `
		SELECT collection, doc
		FROM module_instance_data
		WHERE installation_id = $1
		ORDER BY collection, id
	`

	var rows []instanceDataRow
	if err := e.db.SelectContext(ctx, &rows, query, installationID); err != nil {
		return nil, fmt.Errorf("failed to read module instance data: %w", err)
	}
	if rows == nil {
		rows = []instanceDataRow{}
	}

	data, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize module instance data: %w", err)
	}
	return data, nil
}

// Import replaces the installation's module data with the rows in the backup
// document. Delete and re-insert happen in one transaction so a malformed
// document cannot leave the installation half-restored.
func (e *TenantDataExporter) Import(ctx context.Context, installationID string, r io.Reader) error {
	data, err := io.ReadAll(io.LimitReader(r, maxPayloadBytes))
	if err != nil {
		return fmt.Errorf("failed to read backup document: %w", err)
	}

	var rows []instanceDataRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return fmt.Errorf("malformed backup document: %w", err)
	}

	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM module_instance_data WHERE installation_id = $1`, installationID); err != nil {
		return fmt.Errorf("failed to clear module instance data: %w", err)
	}

	insert := `
		INSERT INTO module_instance_data (installation_id, collection, doc)
		VALUES ($1, $2, $3)
	`
	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, insert, installationID, row.Collection, []byte(row.Doc)); err != nil {
			return fmt.Errorf("failed to restore collection %s: %w", row.Collection, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit restore: %w", err)
	}
	return nil
}
