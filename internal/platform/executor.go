// Package platform implements the pieces of the engine that touch tenant
// data directly: executing migration payloads against a tenant's data scope
// and exporting/importing per-installation module data for backups.
package platform

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"regexp"

	"github.com/sitehub/module-engine/internal/storage"
)

// maxPayloadBytes caps the number of bytes read from a single payload object
// so a corrupt or hostile upload cannot exhaust memory.
const maxPayloadBytes = 16 << 20 // 16 MB

// tenantScopePattern matches valid tenant schema identifiers. Scopes are
// interpolated into SET search_path, so anything else is rejected outright.
var tenantScopePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// SQLExecutor runs migration payloads stored as SQL text in blob storage.
// Each payload executes inside a single transaction with search_path pinned
// to the tenant's scope, so a failed payload leaves the tenant untouched.
type SQLExecutor struct {
	db    *sql.DB
	blobs storage.Storage
}

// NewSQLExecutor creates a new SQL payload executor
func NewSQLExecutor(db *sql.DB, blobs storage.Storage) *SQLExecutor {
	return &SQLExecutor{db: db, blobs: blobs}
}

// Execute fetches the payload at payloadRef and runs it against tenantScope.
// An empty tenantScope runs against the connection's default search path.
func (e *SQLExecutor) Execute(ctx context.Context, payloadRef, tenantScope string) error {
	if tenantScope != "" && !tenantScopePattern.MatchString(tenantScope) {
		return fmt.Errorf("invalid tenant scope %q", tenantScope)
	}

	payload, err := e.ReadPayload(ctx, payloadRef)
	if err != nil {
		return err
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if tenantScope != "" {
		// SET LOCAL does not support bind parameters; the scope was validated
		// against tenantScopePattern above.
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL search_path TO %s, public", tenantScope)); err != nil {
			return fmt.Errorf("failed to set tenant scope: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, payload); err != nil {
		return fmt.Errorf("payload execution failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit payload: %w", err)
	}
	return nil
}

// ReadPayload fetches a payload's SQL text without executing it.
func (e *SQLExecutor) ReadPayload(ctx context.Context, payloadRef string) (string, error) {
	reader, err := e.blobs.Download(ctx, payloadRef)
	if err != nil {
		return "", fmt.Errorf("failed to fetch payload %s: %w", payloadRef, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(io.LimitReader(reader, maxPayloadBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read payload %s: %w", payloadRef, err)
	}
	return string(data), nil
}
