package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kmrasmussen/intersebd-sub000/internal/models"

	"github.com/jmoiron/sqlx"
)

// Verdict decides obeys_schema for one response's content. A nil Verdict
// clears the flag.
type Verdict func(content string) sql.NullBool

// ActiveSchema returns the project's active schema
func (r *Repository) ActiveSchema(ctx context.Context, projectID string) (*models.SchemaRecord, error) {
	var row schemaRow
	err := r.db.GetContext(ctx, &row, r.q(`
	SELECT id, project_id, schema_content, is_active, created_at FROM schemas
	WHERE project_id = ? AND is_active = ?
	ORDER BY created_at DESC
	LIMIT 1`), projectID, true)
	if err != nil {
		return nil, notFound(err)
	}
	return row.model(), nil
}

// ReplaceSchema makes content the project's only active schema and rewrites
// obeys_schema of every response in the same transaction.
func (r *Repository) ReplaceSchema(ctx context.Context, projectID, id string, content []byte, verdict Verdict) (*models.SchemaRecord, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.q(`UPDATE schemas SET is_active = ? WHERE project_id = ?`), false, projectID); err != nil {
		return nil, fmt.Errorf("failed to deactivate schemas: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, r.q(`
	INSERT INTO schemas (id, project_id, schema_content, is_active, created_at) VALUES (?, ?, ?, ?, ?)`),
		id, projectID, string(content), true, now); err != nil {
		return nil, fmt.Errorf("failed to insert schema: %w", err)
	}

	if err := r.recheck(ctx, tx, projectID, verdict); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit schema: %w", err)
	}
	return &models.SchemaRecord{ID: id, SchemaContent: content, CreatedAt: now}, nil
}

// DeactivateSchema removes the active schema and clears obeys_schema of every
// response. ErrNotFound when there is none.
func (r *Repository) DeactivateSchema(ctx context.Context, projectID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, r.q(`UPDATE schemas SET is_active = ? WHERE project_id = ? AND is_active = ?`), false, projectID, true)
	if err != nil {
		return fmt.Errorf("failed to deactivate schema: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if err := r.recheck(ctx, tx, projectID, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema removal: %w", err)
	}
	return nil
}

func (r *Repository) recheck(ctx context.Context, tx *sqlx.Tx, projectID string, verdict Verdict) error {
	var rows []struct {
		ID      string `db:"id"`
		Content string `db:"content"`
	}
	if err := tx.SelectContext(ctx, &rows, r.q(`
	SELECT resp.id, resp.content FROM completion_responses resp
	JOIN annotation_targets t ON t.id = resp.annotation_target_id
	WHERE t.project_id = ?`), projectID); err != nil {
		return fmt.Errorf("failed to load responses for schema check: %w", err)
	}

	values := make(map[string]sql.NullBool, len(rows))
	for _, row := range rows {
		if verdict != nil {
			values[row.ID] = verdict(row.Content)
		} else {
			values[row.ID] = sql.NullBool{}
		}
	}
	if err := r.updateCompliance(ctx, tx, values); err != nil {
		return fmt.Errorf("failed to update schema compliance: %w", err)
	}
	return nil
}
