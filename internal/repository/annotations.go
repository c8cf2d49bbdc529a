package repository

import (
	"context"
	"fmt"
	"time"
)

// CreateAnnotation stores a reward on a target
func (r *Repository) CreateAnnotation(ctx context.Context, a *AnnotationRow) error {
	a.CreatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, r.q(`
	INSERT INTO annotations (id, annotation_target_id, reward, rater_id, created_at) VALUES (?, ?, ?, ?, ?)`),
		a.ID, a.AnnotationTargetID, a.Reward, a.RaterID, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert annotation: %w", err)
	}
	return nil
}

// GetAnnotation returns an annotation with the project owning its target
func (r *Repository) GetAnnotation(ctx context.Context, id string) (*AnnotationRow, error) {
	var row AnnotationRow
	err := r.db.GetContext(ctx, &row, r.q(`
	SELECT a.id, a.annotation_target_id, a.reward, a.rater_id, a.created_at, t.project_id
	FROM annotations a
	JOIN annotation_targets t ON t.id = a.annotation_target_id
	WHERE a.id = ?`), id)
	if err != nil {
		return nil, notFound(err)
	}
	return &row, nil
}

// DeleteAnnotation removes one annotation
func (r *Repository) DeleteAnnotation(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.q(`DELETE FROM annotations WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete annotation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
