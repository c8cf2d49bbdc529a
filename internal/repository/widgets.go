package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kmrasmussen/intersebd-sub000/internal/models"
)

// CreateWidget registers an embeddable widget
func (r *Repository) CreateWidget(ctx context.Context, w *models.Widget) error {
	tools, err := json.Marshal(w.Tools)
	if err != nil {
		return fmt.Errorf("failed to marshal tools: %w", err)
	}
	if w.Tools == nil {
		tools = []byte("[]")
	}
	w.CreatedAt = time.Now().UTC()
	w.IsActive = true
	_, err = r.db.ExecContext(ctx, r.q(`
	INSERT INTO agent_widgets (id, user_id, origin, tools, is_active, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		w.ID, w.UserID, w.Origin, string(tools), true, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert widget: %w", err)
	}
	return nil
}

// GetWidget returns a widget by id
func (r *Repository) GetWidget(ctx context.Context, id string) (*models.Widget, error) {
	var row widgetRow
	err := r.db.GetContext(ctx, &row, r.q(`SELECT id, user_id, origin, tools, is_active, created_at FROM agent_widgets WHERE id = ?`), id)
	if err != nil {
		return nil, notFound(err)
	}
	return row.model(), nil
}
