package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// CreateCompletion stores an intercepted request with its main response and
// the annotation target behind it.
func (r *Repository) CreateCompletion(ctx context.Context, req *RequestRow, targetID string, resp *ResponseRow) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	req.CreatedAt = now
	if _, err := tx.ExecContext(ctx, r.q(`
	INSERT INTO completion_requests (id, project_id, call_key_id, messages, messages_hash, model, response_format, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		req.ID, req.ProjectID, req.CallKeyID, req.Messages, req.MessagesHash, req.ModelName, req.ResponseFormat, now); err != nil {
		return fmt.Errorf("failed to insert request: %w", err)
	}

	if err := r.insertTargetAndResponse(ctx, tx, &TargetRow{
		ID:        targetID,
		ProjectID: req.ProjectID,
		RequestID: req.ID,
		Kind:      TargetMain,
	}, resp); err != nil {
		return err
	}

	return tx.Commit()
}

// CreateAlternative stores a rater-written response for an existing request
func (r *Repository) CreateAlternative(ctx context.Context, target *TargetRow, resp *ResponseRow) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	target.Kind = TargetAlternative
	if err := r.insertTargetAndResponse(ctx, tx, target, resp); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repository) insertTargetAndResponse(ctx context.Context, tx *sqlx.Tx, target *TargetRow, resp *ResponseRow) error {
	now := time.Now().UTC()
	target.CreatedAt = now
	if _, err := tx.ExecContext(ctx, r.q(`
	INSERT INTO annotation_targets (id, project_id, request_id, kind, created_at) VALUES (?, ?, ?, ?, ?)`),
		target.ID, target.ProjectID, target.RequestID, target.Kind, now); err != nil {
		return fmt.Errorf("failed to insert annotation target: %w", err)
	}

	resp.AnnotationTargetID = target.ID
	resp.CreatedAt = now
	var obeys interface{}
	if resp.ObeysSchema.Valid {
		obeys = resp.ObeysSchema.Bool
	}
	if _, err := tx.ExecContext(ctx, r.q(`
	INSERT INTO completion_responses (id, annotation_target_id, provider_response_id, content, model, created, is_json, obeys_schema, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		resp.ID, target.ID, resp.ProviderResponseID, resp.Content, resp.ModelName, resp.Created, resp.IsJSON, obeys, now); err != nil {
		return fmt.Errorf("failed to insert response: %w", err)
	}
	return nil
}

// GetRequest returns one request
func (r *Repository) GetRequest(ctx context.Context, requestID string) (*RequestRow, error) {
	var row RequestRow
	err := r.db.GetContext(ctx, &row, r.q(`
	SELECT id, project_id, call_key_id, messages, messages_hash, model, response_format, created_at
	FROM completion_requests WHERE id = ?`), requestID)
	if err != nil {
		return nil, notFound(err)
	}
	return &row, nil
}

// GetTarget returns one annotation target
func (r *Repository) GetTarget(ctx context.Context, targetID string) (*TargetRow, error) {
	var row TargetRow
	err := r.db.GetContext(ctx, &row, r.q(`SELECT id, project_id, request_id, kind, created_at FROM annotation_targets WHERE id = ?`), targetID)
	if err != nil {
		return nil, notFound(err)
	}
	return &row, nil
}

// DeleteTarget removes a target with its response and annotations
func (r *Repository) DeleteTarget(ctx context.Context, targetID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM annotations WHERE annotation_target_id = ?`,
		`DELETE FROM completion_responses WHERE annotation_target_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, r.q(stmt), targetID); err != nil {
			return fmt.Errorf("failed to delete target data: %w", err)
		}
	}
	res, err := tx.ExecContext(ctx, r.q(`DELETE FROM annotation_targets WHERE id = ?`), targetID)
	if err != nil {
		return fmt.Errorf("failed to delete target: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// LoadBundles returns requests of a project with their responses and
// annotations, newest first. A non-empty requestID restricts the result to
// that request.
func (r *Repository) LoadBundles(ctx context.Context, projectID, requestID string) ([]Bundle, error) {
	reqQuery := `
	SELECT id, project_id, call_key_id, messages, messages_hash, model, response_format, created_at
	FROM completion_requests WHERE project_id = ?`
	args := []interface{}{projectID}
	if requestID != "" {
		reqQuery += ` AND id = ?`
		args = append(args, requestID)
	}
	reqQuery += ` ORDER BY created_at DESC`

	var requests []RequestRow
	if err := r.db.SelectContext(ctx, &requests, r.q(reqQuery), args...); err != nil {
		return nil, fmt.Errorf("failed to load requests: %w", err)
	}
	if len(requests) == 0 {
		return nil, nil
	}

	type responseWithTarget struct {
		ResponseRow
		RequestID string `db:"request_id"`
		Kind      string `db:"kind"`
	}
	respQuery := `
	SELECT r.id, r.annotation_target_id, r.provider_response_id, r.content, r.model, r.created,
	       r.is_json, r.obeys_schema, r.created_at, t.request_id, t.kind
	FROM completion_responses r
	JOIN annotation_targets t ON t.id = r.annotation_target_id
	WHERE t.project_id = ?`
	if requestID != "" {
		respQuery += ` AND t.request_id = ?`
	}
	respQuery += ` ORDER BY r.created_at, r.id`

	var responses []responseWithTarget
	if err := r.db.SelectContext(ctx, &responses, r.q(respQuery), args...); err != nil {
		return nil, fmt.Errorf("failed to load responses: %w", err)
	}

	annQuery := `
	SELECT a.id, a.annotation_target_id, a.reward, a.rater_id, a.created_at, t.project_id
	FROM annotations a
	JOIN annotation_targets t ON t.id = a.annotation_target_id
	WHERE t.project_id = ?`
	if requestID != "" {
		annQuery += ` AND t.request_id = ?`
	}
	annQuery += ` ORDER BY a.created_at, a.id`

	var anns []AnnotationRow
	if err := r.db.SelectContext(ctx, &anns, r.q(annQuery), args...); err != nil {
		return nil, fmt.Errorf("failed to load annotations: %w", err)
	}

	bundles := make([]Bundle, len(requests))
	index := make(map[string]int, len(requests))
	for i, req := range requests {
		bundles[i] = Bundle{Request: req, Annotations: map[string][]AnnotationRow{}}
		index[req.ID] = i
	}
	for _, resp := range responses {
		i, ok := index[resp.RequestID]
		if !ok {
			continue
		}
		row := resp.ResponseRow
		if resp.Kind == TargetMain && bundles[i].Main == nil {
			bundles[i].Main = &row
		} else {
			bundles[i].Alternatives = append(bundles[i].Alternatives, row)
		}
	}
	targetRequest := make(map[string]string, len(responses))
	for _, resp := range responses {
		targetRequest[resp.AnnotationTargetID] = resp.RequestID
	}
	for _, a := range anns {
		i, ok := index[targetRequest[a.AnnotationTargetID]]
		if !ok {
			continue
		}
		bundles[i].Annotations[a.AnnotationTargetID] = append(bundles[i].Annotations[a.AnnotationTargetID], a)
	}
	return bundles, nil
}

// SetSchemaCompliance rewrites obeys_schema for the given responses. An
// invalid NullBool clears the flag.
func (r *Repository) SetSchemaCompliance(ctx context.Context, values map[string]sql.NullBool) error {
	if len(values) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.updateCompliance(ctx, tx, values); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *Repository) updateCompliance(ctx context.Context, tx *sqlx.Tx, values map[string]sql.NullBool) error {
	if len(values) == 0 {
		return nil
	}
	stmt, err := tx.PreparexContext(ctx, r.q(`UPDATE completion_responses SET obeys_schema = ? WHERE id = ?`))
	if err != nil {
		return fmt.Errorf("failed to prepare update: %w", err)
	}
	defer stmt.Close()

	for id, v := range values {
		var obeys interface{}
		if v.Valid {
			obeys = v.Bool
		}
		if _, err := stmt.ExecContext(ctx, obeys, id); err != nil {
			return fmt.Errorf("failed to update response %s: %w", id, err)
		}
	}
	return nil
}
