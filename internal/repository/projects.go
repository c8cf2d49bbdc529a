package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kmrasmussen/intersebd-sub000/internal/models"
)

// CreateUser inserts a user or guest
func (r *Repository) CreateUser(ctx context.Context, u *models.UserIdentity) error {
	var email, name interface{}
	if u.Email != "" {
		email = u.Email
	}
	if u.Name != "" {
		name = u.Name
	}
	_, err := r.db.ExecContext(ctx, r.q(`
	INSERT INTO users (id, email, name, auth_provider, is_guest, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`),
		u.ID, email, name, u.AuthProvider, u.IsGuest, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetUser returns a user by id
func (r *Repository) GetUser(ctx context.Context, id string) (*models.UserIdentity, error) {
	var row userRow
	err := r.db.GetContext(ctx, &row, r.q(`SELECT id, email, name, auth_provider, is_guest, created_at FROM users WHERE id = ?`), id)
	if err != nil {
		return nil, notFound(err)
	}
	return row.model(), nil
}

// GetUserByEmail returns a registered user by email
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*models.UserIdentity, error) {
	var row userRow
	err := r.db.GetContext(ctx, &row, r.q(`SELECT id, email, name, auth_provider, is_guest, created_at FROM users WHERE email = ?`), email)
	if err != nil {
		return nil, notFound(err)
	}
	return row.model(), nil
}

// CreateProject inserts a project, its owner membership and its first call key
func (r *Repository) CreateProject(ctx context.Context, p *models.Project, ownerID string, isDefault bool, key *models.CallKey) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	p.CreatedAt = now
	if _, err := tx.ExecContext(ctx, r.q(`
	INSERT INTO projects (id, name, description, viewing_id, created_at) VALUES (?, ?, ?, ?, ?)`),
		p.ID, p.Name, p.Description, p.ViewingID, now); err != nil {
		return fmt.Errorf("failed to insert project: %w", err)
	}

	if _, err := tx.ExecContext(ctx, r.q(`
	INSERT INTO project_memberships (project_id, user_id, role, is_default, created_at) VALUES (?, ?, 'owner', ?, ?)`),
		p.ID, ownerID, isDefault, now); err != nil {
		return fmt.Errorf("failed to insert membership: %w", err)
	}

	if key != nil {
		key.ProjectID = p.ID
		key.IsActive = true
		key.CreatedAt = now
		if _, err := tx.ExecContext(ctx, r.q(`
		INSERT INTO call_keys (id, key, project_id, is_active, created_at) VALUES (?, ?, ?, ?, ?)`),
			key.ID, key.Key, p.ID, true, now); err != nil {
			return fmt.Errorf("failed to insert call key: %w", err)
		}
	}

	return tx.Commit()
}

// DefaultProject returns the user's default project and its first active key
func (r *Repository) DefaultProject(ctx context.Context, userID string) (*models.Project, *models.CallKey, error) {
	var p projectRow
	err := r.db.GetContext(ctx, &p, r.q(`
	SELECT p.id, p.name, p.description, p.viewing_id, p.created_at
	FROM projects p
	JOIN project_memberships m ON m.project_id = p.id
	WHERE m.user_id = ? AND m.is_default = ?
	ORDER BY p.created_at
	LIMIT 1`), userID, true)
	if err != nil {
		return nil, nil, notFound(err)
	}
	project := p.model()

	var k callKeyRow
	err = r.db.GetContext(ctx, &k, r.q(`
	SELECT id, key, project_id, is_active, created_at FROM call_keys
	WHERE project_id = ? AND is_active = ?
	ORDER BY created_at
	LIMIT 1`), p.ID, true)
	if err != nil {
		if errors.Is(notFound(err), ErrNotFound) {
			return &project, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to load call key: %w", err)
	}
	return &project, k.model(), nil
}

// IsMember reports whether userID belongs to projectID
func (r *Repository) IsMember(ctx context.Context, projectID, userID string) (bool, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.q(`SELECT COUNT(*) FROM project_memberships WHERE project_id = ? AND user_id = ?`), projectID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return n > 0, nil
}

// ProjectByViewingID resolves a shared viewing id
func (r *Repository) ProjectByViewingID(ctx context.Context, viewingID string) (*models.Project, error) {
	var p projectRow
	err := r.db.GetContext(ctx, &p, r.q(`SELECT id, name, description, viewing_id, created_at FROM projects WHERE viewing_id = ?`), viewingID)
	if err != nil {
		return nil, notFound(err)
	}
	project := p.model()
	return &project, nil
}

// CallKey looks up an active call key by its secret
func (r *Repository) CallKey(ctx context.Context, key string) (*models.CallKey, error) {
	var k callKeyRow
	err := r.db.GetContext(ctx, &k, r.q(`SELECT id, key, project_id, is_active, created_at FROM call_keys WHERE key = ?`), key)
	if err != nil {
		return nil, notFound(err)
	}
	return k.model(), nil
}
