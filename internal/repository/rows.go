package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/kmrasmussen/intersebd-sub000/internal/models"
)

// Target kinds
const (
	TargetMain        = "main"
	TargetAlternative = "alternative"
)

type userRow struct {
	ID           string         `db:"id"`
	Email        sql.NullString `db:"email"`
	Name         sql.NullString `db:"name"`
	AuthProvider string         `db:"auth_provider"`
	IsGuest      bool           `db:"is_guest"`
	CreatedAt    time.Time      `db:"created_at"`
}

func (u userRow) model() *models.UserIdentity {
	return &models.UserIdentity{
		ID:           u.ID,
		Email:        u.Email.String,
		Name:         u.Name.String,
		AuthProvider: u.AuthProvider,
		IsGuest:      u.IsGuest,
	}
}

type projectRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	ViewingID   string    `db:"viewing_id"`
	CreatedAt   time.Time `db:"created_at"`
}

func (p projectRow) model() models.Project {
	return models.Project{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		ViewingID:   p.ViewingID,
		CreatedAt:   p.CreatedAt,
	}
}

type callKeyRow struct {
	ID        string    `db:"id"`
	Key       string    `db:"key"`
	ProjectID string    `db:"project_id"`
	IsActive  bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
}

func (k callKeyRow) model() *models.CallKey {
	return &models.CallKey{
		ID:        k.ID,
		Key:       k.Key,
		ProjectID: k.ProjectID,
		IsActive:  k.IsActive,
		CreatedAt: k.CreatedAt,
	}
}

// RequestRow is a stored completion request
type RequestRow struct {
	ID             string    `db:"id"`
	ProjectID      string    `db:"project_id"`
	CallKeyID      string    `db:"call_key_id"`
	Messages       string    `db:"messages"`
	MessagesHash   string    `db:"messages_hash"`
	ModelName      string    `db:"model"`
	ResponseFormat string    `db:"response_format"`
	CreatedAt      time.Time `db:"created_at"`
}

// Model converts the row for the API
func (r RequestRow) Model() models.RequestRecord {
	rec := models.RequestRecord{ID: r.ID, Model: r.ModelName, Timestamp: r.CreatedAt}
	_ = json.Unmarshal([]byte(r.Messages), &rec.Messages)
	if r.ResponseFormat != "" {
		rec.ResponseFormat = json.RawMessage(r.ResponseFormat)
	}
	return rec
}

// TargetRow is an annotation target with its owning project
type TargetRow struct {
	ID        string    `db:"id"`
	ProjectID string    `db:"project_id"`
	RequestID string    `db:"request_id"`
	Kind      string    `db:"kind"`
	CreatedAt time.Time `db:"created_at"`
}

// ResponseRow is a main or alternative response
type ResponseRow struct {
	ID                 string       `db:"id"`
	AnnotationTargetID string       `db:"annotation_target_id"`
	ProviderResponseID string       `db:"provider_response_id"`
	Content            string       `db:"content"`
	ModelName          string       `db:"model"`
	Created            int64        `db:"created"`
	IsJSON             bool         `db:"is_json"`
	ObeysSchema        sql.NullBool `db:"obeys_schema"`
	CreatedAt          time.Time    `db:"created_at"`
}

// Model converts the row for the API
func (r ResponseRow) Model(annotations []models.Annotation) models.ResponseRecord {
	rec := models.ResponseRecord{
		ID:                 r.ID,
		AnnotationTargetID: r.AnnotationTargetID,
		Content:            r.Content,
		Model:              r.ModelName,
		Created:            r.Created,
		IsJSON:             r.IsJSON,
		Annotations:        annotations,
	}
	if rec.Annotations == nil {
		rec.Annotations = []models.Annotation{}
	}
	if r.ObeysSchema.Valid {
		v := r.ObeysSchema.Bool
		rec.ObeysSchema = &v
	}
	return rec
}

// AnnotationRow is one reward with the project that owns its target
type AnnotationRow struct {
	ID                 string    `db:"id"`
	AnnotationTargetID string    `db:"annotation_target_id"`
	Reward             int       `db:"reward"`
	RaterID            string    `db:"rater_id"`
	CreatedAt          time.Time `db:"created_at"`
	ProjectID          string    `db:"project_id"`
}

// Model converts the row for the API
func (a AnnotationRow) Model() models.Annotation {
	return models.Annotation{ID: a.ID, Reward: a.Reward, By: a.RaterID, At: a.CreatedAt}
}

type schemaRow struct {
	ID            string    `db:"id"`
	ProjectID     string    `db:"project_id"`
	SchemaContent string    `db:"schema_content"`
	IsActive      bool      `db:"is_active"`
	CreatedAt     time.Time `db:"created_at"`
}

func (s schemaRow) model() *models.SchemaRecord {
	return &models.SchemaRecord{ID: s.ID, SchemaContent: json.RawMessage(s.SchemaContent), CreatedAt: s.CreatedAt}
}

type widgetRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Origin    string    `db:"origin"`
	Tools     string    `db:"tools"`
	IsActive  bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
}

func (w widgetRow) model() *models.Widget {
	out := &models.Widget{ID: w.ID, UserID: w.UserID, Origin: w.Origin, IsActive: w.IsActive, CreatedAt: w.CreatedAt}
	_ = json.Unmarshal([]byte(w.Tools), &out.Tools)
	return out
}

// Bundle is one request with every response and annotation behind it
type Bundle struct {
	Request      RequestRow
	Main         *ResponseRow
	Alternatives []ResponseRow
	Annotations  map[string][]AnnotationRow // by target id
}

// Responses returns main and alternatives in display order
func (b Bundle) Responses() []ResponseRow {
	out := make([]ResponseRow, 0, len(b.Alternatives)+1)
	if b.Main != nil {
		out = append(out, *b.Main)
	}
	return append(out, b.Alternatives...)
}

// AnnotationModels returns the annotations of one target for the API
func (b Bundle) AnnotationModels(targetID string) []models.Annotation {
	rows := b.Annotations[targetID]
	out := make([]models.Annotation, 0, len(rows))
	for _, a := range rows {
		out = append(out, a.Model())
	}
	return out
}
