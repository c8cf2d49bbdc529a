// Package schemagate tracks the active JSON Schema of a project and decides
// when a response may be shown as a structured form.
package schemagate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/kmrasmussen/intersebd-sub000/internal/apiclient"
	"github.com/kmrasmussen/intersebd-sub000/internal/models"

	"go.uber.org/zap"
)

// ErrInvalidJSON is returned by Save before any network call is made
var ErrInvalidJSON = errors.New("schema is not valid JSON, fix syntax and try again")

// Placeholder is shown in an empty schema editor
const Placeholder = `{
  "type": "object",
  "properties": {
    "answer": { "type": "string" }
  },
  "required": ["answer"]
}`

// API is the part of the REST client the gate calls
type API interface {
	CurrentSchema(ctx context.Context, projectID string) (*models.SchemaRecord, error)
	SaveSchema(ctx context.Context, projectID string, content []byte) (*models.SchemaRecord, error)
	DeleteSchema(ctx context.Context, projectID string) error
}

// Status is what a schema editor renders
type Status struct {
	HasActiveSchema bool                 `json:"has_active_schema"`
	Schema          *models.SchemaRecord `json:"schema,omitempty"`
	SchemaError     *string              `json:"schema_error"`
	EditorText      string               `json:"editor_text"`
	Placeholder     string               `json:"placeholder"`
	Loading         bool                 `json:"loading"`
}

// Gate holds the active schema of one project
type Gate struct {
	api       API
	projectID string
	logger    *zap.Logger

	mu      sync.RWMutex
	current *models.SchemaRecord
	errMsg  string
	loading bool
}

// New creates a gate for projectID with no schema loaded
func New(api API, projectID string, logger *zap.Logger) *Gate {
	return &Gate{api: api, projectID: projectID, logger: logger}
}

// FetchCurrent loads the active schema. A 404 means there is none, which is
// not an error.
func (g *Gate) FetchCurrent(ctx context.Context) (*models.SchemaRecord, error) {
	g.setLoading(true)
	rec, err := g.api.CurrentSchema(ctx, g.projectID)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.loading = false

	switch {
	case err == nil:
		g.current = rec
		g.errMsg = ""
		return rec, nil
	case apiclient.IsNotFound(err):
		g.current = nil
		g.errMsg = ""
		return nil, nil
	default:
		g.errMsg = apiclient.Message(err)
		g.logger.Warn("Failed to fetch schema", zap.String("project_id", g.projectID), zap.Error(err))
		return nil, fmt.Errorf("failed to fetch schema: %w", err)
	}
}

// Save replaces the active schema with raw
func (g *Gate) Save(ctx context.Context, raw string) (*models.SchemaRecord, error) {
	content := []byte(raw)
	if !json.Valid(content) {
		g.mu.Lock()
		g.errMsg = ErrInvalidJSON.Error()
		g.mu.Unlock()
		return nil, ErrInvalidJSON
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, content); err == nil {
		content = compact.Bytes()
	}

	g.setLoading(true)
	rec, err := g.api.SaveSchema(ctx, g.projectID, content)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.loading = false
	if err != nil {
		g.errMsg = apiclient.Message(err)
		return nil, fmt.Errorf("failed to save schema: %w", err)
	}
	g.current = rec
	g.errMsg = ""
	g.logger.Info("Schema saved", zap.String("project_id", g.projectID))
	return rec, nil
}

// Remove deletes the active schema
func (g *Gate) Remove(ctx context.Context) error {
	g.setLoading(true)
	err := g.api.DeleteSchema(ctx, g.projectID)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.loading = false
	if err != nil {
		g.errMsg = apiclient.Message(err)
		return fmt.Errorf("failed to remove schema: %w", err)
	}
	g.current = nil
	g.errMsg = ""
	g.logger.Info("Schema removed", zap.String("project_id", g.projectID))
	return nil
}

func (g *Gate) setLoading(v bool) {
	g.mu.Lock()
	g.loading = v
	g.mu.Unlock()
}

// HasActiveSchema reports whether a schema is loaded
func (g *Gate) HasActiveSchema() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.current != nil
}

// CanShowForm needs all three: JSON content, a true obeys_schema flag and a
// loaded schema.
func (g *Gate) CanShowForm(r models.ResponseRecord) bool {
	if r.ObeysSchema == nil || !*r.ObeysSchema {
		return false
	}
	if !json.Valid([]byte(r.Content)) {
		return false
	}
	return g.HasActiveSchema()
}

// Status returns the editor state
func (g *Gate) Status() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()

	st := Status{
		HasActiveSchema: g.current != nil,
		Schema:          g.current,
		Placeholder:     Placeholder,
		Loading:         g.loading,
	}
	if g.errMsg != "" {
		msg := g.errMsg
		st.SchemaError = &msg
	}
	if g.current != nil {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, g.current.SchemaContent, "", "  "); err == nil {
			st.EditorText = pretty.String()
		} else {
			st.EditorText = string(g.current.SchemaContent)
		}
	}
	return st
}
