package models

import (
	"encoding/json"
	"time"
)

// SchemaRecord is the active JSON Schema of a project. Replacing it is a
// full replacement, never a merge.
type SchemaRecord struct {
	ID            string          `json:"id"`
	SchemaContent json.RawMessage `json:"schema_content"`
	CreatedAt     time.Time       `json:"created_at"`
}

// SaveSchemaRequest is the body of PUT /completion-projects/{id}/schemas/current
type SaveSchemaRequest struct {
	SchemaContent json.RawMessage `json:"schema_content" binding:"required"`
}
