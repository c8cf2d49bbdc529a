package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kmrasmussen/intersebd-sub000/internal/models"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"
)

// compileSchema turns stored schema content into a validator
func compileSchema(content []byte) (*jsonschema.Schema, error) {
	return jsonschema.CompileString("schema.json", string(content))
}

// isJSON reports whether content is a single JSON value
func isJSON(content string) bool {
	return json.Valid([]byte(content))
}

// compliance checks content against schema. Content that is not JSON never
// obeys; no schema means no verdict.
func compliance(schema *jsonschema.Schema, content string) sql.NullBool {
	if schema == nil {
		return sql.NullBool{}
	}
	var v interface{}
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return sql.NullBool{Valid: true, Bool: false}
	}
	return sql.NullBool{Valid: true, Bool: schema.Validate(v) == nil}
}

// activeValidator loads and compiles the project's active schema, nil when
// there is none
func (s *Service) activeValidator(ctx context.Context, projectID string) (*jsonschema.Schema, error) {
	rec, err := s.repo.ActiveSchema(ctx, projectID)
	if err != nil {
		if errors.Is(mapRepo(err), ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	schema, err := compileSchema(rec.SchemaContent)
	if err != nil {
		s.logger.Warn("Stored schema does not compile", zap.String("project_id", projectID), zap.Error(err))
		return nil, nil
	}
	return schema, nil
}

// CurrentSchema returns the active schema of a project
func (s *Service) CurrentSchema(ctx context.Context, user *models.UserIdentity, projectID string) (*models.SchemaRecord, error) {
	if err := s.authorize(ctx, user, projectID); err != nil {
		return nil, err
	}
	rec, err := s.repo.ActiveSchema(ctx, projectID)
	if err != nil {
		return nil, mapRepo(err)
	}
	return rec, nil
}

// SaveSchema replaces the active schema and re-evaluates every stored
// response against it, atomically
func (s *Service) SaveSchema(ctx context.Context, user *models.UserIdentity, projectID string, content json.RawMessage) (*models.SchemaRecord, error) {
	if err := s.authorize(ctx, user, projectID); err != nil {
		return nil, err
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, content); err != nil {
		return nil, invalid("schema_content is not valid JSON")
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(compact.Bytes(), &obj); err != nil {
		return nil, invalid("schema_content must be a JSON object")
	}
	schema, err := compileSchema(compact.Bytes())
	if err != nil {
		return nil, invalid("schema_content is not a valid JSON Schema: %v", err)
	}

	verdict := func(content string) sql.NullBool { return compliance(schema, content) }
	rec, err := s.repo.ReplaceSchema(ctx, projectID, uuid.New().String(), compact.Bytes(), verdict)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Schema saved", zap.String("project_id", projectID), zap.String("schema_id", rec.ID))
	return rec, nil
}

// DeleteSchema deactivates the active schema
func (s *Service) DeleteSchema(ctx context.Context, user *models.UserIdentity, projectID string) error {
	if err := s.authorize(ctx, user, projectID); err != nil {
		return err
	}
	if err := s.repo.DeactivateSchema(ctx, projectID); err != nil {
		return mapRepo(err)
	}
	s.logger.Info("Schema removed", zap.String("project_id", projectID))
	return nil
}
