package models

import (
	"encoding/json"
	"time"
)

// Widget is an embeddable "ask the assistant" page widget
type Widget struct {
	ID        string            `json:"widget_id"`
	UserID    string            `json:"user_id,omitempty"`
	Origin    string            `json:"origin"`
	Tools     []json.RawMessage `json:"tools"`
	IsActive  bool              `json:"is_active"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewWidgetRequest is the body of POST /api/agent-widgets/new_widget
type NewWidgetRequest struct {
	UserID string            `json:"user_id"`
	Origin string            `json:"origin" binding:"required"`
	Tools  []json.RawMessage `json:"tools"`
}

// WidgetRequest is what the widget script posts to the relay
type WidgetRequest struct {
	WidgetID           string    `json:"widget_id" binding:"required"`
	PreviousResponseID string    `json:"previous_response_id,omitempty"`
	Input              []Message `json:"input" binding:"required"`
	Model              string    `json:"model"`
}
