package models

import (
	"encoding/json"
	"time"
)

// Message is one chat turn
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RequestRecord is an intercepted chat-completion request. Read-only once stored.
type RequestRecord struct {
	ID             string          `json:"id"`
	Messages       []Message       `json:"messages"`
	Model          string          `json:"model"`
	ResponseFormat json.RawMessage `json:"response_format,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// ResponseRecord is either the main response of a request or an alternative
// written by a rater. AnnotationTargetID is the handle annotations and
// deletions key off.
type ResponseRecord struct {
	ID                 string       `json:"id"`
	AnnotationTargetID string       `json:"annotation_target_id"`
	Content            string       `json:"content"`
	Model              string       `json:"model,omitempty"`
	Created            int64        `json:"created"`
	IsJSON             bool         `json:"is_json"`
	ObeysSchema        *bool        `json:"obeys_schema"`
	Annotations        []Annotation `json:"annotations"`
}

// Annotation is a binary reward attached to exactly one annotation target
type Annotation struct {
	ID     string    `json:"id"`
	Reward int       `json:"reward"`
	By     string    `json:"by,omitempty"`
	At     time.Time `json:"at"`
}

// RequestDetail is one request with its main response and alternatives
type RequestDetail struct {
	Request      RequestRecord    `json:"request"`
	MainResponse *ResponseRecord  `json:"main_response"`
	Alternatives []ResponseRecord `json:"alternatives"`
}

// ReadinessStatus summarises how far a request is from contributing to a dataset
type ReadinessStatus string

const (
	StatusComplete ReadinessStatus = "complete"
	StatusPartial  ReadinessStatus = "partial"
	StatusNone     ReadinessStatus = "none"
)

// RequestSummary is one row of the requests overview
type RequestSummary struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Question           string          `json:"question"`
	Model              string          `json:"model"`
	TotalResponses     int             `json:"total_responses"`
	AnnotatedResponses int             `json:"annotated_responses"`
	Timestamp          time.Time       `json:"timestamp"`
	SFTStatus          ReadinessStatus `json:"sft_status"`
	DPOStatus          ReadinessStatus `json:"dpo_status"`
}

// RequestList is returned by GET /completion-projects/{id}/requests
type RequestList struct {
	Requests []RequestSummary `json:"requests"`
}

// CreateAnnotationRequest is the body of POST /annotation-targets/{id}/annotations
type CreateAnnotationRequest struct {
	Reward *int `json:"reward" binding:"required"`
}

// CreateAlternativeRequest is the body of POST /completion-alternatives
type CreateAlternativeRequest struct {
	CompletionRequestID string `json:"completion_request_id" binding:"required"`
	AlternativeContent  string `json:"alternative_content"`
}

// CompletionPair is one row of the pair viewer
type CompletionPair struct {
	Request  RequestRecord   `json:"request"`
	Response *ResponseRecord `json:"response,omitempty"`
}

// PairList is returned by GET /completion-pairs/view/{viewing_id}
type PairList struct {
	ViewingID string           `json:"viewing_id"`
	Pairs     []CompletionPair `json:"pairs"`
}

// ErrorResponse is the {detail} body every non-2xx response carries
type ErrorResponse struct {
	Detail string `json:"detail"`
}
