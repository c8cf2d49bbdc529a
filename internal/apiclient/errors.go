package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// StatusError is a non-2xx answer from the API. Detail holds the {detail}
// body when the server sent one, otherwise the status text.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api returned status %d: %s", e.StatusCode, e.Detail)
}

func newStatusError(code int, body []byte) *StatusError {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	detail := ""
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Detail) > 0 {
		// FastAPI-style validation errors carry a list instead of a string
		var s string
		if json.Unmarshal(payload.Detail, &s) == nil {
			detail = s
		} else {
			detail = string(payload.Detail)
		}
	}
	if strings.TrimSpace(detail) == "" {
		detail = http.StatusText(code)
		if detail == "" {
			detail = fmt.Sprintf("status %d", code)
		}
	}
	return &StatusError{StatusCode: code, Detail: detail}
}

// StatusCode returns the HTTP status carried by err, or 0 for transport errors
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is a 404 from the API
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// Message renders err the way it is shown next to the control that failed
func Message(err error) string {
	if err == nil {
		return ""
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Detail
	}
	return err.Error()
}
