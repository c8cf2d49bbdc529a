package models

import "time"

// UserIdentity is the caller as seen by the backend. Guests are created
// without credentials and recognised by cookie or by the guest header.
type UserIdentity struct {
	ID           string `json:"id"`
	Email        string `json:"email,omitempty"`
	Name         string `json:"name,omitempty"`
	AuthProvider string `json:"auth_provider,omitempty"`
	IsGuest      bool   `json:"is_guest"`
}

// LoginStatus is returned by GET /auth/login_status
type LoginStatus struct {
	IsLoggedIn bool          `json:"is_logged_in"`
	IsGuest    bool          `json:"is_guest"`
	UserInfo   *UserIdentity `json:"user_info,omitempty"`
}

// DevLoginRequest stands in for the OAuth callback on development servers
type DevLoginRequest struct {
	Email string `json:"email" binding:"required"`
	Name  string `json:"name"`
}

// Project is the unit every request, schema and dataset belongs to
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	ViewingID   string    `json:"viewing_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// CallKey authenticates proxied chat completions for a project
type CallKey struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	ProjectID string    `json:"project_id"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// DefaultProjectResponse is returned by POST /completion-projects/default
type DefaultProjectResponse struct {
	Project Project  `json:"project"`
	Key     *CallKey `json:"key,omitempty"`
}
