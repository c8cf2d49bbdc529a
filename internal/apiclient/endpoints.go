package apiclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/kmrasmussen/intersebd-sub000/internal/models"
)

var (
	okOrCreated   = []int{http.StatusOK, http.StatusCreated}
	okOrNoContent = []int{http.StatusOK, http.StatusNoContent}
)

func projectPath(projectID string, rest string) string {
	return "/completion-projects/" + url.PathEscape(projectID) + rest
}

// LoginStatus asks the API who the cookie jar identifies
func (c *Client) LoginStatus(ctx context.Context) (*models.LoginStatus, error) {
	var out models.LoginStatus
	if err := c.do(ctx, call{op: "login_status", method: http.MethodGet, path: "/auth/login_status", out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateGuest creates a new guest identity
func (c *Client) CreateGuest(ctx context.Context) (*models.UserIdentity, error) {
	var out models.UserIdentity
	if err := c.do(ctx, call{op: "create_guest", method: http.MethodPost, path: "/auth/guests", expect: okOrCreated, out: &out}); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("guest creation returned no id")
	}
	return &out, nil
}

// DevLogin signs in on servers that allow development logins
func (c *Client) DevLogin(ctx context.Context, email, name string) (*models.UserIdentity, error) {
	var out models.UserIdentity
	body := models.DevLoginRequest{Email: email, Name: name}
	if err := c.do(ctx, call{op: "dev_login", method: http.MethodPost, path: "/auth/dev-login", body: body, out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout ends the cookie session
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, call{op: "logout", method: http.MethodPost, path: "/auth/logout", expect: okOrNoContent})
}

// DefaultProject fetches or creates the caller's default project. A non-empty
// guestID is presented in the guest header for this call.
func (c *Client) DefaultProject(ctx context.Context, guestID string) (*models.DefaultProjectResponse, error) {
	var out models.DefaultProjectResponse
	err := c.do(ctx, call{
		op:      "default_project",
		method:  http.MethodPost,
		path:    "/completion-projects/default",
		guestID: guestID,
		expect:  okOrCreated,
		out:     &out,
	})
	if err != nil {
		return nil, err
	}
	if out.Project.ID == "" {
		return nil, fmt.Errorf("default project response has no project id")
	}
	return &out, nil
}

// ListRequests returns the requests overview of a project
func (c *Client) ListRequests(ctx context.Context, projectID string) ([]models.RequestSummary, error) {
	var out models.RequestList
	if err := c.do(ctx, call{op: "list_requests", method: http.MethodGet, path: projectPath(projectID, "/requests"), out: &out}); err != nil {
		return nil, err
	}
	return out.Requests, nil
}

// RequestDetail returns one request with its main response and alternatives
func (c *Client) RequestDetail(ctx context.Context, projectID, requestID string) (*models.RequestDetail, error) {
	var out models.RequestDetail
	path := projectPath(projectID, "/requests/"+url.PathEscape(requestID))
	if err := c.do(ctx, call{op: "request_detail", method: http.MethodGet, path: path, out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateAnnotation attaches a reward to an annotation target
func (c *Client) CreateAnnotation(ctx context.Context, targetID string, reward int) (*models.Annotation, error) {
	var out models.Annotation
	body := models.CreateAnnotationRequest{Reward: &reward}
	path := "/annotation-targets/" + url.PathEscape(targetID) + "/annotations"
	if err := c.do(ctx, call{op: "create_annotation", method: http.MethodPost, path: path, body: body, expect: okOrCreated, out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteAnnotation removes one annotation
func (c *Client) DeleteAnnotation(ctx context.Context, annotationID string) error {
	path := "/annotations/" + url.PathEscape(annotationID)
	return c.do(ctx, call{op: "delete_annotation", method: http.MethodDelete, path: path, expect: okOrNoContent})
}

// DeleteTarget removes an annotation target and the response behind it
func (c *Client) DeleteTarget(ctx context.Context, targetID string) error {
	path := "/annotation-targets/" + url.PathEscape(targetID)
	return c.do(ctx, call{op: "delete_target", method: http.MethodDelete, path: path, expect: okOrNoContent})
}

// CreateAlternative stores a rater-written alternative response
func (c *Client) CreateAlternative(ctx context.Context, requestID, content string) (*models.ResponseRecord, error) {
	var out models.ResponseRecord
	body := models.CreateAlternativeRequest{CompletionRequestID: requestID, AlternativeContent: content}
	if err := c.do(ctx, call{op: "create_alternative", method: http.MethodPost, path: "/completion-alternatives", body: body, expect: okOrCreated, out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}

// CurrentSchema returns the active schema. A project without one answers 404.
func (c *Client) CurrentSchema(ctx context.Context, projectID string) (*models.SchemaRecord, error) {
	var out models.SchemaRecord
	if err := c.do(ctx, call{op: "current_schema", method: http.MethodGet, path: projectPath(projectID, "/schemas/current"), out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveSchema replaces the active schema
func (c *Client) SaveSchema(ctx context.Context, projectID string, content []byte) (*models.SchemaRecord, error) {
	var out models.SchemaRecord
	body := models.SaveSchemaRequest{SchemaContent: content}
	if err := c.do(ctx, call{op: "save_schema", method: http.MethodPut, path: projectPath(projectID, "/schemas/current"), body: body, expect: okOrCreated, out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSchema removes the active schema. Only 204 counts as success.
func (c *Client) DeleteSchema(ctx context.Context, projectID string) error {
	return c.do(ctx, call{op: "delete_schema", method: http.MethodDelete, path: projectPath(projectID, "/schemas/current"), expect: []int{http.StatusNoContent}})
}

// DatasetCount returns the number of rows a dataset export would hold
func (c *Client) DatasetCount(ctx context.Context, projectID string, kind models.DatasetKind) (int, error) {
	var out models.CountResponse
	path := projectPath(projectID, "/datasets/"+string(kind)+"/count")
	if err := c.do(ctx, call{op: "dataset_count_" + string(kind), method: http.MethodGet, path: path, out: &out}); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// Download is an open dataset file response. The caller closes Body.
type Download struct {
	Body               io.ReadCloser
	ContentDisposition string
	ContentType        string
}

// OpenDataset starts streaming a dataset file
func (c *Client) OpenDataset(ctx context.Context, projectID string, kind models.DatasetKind) (*Download, error) {
	path := projectPath(projectID, "/"+string(kind)+"-dataset.jsonl")
	resp, err := c.send(ctx, call{op: "download_" + string(kind), method: http.MethodGet, path: path})
	if err != nil {
		return nil, err
	}
	return &Download{
		Body:               resp.Body,
		ContentDisposition: resp.Header.Get("Content-Disposition"),
		ContentType:        resp.Header.Get("Content-Type"),
	}, nil
}

// PushDataset uploads a dataset to the hub with one-off credentials
func (c *Client) PushDataset(ctx context.Context, projectID string, kind models.DatasetKind, req models.PushRequest) (*models.PushResult, error) {
	var out models.PushResult
	path := projectPath(projectID, "/datasets/"+string(kind)+"/push")
	if err := c.do(ctx, call{op: "push_" + string(kind), method: http.MethodPost, path: path, body: req, expect: okOrCreated, out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}

// Pairs returns the request/response pairs shared under a viewing id
func (c *Client) Pairs(ctx context.Context, viewingID string) (*models.PairList, error) {
	var out models.PairList
	path := "/completion-pairs/view/" + url.PathEscape(viewingID)
	if err := c.do(ctx, call{op: "pairs", method: http.MethodGet, path: path, out: &out}); err != nil {
		return nil, err
	}
	return &out, nil
}
