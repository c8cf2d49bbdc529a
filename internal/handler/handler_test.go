package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kmrasmussen/intersebd-sub000/internal/hub"
	"github.com/kmrasmussen/intersebd-sub000/internal/middleware"
	"github.com/kmrasmussen/intersebd-sub000/internal/models"
	"github.com/kmrasmussen/intersebd-sub000/internal/repository"
	"github.com/kmrasmussen/intersebd-sub000/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubProvider struct {
	content string
	err     error
}

func (p *stubProvider) Complete(_ context.Context, req *models.ChatCompletionRequest) (*models.ChatCompletionResponse, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &models.ChatCompletionResponse{
		ID:       "resp-1",
		Object:   "chat.completion",
		Model:    "stub-model",
		Provider: "stub",
		Choices: []models.ChatChoice{{
			Message:      models.Message{Role: "assistant", Content: p.content},
			FinishReason: "stop",
		}},
	}, nil
}

func (p *stubProvider) Close() error { return nil }

func (p *stubProvider) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{"provider": "stub", "model": "stub-model"}
}

type stubHub struct {
	mu      sync.Mutex
	uploads []hub.Upload
}

func (h *stubHub) Push(_ context.Context, up hub.Upload) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if up.Token == "bad" {
		return hub.ErrUnauthorized
	}
	h.uploads = append(h.uploads, up)
	return nil
}

type testEnv struct {
	srv *httptest.Server
	hub *stubHub
}

const frontendOrigin = "http://frontend.test"

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	repo, err := repository.NewRepository("sqlite", filepath.Join(t.TempDir(), "api.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	pusher := &stubHub{}
	svc := service.New(repo, &stubProvider{content: `{"answer":42}`}, pusher, logger)
	sessions := middleware.NewSessions("test-secret", "session", false, svc, logger)
	h := NewHandler(svc, sessions, Options{
		FrontendOrigins: []string{frontendOrigin},
		PublicBaseURL:   "http://api.test",
		AllowDevLogin:   true,
	}, logger)

	r := gin.New()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, hub: pusher}
}

// browser is a cookie-keeping client
type browser struct {
	t       *testing.T
	base    string
	client  *http.Client
	headers map[string]string
}

func (e *testEnv) browser(t *testing.T) *browser {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{t: t, base: e.srv.URL, client: &http.Client{Jar: jar}, headers: map[string]string{}}
}

func (b *browser) do(method, path string, body interface{}) (int, []byte) {
	b.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(b.t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, b.base+path, rd)
	require.NoError(b.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range b.headers {
		req.Header.Set(k, v)
	}
	resp, err := b.client.Do(req)
	require.NoError(b.t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(b.t, err)
	return resp.StatusCode, out
}

func (b *browser) decode(method, path string, body interface{}, want int, out interface{}) {
	b.t.Helper()
	status, raw := b.do(method, path, body)
	require.Equal(b.t, want, status, string(raw))
	if out != nil {
		require.NoError(b.t, json.Unmarshal(raw, out))
	}
}

func detail(t *testing.T, raw []byte) string {
	var e models.ErrorResponse
	require.NoError(t, json.Unmarshal(raw, &e))
	return e.Detail
}

// guestProject signs a new guest in and provisions its project
func guestProject(t *testing.T, b *browser) models.DefaultProjectResponse {
	var guest models.UserIdentity
	b.decode(http.MethodPost, "/auth/guests", nil, http.StatusCreated, &guest)
	require.NotEmpty(t, guest.ID)

	var proj models.DefaultProjectResponse
	b.decode(http.MethodPost, "/completion-projects/default", nil, http.StatusCreated, &proj)
	return proj
}

func complete(t *testing.T, b *browser, key string, question string) {
	b.headers["Authorization"] = "Bearer " + key
	defer delete(b.headers, "Authorization")
	b.decode(http.MethodPost, "/v1/chat/completions", models.ChatCompletionRequest{
		Model:    "any",
		Messages: []models.Message{{Role: "system", Content: "be brief"}, {Role: "user", Content: question}},
	}, http.StatusOK, nil)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	status, body := env.browser(t).do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "healthy")
}

func TestGuestSession(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)

	var status models.LoginStatus
	b.decode(http.MethodGet, "/auth/login_status", nil, http.StatusOK, &status)
	assert.False(t, status.IsLoggedIn)

	proj := guestProject(t, b)
	assert.Equal(t, "Default Project", proj.Project.Name)
	require.NotNil(t, proj.Key)
	assert.True(t, strings.HasPrefix(proj.Key.Key, "sk_"))

	b.decode(http.MethodGet, "/auth/login_status", nil, http.StatusOK, &status)
	assert.True(t, status.IsLoggedIn)
	assert.True(t, status.IsGuest)

	var again models.DefaultProjectResponse
	b.decode(http.MethodPost, "/completion-projects/default", nil, http.StatusOK, &again)
	assert.Equal(t, proj.Project.ID, again.Project.ID)

	code, _ := b.do(http.MethodPost, "/auth/logout", nil)
	assert.Equal(t, http.StatusNoContent, code)
	b.decode(http.MethodGet, "/auth/login_status", nil, http.StatusOK, &status)
	assert.False(t, status.IsLoggedIn)
}

func TestDefaultProjectByGuestHeader(t *testing.T) {
	env := newTestEnv(t)

	anon := env.browser(t)
	code, raw := anon.do(http.MethodPost, "/completion-projects/default", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Not authenticated", detail(t, raw))

	anon.headers[middleware.GuestHeader] = "stale-id"
	code, _ = anon.do(http.MethodPost, "/completion-projects/default", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	var guest models.UserIdentity
	env.browser(t).decode(http.MethodPost, "/auth/guests", nil, http.StatusCreated, &guest)

	headerOnly := env.browser(t)
	headerOnly.headers[middleware.GuestHeader] = guest.ID
	var proj models.DefaultProjectResponse
	headerOnly.decode(http.MethodPost, "/completion-projects/default", nil, http.StatusCreated, &proj)
	assert.NotEmpty(t, proj.Project.ID)

	// a header alone is not a login
	var status models.LoginStatus
	headerOnly.decode(http.MethodGet, "/auth/login_status", nil, http.StatusOK, &status)
	assert.False(t, status.IsLoggedIn)
}

func TestDevLoginKeepsUser(t *testing.T) {
	env := newTestEnv(t)

	var first, second models.UserIdentity
	env.browser(t).decode(http.MethodPost, "/auth/dev-login", models.DevLoginRequest{Email: "Ann@Example.com", Name: "Ann"}, http.StatusOK, &first)
	env.browser(t).decode(http.MethodPost, "/auth/dev-login", models.DevLoginRequest{Email: "ann@example.com"}, http.StatusOK, &second)
	assert.Equal(t, first.ID, second.ID)
	assert.False(t, first.IsGuest)

	code, _ := env.browser(t).do(http.MethodPost, "/auth/dev-login", models.DevLoginRequest{Email: "nope"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestAnnotationFlowAndDatasets(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)
	proj := guestProject(t, b)
	pid := proj.Project.ID

	b.headers["Authorization"] = "Bearer sk_wrong"
	code, _ := b.do(http.MethodPost, "/v1/chat/completions", models.ChatCompletionRequest{Messages: []models.Message{{Role: "user", Content: "hi"}}})
	assert.Equal(t, http.StatusForbidden, code)
	delete(b.headers, "Authorization")

	complete(t, b, proj.Key.Key, "What is 6*7?")

	var list models.RequestList
	b.decode(http.MethodGet, "/completion-projects/"+pid+"/requests", nil, http.StatusOK, &list)
	require.Len(t, list.Requests, 1)
	summary := list.Requests[0]
	assert.Equal(t, "What is 6*7?", summary.Question)
	assert.Equal(t, 1, summary.TotalResponses)
	assert.Equal(t, models.StatusNone, summary.SFTStatus)
	assert.Equal(t, models.StatusNone, summary.DPOStatus)

	var detailResp models.RequestDetail
	b.decode(http.MethodGet, "/completion-projects/"+pid+"/requests/"+summary.ID, nil, http.StatusOK, &detailResp)
	require.NotNil(t, detailResp.MainResponse)
	main := detailResp.MainResponse
	assert.True(t, main.IsJSON)
	assert.Nil(t, main.ObeysSchema)
	assert.Len(t, detailResp.Request.Messages, 2)

	code, raw := b.do(http.MethodPost, "/annotation-targets/"+main.AnnotationTargetID+"/annotations", map[string]int{"reward": 2})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, detail(t, raw), "reward must be 0 or 1")

	var good models.Annotation
	b.decode(http.MethodPost, "/annotation-targets/"+main.AnnotationTargetID+"/annotations", map[string]int{"reward": 1}, http.StatusCreated, &good)
	assert.Equal(t, 1, good.Reward)

	code, _ = b.do(http.MethodPost, "/completion-alternatives", models.CreateAlternativeRequest{CompletionRequestID: summary.ID, AlternativeContent: "   "})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	var alt models.ResponseRecord
	b.decode(http.MethodPost, "/completion-alternatives", models.CreateAlternativeRequest{CompletionRequestID: summary.ID, AlternativeContent: "forty-two"}, http.StatusCreated, &alt)
	assert.False(t, alt.IsJSON)
	b.decode(http.MethodPost, "/annotation-targets/"+alt.AnnotationTargetID+"/annotations", map[string]int{"reward": 0}, http.StatusCreated, nil)

	var count models.CountResponse
	b.decode(http.MethodGet, "/completion-projects/"+pid+"/datasets/sft/count", nil, http.StatusOK, &count)
	assert.Equal(t, 1, count.Count)
	b.decode(http.MethodGet, "/completion-projects/"+pid+"/datasets/dpo/count", nil, http.StatusOK, &count)
	assert.Equal(t, 1, count.Count)

	b.decode(http.MethodGet, "/completion-projects/"+pid+"/requests", nil, http.StatusOK, &list)
	assert.Equal(t, 2, list.Requests[0].TotalResponses)
	assert.Equal(t, 2, list.Requests[0].AnnotatedResponses)
	assert.Equal(t, models.StatusComplete, list.Requests[0].SFTStatus)
	assert.Equal(t, models.StatusComplete, list.Requests[0].DPOStatus)

	code, raw = b.do(http.MethodGet, "/completion-projects/"+pid+"/sft-dataset.jsonl", nil)
	require.Equal(t, http.StatusOK, code)
	lines := jsonLines(t, raw)
	require.Len(t, lines, 1)
	var sft models.SFTLine
	require.NoError(t, json.Unmarshal(lines[0], &sft))
	require.Len(t, sft.Messages, 3)
	assert.Equal(t, "assistant", sft.Messages[2].Role)
	assert.Equal(t, `{"answer":42}`, sft.Messages[2].Content)

	code, raw = b.do(http.MethodGet, "/completion-projects/"+pid+"/dpo-dataset.jsonl", nil)
	require.Equal(t, http.StatusOK, code)
	lines = jsonLines(t, raw)
	require.Len(t, lines, 1)
	var dpo models.DPOLine
	require.NoError(t, json.Unmarshal(lines[0], &dpo))
	assert.Equal(t, `{"answer":42}`, dpo.PreferredOutput[0].Content)
	assert.Equal(t, "forty-two", dpo.NonPreferredOutput[0].Content)

	code, _ = b.do(http.MethodGet, "/completion-projects/"+pid+"/datasets/xyz/count", nil)
	assert.Equal(t, http.StatusNotFound, code)

	// deletions
	code, _ = b.do(http.MethodDelete, "/annotations/"+good.ID, nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = b.do(http.MethodDelete, "/annotations/"+good.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = b.do(http.MethodDelete, "/annotation-targets/"+main.AnnotationTargetID, nil)
	assert.Equal(t, http.StatusNoContent, code)
	b.decode(http.MethodGet, "/completion-projects/"+pid+"/requests/"+summary.ID, nil, http.StatusOK, &detailResp)
	assert.Nil(t, detailResp.MainResponse)
	require.Len(t, detailResp.Alternatives, 1)

	code, raw = b.do(http.MethodGet, "/completion-projects/"+pid+"/dpo-dataset.jsonl", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, raw)
}

func TestOwnership(t *testing.T) {
	env := newTestEnv(t)
	owner := env.browser(t)
	proj := guestProject(t, owner)
	complete(t, owner, proj.Key.Key, "secret question")

	var list models.RequestList
	owner.decode(http.MethodGet, "/completion-projects/"+proj.Project.ID+"/requests", nil, http.StatusOK, &list)
	var d models.RequestDetail
	owner.decode(http.MethodGet, "/completion-projects/"+proj.Project.ID+"/requests/"+list.Requests[0].ID, nil, http.StatusOK, &d)

	stranger := env.browser(t)
	guestProject(t, stranger)

	code, _ := stranger.do(http.MethodGet, "/completion-projects/"+proj.Project.ID+"/requests", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = stranger.do(http.MethodPost, "/annotation-targets/"+d.MainResponse.AnnotationTargetID+"/annotations", map[string]int{"reward": 1})
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = stranger.do(http.MethodDelete, "/annotation-targets/"+d.MainResponse.AnnotationTargetID, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = stranger.do(http.MethodPost, "/completion-alternatives", models.CreateAlternativeRequest{CompletionRequestID: d.Request.ID, AlternativeContent: "x"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSchemaLifecycle(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)
	proj := guestProject(t, b)
	pid := proj.Project.ID
	complete(t, b, proj.Key.Key, "json please")

	code, _ := b.do(http.MethodGet, "/completion-projects/"+pid+"/schemas/current", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = b.do(http.MethodPut, "/completion-projects/"+pid+"/schemas/current", map[string]json.RawMessage{"schema_content": json.RawMessage(`{"type":"nope"}`)})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	var rec models.SchemaRecord
	b.decode(http.MethodPut, "/completion-projects/"+pid+"/schemas/current",
		map[string]json.RawMessage{"schema_content": json.RawMessage(`{"type": "object", "required": ["answer"]}`)},
		http.StatusOK, &rec)
	assert.JSONEq(t, `{"type":"object","required":["answer"]}`, string(rec.SchemaContent))

	b.decode(http.MethodGet, "/completion-projects/"+pid+"/schemas/current", nil, http.StatusOK, &rec)

	var list models.RequestList
	b.decode(http.MethodGet, "/completion-projects/"+pid+"/requests", nil, http.StatusOK, &list)
	rid := list.Requests[0].ID

	var alt models.ResponseRecord
	b.decode(http.MethodPost, "/completion-alternatives", models.CreateAlternativeRequest{CompletionRequestID: rid, AlternativeContent: `{"other":1}`}, http.StatusCreated, &alt)
	require.NotNil(t, alt.ObeysSchema)
	assert.False(t, *alt.ObeysSchema)

	var d models.RequestDetail
	b.decode(http.MethodGet, "/completion-projects/"+pid+"/requests/"+rid, nil, http.StatusOK, &d)
	require.NotNil(t, d.MainResponse.ObeysSchema)
	assert.True(t, *d.MainResponse.ObeysSchema)

	code, _ = b.do(http.MethodDelete, "/completion-projects/"+pid+"/schemas/current", nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = b.do(http.MethodDelete, "/completion-projects/"+pid+"/schemas/current", nil)
	assert.Equal(t, http.StatusNotFound, code)

	b.decode(http.MethodGet, "/completion-projects/"+pid+"/requests/"+rid, nil, http.StatusOK, &d)
	assert.Nil(t, d.MainResponse.ObeysSchema)
}

func TestPushDataset(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)
	proj := guestProject(t, b)
	pid := proj.Project.ID
	path := "/completion-projects/" + pid + "/datasets/sft/push"

	code, _ := b.do(http.MethodPost, path, models.PushRequest{HFUsername: "ann"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	// nothing annotated yet
	code, _ = b.do(http.MethodPost, path, models.PushRequest{HFUsername: "ann", HFWriteAccessToken: "hf_x", DoPush: true})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	complete(t, b, proj.Key.Key, "push me")
	var d models.RequestList
	b.decode(http.MethodGet, "/completion-projects/"+pid+"/requests", nil, http.StatusOK, &d)
	var detailResp models.RequestDetail
	b.decode(http.MethodGet, "/completion-projects/"+pid+"/requests/"+d.Requests[0].ID, nil, http.StatusOK, &detailResp)
	b.decode(http.MethodPost, "/annotation-targets/"+detailResp.MainResponse.AnnotationTargetID+"/annotations", map[string]int{"reward": 1}, http.StatusCreated, nil)

	var result models.PushResult
	b.decode(http.MethodPost, path, models.PushRequest{HFUsername: "ann", HFWriteAccessToken: "hf_x"}, http.StatusOK, &result)
	assert.False(t, result.Pushed)
	assert.Equal(t, 1, result.Rows)
	assert.Empty(t, env.hub.uploads)

	b.decode(http.MethodPost, path, models.PushRequest{HFUsername: "ann", HFWriteAccessToken: "hf_x", DoPush: true}, http.StatusOK, &result)
	assert.True(t, result.Pushed)
	require.Len(t, env.hub.uploads, 1)
	assert.Equal(t, result.RepoID, env.hub.uploads[0].RepoID())
	assert.True(t, strings.HasPrefix(result.RepoID, "ann/sft-dataset-"))

	code, _ = b.do(http.MethodPost, path, models.PushRequest{HFUsername: "ann", HFWriteAccessToken: "bad", DoPush: true})
	assert.Equal(t, http.StatusForbidden, code)
}

func TestPairsViewer(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)
	proj := guestProject(t, b)
	complete(t, b, proj.Key.Key, "first")
	complete(t, b, proj.Key.Key, "second")

	anon := env.browser(t)
	var pairs models.PairList
	anon.decode(http.MethodGet, "/completion-pairs/view/"+proj.Project.ViewingID, nil, http.StatusOK, &pairs)
	assert.Equal(t, proj.Project.ViewingID, pairs.ViewingID)
	require.Len(t, pairs.Pairs, 2)
	require.NotNil(t, pairs.Pairs[0].Response)

	code, _ := anon.do(http.MethodGet, "/completion-pairs/view/unknown", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestWidget(t *testing.T) {
	env := newTestEnv(t)
	b := env.browser(t)

	var created map[string]interface{}
	b.decode(http.MethodPost, "/api/agent-widgets/new_widget", models.NewWidgetRequest{Origin: "https://shop.example/"}, http.StatusCreated, &created)
	assert.Equal(t, "Agent Widget created successfully.", created["message"])
	assert.Equal(t, "https://shop.example", created["origin"])
	id := created["widget_id"].(string)

	code, js := b.do(http.MethodGet, "/api/agent-widgets/"+id+"/widget.js", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(js), id)
	assert.Contains(t, string(js), "http://api.test/api/cors-anywhere/agent_widget_request")

	code, _ = b.do(http.MethodGet, "/api/agent-widgets/00000000-0000-0000-0000-000000000000/widget.js", nil)
	assert.Equal(t, http.StatusNotFound, code)

	relay := models.WidgetRequest{WidgetID: id, Input: []models.Message{{Role: "user", Content: "hello"}}}
	code, _ = b.do(http.MethodPost, "/api/cors-anywhere/agent_widget_request", relay)
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	b.headers["Origin"] = "https://evil.example"
	code, _ = b.do(http.MethodPost, "/api/cors-anywhere/agent_widget_request", relay)
	assert.Equal(t, http.StatusForbidden, code)

	b.headers["Origin"] = "https://shop.example"
	var resp models.ChatCompletionResponse
	b.decode(http.MethodPost, "/api/cors-anywhere/agent_widget_request", relay, http.StatusOK, &resp)
	assert.Equal(t, `{"answer":42}`, resp.Content())
}

func TestCORSPolicies(t *testing.T) {
	env := newTestEnv(t)

	preflight := func(path, origin string) *http.Response {
		req, err := http.NewRequest(http.MethodOptions, env.srv.URL+path, nil)
		require.NoError(t, err)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	resp := preflight("/api/cors-anywhere/agent_widget_request", "https://anywhere.example")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp = preflight("/completion-projects/default", frontendOrigin)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, frontendOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))

	resp = preflight("/completion-projects/default", "https://anywhere.example")
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func jsonLines(t *testing.T, raw []byte) [][]byte {
	var out [][]byte
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		line := append([]byte(nil), sc.Bytes()...)
		if len(bytes.TrimSpace(line)) > 0 {
			out = append(out, line)
		}
	}
	require.NoError(t, sc.Err())
	return out
}
