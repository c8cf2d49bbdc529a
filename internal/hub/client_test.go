package hub

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPushCreatesRepoAndCommits(t *testing.T) {
	var commitLines []map[string]interface{}
	created := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer hf_token", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/api/repos/create":
			created++
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "dataset", body["type"])
			assert.Equal(t, "sft-data", body["name"])
			w.WriteHeader(http.StatusOK)
		case "/api/datasets/alice/sft-data/commit/main":
			assert.Equal(t, "application/x-ndjson", r.Header.Get("Content-Type"))
			sc := bufio.NewScanner(r.Body)
			for sc.Scan() {
				var line map[string]interface{}
				require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
				commitLines = append(commitLines, line)
			}
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0, zap.NewNop())
	err := c.Push(context.Background(), Upload{
		Username: "alice",
		Token:    "hf_token",
		Repo:     "sft-data",
		Path:     "train.jsonl",
		Content:  []byte(`{"messages":[]}` + "\n"),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, created)
	require.Len(t, commitLines, 2)
	assert.Equal(t, "header", commitLines[0]["key"])
	file := commitLines[1]["value"].(map[string]interface{})
	assert.Equal(t, "train.jsonl", file["path"])
	raw, err := base64.StdEncoding.DecodeString(file["content"].(string))
	require.NoError(t, err)
	assert.Equal(t, `{"messages":[]}`+"\n", string(raw))
}

func TestPushExistingRepo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/repos/create" {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0, zap.NewNop())
	err := c.Push(context.Background(), Upload{Username: "a", Token: "t", Repo: "r", Path: "p"})
	assert.NoError(t, err)
}

func TestPushRejectedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0, zap.NewNop())
	err := c.Push(context.Background(), Upload{Username: "a", Token: "bad", Repo: "r", Path: "p"})
	assert.ErrorIs(t, err, ErrUnauthorized)

	err = c.Push(context.Background(), Upload{Repo: "r"})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestPushServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/repos/create" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0, zap.NewNop())
	err := c.Push(context.Background(), Upload{Username: "a", Token: "t", Repo: "r", Path: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "boom")
}
