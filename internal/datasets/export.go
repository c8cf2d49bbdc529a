package datasets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/kmrasmussen/intersebd-sub000/internal/models"

	"go.uber.org/zap"
)

var (
	// ErrNothingToExport is returned for an empty DPO export. No file is written.
	ErrNothingToExport = errors.New("nothing to export yet: annotate a preferred and a rejected response for the same request")
	// ErrMissingCredentials is returned by Push before any network call
	ErrMissingCredentials = errors.New("hub username and write token are required")
	ErrUnknownKind        = errors.New("unknown dataset kind")
)

// Credentials authorise a single hub push. They are passed per call and
// never kept.
type Credentials struct {
	Username   string
	WriteToken string
}

// Exporter downloads and pushes datasets of one project
type Exporter struct {
	api       API
	projectID string
	logger    *zap.Logger
}

// NewExporter creates an exporter for projectID
func NewExporter(api API, projectID string, logger *zap.Logger) *Exporter {
	return &Exporter{api: api, projectID: projectID, logger: logger}
}

// FallbackFilename is used when the server suggests no name
func FallbackFilename(kind models.DatasetKind, projectID string) string {
	return fmt.Sprintf("%s-dataset-%s.jsonl", kind, projectID)
}

// FilenameFromDisposition extracts a safe base name from a
// Content-Disposition header, or "" when there is none.
func FilenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	name := strings.TrimSpace(params["filename"])
	if name == "" {
		return ""
	}
	name = filepath.Base(filepath.Clean("/" + name))
	if name == "/" || name == "." || name == ".." {
		return ""
	}
	return name
}

// Download saves the dataset into dir and returns the written path. The
// body is streamed to a temporary file first so a failed or empty download
// never leaves a partial file behind.
func (e *Exporter) Download(ctx context.Context, kind models.DatasetKind, dir string) (string, error) {
	if !kind.Valid() {
		return "", ErrUnknownKind
	}

	dl, err := e.api.OpenDataset(ctx, e.projectID, kind)
	if err != nil {
		return "", fmt.Errorf("failed to download %s dataset: %w", kind, err)
	}
	defer dl.Body.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, dl.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s dataset: %w", kind, err)
	}

	if n == 0 && kind == models.DatasetDPO {
		e.logger.Info("DPO export is empty, nothing saved", zap.String("project_id", e.projectID))
		return "", ErrNothingToExport
	}

	name := FilenameFromDisposition(dl.ContentDisposition)
	if name == "" {
		name = FallbackFilename(kind, e.projectID)
	}
	path := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to save dataset: %w", err)
	}

	e.logger.Info("Dataset downloaded",
		zap.String("kind", string(kind)),
		zap.String("path", path),
		zap.Int64("bytes", n))
	return path, nil
}

// Push uploads a dataset to the hub. doPush=false asks the server for a dry
// run that builds the dataset without uploading.
func (e *Exporter) Push(ctx context.Context, kind models.DatasetKind, creds Credentials, doPush bool) (*models.PushResult, error) {
	if !kind.Valid() {
		return nil, ErrUnknownKind
	}
	if strings.TrimSpace(creds.Username) == "" || strings.TrimSpace(creds.WriteToken) == "" {
		return nil, ErrMissingCredentials
	}

	res, err := e.api.PushDataset(ctx, e.projectID, kind, models.PushRequest{
		HFUsername:         creds.Username,
		HFWriteAccessToken: creds.WriteToken,
		DoPush:             doPush,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to push %s dataset: %w", kind, err)
	}

	e.logger.Info("Dataset pushed",
		zap.String("kind", string(kind)),
		zap.String("repo_id", res.RepoID),
		zap.Bool("pushed", res.Pushed))
	return res, nil
}
