package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kmrasmussen/intersebd-sub000/internal/hub"
	"github.com/kmrasmussen/intersebd-sub000/internal/models"
	"github.com/kmrasmussen/intersebd-sub000/internal/repository"

	"go.uber.org/zap"
)

// bundleScore classifies the responses of one request. A response is
// positive with any reward-1 annotation, negative with a reward-0 annotation
// and no reward-1 annotation.
type bundleScore struct {
	positive  []repository.ResponseRow
	negative  []repository.ResponseRow
	annotated int
}

func scoreBundle(b repository.Bundle) bundleScore {
	var score bundleScore
	for _, resp := range b.Responses() {
		anns := b.Annotations[resp.AnnotationTargetID]
		if len(anns) == 0 {
			continue
		}
		score.annotated++
		hasOne, hasZero := false, false
		for _, a := range anns {
			switch a.Reward {
			case 1:
				hasOne = true
			case 0:
				hasZero = true
			}
		}
		switch {
		case hasOne:
			score.positive = append(score.positive, resp)
		case hasZero:
			score.negative = append(score.negative, resp)
		}
	}
	return score
}

func (s bundleScore) sftStatus() models.ReadinessStatus {
	switch {
	case len(s.positive) > 0:
		return models.StatusComplete
	case s.annotated > 0:
		return models.StatusPartial
	default:
		return models.StatusNone
	}
}

func (s bundleScore) dpoStatus() models.ReadinessStatus {
	switch {
	case len(s.positive) > 0 && len(s.negative) > 0:
		return models.StatusComplete
	case len(s.positive) > 0 || len(s.negative) > 0:
		return models.StatusPartial
	default:
		return models.StatusNone
	}
}

func (s bundleScore) pairs() int {
	return len(s.positive) * len(s.negative)
}

func sftLines(b repository.Bundle, score bundleScore) []models.SFTLine {
	base := b.Request.Model().Messages
	lines := make([]models.SFTLine, 0, len(score.positive))
	for _, resp := range score.positive {
		msgs := make([]models.SFTMessage, 0, len(base)+1)
		for _, m := range base {
			msgs = append(msgs, models.SFTMessage{Role: m.Role, Content: m.Content})
		}
		msgs = append(msgs, models.SFTMessage{Role: "assistant", Content: resp.Content})
		lines = append(lines, models.SFTLine{Messages: msgs})
	}
	return lines
}

func dpoLines(b repository.Bundle, score bundleScore) []models.DPOLine {
	input := models.DPOInput{Messages: b.Request.Model().Messages}
	lines := make([]models.DPOLine, 0, score.pairs())
	for _, pos := range score.positive {
		for _, neg := range score.negative {
			lines = append(lines, models.DPOLine{
				Input:              input,
				PreferredOutput:    []models.Message{{Role: "assistant", Content: pos.Content}},
				NonPreferredOutput: []models.Message{{Role: "assistant", Content: neg.Content}},
			})
		}
	}
	return lines
}

func (s *Service) projectBundles(ctx context.Context, user *models.UserIdentity, projectID string, kind models.DatasetKind) ([]repository.Bundle, error) {
	if !kind.Valid() {
		return nil, ErrNotFound
	}
	if err := s.authorize(ctx, user, projectID); err != nil {
		return nil, err
	}
	return s.repo.LoadBundles(ctx, projectID, "")
}

// DatasetCount returns the SFT-eligible request count or the DPO pair count
func (s *Service) DatasetCount(ctx context.Context, user *models.UserIdentity, projectID string, kind models.DatasetKind) (int, error) {
	bundles, err := s.projectBundles(ctx, user, projectID, kind)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, b := range bundles {
		score := scoreBundle(b)
		switch kind {
		case models.DatasetSFT:
			if len(score.positive) > 0 {
				count++
			}
		case models.DatasetDPO:
			count += score.pairs()
		}
	}
	return count, nil
}

// WriteDataset writes the dataset as JSON lines and returns the number of
// lines written. Requests are emitted oldest first.
func (s *Service) WriteDataset(ctx context.Context, user *models.UserIdentity, projectID string, kind models.DatasetKind, w io.Writer) (int, error) {
	bundles, err := s.projectBundles(ctx, user, projectID, kind)
	if err != nil {
		return 0, err
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	rows := 0
	for i := len(bundles) - 1; i >= 0; i-- {
		b := bundles[i]
		score := scoreBundle(b)
		var lines []interface{}
		switch kind {
		case models.DatasetSFT:
			for _, l := range sftLines(b, score) {
				lines = append(lines, l)
			}
		case models.DatasetDPO:
			for _, l := range dpoLines(b, score) {
				lines = append(lines, l)
			}
		}
		for _, l := range lines {
			if err := enc.Encode(l); err != nil {
				return rows, fmt.Errorf("failed to write dataset: %w", err)
			}
			rows++
		}
	}
	return rows, nil
}

// PushDataset uploads a dataset to the hub. With DoPush false it only
// reports what would be pushed. Credentials are used for this call only.
func (s *Service) PushDataset(ctx context.Context, user *models.UserIdentity, projectID string, kind models.DatasetKind, req models.PushRequest) (*models.PushResult, error) {
	username := strings.TrimSpace(req.HFUsername)
	if username == "" || strings.TrimSpace(req.HFWriteAccessToken) == "" {
		return nil, invalid("hf_username and hf_write_access_token are required")
	}

	var buf bytes.Buffer
	rows, err := s.WriteDataset(ctx, user, projectID, kind, &buf)
	if err != nil {
		return nil, err
	}

	short := projectID
	if len(short) > 8 {
		short = short[:8]
	}
	up := hub.Upload{
		Username: username,
		Token:    req.HFWriteAccessToken,
		Repo:     fmt.Sprintf("%s-dataset-%s", kind, short),
		Path:     "data/train.jsonl",
		Content:  buf.Bytes(),
		Summary:  fmt.Sprintf("Upload %s dataset (%d rows)", kind, rows),
	}
	result := &models.PushResult{RepoID: up.RepoID(), Rows: rows}

	if rows == 0 {
		return nil, invalid("the %s dataset is empty", kind)
	}
	if !req.DoPush {
		result.Message = "dry run, nothing pushed"
		return result, nil
	}
	if s.hub == nil {
		return nil, ErrUnavailable
	}

	if err := s.hub.Push(ctx, up); err != nil {
		if errors.Is(err, hub.ErrUnauthorized) {
			return nil, fmt.Errorf("%w: %v", ErrForbidden, err)
		}
		return nil, fmt.Errorf("push failed: %w", err)
	}

	result.Pushed = true
	result.Message = "pushed"
	s.logger.Info("Dataset pushed",
		zap.String("project_id", projectID),
		zap.String("kind", string(kind)),
		zap.String("repo", up.RepoID()),
		zap.Int("rows", rows))
	return result, nil
}
