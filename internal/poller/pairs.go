package poller

import (
	"context"
	"sync"
	"time"

	"github.com/kmrasmussen/intersebd-sub000/internal/apiclient"
	"github.com/kmrasmussen/intersebd-sub000/internal/models"

	"go.uber.org/zap"
)

// PairsAPI fetches the pairs shared under a viewing id
type PairsAPI interface {
	Pairs(ctx context.Context, viewingID string) (*models.PairList, error)
}

// PairSnapshot is the latest poll result
type PairSnapshot struct {
	ViewingID string                  `json:"viewing_id"`
	Pairs     []models.CompletionPair `json:"pairs"`
	Error     string                  `json:"error,omitempty"`
	UpdatedAt time.Time               `json:"updated_at"`
	Running   bool                    `json:"running"`
}

// PairViewer polls one viewing id at a time
type PairViewer struct {
	api      PairsAPI
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	handle *Handle
	snap   PairSnapshot
}

// NewPairViewer creates a stopped viewer
func NewPairViewer(api PairsAPI, interval time.Duration, logger *zap.Logger) *PairViewer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &PairViewer{api: api, interval: interval, logger: logger}
}

// Start begins polling viewingID, replacing any previous loop
func (v *PairViewer) Start(ctx context.Context, viewingID string) {
	v.Restart(ctx, viewingID)
}

// Restart stops the running loop before starting a new one
func (v *PairViewer) Restart(ctx context.Context, viewingID string) {
	v.Stop()

	v.mu.Lock()
	defer v.mu.Unlock()
	v.snap = PairSnapshot{ViewingID: viewingID, Running: true}
	v.handle = Start(ctx, v.interval, func(ctx context.Context) { v.poll(ctx, viewingID) })
	v.logger.Debug("Pair viewer started", zap.String("viewing_id", viewingID))
}

// Stop ends polling. The last snapshot is kept.
func (v *PairViewer) Stop() {
	v.mu.Lock()
	h := v.handle
	v.handle = nil
	v.mu.Unlock()

	if h != nil {
		h.Stop()
		v.mu.Lock()
		if v.handle == nil {
			v.snap.Running = false
		}
		v.mu.Unlock()
	}
}

func (v *PairViewer) poll(ctx context.Context, viewingID string) {
	list, err := v.api.Pairs(ctx, viewingID)
	if ctx.Err() != nil {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.snap.ViewingID != viewingID {
		return
	}
	v.snap.UpdatedAt = time.Now()
	if err != nil {
		v.snap.Error = apiclient.Message(err)
		v.logger.Debug("Pair poll failed", zap.String("viewing_id", viewingID), zap.Error(err))
		return
	}
	v.snap.Error = ""
	v.snap.Pairs = list.Pairs
}

// Snapshot returns the latest poll result
func (v *PairViewer) Snapshot() PairSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := v.snap
	out.Pairs = append([]models.CompletionPair(nil), v.snap.Pairs...)
	return out
}
