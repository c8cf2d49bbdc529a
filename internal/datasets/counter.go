// Package datasets tracks how close a project is to a usable SFT or DPO
// dataset and exports the data once it is.
package datasets

import (
	"context"
	"fmt"
	"sync"

	"github.com/kmrasmussen/intersebd-sub000/internal/apiclient"
	"github.com/kmrasmussen/intersebd-sub000/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultThreshold is the row count at which exports unlock
const DefaultThreshold = 10

// API is the part of the REST client the counter and exporter call
type API interface {
	DatasetCount(ctx context.Context, projectID string, kind models.DatasetKind) (int, error)
	OpenDataset(ctx context.Context, projectID string, kind models.DatasetKind) (*apiclient.Download, error)
	PushDataset(ctx context.Context, projectID string, kind models.DatasetKind, req models.PushRequest) (*models.PushResult, error)
}

// IsReady is the whole readiness rule
func IsReady(count, threshold int) bool {
	return count >= threshold
}

// Counter holds both dataset counts of one project
type Counter struct {
	api       API
	projectID string
	logger    *zap.Logger

	mu        sync.RWMutex
	sftCount  int
	dpoCount  int
	threshold int
	errors    map[models.DatasetKind]string
}

// NewCounter creates a counter with zero counts
func NewCounter(api API, projectID string, threshold int, logger *zap.Logger) *Counter {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Counter{
		api:       api,
		projectID: projectID,
		threshold: threshold,
		logger:    logger,
		errors:    make(map[models.DatasetKind]string),
	}
}

// RefreshSFT refetches the SFT count
func (c *Counter) RefreshSFT(ctx context.Context) error {
	return c.refresh(ctx, models.DatasetSFT)
}

// RefreshDPO refetches the DPO count
func (c *Counter) RefreshDPO(ctx context.Context) error {
	return c.refresh(ctx, models.DatasetDPO)
}

// Refresh refetches both counts concurrently. A failure of one leaves the
// other's result in place.
func (c *Counter) Refresh(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { return c.RefreshSFT(ctx) })
	g.Go(func() error { return c.RefreshDPO(ctx) })
	return g.Wait()
}

func (c *Counter) refresh(ctx context.Context, kind models.DatasetKind) error {
	n, err := c.api.DatasetCount(ctx, c.projectID, kind)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.errors[kind] = apiclient.Message(err)
		c.logger.Warn("Failed to refresh dataset count",
			zap.String("kind", string(kind)),
			zap.Error(err))
		return fmt.Errorf("failed to refresh %s count: %w", kind, err)
	}
	delete(c.errors, kind)
	switch kind {
	case models.DatasetSFT:
		c.sftCount = n
	case models.DatasetDPO:
		c.dpoCount = n
	}
	return nil
}

// SetThreshold changes the threshold locally. No network call.
func (c *Counter) SetThreshold(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threshold = n
}

// Readiness returns the current counts and threshold
func (c *Counter) Readiness() models.DatasetReadiness {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return models.DatasetReadiness{
		SFTCount:          c.sftCount,
		DPOCount:          c.dpoCount,
		RequiredThreshold: c.threshold,
	}
}

// Errors returns the last refresh error per dataset kind
func (c *Counter) Errors() map[models.DatasetKind]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[models.DatasetKind]string, len(c.errors))
	for k, v := range c.errors {
		out[k] = v
	}
	return out
}

func (c *Counter) IsSFTReady() bool {
	r := c.Readiness()
	return IsReady(r.SFTCount, r.RequiredThreshold)
}

func (c *Counter) IsDPOReady() bool {
	r := c.Readiness()
	return IsReady(r.DPOCount, r.RequiredThreshold)
}

// Ready reports readiness of kind
func (c *Counter) Ready(kind models.DatasetKind) bool {
	if kind == models.DatasetDPO {
		return c.IsDPOReady()
	}
	return c.IsSFTReady()
}
