package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kmrasmussen/intersebd-sub000/internal/models"

	"go.uber.org/zap"
)

// ErrClosed is returned once the Context has been closed
var ErrClosed = errors.New("session context closed")

// Phase is where the identity bootstrap stands
type Phase int

const (
	PhaseLoading Phase = iota
	PhaseReady
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	default:
		return "loading"
	}
}

// State is exactly one of loading, ready (with a project) or failed
type State struct {
	Phase     Phase
	ProjectID string
	User      *models.UserIdentity
	Source    Source
	Err       error
}

// Context owns the resolved identity for the console's lifetime.
// Init at start, Clear at logout, Close at shutdown.
type Context struct {
	resolver *Resolver
	logger   *zap.Logger

	mu      sync.Mutex
	state   State
	gen     int
	done    chan struct{}
	cancel  context.CancelFunc
	closed  bool
	onReady []func(State)
}

// NewContext creates a Context in the loading phase
func NewContext(resolver *Resolver, logger *zap.Logger) *Context {
	return &Context{resolver: resolver, logger: logger}
}

// OnReady registers fn to run after every successful resolution
func (c *Context) OnReady(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReady = append(c.onReady, fn)
}

// State returns the current state without blocking
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Init resolves the identity once. Concurrent callers share the same run;
// later callers get the stored result.
func (c *Context) Init(ctx context.Context) (State, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return State{Phase: PhaseFailed, Err: ErrClosed}, ErrClosed
		}
		if c.state.Phase != PhaseLoading {
			s := c.state
			c.mu.Unlock()
			return s, s.Err
		}
		if c.done == nil {
			c.start()
		}
		done := c.done
		c.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return c.State(), ctx.Err()
		}
	}
}

// Retry discards a failed result so the next Init resolves from scratch.
// It is a no-op unless the last run failed and none is in flight, so it
// never retries within a single resolution.
func (c *Context) Retry() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.state.Phase != PhaseFailed || c.done != nil {
		return false
	}
	c.state = State{}
	c.logger.Info("Retrying identity bootstrap")
	return true
}

// start launches a resolution. Called with c.mu held.
func (c *Context) start() {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.gen++
	gen := c.gen
	c.done = done
	c.cancel = cancel

	go func() {
		defer close(done)
		defer cancel()

		out, err := c.resolver.Resolve(runCtx)

		c.mu.Lock()
		if c.closed || gen != c.gen {
			c.mu.Unlock()
			c.logger.Debug("Dropping stale identity result", zap.Int("generation", gen))
			return
		}
		if err != nil {
			c.state = State{Phase: PhaseFailed, Err: err}
			c.done = nil
			c.mu.Unlock()
			c.logger.Error("Identity bootstrap failed", zap.Error(err))
			return
		}
		c.state = State{
			Phase:     PhaseReady,
			ProjectID: out.ProjectID,
			User:      out.User,
			Source:    out.Source,
		}
		c.done = nil
		hooks := append([]func(State){}, c.onReady...)
		s := c.state
		c.mu.Unlock()

		c.logger.Info("Identity resolved",
			zap.String("project_id", out.ProjectID),
			zap.String("source", string(out.Source)))
		for _, fn := range hooks {
			fn(s)
		}
	}()
}

// Clear logs out, forgets the cached guest id and returns to loading. The
// local reset happens even when the logout call fails.
func (c *Context) Clear(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	c.done = nil
	c.cancel = nil
	c.state = State{}
	c.mu.Unlock()

	logoutErr := c.resolver.api.Logout(ctx)
	if logoutErr != nil {
		c.logger.Warn("Logout call failed", zap.Error(logoutErr))
	}
	c.resolver.api.SetGuestID("")
	if err := c.resolver.store.Delete(ctx, c.resolver.guestKey); err != nil {
		return fmt.Errorf("failed to discard cached guest id: %w", err)
	}
	if logoutErr != nil {
		return fmt.Errorf("failed to log out: %w", logoutErr)
	}
	return nil
}

// Close cancels any in-flight resolution and drops its result
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
}
