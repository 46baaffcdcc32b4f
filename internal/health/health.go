// Package health tracks the last-known liveness of every backend.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/msvignesh01/eduflow/internal/provider"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultFreshness = 30 * time.Second
	DefaultTimeout   = 3 * time.Second
)

// Status is the result of the latest probe of one backend.
type Status struct {
	Available bool          `json:"available"`
	CheckedAt time.Time     `json:"checked_at"`
	Latency   time.Duration `json:"latency"`
	Err       string        `json:"error,omitempty"`
}

// Options configures a Checker.
type Options struct {
	// Freshness is how long a probe result is trusted.
	Freshness time.Duration
	// Timeout bounds each probe. Keep it well below the request timeout.
	Timeout time.Duration
	Now     func() time.Time
	Logger  zerolog.Logger
}

// Checker probes backends and caches the results. Concurrent refreshes of the
// same backend share one probe; different backends are probed in parallel.
type Checker struct {
	reg  *provider.Registry
	opts Options

	mu       sync.RWMutex
	statuses map[provider.ID]Status

	group singleflight.Group
}

// New returns a Checker with no results yet; every backend starts stale.
func New(reg *provider.Registry, opts Options) *Checker {
	if opts.Freshness <= 0 {
		opts.Freshness = DefaultFreshness
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Checker{
		reg:      reg,
		opts:     opts,
		statuses: make(map[provider.ID]Status),
	}
}

// Status returns the last-known status of id.
func (c *Checker) Status(id provider.ID) (Status, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.statuses[id]
	return st, ok
}

// Fresh reports whether id has a result younger than the freshness window.
func (c *Checker) Fresh(id provider.ID) bool {
	st, ok := c.Status(id)
	return ok && c.opts.Now().Sub(st.CheckedAt) < c.opts.Freshness
}

// Snapshot returns a copy of every known status.
func (c *Checker) Snapshot() map[provider.ID]Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[provider.ID]Status, len(c.statuses))
	for id, st := range c.statuses {
		out[id] = st
	}
	return out
}

// Available returns the cached availability of id, refreshing it first when stale.
func (c *Checker) Available(ctx context.Context, id provider.ID) bool {
	if c.Fresh(id) {
		st, _ := c.Status(id)
		return st.Available
	}
	return c.Refresh(ctx, id)
}

// Refresh probes id now and records the result. Probe failures, including
// timeouts, mark the backend unavailable and are never returned.
func (c *Checker) Refresh(ctx context.Context, id provider.ID) bool {
	_, transport, ok := c.reg.Lookup(id)
	if !ok {
		return false
	}

	ch := c.group.DoChan(string(id), func() (any, error) {
		// The shared probe must not die with whichever caller started it.
		probeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.Timeout)
		defer cancel()

		start := time.Now()
		err := transport.Probe(probeCtx)
		st := Status{
			Available: err == nil,
			CheckedAt: c.opts.Now(),
			Latency:   time.Since(start),
		}
		if err != nil {
			st.Err = err.Error()
			c.opts.Logger.Warn().Str("backend", string(id)).Err(err).Msg("health probe failed")
		} else {
			c.opts.Logger.Debug().Str("backend", string(id)).Dur("latency", st.Latency).Msg("health probe ok")
		}

		c.mu.Lock()
		c.statuses[id] = st
		c.mu.Unlock()
		return st, nil
	})

	select {
	case res := <-ch:
		return res.Val.(Status).Available
	case <-ctx.Done():
		return false
	}
}

// RefreshAll probes every registered backend concurrently.
func (c *Checker) RefreshAll(ctx context.Context) map[provider.ID]bool {
	backends := c.reg.Backends()
	results := make([]bool, len(backends))

	var g errgroup.Group
	for i, b := range backends {
		g.Go(func() error {
			results[i] = c.Refresh(ctx, b.ID)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[provider.ID]bool, len(backends))
	for i, b := range backends {
		out[b.ID] = results[i]
	}
	return out
}
