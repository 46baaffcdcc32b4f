// Package router picks an AI backend per request, invokes it, and falls back
// through the remaining backends in priority order when calls fail.
package router

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/msvignesh01/eduflow/internal/connectivity"
	"github.com/msvignesh01/eduflow/internal/errors"
	"github.com/msvignesh01/eduflow/internal/health"
	"github.com/msvignesh01/eduflow/internal/provider"
)

// DefaultRequestTimeout bounds a single backend call.
const DefaultRequestTimeout = 30 * time.Second

// AutoSelector is the cache selector used when no backend is pinned.
const AutoSelector = "auto"

// Policy is the routing behavior set at construction. It is a value; per-call
// Options derive a modified copy rather than mutating it.
type Policy struct {
	// Fallback continues with the next candidate after a transport failure.
	Fallback bool
	// Force attempts a backend even when its health status says unavailable.
	Force bool
	// RequestTimeout bounds each backend call. Exceeding it counts as a
	// transport failure.
	RequestTimeout time.Duration
}

// DefaultPolicy enables fallback with the default request timeout.
func DefaultPolicy() Policy {
	return Policy{Fallback: true, RequestTimeout: DefaultRequestTimeout}
}

// Options adjusts a single invocation.
type Options struct {
	// Backend pins the first candidate.
	Backend provider.ID
	// Force and Fallback override the policy when set.
	Force    *bool
	Fallback *bool
	// Temperature and MaxTokens are passed to the backend untouched.
	Temperature *float64
	MaxTokens   int
	// NoCache skips the response cache for both lookup and store.
	NoCache bool
}

func (p Policy) with(o Options) Policy {
	if o.Force != nil {
		p.Force = *o.Force
	}
	if o.Fallback != nil {
		p.Fallback = *o.Fallback
	}
	if p.RequestTimeout <= 0 {
		p.RequestTimeout = DefaultRequestTimeout
	}
	return p
}

// Response is the result of one invocation.
type Response struct {
	Content string      `json:"content"`
	Backend provider.ID `json:"backend"`
	Model   string      `json:"model"`
	// Offline is true when the answer came from a backend that needs no network.
	Offline bool          `json:"offline"`
	Latency time.Duration `json:"latency"`
	// Confidence is an advisory estimate derived from backend tier and latency.
	Confidence float64         `json:"confidence"`
	Usage      *provider.Usage `json:"usage,omitempty"`
	Cached     bool            `json:"cached"`
}

// Cache stores responses keyed by prompt and backend selector.
type Cache interface {
	Lookup(prompt, selector string) (*Response, bool)
	Store(prompt, selector string, resp *Response)
}

// Config holds a Router's collaborators. Only Registry and Health are required.
type Config struct {
	Registry *provider.Registry
	Health   *health.Checker
	Policy   Policy
	Cache    Cache
	// Connectivity gates network backends. Nil means always online.
	Connectivity connectivity.Observer
	Logger       zerolog.Logger
}

// Router is safe for concurrent use.
type Router struct {
	reg    *provider.Registry
	health *health.Checker
	policy Policy
	cache  Cache
	conn   connectivity.Observer
	log    zerolog.Logger
}

// New builds a Router.
func New(cfg Config) *Router {
	if cfg.Policy.RequestTimeout <= 0 {
		cfg.Policy.RequestTimeout = DefaultRequestTimeout
	}
	return &Router{
		reg:    cfg.Registry,
		health: cfg.Health,
		policy: cfg.Policy,
		cache:  cfg.Cache,
		conn:   cfg.Connectivity,
		log:    cfg.Logger,
	}
}

// Policy returns the construction-time policy.
func (r *Router) Policy() Policy {
	return r.policy
}

func (r *Router) online() bool {
	return r.conn == nil || r.conn.Online()
}

func selector(o Options) string {
	if o.Backend != "" {
		return string(o.Backend)
	}
	return AutoSelector
}

func request(prompt string, o Options) provider.Request {
	return provider.Request{Prompt: prompt, Temperature: o.Temperature, MaxTokens: o.MaxTokens}
}

// Invoke generates a response for prompt. It fails with NO_BACKEND_AVAILABLE
// only after every candidate has been tried or excluded.
func (r *Router) Invoke(ctx context.Context, prompt string, opts Options) (*Response, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, errors.NewInvalidRequest("prompt is required")
	}
	if r.cache != nil && !opts.NoCache {
		if resp, ok := r.cache.Lookup(prompt, selector(opts)); ok {
			r.log.Debug().Str("backend", string(resp.Backend)).Msg("response cache hit")
			return resp, nil
		}
	}

	policy := r.policy.with(opts)
	ctx = provider.WithRequestID(ctx, uuid.NewString())
	req := request(prompt, opts)

	var resp *Response
	err := r.route(ctx, policy, opts.Backend, func(ctx context.Context, b provider.Backend, tr provider.Transport) error {
		callCtx, cancel := context.WithTimeout(ctx, policy.RequestTimeout)
		defer cancel()

		start := time.Now()
		res, err := tr.Generate(callCtx, req)
		if err != nil {
			return err
		}
		resp = newResponse(b, res.Content, res.Model, time.Since(start), res.Usage)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if r.cache != nil && !opts.NoCache {
		r.cache.Store(prompt, selector(opts), resp)
	}
	return resp, nil
}

func newResponse(b provider.Backend, content, model string, latency time.Duration, usage *provider.Usage) *Response {
	if model == "" {
		model = b.Model
	}
	return &Response{
		Content:    content,
		Backend:    b.ID,
		Model:      model,
		Offline:    !b.RequiresNetwork,
		Latency:    latency,
		Confidence: Confidence(b.Tier, latency),
		Usage:      usage,
	}
}

// attemptFunc performs one call against one backend.
type attemptFunc func(ctx context.Context, b provider.Backend, tr provider.Transport) error

// route runs the selection algorithm, calling attempt for each chosen
// candidate until one succeeds. No backend is attempted twice.
func (r *Router) route(ctx context.Context, policy Policy, pinned provider.ID, attempt attemptFunc) error {
	var (
		tried   = make(map[provider.ID]bool)
		order   []string
		lastErr error
	)
	reqLog := r.log.With().Str("request_id", provider.RequestIDFrom(ctx)).Logger()

	// try reports whether routing is finished: on success, or on failure
	// with fallback disabled.
	try := func(b provider.Backend) (done bool, err error) {
		_, tr, _ := r.reg.Lookup(b.ID)
		tried[b.ID] = true
		order = append(order, string(b.ID))

		callErr := attempt(ctx, b, tr)
		if callErr == nil {
			reqLog.Debug().Str("backend", string(b.ID)).Msg("backend call succeeded")
			return true, nil
		}
		lastErr = errors.NewTransport(string(b.ID), callErr)
		reqLog.Warn().Str("backend", string(b.ID)).Err(callErr).Msg("backend call failed")

		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		if !policy.Fallback {
			return true, errors.NewNoBackendAvailable(order, lastErr)
		}
		return false, nil
	}

	online := r.online()
	usable := func(b provider.Backend) bool {
		return online || !b.RequiresNetwork
	}

	// Pinned backend first.
	if pinned != "" {
		b, _, ok := r.reg.Lookup(pinned)
		if !ok {
			return errors.NewInvalidRequest("unknown backend: " + string(pinned))
		}
		if policy.Force || (usable(b) && r.health.Available(ctx, b.ID)) {
			if done, err := try(b); done {
				return err
			}
		}
	}

	// Healthy candidates by priority.
	for _, b := range r.reg.Backends() {
		if tried[b.ID] || !usable(b) {
			continue
		}
		if !r.health.Available(ctx, b.ID) {
			reqLog.Debug().Str("backend", string(b.ID)).Msg("skipping unavailable backend")
			continue
		}
		if done, err := try(b); done {
			return err
		}
	}

	// Nothing was healthy: forced calls go to the best network backend anyway.
	if len(order) == 0 && policy.Force {
		for _, b := range r.reg.Backends() {
			if !b.RequiresNetwork || tried[b.ID] {
				continue
			}
			if done, err := try(b); done {
				return err
			}
			break
		}
	}

	// Last resort: the local backend, whatever its health says.
	if b, ok := r.reg.Offline(); ok && !tried[b.ID] {
		if done, err := try(b); done {
			return err
		}
	}

	return errors.NewNoBackendAvailable(order, lastErr)
}

// BackendStatus is one row of Status.
type BackendStatus struct {
	Backend provider.Backend `json:"backend"`
	Known   bool             `json:"known"`
	Fresh   bool             `json:"fresh"`
	Health  health.Status    `json:"health"`
}

// RouterStatus describes the router's view of every backend.
type RouterStatus struct {
	Online   bool            `json:"online"`
	Policy   Policy          `json:"policy"`
	Backends []BackendStatus `json:"backends"`
}

// Status reports last-known health without probing.
func (r *Router) Status() RouterStatus {
	st := RouterStatus{Online: r.online(), Policy: r.policy}
	for _, b := range r.reg.Backends() {
		hs, known := r.health.Status(b.ID)
		st.Backends = append(st.Backends, BackendStatus{
			Backend: b,
			Known:   known,
			Fresh:   r.health.Fresh(b.ID),
			Health:  hs,
		})
	}
	return st
}

// ForceHealthCheck probes every backend now.
func (r *Router) ForceHealthCheck(ctx context.Context) map[provider.ID]bool {
	return r.health.RefreshAll(ctx)
}
