// Package connectivity reports whether the process can reach the network.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Observer reports the current connectivity state and notifies on transitions.
type Observer interface {
	Online() bool
	// Subscribe registers fn for online/offline transitions and returns a
	// function that unregisters it. fn runs on the goroutine that observed
	// the transition and must not block.
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// Manual is an Observer whose state is set explicitly.
type Manual struct {
	mu     sync.Mutex
	online bool
	subs   map[int]func(bool)
	nextID int
}

// NewManual returns a Manual starting in the given state.
func NewManual(online bool) *Manual {
	return &Manual{online: online, subs: make(map[int]func(bool))}
}

func (m *Manual) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *Manual) Subscribe(fn func(bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Set changes the state. Subscribers are notified only on a transition.
func (m *Manual) Set(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
}

// Poller derives connectivity from a HEAD request against a fixed URL.
// It has no loop of its own; the scheduler calls Check periodically.
type Poller struct {
	*Manual
	url     string
	timeout time.Duration
	hc      *http.Client
	log     zerolog.Logger
}

// NewPoller returns a Poller that assumes it is online until the first failed check.
func NewPoller(url string, timeout time.Duration, hc *http.Client, log zerolog.Logger) *Poller {
	if hc == nil {
		hc = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Poller{
		Manual:  NewManual(true),
		url:     url,
		timeout: timeout,
		hc:      hc,
		log:     log,
	}
}

// Check probes the URL once, updates the state and returns it.
// Any response, whatever its status, counts as online.
func (p *Poller) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	online := false
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err == nil {
		var resp *http.Response
		resp, err = p.hc.Do(req)
		if err == nil {
			resp.Body.Close()
			online = true
		}
	}

	if was := p.Online(); was != online {
		ev := p.log.Info().Bool("online", online).Str("url", p.url)
		if err != nil {
			ev = ev.Err(err)
		}
		ev.Msg("connectivity changed")
	}
	p.Set(online)
	return online
}
