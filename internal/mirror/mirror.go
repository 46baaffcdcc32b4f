// Package mirror keeps local copies of the signed-in user's documents current
// by subscribing to remote change feeds. It is an optimization: the sync
// queue never depends on it, and its failures only show up in Status.
package mirror

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/msvignesh01/eduflow/internal/auth"
	"github.com/msvignesh01/eduflow/internal/connectivity"
	"github.com/msvignesh01/eduflow/internal/errors"
	"github.com/msvignesh01/eduflow/internal/localstore"
	"github.com/msvignesh01/eduflow/internal/remote"
	"github.com/msvignesh01/eduflow/internal/syncq"
)

// Options configures a Mirror.
type Options struct {
	Store        *localstore.Store
	Remote       remote.Store
	Session      auth.Session
	Connectivity connectivity.Observer
	Collections  []string
	// Pending, when set, reports documents with unsent local mutations.
	// Remote changes to those documents are not applied locally.
	Pending func(collection, id string) bool
	Now     func() time.Time
	Logger  zerolog.Logger
}

// CollectionStatus describes one collection's subscription.
type CollectionStatus struct {
	Collection string    `json:"collection"`
	Active     bool      `json:"active"`
	Applied    int       `json:"applied"`
	Skipped    int       `json:"skipped"`
	LastChange time.Time `json:"last_change,omitzero"`
	LastError  string    `json:"last_error,omitempty"`
	ErrorAt    time.Time `json:"error_at,omitzero"`
}

// Status is a snapshot of every subscription.
type Status struct {
	Running     bool               `json:"running"`
	Collections []CollectionStatus `json:"collections"`
}

// Mirror is safe for concurrent use.
type Mirror struct {
	opts Options

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	subs    map[string]func()
	status  map[string]*CollectionStatus
	unsub   func()
}

// New returns a stopped Mirror.
func New(opts Options) *Mirror {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &Mirror{
		opts:   opts,
		subs:   make(map[string]func()),
		status: make(map[string]*CollectionStatus),
	}
	for _, c := range opts.Collections {
		m.status[c] = &CollectionStatus{Collection: c}
	}
	return m
}

// Start subscribes every collection when online and authenticated, and
// follows connectivity transitions until Stop.
func (m *Mirror) Start(ctx context.Context) error {
	if m.opts.Store == nil || m.opts.Remote == nil {
		return errors.NewNotConfigured("mirror store and remote")
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	if m.opts.Connectivity != nil {
		m.unsub = m.opts.Connectivity.Subscribe(func(online bool) {
			if online {
				m.Ensure()
			} else {
				m.opts.Logger.Info().Msg("offline, pausing realtime mirror")
				m.dropAll()
			}
		})
	}
	m.mu.Unlock()

	m.Ensure()
	return nil
}

// Stop cancels every subscription.
func (m *Mirror) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	unsub := m.unsub
	m.unsub = nil
	m.cancel()
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	m.dropAll()
}

// Ensure subscribes any collection without a live subscription, such as one
// whose feed failed. It does nothing while stopped, offline or signed out.
func (m *Mirror) Ensure() {
	m.mu.Lock()
	if !m.running || !m.online() || !m.authenticated() {
		m.mu.Unlock()
		return
	}
	ctx := m.ctx
	owner := m.opts.Session.UserID()
	var missing []string
	for _, c := range m.opts.Collections {
		if _, ok := m.subs[c]; !ok {
			missing = append(missing, c)
		}
	}
	m.mu.Unlock()

	for _, c := range missing {
		m.subscribe(ctx, c, owner)
	}
}

func (m *Mirror) subscribe(ctx context.Context, collection, owner string) {
	cancel, err := m.opts.Remote.Subscribe(ctx, collection, owner,
		func(ch remote.Change) { m.apply(collection, ch) },
		func(err error) { m.failed(collection, err) },
	)
	if err != nil {
		m.failed(collection, err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		cancel()
		return
	}
	if prev, ok := m.subs[collection]; ok {
		prev()
	}
	m.subs[collection] = cancel
	m.status[collection].Active = true
	m.opts.Logger.Debug().Str("collection", collection).Msg("mirror subscribed")
}

func (m *Mirror) apply(collection string, ch remote.Change) {
	if ch.ID == "" {
		return
	}
	key := syncq.Key(collection, ch.ID)
	log := m.opts.Logger.With().Str("collection", collection).Str("key", key).Str("change", string(ch.Type)).Logger()

	if m.opts.Pending != nil && m.opts.Pending(collection, ch.ID) {
		log.Debug().Msg("local mutation pending, skipping remote change")
		m.record(collection, false, nil)
		return
	}

	var err error
	switch ch.Type {
	case remote.Added, remote.Modified:
		err = m.opts.Store.Set(key, ch.Data, localstore.InCollection(collection))
	case remote.Removed:
		err = m.opts.Store.Remove(key)
	default:
		log.Warn().Msg("ignoring unknown change type")
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("applying remote change failed")
	}
	m.record(collection, err == nil, err)
}

func (m *Mirror) record(collection string, applied bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.status[collection]
	if !ok {
		return
	}
	if applied {
		st.Applied++
		st.LastChange = m.opts.Now()
	} else if err == nil {
		st.Skipped++
	}
	if err != nil {
		st.LastError = err.Error()
		st.ErrorAt = m.opts.Now()
	}
}

// failed records a subscription failure. The collection is resubscribed by
// the next Ensure.
func (m *Mirror) failed(collection string, err error) {
	m.opts.Logger.Warn().Str("collection", collection).Err(err).Msg("mirror subscription failed")

	m.mu.Lock()
	cancel, ok := m.subs[collection]
	delete(m.subs, collection)
	if st, known := m.status[collection]; known {
		st.Active = false
		st.LastError = err.Error()
		st.ErrorAt = m.opts.Now()
	}
	m.mu.Unlock()

	if ok {
		cancel()
	}
}

func (m *Mirror) dropAll() {
	m.mu.Lock()
	subs := m.subs
	m.subs = make(map[string]func())
	for _, st := range m.status {
		st.Active = false
	}
	m.mu.Unlock()

	for _, cancel := range subs {
		cancel()
	}
}

func (m *Mirror) online() bool {
	return m.opts.Connectivity == nil || m.opts.Connectivity.Online()
}

func (m *Mirror) authenticated() bool {
	return m.opts.Session != nil && m.opts.Session.Authenticated()
}

// Status returns a snapshot of every collection's subscription.
func (m *Mirror) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{Running: m.running}
	for _, cs := range m.status {
		st.Collections = append(st.Collections, *cs)
	}
	sort.Slice(st.Collections, func(i, j int) bool { return st.Collections[i].Collection < st.Collections[j].Collection })
	return st
}

// Job returns a scheduler job that re-establishes failed subscriptions.
func (m *Mirror) Job(every time.Duration) syncq.Job {
	return syncq.Job{
		Name:  "mirror-ensure",
		Every: every,
		Run: func(context.Context) error {
			m.Ensure()
			return nil
		},
	}
}
