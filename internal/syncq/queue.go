// Package syncq is the durable write queue that delivers local mutations to
// the remote store. Items are collapsed per document, persisted in the local
// store, and retried with linear backoff on every drain until delivered.
package syncq

import (
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/msvignesh01/eduflow/internal/auth"
	"github.com/msvignesh01/eduflow/internal/config"
	"github.com/msvignesh01/eduflow/internal/connectivity"
	"github.com/msvignesh01/eduflow/internal/errors"
	"github.com/msvignesh01/eduflow/internal/localstore"
	"github.com/msvignesh01/eduflow/internal/remote"
)

// StorePrefix prefixes the local store keys queued items are persisted under.
const StorePrefix = "syncq/"

const storeCollection = "sync_queue"

// Defaults used when Options leaves a field zero.
const (
	DefaultMaxRetries      = 3
	DefaultRetryDelay      = time.Second
	DefaultMaxItemAge      = 7 * 24 * time.Hour
	DefaultMaxFailedPasses = 10
)

// NoRetries as Options.MaxRetries gives each item a single attempt per drain.
const NoRetries = -1

// Options configures a Queue.
type Options struct {
	Store  *localstore.Store
	Remote remote.Store
	// Session gates drains; nil means always authenticated as nobody.
	Session auth.Session
	// Connectivity gates drains; nil means always online.
	Connectivity connectivity.Observer

	// MaxRetries is the number of retries after the first attempt, per item
	// per drain. Zero selects the default; NoRetries disables retries.
	MaxRetries int
	// RetryDelay is the step of the linear backoff: retry n waits n*RetryDelay.
	RetryDelay time.Duration
	// MaxItemAge and MaxFailedPasses bound how long an item is retried before
	// it is dead-lettered.
	MaxItemAge      time.Duration
	MaxFailedPasses int
	// Collections, when set, restricts which collections may be enqueued.
	// Names whose document keys overlap are rejected by New.
	Collections []string
	// ManualDrain disables the drains triggered by Enqueue and by reconnecting.
	ManualDrain bool

	Now    func() time.Time
	Logger zerolog.Logger
}

// Queue is safe for concurrent use. Queue state is guarded by one mutex;
// drains are serialized by an in-progress flag and concurrent drain
// requests return immediately.
type Queue struct {
	opts Options

	mu       sync.Mutex
	items    map[string]*Item
	lastSync time.Time
	errs     []ItemError

	draining atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	unsub  func()
}

// New loads persisted items from the store and returns a Queue. Close
// releases its background drains and connectivity subscription.
func New(opts Options) (*Queue, error) {
	if opts.Store == nil {
		return nil, errors.NewInvalidRequest("syncq: store is required")
	}
	if err := config.CheckCollections(opts.Collections, StorePrefix); err != nil {
		return nil, errors.NewInvalidRequest("syncq: " + err.Error())
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.MaxItemAge <= 0 {
		opts.MaxItemAge = DefaultMaxItemAge
	}
	if opts.MaxFailedPasses <= 0 {
		opts.MaxFailedPasses = DefaultMaxFailedPasses
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		opts:   opts,
		items:  make(map[string]*Item),
		ctx:    ctx,
		cancel: cancel,
	}
	if err := q.load(); err != nil {
		cancel()
		return nil, err
	}

	if opts.Connectivity != nil && !opts.ManualDrain {
		q.unsub = opts.Connectivity.Subscribe(func(online bool) {
			if online {
				q.opts.Logger.Info().Msg("back online, draining sync queue")
				q.trigger()
			}
		})
	}
	return q, nil
}

func (q *Queue) load() error {
	for _, key := range q.opts.Store.Keys(StorePrefix) {
		var it Item
		ok, err := q.opts.Store.GetJSON(key, &it)
		if err != nil {
			q.opts.Logger.Warn().Str("key", key).Err(err).Msg("dropping unreadable sync item")
			if err := q.opts.Store.Remove(key); err != nil {
				return err
			}
			continue
		}
		if ok {
			q.items[it.Key] = &it
		}
	}
	if n := len(q.items); n > 0 {
		q.opts.Logger.Info().Int("items", n).Msg("restored sync queue")
	}
	return nil
}

// Close stops background drains and waits for any in flight to finish.
func (q *Queue) Close() {
	if q.unsub != nil {
		q.unsub()
	}
	q.cancel()
	q.wg.Wait()
}

func (q *Queue) online() bool {
	return q.opts.Connectivity == nil || q.opts.Connectivity.Online()
}

func (q *Queue) authenticated() bool {
	return q.opts.Session == nil || q.opts.Session.Authenticated()
}

func (q *Queue) owner() string {
	if q.opts.Session == nil {
		return ""
	}
	return q.opts.Session.UserID()
}

func (q *Queue) persistLocked(it *Item) error {
	return q.opts.Store.Set(StorePrefix+it.Key, it,
		localstore.NoExpiry(), localstore.Pinned(), localstore.InCollection(storeCollection))
}

func (q *Queue) dropLocked(key string) error {
	delete(q.items, key)
	return q.opts.Store.Remove(StorePrefix + key)
}

// Enqueue records m. A pending item for the same document is replaced: it
// takes m's action and payload and its retry state is reset. When online and
// authenticated a drain is started in the background.
func (q *Queue) Enqueue(ctx context.Context, m Mutation) (*Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := q.validate(m); err != nil {
		return nil, err
	}

	q.mu.Lock()
	now := q.opts.Now()
	key := Key(m.Collection, m.DocID)
	prev, exists := q.items[key]
	if exists && (prev.Collection != m.Collection || prev.DocID != m.DocID) {
		q.mu.Unlock()
		return nil, errors.NewInvalidRequest(fmt.Sprintf("%s/%s shares key %q with pending %s/%s",
			m.Collection, m.DocID, key, prev.Collection, prev.DocID))
	}

	it := &Item{
		ID:         ulid.Make().String(),
		Key:        key,
		Collection: m.Collection,
		DocID:      m.DocID,
		Action:     m.Action,
		Payload:    copyDoc(m.Payload),
		EnqueuedAt: now,
		Revision:   1,
		State:      Pending,
	}
	if exists {
		it.ID = prev.ID
		it.Revision = prev.Revision + 1
	}
	if err := q.persistLocked(it); err != nil {
		q.mu.Unlock()
		return nil, err
	}
	q.items[key] = it
	out := it.clone()
	q.mu.Unlock()

	ev := q.opts.Logger.Debug().Str("key", key).Str("action", string(m.Action))
	if exists {
		ev = ev.Int("revision", it.Revision).Str("replaced", string(prev.Action))
	}
	ev.Msg("enqueued mutation")

	if !q.opts.ManualDrain && q.online() && q.authenticated() {
		q.trigger()
	}
	return &out, nil
}

func (q *Queue) validate(m Mutation) error {
	if m.Collection == "" || m.DocID == "" {
		return errors.NewInvalidRequest("collection and id are required")
	}
	if len(q.opts.Collections) > 0 && !slices.Contains(q.opts.Collections, m.Collection) {
		return errors.NewInvalidRequest("unknown collection: " + m.Collection)
	}
	if !m.Action.valid() {
		return errors.NewInvalidRequest("invalid action: " + string(m.Action))
	}
	if m.Action != Delete && m.Payload == nil {
		return errors.NewInvalidRequest("payload is required for " + string(m.Action))
	}
	return nil
}

// trigger starts a background drain bound to the queue's lifetime.
func (q *Queue) trigger() {
	if q.ctx.Err() != nil {
		return
	}
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		res, err := q.Drain(q.ctx)
		if err != nil && q.ctx.Err() == nil {
			q.opts.Logger.Warn().Err(err).Msg("background drain failed")
			return
		}
		if !res.Skipped && (res.Synced > 0 || len(res.Errors) > 0) {
			q.opts.Logger.Info().Int("synced", res.Synced).Int("remaining", res.Remaining).Int("errors", len(res.Errors)).Msg("background drain finished")
		}
	}()
}

// Drain attempts every pending item queued when it starts. Items enqueued
// during the pass wait for the next one. A failed item stays queued with its
// error and is reported in the result and in Status; Drain itself only
// fails on cancellation or when no remote store is configured.
func (q *Queue) Drain(ctx context.Context) (DrainResult, error) {
	if !q.draining.CompareAndSwap(false, true) {
		return DrainResult{Skipped: true, Reason: "drain in progress", Remaining: q.pending()}, nil
	}
	defer q.draining.Store(false)

	if q.opts.Remote == nil {
		return DrainResult{}, errors.NewNotConfigured("remote store")
	}
	if !q.online() {
		return DrainResult{Skipped: true, Reason: "offline", Remaining: q.pending()}, nil
	}
	if !q.authenticated() {
		return DrainResult{Skipped: true, Reason: "signed out", Remaining: q.pending()}, nil
	}

	batch := q.snapshot()
	res := DrainResult{Errors: []ItemError{}}
	for _, it := range batch {
		if err := ctx.Err(); err != nil {
			res.Remaining = q.pending()
			return res, err
		}

		attempts, err := q.deliver(ctx, it)
		if err != nil && ctx.Err() != nil {
			// Cancellation is not the item's fault; leave it untouched.
			res.Remaining = q.pending()
			return res, ctx.Err()
		}
		if err != nil {
			ie := q.fail(it, attempts, err)
			res.Errors = append(res.Errors, ie)
			continue
		}
		q.succeed(it)
		delivered := it.clone()
		delivered.Synced = true
		res.Delivered = append(res.Delivered, delivered)
		res.Synced++
	}

	res.Remaining = q.pending()
	q.mu.Lock()
	q.errs = res.Errors
	if len(res.Errors) == 0 {
		q.lastSync = q.opts.Now()
	}
	q.mu.Unlock()

	if len(batch) > 0 {
		q.opts.Logger.Debug().Int("synced", res.Synced).Int("failed", len(res.Errors)).Int("remaining", res.Remaining).Msg("drain pass complete")
	}
	return res, nil
}

// snapshot returns copies of the pending items in enqueue order,
// dead-lettering any that are too old to keep retrying.
func (q *Queue) snapshot() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.opts.Now()
	var out []Item
	for _, it := range q.items {
		if it.State != Pending {
			continue
		}
		if now.Sub(it.EnqueuedAt) > q.opts.MaxItemAge {
			q.deadLocked(it, "exceeded max age")
			continue
		}
		out = append(out, it.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// deliver writes one item to the remote store, retrying with linear backoff.
func (q *Queue) deliver(ctx context.Context, it Item) (int, error) {
	attempts := 0
	op := func() (struct{}, error) {
		attempts++
		var err error
		switch it.Action {
		case Delete:
			err = q.opts.Remote.Delete(ctx, it.Collection, it.DocID)
		default:
			err = q.opts.Remote.Put(ctx, it.Collection, it.DocID, remote.Stamp(it.Payload, q.owner(), q.opts.Now()))
		}
		if errors.Is(err, errors.ErrInvalidRequest) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(&linearBackOff{step: q.opts.RetryDelay}),
		backoff.WithMaxTries(uint(q.opts.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			q.opts.Logger.Debug().Str("key", it.Key).Int("attempt", attempts).Dur("retry_in", next).Err(err).Msg("sync attempt failed")
		}),
	)
	var perm *backoff.PermanentError
	if stderrors.As(err, &perm) {
		err = perm.Unwrap()
	}
	return attempts, err
}

// succeed removes the delivered item unless it was replaced while in flight.
func (q *Queue) succeed(sent Item) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cur, ok := q.items[sent.Key]
	if !ok {
		return
	}
	if cur.Revision != sent.Revision {
		q.opts.Logger.Debug().Str("key", sent.Key).Msg("item replaced during delivery, keeping newer revision")
		return
	}
	if err := q.dropLocked(sent.Key); err != nil {
		q.opts.Logger.Error().Str("key", sent.Key).Err(err).Msg("removing synced item failed")
	}
}

// fail records a failed pass for the item and dead-letters it once it has
// failed too many passes.
func (q *Queue) fail(sent Item, attempts int, cause error) ItemError {
	synErr := errors.NewSyncItemFailed(sent.Collection, sent.DocID, attempts, cause)
	ie := ItemError{Key: sent.Key, Attempts: attempts, Error: synErr.Error(), Code: string(synErr.Code)}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.opts.Logger.Warn().Str("key", sent.Key).Int("attempts", attempts).Err(cause).Msg("sync item failed")

	cur, ok := q.items[sent.Key]
	if !ok || cur.Revision != sent.Revision {
		return ie
	}
	cur.RetryCount += attempts - 1
	cur.Passes++
	cur.LastError = cause.Error()
	cur.LastAttempt = q.opts.Now()
	if cur.Passes >= q.opts.MaxFailedPasses {
		q.deadLocked(cur, "exceeded max failed passes")
		return ie
	}
	if err := q.persistLocked(cur); err != nil {
		q.opts.Logger.Error().Str("key", cur.Key).Err(err).Msg("persisting sync item failed")
	}
	return ie
}

func (q *Queue) deadLocked(it *Item, reason string) {
	it.State = Dead
	if it.LastError == "" {
		it.LastError = reason
	}
	q.opts.Logger.Error().Str("key", it.Key).Int("passes", it.Passes).Str("reason", reason).Msg("sync item dead-lettered")
	if err := q.persistLocked(it); err != nil {
		q.opts.Logger.Error().Str("key", it.Key).Err(err).Msg("persisting sync item failed")
	}
}

func (q *Queue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, it := range q.items {
		if it.State == Pending {
			n++
		}
	}
	return n
}

// Status returns a snapshot of the queue.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := Status{
		Online:   q.online(),
		Syncing:  q.draining.Load(),
		LastSync: q.lastSync,
		Errors:   append([]ItemError{}, q.errs...),
	}
	for _, it := range q.items {
		switch it.State {
		case Pending:
			st.Pending++
		case Dead:
			st.DeadLetters = append(st.DeadLetters, it.clone())
		}
	}
	sort.Slice(st.DeadLetters, func(i, j int) bool { return st.DeadLetters[i].Key < st.DeadLetters[j].Key })
	return st
}

// Items returns copies of every queued item, pending and dead, ordered by key.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Item, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, it.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Lookup returns a copy of the item queued under key.
func (q *Queue) Lookup(key string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.items[key]
	if !ok {
		return Item{}, false
	}
	return it.clone(), true
}

// Requeue returns a dead or failing item to pending with fresh retry state.
func (q *Queue) Requeue(key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.items[key]
	if !ok {
		return errors.NewNotFound(key)
	}
	it.State = Pending
	it.Passes = 0
	it.RetryCount = 0
	it.LastError = ""
	it.EnqueuedAt = q.opts.Now()
	it.Revision++
	return q.persistLocked(it)
}

// Discard removes an item without delivering it. This is the only way a
// failed mutation leaves the queue undelivered.
func (q *Queue) Discard(key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.items[key]
	if !ok {
		return errors.NewNotFound(key)
	}
	q.opts.Logger.Warn().Str("key", key).Str("action", string(it.Action)).Msg("discarding sync item")
	return q.dropLocked(key)
}

// Clear removes every item and the current error list, returning how many
// items were removed.
func (q *Queue) Clear() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	keys := make([]string, 0, len(q.items))
	for k := range q.items {
		keys = append(keys, k)
	}
	for i, k := range keys {
		if err := q.dropLocked(k); err != nil {
			return i, err
		}
	}
	q.errs = nil
	return len(keys), nil
}

// HasPending reports whether a pending mutation exists for the document.
func (q *Queue) HasPending(collection, id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	it, ok := q.items[Key(collection, id)]
	return ok && it.State == Pending
}

// linearBackOff waits n*step before retry n.
type linearBackOff struct {
	step time.Duration
	n    int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	return time.Duration(b.n) * b.step
}

func (b *linearBackOff) Reset() { b.n = 0 }
