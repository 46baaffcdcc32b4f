package syncq

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msvignesh01/eduflow/internal/auth"
	"github.com/msvignesh01/eduflow/internal/connectivity"
	"github.com/msvignesh01/eduflow/internal/errors"
	"github.com/msvignesh01/eduflow/internal/localstore"
	"github.com/msvignesh01/eduflow/internal/remote"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	q      *Queue
	store  *localstore.Store
	remote *remote.MemStore
	conn   *connectivity.Manual
	clock  *clock
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	clk := &clock{t: time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)}
	store, err := localstore.Open(localstore.NewMemMedium(), localstore.Options{Now: clk.Now})
	require.NoError(t, err)
	return newHarnessOn(t, store, clk, opts)
}

func newHarnessOn(t *testing.T, store *localstore.Store, clk *clock, opts Options) *harness {
	t.Helper()
	h := &harness{store: store, remote: remote.NewMemStore(), conn: connectivity.NewManual(true), clock: clk}
	opts.Store = store
	opts.Remote = h.remote
	opts.Connectivity = h.conn
	if opts.Session == nil {
		opts.Session = auth.Static{ID: "user-1"}
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Millisecond
	}
	opts.Now = clk.Now
	opts.Logger = zerolog.Nop()

	q, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(q.Close)
	h.q = q
	return h
}

func save(id string, data remote.Document) Mutation {
	return Mutation{Collection: "user_data", DocID: id, Action: Create, Payload: data}
}

func TestNew_RejectsOverlappingCollections(t *testing.T) {
	store, err := localstore.Open(localstore.NewMemMedium(), localstore.Options{})
	require.NoError(t, err)

	for _, cols := range [][]string{
		{"study", "study_sessions"},
		{"notes", "notes"},
		{"syncq/x"},
	} {
		_, err := New(Options{Store: store, Collections: cols, ManualDrain: true})
		assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "%v: got %v", cols, err)
	}
}

// study/sessions_1 and study_sessions/1 share a document key. The second
// enqueue must not replace the first document's pending create.
func TestEnqueue_KeyCollisionIsRejected(t *testing.T) {
	h := newHarness(t, Options{ManualDrain: true})
	ctx := context.Background()

	_, err := h.q.Enqueue(ctx, Mutation{Collection: "study_sessions", DocID: "1", Action: Create, Payload: remote.Document{"score": 9}})
	require.NoError(t, err)

	_, err = h.q.Enqueue(ctx, Mutation{Collection: "study", DocID: "sessions_1", Action: Delete})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)

	items := h.q.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "study_sessions", items[0].Collection)
	assert.Equal(t, "1", items[0].DocID)
	assert.Equal(t, Create, items[0].Action)

	res, err := h.q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	doc, ok := h.remote.Get("study_sessions", "1")
	require.True(t, ok)
	assert.EqualValues(t, 9, doc["score"])
}

func TestEnqueue_Validation(t *testing.T) {
	h := newHarness(t, Options{ManualDrain: true, Collections: []string{"user_data"}})
	ctx := context.Background()

	tests := []struct {
		name string
		m    Mutation
	}{
		{"missing collection", Mutation{DocID: "1", Action: Create, Payload: remote.Document{}}},
		{"missing id", Mutation{Collection: "user_data", Action: Create, Payload: remote.Document{}}},
		{"unknown collection", Mutation{Collection: "quizzes", DocID: "1", Action: Create, Payload: remote.Document{}}},
		{"bad action", Mutation{Collection: "user_data", DocID: "1", Action: "upsert", Payload: remote.Document{}}},
		{"missing payload", Mutation{Collection: "user_data", DocID: "1", Action: Update}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.q.Enqueue(ctx, tt.m)
			assert.True(t, errors.Is(err, errors.ErrInvalidRequest), "got %v", err)
		})
	}

	_, err := h.q.Enqueue(ctx, Mutation{Collection: "user_data", DocID: "1", Action: Delete})
	assert.NoError(t, err, "deletes need no payload")
}

func TestEnqueue_CollapsesPerKey(t *testing.T) {
	h := newHarness(t, Options{ManualDrain: true})
	ctx := context.Background()

	first, err := h.q.Enqueue(ctx, save("7", remote.Document{"v": 1}))
	require.NoError(t, err)
	second, err := h.q.Enqueue(ctx, Mutation{Collection: "user_data", DocID: "7", Action: Update, Payload: remote.Document{"v": 2}})
	require.NoError(t, err)
	_, err = h.q.Enqueue(ctx, save("8", remote.Document{"v": 1}))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "replacing keeps the item identity")
	assert.Equal(t, 2, second.Revision)

	items := h.q.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "user_data_7", items[0].Key)
	assert.Equal(t, Update, items[0].Action)
	assert.Equal(t, 2, items[0].Payload["v"])
	assert.Equal(t, 2, h.q.Status().Pending)
	assert.True(t, h.q.HasPending("user_data", "7"))
	assert.False(t, h.q.HasPending("user_data", "9"))
}

func TestEnqueue_CopiesPayload(t *testing.T) {
	h := newHarness(t, Options{ManualDrain: true})
	payload := remote.Document{"v": 1}
	_, err := h.q.Enqueue(context.Background(), save("1", payload))
	require.NoError(t, err)

	payload["v"] = 99
	it, ok := h.q.Lookup("user_data_1")
	require.True(t, ok)
	assert.Equal(t, 1, it.Payload["v"])
}

func TestDrain_EmptyQueueIsIdempotent(t *testing.T) {
	h := newHarness(t, Options{ManualDrain: true})

	res, err := h.q.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Synced)
	assert.Equal(t, 0, res.Remaining)
	assert.Empty(t, res.Errors)
	assert.NotNil(t, res.Errors)
	assert.Equal(t, 0, h.remote.Writes)
}

func TestDrain_DeliversAndStamps(t *testing.T) {
	h := newHarness(t, Options{ManualDrain: true})
	ctx := context.Background()

	_, err := h.q.Enqueue(ctx, save("1", remote.Document{"score": 90}))
	require.NoError(t, err)

	res, err := h.q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, 0, res.Remaining)
	require.Len(t, res.Delivered, 1)
	assert.True(t, res.Delivered[0].Synced)

	doc, ok := h.remote.Get("user_data", "1")
	require.True(t, ok)
	assert.Equal(t, 90, doc["score"])
	assert.Equal(t, "user-1", doc[remote.FieldUserID])
	assert.Equal(t, "2026-02-01T08:00:00Z", doc[remote.FieldSyncedAt])

	assert.Empty(t, h.q.Items())
	assert.Empty(t, h.store.Keys(StorePrefix))
	assert.Equal(t, h.clock.Now(), h.q.Status().LastSync)
}

// A create followed by a delete before any drain reaches the remote as a
// single delete.
func TestDrain_DeleteSupersedesCreate(t *testing.T) {
	h := newHarness(t, Options{ManualDrain: true})
	ctx := context.Background()

	require.NoError(t, h.remote.Put(ctx, "user_data", "7", remote.Document{remote.FieldUserID: "user-1"}))
	writesBefore := h.remote.Writes

	_, err := h.q.Enqueue(ctx, save("7", remote.Document{"title": "draft"}))
	require.NoError(t, err)
	_, err = h.q.Enqueue(ctx, Mutation{Collection: "user_data", DocID: "7", Action: Delete})
	require.NoError(t, err)

	res, err := h.q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, 1, h.remote.Writes-writesBefore, "one remote call, not create then delete")

	_, ok := h.remote.Get("user_data", "7")
	assert.False(t, ok)
}

// Three failed attempts with MaxRetries=2 leave the item queued with one
// error, and Drain itself does not fail.
func TestDrain_ExhaustedRetriesStayQueued(t *testing.T) {
	h := newHarness(t, Options{ManualDrain: true, MaxRetries: 2})
	ctx := context.Background()

	attempts := 0
	h.remote.Fail = func(string, string) error {
		attempts++
		return fmt.Errorf("503 unavailable")
	}

	_, err := h.q.Enqueue(ctx, save("1", remote.Document{"v": 1}))
	require.NoError(t, err)

	res, err := h.q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 0, res.Synced)
	assert.Equal(t, 1, res.Remaining)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "user_data_1", res.Errors[0].Key)
	assert.Equal(t, 3, res.Errors[0].Attempts)
	assert.Equal(t, string(errors.ErrSyncItemFailed), res.Errors[0].Code)

	it, ok := h.q.Lookup("user_data_1")
	require.True(t, ok)
	assert.False(t, it.Synced)
	assert.Equal(t, 2, it.RetryCount)
	assert.Equal(t, 1, it.Passes)
	assert.Contains(t, it.LastError, "503")
	assert.Equal(t, Pending, it.State)

	st := h.q.Status()
	assert.Len(t, st.Errors, 1)
	assert.True(t, st.LastSync.IsZero())

	// The next drain retries it.
	h.remote.Fail = nil
	res, err = h.q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Empty(t, h.q.Status().Errors)
}

func TestDrain_NoRetries(t *testing.T) {
	h := newHarness(t, Options{ManualDrain: true, MaxRetries: NoRetries})
	attempts := 0
	h.remote.Fail = func(string, string) error {
		attempts++
		return fmt.Errorf("down")
	}
	_, err := h.q.Enqueue(context.Background(), save("1", remote.Document{}))
	require.NoError(t, err)

	_, err = h.q.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestDrain_InvalidRequestIsNotRetried(t *testing.T) {
	h := newHarness(t, Options{ManualDrain: true, MaxRetries: 3})
	attempts := 0
	h.remote.Fail = func(string, string) error {
		attempts++
		return errors.NewInvalidRequest("document too large")
	}
	_, err := h.q.Enqueue(context.Background(), save("1", remote.Document{}))
	require.NoError(t, err)

	res, err := h.q.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0].Error, "document too large")
}

func TestDrain_PartialFailure(t *testing.T) {
	h := newHarness(t, Options{ManualDrain: true, MaxRetries: 1})
	ctx := context.Background()
	h.remote.Fail = func(_, id string) error {
		if id == "bad" {
			return fmt.Errorf("rejected")
		}
		return nil
	}

	for _, id := range []string{"a", "bad", "c"} {
		_, err := h.q.Enqueue(ctx, save(id, remote.Document{"id": id}))
		require.NoError(t, err)
	}

	res, err := h.q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Synced)
	assert.Equal(t, 1, res.Remaining)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "user_data_bad", res.Errors[0].Key)
}

func TestDrain_SkipsWhenOfflineOrSignedOut(t *testing.T) {
	h := newHarness(t, Options{ManualDrain: true})
	_, err := h.q.Enqueue(context.Background(), save("1", remote.Document{}))
	require.NoError(t, err)

	h.conn.Set(false)
	res, err := h.q.Drain(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, "offline", res.Reason)
	assert.Equal(t, 1, res.Remaining)
	assert.Equal(t, 0, h.remote.Writes)

	signedOut := newHarness(t, Options{ManualDrain: true, Session: auth.Static{}})
	_, err = signedOut.q.Enqueue(context.Background(), save("1", remote.Document{}))
	require.NoError(t, err)
	res, err = signedOut.q.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "signed out", res.Reason)
}

func TestDrain_RequiresRemote(t *testing.T) {
	store, err := localstore.Open(localstore.NewMemMedium(), localstore.Options{})
	require.NoError(t, err)
	q, err := New(Options{Store: store, ManualDrain: true})
	require.NoError(t, err)
	defer q.Close()

	_, err = q.Drain(context.Background())
	assert.True(t, errors.Is(err, errors.ErrNotConfigured))
}

func TestDrain_SnapshotExcludesItemsEnqueuedDuringPass(t *testing.T) {
	h := newHarness(t, Options{ManualDrain: true})
	ctx := context.Background()

	_, err := h.q.Enqueue(ctx, save("1", remote.Document{}))
	require.NoError(t, err)

	enqueued := false
	h.remote.Fail = func(_, id string) error {
		if !enqueued {
			enqueued = true
			if _, err := h.q.Enqueue(ctx, save("2", remote.Document{})); err != nil {
				return err
			}
		}
		return nil
	}

	res, err := h.q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, 1, res.Remaining)
	assert.True(t, h.q.HasPending("user_data", "2"))
}

func TestDrain_ReplacedDuringDeliveryIsKept(t *testing.T) {
	h := newHarness(t, Options{ManualDrain: true})
	ctx := context.Background()

	_, err := h.q.Enqueue(ctx, save("1", remote.Document{"v": 1}))
	require.NoError(t, err)

	replaced := false
	h.remote.Fail = func(string, string) error {
		if !replaced {
			replaced = true
			_, err := h.q.Enqueue(ctx, Mutation{Collection: "user_data", DocID: "1", Action: Update, Payload: remote.Document{"v": 2}})
			return err
		}
		return nil
	}

	res, err := h.q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)

	it, ok := h.q.Lookup("user_data_1")
	require.True(t, ok, "the newer revision still needs delivery")
	assert.Equal(t, 2, it.Revision)
	assert.Equal(t, 2, it.Payload["v"])
}

func TestDrain_ConcurrentRequestIsNoop(t *testing.T) {
	h := newHarness(t, Options{ManualDrain: true})
	ctx := context.Background()
	_, err := h.q.Enqueue(ctx, save("1", remote.Document{}))
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.remote.Fail = func(string, string) error {
		close(entered)
		<-release
		return nil
	}

	done := make(chan DrainResult)
	go func() {
		res, _ := h.q.Drain(ctx)
		done <- res
	}()
	<-entered

	assert.True(t, h.q.Status().Syncing)
	res, err := h.q.Drain(ctx)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	close(release)
	first := <-done
	assert.Equal(t, 1, first.Synced)
	assert.False(t, h.q.Status().Syncing)
}

func TestDrain_Cancelled(t *testing.T) {
	h := newHarness(t, Options{ManualDrain: true, MaxRetries: 5, RetryDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	h.remote.Fail = func(string, string) error {
		cancel()
		return fmt.Errorf("down")
	}
	_, err := h.q.Enqueue(context.Background(), save("1", remote.Document{}))
	require.NoError(t, err)

	_, err = h.q.Drain(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	it, ok := h.q.Lookup("user_data_1")
	require.True(t, ok)
	assert.Equal(t, 0, it.Passes, "cancellation does not count as a failed pass")
}

func TestDeadLetter_MaxFailedPasses(t *testing.T) {
	h := newHarness(t, Options{ManualDrain: true, MaxRetries: NoRetries, MaxFailedPasses: 2})
	ctx := context.Background()
	h.remote.Fail = func(string, string) error { return fmt.Errorf("down") }

	_, err := h.q.Enqueue(ctx, save("1", remote.Document{}))
	require.NoError(t, err)

	for range 2 {
		_, err := h.q.Drain(ctx)
		require.NoError(t, err)
	}

	st := h.q.Status()
	assert.Equal(t, 0, st.Pending)
	require.Len(t, st.DeadLetters, 1)
	assert.Equal(t, Dead, st.DeadLetters[0].State)

	res, err := h.q.Drain(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Errors, "dead items are not attempted")

	h.remote.Fail = nil
	require.NoError(t, h.q.Requeue("user_data_1"))
	res, err = h.q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Empty(t, h.q.Status().DeadLetters)
}

func TestDeadLetter_MaxItemAge(t *testing.T) {
	h := newHarness(t, Options{ManualDrain: true, MaxItemAge: 24 * time.Hour})
	ctx := context.Background()

	_, err := h.q.Enqueue(ctx, save("old", remote.Document{}))
	require.NoError(t, err)
	h.clock.Advance(25 * time.Hour)
	_, err = h.q.Enqueue(ctx, save("new", remote.Document{}))
	require.NoError(t, err)

	res, err := h.q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	_, ok := h.remote.Get("user_data", "old")
	assert.False(t, ok)

	st := h.q.Status()
	require.Len(t, st.DeadLetters, 1)
	assert.Equal(t, "user_data_old", st.DeadLetters[0].Key)
	assert.Equal(t, "exceeded max age", st.DeadLetters[0].LastError)

	require.NoError(t, h.q.Discard("user_data_old"))
	assert.Empty(t, h.q.Items())
	assert.True(t, errors.Is(h.q.Discard("user_data_old"), errors.ErrNotFound))
	assert.True(t, errors.Is(h.q.Requeue("user_data_old"), errors.ErrNotFound))
}

func TestEnqueue_RevivesDeadItem(t *testing.T) {
	h := newHarness(t, Options{ManualDrain: true, MaxItemAge: time.Hour})
	ctx := context.Background()
	_, err := h.q.Enqueue(ctx, save("1", remote.Document{}))
	require.NoError(t, err)
	h.clock.Advance(2 * time.Hour)
	_, err = h.q.Drain(ctx)
	require.NoError(t, err)
	require.Len(t, h.q.Status().DeadLetters, 1)

	_, err = h.q.Enqueue(ctx, save("1", remote.Document{"v": 2}))
	require.NoError(t, err)
	assert.Empty(t, h.q.Status().DeadLetters)
	assert.Equal(t, 1, h.q.Status().Pending)
}

func TestClear(t *testing.T) {
	h := newHarness(t, Options{ManualDrain: true, MaxRetries: NoRetries})
	ctx := context.Background()
	h.remote.Fail = func(string, string) error { return fmt.Errorf("down") }
	for _, id := range []string{"1", "2"} {
		_, err := h.q.Enqueue(ctx, save(id, remote.Document{}))
		require.NoError(t, err)
	}
	_, err := h.q.Drain(ctx)
	require.NoError(t, err)

	n, err := h.q.Clear()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, h.q.Items())
	assert.Empty(t, h.q.Status().Errors)
	assert.Empty(t, h.store.Keys(StorePrefix))
}

func TestQueue_SurvivesRestart(t *testing.T) {
	h := newHarness(t, Options{ManualDrain: true})
	ctx := context.Background()
	_, err := h.q.Enqueue(ctx, save("1", remote.Document{"v": 1}))
	require.NoError(t, err)
	_, err = h.q.Enqueue(ctx, Mutation{Collection: "preferences", DocID: "theme", Action: Delete})
	require.NoError(t, err)

	// Clearing the store keeps the pinned queue entries.
	_, err = h.store.Clear()
	require.NoError(t, err)

	reopened := newHarnessOn(t, h.store, h.clock, Options{ManualDrain: true})
	items := reopened.q.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "preferences_theme", items[0].Key)
	assert.Equal(t, Delete, items[0].Action)
	assert.Equal(t, float64(1), items[1].Payload["v"])

	res, err := reopened.q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Synced)
}

func TestAutoDrain_OnEnqueueAndReconnect(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	_, err := h.q.Enqueue(ctx, save("1", remote.Document{}))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return len(h.q.Items()) == 0 }, 2*time.Second, 5*time.Millisecond)

	h.conn.Set(false)
	_, err = h.q.Enqueue(ctx, save("2", remote.Document{}))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.True(t, h.q.HasPending("user_data", "2"), "nothing drains while offline")

	h.conn.Set(true)
	assert.Eventually(t, func() bool { return len(h.q.Items()) == 0 }, 2*time.Second, 5*time.Millisecond)
	_, ok := h.remote.Get("user_data", "2")
	assert.True(t, ok)
}
