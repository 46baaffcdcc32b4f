package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msvignesh01/eduflow/internal/errors"
)

func TestStamp(t *testing.T) {
	now := time.Date(2026, 5, 4, 12, 30, 0, 0, time.UTC)
	in := Document{"score": 90}

	out := Stamp(in, "user-1", now)

	assert.Equal(t, "user-1", out[FieldUserID])
	assert.Equal(t, "2026-05-04T12:30:00Z", out[FieldUpdatedAt])
	assert.Equal(t, out[FieldUpdatedAt], out[FieldSyncedAt])
	assert.Equal(t, 90, out["score"])
	assert.NotContains(t, in, FieldUserID, "input is not modified")
}

func TestMemStore_PutMergesAndQueries(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()

	require.NoError(t, m.Put(ctx, "preferences", "p1", Document{FieldUserID: "u1", "theme": "dark"}))
	require.NoError(t, m.Put(ctx, "preferences", "p1", Document{"lang": "en"}))
	require.NoError(t, m.Put(ctx, "preferences", "p2", Document{FieldUserID: "u2", "theme": "light"}))

	doc, ok := m.Get("preferences", "p1")
	require.True(t, ok)
	assert.Equal(t, Document{FieldUserID: "u1", "theme": "dark", "lang": "en"}, doc)

	recs, err := m.Query(ctx, "preferences", "u1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "p1", recs[0].ID)

	require.NoError(t, m.Delete(ctx, "preferences", "p1"))
	require.NoError(t, m.Delete(ctx, "preferences", "p1"))
	_, ok = m.Get("preferences", "p1")
	assert.False(t, ok)
	assert.Equal(t, 5, m.Writes)
}

func TestMemStore_FailHook(t *testing.T) {
	m := NewMemStore()
	m.Fail = func(collection, id string) error {
		if id == "bad" {
			return fmt.Errorf("permission denied")
		}
		return nil
	}

	assert.Error(t, m.Put(context.Background(), "user_data", "bad", Document{}))
	assert.NoError(t, m.Put(context.Background(), "user_data", "good", Document{}))
	assert.Equal(t, 1, m.Writes)
}

func TestMemStore_Subscribe(t *testing.T) {
	ctx := context.Background()
	m := NewMemStore()

	var got []Change
	cancel, err := m.Subscribe(ctx, "study_sessions", "u1", func(c Change) { got = append(got, c) }, nil)
	require.NoError(t, err)

	require.NoError(t, m.Put(ctx, "study_sessions", "s1", Document{FieldUserID: "u1", "minutes": 25}))
	require.NoError(t, m.Put(ctx, "study_sessions", "s1", Document{"minutes": 30}))
	require.NoError(t, m.Put(ctx, "study_sessions", "s2", Document{FieldUserID: "u2"}))
	require.NoError(t, m.Put(ctx, "preferences", "p1", Document{FieldUserID: "u1"}))
	require.NoError(t, m.Delete(ctx, "study_sessions", "s1"))

	require.Len(t, got, 3)
	assert.Equal(t, Added, got[0].Type)
	assert.Equal(t, Modified, got[1].Type)
	assert.Equal(t, 30, got[1].Data["minutes"])
	assert.Equal(t, Removed, got[2].Type)
	assert.Equal(t, "s1", got[2].ID)

	cancel()
	assert.Equal(t, 0, m.Subscribers())
}

func TestMemStore_SubscribeEndsWithContext(t *testing.T) {
	m := NewMemStore()
	ctx, cancel := context.WithCancel(context.Background())
	_, err := m.Subscribe(ctx, "user_data", "u1", func(Change) {}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, m.Subscribers())

	cancel()
	assert.Eventually(t, func() bool { return m.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMemStore_BreakSubscriptions(t *testing.T) {
	m := NewMemStore()
	var gotErr error
	_, err := m.Subscribe(context.Background(), "user_data", "u1", func(Change) {}, func(err error) { gotErr = err })
	require.NoError(t, err)

	m.BreakSubscriptions(fmt.Errorf("quota exhausted"))
	assert.EqualError(t, gotErr, "quota exhausted")
	assert.Equal(t, 0, m.Subscribers())
}

// docServer is a minimal document service for HTTPStore tests.
type docServer struct {
	mu       sync.Mutex
	requests []string
	auth     []string
	bodies   []map[string]any
	feed     chan Change
}

func (d *docServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	d.requests = append(d.requests, r.Method+" "+r.URL.Path)
	d.auth = append(d.auth, r.Header.Get("Authorization"))
	d.mu.Unlock()

	switch {
	case r.URL.Path == "/v1/collections/user_data/changes":
		up := websocket.Upgrader{}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for ch := range d.feed {
			if err := conn.WriteJSON(ch); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
	case r.Method == http.MethodPatch && strings.HasPrefix(path.Base(r.URL.Path), "status-"):
		code, _ := strconv.Atoi(strings.TrimPrefix(path.Base(r.URL.Path), "status-"))
		http.Error(w, "nope", code)
	case r.Method == http.MethodPatch:
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		d.mu.Lock()
		d.bodies = append(d.bodies, body)
		d.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodDelete && r.URL.Path == "/v1/collections/user_data/documents/missing":
		http.NotFound(w, r)
	case r.Method == http.MethodDelete:
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodGet && r.URL.Query().Get("owner") == "u1":
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"documents":[{"id":"d1","data":{"userId":"u1","n":1}}]}`)
	default:
		http.Error(w, "boom", http.StatusInternalServerError)
	}
}

func newDocServer(t *testing.T) (*docServer, *HTTPStore) {
	t.Helper()
	d := &docServer{feed: make(chan Change)}
	srv := httptest.NewServer(d)
	t.Cleanup(srv.Close)

	s, err := NewHTTPStore(srv.URL+"/", "secret", srv.Client(), zerolog.Nop())
	require.NoError(t, err)
	return d, s
}

func TestNewHTTPStore_Validation(t *testing.T) {
	_, err := NewHTTPStore("", "", nil, zerolog.Nop())
	assert.True(t, errors.Is(err, errors.ErrNotConfigured))

	_, err = NewHTTPStore("ftp://example.com", "", nil, zerolog.Nop())
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestHTTPStore_PutDeleteQuery(t *testing.T) {
	ctx := context.Background()
	d, s := newDocServer(t)

	require.NoError(t, s.Put(ctx, "user_data", "d1", Document{"n": 1}))
	require.NoError(t, s.Delete(ctx, "user_data", "d1"))
	require.NoError(t, s.Delete(ctx, "user_data", "missing"), "missing documents are already deleted")

	recs, err := s.Query(ctx, "user_data", "u1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "d1", recs[0].ID)
	assert.Equal(t, "u1", recs[0].Data[FieldUserID])

	_, err = s.Query(ctx, "user_data", "nobody")
	assert.True(t, errors.Is(err, errors.ErrTransport))

	d.mu.Lock()
	defer d.mu.Unlock()
	assert.Equal(t, "PATCH /v1/collections/user_data/documents/d1", d.requests[0])
	assert.Equal(t, "DELETE /v1/collections/user_data/documents/d1", d.requests[1])
	assert.Equal(t, map[string]any{"data": map[string]any{"n": float64(1)}}, d.bodies[0])
	for _, a := range d.auth {
		assert.Equal(t, "Bearer secret", a)
	}
}

func TestHTTPStore_StatusMapping(t *testing.T) {
	ctx := context.Background()
	_, s := newDocServer(t)

	tests := []struct {
		status int
		want   errors.ErrorCode
	}{
		{http.StatusBadRequest, errors.ErrInvalidRequest},
		{http.StatusConflict, errors.ErrInvalidRequest},
		{http.StatusUnprocessableEntity, errors.ErrInvalidRequest},
		{http.StatusRequestTimeout, errors.ErrTransport},
		{http.StatusTooManyRequests, errors.ErrTransport},
		{http.StatusBadGateway, errors.ErrTransport},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.status), func(t *testing.T) {
			err := s.Put(ctx, "user_data", fmt.Sprintf("status-%d", tt.status), Document{"n": 1})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Contains(t, err.Error(), strconv.Itoa(tt.status))
		})
	}
}

func TestHTTPStore_Subscribe(t *testing.T) {
	d, s := newDocServer(t)

	changes := make(chan Change, 4)
	errs := make(chan error, 1)
	cancel, err := s.Subscribe(context.Background(), "user_data", "u1",
		func(c Change) { changes <- c },
		func(err error) { errs <- err })
	require.NoError(t, err)
	defer cancel()

	d.feed <- Change{Type: Added, ID: "d1", Data: Document{"n": 1}}
	d.feed <- Change{Type: Removed, Collection: "user_data", ID: "d1"}

	first := <-changes
	assert.Equal(t, Added, first.Type)
	assert.Equal(t, "user_data", first.Collection)
	assert.Equal(t, float64(1), first.Data["n"])
	assert.Equal(t, Removed, (<-changes).Type)

	close(d.feed)
	select {
	case err := <-errs:
		assert.True(t, errors.Is(err, errors.ErrTransport))
	case <-time.After(2 * time.Second):
		t.Fatal("feed end was not reported")
	}
}

func TestHTTPStore_SubscribeCancelIsQuiet(t *testing.T) {
	_, s := newDocServer(t)

	errs := make(chan error, 1)
	cancel, err := s.Subscribe(context.Background(), "user_data", "u1", func(Change) {}, func(err error) { errs <- err })
	require.NoError(t, err)

	cancel()
	select {
	case err := <-errs:
		t.Fatalf("unexpected error after cancel: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHTTPStore_SubscribeDialFailure(t *testing.T) {
	_, s := newDocServer(t)
	_, err := s.Subscribe(context.Background(), "preferences", "u1", func(Change) {}, nil)
	assert.True(t, errors.Is(err, errors.ErrTransport))
}
