// Package offline is the application-facing data API: writes land in the
// local store first and are queued for delivery, reads prefer the local copy.
package offline

import (
	"context"
	"encoding/json"
	"slices"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/msvignesh01/eduflow/internal/auth"
	"github.com/msvignesh01/eduflow/internal/config"
	"github.com/msvignesh01/eduflow/internal/connectivity"
	"github.com/msvignesh01/eduflow/internal/errors"
	"github.com/msvignesh01/eduflow/internal/localstore"
	"github.com/msvignesh01/eduflow/internal/remote"
	"github.com/msvignesh01/eduflow/internal/syncq"
)

// Options configures a Manager.
type Options struct {
	Store        *localstore.Store
	Queue        *syncq.Queue
	Remote       remote.Store
	Session      auth.Session
	Connectivity connectivity.Observer
	Collections  []string
	Logger       zerolog.Logger

	// ReservedPrefixes are local store key prefixes owned by other
	// components. A collection whose document keys fall under one is rejected.
	ReservedPrefixes []string
}

// DefaultCollections are used when Options.Collections is empty.
var DefaultCollections = []string{"user_data", "study_sessions", "preferences"}

// Manager is safe for concurrent use; it holds no state of its own.
type Manager struct {
	opts Options
}

// New returns a Manager.
func New(opts Options) (*Manager, error) {
	if opts.Store == nil || opts.Queue == nil {
		return nil, errors.NewInvalidRequest("offline: store and queue are required")
	}
	if len(opts.Collections) == 0 {
		opts.Collections = DefaultCollections
	}
	reserved := append([]string{syncq.StorePrefix}, opts.ReservedPrefixes...)
	if err := config.CheckCollections(opts.Collections, reserved...); err != nil {
		return nil, errors.NewInvalidRequest("offline: " + err.Error())
	}
	return &Manager{opts: opts}, nil
}

func (m *Manager) checkCollection(collection, id string) error {
	if collection == "" || id == "" {
		return errors.NewInvalidRequest("collection and id are required")
	}
	if !slices.Contains(m.opts.Collections, collection) {
		return errors.NewInvalidRequest("unknown collection: " + collection)
	}
	return nil
}

// Save writes data locally and queues it for delivery. action is Create or
// Update; empty means Create.
func (m *Manager) Save(ctx context.Context, collection, id string, data remote.Document, action syncq.Action) error {
	if err := m.checkCollection(collection, id); err != nil {
		return err
	}
	if action == "" {
		action = syncq.Create
	}
	if action == syncq.Delete {
		return errors.NewInvalidRequest("use Delete to remove documents")
	}
	if data == nil {
		data = remote.Document{}
	}

	key := syncq.Key(collection, id)
	if err := m.opts.Store.Set(key, data, localstore.InCollection(collection)); err != nil {
		return err
	}
	if _, err := m.opts.Queue.Enqueue(ctx, syncq.Mutation{Collection: collection, DocID: id, Action: action, Payload: data}); err != nil {
		return err
	}
	m.opts.Logger.Debug().Str("key", key).Str("action", string(action)).Msg("saved locally")
	return nil
}

// Delete removes the local copy and queues a remote delete.
func (m *Manager) Delete(ctx context.Context, collection, id string) error {
	if err := m.checkCollection(collection, id); err != nil {
		return err
	}
	key := syncq.Key(collection, id)
	if err := m.opts.Store.Remove(key); err != nil {
		return err
	}
	if _, err := m.opts.Queue.Enqueue(ctx, syncq.Mutation{Collection: collection, DocID: id, Action: syncq.Delete}); err != nil {
		return err
	}
	m.opts.Logger.Debug().Str("key", key).Msg("deleted locally")
	return nil
}

// Get returns the local copy of a document. Without one, and when online and
// signed in, it looks the document up among the user's remote documents and
// caches what it finds. A document with a pending delete is reported absent.
func (m *Manager) Get(ctx context.Context, collection, id string) (remote.Document, bool, error) {
	if err := m.checkCollection(collection, id); err != nil {
		return nil, false, err
	}
	key := syncq.Key(collection, id)

	var doc remote.Document
	ok, err := m.opts.Store.GetJSON(key, &doc)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return doc, true, nil
	}
	if it, queued := m.opts.Queue.Lookup(key); queued && it.Action == syncq.Delete {
		return nil, false, nil
	}

	if m.opts.Remote == nil || !m.online() || !m.authenticated() {
		return nil, false, nil
	}
	recs, err := m.opts.Remote.Query(ctx, collection, m.opts.Session.UserID())
	if err != nil {
		// The remote is a fallback here; its failure reads as a miss.
		m.opts.Logger.Warn().Str("key", key).Err(err).Msg("remote lookup failed")
		return nil, false, nil
	}
	for _, rec := range recs {
		if rec.ID != id {
			continue
		}
		if err := m.opts.Store.Set(key, rec.Data, localstore.InCollection(collection)); err != nil {
			m.opts.Logger.Warn().Str("key", key).Err(err).Msg("caching remote document failed")
		}
		return rec.Data, true, nil
	}
	return nil, false, nil
}

// List returns the ids of a collection's local documents.
func (m *Manager) List(collection string) ([]string, error) {
	if err := m.checkCollection(collection, "-"); err != nil {
		return nil, err
	}
	prefix := collection + "_"
	keys := m.opts.Store.Keys(prefix)
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k[len(prefix):])
	}
	return ids, nil
}

// ForceSync drains the queue now.
func (m *Manager) ForceSync(ctx context.Context) (syncq.DrainResult, error) {
	return m.opts.Queue.Drain(ctx)
}

func (m *Manager) online() bool {
	return m.opts.Connectivity == nil || m.opts.Connectivity.Online()
}

func (m *Manager) authenticated() bool {
	return m.opts.Session != nil && m.opts.Session.Authenticated()
}

// Export returns the local documents of every collection as JSON.
func (m *Manager) Export() ([]byte, error) {
	snap, err := m.snapshot()
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(snap, "", "  ")
}

func (m *Manager) snapshot() (*localstore.Snapshot, error) {
	var out *localstore.Snapshot
	for _, c := range m.opts.Collections {
		snap, err := m.opts.Store.Export(c + "_")
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = snap
			continue
		}
		for k, v := range snap.Items {
			out.Items[k] = v
		}
	}
	return out, nil
}

// ImportResult reports an Import.
type ImportResult struct {
	Imported int `json:"imported"`
	Queued   int `json:"queued"`
	Skipped  int `json:"skipped"`
}

// Import restores an Export. Each restored document is queued as an update
// so the remote store catches up; a drain follows when online.
func (m *Manager) Import(ctx context.Context, data []byte) (ImportResult, error) {
	var snap localstore.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return ImportResult{}, errors.NewInvalidRequest("invalid export: " + err.Error())
	}

	var res ImportResult
	keep := make(map[string]localstore.Item, len(snap.Items))
	for key, item := range snap.Items {
		if m.owning(key) == "" {
			res.Skipped++
			continue
		}
		keep[key] = item
	}
	snap.Items = keep

	n, err := m.opts.Store.Import(&snap)
	res.Imported = n
	if err != nil {
		return res, err
	}

	keys := make([]string, 0, len(keep))
	for k := range keep {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		item := keep[key]
		collection := m.owning(key)
		var doc remote.Document
		if err := json.Unmarshal(item.Data, &doc); err != nil || doc == nil {
			continue
		}
		id := key[len(collection)+1:]
		if _, err := m.opts.Queue.Enqueue(ctx, syncq.Mutation{Collection: collection, DocID: id, Action: syncq.Update, Payload: doc}); err != nil {
			return res, err
		}
		res.Queued++
	}
	m.opts.Logger.Info().Int("imported", res.Imported).Int("queued", res.Queued).Int("skipped", res.Skipped).Msg("imported offline data")
	return res, nil
}

// owning returns the collection a snapshot key belongs to, or "" for keys
// outside the document collections.
func (m *Manager) owning(key string) string {
	for _, c := range m.opts.Collections {
		if id, ok := strings.CutPrefix(key, c+"_"); ok && id != "" {
			return c
		}
	}
	return ""
}
