package remote

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/msvignesh01/eduflow/internal/errors"
)

// MemStore is an in-process Store. Changes are delivered synchronously on the
// writing goroutine.
type MemStore struct {
	mu     sync.Mutex
	docs   map[string]map[string]Document
	subs   map[int]*memSub
	nextID int

	// Fail, when set, is consulted before every write; a non-nil result
	// fails the write.
	Fail func(collection, id string) error
	// Writes counts successful Put and Delete calls.
	Writes int
}

type memSub struct {
	collection string
	owner      string
	onChange   func(Change)
	onErr      func(error)
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		docs: make(map[string]map[string]Document),
		subs: make(map[int]*memSub),
	}
}

func (m *MemStore) Put(ctx context.Context, collection, id string, data Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.Fail != nil {
		if err := m.Fail(collection, id); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	coll, ok := m.docs[collection]
	if !ok {
		coll = make(map[string]Document)
		m.docs[collection] = coll
	}
	typ := Modified
	doc, ok := coll[id]
	if !ok {
		typ = Added
		doc = make(Document)
		coll[id] = doc
	}
	for k, v := range data {
		doc[k] = v
	}
	m.Writes++
	ch := Change{Type: typ, Collection: collection, ID: id, Data: copyDoc(doc), Timestamp: time.Now().UnixMilli()}
	subs := m.matching(collection, doc)
	m.mu.Unlock()

	for _, s := range subs {
		s.onChange(ch)
	}
	return nil
}

func (m *MemStore) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.Fail != nil {
		if err := m.Fail(collection, id); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	doc, ok := m.docs[collection][id]
	m.Writes++
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.docs[collection], id)
	ch := Change{Type: Removed, Collection: collection, ID: id, Timestamp: time.Now().UnixMilli()}
	subs := m.matching(collection, doc)
	m.mu.Unlock()

	for _, s := range subs {
		s.onChange(ch)
	}
	return nil
}

func (m *MemStore) Query(ctx context.Context, collection, owner string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Record
	for id, doc := range m.docs[collection] {
		if doc[FieldUserID] == owner {
			out = append(out, Record{ID: id, Data: copyDoc(doc)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) Subscribe(ctx context.Context, collection, owner string, onChange func(Change), onErr func(error)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if onChange == nil {
		return nil, errors.NewInvalidRequest("onChange is required")
	}
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = &memSub{collection: collection, owner: owner, onChange: onChange, onErr: onErr}
	m.mu.Unlock()

	drop := func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
	stop := context.AfterFunc(ctx, drop)
	return func() {
		stop()
		drop()
	}, nil
}

// Get returns a copy of one document.
func (m *MemStore) Get(collection, id string) (Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[collection][id]
	if !ok {
		return nil, false
	}
	return copyDoc(doc), true
}

// Subscribers returns the number of live subscriptions.
func (m *MemStore) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// BreakSubscriptions fails every live subscription with err and drops it.
func (m *MemStore) BreakSubscriptions(err error) {
	m.mu.Lock()
	subs := make([]*memSub, 0, len(m.subs))
	for id, s := range m.subs {
		subs = append(subs, s)
		delete(m.subs, id)
	}
	m.mu.Unlock()

	for _, s := range subs {
		if s.onErr != nil {
			s.onErr(err)
		}
	}
}

// matching returns subscribers for collection that own doc. Caller holds mu.
func (m *MemStore) matching(collection string, doc Document) []*memSub {
	var out []*memSub
	for _, s := range m.subs {
		if s.collection == collection && doc[FieldUserID] == s.owner {
			out = append(out, s)
		}
	}
	return out
}

func copyDoc(d Document) Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
