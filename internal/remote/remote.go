// Package remote talks to the remote document store that sync mutations are
// delivered to and realtime changes arrive from. Documents are addressed by
// (collection, id).
package remote

import (
	"context"
	"time"
)

// Document is a remote document body.
type Document map[string]any

// Field names stamped on every written document.
const (
	FieldUserID    = "userId"
	FieldUpdatedAt = "updatedAt"
	FieldSyncedAt  = "syncedAt"
)

// ChangeType classifies a realtime change.
type ChangeType string

const (
	Added    ChangeType = "added"
	Modified ChangeType = "modified"
	Removed  ChangeType = "removed"
)

// Change is one realtime event for a document.
type Change struct {
	Type       ChangeType `json:"type"`
	Collection string     `json:"collection"`
	ID         string     `json:"id"`
	Data       Document   `json:"data,omitempty"`
	Timestamp  int64      `json:"timestamp"`
}

// Record is a document together with its id.
type Record struct {
	ID   string   `json:"id"`
	Data Document `json:"data"`
}

// Store is the remote document store.
type Store interface {
	// Put creates the document or merges data into the existing one.
	Put(ctx context.Context, collection, id string, data Document) error
	// Delete removes the document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error
	// Query returns the documents in collection owned by owner.
	Query(ctx context.Context, collection, owner string) ([]Record, error)
	// Subscribe delivers changes to owner's documents in collection until the
	// returned cancel is called or ctx ends. onErr receives subscription
	// failures; after one, no further changes are delivered.
	Subscribe(ctx context.Context, collection, owner string, onChange func(Change), onErr func(error)) (cancel func(), err error)
}

// Stamp returns a copy of data carrying the owner and write timestamps.
func Stamp(data Document, owner string, now time.Time) Document {
	out := make(Document, len(data)+3)
	for k, v := range data {
		out[k] = v
	}
	ts := now.UTC().Format(time.RFC3339Nano)
	out[FieldUserID] = owner
	out[FieldUpdatedAt] = ts
	out[FieldSyncedAt] = ts
	return out
}
