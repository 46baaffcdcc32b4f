package syncq

import (
	"time"

	"github.com/msvignesh01/eduflow/internal/remote"
)

// Action is the kind of mutation an item delivers.
type Action string

const (
	Create Action = "create"
	Update Action = "update"
	Delete Action = "delete"
)

func (a Action) valid() bool {
	return a == Create || a == Update || a == Delete
}

// State is an item's position in its lifecycle.
type State string

const (
	// Pending items are attempted on every drain.
	Pending State = "pending"
	// Dead items exceeded the age or failed-pass limit. They are kept until
	// an operator requeues or discards them.
	Dead State = "dead"
)

// Mutation is a local change to deliver to the remote store.
type Mutation struct {
	Collection string          `json:"collection"`
	DocID      string          `json:"doc_id"`
	Action     Action          `json:"action"`
	Payload    remote.Document `json:"payload,omitempty"`
}

// Key returns the sync key for a document, shared with the local copies the
// offline manager and mirror write.
func Key(collection, id string) string {
	return collection + "_" + id
}

// Item is one queued mutation. There is at most one item per key.
type Item struct {
	ID         string          `json:"id"`
	Key        string          `json:"key"`
	Collection string          `json:"collection"`
	DocID      string          `json:"doc_id"`
	Action     Action          `json:"action"`
	Payload    remote.Document `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	// Synced is set on the copies a drain reports as delivered. Queued
	// items are never synced; they are removed on success.
	Synced     bool   `json:"synced"`
	RetryCount int    `json:"retry_count"`
	Revision   int    `json:"revision"`
	Passes     int    `json:"passes"`
	LastError  string `json:"last_error,omitempty"`
	// LastAttempt is zero until the first drain attempts the item.
	LastAttempt time.Time `json:"last_attempt,omitzero"`
	State       State     `json:"state"`
}

func (it *Item) clone() Item {
	c := *it
	c.Payload = copyDoc(it.Payload)
	return c
}

func copyDoc(d remote.Document) remote.Document {
	if d == nil {
		return nil
	}
	out := make(remote.Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// ItemError describes an item that failed in the current drain pass.
type ItemError struct {
	Key      string `json:"key"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
	Code     string `json:"code"`
}

// Status is a derived snapshot of the queue.
type Status struct {
	Online  bool `json:"online"`
	Syncing bool `json:"syncing"`
	// LastSync is the end of the last drain pass with no failures.
	LastSync    time.Time   `json:"last_sync,omitzero"`
	Pending     int         `json:"pending"`
	Errors      []ItemError `json:"errors"`
	DeadLetters []Item      `json:"dead_letters,omitempty"`
}

// DrainResult reports one drain pass.
type DrainResult struct {
	Synced    int         `json:"synced"`
	Remaining int         `json:"remaining"`
	Errors    []ItemError `json:"errors"`
	// Delivered holds copies of the items confirmed in this pass.
	Delivered []Item `json:"delivered,omitempty"`
	// Skipped is set when the pass did not run: another drain was in
	// progress, or the queue was offline or signed out.
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
}
