package localstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/msvignesh01/eduflow/internal/errors"
)

// Item is the exported form of a stored item.
type Item struct {
	Data       json.RawMessage `json:"data"`
	CreatedAt  time.Time       `json:"created_at"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
	Collection string          `json:"collection,omitempty"`
	Pinned     bool            `json:"pinned,omitempty"`
}

// Snapshot is a portable dump of a Store.
type Snapshot struct {
	Version    string          `json:"version"`
	ExportedAt time.Time       `json:"exported_at"`
	Items      map[string]Item `json:"items"`
}

// Export returns every live item whose key starts with prefix.
func (s *Store) Export(prefix string) (*Snapshot, error) {
	keys := s.Keys(prefix)

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &Snapshot{
		Version:    s.opts.Version,
		ExportedAt: s.opts.Now(),
		Items:      make(map[string]Item, len(keys)),
	}
	for _, key := range keys {
		raw, ok, err := s.medium.Get(key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		env, ok := s.decode(key, raw)
		if !ok {
			continue
		}
		snap.Items[key] = Item{
			Data:       env.Data,
			CreatedAt:  env.CreatedAt,
			ExpiresAt:  env.ExpiresAt,
			Collection: env.Collection,
			Pinned:     env.Pinned,
		}
	}
	return snap, nil
}

// Import writes every unexpired item of snap, keeping its original creation
// and expiry times. Existing keys are replaced. A snapshot from another schema
// version is rejected. Returns the number of items written.
func (s *Store) Import(snap *Snapshot) (int, error) {
	if snap == nil {
		return 0, errors.NewInvalidRequest("snapshot is required")
	}
	if snap.Version != s.opts.Version {
		return 0, errors.NewInvalidRequest(fmt.Sprintf("snapshot version %q does not match store version %q", snap.Version, s.opts.Version))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	imported := 0
	for key, item := range snap.Items {
		if key == "" {
			continue
		}
		if item.ExpiresAt != nil && !now.Before(*item.ExpiresAt) {
			continue
		}
		env := envelope{
			Data:       item.Data,
			CreatedAt:  item.CreatedAt,
			ExpiresAt:  item.ExpiresAt,
			Version:    s.opts.Version,
			Collection: item.Collection,
			Pinned:     item.Pinned,
		}
		if env.CreatedAt.IsZero() {
			env.CreatedAt = now
		}
		if len(env.Data) == 0 {
			env.Data = json.RawMessage("null")
		}
		if err := s.putLocked(key, &env); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}
