// Package localstore is a TTL key/value store with schema versioning and
// space-bounded eviction, layered over a durable Medium.
package localstore

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/msvignesh01/eduflow/internal/errors"
)

// SchemaVersion is stamped on every stored item. Items carrying any other
// version are discarded on read.
const SchemaVersion = "1.0.0"

// Defaults used when Options leaves a field zero.
const (
	DefaultMaxBytes = 5 * 1024 * 1024
	DefaultMaxItems = 1000
)

// envelope is the stored form of every item.
type envelope struct {
	Data       json.RawMessage `json:"data"`
	CreatedAt  time.Time       `json:"created_at"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
	Version    string          `json:"version"`
	Collection string          `json:"collection,omitempty"`
	Pinned     bool            `json:"pinned,omitempty"`
}

// meta is the in-memory index entry for a stored item.
type meta struct {
	size       int64
	createdAt  time.Time
	expiresAt  *time.Time
	collection string
	pinned     bool
}

func (m *meta) expired(now time.Time) bool {
	return m.expiresAt != nil && !now.Before(*m.expiresAt)
}

// Options configures a Store.
type Options struct {
	// MaxBytes bounds the summed size of keys and encoded items.
	MaxBytes int64
	// MaxItems bounds the number of stored items.
	MaxItems int
	// DefaultTTL applies to writes without WithTTL or NoExpiry. Zero means no expiry.
	DefaultTTL time.Duration
	// Version overrides SchemaVersion; tests use it to simulate upgrades.
	Version string
	Now     func() time.Time
	Logger  zerolog.Logger
}

// Store is safe for concurrent use. All operations are serialized by one mutex.
type Store struct {
	mu     sync.Mutex
	medium Medium
	opts   Options
	index  map[string]*meta
	used   int64
}

// Open builds a Store over medium, rebuilding the index from what is already
// persisted. Undecodable items and items from another schema version are removed.
func Open(medium Medium, opts Options) (*Store, error) {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = DefaultMaxItems
	}
	if opts.Version == "" {
		opts.Version = SchemaVersion
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Store{
		medium: medium,
		opts:   opts,
		index:  make(map[string]*meta),
	}

	keys, err := medium.Keys("")
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		raw, ok, err := medium.Get(key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		env, ok := s.decode(key, raw)
		if !ok {
			if err := medium.Remove(key); err != nil {
				return nil, err
			}
			continue
		}
		s.track(key, env, int64(len(key)+len(raw)))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.sweepLocked(); err != nil {
		return nil, err
	}
	// A lowered budget may leave the rebuilt store oversized.
	if s.used > s.opts.MaxBytes || len(s.index) > s.opts.MaxItems {
		if _, err := s.evictLocked("", 0); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// decode parses raw and checks its schema version.
func (s *Store) decode(key string, raw []byte) (*envelope, bool) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.opts.Logger.Warn().Str("key", key).Err(err).Msg("discarding undecodable item")
		return nil, false
	}
	if env.Version != s.opts.Version {
		s.opts.Logger.Info().Str("key", key).Str("version", env.Version).Msg("discarding item from another schema version")
		return nil, false
	}
	return &env, true
}

func (s *Store) track(key string, env *envelope, size int64) {
	if old, ok := s.index[key]; ok {
		s.used -= old.size
	}
	s.index[key] = &meta{
		size:       size,
		createdAt:  env.CreatedAt,
		expiresAt:  env.ExpiresAt,
		collection: env.Collection,
		pinned:     env.Pinned,
	}
	s.used += size
}

func (s *Store) untrack(key string) {
	if old, ok := s.index[key]; ok {
		s.used -= old.size
		delete(s.index, key)
	}
}

type setOptions struct {
	ttl        time.Duration
	pinned     bool
	collection string
}

// SetOption adjusts a single write.
type SetOption func(*setOptions)

// WithTTL expires the item after d. A non-positive d means no expiry.
func WithTTL(d time.Duration) SetOption {
	return func(o *setOptions) { o.ttl = d }
}

// NoExpiry stores the item without an expiry, ignoring DefaultTTL.
func NoExpiry() SetOption {
	return WithTTL(0)
}

// Pinned exempts the item from eviction. Pinned items still count toward the budget.
func Pinned() SetOption {
	return func(o *setOptions) { o.pinned = true }
}

// InCollection tags the item with a collection name, reported in Stats.
func InCollection(name string) SetOption {
	return func(o *setOptions) { o.collection = name }
}

// Set stores value under key, encoded as JSON. Pass json.RawMessage for
// pre-encoded payloads. If the write would exceed the budget, expired items
// and then the oldest unpinned items are evicted before it is acknowledged.
// When eviction cannot make room the write fails with STORAGE_QUOTA_EXCEEDED.
func (s *Store) Set(key string, value any, opts ...SetOption) error {
	if key == "" {
		return errors.NewInvalidRequest("key is required")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return errors.NewInvalidRequest("value is not JSON-encodable: " + err.Error())
	}

	o := setOptions{ttl: s.opts.DefaultTTL}
	for _, opt := range opts {
		opt(&o)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	env := envelope{
		Data:       data,
		CreatedAt:  now,
		Version:    s.opts.Version,
		Collection: o.collection,
		Pinned:     o.pinned,
	}
	if o.ttl > 0 {
		exp := now.Add(o.ttl)
		env.ExpiresAt = &exp
	}
	return s.putLocked(key, &env)
}

// putLocked writes env under key, evicting first when the budget requires it.
func (s *Store) putLocked(key string, env *envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return errors.NewInternal(err)
	}
	size := int64(len(key) + len(raw))

	if size > s.opts.MaxBytes {
		return errors.NewStorageQuotaExceeded(key, size, s.opts.MaxBytes)
	}

	if !s.fitsLocked(key, size) {
		if _, err := s.evictLocked(key, size); err != nil {
			return err
		}
		if !s.fitsLocked(key, size) {
			return errors.NewStorageQuotaExceeded(key, size, s.opts.MaxBytes)
		}
	}

	if err := s.medium.Set(key, raw); err != nil {
		return err
	}
	s.track(key, env, size)
	return nil
}

// growthLocked reports how much writing size bytes under key would grow the store.
func (s *Store) growthLocked(key string, size int64) (int64, int) {
	if size == 0 {
		return 0, 0
	}
	if old, ok := s.index[key]; ok {
		return size - old.size, 0
	}
	return size, 1
}

func (s *Store) fitsLocked(key string, size int64) bool {
	growBytes, growItems := s.growthLocked(key, size)
	return s.used+growBytes <= s.opts.MaxBytes && len(s.index)+growItems <= s.opts.MaxItems
}

// Get returns a copy of the JSON payload under key. Expired items and items
// from another schema version are removed and reported absent.
func (s *Store) Get(key string) (json.RawMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.index[key]
	if !ok {
		return nil, false, nil
	}
	if m.expired(s.opts.Now()) {
		s.opts.Logger.Debug().Str("key", key).Msg("expired on read")
		return nil, false, s.removeLocked(key)
	}

	raw, ok, err := s.medium.Get(key)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		s.untrack(key)
		return nil, false, nil
	}
	env, ok := s.decode(key, raw)
	if !ok {
		return nil, false, s.removeLocked(key)
	}
	return append(json.RawMessage(nil), env.Data...), true, nil
}

// GetJSON decodes the payload under key into v.
func (s *Store) GetJSON(key string, v any) (bool, error) {
	data, ok, err := s.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, errors.NewInternal(err)
	}
	return true, nil
}

// Remove deletes key. Removing a missing key is not an error.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(key)
}

func (s *Store) removeLocked(key string) error {
	if err := s.medium.Remove(key); err != nil {
		return err
	}
	s.untrack(key)
	return nil
}

// Keys returns live keys with the given prefix, sorted.
func (s *Store) Keys(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	var keys []string
	for k, m := range s.index {
		if strings.HasPrefix(k, prefix) && !m.expired(now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Sweep removes every expired item and returns how many were removed.
func (s *Store) Sweep() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked()
}

func (s *Store) sweepLocked() (int, error) {
	now := s.opts.Now()
	removed := 0
	for k, m := range s.index {
		if !m.expired(now) {
			continue
		}
		if err := s.removeLocked(k); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		s.opts.Logger.Debug().Int("removed", removed).Msg("swept expired items")
	}
	return removed, nil
}

// Clear removes every unpinned item. Pinned items, such as queued sync
// mutations, survive and must be removed by their owner.
func (s *Store) Clear() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, m := range s.index {
		if m.pinned {
			continue
		}
		if err := s.removeLocked(k); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
