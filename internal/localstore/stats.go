package localstore

import (
	"sort"
	"time"
)

// Expiration describes when a stored item expires.
type Expiration struct {
	Key       string        `json:"key"`
	ExpiresAt time.Time     `json:"expires_at"`
	ExpiresIn time.Duration `json:"expires_in"`
}

// Stats is a point-in-time summary of a Store.
type Stats struct {
	Items    int   `json:"items"`
	Bytes    int64 `json:"bytes"`
	MaxBytes int64 `json:"max_bytes"`
	MaxItems int   `json:"max_items"`
	Pinned   int   `json:"pinned"`
	// Expired counts items past their expiry that have not been swept yet.
	Expired     int            `json:"expired"`
	Collections map[string]int `json:"collections,omitempty"`
	OldestKey   string         `json:"oldest_key,omitempty"`
	NewestKey   string         `json:"newest_key,omitempty"`
	// Expirations lists items with an expiry, soonest first.
	Expirations []Expiration `json:"expirations,omitempty"`
	Version     string       `json:"version"`
}

// Stats summarizes the store.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now()
	st := Stats{
		Items:    len(s.index),
		Bytes:    s.used,
		MaxBytes: s.opts.MaxBytes,
		MaxItems: s.opts.MaxItems,
		Version:  s.opts.Version,
	}

	var oldest, newest time.Time
	for k, m := range s.index {
		if m.pinned {
			st.Pinned++
		}
		if m.expired(now) {
			st.Expired++
		}
		if m.collection != "" {
			if st.Collections == nil {
				st.Collections = make(map[string]int)
			}
			st.Collections[m.collection]++
		}
		if st.OldestKey == "" || m.createdAt.Before(oldest) || (m.createdAt.Equal(oldest) && k < st.OldestKey) {
			oldest, st.OldestKey = m.createdAt, k
		}
		if st.NewestKey == "" || m.createdAt.After(newest) || (m.createdAt.Equal(newest) && k > st.NewestKey) {
			newest, st.NewestKey = m.createdAt, k
		}
		if m.expiresAt != nil {
			st.Expirations = append(st.Expirations, Expiration{
				Key:       k,
				ExpiresAt: *m.expiresAt,
				ExpiresIn: m.expiresAt.Sub(now),
			})
		}
	}
	sort.Slice(st.Expirations, func(i, j int) bool {
		if st.Expirations[i].ExpiresIn == st.Expirations[j].ExpiresIn {
			return st.Expirations[i].Key < st.Expirations[j].Key
		}
		return st.Expirations[i].ExpiresIn < st.Expirations[j].ExpiresIn
	})

	return st
}
