package localstore

import (
	"sort"
	"strings"
	"sync"
)

// Medium is the durable byte store beneath a Store.
// db.KV implements it over sqlite; MemMedium is used in tests and for throwaway stores.
type Medium interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Remove(key string) error
	// Keys lists keys with the given prefix in lexical order.
	Keys(prefix string) ([]string, error)
}

// MemMedium is an in-memory Medium.
type MemMedium struct {
	mu sync.Mutex
	m  map[string][]byte
}

// NewMemMedium returns an empty in-memory medium.
func NewMemMedium() *MemMedium {
	return &MemMedium{m: make(map[string][]byte)}
}

func (mm *MemMedium) Get(key string) ([]byte, bool, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	v, ok := mm.m[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (mm *MemMedium) Set(key string, value []byte) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.m[key] = append([]byte(nil), value...)
	return nil
}

func (mm *MemMedium) Remove(key string) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	delete(mm.m, key)
	return nil
}

func (mm *MemMedium) Keys(prefix string) ([]string, error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	var keys []string
	for k := range mm.m {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
