package localstore

import (
	"sort"
)

// reclaimFraction is the share of capacity eviction frees once it has to
// drop live items, so that a burst of writes does not evict on every call.
const reclaimFraction = 4

// evictLocked makes room for writing size bytes under protect. A zero size
// only brings the store back within budget. Expired items go first. If that is not enough, unpinned items are
// dropped oldest-first until the overflow plus a quarter of capacity is
// reclaimed. protect is never evicted. Returns the number of items removed.
func (s *Store) evictLocked(protect string, size int64) (int, error) {
	removed, err := s.sweepLocked()
	if err != nil {
		return removed, err
	}

	growBytes, growItems := s.growthLocked(protect, size)
	overBytes := s.used + growBytes - s.opts.MaxBytes
	overItems := len(s.index) + growItems - s.opts.MaxItems
	if overBytes <= 0 && overItems <= 0 {
		return removed, nil
	}

	var byteTarget int64
	if overBytes > 0 {
		byteTarget = max(overBytes, s.opts.MaxBytes/reclaimFraction)
	}
	itemTarget := 0
	if overItems > 0 {
		itemTarget = max(overItems, s.opts.MaxItems/reclaimFraction)
	}

	type candidate struct {
		key string
		m   *meta
	}
	candidates := make([]candidate, 0, len(s.index))
	for k, m := range s.index {
		if m.pinned || k == protect {
			continue
		}
		candidates = append(candidates, candidate{k, m})
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].m.createdAt, candidates[j].m.createdAt
		if a.Equal(b) {
			return candidates[i].key < candidates[j].key
		}
		return a.Before(b)
	})

	var freedBytes int64
	freedItems := 0
	for _, c := range candidates {
		if freedBytes >= byteTarget && freedItems >= itemTarget {
			break
		}
		size := c.m.size
		if err := s.removeLocked(c.key); err != nil {
			return removed, err
		}
		freedBytes += size
		freedItems++
		removed++
	}

	s.opts.Logger.Info().
		Int("evicted", freedItems).
		Int64("freed_bytes", freedBytes).
		Int64("used_bytes", s.used).
		Msg("evicted oldest items to stay within budget")

	return removed, nil
}
