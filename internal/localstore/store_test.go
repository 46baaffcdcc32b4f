package localstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msvignesh01/eduflow/internal/errors"
)

type fakeClock struct {
	t time.Time
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func openStore(t *testing.T, m Medium, clock *fakeClock, opts Options) *Store {
	t.Helper()
	opts.Now = clock.Now
	s, err := Open(m, opts)
	require.NoError(t, err)
	return s
}

func TestSetGet(t *testing.T) {
	s := openStore(t, NewMemMedium(), newClock(), Options{})

	require.NoError(t, s.Set("user_data_1", map[string]any{"name": "Ada"}))

	raw, ok, err := s.Get("user_data_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"name":"Ada"}`, string(raw))

	var v struct{ Name string }
	ok, err = s.GetJSON("user_data_1", &v)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Ada", v.Name)

	_, ok, err = s.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSet_EmptyKey(t *testing.T) {
	s := openStore(t, NewMemMedium(), newClock(), Options{})
	err := s.Set("", 1)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestSet_OverwriteDoesNotDoubleCount(t *testing.T) {
	s := openStore(t, NewMemMedium(), newClock(), Options{})

	require.NoError(t, s.Set("k", "aaaa"))
	first := s.Stats().Bytes
	require.NoError(t, s.Set("k", "bbbb"))

	st := s.Stats()
	assert.Equal(t, 1, st.Items)
	assert.Equal(t, first, st.Bytes)
}

func TestGet_ExpiredIsAbsentAndRemoved(t *testing.T) {
	clock := newClock()
	m := NewMemMedium()
	s := openStore(t, m, clock, Options{})

	require.NoError(t, s.Set("short", "x", WithTTL(time.Minute)))
	clock.Advance(2 * time.Minute)

	_, ok, err := s.Get("short")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Stats().Items)

	_, stillThere, _ := m.Get("short")
	assert.False(t, stillThere, "expired item should be deleted from the medium")
}

func TestDefaultTTL(t *testing.T) {
	clock := newClock()
	s := openStore(t, NewMemMedium(), clock, Options{DefaultTTL: time.Hour})

	require.NoError(t, s.Set("default", 1))
	require.NoError(t, s.Set("forever", 1, NoExpiry()))
	clock.Advance(2 * time.Hour)

	assert.Equal(t, []string{"forever"}, s.Keys(""))
}

func TestSweep(t *testing.T) {
	clock := newClock()
	s := openStore(t, NewMemMedium(), clock, Options{})

	require.NoError(t, s.Set("a", 1, WithTTL(time.Second)))
	require.NoError(t, s.Set("b", 1, WithTTL(time.Second)))
	require.NoError(t, s.Set("c", 1))
	clock.Advance(time.Minute)

	assert.Equal(t, 2, s.Stats().Expired)
	n, err := s.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, s.Stats().Items)
}

func TestOpen_DiscardsOtherSchemaVersion(t *testing.T) {
	clock := newClock()
	m := NewMemMedium()

	old := openStore(t, m, clock, Options{Version: "0.9.0"})
	require.NoError(t, old.Set("legacy", "v"))

	s := openStore(t, m, clock, Options{})
	_, ok, err := s.Get("legacy")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, _ = m.Get("legacy")
	assert.False(t, ok, "mismatched item should be removed from the medium")
}

func TestOpen_RebuildsIndexAndDropsGarbage(t *testing.T) {
	clock := newClock()
	m := NewMemMedium()

	first := openStore(t, m, clock, Options{})
	require.NoError(t, first.Set("kept", "value"))
	require.NoError(t, m.Set("garbage", []byte("{not json")))

	s := openStore(t, m, clock, Options{})
	assert.Equal(t, []string{"kept"}, s.Keys(""))
	assert.Equal(t, first.Stats().Bytes, s.Stats().Bytes)

	_, ok, _ := m.Get("garbage")
	assert.False(t, ok)
}

func TestOpen_LoweredBudgetEvicts(t *testing.T) {
	clock := newClock()
	m := NewMemMedium()

	big := openStore(t, m, clock, Options{MaxItems: 10})
	for i := 0; i < 8; i++ {
		require.NoError(t, big.Set(fmt.Sprintf("k%d", i), i))
		clock.Advance(time.Second)
	}

	s := openStore(t, m, clock, Options{MaxItems: 4})
	assert.LessOrEqual(t, s.Stats().Items, 4)
	_, ok, _ := s.Get("k7")
	assert.True(t, ok, "newest item should survive")
}

func TestEviction_ItemBudget(t *testing.T) {
	clock := newClock()
	s := openStore(t, NewMemMedium(), clock, Options{MaxItems: 4})

	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.Set(k, k))
		clock.Advance(time.Second)
	}
	require.NoError(t, s.Set("e", "e"))

	assert.Equal(t, []string{"b", "c", "d", "e"}, s.Keys(""))
}

func TestEviction_ExpiredFirst(t *testing.T) {
	clock := newClock()
	s := openStore(t, NewMemMedium(), clock, Options{MaxItems: 3})

	require.NoError(t, s.Set("old", 1))
	clock.Advance(time.Second)
	require.NoError(t, s.Set("ttl", 1, WithTTL(time.Second)))
	clock.Advance(time.Second)
	require.NoError(t, s.Set("mid", 1))
	clock.Advance(time.Second)

	require.NoError(t, s.Set("new", 1))

	assert.Equal(t, []string{"mid", "new", "old"}, s.Keys(""))
}

// itemSize measures the encoded size of one item so byte budgets can be set exactly.
func itemSize(t *testing.T, key string, value any) int64 {
	t.Helper()
	s := openStore(t, NewMemMedium(), newClock(), Options{})
	require.NoError(t, s.Set(key, value))
	return s.Stats().Bytes
}

func TestEviction_ByteBudgetReclaimsQuarter(t *testing.T) {
	size := itemSize(t, "k0", "0123456789")
	clock := newClock()
	// Room for four items and a half.
	s := openStore(t, NewMemMedium(), clock, Options{MaxBytes: 4*size + size/2, MaxItems: 100})

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Set(fmt.Sprintf("k%d", i), "0123456789"))
		clock.Advance(time.Second)
	}
	require.NoError(t, s.Set("k4", "0123456789"))

	// The overflow is half an item but a quarter of capacity is more than one item,
	// so the two oldest go.
	assert.Equal(t, []string{"k2", "k3", "k4"}, s.Keys(""))
	assert.LessOrEqual(t, s.Stats().Bytes, s.Stats().MaxBytes)
}

func TestEviction_PinnedSurvive(t *testing.T) {
	clock := newClock()
	s := openStore(t, NewMemMedium(), clock, Options{MaxItems: 3})

	require.NoError(t, s.Set("syncq/a", 1, Pinned()))
	clock.Advance(time.Second)
	require.NoError(t, s.Set("cache", 1))
	clock.Advance(time.Second)
	require.NoError(t, s.Set("syncq/b", 1, Pinned()))
	clock.Advance(time.Second)

	require.NoError(t, s.Set("x", 1))
	assert.Equal(t, []string{"syncq/a", "syncq/b", "x"}, s.Keys(""))

	require.NoError(t, s.Set("syncq/c", 1, Pinned()))
	assert.Equal(t, []string{"syncq/a", "syncq/b", "syncq/c"}, s.Keys(""))

	err := s.Set("y", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStorageQuotaExceeded))
	assert.Equal(t, 3, s.Stats().Pinned)
}

func TestSet_ItemLargerThanBudget(t *testing.T) {
	s := openStore(t, NewMemMedium(), newClock(), Options{MaxBytes: 128})

	require.NoError(t, s.Set("small", 1))
	err := s.Set("huge", strings.Repeat("x", 500))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrStorageQuotaExceeded))

	// The failed write evicted nothing.
	assert.Equal(t, []string{"small"}, s.Keys(""))
}

func TestSet_NeverExceedsBudget(t *testing.T) {
	clock := newClock()
	s := openStore(t, NewMemMedium(), clock, Options{MaxBytes: 2048, MaxItems: 50})

	for i := 0; i < 300; i++ {
		value := strings.Repeat("v", (i*37)%180)
		opts := []SetOption{}
		if i%7 == 0 {
			opts = append(opts, WithTTL(time.Duration(i%5)*time.Second))
		}
		err := s.Set(fmt.Sprintf("key-%d", i%70), value, opts...)
		require.NoError(t, err)

		st := s.Stats()
		require.LessOrEqual(t, st.Bytes, st.MaxBytes, "after write %d", i)
		require.LessOrEqual(t, st.Items, st.MaxItems, "after write %d", i)
		clock.Advance(500 * time.Millisecond)
	}
}

func TestClear_KeepsPinned(t *testing.T) {
	s := openStore(t, NewMemMedium(), newClock(), Options{})

	require.NoError(t, s.Set("syncq/user_data/1", 1, Pinned()))
	require.NoError(t, s.Set("a", 1))
	require.NoError(t, s.Set("b", 1))

	n, err := s.Clear()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"syncq/user_data/1"}, s.Keys(""))
}

func TestKeys_Prefix(t *testing.T) {
	s := openStore(t, NewMemMedium(), newClock(), Options{})
	for _, k := range []string{"user_data_2", "user_data_1", "preferences_1"} {
		require.NoError(t, s.Set(k, 1))
	}
	assert.Equal(t, []string{"user_data_1", "user_data_2"}, s.Keys("user_data_"))
}

func TestStats(t *testing.T) {
	clock := newClock()
	s := openStore(t, NewMemMedium(), clock, Options{})

	require.NoError(t, s.Set("first", 1, InCollection("user_data"), WithTTL(time.Hour)))
	clock.Advance(time.Second)
	require.NoError(t, s.Set("second", 1, InCollection("user_data"), WithTTL(time.Minute)))
	clock.Advance(time.Second)
	require.NoError(t, s.Set("third", 1, Pinned()))

	st := s.Stats()
	assert.Equal(t, 3, st.Items)
	assert.Equal(t, 1, st.Pinned)
	assert.Equal(t, 2, st.Collections["user_data"])
	assert.Equal(t, "first", st.OldestKey)
	assert.Equal(t, "third", st.NewestKey)
	assert.Equal(t, SchemaVersion, st.Version)
	require.Len(t, st.Expirations, 2)
	assert.Equal(t, "second", st.Expirations[0].Key)
	assert.Equal(t, 59*time.Second, st.Expirations[0].ExpiresIn)
}

func TestExportImport(t *testing.T) {
	clock := newClock()
	src := openStore(t, NewMemMedium(), clock, Options{})

	require.NoError(t, src.Set("user_data_1", map[string]string{"a": "b"}, InCollection("user_data")))
	require.NoError(t, src.Set("soon", 1, WithTTL(time.Minute)))
	require.NoError(t, src.Set("other", 1))
	created := clock.Now()

	snap, err := src.Export("")
	require.NoError(t, err)
	assert.Len(t, snap.Items, 3)

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	var decoded Snapshot
	require.NoError(t, json.Unmarshal(data, &decoded))

	clock.Advance(2 * time.Minute)
	dst := openStore(t, NewMemMedium(), clock, Options{})
	n, err := dst.Import(&decoded)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "expired item is skipped")

	var v map[string]string
	ok, err := dst.GetJSON("user_data_1", &v)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", v["a"])

	exported, err := dst.Export("user_data_")
	require.NoError(t, err)
	assert.True(t, exported.Items["user_data_1"].CreatedAt.Equal(created))
	assert.Equal(t, "user_data", exported.Items["user_data_1"].Collection)
}

func TestImport_VersionMismatch(t *testing.T) {
	s := openStore(t, NewMemMedium(), newClock(), Options{})

	_, err := s.Import(&Snapshot{Version: "0.1.0"})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = s.Import(nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}
