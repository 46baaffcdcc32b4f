package respcache

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msvignesh01/eduflow/internal/localstore"
	"github.com/msvignesh01/eduflow/internal/provider"
	"github.com/msvignesh01/eduflow/internal/router"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func setup(t *testing.T, opts Options) (*Cache, *localstore.Store, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store, err := localstore.Open(localstore.NewMemMedium(), localstore.Options{Now: c.Now})
	require.NoError(t, err)
	opts.Now = c.Now
	return New(store, opts), store, c
}

func sample() *router.Response {
	return &router.Response{
		Content:    "Photosynthesis converts light into chemical energy.",
		Backend:    provider.SecondaryCloud,
		Model:      "gemma-3-27b-it",
		Latency:    4 * time.Second,
		Confidence: 0.9,
		Usage:      &provider.Usage{PromptTokens: 5, CompletionTokens: 9, TotalTokens: 14},
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"What is  Photosynthesis?", "what is photosynthesis?"},
		{"  padded\n\tprompt ", "padded prompt"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "Normalize(%q)", tt.in)
	}
}

func TestKey(t *testing.T) {
	a := Key("What is photosynthesis?", router.AutoSelector)
	assert.True(t, strings.HasPrefix(a, KeyPrefix))
	assert.True(t, strings.HasSuffix(a, "_auto"))
	assert.Equal(t, a, Key("  what IS photosynthesis? ", router.AutoSelector))
	assert.NotEqual(t, a, Key("What is photosynthesis?", string(provider.LocalDaemon)))
	assert.NotEqual(t, a, Key("What is respiration?", router.AutoSelector))
}

func TestStoreThenLookup(t *testing.T) {
	c, store, _ := setup(t, Options{})

	_, ok := c.Lookup("q", router.AutoSelector)
	assert.False(t, ok)

	c.Store("q", router.AutoSelector, sample())

	got, ok := c.Lookup("q", router.AutoSelector)
	require.True(t, ok)
	assert.Equal(t, sample().Content, got.Content)
	assert.Equal(t, provider.SecondaryCloud, got.Backend)
	assert.Equal(t, "gemma-3-27b-it", got.Model)
	assert.True(t, got.Cached)
	assert.False(t, got.Offline)
	assert.Equal(t, CachedLatency, got.Latency)
	assert.InDelta(t, 0.95, got.Confidence, 1e-9)
	require.NotNil(t, got.Usage)
	assert.Equal(t, 14, got.Usage.TotalTokens)

	st := store.Stats()
	assert.Equal(t, 1, st.Collections[CollectionName])
}

func TestLookup_SelectorIsolated(t *testing.T) {
	c, _, _ := setup(t, Options{})
	c.Store("q", string(provider.LocalDaemon), sample())

	_, ok := c.Lookup("q", router.AutoSelector)
	assert.False(t, ok)
	_, ok = c.Lookup("q", string(provider.LocalDaemon))
	assert.True(t, ok)
}

func TestLookup_ExpiresAfterTTL(t *testing.T) {
	c, store, clk := setup(t, Options{TTL: time.Hour})
	c.Store("q", router.AutoSelector, sample())

	clk.t = clk.t.Add(59 * time.Minute)
	_, ok := c.Lookup("q", router.AutoSelector)
	assert.True(t, ok)

	clk.t = clk.t.Add(2 * time.Minute)
	_, ok = c.Lookup("q", router.AutoSelector)
	assert.False(t, ok)
	assert.Empty(t, store.Keys(KeyPrefix))
}

func TestLookup_LoweredTTLIgnoresStaleEntry(t *testing.T) {
	var buf bytes.Buffer
	c, store, clk := setup(t, Options{TTL: 2 * time.Hour})
	c.Store("q", router.AutoSelector, sample())

	shorter := New(store, Options{TTL: 10 * time.Minute, Now: clk.Now, Logger: zerolog.New(&buf).Level(zerolog.DebugLevel)})
	clk.t = clk.t.Add(30 * time.Minute)

	_, ok := shorter.Lookup("q", router.AutoSelector)
	assert.False(t, ok)
	assert.Contains(t, buf.String(), "STALE_CACHE_IGNORED")
	assert.Empty(t, store.Keys(KeyPrefix))
}

func TestStore_SkipsEmptyContent(t *testing.T) {
	c, store, _ := setup(t, Options{})
	c.Store("q", router.AutoSelector, &router.Response{Backend: provider.PrimaryCloud})
	c.Store("q", router.AutoSelector, nil)
	assert.Empty(t, store.Keys(KeyPrefix))
}

func TestStore_QuotaFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	clk := &clock{t: time.Now()}
	store, err := localstore.Open(localstore.NewMemMedium(), localstore.Options{MaxBytes: 64, Now: clk.Now})
	require.NoError(t, err)
	c := New(store, Options{Now: clk.Now, Logger: zerolog.New(&buf)})

	c.Store("q", router.AutoSelector, sample())

	_, ok := c.Lookup("q", router.AutoSelector)
	assert.False(t, ok)
	assert.Contains(t, buf.String(), "STORAGE_QUOTA_EXCEEDED")
}

func TestPurge(t *testing.T) {
	c, store, _ := setup(t, Options{})
	c.Store("a", router.AutoSelector, sample())
	c.Store("b", router.AutoSelector, sample())
	require.NoError(t, store.Set("user_data_1", map[string]string{"name": "Ada"}))

	n, err := c.Purge()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"user_data_1"}, store.Keys(""))
}
