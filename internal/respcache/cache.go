// Package respcache caches AI responses in the local store, keyed by the
// normalized prompt and the backend selector the caller asked for.
package respcache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/msvignesh01/eduflow/internal/errors"
	"github.com/msvignesh01/eduflow/internal/localstore"
	"github.com/msvignesh01/eduflow/internal/provider"
	"github.com/msvignesh01/eduflow/internal/router"
)

// Defaults used when Options leaves a field zero.
const (
	DefaultTTL     = 2 * time.Hour
	CachedLatency  = 50 * time.Millisecond
	KeyPrefix      = "ai_response_"
	CollectionName = "ai_cache"
)

// Options configures a Cache.
type Options struct {
	TTL time.Duration
	// Latency is reported on every hit in place of the original call's latency.
	Latency time.Duration
	Now     func() time.Time
	Logger  zerolog.Logger
}

// entry is the stored form of a cached response.
type entry struct {
	Content  string          `json:"content"`
	Backend  provider.ID     `json:"backend"`
	Model    string          `json:"model"`
	Usage    *provider.Usage `json:"usage,omitempty"`
	StoredAt time.Time       `json:"stored_at"`
}

// Cache implements router.Cache.
type Cache struct {
	store *localstore.Store
	opts  Options
}

var _ router.Cache = (*Cache)(nil)

// New returns a Cache writing into store.
func New(store *localstore.Store, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Latency <= 0 {
		opts.Latency = CachedLatency
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{store: store, opts: opts}
}

// Normalize folds case and collapses whitespace so trivially different
// prompts share an entry.
func Normalize(prompt string) string {
	return strings.Join(strings.Fields(strings.ToLower(prompt)), " ")
}

// Key returns the store key for prompt under selector.
func Key(prompt, selector string) string {
	sum := sha256.Sum256([]byte(Normalize(prompt) + "\x00" + selector))
	return KeyPrefix + hex.EncodeToString(sum[:16]) + "_" + selector
}

// Lookup returns the cached response for prompt, if a fresh one exists.
func (c *Cache) Lookup(prompt, selector string) (*router.Response, bool) {
	key := Key(prompt, selector)

	var e entry
	ok, err := c.store.GetJSON(key, &e)
	if err != nil {
		c.opts.Logger.Warn().Str("key", key).Err(err).Msg("response cache read failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}

	// The store enforces the TTL the entry was written with; a lowered TTL
	// is enforced here.
	if age := c.opts.Now().Sub(e.StoredAt); age > c.opts.TTL {
		stale := errors.NewStaleCacheIgnored(key)
		c.opts.Logger.Debug().Str("code", string(stale.Code)).Str("key", key).Dur("age", age).Msg(stale.Message)
		if err := c.store.Remove(key); err != nil {
			c.opts.Logger.Warn().Str("key", key).Err(err).Msg("removing stale response failed")
		}
		return nil, false
	}

	return &router.Response{
		Content:    e.Content,
		Backend:    e.Backend,
		Model:      e.Model,
		Offline:    false,
		Latency:    c.opts.Latency,
		Confidence: router.Confidence(tierOf(e.Backend), c.opts.Latency),
		Usage:      e.Usage,
		Cached:     true,
	}, true
}

// Store caches resp. Failures are logged; a full store never fails the
// invocation that produced the response.
func (c *Cache) Store(prompt, selector string, resp *router.Response) {
	if resp == nil || resp.Content == "" {
		return
	}
	key := Key(prompt, selector)
	e := entry{
		Content:  resp.Content,
		Backend:  resp.Backend,
		Model:    resp.Model,
		Usage:    resp.Usage,
		StoredAt: c.opts.Now(),
	}
	err := c.store.Set(key, e, localstore.WithTTL(c.opts.TTL), localstore.InCollection(CollectionName))
	if err != nil {
		c.opts.Logger.Warn().Str("key", key).Str("code", string(errors.CodeOf(err))).Err(err).Msg("caching response failed")
	}
}

// Purge removes every cached response and returns how many were removed.
func (c *Cache) Purge() (int, error) {
	n := 0
	for _, key := range c.store.Keys(KeyPrefix) {
		if err := c.store.Remove(key); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func tierOf(id provider.ID) provider.Tier {
	switch id {
	case provider.PrimaryCloud:
		return provider.TierPrimary
	case provider.SecondaryCloud:
		return provider.TierSecondary
	default:
		return provider.TierLocal
	}
}
