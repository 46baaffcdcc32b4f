package ops

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/msvignesh01/eduflow/internal/errors"
	"github.com/msvignesh01/eduflow/internal/localstore"
)

// reservedPrefixes belong to the sync queue and may not be written directly.
var reservedPrefixes = []string{"syncq/"}

func checkKey(key string, write bool) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.NewInvalidRequest("key is required")
	}
	if write {
		for _, p := range reservedPrefixes {
			if strings.HasPrefix(key, p) {
				return "", errors.NewInvalidRequest("key prefix " + p + " is reserved")
			}
		}
	}
	return key, nil
}

// StoreGetInput contains parameters for the StoreGet operation.
type StoreGetInput struct {
	Key string
}

// StoreGetOutput contains the result of the StoreGet operation.
type StoreGetOutput struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// StoreGet reads one value from the local store.
func StoreGet(app *App, input StoreGetInput) (*StoreGetOutput, error) {
	key, err := checkKey(input.Key, false)
	if err != nil {
		return nil, err
	}
	value, ok, err := app.Store.Get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NewNotFound(key)
	}
	return &StoreGetOutput{Key: key, Value: value}, nil
}

// StoreSetInput contains parameters for the StoreSet operation.
type StoreSetInput struct {
	Key   string
	Value json.RawMessage
	// TTLSeconds overrides the store default. Negative means no expiry.
	TTLSeconds int
	Collection string
	Pinned     bool
}

// StoreSetOutput contains the result of the StoreSet operation.
type StoreSetOutput struct {
	Key       string     `json:"key"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// StoreSet writes one JSON value to the local store.
func StoreSet(app *App, input StoreSetInput) (*StoreSetOutput, error) {
	key, err := checkKey(input.Key, true)
	if err != nil {
		return nil, err
	}
	if len(input.Value) == 0 || !json.Valid(input.Value) {
		return nil, errors.NewInvalidRequest("value must be valid JSON")
	}

	var opts []localstore.SetOption
	ttl := app.Config.StoreDefaultTTL()
	switch {
	case input.TTLSeconds < 0:
		ttl = 0
		opts = append(opts, localstore.NoExpiry())
	case input.TTLSeconds > 0:
		ttl = time.Duration(input.TTLSeconds) * time.Second
		opts = append(opts, localstore.WithTTL(ttl))
	}
	if input.Collection != "" {
		opts = append(opts, localstore.InCollection(input.Collection))
	}
	if input.Pinned {
		opts = append(opts, localstore.Pinned())
	}

	now := time.Now()
	if err := app.Store.Set(key, input.Value, opts...); err != nil {
		return nil, err
	}
	out := &StoreSetOutput{Key: key}
	if ttl > 0 {
		exp := now.Add(ttl)
		out.ExpiresAt = &exp
	}
	return out, nil
}

// StoreRemoveInput contains parameters for the StoreRemove operation.
type StoreRemoveInput struct {
	Key string
}

// StoreRemoveOutput contains the result of the StoreRemove operation.
type StoreRemoveOutput struct {
	Key     string `json:"key"`
	Removed bool   `json:"removed"`
}

// StoreRemove deletes one key. Removing a missing key is not an error.
func StoreRemove(app *App, input StoreRemoveInput) (*StoreRemoveOutput, error) {
	key, err := checkKey(input.Key, true)
	if err != nil {
		return nil, err
	}
	_, existed, err := app.Store.Get(key)
	if err != nil {
		return nil, err
	}
	if err := app.Store.Remove(key); err != nil {
		return nil, err
	}
	return &StoreRemoveOutput{Key: key, Removed: existed}, nil
}

// StoreStats summarizes the local store.
func StoreStats(app *App) localstore.Stats {
	return app.Store.Stats()
}

// StoreSweepOutput contains the result of the StoreSweep operation.
type StoreSweepOutput struct {
	Removed int `json:"removed"`
	// CacheRemoved is only set when the response cache was purged as well.
	CacheRemoved int `json:"cache_removed,omitempty"`
}

// StoreSweep removes expired items, and every cached AI response when purgeCache is set.
func StoreSweep(app *App, purgeCache bool) (*StoreSweepOutput, error) {
	removed, err := app.Store.Sweep()
	if err != nil {
		return nil, err
	}
	out := &StoreSweepOutput{Removed: removed}
	if purgeCache {
		out.CacheRemoved, err = app.Cache.Purge()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
