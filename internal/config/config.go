package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultSyncMaxRetries applies when sync_max_retries is unset.
const DefaultSyncMaxRetries = 3

// Run modes. Production fails fast on missing required values; development only warns.
const (
	ModeDevelopment = "development"
	ModeProduction  = "production"
)

// Transport kinds understood by the provider registry.
const (
	KindOpenAI = "openai"
	KindGemini = "gemini"
	KindOllama = "ollama"
)

// BackendConfig describes one AI backend.
type BackendConfig struct {
	// Kind selects the wire protocol: openai, gemini or ollama.
	Kind string `json:"kind,omitempty"`

	Endpoint string `json:"endpoint,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
	Model    string `json:"model,omitempty"`

	// Priority orders backends for routing; higher goes first.
	Priority int `json:"priority,omitempty"`

	// Disabled removes the backend from the registry.
	Disabled bool `json:"disabled,omitempty"`
}

// Config holds application configuration.
type Config struct {
	// Mode is "development" (default) or "production".
	Mode string `json:"mode,omitempty"`

	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string `json:"log_level,omitempty"`

	Primary   BackendConfig `json:"primary"`
	Secondary BackendConfig `json:"secondary"`
	Local     BackendConfig `json:"local"`

	// RequestTimeoutMS bounds a single backend invocation. A timeout triggers fallback.
	RequestTimeoutMS int `json:"request_timeout_ms,omitempty"`

	// ProbeTimeoutMS bounds a single health probe. Must be well below RequestTimeoutMS.
	ProbeTimeoutMS int `json:"probe_timeout_ms,omitempty"`

	// HealthFreshnessSeconds is how long a probe result is trusted.
	HealthFreshnessSeconds int `json:"health_freshness_seconds,omitempty"`

	// DisableFallback stops the router after the first failed backend.
	DisableFallback bool `json:"disable_fallback,omitempty"`

	// CacheTTLSeconds is the response cache lifetime.
	CacheTTLSeconds int `json:"cache_ttl_seconds,omitempty"`

	// StoreDefaultTTLSeconds applies to local writes that don't pass a TTL. 0 means no expiry.
	StoreDefaultTTLSeconds int `json:"store_default_ttl_seconds,omitempty"`

	// StoreMaxBytes and StoreMaxItems are the local storage budgets.
	StoreMaxBytes int64 `json:"store_max_bytes,omitempty"`
	StoreMaxItems int   `json:"store_max_items,omitempty"`

	// RemoteURL is the base URL of the remote document store.
	RemoteURL   string `json:"remote_url,omitempty"`
	RemoteToken string `json:"remote_token,omitempty"`

	// UserID identifies the owner of synced documents.
	UserID string `json:"user_id,omitempty"`

	// Collections mirrored by realtime subscriptions.
	Collections []string `json:"collections,omitempty"`

	// DisableRealtime turns off the realtime mirror.
	DisableRealtime bool `json:"disable_realtime,omitempty"`

	SyncIntervalSeconds  int `json:"sync_interval_seconds,omitempty"`
	SweepIntervalSeconds int `json:"sweep_interval_seconds,omitempty"`
	SyncRetryDelayMS     int `json:"sync_retry_delay_ms,omitempty"`

	// SyncMaxRetries is the retries per item per drain after the first
	// attempt. Nil selects the default; 0 disables retries.
	SyncMaxRetries *int `json:"sync_max_retries,omitempty"`

	// SyncMaxItemAgeHours and SyncMaxFailedPasses bound how long a failing
	// mutation is retried automatically before it becomes a dead letter.
	SyncMaxItemAgeHours int `json:"sync_max_item_age_hours,omitempty"`
	SyncMaxFailedPasses int `json:"sync_max_failed_passes,omitempty"`

	// ConnectivityURL is polled to detect online/offline transitions.
	ConnectivityURL             string `json:"connectivity_url,omitempty"`
	ConnectivityIntervalSeconds int    `json:"connectivity_interval_seconds,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is locked" errors).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes excludes whole tool groups by prefix: ai, store, sync or data.
	DisabledTypes []string `json:"disabled_types,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Mode:     ModeDevelopment,
		LogLevel: "info",
		Primary: BackendConfig{
			Kind:     KindOpenAI,
			Endpoint: "https://generativelanguage.googleapis.com/v1beta/openai/",
			Model:    "gemini-2.0-flash",
			Priority: 300,
		},
		Secondary: BackendConfig{
			Kind:     KindGemini,
			Endpoint: "https://generativelanguage.googleapis.com/v1beta",
			Model:    "gemma-3-27b-it",
			Priority: 200,
		},
		Local: BackendConfig{
			Kind:     KindOllama,
			Endpoint: "http://localhost:11434",
			Model:    "gemma2:3b",
			Priority: 100,
		},
		RequestTimeoutMS:            30000,
		ProbeTimeoutMS:              3000,
		HealthFreshnessSeconds:      30,
		CacheTTLSeconds:             2 * 60 * 60,
		StoreDefaultTTLSeconds:      24 * 60 * 60,
		StoreMaxBytes:               5 * 1024 * 1024,
		StoreMaxItems:               1000,
		Collections:                 []string{"user_data", "study_sessions", "preferences"},
		SyncIntervalSeconds:         30,
		SweepIntervalSeconds:        300,
		SyncMaxRetries:              intPtr(DefaultSyncMaxRetries),
		SyncRetryDelayMS:            1000,
		SyncMaxItemAgeHours:         7 * 24,
		SyncMaxFailedPasses:         10,
		ConnectivityIntervalSeconds: 15,
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.eduflow.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.Mode = pickString(overlay.Mode, base.Mode)
	result.LogLevel = pickString(overlay.LogLevel, base.LogLevel)
	result.Primary = mergeBackend(base.Primary, overlay.Primary)
	result.Secondary = mergeBackend(base.Secondary, overlay.Secondary)
	result.Local = mergeBackend(base.Local, overlay.Local)

	result.RequestTimeoutMS = pickInt(overlay.RequestTimeoutMS, base.RequestTimeoutMS)
	result.ProbeTimeoutMS = pickInt(overlay.ProbeTimeoutMS, base.ProbeTimeoutMS)
	result.HealthFreshnessSeconds = pickInt(overlay.HealthFreshnessSeconds, base.HealthFreshnessSeconds)
	result.CacheTTLSeconds = pickInt(overlay.CacheTTLSeconds, base.CacheTTLSeconds)
	result.StoreDefaultTTLSeconds = pickInt(overlay.StoreDefaultTTLSeconds, base.StoreDefaultTTLSeconds)
	result.StoreMaxItems = pickInt(overlay.StoreMaxItems, base.StoreMaxItems)
	result.StoreMaxBytes = overlay.StoreMaxBytes
	if result.StoreMaxBytes == 0 {
		result.StoreMaxBytes = base.StoreMaxBytes
	}

	result.RemoteURL = pickString(overlay.RemoteURL, base.RemoteURL)
	result.RemoteToken = pickString(overlay.RemoteToken, base.RemoteToken)
	result.UserID = pickString(overlay.UserID, base.UserID)

	result.SyncIntervalSeconds = pickInt(overlay.SyncIntervalSeconds, base.SyncIntervalSeconds)
	result.SweepIntervalSeconds = pickInt(overlay.SweepIntervalSeconds, base.SweepIntervalSeconds)
	result.SyncMaxRetries = base.SyncMaxRetries
	if overlay.SyncMaxRetries != nil {
		result.SyncMaxRetries = intPtr(*overlay.SyncMaxRetries)
	}
	result.SyncRetryDelayMS = pickInt(overlay.SyncRetryDelayMS, base.SyncRetryDelayMS)
	result.SyncMaxItemAgeHours = pickInt(overlay.SyncMaxItemAgeHours, base.SyncMaxItemAgeHours)
	result.SyncMaxFailedPasses = pickInt(overlay.SyncMaxFailedPasses, base.SyncMaxFailedPasses)

	result.ConnectivityURL = pickString(overlay.ConnectivityURL, base.ConnectivityURL)
	result.ConnectivityIntervalSeconds = pickInt(overlay.ConnectivityIntervalSeconds, base.ConnectivityIntervalSeconds)

	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	// Booleans: overlay wins if true, else base
	result.DisableFallback = base.DisableFallback || overlay.DisableFallback
	result.DisableRealtime = base.DisableRealtime || overlay.DisableRealtime

	// Collections replace rather than merge: a file listing collections means exactly those.
	result.Collections = base.Collections
	if len(overlay.Collections) > 0 {
		result.Collections = mergeStringSlice(nil, overlay.Collections)
	}
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	return result
}

func mergeBackend(base, overlay BackendConfig) BackendConfig {
	return BackendConfig{
		Kind:     pickString(overlay.Kind, base.Kind),
		Endpoint: pickString(overlay.Endpoint, base.Endpoint),
		APIKey:   pickString(overlay.APIKey, base.APIKey),
		Model:    pickString(overlay.Model, base.Model),
		Priority: pickInt(overlay.Priority, base.Priority),
		Disabled: base.Disabled || overlay.Disabled,
	}
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

func intPtr(n int) *int { return &n }

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}

// ApplyEnv overlays EDUFLOW_* environment variables onto cfg.
// getenv is usually os.Getenv; tests pass a map lookup.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				*dst = v
				return
			}
		}
	}
	var errs []error
	num := func(dst *int, key string) {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not an integer", key, v))
			return
		}
		*dst = n
	}

	str(&cfg.Mode, "EDUFLOW_MODE")
	str(&cfg.LogLevel, "EDUFLOW_LOG_LEVEL")

	str(&cfg.Primary.APIKey, "EDUFLOW_PRIMARY_API_KEY", "GEMINI_API_KEY")
	str(&cfg.Primary.Endpoint, "EDUFLOW_PRIMARY_URL")
	str(&cfg.Primary.Model, "EDUFLOW_PRIMARY_MODEL")
	str(&cfg.Secondary.APIKey, "EDUFLOW_SECONDARY_API_KEY", "GEMINI_API_KEY")
	str(&cfg.Secondary.Endpoint, "EDUFLOW_SECONDARY_URL")
	str(&cfg.Secondary.Model, "EDUFLOW_SECONDARY_MODEL")
	str(&cfg.Local.Endpoint, "EDUFLOW_OLLAMA_URL", "OLLAMA_HOST")
	str(&cfg.Local.Model, "EDUFLOW_OLLAMA_MODEL")

	str(&cfg.RemoteURL, "EDUFLOW_REMOTE_URL")
	str(&cfg.RemoteToken, "EDUFLOW_REMOTE_TOKEN")
	str(&cfg.UserID, "EDUFLOW_USER_ID")
	str(&cfg.ConnectivityURL, "EDUFLOW_CONNECTIVITY_URL")

	num(&cfg.RequestTimeoutMS, "EDUFLOW_REQUEST_TIMEOUT_MS")
	num(&cfg.ProbeTimeoutMS, "EDUFLOW_PROBE_TIMEOUT_MS")
	num(&cfg.CacheTTLSeconds, "EDUFLOW_CACHE_TTL_SECONDS")
	num(&cfg.StoreDefaultTTLSeconds, "EDUFLOW_STORE_DEFAULT_TTL_SECONDS")
	num(&cfg.StoreMaxItems, "EDUFLOW_STORE_MAX_ITEMS")
	num(&cfg.SyncIntervalSeconds, "EDUFLOW_SYNC_INTERVAL_SECONDS")
	if v := strings.TrimSpace(getenv("EDUFLOW_SYNC_MAX_RETRIES")); v != "" {
		if n, err := strconv.Atoi(v); err != nil {
			errs = append(errs, fmt.Errorf("EDUFLOW_SYNC_MAX_RETRIES: %q is not an integer", v))
		} else {
			cfg.SyncMaxRetries = intPtr(n)
		}
	}
	num(&cfg.SyncRetryDelayMS, "EDUFLOW_SYNC_RETRY_DELAY_MS")

	if v := strings.TrimSpace(getenv("EDUFLOW_STORE_MAX_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("EDUFLOW_STORE_MAX_BYTES: %q is not an integer", v))
		} else {
			cfg.StoreMaxBytes = n
		}
	}

	return errors.Join(errs...)
}

// ReservedKeyPrefixes are local store key prefixes owned by the sync queue
// and the response cache.
var ReservedKeyPrefixes = []string{"syncq/", "ai_response_"}

// CheckCollections rejects collection names whose document keys
// ("<collection>_<id>") could collide with another collection's keys or with
// a reserved prefix. "a" and "a_b" collide: a/b_1 and a_b/1 share a_b_1.
func CheckCollections(collections []string, reserved ...string) error {
	var problems []error
	for i, c := range collections {
		if c == "" || strings.Contains(c, "/") {
			problems = append(problems, fmt.Errorf("collection %q must be non-empty and must not contain '/'", c))
			continue
		}
		for _, other := range collections[i+1:] {
			if other == c {
				problems = append(problems, fmt.Errorf("collection %q is listed twice", c))
			} else if strings.HasPrefix(other, c+"_") || strings.HasPrefix(c, other+"_") {
				problems = append(problems, fmt.Errorf("collections %q and %q have overlapping document keys", c, other))
			}
		}
		for _, r := range reserved {
			if strings.HasPrefix(c+"_", r) || strings.HasPrefix(r, c+"_") {
				problems = append(problems, fmt.Errorf("collection %q overlaps reserved key prefix %q", c, r))
			}
		}
	}
	return errors.Join(problems...)
}

// Validate checks cfg for missing or inconsistent values.
// Structural problems are always errors. Missing credentials and endpoints are
// errors in production mode and warnings in development mode.
func Validate(cfg *Config) ([]string, error) {
	var problems []error

	switch cfg.Mode {
	case ModeDevelopment, ModeProduction:
	default:
		problems = append(problems, fmt.Errorf("mode must be %q or %q, got %q", ModeDevelopment, ModeProduction, cfg.Mode))
	}
	if cfg.StoreMaxBytes <= 0 {
		problems = append(problems, errors.New("store_max_bytes must be positive"))
	}
	if cfg.StoreMaxItems <= 0 {
		problems = append(problems, errors.New("store_max_items must be positive"))
	}
	if cfg.ProbeTimeoutMS <= 0 || cfg.RequestTimeoutMS <= 0 {
		problems = append(problems, errors.New("probe and request timeouts must be positive"))
	} else if cfg.ProbeTimeoutMS >= cfg.RequestTimeoutMS {
		problems = append(problems, fmt.Errorf("probe_timeout_ms (%d) must be below request_timeout_ms (%d)", cfg.ProbeTimeoutMS, cfg.RequestTimeoutMS))
	}
	if cfg.SyncMaxRetries != nil && *cfg.SyncMaxRetries < 0 {
		problems = append(problems, errors.New("sync_max_retries must not be negative"))
	}
	if err := CheckCollections(cfg.Collections, ReservedKeyPrefixes...); err != nil {
		problems = append(problems, err)
	}
	for _, b := range []struct {
		name string
		cfg  BackendConfig
	}{{"primary", cfg.Primary}, {"secondary", cfg.Secondary}, {"local", cfg.Local}} {
		if b.cfg.Disabled {
			continue
		}
		switch b.cfg.Kind {
		case KindOpenAI, KindGemini, KindOllama:
		default:
			problems = append(problems, fmt.Errorf("%s.kind %q is not one of openai, gemini, ollama", b.name, b.cfg.Kind))
		}
	}
	if err := errors.Join(problems...); err != nil {
		return nil, err
	}

	var missing []string
	if !cfg.Primary.Disabled && cfg.Primary.Kind != KindOllama && cfg.Primary.APIKey == "" {
		missing = append(missing, "primary.api_key (EDUFLOW_PRIMARY_API_KEY)")
	}
	if !cfg.Secondary.Disabled && cfg.Secondary.Kind != KindOllama && cfg.Secondary.APIKey == "" {
		missing = append(missing, "secondary.api_key (EDUFLOW_SECONDARY_API_KEY)")
	}
	if cfg.RemoteURL == "" {
		missing = append(missing, "remote_url (EDUFLOW_REMOTE_URL)")
	}
	if cfg.UserID == "" {
		missing = append(missing, "user_id (EDUFLOW_USER_ID)")
	}

	if len(missing) == 0 {
		return nil, nil
	}
	if cfg.Mode == ModeProduction {
		return nil, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	warnings := make([]string, 0, len(missing))
	for _, m := range missing {
		warnings = append(warnings, m+" is not set")
	}
	return warnings, nil
}

// RequestTimeout returns the per-invocation timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

// ProbeTimeout returns the per-probe timeout.
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMS) * time.Millisecond
}

// HealthFreshness returns how long a probe result stays trusted.
func (c *Config) HealthFreshness() time.Duration {
	return time.Duration(c.HealthFreshnessSeconds) * time.Second
}

// CacheTTL returns the response cache lifetime.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// StoreDefaultTTL returns the default local item lifetime.
func (c *Config) StoreDefaultTTL() time.Duration {
	return time.Duration(c.StoreDefaultTTLSeconds) * time.Second
}

// SyncRetries returns the configured retries per item per drain, or
// DefaultSyncMaxRetries when unset.
func (c *Config) SyncRetries() int {
	if c.SyncMaxRetries == nil {
		return DefaultSyncMaxRetries
	}
	return *c.SyncMaxRetries
}

// SyncRetryDelay returns the linear backoff step for sync retries.
func (c *Config) SyncRetryDelay() time.Duration {
	return time.Duration(c.SyncRetryDelayMS) * time.Millisecond
}

// SyncMaxItemAge returns the age after which a failing mutation becomes a dead letter.
func (c *Config) SyncMaxItemAge() time.Duration {
	return time.Duration(c.SyncMaxItemAgeHours) * time.Hour
}
