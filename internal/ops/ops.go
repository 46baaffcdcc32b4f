// Package ops holds the operations shared by the CLI and the MCP server.
// Each operation takes an Input struct and returns an Output struct.
package ops

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/msvignesh01/eduflow/internal/auth"
	"github.com/msvignesh01/eduflow/internal/config"
	"github.com/msvignesh01/eduflow/internal/connectivity"
	"github.com/msvignesh01/eduflow/internal/db"
	"github.com/msvignesh01/eduflow/internal/health"
	"github.com/msvignesh01/eduflow/internal/localstore"
	"github.com/msvignesh01/eduflow/internal/mirror"
	"github.com/msvignesh01/eduflow/internal/offline"
	"github.com/msvignesh01/eduflow/internal/provider"
	"github.com/msvignesh01/eduflow/internal/remote"
	"github.com/msvignesh01/eduflow/internal/respcache"
	"github.com/msvignesh01/eduflow/internal/router"
	"github.com/msvignesh01/eduflow/internal/syncq"
)

// App wires every component from one Config. The CLI opens one per command;
// the MCP server keeps one for its lifetime.
type App struct {
	Config  *config.Config
	BaseDir string
	DB      *sql.DB
	Log     zerolog.Logger

	Store    *localstore.Store
	Registry *provider.Registry
	Health   *health.Checker
	Cache    *respcache.Cache
	Router   *router.Router

	Connectivity connectivity.Observer
	Session      auth.Session
	// Remote is nil when no remote store is configured.
	Remote remote.Store

	Queue *syncq.Queue
	// Mirror is nil when realtime is disabled or no remote store is configured.
	Mirror    *mirror.Mirror
	Data      *offline.Manager
	Scheduler *syncq.Scheduler

	poller  *connectivity.Poller
	started bool
}

// Option overrides a component Open would otherwise build from the Config.
type Option func(*App)

// WithRemote uses rs as the remote document store.
func WithRemote(rs remote.Store) Option {
	return func(a *App) { a.Remote = rs }
}

// WithConnectivity uses obs instead of polling ConnectivityURL.
func WithConnectivity(obs connectivity.Observer) Option {
	return func(a *App) { a.Connectivity = obs }
}

// Open initializes the database under baseDir and builds every component.
func Open(baseDir string, cfg *config.Config, log zerolog.Logger, opts ...Option) (*App, error) {
	database, err := db.Init(baseDir)
	if err != nil {
		return nil, err
	}
	db.ConfigurePool(database, cfg)

	a := &App{Config: cfg, BaseDir: baseDir, DB: database, Log: log}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.wire(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) component(name string) zerolog.Logger {
	return a.Log.With().Str("component", name).Logger()
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (a *App) wire() error {
	cfg := a.Config

	store, err := localstore.Open(db.NewKV(a.DB), localstore.Options{
		MaxBytes:   cfg.StoreMaxBytes,
		MaxItems:   cfg.StoreMaxItems,
		DefaultTTL: cfg.StoreDefaultTTL(),
		Logger:     a.component("store"),
	})
	if err != nil {
		return err
	}
	a.Store = store

	hc, err := provider.NewHTTPClient()
	if err != nil {
		return err
	}
	a.Registry, err = provider.FromConfig(cfg, hc)
	if err != nil {
		return err
	}
	a.Health = health.New(a.Registry, health.Options{
		Freshness: cfg.HealthFreshness(),
		Timeout:   cfg.ProbeTimeout(),
		Logger:    a.component("health"),
	})

	switch {
	case a.Connectivity != nil:
	case cfg.ConnectivityURL != "":
		a.poller = connectivity.NewPoller(cfg.ConnectivityURL, cfg.ProbeTimeout(), hc, a.component("connectivity"))
		a.Connectivity = a.poller
	default:
		a.Connectivity = connectivity.NewManual(true)
	}

	a.Cache = respcache.New(store, respcache.Options{TTL: cfg.CacheTTL(), Logger: a.component("cache")})
	a.Router = router.New(router.Config{
		Registry: a.Registry,
		Health:   a.Health,
		Policy: router.Policy{
			Fallback:       !cfg.DisableFallback,
			RequestTimeout: cfg.RequestTimeout(),
		},
		Cache:        a.Cache,
		Connectivity: a.Connectivity,
		Logger:       a.component("router"),
	})

	a.Session = auth.Static{ID: cfg.UserID}
	if a.Remote == nil && cfg.RemoteURL != "" {
		rs, err := remote.NewHTTPStore(cfg.RemoteURL, cfg.RemoteToken, hc, a.component("remote"))
		if err != nil {
			return err
		}
		a.Remote = rs
	}

	a.Queue, err = syncq.New(syncq.Options{
		Store:           store,
		Remote:          a.Remote,
		Session:         a.Session,
		Connectivity:    a.Connectivity,
		MaxRetries:      queueRetries(cfg),
		RetryDelay:      cfg.SyncRetryDelay(),
		MaxItemAge:      cfg.SyncMaxItemAge(),
		MaxFailedPasses: cfg.SyncMaxFailedPasses,
		Collections:     cfg.Collections,
		Logger:          a.component("syncq"),
	})
	if err != nil {
		return err
	}

	if a.Remote != nil && !cfg.DisableRealtime {
		a.Mirror = mirror.New(mirror.Options{
			Store:        store,
			Remote:       a.Remote,
			Session:      a.Session,
			Connectivity: a.Connectivity,
			Collections:  cfg.Collections,
			Pending:      a.Queue.HasPending,
			Logger:       a.component("mirror"),
		})
	}

	a.Data, err = offline.New(offline.Options{
		Store:        store,
		Queue:        a.Queue,
		Remote:       a.Remote,
		Session:      a.Session,
		Connectivity: a.Connectivity,
		Collections:  cfg.Collections,
		Logger:       a.component("offline"),

		ReservedPrefixes: []string{respcache.KeyPrefix},
	})
	if err != nil {
		return err
	}

	return a.schedule()
}

// queueRetries maps the configured retry count onto syncq's options, where
// zero means the default.
func queueRetries(cfg *config.Config) int {
	if n := cfg.SyncRetries(); n > 0 {
		return n
	}
	return syncq.NoRetries
}

func (a *App) schedule() error {
	cfg := a.Config
	a.Scheduler = syncq.NewScheduler(a.component("scheduler"))

	jobs := []syncq.Job{
		syncq.DrainJob(a.Queue, seconds(cfg.SyncIntervalSeconds)),
		syncq.SweepJob(a.Store, seconds(cfg.SweepIntervalSeconds)),
	}
	if a.poller != nil {
		jobs = append(jobs, syncq.ConnectivityJob(a.poller, seconds(cfg.ConnectivityIntervalSeconds)))
	}
	if a.Mirror != nil {
		jobs = append(jobs, a.Mirror.Job(seconds(cfg.SyncIntervalSeconds)))
	}
	for _, job := range jobs {
		if err := a.Scheduler.Add(job); err != nil {
			return err
		}
	}
	return nil
}

// Start runs the background work a long-lived process needs: the realtime
// mirror and the scheduled drain, sweep and connectivity jobs.
func (a *App) Start(ctx context.Context) error {
	if a.started {
		return nil
	}
	a.started = true
	a.CheckConnectivity(ctx)
	if a.Mirror != nil {
		if err := a.Mirror.Start(ctx); err != nil {
			return err
		}
	}
	a.Scheduler.Start()
	return nil
}

// CheckConnectivity probes ConnectivityURL once and reports the result.
// Without a poller it returns the observer's current state.
func (a *App) CheckConnectivity(ctx context.Context) bool {
	if a.poller != nil {
		return a.poller.Check(ctx)
	}
	return a.Connectivity.Online()
}

// Close stops background work and closes the database. It waits up to five
// seconds for running jobs.
func (a *App) Close() error {
	if a.Scheduler != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		a.Scheduler.Stop(ctx)
		cancel()
	}
	if a.Mirror != nil {
		a.Mirror.Stop()
	}
	if a.Queue != nil {
		a.Queue.Close()
	}
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
