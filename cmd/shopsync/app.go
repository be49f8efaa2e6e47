package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/shopkeep/shopsync/internal/auth"
	"github.com/shopkeep/shopsync/internal/config"
	"github.com/shopkeep/shopsync/internal/db"
	"github.com/shopkeep/shopsync/internal/logging"
	"github.com/shopkeep/shopsync/internal/metrics"
	"github.com/shopkeep/shopsync/internal/persist"
	"github.com/shopkeep/shopsync/internal/remote"
	"github.com/shopkeep/shopsync/internal/store"
	syncer "github.com/shopkeep/shopsync/internal/sync"
)

// app holds the components one command invocation works with.
type app struct {
	cfg      *config.Config
	logs     *logging.Factory
	sessions *auth.FileProvider
	registry *prometheus.Registry

	adapter persist.Adapter
	store   *store.Store

	// Only set by openSyncApp
	gateway remote.Gateway
	coord   syncer.Coordinator
}

// loadConfig reads the configuration selected by the global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return cfg, nil
}

// openApp opens local storage and the store. The store is not scoped to a
// tenant yet.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logs:     logging.NewFactory(cfg.Log, verbose),
		sessions: auth.NewFileProvider(cfg.SessionPath()),
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	adapter, err := openAdapter(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.adapter = adapter

	defs, err := cfg.CollectionDefs()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store, err = store.New(a.adapter, defs, store.Config{
		Debounce: cfg.Sync.Debounce,
		Logger:   a.logs.New("store"),
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	return a, nil
}

// openSyncApp additionally connects the remote gateway and builds the
// coordinator.
func openSyncApp(ctx context.Context) (*app, error) {
	a, err := openApp(ctx)
	if err != nil {
		return nil, err
	}

	gw, err := openGateway(ctx, a.cfg, a.logs.New("remote"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.gateway = gw

	a.coord = syncer.New(a.gateway, a.store, syncer.Config{
		Cooldown: a.cfg.Sync.Cooldown,
		Logger:   a.logs.New("sync"),
		Metrics:  metrics.New(a.registry),
	})
	return a, nil
}

// signIn scopes the store to the stored session's tenant.
func (a *app) signIn(ctx context.Context) (auth.Session, error) {
	session, err := a.sessions.Load()
	if err != nil {
		return auth.Session{}, err
	}
	if session.Tenant() == "" {
		return session, fmt.Errorf("not signed in (run 'shopsync login')")
	}
	if err := a.store.SwitchTenant(ctx, session.Tenant()); err != nil {
		return session, fmt.Errorf("failed to load tenant data: %w", err)
	}
	return session, nil
}

// Close releases everything in reverse order of opening.
func (a *app) Close() {
	if a.coord != nil {
		if err := a.coord.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to stop sync: %v\n", err)
		}
	}
	if a.gateway != nil {
		_ = a.gateway.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to save local data: %v\n", err)
		}
	}
	if a.adapter != nil {
		_ = a.adapter.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

func openAdapter(ctx context.Context, cfg *config.Config) (persist.Adapter, error) {
	switch cfg.Storage {
	case config.StorageSQLite:
		return db.Open(cfg.LocalDBPath())
	case config.StorageBadger:
		return persist.OpenBadger(cfg.BadgerDir())
	case config.StorageRedis:
		rc := persist.DefaultRedisConfig()
		rc.Addr = cfg.Redis.Addr
		rc.Password = cfg.Redis.Password
		rc.DB = cfg.Redis.DB
		return persist.OpenRedis(ctx, rc)
	case config.StorageMemory:
		return persist.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported storage %q", cfg.Storage)
	}
}

func openGateway(ctx context.Context, cfg *config.Config, logger *log.Logger) (remote.Gateway, error) {
	switch cfg.Remote.Kind {
	case config.RemoteREST:
		key, err := apiKey(cfg)
		if err != nil {
			return nil, err
		}
		return remote.NewREST(remote.RESTConfig{
			BaseURL: cfg.Remote.URL,
			APIKey:  key,
			Timeout: cfg.Remote.Timeout,
			Logger:  logger,
		})
	case config.RemoteLibSQL:
		key, err := apiKey(cfg)
		if err != nil {
			return nil, err
		}
		return remote.OpenLibSQL(cfg.Remote.URL, key, remote.SQLOptions{Logger: logger})
	case config.RemoteSQLite:
		return remote.OpenSQLite(cfg.RemoteSQLitePath(), remote.SQLOptions{Logger: logger})
	case config.RemotePostgres:
		return remote.NewPostgres(ctx, remote.PostgresConfig{
			DSN:            cfg.Remote.URL,
			ConnectTimeout: cfg.Remote.Timeout,
			Logger:         logger,
		})
	case config.RemoteMemory:
		return remote.NewMemory(nil), nil
	default:
		return nil, fmt.Errorf("unsupported remote kind %q", cfg.Remote.Kind)
	}
}

// apiKey returns the configured key, falling back to the OS keyring. An
// unavailable keyring means no key.
func apiKey(cfg *config.Config) (string, error) {
	if cfg.Remote.APIKey != "" {
		return cfg.Remote.APIKey, nil
	}
	key, err := auth.NewCredentials().APIKey(cfg.Remote.URL)
	switch {
	case err == nil:
		return key, nil
	case errors.Is(err, auth.ErrNoCredential):
		return "", nil
	default:
		if verbose {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		return "", nil
	}
}
