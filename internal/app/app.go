// Package app wires configuration, logging, the question library, storage and
// the interview engine together for the CLI and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"inspectline/internal/cache"
	"inspectline/internal/config"
	"inspectline/internal/db"
	"inspectline/internal/engine"
	"inspectline/internal/events"
	"inspectline/internal/flow"
	"inspectline/internal/library"
	"inspectline/internal/logger"
	"inspectline/internal/mapping"
	"inspectline/internal/migrate"
	"inspectline/internal/repo"
)

type App struct {
	Workspace string
	Config    *config.Config
	Log       *logger.Logger
	Library   *library.Library
	Engine    *engine.Engine

	closers []func(context.Context) error
}

type Options struct {
	Workspace string
	// Config overrides the workspace inspectline.yml when set.
	Config *config.Config
	// Log overrides the logger built from config when set.
	Log *logger.Logger
}

// LoadLibrary loads the configured question library, or the embedded default.
func LoadLibrary(cfg *config.Config) (*library.Library, error) {
	opts := library.Options{Transforms: mapping.DefaultTransforms().Names()}
	if cfg == nil || cfg.Library.Path == "" {
		return library.Default(opts)
	}
	return library.Load(cfg.Library.Path, opts)
}

// Open builds an App. Callers must Close it.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.Load(opts.Workspace); err != nil {
			return nil, err
		}
	}
	lg := opts.Log
	if lg == nil {
		var err error
		if lg, err = logger.New(cfg.Log.Mode); err != nil {
			return nil, err
		}
	}
	a := &App{Workspace: opts.Workspace, Config: cfg, Log: lg}

	lib, err := LoadLibrary(cfg)
	if err != nil {
		return nil, err
	}
	a.Library = lib

	store, evts, submitter, err := a.openStore(ctx)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	if addr := cfg.Cache.Redis.Addr; addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Cache.Redis.Password, DB: cfg.Cache.Redis.DB})
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			_ = a.Close(ctx)
			return nil, fmt.Errorf("ping redis %s: %w", addr, err)
		}
		store = cache.CachedStore{Store: store, Cache: cache.NewSessionCache(client, cfg.Cache.Redis.TTL), Log: lg}
		lg.Debug("session cache enabled", "addr", addr, "ttl", cfg.Cache.Redis.TTL.String())
	}

	a.Engine = engine.New(flow.New(lib, mapping.New(nil)), store, evts, submitter, cfg, lg)
	lg.Debug("engine ready", "library", lib.Version(), "store", cfg.Store.Driver)
	return a, nil
}

func (a *App) openStore(ctx context.Context) (engine.SessionStore, events.Log, engine.FormSubmitter, error) {
	switch a.Config.Store.Driver {
	case config.DriverMongo:
		client, err := repo.ConnectMongo(ctx, a.Config.Store.Mongo.URI)
		if err != nil {
			return nil, nil, nil, err
		}
		a.closers = append(a.closers, client.Disconnect)
		store := repo.NewMongoStore(client.Database(a.Config.Store.Mongo.Database))
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, nil, nil, err
		}
		return store, store, store, nil
	default:
		conn, err := db.Open(db.Config{Workspace: a.Workspace})
		if err != nil {
			return nil, nil, nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return conn.Close() })
		version, err := migrate.Migrate(ctx, conn)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("migrate %s: %w", db.Path(a.Workspace), err)
		}
		a.Log.Debug("sqlite ready", "path", db.Path(a.Workspace), "schema", version)
		store := repo.SQLiteStore{DB: conn}
		return store, events.Writer{DB: conn}, store, nil
	}
}

// Close releases connections in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.Log != nil {
		a.Log.Sync()
	}
	return errors.Join(errs...)
}
