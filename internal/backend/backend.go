// Package backend opens the store selected by configuration.
package backend

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/and161185/toursync/internal/config"
	"github.com/and161185/toursync/internal/migrate"
	"github.com/and161185/toursync/internal/model"
	"github.com/and161185/toursync/internal/store"
	"github.com/and161185/toursync/internal/store/firestore"
	"github.com/and161185/toursync/internal/store/memory"
	"github.com/and161185/toursync/internal/store/postgres"
	"github.com/and161185/toursync/internal/store/rtdb"
)

// Singletons are the top-level paths holding one object.
var Singletons = []string{model.PathSettings}

// Connect opens the configured backend and checks that it answers. When it
// cannot be reached and cfg.MemoryFallback is set, an empty in-memory store
// is returned instead and the failure is logged.
func Connect(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	st, err := open(ctx, cfg, log)
	if err == nil {
		err = ping(ctx, st)
		if err != nil {
			_ = st.Close()
		}
	}
	if err == nil {
		log.Info("store connected", zap.String("backend", cfg.Backend))
		return st, nil
	}
	if !cfg.MemoryFallback || cfg.Backend == config.BackendMemory {
		return nil, err
	}
	log.Warn("store unreachable, using in-memory fallback", zap.String("backend", cfg.Backend), zap.Error(err))
	return memory.New(), nil
}

func open(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendRTDB:
		app, err := newApp(ctx, cfg)
		if err != nil {
			return nil, err
		}
		client, err := app.Database(ctx)
		if err != nil {
			return nil, fmt.Errorf("backend: database client: %w", err)
		}
		return rtdb.New(client, rtdb.Options{PollInterval: cfg.PollInterval, Logger: log}), nil
	case config.BackendFirestore:
		app, err := newApp(ctx, cfg)
		if err != nil {
			return nil, err
		}
		client, err := app.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("backend: firestore client: %w", err)
		}
		return firestore.New(client, firestore.Options{Singletons: Singletons, Logger: log}), nil
	case config.BackendPostgres:
		if cfg.Migrate {
			if err := migrate.Up(ctx, cfg.PostgresDSN, log); err != nil {
				return nil, err
			}
		}
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("backend: postgres: %w", err)
		}
		db := &postgres.DB{Pool: pool}
		return postgres.New(db, postgres.NewPoolNotifier(pool, log), log), nil
	default:
		return nil, fmt.Errorf("backend: unknown backend %q", cfg.Backend)
	}
}

func newApp(ctx context.Context, cfg *config.Config) (*firebase.App, error) {
	conf := &firebase.Config{DatabaseURL: cfg.DatabaseURL, ProjectID: cfg.ProjectID}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, conf, opts...)
	if err != nil {
		return nil, fmt.Errorf("backend: firebase app: %w", err)
	}
	return app, nil
}

// ping reads the settings singleton, which every deployment may read.
func ping(ctx context.Context, st store.Store) error {
	if _, err := st.Get(ctx, model.PathSettings); err != nil {
		return fmt.Errorf("backend: ping: %w", err)
	}
	return nil
}
