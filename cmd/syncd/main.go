// Command toursync-syncd connects to the configured store, follows every
// collection and exposes Prometheus metrics about the traffic.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/and161185/toursync/internal/backend"
	"github.com/and161185/toursync/internal/collection"
	"github.com/and161185/toursync/internal/config"
	"github.com/and161185/toursync/internal/metrics"
	"github.com/and161185/toursync/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	cfg, err := config.LoadFromOS()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("backend", cfg.Backend),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := backend.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("connect", zap.Error(err))
	}
	defer func() { _ = st.Close() }()

	if cfg.MetricsAddr != "" {
		srv := metrics.Serve(cfg.MetricsAddr, logger)
		logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	svc := service.New(st, collection.WithLogger(logger))
	if s := svc.Settings.Get(ctx); s != nil {
		logger.Info("site settings", zap.String("siteName", s.SiteName), zap.Bool("maintenance", s.MaintenanceMode))
	}

	var wg sync.WaitGroup
	follow(ctx, &wg, logger, "tours", svc.Tours.Client())
	follow(ctx, &wg, logger, "blogs", svc.Blogs.Client())
	follow(ctx, &wg, logger, "bookings", svc.Bookings.Client())
	follow(ctx, &wg, logger, "notifications", svc.Notifications.Client())
	follow(ctx, &wg, logger, "popupAds", svc.PopupAds.Client())
	follow(ctx, &wg, logger, "emailNotifications", svc.Emails.Client())

	<-ctx.Done()
	wg.Wait()
	logger.Info("shutdown complete")
}

// follow logs the size of every snapshot of one collection until ctx is done.
func follow[T any](ctx context.Context, wg *sync.WaitGroup, log *zap.Logger, name string, c *collection.Client[T]) {
	ch, unsubscribe := c.Subscribe(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer unsubscribe()
		for recs := range ch {
			log.Info("snapshot", zap.String("collection", name), zap.Int("records", len(recs)))
		}
	}()
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}
