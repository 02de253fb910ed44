package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"go-idea-jobs/internal/backend"
	"go-idea-jobs/internal/backend/httpclient"
	"go-idea-jobs/internal/backend/local"
	"go-idea-jobs/internal/config"
	"go-idea-jobs/internal/httpapi"
	"go-idea-jobs/internal/ideas"
	"go-idea-jobs/internal/logger"
	"go-idea-jobs/internal/metrics"
	"go-idea-jobs/internal/otelsetup"
	"go-idea-jobs/internal/playerpool"
	"go-idea-jobs/internal/registry"
	"go-idea-jobs/internal/storage"
	"go-idea-jobs/internal/updates"
	"go-idea-jobs/internal/version"
)

// updateTransport is both ends of the update channel.
type updateTransport interface {
	updates.Channel
	updates.Publisher
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(config.Path("config.yml"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer log.Sync()
	log = log.With(logger.String("version", version.Version))

	if cfg.Telemetry.Enabled {
		shutdownOTel, err := otelsetup.InitOTel(context.Background(), log)
		if err != nil {
			return fmt.Errorf("init otel: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownOTel(ctx); err != nil {
				log.Warn("otel shutdown", logger.Error(err))
			}
		}()
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	// Configure DB path (sqlite file)
	store, err := storage.NewStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	transport, closeTransport, err := newTransport(cfg, log)
	if err != nil {
		return err
	}
	defer closeTransport()

	var be backend.ProcessingBackend
	if cfg.Backend.URL != "" {
		log.Info("using remote processing backend", logger.String("url", cfg.Backend.URL))
		be = httpclient.New(cfg.Backend.URL, cfg.Backend.Timeout)
	} else {
		lb := local.New(store, transport, log, local.Options{
			Workers:    cfg.Backend.Workers,
			StageDelay: cfg.Backend.StageDelay,
		})
		if err := lb.Start(); err != nil {
			return err
		}
		defer lb.Stop()
		be = lb
	}

	reg, err := registry.New(cfg.Registry.OwnerID, be, transport,
		registry.WithLogger(log),
		registry.WithMetrics(m),
		registry.WithGracePeriod(cfg.Registry.GracePeriod),
	)
	if err != nil {
		return err
	}
	defer reg.Close()

	if err := reg.StartSweeper(cfg.Registry.SweepInterval); err != nil {
		return err
	}
	personal, err := reg.Watch(context.Background(), storage.Personal)
	if err != nil {
		return fmt.Errorf("watch personal jobs: %w", err)
	}
	defer personal.Stop()

	pool := playerpool.New(cfg.Players.Capacity, playerpool.WithLogger(log), playerpool.WithMetrics(m))
	grid := playerpool.NewGrid(pool,
		playerpool.WithThreshold(cfg.Players.VisibilityThreshold),
		playerpool.WithRetryDelay(cfg.Players.RetryDelay),
		playerpool.WithDecoder(playerpool.LoggingDecoder{Logger: log.With(logger.Component("decoder"))}),
	)
	defer grid.Close()

	// HTTP handlers
	h := &httpapi.Handler{
		Registry: reg,
		Grid:     grid,
		Ideas:    ideas.NewStoreLookup(store),
		Logger:   log.With(logger.Component("httpapi")),
		Gatherer: promReg,
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      httpapi.NewRouter(h),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// graceful shutdown signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errc := make(chan error, 1)
	go func() {
		log.Info("server starting", logger.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errc:
		return fmt.Errorf("listen: %w", err)
	}

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("http shutdown", logger.Error(err))
	}
	return nil
}

// newTransport picks Redis when an address is configured, else the
// in-process channel.
func newTransport(cfg *config.Config, log logger.Logger) (updateTransport, func(), error) {
	if cfg.Redis.Address == "" {
		ch := updates.NewMemoryChannel(log)
		return ch, ch.Close, nil
	}
	client, err := updates.NewRedisClient(updates.RedisConfig{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	log.Info("using redis update channel", logger.String("address", cfg.Redis.Address))
	return updates.NewRedisChannel(client, log), func() { client.Close() }, nil
}
