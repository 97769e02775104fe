package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/jusunglee/train-schedules/api/handlers"
	"github.com/jusunglee/train-schedules/internal/config"
	"github.com/jusunglee/train-schedules/internal/feed"
	"github.com/jusunglee/train-schedules/internal/live"
	"github.com/jusunglee/train-schedules/internal/logger"
	"github.com/jusunglee/train-schedules/internal/metrics"
	"github.com/jusunglee/train-schedules/internal/publisher"
	"github.com/jusunglee/train-schedules/internal/store"
	"github.com/jusunglee/train-schedules/pkg/trains"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.ParseLevel("info"), logger.ConsoleWriter()).Fatal("Invalid configuration", "error", err)
	}
	log := logger.FromConfig(cfg.Logging())

	if err := run(cfg, log); err != nil {
		log.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("Server stopped")
}

// run serves until a signal arrives or the listener fails
func run(cfg *config.Config, log logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Without a schedule there is nothing to serve
	loadCtx, cancelLoad := context.WithTimeout(ctx, cfg.LoadTimeout)
	snap, err := store.Open(loadCtx, cfg.Source(), log)
	cancelLoad()
	if err != nil {
		log.Error("Failed to load schedule", "driver", cfg.DBDriver, "path", cfg.DBPath)
		return err
	}
	stats := snap.Stats()
	log.Info("Schedule loaded",
		"stations", stats.Stations,
		"stop_times", stats.StopTimes,
		"trips", stats.Trips,
		"services", stats.Services,
	)

	collector := metrics.NewCollector()
	collector.SetSnapshot(stats)

	clientConfig := trains.Config{
		Location: cfg.Location,
		Logger:   log,
	}

	var poller *live.Poller
	if cfg.LiveEnabled() {
		opts := []live.Option{
			live.WithTTL(cfg.LiveTTL),
			live.WithCooldown(cfg.LiveCooldown),
			live.WithMetrics(collector),
		}

		if cfg.NATSURL != "" {
			pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject, log, collector)
			if err != nil {
				// live status still works without a broker
				log.Error("Failed to connect to NATS", "error", err, "url", cfg.NATSURL)
			} else {
				defer pub.Close()
				opts = append(opts, live.WithPublisher(pub))
			}
		}

		merger := live.NewMerger(snap, cfg.Location)
		cache := live.NewCache(feed.NewClient(cfg.Feed()), merger, log, opts...)
		clientConfig.Live = cache

		if cfg.LivePoll > 0 {
			poller = live.NewPoller(cache, cfg.LivePoll, cfg.FeedTimeout, log)
			poller.Start()
			defer poller.Stop()
		}
	} else {
		log.Warn("API_KEY not set, serving schedule only")
	}

	client := trains.NewLocal(snap, clientConfig)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(client, cfg, log, collector),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		// Graceful shutdown
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newRouter(client trains.Client, cfg *config.Config, log logger.Logger, collector *metrics.Collector) *mux.Router {
	handlerConfig := handlers.Config{
		PublicBaseURL: cfg.PublicBaseURL,
		Logger:        log,
	}
	if cfg.MetricsEnabled {
		handlerConfig.Metrics = collector.Handler()
	}

	r := mux.NewRouter()
	h := handlers.NewHandler(client, handlerConfig)
	h.RegisterRoutes(r)

	r.Use(handlers.RequestIDMiddleware)
	r.Use(handlers.LoggingMiddleware(log, collector))
	r.Use(handlers.CORSMiddleware)
	return r
}
