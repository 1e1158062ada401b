package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/unclebandit/campaign-dispatch/internal/app"
	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/db"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/metrics"
	"github.com/unclebandit/campaign-dispatch/internal/redisstore"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file (optional)")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		boot := logger.New("info", "json")
		boot.Fatal().Err(err).Msg("load config")
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format).With().Str("service", "dispatch-worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Queue.Driver != "redis" {
		log.Fatal().Str("driver", cfg.Queue.Driver).Msg("the standalone worker needs QUEUE_DRIVER=redis")
	}

	conn, err := db.Connect(ctx, cfg.Database.DSN(), cfg.Database.MaxOpenConns, log)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer conn.Close()

	rdb, err := redisstore.NewClient(ctx, cfg.Redis.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect redis")
	}
	defer rdb.Close()

	m := metrics.New()
	q, err := app.NewQueue(cfg, rdb, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build queue")
	}
	snd, err := app.NewSender(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build sender")
	}
	dl, closeDL := app.NewDeadLetter(cfg, log)
	defer closeDL()

	w := app.NewDispatchWorker(cfg, rdb, q, snd, &repository.RecipientRepository{DB: conn}, dl, m, log)

	metricsSrv := &http.Server{
		Addr:              cfg.Server.MetricsAddr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.Server.MetricsAddr).Msg("metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server")
		}
	}()

	log.Info().
		Int("sends_per_second", cfg.Dispatch.SendsPerSecond).
		Int("attempts", cfg.Queue.Attempts).
		Str("transport", cfg.Dispatch.Transport).
		Msg("worker running")
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("dispatch worker stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	log.Info().Msg("worker stopped")
}
