// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/unclebandit/campaign-dispatch/internal/app"
	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/controller"
	"github.com/unclebandit/campaign-dispatch/internal/db"
	"github.com/unclebandit/campaign-dispatch/internal/handler"
	"github.com/unclebandit/campaign-dispatch/internal/logger"
	"github.com/unclebandit/campaign-dispatch/internal/metrics"
	"github.com/unclebandit/campaign-dispatch/internal/redisstore"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file (optional)")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		boot := logger.New("info", "json")
		boot.Fatal().Err(err).Msg("load config")
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format).With().Str("service", "campaign-api").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Connect(ctx, cfg.Database.DSN(), cfg.Database.MaxOpenConns, log)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer conn.Close()
	if err := db.Migrate(ctx, conn); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

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

	repos := app.NewRepositories(conn)
	svcs, err := app.NewServices(ctx, cfg, repos, q, snd, m, log)
	if err != nil {
		log.Fatal().Err(err).Msg("build services")
	}
	defer svcs.Background.Close()

	// An in-memory queue is only visible to this process, so it gets a
	// worker here.
	if strings.EqualFold(cfg.Queue.Driver, "memory") {
		dl, closeDL := app.NewDeadLetter(cfg, log)
		defer closeDL()
		w := app.NewDispatchWorker(cfg, rdb, q, snd, repos.Recipients, dl, m, log)
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("in-process dispatch worker stopped")
			}
		}()
	}

	router := controller.NewRouter(controller.RouterDeps{
		Campaigns:   &controller.CampaignController{CampaignService: svcs.Campaigns},
		Audience:    &controller.AudienceController{Audience: svcs.Audience, Filters: svcs.Filters},
		Criteria:    &controller.CriteriaController{Criteria: svcs.Criteria},
		Templates:   &controller.TemplateController{Templates: svcs.Templates},
		Metrics:     m,
		Log:         log,
		CORSOrigins: cfg.Server.CORSOrigins,
		Limiter:     handler.NewIPRateLimiter(cfg.Server.RequestsPerSecond, cfg.Server.Burst),
		Health:      conn.PingContext,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
}
