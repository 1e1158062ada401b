// Package app wires configuration into the concrete stores, queue, sender
// and services shared by the server and worker binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/filter"
	"github.com/unclebandit/campaign-dispatch/internal/metrics"
	"github.com/unclebandit/campaign-dispatch/internal/queue"
	"github.com/unclebandit/campaign-dispatch/internal/redisstore"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
	"github.com/unclebandit/campaign-dispatch/internal/sender"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

// Queue is a dispatch queue whose exhausted hook can be installed after
// construction, once the worker that handles it exists.
type Queue interface {
	queue.Queue
	OnExhausted(fn queue.ExhaustedFunc)
}

// NewQueue builds the queue named by cfg.Queue.Driver. The redis driver needs
// rdb; the memory driver only works when producer and consumer share a
// process.
func NewQueue(cfg *config.Config, rdb *redis.Client, log zerolog.Logger) (Queue, error) {
	policy := queue.DefaultPolicy()
	policy.MaxAttempts = cfg.Queue.Attempts

	switch strings.ToLower(cfg.Queue.Driver) {
	case "memory":
		return queue.NewInMemoryQueue(policy, log), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("queue driver redis needs a redis client")
		}
		return queue.NewRedisQueue(rdb, queue.RedisQueueConfig{
			Name:         cfg.Queue.Name,
			PollInterval: cfg.Queue.PollInterval(),
			Visibility:   cfg.Queue.Visibility(),
		}, policy, log), nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Queue.Driver)
	}
}

// NewSender builds the transport named by cfg.Dispatch.Transport.
func NewSender(ctx context.Context, cfg *config.Config, log zerolog.Logger) (sender.Sender, error) {
	switch strings.ToLower(cfg.Dispatch.Transport) {
	case "log", "":
		return &sender.LogSender{Log: log.With().Str("component", "log_sender").Logger()}, nil
	case "smtp":
		if cfg.SMTP.Host == "" {
			return nil, fmt.Errorf("smtp transport needs SMTP_HOST")
		}
		return sender.NewSMTPSender(sender.SMTPConfig{
			Host:       cfg.SMTP.Host,
			Port:       cfg.SMTP.Port,
			Username:   cfg.SMTP.Username,
			Password:   cfg.SMTP.Password,
			RequireTLS: cfg.SMTP.RequireTLS,
		}), nil
	case "ses":
		return sender.NewSESSender(ctx, sender.SESConfig{
			Region:           cfg.SES.Region,
			AccessKey:        cfg.SES.AccessKey,
			SecretKey:        cfg.SES.SecretKey,
			ConfigurationSet: cfg.SES.ConfigurationSet,
		})
	default:
		return nil, fmt.Errorf("unknown dispatch transport %q", cfg.Dispatch.Transport)
	}
}

// NewDeadLetter connects the AMQP dead-letter queue when AMQP_URL is set and
// falls back to logging exhausted jobs otherwise. The returned func closes
// the connection.
func NewDeadLetter(cfg *config.Config, log zerolog.Logger) (queue.DeadLetter, func()) {
	fallback := queue.LogDeadLetter{Log: log}
	if cfg.AMQP.URL == "" {
		return fallback, func() {}
	}
	dl, err := queue.NewAMQPDeadLetter(cfg.AMQP.URL, cfg.AMQP.DeadLetterQueue)
	if err != nil {
		log.Warn().Err(err).Msg("dead-letter queue unavailable, logging exhausted jobs instead")
		return fallback, func() {}
	}
	return dl, func() {
		if err := dl.Close(); err != nil {
			log.Warn().Err(err).Msg("close dead-letter connection")
		}
	}
}

// Repositories are the postgres stores.
type Repositories struct {
	Campaigns  *repository.CampaignRepository
	Recipients *repository.RecipientRepository
	Audience   *repository.AudienceRepository
	Filters    *repository.AudienceFilterRepository
	Templates  *repository.TemplateRepository
	Criteria   *repository.CriteriaBlockRepository
}

func NewRepositories(db *sql.DB) Repositories {
	return Repositories{
		Campaigns:  &repository.CampaignRepository{DB: db},
		Recipients: &repository.RecipientRepository{DB: db},
		Audience:   &repository.AudienceRepository{DB: db},
		Filters:    &repository.AudienceFilterRepository{DB: db},
		Templates:  &repository.TemplateRepository{DB: db},
		Criteria:   &repository.CriteriaBlockRepository{DB: db},
	}
}

// Services is everything the HTTP API calls.
type Services struct {
	Audience   *service.AudienceService
	Filters    *service.FilterService
	Criteria   *service.CriteriaService
	Templates  *service.TemplateService
	Campaigns  *service.CampaignService
	Background *service.Background
}

// NewServices builds the services. The audience registry is extended with
// the stored filter components; blocks that cannot be declared are logged
// and skipped.
func NewServices(ctx context.Context, cfg *config.Config, repos Repositories, q queue.Queue, snd sender.Sender, m *metrics.Metrics, log zerolog.Logger) (*Services, error) {
	criteria := &service.CriteriaService{Repo: repos.Criteria}
	registry, skipped, err := criteria.Registry(ctx)
	if err != nil {
		return nil, fmt.Errorf("load criteria blocks: %w", err)
	}
	for _, s := range skipped {
		log.Warn().Str("criteria_block", s).Msg("criteria block skipped")
	}

	renderer := service.NewTemplateRenderer()
	audience := service.NewAudienceService(repos.Audience, filter.NewCompiler(registry))
	snapshots := &service.SnapshotService{Audience: audience, Recipients: repos.Recipients, Metrics: m, Log: log}
	enqueuer := &service.EnqueueService{
		Campaigns:  repos.Campaigns,
		Templates:  repos.Templates,
		Recipients: repos.Recipients,
		Queue:      q,
		Renderer:   renderer,
		From:       cfg.Dispatch.DefaultSender,
		Metrics:    m,
		Log:        log,
	}
	background := service.NewBackground(2, 64, 30*time.Second, log)

	return &Services{
		Audience: audience,
		Filters:  &service.FilterService{Repo: repos.Filters, Audience: audience},
		Criteria: criteria,
		Templates: &service.TemplateService{
			Repo:       repos.Templates,
			Renderer:   renderer,
			Sender:     snd,
			Background: background,
			From:       cfg.Dispatch.DefaultSender,
			Log:        log,
		},
		Campaigns: &service.CampaignService{
			Campaigns:  repos.Campaigns,
			Filters:    repos.Filters,
			Templates:  repos.Templates,
			Recipients: repos.Recipients,
			Audience:   audience,
			Snapshots:  snapshots,
			Enqueuer:   enqueuer,
			Metrics:    m,
			Log:        log,
		},
		Background: background,
	}, nil
}

// NewDispatchWorker builds the worker and installs its exhausted hook on q.
func NewDispatchWorker(cfg *config.Config, rdb *redis.Client, q Queue, snd sender.Sender, recipients repository.RecipientRepositoryInterface, dl queue.DeadLetter, m *metrics.Metrics, log zerolog.Logger) *service.DispatchWorker {
	w := &service.DispatchWorker{
		Limiter:    redisstore.NewRateLimiter(rdb, cfg.Dispatch.SendsPerSecond),
		Dedup:      redisstore.NewDeduplicator(rdb, cfg.Dispatch.DedupTTL()),
		Sender:     snd,
		Recipients: recipients,
		Queue:      q,
		DeadLetter: dl,
		SenderID:   cfg.Dispatch.DefaultSender,
		Metrics:    m,
		Log:        log.With().Str("component", "dispatch_worker").Logger(),
	}
	q.OnExhausted(w.HandleExhausted)
	return w
}
