package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/unclebandit/campaign-dispatch/internal/handler"
	"github.com/unclebandit/campaign-dispatch/internal/metrics"
)

type RouterDeps struct {
	Campaigns *CampaignController
	Audience  *AudienceController
	Criteria  *CriteriaController
	Templates *TemplateController

	Metrics     *metrics.Metrics
	Log         zerolog.Logger
	CORSOrigins []string
	// Limiter is optional; without it the API is not rate limited.
	Limiter *handler.IPRateLimiter
	// Health is optional and reports whether the store is reachable.
	Health func(ctx context.Context) error
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(handler.RequestLogger(d.Log, d.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(handler.CORS(d.CORSOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if d.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := d.Health(ctx); err != nil {
				zerolog.Ctx(r.Context()).Warn().Err(err).Msg("health check failed")
				handler.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "fail", "db": "unreachable"})
				return
			}
		}
		handler.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		if d.Limiter != nil {
			r.Use(d.Limiter.Middleware)
		}

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", d.Campaigns.CreateCampaign)
			r.Get("/", d.Campaigns.ListCampaigns)
			r.Get("/{id}", d.Campaigns.GetCampaignDetails)
			r.Put("/{id}", d.Campaigns.UpdateCampaign)
			r.Delete("/{id}", d.Campaigns.DeleteCampaign)
			r.Post("/{id}/duplicate", d.Campaigns.DuplicateCampaign)
			r.Post("/{id}/schedule", d.Campaigns.ScheduleCampaign)
			r.Post("/{id}/toggle", d.Campaigns.ToggleCampaign)
			r.Post("/{id}/launch", d.Campaigns.LaunchCampaign)
			r.Post("/{id}/complete", d.Campaigns.CompleteCampaign)
		})

		r.Route("/audience", func(r chi.Router) {
			r.Post("/", d.Audience.CreateMember)
			r.Get("/", d.Audience.ListMembers)
			r.Post("/estimate", d.Audience.Estimate)
			r.Get("/{id}", d.Audience.GetMember)
		})

		r.Route("/filters", func(r chi.Router) {
			r.Post("/", d.Audience.CreateFilter)
			r.Get("/", d.Audience.ListFilters)
			r.Get("/{id}", d.Audience.GetFilter)
		})

		r.Route("/criteria", func(r chi.Router) {
			r.Post("/", d.Criteria.CreateBlock)
			r.Get("/", d.Criteria.ListBlocks)
			r.Delete("/{id}", d.Criteria.DeleteBlock)
		})

		r.Route("/templates", func(r chi.Router) {
			r.Post("/", d.Templates.CreateTemplate)
			r.Get("/", d.Templates.ListTemplates)
			r.Get("/{id}", d.Templates.GetTemplate)
			r.Put("/{id}", d.Templates.UpdateTemplate)
			r.Post("/{id}/preview", d.Templates.PreviewTemplate)
		})
	})
	return r
}
