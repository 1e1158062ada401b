// internal/controller/campaign_controller.go
package controller

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/handler"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

// ActionSchedule in a create or update body moves the saved Draft straight
// to Scheduled.
const ActionSchedule = "Scheduled"

type CampaignController struct {
	CampaignService *service.CampaignService
}

type campaignRequest struct {
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	Audience *string         `json:"audience"`
	Template *string         `json:"template"`
	Schedule *model.Schedule `json:"schedule"`
	Action   string          `json:"action"`
}

func (b campaignRequest) campaign(id string) *model.Campaign {
	return &model.Campaign{
		ID:               id,
		Name:             b.Name,
		Type:             b.Type,
		AudienceFilterID: b.Audience,
		TemplateID:       b.Template,
		Schedule:         b.Schedule,
	}
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body campaignRequest
	if err := handler.Decode(r, &body); err != nil {
		handler.WriteError(w, r, err)
		return
	}

	campaign, err := c.CampaignService.Create(r.Context(), body.campaign(""))
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}
	if body.Action == ActionSchedule {
		if campaign, err = c.CampaignService.TransitionToScheduled(r.Context(), campaign.ID); err != nil {
			handler.WriteError(w, r, err)
			return
		}
	}

	handler.WriteJSON(w, http.StatusCreated, map[string]any{"campaign": campaign})
}

func (c *CampaignController) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body campaignRequest
	if err := handler.Decode(r, &body); err != nil {
		handler.WriteError(w, r, err)
		return
	}

	campaign, err := c.CampaignService.Update(r.Context(), body.campaign(id))
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}
	if body.Action == ActionSchedule {
		if campaign, err = c.CampaignService.TransitionToScheduled(r.Context(), id); err != nil {
			handler.WriteError(w, r, err)
			return
		}
	}

	handler.WriteJSON(w, http.StatusOK, map[string]any{"campaign": campaign})
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	params, err := listParams(r)
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}

	campaigns, pagination, err := c.CampaignService.List(r.Context(), params)
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}

	handler.WriteJSON(w, http.StatusOK, map[string]any{
		"data":       campaigns,
		"pagination": pagination,
	})
}

// listParams reads search, status and type (comma separated), startDate and
// endDate (published range), sortBy, order, page and limit (or page_size).
func listParams(r *http.Request) (service.ListParams, error) {
	q := r.URL.Query()
	p := service.ListParams{
		Search:   q.Get("search"),
		Statuses: splitList(q.Get("status")),
		Types:    splitList(q.Get("type")),
		SortBy:   q.Get("sortBy"),
		Desc:     !strings.EqualFold(q.Get("order"), "asc"),
	}
	if p.SortBy == "" {
		p.SortBy = "createdAt"
	}

	p.Page, _ = strconv.Atoi(q.Get("page"))
	limit := q.Get("limit")
	if limit == "" {
		limit = q.Get("page_size")
	}
	p.PageSize, _ = strconv.Atoi(limit)

	var err error
	if p.PublishedFrom, err = parseDate(q.Get("startDate"), "startDate"); err != nil {
		return p, err
	}
	if p.PublishedTo, err = parseDate(q.Get("endDate"), "endDate"); err != nil {
		return p, err
	}
	return p, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseDate(s, field string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, appErrors.NewValidation(field, "expected RFC3339 or YYYY-MM-DD, got %q", s)
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	details, err := c.CampaignService.GetWithStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, details)
}

func (c *CampaignController) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := c.CampaignService.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		handler.WriteError(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]string{"message": "campaign deleted"})
}

func (c *CampaignController) DuplicateCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := c.CampaignService.Duplicate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusCreated, map[string]any{"campaign": campaign})
}

// ====================== Lifecycle ======================

func (c *CampaignController) ScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := c.CampaignService.TransitionToScheduled(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{"campaign": campaign})
}

func (c *CampaignController) ToggleCampaign(w http.ResponseWriter, r *http.Request) {
	res, err := c.CampaignService.Toggle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, res)
}

func (c *CampaignController) LaunchCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := c.CampaignService.Launch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{"campaign": campaign})
}

func (c *CampaignController) CompleteCampaign(w http.ResponseWriter, r *http.Request) {
	campaign, err := c.CampaignService.Complete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{"campaign": campaign})
}
