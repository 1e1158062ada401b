package controller

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/campaign-dispatch/internal/filter"
	"github.com/unclebandit/campaign-dispatch/internal/handler"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

const defaultSampleSize = 10

// AudienceController serves audience members, saved filters and audience
// estimates.
type AudienceController struct {
	Audience *service.AudienceService
	Filters  *service.FilterService
}

func (c *AudienceController) CreateMember(w http.ResponseWriter, r *http.Request) {
	var m model.AudienceMember
	if err := handler.Decode(r, &m); err != nil {
		handler.WriteError(w, r, err)
		return
	}
	if err := c.Audience.CreateMember(r.Context(), &m); err != nil {
		handler.WriteError(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusCreated, m)
}

func (c *AudienceController) ListMembers(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	members, pagination, err := c.Audience.ListMembers(r.Context(), page, pageSize)
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{
		"data":       members,
		"pagination": pagination,
	})
}

func (c *AudienceController) GetMember(w http.ResponseWriter, r *http.Request) {
	m, err := c.Audience.GetMember(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, m)
}

// Estimate counts the members a filter expression matches and returns a
// small sample of them.
func (c *AudienceController) Estimate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Filter     filter.Expression `json:"filter"`
		SampleSize int               `json:"sampleSize"`
	}
	if err := handler.Decode(r, &body); err != nil {
		handler.WriteError(w, r, err)
		return
	}
	if body.SampleSize <= 0 {
		body.SampleSize = defaultSampleSize
	}

	est, err := c.Audience.Estimate(r.Context(), body.Filter, body.SampleSize)
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, est)
}

// ====================== Saved filters ======================

func (c *AudienceController) CreateFilter(w http.ResponseWriter, r *http.Request) {
	var f model.AudienceFilter
	if err := handler.Decode(r, &f); err != nil {
		handler.WriteError(w, r, err)
		return
	}
	saved, err := c.Filters.Create(r.Context(), &f)
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusCreated, saved)
}

func (c *AudienceController) ListFilters(w http.ResponseWriter, r *http.Request) {
	filters, err := c.Filters.List(r.Context())
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{"data": filters})
}

func (c *AudienceController) GetFilter(w http.ResponseWriter, r *http.Request) {
	f, err := c.Filters.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, f)
}
