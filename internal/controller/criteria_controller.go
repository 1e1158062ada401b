package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/campaign-dispatch/internal/handler"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

type CriteriaController struct {
	Criteria *service.CriteriaService
}

func (c *CriteriaController) CreateBlock(w http.ResponseWriter, r *http.Request) {
	var b model.CriteriaBlock
	if err := handler.Decode(r, &b); err != nil {
		handler.WriteError(w, r, err)
		return
	}
	saved, err := c.Criteria.Create(r.Context(), &b)
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusCreated, saved)
}

// ListBlocks returns every block, or one category when ?category= is set.
func (c *CriteriaController) ListBlocks(w http.ResponseWriter, r *http.Request) {
	blocks, err := c.Criteria.List(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{"data": blocks})
}

func (c *CriteriaController) DeleteBlock(w http.ResponseWriter, r *http.Request) {
	if err := c.Criteria.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		handler.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
