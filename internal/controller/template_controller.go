package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/campaign-dispatch/internal/handler"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

type TemplateController struct {
	Templates *service.TemplateService
}

type templateRequest struct {
	Name      string `json:"name"`
	Subject   string `json:"subject"`
	Content   string `json:"content"`
	TestEmail string `json:"testEmail"`
}

func (c *TemplateController) save(w http.ResponseWriter, r *http.Request, id string, status int) {
	var body templateRequest
	if err := handler.Decode(r, &body); err != nil {
		handler.WriteError(w, r, err)
		return
	}
	t, err := c.Templates.Save(r.Context(), &model.Template{
		ID:        id,
		Name:      body.Name,
		Subject:   body.Subject,
		Content:   body.Content,
		TestEmail: body.TestEmail,
	})
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}
	handler.WriteJSON(w, status, t)
}

func (c *TemplateController) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	c.save(w, r, "", http.StatusCreated)
}

func (c *TemplateController) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := c.Templates.Get(r.Context(), id); err != nil {
		handler.WriteError(w, r, err)
		return
	}
	c.save(w, r, id, http.StatusOK)
}

func (c *TemplateController) GetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := c.Templates.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, t)
}

func (c *TemplateController) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := c.Templates.List(r.Context())
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]any{"data": templates})
}

// PreviewTemplate renders a stored template. The optional body is a JSON
// object of extra bindings.
func (c *TemplateController) PreviewTemplate(w http.ResponseWriter, r *http.Request) {
	var data map[string]any
	if r.ContentLength != 0 {
		if err := handler.Decode(r, &data); err != nil {
			handler.WriteError(w, r, err)
			return
		}
	}

	rendered, err := c.Templates.Preview(r.Context(), chi.URLParam(r, "id"), data)
	if err != nil {
		handler.WriteError(w, r, err)
		return
	}
	handler.WriteJSON(w, http.StatusOK, map[string]string{
		"subject": rendered.Subject,
		"html":    rendered.HTML,
		"text":    rendered.Text,
	})
}
