package controller_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-dispatch/internal/model"
)

func TestPreviewTemplate(t *testing.T) {
	a := newAPI(t, nil)

	w := a.do(t, http.MethodPost, "/api/templates", map[string]any{
		"name":    "Welcome",
		"subject": "Welcome to {{ campaign.name }}",
		"content": "<p>Hi {{ customer.first_name | default: \"there\" }}</p>",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	tmpl := decode[model.Template](t, w)

	w = a.do(t, http.MethodPost, "/api/templates/"+tmpl.ID+"/preview", map[string]any{
		"customer": map[string]any{"first_name": "Alice"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[map[string]string](t, w)
	assert.Equal(t, "Welcome to Preview campaign", res["subject"])
	assert.Contains(t, res["html"], "Alice")
	assert.Equal(t, "Hi Alice", res["text"])

	w = a.do(t, http.MethodPost, "/api/templates/"+tmpl.ID+"/preview", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode[map[string]string](t, w)["html"], "there")
}

func TestTemplateEndpoints(t *testing.T) {
	a := newAPI(t, nil)

	w := a.do(t, http.MethodPost, "/api/templates", map[string]any{"name": "x", "subject": "s", "content": "{% bogus %}"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPost, "/api/templates", map[string]any{"name": "x", "subject": "s", "content": "<p>v1</p>"})
	require.Equal(t, http.StatusCreated, w.Code)
	tmpl := decode[model.Template](t, w)

	w = a.do(t, http.MethodPut, "/api/templates/"+tmpl.ID, map[string]any{"name": "x", "subject": "s", "content": "<p>v2</p>"})
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodGet, "/api/templates/"+tmpl.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<p>v2</p>", decode[model.Template](t, w).Content)

	w = a.do(t, http.MethodPut, "/api/templates/missing", map[string]any{"name": "x", "subject": "s", "content": "c"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, http.MethodGet, "/api/templates", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[struct {
		Data []model.Template `json:"data"`
	}](t, w).Data, 1)
}
