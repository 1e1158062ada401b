package controller_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

func TestAudienceEndpoints(t *testing.T) {
	a := newAPI(t, nil)
	a.seedSchedulable(t)

	w := a.do(t, http.MethodPost, "/api/audience", map[string]any{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPost, "/api/audience", map[string]any{"email": "email35@x.io"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(t, http.MethodGet, "/api/audience?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Data       []model.AudienceMember `json:"data"`
		Pagination service.Pagination     `json:"pagination"`
	}](t, w)
	assert.Len(t, list.Data, 2)
	assert.Equal(t, 3, list.Pagination.TotalCount)

	w = a.do(t, http.MethodGet, "/api/audience/"+list.Data[0].ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodPost, "/api/audience/estimate", map[string]any{
		"filter": map[string]any{
			"logicalOperator": "AND",
			"conditions": []any{map[string]any{
				"groupOperator": "AND",
				"criteria":      []any{map[string]any{"field": "age", "operator": "lessThan", "value": 40}},
			}},
		},
		"sampleSize": 1,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	est := decode[service.AudienceEstimate](t, w)
	assert.Equal(t, 2, est.Count)
	assert.Equal(t, 3, est.Total)
	assert.Len(t, est.Sample, 1)

	w = a.do(t, http.MethodPost, "/api/audience/estimate", map[string]any{
		"filter": map[string]any{
			"conditions": []any{map[string]any{
				"criteria": []any{map[string]any{"field": "shoeSize", "operator": "equals", "value": 9}},
			}},
		},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFilterEndpoints(t *testing.T) {
	a := newAPI(t, nil)
	filterID, _ := a.seedSchedulable(t)

	w := a.do(t, http.MethodGet, "/api/filters/"+filterID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "over 30", decode[model.AudienceFilter](t, w).Name)

	w = a.do(t, http.MethodGet, "/api/filters", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[struct {
		Data []model.AudienceFilter `json:"data"`
	}](t, w).Data, 1)

	w = a.do(t, http.MethodPost, "/api/filters", map[string]any{
		"name": "broken",
		"filter": map[string]any{"conditions": []any{map[string]any{
			"criteria": []any{map[string]any{"field": "age", "operator": "roughly", "value": 3}},
		}}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodGet, "/api/filters/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCriteriaEndpoints(t *testing.T) {
	a := newAPI(t, nil)

	block := map[string]any{"key": "loyaltyTier", "label": "Loyalty tier", "type": "string", "category": "filterComponent"}
	w := a.do(t, http.MethodPost, "/api/criteria", block)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[model.CriteriaBlock](t, w)
	assert.NotEmpty(t, created.Operators)

	block["label"] = "LOYALTY TIER"
	w = a.do(t, http.MethodPost, "/api/criteria", block)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(t, http.MethodPost, "/api/criteria", map[string]any{
		"key": "age", "label": "Age", "type": "number", "category": "filterComponent", "operators": []string{"contains"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodGet, "/api/criteria?category=filterComponent", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[struct {
		Data []model.CriteriaBlock `json:"data"`
	}](t, w).Data, 1)

	w = a.do(t, http.MethodDelete, "/api/criteria/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
}
