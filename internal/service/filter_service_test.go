package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/filter"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

func TestFilterService(t *testing.T) {
	h := newHarness(t)
	svc := &service.FilterService{Repo: h.filters, Audience: h.audienceSvc}
	ctx := context.Background()

	f, err := svc.Create(ctx, &model.AudienceFilter{Name: " Adults ", Expression: ageOver(17)})
	require.NoError(t, err)
	assert.Equal(t, "Adults", f.Name)
	assert.NotEmpty(t, f.ID)

	got, err := svc.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, ageOver(17), got.Expression)

	all, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = svc.Create(ctx, &model.AudienceFilter{Name: "", Expression: ageOver(1)})
	assert.True(t, appErrors.IsValidation(err))

	_, err = svc.Create(ctx, &model.AudienceFilter{Name: "empty"})
	assert.True(t, appErrors.IsValidation(err))

	bad := filter.Expression{
		Conditions:      []filter.Group{{GroupOperator: filter.AND, Criteria: []filter.Criterion{{Field: "age", Operator: "sortOf", Value: 3}}}},
		LogicalOperator: filter.AND,
	}
	_, err = svc.Create(ctx, &model.AudienceFilter{Name: "bad", Expression: bad})
	var unsupported *appErrors.UnsupportedOperatorError
	assert.ErrorAs(t, err, &unsupported)

	_, err = svc.Get(ctx, "missing")
	assert.True(t, appErrors.IsNotFound(err))
}
