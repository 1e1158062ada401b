package service_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

func TestPagination(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		_, err := h.campaignSvc.Create(ctx, &model.Campaign{Name: fmt.Sprintf("C%d", i)})
		require.NoError(t, err)
	}

	pageSize := 2
	page1, pagination1, err := h.campaignSvc.List(ctx, service.ListParams{Page: 1, PageSize: pageSize, SortBy: "name", Desc: true})
	require.NoError(t, err)
	page2, _, err := h.campaignSvc.List(ctx, service.ListParams{Page: 2, PageSize: pageSize, SortBy: "name", Desc: true})
	require.NoError(t, err)
	page3, _, err := h.campaignSvc.List(ctx, service.ListParams{Page: 3, PageSize: pageSize, SortBy: "name", Desc: true})
	require.NoError(t, err)

	assert.Equal(t, 5, pagination1.TotalCount)
	assert.Equal(t, 3, pagination1.TotalPages)

	require.Len(t, page1, 2)
	require.Len(t, page2, 2)
	require.Len(t, page3, 1)

	// descending order across pages
	assert.Equal(t, "C5", page1[0].Name)
	assert.Equal(t, "C4", page1[1].Name)
	assert.Equal(t, "C3", page2[0].Name)
	assert.Equal(t, "C1", page3[0].Name)
}

func TestPaginationDefaults(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, p, err := h.campaignSvc.List(ctx, service.ListParams{Page: 0, PageSize: 1000})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, 100, p.PageSize)

	_, p, err = h.campaignSvc.List(ctx, service.ListParams{})
	require.NoError(t, err)
	assert.Equal(t, 20, p.PageSize)
}

func TestListFilters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, name := range []string{"Spring sale", "Summer sale", "Welcome"} {
		_, err := h.campaignSvc.Create(ctx, &model.Campaign{Name: name})
		require.NoError(t, err)
	}
	_, err := h.campaignSvc.Create(ctx, &model.Campaign{Name: "Live promo", Type: model.CampaignTypeRealTime})
	require.NoError(t, err)

	found, p, err := h.campaignSvc.List(ctx, service.ListParams{Search: "SALE"})
	require.NoError(t, err)
	assert.Equal(t, 2, p.TotalCount)
	assert.Len(t, found, 2)

	found, _, err = h.campaignSvc.List(ctx, service.ListParams{Types: []string{model.CampaignTypeRealTime}})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Live promo", found[0].Name)

	found, _, err = h.campaignSvc.List(ctx, service.ListParams{Statuses: []string{string(model.CampaignActive)}})
	require.NoError(t, err)
	assert.Empty(t, found)
}
