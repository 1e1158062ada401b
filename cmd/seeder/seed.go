package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/service"
)

var defaultCriteria = []model.CriteriaBlock{
	{Key: "age", Label: "Age", Type: "number", Category: model.CategoryFilterComponent,
		Operators: []string{"equals", "greaterThan", "lessThan", "between"}},
	{Key: "location.city", Label: "City", Type: "string", Category: model.CategoryFilterComponent,
		Operators: []string{"equals", "startsWith", "contains"}},
	{Key: "location.state", Label: "State", Type: "string", Category: model.CategoryFilterComponent,
		Operators: []string{"equals"}},
	{Key: "location.country", Label: "Country", Type: "string", Category: model.CategoryFilterComponent,
		Operators: []string{"equals"}},
	{Key: "tags", Label: "Tags", Type: "string", Category: model.CategoryFilterComponent,
		Operators: []string{"contains"}},
	{Key: "attributes.region", Label: "Region", Type: "string", Category: model.CategoryFilterComponent,
		Operators: []string{"equals"}},
	{Key: "attributes.plan", Label: "Plan", Type: "string", Category: model.CategoryFilterComponent,
		Operators: []string{"equals"}},
}

// seedCriteria inserts the default blocks, skipping labels that exist.
func seedCriteria(ctx context.Context, svc *service.CriteriaService, log zerolog.Logger) (inserted, existing int, err error) {
	for _, b := range defaultCriteria {
		_, err := svc.Create(ctx, &b)
		var conflict *appErrors.ErrConflict
		switch {
		case errors.As(err, &conflict):
			existing++
			log.Debug().Str("key", b.Key).Msg("criteria block already exists")
		case err != nil:
			return inserted, existing, fmt.Errorf("seed %s: %w", b.Key, err)
		default:
			inserted++
			log.Debug().Str("key", b.Key).Msg("criteria block inserted")
		}
	}
	return inserted, existing, nil
}

var (
	firstNames = []string{"Amina", "Brian", "Chen", "Diana", "Emeka", "Fatima", "Grace", "Hiro", "Ivan", "Joy", "Kofi", "Lena"}
	lastNames  = []string{"Otieno", "Smith", "Wang", "Garcia", "Okafor", "Khan", "Muller", "Sato", "Petrov", "Mensah"}
	places     = []struct{ state, city string }{
		{"CA", "San Francisco"}, {"CA", "Los Angeles"}, {"NY", "New York"}, {"TX", "Austin"},
		{"WA", "Seattle"}, {"IL", "Chicago"}, {"MA", "Boston"}, {"CO", "Denver"},
	}
	tagPool = []string{"engineering", "startup", "marketing", "saas", "india", "us"}
	regions = []string{"North America", "Europe", "Asia"}
	plans   = []string{"free", "pro", "enterprise"}
)

// fakeAudience generates n members with unique addresses.
func fakeAudience(r *rand.Rand, n int) []model.AudienceMember {
	members := make([]model.AudienceMember, 0, n)
	for i := 0; i < n; i++ {
		first := firstNames[r.IntN(len(firstNames))]
		last := lastNames[r.IntN(len(lastNames))]
		place := places[r.IntN(len(places))]
		age := 18 + r.IntN(48)

		tags := make([]string, 0, 3)
		for _, idx := range r.Perm(len(tagPool))[:1+r.IntN(3)] {
			tags = append(tags, tagPool[idx])
		}

		members = append(members, model.AudienceMember{
			Email:    fmt.Sprintf("%s.%s.%d@example.com", first, last, i),
			Name:     first + " " + last,
			Age:      &age,
			Location: model.Location{Country: "US", State: place.state, City: place.city},
			Tags:     tags,
			Attributes: map[string]any{
				"region": regions[r.IntN(len(regions))],
				"plan":   plans[r.IntN(len(plans))],
			},
		})
	}
	return members
}

// seedAudience inserts members, counting addresses that already exist.
func seedAudience(ctx context.Context, svc *service.AudienceService, members []model.AudienceMember) (inserted, duplicates int, err error) {
	for i := range members {
		err := svc.CreateMember(ctx, &members[i])
		var conflict *appErrors.ErrConflict
		switch {
		case errors.As(err, &conflict):
			duplicates++
		case err != nil:
			return inserted, duplicates, err
		default:
			inserted++
		}
	}
	return inserted, duplicates, nil
}
