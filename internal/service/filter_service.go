package service

import (
	"context"
	"strings"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

// FilterService stores audience filters. An expression is only saved when it
// compiles against the audience registry.
type FilterService struct {
	Repo     repository.AudienceFilterRepositoryInterface
	Audience *AudienceService
}

func (s *FilterService) Create(ctx context.Context, f *model.AudienceFilter) (*model.AudienceFilter, error) {
	f.Name = strings.TrimSpace(f.Name)
	if f.Name == "" {
		return nil, appErrors.NewValidation("name", "is required")
	}
	if len(f.Expression.Conditions) == 0 {
		return nil, appErrors.NewValidation("filter", "at least one condition group is required")
	}
	if err := s.Audience.Validate(f.Expression); err != nil {
		return nil, err
	}
	if err := s.Repo.Create(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *FilterService) Get(ctx context.Context, id string) (*model.AudienceFilter, error) {
	return s.Repo.GetByID(ctx, id)
}

func (s *FilterService) List(ctx context.Context) ([]model.AudienceFilter, error) {
	return s.Repo.List(ctx)
}
