package service

import (
	"context"
	"slices"
	"strings"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/filter"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

// CriteriaService manages the criteria blocks offered by the audience
// builder.
type CriteriaService struct {
	Repo repository.CriteriaBlockRepositoryInterface
}

func (s *CriteriaService) Create(ctx context.Context, b *model.CriteriaBlock) (*model.CriteriaBlock, error) {
	b.Key = strings.TrimSpace(b.Key)
	b.Label = strings.TrimSpace(b.Label)
	switch {
	case b.Key == "":
		return nil, appErrors.NewValidation("key", "is required")
	case b.Label == "":
		return nil, appErrors.NewValidation("label", "is required")
	case b.Category != model.CategoryFilterComponent && b.Category != model.CategoryTriggerFilter:
		return nil, appErrors.NewValidation("category", "must be %s or %s", model.CategoryFilterComponent, model.CategoryTriggerFilter)
	case !filter.ValidType(filter.ValueType(b.Type)):
		return nil, appErrors.NewValidation("type", "unsupported type %q", b.Type)
	}

	allowed := filter.AllowedOperators(filter.ValueType(b.Type))
	if len(b.Operators) == 0 {
		b.Operators = slices.Clone(allowed)
	}
	for _, op := range b.Operators {
		if !slices.Contains(allowed, op) {
			return nil, appErrors.NewUnsupportedOperator(op, b.Key, b.Type)
		}
	}

	exists, err := s.Repo.ExistsLabel(ctx, b.Category, b.Label)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, appErrors.NewConflict("criteria block %q already exists in %s", b.Label, b.Category)
	}
	if err := s.Repo.Create(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *CriteriaService) List(ctx context.Context, category string) ([]model.CriteriaBlock, error) {
	return s.Repo.List(ctx, category)
}

func (s *CriteriaService) Delete(ctx context.Context, id string) error {
	return s.Repo.Delete(ctx, id)
}

// Registry builds the filter registry from the stored filter components.
func (s *CriteriaService) Registry(ctx context.Context) (*filter.Registry, []string, error) {
	blocks, err := s.Repo.List(ctx, model.CategoryFilterComponent)
	if err != nil {
		return nil, nil, err
	}
	reg, skipped := RegistryFromBlocks(blocks)
	return reg, skipped, nil
}
