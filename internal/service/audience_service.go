package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/filter"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

// AudienceService resolves filter expressions against the audience store.
// Nothing is cached; every call compiles and queries again.
type AudienceService struct {
	Repo     repository.AudienceRepositoryInterface
	Compiler *filter.Compiler
}

func NewAudienceService(repo repository.AudienceRepositoryInterface, compiler *filter.Compiler) *AudienceService {
	if compiler == nil {
		compiler = filter.NewCompiler(nil)
	}
	return &AudienceService{Repo: repo, Compiler: compiler}
}

func (s *AudienceService) compile(expr filter.Expression) (filter.Query, error) {
	if s.Compiler == nil {
		return filter.Compile(expr)
	}
	return s.Compiler.Compile(expr)
}

// Validate compiles expr and discards the query.
func (s *AudienceService) Validate(expr filter.Expression) error {
	_, err := s.compile(expr)
	return err
}

func (s *AudienceService) Resolve(ctx context.Context, expr filter.Expression) ([]model.AudienceMember, error) {
	q, err := s.compile(expr)
	if err != nil {
		return nil, err
	}
	return s.Repo.Find(ctx, q)
}

// Emails resolves only the addresses of the matching members.
func (s *AudienceService) Emails(ctx context.Context, expr filter.Expression) ([]string, error) {
	q, err := s.compile(expr)
	if err != nil {
		return nil, err
	}
	return s.Repo.Emails(ctx, q)
}

func (s *AudienceService) Count(ctx context.Context, expr filter.Expression) (int, error) {
	q, err := s.compile(expr)
	if err != nil {
		return 0, err
	}
	return s.Repo.Count(ctx, q)
}

// AudienceEstimate is the preview shown while an operator builds a filter.
type AudienceEstimate struct {
	Count  int                    `json:"count"`
	Total  int                    `json:"total"`
	Sample []model.AudienceMember `json:"sample"`
}

// Estimate counts the matching audience and returns up to sampleSize members.
func (s *AudienceService) Estimate(ctx context.Context, expr filter.Expression, sampleSize int) (*AudienceEstimate, error) {
	q, err := s.compile(expr)
	if err != nil {
		return nil, err
	}
	count, err := s.Repo.Count(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("count audience: %w", err)
	}
	total, err := s.Repo.Count(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("count audience: %w", err)
	}
	members, err := s.Repo.Find(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("find audience: %w", err)
	}
	if sampleSize > 0 && len(members) > sampleSize {
		members = members[:sampleSize]
	}
	return &AudienceEstimate{Count: count, Total: total, Sample: members}, nil
}

func (s *AudienceService) CreateMember(ctx context.Context, m *model.AudienceMember) error {
	addr, err := mail.ParseAddress(strings.TrimSpace(m.Email))
	if err != nil {
		return appErrors.NewValidation("email", "invalid email address %q", m.Email)
	}
	m.Email = normalizeEmail(addr.Address)
	if m.Age != nil && *m.Age < 0 {
		return appErrors.NewValidation("age", "must not be negative")
	}
	return s.Repo.Create(ctx, m)
}

func (s *AudienceService) ListMembers(ctx context.Context, page, pageSize int) ([]model.AudienceMember, Pagination, error) {
	page, pageSize = normalizePage(page, pageSize)
	members, total, err := s.Repo.List(ctx, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, Pagination{}, err
	}
	return members, newPagination(page, pageSize, total), nil
}

func (s *AudienceService) GetMember(ctx context.Context, id string) (*model.AudienceMember, error) {
	return s.Repo.GetByID(ctx, id)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RegistryFromBlocks extends the default field registry with criteria
// blocks. Blocks for known fields narrow that field's operators; blocks keyed
// by an "attributes.*" path declare a new field. Blocks that cannot map to
// stored data (trigger filters, mostly) are returned as skipped.
func RegistryFromBlocks(blocks []model.CriteriaBlock) (*filter.Registry, []string) {
	reg := filter.DefaultRegistry()
	var skipped []string
	for _, b := range blocks {
		if err := reg.Declare(b.Key, filter.ValueType(b.Type), b.Operators); err != nil {
			skipped = append(skipped, b.Key)
		}
	}
	return reg, skipped
}
