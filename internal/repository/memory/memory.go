// Package memory holds in-process implementations of the repository
// interfaces. They back the service tests and QUEUE_DRIVER=memory local runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/filter"
	"github.com/unclebandit/campaign-dispatch/internal/model"
	"github.com/unclebandit/campaign-dispatch/internal/repository"
)

// ====================== Audience ======================

type AudienceStore struct {
	mu      sync.RWMutex
	members []model.AudienceMember
}

func (s *AudienceStore) Create(_ context.Context, m *model.AudienceMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.members {
		if strings.EqualFold(existing.Email, m.Email) {
			return appErrors.NewConflict("audience member with email %s already exists", m.Email)
		}
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.members = append(s.members, *m)
	return nil
}

// Add inserts members without the unique email check, for seeding tests with
// duplicate addresses.
func (s *AudienceStore) Add(members ...model.AudienceMember) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range members {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		s.members = append(s.members, m)
	}
}

func (s *AudienceStore) GetByID(_ context.Context, id string) (*model.AudienceMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.members {
		if m.ID == id {
			out := m
			return &out, nil
		}
	}
	return nil, appErrors.NewNotFound("audience member", id)
}

func (s *AudienceStore) List(_ context.Context, offset, limit int) ([]model.AudienceMember, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return page(s.members, offset, limit), len(s.members), nil
}

func (s *AudienceStore) Find(_ context.Context, q filter.Query) ([]model.AudienceMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.AudienceMember{}
	for i := range s.members {
		if q == nil || q.Match(&s.members[i]) {
			out = append(out, s.members[i])
		}
	}
	return out, nil
}

func (s *AudienceStore) Emails(ctx context.Context, q filter.Query) ([]string, error) {
	members, err := s.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	emails := make([]string, len(members))
	for i, m := range members {
		emails[i] = m.Email
	}
	return emails, nil
}

func (s *AudienceStore) Count(ctx context.Context, q filter.Query) (int, error) {
	members, err := s.Find(ctx, q)
	return len(members), err
}

// ====================== Campaigns ======================

type CampaignStore struct {
	mu        sync.RWMutex
	campaigns map[string]*model.Campaign
}

func NewCampaignStore() *CampaignStore {
	return &CampaignStore{campaigns: map[string]*model.Campaign{}}
}

func (s *CampaignStore) Create(_ context.Context, c *model.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	if c.ExecutionPhase == "" {
		c.ExecutionPhase = model.PhaseNone
	}
	c.CreatedAt = time.Now().UTC()
	cp := *c
	s.campaigns[c.ID] = &cp
	return nil
}

func (s *CampaignStore) GetByID(_ context.Context, id string) (*model.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	cp := *c
	return &cp, nil
}

func (s *CampaignStore) Update(_ context.Context, c *model.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.campaigns[c.ID]
	if !ok {
		return appErrors.NewCampaignNotFound(c.ID)
	}
	now := time.Now().UTC()
	existing.Name = c.Name
	existing.Type = c.Type
	existing.AudienceFilterID = c.AudienceFilterID
	existing.TemplateID = c.TemplateID
	existing.Schedule = c.Schedule
	existing.UpdatedAt = &now
	return nil
}

func (s *CampaignStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.campaigns[id]; !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	delete(s.campaigns, id)
	return nil
}

func (s *CampaignStore) List(_ context.Context, f repository.ListFilter) ([]*model.Campaign, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := []*model.Campaign{}
	for _, c := range s.campaigns {
		if f.Search != "" && !strings.Contains(strings.ToLower(c.Name), strings.ToLower(f.Search)) {
			continue
		}
		if len(f.Statuses) > 0 && !contains(f.Statuses, string(c.Status)) {
			continue
		}
		if len(f.Types) > 0 && !contains(f.Types, c.Type) {
			continue
		}
		if f.PublishedFrom != nil && (c.PublishedDate == nil || c.PublishedDate.Before(*f.PublishedFrom)) {
			continue
		}
		if f.PublishedTo != nil && (c.PublishedDate == nil || c.PublishedDate.After(*f.PublishedTo)) {
			continue
		}
		cp := *c
		matched = append(matched, &cp)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		less := campaignLess(matched[i], matched[j], f.SortBy)
		if f.Desc {
			return campaignLess(matched[j], matched[i], f.SortBy)
		}
		return less
	})
	limit := f.Limit
	if limit <= 0 {
		limit = 10
	}
	return page(matched, f.Offset, limit), len(matched), nil
}

func campaignLess(a, b *model.Campaign, sortBy string) bool {
	switch sortBy {
	case "name":
		if a.Name != b.Name {
			return a.Name < b.Name
		}
	case "status":
		if a.Status != b.Status {
			return a.Status < b.Status
		}
	case "publishedDate":
		at, bt := timeOrZero(a.PublishedDate), timeOrZero(b.PublishedDate)
		if !at.Equal(bt) {
			return at.Before(bt)
		}
	default:
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
	}
	return a.ID < b.ID
}

func (s *CampaignStore) TransitionStatus(_ context.Context, id string, from []model.CampaignStatus, to model.CampaignStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if c.Status == f {
			setStatus(c, to)
			return true, nil
		}
	}
	return false, nil
}

func (s *CampaignStore) ClaimSnapshot(_ context.Context, id string, staleAfter time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || c.Status != model.CampaignDraft {
		return false, nil
	}
	now := time.Now().UTC()
	switch c.ExecutionPhase {
	case model.PhaseNone, model.PhaseSnapshotted:
	case model.PhaseSnapshotting:
		if c.UpdatedAt != nil && now.Sub(*c.UpdatedAt) < staleAfter {
			return false, nil
		}
	default:
		return false, nil
	}
	c.ExecutionPhase = model.PhaseSnapshotting
	c.UpdatedAt = &now
	return true, nil
}

func (s *CampaignStore) MarkSnapshotted(_ context.Context, id, filterHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || c.ExecutionPhase != model.PhaseSnapshotting {
		return false, nil
	}
	c.ExecutionPhase = model.PhaseSnapshotted
	c.AudienceSnapshotHash = filterHash
	return true, nil
}

func (s *CampaignStore) ReleaseSnapshot(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.campaigns[id]; ok && c.ExecutionPhase == model.PhaseSnapshotting {
		c.ExecutionPhase = model.PhaseNone
	}
	return nil
}

func (s *CampaignStore) ClaimEnqueue(_ context.Context, id string) (model.ExecutionPhase, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok || c.ExecutionPhase != model.PhaseSnapshotted {
		return "", false, nil
	}
	prev := c.ExecutionPhase
	c.ExecutionPhase = model.PhaseEnqueued
	return prev, true, nil
}

func (s *CampaignStore) ReleaseEnqueue(_ context.Context, id string, prev model.ExecutionPhase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.campaigns[id]; ok && c.ExecutionPhase == model.PhaseEnqueued {
		c.ExecutionPhase = prev
	}
	return nil
}

func setStatus(c *model.Campaign, status model.CampaignStatus) {
	now := time.Now().UTC()
	c.Status = status
	c.UpdatedAt = &now
	if status == model.CampaignActive && c.PublishedDate == nil {
		c.PublishedDate = &now
	}
}

// ====================== Recipients ======================

type RecipientStore struct {
	mu         sync.RWMutex
	recipients []model.CampaignRecipient
}

func (s *RecipientStore) InsertPending(_ context.Context, campaignID string, emails []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	written := 0
	for _, email := range emails {
		if s.indexOf(campaignID, email) >= 0 {
			continue
		}
		now := time.Now().UTC()
		s.recipients = append(s.recipients, model.CampaignRecipient{
			ID:         uuid.NewString(),
			CampaignID: campaignID,
			Email:      email,
			Status:     model.RecipientPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		written++
	}
	return written, nil
}

func (s *RecipientStore) DeleteByCampaign(_ context.Context, campaignID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.recipients[:0]
	removed := 0
	for _, r := range s.recipients {
		if r.CampaignID == campaignID {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	s.recipients = kept
	return removed, nil
}

func (s *RecipientStore) ListPending(_ context.Context, campaignID string) ([]model.CampaignRecipient, error) {
	return s.filter(campaignID, model.RecipientPending), nil
}

func (s *RecipientStore) CountPending(_ context.Context, campaignID string) (int, error) {
	return len(s.filter(campaignID, model.RecipientPending)), nil
}

// All returns every recipient of a campaign.
func (s *RecipientStore) All(campaignID string) []model.CampaignRecipient {
	return s.filter(campaignID, "")
}

func (s *RecipientStore) MarkSent(_ context.Context, campaignID, email, providerMessageID string, sentAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(campaignID, email); i >= 0 {
		r := &s.recipients[i]
		r.Status = model.RecipientSent
		r.ProviderMessageID = providerMessageID
		r.SentAt = &sentAt
		r.Error = ""
		r.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *RecipientStore) MarkFailed(_ context.Context, campaignID, email, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(campaignID, email); i >= 0 && s.recipients[i].Status != model.RecipientSent {
		r := &s.recipients[i]
		r.Status = model.RecipientFailed
		r.Error = reason
		r.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *RecipientStore) Stats(_ context.Context, campaignID string) (map[model.RecipientStatus]int, error) {
	stats := map[model.RecipientStatus]int{
		model.RecipientPending: 0,
		model.RecipientSent:    0,
		model.RecipientFailed:  0,
		model.RecipientBounced: 0,
	}
	for _, r := range s.filter(campaignID, "") {
		stats[r.Status]++
	}
	return stats, nil
}

func (s *RecipientStore) indexOf(campaignID, email string) int {
	for i, r := range s.recipients {
		if r.CampaignID == campaignID && r.Email == email {
			return i
		}
	}
	return -1
}

func (s *RecipientStore) filter(campaignID string, status model.RecipientStatus) []model.CampaignRecipient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.CampaignRecipient{}
	for _, r := range s.recipients {
		if r.CampaignID == campaignID && (status == "" || r.Status == status) {
			out = append(out, r)
		}
	}
	return out
}

// ====================== Templates, filters, criteria blocks ======================

type TemplateStore struct {
	mu        sync.RWMutex
	templates map[string]model.Template
}

func NewTemplateStore() *TemplateStore {
	return &TemplateStore{templates: map[string]model.Template{}}
}

func (s *TemplateStore) Save(_ context.Context, t *model.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if existing, ok := s.templates[t.ID]; ok {
		t.CreatedAt = existing.CreatedAt
	} else {
		t.CreatedAt = now
	}
	t.UpdatedAt = &now
	s.templates[t.ID] = *t
	return nil
}

func (s *TemplateStore) GetByID(_ context.Context, id string) (*model.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, appErrors.NewNotFound("template", id)
	}
	return &t, nil
}

func (s *TemplateStore) List(_ context.Context) ([]model.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Template, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type AudienceFilterStore struct {
	mu      sync.RWMutex
	filters map[string]model.AudienceFilter
}

func NewAudienceFilterStore() *AudienceFilterStore {
	return &AudienceFilterStore{filters: map[string]model.AudienceFilter{}}
}

func (s *AudienceFilterStore) Create(_ context.Context, f *model.AudienceFilter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	f.CreatedAt = time.Now().UTC()
	s.filters[f.ID] = *f
	return nil
}

func (s *AudienceFilterStore) GetByID(_ context.Context, id string) (*model.AudienceFilter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.filters[id]
	if !ok {
		return nil, appErrors.NewNotFound("audience filter", id)
	}
	return &f, nil
}

func (s *AudienceFilterStore) List(_ context.Context) ([]model.AudienceFilter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AudienceFilter, 0, len(s.filters))
	for _, f := range s.filters {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type CriteriaBlockStore struct {
	mu     sync.RWMutex
	blocks []model.CriteriaBlock
}

func (s *CriteriaBlockStore) Create(_ context.Context, b *model.CriteriaBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.blocks {
		if existing.Category == b.Category && strings.EqualFold(existing.Label, b.Label) {
			return appErrors.NewConflict("criteria block %q already exists in %s", b.Label, b.Category)
		}
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.CreatedAt = time.Now().UTC()
	s.blocks = append(s.blocks, *b)
	return nil
}

func (s *CriteriaBlockStore) List(_ context.Context, category string) ([]model.CriteriaBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.CriteriaBlock{}
	for _, b := range s.blocks {
		if category == "" || b.Category == category {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

func (s *CriteriaBlockStore) ExistsLabel(_ context.Context, category, label string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.blocks {
		if b.Category == category && strings.EqualFold(b.Label, label) {
			return true, nil
		}
	}
	return false, nil
}

func (s *CriteriaBlockStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range s.blocks {
		if b.ID == id {
			s.blocks = append(s.blocks[:i], s.blocks[i+1:]...)
			return nil
		}
	}
	return appErrors.NewNotFound("criteria block", id)
}

// ====================== helpers ======================

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return append([]T(nil), items[offset:end]...)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

var (
	_ repository.AudienceRepositoryInterface       = (*AudienceStore)(nil)
	_ repository.CampaignRepositoryInterface       = (*CampaignStore)(nil)
	_ repository.RecipientRepositoryInterface      = (*RecipientStore)(nil)
	_ repository.TemplateRepositoryInterface       = (*TemplateStore)(nil)
	_ repository.AudienceFilterRepositoryInterface = (*AudienceFilterStore)(nil)
	_ repository.CriteriaBlockRepositoryInterface  = (*CriteriaBlockStore)(nil)
)
