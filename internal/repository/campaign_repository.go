package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/campaign-dispatch/internal/errors"
	"github.com/unclebandit/campaign-dispatch/internal/model"
)

type CampaignRepositoryInterface interface {
	// Campaign CRUD
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	Update(ctx context.Context, c *model.Campaign) error
	List(ctx context.Context, f ListFilter) ([]*model.Campaign, int, error)
	Delete(ctx context.Context, id string) error

	// Status and execution phase. Every method here is a single conditional
	// UPDATE so concurrent callers cannot both win.
	TransitionStatus(ctx context.Context, id string, from []model.CampaignStatus, to model.CampaignStatus) (bool, error)
	ClaimSnapshot(ctx context.Context, id string, staleAfter time.Duration) (bool, error)
	MarkSnapshotted(ctx context.Context, id, filterHash string) (bool, error)
	ReleaseSnapshot(ctx context.Context, id string) error
	ClaimEnqueue(ctx context.Context, id string) (prev model.ExecutionPhase, claimed bool, err error)
	ReleaseEnqueue(ctx context.Context, id string, prev model.ExecutionPhase) error
}

// ListFilter narrows and orders a campaign listing.
type ListFilter struct {
	Search        string
	Statuses      []string
	Types         []string
	PublishedFrom *time.Time
	PublishedTo   *time.Time
	SortBy        string // name, status, createdAt, publishedDate
	Desc          bool
	Offset        int
	Limit         int
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, name, type, audience_filter_id, template_id, status, execution_phase,
	audience_snapshot_hash, schedule_frequency, schedule_time, start_date, end_date,
	open_rate, ctr, delivered, published_date, created_at, updated_at`

// ====================== Campaign CRUD ======================

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.CreatedAt = time.Now().UTC()
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	if c.ExecutionPhase == "" {
		c.ExecutionPhase = model.PhaseNone
	}
	freq, at, start, end := scheduleColumns(c.Schedule)

	query := `
		INSERT INTO campaigns (id, name, type, audience_filter_id, template_id, status, execution_phase,
			audience_snapshot_hash, schedule_frequency, schedule_time, start_date, end_date,
			open_rate, ctr, delivered, published_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err := r.DB.ExecContext(ctx, query,
		c.ID, c.Name, c.Type, c.AudienceFilterID, c.TemplateID, c.Status, c.ExecutionPhase,
		c.AudienceSnapshotHash, freq, at, start, end,
		c.OpenRate, c.CTR, c.Delivered, c.PublishedDate, c.CreatedAt)
	return err
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM campaigns WHERE id=$1`, id)
	c, err := scanCampaign(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

// Update writes the editable fields. Status and execution phase are left to
// the conditional methods below.
func (r *CampaignRepository) Update(ctx context.Context, c *model.Campaign) error {
	freq, at, start, end := scheduleColumns(c.Schedule)
	query := `
		UPDATE campaigns
		SET name=$1, type=$2, audience_filter_id=$3, template_id=$4, schedule_frequency=$5,
			schedule_time=$6, start_date=$7, end_date=$8, updated_at=NOW()
		WHERE id=$9
	`
	res, err := r.DB.ExecContext(ctx, query, c.Name, c.Type, c.AudienceFilterID, c.TemplateID, freq, at, start, end, c.ID)
	if err != nil {
		return err
	}
	return requireRow(res, c.ID)
}

func (r *CampaignRepository) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM campaigns WHERE id=$1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

var campaignSortColumns = map[string]string{
	"name":          "name",
	"status":        "status",
	"createdAt":     "created_at",
	"publishedDate": "published_date",
}

func (r *CampaignRepository) List(ctx context.Context, f ListFilter) ([]*model.Campaign, int, error) {
	where := []string{"1=1"}
	args := []any{}
	argPos := 1

	if f.Search != "" {
		where = append(where, fmt.Sprintf("name ILIKE $%d", argPos))
		args = append(args, "%"+f.Search+"%")
		argPos++
	}
	if len(f.Statuses) > 0 {
		where = append(where, fmt.Sprintf("status = ANY($%d)", argPos))
		args = append(args, pq.Array(f.Statuses))
		argPos++
	}
	if len(f.Types) > 0 {
		where = append(where, fmt.Sprintf("type = ANY($%d)", argPos))
		args = append(args, pq.Array(f.Types))
		argPos++
	}
	if f.PublishedFrom != nil {
		where = append(where, fmt.Sprintf("published_date >= $%d", argPos))
		args = append(args, *f.PublishedFrom)
		argPos++
	}
	if f.PublishedTo != nil {
		where = append(where, fmt.Sprintf("published_date <= $%d", argPos))
		args = append(args, *f.PublishedTo)
		argPos++
	}
	clause := strings.Join(where, " AND ")

	// Count total
	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM campaigns WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sortCol, ok := campaignSortColumns[f.SortBy]
	if !ok {
		sortCol = "created_at"
	}
	order := "ASC"
	if f.Desc {
		order = "DESC"
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 10
	}
	query := fmt.Sprintf(`SELECT %s FROM campaigns WHERE %s ORDER BY %s %s, id LIMIT $%d OFFSET $%d`,
		campaignColumns, clause, sortCol, order, argPos, argPos+1)
	args = append(args, limit, f.Offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, total, rows.Err()
}

// ====================== Status & execution phase ======================

// TransitionStatus moves the campaign to `to` only if its status is one of
// `from`. It reports whether the row changed.
func (r *CampaignRepository) TransitionStatus(ctx context.Context, id string, from []model.CampaignStatus, to model.CampaignStatus) (bool, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	query := `
		UPDATE campaigns
		SET status=$1,
			published_date = CASE WHEN $1 = 'Active' AND published_date IS NULL THEN NOW() ELSE published_date END,
			updated_at=NOW()
		WHERE id=$2 AND status = ANY($3)
	`
	res, err := r.DB.ExecContext(ctx, query, string(to), id, pq.Array(allowed))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ClaimSnapshot takes the snapshotting phase on a Draft campaign that is not
// enqueued. A snapshotting claim older than staleAfter belonged to a caller
// that died mid-snapshot and may be taken over. Exactly one concurrent
// caller gets true.
func (r *CampaignRepository) ClaimSnapshot(ctx context.Context, id string, staleAfter time.Duration) (bool, error) {
	query := `
		UPDATE campaigns
		SET execution_phase='snapshotting', updated_at=NOW()
		WHERE id=$1 AND status='Draft'
			AND (execution_phase IN ('none', 'snapshotted')
				OR (execution_phase='snapshotting' AND updated_at < NOW() - make_interval(secs => $2)))
	`
	res, err := r.DB.ExecContext(ctx, query, id, staleAfter.Seconds())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkSnapshotted records the audience hash and completes a snapshot claim.
func (r *CampaignRepository) MarkSnapshotted(ctx context.Context, id, filterHash string) (bool, error) {
	query := `
		UPDATE campaigns
		SET execution_phase='snapshotted', audience_snapshot_hash=$2, updated_at=NOW()
		WHERE id=$1 AND execution_phase='snapshotting'
	`
	res, err := r.DB.ExecContext(ctx, query, id, filterHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ReleaseSnapshot drops a snapshot claim whose snapshot failed.
func (r *CampaignRepository) ReleaseSnapshot(ctx context.Context, id string) error {
	query := `UPDATE campaigns SET execution_phase='none', updated_at=NOW() WHERE id=$1 AND execution_phase='snapshotting'`
	_, err := r.DB.ExecContext(ctx, query, id)
	return err
}

// ClaimEnqueue flips a snapshotted campaign to enqueued, returning the phase
// it replaced. Exactly one concurrent caller gets claimed=true.
func (r *CampaignRepository) ClaimEnqueue(ctx context.Context, id string) (model.ExecutionPhase, bool, error) {
	query := `
		UPDATE campaigns c
		SET execution_phase='enqueued', updated_at=NOW()
		FROM (SELECT id, execution_phase FROM campaigns WHERE id=$1 FOR UPDATE) prev
		WHERE c.id = prev.id AND c.execution_phase = 'snapshotted'
		RETURNING prev.execution_phase
	`
	var prev string
	err := r.DB.QueryRowContext(ctx, query, id).Scan(&prev)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return model.ExecutionPhase(prev), true, nil
}

// ReleaseEnqueue undoes a claim whose enqueue failed.
func (r *CampaignRepository) ReleaseEnqueue(ctx context.Context, id string, prev model.ExecutionPhase) error {
	query := `UPDATE campaigns SET execution_phase=$2, updated_at=NOW() WHERE id=$1 AND execution_phase='enqueued'`
	_, err := r.DB.ExecContext(ctx, query, id, string(prev))
	return err
}

// ====================== helpers ======================

func scanCampaign(row rowScanner) (*model.Campaign, error) {
	var (
		c                     model.Campaign
		audienceID, template  sql.NullString
		freq, at              sql.NullString
		start, end, published sql.NullTime
		updated               sql.NullTime
		hash                  sql.NullString
		status, phase         string
	)
	err := row.Scan(&c.ID, &c.Name, &c.Type, &audienceID, &template, &status, &phase,
		&hash, &freq, &at, &start, &end,
		&c.OpenRate, &c.CTR, &c.Delivered, &published, &c.CreatedAt, &updated)
	if err != nil {
		return nil, err
	}
	c.Status = model.CampaignStatus(status)
	c.ExecutionPhase = model.ExecutionPhase(phase)
	c.AudienceSnapshotHash = hash.String
	c.AudienceFilterID = nullableString(audienceID)
	c.TemplateID = nullableString(template)
	c.PublishedDate = nullableTime(published)
	c.UpdatedAt = nullableTime(updated)
	if freq.Valid || at.Valid || start.Valid || end.Valid {
		c.Schedule = &model.Schedule{
			Frequency: freq.String,
			Time:      at.String,
			StartDate: nullableTime(start),
			EndDate:   nullableTime(end),
		}
	}
	return &c, nil
}

func scheduleColumns(s *model.Schedule) (freq, at *string, start, end *time.Time) {
	if s == nil {
		return nil, nil, nil, nil
	}
	if s.Frequency != "" {
		freq = &s.Frequency
	}
	if s.Time != "" {
		at = &s.Time
	}
	return freq, at, s.StartDate, s.EndDate
}

func nullableString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErrors.NewCampaignNotFound(id)
	}
	return nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
