package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lysyi3m/post-comb/app/campaign"
)

var _ campaign.Repository = (*Repository)(nil)

// Repository is the SQLite implementation of campaign.Repository. Every
// mutator is a single statement, so updates to one campaign are atomic.
type Repository struct {
	db  *DB
	now func() time.Time
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

const campaignColumns = `id, name, description, status, target_site_id, source_type, source_config,
	schedule_type, interval_hours, next_run_at, max_posts_per_run, pause_on_error,
	total_generated, total_published, total_failed, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func (r *Repository) Create(spec campaign.Spec) (*campaign.Campaign, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	id := spec.ID
	if id == "" {
		id = uuid.NewString()
	}

	c := campaign.NewCampaign(id, spec, r.now().UTC())

	sourceConfig, err := json.Marshal(campaign.SourceDefinitionOf(c.Source))
	if err != nil {
		return nil, fmt.Errorf("failed to encode source config: %w", err)
	}

	var intervalHours int
	var nextRunAt sql.NullInt64
	if interval, ok := c.Schedule.Timing.(campaign.IntervalTiming); ok {
		intervalHours = interval.Hours
		nextRunAt = toNullMillis(interval.NextRunAt)
	}

	// A taken id is detected by the insert itself so concurrent creates
	// cannot both pass a separate existence check.
	result, err := r.db.Exec(`
		INSERT INTO campaigns (
			id, name, description, status, target_site_id, source_type, source_config,
			schedule_type, interval_hours, next_run_at, max_posts_per_run, pause_on_error,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, c.ID, c.Name, c.Description, string(c.Status), c.TargetSiteID, string(c.Source.Type()), string(sourceConfig),
		string(c.Schedule.Timing.Type()), intervalHours, nextRunAt, c.Schedule.MaxPostsPerRun, c.Schedule.PauseOnError,
		c.CreatedAt.UnixMilli(), c.UpdatedAt.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to insert campaign: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if inserted == 0 {
		return nil, fmt.Errorf("%w: %s", campaign.ErrCampaignExists, id)
	}

	return r.Get(c.ID)
}

func (r *Repository) Get(id string) (*campaign.Campaign, error) {
	row := r.db.QueryRow(`SELECT `+campaignColumns+` FROM campaigns WHERE id = ?`, id)

	c, err := scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return c, nil
}

func (r *Repository) List() ([]campaign.Campaign, error) {
	return r.query(`SELECT ` + campaignColumns + ` FROM campaigns ORDER BY seq`)
}

func (r *Repository) ListBySite(siteID string) ([]campaign.Campaign, error) {
	return r.query(`SELECT `+campaignColumns+` FROM campaigns WHERE target_site_id = ? ORDER BY seq`, siteID)
}

func (r *Repository) GetDueCampaigns(now time.Time) ([]campaign.Campaign, error) {
	return r.query(`
		SELECT `+campaignColumns+`
		FROM campaigns
		WHERE status = ?
		  AND schedule_type = ?
		  AND next_run_at IS NOT NULL
		  AND next_run_at <= ?
		ORDER BY seq
	`, string(campaign.StatusActive), string(campaign.TimingInterval), now.UnixMilli())
}

func (r *Repository) query(query string, args ...any) ([]campaign.Campaign, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := make([]campaign.Campaign, 0)
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign row: %w", err)
		}
		campaigns = append(campaigns, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating campaign rows: %w", err)
	}

	return campaigns, nil
}

func (r *Repository) Pause(id string) error {
	return r.exec("pause campaign", `UPDATE campaigns SET status = ?, updated_at = ? WHERE id = ?`,
		string(campaign.StatusPaused), r.nowMillis(), id)
}

func (r *Repository) Resume(id string) error {
	return r.exec("resume campaign", `UPDATE campaigns SET status = ?, updated_at = ? WHERE id = ?`,
		string(campaign.StatusActive), r.nowMillis(), id)
}

func (r *Repository) IncrementGenerated(id string) error {
	return r.exec("increment generated", `UPDATE campaigns SET total_generated = total_generated + 1, updated_at = ? WHERE id = ?`,
		r.nowMillis(), id)
}

func (r *Repository) IncrementPublished(id string) error {
	return r.exec("increment published", `UPDATE campaigns SET total_published = total_published + 1, updated_at = ? WHERE id = ?`,
		r.nowMillis(), id)
}

func (r *Repository) IncrementFailed(id string) error {
	return r.exec("increment failed", `UPDATE campaigns SET total_failed = total_failed + 1, updated_at = ? WHERE id = ?`,
		r.nowMillis(), id)
}

func (r *Repository) AdvanceKeywordIndex(id string, n int) error {
	return r.exec("advance keyword index", `
		UPDATE campaigns
		SET source_config = json_set(source_config, '$.current_index',
		        COALESCE(json_extract(source_config, '$.current_index'), 0) + ?),
		    updated_at = ?
		WHERE id = ? AND source_type = ?
	`, n, r.nowMillis(), id, string(campaign.SourceTypeKeywords))
}

func (r *Repository) UpdateNextRun(id string, now time.Time) error {
	return r.exec("update next run", `
		UPDATE campaigns
		SET next_run_at = ? + interval_hours * 3600000, updated_at = ?
		WHERE id = ? AND schedule_type = ?
	`, now.UnixMilli(), r.nowMillis(), id, string(campaign.TimingInterval))
}

func (r *Repository) exec(operation, query string, args ...any) error {
	if _, err := r.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to %s: %w", operation, err)
	}
	return nil
}

func (r *Repository) nowMillis() int64 {
	return r.now().UnixMilli()
}

func scanCampaign(row scanner) (*campaign.Campaign, error) {
	var c campaign.Campaign
	var status, sourceType, sourceConfig, scheduleType string
	var intervalHours, maxPosts int
	var nextRunAt sql.NullInt64
	var pauseOnError bool
	var createdAt, updatedAt int64

	err := row.Scan(
		&c.ID, &c.Name, &c.Description, &status, &c.TargetSiteID, &sourceType, &sourceConfig,
		&scheduleType, &intervalHours, &nextRunAt, &maxPosts, &pauseOnError,
		&c.Stats.TotalGenerated, &c.Stats.TotalPublished, &c.Stats.TotalFailed, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	var sourceDef campaign.SourceDefinition
	if err := json.Unmarshal([]byte(sourceConfig), &sourceDef); err != nil {
		return nil, fmt.Errorf("failed to decode source config of campaign %s: %w", c.ID, err)
	}
	sourceDef.Type = sourceType

	c.Source, err = sourceDef.Source()
	if err != nil {
		return nil, err
	}

	c.Status = campaign.Status(status)
	c.Schedule.MaxPostsPerRun = maxPosts
	c.Schedule.PauseOnError = pauseOnError
	switch campaign.TimingType(scheduleType) {
	case campaign.TimingManual:
		c.Schedule.Timing = campaign.ManualTiming{}
	case campaign.TimingInterval:
		c.Schedule.Timing = campaign.IntervalTiming{Hours: intervalHours, NextRunAt: fromNullMillis(nextRunAt)}
	default:
		return nil, fmt.Errorf("campaign %s has unknown schedule type %q", c.ID, scheduleType)
	}

	c.CreatedAt = time.UnixMilli(createdAt).UTC()
	c.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	return &c, nil
}

func toNullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
