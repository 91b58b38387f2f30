package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lysyi3m/post-comb/app/campaign"
)

// AddRunToHistory appends a run. Stages and errors present on the run are
// stored with it.
func (r *Repository) AddRunToHistory(run campaign.Run) error {
	stages := run.Stages
	if stages == nil {
		stages = []string{}
	}
	encodedStages, err := json.Marshal(stages)
	if err != nil {
		return fmt.Errorf("failed to encode run stages: %w", err)
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO runs (id, campaign_id, status, started_at, completed_at, stages)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.CampaignID, string(run.Status), run.StartedAt.UnixMilli(), toNullMillis(run.CompletedAt), string(encodedStages))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, runErr := range run.Errors {
		_, err = tx.Exec(`INSERT INTO run_errors (run_id, stage, message) VALUES (?, ?, ?)`, run.ID, runErr.Stage, runErr.Message)
		if err != nil {
			return fmt.Errorf("failed to insert run error: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	return nil
}

// Terminal runs are never modified: every update below is restricted to
// runs still in the running state.

func (r *Repository) AddStageToRun(runID, stage string) error {
	return r.exec("add run stage", `
		UPDATE runs SET stages = json_insert(stages, '$[#]', ?)
		WHERE id = ? AND status = ?
	`, stage, runID, string(campaign.RunStatusRunning))
}

func (r *Repository) AddErrorToRun(runID, stage, message string) error {
	return r.exec("add run error", `
		INSERT INTO run_errors (run_id, stage, message)
		SELECT id, ?, ? FROM runs WHERE id = ? AND status = ?
	`, stage, message, runID, string(campaign.RunStatusRunning))
}

func (r *Repository) CompleteRun(runID string, status campaign.RunStatus, at time.Time) error {
	return r.exec("complete run", `
		UPDATE runs SET status = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, string(status), at.UnixMilli(), runID, string(campaign.RunStatusRunning))
}

func (r *Repository) GetRun(runID string) (*campaign.Run, error) {
	row := r.db.QueryRow(`
		SELECT id, campaign_id, status, started_at, completed_at, stages
		FROM runs WHERE id = ?
	`, runID)

	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	if run.Errors, err = r.getRunErrors(run.ID); err != nil {
		return nil, err
	}

	return run, nil
}

func (r *Repository) GetRunHistory(campaignID string) ([]campaign.Run, error) {
	rows, err := r.db.Query(`
		SELECT id, campaign_id, status, started_at, completed_at, stages
		FROM runs WHERE campaign_id = ?
		ORDER BY seq
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run history: %w", err)
	}

	history := make([]campaign.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		history = append(history, *run)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}
	rows.Close()

	// Errors are loaded after the cursor is closed; the pool has a single
	// connection.
	for i := range history {
		if history[i].Errors, err = r.getRunErrors(history[i].ID); err != nil {
			return nil, err
		}
	}

	return history, nil
}

func (r *Repository) getRunErrors(runID string) ([]campaign.RunError, error) {
	rows, err := r.db.Query(`SELECT stage, message FROM run_errors WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run errors: %w", err)
	}
	defer rows.Close()

	var runErrors []campaign.RunError
	for rows.Next() {
		var runErr campaign.RunError
		if err := rows.Scan(&runErr.Stage, &runErr.Message); err != nil {
			return nil, fmt.Errorf("failed to scan run error row: %w", err)
		}
		runErrors = append(runErrors, runErr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run error rows: %w", err)
	}

	return runErrors, nil
}

func scanRun(row scanner) (*campaign.Run, error) {
	var run campaign.Run
	var status, stages string
	var startedAt int64
	var completedAt sql.NullInt64

	if err := row.Scan(&run.ID, &run.CampaignID, &status, &startedAt, &completedAt, &stages); err != nil {
		return nil, err
	}

	run.Status = campaign.RunStatus(status)
	run.StartedAt = time.UnixMilli(startedAt).UTC()
	run.CompletedAt = fromNullMillis(completedAt)

	if err := json.Unmarshal([]byte(stages), &run.Stages); err != nil {
		return nil, fmt.Errorf("failed to decode stages of run %s: %w", run.ID, err)
	}
	if len(run.Stages) == 0 {
		run.Stages = nil
	}

	return &run, nil
}
