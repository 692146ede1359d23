package repository

import (
	"context"
	"encoding/json"
	"time"

	"finadvisor/backend/internal/apperr"
	"finadvisor/backend/pkg/models"

	"github.com/jackc/pgx/v5"
)

// Workflow runs and step records. The (run_id, name) primary key on
// workflow_steps is what enforces at-most-once step recording.

const runColumns = "id, idempotency_key, event_type, user_id, status, input, output, error, created_at, updated_at"

func (s *Postgres) BeginRun(ctx context.Context, run models.WorkflowRun) (models.WorkflowRun, bool, error) {
	var created bool
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `INSERT INTO workflow_runs (id, idempotency_key, event_type, user_id, status, input)
			VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (idempotency_key) DO NOTHING`,
			run.ID, run.IdempotencyKey, run.EventType, run.UserID, string(models.RunRunning), nullJSON(run.Input))
		if err != nil {
			return err
		}
		created = tag.RowsAffected() == 1
		if !created {
			_, err = tx.Exec(ctx, `UPDATE workflow_runs SET status = $2, error = '', updated_at = now()
				WHERE idempotency_key = $1 AND status = $3`,
				run.IdempotencyKey, string(models.RunRunning), string(models.RunFailed))
		}
		return err
	})
	if err != nil {
		return models.WorkflowRun{}, false, classify(err, "begin run "+run.IdempotencyKey)
	}
	stored, err := s.GetRun(ctx, run.IdempotencyKey)
	return stored, created, err
}

func (s *Postgres) GetRun(ctx context.Context, key string) (models.WorkflowRun, error) {
	r, err := scanRun(s.db.QueryRow(ctx, "SELECT "+runColumns+" FROM workflow_runs WHERE idempotency_key = $1", key))
	if err != nil {
		return models.WorkflowRun{}, classify(err, "get run "+key)
	}
	rows, err := s.db.Query(ctx, `SELECT name, status, result, error, attempts, started_at, finished_at
		FROM workflow_steps WHERE run_id = $1 ORDER BY seq`, r.ID)
	if err != nil {
		return models.WorkflowRun{}, classify(err, "list steps of "+key)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			st     models.StepRecord
			status string
			result []byte
		)
		if err := rows.Scan(&st.Name, &status, &result, &st.Error, &st.Attempts, &st.StartedAt, &st.FinishedAt); err != nil {
			return models.WorkflowRun{}, classify(err, "scan step")
		}
		st.Status = models.StepStatus(status)
		st.Result = result
		r.Steps = append(r.Steps, st)
	}
	return r, classify(rows.Err(), "list steps of "+key)
}

func scanRun(row pgx.Row) (models.WorkflowRun, error) {
	var (
		r             models.WorkflowRun
		status        string
		input, output []byte
	)
	if err := row.Scan(&r.ID, &r.IdempotencyKey, &r.EventType, &r.UserID, &status, &input, &output, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return models.WorkflowRun{}, err
	}
	r.Status = models.RunStatus(status)
	r.Input = input
	r.Output = output
	return r, nil
}

func (s *Postgres) RecordStep(ctx context.Context, runID string, step models.StepRecord) error {
	_, err := s.db.Exec(ctx, `INSERT INTO workflow_steps (run_id, name, status, result, error, attempts, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		runID, step.Name, string(step.Status), nullJSON(step.Result), step.Error, step.Attempts, step.StartedAt, step.FinishedAt)
	if err != nil {
		return classify(err, "record step "+step.Name)
	}
	_, err = s.db.Exec(ctx, "UPDATE workflow_runs SET updated_at = now() WHERE id = $1", runID)
	return classify(err, "touch run "+runID)
}

func (s *Postgres) SetRunStatus(ctx context.Context, runID string, status models.RunStatus, output json.RawMessage, errMsg string) error {
	tag, err := s.db.Exec(ctx, `UPDATE workflow_runs SET status = $2, output = COALESCE($3, output), error = $4, updated_at = now()
		WHERE id = $1`, runID, string(status), nullJSON(output), errMsg)
	if err != nil {
		return classify(err, "set status of run "+runID)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("run id %s", runID)
	}
	return nil
}

func (s *Postgres) ListRuns(ctx context.Context, status models.RunStatus, updatedBefore time.Time, limit int) ([]models.WorkflowRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, "SELECT "+runColumns+` FROM workflow_runs
		WHERE status = $1 AND updated_at < $2 ORDER BY updated_at LIMIT $3`, string(status), updatedBefore, limit)
	if err != nil {
		return nil, classify(err, "list runs")
	}
	defer rows.Close()
	var out []models.WorkflowRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, classify(err, "scan run")
		}
		out = append(out, r)
	}
	return out, classify(rows.Err(), "list runs")
}

// nullJSON passes an empty payload as SQL NULL and anything else as jsonb text.
func nullJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

