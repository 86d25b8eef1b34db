package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/coursekeep/coursekeep/internal/domain"
	"github.com/coursekeep/coursekeep/internal/ports"
)

type JobsRepository struct {
	db *sql.DB
}

func NewJobsRepository(db *sql.DB) *JobsRepository {
	return &JobsRepository{db: db}
}

const jobColumns = `id, account_id, page_id, output_name, output_path, state, attempts, created_at, updated_at, params_json, error_code, error_message`

func scanJob(row interface{ Scan(...any) error }) (domain.DownloadJob, error) {
	var j domain.DownloadJob
	var createdAt, updatedAt string
	err := row.Scan(&j.ID, &j.AccountID, &j.PageID, &j.OutputName, &j.OutputPath, &j.State, &j.Attempts, &createdAt, &updatedAt, &j.ParamsJSON, &j.ErrorCode, &j.ErrorMessage)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DownloadJob{}, ports.ErrNotFound
		}
		return domain.DownloadJob{}, err
	}
	j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	j.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return j, nil
}

// Create insère le job et son premier évènement "queued" dans la même
// transaction. Invariant : au plus un job en vol par (compte, page).
func (r *JobsRepository) Create(ctx context.Context, job domain.DownloadJob) (domain.DownloadJob, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.DownloadJob{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var active int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs
		WHERE account_id = ? AND page_id = ? AND state IN (?, ?, ?)
	`, job.AccountID, job.PageID, string(domain.JobQueued), string(domain.JobRunning), string(domain.JobRetrying)).Scan(&active)
	if err != nil {
		return domain.DownloadJob{}, err
	}
	if active > 0 {
		return domain.DownloadJob{}, ports.ErrConflict
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO jobs(id, account_id, page_id, output_name, output_path, state, attempts, created_at, updated_at, params_json, error_code, error_message)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.AccountID, job.PageID, job.OutputName, job.OutputPath, string(job.State), job.Attempts,
		job.CreatedAt.Format(time.RFC3339), job.UpdatedAt.Format(time.RFC3339), job.ParamsJSON, job.ErrorCode, job.ErrorMessage)
	if err != nil {
		return domain.DownloadJob{}, err
	}
	if err := appendEventTx(ctx, tx, job.ID, job.State, ""); err != nil {
		return domain.DownloadJob{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DownloadJob{}, err
	}
	return r.Get(ctx, job.ID)
}

func (r *JobsRepository) Get(ctx context.Context, id string) (domain.DownloadJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

func (r *JobsRepository) GetMany(ctx context.Context, ids []string) ([]domain.DownloadJob, error) {
	if len(ids) == 0 {
		return []domain.DownloadJob{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id IN (`+placeholders+`) ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.DownloadJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *JobsRepository) List(ctx context.Context, limit int) ([]domain.DownloadJob, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.DownloadJob{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ClaimNextQueued respecte l'ordre de soumission : plus vieux "queued" d'abord.
func (r *JobsRepository) ClaimNextQueued(ctx context.Context) (domain.DownloadJob, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.DownloadJob{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var id string
	err = tx.QueryRowContext(ctx, `
		SELECT id
		FROM jobs
		WHERE state = ?
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, string(domain.JobQueued)).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.DownloadJob{}, ports.ErrNotFound
		}
		return domain.DownloadJob{}, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET state = ?, updated_at = ?
		WHERE id = ? AND state = ?
	`, string(domain.JobRunning), time.Now().UTC().Format(time.RFC3339), id, string(domain.JobQueued))
	if err != nil {
		return domain.DownloadJob{}, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.DownloadJob{}, ports.ErrNotFound
	}
	if err := appendEventTx(ctx, tx, id, domain.JobRunning, ""); err != nil {
		return domain.DownloadJob{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DownloadJob{}, err
	}
	return r.Get(ctx, id)
}

func (r *JobsRepository) CountActiveForPage(ctx context.Context, accountID, pageID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM jobs
		WHERE account_id = ? AND page_id = ? AND state IN (?, ?, ?)
	`, accountID, pageID, string(domain.JobQueued), string(domain.JobRunning), string(domain.JobRetrying)).Scan(&n)
	return n, err
}

// UpdateState est un compare-and-set : si l'état attendu n'est plus le bon,
// aucune ligne ne matche et l'appelant reçoit ErrNotFound (update perdu).
func (r *JobsRepository) UpdateState(ctx context.Context, id string, expected, next domain.JobState) (domain.DownloadJob, error) {
	if !domain.CanTransition(expected, next) {
		return domain.DownloadJob{}, domain.ErrInvalidTransition
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.DownloadJob{}, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET state = ?, updated_at = ?
		WHERE id = ? AND state = ?
	`, string(next), time.Now().UTC().Format(time.RFC3339), id, string(expected))
	if err != nil {
		return domain.DownloadJob{}, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.DownloadJob{}, ports.ErrNotFound
	}
	if expected != next {
		if err := appendEventTx(ctx, tx, id, next, ""); err != nil {
			return domain.DownloadJob{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.DownloadJob{}, err
	}
	return r.Get(ctx, id)
}

func (r *JobsRepository) UpdateError(ctx context.Context, id string, code, message string) (domain.DownloadJob, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET error_code = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`, code, message, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return domain.DownloadJob{}, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.DownloadJob{}, ports.ErrNotFound
	}
	return r.Get(ctx, id)
}

func (r *JobsRepository) RecordAttempt(ctx context.Context, id string) (domain.DownloadJob, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET attempts = attempts + 1, updated_at = ?
		WHERE id = ?
	`, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return domain.DownloadJob{}, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return domain.DownloadJob{}, ports.ErrNotFound
	}
	return r.Get(ctx, id)
}

func (r *JobsRepository) SetOutputPath(ctx context.Context, id string, path string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE jobs
		SET output_path = ?, updated_at = ?
		WHERE id = ?
	`, path, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func appendEventTx(ctx context.Context, tx *sql.Tx, jobID string, state domain.JobState, detail string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO job_events(job_id, seq, state, detail, occurred_at)
		VALUES(?, COALESCE((SELECT MAX(seq) FROM job_events WHERE job_id = ?), 0) + 1, ?, ?, ?)
	`, jobID, jobID, string(state), detail, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (r *JobsRepository) ListEvents(ctx context.Context, jobID string) ([]domain.JobEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT job_id, seq, state, detail, occurred_at
		FROM job_events WHERE job_id = ? ORDER BY seq ASC
	`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.JobEvent{}
	for rows.Next() {
		var e domain.JobEvent
		var at string
		if err := rows.Scan(&e.JobID, &e.Seq, &e.State, &e.Detail, &at); err != nil {
			return nil, err
		}
		e.OccurredAt, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, e)
	}
	return out, rows.Err()
}
