package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jask/jaskledger/internal/database"
)

// ImportJobRepo handles import jobs and their staged source rows.
type ImportJobRepo struct {
	db database.Querier
}

func NewImportJobRepo(db database.Querier) *ImportJobRepo { return &ImportJobRepo{db: db} }

const importJobColumns = `id, owner_id, filename, row_count, status, headers, suggested_mapping, mapping,
 error_log, created_at, started_at, completed_at`

func (r *ImportJobRepo) Insert(ctx context.Context, j ImportJob) error {
	headers, err := json.Marshal(j.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
	INSERT INTO import_jobs(id, owner_id, filename, row_count, status, headers, suggested_mapping, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.OwnerID, j.Filename, j.RowCount, j.Status, string(headers), nullBytes(j.SuggestedMapping), j.CreatedAt)
	return err
}

func (r *ImportJobRepo) Get(ctx context.Context, ownerID, id string) (*ImportJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+importJobColumns+` FROM import_jobs WHERE id = ? AND owner_id = ?`, id, ownerID)
	j, err := scanImportJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *ImportJobRepo) ListByOwner(ctx context.Context, ownerID string, limit int) ([]ImportJob, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+importJobColumns+` FROM import_jobs WHERE owner_id = ? ORDER BY created_at DESC, id LIMIT ?`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ImportJob
	for rows.Next() {
		j, err := scanImportJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Configure stores the mapping and moves a pending job to configured. It
// reports false when the job is not pending.
func (r *ImportJobRepo) Configure(ctx context.Context, ownerID, id string, mapping []byte) (bool, error) {
	return r.affectedOne(r.db.ExecContext(ctx, `
	UPDATE import_jobs SET mapping = ?, status = 'configured'
	WHERE id = ? AND owner_id = ? AND status = 'pending'`, string(mapping), id, ownerID))
}

// StartProcessing moves a configured job to processing. The start time is
// also its first heartbeat.
func (r *ImportJobRepo) StartProcessing(ctx context.Context, ownerID, id string, at time.Time) (bool, error) {
	return r.affectedOne(r.db.ExecContext(ctx, `
	UPDATE import_jobs SET status = 'processing', started_at = ?, heartbeat_at = ?
	WHERE id = ? AND owner_id = ? AND status = 'configured'`, at, at, id, ownerID))
}

// Heartbeat records that the task owning a processing job is alive. It
// reports false once the job is no longer processing, which tells the task
// to stop.
func (r *ImportJobRepo) Heartbeat(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.affectedOne(r.db.ExecContext(ctx, `
	UPDATE import_jobs SET heartbeat_at = ?
	WHERE id = ? AND status = 'processing'`, at, id))
}

// Finish moves a processing job to a terminal status. Only the first call for
// a job can succeed.
func (r *ImportJobRepo) Finish(ctx context.Context, id string, status JobStatus, at time.Time, errLog *string) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("finish job %s: %q is not terminal", id, status)
	}
	return r.affectedOne(r.db.ExecContext(ctx, `
	UPDATE import_jobs SET status = ?, completed_at = ?, error_log = ?
	WHERE id = ? AND status = 'processing'`, status, at, errLog, id))
}

// staleCond matches jobs whose last heartbeat is older than a bound.
const staleCond = `(COALESCE(heartbeat_at, started_at) IS NULL OR COALESCE(heartbeat_at, started_at) < ?)`

// FailProcessing marks as failed every processing job that is not listed in
// keep and has not sent a heartbeat since staleBefore. It returns the ids it
// touched.
func (r *ImportJobRepo) FailProcessing(ctx context.Context, keep []string, staleBefore, at time.Time, reason string) ([]string, error) {
	query := `SELECT id FROM import_jobs WHERE status = 'processing' AND ` + staleCond
	args := []any{staleBefore}
	if len(keep) > 0 {
		query += ` AND id NOT IN (?` + strings.Repeat(", ?", len(keep)-1) + `)`
		for _, id := range keep {
			args = append(args, id)
		}
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var failed []string
	for _, id := range ids {
		// a heartbeat that landed after the select keeps the job alive
		ok, err := r.affectedOne(r.db.ExecContext(ctx, `
		UPDATE import_jobs SET status = 'failed', completed_at = ?, error_log = ?
		WHERE id = ? AND status = 'processing' AND `+staleCond, at, reason, id, staleBefore))
		if err != nil {
			return failed, err
		}
		if ok {
			failed = append(failed, id)
		}
	}
	return failed, nil
}

// InsertSourceRows stages the uploaded rows, numbered from 1 in input order.
func (r *ImportJobRepo) InsertSourceRows(ctx context.Context, jobID string, payloads [][]byte) error {
	for i, p := range payloads {
		if _, err := r.db.ExecContext(ctx, `INSERT INTO import_source_rows(job_id, row_number, payload) VALUES(?, ?, ?)`,
			jobID, i+1, string(p)); err != nil {
			return fmt.Errorf("stage row %d: %w", i+1, err)
		}
	}
	return nil
}

// SourceRows returns up to limit staged rows with a row number above after,
// in ascending order.
func (r *ImportJobRepo) SourceRows(ctx context.Context, jobID string, after, limit int) ([]SourceRow, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT row_number, payload FROM import_source_rows
	WHERE job_id = ? AND row_number > ?
	ORDER BY row_number LIMIT ?`, jobID, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SourceRow
	for rows.Next() {
		var sr SourceRow
		var payload string
		if err := rows.Scan(&sr.RowNumber, &payload); err != nil {
			return nil, err
		}
		sr.Payload = []byte(payload)
		out = append(out, sr)
	}
	return out, rows.Err()
}

func (r *ImportJobRepo) affectedOne(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func scanImportJob(row scanner) (ImportJob, error) {
	var j ImportJob
	var headers string
	var suggested, mapping, errLog sql.NullString
	var started, completed sql.NullTime
	if err := row.Scan(&j.ID, &j.OwnerID, &j.Filename, &j.RowCount, &j.Status, &headers, &suggested, &mapping,
		&errLog, &j.CreatedAt, &started, &completed); err != nil {
		return ImportJob{}, err
	}
	if err := json.Unmarshal([]byte(headers), &j.Headers); err != nil {
		return ImportJob{}, fmt.Errorf("decode headers of job %s: %w", j.ID, err)
	}
	if suggested.Valid {
		j.SuggestedMapping = []byte(suggested.String)
	}
	if mapping.Valid {
		j.Mapping = []byte(mapping.String)
	}
	j.ErrorLog = nullString(errLog)
	if started.Valid {
		j.StartedAt = &started.Time
	}
	if completed.Valid {
		j.CompletedAt = &completed.Time
	}
	return j, nil
}

func nullBytes(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
