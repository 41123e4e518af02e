package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/jask/jaskledger/internal/database"
)

// ImportRowRepo handles the per-row outcome log.
type ImportRowRepo struct {
	db database.Querier
}

func NewImportRowRepo(db database.Querier) *ImportRowRepo { return &ImportRowRepo{db: db} }

const importRowColumns = `job_id, owner_id, row_number, idempotency_key, raw, normalized, status, error, transaction_id, created_at`

// Claim records a non-duplicate outcome and with it the owner-wide claim on
// its idempotency key. It reports false, without error, when another outcome
// of the same owner already holds the key.
func (r *ImportRowRepo) Claim(ctx context.Context, row ImportRow) (bool, error) {
	err := r.Insert(ctx, row)
	if database.IsUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *ImportRowRepo) Insert(ctx context.Context, row ImportRow) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO import_rows(`+importRowColumns+`)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.JobID, row.OwnerID, row.RowNumber, row.IdempotencyKey, string(row.Raw), nullBytes(row.Normalized),
		row.Status, row.Error, row.TransactionID, row.CreatedAt)
	return err
}

func (r *ImportRowRepo) AttachTransaction(ctx context.Context, jobID string, rowNumber int, transactionID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE import_rows SET transaction_id = ? WHERE job_id = ? AND row_number = ?`,
		transactionID, jobID, rowNumber)
	return err
}

// MarkFailed turns a claimed row into a failure. The key stays claimed.
func (r *ImportRowRepo) MarkFailed(ctx context.Context, jobID string, rowNumber int, msg string) error {
	_, err := r.db.ExecContext(ctx, `
	UPDATE import_rows SET status = 'failed', error = ?, transaction_id = NULL
	WHERE job_id = ? AND row_number = ? AND status <> 'duplicate'`, msg, jobID, rowNumber)
	return err
}

// Counts derives the progress counters of a job from its outcomes.
func (r *ImportRowRepo) Counts(ctx context.Context, jobID string) (RowCounts, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM import_rows WHERE job_id = ? GROUP BY status`, jobID)
	if err != nil {
		return RowCounts{}, err
	}
	defer rows.Close()
	var c RowCounts
	for rows.Next() {
		var status RowStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return RowCounts{}, err
		}
		c.Processed += n
		switch status {
		case RowProcessed:
			c.Succeeded = n
		case RowFailed:
			c.Failed = n
		case RowDuplicate:
			c.Duplicates = n
		}
	}
	return c, rows.Err()
}

// LastRowNumber returns the highest row number with an outcome, 0 if none.
func (r *ImportRowRepo) LastRowNumber(ctx context.Context, jobID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(row_number), 0) FROM import_rows WHERE job_id = ?`, jobID).Scan(&n)
	return n, err
}

// List returns a job's outcomes in row order, optionally filtered by status.
func (r *ImportRowRepo) List(ctx context.Context, jobID string, status RowStatus) ([]ImportRow, error) {
	query := `SELECT ` + importRowColumns + ` FROM import_rows WHERE job_id = ?`
	args := []any{jobID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY row_number`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ImportRow
	for rows.Next() {
		row, err := scanImportRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ClaimedKeys returns which of keys are already held by an outcome of ownerID.
func (r *ImportRowRepo) ClaimedKeys(ctx context.Context, ownerID string, keys []string) (map[string]bool, error) {
	out := make(map[string]bool, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	args := []any{ownerID}
	for _, k := range keys {
		args = append(args, k)
	}
	rows, err := r.db.QueryContext(ctx, `
	SELECT idempotency_key FROM import_rows
	WHERE owner_id = ? AND status <> 'duplicate' AND idempotency_key IN (?`+strings.Repeat(", ?", len(keys)-1)+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out[k] = true
	}
	return out, rows.Err()
}

func scanImportRow(row scanner) (ImportRow, error) {
	var ir ImportRow
	var raw string
	var normalized, errMsg, txID sql.NullString
	if err := row.Scan(&ir.JobID, &ir.OwnerID, &ir.RowNumber, &ir.IdempotencyKey, &raw, &normalized,
		&ir.Status, &errMsg, &txID, &ir.CreatedAt); err != nil {
		return ImportRow{}, err
	}
	ir.Raw = []byte(raw)
	if normalized.Valid {
		ir.Normalized = []byte(normalized.String)
	}
	ir.Error = nullString(errMsg)
	ir.TransactionID = nullString(txID)
	return ir, nil
}
