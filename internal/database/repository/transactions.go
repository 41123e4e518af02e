package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jask/jaskledger/internal/database"
	"github.com/jask/jaskledger/internal/money"
)

// TransactionFilters defines list filters.
type TransactionFilters struct {
	AccountID string
	From      time.Time // inclusive; zero = unbounded
	To        time.Time // exclusive; zero = unbounded
	Search    string
	Limit     int
}

// TransactionRepo handles transactions.
type TransactionRepo struct {
	db database.Querier
}

func NewTransactionRepo(db database.Querier) *TransactionRepo { return &TransactionRepo{db: db} }

const transactionColumns = `id, owner_id, amount_minor, direction, account_id, category_id, occurred_at,
 description, payment_mode, reference, notes, created_at, updated_at`

func (r *TransactionRepo) Insert(ctx context.Context, t Transaction) error {
	amount, err := money.ToMinor(t.Amount)
	if err != nil {
		return fmt.Errorf("amount %s: %w", t.Amount, err)
	}
	_, err = r.db.ExecContext(ctx, `
	INSERT INTO transactions(
	 id, owner_id, amount_minor, direction, account_id, category_id, occurred_at,
	 description, payment_mode, reference, notes, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`,
		t.ID, t.OwnerID, amount, t.Direction, t.AccountID, t.CategoryID, t.OccurredAt,
		t.Description, t.PaymentMode, t.Reference, t.Notes, t.CreatedAt, t.UpdatedAt)
	return err
}

// Update replaces the mutable fields of an existing row.
func (r *TransactionRepo) Update(ctx context.Context, t Transaction) (bool, error) {
	amount, err := money.ToMinor(t.Amount)
	if err != nil {
		return false, fmt.Errorf("amount %s: %w", t.Amount, err)
	}
	res, err := r.db.ExecContext(ctx, `
	UPDATE transactions SET
	 amount_minor = ?, direction = ?, account_id = ?, category_id = ?, occurred_at = ?,
	 description = ?, payment_mode = ?, reference = ?, notes = ?, updated_at = ?
	WHERE id = ? AND owner_id = ?`,
		amount, t.Direction, t.AccountID, t.CategoryID, t.OccurredAt,
		t.Description, t.PaymentMode, t.Reference, t.Notes, t.UpdatedAt,
		t.ID, t.OwnerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *TransactionRepo) Delete(ctx context.Context, ownerID, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *TransactionRepo) Get(ctx context.Context, ownerID, id string) (*Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ? AND owner_id = ?`, id, ownerID)
	t, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (r *TransactionRepo) List(ctx context.Context, ownerID string, f TransactionFilters) ([]Transaction, error) {
	where := []string{"owner_id = ?"}
	args := []any{ownerID}

	if f.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if !f.From.IsZero() {
		where = append(where, "occurred_at >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		where = append(where, "occurred_at < ?")
		args = append(args, f.To)
	}
	if f.Search != "" {
		where = append(where, "description LIKE ?")
		args = append(args, "%"+f.Search+"%")
	}

	query := "SELECT " + transactionColumns + " FROM transactions WHERE " + strings.Join(where, " AND ")
	query += " ORDER BY occurred_at DESC, created_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SignedSumForAccount recomputes what the account balance should be from the
// transactions referencing it.
func (r *TransactionRepo) SignedSumForAccount(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var sum int64
	err := r.db.QueryRowContext(ctx, `
	SELECT COALESCE(SUM(CASE direction WHEN 'income' THEN amount_minor ELSE -amount_minor END), 0)
	FROM transactions WHERE account_id = ?`, accountID).Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	return money.FromMinor(sum), nil
}

// scanTransaction handles nullable fields for both Row and Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (Transaction, error) {
	var t Transaction
	var amount int64
	var account, category, reference, notes sql.NullString
	if err := row.Scan(&t.ID, &t.OwnerID, &amount, &t.Direction, &account, &category, &t.OccurredAt,
		&t.Description, &t.PaymentMode, &reference, &notes, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Transaction{}, err
	}
	t.Amount = money.FromMinor(amount)
	t.AccountID = nullString(account)
	t.CategoryID = nullString(category)
	t.Reference = nullString(reference)
	t.Notes = nullString(notes)
	return t, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
