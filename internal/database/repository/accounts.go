package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jask/jaskledger/internal/database"
	"github.com/jask/jaskledger/internal/money"
)

// AccountRepo handles accounts.
type AccountRepo struct {
	db database.Querier
}

func NewAccountRepo(db database.Querier) *AccountRepo {
	return &AccountRepo{db: db}
}

const accountColumns = `id, owner_id, name, kind, balance_minor, currency, is_default, created_at, updated_at`

// Insert creates an account. New accounts always start at a zero balance;
// only the ledger moves it afterwards.
func (r *AccountRepo) Insert(ctx context.Context, a Account) error {
	now := database.Now()
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO accounts(id, owner_id, name, kind, balance_minor, currency, is_default, created_at, updated_at)
	VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?);
	`, a.ID, a.OwnerID, a.Name, a.Kind, a.Currency, a.IsDefault, now, now)
	return err
}

func (r *AccountRepo) Get(ctx context.Context, ownerID, id string) (*Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ? AND owner_id = ?`, id, ownerID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepo) ListByOwner(ctx context.Context, ownerID string) ([]Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE owner_id = ? ORDER BY is_default DESC, name`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// FindForOwner resolves ref as an account id first, then as a case-insensitive
// name. Ties between equal names go to the default account, then the oldest.
func (r *AccountRepo) FindForOwner(ctx context.Context, ownerID, ref string) (*Account, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT `+accountColumns+` FROM accounts
	WHERE owner_id = ? AND (id = ? OR lower(name) = lower(?))
	ORDER BY (id = ?) DESC, is_default DESC, created_at ASC
	LIMIT 1`, ownerID, ref, ref, ref)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// AddToBalance atomically increments the stored balance by deltaMinor. It
// reports false when no account of ownerID has that id.
func (r *AccountRepo) AddToBalance(ctx context.Context, ownerID, id string, deltaMinor int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
	UPDATE accounts SET balance_minor = balance_minor + ?, updated_at = ?
	WHERE id = ? AND owner_id = ?`, deltaMinor, database.Now(), id, ownerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Delete removes an account. Its transactions are detached by the foreign key.
func (r *AccountRepo) Delete(ctx context.Context, ownerID, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func scanAccount(row scanner) (Account, error) {
	var a Account
	var balance int64
	if err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Kind, &balance, &a.Currency, &a.IsDefault, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return Account{}, err
	}
	a.Balance = money.FromMinor(balance)
	return a, nil
}
