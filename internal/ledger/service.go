// Package ledger owns every write to ledger transactions and keeps each
// account balance equal to the signed sum of the transactions referencing it.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jask/jaskledger/internal/apperr"
	"github.com/jask/jaskledger/internal/database"
	"github.com/jask/jaskledger/internal/database/repository"
	"github.com/jask/jaskledger/internal/money"
)

const maxDescriptionLen = 500

// Fields are the caller-supplied attributes of a transaction.
type Fields struct {
	Amount      decimal.Decimal
	Direction   repository.Direction
	AccountID   *string
	CategoryID  *string
	OccurredAt  time.Time
	Description string
	PaymentMode string
	Reference   *string
	Notes       *string
}

// Validate checks the structural rules that need no storage access.
func (f Fields) Validate() error {
	if !f.Amount.IsPositive() {
		return apperr.Invalid("amount", "must be greater than zero, got %s", f.Amount)
	}
	if _, err := money.ToMinor(f.Amount); err != nil {
		return apperr.Invalid("amount", "%v", err)
	}
	if !f.Direction.Valid() {
		return apperr.Invalid("direction", "must be income or expense, got %q", f.Direction)
	}
	if len(f.Description) > maxDescriptionLen {
		return apperr.Invalid("description", "longer than %d bytes", maxDescriptionLen)
	}
	return nil
}

// Service is the transaction mutation service.
type Service struct {
	db       *sql.DB
	balances BalanceMutator
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(db *sql.DB, log zerolog.Logger) *Service {
	return &Service{db: db, log: log, now: database.Now}
}

// Create inserts a transaction and applies its delta in one atomic unit.
func (s *Service) Create(ctx context.Context, ownerID string, f Fields) (*repository.Transaction, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	var out *repository.Transaction
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		t, err := s.create(ctx, tx, ownerID, f)
		out = t
		return err
	})
	if err != nil {
		return nil, classify("create transaction", err)
	}
	s.log.Debug().Str("owner_id", ownerID).Str("transaction_id", out.ID).Msg("transaction created")
	return out, nil
}

// CreateTx is Create enlisted in a unit owned by the caller. The caller
// commits or rolls back tx.
func (s *Service) CreateTx(ctx context.Context, tx *sql.Tx, ownerID string, f Fields) (*repository.Transaction, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	t, err := s.create(ctx, tx, ownerID, f)
	if err != nil {
		return nil, classify("create transaction", err)
	}
	return t, nil
}

func (s *Service) create(ctx context.Context, q database.Querier, ownerID string, f Fields) (*repository.Transaction, error) {
	f = f.normalized()
	if err := requireAccount(ctx, q, ownerID, f.AccountID); err != nil {
		return nil, err
	}

	now := s.now()
	t := repository.Transaction{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	f.applyTo(&t, now)

	if err := repository.NewTransactionRepo(q).Insert(ctx, t); err != nil {
		return nil, apperr.Storage("insert transaction", err)
	}
	if t.AccountID != nil {
		if err := s.balances.ApplyDelta(ctx, q, ownerID, *t.AccountID, t.SignedAmount()); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

// Update replaces a transaction's fields. Inside one unit the old delta is
// reverted on the old account, the row is rewritten, then the new delta is
// applied on the new account.
func (s *Service) Update(ctx context.Context, ownerID, id string, f Fields) (*repository.Transaction, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	f = f.normalized()

	var out *repository.Transaction
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		txs := repository.NewTransactionRepo(tx)
		old, err := txs.Get(ctx, ownerID, id)
		if err != nil {
			return apperr.Storage("load transaction", err)
		}
		if old == nil {
			return fmt.Errorf("transaction %s: %w", id, apperr.ErrNotFound)
		}
		if err := requireAccount(ctx, tx, ownerID, f.AccountID); err != nil {
			return err
		}

		if old.AccountID != nil {
			if err := s.balances.ApplyDelta(ctx, tx, ownerID, *old.AccountID, old.SignedAmount().Neg()); err != nil {
				return err
			}
		}

		next := *old
		now := s.now()
		f.applyTo(&next, old.OccurredAt)
		next.UpdatedAt = now
		ok, err := txs.Update(ctx, next)
		if err != nil {
			return apperr.Storage("update transaction", err)
		}
		if !ok {
			return fmt.Errorf("transaction %s: %w", id, apperr.ErrNotFound)
		}

		if next.AccountID != nil {
			if err := s.balances.ApplyDelta(ctx, tx, ownerID, *next.AccountID, next.SignedAmount()); err != nil {
				return err
			}
		}
		out = &next
		return nil
	})
	if err != nil {
		return nil, classify("update transaction", err)
	}
	s.log.Debug().Str("owner_id", ownerID).Str("transaction_id", id).Msg("transaction updated")
	return out, nil
}

// Delete removes a transaction and reverts its delta in one atomic unit.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		txs := repository.NewTransactionRepo(tx)
		old, err := txs.Get(ctx, ownerID, id)
		if err != nil {
			return apperr.Storage("load transaction", err)
		}
		if old == nil {
			return fmt.Errorf("transaction %s: %w", id, apperr.ErrNotFound)
		}
		if old.AccountID != nil {
			if err := s.balances.ApplyDelta(ctx, tx, ownerID, *old.AccountID, old.SignedAmount().Neg()); err != nil {
				return err
			}
		}
		ok, err := txs.Delete(ctx, ownerID, id)
		if err != nil {
			return apperr.Storage("delete transaction", err)
		}
		if !ok {
			return fmt.Errorf("transaction %s: %w", id, apperr.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return classify("delete transaction", err)
	}
	s.log.Debug().Str("owner_id", ownerID).Str("transaction_id", id).Msg("transaction deleted")
	return nil
}

func (s *Service) Get(ctx context.Context, ownerID, id string) (*repository.Transaction, error) {
	t, err := repository.NewTransactionRepo(s.db).Get(ctx, ownerID, id)
	if err != nil {
		return nil, apperr.Storage("load transaction", err)
	}
	if t == nil {
		return nil, fmt.Errorf("transaction %s: %w", id, apperr.ErrNotFound)
	}
	return t, nil
}

func (s *Service) List(ctx context.Context, ownerID string, filters repository.TransactionFilters) ([]repository.Transaction, error) {
	out, err := repository.NewTransactionRepo(s.db).List(ctx, ownerID, filters)
	if err != nil {
		return nil, apperr.Storage("list transactions", err)
	}
	return out, nil
}

func requireAccount(ctx context.Context, q database.Querier, ownerID string, accountID *string) error {
	if accountID == nil {
		return nil
	}
	a, err := repository.NewAccountRepo(q).Get(ctx, ownerID, *accountID)
	if err != nil {
		return apperr.Storage("load account", err)
	}
	if a == nil {
		return fmt.Errorf("account %s: %w", *accountID, apperr.ErrAccountNotFound)
	}
	return nil
}

// normalized folds blank optional references to nil.
func (f Fields) normalized() Fields {
	f.AccountID = blankToNil(f.AccountID)
	f.CategoryID = blankToNil(f.CategoryID)
	f.Reference = blankToNil(f.Reference)
	f.Notes = blankToNil(f.Notes)
	f.Description = strings.TrimSpace(f.Description)
	return f
}

func (f Fields) applyTo(t *repository.Transaction, defaultAt time.Time) {
	t.Amount = f.Amount
	t.Direction = f.Direction
	t.AccountID = f.AccountID
	t.CategoryID = f.CategoryID
	t.OccurredAt = f.OccurredAt.UTC()
	if f.OccurredAt.IsZero() {
		t.OccurredAt = defaultAt
	}
	t.Description = f.Description
	t.PaymentMode = f.PaymentMode
	t.Reference = f.Reference
	t.Notes = f.Notes
}

func blankToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

func classify(op string, err error) error {
	if apperr.IsDomain(err) {
		return err
	}
	return apperr.Storage(op, err)
}
