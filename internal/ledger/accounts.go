package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jask/jaskledger/internal/apperr"
	"github.com/jask/jaskledger/internal/database/repository"
)

// NewAccount is the input for opening an account.
type NewAccount struct {
	Name      string
	Kind      repository.AccountKind
	Currency  string
	IsDefault bool
}

// Accounts manages the accounts transactions refer to. Balances are never
// written here; a new account starts at zero.
type Accounts struct {
	db *sql.DB
}

func NewAccounts(db *sql.DB) *Accounts { return &Accounts{db: db} }

func (a *Accounts) Create(ctx context.Context, ownerID string, in NewAccount) (*repository.Account, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Invalid("name", "is required")
	}
	if !in.Kind.Valid() {
		return nil, apperr.Invalid("kind", "unknown account kind %q", in.Kind)
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = "USD"
	}
	if len(currency) != 3 {
		return nil, apperr.Invalid("currency", "must be a 3-letter code, got %q", in.Currency)
	}

	acct := repository.Account{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		Kind:      in.Kind,
		Currency:  currency,
		IsDefault: in.IsDefault,
	}
	repo := repository.NewAccountRepo(a.db)
	if err := repo.Insert(ctx, acct); err != nil {
		return nil, apperr.Storage("create account", err)
	}
	return a.Get(ctx, ownerID, acct.ID)
}

func (a *Accounts) Get(ctx context.Context, ownerID, id string) (*repository.Account, error) {
	acct, err := repository.NewAccountRepo(a.db).Get(ctx, ownerID, id)
	if err != nil {
		return nil, apperr.Storage("load account", err)
	}
	if acct == nil {
		return nil, fmt.Errorf("account %s: %w", id, apperr.ErrAccountNotFound)
	}
	return acct, nil
}

func (a *Accounts) List(ctx context.Context, ownerID string) ([]repository.Account, error) {
	out, err := repository.NewAccountRepo(a.db).ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, apperr.Storage("list accounts", err)
	}
	return out, nil
}

// Delete removes an account. Its transactions stay in the ledger without an
// account.
func (a *Accounts) Delete(ctx context.Context, ownerID, id string) error {
	ok, err := repository.NewAccountRepo(a.db).Delete(ctx, ownerID, id)
	if err != nil {
		return apperr.Storage("delete account", err)
	}
	if !ok {
		return fmt.Errorf("account %s: %w", id, apperr.ErrAccountNotFound)
	}
	return nil
}
