package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/jask/jaskledger/internal/apperr"
	"github.com/jask/jaskledger/internal/database"
	"github.com/jask/jaskledger/internal/database/repository"
	"github.com/jask/jaskledger/internal/money"
)

// BalanceMutator is the only writer of account balances. It always runs on
// the caller's transaction and increments in storage, never read-then-write.
type BalanceMutator struct{}

// ApplyDelta adds delta (possibly negative) to the balance of accountID.
// Callers skip the call for transactions without an account.
func (BalanceMutator) ApplyDelta(ctx context.Context, q database.Querier, ownerID, accountID string, delta decimal.Decimal) error {
	minor, err := money.ToMinor(delta)
	if err != nil {
		return apperr.Invalid("amount", "%v", err)
	}
	ok, err := repository.NewAccountRepo(q).AddToBalance(ctx, ownerID, accountID, minor)
	if err != nil {
		return apperr.Storage("apply balance delta", err)
	}
	if !ok {
		return fmt.Errorf("account %s: %w", accountID, apperr.ErrAccountNotFound)
	}
	return nil
}
