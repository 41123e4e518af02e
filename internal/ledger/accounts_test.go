package ledger_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jask/jaskledger/internal/apperr"
	"github.com/jask/jaskledger/internal/database/dbtest"
	"github.com/jask/jaskledger/internal/database/repository"
	"github.com/jask/jaskledger/internal/ledger"
)

func TestAccounts(t *testing.T) {
	t.Parallel()
	db := dbtest.Open(t)
	ctx := context.Background()
	accounts := ledger.NewAccounts(db)
	svc := ledger.NewService(db, zerolog.Nop())

	_, err := accounts.Create(ctx, "alice", ledger.NewAccount{Name: " ", Kind: repository.AccountCash})
	require.ErrorIs(t, err, apperr.ErrValidation)
	_, err = accounts.Create(ctx, "alice", ledger.NewAccount{Name: "Wallet", Kind: "piggy"})
	require.ErrorIs(t, err, apperr.ErrValidation)
	_, err = accounts.Create(ctx, "alice", ledger.NewAccount{Name: "Wallet", Kind: repository.AccountCash, Currency: "shillings"})
	require.ErrorIs(t, err, apperr.ErrValidation)

	acct, err := accounts.Create(ctx, "alice", ledger.NewAccount{Name: " Wallet ", Kind: repository.AccountCash, Currency: "kes"})
	require.NoError(t, err)
	require.Equal(t, "Wallet", acct.Name)
	require.Equal(t, "KES", acct.Currency)
	require.True(t, acct.Balance.IsZero())

	_, err = accounts.Get(ctx, "bob", acct.ID)
	require.ErrorIs(t, err, apperr.ErrAccountNotFound)

	tx, err := svc.Create(ctx, "alice", ledger.Fields{Amount: dec("12"), Direction: repository.Income, AccountID: &acct.ID})
	require.NoError(t, err)

	list, err := accounts.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.True(t, dec("12").Equal(list[0].Balance))

	require.ErrorIs(t, accounts.Delete(ctx, "bob", acct.ID), apperr.ErrAccountNotFound)
	require.NoError(t, accounts.Delete(ctx, "alice", acct.ID))

	// the transaction outlives its account
	got, err := svc.Get(ctx, "alice", tx.ID)
	require.NoError(t, err)
	require.Nil(t, got.AccountID)
	require.NoError(t, svc.Delete(ctx, "alice", tx.ID))
}
