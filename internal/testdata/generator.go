// Package testdata seeds demo ledgers through the same services the API uses.
package testdata

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jask/jaskledger/internal/database/repository"
	"github.com/jask/jaskledger/internal/ledger"
)

// Options controls how much is seeded. A zero Seed picks one from the clock.
type Options struct {
	Transactions int
	Seed         int64
	Now          time.Time
}

// Summary lists what Seed created.
type Summary struct {
	Accounts     []repository.Account
	Transactions int
}

type sample struct {
	description string
	category    string
	direction   repository.Direction
	minMinor    int64
	maxMinor    int64
}

var samples = []sample{
	{"SALARY ACME LTD", "income/salary", repository.Income, 150000, 300000},
	{"NAIVAS SUPERMARKET", "food/groceries", repository.Expense, 800, 15000},
	{"JAVA HOUSE", "food/coffee", repository.Expense, 300, 1500},
	{"UBER TRIP", "transport/rides", repository.Expense, 400, 4000},
	{"KPLC PREPAID", "fixed/utilities", repository.Expense, 1000, 5000},
	{"SAFARICOM AIRTIME", "fixed/phone", repository.Expense, 100, 1000},
	{"SPOTIFY", "fixed/subscriptions", repository.Expense, 399, 399},
	{"REFUND AMAZON", "shopping/refunds", repository.Income, 500, 9000},
}

// Seed opens a cash, a bank and a mobile money account for ownerID and
// spreads random transactions across them over the last 30 days.
func Seed(ctx context.Context, accounts *ledger.Accounts, svc *ledger.Service, ownerID string, opts Options) (*Summary, error) {
	if opts.Transactions <= 0 {
		opts.Transactions = 20
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}
	rng := rand.New(rand.NewSource(opts.Seed))

	specs := []ledger.NewAccount{
		{Name: "Wallet", Kind: repository.AccountCash, Currency: "KES"},
		{Name: "Sample Bank", Kind: repository.AccountBank, Currency: "KES", IsDefault: true},
		{Name: "M-Pesa", Kind: repository.AccountMobileMoney, Currency: "KES"},
	}
	sum := &Summary{}
	for _, spec := range specs {
		a, err := accounts.Create(ctx, ownerID, spec)
		if err != nil {
			return nil, fmt.Errorf("seed account %s: %w", spec.Name, err)
		}
		sum.Accounts = append(sum.Accounts, *a)
	}

	for i := 0; i < opts.Transactions; i++ {
		s := samples[rng.Intn(len(samples))]
		minor := s.minMinor
		if s.maxMinor > s.minMinor {
			minor += rng.Int63n(s.maxMinor - s.minMinor)
		}
		acct := sum.Accounts[rng.Intn(len(sum.Accounts))]
		category := s.category
		_, err := svc.Create(ctx, ownerID, ledger.Fields{
			Amount:      decimal.New(minor, -2),
			Direction:   s.direction,
			AccountID:   &acct.ID,
			CategoryID:  &category,
			OccurredAt:  opts.Now.AddDate(0, 0, -rng.Intn(30)),
			Description: s.description,
			PaymentMode: "seed",
		})
		if err != nil {
			return nil, fmt.Errorf("seed transaction %d: %w", i+1, err)
		}
		sum.Transactions++
	}
	return sum, nil
}
