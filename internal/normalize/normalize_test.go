package normalize_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jask/jaskledger/internal/apperr"
	"github.com/jask/jaskledger/internal/database/repository"
	"github.com/jask/jaskledger/internal/normalize"
)

var mapping = normalize.Mapping{
	Date:        "Date",
	Amount:      "Amount",
	Description: "Description",
	Type:        "Type",
	Account:     "Account",
	Reference:   "Ref",
}

func row(date, amount, desc, typ string) map[string]string {
	return map[string]string{"Date": date, "Amount": amount, "Description": desc, "Type": typ, "Account": " Wallet ", "Ref": ""}
}

func TestNormalize(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		raw     map[string]string
		valid   bool
		amount  string
		dir     repository.Direction
		date    string
		errPart string
	}{
		{name: "plain expense", raw: row("2024-03-01", "12.50", "Lunch", ""), valid: true, amount: "12.50", dir: repository.Expense, date: "2024-03-01"},
		{name: "income keyword", raw: row("2024-03-01", "100", "Salary", "CR"), valid: true, amount: "100", dir: repository.Income, date: "2024-03-01"},
		{name: "currency noise", raw: row("01/03/2024", "KES 1,234.50", "Rent", "debit"), valid: true, amount: "1234.50", dir: repository.Expense, date: "2024-03-01"},
		{name: "negative uses magnitude", raw: row("2024-03-01", "-45.00", "Fuel", "withdrawal"), valid: true, amount: "45", dir: repository.Expense, date: "2024-03-01"},
		{name: "bad amount", raw: row("2024-03-01", "abc", "Lunch", ""), errPart: "amount"},
		{name: "zero amount", raw: row("2024-03-01", "0.00", "Lunch", ""), errPart: "amount"},
		{name: "sub-cent amount", raw: row("2024-03-01", "1.005", "Lunch", ""), errPart: "amount"},
		{name: "bad date", raw: row("March first", "10", "Lunch", ""), errPart: "date"},
		{name: "empty description", raw: row("2024-03-01", "10", "   ", ""), errPart: "description"},
		{name: "unknown type", raw: row("2024-03-01", "10", "Lunch", "transfer"), errPart: "type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := normalize.Normalize(7, tc.raw, mapping, normalize.Options{})
			require.Equal(t, 7, res.Row)
			require.Len(t, res.Key, 64)
			require.Equal(t, tc.valid, res.Valid)
			if !tc.valid {
				require.Nil(t, res.Candidate)
				require.NotEmpty(t, res.Errors)
				require.Contains(t, res.Errors[0], tc.errPart)
				return
			}
			require.Empty(t, res.Errors)
			c := res.Candidate
			require.True(t, decimal.RequireFromString(tc.amount).Equal(c.Amount), c.Amount.String())
			require.Equal(t, tc.dir, c.Direction)
			require.Equal(t, tc.date, c.OccurredAt.Format(time.DateOnly))
			require.Equal(t, "Wallet", c.Account)
		})
	}
}

func TestNormalize_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	res := normalize.Normalize(1, row("", "", "", "sideways"), mapping, normalize.Options{})
	require.False(t, res.Valid)
	require.Len(t, res.Errors, 4)
}

func TestNormalize_ConfiguredLayoutsAndZone(t *testing.T) {
	t.Parallel()
	nairobi := time.FixedZone("EAT", 3*3600)
	opts := normalize.Options{Layouts: []string{"01/02/2006"}, Location: nairobi}

	res := normalize.Normalize(1, row("03/01/2024", "10", "x", ""), mapping, opts)
	require.True(t, res.Valid)
	require.True(t, time.Date(2024, 2, 29, 21, 0, 0, 0, time.UTC).Equal(res.Candidate.OccurredAt), res.Candidate.OccurredAt.String())

	// only configured layouts are tried
	res = normalize.Normalize(1, row("2024-03-01", "10", "x", ""), mapping, opts)
	require.False(t, res.Valid)
}

func TestKey(t *testing.T) {
	t.Parallel()
	base := normalize.Fields{Date: "2024-03-01", Amount: "10.00", Description: "Lunch"}

	require.Equal(t, normalize.Key(base), normalize.Key(base))

	// raw values, before trimming
	padded := base
	padded.Amount = " 10.00"
	require.NotEqual(t, normalize.Key(base), normalize.Key(padded))

	withRef := base
	withRef.Reference = "R1"
	require.NotEqual(t, normalize.Key(base), normalize.Key(withRef))

	// category, account and type do not take part
	other := base
	other.Category, other.Account, other.Type = "food", "Wallet", "debit"
	require.Equal(t, normalize.Key(base), normalize.Key(other))

	// field boundaries are part of the encoding
	a := normalize.Fields{Date: "1", Amount: "23"}
	b := normalize.Fields{Date: "12", Amount: "3"}
	require.NotEqual(t, normalize.Key(a), normalize.Key(b))
}

func TestMappingValidate(t *testing.T) {
	t.Parallel()
	headers := []string{"Date", "Amount", "Description", "Type", "Account", "Ref"}
	require.NoError(t, mapping.Validate(headers))

	err := normalize.Mapping{Date: "Date", Amount: "Amount"}.Validate(headers)
	require.ErrorIs(t, err, apperr.ErrValidation)
	require.Contains(t, err.Error(), "mapping.description")

	err = normalize.Mapping{Date: "Date", Amount: "Amount", Description: "Description", Category: "Cat"}.Validate(headers)
	require.ErrorIs(t, err, apperr.ErrValidation)
	require.Contains(t, err.Error(), `unknown column "Cat"`)
}

func TestSuggest(t *testing.T) {
	t.Parallel()
	m := normalize.Suggest([]string{"Date", "Description", "Amount", "Type", "Ref"})
	require.Equal(t, normalize.Mapping{Date: "Date", Amount: "Amount", Description: "Description", Type: "Type", Reference: "Ref"}, m)

	m = normalize.Suggest([]string{"Txn_Date", "Narrative", "Amt", "Dr/Cr", "Balance"})
	require.Equal(t, "Txn_Date", m.Date)
	require.Equal(t, "Amt", m.Amount)
	require.Equal(t, "Narrative", m.Description)
	require.Equal(t, "Dr/Cr", m.Type)

	require.Equal(t, normalize.Mapping{}, normalize.Suggest([]string{"zzz", "qqq"}))
}
