// Package normalize turns raw uploaded rows into transaction candidates and
// computes their idempotency keys. It has no side effects.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jask/jaskledger/internal/database/repository"
	"github.com/jask/jaskledger/internal/money"
)

// DefaultLayouts are tried in order when no date layouts are configured.
var DefaultLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"02/01/2006",
	"2/01/2006",
	"2/1/2006",
	"02-01-2006",
	"02 Jan 2006",
	"Jan 2, 2006",
}

var directions = map[string]repository.Direction{
	"income":     repository.Income,
	"credit":     repository.Income,
	"cr":         repository.Income,
	"deposit":    repository.Income,
	"in":         repository.Income,
	"expense":    repository.Expense,
	"debit":      repository.Expense,
	"dr":         repository.Expense,
	"withdrawal": repository.Expense,
	"out":        repository.Expense,
}

type Options struct {
	Layouts  []string
	Location *time.Location // dates without a zone are read here; nil means UTC
}

// Candidate is a validated transaction proposal.
type Candidate struct {
	Amount      decimal.Decimal      `json:"amount"`
	Direction   repository.Direction `json:"direction"`
	OccurredAt  time.Time            `json:"occurred_at"`
	Description string               `json:"description"`
	Category    string               `json:"category,omitempty"`
	Account     string               `json:"account,omitempty"`
	Reference   string               `json:"reference,omitempty"`
}

// Result is the outcome of normalizing one row. Candidate is nil when the
// row is invalid; Key is always set.
type Result struct {
	Row       int        `json:"row"`
	Fields    Fields     `json:"fields"`
	Candidate *Candidate `json:"candidate,omitempty"`
	Key       string     `json:"key"`
	Valid     bool       `json:"valid"`
	Errors    []string   `json:"errors,omitempty"`
}

// Normalize validates one raw row under m.
func Normalize(rowNumber int, raw map[string]string, m Mapping, opts Options) Result {
	return NormalizeFields(rowNumber, m.Resolve(raw), opts)
}

// NormalizeFields is Normalize for a row already resolved through a mapping.
func NormalizeFields(rowNumber int, f Fields, opts Options) Result {
	res := Result{Row: rowNumber, Fields: f, Key: Key(f)}
	c := Candidate{
		Category:  strings.TrimSpace(f.Category),
		Account:   strings.TrimSpace(f.Account),
		Reference: strings.TrimSpace(f.Reference),
	}

	var errs []string
	if at, err := parseDate(f.Date, opts); err != nil {
		errs = append(errs, err.Error())
	} else {
		c.OccurredAt = at
	}
	if amt, err := parseAmount(f.Amount); err != nil {
		errs = append(errs, err.Error())
	} else {
		c.Amount = amt
	}
	if dir, err := parseDirection(f.Type); err != nil {
		errs = append(errs, err.Error())
	} else {
		c.Direction = dir
	}
	c.Description = strings.TrimSpace(f.Description)
	if c.Description == "" {
		errs = append(errs, "description: is empty")
	}

	if len(errs) > 0 {
		res.Errors = errs
		return res
	}
	res.Valid = true
	res.Candidate = &c
	return res
}

// Key is the idempotency key of a row: a SHA-256 over the raw date, amount,
// description and reference, each length-prefixed so that no two distinct
// tuples share an encoding.
func Key(f Fields) string {
	h := sha256.New()
	for _, p := range []string{f.Date, f.Amount, f.Description, f.Reference} {
		fmt.Fprintf(h, "%d:%s", len(p), p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func parseAmount(s string) (decimal.Decimal, error) {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '+' {
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("amount: %q is not a number", s)
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount: %q is not a number", s)
	}
	d = d.Abs()
	if d.IsZero() {
		return decimal.Zero, fmt.Errorf("amount: must not be zero")
	}
	if _, err := money.ToMinor(d); err != nil {
		return decimal.Zero, fmt.Errorf("amount: %w", err)
	}
	return d, nil
}

func parseDirection(s string) (repository.Direction, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return repository.Expense, nil
	}
	if d, ok := directions[s]; ok {
		return d, nil
	}
	return "", fmt.Errorf("type: %q is neither income nor expense", s)
}

func parseDate(s string, opts Options) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("date: is empty")
	}
	layouts := opts.Layouts
	if len(layouts) == 0 {
		layouts = DefaultLayouts
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("date: %q matches no known layout", s)
}
