package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountKind enumerates supported account kinds.
type AccountKind string

const (
	AccountCash        AccountKind = "cash"
	AccountBank        AccountKind = "bank"
	AccountMobileMoney AccountKind = "mobile_money"
	AccountCredit      AccountKind = "credit"
)

func (k AccountKind) Valid() bool {
	switch k {
	case AccountCash, AccountBank, AccountMobileMoney, AccountCredit:
		return true
	}
	return false
}

// Account represents an account row. Balance is maintained by the ledger only.
type Account struct {
	ID        string
	OwnerID   string
	Name      string
	Kind      AccountKind
	Balance   decimal.Decimal
	Currency  string
	IsDefault bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Direction is the sign a transaction contributes to its account.
type Direction string

const (
	Income  Direction = "income"
	Expense Direction = "expense"
)

func (d Direction) Valid() bool { return d == Income || d == Expense }

// Transaction represents a ledger entry row.
type Transaction struct {
	ID          string
	OwnerID     string
	Amount      decimal.Decimal
	Direction   Direction
	AccountID   *string
	CategoryID  *string
	OccurredAt  time.Time
	Description string
	PaymentMode string
	Reference   *string
	Notes       *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SignedAmount is the delta t contributes to its account.
func (t Transaction) SignedAmount() decimal.Decimal {
	if t.Direction == Income {
		return t.Amount
	}
	return t.Amount.Neg()
}

// JobStatus is the lifecycle state of an import job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobConfigured JobStatus = "configured"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

func (s JobStatus) Terminal() bool { return s == JobCompleted || s == JobFailed }

// ImportJob represents an import_jobs row. Mapping fields hold JSON.
type ImportJob struct {
	ID               string
	OwnerID          string
	Filename         string
	RowCount         int
	Status           JobStatus
	Headers          []string
	SuggestedMapping []byte
	Mapping          []byte
	ErrorLog         *string
	CreatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// SourceRow is one uploaded row kept for the background processor.
type SourceRow struct {
	RowNumber int
	Payload   []byte
}

// RowStatus is the terminal outcome of one import row.
type RowStatus string

const (
	RowDuplicate RowStatus = "duplicate"
	RowFailed    RowStatus = "failed"
	RowProcessed RowStatus = "processed"
)

// ImportRow represents an import_rows outcome.
type ImportRow struct {
	JobID          string
	OwnerID        string
	RowNumber      int
	IdempotencyKey string
	Raw            []byte
	Normalized     []byte
	Status         RowStatus
	Error          *string
	TransactionID  *string
	CreatedAt      time.Time
}

// RowCounts is derived from the outcome log of one job.
type RowCounts struct {
	Processed  int `json:"processed"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Duplicates int `json:"duplicates"`
}
