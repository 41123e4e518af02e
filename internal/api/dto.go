package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jask/jaskledger/internal/database/repository"
	"github.com/jask/jaskledger/internal/importer"
	"github.com/jask/jaskledger/internal/ledger"
	"github.com/jask/jaskledger/internal/normalize"
)

type transactionRequest struct {
	Amount      decimal.Decimal      `json:"amount"`
	Direction   repository.Direction `json:"direction"`
	AccountID   *string              `json:"account_id"`
	CategoryID  *string              `json:"category_id"`
	OccurredAt  *time.Time           `json:"occurred_at"`
	Description string               `json:"description"`
	PaymentMode string               `json:"payment_mode"`
	Reference   *string              `json:"reference"`
	Notes       *string              `json:"notes"`
}

func (r transactionRequest) fields() ledger.Fields {
	f := ledger.Fields{
		Amount:      r.Amount,
		Direction:   r.Direction,
		AccountID:   r.AccountID,
		CategoryID:  r.CategoryID,
		Description: r.Description,
		PaymentMode: r.PaymentMode,
		Reference:   r.Reference,
		Notes:       r.Notes,
	}
	if r.OccurredAt != nil {
		f.OccurredAt = *r.OccurredAt
	}
	return f
}

type transactionResponse struct {
	ID          string               `json:"id"`
	Amount      decimal.Decimal      `json:"amount"`
	Direction   repository.Direction `json:"direction"`
	AccountID   *string              `json:"account_id"`
	CategoryID  *string              `json:"category_id"`
	OccurredAt  time.Time            `json:"occurred_at"`
	Description string               `json:"description"`
	PaymentMode string               `json:"payment_mode"`
	Reference   *string              `json:"reference"`
	Notes       *string              `json:"notes"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

func toTransaction(t repository.Transaction) transactionResponse {
	return transactionResponse{
		ID:          t.ID,
		Amount:      t.Amount,
		Direction:   t.Direction,
		AccountID:   t.AccountID,
		CategoryID:  t.CategoryID,
		OccurredAt:  t.OccurredAt,
		Description: t.Description,
		PaymentMode: t.PaymentMode,
		Reference:   t.Reference,
		Notes:       t.Notes,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

type accountRequest struct {
	Name      string                 `json:"name"`
	Kind      repository.AccountKind `json:"kind"`
	Currency  string                 `json:"currency"`
	IsDefault bool                   `json:"is_default"`
}

func ledgerAccount(r accountRequest) ledger.NewAccount {
	return ledger.NewAccount{Name: r.Name, Kind: r.Kind, Currency: r.Currency, IsDefault: r.IsDefault}
}

type accountResponse struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Kind      repository.AccountKind `json:"kind"`
	Balance   decimal.Decimal        `json:"balance"`
	Currency  string                 `json:"currency"`
	IsDefault bool                   `json:"is_default"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

func toAccount(a repository.Account) accountResponse {
	return accountResponse{
		ID:        a.ID,
		Name:      a.Name,
		Kind:      a.Kind,
		Balance:   a.Balance,
		Currency:  a.Currency,
		IsDefault: a.IsDefault,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

// uploadRequest is the JSON alternative to a multipart file upload.
type uploadRequest struct {
	Filename string              `json:"filename"`
	Headers  []string            `json:"headers"`
	Rows     []map[string]string `json:"rows"`
}

type jobResponse struct {
	ID          string               `json:"id"`
	Filename    string               `json:"filename"`
	RowCount    int                  `json:"row_count"`
	Status      repository.JobStatus `json:"status"`
	Headers     []string             `json:"headers"`
	Mapping     *normalize.Mapping   `json:"mapping,omitempty"`
	Error       *string              `json:"error,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
}

func toJob(j repository.ImportJob) jobResponse {
	out := jobResponse{
		ID:          j.ID,
		Filename:    j.Filename,
		RowCount:    j.RowCount,
		Status:      j.Status,
		Headers:     j.Headers,
		Error:       j.ErrorLog,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
	if len(j.Mapping) > 0 {
		var m normalize.Mapping
		if err := json.Unmarshal(j.Mapping, &m); err == nil {
			out.Mapping = &m
		}
	}
	return out
}

type uploadResponse struct {
	Job       jobResponse         `json:"job"`
	Preview   []map[string]string `json:"preview"`
	Suggested normalize.Mapping   `json:"suggested_mapping"`
}

type failureResponse struct {
	Row   int     `json:"row"`
	Error *string `json:"error"`
}

type statusResponse struct {
	Job      jobResponse          `json:"job"`
	Counts   repository.RowCounts `json:"counts"`
	Failures []failureResponse    `json:"failures"`
}

func toStatus(r importer.StatusReport) statusResponse {
	out := statusResponse{
		Job:      toJob(r.Job),
		Counts:   r.Counts,
		Failures: make([]failureResponse, 0, len(r.Failures)),
	}
	for _, f := range r.Failures {
		out.Failures = append(out.Failures, failureResponse{Row: f.RowNumber, Error: f.Error})
	}
	return out
}
