package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jask/jaskledger/internal/api"
	"github.com/jask/jaskledger/internal/database/dbtest"
	"github.com/jask/jaskledger/internal/importer"
	"github.com/jask/jaskledger/internal/jobs"
	"github.com/jask/jaskledger/internal/ledger"
)

var secret = []byte("api-test-secret")

type doneNotifier chan string

func (d doneNotifier) Notify(_ context.Context, _, kind string, _ map[string]any) error {
	d <- kind
	return nil
}

type server struct {
	t      *testing.T
	router *gin.Engine
	done   doneNotifier
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := dbtest.Open(t)
	runner := jobs.NewRunner(zerolog.Nop())
	t.Cleanup(func() { _ = runner.Stop(context.Background()) })

	done := make(doneNotifier, 4)
	ledgerSvc := ledger.NewService(db, zerolog.Nop())
	router := api.NewRouter(api.Deps{
		Ledger:    ledgerSvc,
		Accounts:  ledger.NewAccounts(db),
		Imports:   importer.NewService(db, ledgerSvc, runner, done, zerolog.Nop(), importer.Config{}),
		JWTSecret: secret,
		Log:       zerolog.Nop(),
	})
	return &server{t: t, router: router, done: done}
}

func token(t *testing.T, owner string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": owner,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(secret)
	require.NoError(t, err)
	return s
}

// do sends body as JSON (or raw when it is a *bytes.Buffer with contentType
// set) and decodes the response into out when out is non-nil.
func (s *server) do(owner, method, path string, body any, out any) int {
	s.t.Helper()
	var rd *bytes.Buffer
	contentType := "application/json"
	switch b := body.(type) {
	case nil:
		rd = &bytes.Buffer{}
	case multipartBody:
		rd, contentType = b.buf, b.contentType
	default:
		raw, err := json.Marshal(b)
		require.NoError(s.t, err)
		rd = bytes.NewBuffer(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", contentType)
	if owner != "" {
		req.Header.Set("Authorization", "Bearer "+token(s.t, owner))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	if out != nil && w.Body.Len() > 0 {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w.Code
}

type multipartBody struct {
	buf         *bytes.Buffer
	contentType string
}

func csvUpload(t *testing.T, filename, content string) multipartBody {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return multipartBody{buf: buf, contentType: mw.FormDataContentType()}
}

type accountBody struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"`
}

type txBody struct {
	ID        string          `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Direction string          `json:"direction"`
	AccountID *string         `json:"account_id"`
}

type errBody struct {
	Error string `json:"error"`
	Field string `json:"field"`
}

func (s *server) balance(owner, accountID string) decimal.Decimal {
	s.t.Helper()
	var a accountBody
	require.Equal(s.t, http.StatusOK, s.do(owner, http.MethodGet, "/api/accounts/"+accountID, nil, &a))
	return a.Balance
}

func TestHealthAndAuth(t *testing.T) {
	s := newServer(t)
	require.Equal(t, http.StatusOK, s.do("", http.MethodGet, "/health", nil, nil))
	require.Equal(t, http.StatusUnauthorized, s.do("", http.MethodGet, "/api/accounts", nil, nil))
}

func TestTransactionLifecycle(t *testing.T) {
	s := newServer(t)

	var wallet, bank accountBody
	require.Equal(t, http.StatusCreated, s.do("alice", http.MethodPost, "/api/accounts",
		map[string]any{"name": "Wallet", "kind": "cash", "currency": "kes"}, &wallet))
	require.Equal(t, http.StatusCreated, s.do("alice", http.MethodPost, "/api/accounts",
		map[string]any{"name": "Bank", "kind": "bank"}, &bank))

	var tx txBody
	require.Equal(t, http.StatusCreated, s.do("alice", http.MethodPost, "/api/transactions", map[string]any{
		"amount": "50.25", "direction": "expense", "account_id": wallet.ID, "description": "lunch",
	}, &tx))
	require.True(t, decimal.RequireFromString("50.25").Equal(tx.Amount))
	require.True(t, decimal.RequireFromString("-50.25").Equal(s.balance("alice", wallet.ID)))

	// move to the bank account as income
	require.Equal(t, http.StatusOK, s.do("alice", http.MethodPut, "/api/transactions/"+tx.ID, map[string]any{
		"amount": "10", "direction": "income", "account_id": bank.ID, "description": "refund",
	}, &tx))
	require.True(t, s.balance("alice", wallet.ID).IsZero())
	require.True(t, decimal.NewFromInt(10).Equal(s.balance("alice", bank.ID)))

	var list struct {
		Transactions []txBody `json:"transactions"`
	}
	require.Equal(t, http.StatusOK, s.do("alice", http.MethodGet, "/api/transactions?account_id="+bank.ID, nil, &list))
	require.Len(t, list.Transactions, 1)
	require.Equal(t, http.StatusBadRequest, s.do("alice", http.MethodGet, "/api/transactions?from=yesterday", nil, nil))

	// other owners see nothing
	require.Equal(t, http.StatusNotFound, s.do("bob", http.MethodGet, "/api/transactions/"+tx.ID, nil, nil))
	require.Equal(t, http.StatusNotFound, s.do("bob", http.MethodDelete, "/api/transactions/"+tx.ID, nil, nil))

	require.Equal(t, http.StatusNoContent, s.do("alice", http.MethodDelete, "/api/transactions/"+tx.ID, nil, nil))
	require.True(t, s.balance("alice", bank.ID).IsZero())
	require.Equal(t, http.StatusNotFound, s.do("alice", http.MethodGet, "/api/transactions/"+tx.ID, nil, nil))
}

func TestTransactionErrors(t *testing.T) {
	s := newServer(t)
	var acct accountBody
	require.Equal(t, http.StatusCreated, s.do("alice", http.MethodPost, "/api/accounts",
		map[string]any{"name": "Wallet", "kind": "cash"}, &acct))

	var e errBody
	require.Equal(t, http.StatusBadRequest, s.do("alice", http.MethodPost, "/api/transactions",
		map[string]any{"amount": "-3", "direction": "expense"}, &e))
	require.Equal(t, "amount", e.Field)

	require.Equal(t, http.StatusBadRequest, s.do("alice", http.MethodPost, "/api/transactions",
		map[string]any{"amount": "3.999", "direction": "expense"}, &e))
	require.Equal(t, "amount", e.Field)

	require.Equal(t, http.StatusBadRequest, s.do("alice", http.MethodPost, "/api/transactions",
		map[string]any{"amount": "3", "direction": "sideways"}, &e))
	require.Equal(t, "direction", e.Field)

	require.Equal(t, http.StatusNotFound, s.do("bob", http.MethodPost, "/api/transactions",
		map[string]any{"amount": "3", "direction": "income", "account_id": acct.ID}, nil))

	require.Equal(t, http.StatusBadRequest, s.do("alice", http.MethodPost, "/api/accounts",
		map[string]any{"name": "x", "kind": "piggy"}, nil))
	require.True(t, s.balance("alice", acct.ID).IsZero())
}

type jobBody struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

type statusBody struct {
	Job    jobBody `json:"job"`
	Counts struct {
		Processed  int `json:"processed"`
		Succeeded  int `json:"succeeded"`
		Failed     int `json:"failed"`
		Duplicates int `json:"duplicates"`
	} `json:"counts"`
	Failures []struct {
		Row   int    `json:"row"`
		Error string `json:"error"`
	} `json:"failures"`
}

func TestImportFlow(t *testing.T) {
	s := newServer(t)
	var acct accountBody
	require.Equal(t, http.StatusCreated, s.do("alice", http.MethodPost, "/api/accounts",
		map[string]any{"name": "M-Pesa", "kind": "mobile_money", "currency": "KES"}, &acct))

	csv := "Date,Amount,Details,Type,Account\n" +
		"2024-03-01,100.00,Salary,income,M-Pesa\n" +
		"2024-03-02,oops,Broken,expense,M-Pesa\n" +
		"2024-03-03,30.50,Groceries,expense,M-Pesa\n"

	var up struct {
		Job       jobBody             `json:"job"`
		Preview   []map[string]string `json:"preview"`
		Suggested map[string]string   `json:"suggested_mapping"`
	}
	require.Equal(t, http.StatusCreated, s.do("alice", http.MethodPost, "/api/imports", csvUpload(t, "march.csv", csv), &up))
	require.Equal(t, "pending", up.Job.Status)
	require.Len(t, up.Preview, 3)
	require.Equal(t, "Date", up.Suggested["date"])
	require.Equal(t, "Amount", up.Suggested["amount"])

	jobPath := "/api/imports/" + up.Job.ID

	// preview and process need a mapping first
	require.Equal(t, http.StatusConflict, s.do("alice", http.MethodGet, jobPath+"/preview", nil, nil))
	require.Equal(t, http.StatusConflict, s.do("alice", http.MethodPost, jobPath+"/process", nil, nil))

	var e errBody
	require.Equal(t, http.StatusBadRequest, s.do("alice", http.MethodPut, jobPath+"/mapping",
		map[string]string{"date": "Date", "amount": "Nope", "description": "Details"}, &e))
	require.Equal(t, "mapping.amount", e.Field)

	var job jobBody
	require.Equal(t, http.StatusOK, s.do("alice", http.MethodPut, jobPath+"/mapping", map[string]string{
		"date": "Date", "amount": "Amount", "description": "Details", "type": "Type", "account": "Account",
	}, &job))
	require.Equal(t, "configured", job.Status)

	var preview struct {
		Rows []struct {
			Row   int  `json:"row"`
			Valid bool `json:"valid"`
		} `json:"rows"`
	}
	require.Equal(t, http.StatusOK, s.do("alice", http.MethodGet, jobPath+"/preview", nil, &preview))
	require.Len(t, preview.Rows, 3)
	require.True(t, preview.Rows[0].Valid)
	require.False(t, preview.Rows[1].Valid)

	require.Equal(t, http.StatusNotFound, s.do("bob", http.MethodPost, jobPath+"/process", nil, nil))
	require.Equal(t, http.StatusAccepted, s.do("alice", http.MethodPost, jobPath+"/process", nil, &job))
	require.Equal(t, "processing", job.Status)

	select {
	case kind := <-s.done:
		require.Equal(t, "import.completed", kind)
	case <-time.After(10 * time.Second):
		t.Fatal("import did not finish")
	}

	var st statusBody
	require.Equal(t, http.StatusOK, s.do("alice", http.MethodGet, jobPath, nil, &st))
	require.Equal(t, "completed", st.Job.Status)
	require.Equal(t, 3, st.Counts.Processed)
	require.Equal(t, 2, st.Counts.Succeeded)
	require.Equal(t, 1, st.Counts.Failed)
	require.Len(t, st.Failures, 1)
	require.Equal(t, 2, st.Failures[0].Row)
	require.True(t, decimal.RequireFromString("69.50").Equal(s.balance("alice", acct.ID)))

	// terminal jobs reject further transitions
	require.Equal(t, http.StatusConflict, s.do("alice", http.MethodPost, jobPath+"/process", nil, nil))
	require.Equal(t, http.StatusConflict, s.do("alice", http.MethodPost, jobPath+"/cancel", nil, nil))

	var listing struct {
		Imports []jobBody `json:"imports"`
	}
	require.Equal(t, http.StatusOK, s.do("alice", http.MethodGet, "/api/imports", nil, &listing))
	require.Len(t, listing.Imports, 1)
	require.Equal(t, http.StatusOK, s.do("bob", http.MethodGet, "/api/imports", nil, &listing))
	require.Empty(t, listing.Imports)
}

func TestUploadJSONAndRejects(t *testing.T) {
	s := newServer(t)

	var up struct {
		Job jobBody `json:"job"`
	}
	require.Equal(t, http.StatusCreated, s.do("alice", http.MethodPost, "/api/imports", map[string]any{
		"filename": "rows.json",
		"headers":  []string{"Date", "Amount", "Description"},
		"rows":     []map[string]string{{"Date": "2024-01-01", "Amount": "5", "Description": "tea"}},
	}, &up))
	require.Equal(t, "pending", up.Job.Status)

	require.Equal(t, http.StatusBadRequest, s.do("alice", http.MethodPost, "/api/imports", map[string]any{
		"filename": "empty.json", "headers": []string{"Date"},
	}, nil))
	require.Equal(t, http.StatusBadRequest, s.do("alice", http.MethodPost, "/api/imports",
		csvUpload(t, "notes.pdf", "whatever"), nil))
	require.Equal(t, http.StatusNotFound, s.do("alice", http.MethodGet, "/api/imports/nope", nil, nil))
}
