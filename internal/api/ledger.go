package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jask/jaskledger/internal/api/middleware"
	"github.com/jask/jaskledger/internal/database/repository"
)

func (h *handler) createTransaction(c *gin.Context) {
	var req transactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	t, err := h.ledger.Create(c.Request.Context(), middleware.OwnerID(c), req.fields())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toTransaction(*t))
}

func (h *handler) getTransaction(c *gin.Context) {
	t, err := h.ledger.Get(c.Request.Context(), middleware.OwnerID(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toTransaction(*t))
}

func (h *handler) updateTransaction(c *gin.Context) {
	var req transactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	t, err := h.ledger.Update(c.Request.Context(), middleware.OwnerID(c), c.Param("id"), req.fields())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toTransaction(*t))
}

func (h *handler) deleteTransaction(c *gin.Context) {
	if err := h.ledger.Delete(c.Request.Context(), middleware.OwnerID(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// listTransactions accepts account_id, from, to (YYYY-MM-DD or RFC 3339),
// q and limit.
func (h *handler) listTransactions(c *gin.Context) {
	var f repository.TransactionFilters
	f.AccountID = c.Query("account_id")
	f.Search = strings.TrimSpace(c.Query("q"))

	var err error
	if f.From, err = queryTime(c, "from"); err != nil {
		badRequest(c, err.Error())
		return
	}
	if f.To, err = queryTime(c, "to"); err != nil {
		badRequest(c, err.Error())
		return
	}
	if f.Limit, err = queryLimit(c); err != nil {
		badRequest(c, err.Error())
		return
	}

	list, err := h.ledger.List(c.Request.Context(), middleware.OwnerID(c), f)
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]transactionResponse, 0, len(list))
	for _, t := range list {
		out = append(out, toTransaction(t))
	}
	c.JSON(http.StatusOK, gin.H{"transactions": out})
}

func (h *handler) createAccount(c *gin.Context) {
	var req accountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	a, err := h.accounts.Create(c.Request.Context(), middleware.OwnerID(c), ledgerAccount(req))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toAccount(*a))
}

func (h *handler) getAccount(c *gin.Context) {
	a, err := h.accounts.Get(c.Request.Context(), middleware.OwnerID(c), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toAccount(*a))
}

func (h *handler) listAccounts(c *gin.Context) {
	list, err := h.accounts.List(c.Request.Context(), middleware.OwnerID(c))
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]accountResponse, 0, len(list))
	for _, a := range list {
		out = append(out, toAccount(a))
	}
	c.JSON(http.StatusOK, gin.H{"accounts": out})
}

func (h *handler) deleteAccount(c *gin.Context) {
	if err := h.accounts.Delete(c.Request.Context(), middleware.OwnerID(c), c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func queryTime(c *gin.Context, key string) (time.Time, error) {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, &queryError{key: key, value: v}
	}
	return t.UTC(), nil
}

func queryLimit(c *gin.Context) (int, error) {
	v := strings.TrimSpace(c.Query("limit"))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, &queryError{key: "limit", value: v}
	}
	return n, nil
}

type queryError struct{ key, value string }

func (e *queryError) Error() string { return "invalid " + e.key + " " + strconv.Quote(e.value) }
