// Package api exposes the ledger and the import workflow over HTTP.
package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/jask/jaskledger/internal/api/middleware"
	"github.com/jask/jaskledger/internal/apperr"
	"github.com/jask/jaskledger/internal/importer"
	"github.com/jask/jaskledger/internal/ledger"
	"github.com/jask/jaskledger/internal/logger"
)

// Deps are the services the handlers call.
type Deps struct {
	Ledger    *ledger.Service
	Accounts  *ledger.Accounts
	Imports   *importer.Service
	JWTSecret []byte
	Log       zerolog.Logger
}

type handler struct {
	ledger   *ledger.Service
	accounts *ledger.Accounts
	imports  *importer.Service
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(d.Log), middleware.Recovery(d.Log), middleware.Logger(d.Log))

	h := &handler{ledger: d.Ledger, accounts: d.Accounts, imports: d.Imports}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api", middleware.Auth(d.JWTSecret))
	{
		txs := api.Group("/transactions")
		txs.GET("", h.listTransactions)
		txs.POST("", h.createTransaction)
		txs.GET("/:id", h.getTransaction)
		txs.PUT("/:id", h.updateTransaction)
		txs.DELETE("/:id", h.deleteTransaction)

		accts := api.Group("/accounts")
		accts.GET("", h.listAccounts)
		accts.POST("", h.createAccount)
		accts.GET("/:id", h.getAccount)
		accts.DELETE("/:id", h.deleteAccount)

		imports := api.Group("/imports")
		imports.GET("", h.listImports)
		imports.POST("", h.uploadImport)
		imports.GET("/:id", h.importStatus)
		imports.PUT("/:id/mapping", h.configureMapping)
		imports.GET("/:id/preview", h.previewImport)
		imports.POST("/:id/process", h.processImport)
		imports.POST("/:id/cancel", h.cancelImport)
	}

	return r
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound), errors.Is(err, apperr.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as a JSON error body. Storage failures are logged and
// reported without their details.
func fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log := logger.FromContext(c.Request.Context())
		log.Error().Err(err).Msg("request failed")
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	body := gin.H{"error": err.Error()}
	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		body["field"] = ve.Field
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
