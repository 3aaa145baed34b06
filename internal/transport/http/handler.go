package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/pix-acquirer/internal/fee"
	"github.com/richardliu001/pix-acquirer/internal/model"
	"github.com/richardliu001/pix-acquirer/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// Services bundles what the HTTP layer calls into.
type Services struct {
	Merchants    *service.MerchantService
	Transactions *service.TransactionService
	Withdrawals  *service.WithdrawalService
	Webhooks     *service.WebhookService
	APIKeys      *service.APIKeyService
	Ingest       *service.IngestService
	Ledger       *service.Ledger
}

func RegisterHandlers(r *gin.Engine, svc Services, jwtSecret string, log *zap.SugaredLogger) {
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.POST("/webhooks/gateway/pix", gatewayWebhookHandler(svc.Ingest, log))

	v1 := r.Group("/v1")
	v1.POST("/merchants", registerMerchantHandler(svc.Merchants, log))

	m := v1.Group("", APIKeyAuth(svc.APIKeys, log))
	{
		m.POST("/transactions", createTransactionHandler(svc.Transactions, log))
		m.GET("/transactions", listTransactionsHandler(svc.Transactions, log))
		m.GET("/transactions/:id", getTransactionHandler(svc.Transactions, log))
		m.GET("/balance", balanceHandler(svc.Ledger, log))
		m.POST("/withdrawals", createWithdrawalHandler(svc.Withdrawals, log))
		m.GET("/withdrawals", listWithdrawalsHandler(svc.Withdrawals, log))
		m.POST("/webhooks", createWebhookHandler(svc.Webhooks, log))
		m.GET("/webhooks", listWebhooksHandler(svc.Webhooks, log))
		m.POST("/webhooks/:id/test", testWebhookHandler(svc.Webhooks, log))
		m.DELETE("/webhooks/:id", deleteWebhookHandler(svc.Webhooks, log))
	}

	a := v1.Group("/admin", AdminAuth(jwtSecret, log))
	{
		a.GET("/merchants/:id", getMerchantHandler(svc.Merchants, log))
		a.POST("/merchants/:id/approve", approveMerchantHandler(svc.Merchants, log))
		a.POST("/merchants/:id/reject", rejectMerchantHandler(svc.Merchants, log))
		a.PUT("/merchants/:id/fee", updateFeeHandler(svc.Merchants, log))
		a.PUT("/merchants/:id/documents", reviewDocumentsHandler(svc.Merchants, log))
		a.POST("/merchants/:id/api-keys", generateAPIKeyHandler(svc.APIKeys, log))
		a.GET("/merchants/:id/api-keys", listAPIKeysHandler(svc.APIKeys, log))
		a.DELETE("/api-keys/:id", revokeAPIKeyHandler(svc.APIKeys, log))
		a.POST("/transactions/:id/chargeback", chargebackHandler(svc.Transactions, log))
		a.GET("/chargebacks", listChargebacksHandler(svc.Transactions, log))
		a.GET("/withdrawals/pending", pendingWithdrawalsHandler(svc.Withdrawals, log))
		a.POST("/withdrawals/:id/approve", approveWithdrawalHandler(svc.Withdrawals, log))
		a.POST("/withdrawals/:id/reject", rejectWithdrawalHandler(svc.Withdrawals, log))
	}
}

// gatewayWebhookHandler always answers 200 so the provider does not retry what
// was already recorded; per item outcomes are in the body.
func gatewayWebhookHandler(ingest *service.IngestService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			log.Warnw("read gateway webhook", "error", err)
			c.JSON(http.StatusOK, gin.H{"received": 0, "error": "unreadable body"})
			return
		}
		results, err := ingest.Handle(c, body)
		if err != nil {
			c.JSON(http.StatusOK, gin.H{"received": 0, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"received": len(results), "results": results})
	}
}

func registerMerchantHandler(svc *service.MerchantService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req service.RegisterMerchantInput
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		m, err := svc.Register(c, req)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, m)
	}
}

type createTransactionReq struct {
	Amount      string       `json:"amount" binding:"required"`
	Description string       `json:"description"`
	Reference   string       `json:"reference"`
	Payer       *model.Payer `json:"payer"`
}

func createTransactionHandler(svc *service.TransactionService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createTransactionReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			badRequest(c, "invalid amount")
			return
		}
		tx, err := svc.Create(c, service.CreateTransactionInput{
			MerchantID:  merchantID(c),
			Amount:      amt,
			Description: req.Description,
			Reference:   req.Reference,
			Payer:       req.Payer,
		})
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, tx)
	}
}

func listTransactionsHandler(svc *service.TransactionService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset := page(c)
		txs, err := svc.ListByMerchant(c, merchantID(c), limit, offset)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, txs)
	}
}

func getTransactionHandler(svc *service.TransactionService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tx, err := svc.GetForMerchant(c, merchantID(c), c.Param("id"))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, tx)
	}
}

func balanceHandler(ledger *service.Ledger, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		bal, err := ledger.Balance(c, merchantID(c))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"merchant_id": merchantID(c), "balance": bal.StringFixed(2)})
	}
}

type createWithdrawalReq struct {
	Amount string `json:"amount" binding:"required"`
	PixKey string `json:"pix_key" binding:"required"`
	Notes  string `json:"notes"`
}

func createWithdrawalHandler(svc *service.WithdrawalService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createWithdrawalReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			badRequest(c, "invalid amount")
			return
		}
		w, err := svc.Create(c, service.CreateWithdrawalInput{
			MerchantID: merchantID(c), Amount: amt, PixKey: req.PixKey, Notes: req.Notes,
		})
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, w)
	}
}

func listWithdrawalsHandler(svc *service.WithdrawalService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset := page(c)
		ws, err := svc.ListByMerchant(c, merchantID(c), limit, offset)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, ws)
	}
}

func createWebhookHandler(svc *service.WebhookService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req service.CreateSubscriptionInput
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		sub, secret, err := svc.Create(c, merchantID(c), req)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"subscription": sub, "secret_token": secret})
	}
}

func listWebhooksHandler(svc *service.WebhookService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		subs, err := svc.List(c, merchantID(c))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, subs)
	}
}

func testWebhookHandler(svc *service.WebhookService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := svc.Test(c, merchantID(c), c.Param("id"))
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"delivered": true})
		case errors.Is(err, service.ErrSubscriptionNotFound), errors.Is(err, service.ErrSubscriptionNotActive):
			writeError(c, log, err)
		default:
			c.JSON(http.StatusOK, gin.H{"delivered": false, "error": err.Error()})
		}
	}
}

func deleteWebhookHandler(svc *service.WebhookService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Delete(c, merchantID(c), c.Param("id")); err != nil {
			writeError(c, log, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func getMerchantHandler(svc *service.MerchantService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := svc.Get(c, c.Param("id"))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, m)
	}
}

func approveMerchantHandler(svc *service.MerchantService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := svc.Approve(c, c.Param("id"))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, m)
	}
}

type reasonReq struct {
	Reason string `json:"reason"`
}

func rejectMerchantHandler(svc *service.MerchantService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reasonReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		m, err := svc.Reject(c, c.Param("id"), req.Reason)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, m)
	}
}

type updateFeeReq struct {
	FeeType       fee.Type `json:"fee_type" binding:"required"`
	FeeAmount     *int64   `json:"fee_amount"`
	FeePercentage *string  `json:"fee_percentage"`
}

func updateFeeHandler(svc *service.MerchantService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateFeeReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		var rate *decimal.Decimal
		if req.FeePercentage != nil {
			d, err := decimal.NewFromString(*req.FeePercentage)
			if err != nil {
				badRequest(c, "invalid fee_percentage")
				return
			}
			rate = &d
		}
		cfg, err := fee.Parse(req.FeeType, req.FeeAmount, rate)
		if err != nil {
			writeError(c, log, err)
			return
		}
		m, err := svc.UpdateFee(c, c.Param("id"), cfg)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, m)
	}
}

type documentsReq struct {
	Status string `json:"status" binding:"required"`
}

func reviewDocumentsHandler(svc *service.MerchantService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req documentsReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		m, err := svc.ReviewDocuments(c, c.Param("id"), req.Status)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, m)
	}
}

type generateKeyReq struct {
	KeyName   string     `json:"key_name" binding:"required"`
	TestMode  bool       `json:"test_mode"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func generateAPIKeyHandler(svc *service.APIKeyService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req generateKeyReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		k, secret, err := svc.Generate(c, service.GenerateAPIKeyInput{
			MerchantID: c.Param("id"), KeyName: req.KeyName, TestMode: req.TestMode, ExpiresAt: req.ExpiresAt,
		})
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"api_key": k, "secret_key": secret})
	}
}

func listAPIKeysHandler(svc *service.APIKeyService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		keys, err := svc.List(c, c.Param("id"))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, keys)
	}
}

func revokeAPIKeyHandler(svc *service.APIKeyService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Revoke(c, c.Param("id")); err != nil {
			writeError(c, log, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func chargebackHandler(svc *service.TransactionService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reasonReq
		if err := bindOptional(c, &req); err != nil {
			badRequest(c, err.Error())
			return
		}
		tx, err := svc.Chargeback(c, c.Param("id"), req.Reason)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, tx)
	}
}

func listChargebacksHandler(svc *service.TransactionService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		from, err := optionalTime(c, "from")
		if err != nil {
			badRequest(c, "invalid from")
			return
		}
		to, err := optionalTime(c, "to")
		if err != nil {
			badRequest(c, "invalid to")
			return
		}
		txs, err := svc.ListChargebacks(c, from, to)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, txs)
	}
}

func pendingWithdrawalsHandler(svc *service.WithdrawalService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := svc.ListPending(c)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, ws)
	}
}

func approveWithdrawalHandler(svc *service.WithdrawalService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		w, err := svc.Approve(c, c.Param("id"))
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, w)
	}
}

func rejectWithdrawalHandler(svc *service.WithdrawalService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req reasonReq
		if err := bindOptional(c, &req); err != nil {
			badRequest(c, err.Error())
			return
		}
		w, err := svc.Reject(c, c.Param("id"), req.Reason)
		if err != nil {
			writeError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, w)
	}
}

// bindOptional accepts an empty body.
func bindOptional(c *gin.Context, v interface{}) error {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func page(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func optionalTime(c *gin.Context, key string) (*time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
