package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/richardliu001/pix-acquirer/internal/fee"
	"github.com/richardliu001/pix-acquirer/internal/service"
	"go.uber.org/zap"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// errorCodes gives each mapped error a fixed client message. Only input
// validation errors echo their detail, which is built from the request itself.
var errorCodes = []struct {
	err     error
	status  int
	code    string
	message string
	detail  bool
}{
	{service.ErrInvalidInput, http.StatusBadRequest, "INVALID_INPUT", "invalid input", true},
	{fee.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT", "amount must be positive", true},
	{fee.ErrInvalidConfig, http.StatusBadRequest, "INVALID_FEE_CONFIG", "invalid fee configuration", true},
	{service.ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials", false},
	{service.ErrMerchantNotApproved, http.StatusForbidden, "MERCHANT_NOT_APPROVED", "merchant is not approved", false},
	{service.ErrDocumentsNotVerified, http.StatusForbidden, "DOCUMENTS_NOT_VERIFIED", "merchant documents are not verified", false},
	{service.ErrMerchantNotFound, http.StatusNotFound, "MERCHANT_NOT_FOUND", "merchant not found", false},
	{service.ErrTransactionNotFound, http.StatusNotFound, "TRANSACTION_NOT_FOUND", "transaction not found", false},
	{service.ErrWithdrawalNotFound, http.StatusNotFound, "WITHDRAWAL_NOT_FOUND", "withdrawal not found", false},
	{service.ErrSubscriptionNotFound, http.StatusNotFound, "WEBHOOK_NOT_FOUND", "webhook subscription not found", false},
	{service.ErrAPIKeyNotFound, http.StatusNotFound, "API_KEY_NOT_FOUND", "api key not found", false},
	{service.ErrMerchantExists, http.StatusConflict, "MERCHANT_EXISTS", "merchant already registered", false},
	{service.ErrInvalidTransition, http.StatusConflict, "INVALID_STATUS", "operation not allowed in the current status", false},
	{service.ErrSubscriptionNotActive, http.StatusConflict, "WEBHOOK_INACTIVE", "webhook subscription is inactive", false},
	{service.ErrInsufficientBalance, http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE", "insufficient balance", false},
	{fee.ErrFeeExceedsAmount, http.StatusUnprocessableEntity, "FEE_EXCEEDS_AMOUNT", "fee exceeds transaction amount", false},
	{service.ErrGatewayUnavailable, http.StatusBadGateway, "GATEWAY_UNAVAILABLE", "payment gateway unavailable", false},
}

// writeError maps service errors to a stable body. The wrapped cause stays in
// the log; anything unmapped is a 500.
func writeError(c *gin.Context, log *zap.SugaredLogger, err error) {
	for _, e := range errorCodes {
		if !errors.Is(err, e.err) {
			continue
		}
		msg := e.message
		if e.detail {
			msg = err.Error()
		}
		if e.status >= http.StatusInternalServerError {
			log.Errorw("request failed", "method", c.Request.Method, "path", c.FullPath(), "code", e.code, "error", err)
		} else {
			log.Infow("request rejected", "method", c.Request.Method, "path", c.FullPath(), "code", e.code, "error", err)
		}
		c.JSON(e.status, errorBody{Error: msg, Code: e.code})
		return
	}
	log.Errorw("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error", Code: "INTERNAL_ERROR"})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorBody{Error: msg, Code: "INVALID_INPUT"})
}
