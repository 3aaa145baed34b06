package service

import "errors"

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrMerchantNotFound      = errors.New("merchant not found")
	ErrMerchantExists        = errors.New("merchant already registered")
	ErrMerchantNotApproved   = errors.New("merchant not approved")
	ErrDocumentsNotVerified  = errors.New("merchant documents not verified")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInvalidTransition     = errors.New("invalid status transition")
	ErrTransactionNotFound   = errors.New("transaction not found")
	ErrWithdrawalNotFound    = errors.New("withdrawal not found")
	ErrSubscriptionNotFound  = errors.New("webhook subscription not found")
	ErrAPIKeyNotFound        = errors.New("api key not found")
	ErrUnauthorized          = errors.New("invalid credentials")
	ErrGatewayUnavailable    = errors.New("payment gateway unavailable")
	ErrSubscriptionNotActive = errors.New("webhook subscription inactive")
)
