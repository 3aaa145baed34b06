// Package gateway talks to the upstream PIX provider.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when the provider has no record of the requested id.
var ErrNotFound = errors.New("gateway: not found")

// Status is the normalized state of a charge.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Client is the set of provider operations the acquirer depends on.
type Client interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	GetChargeStatus(ctx context.Context, gatewayTxID string) (*ChargeStatus, error)
	RefundCharge(ctx context.Context, correlationID string, amount decimal.Decimal, reason string) (*Refund, error)
	ListReceivedPayments(ctx context.Context, start, end time.Time, page int) (*PaymentPage, error)
	GetPaymentByEndToEndID(ctx context.Context, e2eID string) (*Payment, error)
}

type ChargeRequest struct {
	Amount        decimal.Decimal
	CorrelationID string
	Description   string
	Expiry        time.Duration
}

type Charge struct {
	GatewayTxID string
	QRCode      string
	QRCodeImage string
	PaymentLink string
	ExpiresAt   time.Time
}

type ChargeStatus struct {
	Status     Status
	PaidAmount decimal.Decimal
	PaidAt     *time.Time
	EndToEndID string
	Payer      Payer
}

type Refund struct {
	RefundID string
	Status   string
}

type Payer struct {
	Name    string
	TaxID   string
	Bank    string
	Account string
}

// Payment is a settled PIX credit as reported by the provider.
type Payment struct {
	GatewayTxID   string
	EndToEndID    string
	CorrelationID string
	Amount        decimal.Decimal
	Timestamp     time.Time
	Payer         Payer
}

type PaymentPage struct {
	Payments   []Payment
	Page       int
	TotalPages int
}

// HasMore reports whether a later page exists.
func (p *PaymentPage) HasMore() bool { return p.Page+1 < p.TotalPages }

// APIError carries a non-2xx provider response. Body is for logs only.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: status %d", e.StatusCode)
}
