package service

import (
	"context"
	"errors"
	"time"

	"github.com/richardliu001/pix-acquirer/internal/gateway"
	"github.com/richardliu001/pix-acquirer/internal/model"
	"github.com/richardliu001/pix-acquirer/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// settlementHint is whatever a settlement report tells us about the paid charge.
type settlementHint struct {
	CorrelationID string
	TransactionID string
	GatewayTxID   string
	EndToEndID    string
	Amount        decimal.Decimal
}

// resolver maps a settlement report to a local transaction. Lookup order:
// correlation id, internal id, gateway tx id, end-to-end id (local, then at the
// gateway), and finally the oldest unclaimed, unexpired pending transaction of
// the same amount.
type resolver struct {
	repo repo.RepositoryInterface
	gw   gateway.Client
	log  *zap.SugaredLogger
	now  func() time.Time
}

func (r *resolver) resolve(ctx context.Context, h *settlementHint, askGateway bool) (*model.Transaction, error) {
	db := r.repo.DB(ctx)

	if t, err := r.first(ctx, h); t != nil || err != nil {
		return t, err
	}

	if h.EndToEndID != "" {
		t, err := r.repo.FindTransactionByEndToEndID(ctx, db, h.EndToEndID)
		if t != nil || !errors.Is(err, repo.ErrNotFound) {
			return t, err
		}
		if askGateway {
			p, err := r.gw.GetPaymentByEndToEndID(ctx, h.EndToEndID)
			switch {
			case err == nil:
				if h.Amount.IsZero() {
					h.Amount = p.Amount
				}
				byGateway := &settlementHint{CorrelationID: p.CorrelationID, GatewayTxID: p.GatewayTxID}
				if t, err := r.first(ctx, byGateway); t != nil || err != nil {
					return t, err
				}
			case errors.Is(err, gateway.ErrNotFound):
			default:
				r.log.Warnw("gateway end-to-end lookup failed", "end_to_end_id", h.EndToEndID, "error", err)
			}
		}
	}

	if h.Amount.IsPositive() {
		t, err := r.repo.FindPendingByAmount(ctx, db, h.Amount, r.now())
		if err == nil {
			r.log.Infow("settlement matched by amount", "transaction_id", t.ID, "amount", h.Amount.StringFixed(2), "end_to_end_id", h.EndToEndID)
			return t, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// first tries the identifier lookups. Not found is reported as (nil, nil).
func (r *resolver) first(ctx context.Context, h *settlementHint) (*model.Transaction, error) {
	db := r.repo.DB(ctx)
	lookups := []struct {
		key  string
		find func() (*model.Transaction, error)
	}{
		{h.CorrelationID, func() (*model.Transaction, error) { return r.repo.FindTransactionByCorrelationID(ctx, db, h.CorrelationID) }},
		{h.TransactionID, func() (*model.Transaction, error) { return r.repo.GetTransaction(ctx, db, h.TransactionID) }},
		{h.GatewayTxID, func() (*model.Transaction, error) { return r.repo.FindTransactionByGatewayTxID(ctx, db, h.GatewayTxID) }},
	}
	for _, l := range lookups {
		if l.key == "" {
			continue
		}
		t, err := l.find()
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}
