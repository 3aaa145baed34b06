package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/richardliu001/pix-acquirer/internal/model"
	"github.com/richardliu001/pix-acquirer/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Ledger is the only writer of merchant balances. Every movement is an atomic
// increment plus a journal row keyed by (kind, reference), inside the caller's
// DB transaction.
type Ledger struct {
	repo repo.RepositoryInterface
	log  *zap.SugaredLogger
}

func NewLedger(r repo.RepositoryInterface, logger *zap.SugaredLogger) *Ledger {
	return &Ledger{repo: r, log: logger}
}

// Adjust adds delta (possibly negative) to the merchant balance. No lower bound is enforced.
func (l *Ledger) Adjust(ctx context.Context, tx *gorm.DB, merchantID string, delta decimal.Decimal, kind, referenceID string) error {
	if err := l.repo.AdjustBalance(ctx, tx, merchantID, delta); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrMerchantNotFound, merchantID)
		}
		return err
	}
	return l.journal(ctx, tx, merchantID, delta, kind, referenceID)
}

// Reserve debits amount only if the balance covers it.
func (l *Ledger) Reserve(ctx context.Context, tx *gorm.DB, merchantID string, amount decimal.Decimal, referenceID string) error {
	if err := l.repo.ReserveBalance(ctx, tx, merchantID, amount); err != nil {
		switch {
		case errors.Is(err, repo.ErrInsufficientFunds):
			return fmt.Errorf("%w: merchant %s needs %s", ErrInsufficientBalance, merchantID, amount.StringFixed(2))
		case errors.Is(err, repo.ErrNotFound):
			return fmt.Errorf("%w: %s", ErrMerchantNotFound, merchantID)
		}
		return err
	}
	return l.journal(ctx, tx, merchantID, amount.Neg(), model.LedgerWithdrawalReserve, referenceID)
}

func (l *Ledger) journal(ctx context.Context, tx *gorm.DB, merchantID string, delta decimal.Decimal, kind, referenceID string) error {
	entry := &model.LedgerEntry{MerchantID: merchantID, Kind: kind, ReferenceID: referenceID, Amount: delta}
	if err := l.repo.CreateLedgerEntry(ctx, tx, entry); err != nil {
		return fmt.Errorf("ledger entry %s/%s: %w", kind, referenceID, err)
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"merchant_id": merchantID, "kind": kind, "reference_id": referenceID, "delta": delta,
	})
	evt := &model.OutboxEvent{
		Aggregate: model.AggregateMerchant, AggregateID: merchantID, EventType: "BalanceAdjusted", Payload: string(payload),
	}
	return l.repo.CreateOutboxEvent(ctx, tx, evt)
}

// Invalidate drops the cached balance. Call it after the DB transaction commits.
func (l *Ledger) Invalidate(ctx context.Context, merchantID string) {
	if err := l.repo.InvalidateBalance(ctx, merchantID); err != nil {
		l.log.Warnw("balance cache invalidation failed", "merchant_id", merchantID, "error", err)
	}
}

// Balance returns the merchant balance, served from Redis when cached.
func (l *Ledger) Balance(ctx context.Context, merchantID string) (decimal.Decimal, error) {
	if bal, err := l.repo.GetCachedBalance(ctx, merchantID); err == nil {
		return bal, nil
	}
	m, err := l.repo.GetMerchant(ctx, l.repo.DB(ctx), merchantID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return decimal.Zero, fmt.Errorf("%w: %s", ErrMerchantNotFound, merchantID)
		}
		return decimal.Zero, err
	}
	if err := l.repo.CacheBalance(ctx, merchantID, m.Balance); err != nil {
		l.log.Warnw("balance cache write failed", "merchant_id", merchantID, "error", err)
	}
	return m.Balance, nil
}

func outboxEvent(aggregate, id, eventType string, payload interface{}) *model.OutboxEvent {
	b, _ := json.Marshal(payload)
	return &model.OutboxEvent{Aggregate: aggregate, AggregateID: id, EventType: eventType, Payload: string(b)}
}
