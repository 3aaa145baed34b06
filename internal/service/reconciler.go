package service

import (
	"context"
	"errors"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/richardliu001/pix-acquirer/internal/gateway"
	"github.com/richardliu001/pix-acquirer/internal/model"
	"github.com/richardliu001/pix-acquirer/internal/repo"
	"go.uber.org/zap"
)

const (
	watermarkKey = "reconciler:watermark"
	lockKey      = "reconciler:lock"
)

type ReconcilerConfig struct {
	Interval    time.Duration
	ExpiryGrace time.Duration
	BatchSize   int
}

// TickReport summarizes one reconciliation pass.
type TickReport struct {
	Pending   int
	Scanned   int
	Completed int
	Unmatched int
	Expired   int
	Errors    int
}

// Reconciler polls the gateway for settlements the webhook path may have missed
// and closes charges that outlived their expiry.
type Reconciler struct {
	repo     repo.RepositoryInterface
	gw       gateway.Client
	txs      *TransactionService
	resolver *resolver
	cfg      ReconcilerConfig
	log      *zap.SugaredLogger
	now      func() time.Time
	newToken func() (string, error)
}

func NewReconciler(r repo.RepositoryInterface, gw gateway.Client, txs *TransactionService, cfg ReconcilerConfig, logger *zap.SugaredLogger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	rec := &Reconciler{
		repo: r, gw: gw, txs: txs, cfg: cfg, log: logger,
		now:      time.Now,
		newToken: func() (string, error) { return gonanoid.New() },
	}
	rec.resolver = &resolver{repo: r, gw: gw, log: logger, now: func() time.Time { return rec.now() }}
	return rec
}

// TickExclusive runs Tick while holding the cross-replica lock for ttl. The tick
// is cut off before the lock can expire under it. It reports false when the lock
// was held elsewhere or could not be taken.
func (r *Reconciler) TickExclusive(ctx context.Context, ttl time.Duration) (TickReport, bool) {
	if ttl <= 0 {
		ttl = r.cfg.Interval
	}
	token, err := r.newToken()
	if err != nil {
		r.log.Errorw("reconcile lock token", "error", err)
		return TickReport{}, false
	}
	ok, err := r.repo.AcquireLock(ctx, lockKey, token, ttl)
	if err != nil {
		r.log.Warnw("reconcile lock", "error", err)
		return TickReport{}, false
	}
	if !ok {
		r.log.Infow("reconcile tick skipped, lock held elsewhere")
		return TickReport{}, false
	}
	defer func() {
		if err := r.repo.ReleaseLock(context.WithoutCancel(ctx), lockKey, token); err != nil {
			r.log.Warnw("release reconcile lock", "error", err)
		}
	}()

	tickCtx, cancel := context.WithTimeout(ctx, ttl-ttl/10)
	defer cancel()
	rep := r.Tick(tickCtx)
	if tickCtx.Err() != nil && ctx.Err() == nil {
		r.log.Warnw("reconcile tick cut off at lock deadline", "ttl", ttl)
	}
	return rep, true
}

// Tick runs one pass. Item level failures are logged and counted, never returned.
func (r *Reconciler) Tick(ctx context.Context) TickReport {
	var rep TickReport
	now := r.now()

	pending, err := r.repo.ListPendingTransactions(ctx, r.repo.DB(ctx), now)
	if err != nil {
		r.log.Errorw("list pending transactions", "error", err)
		rep.Errors++
	}
	rep.Pending = len(pending)
	if rep.Pending > 0 {
		r.scanWindow(ctx, now, &rep)
	}
	r.expireStale(ctx, now, &rep)

	r.log.Infow("reconciliation tick",
		"pending", rep.Pending, "scanned", rep.Scanned, "completed", rep.Completed,
		"unmatched", rep.Unmatched, "expired", rep.Expired, "errors", rep.Errors)
	return rep
}

func (r *Reconciler) scanWindow(ctx context.Context, now time.Time, rep *TickReport) {
	start, err := r.repo.GetWatermark(ctx, watermarkKey)
	if err != nil {
		r.log.Warnw("read reconciliation watermark", "error", err)
	}
	if start.IsZero() || start.After(now) {
		start = now.Add(-r.cfg.Interval)
	}

	for page := 0; ; page++ {
		if ctx.Err() != nil {
			// unfinished window: the watermark stays put
			rep.Errors++
			return
		}
		res, err := r.gw.ListReceivedPayments(ctx, start, now, page)
		if err != nil {
			// keep the watermark so the window is scanned again next tick
			r.log.Errorw("list received payments", "start", start, "end", now, "page", page, "error", err)
			rep.Errors++
			return
		}
		for _, p := range res.Payments {
			rep.Scanned++
			r.reconcilePayment(ctx, p, rep)
		}
		if len(res.Payments) == 0 || !res.HasMore() {
			break
		}
	}

	if err := r.repo.SetWatermark(ctx, watermarkKey, now); err != nil {
		r.log.Warnw("write reconciliation watermark", "error", err)
	}
}

func (r *Reconciler) reconcilePayment(ctx context.Context, p gateway.Payment, rep *TickReport) {
	h := &settlementHint{
		CorrelationID: p.CorrelationID,
		GatewayTxID:   p.GatewayTxID,
		EndToEndID:    p.EndToEndID,
		Amount:        p.Amount,
	}
	t, err := r.resolver.resolve(ctx, h, false)
	if err != nil {
		r.log.Errorw("resolve received payment", "end_to_end_id", p.EndToEndID, "error", err)
		rep.Errors++
		return
	}
	if t == nil {
		r.log.Warnw("received payment matches no transaction",
			"end_to_end_id", p.EndToEndID, "txid", p.GatewayTxID, "amount", p.Amount.StringFixed(2))
		rep.Unmatched++
		return
	}
	if t.Status != model.TxPending {
		return
	}
	payer := toModelPayer(p.Payer)
	applied, _, err := r.txs.Complete(ctx, t.ID, Settlement{
		EndToEndID: p.EndToEndID, PaidAt: p.Timestamp, Amount: p.Amount, Payer: payer, Source: "poller",
	})
	if err != nil {
		r.log.Warnw("complete from poller", "transaction_id", t.ID, "error", err)
		rep.Errors++
		return
	}
	if applied {
		rep.Completed++
	}
}

// expireStale asks the gateway about pending charges past their expiry plus grace.
func (r *Reconciler) expireStale(ctx context.Context, now time.Time, rep *TickReport) {
	stale, err := r.repo.ListExpiredPending(ctx, r.repo.DB(ctx), now.Add(-r.cfg.ExpiryGrace), r.cfg.BatchSize)
	if err != nil {
		r.log.Errorw("list expired transactions", "error", err)
		rep.Errors++
		return
	}
	for _, t := range stale {
		if ctx.Err() != nil {
			return
		}
		id := firstNonEmpty(t.GatewayTxID, t.CorrelationID)
		st, err := r.gw.GetChargeStatus(ctx, id)
		if err != nil {
			// a timeout says nothing about whether the charge was paid
			r.log.Warnw("charge status unavailable", "transaction_id", t.ID, "txid", id, "timeout", gateway.IsTimeout(err), "error", err)
			rep.Errors++
			continue
		}
		switch st.Status {
		case gateway.StatusCompleted:
			paidAt := time.Time{}
			if st.PaidAt != nil {
				paidAt = *st.PaidAt
			}
			applied, _, err := r.txs.Complete(ctx, t.ID, Settlement{
				EndToEndID: st.EndToEndID, PaidAt: paidAt, Amount: st.PaidAmount, Payer: toModelPayer(st.Payer), Source: "expiry",
			})
			if err != nil {
				r.log.Warnw("complete expired charge", "transaction_id", t.ID, "error", err)
				rep.Errors++
			} else if applied {
				rep.Completed++
			}
		default:
			reason := "charge expired"
			if st.Status == gateway.StatusCancelled {
				reason = "charge cancelled at gateway"
			}
			if _, _, err := r.txs.Fail(ctx, t.ID, reason); err != nil && !errors.Is(err, ErrInvalidTransition) {
				r.log.Warnw("fail expired charge", "transaction_id", t.ID, "error", err)
				rep.Errors++
				continue
			}
			rep.Expired++
		}
	}
}

func toModelPayer(p gateway.Payer) *model.Payer {
	if p == (gateway.Payer{}) {
		return nil
	}
	return &model.Payer{Name: p.Name, TaxID: p.TaxID, Bank: p.Bank, Account: p.Account}
}
