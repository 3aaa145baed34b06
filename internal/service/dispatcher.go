package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/richardliu001/pix-acquirer/internal/model"
	"github.com/richardliu001/pix-acquirer/internal/repo"
	"go.uber.org/zap"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Webhook-Signature"

// Notifier fans a merchant event out to its subscriptions.
type Notifier interface {
	Notify(ctx context.Context, merchantID, event string, data interface{})
}

type DispatcherConfig struct {
	Timeout     time.Duration
	MaxFailures int
}

// Dispatcher delivers signed webhook envelopes. Deliveries are attempted once;
// the outcome only moves the subscription's failure counter.
type Dispatcher struct {
	repo repo.RepositoryInterface
	hc   *http.Client
	cfg  DispatcherConfig
	log  *zap.SugaredLogger
	now  func() time.Time
}

func NewDispatcher(r repo.RepositoryInterface, hc *http.Client, cfg DispatcherConfig, logger *zap.SugaredLogger) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if hc == nil {
		hc = &http.Client{}
	}
	return &Dispatcher{repo: r, hc: hc, cfg: cfg, log: logger, now: time.Now}
}

type envelope struct {
	Event     string      `json:"event"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

// Sign returns the hex HMAC-SHA256 of body keyed by secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Notify delivers event to every active subscription of the merchant that wants it.
// It never fails the caller.
func (d *Dispatcher) Notify(ctx context.Context, merchantID, event string, data interface{}) {
	ctx = context.WithoutCancel(ctx)
	subs, err := d.repo.ListActiveSubscriptions(ctx, d.repo.DB(ctx), merchantID)
	if err != nil {
		d.log.Errorw("list webhook subscriptions", "merchant_id", merchantID, "event", event, "error", err)
		return
	}
	for i := range subs {
		if !subs[i].Subscribes(event) {
			continue
		}
		if err := d.Deliver(ctx, &subs[i], event, data); err != nil {
			d.log.Warnw("webhook delivery failed", "merchant_id", merchantID, "subscription_id", subs[i].ID, "event", event, "error", err)
		}
	}
}

// Deliver posts one envelope and records the outcome on the subscription.
func (d *Dispatcher) Deliver(ctx context.Context, sub *model.WebhookSubscription, event string, data interface{}) error {
	body, err := json.Marshal(envelope{Event: event, Data: data, Timestamp: d.now().UTC().Format(time.RFC3339)})
	if err != nil {
		return err
	}
	sendErr := d.post(ctx, sub, event, body)
	db := d.repo.DB(ctx)
	if sendErr != nil {
		if err := d.repo.RecordDeliveryFailure(ctx, db, sub.ID, d.cfg.MaxFailures); err != nil {
			d.log.Errorw("record webhook failure", "subscription_id", sub.ID, "error", err)
		}
		return sendErr
	}
	if err := d.repo.RecordDeliverySuccess(ctx, db, sub.ID); err != nil {
		d.log.Errorw("record webhook success", "subscription_id", sub.ID, "error", err)
	}
	d.log.Infow("webhook delivered", "subscription_id", sub.ID, "event", event)
	return nil
}

func (d *Dispatcher) post(ctx context.Context, sub *model.WebhookSubscription, event string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(body, sub.SecretToken))
	req.Header.Set("X-Webhook-Event", event)

	res, err := d.hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 1<<16))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("subscriber answered %d", res.StatusCode)
	}
	return nil
}
