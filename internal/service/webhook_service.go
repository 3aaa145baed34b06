package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/richardliu001/pix-acquirer/internal/model"
	"github.com/richardliu001/pix-acquirer/internal/repo"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

var defaultEvents = []string{model.EventPaymentSuccess, model.EventPaymentFailed}

// WebhookService manages merchant webhook subscriptions.
type WebhookService struct {
	repo       repo.RepositoryInterface
	dispatcher *Dispatcher
	validate   *validator.Validate
	log        *zap.SugaredLogger
}

func NewWebhookService(r repo.RepositoryInterface, d *Dispatcher, logger *zap.SugaredLogger) *WebhookService {
	return &WebhookService{repo: r, dispatcher: d, validate: validator.New(), log: logger}
}

type CreateSubscriptionInput struct {
	URL         string   `json:"url" validate:"required,url,max=1024"`
	Description string   `json:"description" validate:"max=255"`
	Events      []string `json:"events" validate:"dive,oneof=payment.created payment.success payment.failed payment.chargeback"`
}

// Create stores a subscription and returns its signing secret, which is not shown again.
func (s *WebhookService) Create(ctx context.Context, merchantID string, in CreateSubscriptionInput) (*model.WebhookSubscription, string, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	events := lo.Uniq(in.Events)
	if len(events) == 0 {
		events = defaultEvents
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, "", err
	}
	secret := hex.EncodeToString(buf)

	sub := &model.WebhookSubscription{
		ID:          uuid.NewString(),
		MerchantID:  merchantID,
		URL:         in.URL,
		Description: in.Description,
		Events:      events,
		SecretToken: secret,
		IsActive:    true,
	}
	if err := s.repo.CreateSubscription(ctx, s.repo.DB(ctx), sub); err != nil {
		return nil, "", err
	}
	s.log.Infow("webhook subscription created", "merchant_id", merchantID, "subscription_id", sub.ID, "events", events)
	return sub, secret, nil
}

func (s *WebhookService) List(ctx context.Context, merchantID string) ([]model.WebhookSubscription, error) {
	return s.repo.ListSubscriptions(ctx, s.repo.DB(ctx), merchantID)
}

func (s *WebhookService) Delete(ctx context.Context, merchantID, id string) error {
	err := s.repo.DeleteSubscription(ctx, s.repo.DB(ctx), merchantID, id)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
	}
	return err
}

// Test sends a test.webhook event to the subscription and reports the delivery error, if any.
func (s *WebhookService) Test(ctx context.Context, merchantID, id string) error {
	sub, err := s.repo.GetSubscription(ctx, s.repo.DB(ctx), id)
	if err != nil || sub.MerchantID != merchantID {
		if err == nil || errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrSubscriptionNotFound, id)
		}
		return err
	}
	if !sub.IsActive {
		return fmt.Errorf("%w: %s", ErrSubscriptionNotActive, id)
	}
	return s.dispatcher.Deliver(ctx, sub, model.EventTestWebhook, map[string]interface{}{
		"subscription_id": sub.ID,
		"message":         "webhook test delivery",
	})
}
