package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/richardliu001/pix-acquirer/internal/model"
	"github.com/richardliu001/pix-acquirer/internal/repo"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const keyAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// APIKeyService issues and verifies merchant API credentials. The secret is
// returned once and only its bcrypt hash is kept.
type APIKeyService struct {
	repo repo.RepositoryInterface
	log  *zap.SugaredLogger
	cost int
	now  func() time.Time
}

func NewAPIKeyService(r repo.RepositoryInterface, logger *zap.SugaredLogger) *APIKeyService {
	return &APIKeyService{repo: r, log: logger, cost: bcrypt.DefaultCost, now: time.Now}
}

type GenerateAPIKeyInput struct {
	MerchantID string
	KeyName    string
	TestMode   bool
	ExpiresAt  *time.Time
}

// Generate returns the stored key and its plaintext secret.
func (s *APIKeyService) Generate(ctx context.Context, in GenerateAPIKeyInput) (*model.APIKey, string, error) {
	if in.KeyName == "" {
		return nil, "", fmt.Errorf("%w: key_name is required", ErrInvalidInput)
	}
	m, err := s.repo.GetMerchant(ctx, s.repo.DB(ctx), in.MerchantID)
	if err != nil {
		return nil, "", merchantErr(err, in.MerchantID)
	}
	if !m.IsApproved() {
		return nil, "", fmt.Errorf("%w: %s", ErrMerchantNotApproved, m.ID)
	}
	if !m.DocumentsVerified() {
		return nil, "", fmt.Errorf("%w: %s", ErrDocumentsNotVerified, m.ID)
	}

	pub, err := gonanoid.Generate(keyAlphabet, 40)
	if err != nil {
		return nil, "", err
	}
	secret, err := gonanoid.Generate(keyAlphabet, 48)
	if err != nil {
		return nil, "", err
	}
	secret = "sk_" + secret
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.cost)
	if err != nil {
		return nil, "", err
	}

	k := &model.APIKey{
		ID:         uuid.NewString(),
		MerchantID: m.ID,
		KeyName:    in.KeyName,
		APIKey:     "pk_" + pub,
		SecretHash: string(hash),
		TestMode:   in.TestMode,
		IsActive:   true,
		ExpiresAt:  in.ExpiresAt,
	}
	if err := s.repo.CreateAPIKey(ctx, s.repo.DB(ctx), k); err != nil {
		return nil, "", err
	}
	s.log.Infow("api key created", "merchant_id", m.ID, "key_id", k.ID, "key_name", k.KeyName)
	return k, secret, nil
}

func (s *APIKeyService) List(ctx context.Context, merchantID string) ([]model.APIKey, error) {
	return s.repo.ListAPIKeys(ctx, s.repo.DB(ctx), merchantID)
}

func (s *APIKeyService) Revoke(ctx context.Context, id string) error {
	if err := s.repo.RevokeAPIKey(ctx, s.repo.DB(ctx), id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrAPIKeyNotFound, id)
		}
		return err
	}
	s.log.Infow("api key revoked", "key_id", id)
	return nil
}

// Authenticate checks a key/secret pair and returns the key on success.
func (s *APIKeyService) Authenticate(ctx context.Context, apiKey, secret string) (*model.APIKey, error) {
	if apiKey == "" || secret == "" {
		return nil, ErrUnauthorized
	}
	k, err := s.repo.FindAPIKey(ctx, s.repo.DB(ctx), apiKey)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if !k.IsActive || (k.ExpiresAt != nil && s.now().After(*k.ExpiresAt)) {
		return nil, ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword([]byte(k.SecretHash), []byte(secret)); err != nil {
		return nil, ErrUnauthorized
	}
	if err := s.repo.TouchAPIKey(ctx, s.repo.DB(ctx), k.ID); err != nil {
		s.log.Warnw("api key touch failed", "key_id", k.ID, "error", err)
	}
	return k, nil
}
