package repo

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/richardliu001/pix-acquirer/internal/model"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrInsufficientFunds is returned when a conditional debit finds the balance too low.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// RepositoryInterface restricts Repo methods so services can be tested against it.
// Methods taking a *gorm.DB run on that handle: pass a transaction, or DB(ctx).
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB

	// merchants & ledger
	CreateMerchant(ctx context.Context, tx *gorm.DB, m *model.Merchant) error
	GetMerchant(ctx context.Context, tx *gorm.DB, id string) (*model.Merchant, error)
	UpdateMerchant(ctx context.Context, tx *gorm.DB, id string, updates map[string]interface{}) error
	AdjustBalance(ctx context.Context, tx *gorm.DB, merchantID string, delta decimal.Decimal) error
	ReserveBalance(ctx context.Context, tx *gorm.DB, merchantID string, amount decimal.Decimal) error
	CreateLedgerEntry(ctx context.Context, tx *gorm.DB, e *model.LedgerEntry) error
	ListLedgerEntries(ctx context.Context, tx *gorm.DB, merchantID string, limit int) ([]model.LedgerEntry, error)

	// transactions
	CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error
	GetTransaction(ctx context.Context, tx *gorm.DB, id string) (*model.Transaction, error)
	FindTransactionByCorrelationID(ctx context.Context, tx *gorm.DB, correlationID string) (*model.Transaction, error)
	FindTransactionByGatewayTxID(ctx context.Context, tx *gorm.DB, gatewayTxID string) (*model.Transaction, error)
	FindTransactionByEndToEndID(ctx context.Context, tx *gorm.DB, e2eID string) (*model.Transaction, error)
	FindTransactionByReference(ctx context.Context, tx *gorm.DB, merchantID, reference string) (*model.Transaction, error)
	ClaimRefund(ctx context.Context, tx *gorm.DB, id string, at time.Time) (bool, error)
	ReleaseRefundClaim(ctx context.Context, tx *gorm.DB, id string) error
	FindPendingByAmount(ctx context.Context, tx *gorm.DB, amount decimal.Decimal, now time.Time) (*model.Transaction, error)
	ListPendingTransactions(ctx context.Context, tx *gorm.DB, expiringAfter time.Time) ([]model.Transaction, error)
	ListExpiredPending(ctx context.Context, tx *gorm.DB, expiredBefore time.Time, limit int) ([]model.Transaction, error)
	ListTransactionsByMerchant(ctx context.Context, tx *gorm.DB, merchantID string, limit, offset int) ([]model.Transaction, error)
	ListTransactionsByStatus(ctx context.Context, tx *gorm.DB, status string, from, to *time.Time) ([]model.Transaction, error)
	TransitionTransaction(ctx context.Context, tx *gorm.DB, id, from, to string, fields map[string]interface{}) (bool, error)

	// withdrawals
	CreateWithdrawal(ctx context.Context, tx *gorm.DB, w *model.Withdrawal) error
	GetWithdrawal(ctx context.Context, tx *gorm.DB, id string) (*model.Withdrawal, error)
	ListWithdrawalsByMerchant(ctx context.Context, tx *gorm.DB, merchantID string, limit, offset int) ([]model.Withdrawal, error)
	ListWithdrawalsByStatus(ctx context.Context, tx *gorm.DB, status string) ([]model.Withdrawal, error)
	TransitionWithdrawal(ctx context.Context, tx *gorm.DB, id, from, to string, fields map[string]interface{}) (bool, error)

	// webhook subscriptions
	CreateSubscription(ctx context.Context, tx *gorm.DB, s *model.WebhookSubscription) error
	GetSubscription(ctx context.Context, tx *gorm.DB, id string) (*model.WebhookSubscription, error)
	ListSubscriptions(ctx context.Context, tx *gorm.DB, merchantID string) ([]model.WebhookSubscription, error)
	ListActiveSubscriptions(ctx context.Context, tx *gorm.DB, merchantID string) ([]model.WebhookSubscription, error)
	DeleteSubscription(ctx context.Context, tx *gorm.DB, merchantID, id string) error
	RecordDeliverySuccess(ctx context.Context, tx *gorm.DB, id string) error
	RecordDeliveryFailure(ctx context.Context, tx *gorm.DB, id string, maxFailures int) error

	// api keys
	CreateAPIKey(ctx context.Context, tx *gorm.DB, k *model.APIKey) error
	FindAPIKey(ctx context.Context, tx *gorm.DB, apiKey string) (*model.APIKey, error)
	ListAPIKeys(ctx context.Context, tx *gorm.DB, merchantID string) ([]model.APIKey, error)
	RevokeAPIKey(ctx context.Context, tx *gorm.DB, id string) error
	TouchAPIKey(ctx context.Context, tx *gorm.DB, id string) error

	// outbox
	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error

	// redis
	CacheBalance(ctx context.Context, merchantID string, bal decimal.Decimal) error
	GetCachedBalance(ctx context.Context, merchantID string) (decimal.Decimal, error)
	InvalidateBalance(ctx context.Context, merchantID string) error
	GetWatermark(ctx context.Context, key string) (time.Time, error)
	SetWatermark(ctx context.Context, key string, t time.Time) error
	AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// Repository implements RepositoryInterface.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

// NewRepository constructs repo. rdb may be nil, which disables caching and locking.
func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
