package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

const balanceTTL = 5 * time.Minute

func balanceKey(merchantID string) string { return fmt.Sprintf("balance:%s", merchantID) }

// CacheBalance writes Redis.
func (r *Repository) CacheBalance(ctx context.Context, merchantID string, bal decimal.Decimal) error {
	if r.rdb == nil {
		return nil
	}
	return r.rdb.Set(ctx, balanceKey(merchantID), bal.String(), balanceTTL).Err()
}

// GetCachedBalance reads Redis.
func (r *Repository) GetCachedBalance(ctx context.Context, merchantID string) (decimal.Decimal, error) {
	if r.rdb == nil {
		return decimal.Zero, redis.Nil
	}
	str, err := r.rdb.Get(ctx, balanceKey(merchantID)).Result()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(str)
}

// InvalidateBalance drops the cached balance after a ledger movement.
func (r *Repository) InvalidateBalance(ctx context.Context, merchantID string) error {
	if r.rdb == nil {
		return nil
	}
	return r.rdb.Del(ctx, balanceKey(merchantID)).Err()
}

// GetWatermark returns the stored instant, or the zero time if none was stored.
func (r *Repository) GetWatermark(ctx context.Context, key string) (time.Time, error) {
	if r.rdb == nil {
		return time.Time{}, nil
	}
	str, err := r.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, str)
}

func (r *Repository) SetWatermark(ctx context.Context, key string, t time.Time) error {
	if r.rdb == nil {
		return nil
	}
	return r.rdb.Set(ctx, key, t.UTC().Format(time.RFC3339Nano), 0).Err()
}

// ReleaseLockScript deletes the key only while it still holds the caller's token.
var ReleaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// AcquireLock takes a best-effort distributed lock owned by token. Without Redis
// every caller wins.
func (r *Repository) AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if r.rdb == nil {
		return true, nil
	}
	return r.rdb.SetNX(ctx, key, token, ttl).Result()
}

// ReleaseLock drops the lock if token still owns it. A lock that expired and was
// taken by another owner is left alone.
func (r *Repository) ReleaseLock(ctx context.Context, key, token string) error {
	if r.rdb == nil {
		return nil
	}
	n, err := ReleaseLockScript.Run(ctx, r.rdb, []string{key}, token).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		r.log.Warnw("lock no longer owned at release", "key", key)
	}
	return nil
}
