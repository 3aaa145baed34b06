package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/richardliu001/pix-acquirer/internal/model"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	HeaderAPIKey    = "X-API-Key"
	HeaderAPISecret = "X-API-Secret"

	ctxMerchantID = "merchant_id"
	ctxAdmin      = "admin_subject"
)

// LoggingMiddleware logs one line per request.
func LoggingMiddleware(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Infow("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"merchant_id", c.GetString(ctxMerchantID),
			"ip", c.ClientIP())
	}
}

// RateLimitMiddleware keeps one token bucket per client IP.
func RateLimitMiddleware(rps, burst int) gin.HandlerFunc {
	var mu sync.Mutex
	buckets := make(map[string]*rate.Limiter)
	return func(c *gin.Context) {
		ip := c.ClientIP()
		mu.Lock()
		lim, ok := buckets[ip]
		if !ok {
			lim = rate.NewLimiter(rate.Limit(rps), burst)
			buckets[ip] = lim
		}
		mu.Unlock()
		if !lim.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded", Code: "RATE_LIMITED"})
			return
		}
		c.Next()
	}
}

// KeyAuthenticator verifies a merchant API key pair.
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, apiKey, secret string) (*model.APIKey, error)
}

// APIKeyAuth resolves X-API-Key/X-API-Secret to the owning merchant.
func APIKeyAuth(auth KeyAuthenticator, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := auth.Authenticate(c, c.GetHeader(HeaderAPIKey), c.GetHeader(HeaderAPISecret))
		if err != nil {
			log.Warnw("api key rejected", "path", c.FullPath(), "ip", c.ClientIP(), "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "invalid api credentials", Code: "UNAUTHORIZED"})
			return
		}
		c.Set(ctxMerchantID, key.MerchantID)
		c.Next()
	}
}

// AdminAuth accepts HS256 bearer tokens carrying role=admin.
func AdminAuth(secret string, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, err := verifyAdminToken(c.GetHeader("Authorization"), secret)
		if err != nil {
			log.Warnw("admin token rejected", "path", c.FullPath(), "ip", c.ClientIP(), "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Error: "invalid or expired token", Code: "UNAUTHORIZED"})
			return
		}
		c.Set(ctxAdmin, sub)
		c.Next()
	}
}

func verifyAdminToken(header, secret string) (string, error) {
	if secret == "" {
		return "", errors.New("admin auth not configured")
	}
	raw := strings.TrimPrefix(header, "Bearer ")
	if raw == "" || raw == header {
		return "", errors.New("missing bearer token")
	}
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid claims")
	}
	if role, _ := claims["role"].(string); role != "admin" {
		return "", fmt.Errorf("role %q is not admin", role)
	}
	sub, _ := claims.GetSubject()
	return sub, nil
}

func merchantID(c *gin.Context) string { return c.GetString(ctxMerchantID) }
