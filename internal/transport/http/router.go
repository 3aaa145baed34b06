package http

import (
	"github.com/gin-gonic/gin"
	"github.com/richardliu001/pix-acquirer/internal/config"
	"go.uber.org/zap"
)

func NewRouter(svc Services, rl config.RateLimitConfig, auth config.AuthConfig, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(rl.RPS, rl.Burst))
	RegisterHandlers(r, svc, auth.JWTSecret, log)
	return r
}
