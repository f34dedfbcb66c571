package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/comitanigiacomo/walme-bot/internal/adapters/handler/http/middleware"
)

const (
	rateLimit       = 60
	rateLimitWindow = time.Minute
)

type RouterDependencies struct {
	StatusHandler *StatusHandler
	Redis         *redis.Client
	StatusToken   string
	Logger        zerolog.Logger
}

func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(deps.Logger))

	router.GET("/health", deps.StatusHandler.Health)

	apiV1 := router.Group("/api/v1")
	if deps.Redis != nil {
		apiV1.Use(middleware.RateLimiterMiddleware(deps.Redis, rateLimit, rateLimitWindow, deps.Logger))
	}
	if deps.StatusToken != "" {
		apiV1.Use(middleware.StatusTokenMiddleware(deps.StatusToken))
	}

	deps.StatusHandler.RegisterRoutes(apiV1)

	return router
}

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}
