package main

import (
	"database/sql"
	"net/http"
	"time"

	"callbridge/internal/calls"
	"callbridge/internal/httpapi"
	"callbridge/internal/injection"
	"callbridge/internal/stream"
	"callbridge/internal/translation"
	"callbridge/internal/webhook"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type routeDeps struct {
	authMW      gin.HandlerFunc
	verifier    *webhook.Verifier
	callService *calls.Service
	segments    translation.SegmentRepo
	configs     translation.ConfigStore
	queue       *injection.Queue
	gateway     *stream.Gateway
	publicBase  string

	db  *sql.DB
	rdb *redis.Client
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	r.GET("/healthz", func(c *gin.Context) {
		ctx := c.Request.Context()
		if err := deps.db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		if err := deps.rdb.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
	})

	// Provider webhooks: public, authenticated by signature instead of token.
	wh := httpapi.NewWebhookHandler(deps.verifier, deps.callService, deps.publicBase)
	r.POST("/webhooks/:provider/calls", wh.Handle)

	// Client-facing API, token-authenticated and tenant-scoped.
	ch := httpapi.NewCallsHandler(deps.callService, deps.segments, deps.configs, deps.queue)
	sh := httpapi.NewStreamHandler(deps.gateway, deps.callService)

	v1 := r.Group("/v1")
	v1.Use(deps.authMW)
	{
		callGroup := v1.Group("/calls")
		{
			callGroup.POST("", ch.StartCall)
			callGroup.GET("", ch.ListCalls)
			callGroup.GET("/:id", ch.GetCall)
			callGroup.GET("/:id/segments", ch.ListSegments)
			callGroup.PUT("/:id/translation", ch.SetTranslationConfig)
			callGroup.GET("/:id/injections", ch.ListInjections)
			callGroup.GET("/:id/stream", sh.Handle)
		}
	}
}
