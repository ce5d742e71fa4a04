package main

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/card_audit_backend/config"
	"github.com/mmdatafocus/card_audit_backend/middlewares"
	"github.com/mmdatafocus/card_audit_backend/utils"
	"github.com/sirupsen/logrus"
)

func setupRouter(logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(correlationIdMiddleware())
	r.Use(readinessGate())

	r.Use(cors.New(corsConfig()))

	r.Use(middlewares.AuthMiddleware())
	r.Use(middlewares.SessionMiddleware())

	// Env: RATE_LIMIT_ENABLED=true, RATE_LIMIT_WINDOW_SECONDS=60, RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		limit := int64(600)
		if n, err := strconv.ParseInt(strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")), 10, 64); err == nil && n > 0 {
			limit = n
		}
		windowSec := int64(60)
		if n, err := strconv.ParseInt(strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")), 10, 64); err == nil && n > 0 {
			windowSec = n
		}
		rateLimiter := NewRateLimiter(config.GetRedisDB, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	api := r.Group("/api/audit", middlewares.RequireOwner())
	registerAuditRoutes(api)

	// Ops tooling (admin only): replay audit events that were marked DEAD/FAILED.
	r.POST("/internal/ops/outbox/replay", outboxReplayHandler())
	r.NoRoute(customNotFoundHandler)
	return r
}

func correlationIdMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Header("x-correlation-id", cid)
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	}
}

// readinessGate answers /healthz and holds everything else until the database is connected.
// Redis is optional.
func readinessGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	}
}

// In production CORS_ALLOWED_ORIGINS is an explicit allowlist; elsewhere all origins pass.
func corsConfig() cors.Config {
	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// deny all; an empty AllowOrigins fails cors validation
			corsConfig.AllowOriginFunc = func(string) bool { return false }
		} else {
			corsConfig.AllowOrigins = utils.SplitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition", "x-correlation-id")
	corsConfig.AllowCredentials = true
	return corsConfig
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
			logger.WithFields(logrus.Fields{
				"path":           c.Request.URL.Path,
				"correlation_id": cid,
			}).Error(c.Errors.String())
		}
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}
