// Package api is the HTTP surface of recapd.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Institute-for-Folly/RECAP/internal/auth"
	"github.com/Institute-for-Folly/RECAP/internal/feed"
	"github.com/Institute-for-Folly/RECAP/internal/ledger"
	"github.com/Institute-for-Folly/RECAP/internal/notify"
	"github.com/Institute-for-Folly/RECAP/internal/streak"
)

// maxBodyBytes bounds every request body; submissions are tiny.
const maxBodyBytes = 64 << 10

// Options tune the router. Zero values disable the corresponding feature.
type Options struct {
	CORSOrigins   []string
	RateLimitRPS  int
	// RateLimitIdle evicts idle client buckets; zero selects DefaultRateLimitIdle.
	RateLimitIdle time.Duration
	MaxPageSize   int

	// Tokens enables bearer auth on submissions; IssuePolicy additionally
	// exposes POST /auth/token.
	Tokens      *auth.TokenIssuer
	IssuePolicy *auth.IssuePolicy

	// Hub serves the live feed at /api/v1/feed/stream.
	Hub *notify.Hub

	// Ready reports readiness for /healthz. nil = always ready.
	Ready func(ctx context.Context) error
}

// NewRouter builds the gin engine. ctx bounds background goroutines such as
// rate limiter cleanup.
func NewRouter(ctx context.Context, l *ledger.SubmissionLedger, s *streak.Calculator, opts Options, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestID())

	if len(opts.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     opts.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", HeaderIssueSecret, HeaderRequestID},
			ExposeHeaders:    []string{"Content-Length", HeaderRequestID},
			AllowCredentials: !containsWildcard(opts.CORSOrigins),
			MaxAge:           12 * time.Hour,
		}))
	}
	router.Use(SecurityHeaders())
	router.Use(BodyLimit(maxBodyBytes))
	router.Use(PrometheusMiddleware())
	if opts.RateLimitRPS > 0 {
		router.Use(RateLimiter(ctx, RateLimit{RPS: opts.RateLimitRPS, Idle: opts.RateLimitIdle}))
	}
	router.Use(RequestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		if opts.Ready != nil {
			if err := opts.Ready(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", MetricsHandler())

	v1 := router.Group("/api/v1")

	sub := NewSubmissionHandler(l, logger)
	if opts.Tokens != nil {
		sub.SetTokenIssuer(opts.Tokens)
		if opts.IssuePolicy != nil && opts.IssuePolicy.Allow {
			NewAuthHandler(opts.Tokens, opts.IssuePolicy, logger).Register(v1)
		}
	}
	sub.Register(v1)
	NewIdentityHandler(l, s, logger).Register(v1)
	NewEntryHandler(l, feed.New(l), opts.MaxPageSize, logger).Register(v1)

	if opts.Hub != nil {
		opts.Hub.SetObserver(SetFeedClients)
		v1.GET("/feed/stream", gin.WrapH(opts.Hub))
	}

	return router
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
