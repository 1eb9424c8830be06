package opsapi

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/secure"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pceos/kernel/internal/kernel"
)

// Deps bundles the collaborators the operator router needs.
type Deps struct {
	Kernel       *kernel.Kernel
	Log          *zap.Logger
	Sessions     *SessionStore
	AdminUser    string
	AdminPass    string
	MaxConcurrent int
}

// NewRouter builds the operator HTTP surface: recovery first, dev-only
// CORS, baseline security headers outside dev, request correlation ids, structured
// logging, a concurrency cap on privileged actions, and the accessor /
// action routes themselves.
func NewRouter(d Deps) *gin.Engine {
	log := d.Log.Named("opsapi")

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	_ = r.SetTrustedProxies([]string{"127.0.0.1"})

	r.Use(gin.Recovery())

	if os.Getenv("ENV") == "dev" {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:5173"},
			AllowMethods:     []string{"GET", "POST"},
			AllowHeaders:     []string{"Content-Type", "Authorization"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(secure.New(secure.Config{
			SSLRedirect:           false,
			STSSeconds:            31536000,
			STSIncludeSubdomains:  true,
			FrameDeny:             true,
			ContentTypeNosniff:    true,
			BrowserXssFilter:      true,
			ContentSecurityPolicy: "default-src 'self'",
		}))
	}

	r.Use(requestID())
	r.Use(zapLogger(log))
	r.Use(d.Sessions.Middleware())

	h := &handlers{kernel: d.Kernel, log: log}

	ro := r.Group("/ops")
	ro.GET("/healthz", h.healthz)
	ro.GET("/events/:id/activation-loss", h.activationLoss)
	ro.GET("/processes/:pid/failures", h.failureCounts)
	ro.GET("/processes/:pid/failures/:kind", h.failureCountOfKind)
	ro.GET("/processes/:pid/stack-reserve", h.stackReserve)
	ro.GET("/scheduler/current-priority", h.currentPriority)
	ro.GET("/events/:id/base-priority", h.basePriority)

	privileged := ro.Group("")
	privileged.Use(requireOperatorSession(d.Sessions, d.AdminUser, d.AdminPass))
	privileged.Use(capConcurrent(d.MaxConcurrent))
	privileged.POST("/processes/:pid/suspend", h.suspendProcess)
	privileged.POST("/scheduler/raise-ceiling", h.raiseCeiling)
	privileged.POST("/scheduler/lower-ceiling", h.lowerCeiling)

	return r
}

// requestID stamps every response with an X-Request-ID, reusing an
// inbound value when the caller already supplied a sane one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if l := len(id); l < 1 || l > 64 {
			id = uuid.New().String()
		}
		c.Header("X-Request-ID", id)
		c.Set("request_id", id)
		c.Next()
	}
}

// capConcurrent limits in-flight privileged requests, rejecting once max
// is already in flight rather than queuing behind them.
func capConcurrent(max int) gin.HandlerFunc {
	if max <= 0 {
		max = 8
	}
	sem := make(chan struct{}, max)
	return func(c *gin.Context) {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
			c.Next()
		default:
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many concurrent privileged requests"})
		}
	}
}
