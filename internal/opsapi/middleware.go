package opsapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// zapLogger logs every request through log: method, route, status,
// client IP, and latency, at a level keyed off the response status.
func zapLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		latency := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		var errs []error
		for _, ge := range c.Errors {
			if ge.Err != nil {
				errs = append(errs, ge.Err)
			}
		}
		joinedErr := errors.Join(errs...)

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.String("client_ip", c.ClientIP()),
			zap.Duration("latency", latency),
		}
		if joinedErr != nil {
			fields = append(fields, zap.Error(joinedErr))
		}

		switch {
		case status >= 500:
			log.Error("request", fields...)
		case status >= 400:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}

// requireOperatorSession gates privileged routes behind either an
// already-authenticated session or HTTP Basic credentials matching the
// configured operator account.
func requireOperatorSession(store *SessionStore, adminUser, adminPass string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store.IsAuthenticated(c) {
			c.Next()
			return
		}
		user, pass, hasAuth := c.Request.BasicAuth()
		if hasAuth &&
			subtle.ConstantTimeCompare([]byte(user), []byte(adminUser)) == 1 &&
			subtle.ConstantTimeCompare([]byte(pass), []byte(adminPass)) == 1 {
			if err := store.MarkAuthenticated(c); err != nil {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Next()
			return
		}
		c.AbortWithStatus(http.StatusUnauthorized)
	}
}
