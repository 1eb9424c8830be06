// Package opsapi is the supervisor operator HTTP surface: read-only
// accessors over the kernel's run-time counters, plus a small set of
// session-gated privileged actions that proxy OSSuspendProcess /
// OSSuspendAllTasksByPriority. It never bypasses the kernel's own
// privilege model -- every handler calls exactly the same OS-context
// entry points an OS-context caller could already call.
package opsapi

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	gredis "github.com/gin-contrib/sessions/redis"
	"github.com/gin-gonic/gin"
)

// sessionKeyOperator is the session key recording that the request has
// authenticated as the operator.
const sessionKeyOperator = "operator"

// SessionStore wraps a Redis-backed Gin session store, scoped to a
// single operator identity rather than a multi-tenant user table -- the
// operator surface has exactly one authenticated role.
type SessionStore struct {
	store   gredis.Store
	options sessions.Options
}

// NewSessionStore dials redisAddr for session storage. isDev controls
// whether the session cookie is marked Secure.
func NewSessionStore(isDev bool, redisAddr, secret string) (*SessionStore, error) {
	store, err := gredis.NewStoreWithDB(10, "tcp", redisAddr, "", "", "1", []byte(secret))
	if err != nil {
		return nil, err
	}

	opts := sessions.Options{
		Path:     "/ops",
		MaxAge:   4 * 3600,
		Secure:   !isDev,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
	store.Options(opts)

	return &SessionStore{store: store, options: opts}, nil
}

// Middleware attaches Gin session handling under the "opssid" cookie.
func (s *SessionStore) Middleware() gin.HandlerFunc {
	return sessions.Sessions("opssid", s.store)
}

// MarkAuthenticated records a successful operator login in the session.
func (s *SessionStore) MarkAuthenticated(c *gin.Context) error {
	session := sessions.Default(c)
	session.Set(sessionKeyOperator, true)
	return session.Save()
}

// IsAuthenticated reports whether the current session is an
// authenticated operator session.
func (s *SessionStore) IsAuthenticated(c *gin.Context) bool {
	session := sessions.Default(c)
	ok, _ := session.Get(sessionKeyOperator).(bool)
	return ok
}

// Logout clears the operator session.
func (s *SessionStore) Logout(c *gin.Context) error {
	session := sessions.Default(c)
	session.Clear()
	opts := s.options
	opts.MaxAge = -1
	session.Options(opts)
	return session.Save()
}
