package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/talentbase/backend/internal/sessions"
	"github.com/talentbase/backend/internal/upstream"
	"github.com/talentbase/backend/pkg/logger"
	"github.com/talentbase/backend/pkg/metrics"
)

// Context keys set by the authenticators.
const (
	CtxSessionID      = "sessionID"
	CtxSession        = "session"
	CtxUpstreamClient = "upstreamClient"
	CtxClaims         = "claims"
	CtxRawToken       = "rawToken"
)

// SessionResolver is the slice of the session service the HTTP adapter
// needs: resolve by id, refreshing the upstream pair when due.
type SessionResolver interface {
	RefreshIfNeeded(ctx context.Context, id string) (*sessions.LiveSession, error)
}

// ClientFactory scopes an upstream data-plane client to a live access
// token.
type ClientFactory interface {
	UserClient(accessToken string) *upstream.UserClient
}

// ExtractSessionID pulls the session identifier from a request, in
// precedence order: X-Session-Id header, session_id cookie, then a
// Bearer credential that has the shape of a session id rather than a
// JWT. Returns "" when no candidate is present.
func ExtractSessionID(r *http.Request) string {
	if id := r.Header.Get("X-Session-Id"); id != "" {
		return id
	}
	if c, err := r.Cookie("session_id"); err == nil && c.Value != "" {
		return c.Value
	}
	auth := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
		if IsSessionIDFormat(after) {
			return after
		}
	}
	return ""
}

// IsSessionIDFormat reports whether s is a canonical 36-char UUID.
// Checked before any store lookup so garbage never reaches the
// repository.
func IsSessionIDFormat(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// SessionAuth authenticates requests by session identifier. On success
// the live session and a user-scoped upstream client are attached to
// the request context; the upstream pair has already been refreshed if
// it was within the renewal margin.
func SessionAuth(resolver SessionResolver, factory ClientFactory) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := ExtractSessionID(c.Request)
		if id == "" {
			metrics.AuthResolutions.WithLabelValues("http", CodeSessionMissing).Inc()
			AbortError(c, http.StatusUnauthorized, CodeSessionMissing, "Session ID required")
			return
		}
		if !IsSessionIDFormat(id) {
			metrics.AuthResolutions.WithLabelValues("http", CodeSessionInvalidFormat).Inc()
			AbortError(c, http.StatusUnauthorized, CodeSessionInvalidFormat, "Invalid session ID format")
			return
		}

		live, err := resolver.RefreshIfNeeded(c.Request.Context(), id)
		if err != nil {
			metrics.AuthResolutions.WithLabelValues("http", CodeSessionError).Inc()
			logger.Errorf("middleware: session resolution failed: %v", err)
			AbortError(c, http.StatusInternalServerError, CodeSessionError, "Session validation failed")
			return
		}
		if live == nil {
			metrics.AuthResolutions.WithLabelValues("http", CodeSessionInvalid).Inc()
			AbortError(c, http.StatusUnauthorized, CodeSessionInvalid, "Invalid or expired session")
			return
		}

		metrics.AuthResolutions.WithLabelValues("http", "ok").Inc()
		c.Set(CtxSessionID, live.ID)
		c.Set(CtxSession, live)
		c.Set(CtxUpstreamClient, factory.UserClient(live.AccessToken))
		c.Next()
	}
}

// OptionalSessionAuth attaches the session when a usable identifier is
// presented but never rejects the request. Resolution errors leave the
// request anonymous.
func OptionalSessionAuth(resolver SessionResolver, factory ClientFactory) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := ExtractSessionID(c.Request)
		if id == "" || !IsSessionIDFormat(id) {
			c.Next()
			return
		}
		live, err := resolver.RefreshIfNeeded(c.Request.Context(), id)
		if err != nil {
			logger.Warnf("middleware: optional session resolution failed: %v", err)
			c.Next()
			return
		}
		if live != nil {
			c.Set(CtxSessionID, live.ID)
			c.Set(CtxSession, live)
			c.Set(CtxUpstreamClient, factory.UserClient(live.AccessToken))
		}
		c.Next()
	}
}

// SessionFromContext returns the live session attached by SessionAuth,
// or nil on an anonymous request.
func SessionFromContext(c *gin.Context) *sessions.LiveSession {
	v, ok := c.Get(CtxSession)
	if !ok {
		return nil
	}
	live, _ := v.(*sessions.LiveSession)
	return live
}

// UpstreamFromContext returns the user-scoped upstream client, or nil.
func UpstreamFromContext(c *gin.Context) *upstream.UserClient {
	v, ok := c.Get(CtxUpstreamClient)
	if !ok {
		return nil
	}
	uc, _ := v.(*upstream.UserClient)
	return uc
}
