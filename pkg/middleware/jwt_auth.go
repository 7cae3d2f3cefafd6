package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/talentbase/backend/internal/sessions"
	"github.com/talentbase/backend/internal/tokens"
	"github.com/talentbase/backend/pkg/logger"
	"github.com/talentbase/backend/pkg/metrics"
)

// TokenVerifier validates a first-party access token.
type TokenVerifier interface {
	Verify(raw string) (*tokens.Claims, error)
}

// RevocationChecker reports whether a token was revoked before expiry.
type RevocationChecker interface {
	Contains(ctx context.Context, token string) (bool, error)
}

// UserSessionResolver resolves the freshest valid session for a user,
// refreshing the upstream pair when due. The first-party token carries
// identity only; the upstream credential always comes from the store.
type UserSessionResolver interface {
	RefreshForUser(ctx context.Context, userID string) (*sessions.LiveSession, error)
}

func bearerToken(r *http.Request) string {
	after, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return after
}

// JWTAuth authenticates requests by first-party token. A valid token
// still requires a live backing session; without one the client must
// log in again.
func JWTAuth(verifier TokenVerifier, revoked RevocationChecker, resolver UserSessionResolver, factory ClientFactory) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.Request)
		if raw == "" {
			metrics.AuthResolutions.WithLabelValues("http", CodeMissingToken).Inc()
			AbortError(c, http.StatusUnauthorized, CodeMissingToken, "Authentication token required")
			return
		}

		if gone, err := revoked.Contains(c.Request.Context(), raw); err != nil {
			logger.Warnf("middleware: revocation check failed: %v", err)
		} else if gone {
			metrics.AuthResolutions.WithLabelValues("http", CodeInvalidToken).Inc()
			AbortError(c, http.StatusUnauthorized, CodeInvalidToken, "Token has been revoked")
			return
		}

		claims, err := verifier.Verify(raw)
		if err != nil {
			if errors.Is(err, tokens.ErrTokenExpired) {
				metrics.AuthResolutions.WithLabelValues("http", CodeTokenExpired).Inc()
				AbortError(c, http.StatusUnauthorized, CodeTokenExpired, "Token has expired")
				return
			}
			metrics.AuthResolutions.WithLabelValues("http", CodeInvalidToken).Inc()
			AbortError(c, http.StatusUnauthorized, CodeInvalidToken, "Invalid authentication token")
			return
		}

		live, err := resolver.RefreshForUser(c.Request.Context(), claims.UserID)
		if err != nil {
			metrics.AuthResolutions.WithLabelValues("http", CodeAuthError).Inc()
			logger.Errorf("middleware: session lookup for user %s failed: %v", claims.UserID, err)
			AbortError(c, http.StatusInternalServerError, CodeAuthError, "Authentication failed")
			return
		}
		if live == nil {
			metrics.AuthResolutions.WithLabelValues("http", CodeSessionExpired).Inc()
			AbortError(c, http.StatusUnauthorized, CodeSessionExpired, "Session expired, please log in again")
			return
		}

		metrics.AuthResolutions.WithLabelValues("http", "ok").Inc()
		c.Set(CtxClaims, claims)
		c.Set(CtxRawToken, raw)
		c.Set(CtxSessionID, live.ID)
		c.Set(CtxSession, live)
		c.Set(CtxUpstreamClient, factory.UserClient(live.AccessToken))
		c.Next()
	}
}

// JWTAuthOptional attaches claims and session when a valid token is
// presented but never rejects the request.
func JWTAuthOptional(verifier TokenVerifier, revoked RevocationChecker, resolver UserSessionResolver, factory ClientFactory) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.Request)
		if raw == "" {
			c.Next()
			return
		}
		if gone, err := revoked.Contains(c.Request.Context(), raw); err == nil && gone {
			c.Next()
			return
		}
		claims, err := verifier.Verify(raw)
		if err != nil {
			c.Next()
			return
		}
		live, err := resolver.RefreshForUser(c.Request.Context(), claims.UserID)
		if err != nil || live == nil {
			c.Next()
			return
		}
		c.Set(CtxClaims, claims)
		c.Set(CtxRawToken, raw)
		c.Set(CtxSessionID, live.ID)
		c.Set(CtxSession, live)
		c.Set(CtxUpstreamClient, factory.UserClient(live.AccessToken))
		c.Next()
	}
}

// RequireRole gates a route on the role claim of an already
// authenticated request. Must run after JWTAuth.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimsFromContext(c)
		if claims == nil {
			AbortError(c, http.StatusUnauthorized, CodeUnauthorized, "Authentication required")
			return
		}
		for _, r := range roles {
			if claims.Role == r {
				c.Next()
				return
			}
		}
		AbortError(c, http.StatusForbidden, CodeForbidden, "Insufficient permissions")
	}
}

// ClaimsFromContext returns the verified claims attached by JWTAuth,
// or nil.
func ClaimsFromContext(c *gin.Context) *tokens.Claims {
	v, ok := c.Get(CtxClaims)
	if !ok {
		return nil
	}
	claims, _ := v.(*tokens.Claims)
	return claims
}
