package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/talentbase/backend/internal/attempts"
	"github.com/talentbase/backend/internal/realtime"
	"github.com/talentbase/backend/internal/sessions"
	"github.com/talentbase/backend/internal/tokens"
	"github.com/talentbase/backend/internal/upstream"
	"github.com/talentbase/backend/pkg/logger"
	"github.com/talentbase/backend/pkg/metrics"
	"github.com/talentbase/backend/pkg/middleware"
)

const sessionCookieMaxAge = 7 * 24 * time.Hour

// LoginRequest is the password login payload. CaptchaToken becomes
// mandatory once the address crosses the CAPTCHA threshold.
type LoginRequest struct {
	Email        string `json:"email" binding:"required"`
	Password     string `json:"password" binding:"required"`
	CaptchaToken string `json:"captchaToken"`
}

// AuthHandler owns the login, refresh and session management endpoints.
type AuthHandler struct {
	upstream    *upstream.Client
	sessionsSvc *sessions.Service
	throttle    *attempts.Throttle
	issuer      *tokens.Issuer
	blacklist   *tokens.Blacklist
	hub         *realtime.Hub
}

func NewAuthHandler(up *upstream.Client, s *sessions.Service, t *attempts.Throttle, iss *tokens.Issuer, bl *tokens.Blacklist, hub *realtime.Hub) *AuthHandler {
	return &AuthHandler{upstream: up, sessionsSvc: s, throttle: t, issuer: iss, blacklist: bl, hub: hub}
}

// Register mounts the routes under /auth. The login route stays public;
// everything else sits behind the given authenticators.
func (h *AuthHandler) Register(rg *gin.RouterGroup, sessionAuth, jwtAuth gin.HandlerFunc) {
	a := rg.Group("/auth")
	a.POST("/login", h.Login)
	a.POST("/refresh", sessionAuth, h.Refresh)
	a.POST("/logout", sessionAuth, h.Logout)
	a.GET("/me", sessionAuth, h.Me)
	a.GET("/sessions", sessionAuth, h.ListSessions)
	a.DELETE("/sessions/others", sessionAuth, h.LogoutOthers)
	a.GET("/sessions/stats", jwtAuth, middleware.RequireRole("admin"), h.SessionStats)
}

// Login exchanges email/password upstream and establishes a session.
// The per-address throttle runs first so a blocked address never
// reaches the upstream provider.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortError(c, http.StatusBadRequest, "INVALID_REQUEST", "Email and password are required")
		return
	}
	ip := c.ClientIP()
	ctx := c.Request.Context()

	state := h.throttle.Inspect(ctx, ip)
	if state.IsBlocked {
		metrics.LoginThrottleBlocks.Inc()
		logger.Warnf("auth: blocked login from %s (%d attempts)", ip, state.AttemptCount)
		middleware.AbortError(c, http.StatusTooManyRequests, "TOO_MANY_ATTEMPTS", "Too many failed login attempts, please try again later")
		return
	}
	if state.RequiresCaptcha && req.CaptchaToken == "" {
		middleware.AbortError(c, http.StatusBadRequest, "CAPTCHA_REQUIRED", "CAPTCHA verification required")
		return
	}

	pair, err := h.upstream.PasswordGrant(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, upstream.ErrUnauthorized) {
			res := h.throttle.RecordFailure(ctx, ip, req.Email)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success":         false,
				"error":           gin.H{"message": "Invalid email or password", "code": "INVALID_CREDENTIALS"},
				"requiresCaptcha": res.RequiresCaptcha,
			})
			return
		}
		logger.Errorf("auth: upstream login failed: %v", err)
		middleware.AbortError(c, http.StatusInternalServerError, middleware.CodeAuthError, "Authentication service unavailable")
		return
	}

	if err := h.throttle.Reset(ctx, ip); err != nil {
		logger.Warnf("auth: throttle reset for %s failed: %v", ip, err)
	}

	user := &upstream.User{ID: pair.UserID, Email: pair.Email}
	if u, err := h.upstream.GetUser(ctx, pair.AccessToken); err != nil {
		logger.Warnf("auth: profile fetch after login failed: %v", err)
	} else {
		user = u
	}

	sessionID, err := h.sessionsSvc.Create(ctx, sessions.CreateParams{
		UserID:       user.ID,
		Email:        user.Email,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
		UserAgent:    c.Request.UserAgent(),
		IPAddress:    ip,
	})
	if err != nil {
		logger.Errorf("auth: session create failed: %v", err)
		middleware.AbortError(c, http.StatusInternalServerError, middleware.CodeSessionError, "Failed to create session")
		return
	}

	access, err := h.issuer.Issue(user.ID, user.Email, user.Role, user.Name)
	if err != nil {
		logger.Errorf("auth: token issue failed: %v", err)
		middleware.AbortError(c, http.StatusInternalServerError, middleware.CodeAuthError, "Failed to issue token")
		return
	}

	h.setSessionCookie(c, sessionID, int(sessionCookieMaxAge.Seconds()))
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"sessionId":   sessionID,
		"accessToken": access,
		"expiresIn":   int(h.issuer.TTL().Seconds()),
		"user":        user,
	})
}

// Refresh re-issues a first-party token against an authenticated
// session. The session middleware has already renewed the upstream pair
// if it was due.
func (h *AuthHandler) Refresh(c *gin.Context) {
	live := middleware.SessionFromContext(c)

	user := &upstream.User{ID: live.UserID, Email: live.Email}
	if u, err := h.upstream.GetUser(c.Request.Context(), live.AccessToken); err != nil {
		logger.Warnf("auth: profile fetch on refresh failed: %v", err)
	} else {
		user = u
	}

	access, err := h.issuer.Issue(user.ID, user.Email, user.Role, user.Name)
	if err != nil {
		logger.Errorf("auth: token issue failed: %v", err)
		middleware.AbortError(c, http.StatusInternalServerError, middleware.CodeAuthError, "Failed to issue token")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"sessionId":   live.ID,
		"accessToken": access,
		"expiresIn":   int(h.issuer.TTL().Seconds()),
	})
}

// Logout invalidates the current session, revokes a presented
// first-party token, disconnects open sockets and clears the cookie.
func (h *AuthHandler) Logout(c *gin.Context) {
	live := middleware.SessionFromContext(c)
	ctx := c.Request.Context()

	if err := h.sessionsSvc.Invalidate(ctx, live.ID); err != nil {
		logger.Errorf("auth: invalidate %s failed: %v", live.ID, err)
		middleware.AbortError(c, http.StatusInternalServerError, middleware.CodeSessionError, "Failed to log out")
		return
	}

	// revoke a first-party bearer token when one came along
	if raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok && strings.Count(raw, ".") == 2 {
		if claims, err := h.issuer.Verify(raw); err == nil {
			if err := h.blacklist.Add(ctx, raw, time.Until(claims.ExpiresAt.Time)); err != nil {
				logger.Warnf("auth: token revocation failed: %v", err)
			}
		}
	}

	if h.hub != nil {
		h.hub.DisconnectSession(live.ID)
	}

	h.setSessionCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logged out"})
}

// Me returns the upstream identity behind the session.
func (h *AuthHandler) Me(c *gin.Context) {
	live := middleware.SessionFromContext(c)

	user, err := h.upstream.GetUser(c.Request.Context(), live.AccessToken)
	if err != nil {
		if errors.Is(err, upstream.ErrUnauthorized) {
			middleware.AbortError(c, http.StatusUnauthorized, middleware.CodeSessionInvalid, "Invalid or expired session")
			return
		}
		logger.Errorf("auth: profile fetch failed: %v", err)
		middleware.AbortError(c, http.StatusInternalServerError, middleware.CodeAuthError, "Failed to load profile")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "user": user})
}

// ListSessions returns the token-free view of the caller's active
// sessions.
func (h *AuthHandler) ListSessions(c *gin.Context) {
	live := middleware.SessionFromContext(c)

	infos, err := h.sessionsSvc.ListForUser(c.Request.Context(), live.UserID)
	if err != nil {
		logger.Errorf("auth: session list for %s failed: %v", live.UserID, err)
		middleware.AbortError(c, http.StatusInternalServerError, middleware.CodeSessionError, "Failed to list sessions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sessions": infos, "current": live.ID})
}

// LogoutOthers invalidates every other session of the caller, kicking
// stolen or forgotten devices.
func (h *AuthHandler) LogoutOthers(c *gin.Context) {
	live := middleware.SessionFromContext(c)

	n, err := h.sessionsSvc.InvalidateAllForUser(c.Request.Context(), live.UserID, live.ID)
	if err != nil {
		logger.Errorf("auth: logout-others for %s failed: %v", live.UserID, err)
		middleware.AbortError(c, http.StatusInternalServerError, middleware.CodeSessionError, "Failed to invalidate sessions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "invalidated": n})
}

// SessionStats reports store-wide counts. Admin only.
func (h *AuthHandler) SessionStats(c *gin.Context) {
	stats, err := h.sessionsSvc.Stats(c.Request.Context())
	if err != nil {
		logger.Errorf("auth: session stats failed: %v", err)
		middleware.AbortError(c, http.StatusInternalServerError, middleware.CodeSessionError, "Failed to load stats")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie("session_id", value, maxAge, "/", "", c.Request.TLS != nil, true)
}
