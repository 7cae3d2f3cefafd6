package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/talentbase/backend/internal/sessions"
	"github.com/talentbase/backend/pkg/logger"
	"github.com/talentbase/backend/pkg/metrics"
	"github.com/talentbase/backend/pkg/middleware"
)

const (
	defaultWriteTimeout   = 5 * time.Second
	defaultHeartbeatEvery = 30 * time.Second
	defaultReadIdle       = 2 * time.Minute
	maxPingFailures       = 3
	maxFrameBytes         = 4096
)

// SessionResolver resolves a session id to a live session, refreshing
// the upstream pair when due.
type SessionResolver interface {
	RefreshIfNeeded(ctx context.Context, id string) (*sessions.LiveSession, error)
}

// Gateway upgrades authenticated requests to notification sockets. The
// session is validated before the upgrade; a request that fails
// authentication is rejected as plain HTTP and never reaches the
// websocket layer.
type Gateway struct {
	hub      *Hub
	resolver SessionResolver

	// OriginPatterns is passed to the websocket accept; empty means
	// same-host only.
	OriginPatterns []string

	writeTimeout   time.Duration
	heartbeatEvery time.Duration
	readIdle       time.Duration
}

func NewGateway(hub *Hub, resolver SessionResolver) *Gateway {
	return &Gateway{
		hub:            hub,
		resolver:       resolver,
		writeTimeout:   defaultWriteTimeout,
		heartbeatEvery: defaultHeartbeatEvery,
		readIdle:       defaultReadIdle,
	}
}

// extractSessionID pulls the session id from the handshake request.
// Browsers cannot set headers on a websocket handshake, so the query
// parameter comes first.
func extractSessionID(r *http.Request) string {
	if id := r.URL.Query().Get("sessionId"); id != "" {
		return id
	}
	return r.Header.Get("X-Session-Id")
}

func (g *Gateway) reject(w http.ResponseWriter, status int, code string) {
	metrics.AuthResolutions.WithLabelValues("socket", code).Inc()
	http.Error(w, code, status)
}

// ServeHTTP authenticates the handshake and runs the push loop until
// the peer disconnects, the heartbeat fails, or the hub closes the
// client.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := extractSessionID(r)
	if id == "" {
		g.reject(w, http.StatusUnauthorized, middleware.CodeSessionMissing)
		return
	}
	if !middleware.IsSessionIDFormat(id) {
		g.reject(w, http.StatusUnauthorized, middleware.CodeSessionInvalidFormat)
		return
	}

	live, err := g.resolver.RefreshIfNeeded(r.Context(), id)
	if err != nil {
		logger.Errorf("realtime: session resolution failed: %v", err)
		g.reject(w, http.StatusInternalServerError, middleware.CodeSessionError)
		return
	}
	if live == nil {
		g.reject(w, http.StatusUnauthorized, middleware.CodeSessionInvalid)
		return
	}
	if live.ExpiresAt <= time.Now().Unix() {
		g.reject(w, http.StatusUnauthorized, middleware.CodeSessionExpired)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.OriginPatterns,
	})
	if err != nil {
		logger.Warnf("realtime: accept failed: %v", err)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	metrics.AuthResolutions.WithLabelValues("socket", "ok").Inc()
	logger.Infof("realtime: user %s connected (session %s)", live.UserID, live.ID)

	c := g.hub.register(live.UserID, live.ID)
	defer g.hub.unregister(c)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// reader: the client sends nothing meaningful; the loop exists to
	// notice disconnects and enforce the idle limit
	go func() {
		defer cancel()
		for {
			readCtx, readCancel := context.WithTimeout(ctx, g.readIdle)
			_, _, err := conn.Read(readCtx)
			readCancel()
			if err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(g.heartbeatEvery)
	defer ticker.Stop()

	pingFailures := 0
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "bye")
			return
		case <-c.done:
			conn.Close(websocket.StatusNormalClosure, "session closed")
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, g.writeTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				pingFailures++
				if pingFailures >= maxPingFailures {
					logger.Infof("realtime: user %s heartbeat failed, closing", live.UserID)
					conn.Close(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			pingFailures = 0
		case n := <-c.send:
			if err := g.write(ctx, conn, n); err != nil {
				logger.Debugf("realtime: write to user %s failed: %v", live.UserID, err)
				conn.Close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

func (g *Gateway) write(parent context.Context, conn *websocket.Conn, n Notification) error {
	ctx, cancel := context.WithTimeout(parent, g.writeTimeout)
	defer cancel()
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}
