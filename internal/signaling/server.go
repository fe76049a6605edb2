package signaling

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Aryog/VibezLive-sub000/internal/auth"
	"github.com/Aryog/VibezLive-sub000/internal/logging"
	"github.com/Aryog/VibezLive-sub000/internal/ratelimit"
	"github.com/Aryog/VibezLive-sub000/internal/registry"
)

// tokenValidator is satisfied by both *auth.Validator and
// *auth.MockValidator.
type tokenValidator interface {
	ValidateToken(tokenString string) (*auth.Claims, error)
}

// Server upgrades HTTP connections to the signaling WebSocket and drives
// each Session's read loop.
type Server struct {
	dispatcher  *Dispatcher
	upgrader    websocket.Upgrader
	validator   tokenValidator
	authEnabled bool
	rateLimiter *ratelimit.RateLimiter
	pingTTL     time.Duration
	pingTick    time.Duration
}

// NewServer builds a Server. validator may be nil when authEnabled is
// false.
func NewServer(d *Dispatcher, allowedOrigins []string, validator tokenValidator, authEnabled bool, rl *ratelimit.RateLimiter, pingTTL, pingTick time.Duration) *Server {
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}
	return &Server{
		dispatcher:  d,
		validator:   validator,
		authEnabled: authEnabled,
		rateLimiter: rl,
		pingTTL:     pingTTL,
		pingTick:    pingTick,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				if originSet["*"] {
					return true
				}
				return originSet[origin]
			},
		},
	}
}

// ServeWS handles GET /ws: optional auth gate, per-IP rate limit, upgrade,
// session registration, and read/write pump startup.
func (srv *Server) ServeWS(c *gin.Context) {
	ctx := c.Request.Context()

	if srv.rateLimiter != nil && !srv.rateLimiter.CheckWebSocket(c) {
		return // CheckWebSocket already wrote the 429
	}

	if srv.authEnabled {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		if _, err := srv.validator.ValidateToken(token); err != nil {
			logging.Warn(ctx, "rejected websocket upgrade: invalid token", zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
	}

	peerID := registry.PeerID(uuid.NewString())

	if srv.rateLimiter != nil {
		if err := srv.rateLimiter.CheckWebSocketUser(ctx, string(peerID)); err != nil {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
	}

	conn, err := srv.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(ctx, "websocket upgrade failed", zap.Error(err))
		return
	}

	ctx = logging.WithPeerID(ctx, string(peerID))
	session := newSession(peerID, conn)
	srv.dispatcher.register(session)
	logging.Info(ctx, "peer connected")

	go session.writePump(srv.pingTick)
	srv.readPump(session)
}

// readPump reads one connection's frames until it closes, then drives the
// disconnect path.
func (srv *Server) readPump(s *Session) {
	defer func() {
		srv.dispatcher.unregister(s)
		srv.dispatcher.handleDisconnect(s)
		close(s.send)
		logging.Info(logging.WithPeerID(context.Background(), string(s.id)), "peer disconnected")
	}()

	readWait := srv.pingTTL
	if readWait <= 0 {
		readWait = 20 * time.Second
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(readWait))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(readWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(readWait))

		if srv.rateLimiter != nil && !srv.rateLimiter.CheckSignalingMessage(context.Background(), string(s.id)) {
			s.sendError("", "", "rate limit exceeded")
			continue
		}

		srv.dispatcher.handleFrame(s, data)
	}
}
