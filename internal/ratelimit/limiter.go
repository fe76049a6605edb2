// Package ratelimit implements rate limiting logic using Redis or local memory.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Aryog/VibezLive-sub000/internal/config"
	"github.com/Aryog/VibezLive-sub000/internal/logging"
	"github.com/Aryog/VibezLive-sub000/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"
)

// RateLimiter holds the rate limiter instances guarding the /ws surface:
// one bounding connection attempts per source IP, one bounding connection
// attempts per peer id assigned to a connection, and one bounding
// signaling-message throughput per already-connected peer.
type RateLimiter struct {
	wsIP          *limiter.Limiter
	wsUser        *limiter.Limiter
	signalingUser *limiter.Limiter
	store         limiter.Store
	redisClient   *redis.Client
}

// NewRateLimiter creates a new RateLimiter instance.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	wsIPRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsIP)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}

	wsUserRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsUser)
	if err != nil {
		return nil, fmt.Errorf("invalid WS User rate: %w", err)
	}

	signalingUserRate, err := limiter.NewRateFromFormatted(cfg.RateLimitSignalingUser)
	if err != nil {
		return nil, fmt.Errorf("invalid signaling rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "rate limiter using memory store (Redis disabled or unavailable)")
	}

	return &RateLimiter{
		wsIP:          limiter.New(store, wsIPRate),
		wsUser:        limiter.New(store, wsUserRate),
		signalingUser: limiter.New(store, signalingUserRate),
		store:         store,
		redisClient:   redisClient,
	}, nil
}

// CheckWebSocket checks if a WebSocket upgrade from this request's source IP
// should be allowed. Returns true if allowed, false if the limit has been
// exceeded (and writes the 429 response itself).
func (rl *RateLimiter) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()

	ip := c.ClientIP()
	ipContext, err := rl.wsIP.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "WS rate limiter store failed (IP)", zap.Error(err))
		return true
	}

	if ipContext.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "ip").Inc()
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(ipContext.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections from this IP"})
		return false
	}

	return true
}

// CheckWebSocketUser checks the per-peer connection-attempt limit. Call
// after a peer id has been assigned, before completing the upgrade.
func (rl *RateLimiter) CheckWebSocketUser(ctx context.Context, peerID string) error {
	userContext, err := rl.wsUser.Get(ctx, peerID)
	if err != nil {
		logging.Error(ctx, "WS rate limiter store failed (peer)", zap.Error(err))
		return nil
	}

	if userContext.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "peer").Inc()
		return fmt.Errorf("rate limit exceeded for peer")
	}

	return nil
}

// CheckSignalingMessage checks the per-peer signaling-message throughput
// limit for an already-connected peer. The signaling server's read loop
// calls this once per inbound frame and, when it returns false, answers
// with an error frame instead of dispatching the frame, rather than
// closing the connection.
func (rl *RateLimiter) CheckSignalingMessage(ctx context.Context, peerID string) bool {
	limiterContext, err := rl.signalingUser.Get(ctx, peerID)
	if err != nil {
		logging.Error(ctx, "signaling rate limiter store failed", zap.Error(err))
		return true
	}

	if limiterContext.Reached {
		metrics.RateLimitExceeded.WithLabelValues("signaling_message", "peer").Inc()
		return false
	}

	metrics.RateLimitRequests.WithLabelValues("signaling_message").Inc()
	return true
}
