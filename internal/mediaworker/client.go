package mediaworker

import (
	"context"
	"time"

	"github.com/Aryog/VibezLive-sub000/internal/metrics"
	"github.com/sony/gobreaker"
)

// Client is the boundary internal/room calls through to reach the media
// worker facade. Media worker calls may suspend or fail, so every
// Router/Transport/Producer/Consumer call the Room issues passes through
// here and a single circuit breaker governs the whole media-plane
// dependency; a stuck facade degrades to an error reply instead of
// hanging a room's serializer.
type Client struct {
	engine *Engine
	cb     *gobreaker.CircuitBreaker
}

// NewClient wraps an Engine with its own circuit breaker, separate from the
// breaker Engine uses internally for CreateRouter, so the room-level call
// budget trips independently of engine-internal bookkeeping.
func NewClient(engine *Engine) *Client {
	st := gobreaker.Settings{
		Name:        "mediaworker-client",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("mediaworker_client").Set(stateVal)
		},
	}
	return &Client{engine: engine, cb: gobreaker.NewCircuitBreaker(st)}
}

// ErrCircuitOpen is returned (via errors.Is) whenever the breaker short
// circuits a call instead of reaching the engine.
var ErrCircuitOpen = gobreaker.ErrOpenState

func callCB[T any](cb *gobreaker.CircuitBreaker, op string, fn func() (T, error)) (T, error) {
	result, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		metrics.MediaWorkerCalls.WithLabelValues(op, "error").Inc()
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("mediaworker").Inc()
		}
		return zero, err
	}
	metrics.MediaWorkerCalls.WithLabelValues(op, "ok").Inc()
	return result.(T), nil
}

func (c *Client) CreateRouter(ctx context.Context) (Router, error) {
	return callCB(c.cb, "createRouter", func() (Router, error) {
		return c.engine.CreateRouter(ctx)
	})
}

func (c *Client) CreateWebRtcTransport(ctx context.Context, r Router) (Transport, error) {
	return callCB(c.cb, "createWebRtcTransport", func() (Transport, error) {
		return r.CreateWebRtcTransport(ctx)
	})
}

func (c *Client) ConnectTransport(ctx context.Context, t Transport, dtls DtlsParameters) error {
	_, err := callCB(c.cb, "connectTransport", func() (struct{}, error) {
		return struct{}{}, t.Connect(ctx, dtls)
	})
	return err
}

func (c *Client) Produce(ctx context.Context, t Transport, kind Kind, rtp RtpParameters, appData AppData) (Producer, error) {
	return callCB(c.cb, "produce", func() (Producer, error) {
		return t.Produce(ctx, kind, rtp, appData)
	})
}

func (c *Client) Consume(ctx context.Context, t Transport, p Producer, caps RtpCapabilities) (Consumer, error) {
	return callCB(c.cb, "consume", func() (Consumer, error) {
		return t.Consume(ctx, p, caps)
	})
}

func (c *Client) ResumeConsumer(ctx context.Context, cons Consumer) error {
	_, err := callCB(c.cb, "resumeConsumer", func() (struct{}, error) {
		return struct{}{}, cons.Resume(ctx)
	})
	return err
}

func (c *Client) CloseProducer(ctx context.Context, p Producer) error {
	_, err := callCB(c.cb, "closeProducer", func() (struct{}, error) {
		return struct{}{}, p.Close(ctx)
	})
	return err
}

func (c *Client) CloseConsumer(ctx context.Context, cons Consumer) error {
	_, err := callCB(c.cb, "closeConsumer", func() (struct{}, error) {
		return struct{}{}, cons.Close(ctx)
	})
	return err
}

func (c *Client) CloseTransport(ctx context.Context, t Transport) error {
	_, err := callCB(c.cb, "closeTransport", func() (struct{}, error) {
		return struct{}{}, t.Close(ctx)
	})
	return err
}

func (c *Client) CanConsume(r Router, producerID string, caps RtpCapabilities) bool {
	return r.CanConsume(producerID, caps)
}

// IsAlive satisfies internal/health.MediaWorkerChecker.
func (c *Client) IsAlive(ctx context.Context) bool {
	return c.engine.IsAlive(ctx)
}

func (c *Client) Died() <-chan struct{} {
	return c.engine.Died()
}
