package mediaworker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Aryog/VibezLive-sub000/internal/config"
	"github.com/Aryog/VibezLive-sub000/internal/logging"
	"github.com/Aryog/VibezLive-sub000/internal/metrics"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Engine is the process-wide media worker facade implementation. It backs
// Router/Transport/Producer/Consumer with a single in-process
// github.com/pion/webrtc/v4 reference engine instead of a native
// mediasoup-style co-process.
//
// Only the control surface (codec capabilities, ICE/DTLS handshake
// parameters) is built on genuine pion ICE/DTLS objects. Producer-to-
// consumer RTP forwarding inside one process uses a plain fan-out over
// pion's rtp package types (see fanout.go); driving two PeerConnections
// through a real external ICE connectivity check would require an actual
// remote browser on the far side.
type Engine struct {
	api     *webrtc.API
	cfg     *config.Config
	cb      *gobreaker.CircuitBreaker
	codecs  []webrtc.RTPCodecParameters
	caps    RtpCapabilities
	iceURLs []string

	mu    sync.Mutex
	alive bool
	died  chan struct{}
}

// NewEngine builds the pion API surface (SettingEngine port range,
// MediaEngine codecs) from validated configuration.
func NewEngine(cfg *config.Config) (*Engine, error) {
	settingEngine := webrtc.SettingEngine{}
	if cfg.RTPPortMin > 0 && cfg.RTPPortMax > 0 {
		if err := settingEngine.SetEphemeralUDPPortRange(uint16(cfg.RTPPortMin), uint16(cfg.RTPPortMax)); err != nil {
			return nil, fmt.Errorf("mediaworker: invalid RTP port range: %w", err)
		}
	}
	if cfg.WebRTCAnnounced != "" {
		settingEngine.SetNAT1To1IPs([]string{cfg.WebRTCAnnounced}, webrtc.ICECandidateTypeHost)
	}

	mediaEngine := &webrtc.MediaEngine{}
	codecs, caps, err := registerCodecs(mediaEngine, cfg.RouterCodecs)
	if err != nil {
		return nil, err
	}

	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine), webrtc.WithMediaEngine(mediaEngine))

	st := gobreaker.Settings{
		Name:        "mediaworker",
		MaxRequests: 3,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
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
			metrics.CircuitBreakerState.WithLabelValues("mediaworker").Set(stateVal)
		},
	}

	return &Engine{
		api:     api,
		cfg:     cfg,
		cb:      gobreaker.NewCircuitBreaker(st),
		codecs:  codecs,
		caps:    caps,
		iceURLs: cfg.ICEServers,
		alive:   true,
		died:    make(chan struct{}),
	}, nil
}

// registerCodecs parses "audio/opus", "video/VP8"-shaped descriptors into
// pion codec parameters and the facade's opaque RtpCapabilities mirror.
func registerCodecs(me *webrtc.MediaEngine, descriptors []string) ([]webrtc.RTPCodecParameters, RtpCapabilities, error) {
	var codecs []webrtc.RTPCodecParameters
	var caps RtpCapabilities
	payloadType := uint8(96)

	for _, d := range descriptors {
		parts := strings.SplitN(d, "/", 2)
		if len(parts) != 2 {
			return nil, RtpCapabilities{}, fmt.Errorf("mediaworker: invalid codec descriptor %q", d)
		}
		kindStr, mime := parts[0], d

		var kind webrtc.RTPCodecType
		var clockRate uint32
		var channels uint16
		switch kindStr {
		case "audio":
			kind = webrtc.RTPCodecTypeAudio
			clockRate = 48000
			channels = 2
		case "video":
			kind = webrtc.RTPCodecTypeVideo
			clockRate = 90000
		default:
			return nil, RtpCapabilities{}, fmt.Errorf("mediaworker: unknown codec kind %q", kindStr)
		}

		param := webrtc.RTPCodecParameters{
			RTPCodecCapability: webrtc.RTPCodecCapability{
				MimeType:  mime,
				ClockRate: clockRate,
				Channels:  channels,
			},
			PayloadType: webrtc.PayloadType(payloadType),
		}
		if err := me.RegisterCodec(param, kind); err != nil {
			return nil, RtpCapabilities{}, fmt.Errorf("mediaworker: register codec %q: %w", mime, err)
		}
		codecs = append(codecs, param)

		facadeKind := KindAudio
		if kind == webrtc.RTPCodecTypeVideo {
			facadeKind = KindVideo
		}
		caps.Codecs = append(caps.Codecs, CodecCapability{
			Kind:        facadeKind,
			MimeType:    mime,
			ClockRate:   clockRate,
			Channels:    channels,
			PayloadType: payloadType,
		})
		payloadType++
	}

	return codecs, caps, nil
}

// CreateRouter creates a Router, the only Engine call that is gobreaker
// guarded on its own. It needs no remote call in this in-process engine,
// but the wrapping is kept so the circuit trips consistently if a future
// swap to a real co-process reintroduces real latency and failure.
func (e *Engine) CreateRouter(ctx context.Context) (Router, error) {
	result, err := e.cb.Execute(func() (interface{}, error) {
		return e.newRouter(), nil
	})
	if err != nil {
		metrics.MediaWorkerCalls.WithLabelValues("createRouter", "error").Inc()
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("mediaworker").Inc()
		}
		return nil, err
	}
	metrics.MediaWorkerCalls.WithLabelValues("createRouter", "ok").Inc()
	return result.(Router), nil
}

func (e *Engine) newRouter() *router {
	return &router{
		id:            uuid.NewString(),
		api:           e.api,
		caps:          e.caps,
		ice:           e.iceURLs,
		producerKinds: make(map[string]Kind),
	}
}

// IsAlive satisfies internal/health.MediaWorkerChecker.
func (e *Engine) IsAlive(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alive
}

// Died returns a channel closed exactly once when the engine reports the
// fatal worker-died signal.
func (e *Engine) Died() <-chan struct{} {
	return e.died
}

// markDied flips the engine to not-alive and fires Died() once. Nothing in
// this module calls it, so this reference engine never reports the fatal
// signal on its own.
func (e *Engine) markDied(ctx context.Context, cause error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.alive {
		return
	}
	e.alive = false
	metrics.MediaWorkerDied.Inc()
	logging.Error(ctx, "media worker died", zap.Error(cause))
	close(e.died)
}
