package mediaworker

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// router is the in-process Router backing. It owns exactly one room's
// media-plane state: the shared codec capability set and the producers
// published into it, which is all Router.CanConsume needs to answer.
type router struct {
	id   string
	api  *webrtc.API
	caps RtpCapabilities
	ice  []string

	mu            sync.Mutex
	producerKinds map[string]Kind
	closed        bool
}

func (r *router) ID() string { return r.id }

func (r *router) RtpCapabilities() RtpCapabilities { return r.caps }

// CanConsume reduces Router's native codec-compatibility check to a
// capability-intersection test: the producer's kind must be among the
// kinds the requesting peer's rtpCapabilities declare support for. A real
// media worker additionally validates per-codec parameters; this reference
// engine checks only the kind, not codec parameters.
func (r *router) CanConsume(producerID string, caps RtpCapabilities) bool {
	r.mu.Lock()
	kind, ok := r.producerKinds[producerID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	for _, c := range caps.Codecs {
		if c.Kind == kind {
			return true
		}
	}
	return false
}

func (r *router) registerProducer(id string, kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producerKinds[id] = kind
}

func (r *router) unregisterProducer(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.producerKinds, id)
}

func (r *router) iceServers() []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(r.ice))
	for _, url := range r.ice {
		servers = append(servers, webrtc.ICEServer{URLs: []string{url}})
	}
	return servers
}

// CreateWebRtcTransport creates one send-or-recv transport. The caller
// decides direction; the facade itself is direction-agnostic.
func (r *router) CreateWebRtcTransport(ctx context.Context) (Transport, error) {
	pc, err := r.api.NewPeerConnection(webrtc.Configuration{ICEServers: r.iceServers()})
	if err != nil {
		return nil, err
	}
	return newTransport(uuid.NewString(), pc, r)
}

func (r *router) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
