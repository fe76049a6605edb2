// Package mediaworker is a thin, business-logic-free abstraction over
// router/transport/producer/consumer primitives. The rest of the service
// only ever sees these interfaces; Engine backs them with an in-process
// github.com/pion/webrtc/v4 reference engine rather than a native
// co-process, so the module is fully self-contained for development and
// testing.
package mediaworker

import "context"

// RtpCapabilities is the opaque router-side codec negotiation structure a
// peer needs to decide what it can consume.
type RtpCapabilities struct {
	Codecs []CodecCapability `json:"codecs"`
}

// CodecCapability describes one negotiated codec.
type CodecCapability struct {
	Kind        Kind   `json:"kind"`
	MimeType    string `json:"mimeType"`
	ClockRate   uint32 `json:"clockRate"`
	Channels    uint16 `json:"channels,omitempty"`
	PayloadType uint8  `json:"payloadType"`
}

// Kind is the media kind of a producer/consumer.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// RtpParameters is the opaque per-producer/consumer RTP encoding
// description.
type RtpParameters struct {
	MimeType    string `json:"mimeType"`
	ClockRate   uint32 `json:"clockRate"`
	PayloadType uint8  `json:"payloadType"`
	Ssrc        uint32 `json:"ssrc,omitempty"`
}

// AppData is opaque producer metadata passed through unexamined by the
// facade; internal/room is the layer that gives mediaType contractual
// meaning.
type AppData map[string]any

// IceParameters is the ICE credential half of a transport's handshake
// parameters.
type IceParameters struct {
	UsernameFragment string `json:"usernameFragment"`
	Password         string `json:"password"`
}

// IceCandidate is one gathered local ICE candidate.
type IceCandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	IP         string `json:"ip"`
	Protocol   string `json:"protocol"`
	Port       uint16 `json:"port"`
	Type       string `json:"type"`
}

// DtlsFingerprint is one certificate fingerprint entry of DtlsParameters.
type DtlsFingerprint struct {
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// DtlsParameters is the DTLS handshake half of a transport's parameters,
// both the locally generated side (returned from CreateWebRtcTransport) and
// the remote side supplied back through Connect.
type DtlsParameters struct {
	Role         string            `json:"role,omitempty"` // "client" | "server"
	Fingerprints []DtlsFingerprint `json:"fingerprints"`
}

// TransportParams is the handshake payload handed back to the signaling
// layer on createWebRtcTransport.
type TransportParams struct {
	ID             string         `json:"id"`
	IceParameters  IceParameters  `json:"iceParameters"`
	IceCandidates  []IceCandidate `json:"iceCandidates"`
	DtlsParameters DtlsParameters `json:"dtlsParameters"`
}

// ConsumerType mirrors the media-worker's consumer type string ("simple",
// "simulcast", "svc", "pipe"); the reference engine only ever produces
// "simple".
type ConsumerType string

const ConsumerTypeSimple ConsumerType = "simple"

// DiedHandler is the callback shape for the fatal worker-died signal.
// Engine does not invoke one; it reports the signal by closing the channel
// returned by Died().
type DiedHandler func()

// Router owns exactly one Room's media-plane state.
type Router interface {
	ID() string
	RtpCapabilities() RtpCapabilities
	CanConsume(producerID string, caps RtpCapabilities) bool
	CreateWebRtcTransport(ctx context.Context) (Transport, error)
	Close(ctx context.Context) error
}

// Transport is a send or recv WebRTC transport owned by one Peer.
type Transport interface {
	ID() string
	Params() TransportParams
	Connect(ctx context.Context, dtls DtlsParameters) error
	Produce(ctx context.Context, kind Kind, rtp RtpParameters, appData AppData) (Producer, error)
	Consume(ctx context.Context, producer Producer, caps RtpCapabilities) (Consumer, error)
	Close(ctx context.Context) error
	// OnClose registers a callback fired exactly once, when the transport's
	// ICE connection state becomes closed, failed or disconnected, or Close
	// is called. It is the event
	// subscription point the room state machine uses for automatic cleanup.
	OnClose(fn func())
}

// Producer is a published media source.
type Producer interface {
	ID() string
	Kind() Kind
	AppData() AppData
	Close(ctx context.Context) error
	// OnClose fires once when the producer closes, for either reason: an
	// explicit closeProducer or the transport closing underneath it.
	OnClose(fn func())
}

// Consumer is a paused-by-default sink bound to one Producer.
type Consumer interface {
	ID() string
	ProducerID() string
	Kind() Kind
	RtpParameters() RtpParameters
	Type() ConsumerType
	ProducerPaused() bool
	Resume(ctx context.Context) error
	Close(ctx context.Context) error
	// OnProducerClose fires once when the source producer closes.
	OnProducerClose(fn func())
	// OnTransportClose fires once when the consuming peer's recv transport
	// closes underneath it.
	OnTransportClose(fn func())
}
