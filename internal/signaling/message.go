package signaling

import "encoding/json"

// Frame is the wire shape of one signaling message: a JSON object
// accepted in either the `{event, data, ack?}` convention or the
// `{type, data}` convention. Name() normalizes whichever shape was sent;
// outbound frames always populate Event.
type Frame struct {
	Event string          `json:"event,omitempty"`
	Type  string          `json:"type,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   string          `json:"ack,omitempty"`
}

// Name returns the message name regardless of which wire convention sent
// it.
func (f Frame) Name() string {
	if f.Event != "" {
		return f.Event
	}
	return f.Type
}

// Inbound message names.
const (
	MsgJoinRoom              = "joinRoom"
	MsgCreateWebRtcTransport = "createWebRtcTransport"
	MsgConnectTransport      = "connectTransport"
	MsgProduce               = "produce"
	MsgConsume               = "consume"
	MsgResumeConsumer        = "resumeConsumer"
	MsgCloseProducer         = "closeProducer"
	MsgKickPeer              = "kickPeer"
	MsgRequestSync           = "requestSync"
)

// --- Inbound payloads ---

type joinRoomIn struct {
	RoomID string `json:"roomId"`
}

type createWebRtcTransportIn struct {
	Sender bool `json:"sender"`
}

type connectTransportIn struct {
	DtlsParameters json.RawMessage `json:"dtlsParameters"`
	Sender         bool            `json:"sender"`
}

type produceIn struct {
	Kind          string          `json:"kind"`
	RtpParameters json.RawMessage `json:"rtpParameters"`
	AppData       appDataIn       `json:"appData"`
}

type appDataIn struct {
	MediaType string `json:"mediaType,omitempty"`
}

type consumeIn struct {
	ProducerID      string          `json:"producerId"`
	RtpCapabilities json.RawMessage `json:"rtpCapabilities"`
}

type resumeConsumerIn struct {
	ConsumerID string `json:"consumerId"`
}

type closeProducerIn struct {
	ProducerID string `json:"producerId"`
}

type kickPeerIn struct {
	PeerID string `json:"peerId"`
	RoomID string `json:"roomId"`
}

type requestSyncIn struct {
	PeerID string `json:"peerId"`
}

// --- Outbound reply payloads ---

type joinRoomOut struct {
	RouterRtpCapabilities any               `json:"routerRtpCapabilities"`
	CurrentProducers      []currentProducer `json:"currentProducers"`
}

type currentProducer struct {
	ProducerID string    `json:"producerId"`
	PeerID     string    `json:"peerId"`
	Kind       string    `json:"kind"`
	AppData    appDataIn `json:"appData,omitempty"`
}

type createWebRtcTransportOut struct {
	Params any `json:"params"`
}

type produceOut struct {
	ProducerID string `json:"producerId"`
}

type consumeOut struct {
	Params consumeParamsOut `json:"params"`
}

type consumeParamsOut struct {
	ID             string `json:"id"`
	ProducerID     string `json:"producerId"`
	PeerID         string `json:"peerId"`
	Kind           string `json:"kind"`
	RtpParameters  any    `json:"rtpParameters"`
	Type           string `json:"type"`
	ProducerPaused bool   `json:"producerPaused"`
}

// errorOut is the structured error reply. A request-bearing message gets
// one when its payload is invalid or its operation fails, as does any
// message from a session that has not joined a room and any unknown
// message name. The fire-and-forget forms (connectTransport,
// resumeConsumer, closeProducer, kickPeer, requestSync) do not get one for
// an invalid payload or a failed operation: those are logged and dropped.
type errorOut struct {
	Error string `json:"error"`
}
