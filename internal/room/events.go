package room

import "github.com/Aryog/VibezLive-sub000/internal/registry"

// Broadcaster delivers outbound events to peer sessions. Implemented by
// internal/signaling; Room never imports signaling, so the two packages
// reference each other's entities by id only.
type Broadcaster interface {
	// Send delivers one event to a single peer's connection, if it is still
	// live. Used for requestSync and per-consumer producerClosed.
	Send(peerID registry.PeerID, event string, payload any)
	// Broadcast delivers one event to every peer in roomID except exclude
	// (exclude == "" broadcasts to everyone).
	Broadcast(roomID registry.RoomID, exclude registry.PeerID, event string, payload any)
}

// Outbound event names.
const (
	EventNewPeer        = "newPeer"
	EventPeerLeft       = "peerLeft"
	EventNewProducer    = "newProducer"
	EventProducerClosed = "producerClosed"
	EventRequestSync    = "requestSync"
)

// NewPeerPayload is the newPeer{peerId} broadcast.
type NewPeerPayload struct {
	PeerID string `json:"peerId"`
}

// PeerLeftPayload is the peerLeft{peerId} broadcast.
type PeerLeftPayload struct {
	PeerID string `json:"peerId"`
}

// NewProducerPayload is the newProducer{producerId, peerId, kind, appData}
// broadcast.
type NewProducerPayload struct {
	ProducerID string           `json:"producerId"`
	PeerID     string           `json:"peerId"`
	Kind       string           `json:"kind"`
	AppData    registry.AppData `json:"appData,omitempty"`
}

// ProducerClosedPayload is the producerClosed{producerId, consumerId?}
// broadcast — consumerId is omitted when sent as a general fan-out rather
// than addressed to one consuming peer (this module always addresses it,
// but the field stays optional on the wire).
type ProducerClosedPayload struct {
	ProducerID string `json:"producerId"`
	ConsumerID string `json:"consumerId,omitempty"`
}

// RequestSyncPayload is the requestSync hint forwarded to one peer.
type RequestSyncPayload struct {
	PeerID string `json:"peerId"`
}

// ProducerInfo is one entry of joinRoom's currentProducers[] reply list.
type ProducerInfo struct {
	ProducerID string           `json:"producerId"`
	PeerID     string           `json:"peerId"`
	Kind       string           `json:"kind"`
	AppData    registry.AppData `json:"appData,omitempty"`
}
