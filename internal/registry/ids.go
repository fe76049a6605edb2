// Package registry holds the in-memory tables of Peers, Transports,
// Producers, and Consumers for a room, plus the secondary indexes the room
// state machine needs to enforce its invariants. The registry never locks
// itself — every Table is only ever touched from inside its owning room's
// single-writer region.
package registry

// PeerID is a signaling connection id; equal to the Peer identified by it.
type PeerID string

// RoomID identifies a rendezvous scope. Opaque, caller-supplied.
type RoomID string

// TransportID identifies a media transport created by the media worker.
type TransportID string

// ProducerID identifies a published media source.
type ProducerID string

// ConsumerID identifies a paused-by-default media sink.
type ConsumerID string

// MediaKind is the media type of a Producer/Consumer.
type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

// Direction distinguishes a Peer's send transport (carries its Producers)
// from its recv transport (carries its Consumers).
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

// MediaSourceType is appData.mediaType. It is part of the wire contract,
// not an opaque passthrough, because peers rely on it to tell camera
// streams from screen-share streams.
type MediaSourceType string

const (
	MediaSourceCamera MediaSourceType = "camera"
	MediaSourceScreen MediaSourceType = "screen"
)

// AppData is the producer-supplied metadata attached at produce() time.
type AppData struct {
	MediaType MediaSourceType `json:"mediaType,omitempty"`
}

// NormalizedMediaType returns the contractual default (camera) when the
// field was omitted.
func (a AppData) NormalizedMediaType() MediaSourceType {
	if a.MediaType == "" {
		return MediaSourceCamera
	}
	return a.MediaType
}
