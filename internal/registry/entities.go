package registry

import (
	"context"

	"k8s.io/utils/set"
)

// Closer is satisfied by any media-worker handle that owns a resource which
// must be torn down when the registry purges it. Transport, Producer, and
// Consumer handles from internal/mediaworker all satisfy this structurally;
// the registry never imports the mediaworker package, so cross-references
// stay ids rather than owning handles.
type Closer interface {
	Close(ctx context.Context) error
}

// ConsumerHandle is a Closer that can additionally be resumed.
type ConsumerHandle interface {
	Closer
	Resume(ctx context.Context) error
}

// Peer is the per-connection record. It never stores a pointer to the
// client's signaling session; the dispatcher owns that separately and looks
// it up by PeerID.
type Peer struct {
	ID            PeerID
	SendTransport TransportID // "" when absent
	RecvTransport TransportID // "" when absent
	ProducerIDs   set.Set[ProducerID]
	ConsumerIDs   set.Set[ConsumerID]
}

func newPeer(id PeerID) *Peer {
	return &Peer{
		ID:          id,
		ProducerIDs: set.New[ProducerID](),
		ConsumerIDs: set.New[ConsumerID](),
	}
}

// TransportEntry is a live send or recv transport owned by one Peer.
type TransportEntry struct {
	ID        TransportID
	PeerID    PeerID
	Direction Direction
	Handle    Closer
}

// ProducerEntry is a published media source owned by the send transport of
// exactly one Peer.
type ProducerEntry struct {
	ID      ProducerID
	PeerID  PeerID
	Kind    MediaKind
	AppData AppData
	Handle  Closer
}

// ConsumerEntry is a paused-by-default sink bound to the recv transport of
// exactly one (consuming) Peer, referencing exactly one Producer.
type ConsumerEntry struct {
	ID         ConsumerID
	PeerID     PeerID
	ProducerID ProducerID
	Handle     ConsumerHandle
}
