package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCloser struct{ closed bool }

func (f *fakeCloser) Close(ctx context.Context) error {
	f.closed = true
	return nil
}

type fakeConsumerHandle struct {
	fakeCloser
	resumed bool
}

func (f *fakeConsumerHandle) Resume(ctx context.Context) error {
	f.resumed = true
	return nil
}

func TestAddPeerIsIdempotent(t *testing.T) {
	tbl := NewTable()
	_, existed := tbl.AddPeer("peer-a")
	assert.False(t, existed)

	_, existed = tbl.AddPeer("peer-a")
	assert.True(t, existed, "a repeated join must report the existing record, per join() idempotency")
	assert.Equal(t, 1, tbl.PeerCount())
}

func TestOtherPeersExcludesGivenPeer(t *testing.T) {
	tbl := NewTable()
	tbl.AddPeer("peer-a")
	tbl.AddPeer("peer-b")
	tbl.AddPeer("peer-c")

	others := tbl.OtherPeers("peer-a")
	assert.ElementsMatch(t, []PeerID{"peer-b", "peer-c"}, others)
}

func TestTransportSlotIsPerPeerPerDirection(t *testing.T) {
	tbl := NewTable()
	tbl.AddPeer("peer-a")

	send := &TransportEntry{ID: "t-send", PeerID: "peer-a", Direction: DirectionSend, Handle: &fakeCloser{}}
	recv := &TransportEntry{ID: "t-recv", PeerID: "peer-a", Direction: DirectionRecv, Handle: &fakeCloser{}}
	tbl.AddTransport(send)
	tbl.AddTransport(recv)

	got, ok := tbl.PeerTransport("peer-a", DirectionSend)
	require.True(t, ok)
	assert.Equal(t, TransportID("t-send"), got.ID)

	got, ok = tbl.PeerTransport("peer-a", DirectionRecv)
	require.True(t, ok)
	assert.Equal(t, TransportID("t-recv"), got.ID)
}

func TestRemoveTransportClearsOwningPeerSlot(t *testing.T) {
	tbl := NewTable()
	tbl.AddPeer("peer-a")
	tbl.AddTransport(&TransportEntry{ID: "t-send", PeerID: "peer-a", Direction: DirectionSend, Handle: &fakeCloser{}})

	_, ok := tbl.RemoveTransport("t-send")
	require.True(t, ok)

	_, ok = tbl.PeerTransport("peer-a", DirectionSend)
	assert.False(t, ok)
	_, ok = tbl.GetTransport("t-send")
	assert.False(t, ok)
}

func TestProducerToPeerIndexTracksOwner(t *testing.T) {
	tbl := NewTable()
	tbl.AddPeer("peer-a")
	tbl.AddProducer(&ProducerEntry{ID: "prod-1", PeerID: "peer-a", Kind: KindVideo, Handle: &fakeCloser{}})

	owner, ok := tbl.ProducerOwner("prod-1")
	require.True(t, ok)
	assert.Equal(t, PeerID("peer-a"), owner)

	peer, _ := tbl.GetPeer("peer-a")
	assert.Contains(t, peer.ProducerIDs, ProducerID("prod-1"))
}

func TestRemoveProducerPurgesEveryIndex(t *testing.T) {
	tbl := NewTable()
	tbl.AddPeer("peer-a")
	tbl.AddPeer("peer-b")
	tbl.AddProducer(&ProducerEntry{ID: "prod-1", PeerID: "peer-a", Kind: KindAudio, Handle: &fakeCloser{}})
	tbl.AddConsumer(&ConsumerEntry{ID: "cons-1", PeerID: "peer-b", ProducerID: "prod-1", Handle: &fakeConsumerHandle{}})

	_, ok := tbl.RemoveProducer("prod-1")
	require.True(t, ok)

	_, ok = tbl.GetProducer("prod-1")
	assert.False(t, ok)
	_, ok = tbl.ProducerOwner("prod-1")
	assert.False(t, ok)
	peer, _ := tbl.GetPeer("peer-a")
	assert.NotContains(t, peer.ProducerIDs, ProducerID("prod-1"))
	// consumersByProducer is purged too, but the dangling consumer entry
	// itself is the Room State Machine's job to close and remove first
	// before the producer itself goes away.
	assert.Empty(t, tbl.ConsumersForProducer("prod-1"))
}

func TestConsumersForProducerEnumeratesBeforeRemoval(t *testing.T) {
	tbl := NewTable()
	tbl.AddPeer("peer-a")
	tbl.AddPeer("peer-b")
	tbl.AddPeer("peer-c")
	tbl.AddProducer(&ProducerEntry{ID: "prod-1", PeerID: "peer-a", Kind: KindVideo, Handle: &fakeCloser{}})
	tbl.AddConsumer(&ConsumerEntry{ID: "cons-b", PeerID: "peer-b", ProducerID: "prod-1", Handle: &fakeConsumerHandle{}})
	tbl.AddConsumer(&ConsumerEntry{ID: "cons-c", PeerID: "peer-c", ProducerID: "prod-1", Handle: &fakeConsumerHandle{}})

	consumers := tbl.ConsumersForProducer("prod-1")
	assert.Len(t, consumers, 2)

	tbl.RemoveConsumer("cons-b")
	assert.Len(t, tbl.ConsumersForProducer("prod-1"), 1)

	tbl.RemoveConsumer("cons-c")
	assert.Empty(t, tbl.ConsumersForProducer("prod-1"))
}

func TestRemoveConsumerClearsOwningPeerSet(t *testing.T) {
	tbl := NewTable()
	tbl.AddPeer("peer-a")
	tbl.AddProducer(&ProducerEntry{ID: "prod-1", PeerID: "other", Kind: KindAudio, Handle: &fakeCloser{}})
	tbl.AddConsumer(&ConsumerEntry{ID: "cons-1", PeerID: "peer-a", ProducerID: "prod-1", Handle: &fakeConsumerHandle{}})

	tbl.RemoveConsumer("cons-1")

	peer, _ := tbl.GetPeer("peer-a")
	assert.NotContains(t, peer.ConsumerIDs, ConsumerID("cons-1"))
	_, ok := tbl.GetConsumer("cons-1")
	assert.False(t, ok)
}

func TestProducersExceptExcludesOwnProducers(t *testing.T) {
	tbl := NewTable()
	tbl.AddPeer("peer-a")
	tbl.AddPeer("peer-b")
	tbl.AddProducer(&ProducerEntry{ID: "prod-a", PeerID: "peer-a", Kind: KindAudio, Handle: &fakeCloser{}})
	tbl.AddProducer(&ProducerEntry{ID: "prod-b", PeerID: "peer-b", Kind: KindVideo, Handle: &fakeCloser{}})

	others := tbl.ProducersExcept("peer-a")
	require.Len(t, others, 1)
	assert.Equal(t, ProducerID("prod-b"), others[0].ID)
}

func TestIsEmptyRequiresNoPeersProducersOrTransports(t *testing.T) {
	tbl := NewTable()
	assert.True(t, tbl.IsEmpty())

	tbl.AddPeer("peer-a")
	assert.False(t, tbl.IsEmpty())

	tbl.RemovePeer("peer-a")
	assert.True(t, tbl.IsEmpty())
}

func TestAppDataNormalizedMediaTypeDefaultsToCamera(t *testing.T) {
	assert.Equal(t, MediaSourceCamera, AppData{}.NormalizedMediaType())
	assert.Equal(t, MediaSourceScreen, AppData{MediaType: MediaSourceScreen}.NormalizedMediaType())
}
