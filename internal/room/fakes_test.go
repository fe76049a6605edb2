package room

import (
	"context"
	"strconv"
	"sync"

	"github.com/Aryog/VibezLive-sub000/internal/mediaworker"
	"github.com/Aryog/VibezLive-sub000/internal/registry"
)

// fakeRouter, fakeTransport, fakeProducer, fakeConsumer are minimal
// in-memory stand-ins for the mediaworker facade interfaces, used so room
// tests exercise state transitions without touching the pion-backed
// reference engine.

type fakeRouter struct {
	id         string
	closed     bool
	canConsume bool
}

func newFakeRouter(id string) *fakeRouter {
	return &fakeRouter{id: id, canConsume: true}
}

func (r *fakeRouter) ID() string { return r.id }
func (r *fakeRouter) RtpCapabilities() mediaworker.RtpCapabilities {
	return mediaworker.RtpCapabilities{Codecs: []mediaworker.CodecCapability{{Kind: mediaworker.KindAudio, MimeType: "audio/opus"}}}
}
func (r *fakeRouter) CanConsume(producerID string, caps mediaworker.RtpCapabilities) bool {
	return r.canConsume
}
func (r *fakeRouter) CreateWebRtcTransport(ctx context.Context) (mediaworker.Transport, error) {
	return newFakeTransport("transport-" + producerCounter.next()), nil
}
func (r *fakeRouter) Close(ctx context.Context) error {
	r.closed = true
	return nil
}

type idCounter struct {
	mu sync.Mutex
	n  int
}

func (c *idCounter) next() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return strconv.Itoa(c.n)
}

var producerCounter = &idCounter{}

type fakeTransport struct {
	id        string
	params    mediaworker.TransportParams
	closed    bool
	onClose   func()
	connected bool
}

func newFakeTransport(id string) *fakeTransport {
	return &fakeTransport{id: id, params: mediaworker.TransportParams{ID: id}}
}

func (t *fakeTransport) ID() string                          { return t.id }
func (t *fakeTransport) Params() mediaworker.TransportParams { return t.params }
func (t *fakeTransport) Connect(ctx context.Context, dtls mediaworker.DtlsParameters) error {
	t.connected = true
	return nil
}
func (t *fakeTransport) Produce(ctx context.Context, kind mediaworker.Kind, rtp mediaworker.RtpParameters, appData mediaworker.AppData) (mediaworker.Producer, error) {
	return newFakeProducer("producer-"+producerCounter.next(), kind, appData), nil
}
func (t *fakeTransport) Consume(ctx context.Context, producer mediaworker.Producer, caps mediaworker.RtpCapabilities) (mediaworker.Consumer, error) {
	return newFakeConsumer("consumer-"+producerCounter.next(), producer), nil
}
func (t *fakeTransport) Close(ctx context.Context) error {
	t.closed = true
	if t.onClose != nil {
		t.onClose()
	}
	return nil
}
func (t *fakeTransport) OnClose(fn func()) { t.onClose = fn }

// fireClose simulates the media worker invoking the close callback
// asynchronously (e.g. a remote dtlsstatechange=closed event), without
// going through Close itself.
func (t *fakeTransport) fireClose() {
	if t.onClose != nil {
		t.onClose()
	}
}

type fakeProducer struct {
	id      string
	kind    mediaworker.Kind
	appData mediaworker.AppData
	closed  bool
	onClose func()
}

func newFakeProducer(id string, kind mediaworker.Kind, appData mediaworker.AppData) *fakeProducer {
	return &fakeProducer{id: id, kind: kind, appData: appData}
}

func (p *fakeProducer) ID() string                   { return p.id }
func (p *fakeProducer) Kind() mediaworker.Kind       { return p.kind }
func (p *fakeProducer) AppData() mediaworker.AppData { return p.appData }
func (p *fakeProducer) Close(ctx context.Context) error {
	p.closed = true
	if p.onClose != nil {
		p.onClose()
	}
	return nil
}
func (p *fakeProducer) OnClose(fn func()) { p.onClose = fn }
func (p *fakeProducer) fireClose() {
	if p.onClose != nil {
		p.onClose()
	}
}

type fakeConsumer struct {
	id               string
	producer         mediaworker.Producer
	closed           bool
	resumed          bool
	onProducerClose  func()
	onTransportClose func()
}

func newFakeConsumer(id string, producer mediaworker.Producer) *fakeConsumer {
	return &fakeConsumer{id: id, producer: producer}
}

func (c *fakeConsumer) ID() string             { return c.id }
func (c *fakeConsumer) ProducerID() string     { return c.producer.ID() }
func (c *fakeConsumer) Kind() mediaworker.Kind { return c.producer.Kind() }
func (c *fakeConsumer) RtpParameters() mediaworker.RtpParameters {
	return mediaworker.RtpParameters{MimeType: "audio/opus"}
}
func (c *fakeConsumer) Type() mediaworker.ConsumerType { return mediaworker.ConsumerTypeSimple }
func (c *fakeConsumer) ProducerPaused() bool           { return false }
func (c *fakeConsumer) Resume(ctx context.Context) error {
	c.resumed = true
	return nil
}
func (c *fakeConsumer) Close(ctx context.Context) error {
	c.closed = true
	return nil
}
func (c *fakeConsumer) OnProducerClose(fn func())  { c.onProducerClose = fn }
func (c *fakeConsumer) OnTransportClose(fn func()) { c.onTransportClose = fn }
func (c *fakeConsumer) fireProducerClose() {
	if c.onProducerClose != nil {
		c.onProducerClose()
	}
}
func (c *fakeConsumer) fireTransportClose() {
	if c.onTransportClose != nil {
		c.onTransportClose()
	}
}

// fakeBroadcaster records every Send/Broadcast call for assertions.
type fakeBroadcaster struct {
	mu         sync.Mutex
	sent       []sentEvent
	broadcasts []broadcastEvent
}

type sentEvent struct {
	peerID  registry.PeerID
	event   string
	payload any
}

type broadcastEvent struct {
	roomID  registry.RoomID
	exclude registry.PeerID
	event   string
	payload any
}

func newFakeBroadcaster() *fakeBroadcaster { return &fakeBroadcaster{} }

func (b *fakeBroadcaster) Send(peerID registry.PeerID, event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sentEvent{peerID: peerID, event: event, payload: payload})
}

func (b *fakeBroadcaster) Broadcast(roomID registry.RoomID, exclude registry.PeerID, event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcasts = append(b.broadcasts, broadcastEvent{roomID: roomID, exclude: exclude, event: event, payload: payload})
}

func (b *fakeBroadcaster) sentEvents() []sentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]sentEvent, len(b.sent))
	copy(out, b.sent)
	return out
}

func (b *fakeBroadcaster) broadcastEvents() []broadcastEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]broadcastEvent, len(b.broadcasts))
	copy(out, b.broadcasts)
	return out
}
