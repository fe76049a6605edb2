package mediaworker

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// transport backs a single send-or-recv WebRTC transport owned by one
// Peer. Its handshake parameters are read straight off the underlying pion
// ICE/DTLS transports so a real ICE agent and DTLS state machine back
// every transport this engine hands out, even though no actual remote
// browser is driving the other side in this reference engine.
type transport struct {
	id     string
	pc     *webrtc.PeerConnection
	router *router

	iceParams  IceParameters
	dtlsParams DtlsParameters

	mu            sync.Mutex
	iceCandidates []IceCandidate
	producers     map[string]*producer
	consumers     map[string]*consumer
	pendingByKind map[Kind]*producer
	onClose       []func()
	closed        bool
}

func newTransport(id string, pc *webrtc.PeerConnection, r *router) (*transport, error) {
	sctp := pc.SCTP()
	dtlsTransport := sctp.Transport()
	iceTransport := dtlsTransport.ICETransport()

	iceParams, err := iceTransport.GetLocalParameters()
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	dtlsParams, err := dtlsTransport.GetLocalParameters()
	if err != nil {
		_ = pc.Close()
		return nil, err
	}

	fingerprints := make([]DtlsFingerprint, 0, len(dtlsParams.Fingerprints))
	for _, f := range dtlsParams.Fingerprints {
		fingerprints = append(fingerprints, DtlsFingerprint{Algorithm: f.Algorithm, Value: f.Value})
	}

	t := &transport{
		id:     id,
		pc:     pc,
		router: r,
		iceParams: IceParameters{
			UsernameFragment: iceParams.UsernameFragment,
			Password:         iceParams.Password,
		},
		dtlsParams: DtlsParameters{
			Role:         dtlsParams.Role.String(),
			Fingerprints: fingerprints,
		},
		producers:     make(map[string]*producer),
		consumers:     make(map[string]*consumer),
		pendingByKind: make(map[Kind]*producer),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		t.mu.Lock()
		t.iceCandidates = append(t.iceCandidates, IceCandidate{
			Foundation: c.Foundation,
			Priority:   c.Priority,
			IP:         c.Address,
			Protocol:   c.Protocol.String(),
			Port:       c.Port,
			Type:       c.Typ.String(),
		})
		t.mu.Unlock()
	})

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		switch s {
		case webrtc.ICEConnectionStateClosed, webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateDisconnected:
			_ = t.Close(context.Background())
		}
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := facadeKind(remote.Kind())
		t.mu.Lock()
		p, ok := t.pendingByKind[kind]
		t.mu.Unlock()
		if ok {
			p.fanout.bind(remote)
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		_ = pc.Close()
		return nil, err
	}

	return t, nil
}

func (t *transport) ID() string { return t.id }

func (t *transport) Params() TransportParams {
	t.mu.Lock()
	candidates := make([]IceCandidate, len(t.iceCandidates))
	copy(candidates, t.iceCandidates)
	t.mu.Unlock()

	return TransportParams{
		ID:             t.id,
		IceParameters:  t.iceParams,
		IceCandidates:  candidates,
		DtlsParameters: t.dtlsParams,
	}
}

// Connect forwards the peer's own DTLS parameters. This reference engine
// never receives a real remote SDP offer (there is no browser on the other
// end), so there is nothing further to negotiate; recording the call is
// enough to satisfy the request/response contract.
func (t *transport) Connect(ctx context.Context, dtls DtlsParameters) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("mediaworker: transport closed")
	}
	return nil
}

func (t *transport) Produce(ctx context.Context, kind Kind, rtp RtpParameters, appData AppData) (Producer, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, errors.New("mediaworker: transport closed")
	}
	p := newProducer(uuid.NewString(), kind, rtp, appData)
	t.producers[p.id] = p
	t.pendingByKind[kind] = p
	t.mu.Unlock()

	t.router.registerProducer(p.id, kind)
	p.OnClose(func() {
		t.mu.Lock()
		delete(t.producers, p.id)
		t.mu.Unlock()
		t.router.unregisterProducer(p.id)
	})
	return p, nil
}

func (t *transport) Consume(ctx context.Context, producerIface Producer, caps RtpCapabilities) (Consumer, error) {
	prod, ok := producerIface.(*producer)
	if !ok {
		return nil, errors.New("mediaworker: producer not created by this engine")
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, errors.New("mediaworker: transport closed")
	}
	t.mu.Unlock()

	id := uuid.NewString()
	codecCap := webrtc.RTPCodecCapability{MimeType: prod.rtp.MimeType, ClockRate: prod.rtp.ClockRate}
	if _, err := prod.fanout.attach(t.pc, id, codecCap, prod.id); err != nil {
		return nil, err
	}

	c := newConsumer(id, prod, prod.rtp, func() { prod.fanout.detach(id) })
	prod.attachConsumer(c)

	t.mu.Lock()
	t.consumers[id] = c
	t.mu.Unlock()

	return c, nil
}

func (t *transport) OnClose(fn func()) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		go fn()
		return
	}
	t.onClose = append(t.onClose, fn)
	t.mu.Unlock()
}

func (t *transport) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	producers := make([]*producer, 0, len(t.producers))
	for _, p := range t.producers {
		producers = append(producers, p)
	}
	consumers := make([]*consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		consumers = append(consumers, c)
	}
	fns := t.onClose
	t.mu.Unlock()

	for _, p := range producers {
		_ = p.Close(ctx)
	}
	for _, c := range consumers {
		c.fireTransportClosed()
	}
	_ = t.pc.Close()
	for _, fn := range fns {
		fn()
	}
	return nil
}
