package mediaworker

import (
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// trackFanout forwards the RTP stream of a single Producer to every
// Consumer currently subscribed to it: one inbound remote track, N
// outbound local tracks, one forwarding loop.
type trackFanout struct {
	mu     sync.RWMutex
	remote *webrtc.TrackRemote
	locals map[string]*webrtc.TrackLocalStaticRTP // keyed by consumer id

	closeOnce sync.Once
	closed    chan struct{}
}

func newTrackFanout() *trackFanout {
	return &trackFanout{
		locals: make(map[string]*webrtc.TrackLocalStaticRTP),
		closed: make(chan struct{}),
	}
}

// bind attaches the real inbound track once the send transport's peer
// connection reports one (pc.OnTrack), and starts the forwarding loop.
func (f *trackFanout) bind(remote *webrtc.TrackRemote) {
	f.mu.Lock()
	f.remote = remote
	f.mu.Unlock()
	go f.readLoop()
}

// attach creates a local track fed by this fanout and adds it to a
// consuming peer's recv transport.
func (f *trackFanout) attach(pc *webrtc.PeerConnection, consumerID string, codec webrtc.RTPCodecCapability, streamID string) (*webrtc.TrackLocalStaticRTP, error) {
	local, err := webrtc.NewTrackLocalStaticRTP(codec, consumerID, streamID)
	if err != nil {
		return nil, err
	}
	sender, err := pc.AddTrack(local)
	if err != nil {
		return nil, err
	}
	go drainRTCP(sender)

	f.mu.Lock()
	f.locals[consumerID] = local
	f.mu.Unlock()
	return local, nil
}

func (f *trackFanout) detach(consumerID string) {
	f.mu.Lock()
	delete(f.locals, consumerID)
	f.mu.Unlock()
}

func (f *trackFanout) close() {
	f.closeOnce.Do(func() { close(f.closed) })
}

// readLoop copies RTP packets from the bound remote track to every
// attached local track, until close() or the remote track errors out.
func (f *trackFanout) readLoop() {
	buf := make([]byte, 1500)
	for {
		select {
		case <-f.closed:
			return
		default:
		}

		f.mu.RLock()
		remote := f.remote
		f.mu.RUnlock()
		if remote == nil {
			return
		}

		n, _, err := remote.Read(buf)
		if err != nil {
			return
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}

		f.mu.RLock()
		for _, local := range f.locals {
			clone := *pkt
			if pkt.Payload != nil {
				clone.Payload = append([]byte(nil), pkt.Payload...)
			}
			_ = local.WriteRTP(&clone)
		}
		f.mu.RUnlock()
	}
}

// drainRTCP reads and discards RTCP on a sender, which pion requires to
// keep the underlying SRTCP session from filling its buffer.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func facadeKind(t webrtc.RTPCodecType) Kind {
	if t == webrtc.RTPCodecTypeVideo {
		return KindVideo
	}
	return KindAudio
}
