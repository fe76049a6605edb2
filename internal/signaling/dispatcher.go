// Package signaling implements the dispatcher and per-connection peer
// sessions: it translates inbound wire frames into room state machine
// calls and translates room broadcasts back into outbound frames.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Aryog/VibezLive-sub000/internal/bus"
	"github.com/Aryog/VibezLive-sub000/internal/logging"
	"github.com/Aryog/VibezLive-sub000/internal/mediaworker"
	"github.com/Aryog/VibezLive-sub000/internal/metrics"
	"github.com/Aryog/VibezLive-sub000/internal/registry"
	"github.com/Aryog/VibezLive-sub000/internal/room"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// requestTimeout bounds every request/response signaling operation.
const requestTimeout = 10 * time.Second

// Dispatcher routes frames from every connected Session to the Room
// Registry, and implements room.Broadcaster so Rooms can fan events back
// out without importing this package.
type Dispatcher struct {
	registry *room.Registry
	busSvc   *bus.Service

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu              sync.RWMutex
	sessions        map[registry.PeerID]*Session
	subscribedRooms map[registry.RoomID]bool
	peerSubCancels  map[registry.PeerID]context.CancelFunc
}

// NewDispatcher constructs a Dispatcher. busSvc may be nil (single-instance
// mode). The Room Registry is supplied afterward via SetRegistry, since a
// Registry's Deps embeds the Broadcaster it reports back to — the two are
// mutually referential and must be wired in two steps at startup.
func NewDispatcher(busSvc *bus.Service) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		busSvc:          busSvc,
		ctx:             ctx,
		cancel:          cancel,
		sessions:        make(map[registry.PeerID]*Session),
		subscribedRooms: make(map[registry.RoomID]bool),
		peerSubCancels:  make(map[registry.PeerID]context.CancelFunc),
	}
}

// SetRegistry binds the Room Registry this Dispatcher routes frames into.
// Must be called once, before ServeWS starts accepting connections.
func (d *Dispatcher) SetRegistry(reg *room.Registry) {
	d.registry = reg
}

// Close stops every cross-instance subscription goroutine this Dispatcher
// started.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}

// --- room.Broadcaster ---

func (d *Dispatcher) Send(peerID registry.PeerID, event string, payload any) {
	d.mu.RLock()
	s := d.sessions[peerID]
	d.mu.RUnlock()
	if s != nil {
		s.sendEvent(event, payload)
	}
}

func (d *Dispatcher) Broadcast(roomID registry.RoomID, exclude registry.PeerID, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logging.Error(d.ctx, "failed to marshal broadcast payload", zap.String("event", event), zap.Error(err))
		return
	}
	d.localBroadcastRaw(roomID, exclude, event, data)
}

func (d *Dispatcher) localBroadcastRaw(roomID registry.RoomID, exclude registry.PeerID, event string, data json.RawMessage) {
	d.mu.RLock()
	targets := make([]*Session, 0, len(d.sessions))
	for id, s := range d.sessions {
		if id == exclude {
			continue
		}
		if s.RoomID() == roomID {
			targets = append(targets, s)
		}
	}
	d.mu.RUnlock()
	for _, s := range targets {
		s.sendFrame(Frame{Event: event, Data: data})
	}
}

// --- session registration ---

func (d *Dispatcher) register(s *Session) {
	d.mu.Lock()
	d.sessions[s.id] = s
	d.mu.Unlock()
	metrics.IncConnection()

	// Unicast events addressed to this peer may originate on another
	// instance; listen on the peer's direct channel for its whole life.
	if d.busSvc != nil {
		subCtx, cancel := context.WithCancel(d.ctx)
		d.mu.Lock()
		d.peerSubCancels[s.id] = cancel
		d.mu.Unlock()
		d.busSvc.SubscribeDirect(subCtx, string(s.id), &d.wg, func(p bus.PubSubPayload) {
			s.sendFrame(Frame{Event: p.Event, Data: p.Payload})
		})
	}
}

func (d *Dispatcher) unregister(s *Session) {
	d.mu.Lock()
	delete(d.sessions, s.id)
	cancel := d.peerSubCancels[s.id]
	delete(d.peerSubCancels, s.id)
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	metrics.DecConnection()
}

// subscribeRoom ensures this instance has one live Redis subscription per
// room it has a local member in, so broadcasts published by other
// instances reach sessions connected here.
func (d *Dispatcher) subscribeRoom(roomID registry.RoomID) {
	if d.busSvc == nil {
		return
	}
	d.mu.Lock()
	if d.subscribedRooms[roomID] {
		d.mu.Unlock()
		return
	}
	d.subscribedRooms[roomID] = true
	d.mu.Unlock()

	d.busSvc.Subscribe(d.ctx, string(roomID), &d.wg, func(p bus.PubSubPayload) {
		d.localBroadcastRaw(registry.RoomID(p.RoomID), registry.PeerID(p.SenderID), p.Event, p.Payload)
	})
}

// --- inbound frame handling ---

// handleFrame parses and routes one inbound frame. Every request-bearing
// message always gets exactly one reply (success or structured error). The
// fire-and-forget forms (connectTransport, resumeConsumer, closeProducer,
// kickPeer, requestSync) get no reply on success, and an invalid payload or
// a failed operation is logged and dropped; they are answered with an error
// only by requireJoined, when the session has not joined a room or its room
// no longer exists.
func (d *Dispatcher) handleFrame(s *Session, raw []byte) {
	pctx := logging.WithPeerID(d.ctx, string(s.id))
	if rid := s.RoomID(); rid != "" {
		pctx = logging.WithRoomID(pctx, string(rid))
	}

	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		logging.Warn(pctx, "dropping malformed frame", zap.Error(err))
		return
	}

	name := f.Name()
	if name == "" {
		logging.Warn(pctx, "dropping frame with no event/type")
		return
	}

	ctx, cancel := context.WithTimeout(pctx, requestTimeout)
	defer cancel()
	ctx, span := otel.Tracer("sfu/signaling").Start(ctx, name)
	defer span.End()

	start := time.Now()
	status := "ok"
	defer func() {
		metrics.SignalingEvents.WithLabelValues(name, status).Inc()
		metrics.SignalingLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	switch name {
	case MsgJoinRoom:
		status = d.handleJoinRoom(ctx, s, f)
	case MsgCreateWebRtcTransport:
		status = d.handleCreateTransport(ctx, s, f)
	case MsgConnectTransport:
		status = d.handleConnectTransport(ctx, s, f)
	case MsgProduce:
		status = d.handleProduce(ctx, s, f)
	case MsgConsume:
		status = d.handleConsume(ctx, s, f)
	case MsgResumeConsumer:
		status = d.handleResumeConsumer(ctx, s, f)
	case MsgCloseProducer:
		status = d.handleCloseProducer(ctx, s, f)
	case MsgKickPeer:
		status = d.handleKickPeer(ctx, s, f)
	case MsgRequestSync:
		status = d.handleRequestSync(ctx, s, f)
	default:
		status = "unknown"
		s.sendError(f.Ack, name, fmt.Sprintf("unknown message %q", name))
	}
}

// requireJoined gates the transport/produce/consume requests, which are
// only forwarded for sessions that have joined a room.
func (d *Dispatcher) requireJoined(s *Session, f Frame) (*room.Room, bool) {
	if s.State() != StateJoined {
		s.sendError(f.Ack, f.Name(), "peer has not joined a room")
		return nil, false
	}
	rm, ok := d.registry.Get(s.RoomID())
	if !ok {
		s.sendError(f.Ack, f.Name(), "room no longer exists")
		return nil, false
	}
	return rm, true
}

func (d *Dispatcher) handleJoinRoom(ctx context.Context, s *Session, f Frame) string {
	var in joinRoomIn
	if err := json.Unmarshal(f.Data, &in); err != nil || in.RoomID == "" {
		s.sendError(f.Ack, f.Name(), "invalid joinRoom payload")
		return "bad_request"
	}
	ctx = logging.WithRoomID(ctx, in.RoomID)

	rm, err := d.registry.GetOrCreate(ctx, registry.RoomID(in.RoomID))
	if err != nil {
		return d.replyErr(s, f, err)
	}

	result, err := rm.Join(ctx, s.id)
	if err != nil {
		return d.replyErr(s, f, err)
	}

	s.setJoined(registry.RoomID(in.RoomID))
	d.subscribeRoom(registry.RoomID(in.RoomID))

	out := joinRoomOut{
		RouterRtpCapabilities: result.RtpCapabilities,
		CurrentProducers:      make([]currentProducer, 0, len(result.CurrentProducers)),
	}
	for _, p := range result.CurrentProducers {
		out.CurrentProducers = append(out.CurrentProducers, currentProducer{
			ProducerID: p.ProducerID,
			PeerID:     p.PeerID,
			Kind:       p.Kind,
			AppData:    appDataIn{MediaType: string(p.AppData.NormalizedMediaType())},
		})
	}
	s.sendReply(f.Ack, f.Name(), out)
	return "ok"
}

func (d *Dispatcher) handleCreateTransport(ctx context.Context, s *Session, f Frame) string {
	rm, ok := d.requireJoined(s, f)
	if !ok {
		return "precondition_failed"
	}
	var in createWebRtcTransportIn
	if err := json.Unmarshal(f.Data, &in); err != nil {
		s.sendError(f.Ack, f.Name(), "invalid createWebRtcTransport payload")
		return "bad_request"
	}

	dir := registry.DirectionRecv
	if in.Sender {
		dir = registry.DirectionSend
	}
	params, err := rm.CreateWebRtcTransport(ctx, s.id, dir)
	if err != nil {
		return d.replyErr(s, f, err)
	}
	s.sendReply(f.Ack, f.Name(), createWebRtcTransportOut{Params: params})
	return "ok"
}

func (d *Dispatcher) handleConnectTransport(ctx context.Context, s *Session, f Frame) string {
	rm, ok := d.requireJoined(s, f)
	if !ok {
		return "precondition_failed"
	}
	var in connectTransportIn
	if err := json.Unmarshal(f.Data, &in); err != nil {
		logging.Warn(ctx, "dropping invalid connectTransport frame")
		return "bad_request"
	}
	var dtls mediaworker.DtlsParameters
	if err := json.Unmarshal(in.DtlsParameters, &dtls); err != nil {
		logging.Warn(ctx, "dropping connectTransport with malformed dtlsParameters")
		return "bad_request"
	}
	dir := registry.DirectionRecv
	if in.Sender {
		dir = registry.DirectionSend
	}
	if err := rm.ConnectTransport(ctx, s.id, dir, dtls); err != nil {
		d.logDropped(ctx, s, f, err)
		return errStatus(err)
	}
	return "ok"
}

func (d *Dispatcher) handleProduce(ctx context.Context, s *Session, f Frame) string {
	rm, ok := d.requireJoined(s, f)
	if !ok {
		return "precondition_failed"
	}
	var in produceIn
	if err := json.Unmarshal(f.Data, &in); err != nil {
		s.sendError(f.Ack, f.Name(), "invalid produce payload")
		return "bad_request"
	}
	var rtp mediaworker.RtpParameters
	if err := json.Unmarshal(in.RtpParameters, &rtp); err != nil {
		s.sendError(f.Ack, f.Name(), "invalid rtpParameters")
		return "bad_request"
	}

	kind := mediaworker.KindAudio
	if in.Kind == string(mediaworker.KindVideo) {
		kind = mediaworker.KindVideo
	}
	appData := registry.AppData{MediaType: registry.MediaSourceType(in.AppData.MediaType)}

	producerID, err := rm.Produce(ctx, s.id, kind, rtp, appData)
	if err != nil {
		return d.replyErr(s, f, err)
	}
	s.sendReply(f.Ack, f.Name(), produceOut{ProducerID: string(producerID)})
	return "ok"
}

func (d *Dispatcher) handleConsume(ctx context.Context, s *Session, f Frame) string {
	rm, ok := d.requireJoined(s, f)
	if !ok {
		return "precondition_failed"
	}
	var in consumeIn
	if err := json.Unmarshal(f.Data, &in); err != nil || in.ProducerID == "" {
		s.sendError(f.Ack, f.Name(), "invalid consume payload")
		return "bad_request"
	}
	var caps mediaworker.RtpCapabilities
	if err := json.Unmarshal(in.RtpCapabilities, &caps); err != nil {
		s.sendError(f.Ack, f.Name(), "invalid rtpCapabilities")
		return "bad_request"
	}

	result, err := rm.Consume(ctx, s.id, registry.ProducerID(in.ProducerID), caps)
	if err != nil {
		return d.replyErr(s, f, err)
	}
	s.sendReply(f.Ack, f.Name(), consumeOut{Params: consumeParamsOut{
		ID:             string(result.ConsumerID),
		ProducerID:     string(result.ProducerID),
		PeerID:         string(result.ProducerPeerID),
		Kind:           string(result.Kind),
		RtpParameters:  result.RtpParameters,
		Type:           string(result.Type),
		ProducerPaused: result.ProducerPaused,
	}})
	return "ok"
}

func (d *Dispatcher) handleResumeConsumer(ctx context.Context, s *Session, f Frame) string {
	rm, ok := d.requireJoined(s, f)
	if !ok {
		return "precondition_failed"
	}
	var in resumeConsumerIn
	if err := json.Unmarshal(f.Data, &in); err != nil || in.ConsumerID == "" {
		logging.Warn(ctx, "dropping invalid resumeConsumer frame")
		return "bad_request"
	}
	if err := rm.ResumeConsumer(ctx, s.id, registry.ConsumerID(in.ConsumerID)); err != nil {
		d.logDropped(ctx, s, f, err)
		return errStatus(err)
	}
	return "ok"
}

func (d *Dispatcher) handleCloseProducer(ctx context.Context, s *Session, f Frame) string {
	rm, ok := d.requireJoined(s, f)
	if !ok {
		return "precondition_failed"
	}
	var in closeProducerIn
	if err := json.Unmarshal(f.Data, &in); err != nil || in.ProducerID == "" {
		logging.Warn(ctx, "dropping invalid closeProducer frame")
		return "bad_request"
	}
	if err := rm.CloseProducer(ctx, s.id, registry.ProducerID(in.ProducerID)); err != nil {
		d.logDropped(ctx, s, f, err)
		return errStatus(err)
	}
	return "ok"
}

func (d *Dispatcher) handleKickPeer(ctx context.Context, s *Session, f Frame) string {
	rm, ok := d.requireJoined(s, f)
	if !ok {
		return "precondition_failed"
	}
	var in kickPeerIn
	if err := json.Unmarshal(f.Data, &in); err != nil || in.PeerID == "" {
		logging.Warn(ctx, "dropping invalid kickPeer frame")
		return "bad_request"
	}
	if err := rm.KickPeer(ctx, registry.PeerID(in.PeerID)); err != nil {
		d.logDropped(ctx, s, f, err)
		return errStatus(err)
	}
	d.mu.RLock()
	target := d.sessions[registry.PeerID(in.PeerID)]
	d.mu.RUnlock()
	if target != nil {
		target.setTerminated()
	}
	return "ok"
}

func (d *Dispatcher) handleRequestSync(ctx context.Context, s *Session, f Frame) string {
	rm, ok := d.requireJoined(s, f)
	if !ok {
		return "precondition_failed"
	}
	var in requestSyncIn
	if err := json.Unmarshal(f.Data, &in); err != nil || in.PeerID == "" {
		logging.Warn(ctx, "dropping invalid requestSync frame")
		return "bad_request"
	}
	if err := rm.RequestSync(ctx, s.id, registry.PeerID(in.PeerID)); err != nil {
		d.logDropped(ctx, s, f, err)
		return errStatus(err)
	}
	return "ok"
}

// handleDisconnect treats connection loss as a full peer disconnect.
func (d *Dispatcher) handleDisconnect(s *Session) {
	s.setTerminated()
	roomID := s.RoomID()
	if roomID == "" {
		return
	}
	rm, ok := d.registry.Get(roomID)
	if !ok {
		return
	}
	pctx := logging.WithRoomID(logging.WithPeerID(context.Background(), string(s.id)), string(roomID))
	ctx, cancel := context.WithTimeout(pctx, requestTimeout)
	defer cancel()
	if err := rm.DisconnectPeer(ctx, s.id); err != nil {
		logging.Warn(ctx, "disconnectPeer failed", zap.Error(err))
	}
}

// replyErr logs the failure, maps a *room.Error onto the wire {error} shape
// and returns the metrics status label.
func (d *Dispatcher) replyErr(s *Session, f Frame, err error) string {
	d.logFailure(logging.WithPeerID(d.ctx, string(s.id)), f, err)
	s.sendError(f.Ack, f.Name(), errMessage(err))
	return errStatus(err)
}

// logDropped logs the failure for the fire-and-forget message forms,
// which never reply.
func (d *Dispatcher) logDropped(ctx context.Context, s *Session, f Frame, err error) {
	d.logFailure(ctx, f, err)
}

// logFailure logs a failed operation at the level its error kind calls
// for: info for PreconditionFailed, error for an error that is not a
// *room.Error, warn for every other kind.
func (d *Dispatcher) logFailure(ctx context.Context, f Frame, err error) {
	var rerr *room.Error
	switch {
	case !errors.As(err, &rerr):
		logging.Error(ctx, "signaling operation failed", zap.String("event", f.Name()), zap.Error(err))
	case rerr.Kind == room.KindPreconditionFailed:
		logging.Info(ctx, "signaling operation failed", zap.String("event", f.Name()), zap.Error(err))
	default:
		logging.Warn(ctx, "signaling operation failed", zap.String("event", f.Name()), zap.Error(err))
	}
}

func errMessage(err error) string {
	var rerr *room.Error
	if errors.As(err, &rerr) {
		return string(rerr.Kind)
	}
	return "MediaError"
}

func errStatus(err error) string {
	var rerr *room.Error
	if errors.As(err, &rerr) {
		return string(rerr.Kind)
	}
	return "error"
}
