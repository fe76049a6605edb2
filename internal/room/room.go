// Package room implements the per-room authoritative state machine: each
// Room owns one media Router, the entity table for that room, and every
// mutation that can be performed on it. All mutations of a Room are
// serialized behind a single exclusive mutex held for the whole logical
// operation; rooms stay independent of one another.
//
// Media-worker event callbacks (transport dtls-closed, producer closed,
// consumer's source producer or transport closed) fire from arbitrary
// goroutines and are never handled inline. Each is posted back into this
// Room's serializer ("go r.onXxxAsync(id)"). Every async handler re-checks
// table membership under the lock before acting, which is what keeps
// duplicate close paths from double-notifying: whichever caller — an
// explicit closeProducer, a disconnect cascade, or an async facade
// callback — observes the resource still present performs the teardown and
// broadcast; any caller racing behind it finds the resource already gone
// and no-ops.
package room

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Aryog/VibezLive-sub000/internal/bus"
	"github.com/Aryog/VibezLive-sub000/internal/logging"
	"github.com/Aryog/VibezLive-sub000/internal/mediaworker"
	"github.com/Aryog/VibezLive-sub000/internal/metrics"
	"github.com/Aryog/VibezLive-sub000/internal/registry"
	"go.uber.org/zap"
)

// JoinResult is the reply to joinRoom.
type JoinResult struct {
	RtpCapabilities  mediaworker.RtpCapabilities
	CurrentProducers []ProducerInfo
}

// ConsumeResult is the reply to consume.
type ConsumeResult struct {
	ConsumerID     registry.ConsumerID
	ProducerID     registry.ProducerID
	ProducerPeerID registry.PeerID
	Kind           mediaworker.Kind
	RtpParameters  mediaworker.RtpParameters
	Type           mediaworker.ConsumerType
	ProducerPaused bool
}

// Room is the authoritative state machine for one rendezvous scope. It
// owns exactly one Router for its whole life and the registry.Table
// holding its Peers/Transports/Producers/Consumers.
type Room struct {
	id     registry.RoomID
	router mediaworker.Router
	client *mediaworker.Client
	bcast  Broadcaster
	bus    *bus.Service

	mu      sync.Mutex
	table   *registry.Table
	onEmpty func(registry.RoomID)
}

func newRoom(id registry.RoomID, router mediaworker.Router, client *mediaworker.Client, bcast Broadcaster, busSvc *bus.Service, onEmpty func(registry.RoomID)) *Room {
	return &Room{
		id:      id,
		router:  router,
		client:  client,
		bcast:   bcast,
		bus:     busSvc,
		table:   registry.NewTable(),
		onEmpty: onEmpty,
	}
}

// ID returns the room's id.
func (r *Room) ID() registry.RoomID { return r.id }

// opCtx stamps the room and acting peer onto ctx so every log line in the
// operation carries them without repeating the fields at each call site.
func (r *Room) opCtx(ctx context.Context, peerID registry.PeerID) context.Context {
	return logging.WithPeerID(logging.WithRoomID(ctx, string(r.id)), string(peerID))
}

// presenceKey names the cross-instance set of peer ids currently joined
// to a room, maintained on join/leave so other instances can see remote
// membership.
func presenceKey(id registry.RoomID) string {
	return "sfu:presence:room:" + string(id)
}

// Join adds a peer to the room and returns the router capabilities plus
// the producers it can consume. Idempotent: a repeated join by the same
// peer refreshes the reply but does not re-emit newPeer.
func (r *Room) Join(ctx context.Context, peerID registry.PeerID) (JoinResult, error) {
	ctx = r.opCtx(ctx, peerID)
	r.mu.Lock()
	defer r.mu.Unlock()

	_, existed := r.table.AddPeer(peerID)

	producers := r.table.ProducersExcept(peerID)
	current := make([]ProducerInfo, 0, len(producers))
	for _, p := range producers {
		current = append(current, ProducerInfo{
			ProducerID: string(p.ID),
			PeerID:     string(p.PeerID),
			Kind:       string(p.Kind),
			AppData:    p.AppData,
		})
	}

	result := JoinResult{
		RtpCapabilities:  r.router.RtpCapabilities(),
		CurrentProducers: current,
	}

	if !existed {
		metrics.RoomPeers.WithLabelValues(string(r.id)).Set(float64(r.table.PeerCount()))
		logging.Info(ctx, "peer joined room")
		if err := r.bus.SetAdd(ctx, presenceKey(r.id), string(peerID)); err != nil {
			logging.Warn(ctx, "presence set add failed", zap.Error(err))
		}
		r.broadcastLocked(ctx, peerID, EventNewPeer, NewPeerPayload{PeerID: string(peerID)})
	}
	return result, nil
}

// CreateWebRtcTransport creates the peer's transport for the given
// direction. A second call for the same (peer, direction) returns the
// existing transport's parameters idempotently.
func (r *Room) CreateWebRtcTransport(ctx context.Context, peerID registry.PeerID, dir registry.Direction) (mediaworker.TransportParams, error) {
	ctx = r.opCtx(ctx, peerID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.table.GetPeer(peerID); !ok {
		return mediaworker.TransportParams{}, errPrecondition("createWebRtcTransport", fmt.Errorf("peer %s has not joined", peerID))
	}

	if existing, ok := r.table.PeerTransport(peerID, dir); ok {
		tr, ok := existing.Handle.(mediaworker.Transport)
		if !ok {
			return mediaworker.TransportParams{}, errMediaError("createWebRtcTransport", fmt.Errorf("transport %s has unexpected handle type", existing.ID))
		}
		return tr.Params(), nil
	}

	tr, err := r.client.CreateWebRtcTransport(ctx, r.router)
	if err != nil {
		return mediaworker.TransportParams{}, errMediaError("createWebRtcTransport", err)
	}

	id := registry.TransportID(tr.ID())
	entry := &registry.TransportEntry{ID: id, PeerID: peerID, Direction: dir, Handle: tr}
	r.table.AddTransport(entry)

	tr.OnClose(func() {
		go r.onTransportClosedAsync(id)
	})

	logging.Info(ctx, "transport created", zap.String("direction", string(dir)), zap.String("transport_id", string(id)))
	return tr.Params(), nil
}

// ConnectTransport forwards the peer's DTLS parameters to its transport.
func (r *Room) ConnectTransport(ctx context.Context, peerID registry.PeerID, dir registry.Direction, dtls mediaworker.DtlsParameters) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.table.PeerTransport(peerID, dir)
	if !ok {
		return errNotFound("connectTransport", fmt.Errorf("no %s transport for peer %s", dir, peerID))
	}
	tr, ok := entry.Handle.(mediaworker.Transport)
	if !ok {
		return errMediaError("connectTransport", fmt.Errorf("transport %s has unexpected handle type", entry.ID))
	}
	if err := r.client.ConnectTransport(ctx, tr, dtls); err != nil {
		return errMediaError("connectTransport", err)
	}
	return nil
}

// Produce publishes a new media source on the peer's send transport and
// announces it to every other peer in the room.
func (r *Room) Produce(ctx context.Context, peerID registry.PeerID, kind mediaworker.Kind, rtp mediaworker.RtpParameters, appData registry.AppData) (registry.ProducerID, error) {
	ctx = r.opCtx(ctx, peerID)
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.table.PeerTransport(peerID, registry.DirectionSend)
	if !ok {
		return "", errPrecondition("produce", fmt.Errorf("peer %s has no send transport", peerID))
	}
	tr, ok := entry.Handle.(mediaworker.Transport)
	if !ok {
		return "", errMediaError("produce", fmt.Errorf("transport %s has unexpected handle type", entry.ID))
	}

	mwAppData := mediaworker.AppData{"mediaType": string(appData.NormalizedMediaType())}
	p, err := r.client.Produce(ctx, tr, kind, rtp, mwAppData)
	if err != nil {
		return "", errMediaError("produce", err)
	}

	id := registry.ProducerID(p.ID())
	pe := &registry.ProducerEntry{ID: id, PeerID: peerID, Kind: registryKind(kind), AppData: appData, Handle: p}
	r.table.AddProducer(pe)

	p.OnClose(func() {
		go r.onProducerClosedAsync(id)
	})

	metrics.RoomProducers.WithLabelValues(string(r.id)).Set(float64(r.table.ProducerCount()))
	logging.Info(ctx, "producer created", zap.String("producer_id", string(id)), zap.String("kind", string(kind)))

	r.broadcastLocked(ctx, peerID, EventNewProducer, NewProducerPayload{
		ProducerID: string(id),
		PeerID:     string(peerID),
		Kind:       string(kind),
		AppData:    appData,
	})

	return id, nil
}

// Consume subscribes the peer to a remote producer through its recv
// transport. The consumer starts paused.
func (r *Room) Consume(ctx context.Context, peerID registry.PeerID, producerID registry.ProducerID, caps mediaworker.RtpCapabilities) (ConsumeResult, error) {
	ctx = r.opCtx(ctx, peerID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.table.GetPeer(peerID); !ok {
		return ConsumeResult{}, errPrecondition("consume", fmt.Errorf("peer %s has not joined", peerID))
	}
	pe, ok := r.table.GetProducer(producerID)
	if !ok {
		return ConsumeResult{}, errNotFound("consume", fmt.Errorf("producer %s not found", producerID))
	}
	if pe.PeerID == peerID {
		return ConsumeResult{}, errPrecondition("consume", fmt.Errorf("peer %s cannot consume its own producer %s", peerID, producerID))
	}
	if !r.client.CanConsume(r.router, string(producerID), caps) {
		return ConsumeResult{}, errCannotConsume("consume", fmt.Errorf("router cannot consume producer %s with the given rtpCapabilities", producerID))
	}
	recvEntry, ok := r.table.PeerTransport(peerID, registry.DirectionRecv)
	if !ok {
		return ConsumeResult{}, errNotFound("consume", fmt.Errorf("peer %s has no recv transport", peerID))
	}
	recvTr, ok := recvEntry.Handle.(mediaworker.Transport)
	if !ok {
		return ConsumeResult{}, errMediaError("consume", fmt.Errorf("transport %s has unexpected handle type", recvEntry.ID))
	}
	prodHandle, ok := pe.Handle.(mediaworker.Producer)
	if !ok {
		return ConsumeResult{}, errMediaError("consume", fmt.Errorf("producer %s has unexpected handle type", producerID))
	}

	c, err := r.client.Consume(ctx, recvTr, prodHandle, caps)
	if err != nil {
		return ConsumeResult{}, errMediaError("consume", err)
	}

	cid := registry.ConsumerID(c.ID())
	ce := &registry.ConsumerEntry{ID: cid, PeerID: peerID, ProducerID: producerID, Handle: c}
	r.table.AddConsumer(ce)

	c.OnProducerClose(func() {
		go r.onConsumerProducerClosedAsync(cid)
	})
	c.OnTransportClose(func() {
		go r.onConsumerTransportClosedAsync(cid)
	})

	logging.Info(ctx, "consumer created", zap.String("consumer_id", string(cid)), zap.String("producer_id", string(producerID)))

	return ConsumeResult{
		ConsumerID:     cid,
		ProducerID:     producerID,
		ProducerPeerID: pe.PeerID,
		Kind:           c.Kind(),
		RtpParameters:  c.RtpParameters(),
		Type:           c.Type(),
		ProducerPaused: c.ProducerPaused(),
	}, nil
}

// ResumeConsumer unpauses a consumer owned by the given peer.
func (r *Room) ResumeConsumer(ctx context.Context, peerID registry.PeerID, consumerID registry.ConsumerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ce, ok := r.table.GetConsumer(consumerID)
	if !ok || ce.PeerID != peerID {
		return errNotFound("resumeConsumer", fmt.Errorf("consumer %s not found for peer %s", consumerID, peerID))
	}
	cons, ok := ce.Handle.(mediaworker.Consumer)
	if !ok {
		return errMediaError("resumeConsumer", fmt.Errorf("consumer %s has unexpected handle type", consumerID))
	}
	if err := r.client.ResumeConsumer(ctx, cons); err != nil {
		return errMediaError("resumeConsumer", err)
	}
	return nil
}

// CloseProducer closes a producer on behalf of its owner; only the owner
// may close its own producer.
func (r *Room) CloseProducer(ctx context.Context, peerID registry.PeerID, producerID registry.ProducerID) error {
	ctx = r.opCtx(ctx, peerID)
	r.mu.Lock()
	defer r.mu.Unlock()

	pe, ok := r.table.GetProducer(producerID)
	if !ok {
		return errNotFound("closeProducer", fmt.Errorf("producer %s not found", producerID))
	}
	if pe.PeerID != peerID {
		return errPrecondition("closeProducer", fmt.Errorf("peer %s does not own producer %s", peerID, producerID))
	}

	r.closeProducerLocked(ctx, producerID)
	r.reapIfEmptyLocked(ctx)
	return nil
}

// DisconnectPeer is the unconditional teardown path for connection loss.
func (r *Room) DisconnectPeer(ctx context.Context, peerID registry.PeerID) error {
	ctx = r.opCtx(ctx, peerID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.table.GetPeer(peerID); !ok {
		return errNotFound("disconnectPeer", fmt.Errorf("peer %s not in room", peerID))
	}
	r.disconnectPeerLocked(ctx, peerID)
	r.reapIfEmptyLocked(ctx)
	return nil
}

// KickPeer is a remote-initiated disconnect. No authorization check is
// performed here — any joined peer in the room may request a kick.
// TODO: a caller-supplied policy hook (e.g. "only the room's designated
// host may kick") would be layered in right here.
func (r *Room) KickPeer(ctx context.Context, peerID registry.PeerID) error {
	// ctx arrives stamped with the kicker's id; restamp with the kicked
	// peer, since the cascade below is about them.
	ctx = r.opCtx(ctx, peerID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.table.GetPeer(peerID); !ok {
		return errNotFound("kickPeer", fmt.Errorf("peer %s not in room", peerID))
	}
	logging.Info(ctx, "peer kicked")
	r.disconnectPeerLocked(ctx, peerID)
	r.reapIfEmptyLocked(ctx)
	return nil
}

// RequestSync forwards a purely advisory unicast hint; the targeted peer
// may choose to republish.
func (r *Room) RequestSync(ctx context.Context, peerID, targetPeerID registry.PeerID) error {
	ctx = r.opCtx(ctx, peerID)
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.table.GetPeer(targetPeerID); !ok {
		return errNotFound("requestSync", fmt.Errorf("target peer %s not in room", targetPeerID))
	}
	r.bcastUnicastLocked(ctx, targetPeerID, EventRequestSync, RequestSyncPayload{PeerID: string(peerID)})
	return nil
}

// IsEmpty reports whether the room currently has no peers, producers, or
// transports.
func (r *Room) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.table.IsEmpty()
}

// --- internal, lock-already-held helpers ---

// closeProducerLocked is the shared producer teardown for an explicit
// closeProducer request, a disconnect/kick cascade, and the async
// producer-close callback. Idempotent: a second call for an already
// removed producer is a no-op, so each consuming peer sees exactly one
// producerClosed however many close paths race.
func (r *Room) closeProducerLocked(ctx context.Context, producerID registry.ProducerID) {
	pe, ok := r.table.GetProducer(producerID)
	if !ok {
		return
	}

	for _, ce := range r.table.ConsumersForProducer(producerID) {
		if cons, ok := ce.Handle.(mediaworker.Consumer); ok {
			_ = r.client.CloseConsumer(ctx, cons)
		}
		r.table.RemoveConsumer(ce.ID)
		r.bcastUnicastLocked(ctx, ce.PeerID, EventProducerClosed, ProducerClosedPayload{
			ProducerID: string(producerID),
			ConsumerID: string(ce.ID),
		})
	}

	if prod, ok := pe.Handle.(mediaworker.Producer); ok {
		_ = r.client.CloseProducer(ctx, prod)
	}
	r.table.RemoveProducer(producerID)
	metrics.RoomProducers.WithLabelValues(string(r.id)).Set(float64(r.table.ProducerCount()))

	logging.Info(ctx, "producer closed", zap.String("producer_id", string(producerID)))
}

// disconnectPeerLocked tears down everything a Peer owned: producers,
// then consumers, then transports, then the Peer entry itself, then the
// peerLeft fan-out.
func (r *Room) disconnectPeerLocked(ctx context.Context, peerID registry.PeerID) {
	peer, ok := r.table.GetPeer(peerID)
	if !ok {
		return
	}

	for _, pid := range peer.ProducerIDs.UnsortedList() {
		r.closeProducerLocked(ctx, pid)
	}

	for _, cid := range peer.ConsumerIDs.UnsortedList() {
		if ce, ok := r.table.GetConsumer(cid); ok {
			if cons, ok := ce.Handle.(mediaworker.Consumer); ok {
				_ = r.client.CloseConsumer(ctx, cons)
			}
			r.table.RemoveConsumer(cid)
		}
	}

	for _, tid := range []registry.TransportID{peer.SendTransport, peer.RecvTransport} {
		if tid == "" {
			continue
		}
		if te, ok := r.table.RemoveTransport(tid); ok {
			if tr, ok := te.Handle.(mediaworker.Transport); ok {
				_ = r.client.CloseTransport(ctx, tr)
			}
		}
	}

	r.table.RemovePeer(peerID)
	metrics.RoomPeers.WithLabelValues(string(r.id)).Set(float64(r.table.PeerCount()))
	if err := r.bus.SetRem(ctx, presenceKey(r.id), string(peerID)); err != nil {
		logging.Warn(ctx, "presence set remove failed", zap.Error(err))
	}

	logging.Info(ctx, "peer removed from room", zap.String("peer_id", string(peerID)))
	r.broadcastLocked(ctx, peerID, EventPeerLeft, PeerLeftPayload{PeerID: string(peerID)})
}

// reapIfEmptyLocked runs inline at the end of every mutation that could
// empty the room, so no grace timer is needed; the router is closed and
// the room forgotten in the same call that emptied it.
func (r *Room) reapIfEmptyLocked(ctx context.Context) {
	if !r.table.IsEmpty() {
		return
	}
	if r.router != nil {
		_ = r.router.Close(ctx)
	}
	metrics.ActiveRooms.Dec()
	metrics.RoomPeers.DeleteLabelValues(string(r.id))
	metrics.RoomProducers.DeleteLabelValues(string(r.id))
	logging.Info(ctx, "room emptied, removing from registry")
	if r.onEmpty != nil {
		r.onEmpty(r.id)
	}
}

// --- async facade event handlers: run on their own goroutine, acquire
// the lock themselves, and re-check table membership before acting. ---

func (r *Room) onProducerClosedAsync(producerID registry.ProducerID) {
	ctx := logging.WithRoomID(context.Background(), string(r.id))
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.table.GetProducer(producerID); !ok {
		return // already handled by an explicit close or a disconnect cascade
	}
	r.closeProducerLocked(ctx, producerID)
	r.reapIfEmptyLocked(ctx)
}

func (r *Room) onConsumerProducerClosedAsync(consumerID registry.ConsumerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ce, ok := r.table.GetConsumer(consumerID)
	if !ok {
		return // already handled by the producer-close path
	}
	ctx := logging.WithRoomID(context.Background(), string(r.id))
	r.table.RemoveConsumer(consumerID)
	r.bcastUnicastLocked(ctx, ce.PeerID, EventProducerClosed, ProducerClosedPayload{
		ProducerID: string(ce.ProducerID),
		ConsumerID: string(consumerID),
	})
	r.reapIfEmptyLocked(ctx)
}

func (r *Room) onConsumerTransportClosedAsync(consumerID registry.ConsumerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.table.GetConsumer(consumerID); !ok {
		return
	}
	r.table.RemoveConsumer(consumerID)
	r.reapIfEmptyLocked(logging.WithRoomID(context.Background(), string(r.id)))
}

// onTransportClosedAsync handles an orphaned transport: close and remove
// it, and if the peer has neither transport afterward and also holds no
// producers or consumers, treat the peer as disconnected.
func (r *Room) onTransportClosedAsync(transportID registry.TransportID) {
	ctx := logging.WithRoomID(context.Background(), string(r.id))
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.table.RemoveTransport(transportID)
	if !ok {
		return
	}
	ctx = logging.WithPeerID(ctx, string(entry.PeerID))

	peer, ok := r.table.GetPeer(entry.PeerID)
	if !ok {
		return
	}
	if peer.SendTransport == "" && peer.RecvTransport == "" && peer.ProducerIDs.Len() == 0 && peer.ConsumerIDs.Len() == 0 {
		r.disconnectPeerLocked(ctx, entry.PeerID)
	}
	r.reapIfEmptyLocked(ctx)
}

func (r *Room) broadcastLocked(ctx context.Context, exclude registry.PeerID, event string, payload any) {
	if r.bcast != nil {
		r.bcast.Broadcast(r.id, exclude, event, payload)
	}
	if r.bus != nil {
		if err := r.bus.Publish(ctx, string(r.id), event, payload, string(exclude)); err != nil {
			logging.Warn(ctx, "bus publish failed", zap.Error(err), zap.String("event", event))
		}
	}
}

func (r *Room) bcastUnicastLocked(ctx context.Context, target registry.PeerID, event string, payload any) {
	if r.bcast != nil {
		r.bcast.Send(target, event, payload)
	}
	if r.bus != nil {
		if err := r.bus.PublishDirect(ctx, string(target), event, payload, ""); err != nil {
			logging.Warn(ctx, "bus publish direct failed", zap.Error(err), zap.String("event", event))
		}
	}
}

func registryKind(k mediaworker.Kind) registry.MediaKind {
	if k == mediaworker.KindVideo {
		return registry.KindVideo
	}
	return registry.KindAudio
}

// WatchMediaWorkerDeath waits for the facade's single fatal signal, logs
// at error severity, then terminates the process after a short fixed delay
// so a supervisor can restart it. No attempt is made to migrate state.
func WatchMediaWorkerDeath(ctx context.Context, died <-chan struct{}, delay time.Duration, exit func(code int)) {
	go func() {
		<-died
		metrics.MediaWorkerDied.Inc()
		logging.Error(ctx, "media worker died, terminating process", zap.Duration("grace_delay", delay))
		time.Sleep(delay)
		exit(1)
	}()
}
