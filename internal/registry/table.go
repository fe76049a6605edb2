package registry

import "k8s.io/utils/set"

// Table holds one room's entities. It is plain, unsynchronized data — the
// room state machine is the only caller, and it only ever touches a Table
// while holding that room's serialization lock. Destructive removals purge
// the primary map and every secondary index in one call, so an index never
// outlives the resource it points at.
type Table struct {
	peers      map[PeerID]*Peer
	transports map[TransportID]*TransportEntry
	producers  map[ProducerID]*ProducerEntry
	consumers  map[ConsumerID]*ConsumerEntry

	// secondary indexes
	producerToPeer      map[ProducerID]PeerID
	consumersByProducer map[ProducerID]set.Set[ConsumerID]
}

// NewTable returns an empty entity table for one room.
func NewTable() *Table {
	return &Table{
		peers:               make(map[PeerID]*Peer),
		transports:          make(map[TransportID]*TransportEntry),
		producers:           make(map[ProducerID]*ProducerEntry),
		consumers:           make(map[ConsumerID]*ConsumerEntry),
		producerToPeer:      make(map[ProducerID]PeerID),
		consumersByProducer: make(map[ProducerID]set.Set[ConsumerID]),
	}
}

// --- Peers ---

// AddPeer inserts a Peer record if absent. Returns the record and whether
// it already existed, so repeated joins stay idempotent.
func (t *Table) AddPeer(id PeerID) (*Peer, bool) {
	if p, ok := t.peers[id]; ok {
		return p, true
	}
	p := newPeer(id)
	t.peers[id] = p
	return p, false
}

func (t *Table) GetPeer(id PeerID) (*Peer, bool) {
	p, ok := t.peers[id]
	return p, ok
}

// RemovePeer deletes the bare Peer entry. Callers must have already
// removed every Transport/Producer/Consumer it owned.
func (t *Table) RemovePeer(id PeerID) {
	delete(t.peers, id)
}

// Peers returns a snapshot of all peer ids currently in the room.
func (t *Table) Peers() []PeerID {
	out := make([]PeerID, 0, len(t.peers))
	for id := range t.peers {
		out = append(out, id)
	}
	return out
}

// OtherPeers returns every peer id except the one given.
func (t *Table) OtherPeers(exclude PeerID) []PeerID {
	out := make([]PeerID, 0, len(t.peers))
	for id := range t.peers {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}

func (t *Table) PeerCount() int { return len(t.peers) }

// --- Transports ---

// AddTransport registers a transport and binds it into the owning peer's
// send/recv slot.
func (t *Table) AddTransport(e *TransportEntry) {
	t.transports[e.ID] = e
	if p, ok := t.peers[e.PeerID]; ok {
		switch e.Direction {
		case DirectionSend:
			p.SendTransport = e.ID
		case DirectionRecv:
			p.RecvTransport = e.ID
		}
	}
}

func (t *Table) GetTransport(id TransportID) (*TransportEntry, bool) {
	e, ok := t.transports[id]
	return e, ok
}

// PeerTransport returns the live transport for (peerID, direction), if any.
func (t *Table) PeerTransport(peerID PeerID, dir Direction) (*TransportEntry, bool) {
	p, ok := t.peers[peerID]
	if !ok {
		return nil, false
	}
	var id TransportID
	switch dir {
	case DirectionSend:
		id = p.SendTransport
	case DirectionRecv:
		id = p.RecvTransport
	}
	if id == "" {
		return nil, false
	}
	return t.GetTransport(id)
}

// RemoveTransport purges the transport from the primary map and clears the
// owning peer's send/recv slot.
func (t *Table) RemoveTransport(id TransportID) (*TransportEntry, bool) {
	e, ok := t.transports[id]
	if !ok {
		return nil, false
	}
	delete(t.transports, id)
	if p, ok := t.peers[e.PeerID]; ok {
		if p.SendTransport == id {
			p.SendTransport = ""
		}
		if p.RecvTransport == id {
			p.RecvTransport = ""
		}
	}
	return e, true
}

// --- Producers ---

func (t *Table) AddProducer(e *ProducerEntry) {
	t.producers[e.ID] = e
	t.producerToPeer[e.ID] = e.PeerID
	if p, ok := t.peers[e.PeerID]; ok {
		p.ProducerIDs.Insert(e.ID)
	}
}

func (t *Table) GetProducer(id ProducerID) (*ProducerEntry, bool) {
	e, ok := t.producers[id]
	return e, ok
}

// ProducerOwner returns the owning peer id of a producer.
func (t *Table) ProducerOwner(id ProducerID) (PeerID, bool) {
	owner, ok := t.producerToPeer[id]
	return owner, ok
}

// RemoveProducer purges the producer from the primary map, the
// producer→peer index, the owning peer's set, and the consumersByProducer
// index. It does not close or enumerate consumers — callers must gather
// and close those first.
func (t *Table) RemoveProducer(id ProducerID) (*ProducerEntry, bool) {
	e, ok := t.producers[id]
	if !ok {
		return nil, false
	}
	delete(t.producers, id)
	delete(t.producerToPeer, id)
	delete(t.consumersByProducer, id)
	if p, ok := t.peers[e.PeerID]; ok {
		p.ProducerIDs.Delete(id)
	}
	return e, true
}

// ProducerCount returns the number of live producers in the room.
func (t *Table) ProducerCount() int { return len(t.producers) }

// ProducersExcept returns every producer owned by a peer other than
// exclude — the `currentProducers` list for a joining peer and the base
// set it may consume from.
func (t *Table) ProducersExcept(exclude PeerID) []*ProducerEntry {
	out := make([]*ProducerEntry, 0, len(t.producers))
	for _, e := range t.producers {
		if e.PeerID != exclude {
			out = append(out, e)
		}
	}
	return out
}

// --- Consumers ---

func (t *Table) AddConsumer(e *ConsumerEntry) {
	t.consumers[e.ID] = e
	if p, ok := t.peers[e.PeerID]; ok {
		p.ConsumerIDs.Insert(e.ID)
	}
	members, ok := t.consumersByProducer[e.ProducerID]
	if !ok {
		members = set.New[ConsumerID]()
		t.consumersByProducer[e.ProducerID] = members
	}
	members.Insert(e.ID)
}

func (t *Table) GetConsumer(id ConsumerID) (*ConsumerEntry, bool) {
	e, ok := t.consumers[id]
	return e, ok
}

// RemoveConsumer purges the consumer from the primary map, the owning
// peer's set, and the consumersByProducer index.
func (t *Table) RemoveConsumer(id ConsumerID) (*ConsumerEntry, bool) {
	e, ok := t.consumers[id]
	if !ok {
		return nil, false
	}
	delete(t.consumers, id)
	if p, ok := t.peers[e.PeerID]; ok {
		p.ConsumerIDs.Delete(id)
	}
	if members, ok := t.consumersByProducer[e.ProducerID]; ok {
		members.Delete(id)
		if members.Len() == 0 {
			delete(t.consumersByProducer, e.ProducerID)
		}
	}
	return e, true
}

// ConsumersForProducer enumerates every consumer of a producer. Callers
// that are about to close the producer must snapshot this first.
func (t *Table) ConsumersForProducer(producerID ProducerID) []*ConsumerEntry {
	members := t.consumersByProducer[producerID]
	out := make([]*ConsumerEntry, 0, members.Len())
	for _, id := range members.UnsortedList() {
		if e, ok := t.consumers[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

// IsEmpty reports whether the room has no peers, no producers, and no
// transports left, which is the condition for reaping it.
func (t *Table) IsEmpty() bool {
	return len(t.peers) == 0 && len(t.producers) == 0 && len(t.transports) == 0
}
