package mediaworker

import (
	"context"
	"sync"
)

// producer is a published media source owned by one send transport. It
// fans its RTP stream out to every Consumer bound to it through a
// trackFanout, and notifies those consumers exactly once when it closes,
// the equivalent of mediasoup's Consumer 'producerclose' event.
type producer struct {
	id      string
	kind    Kind
	rtp     RtpParameters
	appData AppData
	fanout  *trackFanout

	mu        sync.Mutex
	closed    bool
	consumers map[string]*consumer
	onClose   []func()
}

func newProducer(id string, kind Kind, rtp RtpParameters, appData AppData) *producer {
	return &producer{
		id:        id,
		kind:      kind,
		rtp:       rtp,
		appData:   appData,
		fanout:    newTrackFanout(),
		consumers: make(map[string]*consumer),
	}
}

func (p *producer) ID() string       { return p.id }
func (p *producer) Kind() Kind       { return p.kind }
func (p *producer) AppData() AppData { return p.appData }

func (p *producer) OnClose(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		go fn()
		return
	}
	p.onClose = append(p.onClose, fn)
}

// attachConsumer registers a consumer to be notified when this producer
// closes. If the producer is already closed, the consumer is notified
// immediately instead (Consume should have failed NotFound first, but this
// keeps the type safe against the race).
func (p *producer) attachConsumer(c *consumer) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		c.fireProducerClosed()
		return
	}
	p.consumers[c.id] = c
	p.mu.Unlock()
}

func (p *producer) detachConsumer(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.consumers, id)
}

func (p *producer) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	fns := p.onClose
	consumers := make([]*consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	p.mu.Unlock()

	p.fanout.close()
	for _, c := range consumers {
		c.fireProducerClosed()
	}
	for _, fn := range fns {
		fn()
	}
	return nil
}
