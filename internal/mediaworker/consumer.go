package mediaworker

import (
	"context"
	"sync"
)

// consumer is a paused-by-default sink bound to exactly one producer and
// one consuming peer's recv transport. An explicit Close detaches it from
// its producer and trackFanout; the source producer closing or the recv
// transport closing underneath it only fires the matching callbacks.
// OnProducerClose and OnTransportClose each latch to fire at most once.
type consumer struct {
	id             string
	producerID     string
	kind           Kind
	rtp            RtpParameters
	typ            ConsumerType
	producerPaused bool

	prod *producer

	mu                  sync.Mutex
	paused              bool
	closed              bool
	producerCloseFired  bool
	transportCloseFired bool
	onProducerClose     []func()
	onTransportClose    []func()
	detachFn            func()
}

func newConsumer(id string, prod *producer, rtp RtpParameters, detachFn func()) *consumer {
	return &consumer{
		id:         id,
		producerID: prod.id,
		kind:       prod.kind,
		rtp:        rtp,
		typ:        ConsumerTypeSimple,
		paused:     true,
		prod:       prod,
		detachFn:   detachFn,
	}
}

func (c *consumer) ID() string                   { return c.id }
func (c *consumer) ProducerID() string           { return c.producerID }
func (c *consumer) Kind() Kind                   { return c.kind }
func (c *consumer) RtpParameters() RtpParameters { return c.rtp }
func (c *consumer) Type() ConsumerType           { return c.typ }

func (c *consumer) ProducerPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.producerPaused
}

func (c *consumer) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
	return nil
}

func (c *consumer) OnProducerClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.producerCloseFired {
		go fn()
		return
	}
	c.onProducerClose = append(c.onProducerClose, fn)
}

func (c *consumer) OnTransportClose(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transportCloseFired {
		go fn()
		return
	}
	c.onTransportClose = append(c.onTransportClose, fn)
}

// fireProducerClosed is called by the source producer, at most once.
func (c *consumer) fireProducerClosed() {
	c.mu.Lock()
	if c.producerCloseFired {
		c.mu.Unlock()
		return
	}
	c.producerCloseFired = true
	fns := c.onProducerClose
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// fireTransportClosed is called by the owning recv transport, at most once.
func (c *consumer) fireTransportClosed() {
	c.mu.Lock()
	if c.transportCloseFired {
		c.mu.Unlock()
		return
	}
	c.transportCloseFired = true
	fns := c.onTransportClose
	c.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (c *consumer) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	detach := c.detachFn
	c.mu.Unlock()

	if c.prod != nil {
		c.prod.detachConsumer(c.id)
	}
	if detach != nil {
		detach()
	}
	return nil
}
