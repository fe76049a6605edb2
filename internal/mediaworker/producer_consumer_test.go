package mediaworker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProducerCloseFiresEachConsumerExactlyOnce(t *testing.T) {
	ctx := context.Background()
	p := newProducer("prod-1", KindVideo, RtpParameters{MimeType: "video/VP8"}, AppData{"mediaType": "camera"})

	var fired int
	c := newConsumer("cons-1", p, p.rtp, func() {})
	c.OnProducerClose(func() { fired++ })
	p.attachConsumer(c)

	require.NoError(t, p.Close(ctx))
	require.NoError(t, p.Close(ctx)) // second close must be a no-op

	assert.Equal(t, 1, fired)
}

func TestConsumerProducerCloseLatchFiresOnceEvenIfRegisteredAfter(t *testing.T) {
	p := newProducer("prod-1", KindAudio, RtpParameters{}, AppData{})
	c := newConsumer("cons-1", p, p.rtp, func() {})

	c.fireProducerClosed()
	c.fireProducerClosed() // duplicate signal, e.g. explicit close racing the event path

	// Registered after the fact, it must still fire once; a late registration
	// is dispatched on its own goroutine, so wait for it.
	var fired atomic.Int32
	done := make(chan struct{})
	c.OnProducerClose(func() {
		fired.Add(1)
		close(done)
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("late-registered producer-close callback never fired")
	}

	assert.Equal(t, int32(1), fired.Load())
}

func TestConsumerStartsPausedAndResumeClearsIt(t *testing.T) {
	ctx := context.Background()
	p := newProducer("prod-1", KindAudio, RtpParameters{}, AppData{})
	c := newConsumer("cons-1", p, p.rtp, func() {})

	assert.True(t, c.paused)
	require.NoError(t, c.Resume(ctx))
	assert.False(t, c.paused)
}

func TestConsumerCloseDetachesFromProducer(t *testing.T) {
	ctx := context.Background()
	p := newProducer("prod-1", KindVideo, RtpParameters{}, AppData{})
	var detached bool
	c := newConsumer("cons-1", p, p.rtp, func() { detached = true })
	p.attachConsumer(c)

	require.NoError(t, c.Close(ctx))
	assert.True(t, detached)

	// A subsequent producer close must not notify the now-detached consumer.
	var fired int
	c.OnProducerClose(func() { fired++ })
	require.NoError(t, p.Close(ctx))
	assert.Equal(t, 0, fired)
}

func TestAttachConsumerToAlreadyClosedProducerFiresImmediately(t *testing.T) {
	ctx := context.Background()
	p := newProducer("prod-1", KindAudio, RtpParameters{}, AppData{})
	require.NoError(t, p.Close(ctx))

	c := newConsumer("cons-1", p, p.rtp, func() {})
	var fired int
	c.OnProducerClose(func() { fired++ })

	p.attachConsumer(c)
	assert.Equal(t, 1, fired)
}

func TestRouterCanConsumeMatchesRegisteredProducerKind(t *testing.T) {
	r := &router{producerKinds: make(map[string]Kind)}
	r.registerProducer("prod-1", KindVideo)

	caps := RtpCapabilities{Codecs: []CodecCapability{{Kind: KindVideo, MimeType: "video/VP8"}}}
	assert.True(t, r.CanConsume("prod-1", caps))

	audioOnly := RtpCapabilities{Codecs: []CodecCapability{{Kind: KindAudio, MimeType: "audio/opus"}}}
	assert.False(t, r.CanConsume("prod-1", audioOnly))

	assert.False(t, r.CanConsume("unknown-producer", caps))

	r.unregisterProducer("prod-1")
	assert.False(t, r.CanConsume("prod-1", caps))
}
