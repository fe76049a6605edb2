package mediaworker

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterCodecsBuildsMatchingCapabilities(t *testing.T) {
	me := &webrtc.MediaEngine{}
	codecs, caps, err := registerCodecs(me, []string{"audio/opus", "video/VP8"})
	require.NoError(t, err)
	require.Len(t, codecs, 2)
	require.Len(t, caps.Codecs, 2)

	assert.Equal(t, KindAudio, caps.Codecs[0].Kind)
	assert.Equal(t, "audio/opus", caps.Codecs[0].MimeType)
	assert.Equal(t, uint32(48000), caps.Codecs[0].ClockRate)
	assert.Equal(t, uint16(2), caps.Codecs[0].Channels)

	assert.Equal(t, KindVideo, caps.Codecs[1].Kind)
	assert.Equal(t, "video/VP8", caps.Codecs[1].MimeType)
	assert.Equal(t, uint32(90000), caps.Codecs[1].ClockRate)

	// Payload types must not collide.
	assert.NotEqual(t, codecs[0].PayloadType, codecs[1].PayloadType)
}

func TestRegisterCodecsRejectsMalformedDescriptor(t *testing.T) {
	me := &webrtc.MediaEngine{}
	_, _, err := registerCodecs(me, []string{"not-a-valid-descriptor"})
	assert.Error(t, err)
}

func TestRegisterCodecsRejectsUnknownKind(t *testing.T) {
	me := &webrtc.MediaEngine{}
	_, _, err := registerCodecs(me, []string{"teletext/foo"})
	assert.Error(t, err)
}
