package signaling

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameNameNormalizesBothWireConventions(t *testing.T) {
	event := Frame{Event: "joinRoom"}
	assert.Equal(t, "joinRoom", event.Name())

	legacy := Frame{Type: "joinRoom"}
	assert.Equal(t, "joinRoom", legacy.Name())

	assert.Equal(t, "", Frame{}.Name())
}

func TestFrameEventConventionWinsWhenBothSet(t *testing.T) {
	// A frame should never carry both in practice, but Name() must still
	// resolve deterministically rather than pick whichever field happens
	// to be read first.
	f := Frame{Event: "newPeer", Type: "legacyNewPeer"}
	assert.Equal(t, "newPeer", f.Name())
}

func TestFrameRoundTripsAckForRequestResponse(t *testing.T) {
	raw := []byte(`{"event":"joinRoom","data":{"roomId":"r1"},"ack":"42"}`)
	var f Frame
	require := assert.New(t)
	require.NoError(json.Unmarshal(raw, &f))
	require.Equal("joinRoom", f.Name())
	require.Equal("42", f.Ack)

	var in joinRoomIn
	require.NoError(json.Unmarshal(f.Data, &in))
	require.Equal("r1", in.RoomID)
}
