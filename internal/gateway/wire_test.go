package gateway

import (
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defguard/defguard-core/internal/model"
)

func TestPeerMutationFormatsAllowedIPs(t *testing.T) {
	m := peerMutation(model.Peer{
		DeviceID:   1,
		Pubkey:     "abc==",
		AllowedIPs: []net.IP{net.ParseIP("10.0.0.5")},
	})

	assert.Equal(t, int64(1), m.DeviceID)
	assert.Equal(t, []string{"10.0.0.5"}, m.AllowedIPs)
}

func TestEncodeEnvelopeRoundTrip(t *testing.T) {
	raw, err := encodeEnvelope(MessagePeerAdded, 7, PeerMutation{DeviceID: 2, Pubkey: "xyz"})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))

	assert.Equal(t, MessagePeerAdded, env.Type)
	assert.Equal(t, int64(7), env.Seq)

	var payload PeerMutation
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	assert.Equal(t, int64(2), payload.DeviceID)
}
