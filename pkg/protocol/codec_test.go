package protocol

import (
	"bytes"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	messages := []Message{
		PeerAnnouncement{Role: RoleServer, SessionID: "abc", PortType: PortVideo},
		PeerAnnouncement{Role: RoleClient, SessionID: "xyz", PortType: PortControl},
		PeerInfo{IP: "9.8.7.6", VideoPort: 6000, ControlPort: 6001},
		Syn{},
		SynAck{},
		Ack{},
		Error{Message: "unauthorized session id"},
		Command{ID: NewCommandID(), Name: "set_bitrate", Value: "2500"},
		Control{Pitch: 0.25, Yaw: -1, Roll: 0, Throttle: 0.9},
		Telemetry{Battery: 87.5, SignalDBM: -71, NetworkType: "LTE"},
		Latency{SentUnixNano: 1234567890},
	}

	for _, m := range messages {
		data, err := Encode(m)
		require.NoError(t, err, "encode %s", m.Type())

		got, err := Decode(data)
		require.NoError(t, err, "decode %s", m.Type())
		assert.Equal(t, m, got)
	}
}

func TestPeekType(t *testing.T) {
	data, err := Encode(PeerAnnouncement{Role: RoleClient, SessionID: "s", PortType: PortVideo})
	require.NoError(t, err)

	typ, err := PeekType(data)
	require.NoError(t, err)
	assert.Equal(t, TypePeerAnnouncement, typ)
}

// PeekType must survive a structurally valid envelope whose payload would
// fail full decode.
func TestPeekTypeIgnoresPayloadSchema(t *testing.T) {
	data, err := msgpack.Marshal(map[string]interface{}{
		"type":    "syn",
		"bogus":   42,
		"another": "field",
	})
	require.NoError(t, err)

	typ, err := PeekType(data)
	require.NoError(t, err)
	assert.Equal(t, TypeSyn, typ)

	_, err = Decode(data)
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestDecodeUnknownType(t *testing.T) {
	data, err := msgpack.Marshal(map[string]interface{}{"type": "warp_drive"})
	require.NoError(t, err)

	_, err = Decode(data)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeMissingRequiredField(t *testing.T) {
	data, err := msgpack.Marshal(map[string]interface{}{
		"type": "peer_announcement",
		"role": "client",
		// session_id and port_type absent
	})
	require.NoError(t, err)

	_, err = Decode(data)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeExtraField(t *testing.T) {
	data, err := msgpack.Marshal(map[string]interface{}{
		"type":       "peer_announcement",
		"role":       "client",
		"session_id": "abc",
		"port_type":  "video",
		"claimed_ip": "6.6.6.6",
	})
	require.NoError(t, err)

	_, err = Decode(data)
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestDecodeGarbage(t *testing.T) {
	for _, data := range [][]byte{
		nil,
		{},
		[]byte("not msgpack at all"),
		{0xc0},             // nil, not a map
		{0x92, 0x01, 0x02}, // array, not a map
	} {
		_, err := Decode(data)
		assert.ErrorIs(t, err, ErrMalformed, "input % x", data)

		_, err = PeekType(data)
		assert.ErrorIs(t, err, ErrMalformed, "peek input % x", data)
	}
}

func TestDecodeMissingDiscriminator(t *testing.T) {
	data, err := msgpack.Marshal(map[string]interface{}{"role": "client"})
	require.NoError(t, err)

	_, err = Decode(data)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestEncodeDeterministic(t *testing.T) {
	m := PeerInfo{IP: "1.2.3.4", VideoPort: 5000, ControlPort: 5001}

	a, err := Encode(m)
	require.NoError(t, err)
	b, err := Encode(m)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(a, b))
}

func TestCommandIDsUniqueAndSorted(t *testing.T) {
	const n = 1000

	ids := make([]string, n)
	for i := range ids {
		ids[i] = NewCommandID()
	}

	unique := make(map[string]struct{}, n)
	for _, id := range ids {
		unique[id] = struct{}{}
	}
	assert.Len(t, unique, n)

	// Sequence part keeps ids from the same process ordered.
	assert.True(t, sort.SliceIsSorted(ids, func(i, j int) bool {
		return len(ids[i]) < len(ids[j]) || (len(ids[i]) == len(ids[j]) && ids[i] < ids[j])
	}))
}

func TestRoleAndPortTypeValidity(t *testing.T) {
	assert.True(t, RoleClient.Valid())
	assert.True(t, RoleServer.Valid())
	assert.False(t, Role("spectator").Valid())
	assert.Equal(t, RoleServer, RoleClient.Other())

	assert.True(t, PortVideo.Valid())
	assert.True(t, PortControl.Valid())
	assert.False(t, PortType("audio").Valid())
}
