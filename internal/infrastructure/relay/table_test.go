package relay

import (
	"net"
	"testing"
	"time"

	"camlink/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingWriter struct {
	data   [][]byte
	target []*net.UDPAddr
}

func (w *recordingWriter) WriteToUDP(b []byte, addr *net.UDPAddr) (int, error) {
	copied := append([]byte(nil), b...)
	w.data = append(w.data, copied)
	w.target = append(w.target, addr)
	return len(b), nil
}

func udpAddr(t *testing.T, s string) *net.UDPAddr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", s)
	require.NoError(t, err)
	return addr
}

func fullPeers(t *testing.T) SessionPeers {
	return SessionPeers{
		protocol.RoleClient: {
			protocol.PortVideo:   udpAddr(t, "1.2.3.4:5000"),
			protocol.PortControl: udpAddr(t, "1.2.3.4:5001"),
		},
		protocol.RoleServer: {
			protocol.PortVideo:   udpAddr(t, "5.6.7.8:6000"),
			protocol.PortControl: udpAddr(t, "5.6.7.8:6001"),
		},
	}
}

func newTestTable() *Table {
	return NewTable(zap.NewNop().Sugar())
}

func TestTable_ForwardBothDirections(t *testing.T) {
	table := newTestTable()
	require.NoError(t, table.UpdateMapping("abc", fullPeers(t)))

	w := &recordingWriter{}

	ok := table.ForwardPacket(w, []byte("from-client"), udpAddr(t, "1.2.3.4:5000"))
	assert.True(t, ok)
	ok = table.ForwardPacket(w, []byte("from-server"), udpAddr(t, "5.6.7.8:6001"))
	assert.True(t, ok)

	require.Len(t, w.data, 2)
	assert.Equal(t, "5.6.7.8:6000", w.target[0].String())
	assert.Equal(t, []byte("from-client"), w.data[0])
	assert.Equal(t, "1.2.3.4:5001", w.target[1].String())
	assert.Equal(t, []byte("from-server"), w.data[1])
}

func TestTable_UnmappedSourceDropped(t *testing.T) {
	table := newTestTable()
	require.NoError(t, table.UpdateMapping("abc", fullPeers(t)))

	w := &recordingWriter{}
	ok := table.ForwardPacket(w, []byte("stray"), udpAddr(t, "9.9.9.9:1234"))
	assert.False(t, ok)
	assert.Empty(t, w.data)
}

func TestTable_UpdateMappingRejectsIncompleteSession(t *testing.T) {
	peers := fullPeers(t)
	delete(peers[protocol.RoleServer], protocol.PortControl)

	table := newTestTable()
	err := table.UpdateMapping("abc", peers)
	assert.ErrorIs(t, err, ErrIncompleteSession)
	assert.Zero(t, table.Size())
}

func TestTable_RematchReplacesMappings(t *testing.T) {
	table := newTestTable()
	require.NoError(t, table.UpdateMapping("abc", fullPeers(t)))

	// Same session id negotiated again from new addresses.
	rematch := SessionPeers{
		protocol.RoleClient: {
			protocol.PortVideo:   udpAddr(t, "10.0.0.1:7000"),
			protocol.PortControl: udpAddr(t, "10.0.0.1:7001"),
		},
		protocol.RoleServer: {
			protocol.PortVideo:   udpAddr(t, "10.0.0.2:8000"),
			protocol.PortControl: udpAddr(t, "10.0.0.2:8001"),
		},
	}
	require.NoError(t, table.UpdateMapping("abc", rematch))

	w := &recordingWriter{}
	assert.False(t, table.ForwardPacket(w, []byte("old"), udpAddr(t, "1.2.3.4:5000")))
	assert.True(t, table.ForwardPacket(w, []byte("new"), udpAddr(t, "10.0.0.1:7000")))
	assert.Equal(t, 4, table.Size())
}

func TestTable_CleanupKeepsFreshDirections(t *testing.T) {
	table := newTestTable()
	require.NoError(t, table.UpdateMapping("abc", fullPeers(t)))

	// Backdate everything except the client video direction.
	stale := time.Now().Add(-time.Minute)
	table.mu.Lock()
	for key, m := range table.forward {
		if key != "1.2.3.4:5000" {
			m.lastSeen = stale
		}
	}
	table.mu.Unlock()

	expired := table.CleanupExpired(time.Now(), 30*time.Second)
	assert.Empty(t, expired, "session with a fresh direction must not expire")
	assert.Equal(t, 1, table.Size())

	// Once the last direction goes stale the session id is reported.
	expired = table.CleanupExpired(time.Now().Add(time.Minute), 30*time.Second)
	assert.Equal(t, []string{"abc"}, expired)
	assert.Zero(t, table.Size())
}

func TestTable_CleanupExpiresWholeSessionOnce(t *testing.T) {
	table := newTestTable()
	require.NoError(t, table.UpdateMapping("abc", fullPeers(t)))

	expired := table.CleanupExpired(time.Now().Add(time.Minute), 30*time.Second)
	assert.Equal(t, []string{"abc"}, expired)
	assert.Zero(t, table.Size())

	expired = table.CleanupExpired(time.Now().Add(2*time.Minute), 30*time.Second)
	assert.Empty(t, expired)
}

func TestTable_SessionForAddress(t *testing.T) {
	table := newTestTable()
	require.NoError(t, table.UpdateMapping("abc", fullPeers(t)))

	sid, ok := table.SessionForAddress(udpAddr(t, "5.6.7.8:6000"))
	assert.True(t, ok)
	assert.Equal(t, "abc", sid)

	_, ok = table.SessionForAddress(udpAddr(t, "9.9.9.9:1"))
	assert.False(t, ok)
}
