package relay

import (
	"errors"
	"net"
	"sync"
	"time"

	"camlink/pkg/protocol"

	"go.uber.org/zap"
)

// ErrIncompleteSession is returned by UpdateMapping when a role is missing a
// port-type address, so no usable forwarding pair exists.
var ErrIncompleteSession = errors.New("session is missing a role or port type address")

// PacketWriter is the subset of *net.UDPConn the forwarder needs.
type PacketWriter interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// SessionPeers holds the registered address of every (role, port type) pair
// of a matched session.
type SessionPeers map[protocol.Role]map[protocol.PortType]*net.UDPAddr

type mapping struct {
	target    *net.UDPAddr
	portType  protocol.PortType
	sessionID string
	lastSeen  time.Time
}

// Table maps a packet's source address to the opposite peer of its session.
// One mutex guards the maps; socket writes happen outside it.
type Table struct {
	mu        sync.Mutex
	forward   map[string]*mapping
	bySession map[string]map[string]struct{} // session id -> source addr keys
	logger    *zap.SugaredLogger
}

func NewTable(logger *zap.SugaredLogger) *Table {
	return &Table{
		forward:   make(map[string]*mapping),
		bySession: make(map[string]map[string]struct{}),
		logger:    logger,
	}
}

// UpdateMapping installs the bidirectional mappings for a freshly matched
// session, replacing any mappings a previous match of the same id left
// behind. Both roles must have an address for both port types.
func (t *Table) UpdateMapping(sessionID string, peers SessionPeers) error {
	for _, role := range []protocol.Role{protocol.RoleClient, protocol.RoleServer} {
		for _, pt := range protocol.PortTypes {
			if peers[role][pt] == nil {
				return ErrIncompleteSession
			}
		}
	}

	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.dropSessionLocked(sessionID)

	keys := make(map[string]struct{}, 2*len(protocol.PortTypes))
	for _, pt := range protocol.PortTypes {
		client := peers[protocol.RoleClient][pt]
		server := peers[protocol.RoleServer][pt]

		t.forward[client.String()] = &mapping{target: server, portType: pt, sessionID: sessionID, lastSeen: now}
		t.forward[server.String()] = &mapping{target: client, portType: pt, sessionID: sessionID, lastSeen: now}
		keys[client.String()] = struct{}{}
		keys[server.String()] = struct{}{}
	}
	t.bySession[sessionID] = keys

	return nil
}

// ForwardPacket relays data to the peer mapped for src. Returns true when the
// packet was forwarded; unmapped sources are dropped silently.
func (t *Table) ForwardPacket(conn PacketWriter, data []byte, src *net.UDPAddr) bool {
	t.mu.Lock()
	m, ok := t.forward[src.String()]
	if !ok {
		t.mu.Unlock()
		t.logger.Debugw("dropping packet from unmapped source", "src", src.String())
		return false
	}
	m.lastSeen = time.Now()
	target := m.target
	t.mu.Unlock()

	if _, err := conn.WriteToUDP(data, target); err != nil {
		t.logger.Warnw("failed to forward packet",
			"session_id", m.sessionID,
			"port_type", m.portType,
			"target", target.String(),
			"error", err,
		)
		return false
	}
	return true
}

// CleanupExpired drops directions idle longer than timeout. A session id is
// reported expired only once all of its directions are gone, so one-way
// traffic keeps a session alive.
func (t *Table) CleanupExpired(now time.Time, timeout time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []string
	for key, m := range t.forward {
		if now.Sub(m.lastSeen) <= timeout {
			continue
		}
		delete(t.forward, key)
		if keys, ok := t.bySession[m.sessionID]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(t.bySession, m.sessionID)
				expired = append(expired, m.sessionID)
			}
		}
	}
	return expired
}

// SessionForAddress reports which session a source address belongs to.
func (t *Table) SessionForAddress(addr *net.UDPAddr) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.forward[addr.String()]
	if !ok {
		return "", false
	}
	return m.sessionID, true
}

// Size reports the number of installed directions.
func (t *Table) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.forward)
}

func (t *Table) dropSessionLocked(sessionID string) {
	keys, ok := t.bySession[sessionID]
	if !ok {
		return
	}
	for key := range keys {
		delete(t.forward, key)
	}
	delete(t.bySession, sessionID)
}
