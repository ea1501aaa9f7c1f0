package rendezvous

import (
	"net"
	"sync"
	"time"

	"camlink/pkg/protocol"
)

// Peers is a matched session's registered address per (role, port type).
type Peers map[protocol.Role]map[protocol.PortType]*net.UDPAddr

type tableEntry struct {
	addr *net.UDPAddr
	ts   time.Time
}

// SessionTable correlates announcements by session id until both roles have
// registered both port types. One mutex, never held across socket ops.
type SessionTable struct {
	mu       sync.Mutex
	sessions map[string]map[protocol.Role]map[protocol.PortType]*tableEntry
}

func NewSessionTable() *SessionTable {
	return &SessionTable{
		sessions: make(map[string]map[protocol.Role]map[protocol.PortType]*tableEntry),
	}
}

// Upsert records the observed source address for a (session, role, port type)
// slot, refreshing the timestamp on repeat announcements. It reports whether
// the session now has both roles fully registered.
func (t *SessionTable) Upsert(sessionID string, role protocol.Role, portType protocol.PortType, addr *net.UDPAddr, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	roles, ok := t.sessions[sessionID]
	if !ok {
		roles = make(map[protocol.Role]map[protocol.PortType]*tableEntry)
		t.sessions[sessionID] = roles
	}
	ports, ok := roles[role]
	if !ok {
		ports = make(map[protocol.PortType]*tableEntry)
		roles[role] = ports
	}
	ports[portType] = &tableEntry{addr: addr, ts: now}

	return t.completeLocked(sessionID)
}

// Take removes and returns the session's registered peers. The id becomes
// immediately reusable for a fresh negotiation.
func (t *SessionTable) Take(sessionID string) (Peers, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	roles, ok := t.sessions[sessionID]
	if !ok {
		return nil, false
	}
	delete(t.sessions, sessionID)

	peers := make(Peers, len(roles))
	for role, ports := range roles {
		peers[role] = make(map[protocol.PortType]*net.UDPAddr, len(ports))
		for pt, e := range ports {
			peers[role][pt] = e.addr
		}
	}
	return peers, true
}

// Sweep deletes sessions whose every entry is older than timeout and returns
// the expired ids. A session with any fresh entry survives whole.
func (t *SessionTable) Sweep(now time.Time, timeout time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []string
	for id, roles := range t.sessions {
		stale := true
		for _, ports := range roles {
			for _, e := range ports {
				if now.Sub(e.ts) <= timeout {
					stale = false
				}
			}
		}
		if stale {
			delete(t.sessions, id)
			expired = append(expired, id)
		}
	}
	return expired
}

// Len reports the number of pending sessions.
func (t *SessionTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

func (t *SessionTable) completeLocked(sessionID string) bool {
	roles := t.sessions[sessionID]
	for _, role := range []protocol.Role{protocol.RoleClient, protocol.RoleServer} {
		ports, ok := roles[role]
		if !ok {
			return false
		}
		for _, pt := range protocol.PortTypes {
			if _, ok := ports[pt]; !ok {
				return false
			}
		}
	}
	return true
}
