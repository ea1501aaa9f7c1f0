// Package peer implements the client-side hole-punching state machine. A Peer
// binds one UDP socket per port type, announces them to the rendezvous server
// until the session is matched, runs the Syn/SynAck/Ack handshake against the
// resolved addresses and hands the opened sockets to the caller.
package peer

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"camlink/pkg/protocol"

	"go.uber.org/zap"
)

// State is the coarse lifecycle position of a Peer.
type State string

const (
	StateIdle        State = "idle"
	StateBinding     State = "binding"
	StateAnnouncing  State = "announcing"
	StateMatched     State = "matched"
	StateHandshaking State = "handshaking"
	StateReady       State = "ready"
	StateAborted     State = "aborted"
)

// Config carries the rendezvous address and the timeout knobs. Zero values
// fall back to the defaults below.
type Config struct {
	RendezvousAddress   string
	SessionID           string
	AnnounceTimeout     time.Duration // per-attempt reply wait
	RetryInterval       time.Duration // sleep between announcement attempts
	RegistrationTimeout time.Duration // total announce budget per port type
	HandshakeInterval   time.Duration // Syn resend interval
	HandshakeTimeout    time.Duration // total handshake budget per port type
	Logger              *zap.SugaredLogger
}

func (c *Config) applyDefaults() {
	if c.AnnounceTimeout <= 0 {
		c.AnnounceTimeout = time.Second
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 5 * time.Second
	}
	if c.RegistrationTimeout <= 0 {
		c.RegistrationTimeout = 300 * time.Second
	}
	if c.HandshakeInterval <= 0 {
		c.HandshakeInterval = time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 15 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop().Sugar()
	}
}

// Endpoint is a confirmed remote address for one port type.
type Endpoint struct {
	IP   string
	Port uint16
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.IP, e.Port)
}

// Peer is a single-use state machine: one Setup call per Peer.
type Peer struct {
	cfg    Config
	logger *zap.SugaredLogger

	abortCtx context.Context
	abort    context.CancelFunc

	mu    sync.Mutex
	state State
	conns map[protocol.PortType]*net.UDPConn
}

func New(cfg Config) *Peer {
	cfg.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Peer{
		cfg:      cfg,
		logger:   cfg.Logger,
		abortCtx: ctx,
		abort:    cancel,
		state:    StateIdle,
		conns:    make(map[protocol.PortType]*net.UDPConn),
	}
}

// State reports the current lifecycle state.
func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Conn returns the bound socket for a port type, nil before BindSocket.
// After a successful Setup the socket carries no deadline and is ready for
// data traffic.
func (p *Peer) Conn(portType protocol.PortType) *net.UDPConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conns[portType]
}

// Abort cooperatively cancels a Setup in progress from any goroutine. The
// blocked Setup call unwinds with ErrAborted.
func (p *Peer) Abort() {
	p.setState(StateAborted)
	p.abort()
}

// BindSocket binds 0.0.0.0:port for a port type; port 0 picks an ephemeral
// one. Binding before any traffic is what ties announcements and data to the
// same NAT mapping.
func (p *Peer) BindSocket(portType protocol.PortType, port int) (*net.UDPConn, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s socket on port %d: %w", portType, port, err)
	}
	p.mu.Lock()
	p.conns[portType] = conn
	p.mu.Unlock()
	return conn, nil
}

// Setup drives the full sequence for every requested port type: bind,
// register with the rendezvous server, handshake with the resolved peer.
// All-or-nothing: on any failure every socket is closed and one of the
// package's sentinel errors is returned.
func (p *Peer) Setup(ctx context.Context, role protocol.Role, ports map[protocol.PortType]int) (map[protocol.PortType]Endpoint, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("invalid role %q", role)
	}
	if p.cfg.SessionID == "" {
		return nil, fmt.Errorf("session id must not be empty")
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("no port types requested")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.abortCtx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	endpoints, err := p.setup(ctx, role, ports)
	if err != nil {
		p.closeAll()
		if p.State() != StateAborted {
			p.setState(StateAborted)
		}
		return nil, err
	}
	p.setState(StateReady)
	return endpoints, nil
}

func (p *Peer) setup(ctx context.Context, role protocol.Role, ports map[protocol.PortType]int) (map[protocol.PortType]Endpoint, error) {
	rendezvous, err := net.ResolveUDPAddr("udp", p.cfg.RendezvousAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve rendezvous address %s: %w", p.cfg.RendezvousAddress, err)
	}

	p.setState(StateBinding)
	for portType, port := range ports {
		if !portType.Valid() {
			return nil, fmt.Errorf("invalid port type %q", portType)
		}
		if _, err := p.BindSocket(portType, port); err != nil {
			return nil, err
		}
	}

	// Register every port type concurrently; a session only matches once all
	// of them have announced. Each goroutine owns a single-use result channel.
	// The first terminal failure cancels the siblings so the join below does
	// not sit out their remaining registration budget.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.setState(StateAnnouncing)
	type registration struct {
		portType protocol.PortType
		ch       chan result[protocol.PeerInfo]
	}
	regs := make([]registration, 0, len(ports))
	for portType := range ports {
		reg := registration{portType: portType, ch: make(chan result[protocol.PeerInfo], 1)}
		regs = append(regs, reg)
		go func(pt protocol.PortType, ch chan<- result[protocol.PeerInfo]) {
			info, err := p.registerWithRendezvous(ctx, p.Conn(pt), rendezvous, protocol.PeerAnnouncement{
				Role:      role,
				SessionID: p.cfg.SessionID,
				PortType:  pt,
			})
			ch <- result[protocol.PeerInfo]{value: info, err: err}
		}(reg.portType, reg.ch)
	}

	infos := make(map[protocol.PortType]protocol.PeerInfo, len(regs))
	var firstErr error
	for _, reg := range regs {
		res := <-reg.ch
		if res.err != nil && firstErr == nil {
			firstErr = res.err
			cancel()
		}
		infos[reg.portType] = res.value
	}
	if firstErr != nil {
		return nil, firstErr
	}
	p.setState(StateMatched)

	// Handshake every port type concurrently against its resolved address.
	p.setState(StateHandshaking)
	endpoints := make(map[protocol.PortType]Endpoint, len(regs))
	hs := make([]registration, 0, len(regs))
	for portType, info := range infos {
		endpoint := endpointFor(portType, info)
		endpoints[portType] = endpoint
		reg := registration{portType: portType, ch: make(chan result[protocol.PeerInfo], 1)}
		hs = append(hs, reg)
		go func(pt protocol.PortType, target Endpoint, ch chan<- result[protocol.PeerInfo]) {
			err := p.handshake(ctx, p.Conn(pt), target)
			ch <- result[protocol.PeerInfo]{err: err}
		}(portType, endpoint, reg.ch)
	}
	for _, reg := range hs {
		res := <-reg.ch
		if res.err != nil && firstErr == nil {
			firstErr = res.err
			cancel()
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}

	// Hand clean sockets to the caller.
	p.mu.Lock()
	for _, conn := range p.conns {
		conn.SetReadDeadline(time.Time{})
	}
	p.mu.Unlock()

	return endpoints, nil
}

type result[T any] struct {
	value T
	err   error
}

func endpointFor(portType protocol.PortType, info protocol.PeerInfo) Endpoint {
	port := info.VideoPort
	if portType == protocol.PortControl {
		port = info.ControlPort
	}
	return Endpoint{IP: info.IP, Port: port}
}

func (p *Peer) setState(state State) {
	p.mu.Lock()
	p.state = state
	p.mu.Unlock()
}

func (p *Peer) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, conn := range p.conns {
		conn.Close()
	}
}
