package rendezvous

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"camlink/internal/core/ports"
	"camlink/internal/infrastructure/monitoring"
	"camlink/internal/infrastructure/relay"
	"camlink/pkg/config"
	"camlink/pkg/protocol"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxDatagramSize = 64 * 1024

type sourceLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Server is the UDP rendezvous service. It correlates peer announcements into
// matched PeerInfo replies and, in relay mode, forwards session traffic
// between the matched addresses.
type Server struct {
	cfg     *config.Config
	store   ports.SessionStore // nil disables access control
	metrics *monitoring.PrometheusCollector
	logger  *zap.SugaredLogger

	conn       *net.UDPConn
	table      *SessionTable
	relayTable *relay.Table

	limMu    sync.Mutex
	limiters map[string]*sourceLimiter

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a rendezvous server. store may be nil to disable session
// id access control; metrics may be nil.
func NewServer(cfg *config.Config, store ports.SessionStore, metrics *monitoring.PrometheusCollector, logger *zap.SugaredLogger) *Server {
	s := &Server{
		cfg:      cfg,
		store:    store,
		metrics:  metrics,
		logger:   logger,
		table:    NewSessionTable(),
		limiters: make(map[string]*sourceLimiter),
	}
	if cfg.Rendezvous.Mode == config.ModeRelay {
		s.relayTable = relay.NewTable(logger)
	}
	return s
}

// Start binds the UDP socket and launches the receive and sweep loops. It
// returns once the socket is listening.
func (s *Server) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", s.cfg.Rendezvous.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve rendezvous address %s: %w", s.cfg.Rendezvous.Address, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind rendezvous socket: %w", err)
	}
	s.conn = conn

	ctx, s.cancel = context.WithCancel(ctx)

	s.logger.Infow("rendezvous server listening",
		"address", conn.LocalAddr().String(),
		"mode", s.cfg.Rendezvous.Mode,
		"access_control", s.store != nil,
	)

	s.wg.Add(2)
	go s.receiveLoop(ctx)
	go s.sweepLoop(ctx)
	if s.relayTable != nil {
		s.wg.Add(1)
		go s.relaySweepLoop(ctx)
	}
	return nil
}

// Stop cancels the loops, closes the socket and waits for goroutines.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.conn != nil {
		s.conn.Close()
	}
	s.wg.Wait()
}

// Addr reports the bound socket address.
func (s *Server) Addr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

func (s *Server) receiveLoop(ctx context.Context) {
	defer s.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		n, src, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.logger.Warnw("rendezvous read failed", "error", err)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		s.handlePacket(ctx, data, src)
	}
}

// handlePacket never lets a malformed or hostile datagram take down the
// receive loop.
func (s *Server) handlePacket(ctx context.Context, data []byte, src *net.UDPAddr) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorw("panic while handling datagram", "src", src.String(), "panic", r)
		}
	}()

	if s.relayTable != nil {
		if s.relayTable.ForwardPacket(s.conn, data, src) {
			if s.metrics != nil {
				s.metrics.RecordRelayForwarded(len(data))
			}
			return
		}
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordDecodeError()
			if s.relayTable != nil {
				s.metrics.RecordRelayDropped()
			}
		}
		s.logger.Debugw("dropping undecodable datagram", "src", src.String(), "error", err)
		return
	}

	ann, ok := msg.(protocol.PeerAnnouncement)
	if !ok {
		s.logger.Debugw("dropping unexpected message", "src", src.String(), "type", msg.Type())
		return
	}
	s.handleAnnouncement(ctx, ann, src)
}

func (s *Server) handleAnnouncement(ctx context.Context, ann protocol.PeerAnnouncement, src *net.UDPAddr) {
	if !ann.Role.Valid() || !ann.PortType.Valid() || ann.SessionID == "" {
		s.logger.Warnw("dropping invalid announcement",
			"src", src.String(),
			"role", ann.Role,
			"port_type", ann.PortType,
		)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordAnnouncement(ann.Role, ann.PortType)
	}

	if !s.allowSource(src.IP.String()) {
		if s.metrics != nil {
			s.metrics.RecordAnnouncementThrottled()
		}
		s.logger.Warnw("rate limiting announcements from source", "src", src.String())
		return
	}

	if s.store != nil {
		known, err := s.store.SessionIDExists(ctx, ann.SessionID)
		if err != nil {
			s.logger.Errorw("session id lookup failed", "session_id", ann.SessionID, "error", err)
			return
		}
		if !known {
			s.logger.Warnw("rejecting unknown session id", "src", src.String(), "session_id", ann.SessionID)
			s.send(protocol.Error{Message: "unauthorized session id"}, src)
			return
		}
	}

	complete := s.table.Upsert(ann.SessionID, ann.Role, ann.PortType, src, time.Now())
	if s.metrics != nil {
		s.metrics.SetSessionsPending(s.table.Len())
	}
	s.logger.Debugw("announcement registered",
		"session_id", ann.SessionID,
		"role", ann.Role,
		"port_type", ann.PortType,
		"src", src.String(),
	)
	if !complete {
		return
	}

	peers, ok := s.table.Take(ann.SessionID)
	if !ok {
		return
	}
	if s.metrics != nil {
		s.metrics.RecordMatch()
		s.metrics.SetSessionsPending(s.table.Len())
	}
	s.logger.Infow("session matched", "session_id", ann.SessionID, "mode", s.cfg.Rendezvous.Mode)

	if s.relayTable != nil {
		s.matchRelay(ann.SessionID, peers)
	} else {
		s.matchPunch(peers)
	}
}

// matchPunch sends each side the other side's observed addresses, once to
// every registered source address.
func (s *Server) matchPunch(peers Peers) {
	for _, role := range []protocol.Role{protocol.RoleClient, protocol.RoleServer} {
		info, ok := peerInfoFor(peers[role.Other()])
		if !ok {
			continue
		}
		for _, addr := range peers[role] {
			s.send(info, addr)
		}
	}
}

// matchRelay installs forwarding mappings, then hands both sides the relay's
// own address so all session traffic flows through this socket.
func (s *Server) matchRelay(sessionID string, peers Peers) {
	if err := s.relayTable.UpdateMapping(sessionID, relay.SessionPeers(peers)); err != nil {
		s.logger.Errorw("failed to install relay mapping", "session_id", sessionID, "error", err)
		return
	}
	if s.metrics != nil {
		s.metrics.SetRelayMappings(s.relayTable.Size())
	}

	port := uint16(s.Addr().Port)
	info := protocol.PeerInfo{
		IP:          s.cfg.Relay.PublicIP,
		VideoPort:   port,
		ControlPort: port,
	}
	for _, ports := range peers {
		for _, addr := range ports {
			s.send(info, addr)
		}
	}
}

func peerInfoFor(ports map[protocol.PortType]*net.UDPAddr) (protocol.PeerInfo, bool) {
	video := ports[protocol.PortVideo]
	control := ports[protocol.PortControl]
	if video == nil || control == nil {
		return protocol.PeerInfo{}, false
	}
	return protocol.PeerInfo{
		IP:          video.IP.String(),
		VideoPort:   uint16(video.Port),
		ControlPort: uint16(control.Port),
	}, true
}

func (s *Server) send(msg protocol.Message, addr *net.UDPAddr) {
	data, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Errorw("failed to encode reply", "type", msg.Type(), "error", err)
		return
	}
	if _, err := s.conn.WriteToUDP(data, addr); err != nil {
		s.logger.Warnw("failed to send reply", "type", msg.Type(), "addr", addr.String(), "error", err)
	}
}

// allowSource applies per-source-IP announcement rate limiting.
func (s *Server) allowSource(ip string) bool {
	if !s.cfg.RateLimiting.Enabled {
		return true
	}

	s.limMu.Lock()
	defer s.limMu.Unlock()

	lim, ok := s.limiters[ip]
	if !ok {
		lim = &sourceLimiter{
			limiter: rate.NewLimiter(
				rate.Limit(s.cfg.RateLimiting.Announcements.PerSecond),
				s.cfg.RateLimiting.Announcements.Burst,
			),
		}
		s.limiters[ip] = lim
	}
	lim.lastSeen = time.Now()
	return lim.limiter.Allow()
}

func (s *Server) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Rendezvous.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			expired := s.table.Sweep(now, s.cfg.Rendezvous.SessionTimeout)
			if len(expired) > 0 {
				s.logger.Infow("expired pending sessions", "session_ids", expired)
				if s.metrics != nil {
					s.metrics.RecordSessionsExpired(len(expired))
				}
			}
			if s.metrics != nil {
				s.metrics.SetSessionsPending(s.table.Len())
			}
			s.pruneLimiters(now)
		}
	}
}

func (s *Server) relaySweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Relay.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			expired := s.relayTable.CleanupExpired(now, s.cfg.Relay.MappingTimeout)
			if len(expired) > 0 {
				s.logger.Infow("expired relay sessions", "session_ids", expired)
				if s.metrics != nil {
					s.metrics.RecordRelaySessionsExpired(len(expired))
				}
			}
			if s.metrics != nil {
				s.metrics.SetRelayMappings(s.relayTable.Size())
			}
		}
	}
}

// pruneLimiters forgets sources idle for over a minute so the limiter map
// does not grow without bound.
func (s *Server) pruneLimiters(now time.Time) {
	s.limMu.Lock()
	defer s.limMu.Unlock()

	for ip, lim := range s.limiters {
		if now.Sub(lim.lastSeen) > time.Minute {
			delete(s.limiters, ip)
		}
	}
}
