package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"camlink/pkg/config"
	"camlink/pkg/logger"
	"camlink/pkg/peer"
	"camlink/pkg/protocol"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// punch verifies the NAT path end to end: it runs the peer state machine
// against the configured rendezvous server and, once ready, exchanges a
// latency probe with the other side over the punched sockets.
func main() {
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", "configs/config.yaml", "path to config file")
		roleFlag   = flag.String("role", "", "peer role: client or server")
		sessionID  = flag.String("session", "", "session id to announce")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level, "console")
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	role := protocol.Role(*roleFlag)
	if !role.Valid() {
		log.Fatalw("role must be client or server", "role", *roleFlag)
	}
	if *sessionID == "" {
		log.Fatal("session id must not be empty")
	}

	p := peer.New(peer.Config{
		RendezvousAddress:   cfg.Peer.RendezvousAddress,
		SessionID:           *sessionID,
		AnnounceTimeout:     cfg.Peer.AnnounceTimeout,
		RetryInterval:       cfg.Peer.RetryInterval,
		RegistrationTimeout: cfg.Peer.RegistrationTimeout,
		HandshakeInterval:   cfg.Peer.HandshakeInterval,
		HandshakeTimeout:    cfg.Peer.HandshakeTimeout,
		Logger:              log,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Infow("aborting", "signal", sig)
		p.Abort()
	}()

	log.Infow("setting up peer",
		"rendezvous", cfg.Peer.RendezvousAddress,
		"role", role,
		"session_id", *sessionID,
	)

	endpoints, err := p.Setup(context.Background(), role, map[protocol.PortType]int{
		protocol.PortVideo:   cfg.Peer.VideoPort,
		protocol.PortControl: cfg.Peer.ControlPort,
	})
	if err != nil {
		log.Fatalw("setup failed", "error", err)
	}

	for portType, endpoint := range endpoints {
		log.Infow("path ready", "port_type", portType, "peer", endpoint.String())
	}

	if err := probeLatency(p, endpoints[protocol.PortControl], log); err != nil {
		log.Warnw("latency probe failed", "error", err)
	}

	for _, pt := range protocol.PortTypes {
		p.Conn(pt).Close()
	}
}

// probeLatency sends one timestamped probe over the control path and waits
// for the other side's probe to confirm two-way traffic.
func probeLatency(p *peer.Peer, target peer.Endpoint, log *zap.SugaredLogger) error {
	conn := p.Conn(protocol.PortControl)
	addr, err := net.ResolveUDPAddr("udp", target.String())
	if err != nil {
		return err
	}

	probe, err := protocol.Encode(protocol.Latency{SentUnixNano: time.Now().UnixNano()})
	if err != nil {
		return err
	}
	if _, err := conn.WriteToUDP(probe, addr); err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 2048)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		msg, err := protocol.Decode(buf[:n])
		if err != nil {
			continue
		}
		if probe, ok := msg.(protocol.Latency); ok {
			oneWay := time.Duration(time.Now().UnixNano() - probe.SentUnixNano)
			log.Infow("received peer probe", "one_way", oneWay.String())
			return nil
		}
	}
}
