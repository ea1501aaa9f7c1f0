package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"camlink/pkg/protocol"
)

// registerWithRendezvous announces on conn until the server replies with the
// matched PeerInfo. An Error reply fails immediately with ErrUnauthorized;
// read timeouts retry after the configured interval until the registration
// budget runs out.
func (p *Peer) registerWithRendezvous(ctx context.Context, conn *net.UDPConn, rendezvous *net.UDPAddr, ann protocol.PeerAnnouncement) (protocol.PeerInfo, error) {
	data, err := protocol.Encode(ann)
	if err != nil {
		return protocol.PeerInfo{}, fmt.Errorf("failed to encode announcement: %w", err)
	}

	deadline := time.Now().Add(p.cfg.RegistrationTimeout)
	buf := make([]byte, 2048)

	for {
		if err := ctx.Err(); err != nil {
			return protocol.PeerInfo{}, ErrAborted
		}
		if time.Now().After(deadline) {
			return protocol.PeerInfo{}, fmt.Errorf("%w: no match for %s/%s", ErrRegistrationTimeout, ann.PortType, ann.SessionID)
		}

		if _, err := conn.WriteToUDP(data, rendezvous); err != nil {
			p.logger.Debugw("announcement send failed", "port_type", ann.PortType, "error", err)
			if !p.sleep(ctx, p.cfg.RetryInterval) {
				return protocol.PeerInfo{}, ErrAborted
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(p.cfg.AnnounceTimeout))
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if !isTimeout(err) {
				p.logger.Debugw("announcement read failed", "port_type", ann.PortType, "error", err)
			}
			if !p.sleep(ctx, p.cfg.RetryInterval) {
				return protocol.PeerInfo{}, ErrAborted
			}
			continue
		}

		msg, err := protocol.Decode(buf[:n])
		if err != nil {
			return protocol.PeerInfo{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
		}
		switch m := msg.(type) {
		case protocol.PeerInfo:
			p.logger.Debugw("session matched",
				"port_type", ann.PortType,
				"peer_ip", m.IP,
				"video_port", m.VideoPort,
				"control_port", m.ControlPort,
			)
			return m, nil
		case protocol.Error:
			return protocol.PeerInfo{}, fmt.Errorf("%w: %s", ErrUnauthorized, m.Message)
		case protocol.Syn, protocol.SynAck, protocol.Ack:
			// The other peer matched first and started handshaking; our own
			// PeerInfo is still in flight.
			continue
		default:
			return protocol.PeerInfo{}, fmt.Errorf("%w: unexpected %s during registration", ErrMalformedReply, msg.Type())
		}
	}
}

// handshake opens and confirms the NAT path to target. Both peers run the
// identical loop: send Syn on the interval, answer Syn with SynAck, answer
// SynAck with Ack and finish, finish on Ack. Any arrival order converges as
// long as a final message eventually gets through.
func (p *Peer) handshake(ctx context.Context, conn *net.UDPConn, target Endpoint) error {
	addr, err := net.ResolveUDPAddr("udp", target.String())
	if err != nil {
		return fmt.Errorf("failed to resolve peer address %s: %w", target, err)
	}

	syn, err := protocol.Encode(protocol.Syn{})
	if err != nil {
		return err
	}
	synAck, err := protocol.Encode(protocol.SynAck{})
	if err != nil {
		return err
	}
	ack, err := protocol.Encode(protocol.Ack{})
	if err != nil {
		return err
	}

	deadline := time.Now().Add(p.cfg.HandshakeTimeout)
	buf := make([]byte, 2048)

	for {
		if err := ctx.Err(); err != nil {
			return ErrAborted
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: no reply from %s", ErrHandshakeTimeout, target)
		}

		if _, err := conn.WriteToUDP(syn, addr); err != nil {
			p.logger.Debugw("syn send failed", "target", target.String(), "error", err)
		}

		// Drain replies until the next resend is due.
		until := time.Now().Add(p.cfg.HandshakeInterval)
		for time.Now().Before(until) {
			conn.SetReadDeadline(until)
			n, src, err := conn.ReadFromUDP(buf)
			if err != nil {
				if isTimeout(err) {
					break
				}
				p.logger.Debugw("handshake read failed", "target", target.String(), "error", err)
				break
			}

			msg, err := protocol.Decode(buf[:n])
			if err != nil {
				// Stray traffic; the punched path carries whatever the
				// network delivers.
				continue
			}
			switch msg.(type) {
			case protocol.Syn:
				if _, err := conn.WriteToUDP(synAck, src); err != nil {
					p.logger.Debugw("syn_ack send failed", "target", target.String(), "error", err)
				}
			case protocol.SynAck:
				if _, err := conn.WriteToUDP(ack, src); err != nil {
					p.logger.Debugw("ack send failed", "target", target.String(), "error", err)
				}
				return nil
			case protocol.Ack:
				return nil
			default:
				// Duplicate PeerInfo or early data; keep waiting.
			}
		}
	}
}

// sleep waits d or until ctx is cancelled, reporting whether the wait
// completed.
func (p *Peer) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
