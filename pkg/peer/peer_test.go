package peer

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"camlink/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRendezvous matches announcements on loopback the way the real server
// does: once both roles have announced both port types it sends each side the
// other's observed addresses.
type fakeRendezvous struct {
	t    *testing.T
	conn *net.UDPConn

	mu    sync.Mutex
	seen  map[protocol.Role]map[protocol.PortType]*net.UDPAddr
	done  chan struct{}
	close sync.Once
}

func startFakeRendezvous(t *testing.T) *fakeRendezvous {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)

	f := &fakeRendezvous{
		t:    t,
		conn: conn,
		seen: make(map[protocol.Role]map[protocol.PortType]*net.UDPAddr),
		done: make(chan struct{}),
	}
	go f.loop()
	t.Cleanup(f.stop)
	return f
}

func (f *fakeRendezvous) addr() string { return f.conn.LocalAddr().String() }

func (f *fakeRendezvous) stop() {
	f.close.Do(func() {
		close(f.done)
		f.conn.Close()
	})
}

func (f *fakeRendezvous) loop() {
	buf := make([]byte, 2048)
	for {
		n, src, err := f.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		msg, err := protocol.Decode(buf[:n])
		if err != nil {
			continue
		}
		ann, ok := msg.(protocol.PeerAnnouncement)
		if !ok {
			continue
		}
		f.record(ann, src)
	}
}

func (f *fakeRendezvous) record(ann protocol.PeerAnnouncement, src *net.UDPAddr) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.seen[ann.Role] == nil {
		f.seen[ann.Role] = make(map[protocol.PortType]*net.UDPAddr)
	}
	f.seen[ann.Role][ann.PortType] = src

	for _, role := range []protocol.Role{protocol.RoleClient, protocol.RoleServer} {
		for _, pt := range protocol.PortTypes {
			if f.seen[role][pt] == nil {
				return
			}
		}
	}

	for _, role := range []protocol.Role{protocol.RoleClient, protocol.RoleServer} {
		other := f.seen[role.Other()]
		info := protocol.PeerInfo{
			IP:          other[protocol.PortVideo].IP.String(),
			VideoPort:   uint16(other[protocol.PortVideo].Port),
			ControlPort: uint16(other[protocol.PortControl].Port),
		}
		data, err := protocol.Encode(info)
		require.NoError(f.t, err)
		for _, addr := range f.seen[role] {
			f.conn.WriteToUDP(data, addr)
		}
	}
}

func fastConfig(rendezvousAddr string) Config {
	return Config{
		RendezvousAddress:   rendezvousAddr,
		SessionID:           "testsessionid000",
		AnnounceTimeout:     100 * time.Millisecond,
		RetryInterval:       50 * time.Millisecond,
		RegistrationTimeout: 5 * time.Second,
		HandshakeInterval:   50 * time.Millisecond,
		HandshakeTimeout:    5 * time.Second,
	}
}

func TestSetup_TwoPeersConverge(t *testing.T) {
	f := startFakeRendezvous(t)

	ports := map[protocol.PortType]int{protocol.PortVideo: 0, protocol.PortControl: 0}

	type setupResult struct {
		endpoints map[protocol.PortType]Endpoint
		err       error
	}
	run := func(role protocol.Role, ch chan<- setupResult) {
		p := New(fastConfig(f.addr()))
		endpoints, err := p.Setup(context.Background(), role, ports)
		if err == nil {
			defer p.Conn(protocol.PortVideo).Close()
			defer p.Conn(protocol.PortControl).Close()
			assert.Equal(t, StateReady, p.State())
		}
		ch <- setupResult{endpoints: endpoints, err: err}
	}

	serverCh := make(chan setupResult, 1)
	clientCh := make(chan setupResult, 1)
	go run(protocol.RoleServer, serverCh)
	go run(protocol.RoleClient, clientCh)

	server := <-serverCh
	client := <-clientCh
	require.NoError(t, server.err)
	require.NoError(t, client.err)

	// Each side resolved two endpoints on the loopback address.
	for _, res := range []setupResult{server, client} {
		require.Len(t, res.endpoints, 2)
		assert.Equal(t, "127.0.0.1", res.endpoints[protocol.PortVideo].IP)
		assert.NotZero(t, res.endpoints[protocol.PortVideo].Port)
		assert.NotZero(t, res.endpoints[protocol.PortControl].Port)
	}
}

func TestSetup_UnauthorizedReplyFailsFast(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	go func() {
		buf := make([]byte, 2048)
		reply, _ := protocol.Encode(protocol.Error{Message: "unauthorized session id"})
		for {
			_, src, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			conn.WriteToUDP(reply, src)
		}
	}()

	p := New(fastConfig(conn.LocalAddr().String()))
	start := time.Now()
	_, err = p.Setup(context.Background(), protocol.RoleClient,
		map[protocol.PortType]int{protocol.PortVideo: 0, protocol.PortControl: 0})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Less(t, time.Since(start), 2*time.Second, "an error reply must not be retried")
	assert.Equal(t, StateAborted, p.State())
}

func TestSetup_RejectionOnOnePortTypeCancelsSibling(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()

	// Reject video announcements, stay silent for control. The control
	// registration must be cancelled instead of running out its full budget.
	go func() {
		buf := make([]byte, 2048)
		reply, _ := protocol.Encode(protocol.Error{Message: "unauthorized session id"})
		for {
			n, src, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			msg, err := protocol.Decode(buf[:n])
			if err != nil {
				continue
			}
			if ann, ok := msg.(protocol.PeerAnnouncement); ok && ann.PortType == protocol.PortVideo {
				conn.WriteToUDP(reply, src)
			}
		}
	}()

	cfg := fastConfig(conn.LocalAddr().String())
	cfg.RegistrationTimeout = 10 * time.Second
	p := New(cfg)

	start := time.Now()
	_, err = p.Setup(context.Background(), protocol.RoleClient,
		map[protocol.PortType]int{protocol.PortVideo: 0, protocol.PortControl: 0})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Less(t, time.Since(start), 2*time.Second,
		"Setup must unwind as soon as one port type is rejected")
	assert.Equal(t, StateAborted, p.State())
}

func TestSetup_RegistrationTimeout(t *testing.T) {
	// Nothing listens on this socket's address once it is closed.
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	addr := conn.LocalAddr().String()
	conn.Close()

	cfg := fastConfig(addr)
	cfg.RegistrationTimeout = 300 * time.Millisecond
	p := New(cfg)

	_, err = p.Setup(context.Background(), protocol.RoleServer,
		map[protocol.PortType]int{protocol.PortVideo: 0, protocol.PortControl: 0})
	assert.ErrorIs(t, err, ErrRegistrationTimeout)
}

func TestSetup_AbortUnblocks(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close() // silent rendezvous: reads everything, answers nothing

	p := New(fastConfig(conn.LocalAddr().String()))

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Setup(context.Background(), protocol.RoleServer,
			map[protocol.PortType]int{protocol.PortVideo: 0})
		errCh <- err
	}()

	time.Sleep(150 * time.Millisecond)
	p.Abort()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrAborted)
	case <-time.After(2 * time.Second):
		t.Fatal("Setup did not unwind after Abort")
	}
	assert.Equal(t, StateAborted, p.State())
}

func TestHandshake_RespondsToSynAndFinishesOnAck(t *testing.T) {
	local, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer local.Close()
	remote, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer remote.Close()

	p := New(fastConfig("ignored:0"))
	target := Endpoint{IP: "127.0.0.1", Port: uint16(remote.LocalAddr().(*net.UDPAddr).Port)}

	errCh := make(chan error, 1)
	go func() { errCh <- p.handshake(context.Background(), local, target) }()

	// Remote initiates with its own Syn; expect a SynAck back, then finish
	// the local side with an Ack.
	syn, _ := protocol.Encode(protocol.Syn{})
	localAddr := local.LocalAddr().(*net.UDPAddr)
	_, err = remote.WriteToUDP(syn, localAddr)
	require.NoError(t, err)

	buf := make([]byte, 2048)
	sawSynAck := false
	remote.SetReadDeadline(time.Now().Add(2 * time.Second))
	for !sawSynAck {
		n, _, err := remote.ReadFromUDP(buf)
		require.NoError(t, err)
		msg, err := protocol.Decode(buf[:n])
		require.NoError(t, err)
		if _, ok := msg.(protocol.SynAck); ok {
			sawSynAck = true
		}
	}

	ack, _ := protocol.Encode(protocol.Ack{})
	_, err = remote.WriteToUDP(ack, localAddr)
	require.NoError(t, err)

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not finish")
	}
}

func TestHandshake_FinishesOnSynAck(t *testing.T) {
	local, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer local.Close()
	remote, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer remote.Close()

	p := New(fastConfig("ignored:0"))
	target := Endpoint{IP: "127.0.0.1", Port: uint16(remote.LocalAddr().(*net.UDPAddr).Port)}

	errCh := make(chan error, 1)
	go func() { errCh <- p.handshake(context.Background(), local, target) }()

	// Answer the first Syn with SynAck; the local side must reply Ack and
	// report success.
	buf := make([]byte, 2048)
	remote.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, src, err := remote.ReadFromUDP(buf)
	require.NoError(t, err)
	msg, err := protocol.Decode(buf[:n])
	require.NoError(t, err)
	require.IsType(t, protocol.Syn{}, msg)

	synAck, _ := protocol.Encode(protocol.SynAck{})
	_, err = remote.WriteToUDP(synAck, src)
	require.NoError(t, err)

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not finish")
	}

	remote.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		n, _, err := remote.ReadFromUDP(buf)
		require.NoError(t, err)
		msg, err := protocol.Decode(buf[:n])
		require.NoError(t, err)
		if _, ok := msg.(protocol.Ack); ok {
			return
		}
	}
}

func TestHandshake_ConvergesAfterDroppedSyn(t *testing.T) {
	local, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer local.Close()
	remote, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer remote.Close()

	p := New(fastConfig("ignored:0"))
	target := Endpoint{IP: "127.0.0.1", Port: uint16(remote.LocalAddr().(*net.UDPAddr).Port)}

	errCh := make(chan error, 1)
	go func() { errCh <- p.handshake(context.Background(), local, target) }()

	// Swallow the first Syn as if the network dropped it; the sender must
	// retry on its interval and the exchange still converges.
	buf := make([]byte, 2048)
	remote.SetReadDeadline(time.Now().Add(2 * time.Second))
	dropped := false
	for {
		n, src, err := remote.ReadFromUDP(buf)
		require.NoError(t, err)
		msg, err := protocol.Decode(buf[:n])
		require.NoError(t, err)
		if _, ok := msg.(protocol.Syn); !ok {
			continue
		}
		if !dropped {
			dropped = true
			continue
		}
		synAck, _ := protocol.Encode(protocol.SynAck{})
		_, err = remote.WriteToUDP(synAck, src)
		require.NoError(t, err)
		break
	}

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not converge after a dropped message")
	}
}

func TestHandshake_Timeout(t *testing.T) {
	local, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer local.Close()
	remote, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer remote.Close() // never answers

	cfg := fastConfig("ignored:0")
	cfg.HandshakeTimeout = 300 * time.Millisecond
	p := New(cfg)
	target := Endpoint{IP: "127.0.0.1", Port: uint16(remote.LocalAddr().(*net.UDPAddr).Port)}

	err = p.handshake(context.Background(), local, target)
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
}
