// Package protocol defines the binary message envelope exchanged between
// peers, the rendezvous server and the packet relay. Every message is a
// msgpack map carrying a "type" discriminator plus the variant's payload
// fields; one encoded message per UDP datagram.
package protocol

// Type identifies the kind of protocol message.
type Type string

const (
	TypePeerAnnouncement Type = "peer_announcement"
	TypePeerInfo         Type = "peer_info"
	TypeSyn              Type = "syn"
	TypeSynAck           Type = "syn_ack"
	TypeAck              Type = "ack"
	TypeError            Type = "error"
	TypeCommand          Type = "command"
	TypeControl          Type = "control"
	TypeTelemetry        Type = "telemetry"
	TypeLatency          Type = "latency"
)

// Role names the side a peer plays in a session. The streaming device
// announces as RoleServer, the viewer as RoleClient.
type Role string

const (
	RoleClient Role = "client"
	RoleServer Role = "server"
)

func (r Role) Valid() bool {
	return r == RoleClient || r == RoleServer
}

// Other returns the opposite role.
func (r Role) Other() Role {
	if r == RoleClient {
		return RoleServer
	}
	return RoleClient
}

// PortType names a logical channel. Video and control are punched and
// relayed independently.
type PortType string

const (
	PortVideo   PortType = "video"
	PortControl PortType = "control"
)

func (p PortType) Valid() bool {
	return p == PortVideo || p == PortControl
}

// PortTypes lists every channel a full session registers.
var PortTypes = []PortType{PortVideo, PortControl}

// Message is the polymorphic wire envelope. Dispatch sites switch on Type()
// exhaustively; adding a variant means touching every switch.
type Message interface {
	Type() Type
}

// PeerAnnouncement is the periodic liveness + registration ping a peer sends
// to the rendezvous server from the same local port it will use for data
// traffic. The server only trusts the datagram's UDP source address, never
// an address claimed in the payload.
type PeerAnnouncement struct {
	Role      Role
	SessionID string
	PortType  PortType
}

func (PeerAnnouncement) Type() Type { return TypePeerAnnouncement }

// PeerInfo is the resolved peer address returned to each side of a matched
// session. In relay mode it carries the relay's own address instead.
type PeerInfo struct {
	IP          string
	VideoPort   uint16
	ControlPort uint16
}

func (PeerInfo) Type() Type { return TypePeerInfo }

// Syn, SynAck and Ack form the three-way handshake both peers run against
// each other's resolved address to open and confirm the NAT path.
type Syn struct{}

func (Syn) Type() Type { return TypeSyn }

type SynAck struct{}

func (SynAck) Type() Type { return TypeSynAck }

type Ack struct{}

func (Ack) Type() Type { return TypeAck }

// Error is a protocol rejection, for example an unauthorized session id.
type Error struct {
	Message string
}

func (Error) Type() Type { return TypeError }

// Command is an application-level instruction to the streaming device. The
// core only moves it; IDs come from NewCommandID.
type Command struct {
	ID    string
	Name  string
	Value string
}

func (Command) Type() Type { return TypeCommand }

// Control carries viewer input for the device's gimbal/drive channel.
type Control struct {
	Pitch    float64
	Yaw      float64
	Roll     float64
	Throttle float64
}

func (Control) Type() Type { return TypeControl }

// Telemetry reports device health back to the viewer.
type Telemetry struct {
	Battery     float64
	SignalDBM   int64
	NetworkType string
}

func (Telemetry) Type() Type { return TypeTelemetry }

// Latency is an echo probe used by the application to measure the path.
type Latency struct {
	SentUnixNano int64
}

func (Latency) Type() Type { return TypeLatency }
