package protocol

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	// ErrMalformed covers bytes that are not a map envelope, a missing or
	// unknown discriminator, and a payload missing a required field.
	ErrMalformed = errors.New("malformed message")

	// ErrUnknownField marks a payload key the variant does not accept.
	// The schema is strict: extra fields are rejected, not ignored.
	ErrUnknownField = errors.New("unexpected message field")
)

// Encode serializes a message into its msgpack envelope. The discriminator
// is always the first map key, so PeekType can stop after one entry on
// well-formed input. Output is deterministic per message value.
func Encode(m Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	var err error
	switch v := m.(type) {
	case PeerAnnouncement:
		if err = header(enc, TypePeerAnnouncement, 3); err == nil {
			err = encodeStrings(enc,
				"role", string(v.Role),
				"session_id", v.SessionID,
				"port_type", string(v.PortType),
			)
		}
	case PeerInfo:
		if err = header(enc, TypePeerInfo, 3); err == nil {
			err = firstErr(
				encodeStrings(enc, "ip", v.IP),
				enc.EncodeString("video_port"), enc.EncodeUint16(v.VideoPort),
				enc.EncodeString("control_port"), enc.EncodeUint16(v.ControlPort),
			)
		}
	case Syn:
		err = header(enc, TypeSyn, 0)
	case SynAck:
		err = header(enc, TypeSynAck, 0)
	case Ack:
		err = header(enc, TypeAck, 0)
	case Error:
		if err = header(enc, TypeError, 1); err == nil {
			err = encodeStrings(enc, "message", v.Message)
		}
	case Command:
		if err = header(enc, TypeCommand, 3); err == nil {
			err = encodeStrings(enc, "id", v.ID, "name", v.Name, "value", v.Value)
		}
	case Control:
		if err = header(enc, TypeControl, 4); err == nil {
			err = firstErr(
				enc.EncodeString("pitch"), enc.EncodeFloat64(v.Pitch),
				enc.EncodeString("yaw"), enc.EncodeFloat64(v.Yaw),
				enc.EncodeString("roll"), enc.EncodeFloat64(v.Roll),
				enc.EncodeString("throttle"), enc.EncodeFloat64(v.Throttle),
			)
		}
	case Telemetry:
		if err = header(enc, TypeTelemetry, 3); err == nil {
			err = firstErr(
				enc.EncodeString("battery"), enc.EncodeFloat64(v.Battery),
				enc.EncodeString("signal_dbm"), enc.EncodeInt64(v.SignalDBM),
				encodeStrings(enc, "network_type", v.NetworkType),
			)
		}
	case Latency:
		if err = header(enc, TypeLatency, 1); err == nil {
			err = firstErr(
				enc.EncodeString("sent_unix_nano"), enc.EncodeInt64(v.SentUnixNano),
			)
		}
	default:
		return nil, fmt.Errorf("protocol: cannot encode %T", m)
	}
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", m.Type(), err)
	}
	return buf.Bytes(), nil
}

// PeekType reads only the discriminator so dispatch code can route without
// paying for a full decode. It succeeds on any structurally valid envelope
// even if the payload itself would fail Decode.
func PeekType(data []byte) (Type, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	n, err := dec.DecodeMapLen()
	if err != nil {
		return "", fmt.Errorf("%w: not a map envelope", ErrMalformed)
	}
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return "", fmt.Errorf("%w: non-string map key", ErrMalformed)
		}
		if key == "type" {
			s, err := dec.DecodeString()
			if err != nil {
				return "", fmt.Errorf("%w: non-string discriminator", ErrMalformed)
			}
			return Type(s), nil
		}
		if err := dec.Skip(); err != nil {
			return "", fmt.Errorf("%w: truncated map value", ErrMalformed)
		}
	}
	return "", fmt.Errorf("%w: missing type discriminator", ErrMalformed)
}

// Decode parses a full message. Unknown discriminators, missing required
// fields and structural damage fail with ErrMalformed; payload keys the
// variant does not define fail with ErrUnknownField.
func Decode(data []byte) (Message, error) {
	t, err := PeekType(data)
	if err != nil {
		return nil, err
	}

	switch t {
	case TypePeerAnnouncement:
		var m PeerAnnouncement
		err := walk(data, fields{
			"role":       decString((*string)(&m.Role)),
			"session_id": decString(&m.SessionID),
			"port_type":  decString((*string)(&m.PortType)),
		}, "role", "session_id", "port_type")
		return m, err
	case TypePeerInfo:
		var m PeerInfo
		err := walk(data, fields{
			"ip":           decString(&m.IP),
			"video_port":   decUint16(&m.VideoPort),
			"control_port": decUint16(&m.ControlPort),
		}, "ip", "video_port", "control_port")
		return m, err
	case TypeSyn:
		return Syn{}, walk(data, fields{})
	case TypeSynAck:
		return SynAck{}, walk(data, fields{})
	case TypeAck:
		return Ack{}, walk(data, fields{})
	case TypeError:
		var m Error
		err := walk(data, fields{"message": decString(&m.Message)}, "message")
		return m, err
	case TypeCommand:
		var m Command
		err := walk(data, fields{
			"id":    decString(&m.ID),
			"name":  decString(&m.Name),
			"value": decString(&m.Value),
		}, "id", "name", "value")
		return m, err
	case TypeControl:
		var m Control
		err := walk(data, fields{
			"pitch":    decFloat64(&m.Pitch),
			"yaw":      decFloat64(&m.Yaw),
			"roll":     decFloat64(&m.Roll),
			"throttle": decFloat64(&m.Throttle),
		}, "pitch", "yaw", "roll", "throttle")
		return m, err
	case TypeTelemetry:
		var m Telemetry
		err := walk(data, fields{
			"battery":      decFloat64(&m.Battery),
			"signal_dbm":   decInt64(&m.SignalDBM),
			"network_type": decString(&m.NetworkType),
		}, "battery", "signal_dbm", "network_type")
		return m, err
	case TypeLatency:
		var m Latency
		err := walk(data, fields{"sent_unix_nano": decInt64(&m.SentUnixNano)}, "sent_unix_nano")
		return m, err
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, t)
	}
}

func header(enc *msgpack.Encoder, t Type, payloadFields int) error {
	if err := enc.EncodeMapLen(payloadFields + 1); err != nil {
		return err
	}
	if err := enc.EncodeString("type"); err != nil {
		return err
	}
	return enc.EncodeString(string(t))
}

// encodeStrings writes alternating key/value string pairs.
func encodeStrings(enc *msgpack.Encoder, kv ...string) error {
	for _, s := range kv {
		if err := enc.EncodeString(s); err != nil {
			return err
		}
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

type fieldFn func(*msgpack.Decoder) error

type fields map[string]fieldFn

func decString(dst *string) fieldFn {
	return func(d *msgpack.Decoder) error {
		s, err := d.DecodeString()
		if err == nil {
			*dst = s
		}
		return err
	}
}

func decUint16(dst *uint16) fieldFn {
	return func(d *msgpack.Decoder) error {
		v, err := d.DecodeUint16()
		if err == nil {
			*dst = v
		}
		return err
	}
}

func decInt64(dst *int64) fieldFn {
	return func(d *msgpack.Decoder) error {
		v, err := d.DecodeInt64()
		if err == nil {
			*dst = v
		}
		return err
	}
}

func decFloat64(dst *float64) fieldFn {
	return func(d *msgpack.Decoder) error {
		v, err := d.DecodeFloat64()
		if err == nil {
			*dst = v
		}
		return err
	}
}

// walk iterates the envelope map, dispatching each payload key to its field
// decoder and enforcing the variant's schema both ways: unknown keys fail
// with ErrUnknownField, absent required keys with ErrMalformed.
func walk(data []byte, fs fields, required ...string) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	n, err := dec.DecodeMapLen()
	if err != nil {
		return fmt.Errorf("%w: not a map envelope", ErrMalformed)
	}

	seen := make(map[string]bool, len(fs))
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return fmt.Errorf("%w: non-string map key", ErrMalformed)
		}
		if key == "type" {
			if err := dec.Skip(); err != nil {
				return fmt.Errorf("%w: truncated discriminator", ErrMalformed)
			}
			continue
		}
		fn, ok := fs[key]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownField, key)
		}
		if err := fn(dec); err != nil {
			return fmt.Errorf("%w: bad value for %q", ErrMalformed, key)
		}
		seen[key] = true
	}

	for _, name := range required {
		if !seen[name] {
			return fmt.Errorf("%w: missing field %q", ErrMalformed, name)
		}
	}
	return nil
}
