package engineio

import (
	"errors"
	"fmt"
	"strings"
)

// PacketType is the single-digit Engine.IO packet type.
type PacketType byte

const (
	PacketOpen PacketType = iota
	PacketClose
	PacketPing
	PacketPong
	PacketMessage
	PacketUpgrade
	PacketNoop
)

func (t PacketType) String() string {
	switch t {
	case PacketOpen:
		return "open"
	case PacketClose:
		return "close"
	case PacketPing:
		return "ping"
	case PacketPong:
		return "pong"
	case PacketMessage:
		return "message"
	case PacketUpgrade:
		return "upgrade"
	case PacketNoop:
		return "noop"
	default:
		return fmt.Sprintf("PacketType(%d)", byte(t))
	}
}

// recordSeparator delimits packets within a polling payload.
const recordSeparator = "\x1e"

// ErrBinaryPacket is returned for base64 binary packets, which this client
// does not use.
var ErrBinaryPacket = errors.New("engineio: binary packets are not supported")

// Packet is one Engine.IO packet with a text payload.
type Packet struct {
	Type PacketType
	Data string
}

// Encode returns the wire form of p.
func (p Packet) Encode() string {
	return string(rune('0'+p.Type)) + p.Data
}

// DecodePacket parses one packet.
func DecodePacket(s string) (Packet, error) {
	if s == "" {
		return Packet{}, errors.New("engineio: empty packet")
	}
	if s[0] == 'b' {
		return Packet{}, ErrBinaryPacket
	}
	t := s[0] - '0'
	if s[0] < '0' || PacketType(t) > PacketNoop {
		return Packet{}, fmt.Errorf("engineio: unknown packet type %q", s[0])
	}
	return Packet{Type: PacketType(t), Data: s[1:]}, nil
}

// EncodePayload joins packets for a polling request body.
func EncodePayload(packets []Packet) string {
	parts := make([]string, len(packets))
	for i, p := range packets {
		parts[i] = p.Encode()
	}
	return strings.Join(parts, recordSeparator)
}

// DecodePayload splits a polling response body into packets.
func DecodePayload(s string) ([]Packet, error) {
	if s == "" {
		return nil, nil
	}
	records := strings.Split(s, recordSeparator)
	packets := make([]Packet, 0, len(records))
	for _, r := range records {
		p, err := DecodePacket(r)
		if err != nil {
			return nil, err
		}
		packets = append(packets, p)
	}
	return packets, nil
}
