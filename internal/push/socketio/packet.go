package socketio

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// PacketType is the Socket.IO v5 packet type.
type PacketType byte

const (
	PacketConnect PacketType = iota
	PacketDisconnect
	PacketEvent
	PacketAck
	PacketConnectError
	PacketBinaryEvent
	PacketBinaryAck
)

// Packet is one Socket.IO packet. Namespace is "/" for the default
// namespace; ID is -1 when the packet requests no acknowledgement.
type Packet struct {
	Type      PacketType
	Namespace string
	ID        int
	Data      json.RawMessage
}

// Encode returns the wire form carried inside an Engine.IO message.
func (p Packet) Encode() string {
	var b strings.Builder
	b.WriteByte(byte('0' + p.Type))
	if p.Namespace != "" && p.Namespace != "/" {
		b.WriteString(p.Namespace)
		b.WriteByte(',')
	}
	if p.ID >= 0 {
		b.WriteString(strconv.Itoa(p.ID))
	}
	b.Write(p.Data)
	return b.String()
}

// DecodePacket parses a text packet. Binary packets are rejected.
func DecodePacket(s string) (Packet, error) {
	if s == "" {
		return Packet{}, errors.New("socketio: empty packet")
	}
	if s[0] < '0' || s[0] > '6' {
		return Packet{}, fmt.Errorf("socketio: unknown packet type %q", s[0])
	}
	p := Packet{Type: PacketType(s[0] - '0'), Namespace: "/", ID: -1}
	if p.Type == PacketBinaryEvent || p.Type == PacketBinaryAck {
		return Packet{}, errors.New("socketio: binary packets are not supported")
	}
	rest := s[1:]

	if strings.HasPrefix(rest, "/") {
		end := strings.IndexByte(rest, ',')
		if end < 0 {
			p.Namespace = rest
			return p, nil
		}
		p.Namespace = rest[:end]
		rest = rest[end+1:]
	}

	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	if digits > 0 {
		id, err := strconv.Atoi(rest[:digits])
		if err != nil {
			return Packet{}, fmt.Errorf("socketio: bad ack id: %w", err)
		}
		p.ID = id
		rest = rest[digits:]
	}

	if rest != "" {
		if !json.Valid([]byte(rest)) {
			return Packet{}, errors.New("socketio: payload is not JSON")
		}
		p.Data = json.RawMessage(rest)
	}
	return p, nil
}

// Event is a named event with its JSON arguments.
type Event struct {
	Name string
	Args []json.RawMessage
}

// decodeEvent splits an EVENT payload into name and arguments.
func decodeEvent(data json.RawMessage) (Event, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return Event{}, fmt.Errorf("socketio: event payload: %w", err)
	}
	if len(parts) == 0 {
		return Event{}, errors.New("socketio: event without name")
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return Event{}, fmt.Errorf("socketio: event name: %w", err)
	}
	return Event{Name: name, Args: parts[1:]}, nil
}

func encodeEvent(name string, args []any) (json.RawMessage, error) {
	data, err := json.Marshal(append([]any{name}, args...))
	if err != nil {
		return nil, fmt.Errorf("socketio: encoding %q: %w", name, err)
	}
	return data, nil
}
