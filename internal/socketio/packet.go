package socketio

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Engine.IO v4 packet types (first byte of every websocket frame).
const (
	engineOpen    = '0'
	engineClose   = '1'
	enginePing    = '2'
	enginePong    = '3'
	engineMessage = '4'
)

// Socket.IO v4 packet types (second byte of an engine message).
const (
	socketConnect      = '0'
	socketDisconnect   = '1'
	socketEvent        = '2'
	socketConnectError = '4'
)

var errShortPacket = errors.New("socket.io packet too short")

// handshake is the payload of the Engine.IO open packet. Intervals are in
// milliseconds.
type handshake struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
	MaxPayload   int    `json:"maxPayload"`
}

// packet is a decoded Socket.IO packet.
type packet struct {
	Type      byte
	Namespace string
	Data      json.RawMessage
}

// decodePacket parses the part of an engine message after the leading '4'.
func decodePacket(s string) (packet, error) {
	if s == "" {
		return packet{}, errShortPacket
	}
	p := packet{Type: s[0], Namespace: "/"}
	rest := s[1:]
	if strings.HasPrefix(rest, "/") {
		ns, after, found := strings.Cut(rest, ",")
		p.Namespace = ns
		if found {
			rest = after
		} else {
			rest = ""
		}
	}
	// Skip the ack id, if any.
	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	rest = rest[i:]
	if rest != "" {
		p.Data = json.RawMessage(rest)
	}
	return p, nil
}

// decodeEvent splits an event packet's data into its name and first argument.
func decodeEvent(data json.RawMessage) (string, json.RawMessage, error) {
	var args []json.RawMessage
	if err := json.Unmarshal(data, &args); err != nil {
		return "", nil, fmt.Errorf("decode event: %w", err)
	}
	if len(args) == 0 {
		return "", nil, errors.New("decode event: empty argument list")
	}
	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return "", nil, fmt.Errorf("decode event name: %w", err)
	}
	if len(args) == 1 {
		return name, nil, nil
	}
	return name, args[1], nil
}

// namespacePrefix is prepended to packets for a non-root namespace.
func namespacePrefix(ns string) string {
	if ns == "" || ns == "/" {
		return ""
	}
	return ns + ","
}

func encodeEvent(ns, event string, payload any) ([]byte, error) {
	args := []any{event}
	if payload != nil {
		args = append(args, payload)
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode event %q: %w", event, err)
	}
	return []byte(string(engineMessage) + string(socketEvent) + namespacePrefix(ns) + string(data)), nil
}

func encodeConnect(ns string, auth any) ([]byte, error) {
	out := string(engineMessage) + string(socketConnect) + namespacePrefix(ns)
	if auth != nil {
		data, err := json.Marshal(auth)
		if err != nil {
			return nil, fmt.Errorf("encode auth: %w", err)
		}
		out += string(data)
	}
	return []byte(out), nil
}
