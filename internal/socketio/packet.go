package socketio

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Engine.IO packet types.
const (
	engineOpen    = '0'
	engineClose   = '1'
	enginePing    = '2'
	enginePong    = '3'
	engineMessage = '4'
	engineUpgrade = '5'
	engineNoop    = '6'
)

// Socket.IO packet types carried inside Engine.IO messages.
const (
	socketConnect    = '0'
	socketDisconnect = '1'
	socketEvent      = '2'
	socketAck        = '3'
	socketError      = '4'
)

// openPayload is the Engine.IO handshake sent by the server.
type openPayload struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
}

// socketPacket is a decoded Socket.IO packet.
type socketPacket struct {
	kind      byte
	namespace string
	ackID     string
	data      string
}

// decodeSocketPacket parses "<type>[/<nsp>,][<ackId>][<json>]".
func decodeSocketPacket(raw string) (socketPacket, error) {
	if raw == "" {
		return socketPacket{}, fmt.Errorf("empty socket packet")
	}
	p := socketPacket{kind: raw[0], namespace: "/"}
	rest := raw[1:]

	if strings.HasPrefix(rest, "/") {
		comma := strings.IndexByte(rest, ',')
		if comma < 0 {
			p.namespace = rest
			return p, nil
		}
		p.namespace = rest[:comma]
		rest = rest[comma+1:]
	}

	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	p.ackID = rest[:digits]
	p.data = rest[digits:]
	return p, nil
}

// decodeEvent splits an event payload into its name and first argument.
func decodeEvent(data string) (string, json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(data), &parts); err != nil {
		return "", nil, fmt.Errorf("decode event: %w", err)
	}
	if len(parts) == 0 {
		return "", nil, fmt.Errorf("decode event: empty payload")
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return "", nil, fmt.Errorf("decode event name: %w", err)
	}
	if len(parts) == 1 {
		return name, json.RawMessage("null"), nil
	}
	return name, parts[1], nil
}

// encodeEvent builds the Engine.IO message carrying a Socket.IO event.
func encodeEvent(event string, payload any) (string, error) {
	body, err := json.Marshal([]any{event, payload})
	if err != nil {
		return "", fmt.Errorf("encode event %q: %w", event, err)
	}
	return string([]byte{engineMessage, socketEvent}) + string(body), nil
}
