// Package transport implements the four wire-level connections a soft node
// can speak over: direct UDP (with optional multicast), a framed byte stream
// over TCP or serial, MQTT, and MQTT tunneled through a radio's stream link.
// All four share one Transport interface so the router can treat them
// interchangeably.
package transport

import (
	"context"
	"errors"
	"fmt"

	"buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
)

// ErrNotConnected is returned by Recv/Send when called before Connect or
// after Disconnect.
var ErrNotConnected = errors.New("transport: not connected")

// Inbound is a tagged union over everything a transport can hand upward:
// a fully decoded mesh packet (from UDP, Stream, or unwrapped MQTT), a
// service envelope still carrying its channel name and gateway id (MQTT),
// or a run of unstructured bytes a stream transport couldn't frame (device
// boot-up log lines).
type Inbound struct {
	Packet       *meshtastic.MeshPacket
	ChannelName  string // set for MQTT-sourced packets, empty otherwise
	GatewayID    uint32
	Unstructured []byte
}

// IsPacket reports whether this Inbound carries a decoded mesh packet.
func (i Inbound) IsPacket() bool {
	return i.Packet != nil
}

// Transport is the uniform interface every connection kind implements.
// Recv blocks until one Inbound is available or ctx is cancelled (UDP
// honours only a ctx deadline, see UDP.Recv); Send
// delivers exactly one mesh packet. Implementations are not required to be
// safe for concurrent Send+Recv from more than one goroutine each, but a
// concurrent Send and Recv pair must be safe (the router runs them from
// separate goroutines).
type Transport interface {
	fmt.Stringer
	Connect(ctx context.Context) error
	Recv(ctx context.Context) (Inbound, error)
	Send(ctx context.Context, packet *meshtastic.MeshPacket) error
	Disconnect(ctx context.Context) error
}
