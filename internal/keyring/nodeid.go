// Package keyring holds the channels and peers a soft node knows about, and
// selects the right cryptor for an observed packet.
package keyring

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// NodeId identifies a mesh node by its 32-bit radio address.
type NodeId uint32

// Broadcast is the distinguished NodeId meaning "all nodes".
const Broadcast NodeId = 0xFFFFFFFF

// RandomNodeId returns a NodeId drawn from a cryptographically random source.
func RandomNodeId() (NodeId, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("generating random node id: %w", err)
	}
	return NodeId(binary.LittleEndian.Uint32(buf[:])), nil
}

// ParseNodeId parses the canonical `!xxxxxxxx` form, with or without the `!`.
func ParseNodeId(s string) (NodeId, error) {
	hexPart := strings.TrimPrefix(s, "!")
	v, err := strconv.ParseUint(hexPart, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("parsing node id %q: %w", s, err)
	}
	return NodeId(v), nil
}

// String renders the canonical `!xxxxxxxx` textual form.
func (n NodeId) String() string {
	return fmt.Sprintf("!%08x", uint32(n))
}

// Bytes returns the little-endian byte representation used in crypto nonces.
func (n NodeId) Bytes() [4]byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(n))
	return b
}

// Uint32 returns the raw node id.
func (n NodeId) Uint32() uint32 {
	return uint32(n)
}

// IsBroadcast reports whether n is the broadcast address.
func (n NodeId) IsBroadcast() bool {
	return n == Broadcast
}
