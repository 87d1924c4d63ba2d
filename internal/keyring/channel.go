package keyring

import "fmt"

// Channel is a named group of nodes sharing a symmetric key, identified on
// the wire by a one-byte hash derived from (name, key).
type Channel struct {
	Name string
	Key  Key
	// Hash is the one-byte channel hash, or -1 if Key is empty (never used
	// for crypto lookups in that case).
	Hash int16
}

func xorHash(b []byte) byte {
	var h byte
	for _, v := range b {
		h ^= v
	}
	return h
}

// ChannelHash computes the channel-field hash for (name, key): the XOR of
// name's bytes XORed with the XOR of key's (expanded) bytes. An empty key
// yields -1.
func ChannelHash(name string, key Key) int16 {
	if key.IsEmpty() {
		return -1
	}
	h := xorHash([]byte(name))
	h ^= xorHash(key.AsBytes())
	return int16(h)
}

// NewChannel builds a Channel, deriving its hash from name and key.
func NewChannel(name string, key Key) Channel {
	return Channel{Name: name, Key: key, Hash: ChannelHash(name, key)}
}

func (c Channel) String() string {
	return fmt.Sprintf("Channel([%#x] %s)", c.Hash, c.Name)
}
