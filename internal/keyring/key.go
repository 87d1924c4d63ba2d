package keyring

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// KeyKind discriminates the three representations a channel or peer key can
// take on the wire.
type KeyKind int

const (
	// KeyKindIndexed is a one-byte index into the firmware's default PSK set.
	KeyKindIndexed KeyKind = iota
	// KeyKind128 is a 16-byte AES-128 (or X25519, though PKI always uses 256) key.
	KeyKind128
	// KeyKind256 is a 32-byte AES-256 or X25519 key.
	KeyKind256
)

// DefaultPSK is the firmware's well-known "channel 1" pre-shared key,
// commonly referenced in base64 as `1PG7OiApB1nwvP+rz05pAQ==`.
var DefaultPSK = [16]byte{
	0xd4, 0xf1, 0xbb, 0x3a, 0x20, 0x29, 0x07, 0x59, 0xf0, 0xbc, 0xff, 0xab, 0xcf, 0x4e, 0x69, 0x01,
}

// Key is a tagged union over the indexed/128-bit/256-bit key representations.
// The zero Key is "empty" (no key configured).
type Key struct {
	kind    KeyKind
	empty   bool
	index   byte   // original index byte, KeyKindIndexed only, for display
	bytes16 [16]byte
	bytes32 [32]byte
}

// EmptyKey is the absent-key sentinel: channels with an EmptyKey never get a
// cryptor and report a channel hash of -1 (see Channel.Hash).
var EmptyKey = Key{empty: true}

// NewKeyFromBytes builds a Key from raw key material, following the same
// width rules the firmware and meshtastic-connect use: 1 byte is an index
// into the default PSK table, up to 16 bytes is zero-padded to AES-128, up to
// 32 bytes is zero-padded to AES-256/X25519.
func NewKeyFromBytes(raw []byte) (Key, error) {
	switch {
	case len(raw) == 0:
		return EmptyKey, nil
	case len(raw) == 1:
		k := DefaultPSK
		// Index 0x01 means "no change" from the default PSK.
		k[15] = raw[0]
		return Key{kind: KeyKindIndexed, index: raw[0], bytes16: k}, nil
	case len(raw) <= 16:
		var k Key
		k.kind = KeyKind128
		copy(k.bytes16[:], raw)
		return k, nil
	case len(raw) <= 32:
		var k Key
		k.kind = KeyKind256
		copy(k.bytes32[:], raw)
		return k, nil
	default:
		return Key{}, fmt.Errorf("key material too long: %d bytes (max 32)", len(raw))
	}
}

// ParseKey decodes the standard textual representation (base64) of a key.
func ParseKey(s string) (Key, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Key{}, fmt.Errorf("decoding key %q: %w", s, err)
	}
	return NewKeyFromBytes(raw)
}

// IsEmpty reports whether no key material is configured.
func (k Key) IsEmpty() bool {
	return k.empty
}

// Kind reports which representation the key uses.
func (k Key) Kind() KeyKind {
	return k.kind
}

// AsBytes returns the expanded key material: 16 bytes for indexed/128-bit
// keys, 32 bytes for 256-bit keys, nil if empty. This is the form used both
// for channel-hash derivation and for AES keying.
func (k Key) AsBytes() []byte {
	switch {
	case k.empty:
		return nil
	case k.kind == KeyKind256:
		return k.bytes32[:]
	default:
		return k.bytes16[:]
	}
}

// String renders the key's base64 textual form. Indexed keys render as the
// base64 of their single index byte, matching the original representation
// rather than the expanded 16-byte form.
func (k Key) String() string {
	switch {
	case k.empty:
		return ""
	case k.kind == KeyKindIndexed:
		return base64.StdEncoding.EncodeToString([]byte{k.index})
	case k.kind == KeyKind256:
		return base64.StdEncoding.EncodeToString(k.bytes32[:])
	default:
		return base64.StdEncoding.EncodeToString(k.bytes16[:])
	}
}

// PublicKey derives the X25519 public counterpart of a 256-bit key. Only
// valid for KeyKind256 keys, which are the only width used for PKI.
func (k Key) PublicKey() (Key, error) {
	if k.kind != KeyKind256 {
		return Key{}, fmt.Errorf("public key derivation requires a 32-byte key, got kind %v", k.kind)
	}
	var pub [32]byte
	curve25519.ScalarBaseMult(&pub, &k.bytes32)
	return Key{kind: KeyKind256, bytes32: pub}, nil
}

// GenerateK256 returns a random 32-byte key, suitable as an X25519 private key.
func GenerateK256() (Key, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return Key{}, fmt.Errorf("generating key: %w", err)
	}
	return Key{kind: KeyKind256, bytes32: b}, nil
}
