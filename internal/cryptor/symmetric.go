package cryptor

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// Symmetric decrypts/encrypts a packet payload with AES-CTR keyed by a
// channel's pre-shared key. Encrypt and Decrypt are the same operation: XOR
// the buffer with the keystream derived from the nonce.
type Symmetric struct {
	// From is the packet's source node id, part of the nonce.
	From uint32
	// Key is 16 bytes (AES-128) or 32 bytes (AES-256).
	Key []byte
}

// NewSymmetric builds a Symmetric cryptor over the given channel key.
func NewSymmetric(from uint32, key []byte) Symmetric {
	return Symmetric{From: from, Key: key}
}

func (s Symmetric) String() string {
	return "symmetric"
}

func (s Symmetric) apply(packetID uint32, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.Key)
	if err != nil {
		return nil, fmt.Errorf("constructing AES cipher for %d-byte key: %w", len(s.Key), err)
	}
	nonce := prepareNonce(packetID, s.From, [4]byte{})
	stream := cipher.NewCTR(block, nonce[:])
	out := make([]byte, len(data))
	stream.XORKeyStream(out, data)
	return out, nil
}

// Decrypt XORs data with the AES-CTR keystream derived from (packetID, From).
func (s Symmetric) Decrypt(packetID uint32, data []byte) ([]byte, error) {
	return s.apply(packetID, data)
}

// Encrypt is identical to Decrypt for a stream cipher.
func (s Symmetric) Encrypt(packetID uint32, data []byte) ([]byte, error) {
	return s.apply(packetID, data)
}
