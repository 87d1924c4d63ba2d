package cryptor

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"github.com/aead/ccm"
	"golang.org/x/crypto/curve25519"
)

const (
	pkiAuthLen       = 8
	pkiExtraNonceLen = 4
	pkiNonceLen      = 13
)

// PKI decrypts/encrypts a packet payload with AES-256-CCM keyed by an
// X25519-derived shared secret. Used for packets whose channel field is 0.
type PKI struct {
	// From is the value of the MeshPacket's From field for the packet being
	// processed: the remote sender's id when decrypting, the local soft
	// node's own id when encrypting. Part of the nonce.
	From uint32
	// sharedKey is SHA-256(X25519(localPrivate, remotePublic)).
	sharedKey [32]byte
}

// NewPKI derives the shared secret from a local X25519 private key and a
// remote X25519 public key and returns a cryptor for packets between the
// local node and that remote node. from is the packet's own From field.
func NewPKI(from uint32, localPrivate, remotePublic [32]byte) (PKI, error) {
	shared, err := curve25519.X25519(localPrivate[:], remotePublic[:])
	if err != nil {
		return PKI{}, fmt.Errorf("computing X25519 shared secret: %w", err)
	}
	return PKI{From: from, sharedKey: sha256.Sum256(shared)}, nil
}

func (p PKI) String() string {
	return "PKI"
}

func (p PKI) ccm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(p.sharedKey[:])
	if err != nil {
		return nil, fmt.Errorf("constructing AES-256 cipher: %w", err)
	}
	aead, err := ccm.NewCCMWithNonceAndTagSize(block, pkiNonceLen, pkiAuthLen)
	if err != nil {
		return nil, fmt.Errorf("constructing AES-CCM: %w", err)
	}
	return aead, nil
}

// Decrypt splits the trailing 4 bytes off buffer as the extra nonce,
// reconstructs the 13-byte CCM nonce, and authenticates/decrypts the rest.
// buffer must be at least 12 bytes (8-byte tag + 4-byte extra nonce).
func (p PKI) Decrypt(packetID uint32, buffer []byte) ([]byte, error) {
	if len(buffer) < pkiAuthLen+pkiExtraNonceLen {
		return nil, fmt.Errorf("PKI: %d bytes is not enough to decode", len(buffer))
	}
	split := len(buffer) - pkiExtraNonceLen
	ciphertextWithTag, extraNonceBytes := buffer[:split], buffer[split:]

	var extraNonce [4]byte
	copy(extraNonce[:], extraNonceBytes)
	nonce := prepareNonce(packetID, p.From, extraNonce)

	aead, err := p.ccm()
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce[:pkiNonceLen], ciphertextWithTag, nil)
	if err != nil {
		return nil, fmt.Errorf("PKI decrypt failed: %w", err)
	}
	return plaintext, nil
}

// Encrypt generates a random 4-byte extra nonce, produces ciphertext||tag,
// and appends the extra nonce so the receiver can reconstruct the full
// nonce. Output length is len(plaintext) + 12.
func (p PKI) Encrypt(packetID uint32, plaintext []byte) ([]byte, error) {
	var extraNonce [4]byte
	if _, err := rand.Read(extraNonce[:]); err != nil {
		return nil, fmt.Errorf("generating PKI extra nonce: %w", err)
	}
	nonce := prepareNonce(packetID, p.From, extraNonce)

	aead, err := p.ccm()
	if err != nil {
		return nil, err
	}
	ciphertextWithTag := aead.Seal(nil, nonce[:pkiNonceLen], plaintext, nil)
	return append(ciphertextWithTag, extraNonce[:]...), nil
}
