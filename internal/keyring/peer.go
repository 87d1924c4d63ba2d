package keyring

import "fmt"

// Peer is a pinned public key for a node, with an optional private key when
// the node is one we hold the secret for ("local").
type Peer struct {
	NodeId     NodeId
	PublicKey  Key
	PrivateKey Key // IsEmpty() when this is a remote (public-key-only) peer.

	// Compromised is set when an observed NodeinfoApp User.PublicKey does not
	// match the pinned PublicKey. Recorded, never rejected.
	Compromised bool
}

// NewLocalPeer builds a peer for which we hold the private key; its public
// key is derived from it.
func NewLocalPeer(nodeId NodeId, private Key) (Peer, error) {
	pub, err := private.PublicKey()
	if err != nil {
		return Peer{}, fmt.Errorf("deriving public key for local peer %s: %w", nodeId, err)
	}
	return Peer{NodeId: nodeId, PublicKey: pub, PrivateKey: private}, nil
}

// NewRemotePeer builds a peer for which we only know the public key.
func NewRemotePeer(nodeId NodeId, public Key) Peer {
	return Peer{NodeId: nodeId, PublicKey: public}
}

// IsLocal reports whether we hold this peer's private key.
func (p Peer) IsLocal() bool {
	return !p.PrivateKey.IsEmpty()
}

func (p Peer) String() string {
	return fmt.Sprintf("Peer(%s pkey=%s)", p.NodeId, p.PublicKey)
}
