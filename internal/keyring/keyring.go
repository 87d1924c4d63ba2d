package keyring

import (
	"github.com/charmbracelet/log"

	"github.com/soft-mesh/meshgate/internal/cryptor"
)

// Keyring holds every channel and peer a soft node knows about: an ordered
// channel list (insertion order breaks hash ties) plus a node-id-to-peer map.
// Built at startup from config and from observed node-info packets; shared
// read-only across all cryptographic operations once built.
type Keyring struct {
	channels []Channel
	peers    map[NodeId]Peer
	log      *log.Logger
}

// New returns an empty Keyring.
func New() *Keyring {
	return &Keyring{
		peers: make(map[NodeId]Peer),
		log:   log.Default().WithPrefix("keyring"),
	}
}

// AddChannel registers a channel. Ties in channel hash are broken by
// insertion order (first registered wins) when looking it up later.
func (k *Keyring) AddChannel(name string, key Key) Channel {
	ch := NewChannel(name, key)
	k.channels = append(k.channels, ch)
	k.log.Debug("added channel", "channel", ch)
	return ch
}

// AddPeer registers a local peer (one we hold the private key for).
// Insertion is idempotent on NodeId: re-adding an already-known node is a
// no-op.
func (k *Keyring) AddPeer(nodeId NodeId, private Key) (Peer, error) {
	if existing, ok := k.peers[nodeId]; ok {
		return existing, nil
	}
	peer, err := NewLocalPeer(nodeId, private)
	if err != nil {
		return Peer{}, err
	}
	k.peers[nodeId] = peer
	k.log.Debug("added local peer", "peer", peer)
	return peer, nil
}

// AddRemotePeer registers a peer for which only the public key is known.
// Insertion is idempotent on NodeId.
func (k *Keyring) AddRemotePeer(nodeId NodeId, public Key) Peer {
	if existing, ok := k.peers[nodeId]; ok {
		return existing
	}
	peer := NewRemotePeer(nodeId, public)
	k.peers[nodeId] = peer
	k.log.Debug("added remote peer", "peer", peer)
	return peer
}

// Peer looks up a known peer by node id.
func (k *Keyring) Peer(nodeId NodeId) (Peer, bool) {
	p, ok := k.peers[nodeId]
	return p, ok
}

// Channels returns the registered channels in insertion order.
func (k *Keyring) Channels() []Channel {
	out := make([]Channel, len(k.channels))
	copy(out, k.channels)
	return out
}

// ChannelByHash looks up a channel by its one-byte hash, first match by
// insertion order wins on collision.
func (k *Keyring) ChannelByHash(hash uint32) (Channel, bool) {
	for _, ch := range k.channels {
		if ch.Hash >= 0 && uint32(ch.Hash) == hash {
			return ch, true
		}
	}
	return Channel{}, false
}

// CryptorForChannel returns the symmetric cryptor and hash for a named
// channel, used by the beacon scheduler to encrypt outbound packets. from is
// the packet's own From field (the soft node's id).
func (k *Keyring) CryptorForChannel(from NodeId, name string) (cryptor.Cryptor, uint32, bool) {
	for _, ch := range k.channels {
		if ch.Name == name && ch.Hash >= 0 {
			return cryptor.NewSymmetric(from.Uint32(), ch.Key.AsBytes()), uint32(ch.Hash), true
		}
	}
	return nil, 0, false
}

// DecryptorFor selects the cryptor for an incoming packet: channel field 0
// means PKI (only when both the remote's public key and the local peer's
// private key are known); any other value means symmetric, looked up by
// channel hash. Returns false if no cryptor can be constructed, in which
// case the packet should be stored with its ciphertext intact.
func (k *Keyring) DecryptorFor(from, to NodeId, channelField uint32) (cryptor.Cryptor, string, bool) {
	if channelField == 0 {
		remote, haveRemote := k.peers[from]
		local, haveLocal := k.peers[to]
		if !haveRemote || !haveLocal || local.PrivateKey.IsEmpty() {
			return nil, "", false
		}
		c, err := cryptor.NewPKI(from.Uint32(), privateKeyArray(local.PrivateKey), publicKeyArray(remote.PublicKey))
		if err != nil {
			k.log.Warn("failed to construct PKI cryptor", "from", from, "to", to, "err", err)
			return nil, "", false
		}
		return c, "", true
	}

	ch, ok := k.ChannelByHash(channelField)
	if !ok {
		return nil, "", false
	}
	return cryptor.NewSymmetric(from.Uint32(), ch.Key.AsBytes()), ch.Name, true
}

// ObserveNodeInfo records the public key carried in a NodeinfoApp User
// record against any existing pinned key for that node, flagging (never
// rejecting) a mismatch. A node with no pinned key yet gets the observed key
// pinned.
func (k *Keyring) ObserveNodeInfo(nodeId NodeId, publicKey []byte) {
	if len(publicKey) == 0 {
		return
	}
	existing, ok := k.peers[nodeId]
	if !ok {
		key, err := NewKeyFromBytes(publicKey)
		if err != nil {
			k.log.Warn("invalid public key in NodeinfoApp", "node", nodeId, "err", err)
			return
		}
		k.peers[nodeId] = NewRemotePeer(nodeId, key)
		return
	}

	observed, err := NewKeyFromBytes(publicKey)
	if err != nil {
		k.log.Warn("invalid public key in NodeinfoApp", "node", nodeId, "err", err)
		return
	}
	if existing.PublicKey.IsEmpty() {
		existing.PublicKey = observed
		k.peers[nodeId] = existing
		return
	}
	if existing.PublicKey.String() != observed.String() {
		existing.Compromised = true
		k.peers[nodeId] = existing
		k.log.Warn("peer public key mismatch, marking compromised", "node", nodeId)
	}
}

func privateKeyArray(k Key) [32]byte {
	var out [32]byte
	copy(out[:], k.AsBytes())
	return out
}

func publicKeyArray(k Key) [32]byte {
	var out [32]byte
	copy(out[:], k.AsBytes())
	return out
}
