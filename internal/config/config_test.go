package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/soft-mesh/meshgate/internal/keyring"
)

func mustParseNodeID(t *testing.T, s string) keyring.NodeId {
	t.Helper()
	id, err := keyring.ParseNodeId(s)
	require.NoError(t, err)
	return id
}

func TestLoadBootstrapsDefaultConfigWhenFileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "soft_node.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "SoftNode", cfg.SoftNode.Name)
	require.NotEmpty(t, cfg.SoftNode.NodeID)
	require.NotEmpty(t, cfg.SoftNode.PrivateKey)
	require.FileExists(t, path)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.SoftNode.NodeID, reloaded.SoftNode.NodeID, "a second load must not regenerate identity")
}

func TestLoadRoundTripsAnExistingConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "soft_node.yaml")
	original, err := Default()
	require.NoError(t, err)
	original.SoftNode.Name = "CustomName"
	require.NoError(t, Write(path, original))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "CustomName", loaded.SoftNode.Name)
	require.Equal(t, original.SoftNode.NodeID, loaded.SoftNode.NodeID)
}

func TestBuildKeyringRegistersSelfChannelsAndPeers(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	cfg.Keys.Peers = []KeyPeerConfig{
		{NodeID: "!0000002a", PublicKey: "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="},
	}

	k, err := BuildKeyring(cfg)
	require.NoError(t, err)

	require.Len(t, k.Channels(), 1)
	require.Equal(t, "LongFast", k.Channels()[0].Name)

	_, ok := k.Peer(mustParseNodeID(t, cfg.SoftNode.NodeID))
	require.True(t, ok, "soft node itself must be registered as a local peer")

	_, ok = k.Peer(mustParseNodeID(t, "!0000002a"))
	require.True(t, ok, "configured peer must be registered")
}
