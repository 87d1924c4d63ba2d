package engine

import (
	"context"
	"testing"
	"time"

	"buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/soft-mesh/meshgate/internal/config"
	"github.com/soft-mesh/meshgate/internal/cryptor"
	"github.com/soft-mesh/meshgate/internal/keyring"
	"github.com/soft-mesh/meshgate/internal/router"
	"github.com/soft-mesh/meshgate/internal/store"
	"github.com/soft-mesh/meshgate/internal/transport"
)

type fakeTransport struct {
	name string
	in   chan transport.Inbound
	sent chan *meshtastic.MeshPacket
}

func newFakeTransport(name string) *fakeTransport {
	return &fakeTransport{name: name, in: make(chan transport.Inbound, 4), sent: make(chan *meshtastic.MeshPacket, 4)}
}

func (f *fakeTransport) String() string                      { return f.name }
func (f *fakeTransport) Connect(ctx context.Context) error    { return nil }
func (f *fakeTransport) Disconnect(ctx context.Context) error { return nil }
func (f *fakeTransport) Send(ctx context.Context, packet *meshtastic.MeshPacket) error {
	f.sent <- packet
	return nil
}
func (f *fakeTransport) Recv(ctx context.Context) (transport.Inbound, error) {
	select {
	case <-ctx.Done():
		return transport.Inbound{}, ctx.Err()
	case item := <-f.in:
		return item, nil
	}
}

func testConfig(t *testing.T) (config.SoftNodeConfig, *keyring.Keyring, keyring.NodeId, keyring.Key) {
	t.Helper()
	selfID, err := keyring.RandomNodeId()
	require.NoError(t, err)
	channelKey, err := keyring.NewKeyFromBytes(keyring.DefaultPSK[:])
	require.NoError(t, err)

	soft := config.SoftNodeConfig{
		NodeID:    selfID.String(),
		Name:      "TestNode",
		ShortName: "TEST",
		Channels: []config.ChannelConfig{
			{Name: "LongFast", HopStart: 3},
		},
	}
	privateKey, err := keyring.GenerateK256()
	require.NoError(t, err)
	soft.PrivateKey = privateKey.String()

	k := keyring.New()
	_, err = k.AddPeer(selfID, privateKey)
	require.NoError(t, err)
	k.AddChannel("LongFast", channelKey)

	return soft, k, selfID, channelKey
}

func TestEngineForwardsDecryptsAndPersistsIncomingPacket(t *testing.T) {
	soft, k, _, channelKey := testConfig(t)
	soft.Channels[0].Publish = config.PublishConfig{} // disable beacons for this test

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	a := newFakeTransport("a")
	b := newFakeTransport("b")
	r := router.New(a, b)
	require.NoError(t, r.Connect(context.Background()))
	defer r.Disconnect(context.Background())

	e := New(r, k, st, soft, []string{"a", "b"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- e.Run(ctx) }()

	sender, err := keyring.RandomNodeId()
	require.NoError(t, err)
	data := &meshtastic.Data{Portnum: meshtastic.PortNum_TEXT_MESSAGE_APP, Payload: []byte("hi")}
	plaintext, err := proto.Marshal(data)
	require.NoError(t, err)
	symmetric := cryptor.NewSymmetric(sender.Uint32(), channelKey.AsBytes())
	ciphertext, err := symmetric.Encrypt(42, plaintext)
	require.NoError(t, err)

	packet := &meshtastic.MeshPacket{
		From:           sender.Uint32(),
		To:             keyring.Broadcast.Uint32(),
		Id:             42,
		Channel:        channelHash(t, k, "LongFast"),
		PayloadVariant: &meshtastic.MeshPacket_Encrypted{Encrypted: ciphertext},
	}
	a.in <- transport.Inbound{Packet: packet}

	select {
	case fanned := <-b.sent:
		require.True(t, proto.Equal(packet, fanned))
	case <-time.After(2 * time.Second):
		t.Fatal("packet was not fanned out to the other transport")
	}

	require.Eventually(t, func() bool {
		rows, err := st.QuerySince(context.Background(), 0, 10)
		require.NoError(t, err)
		return len(rows) == 1 && rows[0].PortNum == "TEXT_MESSAGE_APP"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-runDone
}

func channelHash(t *testing.T, k *keyring.Keyring, name string) uint32 {
	t.Helper()
	for _, ch := range k.Channels() {
		if ch.Name == name {
			return uint32(ch.Hash)
		}
	}
	t.Fatalf("channel %q not found", name)
	return 0
}

func TestEnginePublishesNodeInfoBeaconOnSchedule(t *testing.T) {
	soft, k, selfID, _ := testConfig(t)
	soft.Channels[0].Publish = config.PublishConfig{
		NodeInfo: &config.BeaconConfig{Interval: time.Hour},
	}

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	a := newFakeTransport("a")
	r := router.New(a)
	require.NoError(t, r.Connect(context.Background()))
	defer r.Disconnect(context.Background())

	e := New(r, k, st, soft, []string{"a"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- e.Run(ctx) }()

	select {
	case sent := <-a.sent:
		require.Equal(t, selfID.Uint32(), sent.From)
		require.Equal(t, keyring.Broadcast.Uint32(), sent.To)
	case <-time.After(2 * time.Second):
		t.Fatal("NodeInfo beacon was not sent")
	}

	cancel()
	<-runDone
}
