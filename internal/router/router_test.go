package router

import (
	"context"
	"testing"
	"time"

	"buf.build/gen/go/meshtastic/protobufs/protocolbuffers/go/meshtastic"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/soft-mesh/meshgate/internal/transport"
)

type fakeTransport struct {
	name      string
	in        chan transport.Inbound
	sent      chan *meshtastic.MeshPacket
	connected bool
}

func newFakeTransport(name string) *fakeTransport {
	return &fakeTransport{name: name, in: make(chan transport.Inbound, 8), sent: make(chan *meshtastic.MeshPacket, 8)}
}

func (f *fakeTransport) String() string { return f.name }

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.connected = true
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

func (f *fakeTransport) Send(ctx context.Context, packet *meshtastic.MeshPacket) error {
	f.sent <- packet
	return nil
}

func (f *fakeTransport) Disconnect(ctx context.Context) error {
	f.connected = false
	return nil
}

func TestRouterRecvTagsSourceTransport(t *testing.T) {
	a := newFakeTransport("a")
	b := newFakeTransport("b")
	r := New(a, b)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Connect(ctx))
	defer r.Disconnect(context.Background())

	packet := &meshtastic.MeshPacket{From: 1}
	b.in <- transport.Inbound{Packet: packet}

	received, err := r.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, received.TransportIndex)
	require.True(t, proto.Equal(packet, received.Inbound.Packet))
}

func TestRouterSendFansOutExceptSource(t *testing.T) {
	a := newFakeTransport("a")
	b := newFakeTransport("b")
	c := newFakeTransport("c")
	r := New(a, b, c)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Connect(ctx))
	defer r.Disconnect(context.Background())

	packet := &meshtastic.MeshPacket{From: 2}
	r.Send(ctx, 1, packet)

	select {
	case got := <-a.sent:
		require.True(t, proto.Equal(packet, got))
	default:
		t.Fatal("transport a should have received the fanned-out packet")
	}
	select {
	case got := <-c.sent:
		require.True(t, proto.Equal(packet, got))
	default:
		t.Fatal("transport c should have received the fanned-out packet")
	}
	require.Empty(t, b.sent, "source transport must not receive its own packet back")
}
