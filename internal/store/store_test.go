package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertPacketAssignsMonotonicSequenceNumbers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.InsertPacket(ctx, Packet{ID: 1, From: "!00000001", To: "!ffffffff", ConnectionName: "udp0", Gateway: "!00000001"})
	require.NoError(t, err)
	second, err := s.InsertPacket(ctx, Packet{ID: 2, From: "!00000001", To: "!ffffffff", ConnectionName: "udp0", Gateway: "!00000001"})
	require.NoError(t, err)

	require.Equal(t, first+1, second)
}

func TestQuerySinceReturnsOnlyNewerRowsAscending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var sequences []int64
	for i := uint32(1); i <= 3; i++ {
		seq, err := s.InsertPacket(ctx, Packet{ID: i, From: "!00000001", To: "!ffffffff", ConnectionName: "udp0", Gateway: "!00000001"})
		require.NoError(t, err)
		sequences = append(sequences, seq)
	}

	rows, err := s.QuerySince(ctx, sequences[0], 100)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, sequences[1], rows[0].Sequence)
	require.Equal(t, sequences[2], rows[1].Sequence)
}

func TestQuerySinceRespectsLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := uint32(1); i <= 5; i++ {
		_, err := s.InsertPacket(ctx, Packet{ID: i, From: "!00000001", To: "!ffffffff", ConnectionName: "udp0", Gateway: "!00000001"})
		require.NoError(t, err)
	}

	rows, err := s.QuerySince(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestQueryRecentReturnsRowsWithinWindow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.InsertPacket(ctx, Packet{ID: 1, From: "!00000001", To: "!ffffffff", ConnectionName: "udp0", Gateway: "!00000001"})
	require.NoError(t, err)

	rows, err := s.QueryRecent(ctx, 24*time.Hour, 100)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	rows, err = s.QueryRecent(ctx, -time.Hour, 100)
	require.NoError(t, err)
	require.Empty(t, rows, "a window entirely in the future should match nothing")
}

func TestInsertPacketStoresPortNumAndChannelNameAsNullWhenUndecryptable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seq, err := s.InsertPacket(ctx, Packet{
		ID: 1, From: "!00000001", To: "!00000002",
		PKIEncrypted: true, ConnectionName: "udp0", Gateway: "!00000001",
	})
	require.NoError(t, err)

	rows, err := s.QuerySince(ctx, seq-1, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Empty(t, rows[0].PortNum)
	require.Empty(t, rows[0].ChannelName)
	require.True(t, rows[0].PKIEncrypted)
}

func TestInsertPacketStoresDecodedDataAndPortNum(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	seq, err := s.InsertPacket(ctx, Packet{
		ID: 1, From: "!00000001", To: "!ffffffff", Channel: 3,
		ChannelName: "LongFast", PortNum: "TEXT_MESSAGE_APP", Data: []byte("hello"),
		ConnectionName: "udp0", Gateway: "!00000001",
	})
	require.NoError(t, err)

	rows, err := s.QuerySince(ctx, seq-1, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "TEXT_MESSAGE_APP", rows[0].PortNum)
	require.Equal(t, "LongFast", rows[0].ChannelName)
	require.Equal(t, []byte("hello"), rows[0].Data)
}
