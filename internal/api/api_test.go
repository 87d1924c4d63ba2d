package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/soft-mesh/meshgate/internal/store"
)

func seedStore(t *testing.T, n int) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	for i := 0; i < n; i++ {
		_, err := st.InsertPacket(context.Background(), store.Packet{
			ID: uint32(i + 1), From: "!00000001", To: "!ffffffff", ConnectionName: "udp0", Gateway: "!00000001",
		})
		require.NoError(t, err)
	}
	return st
}

func TestSyncWithStartReturnsOnlyNewerRows(t *testing.T) {
	st := seedStore(t, 3)
	srv := httptest.NewServer(NewServer(st).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/softnode/sync?start=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rows []store.Packet
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rows))
	require.Len(t, rows, 2)
	require.Equal(t, int64(2), rows[0].Sequence)
	require.Equal(t, int64(3), rows[1].Sequence)
}

func TestSyncWithoutStartReturnsRecentRows(t *testing.T) {
	st := seedStore(t, 2)
	srv := httptest.NewServer(NewServer(st).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/softnode/sync")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rows []store.Packet
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rows))
	require.Len(t, rows, 2)
}

func TestSyncRejectsMalformedStart(t *testing.T) {
	st := seedStore(t, 1)
	srv := httptest.NewServer(NewServer(st).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/softnode/sync?start=notanumber")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
