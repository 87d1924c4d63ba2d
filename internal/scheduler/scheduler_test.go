package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewOrdersAllEntriesDueImmediately(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ids := []BeaconID{{ChannelIndex: 0, BeaconIndex: 0}, {ChannelIndex: 1, BeaconIndex: 0}}
	s := New(ids, now)
	require.Equal(t, 2, s.Len())

	wakeup, ok := s.NextWakeup()
	require.True(t, ok)
	require.True(t, wakeup.Equal(now))
}

func TestPopReadyOnlyReturnsDueEntries(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(nil, now)
	s.Add(now.Add(time.Minute), BeaconID{ChannelIndex: 0, BeaconIndex: 0})

	_, ok := s.PopReady(now)
	require.False(t, ok, "entry a minute out is not due yet")

	id, ok := s.PopReady(now.Add(time.Minute))
	require.True(t, ok)
	require.Equal(t, BeaconID{ChannelIndex: 0, BeaconIndex: 0}, id)
	require.Equal(t, 0, s.Len())
}

func TestReinsertKeepsQueueOrdered(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New([]BeaconID{{ChannelIndex: 0, BeaconIndex: 0}}, now)

	id, ok := s.PopReady(now)
	require.True(t, ok)
	s.Reinsert(id, now, 30*time.Second)
	s.Add(now.Add(10*time.Second), BeaconID{ChannelIndex: 1, BeaconIndex: 0})

	wakeup, ok := s.NextWakeup()
	require.True(t, ok)
	require.True(t, wakeup.Equal(now.Add(10*time.Second)))

	first, ok := s.PopReady(now.Add(10 * time.Second))
	require.True(t, ok)
	require.Equal(t, BeaconID{ChannelIndex: 1, BeaconIndex: 0}, first)

	second, ok := s.PopReady(now.Add(30 * time.Second))
	require.True(t, ok)
	require.Equal(t, BeaconID{ChannelIndex: 0, BeaconIndex: 0}, second)
}
