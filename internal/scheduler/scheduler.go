// Package scheduler implements the beacon wakeup queue: a time-ordered list
// of pending beacon emissions (NodeInfo, Position, ...) that the engine
// drains as their fire times elapse and reinserts on their own period.
package scheduler

import (
	"sort"
	"time"
)

// BeaconID names one configured beacon: which channel it publishes on and
// which slot in that channel's beacon list it is. Opaque to the scheduler;
// the engine interprets it against config.
type BeaconID struct {
	ChannelIndex int
	BeaconIndex  int
}

type entry struct {
	fireAt time.Time
	id     BeaconID
}

// Scheduler is a time-ordered queue of pending beacon fires, kept sorted by
// fireAt so NextWakeup and PopReady are O(1) and Reinsert is O(log n) to
// locate plus O(n) to shift (beacon counts are small, tens at most).
type Scheduler struct {
	entries []entry
}

// New builds a Scheduler with one entry per id in ids, all due immediately
// (at construction time), matching the firmware's behavior of beaconing once
// at startup before settling into its configured period.
func New(ids []BeaconID, now time.Time) *Scheduler {
	s := &Scheduler{entries: make([]entry, len(ids))}
	for i, id := range ids {
		s.entries[i] = entry{fireAt: now, id: id}
	}
	sort.SliceStable(s.entries, func(i, j int) bool { return s.entries[i].fireAt.Before(s.entries[j].fireAt) })
	return s
}

// Add inserts a new beacon fire at fireAt, keeping entries sorted. An entry
// whose fireAt equals existing ones is placed after them (insertion order).
func (s *Scheduler) Add(fireAt time.Time, id BeaconID) {
	pos := sort.Search(len(s.entries), func(i int) bool { return s.entries[i].fireAt.After(fireAt) })
	s.entries = append(s.entries, entry{})
	copy(s.entries[pos+1:], s.entries[pos:])
	s.entries[pos] = entry{fireAt: fireAt, id: id}
}

// NextWakeup returns the fire time of the earliest pending beacon, or false
// if the queue is empty.
func (s *Scheduler) NextWakeup() (time.Time, bool) {
	if len(s.entries) == 0 {
		return time.Time{}, false
	}
	return s.entries[0].fireAt, true
}

// PopReady removes and returns the earliest entry if its fire time is at or
// before now, otherwise reports false without modifying the queue.
func (s *Scheduler) PopReady(now time.Time) (BeaconID, bool) {
	if len(s.entries) == 0 {
		return BeaconID{}, false
	}
	if s.entries[0].fireAt.After(now) {
		return BeaconID{}, false
	}
	id := s.entries[0].id
	s.entries = s.entries[1:]
	return id, true
}

// Reinsert schedules id to fire again after period has elapsed from now.
func (s *Scheduler) Reinsert(id BeaconID, now time.Time, period time.Duration) {
	s.Add(now.Add(period), id)
}

// Len reports the number of pending entries, mostly useful for tests.
func (s *Scheduler) Len() int {
	return len(s.entries)
}
