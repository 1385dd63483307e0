package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/vpnadmin/internal/clock"
	"grimm.is/vpnadmin/internal/logging"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "state", "audit.db"), 30, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriteAndQuery(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Write(Event{Timestamp: base, Actor: "dashboard", Action: "users.add", Resource: "alice", Status: 200, IP: "10.0.0.5"}))
	require.NoError(t, s.Write(Event{Timestamp: base.Add(time.Minute), Actor: "dashboard", Action: "firewall.add", Resource: "INPUT",
		Details: map[string]any{"rule": "-p udp --dport 500 -j ACCEPT"}, Status: 200}))
	require.NoError(t, s.Write(Event{Timestamp: base.Add(2 * time.Minute), Actor: "ops", Action: "users.delete", Resource: "bob", Status: 500}))

	all, err := s.Query(Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "users.delete", all[0].Action, "newest first")
	assert.Equal(t, base, all[2].Timestamp)
	assert.Equal(t, "10.0.0.5", all[2].IP)
	assert.Equal(t, "-p udp --dport 500 -j ACCEPT", all[1].Details["rule"])

	byAction, err := s.Query(Filter{Action: "users.add"})
	require.NoError(t, err)
	require.Len(t, byAction, 1)
	assert.Equal(t, "alice", byAction[0].Resource)

	byActor, err := s.Query(Filter{Actor: "ops"})
	require.NoError(t, err)
	assert.Len(t, byActor, 1)

	limited, err := s.Query(Filter{Limit: 2, Since: base.Add(30 * time.Second)})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestPrune(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	defer clock.Use(clock.NewMockClock(now))()

	s := newTestStore(t)
	require.NoError(t, s.Write(Event{Timestamp: now.AddDate(0, 0, -31), Actor: "a", Action: "x", Resource: "old"}))
	require.NoError(t, s.Write(Event{Timestamp: now.AddDate(0, 0, -1), Actor: "a", Action: "x", Resource: "new"}))

	removed, err := s.Prune()
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	left, err := s.Query(Filter{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "new", left[0].Resource)
}

func TestWrite_DefaultsTimestamp(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 30, 0, 0, time.UTC)
	defer clock.Use(clock.NewMockClock(now))()

	s := newTestStore(t)
	require.NoError(t, s.Write(Event{Actor: "a", Action: "x", Resource: "r"}))

	events, err := s.Query(Filter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, now, events[0].Timestamp)
}
