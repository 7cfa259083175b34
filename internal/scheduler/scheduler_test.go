package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAndRun(t *testing.T) {
	s := New()
	var ticks atomic.Int32
	require.NoError(t, s.Add("heartbeat", "@every 1s", func() { ticks.Add(1) }))

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return ticks.Load() > 0 }, 3*time.Second, 20*time.Millisecond)
}

func TestAddRejectsBadSpec(t *testing.T) {
	s := New()
	err := s.Add("heartbeat", "every now and then", func() {})
	assert.ErrorContains(t, err, "heartbeat")
	assert.Empty(t, s.List())
}

func TestReplaceAndRemove(t *testing.T) {
	s := New()
	require.NoError(t, s.Add("telemetry", "@every 1m", func() {}))
	require.NoError(t, s.Add("heartbeat", "@every 30s", func() {}))
	require.NoError(t, s.Add("telemetry", "@every 5m", func() {}))

	entries := s.List()
	require.Len(t, entries, 2)
	assert.Equal(t, "heartbeat", entries[0].Name)
	assert.Equal(t, "telemetry", entries[1].Name)
	assert.Equal(t, "@every 5m", entries[1].Spec)

	s.Remove("telemetry")
	s.Remove("unknown")
	entries = s.List()
	require.Len(t, entries, 1)
	assert.Equal(t, "heartbeat", entries[0].Name)
}
