package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"finch-controller/internal/device"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActuatorsRequireConnection(t *testing.T) {
	d := New(Options{})
	assert.ErrorIs(t, d.SetMotors(1, 1), device.ErrUnavailable)
	assert.Empty(t, d.Calls())

	require.NoError(t, d.Connect(context.Background()))
	require.NoError(t, d.SetMotors(300, -300))
	assert.Equal(t, []Call{
		{Op: OpConnect},
		{Op: OpSetMotors, Args: []int{255, -255}},
	}, d.Calls())
}

func TestReadingsAndFailures(t *testing.T) {
	d := New(Options{StartConnected: true, Temperature: 21.5, LeftLight: 10, RightLight: 20})

	c, err := d.Temperature()
	require.NoError(t, err)
	assert.InDelta(t, 21.5, c, 0.001)

	l, _ := d.LeftLightSensor()
	r, _ := d.RightLightSensor()
	assert.Equal(t, 10, l)
	assert.Equal(t, 20, r)

	boom := errors.New("boom")
	d.FailOn(OpNoteOn, boom)
	assert.ErrorIs(t, d.NoteOn(523), boom)
	d.FailOn(OpNoteOn, nil)
	assert.NoError(t, d.NoteOn(523))
}

func TestRealTimeSleepIsCancellable(t *testing.T) {
	d := New(Options{RealTime: true})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := d.Sleep(ctx, 5000)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, []string{OpSleep}, d.Ops())
}

func TestDisconnect(t *testing.T) {
	d := New(Options{StartConnected: true})
	require.NoError(t, d.Disconnect())
	assert.False(t, d.IsConnected())
	d.Reset()
	assert.Empty(t, d.Calls())
}
