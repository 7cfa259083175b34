package finch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"finch-controller/internal/device"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport records frames and answers queries from a canned map.
type fakeTransport struct {
	mu        sync.Mutex
	open      bool
	openErr   error
	writeErr  error
	frames    [][]byte
	responses map[byte][]byte
	rx        chan []byte
	closes    int
}

func newFake() *fakeTransport {
	return &fakeTransport{responses: make(map[byte][]byte), rx: make(chan []byte, 8)}
}

func (f *fakeTransport) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.open = true
	return nil
}

func (f *fakeTransport) Write(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.frames = append(f.frames, append([]byte(nil), p...))
	if resp, ok := f.responses[p[1]]; ok {
		f.rx <- resp
	}
	return nil
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	chunk := <-f.rx
	return copy(p, chunk), nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	f.closes++
	return nil
}

func (f *fakeTransport) sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

func connected(t *testing.T, ft *fakeTransport) *Controller {
	t.Helper()
	c := NewController(ft, Options{ResponseTimeout: 100 * time.Millisecond, RateLimit: 1000, RateBurst: 100})
	require.NoError(t, c.Connect(context.Background()))
	return c
}

func TestFrameBuilders(t *testing.T) {
	assert.Equal(t, []byte{0, 'O', 10, 20, 255, 0, 0, 0, 0}, ledFrame(10, 20, 300))
	assert.Equal(t, []byte{0, 'M', 0, 255, 0, 128, 0, 0, 0}, motorFrame(255, 128))
	assert.Equal(t, []byte{0, 'M', 1, 128, 0, 255, 0, 0, 0}, motorFrame(-128, 255))
	assert.Equal(t, []byte{0, 'M', 1, 255, 1, 255, 0, 0, 0}, motorFrame(-999, -999))
	assert.Equal(t, []byte{0, 'B', 0xFF, 0xFF, 0x02, 0x0B, 0, 0, 0}, buzzerFrame(noteHoldMs, 523))
	assert.Equal(t, []byte{0, 'B', 0, 0, 0, 0, 0, 0, 0}, buzzerFrame(0, 0))
	assert.InDelta(t, 25.0, celsius(127), 0.001)
	assert.InDelta(t, 35.0, celsius(151), 0.001)
}

func TestConnectResetsAndDisconnectIdles(t *testing.T) {
	ft := newFake()
	var statuses []bool
	c := NewController(ft, Options{RateLimit: 1000, RateBurst: 100})
	c.OnStatusChange(func(connected bool) { statuses = append(statuses, connected) })

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.IsConnected())
	assert.Equal(t, [][]byte{ledFrame(0, 0, 0), buzzerFrame(0, 0)}, ft.sent())
	assert.Equal(t, []bool{true}, statuses)

	require.NoError(t, c.Disconnect())
	assert.False(t, c.IsConnected())
	assert.Equal(t, [][]byte{idleFrame(), resetFrame()}, ft.sent()[2:])
	assert.Equal(t, 1, ft.closes)
	assert.Equal(t, []bool{true, false}, statuses)
}

func TestConnectFailure(t *testing.T) {
	ft := newFake()
	ft.openErr = errors.New("no such port")
	c := NewController(ft, Options{})
	err := c.Connect(context.Background())
	assert.ErrorContains(t, err, "no such port")
	assert.False(t, c.IsConnected())
}

func TestActuatorsWhileDisconnected(t *testing.T) {
	c := NewController(newFake(), Options{})
	assert.ErrorIs(t, c.SetMotors(1, 1), device.ErrUnavailable)
	_, err := c.Temperature()
	assert.ErrorIs(t, err, device.ErrUnavailable)
}

func TestActuatorFrames(t *testing.T) {
	ft := newFake()
	c := connected(t, ft)

	require.NoError(t, c.SetMotors(150, 150))
	require.NoError(t, c.SetLED(9, 9, 9))
	require.NoError(t, c.NoteOn(523))
	require.NoError(t, c.NoteOff())
	require.NoError(t, c.Idle())

	sent := ft.sent()[2:]
	assert.Equal(t, [][]byte{
		motorFrame(150, 150),
		ledFrame(9, 9, 9),
		buzzerFrame(noteHoldMs, 523),
		buzzerFrame(0, 0),
		idleFrame(),
	}, sent)
}

func TestSensorQueries(t *testing.T) {
	ft := newFake()
	ft.responses[opTemperature] = []byte{151}
	ft.responses[opLight] = []byte{40, 200}
	c := connected(t, ft)

	temp, err := c.Temperature()
	require.NoError(t, err)
	assert.InDelta(t, 35.0, temp, 0.001)

	l, err := c.LeftLightSensor()
	require.NoError(t, err)
	r, err := c.RightLightSensor()
	require.NoError(t, err)
	assert.Equal(t, 40, l)
	assert.Equal(t, 200, r)
}

func TestQueryTimeoutDropsConnection(t *testing.T) {
	ft := newFake()
	c := connected(t, ft)

	_, err := c.Temperature()
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Eventually(t, func() bool { return !c.IsConnected() }, time.Second, 5*time.Millisecond)
}

func TestWriteFailureDropsConnection(t *testing.T) {
	ft := newFake()
	c := connected(t, ft)

	ft.mu.Lock()
	ft.writeErr = errors.New("unplugged")
	ft.mu.Unlock()

	err := c.SetLED(1, 1, 1)
	assert.ErrorContains(t, err, "unplugged")
	assert.Eventually(t, func() bool { return !c.IsConnected() }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, c.SetLED(1, 1, 1), device.ErrUnavailable)
}

func TestSleepHonorsContext(t *testing.T) {
	c := NewController(newFake(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Sleep(ctx, 10_000), context.Canceled)
	assert.NoError(t, c.Sleep(context.Background(), 1))
}

func TestMatchesName(t *testing.T) {
	assert.True(t, matchesName([]string{"FNC"}, "FNC8A2B1"))
	assert.False(t, matchesName([]string{"FNC", ""}, "BLEDOM"))
}
