package console

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"finch-controller/internal/routine"
	"finch-controller/internal/sim"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func session(t *testing.T, dev *sim.Device, lines ...string) string {
	t.Helper()
	var out bytes.Buffer
	c := New(strings.NewReader(strings.Join(lines, "\n")+"\n"), &out, dev, routine.NewEngine(t.TempDir()))
	require.NoError(t, c.Run(context.Background()))
	return out.String()
}

func TestQuit(t *testing.T) {
	out := session(t, sim.New(sim.Options{}), "q")
	assert.Contains(t, out, "Main Menu")
	assert.Contains(t, out, "Thank you for using Finch Control!")
}

func TestInvalidMenuChoice(t *testing.T) {
	out := session(t, sim.New(sim.Options{}), "z", "q")
	assert.Contains(t, out, "Please enter a letter for the menu choice.")
}

func TestEndOfInputEndsSession(t *testing.T) {
	dev := sim.New(sim.Options{StartConnected: true})
	var out bytes.Buffer
	c := New(strings.NewReader("c\n"), &out, dev, routine.NewEngine(t.TempDir()))
	assert.NoError(t, c.Run(context.Background()))
	assert.False(t, dev.IsConnected())
}

func TestConnectAndDisconnect(t *testing.T) {
	dev := sim.New(sim.Options{})
	out := session(t, dev, "a", "d", "q")
	assert.Contains(t, out, "The Finch robot is now connected.")
	assert.Contains(t, out, "The Finch robot is now disconnected.")
	assert.Equal(t, []string{sim.OpConnect, sim.OpDisconnect}, dev.Ops())
}

func TestUserProgrammingSession(t *testing.T) {
	dev := sim.New(sim.Options{StartConnected: true, Temperature: 22.25})
	out := session(t, dev,
		"c",
		"a", "200", "abc", "0.01",
		"b", "MOVEFORWARD", "moveforward", "WAIT", "GETTEMPERATURE", "STOPMOTORS", "DONE",
		"c",
		"d",
		"q",
		"q",
	)

	assert.Contains(t, out, "LED brightness \"abc\"")
	assert.Contains(t, out, "Motor speed: 200")
	assert.Contains(t, out, "LED brightness: 0")
	assert.Contains(t, out, "\"moveforward\" is not a valid command")
	assert.Contains(t, out, " 4. STOPMOTORS")
	assert.Contains(t, out, " 3. GETTEMPERATURE 22.25°C")
	assert.Contains(t, out, "All commands executed.")

	assert.Equal(t, []sim.Call{
		{Op: sim.OpSetMotors, Args: []int{200, 200}},
		{Op: sim.OpSleep, Args: []int{10}},
		{Op: sim.OpTemperature},
		{Op: sim.OpSetMotors, Args: []int{0, 0}},
		{Op: sim.OpDisconnect},
	}, dev.Calls())
}

func TestProgramIsDiscardedWithSession(t *testing.T) {
	dev := sim.New(sim.Options{StartConnected: true})
	out := session(t, dev,
		"c", "b", "LEDON", "DONE", "q",
		"c", "c", "q",
		"q",
	)
	assert.Contains(t, out, "No commands entered yet.")
}

func TestExecuteWithoutRobot(t *testing.T) {
	dev := sim.New(sim.Options{})
	out := session(t, dev, "c", "b", "LEDON", "DONE", "d", "q", "q")
	assert.Contains(t, out, "The Finch robot is not connected.")
	assert.Empty(t, dev.Ops())
}

func TestTalentShow(t *testing.T) {
	dev := sim.New(sim.Options{StartConnected: true})
	out := session(t, dev, "b", "x", "b", "q", "q")
	assert.Contains(t, out, "Please enter a letter for the menu choice.")
	assert.Contains(t, out, "The Finch robot will now do a dance!")
	assert.Contains(t, dev.Ops(), sim.OpSetMotors)
}

func TestCancelWhileWaitingForInput(t *testing.T) {
	dev := sim.New(sim.Options{StartConnected: true})
	in, w := io.Pipe()
	defer w.Close()
	var out bytes.Buffer
	c := New(in, &out, dev, routine.NewEngine(t.TempDir()))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Run(ctx) }()

	_, err := w.Write([]byte("c\n"))
	require.NoError(t, err)
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, dev.IsConnected())
}
