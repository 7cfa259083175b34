package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"finch-controller/internal/device"
	"finch-controller/internal/program"
	"finch-controller/internal/sim"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects report lines.
type recorder struct {
	mu    sync.Mutex
	steps []Step
}

func (r *recorder) report(s Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, s)
}

func (r *recorder) lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.steps))
	for i, s := range r.steps {
		out[i] = s.String()
	}
	return out
}

func newConnected() *sim.Device {
	return sim.New(sim.Options{StartConnected: true, Temperature: 22.25})
}

func run(t *testing.T, cmds []program.Command, params program.Parameters) (*sim.Device, *recorder, error) {
	t.Helper()
	dev := newConnected()
	rec := &recorder{}
	e := New(rec.report)
	err := e.Execute(context.Background(), program.Program{Commands: cmds, Parameters: params}, dev)
	return dev, rec, err
}

func TestEmptyProgramIsNoop(t *testing.T) {
	dev, rec, err := run(t, nil, program.Parameters{})
	require.NoError(t, err)
	assert.Empty(t, dev.Calls())
	assert.Empty(t, rec.lines())
}

func TestMoveForwardUsesMotorSpeed(t *testing.T) {
	dev, _, err := run(t, []program.Command{program.MoveForward}, program.Parameters{MotorSpeed: 150})
	require.NoError(t, err)
	assert.Equal(t, []sim.Call{{Op: sim.OpSetMotors, Args: []int{150, 150}}}, dev.Calls())
}

func TestWaitConvertsSecondsToMillis(t *testing.T) {
	dev, _, err := run(t, []program.Command{program.Wait}, program.Parameters{WaitSeconds: 0.25})
	require.NoError(t, err)
	assert.Equal(t, []sim.Call{{Op: sim.OpSleep, Args: []int{250}}}, dev.Calls())
}

func TestZeroWaitIsZeroLengthSleep(t *testing.T) {
	dev, _, err := run(t, []program.Command{program.Wait}, program.Parameters{})
	require.NoError(t, err)
	assert.Equal(t, []sim.Call{{Op: sim.OpSleep, Args: []int{0}}}, dev.Calls())
}

func TestTurnsIgnoreParameters(t *testing.T) {
	for _, params := range []program.Parameters{
		{},
		{MotorSpeed: 10, LEDBrightness: 20, WaitSeconds: 3},
		{MotorSpeed: 255, LEDBrightness: 255, WaitSeconds: 0.1},
	} {
		dev, _, err := run(t, []program.Command{program.TurnRight, program.TurnLeft}, params)
		require.NoError(t, err)
		assert.Equal(t, []sim.Call{
			{Op: sim.OpSetMotors, Args: []int{255, 128}},
			{Op: sim.OpSetMotors, Args: []int{-128, 255}},
		}, dev.Calls())
	}
}

func TestFullDispatchTable(t *testing.T) {
	cmds := []program.Command{
		program.None,
		program.MoveForward,
		program.MoveBackward,
		program.StopMotors,
		program.Wait,
		program.TurnRight,
		program.TurnLeft,
		program.LedOn,
		program.LedOff,
		program.NoteOn,
		program.NoteOff,
		program.GetTemperature,
	}
	params := program.Parameters{MotorSpeed: 100, LEDBrightness: 40, WaitSeconds: 1.5}

	dev, rec, err := run(t, cmds, params)
	require.NoError(t, err)

	assert.Equal(t, []sim.Call{
		{Op: sim.OpSetMotors, Args: []int{100, 100}},
		{Op: sim.OpSetMotors, Args: []int{-100, -100}},
		{Op: sim.OpSetMotors, Args: []int{0, 0}},
		{Op: sim.OpSleep, Args: []int{1500}},
		{Op: sim.OpSetMotors, Args: []int{255, 128}},
		{Op: sim.OpSetMotors, Args: []int{-128, 255}},
		{Op: sim.OpSetLED, Args: []int{40, 40, 40}},
		{Op: sim.OpSetLED, Args: []int{0, 0, 0}},
		{Op: sim.OpNoteOn, Args: []int{523}},
		{Op: sim.OpNoteOff},
		{Op: sim.OpTemperature},
	}, dev.Calls())

	lines := rec.lines()
	require.Len(t, lines, len(cmds))
	assert.Equal(t, "NONE", lines[0])
	assert.Equal(t, "MOVEFORWARD", lines[1])
	assert.Equal(t, "GETTEMPERATURE 22.25°C", lines[11])
}

func TestAuthoringRoundTrip(t *testing.T) {
	b := program.NewBuilder()
	for _, tok := range []string{"MOVEFORWARD", "WAIT", "LEDON", "DONE"} {
		done, err := b.Append(tok)
		require.NoError(t, err)
		if done {
			break
		}
	}

	dev := newConnected()
	require.NoError(t, New(nil).Execute(context.Background(), b.Program(), dev))
	assert.Equal(t, []string{sim.OpSetMotors, sim.OpSleep, sim.OpSetLED}, dev.Ops())
}

func TestEveryCommandExceptDoneDispatches(t *testing.T) {
	for _, c := range program.Commands() {
		dev := newConnected()
		err := New(nil).Execute(context.Background(), program.Program{Commands: []program.Command{c}}, dev)
		switch c {
		case program.Done:
			assert.ErrorIs(t, err, ErrUnexpectedDone)
		case program.None:
			require.NoError(t, err)
			assert.Empty(t, dev.Calls())
		default:
			require.NoError(t, err, c.String())
			assert.Len(t, dev.Calls(), 1, c.String())
		}
	}
}

func TestDeviceUnavailableFailsFast(t *testing.T) {
	dev := sim.New(sim.Options{})
	rec := &recorder{}
	e := New(rec.report)

	err := e.Execute(context.Background(), program.Program{Commands: []program.Command{program.Wait}}, dev)
	assert.ErrorIs(t, err, device.ErrUnavailable)
	assert.Empty(t, dev.Calls())
	assert.Empty(t, rec.lines())
	assert.Equal(t, "unavailable", Outcome(err))

	err = e.Execute(context.Background(), program.Program{}, nil)
	assert.ErrorIs(t, err, device.ErrUnavailable)
}

func TestFirstDeviceFailureStopsRun(t *testing.T) {
	dev := newConnected()
	boom := errors.New("usb write failed")
	dev.FailOn(sim.OpSetLED, boom)

	rec := &recorder{}
	e := New(rec.report)
	err := e.Execute(context.Background(), program.Program{Commands: []program.Command{
		program.MoveForward, program.LedOn, program.NoteOn,
	}}, dev)

	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "command 2 (LEDON)")
	assert.Equal(t, []string{sim.OpSetMotors, sim.OpSetLED}, dev.Ops())
	assert.Equal(t, []string{"MOVEFORWARD"}, rec.lines())
	assert.Equal(t, Done, e.State())
	assert.ErrorIs(t, e.Err(), boom)
	assert.Equal(t, "failed", Outcome(err))
}

func TestCancellationBetweenCommands(t *testing.T) {
	dev := sim.New(sim.Options{StartConnected: true, RealTime: true})
	ctx, cancel := context.WithCancel(context.Background())

	e := New(func(s Step) {
		if s.Index == 0 {
			cancel()
		}
	})
	err := e.Execute(ctx, program.Program{
		Commands:   []program.Command{program.LedOn, program.Wait, program.LedOff},
		Parameters: program.Parameters{WaitSeconds: 10},
	}, dev)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "canceled", Outcome(err))
	assert.Equal(t, []string{sim.OpSetLED}, dev.Ops())
}

func TestCancellationInterruptsWait(t *testing.T) {
	dev := sim.New(sim.Options{StartConnected: true, RealTime: true})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := New(nil).Execute(ctx, program.Program{
		Commands:   []program.Command{program.Wait, program.LedOn},
		Parameters: program.Parameters{WaitSeconds: 30},
	}, dev)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, []string{sim.OpSleep}, dev.Ops())
}

func TestStateTransitions(t *testing.T) {
	e := New(nil)
	assert.Equal(t, Idle, e.State())
	assert.Equal(t, "idle", e.State().String())

	seen := make(chan State, 1)
	e.report = func(Step) { seen <- e.State() }

	require.NoError(t, e.Execute(context.Background(), program.Program{Commands: []program.Command{program.None}}, newConnected()))
	assert.Equal(t, Running, <-seen)
	assert.Equal(t, Done, e.State())
	assert.NoError(t, e.Err())
}

func TestExecuteWhileRunningIsBusy(t *testing.T) {
	dev := newConnected()
	e := New(nil)
	var inner error
	e.report = func(Step) {
		inner = e.Execute(context.Background(), program.Program{}, dev)
	}
	require.NoError(t, e.Execute(context.Background(), program.Program{Commands: []program.Command{program.None}}, dev))
	assert.ErrorIs(t, inner, ErrBusy)
}

func TestStepJSONCarriesToken(t *testing.T) {
	c := 20.5
	b, err := json.Marshal(Step{Index: 2, Command: program.GetTemperature, Celsius: &c})
	require.NoError(t, err)
	assert.JSONEq(t, `{"index":2,"command":"GETTEMPERATURE","celsius":20.5}`, string(b))
}
