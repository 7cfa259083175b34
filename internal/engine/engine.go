// Package engine replays a program against a device, one command at a time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"finch-controller/internal/device"
	"finch-controller/internal/metrics"
	"finch-controller/internal/program"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrBusy is returned when Execute is called while a run is in progress.
	ErrBusy = errors.New("engine is already running")
	// ErrUnexpectedDone is returned when a program contains the DONE sentinel.
	ErrUnexpectedDone = errors.New("DONE is not an executable command")
)

// State is the lifecycle of an engine.
type State int32

const (
	Idle State = iota
	Running
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Done:
		return "done"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Step is the report of one dispatched command.
type Step struct {
	Index   int             `json:"index"`
	Command program.Command `json:"command"`
	Celsius *float64        `json:"celsius,omitempty"`
}

// String formats the step as one report line.
func (s Step) String() string {
	if s.Celsius != nil {
		return fmt.Sprintf("%s %.2f°C", s.Command, *s.Celsius)
	}
	return s.Command.String()
}

// ReportFunc receives every dispatched step, in order.
type ReportFunc func(Step)

// Engine executes programs. Device calls are made from the calling goroutine.
type Engine struct {
	report ReportFunc

	mu    sync.Mutex
	state State
	err   error
}

// New creates an engine. A nil report only logs.
func New(report ReportFunc) *Engine {
	return &Engine{report: report}
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err returns the terminal error of the last run.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Execute dispatches every command of prog to dev in order and returns the first
// failure. ctx is checked between commands and interrupts Wait.
func (e *Engine) Execute(ctx context.Context, prog program.Program, dev device.Device) error {
	e.mu.Lock()
	if e.state == Running {
		e.mu.Unlock()
		return ErrBusy
	}
	e.state = Running
	e.err = nil
	e.mu.Unlock()

	start := time.Now()
	err := e.run(ctx, prog, dev)

	metrics.Runs.WithLabelValues("program", Outcome(err)).Inc()
	metrics.RunDuration.WithLabelValues("program").Observe(time.Since(start).Seconds())

	e.mu.Lock()
	e.state = Done
	e.err = err
	e.mu.Unlock()
	return err
}

func (e *Engine) run(ctx context.Context, prog program.Program, dev device.Device) error {
	if dev == nil || !dev.IsConnected() {
		return device.ErrUnavailable
	}

	total := len(prog.Commands)
	log.Printf("[Engine] Running program of %d commands (speed %d, brightness %d, wait %.3fs)",
		total, prog.Parameters.MotorSpeed, prog.Parameters.LEDBrightness, prog.Parameters.WaitSeconds)

	for i, cmd := range prog.Commands {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run stopped after %d of %d commands: %w", i, total, err)
		}

		step, err := dispatch(ctx, cmd, prog.Parameters, dev)
		if err != nil {
			return fmt.Errorf("command %d (%s): %w", i+1, cmd, err)
		}
		step.Index = i

		metrics.CommandsExecuted.WithLabelValues(cmd.String()).Inc()
		log.Debugf("[Engine] %d/%d %s", i+1, total, step)
		if e.report != nil {
			e.report(step)
		}
	}

	log.Printf("[Engine] Program finished.")
	return nil
}

// dispatch issues exactly one device action for cmd.
func dispatch(ctx context.Context, cmd program.Command, p program.Parameters, dev device.Device) (Step, error) {
	step := Step{Command: cmd}

	var err error
	switch cmd {
	case program.None:
	case program.MoveForward:
		err = dev.SetMotors(p.MotorSpeed, p.MotorSpeed)
	case program.MoveBackward:
		err = dev.SetMotors(-p.MotorSpeed, -p.MotorSpeed)
	case program.StopMotors:
		err = dev.SetMotors(0, 0)
	case program.Wait:
		err = dev.Sleep(ctx, p.WaitMillis())
	case program.TurnRight:
		err = dev.SetMotors(device.TurnFast, device.TurnSlow)
	case program.TurnLeft:
		err = dev.SetMotors(-device.TurnSlow, device.TurnFast)
	case program.LedOn:
		err = dev.SetLED(p.LEDBrightness, p.LEDBrightness, p.LEDBrightness)
	case program.LedOff:
		err = dev.SetLED(0, 0, 0)
	case program.NoteOn:
		err = dev.NoteOn(device.NoteC5)
	case program.NoteOff:
		err = dev.NoteOff()
	case program.GetTemperature:
		var c float64
		c, err = dev.Temperature()
		if err == nil {
			step.Celsius = &c
			metrics.Temperature.Set(c)
		}
	case program.Done:
		err = ErrUnexpectedDone
	default:
		err = fmt.Errorf("unknown command %d", int(cmd))
	}
	return step, err
}

// Outcome classifies a run error for metrics and status reporting.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, device.ErrUnavailable):
		return "unavailable"
	}
	return "failed"
}
