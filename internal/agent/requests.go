package agent

import (
	"context"
	"errors"
	"fmt"

	"finch-controller/internal/core"
	"finch-controller/internal/device"
	"finch-controller/internal/engine"
	"finch-controller/internal/program"

	log "github.com/sirupsen/logrus"
)

func (a *Agent) handleRequest(req core.Request) {
	log.Debugf("[Agent] Handling request: %s with payload: %v", req.Type, req.Payload)

	switch req.Type {
	case core.ReqSetParameters:
		a.builderMu.Lock()
		err := a.builder.SetParameters(req.Raw("speed"), req.Raw("brightness"), req.Raw("wait"))
		a.builderMu.Unlock()
		if err != nil {
			// invalid fields are already zeroed; report and keep going
			a.fail(req.Type, err)
		}
		a.publishProgram()

	case core.ReqAppendCommand:
		token, _ := req.Text("token")
		a.builderMu.Lock()
		done, err := a.builder.Append(token)
		a.builderMu.Unlock()
		switch {
		case err != nil:
			a.fail(req.Type, err)
		case done:
			log.Debug("[Agent] DONE received, program left unchanged.")
		default:
			a.publishProgram()
		}

	case core.ReqClearProgram:
		a.builderMu.Lock()
		a.builder.Reset()
		a.builderMu.Unlock()
		a.publishProgram()

	case core.ReqRunProgram:
		a.runProgram()

	case core.ReqRunRoutine:
		name, _ := req.Text("name")
		a.runRoutine(name)

	case core.ReqStopRun:
		a.runner.Stop()

	case core.ReqConnect:
		a.connect()

	case core.ReqDisconnect:
		a.runner.Stop()
		if err := a.device.Disconnect(); err != nil {
			a.fail(req.Type, err)
		}
		a.setConnected(false)

	case core.ReqGetRoutineCode:
		name, _ := req.Text("name")
		code, err := a.routines.Store().Code(name)
		if err != nil {
			a.fail(req.Type, err)
			return
		}
		a.eventBus.Publish(core.Event{Type: core.RoutineCodeEvent, Payload: core.RoutineSource{Name: name, Code: code}})

	case core.ReqSaveRoutineCode:
		name, _ := req.Text("name")
		code, _ := req.Text("code")
		if err := a.routines.Store().Save(name, code); err != nil {
			a.fail(req.Type, err)
			return
		}
		a.publishRoutines()

	case core.ReqDeleteRoutine:
		name, _ := req.Text("name")
		if err := a.routines.Store().Delete(name); err != nil {
			a.fail(req.Type, err)
			return
		}
		a.publishRoutines()

	default:
		a.fail(req.Type, fmt.Errorf("unknown request type '%s'", req.Type))
	}
}

func (a *Agent) publishProgram() {
	a.eventBus.Publish(core.Event{Type: core.ProgramChangedEvent, Payload: a.Program()})
}

func (a *Agent) publishRoutines() {
	names, err := a.routines.Store().List()
	if err != nil {
		log.Errorf("[Agent] Could not list routines: %v", err)
		return
	}
	a.eventBus.Publish(core.Event{Type: core.RoutineListEvent, Payload: names})
}

// runProgram snapshots the builder and executes it on the run worker.
func (a *Agent) runProgram() {
	prog := a.Program()
	eng := engine.New(func(step engine.Step) { a.onStep(step, prog.Parameters) })
	a.submit(core.ReqRunProgram, "program", func(ctx context.Context) error {
		return eng.Execute(ctx, prog, a.device)
	})
}

func (a *Agent) runRoutine(name string) {
	if name == "" {
		a.fail(core.ReqRunRoutine, errors.New("routine name is required"))
		return
	}
	a.submit(core.ReqRunRoutine, name, func(ctx context.Context) error {
		return a.routines.Run(ctx, name, a.device)
	})
}

// submit claims the runner for job, failing with engine.ErrBusy while another run
// holds it. A missing robot fails the request before anything is queued.
func (a *Agent) submit(req core.RequestType, name string, job engine.Job) {
	if !a.device.IsConnected() {
		a.setConnected(false)
		a.fail(req, device.ErrUnavailable)
		return
	}

	run := func(ctx context.Context) error {
		a.state.SetRun(name, engine.Running.String(), "")
		a.eventBus.Publish(core.Event{
			Type:    core.RunStateChangedEvent,
			Payload: core.RunStatus{Name: name, State: engine.Running.String()},
		})
		return job(ctx)
	}
	if err := a.runner.TrySubmit(name, run); err != nil {
		a.fail(req, err)
	}
}

// onStep mirrors a dispatched command into the shared state and the bus.
func (a *Agent) onStep(step engine.Step, p program.Parameters) {
	switch step.Command {
	case program.MoveForward:
		a.state.SetMotors(p.MotorSpeed, p.MotorSpeed)
	case program.MoveBackward:
		a.state.SetMotors(-p.MotorSpeed, -p.MotorSpeed)
	case program.StopMotors:
		a.state.SetMotors(0, 0)
	case program.TurnRight:
		a.state.SetMotors(device.TurnFast, device.TurnSlow)
	case program.TurnLeft:
		a.state.SetMotors(-device.TurnSlow, device.TurnFast)
	case program.LedOn:
		a.state.SetLED(p.LEDBrightness)
	case program.LedOff:
		a.state.SetLED(0)
	case program.NoteOn:
		a.state.SetNote(device.NoteC5)
	case program.NoteOff:
		a.state.SetNote(0)
	case program.GetTemperature:
		if step.Celsius != nil {
			a.state.SetTemperature(*step.Celsius)
			a.eventBus.Publish(core.Event{Type: core.TemperatureReadEvent, Payload: *step.Celsius})
		}
	}
	a.eventBus.Publish(core.Event{Type: core.CommandExecutedEvent, Payload: step})
}
