// Package agent wires the program builder, the robot, the run worker and the
// remote surfaces together. Requests are handled one at a time on the Run loop.
package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"finch-controller/internal/config"
	"finch-controller/internal/core"
	"finch-controller/internal/device"
	"finch-controller/internal/engine"
	"finch-controller/internal/metrics"
	"finch-controller/internal/mqtt"
	"finch-controller/internal/program"
	"finch-controller/internal/routine"
	"finch-controller/internal/scheduler"
	"finch-controller/internal/server"

	log "github.com/sirupsen/logrus"
)

const (
	jobHeartbeat = "heartbeat"
	jobTelemetry = "telemetry"
)

// statusNotifier is implemented by devices that report link drops.
type statusNotifier interface {
	OnStatusChange(fn func(connected bool))
}

type Agent struct {
	ctx    context.Context
	cancel context.CancelFunc
	config *config.Config
	wg     sync.WaitGroup

	state    *core.State
	eventBus *core.EventBus
	requests core.RequestChannel

	builderMu sync.Mutex
	builder   *program.Builder

	device     device.Device
	connecting atomic.Bool
	connMu     sync.Mutex

	runner     *engine.Runner
	routines   *routine.Engine
	scheduler  *scheduler.Scheduler
	server     *server.Server
	mqttClient *mqtt.Client
}

// NewAgent creates an agent driving dev.
func NewAgent(cfg *config.Config, dev device.Device) (*Agent, error) {
	ctx, cancel := context.WithCancel(context.Background())

	a := &Agent{
		ctx:      ctx,
		cancel:   cancel,
		config:   cfg,
		state:    core.NewState(),
		eventBus: core.NewEventBus(),
		requests: make(core.RequestChannel, 20),
		builder:  program.NewBuilder(),
		device:   dev,
		routines: routine.NewEngine(cfg.RoutinesDir),
	}
	a.runner = engine.NewRunner(a.onRunFinished)
	a.state.SetConnection(dev.IsConnected())

	if n, ok := dev.(statusNotifier); ok {
		n.OnStatusChange(a.setConnected)
	}

	a.scheduler = scheduler.New()
	if spec := cfg.Device.Heartbeat; spec != "" {
		if err := a.scheduler.Add(jobHeartbeat, spec, a.heartbeat); err != nil {
			cancel()
			return nil, err
		}
	}
	if spec := cfg.MQTT.Telemetry; spec != "" {
		if err := a.scheduler.Add(jobTelemetry, spec, a.publishTelemetry); err != nil {
			cancel()
			return nil, err
		}
	}

	if cfg.Server.Enabled {
		a.server = server.NewServer(cfg.Server, a.eventBus, a.requests, a)
	}
	a.mqttClient = mqtt.NewClient(cfg.MQTT, a.eventBus, a.requests)

	return a, nil
}

// Requests is the channel every surface sends requests on.
func (a *Agent) Requests() core.RequestChannel {
	return a.requests
}

// Events is the agent's event bus.
func (a *Agent) Events() *core.EventBus {
	return a.eventBus
}

// DeviceState returns the last known robot and run status.
func (a *Agent) DeviceState() core.Snapshot {
	return a.state.Clone()
}

// Program returns a snapshot of the program being authored.
func (a *Agent) Program() program.Program {
	a.builderMu.Lock()
	defer a.builderMu.Unlock()
	return a.builder.Program()
}

// Routines lists the available routines.
func (a *Agent) Routines() ([]string, error) {
	return a.routines.Store().List()
}

// Run starts the agent orchestration loop. It returns after Shutdown.
func (a *Agent) Run() {
	if a.mqttClient != nil {
		go func() {
			if err := a.mqttClient.Connect(); err != nil {
				log.Errorf("[Agent] MQTT Setup Error: %v", err)
			}
		}()
	}

	if a.config.Device.AutoConnect {
		a.connect()
	}

	a.scheduler.Start()

	if a.server != nil {
		log.Printf("[Agent] Running on http://localhost:%s", a.config.Server.Port)
		go func() {
			if err := a.server.ListenAndServe(); err != nil {
				log.Errorf("[Agent] Server error: %v", err)
			}
		}()
	}

	log.Println("[Agent] Orchestrator ready.")
	for {
		select {
		case <-a.ctx.Done():
			log.Println("[Agent] Orchestrator shutting down...")
			return
		case req := <-a.requests:
			a.handleRequest(req)
		}
	}
}

// connect opens the device link in the background. Concurrent calls collapse
// into one attempt.
func (a *Agent) connect() {
	if !a.connecting.CompareAndSwap(false, true) {
		log.Println("[Agent] Connection attempt already in progress.")
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.connecting.Store(false)

		if err := a.device.Connect(a.ctx); err != nil {
			log.Errorf("[Agent] Could not connect to robot: %v", err)
			a.fail(core.ReqConnect, err)
			a.setConnected(false)
			return
		}
		a.setConnected(true)
	}()
}

// setConnected records and announces a link change. Repeats are ignored.
func (a *Agent) setConnected(connected bool) {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	if a.state.Clone().Connected == connected {
		return
	}
	a.state.SetConnection(connected)
	if connected {
		metrics.DeviceConnected.Set(1)
		log.Println("[Agent] Robot connected.")
	} else {
		metrics.DeviceConnected.Set(0)
		log.Println("[Agent] Robot disconnected.")
	}
	a.eventBus.Publish(core.Event{Type: core.DeviceConnectedEvent, Payload: core.ConnectionStatus{Connected: connected}})
}

// heartbeat probes an idle robot, and reconnects a lost one when auto-connect is on.
func (a *Agent) heartbeat() {
	if !a.device.IsConnected() {
		a.setConnected(false)
		if a.config.Device.AutoConnect {
			log.Println("[Agent] Heartbeat: robot offline, reconnecting.")
			a.connect()
		}
		return
	}
	if a.runner.Running() != "" {
		return
	}
	if _, err := a.device.LeftLightSensor(); err != nil {
		log.Warnf("[Agent] Heartbeat probe failed: %v", err)
		a.setConnected(a.device.IsConnected())
	}
}

func (a *Agent) publishTelemetry() {
	a.eventBus.Publish(core.Event{Type: core.TelemetrySnapshotEvent, Payload: a.state.Clone()})
}

func (a *Agent) fail(req core.RequestType, err error) {
	log.Warnf("[Agent] %s failed: %v", req, err)
	a.eventBus.Publish(core.Event{Type: core.RequestFailedEvent, Payload: core.Failure{Request: req, Error: err.Error()}})
}

func (a *Agent) onRunFinished(name string, err error) {
	outcome := engine.Outcome(err)
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if errors.Is(err, device.ErrUnavailable) {
		a.setConnected(false)
	}
	a.state.SetRun(name, engine.Done.String(), msg)
	a.eventBus.Publish(core.Event{
		Type:    core.RunStateChangedEvent,
		Payload: core.RunStatus{Name: name, State: engine.Done.String(), Outcome: outcome, Error: msg},
	})
}

// Shutdown stops the surfaces, cancels any run and disconnects the robot.
func (a *Agent) Shutdown() {
	a.scheduler.Stop()
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.server.Shutdown(ctx)
		cancel()
	}
	if a.mqttClient != nil {
		a.mqttClient.Disconnect()
	}
	a.runner.Close()
	a.cancel()
	a.wg.Wait()
	if a.device.IsConnected() {
		if err := a.device.Disconnect(); err != nil {
			log.Warnf("[Agent] Disconnect error: %v", err)
		}
	}
}
