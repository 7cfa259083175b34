// Package sim provides an in-memory Finch that records every capability call.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"finch-controller/internal/device"
)

// Operation names recorded by Device.
const (
	OpConnect     = "connect"
	OpDisconnect  = "disconnect"
	OpSetMotors   = "set_motors"
	OpSetLED      = "set_led"
	OpNoteOn      = "note_on"
	OpNoteOff     = "note_off"
	OpTemperature = "get_temperature"
	OpLeftLight   = "get_left_light_sensor"
	OpRightLight  = "get_right_light_sensor"
	OpSleep       = "sleep"
)

// Call is one recorded capability invocation.
type Call struct {
	Op   string
	Args []int
}

func (c Call) String() string {
	return fmt.Sprintf("%s%v", c.Op, c.Args)
}

// Options configure a simulated device.
type Options struct {
	StartConnected bool
	// RealTime makes Sleep actually block.
	RealTime    bool
	Temperature float64
	LeftLight   int
	RightLight  int
}

// Device is a simulated robot. It is safe for concurrent use.
type Device struct {
	mu        sync.Mutex
	opts      Options
	connected bool
	calls     []Call
	failures  map[string]error
}

var _ device.Device = (*Device)(nil)

// New creates a simulated device.
func New(opts Options) *Device {
	return &Device{
		opts:      opts,
		connected: opts.StartConnected,
		failures:  make(map[string]error),
	}
}

// FailOn makes every later call of op return err. A nil err clears the failure.
func (d *Device) FailOn(op string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.failures, op)
		return
	}
	d.failures[op] = err
}

// SetTemperature changes the simulated reading.
func (d *Device) SetTemperature(celsius float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts.Temperature = celsius
}

// Calls returns a copy of the recorded calls, connect and disconnect included.
func (d *Device) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Call, len(d.calls))
	copy(out, d.calls)
	return out
}

// Ops returns the operation names of the recorded calls.
func (d *Device) Ops() []string {
	calls := d.Calls()
	ops := make([]string, len(calls))
	for i, c := range calls {
		ops[i] = c.Op
	}
	return ops
}

// Reset forgets recorded calls.
func (d *Device) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

// record appends the call and returns the configured failure for op, if any.
func (d *Device) record(op string, requireConn bool, args ...int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if requireConn && !d.connected {
		return device.ErrUnavailable
	}
	d.calls = append(d.calls, Call{Op: op, Args: args})
	return d.failures[op]
}

func (d *Device) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.record(OpConnect, false); err != nil {
		return err
	}
	d.mu.Lock()
	d.connected = true
	d.mu.Unlock()
	return nil
}

func (d *Device) Disconnect() error {
	err := d.record(OpDisconnect, false)
	d.mu.Lock()
	d.connected = false
	d.mu.Unlock()
	return err
}

func (d *Device) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *Device) SetMotors(left, right int) error {
	return d.record(OpSetMotors, true,
		device.Clamp(left, -device.MaxLevel, device.MaxLevel),
		device.Clamp(right, -device.MaxLevel, device.MaxLevel))
}

func (d *Device) SetLED(r, g, b int) error {
	return d.record(OpSetLED, true,
		device.Clamp(r, 0, device.MaxLevel),
		device.Clamp(g, 0, device.MaxLevel),
		device.Clamp(b, 0, device.MaxLevel))
}

func (d *Device) NoteOn(frequencyHz int) error {
	return d.record(OpNoteOn, true, frequencyHz)
}

func (d *Device) NoteOff() error {
	return d.record(OpNoteOff, true)
}

func (d *Device) Temperature() (float64, error) {
	if err := d.record(OpTemperature, true); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opts.Temperature, nil
}

func (d *Device) LeftLightSensor() (int, error) {
	if err := d.record(OpLeftLight, true); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opts.LeftLight, nil
}

func (d *Device) RightLightSensor() (int, error) {
	if err := d.record(OpRightLight, true); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opts.RightLight, nil
}

// Sleep records the request and, in real-time mode, blocks until it elapses or ctx
// is done.
func (d *Device) Sleep(ctx context.Context, ms int) error {
	if err := d.record(OpSleep, false, ms); err != nil {
		return err
	}
	if !d.opts.RealTime || ms <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
