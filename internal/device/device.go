// Package device defines the capability contract of a Finch robot.
package device

import (
	"context"
	"errors"
)

// Fixed actuation values used by turns and notes.
const (
	MaxLevel = 255
	TurnFast = 255
	TurnSlow = 128
	NoteC5   = 523
)

// ErrUnavailable is returned when a device is used without an open connection.
var ErrUnavailable = errors.New("device unavailable")

// Actuator drives the motors, LED and buzzer.
type Actuator interface {
	SetMotors(left, right int) error
	SetLED(r, g, b int) error
	NoteOn(frequencyHz int) error
	NoteOff() error
}

// Sensors reads the on-board sensors.
type Sensors interface {
	Temperature() (float64, error)
	LeftLightSensor() (int, error)
	RightLightSensor() (int, error)
}

// Device is the full capability set consumed by the execution engine.
type Device interface {
	Actuator
	Sensors

	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	// Sleep blocks for ms milliseconds or until ctx is done.
	Sleep(ctx context.Context, ms int) error
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
