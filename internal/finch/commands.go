package finch

import (
	"math"

	"finch-controller/internal/device"
)

// Every frame is a 9-byte report: a zero report id, an ASCII opcode and up to seven
// argument bytes.
const frameSize = 9

const (
	opLED         = 'O'
	opMotors      = 'M'
	opBuzzer      = 'B'
	opTemperature = 'T'
	opLight       = 'L'
	opReset       = 'R'
	opIdle        = 'X'
)

// noteHoldMs is the longest buzzer duration the firmware accepts; NoteOn holds the
// tone until NoteOff silences it.
const noteHoldMs = math.MaxUint16

func frame(op byte, args ...byte) []byte {
	f := make([]byte, frameSize)
	f[1] = op
	copy(f[2:], args)
	return f
}

// ledFrame builds the LED color command.
func ledFrame(r, g, b int) []byte {
	return frame(opLED,
		byte(device.Clamp(r, 0, device.MaxLevel)),
		byte(device.Clamp(g, 0, device.MaxLevel)),
		byte(device.Clamp(b, 0, device.MaxLevel)),
	)
}

// motorFrame builds the wheel command. Each wheel is a direction byte (0 forward,
// 1 reverse) followed by its magnitude.
func motorFrame(left, right int) []byte {
	dl, sl := wheel(left)
	dr, sr := wheel(right)
	return frame(opMotors, dl, sl, dr, sr)
}

func wheel(v int) (dir, speed byte) {
	v = device.Clamp(v, -device.MaxLevel, device.MaxLevel)
	if v < 0 {
		return 1, byte(-v)
	}
	return 0, byte(v)
}

// buzzerFrame builds the buzzer command; a zero frequency silences it.
func buzzerFrame(durationMs, hz int) []byte {
	d := uint16(device.Clamp(durationMs, 0, math.MaxUint16))
	f := uint16(device.Clamp(hz, 0, math.MaxUint16))
	return frame(opBuzzer, byte(d>>8), byte(d), byte(f>>8), byte(f))
}

func temperatureFrame() []byte { return frame(opTemperature) }
func lightFrame() []byte       { return frame(opLight) }
func resetFrame() []byte       { return frame(opReset) }
func idleFrame() []byte        { return frame(opIdle) }

// celsius converts the raw temperature byte reported by the firmware.
func celsius(raw byte) float64 {
	return (float64(raw)-127)/2.4 + 25
}
