package program

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Allowed authoring ranges.
const (
	MinLevel = 1
	MaxLevel = 255
)

// ErrParameterParse is wrapped by every rejected parameter field.
var ErrParameterParse = errors.New("invalid parameter")

// ParameterError describes one field that fell back to zero.
type ParameterError struct {
	Field string
	Input string
	Err   error
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("%v %s %q: %v", ErrParameterParse, e.Field, e.Input, e.Err)
}

func (e *ParameterError) Unwrap() []error { return []error{ErrParameterParse, e.Err} }

// Parameters is the single set shared by every parameterized command of a run.
// The zero value is the default.
type Parameters struct {
	MotorSpeed    int     `json:"motorSpeed"`
	LEDBrightness int     `json:"ledBrightness"`
	WaitSeconds   float64 `json:"waitSeconds"`
}

// WaitMillis converts WaitSeconds to whole milliseconds, truncating.
func (p Parameters) WaitMillis() int {
	return int(p.WaitSeconds * 1000)
}

// ParseParameters parses the three raw fields independently. A field that does not
// parse or is out of range becomes 0; the returned Parameters is always usable and
// the error only lists what was defaulted.
func ParseParameters(speed, brightness, wait string) (Parameters, error) {
	var p Parameters
	var errs []error

	if v, err := parseLevel(speed); err != nil {
		errs = append(errs, &ParameterError{Field: "motor speed", Input: speed, Err: err})
	} else {
		p.MotorSpeed = v
	}

	if v, err := parseLevel(brightness); err != nil {
		errs = append(errs, &ParameterError{Field: "LED brightness", Input: brightness, Err: err})
	} else {
		p.LEDBrightness = v
	}

	if v, err := parseSeconds(wait); err != nil {
		errs = append(errs, &ParameterError{Field: "wait seconds", Input: wait, Err: err})
	} else {
		p.WaitSeconds = v
	}

	return p, errors.Join(errs...)
}

func parseLevel(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if v < MinLevel || v > MaxLevel {
		return 0, fmt.Errorf("must be between %d and %d", MinLevel, MaxLevel)
	}
	return v, nil
}

func parseSeconds(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, errors.New("must be greater than zero")
	}
	return v, nil
}
