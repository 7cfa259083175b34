// Package program holds the authoring model: the command vocabulary, the shared
// parameter set and the builder that accumulates an ordered program.
package program

import (
	"errors"
	"fmt"
	"strings"
)

// Command is one atomic instruction from the closed vocabulary.
type Command int

const (
	None Command = iota
	MoveForward
	MoveBackward
	StopMotors
	Wait
	TurnRight
	TurnLeft
	LedOn
	LedOff
	NoteOn
	NoteOff
	GetTemperature
	Done
)

// tokens maps every command to the exact token a user types for it.
var tokens = [...]string{
	None:           "NONE",
	MoveForward:    "MOVEFORWARD",
	MoveBackward:   "MOVEBACKWARD",
	StopMotors:     "STOPMOTORS",
	Wait:           "WAIT",
	TurnRight:      "TURNRIGHT",
	TurnLeft:       "TURNLEFT",
	LedOn:          "LEDON",
	LedOff:         "LEDOFF",
	NoteOn:         "NOTEON",
	NoteOff:        "NOTEOFF",
	GetTemperature: "GETTEMPERATURE",
	Done:           "DONE",
}

// ErrInvalidCommand is wrapped by every token parse failure.
var ErrInvalidCommand = errors.New("invalid command")

// InvalidCommandError reports a token that is not part of the vocabulary.
type InvalidCommandError struct {
	Token string
}

func (e *InvalidCommandError) Error() string {
	return fmt.Sprintf("%v: %q", ErrInvalidCommand, e.Token)
}

func (e *InvalidCommandError) Unwrap() error { return ErrInvalidCommand }

// String returns the authored token for c.
func (c Command) String() string {
	if c < None || c > Done {
		return fmt.Sprintf("Command(%d)", int(c))
	}
	return tokens[c]
}

// Valid reports whether c belongs to the vocabulary.
func (c Command) Valid() bool {
	return c >= None && c <= Done
}

// Commands returns the full vocabulary in declaration order, sentinels included.
func Commands() []Command {
	all := make([]Command, 0, len(tokens))
	for c := None; c <= Done; c++ {
		all = append(all, c)
	}
	return all
}

// ParseCommand matches token against the vocabulary. Matching is case-sensitive;
// only surrounding whitespace is ignored.
func ParseCommand(token string) (Command, error) {
	t := strings.TrimSpace(token)
	for c, name := range tokens {
		if name == t {
			return Command(c), nil
		}
	}
	return None, &InvalidCommandError{Token: token}
}

// MarshalText encodes c as its token.
func (c Command) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("cannot marshal %s", c)
	}
	return []byte(tokens[c]), nil
}

// UnmarshalText decodes a token.
func (c *Command) UnmarshalText(text []byte) error {
	v, err := ParseCommand(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}
