package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"finch-controller/internal/core"
	"finch-controller/internal/engine"
)

type publication struct {
	subtopic string
	payload  string
	retained bool
}

// requestFor turns a message on a command topic into an agent request.
func requestFor(subtopic string, payload []byte) (core.Request, error) {
	text := strings.TrimSpace(string(payload))

	switch subtopic {
	case TopicProgramAppend:
		if text == "" {
			return core.Request{}, errors.New("empty command token")
		}
		return core.Request{Type: core.ReqAppendCommand, Payload: map[string]interface{}{"token": text}}, nil
	case TopicProgramParams:
		return parametersRequest(text)
	case TopicProgramClear:
		return core.Request{Type: core.ReqClearProgram}, nil
	case TopicProgramRun:
		return core.Request{Type: core.ReqRunProgram}, nil
	case TopicProgramStop:
		return core.Request{Type: core.ReqStopRun}, nil
	case TopicRoutineRun:
		if text == "" {
			return core.Request{}, errors.New("empty routine name")
		}
		return core.Request{Type: core.ReqRunRoutine, Payload: map[string]interface{}{"name": text}}, nil
	}
	return core.Request{}, fmt.Errorf("unknown topic %s", subtopic)
}

// parametersRequest accepts either {"speed":..,"brightness":..,"wait":..} or
// "speed,brightness,wait". Values stay raw; the builder parses them.
func parametersRequest(text string) (core.Request, error) {
	payload := map[string]interface{}{}
	if strings.HasPrefix(text, "{") {
		if err := json.Unmarshal([]byte(text), &payload); err != nil {
			return core.Request{}, fmt.Errorf("invalid parameters: %w", err)
		}
	} else {
		parts := strings.Split(text, ",")
		if len(parts) != 3 {
			return core.Request{}, fmt.Errorf("expected speed,brightness,wait, got %q", text)
		}
		for i, key := range []string{"speed", "brightness", "wait"} {
			payload[key] = strings.TrimSpace(parts[i])
		}
	}
	return core.Request{Type: core.ReqSetParameters, Payload: payload}, nil
}

// publicationFor maps a bus event to the topic it is published on.
func publicationFor(ev core.Event) (publication, bool) {
	switch ev.Type {
	case core.RunStateChangedEvent:
		status, ok := ev.Payload.(core.RunStatus)
		if !ok {
			return publication{}, false
		}
		data, _ := json.Marshal(status)
		return publication{TopicRunState, string(data), true}, true
	case core.CommandExecutedEvent:
		step, ok := ev.Payload.(engine.Step)
		if !ok {
			return publication{}, false
		}
		return publication{TopicCommandExecuted, step.String(), false}, true
	case core.TemperatureReadEvent:
		c, ok := ev.Payload.(float64)
		if !ok {
			return publication{}, false
		}
		return publication{TopicTemperature, fmt.Sprintf("%.2f", c), true}, true
	case core.DeviceConnectedEvent:
		status, ok := ev.Payload.(core.ConnectionStatus)
		if !ok {
			return publication{}, false
		}
		state := "disconnected"
		if status.Connected {
			state = "connected"
		}
		return publication{TopicConnection, state, true}, true
	case core.TelemetrySnapshotEvent:
		snap, ok := ev.Payload.(core.Snapshot)
		if !ok {
			return publication{}, false
		}
		data, _ := json.Marshal(snap)
		return publication{TopicTelemetry, string(data), true}, true
	}
	return publication{}, false
}
