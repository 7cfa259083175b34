package server

import "finch-controller/internal/core"

// Message represents an outgoing JSON message sent to WebSocket clients.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// NewMessage creates a new structured Message for broadcasting to clients.
func NewMessage(msgType string, payload interface{}) Message {
	return Message{Type: msgType, Payload: payload}
}

// Message types sent to clients.
const (
	MsgDeviceState     = "device_state"
	MsgProgram         = "program"
	MsgRunState        = "run_state"
	MsgCommandExecuted = "command_executed"
	MsgTemperature     = "temperature"
	MsgConnection      = "connection"
	MsgRoutineList     = "routine_list"
	MsgRoutineCode     = "routine_code"
	MsgError           = "error"
)

var eventMessages = map[core.EventType]string{
	core.ProgramChangedEvent:    MsgProgram,
	core.RunStateChangedEvent:   MsgRunState,
	core.CommandExecutedEvent:   MsgCommandExecuted,
	core.TemperatureReadEvent:   MsgTemperature,
	core.DeviceConnectedEvent:   MsgConnection,
	core.RoutineListEvent:       MsgRoutineList,
	core.RoutineCodeEvent:       MsgRoutineCode,
	core.RequestFailedEvent:     MsgError,
	core.TelemetrySnapshotEvent: MsgDeviceState,
}

// messageFor translates a bus event into the message clients receive.
func messageFor(ev core.Event) (Message, bool) {
	t, ok := eventMessages[ev.Type]
	if !ok {
		return Message{}, false
	}
	return NewMessage(t, ev.Payload), true
}
