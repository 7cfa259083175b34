package core

import "fmt"

// RequestType names an operation asked of the agent.
type RequestType string

const (
	ReqSetParameters   RequestType = "setParameters"
	ReqAppendCommand   RequestType = "appendCommand"
	ReqClearProgram    RequestType = "clearProgram"
	ReqRunProgram      RequestType = "runProgram"
	ReqStopRun         RequestType = "stopRun"
	ReqRunRoutine      RequestType = "runRoutine"
	ReqConnect         RequestType = "connect"
	ReqDisconnect      RequestType = "disconnect"
	ReqGetRoutineCode  RequestType = "getRoutineCode"
	ReqSaveRoutineCode RequestType = "saveRoutineCode"
	ReqDeleteRoutine   RequestType = "deleteRoutine"
)

// Request is the envelope every surface (WebSocket, MQTT) sends to the agent.
type Request struct {
	Type    RequestType            `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

// RequestChannel is the single channel the agent consumes requests from.
type RequestChannel chan Request

// Text reads a string field from the payload.
func (r Request) Text(key string) (string, bool) {
	v, ok := r.Payload[key].(string)
	return v, ok
}

// Number reads a numeric field. JSON numbers decode as float64.
func (r Request) Number(key string) (float64, bool) {
	switch v := r.Payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Raw returns a payload field formatted as text, or "" when absent.
func (r Request) Raw(key string) string {
	v, ok := r.Payload[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
