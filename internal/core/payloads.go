package core

// Event payloads. ProgramChanged carries a program.Program, CommandExecuted an
// engine.Step, TemperatureRead a float64, RoutineList a []string and
// TelemetrySnapshot a Snapshot.

// RunStatus is the RunStateChanged payload.
type RunStatus struct {
	Name    string `json:"name"`
	State   string `json:"state"`
	Outcome string `json:"outcome,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ConnectionStatus is the DeviceConnected payload.
type ConnectionStatus struct {
	Connected bool `json:"connected"`
}

// RoutineSource is the RoutineCode payload.
type RoutineSource struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// Failure is the RequestFailed payload.
type Failure struct {
	Request RequestType `json:"request"`
	Error   string      `json:"error"`
}
