package core

import "sync"

// Snapshot is a point-in-time copy of the robot and run status.
type Snapshot struct {
	Connected   bool    `json:"connected"`
	MotorLeft   int     `json:"motorLeft"`
	MotorRight  int     `json:"motorRight"`
	LEDLevel    int     `json:"ledLevel"`
	NoteHz      int     `json:"noteHz"`
	Temperature float64 `json:"temperature"`
	HasReading  bool    `json:"hasReading"`
	RunName     string  `json:"runName"`
	RunState    string  `json:"runState"`
	LastError   string  `json:"lastError,omitempty"`
}

// State holds the last known robot and run status, for surfaces that join late.
type State struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewState creates a new State instance.
func NewState() *State {
	return &State{snap: Snapshot{RunState: "idle"}}
}

// Clone returns a snapshot of the current state for safe reading.
func (s *State) Clone() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// SetConnection updates connection state.
func (s *State) SetConnection(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Connected = connected
}

// SetMotors records the last wheel speeds.
func (s *State) SetMotors(left, right int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.MotorLeft = left
	s.snap.MotorRight = right
}

// SetLED records the last LED level.
func (s *State) SetLED(level int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.LEDLevel = level
}

// SetNote records the sounding frequency, 0 when silent.
func (s *State) SetNote(hz int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.NoteHz = hz
}

// SetTemperature records a reading.
func (s *State) SetTemperature(celsius float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Temperature = celsius
	s.snap.HasReading = true
}

// SetRun updates the run status. An empty name means nothing is running.
func (s *State) SetRun(name, state, lastError string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.RunName = name
	s.snap.RunState = state
	s.snap.LastError = lastError
}
