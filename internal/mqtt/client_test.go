package mqtt

import (
	"testing"

	"finch-controller/internal/config"
	"finch-controller/internal/core"
	"finch-controller/internal/engine"
	"finch-controller/internal/program"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestFor(t *testing.T) {
	req, err := requestFor(TopicProgramAppend, []byte(" MOVEFORWARD\n"))
	require.NoError(t, err)
	assert.Equal(t, core.ReqAppendCommand, req.Type)
	assert.Equal(t, "MOVEFORWARD", req.Raw("token"))

	req, err = requestFor(TopicRoutineRun, []byte("dance.lua"))
	require.NoError(t, err)
	assert.Equal(t, core.ReqRunRoutine, req.Type)
	assert.Equal(t, "dance.lua", req.Raw("name"))

	for topic, want := range map[string]core.RequestType{
		TopicProgramClear: core.ReqClearProgram,
		TopicProgramRun:   core.ReqRunProgram,
		TopicProgramStop:  core.ReqStopRun,
	} {
		req, err := requestFor(topic, nil)
		require.NoError(t, err, topic)
		assert.Equal(t, want, req.Type, topic)
	}

	_, err = requestFor(TopicProgramAppend, []byte("  "))
	assert.Error(t, err)
	_, err = requestFor("lights/set", []byte("on"))
	assert.Error(t, err)
}

func TestParametersRequest(t *testing.T) {
	req, err := requestFor(TopicProgramParams, []byte("200, 50 ,1.5"))
	require.NoError(t, err)
	assert.Equal(t, core.ReqSetParameters, req.Type)
	assert.Equal(t, "200", req.Raw("speed"))
	assert.Equal(t, "50", req.Raw("brightness"))
	assert.Equal(t, "1.5", req.Raw("wait"))

	req, err = requestFor(TopicProgramParams, []byte(`{"speed": 120, "brightness": "abc", "wait": 0.25}`))
	require.NoError(t, err)
	assert.Equal(t, "120", req.Raw("speed"))
	assert.Equal(t, "abc", req.Raw("brightness"))
	assert.Equal(t, "0.25", req.Raw("wait"))

	_, err = requestFor(TopicProgramParams, []byte("200,50"))
	assert.Error(t, err)
	_, err = requestFor(TopicProgramParams, []byte("{broken"))
	assert.Error(t, err)
}

func TestPublicationFor(t *testing.T) {
	c := 22.25
	p, ok := publicationFor(core.Event{Type: core.CommandExecutedEvent, Payload: engine.Step{Command: program.GetTemperature, Celsius: &c}})
	require.True(t, ok)
	assert.Equal(t, publication{TopicCommandExecuted, "GETTEMPERATURE 22.25°C", false}, p)

	p, ok = publicationFor(core.Event{Type: core.TemperatureReadEvent, Payload: 22.25})
	require.True(t, ok)
	assert.Equal(t, publication{TopicTemperature, "22.25", true}, p)

	p, ok = publicationFor(core.Event{Type: core.DeviceConnectedEvent, Payload: core.ConnectionStatus{Connected: false}})
	require.True(t, ok)
	assert.Equal(t, "disconnected", p.payload)

	p, ok = publicationFor(core.Event{Type: core.RunStateChangedEvent, Payload: core.RunStatus{Name: "program", State: "done", Outcome: "completed"}})
	require.True(t, ok)
	assert.Equal(t, TopicRunState, p.subtopic)
	assert.JSONEq(t, `{"name":"program","state":"done","outcome":"completed"}`, p.payload)

	p, ok = publicationFor(core.Event{Type: core.TelemetrySnapshotEvent, Payload: core.Snapshot{Connected: true, RunState: "idle"}})
	require.True(t, ok)
	assert.Contains(t, p.payload, `"connected":true`)

	_, ok = publicationFor(core.Event{Type: core.RoutineListEvent, Payload: []string{}})
	assert.False(t, ok)
	_, ok = publicationFor(core.Event{Type: core.TemperatureReadEvent, Payload: "hot"})
	assert.False(t, ok)
}

func TestNewClientDisabled(t *testing.T) {
	assert.Nil(t, NewClient(config.MQTTConfig{}, core.NewEventBus(), make(core.RequestChannel, 1)))

	c := NewClient(config.MQTTConfig{Enabled: true, Broker: "tcp://localhost:1883", TopicPrefix: "lab/finch/", ClientID: "finch"}, core.NewEventBus(), make(core.RequestChannel, 1))
	require.NotNil(t, c)
	assert.Equal(t, "lab/finch/run/state", c.topic(TopicRunState))
	c.Disconnect()
}

func TestSafeIdentifier(t *testing.T) {
	assert.Equal(t, "finch_robot-1", safeIdentifier("finch robot-1!"))
}
