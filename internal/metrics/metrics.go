package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CommandsExecuted counts dispatched commands by token.
	CommandsExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finch_commands_executed_total",
			Help: "Commands dispatched to the device",
		},
		[]string{"command"},
	)

	// Runs counts finished runs by outcome (completed, failed, canceled, unavailable).
	Runs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finch_runs_total",
			Help: "Program and routine runs by outcome",
		},
		[]string{"kind", "outcome"},
	)

	RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finch_run_duration_seconds",
			Help:    "Wall time of a run",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	DeviceConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "finch_device_connected",
		Help: "1 when the robot connection is open",
	})

	Temperature = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "finch_temperature_celsius",
		Help: "Last temperature read from the robot",
	})
)

var registerOnce sync.Once

// Register adds the collectors to the default registry. Safe to call repeatedly.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			CommandsExecuted,
			Runs,
			RunDuration,
			DeviceConnected,
			Temperature,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	Register()
	return promhttp.Handler()
}
