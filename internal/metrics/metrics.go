package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()
	once     sync.Once

	sagasSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_submitted_total",
			Help: "Total number of saga instances submitted.",
		},
		[]string{"definition"},
	)
	sagasFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_finished_total",
			Help: "Total number of saga instances reaching a terminal status.",
		},
		[]string{"definition", "status"},
	)
	stepRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_step_retries_total",
			Help: "Total number of step retry attempts.",
		},
		[]string{"definition", "step"},
	)
	compensationAlerts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "saga_compensation_alerts_total",
		Help: "Total number of compensation-failed alerts emitted.",
	})
	runningWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "saga_running_workers",
		Help: "Current number of in-flight instance workers.",
	})
)

// Init registers metrics with the registry once.
func Init() {
	once.Do(func() {
		registry.MustRegister(
			prometheus.NewGoCollector(),
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
			sagasSubmitted,
			sagasFinished,
			stepRetries,
			compensationAlerts,
			runningWorkers,
		)
	})
}

// Handler exposes the Prometheus metrics endpoint handler.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func IncSubmitted(definition string) {
	Init()
	sagasSubmitted.WithLabelValues(definition).Inc()
}

func IncFinished(definition, status string) {
	Init()
	sagasFinished.WithLabelValues(definition, status).Inc()
}

func IncStepRetry(definition, step string) {
	Init()
	stepRetries.WithLabelValues(definition, step).Inc()
}

func IncCompensationAlert() {
	Init()
	compensationAlerts.Inc()
}

func WorkerStarted() {
	Init()
	runningWorkers.Inc()
}

func WorkerFinished() {
	Init()
	runningWorkers.Dec()
}
