package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Container metrics
	ContainersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "iotcore_containers_total",
			Help: "Total number of allocated containers",
		},
	)

	ComponentsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "iotcore_components_active",
			Help: "Number of components currently held, by container",
		},
		[]string{"container"},
	)

	ContainerInitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "iotcore_container_init_duration_seconds",
			Help:    "Time taken to initialize a container's declared components",
			Buckets: prometheus.DefBuckets,
		},
	)

	ComponentCreateErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "iotcore_component_create_errors_total",
			Help: "Total number of component creation failures, by container",
		},
		[]string{"container"},
	)

	// Scheduler metrics
	SchedulesActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "iotcore_schedules_active",
			Help: "Number of schedules currently queued or idle",
		},
		[]string{"state"},
	)

	SchedulesFired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "iotcore_schedules_fired_total",
			Help: "Total number of schedule firings successfully dispatched",
		},
	)

	SchedulesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "iotcore_schedules_dropped_total",
			Help: "Total number of schedule firings refused by their thread pool",
		},
	)

	ScheduleJitter = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "iotcore_schedule_jitter_seconds",
			Help:    "Delay between a schedule's intended and actual firing time",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(ContainersTotal)
	prometheus.MustRegister(ComponentsActive)
	prometheus.MustRegister(ContainerInitDuration)
	prometheus.MustRegister(ComponentCreateErrors)
	prometheus.MustRegister(SchedulesActive)
	prometheus.MustRegister(SchedulesFired)
	prometheus.MustRegister(SchedulesDropped)
	prometheus.MustRegister(ScheduleJitter)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
