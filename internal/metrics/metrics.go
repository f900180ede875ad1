package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	classifications *prometheus.CounterVec
	tasksTotal      *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	deadLettered    *prometheus.CounterVec
	notifications   *prometheus.CounterVec
}

var singleton = sync.OnceValue(func() *Metrics {
	return &Metrics{
		classifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "support",
			Name:      "classifications_total",
			Help:      "Classifications by method and outcome (ok/degraded).",
		}, []string{"method", "outcome"}),
		tasksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "support",
			Name:      "tasks_total",
			Help:      "Task handler invocations by task and result.",
		}, []string{"task", "result"}),
		taskDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "support",
			Name:      "task_duration_seconds",
			Help:      "Task handler latency.",
			Buckets: []float64{
				0.01, 0.05, 0.1, 0.5,
				1, 2, 5, 10, 30, 60, 120,
			},
		}, []string{"task", "result"}),
		retries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "support",
			Name:      "task_retries_total",
			Help:      "Deliveries scheduled for another attempt.",
		}, []string{"queue"}),
		deadLettered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "support",
			Name:      "task_dead_lettered_total",
			Help:      "Deliveries moved to the dead-letter queue.",
		}, []string{"queue", "reason"}),
		notifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "support",
			Name:      "notifications_total",
			Help:      "Notification dispatch outcomes.",
		}, []string{"outcome"}),
	}
})

// Get returns the process-wide collectors, registering them on first use.
func Get() *Metrics {
	return singleton()
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) Classification(method string, degraded bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if degraded {
		outcome = "degraded"
	}
	m.classifications.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) Task(task, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.tasksTotal.WithLabelValues(task, result).Inc()
	m.taskDuration.WithLabelValues(task, result).Observe(d.Seconds())
}

func (m *Metrics) Retry(queue string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(queue).Inc()
}

func (m *Metrics) DeadLetter(queue, reason string) {
	if m == nil {
		return
	}
	m.deadLettered.WithLabelValues(queue, reason).Inc()
}

func (m *Metrics) Notification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
}
