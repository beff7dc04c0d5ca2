package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	QueueDepth          *prometheus.GaugeVec
	TasksTotal          *prometheus.CounterVec
	TaskDuration        prometheus.Histogram
	ApprovalsTotal      *prometheus.CounterVec
	ApprovalLatency     prometheus.Histogram
	SchedulerFires      prometheus.Counter
	WSMessages          *prometheus.CounterVec
	PersistenceFailures *prometheus.CounterVec

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		stages: newStageWindow(256),
		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Tasks waiting per project, the in-flight task excluded.",
		}, []string{"project"}),
		TasksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Finished tasks by outcome.",
		}, []string{"outcome"}),
		TaskDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Wall time per task from dequeue to terminal outcome.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		ApprovalsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approvals_total",
			Help:      "Approval prompts by decision.",
		}, []string{"decision"}),
		ApprovalLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "approval_latency_seconds",
			Help:      "Time between an approval prompt and its resolution.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}),
		SchedulerFires: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduler_fires_total",
			Help:      "Scheduled tasks handed to the queue.",
		}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		PersistenceFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Failed persistence writes by store; in-memory state stays authoritative.",
		}, []string{"store"}),
	}
}

func (m *Metrics) ObserveTaskDuration(d time.Duration) {
	m.TaskDuration.Observe(d.Seconds())
	m.ObserveStage("task_total", d)
}

func (m *Metrics) ObserveApprovalLatency(d time.Duration) {
	m.ApprovalLatency.Observe(d.Seconds())
	m.ObserveStage("approval_wait", d)
}

// ObserveStage records one latency sample in the rolling stats window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stages.Observe(stage, float64(d.Milliseconds()))
}

func (m *Metrics) ObserveIndicator(name string) {
	if m == nil {
		return
	}
	m.stages.ObserveIndicator(name)
}

func (m *Metrics) SnapshotStages() StageSnapshot {
	return m.stages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
