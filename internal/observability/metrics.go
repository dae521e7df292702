package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	laneDuration *prometheus.HistogramVec

	activeSessions prometheus.Gauge

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	agentTurnTotal    *prometheus.CounterVec
	agentTurnDuration *prometheus.HistogramVec

	taskTransitions *prometheus.CounterVec
	tasksByStatus   *prometheus.GaugeVec

	cycleIterations prometheus.Counter
	cycleTotal      *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "factory_lane_queue_size",
					Help: "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "factory_lane_enqueue_total",
					Help: "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "factory_lane_dequeue_total",
					Help: "Total lane completions by lane and status.",
				},
				[]string{"lane", "status"},
			),
			laneDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "factory_lane_task_duration_seconds",
					Help:    "Lane task duration in seconds by lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "factory_active_sessions",
					Help: "Current open agent sessions.",
				},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "factory_tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "factory_tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			agentTurnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "factory_agent_turn_total",
					Help: "Total agent turns by agent, provider and status.",
				},
				[]string{"agent", "provider", "status"},
			),
			agentTurnDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "factory_agent_turn_duration_seconds",
					Help:    "Agent turn duration in seconds by agent.",
					Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
				},
				[]string{"agent"},
			),
			taskTransitions: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "factory_task_transitions_total",
					Help: "Task state changes by task type and target status.",
				},
				[]string{"type", "status"},
			),
			tasksByStatus: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "factory_tasks",
					Help: "Current task count by status.",
				},
				[]string{"status"},
			),
			cycleIterations: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "factory_cycle_iterations_total",
					Help: "Total worker execution rounds across development cycles.",
				},
			),
			cycleTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "factory_cycle_total",
					Help: "Total development cycles by outcome.",
				},
				[]string{"outcome"},
			),
			cycleDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "factory_cycle_duration_seconds",
					Help:    "Development cycle duration in seconds.",
					Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
				},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.laneDuration,
			m.activeSessions,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.agentTurnTotal,
			m.agentTurnDuration,
			m.taskTransitions,
			m.tasksByStatus,
			m.cycleIterations,
			m.cycleTotal,
			m.cycleDuration,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	m.dequeueTotal.WithLabelValues(lane, statusLabel(success)).Inc()
	m.laneDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, statusLabel(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordAgentTurn(agent, provider string, duration time.Duration, success bool) {
	m := getMetrics()
	m.agentTurnTotal.WithLabelValues(agent, provider, statusLabel(success)).Inc()
	m.agentTurnDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

func RecordTaskTransition(taskType, status string) {
	getMetrics().taskTransitions.WithLabelValues(taskType, status).Inc()
}

// SetTaskCounts publishes the current task counts of the active store
func SetTaskCounts(pending, inProgress, completed, failed int) {
	m := getMetrics()
	m.tasksByStatus.WithLabelValues("pending").Set(float64(pending))
	m.tasksByStatus.WithLabelValues("in-progress").Set(float64(inProgress))
	m.tasksByStatus.WithLabelValues("completed").Set(float64(completed))
	m.tasksByStatus.WithLabelValues("failed").Set(float64(failed))
}

func RecordCycleIteration() {
	getMetrics().cycleIterations.Inc()
}

func RecordCycle(duration time.Duration, success bool) {
	m := getMetrics()
	m.cycleTotal.WithLabelValues(statusLabel(success)).Inc()
	m.cycleDuration.Observe(duration.Seconds())
}
