// Package observability exposes Prometheus metrics for the tool store,
// execution engine, orchestrator loop and providers.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type coreMetrics struct {
	storeOpsTotal *prometheus.CounterVec
	dynamicTools  prometheus.Gauge

	toolInvocationTotal    *prometheus.CounterVec
	toolInvocationDuration *prometheus.HistogramVec
	toolErrorsTotal        *prometheus.CounterVec

	turnTotal        *prometheus.CounterVec
	turnDuration     prometheus.Histogram
	turnSteps        prometheus.Histogram
	securityRejected *prometheus.CounterVec

	providerCallTotal    *prometheus.CounterVec
	providerCallDuration *prometheus.HistogramVec
	providerCooldown     *prometheus.GaugeVec
}

var (
	metricsOnce sync.Once
	metricsInst *coreMetrics
)

func getMetrics() *coreMetrics {
	metricsOnce.Do(func() {
		m := &coreMetrics{
			storeOpsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_store_ops_total",
					Help: "Total tool store operations by op and status.",
				},
				[]string{"op", "status"},
			),
			dynamicTools: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "dynamic_tools",
					Help: "Current number of registered dynamic tools.",
				},
			),
			toolInvocationTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_invocation_total",
					Help: "Total tool invocations by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolInvocationDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_invocation_duration_seconds",
					Help:    "Tool invocation duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_errors_total",
					Help: "Total tool invocation errors by tool and kind.",
				},
				[]string{"tool", "kind"},
			),
			turnTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "conversation_turn_total",
					Help: "Total conversation turns by outcome.",
				},
				[]string{"outcome"},
			),
			turnDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "conversation_turn_duration_seconds",
					Help:    "End-to-end turn duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			turnSteps: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "conversation_turn_steps",
					Help:    "Model round-trips consumed per turn.",
					Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10, 15, 20},
				},
			),
			securityRejected: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "security_rejections_total",
					Help: "Total security rejections by stage (definition or invocation).",
				},
				[]string{"stage"},
			),
			providerCallTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "provider_call_total",
					Help: "Total model provider calls by provider and status.",
				},
				[]string{"provider", "status"},
			),
			providerCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "provider_call_duration_seconds",
					Help:    "Model provider call duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			providerCooldown: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "provider_cooldown_active",
					Help: "Provider cooldown active state (1 active, 0 inactive).",
				},
				[]string{"provider"},
			),
		}

		prometheus.MustRegister(
			m.storeOpsTotal,
			m.dynamicTools,
			m.toolInvocationTotal,
			m.toolInvocationDuration,
			m.toolErrorsTotal,
			m.turnTotal,
			m.turnDuration,
			m.turnSteps,
			m.securityRejected,
			m.providerCallTotal,
			m.providerCallDuration,
			m.providerCooldown,
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

func RecordStoreOp(op string, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.storeOpsTotal.WithLabelValues(op, status).Inc()
}

func SetDynamicTools(count int) {
	m := getMetrics()
	m.dynamicTools.Set(float64(count))
}

func RecordToolInvocation(tool string, duration time.Duration, success bool, errorKind string) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolInvocationTotal.WithLabelValues(tool, status).Inc()
	m.toolInvocationDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool, errorKind).Inc()
	}
}

func RecordTurn(outcome string, duration time.Duration, steps int) {
	m := getMetrics()
	m.turnTotal.WithLabelValues(outcome).Inc()
	m.turnDuration.Observe(duration.Seconds())
	m.turnSteps.Observe(float64(steps))
}

func RecordSecurityRejection(stage string) {
	m := getMetrics()
	m.securityRejected.WithLabelValues(stage).Inc()
}

func RecordProviderCall(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.providerCallTotal.WithLabelValues(provider, status).Inc()
	m.providerCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func SetProviderCooldown(provider string, active bool) {
	m := getMetrics()
	value := 0.0
	if active {
		value = 1.0
	}
	m.providerCooldown.WithLabelValues(provider).Set(value)
}
