package core

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 网关 Prometheus 指标
// 所有方法对 nil 接收者安全，测试中可以不注入
type Metrics struct {
	registry *prometheus.Registry

	upstreamRequests *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	rotations        *prometheus.CounterVec
	fallbacks        *prometheus.CounterVec
	relayFrames      *prometheus.CounterVec
	functionCalls    *prometheus.CounterVec
	routeDecisions   *prometheus.CounterVec
}

// NewMetrics 创建并注册指标，registry 为 nil 时使用独立的 Registry
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fronix",
			Subsystem: "gateway",
			Name:      "upstream_requests_total",
			Help:      "Upstream HTTP attempts by provider and status code",
		}, []string{"provider", "status"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fronix",
			Subsystem: "gateway",
			Name:      "upstream_latency_seconds",
			Help:      "Time to upstream response headers",
			// LLM 首字节延迟 100ms - 30s
			Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
		}, []string{"provider"}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fronix",
			Subsystem: "gateway",
			Name:      "credential_rotations_total",
			Help:      "Credential rotations after rate limiting",
		}, []string{"provider"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fronix",
			Subsystem: "gateway",
			Name:      "fallback_attempts_total",
			Help:      "Fallback candidate attempts by outcome",
		}, []string{"candidate", "outcome"}),
		relayFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fronix",
			Subsystem: "gateway",
			Name:      "relay_frames_total",
			Help:      "SSE lines handled by the stream relay",
		}, []string{"kind"}),
		functionCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fronix",
			Subsystem: "gateway",
			Name:      "function_calls_total",
			Help:      "Function calls executed during streaming",
		}, []string{"function", "outcome"}),
		routeDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fronix",
			Subsystem: "gateway",
			Name:      "route_decisions_total",
			Help:      "Routing decisions by tier and provider",
		}, []string{"tier", "provider"}),
	}

	registry.MustRegister(
		m.upstreamRequests,
		m.upstreamLatency,
		m.rotations,
		m.fallbacks,
		m.relayFrames,
		m.functionCalls,
		m.routeDecisions,
	)
	return m
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// Registry 返回底层 Registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveUpstream 记录一次上游调用，status 为 0 表示传输错误
func (m *Metrics) ObserveUpstream(provider string, status int, latency time.Duration) {
	if m == nil {
		return
	}
	label := "transport_error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.upstreamRequests.WithLabelValues(provider, label).Inc()
	m.upstreamLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

func (m *Metrics) IncRotation(provider string) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(provider).Inc()
}

func (m *Metrics) IncFallback(candidate, outcome string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(candidate, outcome).Inc()
}

func (m *Metrics) IncFrame(kind string) {
	if m == nil {
		return
	}
	m.relayFrames.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncFunctionCall(name, outcome string) {
	if m == nil {
		return
	}
	m.functionCalls.WithLabelValues(name, outcome).Inc()
}

func (m *Metrics) IncRoute(tier, provider string) {
	if m == nil {
		return
	}
	m.routeDecisions.WithLabelValues(tier, provider).Inc()
}
