package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// WebSocket 指标
	WSConnections   prometheus.Gauge
	WSOperations    *prometheus.CounterVec
	WSRateLimited   prometheus.Counter
	WSDroppedFrames *prometheus.CounterVec

	// 映射重载指标
	ReloadsTotal   *prometheus.CounterVec
	ReloadDuration prometheus.Histogram
	MapWrites      *prometheus.CounterVec
	AliasRecords   prometheus.Gauge

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
	PanicsTotal prometheus.Counter

	gatherer prometheus.Gatherer
}

// NewMetrics 创建监控指标并注册到 reg
//
// reg 为 nil 时使用新的独立注册表，便于测试中重复创建。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	var gatherer prometheus.Gatherer
	if reg == nil {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		reg, gatherer = registry, registry
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	} else {
		gatherer = prometheus.DefaultGatherer
	}

	factory := promauto.With(reg)
	start := time.Now()

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "aliasmap_system_uptime_seconds",
			Help: "System uptime in seconds",
		},
		func() float64 { return time.Since(start).Seconds() },
	)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aliasmap_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aliasmap_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "aliasmap_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "aliasmap_ws_connections",
				Help: "Number of connected websocket clients",
			},
		),

		WSOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aliasmap_ws_operations_total",
				Help: "Websocket operations by type and outcome",
			},
			[]string{"type", "outcome"},
		),

		WSRateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "aliasmap_ws_rate_limited_total",
				Help: "Websocket frames rejected by the per-client rate limiter",
			},
		),

		WSDroppedFrames: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aliasmap_ws_dropped_frames_total",
				Help: "Websocket frames dropped by reason",
			},
			[]string{"reason"},
		),

		ReloadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aliasmap_reloads_total",
				Help: "Map reload sequences by outcome",
			},
			[]string{"outcome"},
		),

		ReloadDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "aliasmap_reload_duration_seconds",
				Help:    "Duration of map reload sequences",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
		),

		MapWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aliasmap_map_writes_total",
				Help: "Map file writes by file and outcome",
			},
			[]string{"file", "outcome"},
		),

		AliasRecords: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "aliasmap_alias_records",
				Help: "Number of alias records at the last reload",
			},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "aliasmap_errors_total",
				Help: "Total number of errors",
			},
			[]string{"type", "component"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "aliasmap_panics_total",
				Help: "Total number of recovered panics",
			},
		),

		gatherer: gatherer,
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// ObserveReload 记录一次重载序列
func (m *Metrics) ObserveReload(outcome string, duration time.Duration) {
	m.ReloadsTotal.WithLabelValues(outcome).Inc()
	if duration > 0 {
		m.ReloadDuration.Observe(duration.Seconds())
	}
}

// ObserveMapWrite 记录映射文件写入
func (m *Metrics) ObserveMapWrite(file string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		m.RecordError("map_write", "sequencer")
	}
	m.MapWrites.WithLabelValues(file, outcome).Inc()
}

// SetAliasCount 更新记录数
func (m *Metrics) SetAliasCount(n int) {
	m.AliasRecords.Set(float64(n))
}

// ClientConnected 记录 WebSocket 连接
func (m *Metrics) ClientConnected() {
	m.WSConnections.Inc()
}

// ClientDisconnected 记录 WebSocket 断开
func (m *Metrics) ClientDisconnected() {
	m.WSConnections.Dec()
}

// ObserveOperation 记录 WebSocket 操作
func (m *Metrics) ObserveOperation(opType, outcome string) {
	m.WSOperations.WithLabelValues(opType, outcome).Inc()
}

// RateLimited 记录被限流的帧
func (m *Metrics) RateLimited() {
	m.WSRateLimited.Inc()
}

// FrameDropped 记录被丢弃的帧
func (m *Metrics) FrameDropped(reason string) {
	m.WSDroppedFrames.WithLabelValues(reason).Inc()
}

// RecordError 记录错误
func (m *Metrics) RecordError(errorType, component string) {
	m.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	m.PanicsTotal.Inc()
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
