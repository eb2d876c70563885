package monitor

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const DefaultNamespace = "qd_client"

// Metrics 客户端指标收集器。
// 同时实现 transport / session / strategy / notification 的 Observer 接口。
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	loginsTotal     *prometheus.CounterVec
	// 策略校验
	validationsTotal      *prometheus.CounterVec
	validationErrors      prometheus.Counter
	validationCorrections prometheus.Counter
	// 通知轮询
	notificationPolls     *prometheus.CounterVec
	notificationsFetched  prometheus.Counter
	notificationDelivered *prometheus.CounterVec
	notificationCursor    prometheus.Gauge
	// 连接状态
	natsConnected        prometheus.Gauge
	sessionAuthenticated prometheus.Gauge
}

// NewMetrics 创建指标收集器，注册到独立的 registry
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "api_requests_total",
				Help:      "Total number of backend API requests",
			},
			[]string{"method", "path", "outcome"}, // ok, app_error, transport_error
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "api_request_duration_seconds",
				Help:      "后端接口请求耗时分布（秒）",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		loginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "logins_total",
				Help:      "Total number of login / logout attempts",
			},
			[]string{"method", "outcome"},
		),
		validationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "strategy_validations_total",
				Help:      "Total number of strategy config validations",
			},
			[]string{"result"}, // ok, failed
		),
		validationErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "strategy_validation_errors_total",
				Help:      "策略配置校验错误字段总数",
			},
		),
		validationCorrections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "strategy_validation_corrections_total",
				Help:      "策略配置自动修正总数",
			},
		),
		notificationPolls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notification_polls_total",
				Help:      "Total number of notification polls",
			},
			[]string{"outcome"}, // ok, error
		),
		notificationsFetched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_fetched_total",
				Help:      "Total number of new notifications fetched",
			},
		),
		notificationDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_delivered_total",
				Help:      "通知投递结果（按 sink）",
			},
			[]string{"sink", "status"}, // success, error
		),
		notificationCursor: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "notification_cursor",
				Help:      "已处理的最大通知 id",
			},
		),
		natsConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "nats_connected",
				Help:      "NATS connection status (1=connected, 0=disconnected)",
			},
		),
		sessionAuthenticated: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "session_authenticated",
				Help:      "Session state (1=authenticated, 0=anonymous)",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestsTotal,
		m.requestDuration,
		m.loginsTotal,
		m.validationsTotal,
		m.validationErrors,
		m.validationCorrections,
		m.notificationPolls,
		m.notificationsFetched,
		m.notificationDelivered,
		m.notificationCursor,
		m.natsConnected,
		m.sessionAuthenticated,
	)

	return m
}

// Registry 指标所在的 registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler Prometheus 抓取端点
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRequest 记录一次后端请求
func (m *Metrics) ObserveRequest(method, path, outcome string, elapsed time.Duration) {
	m.requestsTotal.WithLabelValues(method, path, outcome).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// ObserveLogin 记录登录结果，logout 也经过这里
func (m *Metrics) ObserveLogin(method, outcome string) {
	m.loginsTotal.WithLabelValues(method, outcome).Inc()
	switch {
	case method == "logout":
		m.sessionAuthenticated.Set(0)
	case outcome == "ok":
		m.sessionAuthenticated.Set(1)
	}
}

// ObserveValidation 记录一次策略校验
func (m *Metrics) ObserveValidation(failures, corrections int) {
	result := "ok"
	if failures > 0 {
		result = "failed"
	}
	m.validationsTotal.WithLabelValues(result).Inc()
	m.validationErrors.Add(float64(failures))
	m.validationCorrections.Add(float64(corrections))
}

// ObservePoll 记录一次通知轮询
func (m *Metrics) ObservePoll(outcome string, fetched int) {
	m.notificationPolls.WithLabelValues(outcome).Inc()
	m.notificationsFetched.Add(float64(fetched))
}

// ObserveDelivery 记录一次通知投递
func (m *Metrics) ObserveDelivery(sink string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.notificationDelivered.WithLabelValues(sink, status).Inc()
}

// SetNotificationCursor 设置通知游标
func (m *Metrics) SetNotificationCursor(id int64) {
	m.notificationCursor.Set(float64(id))
}

// SetNATSConnected 设置NATS连接状态
func (m *Metrics) SetNATSConnected(connected bool) {
	if connected {
		m.natsConnected.Set(1)
	} else {
		m.natsConnected.Set(0)
	}
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// GetMetrics 获取全局指标收集器
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = NewMetrics(DefaultNamespace)
	})
	return globalMetrics
}
