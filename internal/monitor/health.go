package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/utrading/qd-client/pkg/goplus"
	"github.com/utrading/qd-client/pkg/logger"
)

// SessionRef 会话状态引用接口
type SessionRef interface {
	Authenticated() bool
}

// PublisherRef NATS发布器引用接口
type PublisherRef interface {
	IsConnected() bool
}

// PollerRef 通知轮询器引用接口
type PollerRef interface {
	Running() bool
	Cursor() int64
}

// HealthServer HTTP 健康检查和指标服务器
type HealthServer struct {
	addr      string
	session   SessionRef
	publisher PublisherRef
	poller    PollerRef
	metrics   *Metrics
	server    *http.Server
	group     *goplus.WaitGroup

	mu        sync.RWMutex
	healthy   bool
	startTime time.Time
}

// HealthOption 可选依赖，未设置的组件在状态中显示为未启用
type HealthOption func(*HealthServer)

func WithSession(s SessionRef) HealthOption {
	return func(h *HealthServer) { h.session = s }
}

func WithPublisher(p PublisherRef) HealthOption {
	return func(h *HealthServer) { h.publisher = p }
}

func WithPoller(p PollerRef) HealthOption {
	return func(h *HealthServer) { h.poller = p }
}

// NewHealthServer 创建健康检查服务器
func NewHealthServer(addr string, metrics *Metrics, opts ...HealthOption) *HealthServer {
	if metrics == nil {
		metrics = GetMetrics()
	}
	h := &HealthServer{
		addr:      addr,
		metrics:   metrics,
		group:     goplus.NewWaitGroup(),
		healthy:   true,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Mux 路由，单独暴露便于嵌入到调用方自己的 HTTP 服务
func (h *HealthServer) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.healthHandler)
	mux.HandleFunc("/health/live", h.liveHandler)
	mux.Handle("/metrics", h.metrics.Handler())
	return mux
}

// Start 启动HTTP服务器
func (h *HealthServer) Start(ctx context.Context) error {
	h.server = &http.Server{
		Addr:         h.addr,
		Handler:      h.Mux(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	h.group.Go(func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", h.addr).Msg("health server error")
		}
	})

	logger.Info().Str("addr", h.addr).Msg("health server started")
	return nil
}

// Stop 停止服务器
func (h *HealthServer) Stop(ctx context.Context) error {
	h.mu.Lock()
	h.healthy = false
	h.mu.Unlock()

	if h.server == nil {
		return nil
	}
	err := h.server.Shutdown(ctx)
	h.group.Wait()
	return err
}

func (h *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := h.Status()
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

func (h *HealthServer) liveHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Status 当前健康状态；已启用的 NATS 断开时视为不健康
func (h *HealthServer) Status() HealthStatus {
	h.mu.RLock()
	healthy := h.healthy
	h.mu.RUnlock()

	status := HealthStatus{
		Uptime: time.Since(h.startTime).Truncate(time.Second).String(),
	}

	if h.session != nil {
		status.Session.Authenticated = h.session.Authenticated()
	}
	if h.publisher != nil {
		status.NATS.Enabled = true
		status.NATS.Connected = h.publisher.IsConnected()
		healthy = healthy && status.NATS.Connected
	}
	if h.poller != nil {
		status.Notification.Enabled = true
		status.Notification.Running = h.poller.Running()
		status.Notification.Cursor = h.poller.Cursor()
	}

	status.Healthy = healthy
	return status
}

// HealthStatus 健康状态结构
type HealthStatus struct {
	Healthy      bool               `json:"healthy"`
	Uptime       string             `json:"uptime"`
	Session      SessionStatus      `json:"session"`
	NATS         NATSStatus         `json:"nats"`
	Notification NotificationStatus `json:"notification"`
}

type SessionStatus struct {
	Authenticated bool `json:"authenticated"`
}

// NATSStatus NATS连接状态
type NATSStatus struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
}

type NotificationStatus struct {
	Enabled bool  `json:"enabled"`
	Running bool  `json:"running"`
	Cursor  int64 `json:"cursor"`
}
