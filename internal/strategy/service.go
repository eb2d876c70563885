package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/spf13/cast"

	"github.com/utrading/qd-client/internal/transport"
	"github.com/utrading/qd-client/pkg/logger"
)

const (
	statusCacheTTL     = 5 * time.Minute
	defaultNotifyLimit = 50
	maxNotifyLimit     = 200
)

const (
	pathStrategies     = "/api/strategies"
	pathDetail         = "/api/strategies/detail"
	pathCreate         = "/api/strategies/create"
	pathUpdate         = "/api/strategies/update"
	pathStart          = "/api/strategies/start"
	pathStop           = "/api/strategies/stop"
	pathDelete         = "/api/strategies/delete"
	pathTrades         = "/api/strategies/trades"
	pathPositions      = "/api/strategies/positions"
	pathEquityCurve    = "/api/strategies/equityCurve"
	pathNotifications  = "/api/strategies/notifications"
	pathAIDecisions    = "/api/strategies/ai-decisions"
	pathSymbols        = "/api/strategies/get-symbols"
	pathTestConnection = "/api/strategies/test-connection"
)

// ErrStrategyRunning 运行中的策略不允许修改，需先停止
var ErrStrategyRunning = errors.New("strategy is running, stop it before updating")

// Observer 校验结果观察者（指标）
type Observer interface {
	ObserveValidation(failures, corrections int)
}

// Service 策略接口封装，每个操作一次请求，不重试
type Service struct {
	requester transport.Requester
	statuses  *cache.Cache // id → Status
	observer  Observer
}

type Option func(*Service)

func WithObserver(o Observer) Option {
	return func(s *Service) {
		s.observer = o
	}
}

func WithStatusTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.statuses = cache.New(ttl, 2*ttl)
		}
	}
}

func NewService(requester transport.Requester, opts ...Option) *Service {
	s := &Service{
		requester: requester,
		statuses:  cache.New(statusCacheTTL, 2*statusCacheTTL),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func statusKey(id int64) string {
	return cast.ToString(id)
}

func (s *Service) rememberStatus(id int64, status Status) {
	if id <= 0 || status == "" {
		return
	}
	s.statuses.SetDefault(statusKey(id), status)
}

// CachedStatus 最近一次观察到的策略状态
func (s *Service) CachedStatus(id int64) (Status, bool) {
	v, ok := s.statuses.Get(statusKey(id))
	if !ok {
		return "", false
	}
	return v.(Status), true
}

// Validate 校验草稿并上报指标
func (s *Service) Validate(draft Config) (*Config, *ValidationResult) {
	cfg, res := Validate(draft)
	if s.observer != nil {
		s.observer.ObserveValidation(len(res.Errors), len(res.Corrections))
	}
	for _, c := range res.Corrections {
		logger.Debug().Str("field", c.Field).Interface("from", c.From).Interface("to", c.To).Msg("strategy config corrected")
	}
	return cfg, res
}

func (s *Service) List(ctx context.Context) ([]Strategy, error) {
	env, err := transport.Call(ctx, s.requester, transport.Request{
		URL:    pathStrategies,
		Method: "get",
	}, "Failed to list strategies")
	if err != nil {
		return nil, err
	}

	var items []Strategy
	if err = env.DecodeItems("list strategies", "strategies", &items); err != nil {
		return nil, err
	}
	for _, st := range items {
		s.rememberStatus(st.ID, st.Status)
	}
	return items, nil
}

func (s *Service) Detail(ctx context.Context, id int64) (*Strategy, error) {
	env, err := transport.Call(ctx, s.requester, transport.Request{
		URL:    pathDetail,
		Method: "get",
		Params: map[string]any{"id": id},
	}, "Failed to load strategy")
	if err != nil {
		return nil, err
	}

	var st Strategy
	if err = env.Decode("strategy detail", &st); err != nil {
		return nil, err
	}
	s.rememberStatus(st.ID, st.Status)
	return &st, nil
}

// Create 校验后创建策略，返回后端分配的 id
func (s *Service) Create(ctx context.Context, draft Config) (int64, error) {
	cfg, res := s.Validate(draft)
	if err := res.Err(); err != nil {
		return 0, err
	}

	env, err := transport.Call(ctx, s.requester, transport.Request{
		URL:    pathCreate,
		Method: "post",
		Data:   ToRequestPayload(cfg),
	}, "Failed to create strategy")
	if err != nil {
		return 0, err
	}

	id := env.Get("id").Int()
	if id <= 0 {
		return 0, &transport.StateError{Op: "create strategy", Field: "data.id"}
	}

	s.rememberStatus(id, StatusStopped)
	logger.Info().Int64("id", id).Str("name", cfg.StrategyName).Str("type", string(cfg.StrategyType)).Msg("strategy created")

	return id, nil
}

// Update 校验后更新策略；缓存状态为 running 时本地拒绝
func (s *Service) Update(ctx context.Context, id int64, draft Config) error {
	if status, ok := s.CachedStatus(id); ok && status == StatusRunning {
		return fmt.Errorf("update strategy %d: %w", id, ErrStrategyRunning)
	}

	cfg, res := s.Validate(draft)
	if err := res.Err(); err != nil {
		return err
	}

	if _, err := transport.Call(ctx, s.requester, transport.Request{
		URL:    pathUpdate,
		Method: "put",
		Params: map[string]any{"id": id},
		Data:   ToRequestPayload(cfg),
	}, "Failed to update strategy"); err != nil {
		return err
	}

	logger.Info().Int64("id", id).Msg("strategy updated")
	return nil
}

func (s *Service) Start(ctx context.Context, id int64) error {
	if _, err := transport.Call(ctx, s.requester, transport.Request{
		URL:    pathStart,
		Method: "post",
		Params: map[string]any{"id": id},
	}, "Failed to start strategy"); err != nil {
		return err
	}

	s.rememberStatus(id, StatusRunning)
	logger.Info().Int64("id", id).Msg("strategy started")
	return nil
}

func (s *Service) Stop(ctx context.Context, id int64) error {
	if _, err := transport.Call(ctx, s.requester, transport.Request{
		URL:    pathStop,
		Method: "post",
		Params: map[string]any{"id": id},
	}, "Failed to stop strategy"); err != nil {
		return err
	}

	s.rememberStatus(id, StatusStopped)
	logger.Info().Int64("id", id).Msg("strategy stopped")
	return nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	if _, err := transport.Call(ctx, s.requester, transport.Request{
		URL:    pathDelete,
		Method: "delete",
		Params: map[string]any{"id": id},
	}, "Failed to delete strategy"); err != nil {
		return err
	}

	s.statuses.Delete(statusKey(id))
	logger.Info().Int64("id", id).Msg("strategy deleted")
	return nil
}

func (s *Service) Trades(ctx context.Context, id int64) ([]Trade, error) {
	env, err := transport.Call(ctx, s.requester, transport.Request{
		URL:    pathTrades,
		Method: "get",
		Params: map[string]any{"id": id},
	}, "Failed to load trades")
	if err != nil {
		return nil, err
	}

	var items []Trade
	if err = env.DecodeItems("strategy trades", "trades", &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Service) Positions(ctx context.Context, id int64) ([]Position, error) {
	env, err := transport.Call(ctx, s.requester, transport.Request{
		URL:    pathPositions,
		Method: "get",
		Params: map[string]any{"id": id},
	}, "Failed to load positions")
	if err != nil {
		return nil, err
	}

	var items []Position
	if err = env.DecodeItems("strategy positions", "positions", &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Service) EquityCurve(ctx context.Context, id int64) ([]EquityPoint, error) {
	env, err := transport.Call(ctx, s.requester, transport.Request{
		URL:    pathEquityCurve,
		Method: "get",
		Params: map[string]any{"id": id},
	}, "Failed to load equity curve")
	if err != nil {
		return nil, err
	}

	var points []EquityPoint
	if err = env.DecodeItems("equity curve", "curve", &points); err != nil {
		return nil, err
	}
	return points, nil
}

// Notifications 查询 id > SinceID 的通知，后端按 id 倒序返回
func (s *Service) Notifications(ctx context.Context, q NotificationQuery) ([]Notification, error) {
	limit := q.Limit
	switch {
	case limit <= 0:
		limit = defaultNotifyLimit
	case limit > maxNotifyLimit:
		limit = maxNotifyLimit
	}

	params := map[string]any{"limit": limit}
	if q.StrategyID > 0 {
		params["id"] = q.StrategyID
	}
	if q.SinceID > 0 {
		params["since_id"] = q.SinceID
	}

	env, err := transport.Call(ctx, s.requester, transport.Request{
		URL:    pathNotifications,
		Method: "get",
		Params: params,
	}, "Failed to load notifications")
	if err != nil {
		return nil, err
	}

	var items []Notification
	if err = env.DecodeItems("strategy notifications", "items", &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Service) AIDecisions(ctx context.Context, id int64) ([]AIDecision, error) {
	env, err := transport.Call(ctx, s.requester, transport.Request{
		URL:    pathAIDecisions,
		Method: "get",
		Params: map[string]any{"id": id},
	}, "Failed to load AI decisions")
	if err != nil {
		return nil, err
	}

	var items []AIDecision
	if err = env.DecodeItems("ai decisions", "decisions", &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Symbols 查询交易所可交易品种
func (s *Service) Symbols(ctx context.Context, exchange ExchangeConfig) ([]string, error) {
	env, err := transport.Call(ctx, s.requester, transport.Request{
		URL:    pathSymbols,
		Method: "post",
		Data:   map[string]any{"exchange_config": exchange.payload()},
	}, "Failed to load symbols")
	if err != nil {
		return nil, err
	}

	var symbols []string
	if err = env.DecodeItems("exchange symbols", "symbols", &symbols); err != nil {
		return nil, err
	}
	return symbols, nil
}

// TestConnection 交易所连接测试，直接透传后端结果。
// 业务失败（code != 1）返回 OK=false，只有传输层失败返回 error。
func (s *Service) TestConnection(ctx context.Context, exchange ExchangeConfig) (ConnectionResult, error) {
	env, err := s.requester.Do(ctx, transport.Request{
		URL:    pathTestConnection,
		Method: "post",
		Data:   map[string]any{"exchange_config": exchange.payload()},
	})
	if err != nil {
		return ConnectionResult{}, err
	}

	if !env.OK() {
		msg := env.Msg
		if msg == "" {
			msg = "Connection failed"
		}
		return ConnectionResult{OK: false, Message: msg}, nil
	}

	msg := env.Msg
	if msg == "" {
		msg = "Connection successful"
	}
	return ConnectionResult{OK: true, Message: msg}, nil
}
