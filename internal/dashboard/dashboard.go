package dashboard

import (
	"context"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/utrading/qd-client/internal/strategy"
	"github.com/utrading/qd-client/internal/transport"
	"github.com/utrading/qd-client/pkg/logger"
)

const (
	pathSummary       = "/api/dashboard/summary"
	pathPendingOrders = "/api/dashboard/pendingOrders"

	defaultPageSize = 20
	maxPageSize     = 200
)

// 挂单状态，后端已将 sent 归为 completed、deferred 归为 pending
const (
	OrderPending    = "pending"
	OrderProcessing = "processing"
	OrderCompleted  = "completed"
	OrderFailed     = "failed"
)

type DailyPnL struct {
	Date   string          `json:"date"`
	Profit decimal.Decimal `json:"profit"`
}

type StrategyPnL struct {
	Name  string          `json:"name"`
	Value decimal.Decimal `json:"value"`
}

// Summary 首页汇总
type Summary struct {
	AIStrategyCount        int                 `json:"ai_strategy_count"`
	IndicatorStrategyCount int                 `json:"indicator_strategy_count"`
	TotalEquity            decimal.Decimal     `json:"total_equity"`
	TotalPnL               decimal.Decimal     `json:"total_pnl"`
	DailyPnLChart          []DailyPnL          `json:"daily_pnl_chart"`
	StrategyPnLChart       []StrategyPnL       `json:"strategy_pnl_chart"`
	RecentTrades           []strategy.Trade    `json:"recent_trades"`
	CurrentPositions       []strategy.Position `json:"current_positions"`
}

// PendingOrder 待执行 / 已派发的信号订单
type PendingOrder struct {
	ID              int64           `json:"id"`
	StrategyID      int64           `json:"strategy_id"`
	StrategyName    string          `json:"strategy_name"`
	Symbol          string          `json:"symbol"`
	SignalType      string          `json:"signal_type"`
	MarketType      string          `json:"market_type"`
	OrderType       string          `json:"order_type"`
	Amount          decimal.Decimal `json:"amount"`
	Price           decimal.Decimal `json:"price"`
	Status          string          `json:"status"`
	Attempts        int             `json:"attempts"`
	MaxAttempts     int             `json:"max_attempts"`
	FilledAmount    decimal.Decimal `json:"filled_amount"`
	FilledPrice     decimal.Decimal `json:"filled_price"`
	ErrorMessage    string          `json:"error_message"`
	ExchangeID      string          `json:"exchange_id"`
	ExchangeDisplay string          `json:"exchange_display"`
	ExchangeOrderID string          `json:"exchange_order_id"`
	NotifyChannels  []string        `json:"notify_channels"`
	CreatedAt       int64           `json:"created_at"`
	UpdatedAt       int64           `json:"updated_at"`
}

// Deletable 处理中的订单后端拒绝删除
func (o PendingOrder) Deletable() bool {
	return o.Status != OrderProcessing
}

// PendingOrderPage 分页结果
type PendingOrderPage struct {
	List     []PendingOrder `json:"list"`
	Page     int            `json:"page"`
	PageSize int            `json:"pageSize"`
	Total    int64          `json:"total"`
}

type Service struct {
	requester transport.Requester
}

func NewService(requester transport.Requester) *Service {
	return &Service{requester: requester}
}

func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	env, err := transport.Call(ctx, s.requester, transport.Request{
		URL:    pathSummary,
		Method: "get",
	}, "Failed to load dashboard")
	if err != nil {
		return nil, err
	}

	var sum Summary
	if err = env.Decode("dashboard summary", &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

// PendingOrders 分页查询挂单，page 从 1 开始，pageSize 范围 1~200
func (s *Service) PendingOrders(ctx context.Context, page, pageSize int) (*PendingOrderPage, error) {
	if page < 1 {
		page = 1
	}
	switch {
	case pageSize <= 0:
		pageSize = defaultPageSize
	case pageSize > maxPageSize:
		pageSize = maxPageSize
	}

	env, err := transport.Call(ctx, s.requester, transport.Request{
		URL:    pathPendingOrders,
		Method: "get",
		Params: map[string]any{"page": page, "pageSize": pageSize},
	}, "Failed to load pending orders")
	if err != nil {
		return nil, err
	}

	var p PendingOrderPage
	if err = env.Decode("pending orders", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Service) DeletePendingOrder(ctx context.Context, id int64) error {
	if id <= 0 {
		return &transport.StateError{Op: "delete pending order", Field: "id"}
	}

	if _, err := transport.Call(ctx, s.requester, transport.Request{
		URL:    pathPendingOrders + "/" + strconv.FormatInt(id, 10),
		Method: "delete",
	}, "Failed to delete pending order"); err != nil {
		return err
	}

	logger.Info().Int64("id", id).Msg("pending order deleted")
	return nil
}
