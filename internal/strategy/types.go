package strategy

import (
	"time"

	"github.com/shopspring/decimal"
)

type StrategyType string

const (
	TypeIndicator   StrategyType = "IndicatorStrategy"
	TypePromptBased StrategyType = "PromptBasedStrategy"
	TypeGrid        StrategyType = "GridStrategy"
	TypeAI          StrategyType = "AI"
)

// UsesLLM AI 与 PromptBased 策略使用 llm_model_config，其余使用 indicator_config
func (t StrategyType) UsesLLM() bool {
	return t == TypeAI || t == TypePromptBased
}

type MarketType string

const (
	MarketFutures MarketType = "Futures"
	MarketSpot    MarketType = "Spot"
)

type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionBoth  Direction = "both"
)

type OrderMode string

const (
	OrderMaker OrderMode = "maker"
	OrderTaker OrderMode = "taker"
)

type MarginMode string

const (
	MarginCross    MarginMode = "cross"
	MarginIsolated MarginMode = "isolated"
)

type Status string

const (
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
)

const (
	ExecutionSignal = "signal"
	ExecutionLive   = "live"

	DefaultMarketCategory = "Crypto"
	DefaultInitialCapital = 1000

	MaxFuturesLeverage = 125
)

// DecideIntervals AI 策略允许的决策周期
var DecideIntervals = []string{"5m", "10m", "30m", "1h", "4h", "1d", "1w"}

var decideIntervalSeconds = map[string]int{
	"5m":  300,
	"10m": 600,
	"30m": 1800,
	"1h":  3600,
	"4h":  14400,
	"1d":  86400,
	"1w":  604800,
}

// ExchangeConfig 交易所连接配置；CredentialID > 0 时复用已保存的凭证
type ExchangeConfig struct {
	ExchangeID   string
	APIKey       string
	SecretKey    string
	Passphrase   string
	CredentialID int64
}

func (e ExchangeConfig) payload() map[string]any {
	m := map[string]any{"exchange_id": e.ExchangeID}
	if e.CredentialID > 0 {
		m["credential_id"] = e.CredentialID
		return m
	}
	m["api_key"] = e.APIKey
	m["secret_key"] = e.SecretKey
	if e.Passphrase != "" {
		m["passphrase"] = e.Passphrase
	}
	return m
}

// RuleGroup 加仓/减仓规则组
type RuleGroup struct {
	Enabled  bool
	StepPct  float64
	SizePct  float64
	MaxTimes int
}

func (g RuleGroup) payload() map[string]any {
	return map[string]any{
		"enabled":   true,
		"step_pct":  g.StepPct,
		"size_pct":  g.SizePct,
		"max_times": g.MaxTimes,
	}
}

// Config 策略配置草稿 / 校验后配置
type Config struct {
	ID     int64
	UserID int64

	StrategyName   string
	StrategyType   StrategyType
	MarketCategory string
	ExecutionMode  string
	Status         Status

	Exchange       ExchangeConfig
	Symbol         string
	MarketType     MarketType
	Leverage       int
	TradeDirection Direction
	Timeframe      string
	InitialCapital float64

	OrderMode        OrderMode
	MakerWaitSec     int
	MakerRetries     int
	FallbackToMarket bool
	MarginMode       MarginMode

	StopLossPct           float64
	TakeProfitPct         float64
	TrailingEnabled       bool
	TrailingStopPct       float64
	TrailingActivationPct float64

	EntryPct    float64
	MinOrderPct *float64

	TrendAdd      RuleGroup
	DCAAdd        RuleGroup
	TrendReduce   RuleGroup
	AdverseReduce RuleGroup

	// AI / PromptBased
	ModelID        string
	DecideInterval string
	RunStart       time.Time
	RunEnd         time.Time
	CustomPrompt   string

	IndicatorConfig    map[string]any
	LLMModelConfig     map[string]any
	NotificationConfig map[string]any
}

// Strategy 后端返回的策略记录
type Strategy struct {
	ID                 int64           `json:"id"`
	UserID             int64           `json:"user_id"`
	StrategyName       string          `json:"strategy_name"`
	StrategyType       StrategyType    `json:"strategy_type"`
	MarketCategory     string          `json:"market_category"`
	ExecutionMode      string          `json:"execution_mode"`
	Status             Status          `json:"status"`
	Symbol             string          `json:"symbol"`
	Timeframe          string          `json:"timeframe"`
	InitialCapital     decimal.Decimal `json:"initial_capital"`
	Leverage           int             `json:"leverage"`
	MarketType         string          `json:"market_type"`
	DecideInterval     int             `json:"decide_interval"`
	ExchangeConfig     map[string]any  `json:"exchange_config"`
	IndicatorConfig    map[string]any  `json:"indicator_config"`
	TradingConfig      map[string]any  `json:"trading_config"`
	AIModelConfig      map[string]any  `json:"ai_model_config"`
	NotificationConfig map[string]any  `json:"notification_config"`
	CreatedAt          int64           `json:"created_at"`
	UpdatedAt          int64           `json:"updated_at"`
}

// Trade 成交记录
type Trade struct {
	ID            int64           `json:"id"`
	StrategyID    int64           `json:"strategy_id"`
	Symbol        string          `json:"symbol"`
	Type          string          `json:"type"` // open_long, close_short ...
	Price         decimal.Decimal `json:"price"`
	Amount        decimal.Decimal `json:"amount"`
	Value         decimal.Decimal `json:"value"`
	Commission    decimal.Decimal `json:"commission"`
	CommissionCcy string          `json:"commission_ccy"`
	Profit        decimal.Decimal `json:"profit"`
	CreatedAt     int64           `json:"created_at"`
}

// Position 当前持仓
type Position struct {
	ID            int64           `json:"id"`
	StrategyID    int64           `json:"strategy_id"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Size          decimal.Decimal `json:"size"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	HighestPrice  decimal.Decimal `json:"highest_price"`
	LowestPrice   decimal.Decimal `json:"lowest_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	PnLPercent    decimal.Decimal `json:"pnl_percent"`
	Equity        decimal.Decimal `json:"equity"`
	UpdatedAt     int64           `json:"updated_at"`
}

type EquityPoint struct {
	Time   int64           `json:"time"`
	Equity decimal.Decimal `json:"equity"`
}

// Notification 策略信号通知
type Notification struct {
	ID          int64  `json:"id"`
	StrategyID  int64  `json:"strategy_id"`
	Symbol      string `json:"symbol"`
	SignalType  string `json:"signal_type"`
	Channels    string `json:"channels"`
	Title       string `json:"title"`
	Message     string `json:"message"`
	PayloadJSON string `json:"payload_json"`
	CreatedAt   int64  `json:"created_at"`
}

// AIDecision AI 策略决策记录，decision / context 为后端存储的 JSON 文本
type AIDecision struct {
	ID           int64  `json:"id"`
	StrategyID   int64  `json:"strategy_id"`
	DecisionData string `json:"decision_data"`
	ContextData  string `json:"context_data"`
	CreatedAt    int64  `json:"created_at"`
}

// ConnectionResult 交易所连接测试结果
type ConnectionResult struct {
	OK      bool
	Message string
}

// NotificationQuery 通知查询；Limit 范围 1~200，0 使用默认 50
type NotificationQuery struct {
	StrategyID int64
	SinceID    int64
	Limit      int
}
