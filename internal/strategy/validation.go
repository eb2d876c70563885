package strategy

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// ValidationError 单个字段校验失败
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (v *ValidationError) Error() string {
	return fmt.Sprintf("validation error: field '%s' with value '%v': %s", v.Field, v.Value, v.Message)
}

// ValidationErrors 一次校验收集到的全部错误
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, v := range e {
		msgs = append(msgs, v.Field+": "+v.Message)
	}
	return fmt.Sprintf("%d validation error(s): %s", len(e), strings.Join(msgs, "; "))
}

// Fields 出错字段列表，按校验顺序
func (e ValidationErrors) Fields() []string {
	return lo.Map(e, func(v *ValidationError, _ int) string { return v.Field })
}

// Correction 校验过程中对草稿做的自动修正
type Correction struct {
	Field  string
	From   any
	To     any
	Reason string
}

type ValidationResult struct {
	Errors      ValidationErrors
	Corrections []Correction
}

func (r *ValidationResult) OK() bool {
	return len(r.Errors) == 0
}

// Err 无错误时返回 nil
func (r *ValidationResult) Err() error {
	if r.OK() {
		return nil
	}
	return r.Errors
}

func (r *ValidationResult) fail(field string, value any, msg string) {
	r.Errors = append(r.Errors, &ValidationError{Field: field, Value: value, Message: msg})
}

func (r *ValidationResult) correct(field string, from, to any, reason string) {
	r.Corrections = append(r.Corrections, Correction{Field: field, From: from, To: to, Reason: reason})
}

// Validate 按顺序检查全部约束并收集所有错误。
// 返回的 Config 是修正后的副本，存在错误时为 nil。
func Validate(draft Config) (*Config, *ValidationResult) {
	cfg := draft
	res := &ValidationResult{}

	applyDefaults(&cfg)

	// 1. 名称
	if strings.TrimSpace(cfg.StrategyName) == "" {
		res.fail("strategy_name", cfg.StrategyName, "strategy name is required")
	}

	// 2. 市场绑定
	validateMarket(&cfg, res)

	// 3. API 凭证
	if cfg.Exchange.CredentialID <= 0 {
		if cfg.Exchange.APIKey == "" {
			res.fail("exchange_config.api_key", "", "api key is required unless a saved credential is used")
		}
		if cfg.Exchange.SecretKey == "" {
			res.fail("exchange_config.secret_key", "", "secret key is required unless a saved credential is used")
		}
	}

	// 4. 仓位
	if cfg.EntryPct <= 0 || cfg.EntryPct > 100 {
		res.fail("entry_pct", cfg.EntryPct, "must be in (0, 100]")
	}
	if cfg.MinOrderPct != nil {
		if *cfg.MinOrderPct < 0 {
			res.fail("min_order_pct", *cfg.MinOrderPct, "must not be negative")
		} else if *cfg.MinOrderPct > cfg.EntryPct {
			res.fail("min_order_pct", *cfg.MinOrderPct, "must not exceed entry_pct")
		}
	}

	// 5. 加减仓规则组
	if cfg.TrendAdd.Enabled && cfg.DCAAdd.Enabled {
		cfg.DCAAdd.Enabled = false
		res.correct("dca_add.enabled", true, false, "trend_add and dca_add are mutually exclusive")
	}
	validateRuleGroup("trend_add", cfg.TrendAdd, res)
	validateRuleGroup("dca_add", cfg.DCAAdd, res)
	validateRuleGroup("trend_reduce", cfg.TrendReduce, res)
	validateRuleGroup("adverse_reduce", cfg.AdverseReduce, res)

	// 6. 风控
	if cfg.StopLossPct < 0 {
		res.fail("stop_loss_pct", cfg.StopLossPct, "must not be negative")
	}
	if cfg.TakeProfitPct < 0 {
		res.fail("take_profit_pct", cfg.TakeProfitPct, "must not be negative")
	}
	if cfg.TrailingEnabled {
		if cfg.TrailingStopPct <= 0 {
			res.fail("trailing_stop_pct", cfg.TrailingStopPct, "required when trailing is enabled")
		}
		if cfg.TrailingActivationPct < 0 {
			res.fail("trailing_activation_pct", cfg.TrailingActivationPct, "must not be negative")
		}
	}

	// 7. AI 策略
	if cfg.StrategyType.UsesLLM() {
		if strings.TrimSpace(cfg.ModelID) == "" {
			res.fail("model_id", cfg.ModelID, "model is required for AI strategies")
		}
		if !lo.Contains(DecideIntervals, cfg.DecideInterval) {
			res.fail("decide_interval", cfg.DecideInterval, "must be one of "+strings.Join(DecideIntervals, ","))
		}
		if cfg.RunStart.IsZero() || cfg.RunEnd.IsZero() {
			res.fail("run_period", nil, "run period start and end are required")
		} else if !cfg.RunStart.Before(cfg.RunEnd) {
			res.fail("run_period", cfg.RunStart, "run period start must be before end")
		}
	}

	// 8. 枚举
	if !lo.Contains([]StrategyType{TypeIndicator, TypePromptBased, TypeGrid, TypeAI}, cfg.StrategyType) {
		res.fail("strategy_type", cfg.StrategyType, "unknown strategy type")
	}
	if !lo.Contains([]Direction{DirectionLong, DirectionShort, DirectionBoth}, cfg.TradeDirection) {
		res.fail("trade_direction", cfg.TradeDirection, "must be long, short or both")
	}
	if !lo.Contains([]OrderMode{OrderMaker, OrderTaker}, cfg.OrderMode) {
		res.fail("order_mode", cfg.OrderMode, "must be maker or taker")
	}
	if !lo.Contains([]MarginMode{MarginCross, MarginIsolated}, cfg.MarginMode) {
		res.fail("margin_mode", cfg.MarginMode, "must be cross or isolated")
	}
	if !lo.Contains([]string{ExecutionSignal, ExecutionLive}, cfg.ExecutionMode) {
		res.fail("execution_mode", cfg.ExecutionMode, "must be signal or live")
	}

	// 9. maker 参数
	if cfg.OrderMode == OrderMaker {
		if cfg.MakerWaitSec <= 0 {
			res.fail("maker_wait_sec", cfg.MakerWaitSec, "must be positive for maker orders")
		}
		if cfg.MakerRetries < 0 {
			res.fail("maker_retries", cfg.MakerRetries, "must not be negative")
		}
	}

	if !res.OK() {
		return nil, res
	}
	return &cfg, res
}

// applyDefaults 填充后端同样会使用的默认值
func applyDefaults(cfg *Config) {
	if cfg.StrategyType == "" {
		cfg.StrategyType = TypeIndicator
	}
	if cfg.MarketCategory == "" {
		cfg.MarketCategory = DefaultMarketCategory
	}
	if cfg.ExecutionMode == "" {
		cfg.ExecutionMode = ExecutionSignal
	}
	if cfg.MarketType == "" {
		cfg.MarketType = MarketFutures
	}
	if cfg.TradeDirection == "" {
		cfg.TradeDirection = DirectionLong
	}
	if cfg.OrderMode == "" {
		cfg.OrderMode = OrderTaker
	}
	if cfg.MarginMode == "" {
		cfg.MarginMode = MarginCross
	}
	if cfg.Leverage == 0 {
		cfg.Leverage = 1
	}
	if cfg.InitialCapital <= 0 {
		cfg.InitialCapital = DefaultInitialCapital
	}
}

func validateMarket(cfg *Config, res *ValidationResult) {
	if strings.TrimSpace(cfg.Exchange.ExchangeID) == "" {
		res.fail("exchange_config.exchange_id", cfg.Exchange.ExchangeID, "exchange is required")
	}
	if strings.TrimSpace(cfg.Symbol) == "" {
		res.fail("symbol", cfg.Symbol, "symbol is required")
	}

	switch cfg.MarketType {
	case MarketSpot:
		// 现货只能做多且无杠杆，静默修正
		if cfg.Leverage != 1 {
			res.correct("leverage", cfg.Leverage, 1, "spot market does not support leverage")
			cfg.Leverage = 1
		}
		if cfg.TradeDirection != DirectionLong {
			res.correct("trade_direction", cfg.TradeDirection, DirectionLong, "spot market only supports long")
			cfg.TradeDirection = DirectionLong
		}
	case MarketFutures:
		if cfg.Leverage < 1 || cfg.Leverage > MaxFuturesLeverage {
			res.fail("leverage", cfg.Leverage, fmt.Sprintf("must be in [1, %d]", MaxFuturesLeverage))
		}
	default:
		res.fail("market_type", cfg.MarketType, "must be Futures or Spot")
	}
}

func validateRuleGroup(name string, g RuleGroup, res *ValidationResult) {
	if !g.Enabled {
		return
	}
	if g.StepPct <= 0 {
		res.fail(name+".step_pct", g.StepPct, "must be positive")
	}
	if g.SizePct <= 0 || g.SizePct > 100 {
		res.fail(name+".size_pct", g.SizePct, "must be in (0, 100]")
	}
	if g.MaxTimes < 1 {
		res.fail(name+".max_times", g.MaxTimes, "must be at least 1")
	}
}
