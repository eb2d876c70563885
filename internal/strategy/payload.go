package strategy

import (
	"maps"
	"time"
)

// wireMarketType 后端使用 swap / spot
func wireMarketType(m MarketType) string {
	if m == MarketSpot {
		return "spot"
	}
	return "swap"
}

// ToRequestPayload 构建 create / update 请求体。
// 键集合只由配置决定：不相关的字段和未启用的规则组直接省略，不发送 null。
func ToRequestPayload(cfg *Config) map[string]any {
	payload := map[string]any{
		"strategy_name":   cfg.StrategyName,
		"strategy_type":   string(cfg.StrategyType),
		"market_category": cfg.MarketCategory,
		"execution_mode":  cfg.ExecutionMode,
		"exchange_config": cfg.Exchange.payload(),
		"trading_config":  tradingPayload(cfg),
	}

	if cfg.UserID > 0 {
		payload["user_id"] = cfg.UserID
	}
	if len(cfg.NotificationConfig) > 0 {
		payload["notification_config"] = maps.Clone(cfg.NotificationConfig)
	}

	if cfg.StrategyType.UsesLLM() {
		payload["llm_model_config"] = llmPayload(cfg)
		payload["decide_interval"] = decideIntervalSeconds[cfg.DecideInterval]
	} else {
		ind := map[string]any{}
		maps.Copy(ind, cfg.IndicatorConfig)
		payload["indicator_config"] = ind
	}

	return payload
}

func tradingPayload(cfg *Config) map[string]any {
	tc := map[string]any{
		"symbol":          cfg.Symbol,
		"market_type":     wireMarketType(cfg.MarketType),
		"leverage":        cfg.Leverage,
		"trade_direction": string(cfg.TradeDirection),
		"initial_capital": cfg.InitialCapital,
		"order_mode":      string(cfg.OrderMode),
		"stop_loss_pct":   cfg.StopLossPct,
		"take_profit_pct": cfg.TakeProfitPct,
		"entry_pct":       cfg.EntryPct,
	}

	if cfg.Timeframe != "" {
		tc["timeframe"] = cfg.Timeframe
	}
	if cfg.MarketType == MarketFutures {
		tc["margin_mode"] = string(cfg.MarginMode)
	}
	if cfg.OrderMode == OrderMaker {
		tc["maker_wait_sec"] = cfg.MakerWaitSec
		tc["maker_retries"] = cfg.MakerRetries
		tc["fallback_to_market"] = cfg.FallbackToMarket
	}

	tc["trailing_enabled"] = cfg.TrailingEnabled
	if cfg.TrailingEnabled {
		tc["trailing_stop_pct"] = cfg.TrailingStopPct
		tc["trailing_activation_pct"] = cfg.TrailingActivationPct
	}

	if cfg.MinOrderPct != nil {
		tc["min_order_pct"] = *cfg.MinOrderPct
	}

	groups := map[string]RuleGroup{
		"trend_add":      cfg.TrendAdd,
		"dca_add":        cfg.DCAAdd,
		"trend_reduce":   cfg.TrendReduce,
		"adverse_reduce": cfg.AdverseReduce,
	}
	for name, g := range groups {
		if g.Enabled {
			tc[name] = g.payload()
		}
	}

	return tc
}

func llmPayload(cfg *Config) map[string]any {
	lc := map[string]any{}
	maps.Copy(lc, cfg.LLMModelConfig)

	lc["model_id"] = cfg.ModelID
	lc["decide_interval"] = cfg.DecideInterval
	lc["run_start"] = cfg.RunStart.UTC().Format(time.RFC3339)
	lc["run_end"] = cfg.RunEnd.UTC().Format(time.RFC3339)
	if cfg.CustomPrompt != "" {
		lc["custom_prompt"] = cfg.CustomPrompt
	}
	return lc
}
