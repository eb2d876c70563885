package nats

import (
	"encoding/json"

	"github.com/utrading/qd-client/internal/strategy"
)

const DefaultSubject = "qd_strategy_notification"

// NotificationMessage 转发到 NATS 的策略通知
type NotificationMessage struct {
	ID          int64  `json:"id"`
	StrategyID  int64  `json:"strategy_id"`
	Symbol      string `json:"symbol"`
	SignalType  string `json:"signal_type"` // open_long / close_short ...
	Title       string `json:"title"`
	Message     string `json:"message"`
	Channels    string `json:"channels,omitempty"`
	PayloadJSON string `json:"payload_json,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	ForwardedAt int64  `json:"forwarded_at"` // 毫秒
}

func newNotificationMessage(n strategy.Notification, forwardedAt int64) *NotificationMessage {
	return &NotificationMessage{
		ID:          n.ID,
		StrategyID:  n.StrategyID,
		Symbol:      n.Symbol,
		SignalType:  n.SignalType,
		Title:       n.Title,
		Message:     n.Message,
		Channels:    n.Channels,
		PayloadJSON: n.PayloadJSON,
		CreatedAt:   n.CreatedAt,
		ForwardedAt: forwardedAt,
	}
}

// Marshal 序列化消息
func (m *NotificationMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}
