package nats

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/utrading/qd-client/internal/strategy"
	"github.com/utrading/qd-client/pkg/logger"
)

// ConnObserver 连接状态观察者（指标）
type ConnObserver interface {
	SetNATSConnected(connected bool)
}

// Publisher NATS 发布器，作为通知轮询的 sink
type Publisher struct {
	*nats.Conn
	subject  string
	observer ConnObserver
	now      func() time.Time

	mu     sync.RWMutex
	closed bool
}

type PublisherOpt func(*Publisher)

func WithSubject(subject string) PublisherOpt {
	return func(p *Publisher) {
		if subject != "" {
			p.subject = subject
		}
	}
}

func WithConnObserver(o ConnObserver) PublisherOpt {
	return func(p *Publisher) {
		p.observer = o
	}
}

// NewPublisher 创建 NATS 发布器
func NewPublisher(url string, opts ...PublisherOpt) (*Publisher, error) {
	p := &Publisher{
		subject: DefaultSubject,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	conn, err := nats.Connect(url,
		nats.Name("qd-client"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			p.setConnected(false)
			logger.Warn().Err(err).Str("url", url).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			p.setConnected(true)
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}

	p.Conn = conn
	p.setConnected(true)
	logger.Info().Str("url", url).Str("subject", p.subject).Msg("nats publisher connected")

	return p, nil
}

func (p *Publisher) setConnected(connected bool) {
	if p.observer != nil {
		p.observer.SetNATSConnected(connected)
	}
}

// Name sink 名称
func (p *Publisher) Name() string {
	return "nats"
}

// Subject 发布主题
func (p *Publisher) Subject() string {
	return p.subject
}

// Deliver 发布一条策略通知
func (p *Publisher) Deliver(_ context.Context, n strategy.Notification) error {
	data, err := newNotificationMessage(n, p.now().UnixMilli()).Marshal()
	if err != nil {
		logger.Error().Err(err).Int64("id", n.ID).Msg("marshal notification failed")
		return err
	}

	return p.Publish(p.subject, data)
}

// IsConnected 检查发布器是否已连接
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed && p.Conn != nil && !p.Conn.IsClosed()
}

// Close 关闭连接
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	p.setConnected(false)

	if p.Conn != nil {
		if err := p.Conn.Drain(); err != nil {
			p.Conn.Close()
		}
	}
	return nil
}
