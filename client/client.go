package client

import (
	"context"
	"errors"
	"net/http"

	"github.com/utrading/qd-client/config"
	"github.com/utrading/qd-client/internal/cleaner"
	"github.com/utrading/qd-client/internal/credential"
	"github.com/utrading/qd-client/internal/dashboard"
	"github.com/utrading/qd-client/internal/monitor"
	"github.com/utrading/qd-client/internal/nats"
	"github.com/utrading/qd-client/internal/notification"
	"github.com/utrading/qd-client/internal/router"
	"github.com/utrading/qd-client/internal/session"
	"github.com/utrading/qd-client/internal/storage"
	"github.com/utrading/qd-client/internal/strategy"
	"github.com/utrading/qd-client/internal/transport"
	"github.com/utrading/qd-client/pkg/logger"
)

// ErrPollerDisabled 未启用通知轮询
var ErrPollerDisabled = errors.New("notification poller is disabled")

// Client 按配置组装的客户端，各组件共享同一个 API 连接和会话
type Client struct {
	Session     *session.Store
	Strategies  *strategy.Service
	Credentials *credential.Store
	Dashboard   *dashboard.Service

	cfg        *config.Config
	api        *transport.Client
	storage    storage.Store
	metrics    *monitor.Metrics
	publisher  *nats.Publisher
	poller     *notification.Poller
	health     *monitor.HealthServer
	cleaner    *cleaner.Cleaner
	ownsLogger bool
}

type options struct {
	httpClient *http.Client
	storage    storage.Store
	initLogger bool
	sinks      []notification.Sink
}

type Option func(*options)

// WithHTTPClient 自定义 HTTP 客户端，代理配置不再生效
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// WithStorage 使用外部存储代替 [storage] 配置，Close 时一并关闭
func WithStorage(st storage.Store) Option {
	return func(o *options) {
		o.storage = st
	}
}

// WithoutLoggerInit 宿主程序已初始化日志时使用
func WithoutLoggerInit() Option {
	return func(o *options) {
		o.initLogger = false
	}
}

// WithNotificationSinks 追加通知 sink
func WithNotificationSinks(sinks ...notification.Sink) Option {
	return func(o *options) {
		o.sinks = append(o.sinks, sinks...)
	}
}

// New 初始化日志、存储、API 连接，恢复会话并启动可选的后台组件。
// cfg 为 nil 时使用 config.Get() 当时的快照，之后 config.Init 的热加载不影响
// 已创建的 Client，需要新配置时重新创建；ctx 取消后后台轮询与清理随之停止。
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = config.Get()
	}
	o := &options{initLogger: true}
	for _, opt := range opts {
		opt(o)
	}

	c := &Client{cfg: cfg}

	if o.initLogger {
		if err := initLogger(cfg.Logger); err != nil {
			return nil, err
		}
		c.ownsLogger = true
	}

	c.metrics = monitor.NewMetrics(cfg.Monitor.Namespace)

	// 存储
	c.storage = o.storage
	if c.storage == nil {
		st, err := storage.Open(ctx, cfg.Storage)
		if err != nil {
			c.closeLogger()
			return nil, err
		}
		c.storage = st
	}

	// API
	c.api = transport.NewClient(cfg.API.BaseURL, apiOptions(cfg.API, o.httpClient, c.metrics)...)

	// 会话
	c.Session = session.NewStore(c.api, c.storage,
		session.WithTTL(cfg.Session.TTL),
		session.WithDefaultAvatar(cfg.Session.DefaultAvatar),
		session.WithObserver(c.metrics),
	)
	if err := c.Session.Restore(ctx); err != nil {
		logger.Warn().Err(err).Msg("restore session failed, starting anonymous")
	}
	c.api.SetTokenSource(c.Session.Token)

	c.Strategies = strategy.NewService(c.api, strategy.WithObserver(c.metrics))
	c.Credentials = credential.NewStore(c.api)
	c.Dashboard = dashboard.NewService(c.api)

	if err := c.startBackground(ctx, o.sinks); err != nil {
		c.Close(ctx)
		return nil, err
	}

	logger.Info().
		Str("base_url", cfg.API.BaseURL).
		Str("storage", cfg.Storage.Driver).
		Str("state", c.Session.State().String()).
		Msg("qd client ready")

	return c, nil
}

func apiOptions(cfg config.API, hc *http.Client, observer transport.Observer) []transport.ClientOpt {
	opts := []transport.ClientOpt{
		transport.WithTimeout(cfg.Timeout),
		transport.WithUserAgent(cfg.UserAgent),
		transport.WithObserver(observer),
	}
	if cfg.Debug {
		opts = append(opts, transport.WithDebug())
	}
	if hc != nil {
		opts = append(opts, transport.WithHTTPClient(hc))
	} else if cfg.ProxyEnabled && cfg.ProxyAddr != "" {
		opts = append(opts, transport.WithSOCKS5Proxy(cfg.ProxyAddr))
	}
	return opts
}

func (c *Client) startBackground(ctx context.Context, sinks []notification.Sink) error {
	cfg := c.cfg

	// 数据库存储定期清理过期会话
	if p, ok := c.storage.(cleaner.Purger); ok {
		c.cleaner = cleaner.NewCleaner(p, 0)
		c.cleaner.Start(ctx)
	}

	if cfg.NATS.Enabled {
		pub, err := nats.NewPublisher(cfg.NATS.Endpoint,
			nats.WithSubject(cfg.NATS.Subject),
			nats.WithConnObserver(c.metrics),
		)
		if err != nil {
			return err
		}
		c.publisher = pub
		sinks = append(sinks, pub)
	}

	if cfg.Notification.Enabled {
		c.poller = notification.NewPoller(c.Strategies,
			notification.WithInterval(cfg.Notification.PollInterval),
			notification.WithLimit(cfg.Notification.Limit),
			notification.WithStrategyID(cfg.Notification.StrategyID),
			notification.WithObserver(c.metrics),
			notification.WithCursorStore(c.storage),
			notification.WithSinks(sinks...),
		)
		if err := c.poller.Start(ctx); err != nil {
			return err
		}
	}

	if cfg.Monitor.Enabled && cfg.Monitor.Addr != "" {
		healthOpts := []monitor.HealthOption{monitor.WithSession(c.Session)}
		if c.publisher != nil {
			healthOpts = append(healthOpts, monitor.WithPublisher(c.publisher))
		}
		if c.poller != nil {
			healthOpts = append(healthOpts, monitor.WithPoller(c.poller))
		}
		c.health = monitor.NewHealthServer(cfg.Monitor.Addr, c.metrics, healthOpts...)
		if err := c.health.Start(ctx); err != nil {
			return err
		}
	}

	return nil
}

// Routes 当前会话可用的路由树
func (c *Client) Routes(ctx context.Context) ([]router.Route, error) {
	return router.Generate(ctx, c.Session.Roles())
}

// Config 创建时使用的配置快照，只读
func (c *Client) Config() *config.Config {
	return c.cfg
}

// Metrics 客户端指标，Handler() 可挂到宿主程序的 HTTP 服务
func (c *Client) Metrics() *monitor.Metrics {
	return c.metrics
}

// AddNotificationSink 运行中追加通知 sink
func (c *Client) AddNotificationSink(s notification.Sink) error {
	if c.poller == nil {
		return ErrPollerDisabled
	}
	c.poller.AddSink(s)
	return nil
}

// PollNotifications 立即执行一次轮询
func (c *Client) PollNotifications(ctx context.Context) (int, error) {
	if c.poller == nil {
		return 0, ErrPollerDisabled
	}
	return c.poller.Poll(ctx)
}

// Close 按启动的逆序释放资源，不会登出会话
func (c *Client) Close(ctx context.Context) error {
	var errs []error

	if c.health != nil {
		if err := c.health.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if c.poller != nil {
		c.poller.Stop()
	}
	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.cleaner != nil {
		c.cleaner.Stop()
	}
	if c.storage != nil {
		if err := c.storage.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	logger.Info().Msg("qd client closed")
	c.closeLogger()

	return errors.Join(errs...)
}

func (c *Client) closeLogger() {
	if c.ownsLogger {
		logger.Close()
		c.ownsLogger = false
	}
}

func initLogger(cfg config.Logger) error {
	return logger.NewBuilder().
		SetLevel(cfg.Level).
		AddLevelFile(logger.INFO, cfg.InfoFile).
		AddLevelFile(logger.ERROR, cfg.ErrorFile).
		SetMaxSize(cfg.MaxSize).
		SetMaxBackups(cfg.MaxBackups).
		SetMaxAge(cfg.MaxAge).
		EnableCompression(cfg.Compress).
		EnableConsoleOutput(cfg.Console).
		Build()
}
