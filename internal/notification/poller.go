package notification

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"github.com/utrading/qd-client/internal/storage"
	"github.com/utrading/qd-client/internal/strategy"
	"github.com/utrading/qd-client/pkg/goplus"
	"github.com/utrading/qd-client/pkg/logger"
)

const (
	defaultInterval = 5 * time.Second
	defaultLimit    = 50
	// maxLimit 后端单次返回的上限
	maxLimit = 200

	// KeyCursor 持久化游标的键
	KeyCursor = "Notification-Cursor"
)

// Source 通知来源，strategy.Service 实现
type Source interface {
	Notifications(ctx context.Context, q strategy.NotificationQuery) ([]strategy.Notification, error)
}

// Sink 通知接收方
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n strategy.Notification) error
}

// Observer 轮询观察者（指标）
type Observer interface {
	ObservePoll(outcome string, fetched int)
	ObserveDelivery(sink string, err error)
	SetNotificationCursor(id int64)
}

// Poller 按 since_id 游标轮询策略通知，按 id 升序投递给所有 sink。
// 同一时间只有一个请求在途；请求失败时游标不变，下次重试同一区间。
type Poller struct {
	source     Source
	interval   time.Duration
	limit      int
	strategyID int64
	observer   Observer
	store      storage.Store

	sinksMu sync.RWMutex
	sinks   []Sink

	cursor  atomic.Int64
	polling sync.Mutex

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *goplus.WaitGroup
	running atomic.Bool
}

type Option func(*Poller)

func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithLimit(limit int) Option {
	return func(p *Poller) {
		if limit > 0 {
			p.limit = min(limit, maxLimit)
		}
	}
}

// WithStrategyID 只轮询指定策略，0 表示全部
func WithStrategyID(id int64) Option {
	return func(p *Poller) {
		p.strategyID = id
	}
}

func WithSinks(sinks ...Sink) Option {
	return func(p *Poller) {
		p.sinks = append(p.sinks, sinks...)
	}
}

func WithObserver(o Observer) Option {
	return func(p *Poller) {
		p.observer = o
	}
}

// WithCursor 初始游标，之前的通知不再投递
func WithCursor(id int64) Option {
	return func(p *Poller) {
		p.cursor.Store(id)
	}
}

// WithCursorStore 游标持久化，启动时恢复
func WithCursorStore(st storage.Store) Option {
	return func(p *Poller) {
		p.store = st
	}
}

func NewPoller(source Source, opts ...Option) *Poller {
	p := &Poller{
		source:   source,
		interval: defaultInterval,
		limit:    defaultLimit,
		group:    goplus.NewWaitGroup(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// AddSink 注册 sink，可在运行中调用
func (p *Poller) AddSink(s Sink) {
	p.sinksMu.Lock()
	defer p.sinksMu.Unlock()
	p.sinks = append(p.sinks, s)
}

// Cursor 已投递的最大通知 id
func (p *Poller) Cursor() int64 {
	return p.cursor.Load()
}

func (p *Poller) Running() bool {
	return p.running.Load()
}

// Start 恢复游标并启动轮询，重复调用无副作用
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return nil
	}

	if err := p.restoreCursor(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running.Store(true)

	p.group.Go(func() {
		defer p.running.Store(false)
		p.loop(ctx)
	})

	logger.Info().
		Dur("interval", p.interval).
		Int64("cursor", p.Cursor()).
		Int64("strategy_id", p.strategyID).
		Msg("notification poller started")

	return nil
}

// Stop 停止轮询并等待当前请求结束，可重复调用
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	p.group.Wait()

	logger.Info().Int64("cursor", p.Cursor()).Msg("notification poller stopped")
}

func (p *Poller) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Int64("cursor", p.Cursor()).Msg("poll notifications failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Poll 执行一次轮询，返回投递的新通知数
func (p *Poller) Poll(ctx context.Context) (int, error) {
	p.polling.Lock()
	defer p.polling.Unlock()

	since := p.cursor.Load()
	items, err := p.fetch(ctx, since)
	if err != nil {
		p.observePoll("error", 0)
		return 0, err
	}

	// 后端按 id 倒序返回，投递按时间先后
	fresh := lo.Filter(items, func(n strategy.Notification, _ int) bool { return n.ID > since })
	slices.SortFunc(fresh, func(a, b strategy.Notification) int {
		return cmp.Compare(a.ID, b.ID)
	})
	p.observePoll("ok", len(fresh))

	if len(fresh) == 0 {
		return 0, nil
	}

	sinks := p.snapshotSinks()
	for _, n := range fresh {
		p.deliver(ctx, sinks, n)
	}

	last := fresh[len(fresh)-1].ID
	p.cursor.Store(last)
	if p.observer != nil {
		p.observer.SetNotificationCursor(last)
	}
	p.persistCursor(ctx, last)

	logger.Debug().Int("count", len(fresh)).Int64("cursor", last).Msg("notifications delivered")

	return len(fresh), nil
}

// fetch 后端返回 id > since 中最新的 limit 条。页满时可能没有覆盖到游标，
// 加倍 limit 重取直到页不满；到达上限仍满时积压更早的部分无法取回。
func (p *Poller) fetch(ctx context.Context, since int64) ([]strategy.Notification, error) {
	limit := p.limit
	for {
		items, err := p.source.Notifications(ctx, strategy.NotificationQuery{
			StrategyID: p.strategyID,
			SinceID:    since,
			Limit:      limit,
		})
		if err != nil {
			return nil, err
		}
		if len(items) < limit {
			return items, nil
		}
		if limit >= maxLimit {
			logger.Warn().
				Int64("cursor", since).
				Int("limit", limit).
				Msg("notification backlog exceeds page limit, older items skipped")
			return items, nil
		}
		limit = min(limit*2, maxLimit)
	}
}

// deliver sink 失败只记录，不阻塞其他 sink 和游标推进
func (p *Poller) deliver(ctx context.Context, sinks []Sink, n strategy.Notification) {
	for _, s := range sinks {
		err := s.Deliver(ctx, n)
		if p.observer != nil {
			p.observer.ObserveDelivery(s.Name(), err)
		}
		if err != nil {
			logger.Error().Err(err).Str("sink", s.Name()).Int64("id", n.ID).Msg("deliver notification failed")
		}
	}
}

func (p *Poller) snapshotSinks() []Sink {
	p.sinksMu.RLock()
	defer p.sinksMu.RUnlock()
	return slices.Clone(p.sinks)
}

func (p *Poller) observePoll(outcome string, fetched int) {
	if p.observer != nil {
		p.observer.ObservePoll(outcome, fetched)
	}
}

func (p *Poller) restoreCursor(ctx context.Context) error {
	if p.store == nil {
		return nil
	}

	raw, err := p.store.Get(ctx, KeyCursor)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		logger.Warn().Err(err).Msg("invalid persisted notification cursor, ignored")
		return nil
	}
	if id > p.cursor.Load() {
		p.cursor.Store(id)
	}
	return nil
}

func (p *Poller) persistCursor(ctx context.Context, id int64) {
	if p.store == nil {
		return
	}
	if err := p.store.Set(ctx, KeyCursor, []byte(strconv.FormatInt(id, 10)), time.Time{}); err != nil {
		logger.Warn().Err(err).Int64("cursor", id).Msg("persist notification cursor failed")
	}
}
