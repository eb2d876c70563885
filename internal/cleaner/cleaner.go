package cleaner

import (
	"context"
	"sync"
	"time"

	"github.com/utrading/qd-client/pkg/goplus"
	"github.com/utrading/qd-client/pkg/logger"
)

const defaultInterval = time.Hour

// Purger 支持批量删除过期记录的存储，storage.Database 实现
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Cleaner 定时清理持久化存储中的过期会话数据
type Cleaner struct {
	purger   Purger
	interval time.Duration
	group    *goplus.WaitGroup

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewCleaner 创建清理器，interval <= 0 时使用 1 小时
func NewCleaner(purger Purger, interval time.Duration) *Cleaner {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Cleaner{
		purger:   purger,
		interval: interval,
		group:    goplus.NewWaitGroup(),
	}
}

// Start 启动清理任务，重复调用无副作用
func (c *Cleaner) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.group.Go(func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		logger.Info().Dur("interval", c.interval).Msg("cleaner started")

		for {
			select {
			case <-ticker.C:
				c.Clean(ctx)
			case <-ctx.Done():
				logger.Info().Msg("cleaner stopped")
				return
			}
		}
	})
}

// Stop 停止清理器并等待退出
func (c *Cleaner) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		c.group.Wait()
	}
}

// Clean 执行一次清理，返回删除条数
func (c *Cleaner) Clean(ctx context.Context) int64 {
	deleted, err := c.purger.PurgeExpired(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("purge expired entries failed")
		return 0
	}

	if deleted > 0 {
		logger.Info().Int64("deleted", deleted).Msg("cleaned expired storage entries")
	}
	return deleted
}
