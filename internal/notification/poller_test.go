package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utrading/qd-client/internal/storage"
	"github.com/utrading/qd-client/internal/strategy"
)

// fakeSource 模拟后端：返回 id > since_id 的通知，按 id 倒序
type fakeSource struct {
	mu      sync.Mutex
	items   []strategy.Notification
	err     error
	queries []strategy.NotificationQuery
}

func (f *fakeSource) Notifications(_ context.Context, q strategy.NotificationQuery) ([]strategy.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}

	var out []strategy.Notification
	for i := len(f.items) - 1; i >= 0; i-- {
		if f.items[i].ID > q.SinceID {
			out = append(out, f.items[i])
		}
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSource) add(ids ...int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.items = append(f.items, strategy.Notification{ID: id, Title: "n"})
	}
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSource) lastQuery() strategy.NotificationQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[len(f.queries)-1]
}

type recordingSink struct {
	name string
	err  error

	mu  sync.Mutex
	ids []int64
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(_ context.Context, n strategy.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, n.ID)
	return s.err
}

func (s *recordingSink) received() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.ids...)
}

type pollCounter struct {
	mu         sync.Mutex
	polls      map[string]int
	deliveries map[string]int
	cursor     int64
}

func newPollCounter() *pollCounter {
	return &pollCounter{polls: map[string]int{}, deliveries: map[string]int{}}
}

func (c *pollCounter) ObservePoll(outcome string, _ int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polls[outcome]++
}

func (c *pollCounter) ObserveDelivery(sink string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		sink += ":error"
	}
	c.deliveries[sink]++
}

func (c *pollCounter) SetNotificationCursor(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursor = id
}

func TestPoller_DeliversOldestFirst(t *testing.T) {
	src := &fakeSource{}
	src.add(1, 2, 3)
	sink := &recordingSink{name: "rec"}
	obs := newPollCounter()
	p := NewPoller(src, WithSinks(sink), WithObserver(obs), WithStrategyID(4), WithLimit(10))
	ctx := context.Background()

	n, err := p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []int64{1, 2, 3}, sink.received())
	assert.Equal(t, int64(3), p.Cursor())
	assert.Equal(t, strategy.NotificationQuery{StrategyID: 4, SinceID: 0, Limit: 10}, src.lastQuery())

	// 无新通知
	n, err = p.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, int64(3), src.lastQuery().SinceID)

	src.add(4, 5)
	n, err = p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, sink.received())
	assert.Equal(t, int64(5), obs.cursor)
	assert.Equal(t, 3, obs.polls["ok"])
}

func TestPoller_ErrorKeepsCursor(t *testing.T) {
	src := &fakeSource{}
	src.add(1, 2)
	sink := &recordingSink{name: "rec"}
	obs := newPollCounter()
	p := NewPoller(src, WithSinks(sink), WithObserver(obs))
	ctx := context.Background()

	_, err := p.Poll(ctx)
	require.NoError(t, err)

	boom := errors.New("connection refused")
	src.setErr(boom)
	src.add(3)
	_, err = p.Poll(ctx)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int64(2), p.Cursor())
	assert.Equal(t, 1, obs.polls["error"])

	src.setErr(nil)
	_, err = p.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), src.lastQuery().SinceID)
	assert.Equal(t, []int64{1, 2, 3}, sink.received())
}

func TestPoller_BacklogLargerThanLimit(t *testing.T) {
	src := &fakeSource{}
	src.add(1, 2, 3, 4, 5)
	sink := &recordingSink{name: "rec"}
	p := NewPoller(src, WithSinks(sink), WithLimit(2))

	n, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, sink.received())
	assert.Equal(t, int64(5), p.Cursor())

	// 页满时加倍重取，直到覆盖游标
	src.mu.Lock()
	limits := make([]int, 0, len(src.queries))
	for _, q := range src.queries {
		limits = append(limits, q.Limit)
	}
	src.mu.Unlock()
	assert.Equal(t, []int{2, 4, 8}, limits)
}

func TestPoller_BacklogBeyondMaxLimit(t *testing.T) {
	src := &fakeSource{}
	for id := int64(1); id <= 250; id++ {
		src.add(id)
	}
	sink := &recordingSink{name: "rec"}
	p := NewPoller(src, WithSinks(sink), WithLimit(500))

	n, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, maxLimit, n)
	got := sink.received()
	assert.Equal(t, int64(51), got[0])
	assert.Equal(t, int64(250), got[len(got)-1])
	assert.Equal(t, maxLimit, src.lastQuery().Limit)
}

func TestPoller_SinkFailureDoesNotBlock(t *testing.T) {
	src := &fakeSource{}
	src.add(7)
	bad := &recordingSink{name: "bad", err: errors.New("publish failed")}
	good := &recordingSink{name: "good"}
	obs := newPollCounter()
	p := NewPoller(src, WithSinks(bad), WithObserver(obs))
	p.AddSink(good)

	n, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{7}, good.received())
	assert.Equal(t, int64(7), p.Cursor())
	assert.Equal(t, 1, obs.deliveries["bad:error"])
	assert.Equal(t, 1, obs.deliveries["good"])
}

func TestPoller_IgnoresStaleItems(t *testing.T) {
	src := &fakeSource{}
	src.add(3, 4, 5)
	sink := &recordingSink{name: "rec"}
	p := NewPoller(src, WithSinks(sink), WithCursor(4))

	n, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{5}, sink.received())
}

func TestPoller_CursorPersisted(t *testing.T) {
	st := storage.NewMemory()
	ctx := context.Background()
	src := &fakeSource{}
	src.add(1, 2, 3)

	first := NewPoller(src, WithCursorStore(st))
	require.NoError(t, first.Start(ctx))
	first.Stop()

	raw, err := st.Get(ctx, KeyCursor)
	require.NoError(t, err)
	assert.Equal(t, "3", string(raw))

	sink := &recordingSink{name: "rec"}
	src.add(4)
	second := NewPoller(src, WithCursorStore(st), WithSinks(sink))
	require.NoError(t, second.Start(ctx))
	second.Stop()

	assert.Equal(t, []int64{4}, sink.received())
}

func TestPoller_StartStop(t *testing.T) {
	src := &fakeSource{}
	sink := &recordingSink{name: "rec"}
	p := NewPoller(src, WithSinks(sink), WithInterval(10*time.Millisecond))
	ctx := context.Background()

	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.Start(ctx))
	assert.True(t, p.Running())

	src.add(1)
	assert.Eventually(t, func() bool {
		return len(sink.received()) == 1
	}, time.Second, 5*time.Millisecond)

	p.Stop()
	p.Stop()
	assert.False(t, p.Running())

	// 停止后可以再次启动
	require.NoError(t, p.Start(ctx))
	p.Stop()
}
