package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swn4894/elderly-dashboard/internal/gateway"
	"github.com/swn4894/elderly-dashboard/internal/models"
)

type fakeSub struct {
	events chan models.Reading
	mu     sync.Mutex
	closed bool
	err    error
}

func newFakeSub() *fakeSub {
	return &fakeSub{events: make(chan models.Reading, 8)}
}

func (s *fakeSub) Events() <-chan models.Reading { return s.events }

func (s *fakeSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSub) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// end 模拟服务端断开
func (s *fakeSub) end(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.events)
}

// fakeSubscriber 按设备依次返回预置结果，用完后返回错误
type fakeSubscriber struct {
	mu      sync.Mutex
	results map[string][]interface{} // *fakeSub 或 error
	opened  map[string][]*fakeSub
	calls   map[string]int
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{
		results: make(map[string][]interface{}),
		opened:  make(map[string][]*fakeSub),
		calls:   make(map[string]int),
	}
}

func (f *fakeSubscriber) queue(deviceID string, results ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[deviceID] = append(f.results[deviceID], results...)
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, deviceID string) (gateway.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[deviceID]++
	queue := f.results[deviceID]
	if len(queue) == 0 {
		sub := newFakeSub()
		f.opened[deviceID] = append(f.opened[deviceID], sub)
		return sub, nil
	}
	next := queue[0]
	f.results[deviceID] = queue[1:]
	if err, ok := next.(error); ok {
		return nil, err
	}
	sub := next.(*fakeSub)
	f.opened[deviceID] = append(f.opened[deviceID], sub)
	return sub, nil
}

func (f *fakeSubscriber) latest(deviceID string) *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs := f.opened[deviceID]
	if len(subs) == 0 {
		return nil
	}
	return subs[len(subs)-1]
}

func (f *fakeSubscriber) callCount(deviceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[deviceID]
}

type collector struct {
	mu       sync.Mutex
	readings []models.Reading
	gens     []uint64
}

func (c *collector) handle(ctx context.Context, gen uint64, r models.Reading) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readings = append(c.readings, r)
	c.gens = append(c.gens, gen)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.readings)
}

func newTestManager(f *fakeSubscriber) *Manager {
	return NewManager(f, Options{ReconnectDelay: time.Millisecond, MaxReconnects: 1}, zap.NewNop())
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestOpen_DeliversPerDevice(t *testing.T) {
	f := newFakeSubscriber()
	m := newTestManager(f)
	c := &collector{}

	m.Open(context.Background(), 7, []string{"D1", "D2", "D1"}, c.handle, nil)
	defer m.CloseAll()

	assert.Equal(t, []string{"D1", "D2"}, m.Devices())
	waitFor(t, func() bool { return f.latest("D1") != nil && f.latest("D2") != nil })
	waitFor(t, func() bool { return m.Status("D1") == StatusLive })

	f.latest("D1").events <- models.Reading{DeviceID: "D1", Timestamp: "t1", HeartRate: 70}
	// 其他设备的推送被过滤
	f.latest("D1").events <- models.Reading{DeviceID: "D2", Timestamp: "t2", HeartRate: 70}
	f.latest("D2").events <- models.Reading{DeviceID: "D2", Timestamp: "t3", HeartRate: 70}

	waitFor(t, func() bool { return c.count() == 2 })
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.ElementsMatch(t, []string{"t1", "t3"}, []string{c.readings[0].Timestamp, c.readings[1].Timestamp})
	assert.Equal(t, []uint64{7, 7}, c.gens)
}

func TestOpen_ReplacesPreviousSet(t *testing.T) {
	f := newFakeSubscriber()
	m := newTestManager(f)
	c := &collector{}

	m.Open(context.Background(), 1, []string{"D1", "D2"}, c.handle, nil)
	waitFor(t, func() bool { return f.latest("D1") != nil && f.latest("D2") != nil })
	oldD1, oldD2 := f.latest("D1"), f.latest("D2")

	m.Open(context.Background(), 2, []string{"D1"}, c.handle, nil)
	defer m.CloseAll()

	// 旧句柄全部同步关闭
	assert.True(t, oldD1.isClosed())
	assert.True(t, oldD2.isClosed())
	assert.Equal(t, []string{"D1"}, m.Devices())
	assert.Equal(t, StatusClosed, m.Status("D2"))

	waitFor(t, func() bool { return f.callCount("D1") == 2 })
	assert.Equal(t, 1, f.callCount("D2"))

	// 旧订阅上的在途推送不会送达
	oldD2.events <- models.Reading{DeviceID: "D2", Timestamp: "late", HeartRate: 40}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, c.count())
}

func TestCloseAll_NoCallbackAfterReturn(t *testing.T) {
	f := newFakeSubscriber()
	m := newTestManager(f)
	c := &collector{}

	m.Open(context.Background(), 1, []string{"D1"}, c.handle, nil)
	waitFor(t, func() bool { return m.Status("D1") == StatusLive })
	sub := f.latest("D1")

	m.CloseAll()
	assert.True(t, sub.isClosed())
	assert.Empty(t, m.Devices())

	sub.events <- models.Reading{DeviceID: "D1", Timestamp: "late", HeartRate: 40}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, c.count())

	// 重复关闭无副作用
	m.CloseAll()
	m.Close("D1")
}

func TestStreamErrorReconnectsOnceThenRedrains(t *testing.T) {
	f := newFakeSubscriber()
	first := newFakeSub()
	f.queue("D1", first)

	m := newTestManager(f)
	var mu sync.Mutex
	var redrained []string
	m.Open(context.Background(), 3, []string{"D1"}, (&collector{}).handle, func(ctx context.Context, gen uint64, deviceID string) {
		mu.Lock()
		defer mu.Unlock()
		redrained = append(redrained, deviceID)
	})
	defer m.CloseAll()

	waitFor(t, func() bool { return m.Status("D1") == StatusLive })
	first.end(errors.New("connection reset"))

	waitFor(t, func() bool { return f.callCount("D1") == 2 })
	waitFor(t, func() bool { return m.Status("D1") == StatusLive })
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(redrained) == 1
	})
	assert.True(t, first.isClosed())
}

func TestReconnectFailureMarksUnavailable(t *testing.T) {
	f := newFakeSubscriber()
	first := newFakeSub()
	f.queue("D1", first, errors.New("dial failed"))

	m := newTestManager(f)
	var mu sync.Mutex
	var statuses []Status
	m.SetStatusListener(func(deviceID string, status Status) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, status)
	})
	m.Open(context.Background(), 1, []string{"D1"}, (&collector{}).handle, nil)
	defer m.CloseAll()

	waitFor(t, func() bool { return m.Status("D1") == StatusLive })
	first.end(errors.New("connection reset"))

	waitFor(t, func() bool { return m.Status("D1") == StatusUnavailable })
	assert.Equal(t, 2, f.callCount("D1"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{StatusLive, StatusReconnecting, StatusUnavailable}, statuses)
}

func TestInitialSubscribeFailureRetriesOnce(t *testing.T) {
	f := newFakeSubscriber()
	f.queue("D1", errors.New("unauthorized"), errors.New("unauthorized"))

	m := newTestManager(f)
	m.Open(context.Background(), 1, []string{"D1"}, (&collector{}).handle, nil)
	defer m.CloseAll()

	waitFor(t, func() bool { return m.Status("D1") == StatusUnavailable })
	assert.Equal(t, 2, f.callCount("D1"))
	assert.Equal(t, map[string]Status{"D1": StatusUnavailable}, m.Statuses())
}

func TestReadingResetsReconnectBudget(t *testing.T) {
	f := newFakeSubscriber()
	first, second, third := newFakeSub(), newFakeSub(), newFakeSub()
	f.queue("D1", first, second, third)

	m := newTestManager(f)
	c := &collector{}
	m.Open(context.Background(), 1, []string{"D1"}, c.handle, nil)
	defer m.CloseAll()

	waitFor(t, func() bool { return m.Status("D1") == StatusLive })
	first.end(errors.New("reset"))

	waitFor(t, func() bool { return f.callCount("D1") == 2 && m.Status("D1") == StatusLive })
	second.events <- models.Reading{DeviceID: "D1", Timestamp: "t1", HeartRate: 70}
	waitFor(t, func() bool { return c.count() == 1 })
	second.end(errors.New("reset again"))

	// 收到过读数，重连预算恢复
	waitFor(t, func() bool { return f.callCount("D1") == 3 && m.Status("D1") == StatusLive })
}
