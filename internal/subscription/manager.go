package subscription

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/swn4894/elderly-dashboard/internal/gateway"
	"github.com/swn4894/elderly-dashboard/internal/models"
)

// Status 设备实时推送状态
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusLive         Status = "live"
	StatusReconnecting Status = "reconnecting"
	StatusUnavailable  Status = "unavailable" // 实时更新不可用，展示最后已知数据
	StatusClosed       Status = "closed"
)

// Subscriber 打开设备推送订阅（gateway.Client 实现）
type Subscriber interface {
	Subscribe(ctx context.Context, deviceID string) (gateway.Subscription, error)
}

// ReadingHandler 处理推送读数，gen 为打开订阅时的会话代次
type ReadingHandler func(ctx context.Context, gen uint64, r models.Reading)

// ReconnectHandler 重连成功后回调，用于补拉断线期间的历史
type ReconnectHandler func(ctx context.Context, gen uint64, deviceID string)

// StatusListener 状态变化回调
type StatusListener func(deviceID string, status Status)

// Options 重连参数
type Options struct {
	ReconnectDelay time.Duration // 首次重连等待
	MaxBackoff     time.Duration
	MaxReconnects  int // 连续失败后的重连次数，默认 1
}

type handle struct {
	deviceID string
	gen      uint64
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}

	mu     sync.Mutex
	status Status
}

// Manager 每个设备至多一个订阅句柄
//
// Open 会先同步关闭所有旧句柄再打开新集合；Close/CloseAll 返回后，
// 对应句柄不会再调用 ReadingHandler。
type Manager struct {
	subscriber Subscriber
	opts       Options
	logger     *zap.Logger

	mu       sync.Mutex
	handles  map[string]*handle
	listener StatusListener
}

// NewManager 创建订阅管理器
func NewManager(subscriber Subscriber, opts Options, logger *zap.Logger) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 2 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.MaxReconnects < 0 {
		opts.MaxReconnects = 0
	}
	return &Manager{
		subscriber: subscriber,
		opts:       opts,
		logger:     logger,
		handles:    make(map[string]*handle),
	}
}

// SetStatusListener 设置状态变化回调
func (m *Manager) SetStatusListener(fn StatusListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = fn
}

// Open 关闭现有全部订阅后，为 deviceIDs 各打开一个订阅
func (m *Manager) Open(ctx context.Context, gen uint64, deviceIDs []string, onReading ReadingHandler, onReconnect ReconnectHandler) {
	m.CloseAll()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range models.UniqueDeviceIDs(deviceIDs) {
		hctx, cancel := context.WithCancel(ctx)
		h := &handle{
			deviceID: id,
			gen:      gen,
			ctx:      hctx,
			cancel:   cancel,
			done:     make(chan struct{}),
			status:   StatusConnecting,
		}
		m.handles[id] = h
		go m.run(h, onReading, onReconnect)
	}

	m.logger.Info("Subscriptions opened",
		zap.Int("device_count", len(m.handles)),
		zap.Uint64("generation", gen),
	)
}

// Close 同步关闭单个设备的订阅
func (m *Manager) Close(deviceID string) {
	m.mu.Lock()
	h, ok := m.handles[deviceID]
	delete(m.handles, deviceID)
	m.mu.Unlock()
	if ok {
		m.stop(h)
	}
}

// CloseAll 同步关闭全部订阅
func (m *Manager) CloseAll() {
	m.mu.Lock()
	handles := m.handles
	m.handles = make(map[string]*handle)
	m.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
	for _, h := range handles {
		<-h.done
		m.setStatus(h, StatusClosed)
	}
	if len(handles) > 0 {
		m.logger.Info("Subscriptions closed", zap.Int("device_count", len(handles)))
	}
}

func (m *Manager) stop(h *handle) {
	h.cancel()
	<-h.done
	m.setStatus(h, StatusClosed)
}

// Devices 当前打开订阅的设备
func (m *Manager) Devices() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.handles))
	for id := range m.handles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Status 设备推送状态，未订阅返回 StatusClosed
func (m *Manager) Status(deviceID string) Status {
	m.mu.Lock()
	h, ok := m.handles[deviceID]
	m.mu.Unlock()
	if !ok {
		return StatusClosed
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Statuses 全部设备推送状态
func (m *Manager) Statuses() map[string]Status {
	m.mu.Lock()
	handles := make([]*handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	out := make(map[string]Status, len(handles))
	for _, h := range handles {
		h.mu.Lock()
		out[h.deviceID] = h.status
		h.mu.Unlock()
	}
	return out
}

func (m *Manager) setStatus(h *handle, status Status) {
	h.mu.Lock()
	changed := h.status != status
	h.status = status
	h.mu.Unlock()
	if !changed {
		return
	}

	m.mu.Lock()
	fn := m.listener
	m.mu.Unlock()
	if fn != nil {
		fn(h.deviceID, status)
	}
}

// run 维持一个设备的订阅：断开后等待退避再重连，连续失败超过 MaxReconnects 次后标记为不可用
func (m *Manager) run(h *handle, onReading ReadingHandler, onReconnect ReconnectHandler) {
	defer close(h.done)

	backoff := m.opts.ReconnectDelay
	attempts := 0
	for {
		sub, err := m.subscriber.Subscribe(h.ctx, h.deviceID)
		if h.ctx.Err() != nil {
			if sub != nil {
				sub.Close()
			}
			return
		}

		if err != nil {
			m.logger.Error("Failed to open subscription",
				zap.String("device_id", h.deviceID),
				zap.Int("attempt", attempts),
				zap.Error(err),
			)
		} else {
			m.setStatus(h, StatusLive)
			if attempts > 0 && onReconnect != nil {
				// 补拉断线期间可能错过的读数
				onReconnect(h.ctx, h.gen, h.deviceID)
			}

			received := m.pump(h, sub, onReading)
			if h.ctx.Err() != nil {
				return
			}
			if received {
				attempts = 0
				backoff = m.opts.ReconnectDelay
			}
			m.logger.Warn("Subscription stream ended",
				zap.String("device_id", h.deviceID),
				zap.Error(sub.Err()),
			)
		}

		if attempts >= m.opts.MaxReconnects {
			m.setStatus(h, StatusUnavailable)
			m.logger.Warn("Live updates unavailable",
				zap.String("device_id", h.deviceID),
				zap.Int("attempts", attempts),
			)
			return
		}
		attempts++
		m.setStatus(h, StatusReconnecting)

		select {
		case <-h.ctx.Done():
			return
		case <-time.After(backoff):
			backoff *= 2
			if backoff > m.opts.MaxBackoff {
				backoff = m.opts.MaxBackoff
			}
		}
	}
}

// pump 转发推送直到流结束或句柄关闭，返回期间是否收到过读数
func (m *Manager) pump(h *handle, sub gateway.Subscription, onReading ReadingHandler) bool {
	defer sub.Close()

	received := false
	for {
		select {
		case <-h.ctx.Done():
			return received
		case r, ok := <-sub.Events():
			if !ok {
				return received
			}
			if r.DeviceID != h.deviceID {
				continue
			}
			// 句柄已关闭时丢弃在途推送
			if h.ctx.Err() != nil {
				return received
			}
			onReading(h.ctx, h.gen, r)
			received = true
		}
	}
}
