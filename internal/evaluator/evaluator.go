package evaluator

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/swn4894/elderly-dashboard/internal/models"
)

// ErrNoActiveAlert 当前没有待确认的告警
var ErrNoActiveAlert = errors.New("evaluator: no active alert")

// Sink 告警事件落地（告警日志、事件流、消息总线）
type Sink interface {
	Record(ctx context.Context, event *models.AlertEvent) error
}

// Acknowledger 可选接口：Sink 同步告警确认
type Acknowledger interface {
	Acknowledge(ctx context.Context, eventID string, at time.Time) error
}

// Listener 告警事件回调（新告警与确认都会触发）
type Listener func(event models.AlertEvent)

// Options 评估器参数
type Options struct {
	Thresholds   Thresholds
	RecentLimit  int // 最近事件保留条数
	SeenCapacity int // 每设备已评估读数记忆条数
}

// Evaluator 心率告警评估器
//
// 每条读数只评估一次：调用方只提交新进入窗口的读数，评估器另外记住每设备最近评估过的
// (deviceId, timestamp)，重复提交直接忽略。LOW 告警占用唯一的待确认槽位（后到覆盖先到），
// HIGH 告警只记录与提示。
type Evaluator struct {
	opts   Options
	sinks  []Sink
	logger *zap.Logger
	now    func() time.Time

	mu        sync.Mutex
	lastSeen  map[string]models.Reading
	seen      map[string]*seenRing
	active    *models.AlertState
	recent    []models.AlertEvent // 新的在前
	listeners map[uint64]Listener
	nextID    uint64
}

// NewEvaluator 创建评估器
func NewEvaluator(opts Options, logger *zap.Logger, sinks ...Sink) *Evaluator {
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds()
	}
	if opts.RecentLimit <= 0 {
		opts.RecentLimit = 50
	}
	if opts.SeenCapacity <= 0 {
		opts.SeenCapacity = 32
	}
	return &Evaluator{
		opts:      opts,
		sinks:     sinks,
		logger:    logger,
		now:       time.Now,
		lastSeen:  make(map[string]models.Reading),
		seen:      make(map[string]*seenRing),
		listeners: make(map[uint64]Listener),
	}
}

// Thresholds 当前阈值
func (e *Evaluator) Thresholds() Thresholds {
	return e.opts.Thresholds
}

// Evaluate 评估一条新读数，产生告警时返回告警事件
func (e *Evaluator) Evaluate(ctx context.Context, r models.Reading) *models.AlertEvent {
	// 心率缺失（佩戴异常等）不参与评估
	if r.HeartRate <= 0 {
		e.logger.Debug("Reading without heart rate, skipping",
			zap.String("device_id", r.DeviceID),
			zap.String("timestamp", r.Timestamp),
		)
		return nil
	}
	key := r.Key()
	t := e.opts.Thresholds
	class := t.Classify(r.HeartRate)

	e.mu.Lock()
	ring, ok := e.seen[r.DeviceID]
	if !ok {
		ring = newSeenRing(e.opts.SeenCapacity)
		e.seen[r.DeviceID] = ring
	}
	if !ring.add(key) {
		e.mu.Unlock()
		e.logger.Debug("Reading already evaluated, skipping",
			zap.String("device_id", r.DeviceID),
			zap.String("timestamp", r.Timestamp),
		)
		return nil
	}

	// 只跟踪最新读数的分类变化，迟到的旧读数不改变 lastSeen
	prev, hadPrev := e.lastSeen[r.DeviceID]
	if !hadPrev || models.CompareTimestamps(r.Timestamp, prev.Timestamp) > 0 {
		e.lastSeen[r.DeviceID] = r
		if hadPrev {
			if prevClass := t.Classify(prev.HeartRate); prevClass != class {
				e.logger.Info("Heart rate class changed",
					zap.String("device_id", r.DeviceID),
					zap.String("from", string(prevClass)),
					zap.String("to", string(class)),
					zap.Int("heart_rate", r.HeartRate),
				)
			}
		}
	}

	alertType, worthy := t.AlertType(r.HeartRate)
	if !worthy {
		e.mu.Unlock()
		return nil
	}

	event := NewAlertEventBuilder(r.DeviceID, t).BuildAlertEvent(r, alertType, e.now())
	if event.Severity == models.SeverityInterrupt {
		if e.active != nil {
			e.logger.Info("Replacing unacknowledged alert",
				zap.String("previous_alert_id", e.active.AlertID),
				zap.String("previous_device_id", e.active.DeviceID),
			)
		}
		e.active = BuildAlertState(event)
	}
	e.pushRecent(*event)
	listeners := e.snapshotListeners()
	e.mu.Unlock()

	e.logger.Warn("Heart rate alert detected",
		zap.String("event_id", event.EventID),
		zap.String("device_id", event.DeviceID),
		zap.String("alert_type", string(event.AlertType)),
		zap.String("severity", string(event.Severity)),
		zap.Int("heart_rate", event.HeartRate),
		zap.String("reading_timestamp", event.ReadingTimestamp),
	)

	for _, sink := range e.sinks {
		if err := sink.Record(ctx, event); err != nil {
			e.logger.Error("Failed to record alert event",
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
			// 继续处理其他 sink，不中断
		}
	}
	for _, fn := range listeners {
		fn(*event)
	}
	return event
}

// ActiveAlert 当前待确认的告警，没有时返回 nil
func (e *Evaluator) ActiveAlert() *models.AlertState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil {
		return nil
	}
	state := *e.active
	return &state
}

// Acknowledge 确认当前告警并清除，返回被确认的告警
func (e *Evaluator) Acknowledge(ctx context.Context) (*models.AlertState, error) {
	now := e.now()

	e.mu.Lock()
	if e.active == nil {
		e.mu.Unlock()
		return nil, ErrNoActiveAlert
	}
	state := *e.active
	state.Acknowledged = true
	state.AcknowledgedAt = &now
	e.active = nil

	var acked models.AlertEvent
	for i := range e.recent {
		if e.recent[i].EventID == state.AlertID {
			e.recent[i].Status = models.AlertStatusAcknowledged
			e.recent[i].AcknowledgedAt = &now
			acked = e.recent[i]
			break
		}
	}
	listeners := e.snapshotListeners()
	e.mu.Unlock()

	e.logger.Info("Alert acknowledged",
		zap.String("alert_id", state.AlertID),
		zap.String("device_id", state.DeviceID),
	)

	for _, sink := range e.sinks {
		ack, ok := sink.(Acknowledger)
		if !ok {
			continue
		}
		if err := ack.Acknowledge(ctx, state.AlertID, now); err != nil {
			e.logger.Error("Failed to sync alert acknowledgement",
				zap.String("alert_id", state.AlertID),
				zap.Error(err),
			)
		}
	}
	if acked.EventID != "" {
		for _, fn := range listeners {
			fn(acked)
		}
	}
	return &state, nil
}

// RecentEvents 最近的告警事件（新的在前），limit <= 0 返回全部
func (e *Evaluator) RecentEvents(limit int) []models.AlertEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.recent)
	if limit > 0 && limit < n {
		n = limit
	}
	return append([]models.AlertEvent(nil), e.recent[:n]...)
}

// LastSeen 设备最近一条评估过的读数
func (e *Evaluator) LastSeen(deviceID string) (models.Reading, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.lastSeen[deviceID]
	return r, ok
}

// Reset 清空全部评估状态（切换身份时调用）
func (e *Evaluator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSeen = make(map[string]models.Reading)
	e.seen = make(map[string]*seenRing)
	e.active = nil
	e.recent = nil
}

// Forget 移除设备的评估状态（设备不再监控时调用），不影响当前告警
func (e *Evaluator) Forget(deviceIDs ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range deviceIDs {
		delete(e.lastSeen, id)
		delete(e.seen, id)
	}
}

// OnAlert 注册告警回调，返回取消函数
func (e *Evaluator) OnAlert(fn Listener) (cancel func()) {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.listeners[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

func (e *Evaluator) snapshotListeners() []Listener {
	fns := make([]Listener, 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	return fns
}

func (e *Evaluator) pushRecent(event models.AlertEvent) {
	e.recent = append([]models.AlertEvent{event}, e.recent...)
	if len(e.recent) > e.opts.RecentLimit {
		e.recent = e.recent[:e.opts.RecentLimit]
	}
}

// seenRing 固定容量的已评估键集合，满后淘汰最早加入的键
type seenRing struct {
	keys []models.ReadingKey
	set  map[models.ReadingKey]struct{}
	next int
}

func newSeenRing(capacity int) *seenRing {
	return &seenRing{
		keys: make([]models.ReadingKey, 0, capacity),
		set:  make(map[models.ReadingKey]struct{}, capacity),
	}
}

// add 已存在返回 false
func (r *seenRing) add(key models.ReadingKey) bool {
	if _, ok := r.set[key]; ok {
		return false
	}
	if len(r.keys) < cap(r.keys) {
		r.keys = append(r.keys, key)
	} else {
		delete(r.set, r.keys[r.next])
		r.keys[r.next] = key
		r.next = (r.next + 1) % len(r.keys)
	}
	r.set[key] = struct{}{}
	return true
}
