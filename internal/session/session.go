package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/swn4894/elderly-dashboard/internal/aggregator"
	"github.com/swn4894/elderly-dashboard/internal/evaluator"
	"github.com/swn4894/elderly-dashboard/internal/merger"
	"github.com/swn4894/elderly-dashboard/internal/models"
	"github.com/swn4894/elderly-dashboard/internal/subscription"
	"github.com/swn4894/elderly-dashboard/internal/window"
)

// ErrNotStarted 会话未登录
var ErrNotStarted = errors.New("session: not started")

// Gateway 会话依赖的远端操作（gateway.Client 实现）
type Gateway interface {
	aggregator.PageFetcher
	subscription.Subscriber
	GetAssignment(ctx context.Context, username string) (*models.Assignment, error)
	CreateReading(ctx context.Context, r models.Reading) (*models.Reading, error)
	UpdateReading(ctx context.Context, patch models.ReadingPatch) (*models.Reading, error)
	DeleteReading(ctx context.Context, key models.ReadingKey) (*models.Reading, error)
	UpdateElderly(ctx context.Context, update models.ElderlyUpdate) (*models.Elderly, error)
	UpdateAssignment(ctx context.Context, update models.AssignmentUpdate) (*models.Caretaker, error)
}

// WindowCache 最后已知窗口（远端不可用时回退）
type WindowCache interface {
	GetWindowCache(ctx context.Context, deviceID string) ([]models.Reading, error)
}

// Options 会话参数
type Options struct {
	WindowSize      int
	PageSize        int
	MaxPages        int
	LoadConcurrency int
	DemoFallback    bool // 无数据时展示示例读数
	Subscription    subscription.Options
}

// Session 一个看护人的仪表盘会话
//
// 持有窗口存储、评估器与订阅句柄。生命周期操作（Start/Reassign/Refresh/Stop）串行执行，
// 新操作会先取消仍在进行的加载；每次重建都会推进窗口代次，过期的加载与推送自动失效。
type Session struct {
	gw      Gateway
	opts    Options
	store   *window.Store
	eval    *evaluator.Evaluator
	agg     *aggregator.Aggregator
	merger  *merger.Merger
	subs    *subscription.Manager
	cache   WindowCache
	machine *fsm.FSM
	logger  *zap.Logger
	now     func() time.Time

	opMu sync.Mutex // 串行化生命周期操作

	mu         sync.RWMutex
	identity   string
	assignment *models.Assignment
	cancel     context.CancelFunc
}

// New 创建会话，cache 可为 nil
func New(gw Gateway, eval *evaluator.Evaluator, cache WindowCache, opts Options, logger *zap.Logger) *Session {
	if opts.LoadConcurrency <= 0 {
		opts.LoadConcurrency = 1
	}
	store := window.New(opts.WindowSize)
	return &Session{
		gw:      gw,
		opts:    opts,
		store:   store,
		eval:    eval,
		agg:     aggregator.NewAggregator(gw, opts.PageSize, opts.MaxPages, store.Capacity(), logger),
		merger:  merger.NewMerger(store, eval, logger),
		subs:    subscription.NewManager(gw, opts.Subscription, logger),
		cache:   cache,
		machine: newMachine(logger),
		logger:  logger,
		now:     time.Now,
	}
}

// Start 以 username 登录：清空全部状态，拉取分配并加载每个设备的窗口
func (s *Session) Start(ctx context.Context, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("username is required")
	}

	s.interrupt()
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.machine.Current() != StateIdle {
		s.stopLocked(ctx)
	}
	if err := s.machine.Event(context.WithoutCancel(ctx), EventStart); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	gen := s.store.Reset()
	s.eval.Reset()
	runCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.identity = username
	s.assignment = nil
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("Session starting",
		zap.String("username", username),
		zap.Uint64("generation", gen),
	)

	assignment, err := s.gw.GetAssignment(runCtx, username)
	if err != nil {
		s.logger.Error("Failed to get caretaker assignment",
			zap.String("username", username),
			zap.Error(err),
		)
		s.stopLocked(ctx)
		return fmt.Errorf("failed to get assignment: %w", err)
	}
	if assignment == nil {
		s.logger.Warn("Caretaker not found, no devices assigned", zap.String("username", username))
		assignment = &models.Assignment{}
	}

	s.mu.Lock()
	s.assignment = assignment
	s.mu.Unlock()

	return s.build(ctx, runCtx, gen, assignment.DeviceIDs)
}

// Reassign 切换监控设备集合：关闭旧订阅，丢弃不再监控设备的状态后重新加载
func (s *Session) Reassign(ctx context.Context, deviceIDs []string) error {
	s.interrupt()
	s.opMu.Lock()
	defer s.opMu.Unlock()

	current := s.Assignment()
	next := &models.Assignment{DeviceIDs: models.UniqueDeviceIDs(deviceIDs)}
	if current != nil {
		next.ID = current.ID
		next.Name = current.Name
	}
	return s.reassignLocked(ctx, next)
}

// Refresh 重新拉取分配，设备集合变化时重建会话，返回是否发生了重建
func (s *Session) Refresh(ctx context.Context) (bool, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.machine.Current() == StateIdle {
		return false, ErrNotStarted
	}
	username := s.Identity()

	assignment, err := s.gw.GetAssignment(ctx, username)
	if err != nil {
		return false, fmt.Errorf("failed to refresh assignment: %w", err)
	}
	if assignment == nil {
		assignment = &models.Assignment{}
	}

	current := s.Assignment()
	if current != nil && models.SameDevices(current.DeviceIDs, assignment.DeviceIDs) {
		s.mu.Lock()
		s.assignment = assignment
		s.mu.Unlock()
		s.logger.Debug("Assignment unchanged", zap.String("username", username))
		return false, nil
	}

	s.logger.Info("Assignment changed",
		zap.String("username", username),
		zap.Strings("device_ids", assignment.DeviceIDs),
	)
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	return true, s.reassignLocked(ctx, assignment)
}

// Stop 登出：关闭全部订阅并清空会话状态
func (s *Session) Stop(ctx context.Context) {
	s.interrupt()
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.stopLocked(ctx)
}

// interrupt 取消进行中的加载与订阅
func (s *Session) interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Session) stopLocked(ctx context.Context) {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	identity := s.identity
	s.identity = ""
	s.assignment = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.subs.CloseAll()
	s.store.Reset()
	s.eval.Reset()

	if s.machine.Can(EventStop) {
		if err := s.machine.Event(context.WithoutCancel(ctx), EventStop); err != nil {
			s.logger.Error("Failed to stop session", zap.Error(err))
		}
		s.logger.Info("Session stopped", zap.String("username", identity))
	}
}

func (s *Session) reassignLocked(ctx context.Context, next *models.Assignment) error {
	switch s.machine.Current() {
	case StateIdle:
		return ErrNotStarted
	case StateLoading:
		// 上一次加载被打断，直接重建
	default:
		if err := s.machine.Event(context.WithoutCancel(ctx), EventReassign); err != nil {
			return fmt.Errorf("failed to reassign session: %w", err)
		}
	}

	next.DeviceIDs = models.UniqueDeviceIDs(next.DeviceIDs)
	previous := s.store.Devices()
	gen := s.store.Reset()
	if removed := difference(previous, next.DeviceIDs); len(removed) > 0 {
		s.eval.Forget(removed...)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.assignment = next
	s.mu.Unlock()

	s.logger.Info("Session reassigned",
		zap.Strings("device_ids", next.DeviceIDs),
		zap.Uint64("generation", gen),
	)
	return s.build(ctx, runCtx, gen, next.DeviceIDs)
}

// build 建立窗口、打开订阅并并发加载每个设备的历史
func (s *Session) build(ctx, runCtx context.Context, gen uint64, deviceIDs []string) error {
	if err := s.store.Materialize(gen, deviceIDs); err != nil {
		return fmt.Errorf("failed to materialize windows: %w", err)
	}
	if len(deviceIDs) == 0 {
		s.subs.CloseAll()
		return s.fire(ctx, EventLoadedEmpty)
	}

	// 凭证必须在打开订阅之前全部领取：之后到达的推送才不会被晚到的历史结果覆盖
	tickets := make([]window.LoadTicket, 0, len(deviceIDs))
	for _, id := range deviceIDs {
		ticket, err := s.store.BeginLoad(gen, id)
		if err != nil {
			return fmt.Errorf("failed to begin load for %s: %w", id, err)
		}
		tickets = append(tickets, ticket)
	}

	s.subs.Open(runCtx, gen, deviceIDs, s.onReading, s.onReconnect)

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(s.opts.LoadConcurrency)
	for _, ticket := range tickets {
		ticket := ticket
		g.Go(func() error {
			s.loadDevice(gctx, ticket, true)
			return nil
		})
	}
	_ = g.Wait()

	if err := runCtx.Err(); err != nil {
		return fmt.Errorf("session load interrupted: %w", err)
	}
	return s.fire(ctx, EventLoaded)
}

func (s *Session) fire(ctx context.Context, event string) error {
	if err := s.machine.Event(context.WithoutCancel(ctx), event); err != nil {
		return fmt.Errorf("session event %s failed: %w", event, err)
	}
	return nil
}

func (s *Session) onReading(ctx context.Context, gen uint64, r models.Reading) {
	s.merger.Apply(ctx, gen, r)
}

// onReconnect 重连成功后补拉断线期间的读数，失败时保留现有窗口
func (s *Session) onReconnect(ctx context.Context, gen uint64, deviceID string) {
	ticket, err := s.store.BeginLoad(gen, deviceID)
	if err != nil {
		s.logger.Debug("Skipping reconnect reload",
			zap.String("device_id", deviceID),
			zap.Uint64("generation", gen),
			zap.Error(err),
		)
		return
	}
	s.loadDevice(ctx, ticket, false)
}

func difference(a, b []string) []string {
	keep := make(map[string]struct{}, len(b))
	for _, id := range b {
		keep[id] = struct{}{}
	}
	var out []string
	for _, id := range a {
		if _, ok := keep[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
