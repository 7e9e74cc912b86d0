package merger

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/swn4894/elderly-dashboard/internal/evaluator"
	"github.com/swn4894/elderly-dashboard/internal/models"
	"github.com/swn4894/elderly-dashboard/internal/window"
)

// Merger 将历史加载结果与实时推送合并进窗口，并驱动告警评估
// 只有真正进入窗口的读数才会被评估
type Merger struct {
	store  *window.Store
	eval   *evaluator.Evaluator
	logger *zap.Logger
}

// NewMerger 创建合并器
func NewMerger(store *window.Store, eval *evaluator.Evaluator, logger *zap.Logger) *Merger {
	return &Merger{
		store:  store,
		eval:   eval,
		logger: logger,
	}
}

// Apply 合并一条实时推送读数，返回是否进入窗口
// 过期代次或不再监控的设备直接丢弃
func (m *Merger) Apply(ctx context.Context, gen uint64, r models.Reading) bool {
	inserted, err := m.store.MergeReading(gen, r)
	if err != nil {
		if errors.Is(err, window.ErrStale) || errors.Is(err, window.ErrUnknownDevice) {
			m.logger.Debug("Discarding live reading",
				zap.String("device_id", r.DeviceID),
				zap.String("timestamp", r.Timestamp),
				zap.Uint64("generation", gen),
				zap.Error(err),
			)
			return false
		}
		m.logger.Error("Failed to merge live reading",
			zap.String("device_id", r.DeviceID),
			zap.Error(err),
		)
		return false
	}
	if !inserted {
		m.logger.Debug("Live reading not inserted (duplicate or older than window)",
			zap.String("device_id", r.DeviceID),
			zap.String("timestamp", r.Timestamp),
		)
		return false
	}

	m.eval.Evaluate(ctx, r)
	return true
}

// ApplyHistory 用历史加载结果替换窗口
// evaluate 为 false 时（缓存或示例数据）只展示不评估
func (m *Merger) ApplyHistory(ctx context.Context, ticket window.LoadTicket, readings []models.Reading, evaluate bool) ([]models.Reading, error) {
	inserted, err := m.store.ReplaceWindow(ticket, readings)
	if err != nil {
		return nil, err
	}
	if evaluate {
		// 按时间先后评估，保证 lastSeen 与分类变化按真实顺序推进
		for i := len(inserted) - 1; i >= 0; i-- {
			m.eval.Evaluate(ctx, inserted[i])
		}
	}
	return inserted, nil
}

// ApplyPatch 将远端更新同步到窗口，修正已有读数不重新评估
func (m *Merger) ApplyPatch(gen uint64, patch models.ReadingPatch) (models.Reading, bool, error) {
	return m.store.PatchReading(gen, patch)
}

// ApplyDelete 将远端删除同步到窗口
func (m *Merger) ApplyDelete(gen uint64, key models.ReadingKey) (bool, error) {
	return m.store.RemoveReading(gen, key)
}
