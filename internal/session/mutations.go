package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/swn4894/elderly-dashboard/internal/models"
	"github.com/swn4894/elderly-dashboard/internal/window"
)

// CreateReading 提交一条读数，成功后立即并入本地窗口
func (s *Session) CreateReading(ctx context.Context, r models.Reading) (*models.Reading, error) {
	created, err := s.gw.CreateReading(ctx, r)
	if err != nil {
		return nil, err
	}
	if created != nil {
		// 推送到达时按 (deviceId, timestamp) 去重
		s.merger.Apply(ctx, s.store.Generation(), *created)
	}
	return created, nil
}

// UpdateReading 部分更新读数，仅提供的字段会被修改
func (s *Session) UpdateReading(ctx context.Context, patch models.ReadingPatch) (*models.Reading, error) {
	updated, err := s.gw.UpdateReading(ctx, patch)
	if err != nil {
		return nil, err
	}
	if _, _, err := s.merger.ApplyPatch(s.store.Generation(), patch); err != nil && !ignorable(err) {
		s.logger.Warn("Failed to apply reading patch locally",
			zap.String("device_id", patch.DeviceID),
			zap.Error(err),
		)
	}
	return updated, nil
}

// DeleteReading 删除读数并从本地窗口移除
func (s *Session) DeleteReading(ctx context.Context, key models.ReadingKey) (*models.Reading, error) {
	deleted, err := s.gw.DeleteReading(ctx, key)
	if err != nil {
		return nil, err
	}
	if _, err := s.merger.ApplyDelete(s.store.Generation(), key); err != nil && !ignorable(err) {
		s.logger.Warn("Failed to remove reading locally",
			zap.String("device_id", key.DeviceID),
			zap.Error(err),
		)
	}
	return deleted, nil
}

// UpdateElderly 部分更新被看护人信息
func (s *Session) UpdateElderly(ctx context.Context, update models.ElderlyUpdate) (*models.Elderly, error) {
	return s.gw.UpdateElderly(ctx, update)
}

// UpdateAssignment 更新看护人的设备分配并切换到新集合
func (s *Session) UpdateAssignment(ctx context.Context, deviceIDs []string) (*models.Assignment, error) {
	current := s.Assignment()
	if current == nil {
		return nil, ErrNotStarted
	}
	if current.ID == "" {
		return nil, fmt.Errorf("caretaker id unknown for %s", s.Identity())
	}

	caretaker, err := s.gw.UpdateAssignment(ctx, models.AssignmentUpdate{
		CaretakerID: current.ID,
		DeviceIDs:   deviceIDs,
	})
	if err != nil {
		return nil, err
	}
	next := caretaker.ToAssignment()
	if next == nil {
		next = &models.Assignment{ID: current.ID, Name: current.Name, DeviceIDs: models.UniqueDeviceIDs(deviceIDs)}
	}

	s.interrupt()
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if err := s.reassignLocked(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

func ignorable(err error) bool {
	return errors.Is(err, window.ErrStale) || errors.Is(err, window.ErrUnknownDevice)
}
