package session

import (
	"context"
	"errors"
	"math/rand"

	"go.uber.org/zap"

	"github.com/swn4894/elderly-dashboard/internal/aggregator"
	"github.com/swn4894/elderly-dashboard/internal/models"
	"github.com/swn4894/elderly-dashboard/internal/window"
)

// loadDevice 拉取设备历史并替换窗口
//
// 远端失败时依次回退到最后已知窗口、示例数据（DemoFallback）、空窗口；
// 回退数据只展示，不参与告警评估。withFallback 为 false 时失败保留现有窗口。
// ticket 由调用方在订阅生效前领取。
func (s *Session) loadDevice(ctx context.Context, ticket window.LoadTicket, withFallback bool) {
	deviceID := ticket.DeviceID
	readings, err := s.agg.Recent(ctx, deviceID)
	evaluate := true
	source := "remote"
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("Failed to load device history",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		if !withFallback {
			return
		}
		readings, source = s.fallbackReadings(ctx, deviceID)
		evaluate = false
	case len(readings) == 0 && withFallback && s.opts.DemoFallback:
		readings, source = s.sampleReadings(deviceID), "sample"
		evaluate = false
	}

	inserted, err := s.merger.ApplyHistory(ctx, ticket, readings, evaluate)
	if err != nil {
		if errors.Is(err, window.ErrStale) || errors.Is(err, window.ErrUnknownDevice) {
			s.logger.Debug("Discarding stale device load",
				zap.String("device_id", deviceID),
				zap.Uint64("generation", ticket.Generation),
			)
			return
		}
		s.logger.Error("Failed to apply device history",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		return
	}

	s.logger.Info("Device window loaded",
		zap.String("device_id", deviceID),
		zap.String("source", source),
		zap.Int("readings", len(readings)),
		zap.Int("inserted", len(inserted)),
	)
}

func (s *Session) fallbackReadings(ctx context.Context, deviceID string) ([]models.Reading, string) {
	if s.cache != nil {
		cached, err := s.cache.GetWindowCache(ctx, deviceID)
		if err != nil {
			s.logger.Warn("Failed to read last-known window",
				zap.String("device_id", deviceID),
				zap.Error(err),
			)
		} else if len(cached) > 0 {
			return cached, "cache"
		}
	}
	if s.opts.DemoFallback {
		return s.sampleReadings(deviceID), "sample"
	}
	return nil, "empty"
}

func (s *Session) sampleReadings(deviceID string) []models.Reading {
	now := s.now()
	return aggregator.SampleReadings(deviceID, now, s.store.Capacity(), rand.New(rand.NewSource(now.UnixNano())))
}
