package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/swn4894/elderly-dashboard/internal/cache"
	httpapi "github.com/swn4894/elderly-dashboard/internal/http"
	"github.com/swn4894/elderly-dashboard/internal/models"
	"github.com/swn4894/elderly-dashboard/internal/subscription"
)

const mirrorTimeout = 2 * time.Second

// Broadcaster 推送到展示层（*httpapi.Hub 实现）
type Broadcaster interface {
	Broadcast(msgType, deviceID string, data any)
}

// mirror 将会话变化同步到 Redis 缓存与 WebSocket 客户端
type mirror struct {
	cache  *cache.CacheManager // 可为 nil
	hub    Broadcaster
	active func() *models.AlertState
	logger *zap.Logger

	mu       sync.Mutex
	versions map[string]uint64 // 每设备已同步的最新窗口版本
}

func newMirror(cacheManager *cache.CacheManager, hub Broadcaster, active func() *models.AlertState, logger *zap.Logger) *mirror {
	return &mirror{
		cache:    cacheManager,
		hub:      hub,
		active:   active,
		logger:   logger,
		versions: make(map[string]uint64),
	}
}

// onWindowChanged 窗口变化：写入最后已知窗口并推送，早于已同步版本的快照直接丢弃
func (m *mirror) onWindowChanged(deviceID string, window []models.Reading, version uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if version <= m.versions[deviceID] {
		m.logger.Debug("Dropping outdated window snapshot",
			zap.String("device_id", deviceID),
			zap.Uint64("version", version),
			zap.Uint64("latest_version", m.versions[deviceID]),
		)
		return
	}
	m.versions[deviceID] = version

	if m.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		if err := m.cache.UpdateWindowCache(ctx, deviceID, window); err != nil {
			m.logger.Warn("Failed to mirror window to cache",
				zap.String("device_id", deviceID),
				zap.Error(err),
			)
		}
		cancel()
	}
	m.hub.Broadcast(httpapi.MessageWindow, deviceID, map[string]any{
		"version": version,
		"items":   window,
	})
}

// onAlert 新告警或确认：同步当前待确认告警并推送
func (m *mirror) onAlert(event models.AlertEvent) {
	if m.cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		if err := m.cache.UpdateActiveAlert(ctx, m.active()); err != nil {
			m.logger.Warn("Failed to mirror active alert",
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
		}
		cancel()
	}
	m.hub.Broadcast(httpapi.MessageAlert, event.DeviceID, event)
}

func (m *mirror) onStatus(deviceID string, status subscription.Status) {
	m.hub.Broadcast(httpapi.MessageStatus, deviceID, map[string]any{"status": status})
}
