package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/swn4894/elderly-dashboard/internal/models"
)

// Options 缓存键配置
type Options struct {
	KeyPrefix   string        // 如 "elderly-dashboard:device:"
	WindowTTL   time.Duration // 窗口缓存过期时间
	AlertStream string        // 告警事件流
}

// CacheManager Redis 缓存管理器
// 镜像每设备最近读数窗口（作为历史拉取失败时的最后已知数据），
// 并把告警事件写入 Redis Stream 供其他服务消费
type CacheManager struct {
	opts        Options
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewCacheManager 创建缓存管理器
func NewCacheManager(opts Options, redisClient *redis.Client, logger *zap.Logger) *CacheManager {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "elderly-dashboard:device:"
	}
	if opts.AlertStream == "" {
		opts.AlertStream = "elderly-dashboard:alerts"
	}
	return &CacheManager{
		opts:        opts,
		redisClient: redisClient,
		logger:      logger,
	}
}

func (c *CacheManager) windowKey(deviceID string) string {
	return fmt.Sprintf("%s%s:window", c.opts.KeyPrefix, deviceID)
}

func (c *CacheManager) activeAlertKey() string {
	return c.opts.KeyPrefix + "active-alert"
}

// UpdateWindowCache 写入设备窗口快照
func (c *CacheManager) UpdateWindowCache(ctx context.Context, deviceID string, window []models.Reading) error {
	jsonData, err := json.Marshal(window)
	if err != nil {
		return fmt.Errorf("failed to marshal window: %w", err)
	}

	key := c.windowKey(deviceID)
	if err := c.redisClient.Set(ctx, key, jsonData, c.opts.WindowTTL).Err(); err != nil {
		return fmt.Errorf("failed to set window cache: %w", err)
	}

	c.logger.Debug("Updated window cache",
		zap.String("device_id", deviceID),
		zap.String("key", key),
		zap.Int("reading_count", len(window)),
	)
	return nil
}

// GetWindowCache 读取设备最后已知窗口，不存在时返回 nil, nil
func (c *CacheManager) GetWindowCache(ctx context.Context, deviceID string) ([]models.Reading, error) {
	val, err := c.redisClient.Get(ctx, c.windowKey(deviceID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get window cache: %w", err)
	}

	var window []models.Reading
	if err := json.Unmarshal([]byte(val), &window); err != nil {
		return nil, fmt.Errorf("failed to unmarshal window cache: %w", err)
	}
	return window, nil
}

// UpdateActiveAlert 写入当前待确认告警，state 为 nil 时删除
func (c *CacheManager) UpdateActiveAlert(ctx context.Context, state *models.AlertState) error {
	key := c.activeAlertKey()
	if state == nil {
		if err := c.redisClient.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("failed to delete active alert: %w", err)
		}
		return nil
	}

	jsonData, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal active alert: %w", err)
	}
	if err := c.redisClient.Set(ctx, key, jsonData, 0).Err(); err != nil {
		return fmt.Errorf("failed to set active alert: %w", err)
	}
	return nil
}

// GetActiveAlert 读取缓存中的待确认告警
func (c *CacheManager) GetActiveAlert(ctx context.Context) (*models.AlertState, error) {
	val, err := c.redisClient.Get(ctx, c.activeAlertKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active alert: %w", err)
	}
	var state models.AlertState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal active alert: %w", err)
	}
	return &state, nil
}

// Record 将告警事件写入事件流（实现 evaluator.Sink）
func (c *CacheManager) Record(ctx context.Context, event *models.AlertEvent) error {
	id, err := publishJSON(ctx, c.redisClient, c.opts.AlertStream, "alert", event)
	if err != nil {
		return fmt.Errorf("failed to publish alert event: %w", err)
	}

	c.logger.Debug("Published alert event to stream",
		zap.String("event_id", event.EventID),
		zap.String("stream", c.opts.AlertStream),
		zap.String("message_id", id),
	)
	return nil
}

// Acknowledge 将告警确认写入事件流（实现 evaluator.Acknowledger）
func (c *CacheManager) Acknowledge(ctx context.Context, eventID string, at time.Time) error {
	payload := map[string]string{
		"event_id":        eventID,
		"status":          models.AlertStatusAcknowledged,
		"acknowledged_at": at.UTC().Format(time.RFC3339),
	}
	if _, err := publishJSON(ctx, c.redisClient, c.opts.AlertStream, "acknowledge", payload); err != nil {
		return fmt.Errorf("failed to publish acknowledgement: %w", err)
	}
	return nil
}
