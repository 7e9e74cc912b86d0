package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swn4894/elderly-dashboard/internal/config"
	"github.com/swn4894/elderly-dashboard/internal/models"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client, *CacheManager) {
	mr := miniredis.RunT(t)
	redisClient := NewRedisClient(&config.RedisConfig{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	cacheManager := NewCacheManager(Options{
		KeyPrefix:   "elderly-dashboard:device:",
		WindowTTL:   time.Hour,
		AlertStream: "elderly-dashboard:alerts",
	}, redisClient, zap.NewNop())

	return mr, redisClient, cacheManager
}

func TestPing(t *testing.T) {
	_, client, _ := setupTestRedis(t)
	assert.NoError(t, Ping(context.Background(), client))
}

func TestCacheManager_WindowRoundTrip(t *testing.T) {
	mr, _, cacheManager := setupTestRedis(t)
	ctx := context.Background()

	window := []models.Reading{
		{DeviceID: "D1", Timestamp: "2024-05-01T08:02:00Z", HeartRate: 72, Motion: 1.5, Status: models.StatusNormal},
		{DeviceID: "D1", Timestamp: "2024-05-01T08:01:00Z", HeartRate: 45, Status: models.StatusLow},
	}
	require.NoError(t, cacheManager.UpdateWindowCache(ctx, "D1", window))

	key := "elderly-dashboard:device:D1:window"
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Hour, mr.TTL(key))

	got, err := cacheManager.GetWindowCache(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, window, got)
}

func TestCacheManager_GetWindowCache_NotFound(t *testing.T) {
	_, _, cacheManager := setupTestRedis(t)

	got, err := cacheManager.GetWindowCache(context.Background(), "missing")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestCacheManager_GetWindowCache_Corrupt(t *testing.T) {
	mr, _, cacheManager := setupTestRedis(t)
	require.NoError(t, mr.Set("elderly-dashboard:device:D1:window", "{not json"))

	_, err := cacheManager.GetWindowCache(context.Background(), "D1")
	assert.Error(t, err)
}

func TestCacheManager_RedisDown(t *testing.T) {
	mr, _, cacheManager := setupTestRedis(t)
	mr.Close()

	_, err := cacheManager.GetWindowCache(context.Background(), "D1")
	assert.Error(t, err)
	assert.Error(t, cacheManager.UpdateWindowCache(context.Background(), "D1", nil))
}

func TestCacheManager_ActiveAlert(t *testing.T) {
	mr, _, cacheManager := setupTestRedis(t)
	ctx := context.Background()

	state := &models.AlertState{AlertID: "a1", DeviceID: "D2", HeartRate: 45, Class: models.ClassLow,
		DetectedAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	require.NoError(t, cacheManager.UpdateActiveAlert(ctx, state))

	got, err := cacheManager.GetActiveAlert(ctx)
	require.NoError(t, err)
	assert.Equal(t, state, got)

	require.NoError(t, cacheManager.UpdateActiveAlert(ctx, nil))
	assert.False(t, mr.Exists("elderly-dashboard:device:active-alert"))
	got, err = cacheManager.GetActiveAlert(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCacheManager_RecordAndAcknowledge(t *testing.T) {
	_, client, cacheManager := setupTestRedis(t)
	ctx := context.Background()

	event := &models.AlertEvent{
		EventID:   "evt-1",
		DeviceID:  "D2",
		AlertType: models.AlertTypeLow,
		Severity:  models.SeverityInterrupt,
		HeartRate: 45,
		Status:    models.AlertStatusActive,
	}
	require.NoError(t, cacheManager.Record(ctx, event))
	require.NoError(t, cacheManager.Acknowledge(ctx, "evt-1", time.Date(2024, 5, 1, 9, 5, 0, 0, time.UTC)))

	msgs, err := client.XRange(ctx, "elderly-dashboard:alerts", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "alert", msgs[0].Values["type"])
	var got models.AlertEvent
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &got))
	assert.Equal(t, "evt-1", got.EventID)
	assert.Equal(t, models.AlertTypeLow, got.AlertType)

	assert.Equal(t, "acknowledge", msgs[1].Values["type"])
	assert.Contains(t, msgs[1].Values["data"], `"event_id":"evt-1"`)
	assert.Contains(t, msgs[1].Values["data"], "2024-05-01T09:05:00Z")
}
