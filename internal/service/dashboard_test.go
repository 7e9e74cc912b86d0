package service

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/swn4894/elderly-dashboard/internal/cache"
	"github.com/swn4894/elderly-dashboard/internal/config"
	httpapi "github.com/swn4894/elderly-dashboard/internal/http"
	"github.com/swn4894/elderly-dashboard/internal/models"
	"github.com/swn4894/elderly-dashboard/internal/session"
	"github.com/swn4894/elderly-dashboard/internal/subscription"
)

type broadcast struct {
	msgType  string
	deviceID string
	data     any
}

type fakeBroadcaster struct {
	mu       sync.Mutex
	messages []broadcast
}

func (f *fakeBroadcaster) Broadcast(msgType, deviceID string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, broadcast{msgType: msgType, deviceID: deviceID, data: data})
}

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	os.Clearenv()
	t.Cleanup(os.Clearenv)
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestNewCredentials(t *testing.T) {
	cfg := loadTestConfig(t)
	cfg.Auth.Token = " static-token "

	token, err := newCredentials(cfg).Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "static-token", token)

	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("file-token\n"), 0o600))
	cfg.Auth.TokenFile = path

	token, err = newCredentials(cfg).Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "file-token", token)
}

func TestThresholdsFromConfig(t *testing.T) {
	cfg := loadTestConfig(t)
	cfg.Alert.AlertHighFrom = 100

	th := thresholdsFromConfig(cfg)
	assert.Equal(t, 50, th.LowBelow)
	assert.Equal(t, 95, th.CriticalFrom)
	assert.Equal(t, 100, th.AlertHighFrom)
	assert.False(t, th.AlertWorthy(95))
}

func TestMirror_WindowChanged(t *testing.T) {
	mr := miniredis.RunT(t)
	client := cache.NewRedisClient(&config.RedisConfig{Addr: mr.Addr()})
	defer client.Close()
	cm := cache.NewCacheManager(cache.Options{WindowTTL: time.Hour}, client, zap.NewNop())
	hub := &fakeBroadcaster{}

	m := newMirror(cm, hub, func() *models.AlertState { return nil }, zap.NewNop())
	window := []models.Reading{{DeviceID: "D1", Timestamp: "2024-05-01T08:00:00Z", HeartRate: 70}}
	m.onWindowChanged("D1", window, 3)

	cached, err := cm.GetWindowCache(context.Background(), "D1")
	require.NoError(t, err)
	assert.Equal(t, window, cached)

	require.Len(t, hub.messages, 1)
	assert.Equal(t, httpapi.MessageWindow, hub.messages[0].msgType)
	assert.Equal(t, "D1", hub.messages[0].deviceID)
}

func TestMirror_DropsOutdatedWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := cache.NewRedisClient(&config.RedisConfig{Addr: mr.Addr()})
	defer client.Close()
	cm := cache.NewCacheManager(cache.Options{WindowTTL: time.Hour}, client, zap.NewNop())
	hub := &fakeBroadcaster{}
	m := newMirror(cm, hub, func() *models.AlertState { return nil }, zap.NewNop())

	newer := []models.Reading{
		{DeviceID: "D1", Timestamp: "2024-05-01T08:01:00Z", HeartRate: 72},
		{DeviceID: "D1", Timestamp: "2024-05-01T08:00:00Z", HeartRate: 70},
	}
	older := newer[1:]

	// 版本 5 先到，版本 4 后到
	m.onWindowChanged("D1", newer, 5)
	m.onWindowChanged("D1", older, 4)
	m.onWindowChanged("D1", older, 5)

	cached, err := cm.GetWindowCache(context.Background(), "D1")
	require.NoError(t, err)
	assert.Equal(t, newer, cached)
	assert.Len(t, hub.messages, 1)

	// 其他设备独立计数
	m.onWindowChanged("D2", []models.Reading{{DeviceID: "D2", Timestamp: "2024-05-01T08:00:00Z", HeartRate: 66}}, 1)
	assert.Len(t, hub.messages, 2)
}

func TestMirror_AlertWithoutCache(t *testing.T) {
	hub := &fakeBroadcaster{}
	m := newMirror(nil, hub, func() *models.AlertState { return nil }, zap.NewNop())

	m.onAlert(models.AlertEvent{EventID: "evt-1", DeviceID: "D2"})
	m.onStatus("D2", subscription.StatusUnavailable)

	require.Len(t, hub.messages, 2)
	assert.Equal(t, httpapi.MessageAlert, hub.messages[0].msgType)
	assert.Equal(t, httpapi.MessageStatus, hub.messages[1].msgType)
	assert.Equal(t, map[string]any{"status": subscription.StatusUnavailable}, hub.messages[1].data)
}

func TestMirror_AlertUpdatesActiveAlert(t *testing.T) {
	mr := miniredis.RunT(t)
	client := cache.NewRedisClient(&config.RedisConfig{Addr: mr.Addr()})
	defer client.Close()
	cm := cache.NewCacheManager(cache.Options{}, client, zap.NewNop())

	active := &models.AlertState{AlertID: "evt-1", DeviceID: "D2", HeartRate: 45}
	m := newMirror(cm, &fakeBroadcaster{}, func() *models.AlertState { return active }, zap.NewNop())
	m.onAlert(models.AlertEvent{EventID: "evt-1", DeviceID: "D2"})

	got, err := cm.GetActiveAlert(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "evt-1", got.AlertID)

	// 确认后清除
	active = nil
	m.onAlert(models.AlertEvent{EventID: "evt-1", DeviceID: "D2", Status: models.AlertStatusAcknowledged})
	got, err = cm.GetActiveAlert(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNewDashboardService_RedisUnavailableDegrades(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := loadTestConfig(t)
	cfg.RedisEnabled = true
	cfg.Redis.Addr = addr

	svc, err := NewDashboardService(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, svc.cacheManager)
	assert.Nil(t, svc.redisClient)
	assert.Equal(t, session.StateIdle, svc.Session().State())
	require.NoError(t, svc.Stop())
}

func TestNewDashboardService_WithRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := loadTestConfig(t)
	cfg.RedisEnabled = true
	cfg.Redis.Addr = mr.Addr()

	svc, err := NewDashboardService(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, svc.cacheManager)
	assert.Nil(t, svc.alertRepo)
	require.NoError(t, svc.Stop())
}
