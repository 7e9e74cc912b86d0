package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	// 清除环境变量
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "/graphql", cfg.GraphQL.Path)
	assert.Equal(t, 15, cfg.GraphQL.TimeoutSec)

	// 窗口与分页
	assert.Equal(t, 5, cfg.Dashboard.WindowSize)
	assert.Equal(t, 50, cfg.Dashboard.PageSize)
	assert.Equal(t, 1, cfg.Dashboard.MaxReconnects)
	assert.False(t, cfg.Dashboard.DemoFallback)

	// 分类阈值与告警阈值独立
	assert.Equal(t, 50, cfg.Alert.LowBelow)
	assert.Equal(t, 80, cfg.Alert.HighFrom)
	assert.Equal(t, 95, cfg.Alert.CriticalFrom)
	assert.Equal(t, 50, cfg.Alert.AlertLowBelow)
	assert.Equal(t, 90, cfg.Alert.AlertHighFrom)

	assert.False(t, cfg.RedisEnabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "elderly-dashboard:device:", cfg.Cache.KeyPrefix)

	assert.False(t, cfg.DBEnabled)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "guardiancare", cfg.Database.Database)

	assert.False(t, cfg.MQTTEnabled)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, "elderly-dashboard/alerts", cfg.MQTT.TopicPrefix)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Clearenv()
	defer os.Clearenv()

	os.Setenv("GRAPHQL_ENDPOINT", "https://api.example.test")
	os.Setenv("DASHBOARD_USERNAME", "carer01")
	os.Setenv("WINDOW_SIZE", "7")
	os.Setenv("ALERT_HIGH_FROM", "100")
	os.Setenv("DEMO_FALLBACK", "true")
	os.Setenv("REDIS_ENABLED", "true")
	os.Setenv("REDIS_ADDR", "test-redis:6380")
	os.Setenv("DB_HOST", "test-host")
	os.Setenv("DB_PORT", "6543")
	os.Setenv("MQTT_BROKER", "tcp://broker:1883")
	os.Setenv("LOG_FORMAT", "console")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.test", cfg.GraphQL.Endpoint)
	assert.Equal(t, "carer01", cfg.Auth.Username)
	assert.Equal(t, 7, cfg.Dashboard.WindowSize)
	assert.Equal(t, 100, cfg.Alert.AlertHighFrom)
	// 分类阈值不受告警阈值影响
	assert.Equal(t, 95, cfg.Alert.CriticalFrom)
	assert.True(t, cfg.Dashboard.DemoFallback)
	assert.True(t, cfg.RedisEnabled)
	assert.Equal(t, "test-redis:6380", cfg.Redis.Addr)
	assert.Equal(t, "test-host", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoad_InvalidThresholds(t *testing.T) {
	os.Clearenv()
	defer os.Clearenv()

	os.Setenv("ALERT_CLASS_HIGH_FROM", "40")

	cfg, err := Load()
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "class thresholds")
}

func TestLoad_InvalidWindowSize(t *testing.T) {
	os.Clearenv()
	defer os.Clearenv()

	os.Setenv("WINDOW_SIZE", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestDatabaseConfig_GetDSN(t *testing.T) {
	c := DatabaseConfig{Host: "h", Port: 5432, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=h port=5432 user=u password=p dbname=d sslmode=disable", c.GetDSN())
}

func TestGetEnv(t *testing.T) {
	// 测试默认值
	os.Clearenv()
	value := getEnv("TEST_KEY", "default-value")
	assert.Equal(t, "default-value", value)

	// 测试环境变量存在
	os.Setenv("TEST_KEY", "env-value")
	value = getEnv("TEST_KEY", "default-value")
	assert.Equal(t, "env-value", value)

	// 清理
	os.Unsetenv("TEST_KEY")
}
