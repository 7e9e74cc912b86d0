package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config 看护端仪表盘服务配置
type Config struct {
	HTTP struct {
		Addr string
	}

	// 托管 GraphQL API
	GraphQL struct {
		Endpoint        string // HTTP 地址，如 "https://xxx.appsync-api.us-east-2.amazonaws.com"
		Path            string // 默认 "/graphql"
		RealtimeURL     string // 订阅 WebSocket 地址
		TimeoutSec      int
		RetryCount      int
		HandshakeSecond int
	}

	// 身份与凭证（Session Provider 在本服务中的落地）
	Auth struct {
		Username  string // 启动即登录的看护人（可为空，等待 HTTP 通知）
		Token     string // 静态 token
		TokenFile string // token 文件（每次调用重新读取，支持轮换）
	}

	Dashboard struct {
		WindowSize       int  // 每设备窗口大小，默认 5
		PageSize         int  // 分页拉取批大小，默认 50
		MaxPages         int  // 单设备最多拉取页数
		LoadConcurrency  int  // 设备历史并发加载数
		DemoFallback     bool // 无数据时使用示例数据
		ReconnectDelayMs int  // 订阅断开后重连等待
		MaxReconnects    int  // 订阅重连次数，默认 1
	}

	// 心率阈值（分类阈值与告警阈值相互独立）
	Alert struct {
		LowBelow      int // < 50 为 Low
		HighFrom      int // >= 80 为 High
		CriticalFrom  int // >= 95 为 Critical
		AlertLowBelow int // < 50 触发告警
		AlertHighFrom int // >= 90 触发告警
		RecentLimit   int // 最近告警事件保留条数
		SeenCapacity  int // 每设备已评估读数记忆条数
	}

	RedisEnabled bool
	Redis        RedisConfig
	Cache        struct {
		KeyPrefix   string // 如 "elderly-dashboard:device:"
		WindowTTL   int    // 窗口缓存 TTL（秒）
		AlertStream string // 告警事件 Redis Stream
	}

	DBEnabled bool
	Database  DatabaseConfig

	MQTTEnabled bool
	MQTT        MQTTConfig

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.GraphQL.Endpoint = getEnv("GRAPHQL_ENDPOINT", "http://localhost:20002")
	cfg.GraphQL.Path = getEnv("GRAPHQL_PATH", "/graphql")
	cfg.GraphQL.RealtimeURL = getEnv("GRAPHQL_REALTIME_URL", "ws://localhost:20002/graphql")
	cfg.GraphQL.TimeoutSec = parseInt(getEnv("GRAPHQL_TIMEOUT_SEC", "15"), 15)
	cfg.GraphQL.RetryCount = parseInt(getEnv("GRAPHQL_RETRY_COUNT", "2"), 2)
	cfg.GraphQL.HandshakeSecond = parseInt(getEnv("GRAPHQL_HANDSHAKE_SEC", "10"), 10)

	cfg.Auth.Username = getEnv("DASHBOARD_USERNAME", "")
	cfg.Auth.Token = getEnv("AUTH_TOKEN", "")
	cfg.Auth.TokenFile = getEnv("AUTH_TOKEN_FILE", "")

	cfg.Dashboard.WindowSize = parseInt(getEnv("WINDOW_SIZE", "5"), 5)
	cfg.Dashboard.PageSize = parseInt(getEnv("PAGE_SIZE", "50"), 50)
	cfg.Dashboard.MaxPages = parseInt(getEnv("MAX_PAGES", "200"), 200)
	cfg.Dashboard.LoadConcurrency = parseInt(getEnv("LOAD_CONCURRENCY", "4"), 4)
	cfg.Dashboard.DemoFallback = getEnv("DEMO_FALLBACK", "false") == "true"
	cfg.Dashboard.ReconnectDelayMs = parseInt(getEnv("RECONNECT_DELAY_MS", "2000"), 2000)
	cfg.Dashboard.MaxReconnects = parseInt(getEnv("MAX_RECONNECTS", "1"), 1)

	cfg.Alert.LowBelow = parseInt(getEnv("ALERT_CLASS_LOW_BELOW", "50"), 50)
	cfg.Alert.HighFrom = parseInt(getEnv("ALERT_CLASS_HIGH_FROM", "80"), 80)
	cfg.Alert.CriticalFrom = parseInt(getEnv("ALERT_CLASS_CRITICAL_FROM", "95"), 95)
	cfg.Alert.AlertLowBelow = parseInt(getEnv("ALERT_LOW_BELOW", "50"), 50)
	cfg.Alert.AlertHighFrom = parseInt(getEnv("ALERT_HIGH_FROM", "90"), 90)
	cfg.Alert.RecentLimit = parseInt(getEnv("ALERT_RECENT_LIMIT", "50"), 50)
	cfg.Alert.SeenCapacity = parseInt(getEnv("ALERT_SEEN_CAPACITY", "32"), 32)

	cfg.RedisEnabled = getEnv("REDIS_ENABLED", "false") == "true"
	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.LoadFromEnv("REDIS")
	cfg.Cache.KeyPrefix = getEnv("CACHE_KEY_PREFIX", "elderly-dashboard:device:")
	cfg.Cache.WindowTTL = parseInt(getEnv("CACHE_WINDOW_TTL", "86400"), 86400)
	cfg.Cache.AlertStream = getEnv("CACHE_ALERT_STREAM", "elderly-dashboard:alerts")

	cfg.DBEnabled = getEnv("DB_ENABLED", "false") == "true"
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "guardiancare"
	cfg.Database.SSLMode = "disable"
	cfg.Database.LoadFromEnv("DB")

	cfg.MQTTEnabled = getEnv("MQTT_ENABLED", "false") == "true"
	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "elderly-dashboard"
	cfg.MQTT.QoS = 1
	cfg.MQTT.TopicPrefix = "elderly-dashboard/alerts"
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate 校验阈值与窗口参数
func (c *Config) validate() error {
	if c.Dashboard.WindowSize <= 0 {
		return fmt.Errorf("WINDOW_SIZE must be positive, got %d", c.Dashboard.WindowSize)
	}
	if c.Dashboard.PageSize <= 0 {
		return fmt.Errorf("PAGE_SIZE must be positive, got %d", c.Dashboard.PageSize)
	}
	if c.Dashboard.LoadConcurrency <= 0 {
		c.Dashboard.LoadConcurrency = 1
	}
	if c.Dashboard.MaxReconnects < 0 {
		c.Dashboard.MaxReconnects = 0
	}
	// 分类阈值必须递增：Low < High <= Critical
	if !(c.Alert.LowBelow < c.Alert.HighFrom && c.Alert.HighFrom <= c.Alert.CriticalFrom) {
		return fmt.Errorf("invalid heart rate class thresholds: low<%d high>=%d critical>=%d",
			c.Alert.LowBelow, c.Alert.HighFrom, c.Alert.CriticalFrom)
	}
	if c.Alert.AlertLowBelow >= c.Alert.AlertHighFrom {
		return fmt.Errorf("invalid alert thresholds: low<%d high>=%d",
			c.Alert.AlertLowBelow, c.Alert.AlertHighFrom)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}
