package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/swn4894/elderly-dashboard/internal/cache"
	"github.com/swn4894/elderly-dashboard/internal/config"
	"github.com/swn4894/elderly-dashboard/internal/database"
	"github.com/swn4894/elderly-dashboard/internal/evaluator"
	"github.com/swn4894/elderly-dashboard/internal/gateway"
	httpapi "github.com/swn4894/elderly-dashboard/internal/http"
	"github.com/swn4894/elderly-dashboard/internal/mqtt"
	"github.com/swn4894/elderly-dashboard/internal/repository"
	"github.com/swn4894/elderly-dashboard/internal/session"
	"github.com/swn4894/elderly-dashboard/internal/subscription"
)

// DashboardService 看护端仪表盘服务（整合各层）
//
// Redis、Postgres、MQTT 均为可选：启用但连接失败时记录警告并降级运行。
type DashboardService struct {
	config *config.Config
	logger *zap.Logger

	redisClient *redis.Client
	db          *sql.DB
	mqttClient  *mqtt.Client

	cacheManager *cache.CacheManager
	alertRepo    *repository.AlertEventsRepository
	gateway      *gateway.Client
	evaluator    *evaluator.Evaluator
	session      *session.Session
	hub          *httpapi.Hub
	server       *Server

	cancels []func()
}

// NewDashboardService 创建仪表盘服务
func NewDashboardService(cfg *config.Config, logger *zap.Logger) (*DashboardService, error) {
	s := &DashboardService{
		config: cfg,
		logger: logger,
	}
	ctx := context.Background()

	// 1. 可选基础设施
	var sinks []evaluator.Sink
	if cfg.RedisEnabled {
		client := cache.NewRedisClient(&cfg.Redis)
		if err := cache.Ping(ctx, client); err != nil {
			logger.Warn("Redis enabled but connection failed, running without cache", zap.Error(err))
			_ = client.Close()
		} else {
			s.redisClient = client
			s.cacheManager = cache.NewCacheManager(cache.Options{
				KeyPrefix:   cfg.Cache.KeyPrefix,
				WindowTTL:   time.Duration(cfg.Cache.WindowTTL) * time.Second,
				AlertStream: cfg.Cache.AlertStream,
			}, client, logger)
			sinks = append(sinks, s.cacheManager)
			logger.Info("Redis enabled for elderly-dashboard", zap.String("addr", cfg.Redis.Addr))
		}
	}

	if cfg.DBEnabled {
		db, err := database.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			logger.Warn("DB enabled but connection failed, running without alert journal", zap.Error(err))
		} else {
			repo := repository.NewAlertEventsRepository(db, logger)
			if err := repo.EnsureSchema(ctx); err != nil {
				logger.Warn("Failed to ensure alert journal schema", zap.Error(err))
			}
			s.db = db
			s.alertRepo = repo
			sinks = append(sinks, repo)
			logger.Info("DB enabled for elderly-dashboard", zap.String("host", cfg.Database.Host))
		}
	}

	if cfg.MQTTEnabled {
		client, err := mqtt.NewClient(&cfg.MQTT, logger)
		if err != nil {
			logger.Warn("MQTT enabled but connection failed, alerts will not be published", zap.Error(err))
		} else {
			s.mqttClient = client
			sinks = append(sinks, mqtt.NewAlertPublisher(client, cfg.MQTT.TopicPrefix, cfg.MQTT.QoS, logger))
			logger.Info("MQTT enabled for elderly-dashboard", zap.String("broker", cfg.MQTT.Broker))
		}
	}

	// 2. 远端网关
	s.gateway = gateway.NewClient(gateway.Options{
		Endpoint:         cfg.GraphQL.Endpoint,
		Path:             cfg.GraphQL.Path,
		RealtimeURL:      cfg.GraphQL.RealtimeURL,
		Timeout:          time.Duration(cfg.GraphQL.TimeoutSec) * time.Second,
		RetryCount:       cfg.GraphQL.RetryCount,
		HandshakeTimeout: time.Duration(cfg.GraphQL.HandshakeSecond) * time.Second,
	}, newCredentials(cfg), logger)

	// 3. 评估器与会话
	s.evaluator = evaluator.NewEvaluator(evaluator.Options{
		Thresholds:   thresholdsFromConfig(cfg),
		RecentLimit:  cfg.Alert.RecentLimit,
		SeenCapacity: cfg.Alert.SeenCapacity,
	}, logger, sinks...)

	var windowCache session.WindowCache
	if s.cacheManager != nil {
		windowCache = s.cacheManager
	}
	s.session = session.New(s.gateway, s.evaluator, windowCache, session.Options{
		WindowSize:      cfg.Dashboard.WindowSize,
		PageSize:        cfg.Dashboard.PageSize,
		MaxPages:        cfg.Dashboard.MaxPages,
		LoadConcurrency: cfg.Dashboard.LoadConcurrency,
		DemoFallback:    cfg.Dashboard.DemoFallback,
		Subscription: subscription.Options{
			ReconnectDelay: time.Duration(cfg.Dashboard.ReconnectDelayMs) * time.Millisecond,
			MaxReconnects:  cfg.Dashboard.MaxReconnects,
		},
	}, logger)

	// 4. 展示层
	s.hub = httpapi.NewHub(logger)
	m := newMirror(s.cacheManager, s.hub, s.session.ActiveAlert, logger)
	s.cancels = append(s.cancels,
		s.session.OnWindowChanged("", m.onWindowChanged),
		s.session.OnAlert(m.onAlert),
	)
	s.session.SetStatusListener(m.onStatus)

	var history httpapi.AlertHistory
	if s.alertRepo != nil {
		history = s.alertRepo
	}
	router := httpapi.NewRouter(logger)
	router.RegisterDashboardRoutes(httpapi.NewDashboardHandler(s.session, history, logger))
	router.RegisterHubRoutes(s.hub)
	s.server = NewServer(cfg.HTTP.Addr, router, logger)

	return s, nil
}

// Session 仪表盘会话
func (s *DashboardService) Session() *session.Session {
	return s.session
}

// Start 启动服务，阻塞直到 ctx 取消或 HTTP 服务退出
func (s *DashboardService) Start(ctx context.Context) error {
	s.logger.Info("Starting elderly-dashboard service",
		zap.String("graphql_endpoint", s.config.GraphQL.Endpoint),
		zap.Int("window_size", s.config.Dashboard.WindowSize),
	)

	go s.hub.Run(ctx)

	serverErr := make(chan error, 1)
	go func() {
		if err := s.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// 配置了用户名时直接登录，否则等待 POST /api/v1/session/identity
	if username := s.config.Auth.Username; username != "" {
		go func() {
			if err := s.session.Start(ctx, username); err != nil {
				s.logger.Error("Failed to start session",
					zap.String("username", username),
					zap.Error(err),
				)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-serverErr:
		return fmt.Errorf("http server failed: %w", err)
	}
}

// Stop 停止服务
func (s *DashboardService) Stop() error {
	s.logger.Info("Stopping elderly-dashboard service")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Stop(ctx); err != nil {
		s.logger.Error("Failed to stop HTTP server", zap.Error(err))
	}
	s.session.Stop(ctx)
	for _, fn := range s.cancels {
		fn()
	}

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("Failed to close database", zap.Error(err))
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Failed to close redis", zap.Error(err))
		}
	}
	return nil
}

// newCredentials token 文件优先（支持轮换），否则使用静态 token
func newCredentials(cfg *config.Config) gateway.CredentialProvider {
	if cfg.Auth.TokenFile != "" {
		return gateway.NewFileCredentials(cfg.Auth.TokenFile)
	}
	return gateway.NewStaticCredentials(cfg.Auth.Token)
}

func thresholdsFromConfig(cfg *config.Config) evaluator.Thresholds {
	return evaluator.Thresholds{
		LowBelow:      cfg.Alert.LowBelow,
		HighFrom:      cfg.Alert.HighFrom,
		CriticalFrom:  cfg.Alert.CriticalFrom,
		AlertLowBelow: cfg.Alert.AlertLowBelow,
		AlertHighFrom: cfg.Alert.AlertHighFrom,
	}
}
