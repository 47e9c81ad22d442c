package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/meshforge/api/handlers"
	"github.com/BaSui01/meshforge/config"
	"github.com/BaSui01/meshforge/generation"
	"github.com/BaSui01/meshforge/internal/fetch"
	"github.com/BaSui01/meshforge/internal/metrics"
	"github.com/BaSui01/meshforge/internal/server"
	"github.com/BaSui01/meshforge/internal/telemetry"
	"github.com/BaSui01/meshforge/records"
	"github.com/BaSui01/meshforge/storage"
	"github.com/BaSui01/meshforge/threed"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 MeshForge 的主服务器
type Server struct {
	cfgMu      sync.RWMutex
	cfg        *config.Config
	configPath string
	logLevel   zap.AtomicLevel
	logger     *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// Handlers
	healthHandler   *handlers.HealthHandler
	generateHandler *handlers.GenerateHandler

	// 领域组件。记录库与进程同生命周期；流水线在热重载后整体替换
	recordStore *records.Store
	generator   *reloadableGenerator

	// 指标收集器
	metricsCollector *metrics.Collector

	// 遥测
	telemetryProviders *telemetry.Providers

	// 配置热重载
	hotReload *config.ReloadManager

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc

	wg sync.WaitGroup
}

// reloadableGenerator 持有当前生成流水线，配置热重载时原子替换
type reloadableGenerator struct {
	v atomic.Pointer[generation.Service]
}

func (g *reloadableGenerator) Generate(ctx context.Context, req generation.Request) (*generation.Result, error) {
	return g.v.Load().Generate(ctx, req)
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, configPath string, logLevel zap.AtomicLevel, logger *zap.Logger) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logLevel:   logLevel,
		logger:     logger,
		generator:  &reloadableGenerator{},
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化遥测（禁用时为 noop，失败不阻塞启动）
	providers, err := telemetry.Init(s.cfg.Telemetry, s.cfg.Generation.Environment, s.logger)
	if err != nil {
		s.logger.Warn("Failed to initialize telemetry, continuing without it", zap.Error(err))
	} else {
		s.telemetryProviders = providers
	}

	// 2. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("meshforge", s.logger)

	// 3. 初始化领域组件
	s.initComponents()

	// 4. 初始化 Handlers
	s.initHandlers()

	// 5. 启用配置热重载（仅在指定配置文件时）
	if err := s.initHotReload(); err != nil {
		return fmt.Errorf("failed to init hot reload: %w", err)
	}

	// 6. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 7. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("environment", s.cfg.Generation.Environment),
		zap.Bool("hot_reload", s.hotReload != nil),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initComponents 初始化记录存储、对象存储、厂商客户端与生成流水线
func (s *Server) initComponents() {
	s.recordStore = records.New(records.Config{
		BaseURL:    s.cfg.Store.RestURL(),
		ServiceKey: s.cfg.Store.ServiceKey,
		Table:      s.cfg.Store.Table,
		Timeout:    s.cfg.Store.RequestTimeout,
	}, s.logger)

	s.generator.v.Store(s.buildPipeline(s.cfg))

	s.logger.Info("Domain components initialized",
		zap.String("store_table", s.cfg.Store.Table),
		zap.String("store_bucket", s.cfg.Store.Bucket),
		zap.String("vendor_region", s.cfg.Vendor.Region),
	)
}

// buildPipeline 按给定配置组装生成流水线。
// 记录库与指标收集器跨重载复用，其余组件随配置重建。
func (s *Server) buildPipeline(cfg *config.Config) *generation.Service {
	objects := storage.New(storage.Config{
		BaseURL:      cfg.Store.StorageURL(),
		ServiceKey:   cfg.Store.ServiceKey,
		Bucket:       cfg.Store.Bucket,
		Timeout:      cfg.Store.RequestTimeout,
		SignedURLTTL: cfg.Store.SignedURLTTL,
	}, s.logger)

	vendor := threed.New(threed.Config{
		SecretID:     cfg.Vendor.SecretID,
		SecretKey:    cfg.Vendor.SecretKey,
		Region:       cfg.Vendor.Region,
		Endpoint:     cfg.Vendor.Endpoint,
		ResultFormat: cfg.Vendor.ResultFormat,
		Timeout:      cfg.Vendor.RequestTimeout,
		PollInterval: cfg.Vendor.PollInterval,
		PollTimeout:  cfg.Vendor.PollTimeout,
	}, s.logger)

	fetcher := fetch.New(fetch.Config{
		Timeout:            cfg.Generation.DownloadTimeout,
		MaxBytes:           cfg.Generation.MaxDownloadBytes,
		InsecureSkipVerify: cfg.Generation.InsecureDownload,
	}, s.logger)

	return generation.New(generation.Config{
		Environment: cfg.Generation.Environment,
		FixturePath: cfg.Generation.FixturePath,
	}, s.recordStore, objects, vendor, fetcher, s.metricsCollector, s.logger)
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	// 健康检查 handler：配置校验 + 记录库连通性探针
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.CheckFunc("config", func(context.Context) error {
		return s.currentConfig().Validate()
	}))
	s.healthHandler.RegisterCheck(handlers.CheckFunc("records", func(ctx context.Context) error {
		start := time.Now()
		err := s.recordStore.Probe(ctx)
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		s.metricsCollector.RecordStoreOp("probe", outcome, time.Since(start))
		return err
	}))

	s.generateHandler = handlers.NewGenerateHandler(s.generator, s.logger)

	s.logger.Info("Handlers initialized")
}

// currentConfig 返回当前生效的配置（热重载后会被替换）
func (s *Server) currentConfig() *config.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// initHotReload 在指定了配置文件时启用配置热重载
func (s *Server) initHotReload() error {
	if s.configPath == "" {
		return nil
	}

	manager := config.NewReloadManager(s.cfg, s.configPath, s.logger)

	// 字段级日志由管理器负责，这里只把重启类变更提升为告警
	manager.OnFieldChange(func(change config.Change) {
		if change.RequiresRestart {
			s.logger.Warn("Config change needs a restart to take effect",
				zap.String("path", change.Path))
		}
	})

	manager.OnApply(func(oldConfig, newConfig *config.Config) {
		s.cfgMu.Lock()
		s.cfg = newConfig
		s.cfgMu.Unlock()

		// 日志级别即时生效
		if oldConfig.Log.Level != newConfig.Log.Level {
			s.logLevel.SetLevel(parseLogLevel(newConfig.Log.Level))
			s.logger.Info("Log level updated", zap.String("level", newConfig.Log.Level))
		}

		// 遥测开关、端点与采样率即时生效
		if oldConfig.Telemetry != newConfig.Telemetry {
			s.swapTelemetry(newConfig)
		}

		// 重建流水线：轮询间隔、下载超时与上限、签名 URL 有效期等对后续请求生效。
		// 端口、限流与凭证类字段仍需重启，变更日志里会标记。
		s.generator.v.Store(s.buildPipeline(newConfig))
		s.logger.Info("Generation pipeline rebuilt from reloaded config")
	})

	if err := manager.Start(); err != nil {
		return err
	}

	s.hotReload = manager
	s.logger.Info("Config hot reload enabled", zap.String("config_path", s.configPath))
	return nil
}

// swapTelemetry 按新的遥测配置重建提供方，新初始化失败时保留旧的
func (s *Server) swapTelemetry(cfg *config.Config) {
	providers, err := telemetry.Init(cfg.Telemetry, cfg.Generation.Environment, s.logger)
	if err != nil {
		s.logger.Warn("Telemetry re-init failed, keeping previous providers", zap.Error(err))
		return
	}

	old := s.telemetryProviders
	s.telemetryProviders = providers

	if old != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := old.Shutdown(ctx); err != nil {
			s.logger.Warn("Previous telemetry providers shutdown error", zap.Error(err))
		}
	}
	s.logger.Info("Telemetry providers rebuilt from reloaded config",
		zap.Bool("enabled", cfg.Telemetry.Enabled))
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查端点
	// ========================================
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)

	// 版本信息端点
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// 生成端点
	// ========================================
	mux.HandleFunc("/generate-3d", s.generateHandler.HandleGenerate)

	// 根路径服务描述；"/" 同时兜底未注册路径，HandleRoot 内部区分
	mux.HandleFunc("/", s.healthHandler.HandleRoot)

	// ========================================
	// 构建中间件链
	// ========================================
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
	)

	// ========================================
	// 使用 internal/server.Manager
	// ========================================
	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     s.cfg.Server.IdleTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	// 使用 httpManager 的 WaitForShutdown（它会监听信号）
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}

	// 执行清理
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 0. 停止配置热重载与 rate limiter 清理 goroutine。
	// 先停监视，之后不会再有 OnApply 回调与组件交错
	if s.hotReload != nil {
		s.hotReload.Stop()
	}
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 1. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 2. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 3. 刷出并关闭遥测
	if s.telemetryProviders != nil {
		if err := s.telemetryProviders.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	// 4. 等待所有 goroutine 完成
	s.wg.Wait()

	s.logger.Info("Graceful shutdown completed")
}
