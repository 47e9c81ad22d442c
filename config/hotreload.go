// =============================================================================
// 🔄 配置热重载
// =============================================================================
// 配置文件变更后重新走一遍完整加载链，校验通过才替换当前配置，
// 加载失败或校验不过时继续使用旧配置。变更按字段逐一比较并分类：
// 热生效字段由订阅方立即应用，其余字段记入日志并标记需要重启；
// 凭证类字段的新旧值在日志与回调中一律脱敏。
// =============================================================================
package config

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// redactedValue 替代日志与回调中的凭证字段值
const redactedValue = "[REDACTED]"

// Change 描述一次重载中单个配置字段的变化
type Change struct {
	// Path 是字段的 YAML 路径，如 "vendor.poll_interval"
	Path string `json:"path"`

	// Old 与 New 是渲染成字符串的新旧值，凭证字段已脱敏
	Old string `json:"old"`
	New string `json:"new"`

	// RequiresRestart 标记未列入热生效清单的字段：
	// 新值已写入当前配置，但不保证影响运行中的组件
	RequiresRestart bool `json:"requires_restart"`
}

// ReloadManager 把文件监视、重新加载与变更分发串联起来。
// Current 返回的配置在 Reload 成功后整体替换，订阅方拿到的新旧
// 指针都不会再被修改。
type ReloadManager struct {
	path     string
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	current *Config
	onField []func(Change)
	onApply []func(old, new *Config)

	watcher *Watcher
}

// ReloadOption 配置 ReloadManager
type ReloadOption func(*ReloadManager)

// WithReloadPollInterval 设置底层文件监视的轮询间隔
func WithReloadPollInterval(d time.Duration) ReloadOption {
	return func(m *ReloadManager) {
		if d > 0 {
			m.interval = d
		}
	}
}

// NewReloadManager 创建热重载管理器，initial 是当前生效的配置
func NewReloadManager(initial *Config, path string, logger *zap.Logger, opts ...ReloadOption) *ReloadManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &ReloadManager{
		path:     path,
		interval: DefaultPollInterval,
		logger:   logger,
		current:  initial,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnFieldChange 注册字段级变更回调，每个变化的字段调用一次
func (m *ReloadManager) OnFieldChange(fn func(Change)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onField = append(m.onField, fn)
}

// OnApply 注册整体应用回调，在新配置替换完成后调用
func (m *ReloadManager) OnApply(fn func(old, new *Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onApply = append(m.onApply, fn)
}

// Current 返回当前生效的配置
func (m *ReloadManager) Current() *Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Start 启动文件监视，文件内容稳定变更后自动执行 Reload
func (m *ReloadManager) Start() error {
	w := NewWatcher(m.path, func() {
		if err := m.Reload(); err != nil {
			m.logger.Error("Config reload failed, keeping previous config", zap.Error(err))
		}
	}, WithPollInterval(m.interval), WithWatchLogger(m.logger))

	if err := w.Start(); err != nil {
		return fmt.Errorf("start config watcher: %w", err)
	}
	m.watcher = w

	m.logger.Info("Config hot reload started", zap.String("path", m.path))
	return nil
}

// Stop 停止文件监视，可重复调用
func (m *ReloadManager) Stop() {
	if m.watcher != nil {
		m.watcher.Stop()
	}
}

// Reload 从文件重新加载配置并应用。加载或校验失败时返回错误且
// 当前配置保持不变；没有任何字段变化时不触发回调。
func (m *ReloadManager) Reload() error {
	next, err := NewLoader().WithConfigPath(m.path).Load()
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("reloaded config rejected: %w", err)
	}

	m.mu.Lock()
	prev := m.current
	changes := diffConfigs(prev, next)
	if len(changes) == 0 {
		m.mu.Unlock()
		m.logger.Debug("Config file reloaded with no effective changes")
		return nil
	}
	m.current = next
	onField := append(([]func(Change))(nil), m.onField...)
	onApply := append(([]func(old, new *Config))(nil), m.onApply...)
	m.mu.Unlock()

	restart := 0
	for _, ch := range changes {
		if ch.RequiresRestart {
			restart++
		}
		m.logger.Info("Config field changed",
			zap.String("path", ch.Path),
			zap.String("old", ch.Old),
			zap.String("new", ch.New),
			zap.Bool("requires_restart", ch.RequiresRestart))
	}

	m.dispatch(onField, onApply, changes, prev, next)

	m.logger.Info("Configuration reloaded",
		zap.Int("changed_fields", len(changes)),
		zap.Int("restart_required", restart))
	return nil
}

// dispatch 在 recover 保护下通知订阅方，订阅方 panic 不能杀死监视 goroutine
func (m *ReloadManager) dispatch(onField []func(Change), onApply []func(old, new *Config), changes []Change, prev, next *Config) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Config reload subscriber panicked", zap.Any("panic", r))
		}
	}()
	for _, fn := range onField {
		for _, ch := range changes {
			fn(ch)
		}
	}
	for _, fn := range onApply {
		fn(prev, next)
	}
}

// =============================================================================
// 🧮 字段级比较与分类
// =============================================================================

// fieldClass 标记字段变更的生效方式
type fieldClass int

const (
	// hotField 的新值在订阅方重建流水线或调整日志级别后即刻生效
	hotField fieldClass = iota
	// restartField 的新值不保证影响运行中的组件，重启后完全生效
	restartField
	// secretField 等同于 restartField，且值在日志与回调中脱敏
	secretField
)

// differ 收集两份配置之间的字段变化
type differ struct {
	changes []Change
}

func (d *differ) field(path string, oldVal, newVal any, class fieldClass) {
	if reflect.DeepEqual(oldVal, newVal) {
		return
	}
	oldS, newS := renderValue(oldVal), renderValue(newVal)
	if class == secretField {
		oldS, newS = redactedValue, redactedValue
	}
	d.changes = append(d.changes, Change{
		Path:            path,
		Old:             oldS,
		New:             newS,
		RequiresRestart: class != hotField,
	})
}

// renderValue 把字段值渲染成日志友好的字符串
func renderValue(v any) string {
	switch t := v.(type) {
	case time.Duration:
		return t.String()
	case []string:
		return strings.Join(t, ",")
	default:
		return fmt.Sprint(t)
	}
}

// diffConfigs 逐字段比较两份配置，路径与 YAML 键一致。
// 热生效清单：日志级别、遥测全部字段、厂商轮询间隔/超时、
// 样例文件路径、下载超时与大小上限、签名 URL 有效期；
// 端口、服务器超时、限流、CORS、运行环境与所有凭证都要求重启。
func diffConfigs(oldCfg, newCfg *Config) []Change {
	var d differ

	d.field("server.http_port", oldCfg.Server.HTTPPort, newCfg.Server.HTTPPort, restartField)
	d.field("server.metrics_port", oldCfg.Server.MetricsPort, newCfg.Server.MetricsPort, restartField)
	d.field("server.read_timeout", oldCfg.Server.ReadTimeout, newCfg.Server.ReadTimeout, restartField)
	d.field("server.write_timeout", oldCfg.Server.WriteTimeout, newCfg.Server.WriteTimeout, restartField)
	d.field("server.idle_timeout", oldCfg.Server.IdleTimeout, newCfg.Server.IdleTimeout, restartField)
	d.field("server.shutdown_timeout", oldCfg.Server.ShutdownTimeout, newCfg.Server.ShutdownTimeout, restartField)
	d.field("server.rate_limit_rps", oldCfg.Server.RateLimitRPS, newCfg.Server.RateLimitRPS, restartField)
	d.field("server.rate_limit_burst", oldCfg.Server.RateLimitBurst, newCfg.Server.RateLimitBurst, restartField)
	d.field("server.cors_allowed_origins", oldCfg.Server.CORSAllowedOrigins, newCfg.Server.CORSAllowedOrigins, restartField)

	d.field("store.url", oldCfg.Store.URL, newCfg.Store.URL, restartField)
	d.field("store.anon_key", oldCfg.Store.AnonKey, newCfg.Store.AnonKey, secretField)
	d.field("store.service_key", oldCfg.Store.ServiceKey, newCfg.Store.ServiceKey, secretField)
	d.field("store.bucket", oldCfg.Store.Bucket, newCfg.Store.Bucket, restartField)
	d.field("store.table", oldCfg.Store.Table, newCfg.Store.Table, restartField)
	d.field("store.request_timeout", oldCfg.Store.RequestTimeout, newCfg.Store.RequestTimeout, restartField)
	d.field("store.signed_url_ttl", oldCfg.Store.SignedURLTTL, newCfg.Store.SignedURLTTL, hotField)

	d.field("vendor.secret_id", oldCfg.Vendor.SecretID, newCfg.Vendor.SecretID, secretField)
	d.field("vendor.secret_key", oldCfg.Vendor.SecretKey, newCfg.Vendor.SecretKey, secretField)
	d.field("vendor.region", oldCfg.Vendor.Region, newCfg.Vendor.Region, restartField)
	d.field("vendor.endpoint", oldCfg.Vendor.Endpoint, newCfg.Vendor.Endpoint, restartField)
	d.field("vendor.result_format", oldCfg.Vendor.ResultFormat, newCfg.Vendor.ResultFormat, restartField)
	d.field("vendor.request_timeout", oldCfg.Vendor.RequestTimeout, newCfg.Vendor.RequestTimeout, restartField)
	d.field("vendor.poll_interval", oldCfg.Vendor.PollInterval, newCfg.Vendor.PollInterval, hotField)
	d.field("vendor.poll_timeout", oldCfg.Vendor.PollTimeout, newCfg.Vendor.PollTimeout, hotField)

	d.field("generation.environment", oldCfg.Generation.Environment, newCfg.Generation.Environment, restartField)
	d.field("generation.fixture_path", oldCfg.Generation.FixturePath, newCfg.Generation.FixturePath, hotField)
	d.field("generation.download_timeout", oldCfg.Generation.DownloadTimeout, newCfg.Generation.DownloadTimeout, hotField)
	d.field("generation.max_download_bytes", oldCfg.Generation.MaxDownloadBytes, newCfg.Generation.MaxDownloadBytes, hotField)
	d.field("generation.insecure_download", oldCfg.Generation.InsecureDownload, newCfg.Generation.InsecureDownload, restartField)

	d.field("log.level", oldCfg.Log.Level, newCfg.Log.Level, hotField)
	d.field("log.format", oldCfg.Log.Format, newCfg.Log.Format, restartField)
	d.field("log.output_paths", oldCfg.Log.OutputPaths, newCfg.Log.OutputPaths, restartField)
	d.field("log.enable_caller", oldCfg.Log.EnableCaller, newCfg.Log.EnableCaller, restartField)
	d.field("log.enable_stacktrace", oldCfg.Log.EnableStacktrace, newCfg.Log.EnableStacktrace, restartField)

	d.field("telemetry.enabled", oldCfg.Telemetry.Enabled, newCfg.Telemetry.Enabled, hotField)
	d.field("telemetry.otlp_endpoint", oldCfg.Telemetry.OTLPEndpoint, newCfg.Telemetry.OTLPEndpoint, hotField)
	d.field("telemetry.service_name", oldCfg.Telemetry.ServiceName, newCfg.Telemetry.ServiceName, hotField)
	d.field("telemetry.sample_rate", oldCfg.Telemetry.SampleRate, newCfg.Telemetry.SampleRate, hotField)

	return d.changes
}
