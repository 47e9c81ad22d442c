// =============================================================================
// 📦 MeshForge 配置加载器
// =============================================================================
// 统一配置加载，支持 .env 文件 + YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("MESHFORGE").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量（含约定俗成的裸名变量）
// =============================================================================
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 MeshForge 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server"`

	// Store 记录与对象存储后端配置
	Store StoreConfig `yaml:"store"`

	// Vendor 图生 3D 厂商配置
	Vendor VendorConfig `yaml:"vendor"`

	// Generation 生成流水线配置
	Generation GenerationConfig `yaml:"generation"`

	// Log 日志配置
	Log LogConfig `yaml:"log"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// 空闲超时
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// 限流速率（每秒请求数）
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
	// 限流突发容量
	RateLimitBurst int `yaml:"rate_limit_burst"`
	// 允许的跨域来源
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// StoreConfig 记录与对象存储后端配置（Supabase 兼容的 REST 面）
type StoreConfig struct {
	// 后端基础 URL
	URL string `yaml:"url"`
	// 公开 API Key
	AnonKey string `yaml:"anon_key"`
	// 特权 API Key
	ServiceKey string `yaml:"service_key"`
	// 对象存储桶名
	Bucket string `yaml:"bucket"`
	// 记录表名
	Table string `yaml:"table"`
	// 单次请求超时
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// 签名 URL 有效期
	SignedURLTTL time.Duration `yaml:"signed_url_ttl"`
}

// VendorConfig 图生 3D 厂商配置
type VendorConfig struct {
	// 凭证 ID
	SecretID string `yaml:"secret_id"`
	// 凭证 Key
	SecretKey string `yaml:"secret_key"`
	// 区域
	Region string `yaml:"region"`
	// API 端点
	Endpoint string `yaml:"endpoint"`
	// 期望的结果格式
	ResultFormat string `yaml:"result_format"`
	// 提交/查询单次调用超时
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// 轮询间隔
	PollInterval time.Duration `yaml:"poll_interval"`
	// 轮询总超时（绝对截止时间）
	PollTimeout time.Duration `yaml:"poll_timeout"`
}

// GenerationConfig 生成流水线配置
type GenerationConfig struct {
	// 环境标签: production, development
	Environment string `yaml:"environment"`
	// development 环境下替代厂商调用的本地样例文件
	FixturePath string `yaml:"fixture_path"`
	// 源图与结果下载超时
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	// 单次下载的字节数上限，源图与结果文件都受它约束
	MaxDownloadBytes int64 `yaml:"max_download_bytes"`
	// 下载时跳过证书校验（仅在厂商结果域证书链损坏时启用）
	InsecureDownload bool `yaml:"insecure_download"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level"`
	// 输出格式: json, console
	Format string `yaml:"format"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	// 服务名称
	ServiceName string `yaml:"service_name"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envFile    string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envFile:   ".env",
		envPrefix: "MESHFORGE",
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvFile 设置 .env 文件路径
func (l *Loader) WithEnvFile(path string) *Loader {
	l.envFile = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量（前缀式与裸名式）
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 存在 .env 文件时先注入进程环境（不覆盖已有变量）
	if l.envFile != "" {
		if _, err := os.Stat(l.envFile); err == nil {
			if err := godotenv.Load(l.envFile); err != nil {
				return nil, fmt.Errorf("failed to load env file: %w", err)
			}
		}
	}

	// 3. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadYAML(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 4. 从前缀式环境变量覆盖
	if err := l.applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 5. 部署约定的裸名环境变量（SUPABASE_URL 等）最后覆盖
	applyConventionalEnv(cfg)

	// 6. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadYAML 从 YAML 文件加载配置，文件不存在时沿用默认值
func (l *Loader) loadYAML(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// =============================================================================
// 🌿 环境变量绑定
// =============================================================================

// envBinder 把前缀式环境变量写入配置字段，解析失败逐项记录
type envBinder struct {
	prefix string
	errs   []string
}

func (b *envBinder) lookup(key string) (string, bool) {
	v := os.Getenv(b.prefix + "_" + key)
	return v, v != ""
}

func (b *envBinder) fail(key string, err error) {
	b.errs = append(b.errs, fmt.Sprintf("%s_%s: %v", b.prefix, key, err))
}

func (b *envBinder) str(key string, dst *string) {
	if v, ok := b.lookup(key); ok {
		*dst = v
	}
}

func (b *envBinder) boolean(key string, dst *bool) {
	v, ok := b.lookup(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		b.fail(key, err)
		return
	}
	*dst = parsed
}

func (b *envBinder) integer(key string, dst *int) {
	v, ok := b.lookup(key)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		b.fail(key, err)
		return
	}
	*dst = parsed
}

func (b *envBinder) size(key string, dst *int64) {
	v, ok := b.lookup(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		b.fail(key, err)
		return
	}
	*dst = parsed
}

func (b *envBinder) float(key string, dst *float64) {
	v, ok := b.lookup(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		b.fail(key, err)
		return
	}
	*dst = parsed
}

func (b *envBinder) duration(key string, dst *time.Duration) {
	v, ok := b.lookup(key)
	if !ok {
		return
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		b.fail(key, err)
		return
	}
	*dst = parsed
}

func (b *envBinder) list(key string, dst *[]string) {
	v, ok := b.lookup(key)
	if !ok {
		return
	}
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	*dst = parts
}

func (b *envBinder) err() error {
	if len(b.errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid environment values: %s", strings.Join(b.errs, "; "))
}

// applyEnv 按 <前缀>_<段>_<字段> 的命名逐字段覆盖配置，
// 如 MESHFORGE_SERVER_HTTP_PORT、MESHFORGE_VENDOR_SECRET_KEY
func (l *Loader) applyEnv(cfg *Config) error {
	b := &envBinder{prefix: l.envPrefix}

	b.integer("SERVER_HTTP_PORT", &cfg.Server.HTTPPort)
	b.integer("SERVER_METRICS_PORT", &cfg.Server.MetricsPort)
	b.duration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	b.duration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	b.duration("SERVER_IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	b.duration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	b.float("SERVER_RATE_LIMIT_RPS", &cfg.Server.RateLimitRPS)
	b.integer("SERVER_RATE_LIMIT_BURST", &cfg.Server.RateLimitBurst)
	b.list("SERVER_CORS_ALLOWED_ORIGINS", &cfg.Server.CORSAllowedOrigins)

	b.str("STORE_URL", &cfg.Store.URL)
	b.str("STORE_ANON_KEY", &cfg.Store.AnonKey)
	b.str("STORE_SERVICE_KEY", &cfg.Store.ServiceKey)
	b.str("STORE_BUCKET", &cfg.Store.Bucket)
	b.str("STORE_TABLE", &cfg.Store.Table)
	b.duration("STORE_REQUEST_TIMEOUT", &cfg.Store.RequestTimeout)
	b.duration("STORE_SIGNED_URL_TTL", &cfg.Store.SignedURLTTL)

	b.str("VENDOR_SECRET_ID", &cfg.Vendor.SecretID)
	b.str("VENDOR_SECRET_KEY", &cfg.Vendor.SecretKey)
	b.str("VENDOR_REGION", &cfg.Vendor.Region)
	b.str("VENDOR_ENDPOINT", &cfg.Vendor.Endpoint)
	b.str("VENDOR_RESULT_FORMAT", &cfg.Vendor.ResultFormat)
	b.duration("VENDOR_REQUEST_TIMEOUT", &cfg.Vendor.RequestTimeout)
	b.duration("VENDOR_POLL_INTERVAL", &cfg.Vendor.PollInterval)
	b.duration("VENDOR_POLL_TIMEOUT", &cfg.Vendor.PollTimeout)

	b.str("GENERATION_ENVIRONMENT", &cfg.Generation.Environment)
	b.str("GENERATION_FIXTURE_PATH", &cfg.Generation.FixturePath)
	b.duration("GENERATION_DOWNLOAD_TIMEOUT", &cfg.Generation.DownloadTimeout)
	b.size("GENERATION_MAX_DOWNLOAD_BYTES", &cfg.Generation.MaxDownloadBytes)
	b.boolean("GENERATION_INSECURE_DOWNLOAD", &cfg.Generation.InsecureDownload)

	b.str("LOG_LEVEL", &cfg.Log.Level)
	b.str("LOG_FORMAT", &cfg.Log.Format)
	b.list("LOG_OUTPUT_PATHS", &cfg.Log.OutputPaths)
	b.boolean("LOG_ENABLE_CALLER", &cfg.Log.EnableCaller)
	b.boolean("LOG_ENABLE_STACKTRACE", &cfg.Log.EnableStacktrace)

	b.boolean("TELEMETRY_ENABLED", &cfg.Telemetry.Enabled)
	b.str("TELEMETRY_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	b.str("TELEMETRY_SERVICE_NAME", &cfg.Telemetry.ServiceName)
	b.float("TELEMETRY_SAMPLE_RATE", &cfg.Telemetry.SampleRate)

	return b.err()
}

// applyConventionalEnv 应用部署环境约定的裸名变量。
// 这些名字来自既有部署（Supabase / 腾讯云凭证），优先级高于前缀式变量。
func applyConventionalEnv(cfg *Config) {
	if v := os.Getenv("SUPABASE_URL"); v != "" {
		cfg.Store.URL = v
	}
	if v := os.Getenv("SUPABASE_ANON_KEY"); v != "" {
		cfg.Store.AnonKey = v
	}
	if v := os.Getenv("SUPABASE_SERVICE_KEY"); v != "" {
		cfg.Store.ServiceKey = v
	}
	if v := os.Getenv("SUPABASE_BUCKET"); v != "" {
		cfg.Store.Bucket = v
	}
	if v := os.Getenv("TENCENT_SECRET_ID"); v != "" {
		cfg.Vendor.SecretID = v
	}
	if v := os.Getenv("TENCENT_SECRET_KEY"); v != "" {
		cfg.Vendor.SecretKey = v
	}
	if v := os.Getenv("TENCENT_REGION"); v != "" {
		cfg.Vendor.Region = v
	}
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		cfg.Generation.Environment = v
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		// 追加到默认来源，空段忽略
		for _, origin := range strings.Split(v, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				cfg.Server.CORSAllowedOrigins = append(cfg.Server.CORSAllowedOrigins, origin)
			}
		}
	}
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	// 验证服务器配置
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}

	// 验证存储后端配置（与既有部署的启动契约一致）
	if c.Store.URL == "" {
		errs = append(errs, "SUPABASE_URL environment variable is required")
	}
	if c.Store.AnonKey == "" {
		errs = append(errs, "SUPABASE_ANON_KEY environment variable is required")
	}
	if c.Store.ServiceKey == "" {
		errs = append(errs, "SUPABASE_SERVICE_KEY environment variable is required")
	}
	if c.Store.Bucket == "" {
		errs = append(errs, "store bucket must not be empty")
	}
	if c.Store.SignedURLTTL <= 0 {
		errs = append(errs, "signed URL TTL must be positive")
	}

	// development 环境走本地样例文件，不要求厂商凭证
	if !c.IsDevelopment() {
		if c.Vendor.SecretID == "" || c.Vendor.SecretKey == "" {
			errs = append(errs, "vendor credentials are required outside development")
		}
	}
	if c.Vendor.PollInterval <= 0 {
		errs = append(errs, "poll interval must be positive")
	}
	if c.Vendor.PollTimeout < c.Vendor.PollInterval {
		errs = append(errs, "poll timeout must not be shorter than poll interval")
	}

	if c.Generation.DownloadTimeout <= 0 {
		errs = append(errs, "download timeout must be positive")
	}
	if c.Generation.MaxDownloadBytes <= 0 {
		errs = append(errs, "download size limit must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsDevelopment 报告当前环境是否为 development
func (c *Config) IsDevelopment() bool {
	return c.Generation.Environment == "development"
}

// RestURL 返回记录存储 REST 面的基础 URL
func (s *StoreConfig) RestURL() string {
	return strings.TrimRight(s.URL, "/") + "/rest/v1"
}

// StorageURL 返回对象存储 REST 面的基础 URL
func (s *StoreConfig) StorageURL() string {
	return strings.TrimRight(s.URL, "/") + "/storage/v1"
}
