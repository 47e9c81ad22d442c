// =============================================================================
// 📦 MeshForge 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Store:      DefaultStoreConfig(),
		Vendor:     DefaultVendorConfig(),
		Generation: DefaultGenerationConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:           8080,
		MetricsPort:        9091,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       10 * time.Minute,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		RateLimitRPS:       100,
		RateLimitBurst:     200,
		CORSAllowedOrigins: []string{"http://localhost:3000"},
	}
}

// DefaultStoreConfig 返回默认存储后端配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		URL:            "",
		AnonKey:        "",
		ServiceKey:     "",
		Bucket:         "memory-photos",
		Table:          "memories",
		RequestTimeout: 30 * time.Second,
		SignedURLTTL:   time.Hour,
	}
}

// DefaultVendorConfig 返回默认厂商配置
func DefaultVendorConfig() VendorConfig {
	return VendorConfig{
		SecretID:       "",
		SecretKey:      "",
		Region:         "ap-guangzhou",
		Endpoint:       "https://ai3d.tencentcloudapi.com",
		ResultFormat:   "STL",
		RequestTimeout: 30 * time.Second,
		PollInterval:   5 * time.Second,
		PollTimeout:    5 * time.Minute,
	}
}

// DefaultGenerationConfig 返回默认生成流水线配置
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Environment:      "production",
		FixturePath:      "example.stl",
		DownloadTimeout:  60 * time.Second,
		MaxDownloadBytes: 256 << 20,
		InsecureDownload: false,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: true,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "meshforge",
		SampleRate:   1.0,
	}
}
