package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector 汇集服务的全部 Prometheus 指标，
// 按来源分组：HTTP 入口、生成流水线、厂商任务、对象存储、记录存储。
type Collector struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	generationsTotal   *prometheus.CounterVec
	generationDuration *prometheus.HistogramVec
	stageDuration      *prometheus.HistogramVec

	vendorJobsTotal   *prometheus.CounterVec
	vendorJobDuration *prometheus.HistogramVec

	storageUploadsTotal   *prometheus.CounterVec
	storageUploadBytes    *prometheus.HistogramVec
	storageUploadDuration *prometheus.HistogramVec

	storeOpsTotal   *prometheus.CounterVec
	storeOpDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 在默认注册表上注册全部指标，进程内只能调用一次。
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWith(namespace, prometheus.DefaultRegisterer, logger)
}

// NewNop 返回挂在独立 Registry 上的收集器。
// 没接指标后端的调用方（含测试）用它代替 nil，不会污染默认注册表。
func NewNop() *Collector {
	return NewCollectorWith("", prometheus.NewRegistry(), zap.NewNop())
}

// NewCollectorWith 在给定注册表上注册全部指标。
func NewCollectorWith(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	}
	histogram := func(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		}, labels)
	}

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),

		httpRequestsTotal: counter("http_requests_total",
			"Total number of HTTP requests", "method", "path", "status"),
		// 同步生成请求会阻塞到厂商任务结束，时长桶必须覆盖轮询上限
		httpRequestDuration: histogram("http_request_duration_seconds",
			"HTTP request duration in seconds",
			[]float64{0.005, 0.05, 0.5, 1, 5, 15, 30, 60, 120, 300, 600}, "method", "path"),
		httpRequestSize: histogram("http_request_size_bytes",
			"HTTP request size in bytes",
			prometheus.ExponentialBuckets(100, 10, 8), "method", "path"),
		httpResponseSize: histogram("http_response_size_bytes",
			"HTTP response size in bytes",
			prometheus.ExponentialBuckets(100, 10, 8), "method", "path"),

		generationsTotal: counter("generations_total",
			"Total number of 3D generation requests", "outcome"),
		generationDuration: histogram("generation_duration_seconds",
			"End-to-end generation duration in seconds",
			[]float64{1, 5, 15, 30, 60, 120, 300, 600}, "outcome"),
		stageDuration: histogram("generation_stage_duration_seconds",
			"Generation pipeline stage duration in seconds",
			[]float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300}, "stage"),

		vendorJobsTotal: counter("vendor_jobs_total",
			"Total number of vendor 3D jobs by terminal status", "status"),
		vendorJobDuration: histogram("vendor_job_duration_seconds",
			"Vendor job duration from submit to terminal status",
			[]float64{1, 5, 15, 30, 60, 120, 300, 600}, "status"),

		storageUploadsTotal: counter("storage_uploads_total",
			"Total number of model uploads to object storage", "status"),
		storageUploadBytes: histogram("storage_upload_bytes",
			"Uploaded model size in bytes",
			prometheus.ExponentialBuckets(1024, 4, 8), "status"),
		storageUploadDuration: histogram("storage_upload_duration_seconds",
			"Model upload duration in seconds",
			prometheus.DefBuckets, "status"),

		storeOpsTotal: counter("record_store_operations_total",
			"Total number of record store round trips", "operation", "status"),
		storeOpDuration: histogram("record_store_operation_duration_seconds",
			"Record store round trip duration in seconds",
			prometheus.DefBuckets, "operation"),
	}

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// RecordGeneration 记录一次端到端生成
func (c *Collector) RecordGeneration(outcome string, duration time.Duration) {
	c.generationsTotal.WithLabelValues(outcome).Inc()
	c.generationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordGenerationStage 记录流水线单阶段耗时
func (c *Collector) RecordGenerationStage(stage string, duration time.Duration) {
	c.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordVendorJob 记录厂商任务终态与提交到终态的耗时
func (c *Collector) RecordVendorJob(status string, duration time.Duration) {
	c.vendorJobsTotal.WithLabelValues(status).Inc()
	c.vendorJobDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStorageUpload 记录模型上传
func (c *Collector) RecordStorageUpload(status string, bytes int, duration time.Duration) {
	c.storageUploadsTotal.WithLabelValues(status).Inc()
	c.storageUploadBytes.WithLabelValues(status).Observe(float64(bytes))
	c.storageUploadDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStoreOp 记录一次记录存储往返
func (c *Collector) RecordStoreOp(operation, status string, duration time.Duration) {
	c.storeOpsTotal.WithLabelValues(operation, status).Inc()
	c.storeOpDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// statusClass 把具体状态码折叠成 2xx/3xx/4xx/5xx 标签，控制基数
func statusClass(code int) string {
	switch {
	case code < 200:
		return "unknown"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
