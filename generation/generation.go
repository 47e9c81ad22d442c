// =============================================================================
// MeshForge Generation Pipeline
// =============================================================================
// One request in, one artifact out: resolve the source image, run the vendor
// job, upload the result, write it back to the record. Best-effort record
// updates never abort the flow; fatal stages mark the record failed before
// the error surfaces.
// =============================================================================

package generation

import (
	"context"
	"encoding/base64"
	"os"
	"time"

	"github.com/BaSui01/meshforge/internal/fetch"
	"github.com/BaSui01/meshforge/internal/metrics"
	"github.com/BaSui01/meshforge/records"
	"github.com/BaSui01/meshforge/storage"
	"github.com/BaSui01/meshforge/threed"
	"github.com/BaSui01/meshforge/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "meshforge/generation"

const (
	envDevelopment     = "development"
	defaultFixturePath = "example.stl"
	stlContentType     = "model/stl"
	filenameTimeLayout = "20060102_150405"
)

// RecordStore 流水线需要的记录读写能力。
type RecordStore interface {
	GetSourceImageURL(ctx context.Context, recordID string) (string, error)
	SetStatus(ctx context.Context, recordID, status string) ([]records.Memory, error)
	SetResultReference(ctx context.Context, recordID, path string) ([]records.Memory, error)
}

// ObjectStore 模型工件的上传与源图签名地址。
type ObjectStore interface {
	UploadModel(ctx context.Context, userID, filename string, data []byte, contentType string) (*storage.UploadResult, error)
	CreateSignedURL(ctx context.Context, urlOrPath string) (string, error)
}

// ModelVendor 厂商任务的提交、轮询与结果选取。
type ModelVendor interface {
	Submit(ctx context.Context, imageBase64 string, enablePBR bool) (string, error)
	PollUntilTerminal(ctx context.Context, jobID string) (*threed.JobResult, error)
	SelectResultURL(result *threed.JobResult) (string, error)
}

// ImageFetcher 带超时与大小上限的字节下载。
type ImageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Payload, error)
}

// Config holds the configuration for the generation pipeline.
type Config struct {
	// Environment 部署环境标记，development 时启用本地样例文件
	Environment string

	// FixturePath 样例文件路径，默认 example.stl
	FixturePath string
}

// Request 单次生成请求。
type Request struct {
	// UserID 可选，决定工件在桶内的归属目录
	UserID string

	// MemoryID 必填，目标记录主键
	MemoryID string

	// EnablePBR 是否要求厂商输出 PBR 材质
	EnablePBR bool
}

// Result 单次生成的产出。
type Result struct {
	// ModelURL 结果文件的签名下载地址
	ModelURL string

	// StoragePath 结果文件在桶内的规范路径
	StoragePath string

	// Filename 生成的文件名
	Filename string

	// UpdatedMemory 回写结果引用后返回的记录行，回写失败时为空
	UpdatedMemory []records.Memory
}

// Service 把记录库、对象存储、厂商客户端与下载器串成一条流水线。
type Service struct {
	cfg       Config
	store     RecordStore
	objects   ObjectStore
	vendor    ModelVendor
	fetcher   ImageFetcher
	collector *metrics.Collector
	logger    *zap.Logger
	tracer    trace.Tracer

	// now 文件名时间戳来源，测试中替换
	now func() time.Time
}

// New 创建生成流水线。
func New(cfg Config, store RecordStore, objects ObjectStore, vendor ModelVendor, fetcher ImageFetcher, collector *metrics.Collector, logger *zap.Logger) *Service {
	if cfg.FixturePath == "" {
		cfg.FixturePath = defaultFixturePath
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if collector == nil {
		collector = metrics.NewNop()
	}
	return &Service{
		cfg:       cfg,
		store:     store,
		objects:   objects,
		vendor:    vendor,
		fetcher:   fetcher,
		collector: collector,
		logger:    logger.With(zap.String("component", "generation")),
		tracer:    otel.Tracer(instrumentationName),
		now:       time.Now,
	}
}

// Generate 执行完整流程。校验失败在任何网络调用之前返回；进入流水线后的
// 致命错误会先尽力把记录标记为 failed，再交还调用方。
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	logger := s.logger.With(
		zap.String("memory_id", req.MemoryID),
		zap.String("user_id", req.UserID),
	)

	ctx, span := s.tracer.Start(ctx, "generation.pipeline",
		trace.WithAttributes(
			attribute.String("memory.id", req.MemoryID),
			attribute.String("user.id", req.UserID),
			attribute.Bool("vendor.enable_pbr", req.EnablePBR),
		))
	defer span.End()

	logger.Info("generation started", zap.Bool("enable_pbr", req.EnablePBR))

	// 尽力标记 processing_3d，记录缺失等问题留给后续源图查询暴露
	s.setStatus(ctx, logger, req.MemoryID, records.StatusProcessing3D)

	result, err := s.run(ctx, logger, req)
	if err != nil {
		s.setStatus(ctx, logger, req.MemoryID, records.StatusFailed)
		s.collector.RecordGeneration("failed", time.Since(start))
		span.SetAttributes(attribute.String("error.code", string(types.GetErrorCode(err))))
		logger.Error("generation failed",
			zap.Error(err),
			zap.Duration("elapsed", time.Since(start)))
		return nil, err
	}

	s.collector.RecordGeneration("completed", time.Since(start))
	span.SetAttributes(attribute.String("storage.path", result.StoragePath))
	logger.Info("generation completed",
		zap.String("storage_path", result.StoragePath),
		zap.String("filename", result.Filename),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

// run 致命阶段：源图下载、厂商任务、工件上传。
func (s *Service) run(ctx context.Context, logger *zap.Logger, req Request) (*Result, error) {
	imageBase64, err := s.fetchSourceImage(ctx, logger, req.MemoryID)
	if err != nil {
		return nil, err
	}

	modelBytes, err := s.generateModel(ctx, logger, imageBase64, req.EnablePBR)
	if err != nil {
		return nil, err
	}

	filename := buildFilename(req.MemoryID, s.now())

	uploadStart := time.Now()
	uploaded, err := s.objects.UploadModel(ctx, req.UserID, filename, modelBytes, stlContentType)
	if err != nil {
		s.collector.RecordStorageUpload("error", len(modelBytes), time.Since(uploadStart))
		return nil, err
	}
	s.collector.RecordStorageUpload("success", len(modelBytes), time.Since(uploadStart))
	s.collector.RecordGenerationStage("upload", time.Since(uploadStart))

	result := &Result{
		ModelURL:    uploaded.SignedURL,
		StoragePath: uploaded.StoragePath,
		Filename:    filename,
	}

	// 回写结果引用与完成状态都是尽力步骤，工件此时已经落桶
	writeStart := time.Now()
	rows, err := s.store.SetResultReference(ctx, req.MemoryID, uploaded.StoragePath)
	if err != nil {
		s.collector.RecordStoreOp("set_result", "error", time.Since(writeStart))
		logger.Warn("result reference update failed, continuing", zap.Error(err))
	} else {
		s.collector.RecordStoreOp("set_result", "success", time.Since(writeStart))
		result.UpdatedMemory = rows
	}
	s.setStatus(ctx, logger, req.MemoryID, records.StatusCompleted)
	s.collector.RecordGenerationStage("update_record", time.Since(writeStart))

	return result, nil
}

// fetchSourceImage 取记录里的源图引用，换签名地址下载并编码为 base64。
func (s *Service) fetchSourceImage(ctx context.Context, logger *zap.Logger, recordID string) (string, error) {
	stageStart := time.Now()

	sourceRef, err := s.store.GetSourceImageURL(ctx, recordID)
	if err != nil {
		s.collector.RecordStoreOp("get_source_image", "error", time.Since(stageStart))
		return "", err
	}
	s.collector.RecordStoreOp("get_source_image", "success", time.Since(stageStart))

	signedURL, err := s.objects.CreateSignedURL(ctx, sourceRef)
	if err != nil {
		return "", err
	}

	image, err := s.fetcher.Fetch(ctx, signedURL)
	if err != nil {
		return "", err
	}

	s.collector.RecordGenerationStage("fetch_image", time.Since(stageStart))
	logger.Info("source image downloaded",
		zap.Int("bytes", len(image.Data)),
		zap.String("content_type", image.ContentType))

	return base64.StdEncoding.EncodeToString(image.Data), nil
}

// generateModel 提交厂商任务、轮询到终态并下载结果工件。
func (s *Service) generateModel(ctx context.Context, logger *zap.Logger, imageBase64 string, enablePBR bool) ([]byte, error) {
	if data, ok := s.loadFixture(logger); ok {
		return data, nil
	}

	ctx, span := s.tracer.Start(ctx, "generation.vendor_job")
	defer span.End()

	submitStart := time.Now()
	jobID, err := s.vendor.Submit(ctx, imageBase64, enablePBR)
	if err != nil {
		return nil, err
	}
	s.collector.RecordGenerationStage("submit", time.Since(submitStart))
	span.SetAttributes(attribute.String("vendor.job_id", jobID))

	pollStart := time.Now()
	jobResult, err := s.vendor.PollUntilTerminal(ctx, jobID)
	if err != nil {
		s.collector.RecordVendorJob(vendorOutcome(err), time.Since(pollStart))
		return nil, err
	}
	s.collector.RecordVendorJob(jobResult.Status, time.Since(pollStart))
	s.collector.RecordGenerationStage("poll", time.Since(pollStart))

	resultURL, err := s.vendor.SelectResultURL(jobResult)
	if err != nil {
		return nil, err
	}

	downloadStart := time.Now()
	artifact, err := s.fetcher.Fetch(ctx, resultURL)
	if err != nil {
		return nil, err
	}
	s.collector.RecordGenerationStage("download", time.Since(downloadStart))
	logger.Info("model artifact downloaded",
		zap.String("job_id", jobID),
		zap.String("content_type", artifact.ContentType),
		zap.Int("bytes", len(artifact.Data)))

	return artifact.Data, nil
}

// setStatus 尽力更新记录状态，失败只记日志。
func (s *Service) setStatus(ctx context.Context, logger *zap.Logger, recordID, status string) {
	opStart := time.Now()
	if _, err := s.store.SetStatus(ctx, recordID, status); err != nil {
		s.collector.RecordStoreOp("set_status", "error", time.Since(opStart))
		logger.Warn("status update failed, continuing",
			zap.String("status", status),
			zap.Error(err))
		return
	}
	s.collector.RecordStoreOp("set_status", "success", time.Since(opStart))
}

// loadFixture 开发环境读取本地样例文件，缺失时回落到真实厂商调用。
func (s *Service) loadFixture(logger *zap.Logger) ([]byte, bool) {
	if s.cfg.Environment != envDevelopment {
		return nil, false
	}
	data, err := os.ReadFile(s.cfg.FixturePath)
	if err != nil {
		logger.Warn("fixture unavailable, calling vendor instead",
			zap.String("path", s.cfg.FixturePath),
			zap.Error(err))
		return nil, false
	}
	logger.Info("using local fixture",
		zap.String("path", s.cfg.FixturePath),
		zap.Int("bytes", len(data)))
	return data, true
}

// vendorOutcome 把轮询错误折算为指标标签。
func vendorOutcome(err error) string {
	switch types.GetErrorCode(err) {
	case types.ErrJobFailed:
		return threed.StatusFail
	case types.ErrTimeout:
		return "TIMEOUT"
	default:
		return "ERROR"
	}
}

// buildFilename 生成 {记录ID}_{时间戳}.stl，记录 ID 为空时只保留时间戳。
func buildFilename(recordID string, now time.Time) string {
	ts := now.Format(filenameTimeLayout)
	if recordID == "" {
		return ts + ".stl"
	}
	return recordID + "_" + ts + ".stl"
}
