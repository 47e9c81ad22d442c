package handlers

import (
	"context"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/BaSui01/meshforge/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

const (
	// serviceName /health 响应里的服务标识。历史值，前端监控按它过滤
	serviceName = "3d-generation-api"

	// checkTimeout 单次健康检查总预算
	checkTimeout = 5 * time.Second
)

// HealthCheck 一项可执行的依赖检查。
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckFunc 把一个函数适配成 HealthCheck，省去每种依赖各写一个类型。
func CheckFunc(name string, fn func(context.Context) error) HealthCheck {
	return namedCheck{name: name, fn: fn}
}

type namedCheck struct {
	name string
	fn   func(context.Context) error
}

func (c namedCheck) Name() string                    { return c.name }
func (c namedCheck) Check(ctx context.Context) error { return c.fn(ctx) }

// HealthHandler 暴露三类探针：历史 /health、存活 /healthz、就绪 /ready。
type HealthHandler struct {
	logger *zap.Logger

	mu     sync.RWMutex
	checks []HealthCheck
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	return &HealthHandler{logger: logger}
}

// RegisterCheck 注册健康检查，按注册顺序执行
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	h.checks = append(h.checks, check)
	h.mu.Unlock()
}

func (h *HealthHandler) snapshot() []HealthCheck {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]HealthCheck(nil), h.checks...)
}

// =============================================================================
// 📋 响应结构
// =============================================================================

// HealthStatus /healthz 与 /ready 的响应体。
type HealthStatus struct {
	Status    string                 `json:"status"` // "healthy" / "unhealthy"
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单项检查的结论。
type CheckResult struct {
	Status  string `json:"status"` // "pass" / "fail"
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// healthResponse /health 的历史响应结构，不健康时也返回 200，
// 调用方靠 status 字段区分。
type healthResponse struct {
	Status         string    `json:"status"`
	Service        string    `json:"service"`
	Timestamp      time.Time `json:"timestamp"`
	Error          string    `json:"error,omitempty"`
	ResponseTimeMS float64   `json:"response_time_ms"`
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth 处理 /health 请求。依次执行注册的检查，第一个失败即停；
// 无论结果如何都返回 200，健康与否由 status 字段表达。
// @Summary 健康检查
// @Description 检查配置有效性与记录库连通性
// @Tags 健康
// @Produce json
// @Success 200 {object} healthResponse "健康状态"
// @Router /health [get]
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	resp := healthResponse{
		Status:    "healthy",
		Service:   serviceName,
		Timestamp: time.Now(),
	}

	for _, check := range h.snapshot() {
		if err := check.Check(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			h.logger.Warn("health check failed",
				zap.String("check", check.Name()),
				zap.Error(err))
			break
		}
	}

	resp.ResponseTimeMS = roundMillis(time.Since(start))
	WriteJSON(w, http.StatusOK, resp)
}

// HandleHealthz 处理 /healthz 请求，只回答进程是否存活。
// @Summary Kubernetes 活跃度探针
// @Description 只检查进程是否存活
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务处于活动状态"
// @Router /healthz [get]
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// HandleReady 处理 /ready 与 /readyz 请求。全部检查通过才算就绪，
// 任一失败返回 503，并在 checks 里逐项给出结论与延迟。
// @Summary 准备情况检查
// @Description 检查服务是否准备好接受流量
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务已准备就绪"
// @Failure 503 {object} HealthStatus "服务尚未准备好"
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	results, healthy := h.runChecks(ctx)

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    results,
	}
	code := http.StatusOK
	if !healthy {
		status.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

// runChecks 执行全部检查并记录各自延迟，返回是否全部通过。
// 与 /health 不同，这里不会在第一个失败处停下。
func (h *HealthHandler) runChecks(ctx context.Context) (map[string]CheckResult, bool) {
	results := make(map[string]CheckResult)
	healthy := true

	for _, check := range h.snapshot() {
		begin := time.Now()
		err := check.Check(ctx)
		latency := time.Since(begin)

		if err != nil {
			healthy = false
			results[check.Name()] = CheckResult{
				Status:  "fail",
				Message: err.Error(),
				Latency: latency.String(),
			}
			h.logger.Warn("health check failed",
				zap.String("check", check.Name()),
				zap.Error(err),
				zap.Duration("latency", latency))
			continue
		}

		results[check.Name()] = CheckResult{
			Status:  "pass",
			Latency: latency.String(),
		}
	}

	return results, healthy
}

// HandleVersion 处理 /version 请求
// @Summary 版本信息
// @Description 返回版本信息
// @Tags 健康
// @Produce json
// @Success 200 {object} map[string]string "版本信息"
// @Router /version [get]
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// HandleRoot 处理 / 请求，返回服务描述
// @Summary 服务描述
// @Description 返回服务名、版本与端点列表
// @Tags 健康
// @Produce json
// @Success 200 {object} map[string]interface{} "服务描述"
// @Router / [get]
func (h *HealthHandler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	// "/" 模式会兜底所有未注册路径
	if r.URL.Path != "/" {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "not found", h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"service": "3D Generation API",
		"version": "1.0",
		"endpoints": map[string]string{
			"generate_3d": "/generate-3d",
			"health":      "/health",
		},
		"timestamp":   time.Now(),
		"description": "API for generating 3D STL files from images using Tencent AI3D service",
	})
}

// roundMillis 毫秒保留两位小数
func roundMillis(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*100) / 100
}
