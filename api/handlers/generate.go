package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/meshforge/generation"
	"github.com/BaSui01/meshforge/records"
	"github.com/BaSui01/meshforge/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🧊 3D 生成接口 Handler
// =============================================================================

// Generator 生成流水线的最小接口
type Generator interface {
	Generate(ctx context.Context, req generation.Request) (*generation.Result, error)
}

// GenerateHandler 3D 生成接口处理器
type GenerateHandler struct {
	service Generator
	logger  *zap.Logger
}

// NewGenerateHandler 创建生成处理器
func NewGenerateHandler(service Generator, logger *zap.Logger) *GenerateHandler {
	return &GenerateHandler{
		service: service,
		logger:  logger,
	}
}

// generateResponse /generate-3d 的响应体。历史契约：出错时 status/message
// 之外的字段输出 null 而不是省略。
type generateResponse struct {
	Status         string           `json:"status"`
	Message        string           `json:"message"`
	STLURL         *string          `json:"stl_url"`
	STLStoragePath *string          `json:"stl_storage_path"`
	Filename       *string          `json:"filename"`
	UpdatedMemory  []records.Memory `json:"updated_memory"`
}

// HandleGenerate 处理 3D 生成请求
// @Summary 图生 3D
// @Description 从记录的源图生成 STL 工件并上传对象存储
// @Tags 生成
// @Accept mpfd
// @Produce json
// @Param user_id formData string false "用户标识"
// @Param memory_id formData string true "记录主键"
// @Param enable_pbr formData boolean false "是否要求 PBR 材质"
// @Success 200 {object} generateResponse "生成成功"
// @Failure 400 {object} Response "参数错误"
// @Failure 404 {object} Response "记录不存在"
// @Failure 500 {object} generateResponse "生成失败"
// @Router /generate-3d [post]
func (h *GenerateHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, types.ErrValidation, "method not allowed", h.logger)
		return
	}

	req := generation.Request{
		UserID:    r.FormValue("user_id"),
		MemoryID:  r.FormValue("memory_id"),
		EnablePBR: parseFormBool(r.FormValue("enable_pbr")),
	}

	h.logger.Info("generation request received",
		zap.String("memory_id", req.MemoryID),
		zap.String("user_id", req.UserID),
		zap.Bool("enable_pbr", req.EnablePBR))

	// 轮询不随客户端断开而中止，记录状态必须推进到终态
	ctx := context.WithoutCancel(r.Context())

	start := time.Now()
	result, err := h.service.Generate(ctx, req)
	if err != nil {
		h.writeGenerateError(w, err, time.Since(start))
		return
	}

	h.logger.Info("generation request completed",
		zap.String("memory_id", req.MemoryID),
		zap.String("storage_path", result.StoragePath),
		zap.Duration("duration", time.Since(start)))

	WriteJSON(w, http.StatusOK, generateResponse{
		Status:         "success",
		Message:        "3D STL generated successfully",
		STLURL:         &result.ModelURL,
		STLStoragePath: &result.StoragePath,
		Filename:       &result.Filename,
		UpdatedMemory:  result.UpdatedMemory,
	})
}

// writeGenerateError 客户端错误走统一错误封装，其余错误保持历史错误体。
func (h *GenerateHandler) writeGenerateError(w http.ResponseWriter, err error, elapsed time.Duration) {
	code := types.GetErrorCode(err)
	if types.IsClientError(code) {
		if typed, ok := types.AsError(err); ok {
			WriteError(w, typed, h.logger)
			return
		}
	}

	h.logger.Error("generation request failed",
		zap.String("code", string(code)),
		zap.Duration("duration", elapsed),
		zap.Error(err))

	WriteJSON(w, http.StatusInternalServerError, generateResponse{
		Status:  "error",
		Message: err.Error(),
	})
}

// parseFormBool 解析表单布尔值，兼容 checkbox 的 on/off 写法。
func parseFormBool(value string) bool {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "on", "yes", "y":
		return true
	case "", "off", "no", "n":
		return false
	}
	b, err := strconv.ParseBool(normalized)
	if err != nil {
		return false
	}
	return b
}
