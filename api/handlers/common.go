package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/BaSui01/meshforge/types"
	"go.uber.org/zap"
)

// =============================================================================
// 📦 统一响应信封
// =============================================================================

// Response 所有 JSON 接口共用的响应信封。
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// ErrorInfo 信封里的错误体。HTTPStatus 只在进程内传递状态码，不进 JSON。
type ErrorInfo struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	HTTPStatus int    `json:"-"`
}

// statusByCode 把领域错误码映射到 HTTP 状态码。
// 客户端错误进 4xx，下游（厂商、CDN）失败统一 502，未列出的一律 500。
var statusByCode = map[types.ErrorCode]int{
	types.ErrValidation:   http.StatusBadRequest,
	types.ErrMissingField: http.StatusBadRequest,
	types.ErrNotFound:     http.StatusNotFound,
	types.ErrTimeout:      http.StatusGatewayTimeout,
	types.ErrSubmit:       http.StatusBadGateway,
	types.ErrJobFailed:    http.StatusBadGateway,
	types.ErrDownload:     http.StatusBadGateway,
}

func httpStatusFor(code types.ErrorCode) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteJSON 序列化 data 并带上 JSON 头写出。
// 先序列化再写头：万一 data 不可序列化，还能退回一个干净的 500。
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"success":false}`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	w.Write(body)
}

// WriteSuccess 用统一信封写出 200 成功响应。
func WriteSuccess(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// WriteError 把领域错误翻译成错误信封。
// err.HTTPStatus 显式给定时优先，否则按错误码映射。
func WriteError(w http.ResponseWriter, err *types.Error, logger *zap.Logger) {
	status := err.HTTPStatus
	if status == 0 {
		status = httpStatusFor(err.Code)
	}

	if logger != nil {
		logger.Error("Request failed",
			zap.String("code", string(err.Code)),
			zap.String("message", err.Message),
			zap.Int("status", status),
			zap.Bool("retryable", err.Retryable),
			zap.Error(err.Cause))
	}

	WriteJSON(w, status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:       string(err.Code),
			Message:    err.Message,
			Retryable:  err.Retryable,
			HTTPStatus: status,
		},
		Timestamp: time.Now(),
	})
}

// WriteErrorMessage 是 WriteError 的便捷形式，适合就地构造的一次性错误。
func WriteErrorMessage(w http.ResponseWriter, status int, code types.ErrorCode, message string, logger *zap.Logger) {
	WriteError(w, types.NewError(code, message).WithHTTPStatus(status), logger)
}

// =============================================================================
// 📊 状态码捕获
// =============================================================================

// ResponseWriter 记录下游 handler 写出的状态码，供追踪与指标中间件读取。
// 未显式调用 WriteHeader 时按 net/http 的约定记为 200。
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode  int
	wroteHeader bool
}

// NewResponseWriter 包装 w 并预置 200。
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w, StatusCode: http.StatusOK}
}

// WriteHeader 只记录第一次写入的状态码，后续调用照常透传由底层报错。
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.StatusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

// Write 在首次写 body 时落实隐式的 200。
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.wroteHeader = true
	}
	return rw.ResponseWriter.Write(b)
}
