package types

import "errors"

// ErrorCode 服务统一错误码。
type ErrorCode string

// 请求校验与记录存储
const (
	ErrValidation   ErrorCode = "VALIDATION_ERROR"
	ErrNotFound     ErrorCode = "NOT_FOUND"
	ErrMissingField ErrorCode = "MISSING_FIELD"
)

// 厂商任务
const (
	ErrSubmit         ErrorCode = "SUBMIT_ERROR"
	ErrJobFailed      ErrorCode = "JOB_FAILED"
	ErrTimeout        ErrorCode = "TIMEOUT"
	ErrResultNotFound ErrorCode = "RESULT_NOT_FOUND"
)

// 传输与对象存储
const (
	ErrDownload  ErrorCode = "DOWNLOAD_ERROR"
	ErrUpload    ErrorCode = "UPLOAD_ERROR"
	ErrSignedURL ErrorCode = "SIGNED_URL_ERROR"
)

// 服务内部
const (
	ErrConfig        ErrorCode = "CONFIG_ERROR"
	ErrInternalError ErrorCode = "INTERNAL_ERROR"
)

// Error 携带错误码与元数据的结构化错误。Source 标记错误发源的组件
// （records、storage、threed、fetch 等），Retryable 提示调用方是否值得重试。
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Source     string    `json:"source,omitempty"`
	Cause      error     `json:"-"`
}

// NewError 构造结构化错误，元数据通过 With* 链式补充。
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	s := "[" + string(e.Code) + "] " + e.Message
	if e.Cause != nil {
		s += ": " + e.Cause.Error()
	}
	return s
}

// Unwrap 暴露底层原因，支持 errors.Is / errors.As 链式匹配。
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithCause 记录底层原因。
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus 显式指定响应状态码，覆盖按错误码的默认映射。
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable 标记是否可重试。
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithSource 标记错误发源组件。
func (e *Error) WithSource(source string) *Error {
	e.Source = source
	return e
}

// AsError 在 err 的包装链中查找结构化错误。链中任意一层经
// fmt.Errorf("...: %w", err) 包装过的 *Error 都能被找到。
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetErrorCode 提取错误码，非结构化错误返回空串。
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsRetryable 判断错误是否可重试，非结构化错误视为不可重试。
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// IsClientError 判断错误码是否属于调用方错误（4xx 语义），
// 区别于下游失败或服务内部错误。
func IsClientError(code ErrorCode) bool {
	switch code {
	case ErrValidation, ErrNotFound, ErrMissingField:
		return true
	}
	return false
}
