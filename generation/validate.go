package generation

import (
	"regexp"

	"github.com/BaSui01/meshforge/types"
)

// identifierPattern 标识符允许的字符集，与存储路径规则保持一致
var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateRequest 校验请求入参。在任何网络调用之前执行。
func ValidateRequest(req Request) error {
	if req.MemoryID == "" {
		return types.NewError(types.ErrValidation, "memory_id is required")
	}
	if !identifierPattern.MatchString(req.MemoryID) {
		return types.NewError(types.ErrValidation, "invalid memory_id format")
	}
	if req.UserID != "" && !identifierPattern.MatchString(req.UserID) {
		return types.NewError(types.ErrValidation, "invalid user_id format")
	}
	return nil
}
