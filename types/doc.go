// Copyright (c) MeshForge Authors.
// Licensed under the MIT License.

/*
Package types 提供 MeshForge 服务的全局共享类型定义。

# 概述

types 是服务最底层的公共包，不依赖任何内部包，为 records、storage、threed、
generation、api 等上层模块提供统一的错误契约。所有跨包共享的错误码和
结构化错误类型均定义于此，以避免循环依赖。

# 核心类型

  - Error     — 结构化错误（Code、Message、HTTPStatus、Retryable、Source、Cause）
  - ErrorCode — 统一错误码（校验、记录存储、厂商任务、传输与存储、服务内部）

# 错误码分组

校验与记录存储: VALIDATION_ERROR、NOT_FOUND、MISSING_FIELD。
厂商任务: SUBMIT_ERROR、JOB_FAILED、TIMEOUT、RESULT_NOT_FOUND。
传输与存储: DOWNLOAD_ERROR、UPLOAD_ERROR、SIGNED_URL_ERROR。
服务内部: CONFIG_ERROR、INTERNAL_ERROR。

# 使用示例

	err := types.NewError(types.ErrJobFailed, "vendor job failed").
		WithSource("hunyuan3d").
		WithHTTPStatus(http.StatusBadGateway).
		WithCause(cause)

	if types.IsClientError(types.GetErrorCode(err)) {
		// 4xx 语义，调用方错误
	}
*/
package types
