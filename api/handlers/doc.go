// Copyright (c) MeshForge Authors.
// Licensed under the MIT License.

/*
Package handlers 实现 MeshForge 的 HTTP 端点。

GenerateHandler 承载核心的 POST /generate-3d：表单入参，同步等待
生成流水线跑完；请求一旦受理就脱离客户端取消，记录状态总是推进
到终态。HealthHandler 承载 /health、/healthz、/ready 与根路径，
其中 /health 是历史契约——不健康也返回 200，结论写在 body 里。

出错路径统一走 Response/ErrorInfo 信封，领域错误码按 statusByCode
映射到 4xx/5xx；/generate-3d 的服务端错误保留历史错误体（status、
message 加 null 字段）。Handler 全部是标准 net/http 签名，Swagger
注解就写在各 Handle 方法上。
*/
package handlers
