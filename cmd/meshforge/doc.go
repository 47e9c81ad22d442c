// Copyright (c) MeshForge Authors.
// Licensed under the MIT License.

/*
Package main 提供 MeshForge 服务端程序入口。

# 概述

cmd/meshforge 是 MeshForge 服务的可执行入口，提供 HTTP API 服务、
健康检查和版本查询等子命令。程序支持 YAML 配置文件加载、.env 注入、
结构化日志（zap）、Prometheus 指标采集以及可选的 OpenTelemetry 遥测。

# 核心类型

  - Server           — 主服务器，管理 HTTP、Metrics 双端口及优雅关闭
  - Middleware        — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter    — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 子命令：serve（启动服务）、version、health
  - 中间件链：Recovery、RequestID（uuid）、SecurityHeaders、RequestLogger、
    MetricsMiddleware、OTelTracing、CORS、RateLimiter（基于 IP）
  - 路由：/generate-3d（生成）、/health 系列、/version、根路径服务描述
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 配置热重载：指定 --config 时监听文件变更，日志级别即时生效，
    生成流水线按新配置重建，重启类字段在变更日志中标记
  - 优雅关闭：信号监听 → 关闭 HTTP → 关闭 Metrics → 刷出遥测 → Wait
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
