// Package telemetry 按配置装配 OpenTelemetry 的 trace 与 metric
// 提供方并注册为全局，生成流水线的阶段 span 经由这里建立的
// TracerProvider 导出。禁用遥测时全局保持 noop，不连接任何采集端；
// W3C trace context 透传始终注册。配置热重载遥测字段时，提供方会被
// 整体重建并替换。
package telemetry
