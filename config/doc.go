// Package config 提供 MeshForge 的配置管理功能。
//
// 配置在进程启动时构造一次，显式传入各组件，不存在任何
// 包级单例。加载优先级为默认值 → YAML 文件 → .env 文件 →
// 环境变量（前缀式 MESHFORGE_* 与部署约定的裸名变量）。
//
// ReloadManager 配合轮询式 Watcher 支持运行时重载 YAML 配置：
// 文件变更后重新走完整加载链，校验通过才整体替换当前配置，
// 失败时沿用旧配置。变更逐字段比较并分类，热生效字段由订阅方
// 立即应用，其余字段标记需要重启，凭证类字段的新旧值一律脱敏。
package config
