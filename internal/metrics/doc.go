// 版权所有 2025 MeshForge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 定义服务的 Prometheus 指标面。

Collector 一次性注册五组指标：HTTP 入口（按 method/path/状态类
分组，状态码折叠成 2xx…5xx 控制基数）、生成流水线（端到端耗时
按结果分组，另有 fetch_image/submit/poll/download/upload/
update_record 六个阶段的耗时直方图）、厂商任务（按 DONE/FAIL/
TIMEOUT/ERROR 终态分组）、对象存储上传与记录存储往返。

NewCollector 挂默认注册表，进程里只建一次；NewCollectorWith 接受
显式 Registerer，测试用独立 Registry 互不冲突；NewNop 给没接指标
后端的调用方一个安全的空实现。时长桶体现同步生成的现实：请求会
阻塞到厂商任务结束，最大桶到 600 秒。
*/
package metrics
