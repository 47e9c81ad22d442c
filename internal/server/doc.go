// 版权所有 2025 MeshForge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理 http.Server 的生命周期。

Manager 把一个 handler 绑定到监听地址后在后台 goroutine 里服务，
生命周期单向推进：created → serving → closed，关闭是终态。
Shutdown 在配置的超时内排空在途请求；WaitForShutdown 同时监听
SIGINT/SIGTERM 与 serve 循环的异常退出，二者任一发生都会触发
优雅关闭。业务端口与指标端口各持有一个独立的 Manager。

DefaultConfig 的写超时故意取得很长：同步生成接口在写出响应前
要等完厂商轮询，写超时必须大于轮询的时间上限。
*/
package server
