// Copyright 2025-2026 MeshForge Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
包 threed 封装厂商「图生 3D」接口：提交任务、查询状态、
轮询直至终态，并从结果文件列表中挑出目标格式的下载地址。

# 任务生命周期

任务状态由厂商侧驱动：WAIT / RUN 表示仍在排队或生成，
DONE / FAIL 为终态。[Client.PollUntilTerminal] 按固定间隔轮询，
截止时间在每轮查询前检查，任务失败与查询失败都会立刻中止。

# 请求签名

厂商 API 使用 TC3-HMAC-SHA256 派生密钥签名，签名串覆盖
content-type、host 与 x-tc-action 三个头，实现见 signer.go。
凭据只在构造时传入，运行期不读环境变量。
*/
package threed
