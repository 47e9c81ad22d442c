// Copyright 2026 The MeshForge Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package generation 串联一次图生 3D 请求的完整流水线。

流程固定为六步：校验入参 → 尽力把记录标记为 processing_3d → 解析源图引用并
下载（签名 URL + base64 编码）→ 提交厂商任务并轮询到终态 → 下载结果工件并
上传对象存储 → 尽力回写结果引用与 completed 状态。

失败语义：

  - 校验失败在任何网络调用之前返回；
  - 标记 processing_3d、回写结果引用、标记 completed 均为尽力步骤，
    失败只记日志，不阻断流程；
  - 源图下载、厂商任务、结果上传为致命步骤，任一失败都会尽力把记录
    标记为 failed，然后把错误原样交还调用方。

开发环境（Environment 为 development）用本地样例文件替代厂商任务，
样例文件缺失时回落到真实调用。
*/
package generation
