// Copyright 2025 MeshForge Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
包 records 是外部记忆记录存储的只读写网关。

记录表由上游业务系统拥有：本服务只按主键读取源图引用、
更新生成状态与结果引用，从不创建或删除记录，也不感知
除此之外的任何列。

# 核心类型

  - [Store]：记录存储网关，持有 REST 根地址与特权密钥
  - [Memory]：记忆记录行的本服务视图

# 状态流转

生成流水线按 processing_3d → completed / failed 写入状态，
更新总是先做存在性检查再发起单字段修改，两次往返之间
不持有任何锁。
*/
package records
