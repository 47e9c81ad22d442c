// Copyright (c) MeshForge Authors.
// Licensed under the MIT License.

/*
包 storage 负责把生成的模型文件上传到外部对象存储，并为桶内
对象签名有时限的下载链接。

# 对象键规则

桶内对象键永远不带前导斜杠，也不包含桶名。存量记录里的源图
引用既可能是对象键也可能是完整 URL，[NormalizePath] 负责归一化：

  - 不含 "://" 的输入视为既有对象键，仅剥掉前导斜杠
  - 完整 URL 按路径段定位桶名，返回其后的剩余段
  - 桶名缺失或位于路径末尾时，退回整个 URL 路径

# 上传布局

生成结果统一落在 3d-models 子目录下，带归属用户时以用户 ID
开头，匿名时落入 generated/ 目录，见 [ObjectPath]。
*/
package storage
