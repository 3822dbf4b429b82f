// Copyright (c) DriftGuard Authors.
// Licensed under the MIT License.

/*
包 learning 实现学习账本：记录每个逻辑元素哪些选择器曾经成功、哪些被观察到失败，
以及一份有界的视觉恢复审计日志。

# 生命周期

进程启动时 Load 一次；每次解析在内存中更新；显式 Flush（以及退出时）整体写入后端。
账本是尽力而为的提示信息，不是权威索引：失败记录不会永久排除候选，
多进程写同一后端时最后写入者覆盖。

# 存储后端

  - MemoryStore：测试与一次性运行
  - FileStore：单个 JSON 文件（successes / failures / visualRecoveries），临时文件 + rename
  - RedisStore：单个 JSON 键，多台执行机共享
  - SQLStore：GORM 三张表（postgres / mysql / sqlite），事务内整体替换

NewStore 按 config.LearningConfig 选择后端。
*/
package learning
