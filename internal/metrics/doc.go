// Copyright (c) DriftGuard Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的解析与漂移检测指标采集。

# 概述

Collector 通过 promauto.With 注册到调用方注入的 prometheus.Registerer，
测试中可传入独立的 prometheus.NewRegistry，避免全局注册冲突。

# 指标分组

  - 解析：按 method/outcome 统计解析次数与耗时，按 tier 统计未命中，
    以及产出可复用选择器的视觉恢复次数。
  - 推理：按 provider/call_site/status 统计请求数与耗时，按 provider 统计
    输入/输出 Token。
  - 语义查找：命中来源分布，缓存命中与未命中。
  - 基线：按对比路径（hash/ai/pixel）与自动化影响等级统计对比次数；
    学习账本落盘结果。

所有记录方法允许 nil 接收者，未启用指标时组件直接持有 nil *Collector。
*/
package metrics
