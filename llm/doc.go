// Copyright (c) DriftGuard Authors.
// Licensed under the MIT License.

/*
包 llm 定义视觉推理服务的调用边界。

# 概述

推理服务接收一张或多张截图与一段自然语言指令，返回自由文本。文本"通常"包含一个
JSON 对象或数组，但不保证只包含 JSON，也不保证字段完整或类型正确。本包负责把这
段不可信的文本安全地交给调用方。

# 核心接口

  - [VisionProvider]：Name / Analyze，由 providers/anthropic 与
    providers/openaicompat 实现
  - [InferenceRecorder]：推理指标接收方，由 internal/metrics.Collector 实现

# 响应解析

  - [ExtractJSON]：提取第一个括号平衡、字符串感知且合法的 JSON 块，
    容忍前后说明文字与 Markdown 代码块
  - [ParseUnverified] / [ParseUnverifiedList]：得到 [Unverified] 载荷，
    只能通过带校验的访问器（Bool / Float / String / Strings / Confidence）读取

# 包装器

  - [NewRateLimitedProvider]：令牌桶限流（golang.org/x/time/rate）
  - [NewInstrumentedProvider]：OpenTelemetry span + 推理指标

# 错误

传输层错误统一为 *types.Error：429、408/504、5xx、529 与网络错误标记为可重试，
401/403/400 不可重试。重试策略见 llm/retry。
*/
package llm
