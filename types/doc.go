// Copyright (c) DriftGuard Authors.
// Licensed under the MIT License.

/*
Package types 提供 driftguard 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 browser、vision、resolver、
baseline 等上层模块提供统一的类型契约，避免循环依赖。

# 核心类型

  - ElementID：逻辑元素标识（如 "menu.saveButton"），与具体标记无关
  - Point / Rect：CSS 像素坐标与矩形
  - Error / ErrorCode：结构化错误体系，含 Retryable、Provider 标记

# 主要能力

  - Context 传播：WithTraceID / WithRunID / WithPageType / WithElementID
  - 错误工具链：NewError / Errorf / IsCode / IsRetryable / GetErrorCode
*/
package types
