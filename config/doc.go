// Copyright (c) DriftGuard Authors.
// Licensed under the MIT License.

// Package config 提供 DriftGuard 的配置管理功能。
//
// 包含配置加载（默认值 → YAML → 环境变量）、配置校验，
// 以及基于轮询的文件监听器，用于在运行时重新加载元素候选集。
package config
