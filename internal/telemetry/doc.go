// Package telemetry 初始化 OpenTelemetry SDK（OTLP gRPC traces + metrics）。
// 禁用时保留全局 noop provider，不连接任何外部服务。
package telemetry
