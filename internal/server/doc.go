// Package server 管理命令行进程内的 Prometheus 指标 HTTP 服务：
// 非阻塞启动、优雅关闭、异步错误通道。
package server
