// Package factory 提供视觉推理 Provider 的集中式工厂，
// 按配置名称创建 Provider 并叠加限流与指标包装，打破 llm 包与各 provider 子包之间的循环依赖。
package factory
