/*
包 anthropic 提供基于 anthropic-sdk-go 的视觉推理 Provider。

图片以 base64 image block 发送，指令放在最后一个 text block，system 单独传递。
SDK 的内置重试被关闭（option.WithMaxRetries(0)），HTTP 状态码通过
llm.MapHTTPError 映射为带重试标记的 *types.Error。
*/
package anthropic
