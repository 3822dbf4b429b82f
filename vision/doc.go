// Copyright (c) DriftGuard Authors.
// Licensed under the MIT License.

/*
包 vision 实现视觉定位器：把截图和自然语言描述发送给视觉推理服务，
从自由文本回复中提取并校验 JSON，得到元素位置、状态判断或两图差异。

# 调用点

  - Locate / LocateAndClick / LocateAndType：元素定位 schema
    （found, confidence, x, y, width, height, reasoning, suggestedSelector）
  - VerifyState：状态校验 schema（matches, actualState, confidence）
  - FindAll：分类查找 schema（elements 数组）
  - CompareImages / CompareLive：两图对比 schema（similarity, automationImpact, breakingChanges, nonBreakingChanges）；
    CompareLive 每次尝试重新截图，新截图与基线一致时不调用推理

# 重试

每次尝试重新截图；解析失败、未找到与置信度不足计为未命中并重试，
可重试的传输错误（429/5xx/网络）同样重试，401/400 等立即返回。
每次推理调用有独立超时，整体仍受调用方 ctx 约束。置信度是唯一的接受门槛，
最后一次尝试仍低于下限时返回“未找到”，不做猜测。

# 坐标

返回的坐标总是当前视口内的 CSS 像素（元素中心）。整页截图命中视口外的位置时，
先滚动到距视口边缘 ScrollMargin 处，再用视口截图重新定位，之后才允许指针操作。
*/
package vision
