// Copyright (c) DriftGuard Authors.
// Licensed under the MIT License.

/*
Package resolver 把稳定的逻辑元素标识解析为当前页面上的元素。

解析按层进行，每层未命中时落到下一层：

  - learned：学习账本中成功次数最多的选择器
  - static：候选集中作者排序的静态选择器
  - semantic：按视觉描述查模式库/启发式（可选）
  - visual：截图交给视觉推理服务定位，再把坐标换回选择器

所有层共享一个总预算；每层开始前检查剩余预算，不足则跳过。
视觉恢复出的选择器会写回账本（并可提升到候选集首位），之后的解析不再走视觉层。

动作 API（FindElement、ClickElement、TypeIntoElement、SelectOption、
WaitForElement、ElementExists）对预期内的失败返回 Success=false，
只有未知标识这类编程错误才返回 error。
*/
package resolver
