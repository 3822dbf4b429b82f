// Copyright (c) DriftGuard Authors.
// Licensed under the MIT License.

/*
包 browser 定义元素解析引擎消费的浏览器驱动能力接口，并提供基于 chromedp 的实现。

# 核心接口

  - Driver：选择器查询、截图、坐标点击、键盘输入、可见性判断、
    包围盒、坐标→选择器反查（ElementAt）等原子能力
  - ElementHandle：实时 DOM 节点引用，页面导航后失效

# 内置实现

ChromeDPDriver 基于 chromedp 驱动 Headless Chrome，支持本地启动与远程 DevTools
连接。一个驱动对应一个页面上下文，所有调用通过互斥锁串行化；调用方的 ctx
截止时间与取消信号会传递到每一次 CDP 调用。
*/
package browser
