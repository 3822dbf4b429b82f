/*
Package testutil 提供 DriftGuard 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 异步断言: AssertEventuallyTrue / WaitFor
  - 数据工具: MustJSON / MustParseJSON

# 子包

  - testutil/mocks: MockDriver（browser.Driver，元素注册、坐标反查、截图脚本、
    查询延迟与错误注入）与 MockVisionProvider（脚本化推理回复、请求记录）
  - testutil/fixtures: 各调用点的推理回复构造器（定位、对比、状态校验、分类查找）
    与 PNG 图片构造器

# 使用示例

	ctx := testutil.TestContext(t)
	driver := mocks.NewMockDriver().WithElement("#save", types.Rect{Width: 80, Height: 30})
	vision := mocks.NewMockVisionProvider().Then(fixtures.LocateFound(0.92, 500, 600, ""))
*/
package testutil
