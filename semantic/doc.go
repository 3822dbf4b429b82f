/*
包 semantic 按自然语言描述查找元素选择器。

查找顺序（每层命中可见元素即返回）：

 1. 缓存：本地 TTL LRU（默认 5 分钟）+ 可选 Redis 二级缓存，使用前重新查询页面校验
 2. 精确模式：描述 → 选择器列表
 3. 部分模式：描述与已知描述互为子串
 4. 启发式：关键词生成的 ARIA/属性选择器，以及按可见文本匹配
 5. 视觉：委托给 vision.Locator，用建议选择器或坐标反查得到可复用选择器

模式与视觉命中会通过 LearnPattern 回灌模式库：胜出的选择器移到首位，
列表截断到上限（默认 5）。相同 (描述, 上下文) 的并发查找由 singleflight 合并。
*/
package semantic
