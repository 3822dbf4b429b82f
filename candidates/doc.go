// Copyright (c) DriftGuard Authors.
// Licensed under the MIT License.

/*
包 candidates 保存每个逻辑元素的静态选择器候选集。

候选集从 YAML 文件加载：

	elements:
	  menu.saveButton:
	    selectors: ["button.save", "#save-btn"]
	    visual_description: blue Save button bottom-right of modal

运行时只读；视觉恢复得到可复用选择器后，解析器通过 Promote 将其提升到优先级 0。
Watch 基于 config.FileWatcher 在文件变化时热加载。
*/
package candidates
