package browser

import (
	"fmt"
	"strconv"
)

// 以下脚本作为 Runtime.callFunctionOn 的函数体执行，this 指向目标节点。

const visibilityFn = `function() {
	const rect = this.getBoundingClientRect();
	const style = window.getComputedStyle(this);
	return rect.width > 0 && rect.height > 0 &&
		style.display !== 'none' &&
		style.visibility !== 'hidden' &&
		parseFloat(style.opacity || '1') !== 0;
}`

const boundingRectFn = `function() {
	const r = this.getBoundingClientRect();
	return {x: r.left, y: r.top, width: r.width, height: r.height};
}`

const textContentFn = `function() {
	return ((this.innerText !== undefined ? this.innerText : this.textContent) || '').trim();
}`

const scrollIntoViewFn = `function() {
	this.scrollIntoView({block: 'center', inline: 'center'});
}`

const focusAndClearFn = `function() {
	this.focus();
	if ('value' in this) {
		this.value = '';
		this.dispatchEvent(new Event('input', {bubbles: true}));
	}
}`

const selectOptionFn = `function(value) {
	if (this.tagName !== 'SELECT') return false;
	const opts = Array.from(this.options);
	const opt = opts.find(o => o.value === value) || opts.find(o => o.text.trim() === value);
	if (!opt) return false;
	this.value = opt.value;
	this.dispatchEvent(new Event('input', {bubbles: true}));
	this.dispatchEvent(new Event('change', {bubbles: true}));
	return true;
}`

// uniqueSelectorJS 为元素生成在当前文档中唯一的 CSS 选择器。
// 命中点通常落在按钮内部的 span/svg 上，先上溯到最近的可交互祖先。
const uniqueSelectorJS = `function(el) {
	if (!el || el.nodeType !== 1) return '';
	const esc = (s) => (window.CSS && CSS.escape) ? CSS.escape(s) : s;
	const unique = (sel) => {
		try { return document.querySelectorAll(sel).length === 1; } catch (e) { return false; }
	};
	const target = el.closest('button, a, input, select, textarea, [role="button"], [role="link"], [data-testid]') || el;
	if (target.id && unique('#' + esc(target.id))) return '#' + esc(target.id);
	const tag = target.tagName.toLowerCase();
	for (const attr of ['data-testid', 'data-test', 'data-cy', 'name', 'aria-label']) {
		const v = target.getAttribute(attr);
		if (!v) continue;
		const sel = tag + '[' + attr + '="' + v.replace(/"/g, '\\"') + '"]';
		if (unique(sel)) return sel;
	}
	const parts = [];
	let node = target;
	while (node && node.nodeType === 1 && node !== document.documentElement) {
		if (node.id) {
			parts.unshift('#' + esc(node.id));
		} else {
			let part = node.tagName.toLowerCase();
			const parent = node.parentElement;
			if (parent) {
				const same = Array.from(parent.children).filter(c => c.tagName === node.tagName);
				if (same.length > 1) part += ':nth-of-type(' + (same.indexOf(node) + 1) + ')';
			}
			parts.unshift(part);
		}
		const sel = parts.join(' > ');
		if (unique(sel)) return sel;
		if (node.id) break;
		node = node.parentElement;
	}
	return unique(parts.join(' > ')) ? parts.join(' > ') : '';
}`

const selectorForFn = `function() { return (` + uniqueSelectorJS + `)(this); }`

const viewportJS = `(() => ({
	width: window.innerWidth,
	height: window.innerHeight,
	scrollX: window.scrollX,
	scrollY: window.scrollY,
	pageWidth: Math.max(document.documentElement.scrollWidth, document.body ? document.body.scrollWidth : 0),
	pageHeight: Math.max(document.documentElement.scrollHeight, document.body ? document.body.scrollHeight : 0)
}))()`

// elementAtJS 返回视口坐标 (x, y) 处元素的唯一选择器
func elementAtJS(x, y float64) string {
	return fmt.Sprintf("(%s)(document.elementFromPoint(%s, %s))", uniqueSelectorJS, jsNumber(x), jsNumber(y))
}

// scrollToJS 滚动到整页坐标 (x, y)
func scrollToJS(x, y float64) string {
	return fmt.Sprintf("window.scrollTo(%s, %s)", jsNumber(x), jsNumber(y))
}

func jsNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
