/*
Package baseline 保存页面基线截图，并把当前页面与基线对比以发现 UI 漂移。

存储布局：

	<dir>/baselines.json        {version, baselines: {pageType → Record}, lastUpdated}
	<dir>/images/<pageType>.png

对比顺序：内容哈希一致直接判定未变化；否则走 AI 两图对比（UseAI），
或者退回逐像素对比。matches = similarity ≥ threshold 且 impact ≠ critical。
*/
package baseline
