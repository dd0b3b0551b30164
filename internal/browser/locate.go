package browser

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"asxreport/internal/capture"
)

// ChartSelectors 候选图表容器，按顺序匹配
var ChartSelectors = []string{
	"section[data-testid='qsp-chart']",
	"div[data-testid='qsp-chart']",
	"[data-testid='qsp-chart']",
	"section[data-testid='quote-chart']",
	"div[data-testid='quote-chart']",
	"[data-testid='quote-chart']",
	".highcharts-container",
	".highcharts-root",
	"section[id*='chart' i]",
	"section[class*='chart' i]",
}

// chartKeywords 第一轮匹配要求容器包含图形或其中一个关键词
var chartKeywords = []string{"1d", "5d", "1m", "6m", "ytd", "1y", "all", "advanced chart", "asx - delayed quote"}

// MinChartWidth 与 MinChartHeight 容器的最小尺寸
const (
	MinChartWidth  = 520
	MinChartHeight = 220
)

var locateScript = buildLocateScript()

func buildLocateScript() string {
	sel, _ := json.Marshal(ChartSelectors)
	kw, _ := json.Marshal(chartKeywords)
	return fmt.Sprintf(`(() => {
  const selectors = %s;
  const keywords = %s;
  const minW = %d, minH = %d;
  const busyRe = /loading|skeleton|spinner|placeholder/i;
  const visible = (el) => {
    const s = getComputedStyle(el);
    return s.display !== 'none' && s.visibility !== 'hidden' && s.opacity !== '0';
  };
  const busy = (el) => el.getAttribute('aria-busy') === 'true'
    || !!el.querySelector('[aria-busy="true"]')
    || Array.from(el.classList).some((c) => busyRe.test(c))
    || !!el.querySelector('[class*="loading" i],[class*="skeleton" i],[class*="spinner" i]');
  const pick = (strict) => {
    for (const sel of selectors) {
      const el = document.querySelector(sel);
      if (!el || !visible(el)) continue;
      const r = el.getBoundingClientRect();
      if (r.width < minW || r.height < minH) continue;
      if (strict) {
        const graphic = el.matches('canvas,svg,img') || !!el.querySelector('canvas,svg,img');
        const text = (el.innerText || '').toLowerCase();
        if (!graphic && !keywords.some((k) => text.includes(k))) continue;
      }
      el.scrollIntoView({block: 'center', inline: 'nearest'});
      const b = el.getBoundingClientRect();
      return {found: true, selector: sel, x: b.left + window.scrollX, y: b.top + window.scrollY,
        width: b.width, height: b.height, loading: busy(el)};
    }
    return null;
  };
  return pick(true) || pick(false) || {found: false};
})()`, sel, kw, MinChartWidth, MinChartHeight)
}

// parseRegion 解析定位脚本的返回值
func parseRegion(v gjson.Result) capture.Region {
	if !v.Get("found").Bool() {
		return capture.Region{}
	}
	return capture.Region{
		Selector: v.Get("selector").String(),
		X:        v.Get("x").Float(),
		Y:        v.Get("y").Float(),
		Width:    v.Get("width").Float(),
		Height:   v.Get("height").Float(),
		Loading:  v.Get("loading").Bool(),
	}
}
