package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"tabagent/internal/query"
)

// jsDiscoverFilters collects every filter dropdown on the dashboard. Tableau
// names the control via aria-labelledby on the nearest role=button ancestor.
const jsDiscoverFilters = `() => {
	const out = [];
	document.querySelectorAll('div.tabComboBoxNameContainer').forEach(el => {
		let label = '';
		const control = el.closest('[role="button"]');
		if (control) {
			const labelID = control.getAttribute('aria-labelledby');
			if (labelID) {
				const labelEl = document.getElementById(labelID);
				if (labelEl) label = labelEl.textContent.trim();
			}
		}
		if (!label) {
			const zone = el.closest('.tab-zone');
			const title = zone ? zone.querySelector('h3.FilterTitle') : null;
			if (title) label = title.textContent.trim();
		}
		out.push({label: label, value: el.textContent.trim()});
	});
	return out;
}`

// jsExtractCharts walks the viz containers Tableau renders worksheets into
// and returns their visible text plus any SVG text nodes, one record per
// container. Kind inference happens Go-side where it is testable.
const jsExtractCharts = `() => {
	const selectors = ['.tab-viz', '.tabCanvas', '.tabSheet', '.tabWorksheet', '[class*="viz"]'];
	const seen = new Set();
	const charts = [];
	for (const sel of selectors) {
		document.querySelectorAll(sel).forEach(el => {
			if (seen.has(el)) return;
			seen.add(el);
			const rect = el.getBoundingClientRect();
			if (rect.width < 50 || rect.height < 50) return;

			let title = '';
			const titleEl = el.querySelector('.tabTitle, .title, h1, h2, h3');
			if (titleEl) title = titleEl.textContent.trim();

			const lines = (el.innerText || '')
				.split('\n')
				.map(s => s.trim())
				.filter(s => s.length > 0)
				.slice(0, 200);

			const svgText = [];
			el.querySelectorAll('svg text').forEach(t => {
				const s = t.textContent.trim();
				if (s) svgText.push(s);
			});

			const hasCanvas = el.querySelector('canvas') !== null;
			charts.push({title: title, lines: lines, svgText: svgText.slice(0, 200), hasCanvas: hasCanvas});
		});
		if (charts.length > 0) break;
	}
	return charts;
}`

// jsExtractKPIText gathers short visible text from the elements KPI tiles
// live in. Number parsing happens Go-side.
const jsExtractKPIText = `() => {
	const texts = [];
	const seen = new Set();
	document.querySelectorAll('div, span, td, th, h1, h2, h3').forEach(el => {
		if (el.children.length > 3) return;
		const t = (el.innerText || '').trim();
		if (!t || t.length > 120 || seen.has(t)) return;
		const rect = el.getBoundingClientRect();
		if (rect.width === 0 || rect.height === 0) return;
		seen.add(t);
		texts.push(t);
	});
	return texts.slice(0, 400);
}`

type rawChart struct {
	Title     string   `json:"title"`
	Lines     []string `json:"lines"`
	SVGText   []string `json:"svgText"`
	HasCanvas bool     `json:"hasCanvas"`
}

// ExtractCharts scrapes every rendered worksheet and parses labeled values
// out of its text.
func (d *Driver) ExtractCharts(ctx context.Context) ([]query.Chart, error) {
	if d.page == nil {
		return nil, errors.New("browser not open")
	}

	var raw []rawChart
	if err := d.eval(ctx, jsExtractCharts, &raw); err != nil {
		return nil, fmt.Errorf("extract charts: %w", err)
	}

	charts := make([]query.Chart, 0, len(raw))
	for _, rc := range raw {
		lines := rc.Lines
		if len(lines) == 0 {
			lines = rc.SVGText
		}
		chart := query.Chart{
			Title: rc.Title,
			Kind:  chartKind(strings.Join(lines, " "), rc.HasCanvas),
			Data:  ParseChartLines(lines),
			Lines: lines,
		}
		charts = append(charts, chart)
	}

	d.log.Info("charts extracted", zap.Int("count", len(charts)))
	return charts, nil
}

// ExtractKPIs scrapes the dashboard's KPI tiles.
func (d *Driver) ExtractKPIs(ctx context.Context) ([]query.KPI, error) {
	if d.page == nil {
		return nil, errors.New("browser not open")
	}

	var texts []string
	if err := d.eval(ctx, jsExtractKPIText, &texts); err != nil {
		return nil, fmt.Errorf("extract KPIs: %w", err)
	}

	kpis := ParseKPIs(texts)
	d.log.Info("KPIs extracted", zap.Int("count", len(kpis)))
	return kpis, nil
}

var (
	labelStrip = strings.NewReplacer("Filter", "", "Inclusive", "", "(All)", "", "\n", " ", "\r", " ")

	// "Degrees Awarded: 1,234" style pairs inside chart or tile text.
	labeledValueRe = regexp.MustCompile(`^([A-Za-z][A-Za-z '&/()-]*[A-Za-z)]):\s*([\d,]+(?:\.\d+)?)$`)
	labeledKPIRe   = regexp.MustCompile(`([A-Za-z][A-Za-z ]+[A-Za-z]):\s*(\d{1,4})\b`)
	bareNumberRe   = regexp.MustCompile(`^\d{2,4}$`)
)

// CleanFilterLabel normalizes a Tableau filter label for matching: strips the
// boilerplate words Tableau appends to accessible names and collapses
// whitespace.
func CleanFilterLabel(label string) string {
	s := labelStrip.Replace(label)
	return strings.Join(strings.Fields(s), " ")
}

// ParseChartLines pulls labeled numeric pairs out of a chart's visible text.
func ParseChartLines(lines []string) []query.ChartDatum {
	var data []query.ChartDatum
	for _, line := range lines {
		m := labeledValueRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
		if err != nil {
			continue
		}
		data = append(data, query.ChartDatum{Label: strings.TrimSpace(m[1]), Value: v})
	}
	return data
}

// ParseKPIs extracts headline counts from dashboard tile text. Labeled
// values ("Graduates: 412") are kept verbatim; bare numbers are kept only in
// the 10..9999 range KPI tiles use, filtering out axis ticks and years that
// would otherwise masquerade as answers.
func ParseKPIs(texts []string) []query.KPI {
	var kpis []query.KPI
	seen := make(map[string]bool)

	for _, t := range texts {
		for _, m := range labeledKPIRe.FindAllStringSubmatch(t, -1) {
			label := strings.TrimSpace(m[1])
			v, err := strconv.Atoi(m[2])
			if err != nil || seen[label] {
				continue
			}
			seen[label] = true
			kpis = append(kpis, query.KPI{Label: label, Value: v})
		}
	}

	for _, t := range texts {
		if !bareNumberRe.MatchString(t) {
			continue
		}
		v, err := strconv.Atoi(t)
		if err != nil || v < 10 || v > 9999 {
			continue
		}
		key := "#" + t
		if seen[key] {
			continue
		}
		seen[key] = true
		kpis = append(kpis, query.KPI{Value: v})
	}

	return kpis
}

// chartKind guesses the visualization type from its text. Canvas-only
// worksheets with no recognizable text stay "chart".
func chartKind(text string, hasCanvas bool) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "pie") || strings.Contains(lower, "%"):
		return "pie"
	case strings.Contains(lower, "trend") || strings.Contains(lower, "over time") || strings.Contains(lower, "year"):
		return "line"
	case strings.Contains(lower, "bar") || strings.Contains(lower, "count") || strings.Contains(lower, "total"):
		return "bar"
	case strings.Contains(lower, "table") || strings.Contains(lower, "detail"):
		return "table"
	case hasCanvas:
		return "chart"
	default:
		return "chart"
	}
}

func unmarshalJSON(raw []byte, out interface{}) error {
	return json.Unmarshal(raw, out)
}
