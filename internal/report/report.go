// Package report renders a Result into the text answer shown to the user.
// The output is sectioned markdown: a headline answer keyed to the question's
// intent, then supporting context scraped from the dashboard.
package report

import (
	"fmt"
	"strings"

	"tabagent/internal/query"
)

const (
	maxFilterNames   = 5
	maxChartSections = 3
	maxDataPerChart  = 6
	maxContentLines  = 5
)

// Generate renders the full response text for one answered question.
func Generate(res *query.Result) string {
	var parts []string

	if answer := headline(res); answer != "" {
		parts = append(parts, answer)
	}

	if len(res.AppliedFilters) > 0 {
		applied := make([]string, 0, len(res.AppliedFilters))
		for _, f := range res.AppliedFilters {
			applied = append(applied, fmt.Sprintf("%s = %s", f.Name, f.Value))
		}
		parts = append(parts, "**Filters applied:** "+strings.Join(applied, ", "))
	}

	if len(res.AvailableFilters) > 0 {
		names := make([]string, 0, maxFilterNames)
		for _, fc := range res.AvailableFilters {
			if len(names) == maxFilterNames {
				break
			}
			names = append(names, fc.Label)
		}
		parts = append(parts, "**Available filters:** "+strings.Join(names, ", "))
	}

	for i, chart := range res.Charts {
		if i == maxChartSections {
			break
		}
		if section := chartSection(chart); section != "" {
			parts = append(parts, section)
		}
	}

	if lines := contentLines(res.Charts); len(lines) > 0 {
		parts = append(parts, "**Dashboard content:** "+strings.Join(lines, ", "))
	}

	if len(parts) == 0 {
		return "Dashboard analysis completed, but no data was recognized."
	}
	return strings.Join(parts, "\n")
}

// headline produces the intent-specific first line of the answer.
func headline(res *query.Result) string {
	switch res.Intent {
	case query.IntentCount:
		kpi, ok := res.MainCount()
		if !ok {
			return "**Answer:** no specific count found in the dashboard data"
		}
		if kpi.Label != "" {
			return fmt.Sprintf("**Answer: %d** (%s)", kpi.Value, kpi.Label)
		}
		return fmt.Sprintf("**Answer: %d**", kpi.Value)

	case query.IntentCompare:
		data := allData(res.Charts)
		if len(data) < 2 {
			return "**Comparison:** not enough labeled values to compare"
		}
		pairs := make([]string, 0, len(data))
		for _, d := range data {
			if len(pairs) == maxDataPerChart {
				break
			}
			pairs = append(pairs, fmt.Sprintf("%s: %s", d.Label, formatValue(d.Value)))
		}
		return "**Comparison:** " + strings.Join(pairs, ", ")

	case query.IntentTrend:
		if len(allData(res.Charts)) == 0 {
			return "**Trend:** no time series recognized in the dashboard"
		}
		return "**Trend:** see chart data below"

	case query.IntentList:
		labels := make([]string, 0, maxDataPerChart)
		for _, d := range allData(res.Charts) {
			if len(labels) == maxDataPerChart {
				break
			}
			labels = append(labels, d.Label)
		}
		if len(labels) == 0 {
			return "**Programs:** none recognized in the dashboard data"
		}
		return "**Programs:** " + strings.Join(labels, ", ")

	default:
		if res.DashboardTitle != "" {
			return fmt.Sprintf("**Dashboard:** %s", res.DashboardTitle)
		}
		return ""
	}
}

// chartSection renders one chart's recognized data.
func chartSection(chart query.Chart) string {
	if len(chart.Data) == 0 {
		return ""
	}
	title := chart.Title
	if title == "" {
		title = "Chart"
	}
	pairs := make([]string, 0, maxDataPerChart)
	for _, d := range chart.Data {
		if len(pairs) == maxDataPerChart {
			break
		}
		pairs = append(pairs, fmt.Sprintf("%s: %s", d.Label, formatValue(d.Value)))
	}
	return fmt.Sprintf("**%s (%s):** %s", title, chart.Kind, strings.Join(pairs, ", "))
}

// contentLines picks readable raw lines for questions the structured data
// did not cover. Short fragments and wall-of-text lines are skipped.
func contentLines(charts []query.Chart) []string {
	var lines []string
	seen := make(map[string]bool)
	for _, chart := range charts {
		for _, line := range chart.Lines {
			if len(line) <= 10 || len(line) >= 200 || seen[line] {
				continue
			}
			seen[line] = true
			lines = append(lines, line)
			if len(lines) == maxContentLines {
				return lines
			}
		}
	}
	return lines
}

func allData(charts []query.Chart) []query.ChartDatum {
	var data []query.ChartDatum
	for _, chart := range charts {
		data = append(data, chart.Data...)
	}
	return data
}

func formatValue(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.1f", v)
}
