// Package query holds the question-side data model: the filters derived from a
// free-text question and the values scraped from the dashboard to answer it.
package query

import "time"

// Filter is a (name, value) pair applied to a dashboard filter control.
// Names are canonical catalog names; the browser driver matches them against
// the dashboard's rendered labels with substring fallback, so "College" finds
// a control labelled "Reporting College".
type Filter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ChartDatum is one (label, numeric value) pair scraped from a chart element.
type ChartDatum struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Chart is one rendered visualization's scraped result set.
type Chart struct {
	Title string `json:"title,omitempty"`
	// Kind is inferred from the rendered text: bar, pie, line, table or unknown.
	Kind string `json:"kind"`
	// Data holds the labeled numeric pairs recognized in the chart text.
	Data []ChartDatum `json:"data,omitempty"`
	// Lines is the raw visible text, one entry per rendered line.
	Lines []string `json:"lines,omitempty"`
}

// KPI is a prominent count scraped from the dashboard, optionally labeled.
type KPI struct {
	Label string `json:"label,omitempty"`
	Value int    `json:"value"`
}

// FilterControl describes a filter dropdown discovered on the dashboard.
type FilterControl struct {
	Label        string `json:"label"`
	CurrentValue string `json:"current_value,omitempty"`
}

// Result is everything one question produced. Created once per question,
// discarded after the response text is rendered.
type Result struct {
	RunID    string    `json:"run_id"`
	Question string    `json:"question"`
	Intent   Intent    `json:"intent"`
	AskedAt  time.Time `json:"asked_at"`

	Filters          []Filter        `json:"filters"`
	AppliedFilters   []Filter        `json:"applied_filters"`
	AvailableFilters []FilterControl `json:"available_filters,omitempty"`

	Charts []Chart `json:"charts,omitempty"`
	KPIs   []KPI   `json:"kpis,omitempty"`

	DashboardTitle string `json:"dashboard_title,omitempty"`
	DashboardURL   string `json:"dashboard_url,omitempty"`
}

// MainCount returns the largest KPI value, the way the dashboard's headline
// number dominates smaller axis labels. ok is false when no KPI was scraped.
func (r *Result) MainCount() (KPI, bool) {
	var best KPI
	found := false
	for _, k := range r.KPIs {
		if !found || k.Value > best.Value {
			best = k
			found = true
		}
	}
	return best, found
}
