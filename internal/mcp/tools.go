package mcp

import (
	"context"
	"encoding/base64"
	"fmt"

	"tabagent/internal/facts"
	"tabagent/internal/report"
)

// AnalyzeDashboardTool runs the full pipeline for one question: map filters,
// apply them, scrape, and render the text answer.
type AnalyzeDashboardTool struct {
	server *Server
}

func (t *AnalyzeDashboardTool) Name() string { return "analyze-dashboard" }
func (t *AnalyzeDashboardTool) Description() string {
	return `Answer a free-text question against the configured Tableau dashboard.

Maps keywords in the question to dashboard filters (college, award level,
STEM category, program type), applies them, waits for the dashboard to
re-render, and scrapes KPIs and chart data for the answer.

Returns: {answer, result} where answer is the rendered text and result holds
the structured data (applied filters, charts, KPIs).`
}

func (t *AnalyzeDashboardTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"question": map[string]interface{}{
				"type":        "string",
				"description": "Free-text question, e.g. \"How many bachelor's degrees at Lehman?\"",
			},
		},
		"required": []string{"question"},
	}
}

func (t *AnalyzeDashboardTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	question := getStringArg(args, "question")
	if question == "" {
		return nil, fmt.Errorf("question is required")
	}

	a := t.server.newAgent()
	defer a.Close()

	res, err := a.Ask(ctx, question)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"answer": report.Generate(res),
		"result": res,
	}, nil
}

// ListFiltersTool reports the filter controls the dashboard exposes without
// changing any of them.
type ListFiltersTool struct {
	server *Server
}

func (t *ListFiltersTool) Name() string { return "list-filters" }
func (t *ListFiltersTool) Description() string {
	return `List the filter dropdowns the dashboard exposes, with their current values.

Use before analyze-dashboard when unsure which filters a question can target.
Returns: {filters: [{label, current_value}]}`
}

func (t *ListFiltersTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *ListFiltersTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	a := t.server.newAgent()
	defer a.Close()

	controls, err := a.ListFilters(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"filters": controls}, nil
}

// ScreenshotDashboardTool captures the dashboard as rendered, optionally
// after applying a question's filters.
type ScreenshotDashboardTool struct {
	server *Server
}

func (t *ScreenshotDashboardTool) Name() string { return "screenshot-dashboard" }
func (t *ScreenshotDashboardTool) Description() string {
	return `Capture a PNG of the dashboard.

When a question is given, its filters are applied first so the screenshot
shows the filtered view. Returns: {png_base64, applied_filters}`
}

func (t *ScreenshotDashboardTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"question": map[string]interface{}{
				"type":        "string",
				"description": "Optional question whose filters are applied before capture",
			},
		},
	}
}

func (t *ScreenshotDashboardTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	a := t.server.newAgent()
	defer a.Close()

	question := getStringArg(args, "question")
	applied := []interface{}{}
	if question != "" {
		res, err := a.Ask(ctx, question)
		if err != nil {
			return nil, err
		}
		for _, f := range res.AppliedFilters {
			applied = append(applied, f)
		}
	} else {
		if _, err := a.ListFilters(ctx); err != nil {
			return nil, err
		}
	}

	png, err := a.Screenshot(ctx)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"png_base64":      base64.StdEncoding.EncodeToString(png),
		"applied_filters": applied,
	}, nil
}

// ReadFactsTool returns the facts recorded during past runs, newest last.
type ReadFactsTool struct {
	store *facts.Store
}

func (t *ReadFactsTool) Name() string { return "read-facts" }
func (t *ReadFactsTool) Description() string {
	return `Read the run history as facts.

Predicates: question_asked(Q), navigation_event(Stage, URL),
filter_catalog(Label, Current), filter_applied(Name, Value),
chart_datum(Chart, Label, Value), kpi_value(Label, Value).

Options: predicate filters to one, limit caps the result (default 100).
Returns: {facts: [{predicate, args, timestamp}], count}`
}

func (t *ReadFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Only return facts for this predicate",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of facts returned (default 100)",
			},
		},
	}
}

func (t *ReadFactsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.store == nil {
		return nil, fmt.Errorf("fact store not configured")
	}

	predicate := getStringArg(args, "predicate")
	limit := getIntArg(args, "limit", 100)

	var results []facts.Fact
	if predicate != "" {
		results = t.store.FactsByPredicate(predicate)
	} else {
		results = t.store.Facts()
	}
	if limit > 0 && len(results) > limit {
		results = results[len(results)-limit:]
	}

	return map[string]interface{}{
		"facts": results,
		"count": len(results),
	}, nil
}

// QueryFactsTool runs a Datalog query with variable binding over the run
// history.
type QueryFactsTool struct {
	store *facts.Store
}

func (t *QueryFactsTool) Name() string { return "query-facts" }
func (t *QueryFactsTool) Description() string {
	return `Query the run history with a Datalog atom and get variable bindings.

Example: filter_applied(Name, Value). binds Name/Value for every filter the
agent applied; kpi_value(Label, 412). finds which KPI carried 412.

Returns: {bindings: [{Var: value, ...}], count}`
}

func (t *QueryFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Query atom, e.g. filter_applied(Name, Value).",
			},
		},
		"required": []string{"query"},
	}
}

func (t *QueryFactsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.store == nil {
		return nil, fmt.Errorf("fact store not configured")
	}
	queryStr := getStringArg(args, "query")
	if queryStr == "" {
		return nil, fmt.Errorf("query is required")
	}

	bindings, err := t.store.Query(queryStr)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"bindings": bindings,
		"count":    len(bindings),
	}, nil
}

// SubmitRuleTool installs a derived predicate over the run facts at runtime.
type SubmitRuleTool struct {
	store *facts.Store
}

func (t *SubmitRuleTool) Name() string { return "submit-rule" }
func (t *SubmitRuleTool) Description() string {
	return `Install a Datalog rule deriving a new predicate over the run facts.

Example: big_kpi(L, V) :- kpi_value(L, V), V > 100.
After submitting, evaluate it by querying with query-facts or reading the
derived predicate. Returns: {success}`
}

func (t *SubmitRuleTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"rule": map[string]interface{}{
				"type":        "string",
				"description": "Mangle rule source, e.g. head(X) :- body(X).",
			},
		},
		"required": []string{"rule"},
	}
}

func (t *SubmitRuleTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if t.store == nil {
		return nil, fmt.Errorf("fact store not configured")
	}
	rule := getStringArg(args, "rule")
	if rule == "" {
		return nil, fmt.Errorf("rule is required")
	}
	if err := t.store.AddRule(rule); err != nil {
		return nil, err
	}
	return map[string]interface{}{"success": true}, nil
}
