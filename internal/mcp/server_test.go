package mcp

import (
	"context"
	"strings"
	"testing"

	"tabagent/internal/agent"
	"tabagent/internal/config"
	"tabagent/internal/facts"
	"tabagent/internal/query"
)

type stubBrowser struct {
	applied []query.Filter
}

func (b *stubBrowser) Open(ctx context.Context, url string) error { return nil }
func (b *stubBrowser) Login(ctx context.Context, user, pass string) error { return nil }
func (b *stubBrowser) DiscoverFilters(ctx context.Context) ([]query.FilterControl, error) {
	return []query.FilterControl{{Label: "Reporting College", CurrentValue: "(All)"}}, nil
}
func (b *stubBrowser) ApplyFilter(ctx context.Context, name, value string) error {
	b.applied = append(b.applied, query.Filter{Name: name, Value: value})
	return nil
}
func (b *stubBrowser) ClickApply(ctx context.Context) error { return nil }
func (b *stubBrowser) WaitForReload(ctx context.Context) error { return nil }
func (b *stubBrowser) Title(ctx context.Context) (string, error) {
	return "Degrees Dashboard", nil
}
func (b *stubBrowser) ExtractCharts(ctx context.Context) ([]query.Chart, error) {
	return nil, nil
}
func (b *stubBrowser) ExtractKPIs(ctx context.Context) ([]query.KPI, error) {
	return []query.KPI{{Label: "Degrees", Value: 412}}, nil
}
func (b *stubBrowser) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte{0x89, 'P', 'N', 'G'}, nil
}
func (b *stubBrowser) Close() error { return nil }

func newTestServer(t *testing.T) (*Server, *facts.Store) {
	t.Helper()
	t.Setenv(config.EnvUsername, "")
	t.Setenv(config.EnvPassword, "")

	cfg := config.DefaultConfig()
	cfg.Dashboard.URL = "https://dashboards.example.edu/degrees"

	store, err := facts.NewStore(cfg.Facts)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	srv := NewServer(cfg, nil, store, func() agent.Browser { return &stubBrowser{} })
	return srv, store
}

func TestToolRegistration(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, name := range []string{"analyze-dashboard", "list-filters", "screenshot-dashboard", "read-facts", "query-facts", "submit-rule"} {
		if _, ok := srv.tools[name]; !ok {
			t.Errorf("tool %s not registered", name)
		}
	}
	if _, err := srv.ExecuteTool("no-such-tool", nil); err == nil {
		t.Error("expected error for unknown tool")
	}
}

func TestAnalyzeDashboardTool(t *testing.T) {
	srv, store := newTestServer(t)

	result, err := srv.ExecuteTool("analyze-dashboard", map[string]interface{}{
		"question": "How many bachelor's degrees at Lehman?",
	})
	if err != nil {
		t.Fatalf("analyze-dashboard failed: %v", err)
	}

	payload, ok := result.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected payload type %T", result)
	}
	answer, _ := payload["answer"].(string)
	if !strings.Contains(answer, "412") {
		t.Errorf("expected answer to contain the KPI, got:\n%s", answer)
	}

	if got := len(store.FactsByPredicate(facts.PredQuestionAsked)); got != 1 {
		t.Errorf("expected 1 question_asked fact, got %d", got)
	}
}

func TestAnalyzeDashboardRequiresQuestion(t *testing.T) {
	srv, _ := newTestServer(t)
	if _, err := srv.ExecuteTool("analyze-dashboard", map[string]interface{}{}); err == nil {
		t.Error("expected error for missing question")
	}
}

func TestListFiltersTool(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.ExecuteTool("list-filters", map[string]interface{}{})
	if err != nil {
		t.Fatalf("list-filters failed: %v", err)
	}
	payload := result.(map[string]interface{})
	controls, ok := payload["filters"].([]query.FilterControl)
	if !ok || len(controls) != 1 {
		t.Fatalf("unexpected filters payload: %#v", payload["filters"])
	}
	if controls[0].Label != "Reporting College" {
		t.Errorf("unexpected filter label %q", controls[0].Label)
	}
}

func TestReadFactsTool(t *testing.T) {
	srv, store := newTestServer(t)

	store.RecordKPI("Degrees", 412)
	store.RecordKPI("Programs", 37)
	store.RecordQuestion("how many?")

	result, err := srv.ExecuteTool("read-facts", map[string]interface{}{
		"predicate": facts.PredKPIValue,
	})
	if err != nil {
		t.Fatalf("read-facts failed: %v", err)
	}
	payload := result.(map[string]interface{})
	if payload["count"] != 2 {
		t.Errorf("expected 2 kpi facts, got %v", payload["count"])
	}

	result, err = srv.ExecuteTool("read-facts", map[string]interface{}{"limit": 1})
	if err != nil {
		t.Fatalf("read-facts with limit failed: %v", err)
	}
	payload = result.(map[string]interface{})
	if payload["count"] != 1 {
		t.Errorf("expected limit applied, got %v", payload["count"])
	}
}

func TestQueryFactsTool(t *testing.T) {
	srv, store := newTestServer(t)

	store.RecordFilterApplied("College", "Lehman")

	result, err := srv.ExecuteTool("query-facts", map[string]interface{}{
		"query": "filter_applied(Name, Value).",
	})
	if err != nil {
		t.Fatalf("query-facts failed: %v", err)
	}
	payload := result.(map[string]interface{})
	if payload["count"] != 1 {
		t.Errorf("expected 1 binding, got %v", payload["count"])
	}

	if _, err := srv.ExecuteTool("query-facts", map[string]interface{}{}); err == nil {
		t.Error("expected error for missing query")
	}
}

func TestSubmitRuleTool(t *testing.T) {
	srv, store := newTestServer(t)

	store.RecordKPI("Degrees", 412)

	if _, err := srv.ExecuteTool("submit-rule", map[string]interface{}{
		"rule": "Decl kpi_value(Label, Value).\nhas_data(L) :- kpi_value(L, _).",
	}); err != nil {
		t.Fatalf("submit-rule failed: %v", err)
	}

	derived, err := store.Evaluate("has_data")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(derived) != 1 {
		t.Errorf("expected derived fact after rule submission, got %v", derived)
	}
}

func TestScreenshotDashboardTool(t *testing.T) {
	srv, _ := newTestServer(t)

	result, err := srv.ExecuteTool("screenshot-dashboard", map[string]interface{}{})
	if err != nil {
		t.Fatalf("screenshot-dashboard failed: %v", err)
	}
	payload := result.(map[string]interface{})
	if payload["png_base64"] == "" {
		t.Error("expected non-empty screenshot payload")
	}
}

func TestMarshalToolPayloadFallback(t *testing.T) {
	payload := marshalToolPayload("bad-tool", make(chan int))
	if !strings.Contains(string(payload), "non-serializable") {
		t.Errorf("expected fallback payload, got %s", payload)
	}
}
