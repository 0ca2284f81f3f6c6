package facts

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tabagent/internal/config"
)

const testRules = `
Decl question_asked(Question).
Decl kpi_value(Label, Value).
Decl navigation_event(Stage, Url).

answered(Question, Value) :- question_asked(Question), kpi_value(_, Value).
run_stage(Stage) :- navigation_event(Stage, _).
`

func writeRules(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.mg")
	if err := os.WriteFile(path, []byte(testRules), 0o644); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	return path
}

func TestStoreRecordAndIndex(t *testing.T) {
	store, err := NewStore(config.FactsConfig{Enable: true, BufferLimit: 100})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	store.RecordQuestion("how many STEM grads at Lehman?")
	store.RecordFilterApplied("College", "Lehman")
	store.RecordFilterApplied("STEM Category", "STEM")
	store.RecordKPI("Graduates", 412)

	if got := len(store.Facts()); got != 4 {
		t.Errorf("expected 4 buffered facts, got %d", got)
	}

	applied := store.FactsByPredicate(PredFilterApplied)
	if len(applied) != 2 {
		t.Fatalf("expected 2 filter_applied facts, got %d", len(applied))
	}
	if applied[0].Args[0] != "College" || applied[0].Args[1] != "Lehman" {
		t.Errorf("unexpected first applied fact: %+v", applied[0])
	}
}

func TestStoreDisabled(t *testing.T) {
	store, err := NewStore(config.FactsConfig{Enable: false})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	store.RecordQuestion("ignored")
	if got := len(store.Facts()); got != 0 {
		t.Errorf("disabled store buffered %d facts", got)
	}
	if !store.Ready() {
		t.Error("disabled store should report ready")
	}
}

func TestStoreBufferTrim(t *testing.T) {
	store, err := NewStore(config.FactsConfig{Enable: true, BufferLimit: 3})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		store.RecordNavigation("stage", "https://example.com")
	}

	if got := len(store.Facts()); got != 3 {
		t.Errorf("expected buffer trimmed to 3, got %d", got)
	}
	if got := len(store.FactsByPredicate(PredNavigationEvent)); got != 3 {
		t.Errorf("expected index rebuilt to 3 entries, got %d", got)
	}
}

func TestStoreEvaluateDerived(t *testing.T) {
	store, err := NewStore(config.FactsConfig{
		Enable:      true,
		RulesPath:   writeRules(t),
		BufferLimit: 100,
	})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if !store.Ready() {
		t.Fatal("store not ready after loading rules")
	}

	store.RecordQuestion("how many bachelor's degrees?")
	store.RecordNavigation("open", "https://dashboards.example.edu/degrees")
	store.RecordKPI("Degrees", 1234)

	answered, err := store.Evaluate("answered")
	if err != nil {
		t.Fatalf("Evaluate(answered) failed: %v", err)
	}
	if len(answered) == 0 {
		t.Fatal("expected answered/2 to be derived")
	}
	if answered[0].Args[0] != "how many bachelor's degrees?" {
		t.Errorf("unexpected answered binding: %+v", answered[0])
	}

	stages, err := store.Evaluate("run_stage")
	if err != nil {
		t.Fatalf("Evaluate(run_stage) failed: %v", err)
	}
	if len(stages) != 1 || stages[0].Args[0] != "open" {
		t.Errorf("unexpected run_stage facts: %+v", stages)
	}
}

func TestStoreQueryTemporal(t *testing.T) {
	store, err := NewStore(config.FactsConfig{Enable: true, BufferLimit: 100})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	before := time.Now().Add(-time.Minute)
	store.RecordKPI("Graduates", 42)

	recent := store.QueryTemporal(PredKPIValue, before, time.Time{})
	if len(recent) != 1 {
		t.Errorf("expected 1 recent fact, got %d", len(recent))
	}

	old := store.QueryTemporal(PredKPIValue, time.Time{}, before)
	if len(old) != 0 {
		t.Errorf("expected no facts before window, got %d", len(old))
	}
}

func TestStoreQueryBindings(t *testing.T) {
	store, err := NewStore(config.FactsConfig{Enable: true, BufferLimit: 100})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	store.RecordFilterApplied("College", "Lehman")
	store.RecordFilterApplied("Award Level", "Bachelor's")

	bindings, err := store.Query("filter_applied(Name, Value).")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(bindings) != 2 {
		t.Fatalf("expected 2 bindings, got %d: %v", len(bindings), bindings)
	}

	found := false
	for _, b := range bindings {
		if b["Name"] == "College" && b["Value"] == "Lehman" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected College/Lehman binding, got %v", bindings)
	}
}

func TestStoreQueryConstantFilter(t *testing.T) {
	store, err := NewStore(config.FactsConfig{Enable: true, BufferLimit: 100})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	store.RecordFilterApplied("College", "Lehman")
	store.RecordFilterApplied("Award Level", "Bachelor's")

	bindings, err := store.Query(`filter_applied(Name, "Lehman").`)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(bindings) != 1 || bindings[0]["Name"] != "College" {
		t.Errorf("expected single College binding, got %v", bindings)
	}
}

func TestStoreAddRule(t *testing.T) {
	store, err := NewStore(config.FactsConfig{
		Enable:      true,
		RulesPath:   writeRules(t),
		BufferLimit: 100,
	})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	store.RecordKPI("Degrees", 412)

	if err := store.AddRule("has_data(L) :- kpi_value(L, _)."); err != nil {
		t.Fatalf("AddRule failed: %v", err)
	}

	derived, err := store.Evaluate("has_data")
	if err != nil {
		t.Fatalf("Evaluate(has_data) failed: %v", err)
	}
	if len(derived) != 1 || derived[0].Args[0] != "Degrees" {
		t.Errorf("unexpected derived facts: %+v", derived)
	}
}

func TestStoreEvaluateWithoutRules(t *testing.T) {
	store, err := NewStore(config.FactsConfig{Enable: true, BufferLimit: 10})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if _, err := store.Evaluate("answered"); err == nil {
		t.Error("expected error evaluating without rules loaded")
	}
}
