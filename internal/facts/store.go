// Package facts records what the agent observed during a dashboard run as
// Mangle facts, so rules can derive conclusions over them (e.g. "a filter was
// applied but never appeared in the catalog") and tools can query the run
// history.
package facts

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"tabagent/internal/config"
)

// Fact is one timestamped observation from a dashboard run.
type Fact struct {
	Predicate string        `json:"predicate"`
	Args      []interface{} `json:"args"`
	Timestamp time.Time     `json:"timestamp"`
}

// Predicates emitted by the pipeline. Rules files can reference these as EDB
// predicates.
const (
	PredQuestionAsked   = "question_asked"   // question_asked(Question)
	PredNavigationEvent = "navigation_event" // navigation_event(Stage, URL)
	PredFilterCatalog   = "filter_catalog"   // filter_catalog(Label, CurrentValue)
	PredFilterApplied   = "filter_applied"   // filter_applied(Name, Value)
	PredChartDatum      = "chart_datum"      // chart_datum(ChartTitle, Label, Value)
	PredKPIValue        = "kpi_value"        // kpi_value(Label, Value)
)

// Store buffers run facts in arrival order, indexes them by predicate, and
// mirrors them into a Mangle fact store for rule evaluation.
type Store struct {
	cfg config.FactsConfig

	mu          sync.RWMutex
	rulesLoaded bool
	programInfo *analysis.ProgramInfo
	store       factstore.FactStore

	facts []Fact
	index map[string][]int
}

func NewStore(cfg config.FactsConfig) (*Store, error) {
	s := &Store{
		cfg:   cfg,
		facts: make([]Fact, 0, cfg.GetBufferLimit()),
		index: make(map[string][]int),
		store: factstore.NewSimpleInMemoryStore(),
	}

	if cfg.Enable && cfg.RulesPath != "" {
		if err := s.LoadRules(cfg.RulesPath); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// LoadRules parses and analyzes a Mangle rules file. Derived predicates
// become queryable through Evaluate.
func (s *Store) LoadRules(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rules: %w", err)
	}

	sourceUnit, err := parse.Unit(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parse rules: %w", err)
	}

	programInfo, err := analysis.AnalyzeOneUnit(sourceUnit, make(map[ast.PredicateSym]ast.Decl))
	if err != nil {
		return fmt.Errorf("analyze rules: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.programInfo = programInfo
	s.rulesLoaded = true
	return nil
}

// Add appends facts to the buffer and the Mangle store. When the buffer
// exceeds its limit the oldest facts fall off and the index is rebuilt.
func (s *Store) Add(facts ...Fact) {
	if !s.cfg.Enable || len(facts) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	baseIdx := len(s.facts)
	s.facts = append(s.facts, facts...)
	limit := s.cfg.GetBufferLimit()
	if limit > 0 && len(s.facts) > limit {
		s.facts = s.facts[len(s.facts)-limit:]
		s.rebuildIndex()
	} else {
		for i, f := range facts {
			s.index[f.Predicate] = append(s.index[f.Predicate], baseIdx+i)
		}
	}

	for _, f := range facts {
		s.store.Add(factToAtom(f))
	}
}

// Record builds a fact stamped now and adds it.
func (s *Store) Record(predicate string, args ...interface{}) {
	s.Add(Fact{Predicate: predicate, Args: args, Timestamp: time.Now()})
}

func (s *Store) RecordQuestion(question string) {
	s.Record(PredQuestionAsked, question)
}

func (s *Store) RecordNavigation(stage, url string) {
	s.Record(PredNavigationEvent, stage, url)
}

func (s *Store) RecordFilterCatalog(label, currentValue string) {
	s.Record(PredFilterCatalog, label, currentValue)
}

func (s *Store) RecordFilterApplied(name, value string) {
	s.Record(PredFilterApplied, name, value)
}

func (s *Store) RecordChartDatum(chartTitle, label string, value float64) {
	s.Record(PredChartDatum, chartTitle, label, value)
}

func (s *Store) RecordKPI(label string, value int) {
	s.Record(PredKPIValue, label, value)
}

// AddRule parses one rule and merges it into the loaded program, so derived
// predicates can be installed at runtime.
func (s *Store) AddRule(ruleSource string) error {
	if !s.cfg.Enable {
		return fmt.Errorf("fact store disabled")
	}

	sourceUnit, err := parse.Unit(bytes.NewReader([]byte(ruleSource)))
	if err != nil {
		return fmt.Errorf("parse rule: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existingDecls := make(map[ast.PredicateSym]ast.Decl)
	if s.programInfo != nil && s.programInfo.Decls != nil {
		for k, v := range s.programInfo.Decls {
			if v != nil {
				existingDecls[k] = *v
			}
		}
	}

	newProgramInfo, err := analysis.AnalyzeOneUnit(sourceUnit, existingDecls)
	if err != nil {
		return fmt.Errorf("analyze rule: %w", err)
	}

	if s.programInfo == nil {
		s.programInfo = newProgramInfo
	} else {
		for k, v := range newProgramInfo.Decls {
			s.programInfo.Decls[k] = v
		}
		s.programInfo.Rules = append(s.programInfo.Rules, newProgramInfo.Rules...)
		for k := range newProgramInfo.IdbPredicates {
			s.programInfo.IdbPredicates[k] = struct{}{}
		}
		for k := range newProgramInfo.EdbPredicates {
			s.programInfo.EdbPredicates[k] = struct{}{}
		}
	}
	s.rulesLoaded = true
	return nil
}

// QueryResult is one satisfying assignment of a query's variables.
type QueryResult map[string]interface{}

// Query matches a single query atom (e.g. `filter_applied(Name, "Lehman")`)
// against the store and binds its variables. Falls back to the buffer when
// the store has no match for the predicate's arity.
func (s *Store) Query(queryStr string) ([]QueryResult, error) {
	if !s.cfg.Enable {
		return nil, fmt.Errorf("fact store disabled")
	}

	sourceUnit, err := parse.Unit(bytes.NewReader([]byte(queryStr)))
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	if len(sourceUnit.Clauses) == 0 {
		return nil, fmt.Errorf("no query found")
	}
	queryAtom := sourceUnit.Clauses[0].Head

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]QueryResult, 0)
	err = s.store.GetFacts(queryAtom, func(atom ast.Atom) error {
		binding := make(QueryResult)
		for i, arg := range queryAtom.Args {
			if i >= len(atom.Args) {
				break
			}
			if v, ok := arg.(ast.Variable); ok {
				binding[v.Symbol] = fromConstant(atom.Args[i])
			}
		}
		results = append(results, binding)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}

	if len(results) == 0 {
		results = s.queryBuffer(queryAtom.Predicate.Symbol, queryAtom.Args)
	}
	return results, nil
}

// queryBuffer matches a query pattern against the raw buffer. Callers hold
// the read lock.
func (s *Store) queryBuffer(predicate string, queryArgs []ast.BaseTerm) []QueryResult {
	results := make([]QueryResult, 0)
	for _, idx := range s.index[predicate] {
		if idx < 0 || idx >= len(s.facts) {
			continue
		}
		f := s.facts[idx]
		if len(f.Args) < len(queryArgs) {
			continue
		}

		binding := make(QueryResult)
		matches := true
		for i, qArg := range queryArgs {
			switch arg := qArg.(type) {
			case ast.Variable:
				binding[arg.Symbol] = f.Args[i]
			case ast.Constant:
				if fmt.Sprintf("%v", f.Args[i]) != fmt.Sprintf("%v", fromConstant(arg)) {
					matches = false
				}
			}
			if !matches {
				break
			}
		}
		if matches {
			results = append(results, binding)
		}
	}
	return results
}

// Evaluate runs the loaded rules to fixpoint and returns the facts derived
// for a predicate.
func (s *Store) Evaluate(predicate string) ([]Fact, error) {
	if !s.cfg.Enable {
		return nil, fmt.Errorf("fact store disabled")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.rulesLoaded {
		return nil, fmt.Errorf("no rules loaded")
	}
	if err := engine.EvalProgram(s.programInfo, s.store); err != nil {
		return nil, fmt.Errorf("eval program: %w", err)
	}

	arity := -1
	for sym := range s.programInfo.Decls {
		if sym.Symbol == predicate {
			arity = sym.Arity
			break
		}
	}

	var queryAtom ast.Atom
	if arity >= 0 {
		args := make([]ast.BaseTerm, arity)
		for i := range args {
			args[i] = ast.Variable{Symbol: fmt.Sprintf("V%d", i)}
		}
		queryAtom = ast.Atom{Predicate: ast.PredicateSym{Symbol: predicate, Arity: arity}, Args: args}
	} else {
		queryAtom = ast.Atom{Predicate: ast.PredicateSym{Symbol: predicate, Arity: -1}}
	}

	results := make([]Fact, 0)
	err := s.store.GetFacts(queryAtom, func(atom ast.Atom) error {
		results = append(results, atomToFact(atom))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get facts: %w", err)
	}
	return results, nil
}

// FactsByPredicate returns buffered facts for one predicate via the index.
func (s *Store) FactsByPredicate(predicate string) []Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	indices, ok := s.index[predicate]
	if !ok {
		return []Fact{}
	}
	results := make([]Fact, 0, len(indices))
	for _, idx := range indices {
		if idx >= 0 && idx < len(s.facts) {
			results = append(results, s.facts[idx])
		}
	}
	return results
}

// Facts returns a copy of all buffered facts in arrival order.
func (s *Store) Facts() []Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Fact, len(s.facts))
	copy(out, s.facts)
	return out
}

// QueryTemporal returns facts for a predicate within (after, before). Zero
// bounds are open.
func (s *Store) QueryTemporal(predicate string, after, before time.Time) []Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]Fact, 0)
	for _, idx := range s.index[predicate] {
		if idx < 0 || idx >= len(s.facts) {
			continue
		}
		f := s.facts[idx]
		if (after.IsZero() || f.Timestamp.After(after)) &&
			(before.IsZero() || f.Timestamp.Before(before)) {
			results = append(results, f)
		}
	}
	return results
}

// Ready reports whether the store can serve queries.
func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.cfg.Enable || s.rulesLoaded || s.cfg.RulesPath == ""
}

func (s *Store) rebuildIndex() {
	s.index = make(map[string][]int)
	for i, f := range s.facts {
		s.index[f.Predicate] = append(s.index[f.Predicate], i)
	}
}

func factToAtom(f Fact) ast.Atom {
	args := make([]ast.BaseTerm, len(f.Args))
	for i, arg := range f.Args {
		args[i] = toConstant(arg)
	}
	return ast.Atom{
		Predicate: ast.PredicateSym{Symbol: f.Predicate, Arity: len(f.Args)},
		Args:      args,
	}
}

func atomToFact(atom ast.Atom) Fact {
	args := make([]interface{}, len(atom.Args))
	for i, arg := range atom.Args {
		args[i] = fromConstant(arg)
	}
	return Fact{
		Predicate: atom.Predicate.Symbol,
		Args:      args,
		Timestamp: time.Now(),
	}
}

func toConstant(v interface{}) ast.Constant {
	switch val := v.(type) {
	case string:
		return ast.String(val)
	case int:
		return ast.Number(int64(val))
	case int64:
		return ast.Number(val)
	case float64:
		return ast.Float64(val)
	case bool:
		if val {
			return ast.String("true")
		}
		return ast.String("false")
	default:
		return ast.String(fmt.Sprintf("%v", v))
	}
}

func fromConstant(c ast.BaseTerm) interface{} {
	switch term := c.(type) {
	case ast.Constant:
		if term.Type == ast.StringType {
			val, _ := term.StringValue()
			return val
		} else if term.Type == ast.NumberType {
			return term.NumberValue
		} else if term.Type == ast.Float64Type {
			if val, err := term.Float64Value(); err == nil {
				return val
			}
		}
		return term.String()
	case ast.Variable:
		return term.Symbol
	default:
		return fmt.Sprintf("%v", c)
	}
}
