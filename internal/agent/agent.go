// Package agent runs the question-answering pipeline: open the dashboard,
// authenticate, apply the filters the question maps to, scrape what rendered,
// and assemble a Result.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tabagent/internal/config"
	"tabagent/internal/facts"
	"tabagent/internal/query"
	"tabagent/internal/recorder"
)

// Browser is the slice of the Rod driver the pipeline needs. Tests substitute
// a scripted fake.
type Browser interface {
	Open(ctx context.Context, url string) error
	Login(ctx context.Context, user, pass string) error
	DiscoverFilters(ctx context.Context) ([]query.FilterControl, error)
	ApplyFilter(ctx context.Context, name, value string) error
	ClickApply(ctx context.Context) error
	WaitForReload(ctx context.Context) error
	Title(ctx context.Context) (string, error)
	ExtractCharts(ctx context.Context) ([]query.Chart, error)
	ExtractKPIs(ctx context.Context) ([]query.KPI, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Agent drives one browser session through the pipeline. One Agent answers
// one question at a time.
type Agent struct {
	cfg     config.Config
	log     *zap.Logger
	browser Browser
	store   *facts.Store
	rec     *recorder.Recorder
}

func New(cfg config.Config, log *zap.Logger, browser Browser, store *facts.Store, rec *recorder.Recorder) *Agent {
	if log == nil {
		log = zap.NewNop()
	}
	return &Agent{cfg: cfg, log: log, browser: browser, store: store, rec: rec}
}

// Ask answers one free-text question against the configured dashboard.
// A filter that fails to apply is skipped with a warning; the rest of the
// pipeline still runs so a partial answer beats none.
func (a *Agent) Ask(ctx context.Context, question string) (*query.Result, error) {
	runID := uuid.NewString()
	log := a.log.With(zap.String("run_id", runID))

	if a.rec != nil {
		if err := a.rec.Start(runID); err != nil {
			log.Warn("run trace unavailable", zap.Error(err))
		}
	}
	a.trace("question", runID, map[string]string{"question": question})
	if a.store != nil {
		a.store.RecordQuestion(question)
	}

	res := &query.Result{
		RunID:        runID,
		Question:     question,
		Intent:       query.ClassifyIntent(question),
		AskedAt:      time.Now(),
		Filters:      query.Map(question),
		DashboardURL: a.cfg.Dashboard.URL,
	}
	log.Info("question mapped",
		zap.String("intent", string(res.Intent)),
		zap.Int("filters", len(res.Filters)))

	if err := a.open(ctx, runID); err != nil {
		return nil, err
	}

	if err := a.login(ctx, runID); err != nil {
		return nil, err
	}

	available, err := a.browser.DiscoverFilters(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover filters: %w", err)
	}
	res.AvailableFilters = available
	for _, fc := range available {
		if a.store != nil {
			a.store.RecordFilterCatalog(fc.Label, fc.CurrentValue)
		}
	}
	a.trace("discover", runID, available)

	for _, f := range res.Filters {
		if err := a.browser.ApplyFilter(ctx, f.Name, f.Value); err != nil {
			log.Warn("filter skipped",
				zap.String("filter", f.Name),
				zap.String("value", f.Value),
				zap.Error(err))
			a.trace("filter_skipped", runID, map[string]string{"name": f.Name, "value": f.Value, "error": err.Error()})
			continue
		}
		res.AppliedFilters = append(res.AppliedFilters, f)
		if a.store != nil {
			a.store.RecordFilterApplied(f.Name, f.Value)
		}
		a.trace("filter_applied", runID, f)
	}

	if len(res.AppliedFilters) > 0 {
		if err := a.browser.ClickApply(ctx); err != nil {
			log.Warn("dashboard apply failed", zap.Error(err))
		}
		if err := a.browser.WaitForReload(ctx); err != nil {
			return nil, fmt.Errorf("wait for filtered render: %w", err)
		}
		if a.store != nil {
			a.store.RecordNavigation("reload", a.cfg.Dashboard.URL)
		}
	}

	if title, err := a.browser.Title(ctx); err == nil {
		res.DashboardTitle = title
	}

	charts, err := a.browser.ExtractCharts(ctx)
	if err != nil {
		return nil, fmt.Errorf("extract charts: %w", err)
	}
	res.Charts = charts
	if a.store != nil {
		for _, c := range charts {
			for _, d := range c.Data {
				a.store.RecordChartDatum(c.Title, d.Label, d.Value)
			}
		}
	}

	kpis, err := a.browser.ExtractKPIs(ctx)
	if err != nil {
		return nil, fmt.Errorf("extract KPIs: %w", err)
	}
	res.KPIs = kpis
	if a.store != nil {
		for _, k := range kpis {
			a.store.RecordKPI(k.Label, k.Value)
		}
	}
	a.trace("extract", runID, map[string]int{"charts": len(charts), "kpis": len(kpis)})

	a.trace("respond", runID, map[string]interface{}{
		"intent":          string(res.Intent),
		"applied_filters": len(res.AppliedFilters),
		"charts":          len(res.Charts),
		"kpis":            len(res.KPIs),
	})
	log.Info("run complete",
		zap.Int("applied_filters", len(res.AppliedFilters)),
		zap.Int("charts", len(res.Charts)),
		zap.Int("kpis", len(res.KPIs)))
	return res, nil
}

// ListFilters opens the dashboard just far enough to report its filter
// controls.
func (a *Agent) ListFilters(ctx context.Context) ([]query.FilterControl, error) {
	runID := uuid.NewString()
	if err := a.open(ctx, runID); err != nil {
		return nil, err
	}
	if err := a.login(ctx, runID); err != nil {
		return nil, err
	}
	controls, err := a.browser.DiscoverFilters(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover filters: %w", err)
	}
	if a.store != nil {
		for _, fc := range controls {
			a.store.RecordFilterCatalog(fc.Label, fc.CurrentValue)
		}
	}
	return controls, nil
}

// Screenshot captures the dashboard as currently rendered.
func (a *Agent) Screenshot(ctx context.Context) ([]byte, error) {
	return a.browser.Screenshot(ctx)
}

// Close releases the underlying browser session and the run trace.
func (a *Agent) Close() error {
	if a.rec != nil {
		_ = a.rec.Close()
	}
	return a.browser.Close()
}

func (a *Agent) open(ctx context.Context, runID string) error {
	if a.cfg.Dashboard.URL == "" {
		return fmt.Errorf("no dashboard URL configured")
	}
	if err := a.browser.Open(ctx, a.cfg.Dashboard.URL); err != nil {
		return fmt.Errorf("open dashboard: %w", err)
	}
	if a.store != nil {
		a.store.RecordNavigation("open", a.cfg.Dashboard.URL)
	}
	a.trace("open", runID, map[string]string{"url": a.cfg.Dashboard.URL})
	return nil
}

// login runs the auth stage. Public dashboards skip it; a login_required
// dashboard without credentials fails here rather than scraping a login page.
func (a *Agent) login(ctx context.Context, runID string) error {
	user, pass := config.Credentials()
	if user == "" && pass == "" {
		if a.cfg.Dashboard.LoginRequired {
			return fmt.Errorf("dashboard requires login but %s/%s are not set", config.EnvUsername, config.EnvPassword)
		}
		return nil
	}
	if err := a.browser.Login(ctx, user, pass); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if a.store != nil {
		a.store.RecordNavigation("login", a.cfg.Dashboard.URL)
	}
	a.trace("login", runID, map[string]string{"user": user})
	return nil
}

func (a *Agent) trace(stage, runID string, data interface{}) {
	if a.rec != nil {
		a.rec.Log(stage, runID, data)
	}
}
