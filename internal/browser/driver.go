// Package browser owns the lifetime of one Rod-controlled Chrome session and
// the Tableau-specific interactions the agent needs: discovering filter
// dropdowns, applying filter values, and scraping rendered chart content.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"tabagent/internal/config"
	"tabagent/internal/query"
)

// Tableau renders its filter chrome with stable class names; these are the
// anchors everything else hangs off. A dashboard redesign breaks them, which
// is the documented filter-application failure mode.
const (
	selContainer     = "#centeringContainer"
	selComboName     = "div.tabComboBoxNameContainer"
	selFilterTitle   = "h3.FilterTitle"
	selOptionPanel   = `div[role="listbox"]`
	selApplyLabel    = "span.label"
	xpComboButton    = `./ancestor::div[contains(@class, "Title")]/following-sibling::div//span[contains(@class, "tabComboBoxButton")]`
	xpCheckboxByName = `.//div[@role="checkbox"][.//a[@title=%s]]//input`
)

// Driver wraps one browser, one page, one dashboard. It is not safe for
// concurrent use; the pipeline is strictly sequential.
type Driver struct {
	cfg config.BrowserConfig
	log *zap.Logger

	launch  *launcher.Launcher
	browser *rod.Browser
	page    *rod.Page
}

func New(cfg config.BrowserConfig, log *zap.Logger) *Driver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Driver{cfg: cfg, log: log}
}

// Open connects to Chrome (attaching when a debugger URL is configured,
// launching otherwise), sets the viewport, navigates to the dashboard, and
// waits for the Tableau container and filter chrome to render.
func (d *Driver) Open(ctx context.Context, url string) error {
	controlURL := d.cfg.DebuggerURL
	if controlURL == "" {
		launch := launcher.New().Headless(d.cfg.IsHeadless())
		if d.cfg.Bin != "" {
			launch = launch.Bin(d.cfg.Bin)
		}
		u, err := launch.Launch()
		if err != nil {
			return fmt.Errorf("launch chrome: %w", err)
		}
		d.launch = launch
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}
	d.browser = browser

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return fmt.Errorf("create page: %w", err)
	}
	d.page = page

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             d.cfg.GetViewportWidth(),
		Height:            d.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		d.log.Warn("failed to set viewport", zap.Error(err))
	}

	navTimeout := d.cfg.GetNavigationTimeout()
	if err := page.Timeout(navTimeout).Navigate(url); err != nil {
		return fmt.Errorf("navigate to dashboard: %w", err)
	}
	if err := page.Timeout(navTimeout).WaitLoad(); err != nil {
		return fmt.Errorf("dashboard load: %w", err)
	}

	// Tableau renders into #centeringContainer well after the load event;
	// filters appear later still.
	if _, err := page.Timeout(navTimeout).Element(selContainer); err != nil {
		return fmt.Errorf("tableau container not found: %w", err)
	}
	if _, err := page.Timeout(navTimeout).Element(selComboName); err != nil {
		return fmt.Errorf("dashboard filters did not render: %w", err)
	}

	d.log.Info("dashboard ready", zap.String("url", url))
	return nil
}

// Login fills the dashboard login form and waits for the post-auth load.
// Tableau's guest views never present the form, so a missing form with empty
// credentials is not an error.
func (d *Driver) Login(ctx context.Context, user, pass string) error {
	if d.page == nil {
		return errors.New("browser not open")
	}
	page := d.page.Context(ctx)
	timeout := d.cfg.GetInteractionTimeout()

	userField, err := page.Timeout(timeout).Element(`input[name="username"], input[type="email"], input#username`)
	if err != nil {
		return fmt.Errorf("login form not found: %w", err)
	}
	passField, err := page.Timeout(timeout).Element(`input[type="password"]`)
	if err != nil {
		return fmt.Errorf("password field not found: %w", err)
	}

	if err := userField.Input(user); err != nil {
		return fmt.Errorf("enter username: %w", err)
	}
	if err := passField.Input(pass); err != nil {
		return fmt.Errorf("enter password: %w", err)
	}

	submit, err := page.Timeout(timeout).Element(`button[type="submit"], input[type="submit"]`)
	if err != nil {
		return fmt.Errorf("submit button not found: %w", err)
	}
	if err := submit.Click("left", 1); err != nil {
		return fmt.Errorf("submit login: %w", err)
	}

	if err := page.Timeout(d.cfg.GetNavigationTimeout()).WaitLoad(); err != nil {
		return fmt.Errorf("post-login load: %w", err)
	}

	// Still on the form means bad credentials (or unexpected 2FA).
	if _, err := page.Timeout(2 * time.Second).Element(`input[type="password"]`); err == nil {
		return errors.New("authentication failed: login form still present")
	}

	d.log.Info("authenticated", zap.String("user", user))
	return nil
}

// DiscoverFilters scrapes every filter dropdown with its label resolved via
// aria-labelledby, the way the dashboard wires label elements to controls.
func (d *Driver) DiscoverFilters(ctx context.Context) ([]query.FilterControl, error) {
	if d.page == nil {
		return nil, errors.New("browser not open")
	}

	var raw []struct {
		Label string `json:"label"`
		Value string `json:"value"`
	}
	if err := d.eval(ctx, jsDiscoverFilters, &raw); err != nil {
		return nil, fmt.Errorf("discover filters: %w", err)
	}

	controls := make([]query.FilterControl, 0, len(raw))
	seen := make(map[string]bool)
	for _, f := range raw {
		label := CleanFilterLabel(f.Label)
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true
		controls = append(controls, query.FilterControl{Label: label, CurrentValue: f.Value})
	}

	d.log.Info("filters discovered", zap.Int("count", len(controls)))
	return controls, nil
}

// ApplyFilter opens the dropdown for the named filter, deselects "(All)",
// checks the requested value (exact title first, case-insensitive substring
// second), and confirms with the in-panel Apply button.
func (d *Driver) ApplyFilter(ctx context.Context, name, value string) error {
	if d.page == nil {
		return errors.New("browser not open")
	}
	page := d.page.Context(ctx)
	timeout := d.cfg.GetInteractionTimeout()

	title, err := page.Timeout(timeout).ElementR(selFilterTitle, "(?i)"+regexpEscape(name))
	if err != nil {
		return fmt.Errorf("filter %q not found: %w", name, err)
	}

	arrow, err := title.Timeout(timeout).ElementX(xpComboButton)
	if err != nil {
		return fmt.Errorf("filter %q has no dropdown control: %w", name, err)
	}
	if err := arrow.Click("left", 1); err != nil {
		return fmt.Errorf("open filter %q: %w", name, err)
	}

	panel, err := page.Timeout(timeout).Element(selOptionPanel)
	if err != nil {
		return fmt.Errorf("filter panel for %q did not open: %w", name, err)
	}

	// Deselect "(All)" so the chosen value becomes the only selection.
	if all, err := panel.Timeout(timeout).ElementX(fmt.Sprintf(xpCheckboxByName, xpathString("(All)"))); err == nil {
		if err := all.Click("left", 1); err != nil {
			return fmt.Errorf("deselect (All) on %q: %w", name, err)
		}
	}

	if err := d.checkOption(panel, value, timeout); err != nil {
		return fmt.Errorf("select %q on filter %q: %w", value, name, err)
	}

	apply, err := panel.Timeout(timeout).ElementR("button", "Apply")
	if err != nil {
		return fmt.Errorf("apply button missing in %q panel: %w", name, err)
	}
	if err := apply.Click("left", 1); err != nil {
		return fmt.Errorf("apply filter %q: %w", name, err)
	}
	if err := panel.Timeout(timeout).WaitInvisible(); err != nil {
		d.log.Warn("filter panel did not close", zap.String("filter", name), zap.Error(err))
	}

	d.log.Info("filter applied", zap.String("filter", name), zap.String("value", value))
	return nil
}

// checkOption clicks the checkbox whose option title matches value.
func (d *Driver) checkOption(panel *rod.Element, value string, timeout time.Duration) error {
	if box, err := panel.Timeout(timeout).ElementX(fmt.Sprintf(xpCheckboxByName, xpathString(value))); err == nil {
		return box.Click("left", 1)
	}

	// Partial match: the question says "Lehman", the option says "Lehman College".
	anchors, err := panel.Timeout(timeout).Elements(`div[role="checkbox"] a[title]`)
	if err != nil {
		return fmt.Errorf("list filter options: %w", err)
	}
	want := strings.ToLower(value)
	for _, a := range anchors {
		titleAttr, err := a.Attribute("title")
		if err != nil || titleAttr == nil {
			continue
		}
		if strings.Contains(strings.ToLower(*titleAttr), want) {
			box, err := a.ElementX(`./ancestor::div[@role="checkbox"]//input`)
			if err != nil {
				continue
			}
			return box.Click("left", 1)
		}
	}
	return fmt.Errorf("no option matches %q", value)
}

// ClickApply presses the dashboard-level Apply button when present. Some
// views apply filters immediately and have no such button, so absence is
// logged, not fatal.
func (d *Driver) ClickApply(ctx context.Context) error {
	if d.page == nil {
		return errors.New("browser not open")
	}
	page := d.page.Context(ctx)

	apply, err := page.Timeout(d.cfg.GetInteractionTimeout()).ElementR(selApplyLabel, "Apply")
	if err != nil {
		d.log.Info("no dashboard-level apply button")
		return nil
	}
	if err := apply.Click("left", 1); err != nil {
		return fmt.Errorf("click apply: %w", err)
	}
	return nil
}

// WaitForReload waits for the page load event after filters change. Tableau
// keeps background network traffic open, so a timeout here is a warning and
// extraction proceeds with whatever rendered.
func (d *Driver) WaitForReload(ctx context.Context) error {
	if d.page == nil {
		return errors.New("browser not open")
	}
	if err := d.page.Context(ctx).Timeout(d.cfg.GetNavigationTimeout()).WaitLoad(); err != nil {
		d.log.Warn("reload wait timed out, proceeding with current render", zap.Error(err))
	}
	return nil
}

// Title returns the current page title.
func (d *Driver) Title(ctx context.Context) (string, error) {
	if d.page == nil {
		return "", errors.New("browser not open")
	}
	info, err := d.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

// Screenshot captures the current viewport as PNG.
func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	if d.page == nil {
		return nil, errors.New("browser not open")
	}
	return d.page.Context(ctx).Screenshot(false, nil)
}

// Close releases the page, browser, and any launched Chrome process.
func (d *Driver) Close() error {
	var err error
	if d.page != nil {
		_ = d.page.Close()
		d.page = nil
	}
	if d.browser != nil {
		err = d.browser.Close()
		d.browser = nil
	}
	if d.launch != nil {
		d.launch.Cleanup()
		d.launch = nil
	}
	return err
}

// eval runs a JS function on the page and decodes the JSON result into out.
func (d *Driver) eval(ctx context.Context, js string, out interface{}) error {
	res, err := d.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return err
	}
	if res == nil || res.Value.Nil() {
		return nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return err
	}
	return unmarshalJSON(raw, out)
}

// regexpEscape quotes regex metacharacters so filter names can feed ElementR.
func regexpEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '.', '+', '*', '?', '(', ')', '[', ']', '{', '}', '^', '$', '|', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// xpathString renders a Go string as an XPath literal, handling quotes.
func xpathString(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	// Mixed quotes need concat().
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		if p != "" {
			quoted = append(quoted, `"`+p+`"`)
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
