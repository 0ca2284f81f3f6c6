package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// EnvUsername and EnvPassword supply dashboard credentials. Credentials are
	// never read from the YAML file so they cannot end up in version control.
	EnvUsername = "TABAGENT_USERNAME"
	EnvPassword = "TABAGENT_PASSWORD"
)

// Config captures all tunable settings for the tabagent CLI and MCP server.
type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Browser   BrowserConfig   `yaml:"browser"`
	Facts     FactsConfig     `yaml:"facts"`
	MCP       MCPConfig       `yaml:"mcp"`
	Trace     TraceConfig     `yaml:"trace"`
}

type AgentConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	// LogDir receives one log file per day, named <name>-DDMMYYYY.log.
	LogDir string `yaml:"log_dir"`
}

// DashboardConfig identifies the Tableau view the agent drives.
type DashboardConfig struct {
	// URL is the embedded-view URL of the dashboard. Required.
	URL string `yaml:"url"`
	// LoginRequired forces the login stage even when credentials are empty,
	// so misconfiguration fails loudly instead of scraping a login page.
	LoginRequired bool `yaml:"login_required"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). When set, no browser is launched.
	DebuggerURL string `yaml:"debugger_url"`
	// Chrome binary to launch when DebuggerURL is empty. Empty means let Rod find one.
	Bin string `yaml:"bin"`
	// Headless controls whether Chrome runs without a window (default: true).
	Headless *bool `yaml:"headless"`
	// Navigation timeout for the initial dashboard load (e.g., "60s").
	NavigationTimeout string `yaml:"navigation_timeout"`
	// Timeout for individual element lookups and filter interactions (e.g., "20s").
	InteractionTimeout string `yaml:"interaction_timeout"`
	// Viewport width for the session (default: 1920).
	ViewportWidth int `yaml:"viewport_width"`
	// Viewport height for the session (default: 1080).
	ViewportHeight int `yaml:"viewport_height"`
}

// FactsConfig controls the embedded fact store that records what a run observed.
type FactsConfig struct {
	Enable bool `yaml:"enable"`
	// Optional Mangle rule file for derived predicates.
	RulesPath string `yaml:"rules_path"`
	// Upper bound on buffered facts; oldest are dropped first.
	BufferLimit int `yaml:"buffer_limit"`
}

// GetBufferLimit returns the fact buffer limit with a sane default.
func (f FactsConfig) GetBufferLimit() int {
	if f.BufferLimit > 0 {
		return f.BufferLimit
	}
	return 2048
}

type MCPConfig struct {
	// When set, `tabagent serve` starts an SSE server on this port instead of stdio.
	SSEPort int `yaml:"sse_port"`
}

// TraceConfig controls the JSONL run trace used to debug selector breakage.
type TraceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// DefaultConfig provides reasonable defaults for a public, guest-access dashboard.
func DefaultConfig() Config {
	return Config{
		Agent: AgentConfig{
			Name:    "tabagent",
			Version: "0.2.0",
			LogDir:  "logs",
		},
		Browser: BrowserConfig{
			NavigationTimeout:  "60s",
			InteractionTimeout: "20s",
			ViewportWidth:      1920,
			ViewportHeight:     1080,
		},
		Facts: FactsConfig{
			Enable:      true,
			BufferLimit: 2048,
		},
		MCP: MCPConfig{
			SSEPort: 0,
		},
		Trace: TraceConfig{
			Enabled: false,
			Dir:     "data/traces",
		},
	}
}

// Load reads YAML config from disk and overlays defaults. Callers validate
// after applying any command-line overrides.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Credentials resolves the dashboard username and password from the
// environment, consulting a .env file in the working directory when present.
func Credentials() (user, pass string) {
	// Best effort: absence of a .env file is the normal case.
	_ = godotenv.Load()
	return os.Getenv(EnvUsername), os.Getenv(EnvPassword)
}

// Validate ensures required fields exist so a run fails before Chrome starts.
func (c *Config) Validate() error {
	if c.Agent.Name == "" {
		return errors.New("agent.name is required")
	}
	if c.Dashboard.URL == "" {
		return errors.New("dashboard.url is required")
	}
	if c.Facts.BufferLimit < 0 {
		return fmt.Errorf("facts.buffer_limit must be >= 0, got %d", c.Facts.BufferLimit)
	}
	return nil
}

// LogFile returns the dated log file path for the given day, creating LogDir.
func (a AgentConfig) LogFile(now time.Time) (string, error) {
	if a.LogDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(a.LogDir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s-%s.log", a.Name, now.Format("02012006"))
	return filepath.Join(a.LogDir, name), nil
}

// GetNavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) GetNavigationTimeout() time.Duration {
	if b.NavigationTimeout == "" {
		return 60 * time.Second
	}
	d, err := time.ParseDuration(b.NavigationTimeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetInteractionTimeout returns the parsed interaction timeout with a sane default.
func (b BrowserConfig) GetInteractionTimeout() time.Duration {
	if b.InteractionTimeout == "" {
		return 20 * time.Second
	}
	d, err := time.ParseDuration(b.InteractionTimeout)
	if err != nil {
		return 20 * time.Second
	}
	return d
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true
	}
	return *b.Headless
}

// GetViewportWidth returns the viewport width with a sane default.
func (b BrowserConfig) GetViewportWidth() int {
	if b.ViewportWidth <= 0 {
		return 1920
	}
	return b.ViewportWidth
}

// GetViewportHeight returns the viewport height with a sane default.
func (b BrowserConfig) GetViewportHeight() int {
	if b.ViewportHeight <= 0 {
		return 1080
	}
	return b.ViewportHeight
}
