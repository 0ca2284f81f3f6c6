// tabagent answers free-text questions against a Tableau dashboard by
// driving a real browser: it maps keywords to dashboard filters, applies
// them, and scrapes the rendered KPIs and charts into a text answer.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tabagent/internal/agent"
	"tabagent/internal/browser"
	"tabagent/internal/config"
	"tabagent/internal/facts"
	"tabagent/internal/mcp"
	"tabagent/internal/recorder"
	"tabagent/internal/report"
)

var (
	configPath   string
	verbose      bool
	dashboardURL string
	ssePort      int

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tabagent",
	Short: "Question-answering agent for Tableau dashboards",
	Long: `tabagent drives a headless Chrome session against a Tableau dashboard.
It maps a free-text question to the dashboard's filter controls, applies
them, waits for the view to re-render, and scrapes KPIs and chart data
into a text answer.

Credentials come from ` + config.EnvUsername + ` / ` + config.EnvPassword + ` (or a .env file);
everything else from the YAML config.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			// The default config file is optional when --url supplies the
			// dashboard; an explicitly given path must exist.
			defaulted := !cmd.Flags().Changed("config") && os.IsNotExist(err)
			if !defaulted {
				return fmt.Errorf("load config: %w", err)
			}
			cfg = config.DefaultConfig()
		}
		if dashboardURL != "" {
			cfg.Dashboard.URL = dashboardURL
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		// The serve command speaks MCP on stdout, so its logs must go to the
		// dated file only.
		toFileOnly := cmd.Name() == "serve" && ssePortOrConfig() == 0
		logger, err = buildLogger(toFileOnly)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer one question against the dashboard",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newAgent()
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Ask(ctx, question)
		if err != nil {
			return err
		}

		fmt.Println(report.Generate(res))
		return nil
	},
}

var filtersCmd = &cobra.Command{
	Use:   "filters",
	Short: "List the filter controls the dashboard exposes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newAgent()
		if err != nil {
			return err
		}
		defer a.Close()

		controls, err := a.ListFilters(ctx)
		if err != nil {
			return err
		}
		for _, fc := range controls {
			if fc.CurrentValue != "" {
				fmt.Printf("%s\t(current: %s)\n", fc.Label, fc.CurrentValue)
			} else {
				fmt.Println(fc.Label)
			}
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose the agent as an MCP server (stdio, or SSE with --sse-port)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := facts.NewStore(cfg.Facts)
		if err != nil {
			return fmt.Errorf("init fact store: %w", err)
		}

		srv := mcp.NewServer(cfg, logger, store, func() agent.Browser {
			return browser.New(cfg.Browser, logger)
		})

		port := ssePortOrConfig()
		var serveErr error
		if port > 0 {
			logger.Info("starting MCP SSE server", zap.Int("port", port))
			serveErr = srv.StartSSE(ctx, port)
		} else {
			logger.Info("starting MCP stdio server")
			serveErr = srv.Start(ctx)
		}
		if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
			return serveErr
		}
		return nil
	},
}

// newAgent assembles the single-run pipeline for CLI commands.
func newAgent() (*agent.Agent, error) {
	store, err := facts.NewStore(cfg.Facts)
	if err != nil {
		return nil, fmt.Errorf("init fact store: %w", err)
	}

	var rec *recorder.Recorder
	if cfg.Trace.Enabled {
		rec, err = recorder.NewRecorder(cfg.Trace.Dir)
		if err != nil {
			return nil, fmt.Errorf("init run trace: %w", err)
		}
	}

	drv := browser.New(cfg.Browser, logger)
	return agent.New(cfg, logger, drv, store, rec), nil
}

// buildLogger writes to the dated log file plus, unless suppressed, stderr.
func buildLogger(toFileOnly bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}

	outputs := []string{}
	if !toFileOnly {
		outputs = append(outputs, "stderr")
	}
	if path, err := cfg.Agent.LogFile(time.Now()); err == nil && path != "" {
		outputs = append(outputs, path)
	}
	if len(outputs) == 0 {
		return zap.NewNop(), nil
	}
	zc.OutputPaths = outputs
	zc.ErrorOutputPaths = outputs
	return zc.Build()
}

func ssePortOrConfig() int {
	if ssePort != 0 {
		return ssePort
	}
	return cfg.MCP.SSEPort
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the tabagent config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&dashboardURL, "url", "", "Dashboard URL override (falls back to config)")
	serveCmd.Flags().IntVar(&ssePort, "sse-port", 0, "Serve MCP over SSE on this port instead of stdio")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(filtersCmd)
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
