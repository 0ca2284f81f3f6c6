// Package mcp exposes the dashboard agent as MCP tools over stdio or SSE, so
// an LLM client can ask dashboard questions without driving the browser
// itself.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"tabagent/internal/agent"
	"tabagent/internal/config"
	"tabagent/internal/facts"
)

// Tool is the contract every MCP tool implements.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// BrowserFactory builds a fresh browser session for one tool invocation.
// Each call gets its own session so a crashed run cannot poison the next.
type BrowserFactory func() agent.Browser

// Server wires the MCP runtime, the dashboard agent, and the run fact store.
type Server struct {
	cfg        config.Config
	log        *zap.Logger
	store      *facts.Store
	newBrowser BrowserFactory
	tools      map[string]Tool
	mcpServer  *mcpserver.MCPServer
}

func NewServer(cfg config.Config, log *zap.Logger, store *facts.Store, newBrowser BrowserFactory) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	mcpSrv := mcpserver.NewMCPServer(
		cfg.Agent.Name,
		cfg.Agent.Version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
		mcpserver.WithRecovery(),
	)

	s := &Server{
		cfg:        cfg,
		log:        log,
		store:      store,
		newBrowser: newBrowser,
		tools:      make(map[string]Tool),
		mcpServer:  mcpSrv,
	}
	s.registerAllTools()
	return s
}

// Start launches the stdio transport (the MCP client default).
func (s *Server) Start(ctx context.Context) error {
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// StartSSE hosts the server over HTTP SSE with graceful shutdown.
func (s *Server) StartSSE(ctx context.Context, port int) error {
	sseServer := mcpserver.NewSSEServer(s.mcpServer, mcpserver.WithBaseURL("http://localhost:"+strconv.Itoa(port)))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.log.Info("SSE server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ExecuteTool runs a tool directly, bypassing the MCP transport (tests).
func (s *Server) ExecuteTool(name string, args map[string]interface{}) (interface{}, error) {
	tool, exists := s.tools[name]
	if !exists {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return tool.Execute(context.Background(), args)
}

func (s *Server) registerAllTools() {
	s.registerTool(&AnalyzeDashboardTool{server: s})
	s.registerTool(&ListFiltersTool{server: s})
	s.registerTool(&ScreenshotDashboardTool{server: s})
	s.registerTool(&ReadFactsTool{store: s.store})
	s.registerTool(&QueryFactsTool{store: s.store})
	s.registerTool(&SubmitRuleTool{store: s.store})
}

func (s *Server) registerTool(tool Tool) {
	s.tools[tool.Name()] = tool

	schema, err := json.Marshal(tool.InputSchema())
	if err != nil {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	mcpTool := mcp.NewToolWithRawSchema(tool.Name(), tool.Description(), schema)
	s.mcpServer.AddTool(mcpTool, s.wrapTool(tool))
}

func (s *Server) wrapTool(tool Tool) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]interface{}{}
		}

		result, err := tool.Execute(ctx, args)
		if err != nil {
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("tool %s failed: %v", tool.Name(), err))},
				IsError: true,
			}, nil
		}

		payload := marshalToolPayload(tool.Name(), result)
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(string(payload))},
			IsError: false,
		}, nil
	}
}

func marshalToolPayload(toolName string, result interface{}) []byte {
	payload, err := json.Marshal(result)
	if err == nil {
		return payload
	}

	fallback := map[string]interface{}{
		"success": false,
		"error":   fmt.Sprintf("tool %s returned non-serializable payload: %v", toolName, err),
	}
	payload, fallbackErr := json.Marshal(fallback)
	if fallbackErr == nil {
		return payload
	}
	return []byte(fmt.Sprintf(`{"success":false,"error":"tool %s failed to encode payload"}`, toolName))
}

// newAgent builds a single-run agent over a fresh browser session. Callers
// own Close.
func (s *Server) newAgent() *agent.Agent {
	return agent.New(s.cfg, s.log, s.newBrowser(), s.store, nil)
}

func getStringArg(args map[string]interface{}, key string) string {
	val, ok := args[key]
	if !ok {
		return ""
	}
	switch v := val.(type) {
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func getIntArg(args map[string]interface{}, key string, fallback int) int {
	val, ok := args[key]
	if !ok {
		return fallback
	}
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}
