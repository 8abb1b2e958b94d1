package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/conductor/pkg/httpclient"
)

const mcpProtocolVersion = "2024-11-05"

// MCPSource serves the tools of a single MCP server. The stdio transport
// uses the mcp-go client for subprocess communication; sse and http use the
// retrying httpclient with JSON-RPC.
type MCPSource struct {
	name   string
	config MCPServerConfig

	mu         sync.RWMutex
	stdio      *mcpclient.Client
	httpClient *httpclient.Client
	tools      map[string]Tool

	sessionMu sync.RWMutex
	sessionID string
}

// NewMCPSource creates a source for one configured server.
func NewMCPSource(name string, cfg MCPServerConfig) *MCPSource {
	return &MCPSource{
		name:   name,
		config: cfg,
		tools:  make(map[string]Tool),
	}
}

// LoadMCPSources builds one source per enabled server in the document.
func LoadMCPSources(doc *MCPDocument) []*MCPSource {
	var sources []*MCPSource
	for name, server := range doc.Servers {
		if server.Disabled {
			continue
		}
		sources = append(sources, NewMCPSource(name, server))
	}
	return sources
}

func (s *MCPSource) GetName() string {
	return s.name
}

func (s *MCPSource) GetType() string {
	return SourceTypeMCP
}

// DiscoverTools dials the server and enumerates its tools.
func (s *MCPSource) DiscoverTools(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tools = make(map[string]Tool)

	if s.config.resolvedTransport() == "stdio" {
		return s.discoverStdio(ctx)
	}
	return s.discoverHTTP(ctx)
}

func (s *MCPSource) discoverStdio(ctx context.Context) error {
	client, err := mcpclient.NewStdioMCPClient(
		s.config.Command,
		envSlice(s.config.Env),
		s.config.Args...,
	)
	if err != nil {
		return fmt.Errorf("failed to create MCP client for %s: %w", s.name, err)
	}

	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP client for %s: %w", s.name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "conductor",
		Version: "1.0.0",
	}
	initReq.Params.ProtocolVersion = mcpProtocolVersion

	if _, err := client.Initialize(ctx, initReq); err != nil {
		client.Close()
		return fmt.Errorf("failed to initialize MCP server %s: %w", s.name, err)
	}

	listResp, err := client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		client.Close()
		return fmt.Errorf("failed to list tools from %s: %w", s.name, err)
	}

	for _, mcpTool := range listResp.Tools {
		schema := schemaToMap(mcpTool.InputSchema)
		s.tools[mcpTool.Name] = &remoteTool{
			source: s,
			info: ToolInfo{
				Name:        mcpTool.Name,
				Description: mcpTool.Description,
				Parameters:  schema,
				Source:      SourceTypeMCP,
			},
			useStdio: true,
		}
	}

	s.stdio = client

	slog.Info("Connected to MCP server (stdio)",
		"name", s.name, "command", s.config.Command, "tools", len(s.tools))
	return nil
}

func (s *MCPSource) discoverHTTP(ctx context.Context) error {
	s.httpClient = httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}),
		httpclient.WithMaxRetries(3),
		httpclient.WithBaseDelay(time.Second),
	)

	initResp, err := s.makeHTTPRequest(ctx, "initialize", map[string]any{
		"protocolVersion": mcpProtocolVersion,
		"clientInfo": map[string]any{
			"name":    "conductor",
			"version": "1.0.0",
		},
		"capabilities": map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize MCP server %s: %w", s.name, err)
	}
	if initResp.Error != nil {
		return fmt.Errorf("MCP init error from %s: %s", s.name, initResp.Error.Message)
	}

	listResp, err := s.makeHTTPRequest(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("failed to list tools from %s: %w", s.name, err)
	}
	if listResp.Error != nil {
		return fmt.Errorf("MCP list error from %s: %s", s.name, listResp.Error.Message)
	}

	resultMap, ok := listResp.Result.(map[string]any)
	if !ok {
		return fmt.Errorf("unexpected tools/list result from %s", s.name)
	}
	toolsList, ok := resultMap["tools"].([]any)
	if !ok {
		return fmt.Errorf("missing tools in tools/list response from %s", s.name)
	}

	for _, raw := range toolsList {
		toolMap, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name, _ := toolMap["name"].(string)
		desc, _ := toolMap["description"].(string)
		var schema map[string]any
		if inputSchema, ok := toolMap["inputSchema"].(map[string]any); ok {
			schema = inputSchema
		}

		s.tools[name] = &remoteTool{
			source: s,
			info: ToolInfo{
				Name:        name,
				Description: desc,
				Parameters:  schema,
				Source:      SourceTypeMCP,
			},
		}
	}

	slog.Info("Connected to MCP server (HTTP)",
		"name", s.name, "url", s.config.URL, "transport", s.config.resolvedTransport(), "tools", len(s.tools))
	return nil
}

func (s *MCPSource) ListTools() []ToolInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]ToolInfo, 0, len(s.tools))
	for _, tool := range s.tools {
		infos = append(infos, tool.GetInfo())
	}
	return infos
}

func (s *MCPSource) GetTool(name string) (Tool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tool, exists := s.tools[name]
	return tool, exists
}

// Close tears down the server connection.
func (s *MCPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stdio != nil {
		err := s.stdio.Close()
		s.stdio = nil
		return err
	}
	s.httpClient = nil
	return nil
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *MCPSource) makeHTTPRequest(ctx context.Context, method string, params any) (*jsonRPCResponse, error) {
	body, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")

	if sid := s.currentSessionID(); sid != "" {
		httpReq.Header.Set("mcp-session-id", sid)
	}

	httpResp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if newSessionID := httpResp.Header.Get("mcp-session-id"); newSessionID != "" {
		s.setSessionID(newSessionID)
	}

	if httpResp.StatusCode != http.StatusOK {
		responseBody, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("HTTP %d: %s", httpResp.StatusCode, string(responseBody))
	}

	responseBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp jsonRPCResponse
	if err := json.Unmarshal(responseBody, &resp); err == nil {
		return &resp, nil
	}

	// SSE-framed response: find the first complete data event
	for _, line := range strings.Split(string(responseBody), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if err := json.Unmarshal([]byte(data), &resp); err == nil {
				return &resp, nil
			}
		}
	}

	return nil, fmt.Errorf("failed to parse response as JSON or SSE")
}

func (s *MCPSource) currentSessionID() string {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()
	return s.sessionID
}

func (s *MCPSource) setSessionID(id string) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	s.sessionID = id
}

// remoteTool wraps a remote MCP tool behind the Tool interface.
type remoteTool struct {
	BaseTool
	source   *MCPSource
	info     ToolInfo
	useStdio bool
}

func (t *remoteTool) GetInfo() ToolInfo {
	return t.info
}

func (t *remoteTool) GetName() string {
	return t.info.Name
}

func (t *remoteTool) GetDescription() string {
	return t.info.Description
}

func (t *remoteTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	start := time.Now()

	if t.useStdio {
		return t.executeStdio(ctx, args, start)
	}
	return t.executeHTTP(ctx, args, start)
}

func (t *remoteTool) executeStdio(ctx context.Context, args map[string]any, start time.Time) (ToolResult, error) {
	t.source.mu.RLock()
	client := t.source.stdio
	t.source.mu.RUnlock()

	if client == nil {
		return failureResult(t.info.Name, "MCP client not connected", start), nil
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = t.info.Name
	req.Params.Arguments = args

	resp, err := client.CallTool(ctx, req)
	if err != nil {
		return failureResult(t.info.Name, fmt.Sprintf("MCP call failed: %v", err), start), nil
	}

	var texts []string
	for _, content := range resp.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			texts = append(texts, textContent.Text)
		}
	}
	joined := strings.TrimSpace(strings.Join(texts, "\n"))

	if resp.IsError {
		errMsg := joined
		if errMsg == "" {
			errMsg = "unknown MCP error"
		}
		return failureResult(t.info.Name, errMsg, start), nil
	}

	return successResult(t.info.Name, joined, start), nil
}

func (t *remoteTool) executeHTTP(ctx context.Context, args map[string]any, start time.Time) (ToolResult, error) {
	resp, err := t.source.makeHTTPRequest(ctx, "tools/call", map[string]any{
		"name":      t.info.Name,
		"arguments": args,
	})
	if err != nil {
		return failureResult(t.info.Name, fmt.Sprintf("MCP call failed: %v", err), start), nil
	}

	if resp.Error != nil {
		return failureResult(t.info.Name, resp.Error.Message, start), nil
	}

	resultMap, ok := resp.Result.(map[string]any)
	if !ok {
		data, _ := json.Marshal(resp.Result)
		return successResult(t.info.Name, string(data), start), nil
	}

	var texts []string
	if content, ok := resultMap["content"].([]any); ok {
		for _, c := range content {
			if cm, ok := c.(map[string]any); ok {
				if text, ok := cm["text"].(string); ok {
					texts = append(texts, text)
				}
			}
		}
	}
	joined := strings.TrimSpace(strings.Join(texts, "\n"))

	if isError, _ := resultMap["isError"].(bool); isError {
		errMsg := joined
		if errMsg == "" {
			errMsg = "unknown MCP error"
		}
		return failureResult(t.info.Name, errMsg, start), nil
	}

	return successResult(t.info.Name, joined, start), nil
}

func envSlice(env map[string]string) []string {
	if env == nil {
		return nil
	}
	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	return result
}

func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

var (
	_ ToolSource = (*MCPSource)(nil)
	_ Tool       = (*remoteTool)(nil)
)
