package tools

import (
	"encoding/json"
	"fmt"
	"os"
)

// MCPServerConfig describes one entry of the mcpServers document.
type MCPServerConfig struct {
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Disabled  bool              `json:"disabled,omitempty"`
	Transport string            `json:"transport,omitempty"`
	URL       string            `json:"url,omitempty"`
}

// MCPDocument is the root of the MCP configuration file.
type MCPDocument struct {
	Servers map[string]MCPServerConfig `json:"mcpServers"`
}

// LoadMCPDocument reads and validates the MCP configuration document. A
// malformed document is a startup configuration error.
func LoadMCPDocument(path string) (*MCPDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read MCP config %s: %w", path, err)
	}

	var doc MCPDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse MCP config %s: %w", path, err)
	}

	for name, server := range doc.Servers {
		transport := server.Transport
		if transport == "" {
			if server.Command != "" {
				transport = "stdio"
			} else {
				transport = "http"
			}
		}
		switch transport {
		case "stdio":
			if server.Command == "" {
				return nil, fmt.Errorf("MCP server %s: stdio transport requires a command", name)
			}
		case "sse", "http":
			if server.URL == "" {
				return nil, fmt.Errorf("MCP server %s: %s transport requires a url", name, transport)
			}
		default:
			return nil, fmt.Errorf("MCP server %s: unknown transport '%s'", name, transport)
		}
	}

	return &doc, nil
}

// resolvedTransport normalizes the transport field.
func (c MCPServerConfig) resolvedTransport() string {
	if c.Transport != "" {
		return c.Transport
	}
	if c.Command != "" {
		return "stdio"
	}
	return "http"
}
