package pool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	"github.com/edvin/conduit/internal/model"
)

// MCPExecutor launches connector processes over MCP stdio. Each unit gets
// its own subprocess; credentials reach it only through the environment
// variables the service definition's invocation template maps.
type MCPExecutor struct {
	logger zerolog.Logger
}

func NewMCPExecutor(logger zerolog.Logger) *MCPExecutor {
	return &MCPExecutor{logger: logger}
}

func (e *MCPExecutor) Connect(ctx context.Context, def *model.ServiceDefinition, credentials map[string]string) (Conn, error) {
	tpl := def.Invocation
	if tpl.Command == "" {
		return nil, fmt.Errorf("service %s has no invocation command", def.ServiceKey)
	}

	env := make([]string, 0, len(tpl.EnvMapping))
	for credKey, envName := range tpl.EnvMapping {
		val, ok := credentials[credKey]
		if !ok {
			return nil, fmt.Errorf("service %s: credential %q missing for env %s", def.ServiceKey, credKey, envName)
		}
		env = append(env, envName+"="+val)
	}

	c, err := client.NewStdioMCPClient(tpl.Command, env, tpl.Args...)
	if err != nil {
		return nil, fmt.Errorf("start connector %s: %w", def.ServiceKey, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "conduit-broker",
		Version: "1.0.0",
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, fmt.Errorf("initialize connector %s: %w", def.ServiceKey, err)
	}

	e.logger.Debug().
		Str("service_key", def.ServiceKey).
		Str("command", tpl.Command).
		Msg("connector session established")

	return &mcpConn{client: c, serviceKey: def.ServiceKey}, nil
}

type mcpConn struct {
	client     *client.Client
	serviceKey string
}

func (c *mcpConn) Invoke(ctx context.Context, action string, params map[string]any) (*InvocationResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = action
	req.Params.Arguments = params

	res, err := c.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", action, c.serviceKey, err)
	}

	text := joinTextContent(res.Content)
	if res.IsError {
		return nil, fmt.Errorf("connector %s: %s", c.serviceKey, text)
	}

	// Connectors usually answer with JSON text; keep the raw string when
	// they don't.
	var data any
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		data = text
	}
	return &InvocationResult{Data: data, Status: "success"}, nil
}

func (c *mcpConn) Close() error {
	return c.client.Close()
}

func joinTextContent(content []mcp.Content) string {
	var parts []string
	for _, item := range content {
		if tc, ok := item.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
