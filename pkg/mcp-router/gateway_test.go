package mcprouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// dialGateway opens an in-memory client session against the gateway's
// embedded MCP server.
func dialGateway(t *testing.T, g *Gateway) *mcp.ClientSession {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	if _, err := g.server.Connect(ctx, serverTransport, nil); err != nil {
		t.Fatalf("server connect: %v", err)
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "test-agent", Version: "0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func TestGatewayRegistersMetaTools(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	g, err := NewGateway(f.router, &Options{Logger: f.router.logger})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	session := dialGateway(t, g)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := session.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	want := map[string]bool{
		ToolDiscoverServerActions: true,
		ToolGetActionDetails:      true,
		ToolExecuteAction:         true,
		ToolSearchDocumentation:   true,
		ToolManageServers:         true,
		ToolSearchMCPCatalog:      true,
		ToolHandleAuthFailure:     true,
	}
	if len(res.Tools) != len(want) {
		t.Fatalf("expected %d meta-tools, got %d", len(want), len(res.Tools))
	}
	for _, tool := range res.Tools {
		if !want[tool.Name] {
			t.Fatalf("unexpected tool %q", tool.Name)
		}
	}
}

func TestGatewayManageServersOverSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.reg.UpsertServer(weatherDef("weather"))
	g, err := NewGateway(f.router, &Options{Logger: f.router.logger})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	session := dialGateway(t, g)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      ToolManageServers,
		Arguments: map[string]any{"list_configured_mcps": true},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	text := res.Content[0].(*mcp.TextContent).Text
	if text != "weather, off" {
		t.Fatalf("manage_servers reply = %q", text)
	}
}

func TestGatewayExecuteActionReturnsEnvelope(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.reg.UpsertServer(weatherDef("weather"))
	g, err := NewGateway(f.router, &Options{Logger: f.router.logger})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	session := dialGateway(t, g)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name: ToolExecuteAction,
		Arguments: map[string]any{
			"server_name": "weather",
			"action_name": "get_forecast",
		},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	var envelope map[string]any
	if err := json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &envelope); err != nil {
		t.Fatalf("envelope decode: %v", err)
	}
	if envelope["status"] != "error" || envelope["error"] != "Server 'weather' is not connected" {
		t.Fatalf("wrong envelope: %v", envelope)
	}
}

func TestGatewayRefreshDefinitionsKeepsToolCount(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	g, err := NewGateway(f.router, &Options{Logger: f.router.logger})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	f.reg.UpsertServer(weatherDef("weather"))
	g.RefreshDefinitions()
	g.RefreshDefinitions()

	session := dialGateway(t, g)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := session.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(res.Tools) != 7 {
		t.Fatalf("refresh should not duplicate tools: %d", len(res.Tools))
	}
}

func TestGatewayHandlerServesCORS(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	g, err := NewGateway(f.router, &Options{Logger: f.router.logger})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	req := httptest.NewRequest(http.MethodOptions, "/mcp", nil)
	req.Header.Set("Origin", "https://agent.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("preflight origin = %q", got)
	}
}

func TestGatewayShutdownWithoutServer(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	g, err := NewGateway(f.router, &Options{Logger: f.router.logger})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	if err := g.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown with no server should be a no-op, got %v", err)
	}
}
