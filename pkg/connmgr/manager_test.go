package connmgr

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-router-go/pkg/registry"
)

func stdioDef(name string) registry.ServerDefinition {
	return registry.ServerDefinition{
		Name:      name,
		Transport: registry.TransportStdio,
		Command:   "unused-in-tests",
		Enabled:   true,
	}
}

// newForecastServer builds an in-process MCP server exposing a single
// get_forecast tool.
func newForecastServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "fake-weather", Version: "0.1.0"}, &mcp.ServerOptions{HasTools: true})
	server.AddTool(&mcp.Tool{
		Name:        "get_forecast",
		Description: "Get the weather forecast for a city",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"city": {Type: "string"},
			},
		},
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			City string `json:"city"`
		}
		raw, err := json.Marshal(req.Params.Arguments)
		if err == nil {
			_ = json.Unmarshal(raw, &args)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "sunny in " + args.City}},
		}, nil
	})
	return server
}

// inMemoryDialer connects every attempt to the given server over a fresh pair
// of in-memory transports.
func inMemoryDialer(server *mcp.Server, dials *atomic.Int32) func(registry.ServerDefinition) (mcp.Transport, error) {
	return func(registry.ServerDefinition) (mcp.Transport, error) {
		if dials != nil {
			dials.Add(1)
		}
		serverTransport, clientTransport := mcp.NewInMemoryTransports()
		if _, err := server.Connect(context.Background(), serverTransport, nil); err != nil {
			return nil, err
		}
		return clientTransport, nil
	}
}

func TestConnectWaitEstablishesSession(t *testing.T) {
	t.Parallel()

	mgr := NewManager(&Options{DialTransport: inMemoryDialer(newForecastServer(), nil)})
	t.Cleanup(func() { _ = mgr.DisconnectAll() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mgr.ConnectWait(ctx, stdioDef("weather"))
	if err != nil {
		t.Fatalf("ConnectWait: %v", err)
	}
	if !client.IsConnected() {
		t.Fatalf("client should report connected")
	}
	active := mgr.ListActive()
	if len(active) != 1 || active[0] != "weather" {
		t.Fatalf("ListActive = %v, expected [weather]", active)
	}
	if state, ok := mgr.State("weather"); !ok || state != StateConnected {
		t.Fatalf("State = %v %v, expected connected", state, ok)
	}
}

func TestConnectIsNonBlocking(t *testing.T) {
	t.Parallel()

	server := newForecastServer()
	gate := make(chan struct{})
	var dials atomic.Int32
	dialer := func(def registry.ServerDefinition) (mcp.Transport, error) {
		<-gate
		return inMemoryDialer(server, &dials)(def)
	}
	mgr := NewManager(&Options{DialTransport: dialer})
	t.Cleanup(func() { close(gate); _ = mgr.DisconnectAll() })

	attempt, state := mgr.Connect(stdioDef("weather"))
	if attempt == "" || state != StateConnecting {
		t.Fatalf("Connect ack = (%q, %q), expected (id, connecting)", attempt, state)
	}

	// Before the handshake completes, the session must read as not connected
	// rather than blocking or handing out a half-open session.
	if _, err := mgr.GetClient("weather"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("GetClient during handshake = %v, expected ErrNotConnected", err)
	}
}

func TestConnectTwiceProducesOneSession(t *testing.T) {
	t.Parallel()

	var dials atomic.Int32
	mgr := NewManager(&Options{DialTransport: inMemoryDialer(newForecastServer(), &dials)})
	t.Cleanup(func() { _ = mgr.DisconnectAll() })

	first, _ := mgr.Connect(stdioDef("weather"))
	second, _ := mgr.Connect(stdioDef("weather"))
	if first != second {
		t.Fatalf("second connect should report the existing attempt: %q vs %q", first, second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := mgr.ConnectWait(ctx, stdioDef("weather")); err != nil {
		t.Fatalf("ConnectWait: %v", err)
	}
	if n := dials.Load(); n != 1 {
		t.Fatalf("expected exactly one dial, got %d", n)
	}
	if active := mgr.ListActive(); len(active) != 1 {
		t.Fatalf("expected one live session, got %v", active)
	}
}

func TestHandshakeFailureRemovesSession(t *testing.T) {
	t.Parallel()

	mgr := NewManager(&Options{
		DialTransport: func(registry.ServerDefinition) (mcp.Transport, error) {
			return nil, errors.New("boom")
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := mgr.ConnectWait(ctx, stdioDef("weather")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("failed handshake should surface ErrNotConnected, got %v", err)
	}
	if active := mgr.ListActive(); len(active) != 0 {
		t.Fatalf("failed session left in registry: %v", active)
	}
	// Retry after failure is allowed.
	if _, state := mgr.Connect(stdioDef("weather")); state != StateConnecting {
		t.Fatalf("retry should start a fresh attempt, got %q", state)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	t.Parallel()

	mgr := NewManager(&Options{DialTransport: inMemoryDialer(newForecastServer(), nil)})

	if err := mgr.Disconnect("ghost"); err != nil {
		t.Fatalf("disconnect of absent session should be a no-op, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := mgr.ConnectWait(ctx, stdioDef("weather")); err != nil {
		t.Fatalf("ConnectWait: %v", err)
	}
	if err := mgr.Disconnect("weather"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := mgr.Disconnect("weather"); err != nil {
		t.Fatalf("second Disconnect should be a no-op, got %v", err)
	}
	if _, err := mgr.GetClient("weather"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after disconnect, got %v", err)
	}
}

func TestDisconnectAll(t *testing.T) {
	t.Parallel()

	mgr := NewManager(&Options{DialTransport: inMemoryDialer(newForecastServer(), nil)})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, name := range []string{"a", "b", "c"} {
		if _, err := mgr.ConnectWait(ctx, stdioDef(name)); err != nil {
			t.Fatalf("ConnectWait(%s): %v", name, err)
		}
	}
	if err := mgr.DisconnectAll(); err != nil {
		t.Fatalf("DisconnectAll: %v", err)
	}
	if active := mgr.ListActive(); len(active) != 0 {
		t.Fatalf("sessions remain after DisconnectAll: %v", active)
	}
}

func TestClientListToolsAndCallTool(t *testing.T) {
	t.Parallel()

	mgr := NewManager(&Options{DialTransport: inMemoryDialer(newForecastServer(), nil)})
	t.Cleanup(func() { _ = mgr.DisconnectAll() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mgr.ConnectWait(ctx, stdioDef("weather"))
	if err != nil {
		t.Fatalf("ConnectWait: %v", err)
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "get_forecast" {
		t.Fatalf("unexpected tools: %+v", tools)
	}
	if len(tools[0].InputSchema) == 0 {
		t.Fatalf("descriptor should carry the input schema")
	}

	res, err := client.CallTool(ctx, "get_forecast", map[string]any{"city": "Boston"})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	text := textOf(t, res)
	if !strings.Contains(text, "Boston") {
		t.Fatalf("tool result = %q, expected it to mention Boston", text)
	}
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatalf("empty tool result")
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", res.Content[0])
	}
	return tc.Text
}
