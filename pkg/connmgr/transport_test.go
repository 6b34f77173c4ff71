package connmgr

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-router-go/pkg/registry"
)

func TestDefaultTransportStdio(t *testing.T) {
	t.Parallel()

	transport, err := defaultTransport(registry.ServerDefinition{
		Name:      "everything",
		Transport: registry.TransportStdio,
		Command:   "npx",
		Args:      []string{"-y", "@modelcontextprotocol/server-everything"},
		Env:       map[string]string{"DEBUG": "1"},
	})
	if err != nil {
		t.Fatalf("defaultTransport: %v", err)
	}
	ct, ok := transport.(*mcp.CommandTransport)
	if !ok {
		t.Fatalf("expected CommandTransport, got %T", transport)
	}
	if len(ct.Command.Args) != 3 || ct.Command.Args[1] != "-y" {
		t.Fatalf("unexpected command args: %v", ct.Command.Args)
	}
	found := false
	for _, kv := range ct.Command.Env {
		if kv == "DEBUG=1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("definition env not applied to command: %v", ct.Command.Env)
	}
}

func TestDefaultTransportStreaming(t *testing.T) {
	t.Parallel()

	transport, err := defaultTransport(registry.ServerDefinition{
		Name:      "events",
		Transport: registry.TransportSSE,
		URL:       "https://example.com/sse",
	})
	if err != nil {
		t.Fatalf("defaultTransport sse: %v", err)
	}
	if _, ok := transport.(*mcp.SSEClientTransport); !ok {
		t.Fatalf("expected SSEClientTransport, got %T", transport)
	}

	transport, err = defaultTransport(registry.ServerDefinition{
		Name:      "api",
		Transport: registry.TransportHTTP,
		URL:       "https://example.com/mcp",
	})
	if err != nil {
		t.Fatalf("defaultTransport http: %v", err)
	}
	if _, ok := transport.(*mcp.StreamableClientTransport); !ok {
		t.Fatalf("expected StreamableClientTransport, got %T", transport)
	}
}

func TestDefaultTransportRejectsIncompleteDefinitions(t *testing.T) {
	t.Parallel()

	cases := []registry.ServerDefinition{
		{Name: "no-command", Transport: registry.TransportStdio},
		{Name: "no-url", Transport: registry.TransportSSE},
		{Name: "no-url", Transport: registry.TransportHTTP},
		{Name: "bogus", Transport: registry.Transport("carrier-pigeon")},
	}
	for _, def := range cases {
		if _, err := defaultTransport(def); err == nil {
			t.Fatalf("expected error for %+v", def)
		}
	}
}

func TestHeaderRoundTripperInjectsHeadersAndAuth(t *testing.T) {
	t.Parallel()

	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	client := httpClientFor(registry.ServerDefinition{
		Name:    "api",
		Headers: map[string]string{"X-Team": "platform"},
		Auth:    "tok-123",
	})
	if client == nil {
		t.Fatalf("expected decorated client")
	}
	if _, err := client.Get(srv.URL); err != nil {
		t.Fatalf("request: %v", err)
	}
	if got.Get("X-Team") != "platform" {
		t.Fatalf("custom header missing: %v", got)
	}
	if got.Get("Authorization") != "Bearer tok-123" {
		t.Fatalf("bare token should gain bearer scheme, got %q", got.Get("Authorization"))
	}
}

func TestHTTPClientForPlainDefinition(t *testing.T) {
	t.Parallel()

	if client := httpClientFor(registry.ServerDefinition{Name: "plain"}); client != nil {
		t.Fatalf("no headers or auth should fall back to the SDK default client")
	}
}

func TestAuthorizationValue(t *testing.T) {
	t.Parallel()

	if got := authorizationValue("abc"); got != "Bearer abc" {
		t.Fatalf("bare token: %q", got)
	}
	if got := authorizationValue("Basic dXNlcjpwYXNz"); got != "Basic dXNlcjpwYXNz" {
		t.Fatalf("schemed value must pass through: %q", got)
	}
}
