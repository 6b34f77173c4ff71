package connmgr

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-router-go/pkg/registry"
)

// defaultTransport maps a server definition to a transport strategy: spawned
// subprocess over its standard streams, persistent event stream, or
// request/response HTTP channel.
func defaultTransport(def registry.ServerDefinition) (mcp.Transport, error) {
	switch def.Transport {
	case registry.TransportStdio:
		if def.Command == "" {
			return nil, fmt.Errorf("connmgr: command missing for %q", def.Name)
		}
		cmd := exec.Command(def.Command, def.Args...)
		if len(def.Env) > 0 {
			env := os.Environ()
			for k, v := range def.Env {
				env = append(env, k+"="+v)
			}
			cmd.Env = env
		}
		return &mcp.CommandTransport{Command: cmd}, nil
	case registry.TransportSSE:
		if def.URL == "" {
			return nil, fmt.Errorf("connmgr: url missing for %q", def.Name)
		}
		return &mcp.SSEClientTransport{Endpoint: def.URL, HTTPClient: httpClientFor(def)}, nil
	case registry.TransportHTTP:
		if def.URL == "" {
			return nil, fmt.Errorf("connmgr: url missing for %q", def.Name)
		}
		return &mcp.StreamableClientTransport{Endpoint: def.URL, HTTPClient: httpClientFor(def)}, nil
	default:
		return nil, fmt.Errorf("connmgr: unsupported transport %q for %q", def.Transport, def.Name)
	}
}

// httpClientFor returns a client that injects the definition's headers and
// auth token into every outbound request, or nil when there is nothing to
// inject so the SDK falls back to its default client.
func httpClientFor(def registry.ServerDefinition) *http.Client {
	if len(def.Headers) == 0 && def.Auth == "" {
		return nil
	}
	return &http.Client{
		Transport: &headerRoundTripper{
			next:    http.DefaultTransport,
			headers: def.Headers,
			auth:    def.Auth,
		},
	}
}

type headerRoundTripper struct {
	next    http.RoundTripper
	headers map[string]string
	auth    string
}

func (rt *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	for k, v := range rt.headers {
		req.Header.Set(k, v)
	}
	if rt.auth != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", authorizationValue(rt.auth))
	}
	return rt.next.RoundTrip(req)
}

// authorizationValue treats a bare token as a bearer token; values that
// already carry a scheme ("Basic abc...") pass through unchanged.
func authorizationValue(auth string) string {
	if strings.Contains(auth, " ") {
		return auth
	}
	return "Bearer " + auth
}
