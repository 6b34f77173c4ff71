package mcprouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/cors"
)

// Options configure a Gateway instance.
type Options struct {
	// Implementation identifies the router's MCP server metadata.
	Implementation *mcp.Implementation
	// Addr controls the listen address used by ListenAndServe. Defaults to ":8700".
	Addr string
	// Path mounts the Streamable handler under a specific HTTP path.
	// Defaults to "/mcp".
	Path string
	// AllowedOrigins configures CORS for browser-based agents. Defaults to
	// allowing every origin.
	AllowedOrigins []string
	// Streamable tweaks the Streamable HTTP handler behavior passed to
	// mcp.NewStreamableHTTPHandler.
	Streamable mcp.StreamableHTTPOptions
	// Logger receives structured diagnostics.
	Logger *slog.Logger
	// ShutdownTimeout bounds graceful HTTP shutdown. Defaults to 10s.
	ShutdownTimeout time.Duration
}

func (o *Options) withDefaults() Options {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.Implementation == nil {
		opts.Implementation = &mcp.Implementation{
			Name:    "mcp-router",
			Title:   "MCP Router",
			Version: "1.0.0",
		}
	} else {
		impl := *opts.Implementation
		opts.Implementation = &impl
	}
	if opts.Addr == "" {
		opts.Addr = ":8700"
	}
	if opts.Path == "" {
		opts.Path = "/mcp"
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	return opts
}

// Gateway serves the meta-tools over a Streamable HTTP endpoint or stdio. It
// owns the embedded MCP server and its HTTP mount; construct one at startup
// and disconnect the manager's sessions at shutdown.
type Gateway struct {
	router *Router
	opts   Options

	server        *mcp.Server
	streamHandler *mcp.StreamableHTTPHandler
	httpHandler   http.Handler

	serverMu   sync.Mutex
	registered bool

	httpServerMu sync.Mutex
	httpServer   *http.Server
}

// NewGateway builds a Gateway and registers the meta-tools against the
// currently configured server names.
func NewGateway(router *Router, opts *Options) (*Gateway, error) {
	if router == nil {
		return nil, fmt.Errorf("mcprouter: router is required")
	}
	options := opts.withDefaults()
	g := &Gateway{
		router: router,
		opts:   options,
	}
	g.server = mcp.NewServer(options.Implementation, &mcp.ServerOptions{
		HasTools: true,
	})
	g.streamHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return g.server
	}, &options.Streamable)
	g.httpHandler = g.mountHandler()

	g.RefreshDefinitions()
	return g, nil
}

// Handler exposes the HTTP handler that serves the Streamable endpoint,
// already wrapped with CORS.
func (g *Gateway) Handler() http.Handler {
	return g.httpHandler
}

// RefreshDefinitions re-registers the meta-tools so the server-name enums in
// their schemas reflect the registry's current contents. Call it after the
// registry changes (the config watcher does).
func (g *Gateway) RefreshDefinitions() {
	names := make([]string, 0)
	for _, def := range g.router.registry.ListServers(false) {
		names = append(names, def.Name)
	}

	g.serverMu.Lock()
	defer g.serverMu.Unlock()
	if g.registered {
		g.server.RemoveTools(
			ToolDiscoverServerActions,
			ToolGetActionDetails,
			ToolExecuteAction,
			ToolSearchDocumentation,
			ToolManageServers,
			ToolSearchMCPCatalog,
			ToolHandleAuthFailure,
		)
	}
	for _, tool := range toolDefinitions(names) {
		g.server.AddTool(tool, g.handlerFor(tool.Name))
	}
	g.registered = true
}

func (g *Gateway) handlerFor(name string) mcp.ToolHandler {
	switch name {
	case ToolDiscoverServerActions:
		return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var p DiscoverParams
			if err := decodeArgs(req, &p); err != nil {
				return jsonResult(errorEnvelope(err.Error(), nil))
			}
			return jsonResult(g.router.DiscoverServerActions(ctx, p))
		}
	case ToolGetActionDetails:
		return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var p DetailsParams
			if err := decodeArgs(req, &p); err != nil {
				return jsonResult(errorEnvelope(err.Error(), nil))
			}
			return jsonResult(g.router.GetActionDetails(ctx, p))
		}
	case ToolExecuteAction:
		return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var p ExecuteParams
			if err := decodeArgs(req, &p); err != nil {
				return jsonResult(errorEnvelope(err.Error(), nil))
			}
			res, envelope := g.router.ExecuteAction(ctx, p)
			if envelope != nil {
				return jsonResult(envelope)
			}
			return res, nil
		}
	case ToolSearchDocumentation:
		return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var p DocsParams
			if err := decodeArgs(req, &p); err != nil {
				return jsonResult(errorEnvelope(err.Error(), nil))
			}
			return jsonResult(g.router.SearchDocumentation(ctx, p))
		}
	case ToolManageServers:
		return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var p ManageRequest
			if err := decodeArgs(req, &p); err != nil {
				return jsonResult(errorEnvelope(err.Error(), nil))
			}
			return textResult(g.router.ManageServers(ctx, p)), nil
		}
	case ToolSearchMCPCatalog:
		return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var p SearchCatalogParams
			if err := decodeArgs(req, &p); err != nil {
				return jsonResult(errorEnvelope(err.Error(), nil))
			}
			return jsonResult(g.router.SearchCatalog(p))
		}
	case ToolHandleAuthFailure:
		return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var p AuthParams
			if err := decodeArgs(req, &p); err != nil {
				return jsonResult(errorEnvelope(err.Error(), nil))
			}
			return jsonResult(g.router.HandleAuthFailure(p))
		}
	default:
		return func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return textResult("Unknown tool: " + name), nil
		}
	}
}

// ServeStdio runs the router over standard streams until ctx is cancelled or
// the peer disconnects.
func (g *Gateway) ServeStdio(ctx context.Context) error {
	return g.server.Run(ctx, &mcp.StdioTransport{})
}

// ListenAndServe runs an HTTP server until the provided context is cancelled
// or the server stops.
func (g *Gateway) ListenAndServe(ctx context.Context) error {
	g.httpServerMu.Lock()
	if g.httpServer != nil {
		srv := g.httpServer
		g.httpServerMu.Unlock()
		return fmt.Errorf("mcprouter: server already running on %s", srv.Addr)
	}
	srv := &http.Server{Addr: g.opts.Addr, Handler: g.Handler()}
	g.httpServer = srv
	g.httpServerMu.Unlock()
	defer func() {
		g.httpServerMu.Lock()
		if g.httpServer == srv {
			g.httpServer = nil
		}
		g.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.opts.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the embedded HTTP server if it is running.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.httpServerMu.Lock()
	srv := g.httpServer
	g.httpServer = nil
	g.httpServerMu.Unlock()
	if srv == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return srv.Shutdown(ctx)
}

func (g *Gateway) mountHandler() http.Handler {
	path := g.opts.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	mux := http.NewServeMux()
	mux.Handle(path, g.streamHandler)
	if !strings.HasSuffix(path, "/") {
		mux.Handle(path+"/", g.streamHandler)
	}
	return cors.New(cors.Options{
		AllowedOrigins: g.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Mcp-Session-Id"},
	}).Handler(mux)
}

// decodeArgs round-trips the call arguments through JSON into the typed
// parameter struct. Arguments may arrive as raw JSON or as an already-decoded
// map depending on the transport; marshalling first handles both.
func decodeArgs(req *mcp.CallToolRequest, v any) error {
	if req == nil || req.Params == nil || req.Params.Arguments == nil {
		return nil
	}
	raw, err := json.Marshal(req.Params.Arguments)
	if err != nil {
		return fmt.Errorf("mcprouter: encode arguments: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("mcprouter: decode arguments: %w", err)
	}
	return nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// jsonResult encodes a payload as one compact JSON text block.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcprouter: encode result: %w", err)
	}
	return textResult(string(raw)), nil
}
