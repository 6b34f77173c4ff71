// Package mcprouter is the dispatch layer. It fronts many configured MCP
// servers with a small fixed set of meta-tools (discover, get details,
// execute, search, manage, handle auth) so a calling agent never has to hold
// dozens of raw per-server schemas. The router owns no state of its own; it
// routes between the registry, the catalog, and the connection manager and
// converts every failure into a uniform error envelope.
package mcprouter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-router-go/pkg/catalog"
	"github.com/vikashloomba/mcp-router-go/pkg/connmgr"
	"github.com/vikashloomba/mcp-router-go/pkg/registry"
)

// Router routes the meta-tools to the three stores. Construct one at startup
// and share it; all methods are safe for concurrent use because the
// underlying stores are.
type Router struct {
	registry *registry.Registry
	catalog  *catalog.Catalog
	manager  *connmgr.Manager
	logger   *slog.Logger
}

// NewRouter wires a Router to its collaborators. A nil logger falls back to
// slog.Default().
func NewRouter(reg *registry.Registry, cat *catalog.Catalog, mgr *connmgr.Manager, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{registry: reg, catalog: cat, manager: mgr, logger: logger}
}

// DiscoverParams are the arguments of discover_server_actions.
type DiscoverParams struct {
	UserQuery   string   `json:"user_query,omitempty"`
	ServerNames []string `json:"server_names,omitempty"`
}

// DiscoverServerActions lists live tools per server, optionally filtered by
// relevance to the query. Empty server_names means every currently active
// server. Per-server failures are embedded under that server's key so one
// unreachable server never aborts the rest.
func (r *Router) DiscoverServerActions(ctx context.Context, p DiscoverParams) map[string]any {
	names := p.ServerNames
	if len(names) == 0 {
		names = r.manager.ListActive()
	}

	out := make(map[string]any, len(names))
	for _, name := range names {
		client, err := r.manager.GetClient(name)
		if err != nil {
			out[name] = r.serverUnavailable(name, err)
			continue
		}
		tools, err := client.ListTools(ctx)
		if err != nil {
			r.logger.Error("discover listing failed", "server", name, "error", err)
			out[name] = errorEnvelope(err.Error(), nil)
			continue
		}
		if p.UserQuery == "" {
			out[name] = tools
			continue
		}
		out[name] = filterByRelevance(name, tools, p.UserQuery)
	}
	return out
}

// filterByRelevance keeps only the tools the search contract ranks for the
// query, in ranked order.
func filterByRelevance(server string, tools []catalog.ToolDescriptor, query string) []catalog.ToolDescriptor {
	byName := make(map[string]catalog.ToolDescriptor, len(tools))
	for _, tool := range tools {
		byName[tool.Name] = tool
	}
	searcher := catalog.NewSearcher(map[string][]catalog.ToolDescriptor{server: tools})
	hits := searcher.Search(query, 50)
	filtered := make([]catalog.ToolDescriptor, 0, len(hits))
	for _, hit := range hits {
		if tool, ok := byName[hit.Name]; ok {
			filtered = append(filtered, tool)
		}
	}
	return filtered
}

// DetailsParams are the arguments of get_action_details.
type DetailsParams struct {
	ServerName string `json:"server_name"`
	ActionName string `json:"action_name"`
}

// GetActionDetails looks one tool up by exact name on a connected server.
// "Action not found" and "server unavailable" are distinct error envelopes.
func (r *Router) GetActionDetails(ctx context.Context, p DetailsParams) any {
	client, err := r.manager.GetClient(p.ServerName)
	if err != nil {
		return r.serverUnavailable(p.ServerName, err)
	}
	tools, err := client.ListTools(ctx)
	if err != nil {
		r.logger.Error("detail listing failed", "server", p.ServerName, "error", err)
		return errorEnvelope(err.Error(), map[string]any{"server_name": p.ServerName})
	}
	for _, tool := range tools {
		if tool.Name == p.ActionName {
			return tool
		}
	}
	return errorEnvelope(
		fmt.Sprintf("Action '%s' not found on server '%s'", p.ActionName, p.ServerName),
		map[string]any{"server_name": p.ServerName, "action_name": p.ActionName},
	)
}

// ExecuteParams are the arguments of execute_action. The three parameter
// blocks arrive as JSON-encoded text and are merged into one object.
type ExecuteParams struct {
	ServerName  string `json:"server_name"`
	ActionName  string `json:"action_name"`
	PathParams  string `json:"path_params,omitempty"`
	QueryParams string `json:"query_params,omitempty"`
	BodySchema  string `json:"body_schema,omitempty"`
}

// ExecuteAction invokes a tool on an already-connected server and returns the
// remote result verbatim. The connection precondition is hard: no implicit
// connect is ever performed, and no remote call is issued when any parameter
// block fails to parse. A non-nil envelope return describes the failure.
func (r *Router) ExecuteAction(ctx context.Context, p ExecuteParams) (*mcp.CallToolResult, map[string]any) {
	if p.ServerName == "" || p.ActionName == "" {
		return nil, errorEnvelope("Both server_name and action_name are required", nil)
	}

	client, err := r.manager.GetClient(p.ServerName)
	if err != nil {
		return nil, r.serverUnavailable(p.ServerName, err)
	}

	params := map[string]any{}
	blocks := []struct {
		name  string
		value string
	}{
		{"path_params", p.PathParams},
		{"query_params", p.QueryParams},
		{"body_schema", p.BodySchema},
	}
	for _, block := range blocks {
		if block.value == "" || block.value == "{}" {
			continue
		}
		var decoded map[string]any
		if err := json.Unmarshal([]byte(block.value), &decoded); err != nil {
			return nil, errorEnvelope(
				fmt.Sprintf("Invalid JSON in %s: %v", block.name, err),
				map[string]any{"param_name": block.name, "param_value": truncate(block.value, 100)},
			)
		}
		for k, v := range decoded {
			params[k] = v
		}
	}

	res, err := client.CallTool(ctx, p.ActionName, params)
	if err != nil {
		r.logger.Error("tool execution failed", "server", p.ServerName, "action", p.ActionName, "error", err)
		return nil, errorEnvelope(
			fmt.Sprintf("Tool '%s' execution failed: %v", p.ActionName, err),
			map[string]any{
				"server_name": p.ServerName,
				"action_name": p.ActionName,
				"suggestion":  "Check tool parameters and server logs",
			},
		)
	}
	return res, nil
}

// DocsParams are the arguments of search_documentation.
type DocsParams struct {
	Query      string `json:"query"`
	ServerName string `json:"server_name"`
	MaxResults int    `json:"max_results,omitempty"`
}

// SearchDocumentation ranks one connected server's live tool list against the
// query. Results share the catalog search shape so callers can treat the live
// and offline paths uniformly.
func (r *Router) SearchDocumentation(ctx context.Context, p DocsParams) any {
	if p.Query == "" || p.ServerName == "" {
		return errorEnvelope("Both query and server_name are required", nil)
	}
	max := p.MaxResults
	if max <= 0 {
		max = 10
	}
	client, err := r.manager.GetClient(p.ServerName)
	if err != nil {
		return r.serverUnavailable(p.ServerName, err)
	}
	tools, err := client.ListTools(ctx)
	if err != nil {
		r.logger.Error("documentation search failed", "server", p.ServerName, "error", err)
		return errorEnvelope(err.Error(), map[string]any{"server_name": p.ServerName})
	}
	searcher := catalog.NewSearcher(map[string][]catalog.ToolDescriptor{p.ServerName: tools})
	results := searcher.Search(p.Query, max)
	for i := range results {
		results[i].Source = "live"
	}
	if results == nil {
		results = []catalog.SearchResult{}
	}
	return results
}

// SearchCatalogParams are the arguments of search_mcp_catalog.
type SearchCatalogParams struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

// CatalogToolResult is a catalog hit annotated with whether its server is
// currently live.
type CatalogToolResult struct {
	catalog.SearchResult
	CurrentStatus string `json:"current_status"`
}

// CollectionResult is a Set whose name or description matched the query.
type CollectionResult struct {
	Type        string   `json:"type"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Servers     []string `json:"servers"`
	Status      string   `json:"status"`
}

// CatalogSearchResponse is the search_mcp_catalog payload.
type CatalogSearchResponse struct {
	Collections []CollectionResult  `json:"collections"`
	Tools       []CatalogToolResult `json:"tools"`
}

// SearchCatalog combines the offline tool catalog with a Set name/description
// containment pass. It never opens a connection; live sessions only affect
// the online/offline annotation.
func (r *Router) SearchCatalog(p SearchCatalogParams) CatalogSearchResponse {
	max := p.MaxResults
	if max <= 0 {
		max = 20
	}

	active := make(map[string]bool)
	for _, name := range r.manager.ListActive() {
		active[name] = true
	}

	hits := r.catalog.Search(p.Query, max)
	tools := make([]CatalogToolResult, 0, len(hits))
	for _, hit := range hits {
		status := "offline"
		if active[hit.CategoryName] {
			status = "online"
		}
		tools = append(tools, CatalogToolResult{SearchResult: hit, CurrentStatus: status})
	}

	queryLower := strings.ToLower(p.Query)
	collections := []CollectionResult{}
	for name, set := range r.registry.ListSets() {
		if queryLower == "" {
			continue
		}
		if !strings.Contains(strings.ToLower(name), queryLower) &&
			!strings.Contains(strings.ToLower(set.Description), queryLower) {
			continue
		}
		collections = append(collections, CollectionResult{
			Type:        "collection",
			Name:        name,
			Description: set.Description,
			Servers:     set.Servers,
			Status:      "available",
		})
	}

	return CatalogSearchResponse{Collections: collections, Tools: tools}
}

// AuthParams are the arguments of handle_auth_failure.
type AuthParams struct {
	ServerName string         `json:"server_name"`
	Intention  string         `json:"intention"`
	AuthData   map[string]any `json:"auth_data,omitempty"`
}

// HandleAuthFailure is a stateless handshake stub. get_auth_url returns an
// instruction payload; save_auth_data acknowledges receipt but persists
// nothing here, credential storage belongs to an external collaborator.
func (r *Router) HandleAuthFailure(p AuthParams) any {
	if p.ServerName == "" || p.Intention == "" {
		return errorEnvelope("Both server_name and intention are required", nil)
	}
	switch p.Intention {
	case "get_auth_url":
		return map[string]any{
			"server":          p.ServerName,
			"message":         fmt.Sprintf("Authentication required for server '%s'", p.ServerName),
			"instructions":    "Please provide authentication credentials",
			"required_fields": map[string]any{"token": "Authentication token or API key"},
		}
	case "save_auth_data":
		if len(p.AuthData) == 0 {
			return errorEnvelope("auth_data is required when intention is 'save_auth_data'", map[string]any{
				"server_name": p.ServerName,
			})
		}
		return map[string]any{
			"server":  p.ServerName,
			"status":  "success",
			"message": fmt.Sprintf("Authentication data saved for server '%s'", p.ServerName),
		}
	default:
		return errorEnvelope(fmt.Sprintf("Invalid intention: '%s'", p.Intention), nil)
	}
}

// serverUnavailable converts a manager lookup failure into the right envelope
// by cross-checking the registry: a configured server gets a "connect first"
// suggestion, an unknown name gets "not configured".
func (r *Router) serverUnavailable(name string, err error) map[string]any {
	if !errors.Is(err, connmgr.ErrNotConnected) {
		return errorEnvelope(err.Error(), map[string]any{"server_name": name})
	}
	if _, ok := r.registry.GetServer(name); ok {
		return errorEnvelope(
			fmt.Sprintf("Server '%s' is not connected", name),
			map[string]any{"server_name": name, "suggestion": connectSuggestion(name)},
		)
	}
	return errorEnvelope(
		fmt.Sprintf("Server '%s' not configured", name),
		map[string]any{"server_name": name},
	)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
