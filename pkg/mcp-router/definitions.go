package mcprouter

import (
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Meta-tool names.
const (
	ToolDiscoverServerActions = "discover_server_actions"
	ToolGetActionDetails      = "get_action_details"
	ToolExecuteAction         = "execute_action"
	ToolSearchDocumentation   = "search_documentation"
	ToolManageServers         = "manage_servers"
	ToolSearchMCPCatalog      = "search_mcp_catalog"
	ToolHandleAuthFailure     = "handle_auth_failure"
)

// toolDefinitions builds the seven meta-tool definitions. Known server names
// are injected as the enum on server_name fields so the calling agent sees
// what it can currently address; an empty list leaves the fields open.
func toolDefinitions(serverNames []string) []*mcp.Tool {
	return []*mcp.Tool{
		{
			Name:        ToolDiscoverServerActions,
			Description: "**PREFERRED STARTING POINT**: Discover available actions from servers based on user query.",
			InputSchema: &jsonschema.Schema{
				Type:     "object",
				Required: []string{"user_query", "server_names"},
				Properties: map[string]*jsonschema.Schema{
					"user_query": {
						Type:        "string",
						Description: "Natural language user query to filter results.",
					},
					"server_names": {
						Type:        "array",
						Items:       serverNameSchema(serverNames, ""),
						Description: "List of server names to discover actions from.",
					},
				},
			},
		},
		{
			Name:        ToolGetActionDetails,
			Description: "Get detailed information about a specific action.",
			InputSchema: &jsonschema.Schema{
				Type:     "object",
				Required: []string{"server_name", "action_name"},
				Properties: map[string]*jsonschema.Schema{
					"server_name": serverNameSchema(serverNames, "The name of the server"),
					"action_name": {
						Type:        "string",
						Description: "The name of the action/operation",
					},
				},
			},
		},
		{
			Name:        ToolExecuteAction,
			Description: "Execute a specific action with the provided parameters.",
			InputSchema: &jsonschema.Schema{
				Type:     "object",
				Required: []string{"server_name", "action_name"},
				Properties: map[string]*jsonschema.Schema{
					"server_name": serverNameSchema(serverNames, "The name of the server"),
					"action_name": {
						Type:        "string",
						Description: "The name of the action/operation to execute",
					},
					"path_params": {
						Type:        "string",
						Description: "JSON string containing path parameters",
					},
					"query_params": {
						Type:        "string",
						Description: "JSON string containing query parameters",
					},
					"body_schema": {
						Type:        "string",
						Description: "JSON string containing request body",
					},
				},
			},
		},
		{
			Name:        ToolSearchDocumentation,
			Description: "Search for server action documentations by keyword matching.",
			InputSchema: &jsonschema.Schema{
				Type:     "object",
				Required: []string{"query", "server_name"},
				Properties: map[string]*jsonschema.Schema{
					"query": {
						Type:        "string",
						Description: "Search keywords",
					},
					"server_name": serverNameSchema(serverNames, "Name of the server to search within."),
					"max_results": {
						Type:        "integer",
						Description: "Number of results to return. Default: 10",
					},
				},
			},
		},
		{
			Name:        ToolManageServers,
			Description: "Manage MCP server connections and Sets.",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"list_configured_mcps": {
						Type:        "boolean",
						Description: "If true, lists all configured servers with their status.",
					},
					"list_sets": {
						Type:        "boolean",
						Description: "If true, lists all configured Sets and their servers.",
					},
					"search_sets": {
						Type:        "string",
						Description: "Search set names and descriptions for matching sets.",
					},
					"upsert_set": {
						Type:        "object",
						Description: "Create or update a Set.",
						Required:    []string{"name"},
						Properties: map[string]*jsonschema.Schema{
							"name":        {Type: "string"},
							"servers":     {Type: "array", Items: &jsonschema.Schema{Type: "string"}},
							"description": {Type: "string"},
							"include_sets": {
								Type:        "array",
								Items:       &jsonschema.Schema{Type: "string"},
								Description: "Other sets to include (composability)",
							},
						},
					},
					"delete_set": {
						Type:        "string",
						Description: "Name of the Set to delete.",
					},
					"connect": {
						Type:        "string",
						Description: "Name of the server to connect (turn on).",
					},
					"connect_set": {
						Type:        "string",
						Description: "Name of the Set to connect (turn on all servers in set).",
					},
					"connect_set_exclusive": {
						Type:        "boolean",
						Description: "If true with connect_set, disconnects all other servers first.",
					},
					"disconnect": {
						Type:        "string",
						Description: "Name of the server to disconnect (turn off).",
					},
					"disconnect_set": {
						Type:        "string",
						Description: "Name of the Set to disconnect (turn off all servers in set).",
					},
					"disconnect_all": {
						Type:        "boolean",
						Description: "If true, disconnects all servers.",
					},
					"populate_catalog": {
						Type:        "boolean",
						Description: "If true, indexes tools of all enabled servers into the offline catalog. Use when adding new MCPs.",
					},
				},
			},
		},
		{
			Name:        ToolSearchMCPCatalog,
			Description: "Search for tools in the offline catalog and discover Sets/Collections.",
			InputSchema: &jsonschema.Schema{
				Type:     "object",
				Required: []string{"query"},
				Properties: map[string]*jsonschema.Schema{
					"query": {
						Type:        "string",
						Description: "Search query for tools or collections.",
					},
					"max_results": {
						Type:        "integer",
						Description: "Maximum results to return. Default 20.",
					},
				},
			},
		},
		{
			Name:        ToolHandleAuthFailure,
			Description: "Handle authentication failures that occur when executing actions.",
			InputSchema: &jsonschema.Schema{
				Type:     "object",
				Required: []string{"server_name", "intention"},
				Properties: map[string]*jsonschema.Schema{
					"server_name": serverNameSchema(serverNames, "The name of the server"),
					"intention": {
						Type:        "string",
						Enum:        []any{"get_auth_url", "save_auth_data"},
						Description: "Action to take for authentication",
					},
					"auth_data": {
						Type:        "object",
						Description: "Authentication data when saving",
					},
				},
			},
		},
	}
}

func serverNameSchema(serverNames []string, description string) *jsonschema.Schema {
	s := &jsonschema.Schema{Type: "string", Description: description}
	if len(serverNames) > 0 {
		enum := make([]any, 0, len(serverNames))
		for _, name := range serverNames {
			enum = append(enum, name)
		}
		s.Enum = enum
	}
	return s
}
