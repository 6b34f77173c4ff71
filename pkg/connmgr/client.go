package connmgr

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcp-router-go/pkg/catalog"
)

// Client is a handle bound to one live session. It stays valid only while
// that session remains in the manager's registry; IsConnected checks that
// cheaply without I/O.
type Client struct {
	manager *Manager
	name    string
	ls      *liveSession
}

// ServerName returns the server this handle is bound to.
func (c *Client) ServerName() string { return c.name }

// IsConnected reports whether the bound session is still the live one. No
// round-trip is performed.
func (c *Client) IsConnected() bool {
	c.manager.mu.Lock()
	defer c.manager.mu.Unlock()
	current, ok := c.manager.sessions[c.name]
	return ok && current == c.ls && current.state == StateConnected
}

// ListTools performs a live tools/list round-trip, following pagination, and
// returns the current descriptors. This is the live counterpart of the
// catalog's cached copy.
func (c *Client) ListTools(ctx context.Context) ([]catalog.ToolDescriptor, error) {
	var tools []catalog.ToolDescriptor
	var cursor string
	for {
		var params *mcp.ListToolsParams
		if cursor != "" {
			params = &mcp.ListToolsParams{Cursor: cursor}
		}
		res, err := c.ls.session.ListTools(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("connmgr: list tools on %q: %w", c.name, err)
		}
		for _, tool := range res.Tools {
			if tool == nil {
				continue
			}
			tools = append(tools, toDescriptor(tool))
		}
		if res.NextCursor == "" {
			return tools, nil
		}
		cursor = res.NextCursor
	}
}

// CallTool invokes a remote tool with the merged parameter object and returns
// its structured result.
func (c *Client) CallTool(ctx context.Context, name string, params map[string]any) (*mcp.CallToolResult, error) {
	if params == nil {
		params = map[string]any{}
	}
	res, err := c.ls.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: params})
	if err != nil {
		return nil, fmt.Errorf("connmgr: call %q on %q: %w", name, c.name, err)
	}
	return res, nil
}

func toDescriptor(tool *mcp.Tool) catalog.ToolDescriptor {
	desc := catalog.ToolDescriptor{
		Name:        tool.Name,
		Description: tool.Description,
	}
	if tool.InputSchema != nil {
		if raw, err := json.Marshal(tool.InputSchema); err == nil {
			desc.InputSchema = raw
		}
	}
	return desc
}
