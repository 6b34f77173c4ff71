// Package catalog keeps a persistent offline index of every server's
// last-known tool schemas. It is pure storage plus search: nothing in this
// package opens a connection, so the router can answer "what tools exist"
// with every server offline.
package catalog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
)

// ToolDescriptor is the cached shape of one remote tool.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Catalog maps server names to their most recently observed tool lists and
// mirrors every change to a single cache file.
type Catalog struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string][]ToolDescriptor

	saveMu sync.Mutex
}

// DefaultPath returns the per-user cache file location.
func DefaultPath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("catalog: resolve cache dir: %w", err)
	}
	return filepath.Join(dir, "mcp-router", "tool_catalog.json"), nil
}

// Open loads the catalog at path. A missing or unreadable file degrades to an
// empty catalog with a logged warning.
func Open(path string, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{
		path:    path,
		logger:  logger,
		entries: make(map[string][]ToolDescriptor),
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("catalog load failed, starting empty", "path", path, "error", err)
		}
		return c
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		logger.Warn("catalog parse failed, starting empty", "path", path, "error", err)
		c.entries = make(map[string][]ToolDescriptor)
	}
	return c
}

func (c *Catalog) save() {
	c.mu.RLock()
	snapshot := maps.Clone(c.entries)
	c.mu.RUnlock()

	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		c.logger.Error("catalog encode failed", "path", c.path, "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		c.logger.Error("catalog save failed", "path", c.path, "error", err)
		return
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		c.logger.Error("catalog save failed", "path", c.path, "error", err)
	}
}

// UpdateServer replaces the entire cached entry for name and persists. The
// replacement is wholesale: a server that now exposes fewer tools keeps none
// of its stale ones.
func (c *Catalog) UpdateServer(name string, tools []ToolDescriptor) {
	c.mu.Lock()
	c.entries[name] = slices.Clone(tools)
	c.mu.Unlock()
	c.save()
}

// GetTools returns the cached tools for name, or an empty slice when the
// server was never indexed.
func (c *Catalog) GetTools(name string) []ToolDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.entries[name])
}

// GetAllTools returns a snapshot of the full mapping.
func (c *Catalog) GetAllTools() map[string][]ToolDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]ToolDescriptor, len(c.entries))
	for name, tools := range c.entries {
		out[name] = slices.Clone(tools)
	}
	return out
}

// RemoveServer drops the cached entry for name and persists.
func (c *Catalog) RemoveServer(name string) {
	c.mu.Lock()
	if _, ok := c.entries[name]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.entries, name)
	c.mu.Unlock()
	c.save()
}

// Search ranks every cached tool against query and returns at most max
// results tagged with their origin server and a catalog source marker. It is
// a pure read with no side effects.
func (c *Catalog) Search(query string, max int) []SearchResult {
	results := NewSearcher(c.GetAllTools()).Search(query, max)
	for i := range results {
		results[i].Source = "catalog"
	}
	return results
}
