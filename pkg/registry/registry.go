// Package registry stores MCP server definitions and named, composable
// groups of servers ("sets"). It is a pure in-memory model backed by a
// single JSON file; it performs no network I/O. Two on-disk layouts are
// supported: the nested layout used by newer config files and a legacy flat
// layout. Reads auto-detect the layout; writes use the layout selected at
// construction.
package registry

import (
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
)

// Transport identifies how a server is reached.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportSSE   Transport = "sse"
	TransportHTTP  Transport = "http"
)

// Valid reports whether t is one of the three supported transport kinds.
func (t Transport) Valid() bool {
	switch t {
	case TransportStdio, TransportSSE, TransportHTTP:
		return true
	}
	return false
}

// ServerDefinition describes one configured MCP server. Only the fields
// relevant to its Transport are meaningful; the others are ignored on use.
type ServerDefinition struct {
	Name      string            `json:"name"`
	Transport Transport         `json:"type,omitempty"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	URL       string            `json:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Auth      string            `json:"auth,omitempty"`
	Enabled   bool              `json:"enabled"`
}

// Equal reports whether two definitions are identical field for field.
func (d ServerDefinition) Equal(other ServerDefinition) bool {
	return d.Name == other.Name &&
		d.Transport == other.Transport &&
		d.Command == other.Command &&
		slices.Equal(d.Args, other.Args) &&
		maps.Equal(d.Env, other.Env) &&
		d.URL == other.URL &&
		maps.Equal(d.Headers, other.Headers) &&
		d.Auth == other.Auth &&
		d.Enabled == other.Enabled
}

// Set is a named grouping of servers. Servers may reference names that are
// not currently configured; IncludeSets composes other sets by name.
type Set struct {
	Description string   `json:"description"`
	Servers     []string `json:"servers"`
	IncludeSets []string `json:"include_sets,omitempty"`
}

// Options configure a Registry instance.
type Options struct {
	// LegacyFormat selects the flat on-disk layout for writes. Reads always
	// detect the layout from the file contents.
	LegacyFormat bool
	// Logger receives persistence warnings. Defaults to slog.Default().
	Logger *slog.Logger
}

func (o *Options) normalized() Options {
	var opts Options
	if o != nil {
		opts = *o
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

// Registry owns the configured servers and sets. All mutating operations
// persist synchronously; file writes are serialized so overlapping callers
// cannot lose updates.
type Registry struct {
	path   string
	codec  codec
	logger *slog.Logger

	mu      sync.RWMutex
	servers map[string]ServerDefinition
	sets    map[string]Set

	saveMu sync.Mutex
}

// DefaultPath returns the per-user config file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("registry: resolve config dir: %w", err)
	}
	return filepath.Join(dir, "mcp-router", "servers.json"), nil
}

// Open loads the registry at path. A missing, malformed, or unreadable file
// degrades to an empty registry with a logged warning; Open never fails for
// those cases.
func Open(path string, opts *Options) *Registry {
	options := opts.normalized()
	var c codec = nestedCodec{}
	if options.LegacyFormat {
		c = legacyCodec{}
	}
	r := &Registry{
		path:    path,
		codec:   c,
		logger:  options.Logger,
		servers: make(map[string]ServerDefinition),
		sets:    make(map[string]Set),
	}
	if err := r.Reload(); err != nil {
		r.logger.Warn("registry load failed, starting empty", "path", path, "error", err)
	}
	return r
}

// Path returns the backing file location.
func (r *Registry) Path() string { return r.path }

// Reload re-reads the backing file, replacing the in-memory state. A missing
// file yields an empty registry and no error.
func (r *Registry) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			r.mu.Lock()
			r.servers = make(map[string]ServerDefinition)
			r.sets = make(map[string]Set)
			r.mu.Unlock()
			return nil
		}
		return fmt.Errorf("registry: read %s: %w", r.path, err)
	}
	servers, sets, err := decodeDocument(data)
	if err != nil {
		return fmt.Errorf("registry: parse %s: %w", r.path, err)
	}
	r.mu.Lock()
	r.servers = servers
	r.sets = sets
	r.mu.Unlock()
	return nil
}

func (r *Registry) save() {
	r.mu.RLock()
	servers := maps.Clone(r.servers)
	sets := maps.Clone(r.sets)
	r.mu.RUnlock()

	r.saveMu.Lock()
	defer r.saveMu.Unlock()
	data, err := r.codec.encode(servers, sets)
	if err != nil {
		r.logger.Error("registry encode failed", "path", r.path, "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		r.logger.Error("registry save failed", "path", r.path, "error", err)
		return
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		r.logger.Error("registry save failed", "path", r.path, "error", err)
	}
}

// UpsertServer stores def by name and persists. It returns false when the
// stored value is unchanged, in which case nothing is written.
func (r *Registry) UpsertServer(def ServerDefinition) bool {
	r.mu.Lock()
	if existing, ok := r.servers[def.Name]; ok && existing.Equal(def) {
		r.mu.Unlock()
		return false
	}
	r.servers[def.Name] = def
	r.mu.Unlock()
	r.save()
	return true
}

// RemoveServer deletes the definition and purges the name from every set's
// direct member list. It returns false when the server is unknown.
func (r *Registry) RemoveServer(name string) bool {
	r.mu.Lock()
	if _, ok := r.servers[name]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.servers, name)
	for setName, s := range r.sets {
		if idx := slices.Index(s.Servers, name); idx >= 0 {
			s.Servers = slices.Delete(slices.Clone(s.Servers), idx, idx+1)
			r.sets[setName] = s
		}
	}
	r.mu.Unlock()
	r.save()
	return true
}

// GetServer looks up a definition by name.
func (r *Registry) GetServer(name string) (ServerDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.servers[name]
	return def, ok
}

// ListServers returns a snapshot of all definitions sorted by name,
// optionally restricted to enabled servers.
func (r *Registry) ListServers(enabledOnly bool) []ServerDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ServerDefinition, 0, len(r.servers))
	for _, def := range r.servers {
		if enabledOnly && !def.Enabled {
			continue
		}
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EnableServer marks a server enabled and persists. Returns false when the
// server is unknown.
func (r *Registry) EnableServer(name string) bool { return r.setEnabled(name, true) }

// DisableServer marks a server disabled and persists. A disabled server is
// excluded from bulk operations but may still be connected explicitly.
func (r *Registry) DisableServer(name string) bool { return r.setEnabled(name, false) }

func (r *Registry) setEnabled(name string, enabled bool) bool {
	r.mu.Lock()
	def, ok := r.servers[name]
	if !ok {
		r.mu.Unlock()
		return false
	}
	def.Enabled = enabled
	r.servers[name] = def
	r.mu.Unlock()
	r.save()
	return true
}

// UpsertSet creates or replaces a set. At least one of servers or
// includeSets must be non-empty.
func (r *Registry) UpsertSet(name string, servers []string, description string, includeSets []string) error {
	if name == "" {
		return fmt.Errorf("registry: set name is required")
	}
	if len(servers) == 0 && len(includeSets) == 0 {
		return fmt.Errorf("registry: set %q needs servers or include_sets", name)
	}
	r.mu.Lock()
	r.sets[name] = Set{
		Description: description,
		Servers:     slices.Clone(servers),
		IncludeSets: slices.Clone(includeSets),
	}
	r.mu.Unlock()
	r.save()
	return nil
}

// RemoveSet deletes a set. Returns false when the set is unknown.
func (r *Registry) RemoveSet(name string) bool {
	r.mu.Lock()
	if _, ok := r.sets[name]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.sets, name)
	r.mu.Unlock()
	r.save()
	return true
}

// GetSet resolves a set's full membership: its direct servers plus the
// resolved membership of every included set, first-seen order, de-duplicated.
// Include cycles contribute nothing on revisit, so resolution always
// terminates. The second return is false when the set itself is undefined.
func (r *Registry) GetSet(name string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolveLocked(name, make(map[string]bool))
}

func (r *Registry) resolveLocked(name string, visited map[string]bool) ([]string, bool) {
	if visited[name] {
		return []string{}, true
	}
	visited[name] = true
	s, ok := r.sets[name]
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(s.Servers))
	seen := make(map[string]bool, len(s.Servers))
	for _, srv := range s.Servers {
		if !seen[srv] {
			seen[srv] = true
			out = append(out, srv)
		}
	}
	for _, included := range s.IncludeSets {
		members, ok := r.resolveLocked(included, visited)
		if !ok {
			continue
		}
		for _, srv := range members {
			if !seen[srv] {
				seen[srv] = true
				out = append(out, srv)
			}
		}
	}
	return out, true
}

// GetSetDetails returns the raw set record without resolving includes.
func (r *Registry) GetSetDetails(name string) (Set, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sets[name]
	if !ok {
		return Set{}, false
	}
	return cloneSet(s), true
}

// ListSets returns all sets in normalized form.
func (r *Registry) ListSets() map[string]Set {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Set, len(r.sets))
	for name, s := range r.sets {
		out[name] = cloneSet(s)
	}
	return out
}

func cloneSet(s Set) Set {
	return Set{
		Description: s.Description,
		Servers:     slices.Clone(s.Servers),
		IncludeSets: slices.Clone(s.IncludeSets),
	}
}

func (r *Registry) snapshotServers() map[string]ServerDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.servers)
}
