package mcprouter

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// ManageRequest carries the manage_servers fields. Every field present is
// processed independently, in a fixed order, and contributes one entry to the
// reply; setting several fields in one call executes all of them.
type ManageRequest struct {
	ListConfiguredMCPs  bool              `json:"list_configured_mcps,omitempty"`
	ListSets            bool              `json:"list_sets,omitempty"`
	SearchSets          string            `json:"search_sets,omitempty"`
	UpsertSet           *UpsertSetRequest `json:"upsert_set,omitempty"`
	DeleteSet           string            `json:"delete_set,omitempty"`
	Connect             string            `json:"connect,omitempty"`
	ConnectSet          string            `json:"connect_set,omitempty"`
	ConnectSetExclusive bool              `json:"connect_set_exclusive,omitempty"`
	Disconnect          string            `json:"disconnect,omitempty"`
	DisconnectSet       string            `json:"disconnect_set,omitempty"`
	DisconnectAll       bool              `json:"disconnect_all,omitempty"`
	PopulateCatalog     bool              `json:"populate_catalog,omitempty"`
}

// UpsertSetRequest creates or replaces one Set.
type UpsertSetRequest struct {
	Name        string   `json:"name"`
	Servers     []string `json:"servers,omitempty"`
	Description string   `json:"description,omitempty"`
	IncludeSets []string `json:"include_sets,omitempty"`
}

// ManageServers processes every populated field of req and returns the
// ordered textual results joined by newlines. Failures of one field are
// reported inline and never stop the remaining fields.
func (r *Router) ManageServers(ctx context.Context, req ManageRequest) string {
	var results []string

	if req.ListConfiguredMCPs {
		results = append(results, r.listConfigured())
	}
	if req.ListSets {
		results = append(results, r.listSets())
	}
	if req.SearchSets != "" {
		results = append(results, r.searchSets(req.SearchSets))
	}
	if req.UpsertSet != nil {
		results = append(results, r.upsertSet(*req.UpsertSet))
	}
	if req.DeleteSet != "" {
		if r.registry.RemoveSet(req.DeleteSet) {
			results = append(results, fmt.Sprintf("set '%s' deleted", req.DeleteSet))
		} else {
			results = append(results, fmt.Sprintf("error: set '%s' not found", req.DeleteSet))
		}
	}
	if req.Connect != "" {
		results = append(results, r.connectServer(req.Connect))
	}
	if req.ConnectSet != "" {
		results = append(results, r.connectSet(req.ConnectSet, req.ConnectSetExclusive))
	}
	if req.Disconnect != "" {
		_ = r.manager.Disconnect(req.Disconnect)
		results = append(results, fmt.Sprintf("%s off", req.Disconnect))
	}
	if req.DisconnectSet != "" {
		results = append(results, r.disconnectSet(req.DisconnectSet))
	}
	if req.DisconnectAll {
		if err := r.manager.DisconnectAll(); err != nil {
			r.logger.Warn("disconnect all reported errors", "error", err)
		}
		results = append(results, "all disconnected")
	}
	if req.PopulateCatalog {
		results = append(results, r.populateCatalog(ctx))
	}

	return strings.Join(results, "\n")
}

func (r *Router) listConfigured() string {
	configured := r.registry.ListServers(false)
	if len(configured) == 0 {
		return "No servers configured"
	}
	lines := make([]string, 0, len(configured))
	for _, def := range configured {
		status := "off"
		if r.manager.IsActive(def.Name) {
			status = "on"
		}
		lines = append(lines, fmt.Sprintf("%s, %s", def.Name, status))
	}
	return strings.Join(lines, "\n")
}

func (r *Router) listSets() string {
	sets := r.registry.ListSets()
	if len(sets) == 0 {
		return "No sets configured"
	}
	names := make([]string, 0, len(sets))
	for name := range sets {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		set := sets[name]
		line := name + ":"
		if set.Description != "" {
			line = fmt.Sprintf("%s: %s", name, set.Description)
		}
		if len(set.Servers) > 0 {
			line += "\n  servers: " + strings.Join(set.Servers, ", ")
		}
		if len(set.IncludeSets) > 0 {
			line += "\n  includes: " + strings.Join(set.IncludeSets, ", ")
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (r *Router) searchSets(query string) string {
	queryLower := strings.ToLower(query)
	sets := r.registry.ListSets()
	names := make([]string, 0, len(sets))
	for name := range sets {
		names = append(names, name)
	}
	sort.Strings(names)

	var matches []string
	for _, name := range names {
		set := sets[name]
		if !strings.Contains(strings.ToLower(name), queryLower) &&
			!strings.Contains(strings.ToLower(set.Description), queryLower) {
			continue
		}
		servers := strings.Join(set.Servers, ", ")
		if set.Description != "" {
			matches = append(matches, fmt.Sprintf("%s: %s\n  %s", name, set.Description, servers))
		} else {
			matches = append(matches, fmt.Sprintf("%s:\n  %s", name, servers))
		}
	}
	if len(matches) == 0 {
		return fmt.Sprintf("no sets matching '%s'", query)
	}
	return strings.Join(matches, "\n")
}

func (r *Router) upsertSet(req UpsertSetRequest) string {
	if err := r.registry.UpsertSet(req.Name, req.Servers, req.Description, req.IncludeSets); err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return fmt.Sprintf("set '%s' saved", req.Name)
}

func (r *Router) connectServer(name string) string {
	def, ok := r.registry.GetServer(name)
	if !ok {
		return fmt.Sprintf("error: %s not configured", name)
	}
	if r.manager.IsActive(name) {
		return fmt.Sprintf("%s on", name)
	}
	r.manager.Connect(def)
	return fmt.Sprintf("%s starting", name)
}

func (r *Router) connectSet(name string, exclusive bool) string {
	members, ok := r.registry.GetSet(name)
	if !ok {
		return fmt.Sprintf("error: set '%s' not found", name)
	}

	var stopped []string
	if exclusive {
		inSet := make(map[string]bool, len(members))
		for _, srv := range members {
			inSet[srv] = true
		}
		for _, srv := range r.manager.ListActive() {
			if !inSet[srv] {
				_ = r.manager.Disconnect(srv)
				stopped = append(stopped, srv)
			}
		}
	}

	statuses := make([]string, 0, len(members))
	for _, srv := range members {
		def, configured := r.registry.GetServer(srv)
		switch {
		case r.manager.IsActive(srv):
			statuses = append(statuses, srv+": on")
		case configured:
			r.manager.Connect(def)
			statuses = append(statuses, srv+": starting")
		default:
			statuses = append(statuses, srv+": not configured")
		}
	}

	prefix := fmt.Sprintf("connect_set '%s':", name)
	if exclusive {
		prefix = fmt.Sprintf("connect_set '%s' (exclusive):", name)
	}
	out := prefix + "\n" + strings.Join(statuses, "\n")
	if len(stopped) > 0 {
		out += "\nstopped: " + strings.Join(stopped, ", ")
	}
	return out
}

func (r *Router) disconnectSet(name string) string {
	members, ok := r.registry.GetSet(name)
	if !ok {
		return fmt.Sprintf("error: set '%s' not found", name)
	}
	for _, srv := range members {
		_ = r.manager.Disconnect(srv)
	}
	return fmt.Sprintf("disconnect_set '%s': %d stopped", name, len(members))
}

// populateCatalog indexes every enabled server that has no catalog entry yet.
// Servers already connected stay connected; servers this pass connected just
// for listing are disconnected again afterwards.
func (r *Router) populateCatalog(ctx context.Context) string {
	enabled := r.registry.ListServers(true)
	var cached, toPopulate []string
	for _, def := range enabled {
		if len(r.catalog.GetTools(def.Name)) > 0 {
			cached = append(cached, def.Name)
		} else {
			toPopulate = append(toPopulate, def.Name)
		}
	}
	if len(toPopulate) == 0 {
		return fmt.Sprintf("catalog: %d/%d cached, nothing to populate", len(cached), len(enabled))
	}

	indexed := make([]string, 0, len(toPopulate))
	for _, name := range toPopulate {
		def, _ := r.registry.GetServer(name)
		wasConnected := r.manager.IsActive(name)
		client, err := r.manager.ConnectWait(ctx, def)
		if err != nil {
			indexed = append(indexed, fmt.Sprintf("%s: error - %v", name, err))
			continue
		}
		tools, err := client.ListTools(ctx)
		if err != nil {
			indexed = append(indexed, fmt.Sprintf("%s: error - %v", name, err))
		} else {
			r.catalog.UpdateServer(name, tools)
			indexed = append(indexed, fmt.Sprintf("%s: %d tools", name, len(tools)))
		}
		if !wasConnected {
			_ = r.manager.Disconnect(name)
		}
	}
	return fmt.Sprintf("catalog: indexed %d, skipped %d\n%s",
		len(toPopulate), len(cached), strings.Join(indexed, "\n"))
}
