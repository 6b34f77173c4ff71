package registry

import (
	"encoding/json"
	"fmt"
	"sort"
)

// codec serializes the registry to one of the two supported layouts. Layout
// detection is confined to the load path; each Registry instance writes with
// exactly one codec.
type codec interface {
	encode(servers map[string]ServerDefinition, sets map[string]Set) ([]byte, error)
}

// serverRecord is the wire shape of one server in either layout. Enabled is
// a pointer so that records written before the field existed default to true.
type serverRecord struct {
	Name    string            `json:"name,omitempty"`
	Type    string            `json:"type,omitempty"`
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Auth    string            `json:"auth,omitempty"`
	Enabled *bool             `json:"enabled,omitempty"`
}

func (rec serverRecord) definition(name string) ServerDefinition {
	transport := Transport(rec.Type)
	if rec.Type == "" {
		// Old files omit the type; a url implies a streaming transport.
		if rec.URL != "" {
			transport = TransportSSE
		} else {
			transport = TransportStdio
		}
	}
	enabled := true
	if rec.Enabled != nil {
		enabled = *rec.Enabled
	}
	return ServerDefinition{
		Name:      name,
		Transport: transport,
		Command:   rec.Command,
		Args:      rec.Args,
		Env:       rec.Env,
		URL:       rec.URL,
		Headers:   rec.Headers,
		Auth:      rec.Auth,
		Enabled:   enabled,
	}
}

// setRecord accepts both the full object form and the legacy shorthand where
// a set is stored as a bare list of server names.
type setRecord struct {
	Description string   `json:"description"`
	Servers     []string `json:"servers"`
	IncludeSets []string `json:"include_sets,omitempty"`
}

func (s *setRecord) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err == nil {
		*s = setRecord{Servers: names}
		return nil
	}
	type full setRecord
	var rec full
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	*s = setRecord(rec)
	return nil
}

type document struct {
	Servers map[string]serverRecord `json:"servers,omitempty"`
	Sets    map[string]setRecord    `json:"sets,omitempty"`
}

type nestedDocument struct {
	MCP *document `json:"mcp,omitempty"`
}

// decodeDocument sniffs the layout structurally: a servers map nested under
// the "mcp" key selects the nested parser, otherwise the flat layout is
// assumed.
func decodeDocument(data []byte) (map[string]ServerDefinition, map[string]Set, error) {
	var nested nestedDocument
	if err := json.Unmarshal(data, &nested); err == nil && nested.MCP != nil && nested.MCP.Servers != nil {
		return fromDocument(*nested.MCP), fromSets(nested.MCP.Sets), nil
	}
	var flat document
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, nil, fmt.Errorf("unrecognized registry document: %w", err)
	}
	return fromDocument(flat), fromSets(flat.Sets), nil
}

func fromDocument(doc document) map[string]ServerDefinition {
	servers := make(map[string]ServerDefinition, len(doc.Servers))
	for name, rec := range doc.Servers {
		servers[name] = rec.definition(name)
	}
	return servers
}

func fromSets(records map[string]setRecord) map[string]Set {
	sets := make(map[string]Set, len(records))
	for name, rec := range records {
		sets[name] = Set{
			Description: rec.Description,
			Servers:     rec.Servers,
			IncludeSets: rec.IncludeSets,
		}
	}
	return sets
}

func toSetRecords(sets map[string]Set) map[string]setRecord {
	records := make(map[string]setRecord, len(sets))
	for name, s := range sets {
		records[name] = setRecord{
			Description: s.Description,
			Servers:     s.Servers,
			IncludeSets: s.IncludeSets,
		}
	}
	return records
}

// nestedCodec writes the nested layout. Transport-specific fields are kept
// minimal: stdio records carry command/args, streaming records carry
// url/headers/auth, and the type key is omitted for the stdio default.
type nestedCodec struct{}

func (nestedCodec) encode(servers map[string]ServerDefinition, sets map[string]Set) ([]byte, error) {
	records := make(map[string]serverRecord, len(servers))
	for _, name := range sortedKeys(servers) {
		def := servers[name]
		rec := serverRecord{Env: def.Env}
		if def.Transport != TransportStdio {
			rec.Type = string(def.Transport)
		}
		switch def.Transport {
		case TransportSSE, TransportHTTP:
			rec.URL = def.URL
			rec.Headers = def.Headers
			rec.Auth = def.Auth
		default:
			rec.Command = def.Command
			rec.Args = def.Args
		}
		enabled := def.Enabled
		rec.Enabled = &enabled
		records[name] = rec
	}
	return json.MarshalIndent(nestedDocument{MCP: &document{
		Servers: records,
		Sets:    toSetRecords(sets),
	}}, "", "  ")
}

// legacyCodec writes the flat layout with full records, including fields that
// are irrelevant to the transport, for round-tripping with older tooling.
type legacyCodec struct{}

func (legacyCodec) encode(servers map[string]ServerDefinition, sets map[string]Set) ([]byte, error) {
	records := make(map[string]serverRecord, len(servers))
	for name, def := range servers {
		enabled := def.Enabled
		records[name] = serverRecord{
			Name:    def.Name,
			Type:    string(def.Transport),
			Command: def.Command,
			Args:    def.Args,
			Env:     def.Env,
			URL:     def.URL,
			Headers: def.Headers,
			Auth:    def.Auth,
			Enabled: &enabled,
		}
	}
	return json.MarshalIndent(document{Servers: records, Sets: toSetRecords(sets)}, "", "  ")
}

func sortedKeys(m map[string]ServerDefinition) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
