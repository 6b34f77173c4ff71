package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func tempCatalog(t *testing.T) *Catalog {
	t.Helper()
	return Open(filepath.Join(t.TempDir(), "tool_catalog.json"), nil)
}

func TestUpdateServerIsWholesale(t *testing.T) {
	t.Parallel()

	cat := tempCatalog(t)
	cat.UpdateServer("weather", []ToolDescriptor{
		{Name: "get_forecast", Description: "Forecast for a city"},
		{Name: "get_alerts", Description: "Weather alerts"},
	})
	cat.UpdateServer("weather", []ToolDescriptor{
		{Name: "get_forecast", Description: "Forecast for a city"},
	})

	tools := cat.GetTools("weather")
	if len(tools) != 1 || tools[0].Name != "get_forecast" {
		t.Fatalf("stale tools retained after wholesale update: %+v", tools)
	}
}

func TestGetToolsNeverIndexed(t *testing.T) {
	t.Parallel()

	cat := tempCatalog(t)
	if tools := cat.GetTools("ghost"); len(tools) != 0 {
		t.Fatalf("unindexed server should yield empty, got %+v", tools)
	}
}

func TestRemoveServer(t *testing.T) {
	t.Parallel()

	cat := tempCatalog(t)
	cat.UpdateServer("nlp", []ToolDescriptor{{Name: "translate_text"}})
	cat.RemoveServer("nlp")
	if tools := cat.GetTools("nlp"); len(tools) != 0 {
		t.Fatalf("removed server still cached: %+v", tools)
	}
	// Removing an absent entry is a no-op.
	cat.RemoveServer("nlp")
}

func TestCatalogSurvivesRestart(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tool_catalog.json")
	cat := Open(path, nil)
	cat.UpdateServer("files", []ToolDescriptor{{Name: "read_file", Description: "Read a file"}})

	reopened := Open(path, nil)
	tools := reopened.GetTools("files")
	if len(tools) != 1 || tools[0].Name != "read_file" {
		t.Fatalf("catalog lost across restart: %+v", tools)
	}
}

func TestMalformedCacheDegradesToEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tool_catalog.json")
	if err := os.WriteFile(path, []byte("[[["), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cat := Open(path, nil)
	if all := cat.GetAllTools(); len(all) != 0 {
		t.Fatalf("malformed cache should yield empty catalog, got %v", all)
	}
}

func TestSearchTagsCatalogSource(t *testing.T) {
	t.Parallel()

	cat := tempCatalog(t)
	cat.UpdateServer("nlp", []ToolDescriptor{
		{Name: "translate_text", Description: "Translate text between languages"},
	})
	results := cat.Search("translate", 10)
	if len(results) != 1 {
		t.Fatalf("expected one hit, got %d", len(results))
	}
	if results[0].Source != "catalog" || results[0].CategoryName != "nlp" {
		t.Fatalf("result missing origin tags: %+v", results[0])
	}
}
