package catalog

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Load("") // embedded catalog
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return c
}

func TestBrands(t *testing.T) {
	c := testCatalog(t)
	brands := c.Brands()
	if len(brands) == 0 {
		t.Fatal("embedded catalog has no brands")
	}
	if !sort.StringsAreSorted(brands) {
		t.Errorf("brands not sorted: %v", brands)
	}
	seen := map[string]int{}
	for _, b := range brands {
		seen[b]++
	}
	for b, n := range seen {
		if n > 1 {
			t.Errorf("brand %q appears %d times", b, n)
		}
	}
}

func TestDrillDown(t *testing.T) {
	c := testCatalog(t)

	types := c.SystemTypes("Volkswagen")
	if len(types) < 2 {
		t.Fatalf("Volkswagen types = %v, want at least Engine and ABS", types)
	}

	names := c.SystemNames("Volkswagen", "Engine")
	if len(names) != 1 || names[0] != "1.9 TDI (EDC15)" {
		t.Fatalf("Volkswagen/Engine names = %v", names)
	}

	tools := c.Tools("Volkswagen", "Engine", "1.9 TDI (EDC15)")
	if len(tools) != 3 {
		t.Fatalf("tools = %v, want 3", tools)
	}

	cfg := c.ToolConfig("Volkswagen", "Engine", "1.9 TDI (EDC15)", "Live Data")
	if cfg == nil {
		t.Fatal("Live Data tool config missing")
	}
	if cfg["poll_hz"] != 10 {
		t.Errorf("poll_hz = %v, want 10", cfg["poll_hz"])
	}
}

func TestUnknownKeysYieldEmpty(t *testing.T) {
	c := testCatalog(t)

	if got := c.SystemTypes("DeLorean"); len(got) != 0 {
		t.Errorf("unknown brand returned %v", got)
	}
	if got := c.SystemNames("Volkswagen", "Flux Capacitor"); len(got) != 0 {
		t.Errorf("unknown type returned %v", got)
	}
	if got := c.Tools("Volkswagen", "Engine", "W12"); got != nil {
		t.Errorf("unknown system returned %v", got)
	}
	if got := c.ToolConfig("Volkswagen", "Engine", "1.9 TDI (EDC15)", "Flash"); got != nil {
		t.Errorf("unknown tool returned %v", got)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "systems.yaml")
	doc := `
systems:
  - brand: Honda
    type: Engine
    system_name: K20
    tools:
      - name: Live Data
        description: Read live sensor channels
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if brands := c.Brands(); len(brands) != 1 || brands[0] != "Honda" {
		t.Errorf("brands = %v, want [Honda]", brands)
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(c.Brands()) == 0 {
		t.Error("fallback catalog is empty")
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")

	s := LoadSettings(path)
	if s.Prefs.Theme != "light" {
		t.Errorf("default theme = %q, want light", s.Prefs.Theme)
	}

	sel := Selection{Brand: "Toyota", SystemType: "Engine", SystemName: "1ZZ-FE", Tool: "Live Data"}
	if err := s.UpdateSelection(sel); err != nil {
		t.Fatalf("UpdateSelection failed: %v", err)
	}

	// Temp file must be gone after the atomic rename.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}

	reloaded := LoadSettings(path)
	if reloaded.Selection() != sel {
		t.Errorf("reloaded selection = %+v, want %+v", reloaded.Selection(), sel)
	}
}
