package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testCatalog = `{
  "actions": [
    {"id": "add-to-cart", "triggers": ["add to cart", "buy"], "description": "Add a product", "route": "/shop"},
    {"id": "links", "triggers": ["list links"], "description": "Read out links", "exec": "page.links"},
    {"id": "hours", "triggers": ["opening hours"], "description": "Shop hours", "info": "Open 9 to 5"}
  ]
}`

// writeFixtures returns a config file pointing the log and the sqlite cache
// into a temp dir, plus a catalog file.
func writeFixtures(t *testing.T) (cfgPath, catPath string) {
	t.Helper()
	dir := t.TempDir()
	cfgPath = filepath.Join(dir, "chant.toml")
	catPath = filepath.Join(dir, "actions.json")
	cfg := "log_path = " + quote(filepath.Join(dir, "chant.log")) + "\n\n[cache]\nbackend = \"sqlite\"\nsqlite_path = " +
		quote(filepath.Join(dir, "cache", "cache.db")) + "\n"
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(catPath, []byte(testCatalog), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfgPath, catPath
}

func quote(s string) string { return `"` + strings.ReplaceAll(s, `\`, `\\`) + `"` }

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestActionsCommand(t *testing.T) {
	cfgPath, catPath := writeFixtures(t)

	out, err := execute(t, "actions", "--config", cfgPath, "--catalog", catPath, "--route", "/shop")
	if err != nil {
		t.Fatalf("actions: %v\n%s", err, out)
	}
	if !strings.Contains(out, "add-to-cart") || strings.Contains(out, "hours") {
		t.Errorf("route-specific actions should shadow global ones:\n%s", out)
	}

	out, err = execute(t, "actions", "--config", cfgPath, "--catalog", catPath, "--route", "/about")
	if err != nil {
		t.Fatalf("actions: %v\n%s", err, out)
	}
	for _, want := range []string{"links", "hours", "[global, info]"} {
		if !strings.Contains(out, want) {
			t.Errorf("output is missing %q:\n%s", want, out)
		}
	}
}

func TestCacheCommands(t *testing.T) {
	cfgPath, _ := writeFixtures(t)

	out, err := execute(t, "cache", "list", "--config", cfgPath, "--cache", "")
	if err != nil {
		t.Fatalf("cache list: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Cache is empty.") {
		t.Errorf("expected an empty cache:\n%s", out)
	}

	out, err = execute(t, "cache", "clear", "login", "--config", cfgPath)
	if err != nil || !strings.Contains(out, "Cleared cached steps for login.") {
		t.Errorf("cache clear login: %v\n%s", err, out)
	}
	out, err = execute(t, "cache", "clear", "--config", cfgPath)
	if err != nil || !strings.Contains(out, "Cache cleared.") {
		t.Errorf("cache clear: %v\n%s", err, out)
	}
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	cfgPath, catPath := writeFixtures(t)
	configPath, catalogPath, route, cacheBack, pagePath = cfgPath, catPath, "/checkout", "memory", "form.html"
	t.Cleanup(func() { catalogPath, route, cacheBack, pagePath = "", "", "", "" })

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.CatalogPath != catPath || cfg.Route != "/checkout" || cfg.Cache.Backend != "memory" || cfg.PagePath != "form.html" {
		t.Errorf("flags not applied: %+v", cfg)
	}
}
