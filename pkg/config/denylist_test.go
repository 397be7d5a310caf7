package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultDenylist(t *testing.T) {
	d := DefaultDenylist()
	if d.Len() != 4 {
		t.Fatalf("Expected 4 default rules, got %d", d.Len())
	}

	// Wildcard rules block the type regardless of source
	for _, typ := range []string{"dom_change", "mouse_move", "mouse_enter", "mouse_leave"} {
		if !d.Blocked("browser", typ) {
			t.Errorf("Expected %s blocked for browser", typ)
		}
		if !d.Blocked("anything", typ) {
			t.Errorf("Expected %s blocked for any source", typ)
		}
	}

	if d.Blocked("browser", "click") {
		t.Error("click should not be blocked")
	}
	if d.Blocked("editor", "save") {
		t.Error("save should not be blocked")
	}
}

func TestDenylist_SourceScopedRule(t *testing.T) {
	d := NewDenylist([]DenyRule{
		{Source: "browser", Type: "scroll"},
	})

	if !d.Blocked("browser", "scroll") {
		t.Error("browser/scroll should be blocked")
	}
	if d.Blocked("editor", "scroll") {
		t.Error("editor/scroll should not be blocked by a browser-scoped rule")
	}
}

func TestDenylist_Empty(t *testing.T) {
	d := NewDenylist(nil)
	if d.Blocked("browser", "dom_change") {
		t.Error("Empty denylist should block nothing")
	}
}

func TestLoadDenylist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "denylist.yaml")
	content := `denylist:
  - action_type: mouse_move
  - source: browser
    action_type: dom_change
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	d, err := LoadDenylist(path)
	if err != nil {
		t.Fatalf("LoadDenylist failed: %v", err)
	}
	if d.Len() != 2 {
		t.Errorf("Expected 2 rules, got %d", d.Len())
	}
	if !d.Blocked("editor", "mouse_move") {
		t.Error("Wildcard mouse_move rule should apply to every source")
	}
	if !d.Blocked("browser", "dom_change") {
		t.Error("browser/dom_change should be blocked")
	}
	if d.Blocked("editor", "dom_change") {
		t.Error("dom_change rule is browser-scoped")
	}
}

func TestLoadDenylist_Errors(t *testing.T) {
	if _, err := LoadDenylist(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("denylist:\n  - source: browser\n"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := LoadDenylist(path); err == nil {
		t.Error("Expected error for rule without action_type")
	}
}
