package persona

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_FillsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persona.yaml")
	doc := `
name: Nox
trigger_keywords:
  music: 0.2
fallbacks:
  friendly:
    - "Tell me more!"
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Name != "Nox" {
		t.Fatalf("name = %q", p.Name)
	}
	if p.SystemPrompt == "" {
		t.Fatal("system prompt should fall back to default")
	}
	if p.MaxReplyLength != 800 {
		t.Fatalf("max reply length = %d, want default 800", p.MaxReplyLength)
	}
	if p.TriggerKeywords["music"] != 0.2 {
		t.Fatalf("trigger keywords = %v", p.TriggerKeywords)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFallbacksFor(t *testing.T) {
	p := Default()
	if got := p.FallbacksFor("reserved"); len(got) == 0 || got[0] == "" {
		t.Fatalf("reserved fallbacks = %v", got)
	}
	// Unknown attitude falls back to the default list.
	def := p.FallbacksFor("default")
	if got := p.FallbacksFor("ecstatic"); len(got) != len(def) {
		t.Fatalf("unknown attitude should use default list, got %v", got)
	}
}
