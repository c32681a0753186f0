package msgcat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmbeddedMessagesRender(t *testing.T) {
	cat, err := New("")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	out, err := cat.Render("coach.deviation", map[string]any{"SAN": "c5", "Structure": "Sicilian Structure"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "c5") || !strings.Contains(out, "Sicilian") {
		t.Fatalf("unexpected output %q", out)
	}
	if _, err := cat.Render("coach.deviation", map[string]any{}); err == nil {
		t.Fatalf("missing data keys should fail")
	}
	if got := cat.Text("nope", nil, "fallback"); got != "fallback" {
		t.Fatalf("Text fallback = %q", got)
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("commentary:\n  unavailable: \"offline\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cat, err := New(dir)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := cat.Text("commentary.unavailable", nil, ""); got != "offline" {
		t.Fatalf("override = %q", got)
	}

	if err := os.WriteFile(filepath.Join(dir, "b.yaml"), []byte("commentary:\n  unavailable: \"again\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("duplicate override keys should fail")
	}
}

func TestNonStringLeafRejected(t *testing.T) {
	if _, err := parseYAMLToFlat([]byte("a:\n  b: 3\n")); err == nil {
		t.Fatalf("numeric leaf should be rejected")
	}
}
