package session

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSetGetReset(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	if got := m.Get("web"); got != "" {
		t.Fatalf("Get(web) = %q, want empty", got)
	}

	m.Set("web", "sess-123")
	if got := m.Get("web"); got != "sess-123" {
		t.Fatalf("Get(web) = %q, want sess-123", got)
	}

	if !m.Reset("web") {
		t.Fatalf("Reset(web) = false, want true")
	}
	if m.Reset("web") {
		t.Fatalf("Reset(web) twice = true, want false")
	}
	if got := m.Get("web"); got != "" {
		t.Fatalf("Get(web) after reset = %q, want empty", got)
	}
}

func TestHandlesSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	m.Set("web", "sess-a")
	m.Set("api", "sess-b")

	reopened, err := NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager() reopen error = %v", err)
	}
	all := reopened.All()
	if all["web"] != "sess-a" || all["api"] != "sess-b" {
		t.Fatalf("All() after reopen = %v", all)
	}
}

func TestEmptySessionIDIgnored(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	m.Set("web", "")
	if got := m.Get("web"); got != "" {
		t.Fatalf("Get(web) = %q, want empty", got)
	}
}

func TestCorruptFileSkippedOnLoad(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{nope"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "good.json"), []byte(`{"session_id":"s1"}`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	m, err := NewManager(dir)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if got := m.Get("good"); got != "s1" {
		t.Fatalf("Get(good) = %q, want s1", got)
	}
	if got := m.Get("bad"); got != "" {
		t.Fatalf("Get(bad) = %q, want empty", got)
	}
}
