package project

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aaronjnichols/puter/internal/policy"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	r, err := Open(filepath.Join(dir, "projects.yaml"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return r, dir
}

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	r, _ := newTestRegistry(t)
	if got := len(r.List()); got != 0 {
		t.Fatalf("List() len = %d, want 0", got)
	}
	if r.DefaultName() != "" {
		t.Fatalf("DefaultName() = %q, want empty", r.DefaultName())
	}
}

func TestAddResolveRemove(t *testing.T) {
	r, dir := newTestRegistry(t)
	web := filepath.Join(dir, "web")
	api := filepath.Join(dir, "api")
	for _, d := range []string{web, api} {
		if err := os.Mkdir(d, 0o755); err != nil {
			t.Fatalf("Mkdir() error = %v", err)
		}
	}

	if err := r.Add("web", web, policy.ModeSafe); err != nil {
		t.Fatalf("Add(web) error = %v", err)
	}
	if err := r.Add("api", api, policy.ModeAskAll); err != nil {
		t.Fatalf("Add(api) error = %v", err)
	}

	// First add becomes the default.
	name, p, err := r.Resolve("")
	if err != nil {
		t.Fatalf("Resolve(empty) error = %v", err)
	}
	if name != "web" || p.Path != web {
		t.Fatalf("Resolve(empty) = %q %q, want web %q", name, p.Path, web)
	}

	name, p, err = r.Resolve("api")
	if err != nil {
		t.Fatalf("Resolve(api) error = %v", err)
	}
	if name != "api" || p.ApprovalMode != policy.ModeAskAll {
		t.Fatalf("Resolve(api) = %q mode=%q", name, p.ApprovalMode)
	}

	if _, _, err := r.Resolve("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Resolve(nope) error = %v, want ErrNotFound", err)
	}

	// Removing the default promotes the first remaining name.
	if err := r.Remove("web"); err != nil {
		t.Fatalf("Remove(web) error = %v", err)
	}
	if r.DefaultName() != "api" {
		t.Fatalf("DefaultName() = %q, want api", r.DefaultName())
	}
	if err := r.Remove("web"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Remove(web) twice error = %v, want ErrNotFound", err)
	}
}

func TestAddRejectsBadInput(t *testing.T) {
	r, dir := newTestRegistry(t)
	web := filepath.Join(dir, "web")
	if err := os.Mkdir(web, 0o755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}

	if err := r.Add("", web, policy.ModeSafe); err == nil {
		t.Fatalf("Add(empty name) error = nil, want error")
	}
	if err := r.Add("ghost", filepath.Join(dir, "missing"), policy.ModeSafe); err == nil {
		t.Fatalf("Add(missing path) error = nil, want error")
	}
	if err := r.Add("web", web, policy.ModeSafe); err != nil {
		t.Fatalf("Add(web) error = %v", err)
	}
	if err := r.Add("web", web, policy.ModeSafe); !errors.Is(err, ErrExists) {
		t.Fatalf("Add(web) twice error = %v, want ErrExists", err)
	}
}

func TestMutationsPersistAcrossReopen(t *testing.T) {
	r, dir := newTestRegistry(t)
	web := filepath.Join(dir, "web")
	if err := os.Mkdir(web, 0o755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}
	if err := r.Add("web", web, policy.ModeAutoAll); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	reopened, err := Open(filepath.Join(dir, "projects.yaml"))
	if err != nil {
		t.Fatalf("Open() reopen error = %v", err)
	}
	p, ok := reopened.Get("web")
	if !ok {
		t.Fatalf("Get(web) after reopen = false, want true")
	}
	if p.ApprovalMode != policy.ModeAutoAll || p.Path != web {
		t.Fatalf("reopened project = %+v", p)
	}
	if reopened.DefaultName() != "web" {
		t.Fatalf("DefaultName() after reopen = %q, want web", reopened.DefaultName())
	}
}

func TestOpenRejectsUnknownDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "projects.yaml")
	raw := "default: ghost\nprojects:\n  web:\n    path: /tmp\n    approval_mode: safe\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatalf("Open() error = nil, want unknown default error")
	}
}

func TestWatchReloadsOnExternalEdit(t *testing.T) {
	r, dir := newTestRegistry(t)
	web := filepath.Join(dir, "web")
	if err := os.Mkdir(web, 0o755); err != nil {
		t.Fatalf("Mkdir() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Watch(ctx); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	defer r.Close()

	raw := "default: web\nprojects:\n  web:\n    path: " + web + "\n    approval_mode: ask-all\n"
	if err := os.WriteFile(filepath.Join(dir, "projects.yaml"), []byte(raw), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if p, ok := r.Get("web"); ok && p.ApprovalMode == policy.ModeAskAll {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("registry did not reload from external edit")
}
