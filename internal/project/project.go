// Package project holds the registry of working directories the engine may
// drive the agent against.
package project

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/aaronjnichols/puter/internal/atomicfile"
	"github.com/aaronjnichols/puter/internal/policy"
)

var (
	ErrNotFound  = errors.New("project not found")
	ErrExists    = errors.New("project already exists")
	ErrNoDefault = errors.New("no default project configured")
)

// Project is one named working directory with its approval policy.
type Project struct {
	Path         string              `yaml:"path"`
	ApprovalMode policy.ApprovalMode `yaml:"approval_mode"`
}

type registryFile struct {
	Default  string             `yaml:"default,omitempty"`
	Projects map[string]Project `yaml:"projects"`
}

// Registry is the in-memory source of truth, mirrored to a YAML file on every
// mutation. File write failures are logged and do not roll back memory.
type Registry struct {
	mu          sync.RWMutex
	path        string
	defaultName string
	projects    map[string]Project

	watcher *watcher
}

// Open loads the registry file. A missing file yields an empty registry; the
// file appears on the first mutation. The parent directory is created so a
// watcher can bind to it right away.
func Open(path string) (*Registry, error) {
	r := &Registry{path: path, projects: map[string]Project{}}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create projects dir: %w", err)
		}
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read projects file: %w", err)
	}
	file, err := parseRegistry(raw)
	if err != nil {
		return nil, fmt.Errorf("parse projects file %s: %w", path, err)
	}
	r.defaultName = file.Default
	r.projects = file.Projects
	return r, nil
}

func parseRegistry(raw []byte) (registryFile, error) {
	var file registryFile
	if err := yamlv3.Unmarshal(raw, &file); err != nil {
		return registryFile{}, err
	}
	if file.Projects == nil {
		file.Projects = map[string]Project{}
	}
	for name, p := range file.Projects {
		mode, err := policy.ParseApprovalMode(string(p.ApprovalMode))
		if err != nil {
			return registryFile{}, fmt.Errorf("project %q: %w", name, err)
		}
		p.ApprovalMode = mode
		file.Projects[name] = p
	}
	if file.Default != "" {
		if _, ok := file.Projects[file.Default]; !ok {
			return registryFile{}, fmt.Errorf("default project %q is not defined", file.Default)
		}
	}
	return file, nil
}

// Resolve maps an operator-supplied name to a project. Empty name falls back
// to the default project.
func (r *Registry) Resolve(name string) (string, Project, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		if r.defaultName == "" {
			return "", Project{}, ErrNoDefault
		}
		name = r.defaultName
	}
	p, ok := r.projects[name]
	if !ok {
		return "", Project{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return name, p, nil
}

// Get returns a project without default fallback.
func (r *Registry) Get(name string) (Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[name]
	return p, ok
}

// Names returns all project names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.projects))
	for name := range r.projects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns a copy of the registry contents.
func (r *Registry) List() map[string]Project {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Project, len(r.projects))
	for name, p := range r.projects {
		out[name] = p
	}
	return out
}

// DefaultName returns the current default project name, empty when unset.
func (r *Registry) DefaultName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultName
}

var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Add registers a new project. The path must be an existing directory. The
// first project added becomes the default. Names are restricted to a safe
// charset because they become session and output file names.
func (r *Registry) Add(name, path string, mode policy.ApprovalMode) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("project name %q must match %s", name, nameRe)
	}
	if _, err := policy.ParseApprovalMode(string(mode)); err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("project path %s: %w", abs, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("project path %s is not a directory", abs)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[name]; ok {
		return fmt.Errorf("%w: %q", ErrExists, name)
	}
	r.projects[name] = Project{Path: abs, ApprovalMode: mode}
	if r.defaultName == "" {
		r.defaultName = name
	}
	r.saveLocked()
	return nil
}

// Remove deletes a project. When the default is removed, the first remaining
// name (sorted) takes its place.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	delete(r.projects, name)
	if r.defaultName == name {
		r.defaultName = ""
		names := make([]string, 0, len(r.projects))
		for n := range r.projects {
			names = append(names, n)
		}
		sort.Strings(names)
		if len(names) > 0 {
			r.defaultName = names[0]
		}
	}
	r.saveLocked()
	return nil
}

// SetDefault changes the default project.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	r.defaultName = name
	r.saveLocked()
	return nil
}

func (r *Registry) saveLocked() {
	file := registryFile{Default: r.defaultName, Projects: r.projects}
	raw, err := yamlv3.Marshal(file)
	if err != nil {
		log.Printf("[project] marshal registry: %v", err)
		return
	}
	if err := atomicfile.WriteFile(r.path, raw); err != nil {
		log.Printf("[project] persist registry to %s: %v", r.path, err)
	}
}

// reload swaps in the on-disk state; used by the file watcher. A broken file
// keeps the previous registry.
func (r *Registry) reload() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return err
	}
	file, err := parseRegistry(raw)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.defaultName = file.Default
	r.projects = file.Projects
	r.mu.Unlock()
	return nil
}

// Close stops the file watcher when one is running.
func (r *Registry) Close() error {
	if r.watcher != nil {
		return r.watcher.close()
	}
	return nil
}
