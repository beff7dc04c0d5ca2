// Package session persists the agent conversation handle for each project so
// consecutive tasks resume the same context.
package session

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type record struct {
	SessionID string `json:"session_id"`
}

// Manager keeps one handle per project, mirrored to <name>.json files under
// its directory. Memory is authoritative; write failures are logged.
type Manager struct {
	mu       sync.RWMutex
	dir      string
	sessions map[string]string
}

// NewManager loads all persisted handles from dir, creating it when missing.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	m := &Manager{dir: dir, sessions: map[string]string{}}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			log.Printf("[session] read %s: %v", e.Name(), err)
			continue
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			log.Printf("[session] parse %s: %v", e.Name(), err)
			continue
		}
		if rec.SessionID == "" {
			continue
		}
		m.sessions[strings.TrimSuffix(e.Name(), ".json")] = rec.SessionID
	}
	return m, nil
}

// Get returns the stored handle for a project, empty when none.
func (m *Manager) Get(project string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[project]
}

// Set stores a handle and writes it through to disk.
func (m *Manager) Set(project, sessionID string) {
	if sessionID == "" {
		return
	}
	m.mu.Lock()
	m.sessions[project] = sessionID
	m.mu.Unlock()

	raw, _ := json.Marshal(record{SessionID: sessionID})
	if err := os.WriteFile(m.file(project), raw, 0o644); err != nil {
		log.Printf("[session] persist %s: %v", project, err)
	}
}

// Reset drops a project's handle so the next task starts a fresh
// conversation. Reports whether a handle existed.
func (m *Manager) Reset(project string) bool {
	m.mu.Lock()
	_, had := m.sessions[project]
	delete(m.sessions, project)
	m.mu.Unlock()

	if err := os.Remove(m.file(project)); err != nil && !os.IsNotExist(err) {
		log.Printf("[session] remove %s: %v", project, err)
	}
	return had
}

// All returns a copy of every stored handle.
func (m *Manager) All() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.sessions))
	for k, v := range m.sessions {
		out[k] = v
	}
	return out
}

func (m *Manager) file(project string) string {
	return filepath.Join(m.dir, project+".json")
}
