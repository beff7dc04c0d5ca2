package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/aaronjnichols/puter/internal/atomicfile"
)

type storeFile struct {
	Tasks []Task `json:"tasks"`
}

// Store persists the whole task collection as one JSON file, rewritten
// atomically on every mutation.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads all tasks. A missing file is an empty collection.
func (s *Store) Load() ([]Task, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read schedule file: %w", err)
	}
	var file storeFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse schedule file %s: %w", s.path, err)
	}
	return file.Tasks, nil
}

// Save rewrites the collection. Output order is deterministic so the file
// diffs cleanly.
func (s *Store) Save(tasks []Task) error {
	sorted := make([]Task, len(tasks))
	copy(sorted, tasks)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].NextRun.Equal(sorted[j].NextRun) {
			return sorted[i].NextRun.Before(sorted[j].NextRun)
		}
		return sorted[i].ID < sorted[j].ID
	})

	raw, err := json.MarshalIndent(storeFile{Tasks: sorted}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schedule file: %w", err)
	}
	if err := atomicfile.WriteFile(s.path, raw); err != nil {
		return fmt.Errorf("write schedule file: %w", err)
	}
	return nil
}
