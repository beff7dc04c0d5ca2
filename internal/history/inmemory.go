package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultKeep = 256

// InMemoryStore keeps the most recent runs in process memory for local/dev
// use. Oldest records fall off once the cap is reached.
type InMemoryStore struct {
	mu      sync.RWMutex
	keep    int
	records []Record
}

func NewInMemoryStore(keep int) *InMemoryStore {
	if keep <= 0 {
		keep = defaultKeep
	}
	return &InMemoryStore{keep: keep}
}

func (s *InMemoryStore) SaveRun(_ context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.FinishedAt.IsZero() {
		record.FinishedAt = time.Now().UTC()
	}
	s.records = append(s.records, record)
	if len(s.records) > s.keep {
		s.records = s.records[len(s.records)-s.keep:]
	}
	return nil
}

// ListRuns returns newest-first; empty project means all projects.
func (s *InMemoryStore) ListRuns(_ context.Context, project string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, limit)
	for i := len(s.records) - 1; i >= 0; i-- {
		if project != "" && s.records[i].Project != project {
			continue
		}
		out = append(out, s.records[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
