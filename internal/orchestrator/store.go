package orchestrator

import (
	"context"
	"sync"

	"github.com/yourorg/remediation-reconciler/internal/apperr"
	"github.com/yourorg/remediation-reconciler/internal/model"
)

// JobStore keeps job records for at least as long as callers poll them.
// db.Store implements it for multi-instance deployments.
type JobStore interface {
	PutJob(ctx context.Context, rec model.JobRecord) error
	GetJob(ctx context.Context, id string) (model.JobRecord, error)
}

// MemoryJobStore is a process-local JobStore. Records are lost on restart;
// the facts they point at are not.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]model.JobRecord
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: map[string]model.JobRecord{}}
}

func (s *MemoryJobStore) PutJob(_ context.Context, rec model.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[rec.ID]; ok {
		return apperr.Conflict("job %s already recorded", rec.ID)
	}
	s.jobs[rec.ID] = rec
	return nil
}

func (s *MemoryJobStore) GetJob(_ context.Context, id string) (model.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[id]
	if !ok {
		return model.JobRecord{}, apperr.NotFound("job %s", id)
	}
	return rec, nil
}

func (s *MemoryJobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}
