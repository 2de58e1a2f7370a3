package app

import (
	"context"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	agentports "oape/internal/agent/ports"
	oerr "oape/internal/errors"
	"oape/internal/logging"
	"oape/internal/server/ports"
)

// DefaultRetention is how many terminal jobs are kept before the oldest is
// evicted.
const DefaultRetention = 256

// InMemoryJobStore keeps active jobs in a map and terminal jobs in a bounded
// LRU. Eviction of a terminal job invokes the eviction hook so streaming
// layers can tell lingering subscribers the record is gone.
type InMemoryJobStore struct {
	mu       sync.RWMutex
	active   map[string]*ports.Job
	retained *lru.Cache[string, *ports.Job]
	logger   logging.Logger
}

// NewInMemoryJobStore creates a store retaining up to retention terminal
// jobs. onEvict may be nil.
func NewInMemoryJobStore(retention int, onEvict func(jobID string)) (*InMemoryJobStore, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}

	store := &InMemoryJobStore{
		active: make(map[string]*ports.Job),
		logger: logging.NewComponentLogger("job-store"),
	}

	retained, err := lru.NewWithEvict[string, *ports.Job](retention, func(jobID string, _ *ports.Job) {
		store.logger.Info("evicted terminal job %s from retention", jobID)
		if onEvict != nil {
			onEvict(jobID)
		}
	})
	if err != nil {
		return nil, oerr.Wrap(oerr.KindInternal, err, "job retention cache")
	}
	store.retained = retained

	return store, nil
}

func (s *InMemoryJobStore) Create(ctx context.Context, input ports.JobInput) (*ports.Job, error) {
	job := ports.NewJob(input)

	s.mu.Lock()
	s.active[job.ID] = job
	s.mu.Unlock()

	s.logger.Info("created job %s (command=%s, working_dir=%s)", job.ID, input.Command, input.WorkingDir)
	return job.Clone(), nil
}

func (s *InMemoryJobStore) Get(ctx context.Context, jobID string) (*ports.Job, error) {
	s.mu.RLock()
	job, ok := s.active[jobID]
	s.mu.RUnlock()
	if ok {
		return job.Clone(), nil
	}

	if job, ok := s.retained.Get(jobID); ok {
		return job.Clone(), nil
	}
	return nil, oerr.New(oerr.KindNotFound, "job not found: %s", jobID)
}

func (s *InMemoryJobStore) List(ctx context.Context, limit, offset int) ([]*ports.Job, int, error) {
	s.mu.RLock()
	jobs := make([]*ports.Job, 0, len(s.active)+s.retained.Len())
	for _, job := range s.active {
		jobs = append(jobs, job.Clone())
	}
	s.mu.RUnlock()

	for _, id := range s.retained.Keys() {
		if job, ok := s.retained.Peek(id); ok {
			jobs = append(jobs, job.Clone())
		}
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	total := len(jobs)
	if offset >= total {
		return []*ports.Job{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return jobs[offset:end], total, nil
}

func (s *InMemoryJobStore) MarkRunning(ctx context.Context, jobID string) error {
	return s.mutate(jobID, func(job *ports.Job) {
		job.Status = ports.JobStatusRunning
		if job.StartedAt == nil {
			now := time.Now()
			job.StartedAt = &now
		}
	})
}

func (s *InMemoryJobStore) AppendTurn(ctx context.Context, jobID string, turn agentports.Turn) error {
	return s.mutate(jobID, func(job *ports.Job) {
		job.History = append(job.History, turn)
	})
}

func (s *InMemoryJobStore) AddUsage(ctx context.Context, jobID string, usage agentports.TokenUsage) error {
	return s.mutate(jobID, func(job *ports.Job) {
		job.Usage.Add(usage)
	})
}

func (s *InMemoryJobStore) SetIterations(ctx context.Context, jobID string, iterations int) error {
	return s.mutate(jobID, func(job *ports.Job) {
		job.Iterations = iterations
	})
}

func (s *InMemoryJobStore) Complete(ctx context.Context, jobID, result string) error {
	return s.finish(jobID, func(job *ports.Job) {
		job.Status = ports.JobStatusCompleted
		job.Result = result
	})
}

func (s *InMemoryJobStore) Fail(ctx context.Context, jobID string, err error) error {
	return s.finish(jobID, func(job *ports.Job) {
		job.Status = ports.JobStatusFailed
		if err != nil {
			job.Error = err.Error()
		}
	})
}

// mutate applies fn to an active job under the write lock.
func (s *InMemoryJobStore) mutate(jobID string, fn func(*ports.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.active[jobID]
	if !ok {
		return oerr.New(oerr.KindNotFound, "job not active: %s", jobID)
	}
	fn(job)
	return nil
}

// finish transitions a job to a terminal state and moves it from the active
// map into the retention LRU.
func (s *InMemoryJobStore) finish(jobID string, fn func(*ports.Job)) error {
	s.mu.Lock()
	job, ok := s.active[jobID]
	if !ok {
		s.mu.Unlock()
		return oerr.New(oerr.KindNotFound, "job not active: %s", jobID)
	}
	fn(job)
	now := time.Now()
	job.CompletedAt = &now
	delete(s.active, jobID)
	s.mu.Unlock()

	// Add outside the store lock: eviction callbacks fan out to streaming.
	s.retained.Add(jobID, job)
	return nil
}

// ActiveCount returns the number of non-terminal jobs.
func (s *InMemoryJobStore) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}
