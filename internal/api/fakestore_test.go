package api

import (
	"context"
	"sync"
	"time"

	"github.com/netbuddy/taskforge/internal/model"
	"github.com/netbuddy/taskforge/internal/storage"
)

// fakeStore is the same minimal in-memory storage.StateStore double
// used by internal/engine, internal/scheduler, and internal/lease's
// test suites, standing in for the sqlite/postgres adapters exercised
// by storagetest.Run.
type fakeStore struct {
	mu    sync.Mutex
	repos map[string]*model.Repository
	tasks map[string]*model.Task
	runs  map[string][]model.AgentRun
	files map[string][]model.VerifiedFileEvent
	log   map[string][]model.TaskEvent
	seq   map[string]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		repos: make(map[string]*model.Repository),
		tasks: make(map[string]*model.Task),
		runs:  make(map[string][]model.AgentRun),
		files: make(map[string][]model.VerifiedFileEvent),
		log:   make(map[string][]model.TaskEvent),
		seq:   make(map[string]int64),
	}
}

func cloneTask(t *model.Task) *model.Task {
	cp := *t
	return &cp
}

func (s *fakeStore) CreateRepository(_ context.Context, repo *model.Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *repo
	s.repos[repo.ID] = &cp
	return nil
}

func (s *fakeStore) GetRepository(_ context.Context, id string) (*model.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	repo, ok := s.repos[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *repo
	return &cp, nil
}

func (s *fakeStore) ListRepositories(_ context.Context) ([]*model.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Repository, 0, len(s.repos))
	for _, r := range s.repos {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) CreateTask(_ context.Context, task *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = cloneTask(task)
	return nil
}

func (s *fakeStore) GetTask(_ context.Context, id string) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneTask(t), nil
}

func (s *fakeStore) ListTasks(_ context.Context, filter storage.TaskFilter) ([]*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Task
	for _, t := range s.tasks {
		if filter.RepositoryID != "" && t.RepositoryID != filter.RepositoryID {
			continue
		}
		if filter.ParentTaskID != "" {
			if t.ParentTaskID == nil || *t.ParentTaskID != filter.ParentTaskID {
				continue
			}
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		out = append(out, cloneTask(t))
	}
	return out, nil
}

func (s *fakeStore) ListChildren(_ context.Context, parentID string) ([]*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Task
	for _, t := range s.tasks {
		if t.ParentTaskID != nil && *t.ParentTaskID == parentID {
			out = append(out, cloneTask(t))
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateTaskStatus(_ context.Context, id string, expected model.TaskStatus, mutate func(*model.Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return storage.ErrNotFound
	}
	if t.Status != expected {
		return storage.ErrConflict
	}
	cp := cloneTask(t)
	if mutate != nil {
		mutate(cp)
	}
	s.tasks[id] = cp
	return nil
}

func (s *fakeStore) UpdateHeartbeat(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return storage.ErrNotFound
	}
	cp := cloneTask(t)
	cp.Heartbeat = at
	s.tasks[id] = cp
	return nil
}

func (s *fakeStore) ListStaleHeartbeats(_ context.Context, olderThan time.Time) ([]*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Task
	for _, t := range s.tasks {
		if t.Status.IsExecuting() && t.Heartbeat.Before(olderThan) {
			out = append(out, cloneTask(t))
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteTaskCascade(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	delete(s.runs, id)
	delete(s.files, id)
	delete(s.log, id)
	delete(s.seq, id)
	return nil
}

func (s *fakeStore) AppendAgentRun(_ context.Context, run *model.AgentRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.TaskID] = append(s.runs[run.TaskID], *run)
	return nil
}

func (s *fakeStore) ListRuns(_ context.Context, taskID string) ([]model.AgentRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AgentRun(nil), s.runs[taskID]...), nil
}

func (s *fakeStore) AppendVerifiedFileEvent(_ context.Context, event *model.VerifiedFileEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[event.TaskID] = append(s.files[event.TaskID], *event)
	return nil
}

func (s *fakeStore) ListVerifiedFileEvents(_ context.Context, taskID string) ([]model.VerifiedFileEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.VerifiedFileEvent(nil), s.files[taskID]...), nil
}

func (s *fakeStore) AppendChangeSet(_ context.Context, _ *model.ChangeSet) error {
	return nil
}

func (s *fakeStore) AppendEvent(_ context.Context, event *model.TaskEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq[event.TaskID]++
	seq := s.seq[event.TaskID]
	event.Seq = seq
	s.log[event.TaskID] = append(s.log[event.TaskID], *event)
	return seq, nil
}

func (s *fakeStore) GetEventsSince(_ context.Context, taskID string, sinceSeq int64) ([]model.TaskEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.TaskEvent
	for _, ev := range s.log[taskID] {
		if ev.Seq > sinceSeq {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *fakeStore) Migrate(_ context.Context) error { return nil }

func (s *fakeStore) Close() error { return nil }

var _ storage.StateStore = (*fakeStore)(nil)
