// Package memory provides in-process stores for development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
)

// TaskStore keeps task status records in a map guarded by one mutex, which
// makes every Transition a compare-and-set.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]discovery.Task
}

// NewTaskStore constructs a TaskStore.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string]discovery.Task)}
}

// Create stores a new PENDING task.
func (s *TaskStore) Create(_ context.Context, task discovery.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return discovery.ErrTaskExists
	}
	if task.Status == "" {
		task.Status = discovery.TaskStatusPending
	}
	s.tasks[task.ID] = task
	return nil
}

// Transition moves a task from one status to another if it is currently in from.
func (s *TaskStore) Transition(
	_ context.Context,
	taskID string,
	from, to discovery.TaskStatus,
	mutate func(*discovery.Task),
) (discovery.Task, error) {
	if !discovery.CanTransition(from, to) {
		return discovery.Task{}, discovery.ErrInvalidTransition
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return discovery.Task{}, discovery.ErrTaskNotFound
	}
	if task.Status != from {
		return discovery.Task{}, discovery.ErrInvalidTransition
	}
	if mutate != nil {
		mutate(&task)
	}
	task.Status = to
	if to.Terminal() {
		task.Progress = nil
	}
	s.tasks[taskID] = task
	return task, nil
}

// UpdateProgress records the stage of a STARTED task. Other states are left untouched.
func (s *TaskStore) UpdateProgress(_ context.Context, taskID string, progress discovery.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return discovery.ErrTaskNotFound
	}
	if task.Status != discovery.TaskStatusStarted {
		return nil
	}
	p := progress
	task.Progress = &p
	s.tasks[taskID] = task
	return nil
}

// Get returns a task by ID.
func (s *TaskStore) Get(_ context.Context, taskID string) (discovery.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return discovery.Task{}, discovery.ErrTaskNotFound
	}
	return task, nil
}

// Delete removes a task record.
func (s *TaskStore) Delete(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, taskID)
	return nil
}

// Prune drops terminal tasks that finished more than retention ago.
func (s *TaskStore) Prune(_ context.Context, now time.Time, retention time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-retention)
	removed := 0
	for id, task := range s.tasks {
		if !task.Status.Terminal() {
			continue
		}
		finished := task.SubmittedAt
		if task.FinishedAt != nil {
			finished = *task.FinishedAt
		}
		if finished.Before(cutoff) {
			delete(s.tasks, id)
			removed++
		}
	}
	return removed, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
