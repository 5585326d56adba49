// Package redis stores task status records in Redis so every API replica sees
// the same state.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
)

const maxTxRetries = 5

// Config controls key naming and retention.
type Config struct {
	KeyPrefix string
	// Retention is the TTL applied when a task reaches a terminal state.
	Retention time.Duration
}

// TaskStore implements discovery.TaskStore with optimistic WATCH/MULTI transactions.
type TaskStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

// NewTaskStore wraps an existing client.
func NewTaskStore(client redis.UniversalClient, cfg Config) *TaskStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "discovery_task:"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	return &TaskStore{client: client, prefix: cfg.KeyPrefix, retention: cfg.Retention}
}

func (s *TaskStore) key(id string) string {
	return s.prefix + id
}

// Create stores a new PENDING task without expiry.
func (s *TaskStore) Create(ctx context.Context, task discovery.Task) error {
	if task.Status == "" {
		task.Status = discovery.TaskStatusPending
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(task.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("create task %s: %w", task.ID, err)
	}
	if !ok {
		return discovery.ErrTaskExists
	}
	return nil
}

// Transition applies a compare-and-set on the status field. Terminal records
// get the retention TTL in the same transaction.
func (s *TaskStore) Transition(
	ctx context.Context,
	taskID string,
	from, to discovery.TaskStatus,
	mutate func(*discovery.Task),
) (discovery.Task, error) {
	if !discovery.CanTransition(from, to) {
		return discovery.Task{}, discovery.ErrInvalidTransition
	}
	var out discovery.Task
	err := s.update(ctx, taskID, func(task *discovery.Task) (bool, time.Duration, error) {
		if task.Status != from {
			return false, 0, discovery.ErrInvalidTransition
		}
		if mutate != nil {
			mutate(task)
		}
		task.Status = to
		var ttl time.Duration
		if to.Terminal() {
			task.Progress = nil
			ttl = s.retention
		}
		out = *task
		return true, ttl, nil
	})
	if err != nil {
		return discovery.Task{}, err
	}
	return out, nil
}

// UpdateProgress records the stage of a STARTED task.
func (s *TaskStore) UpdateProgress(ctx context.Context, taskID string, progress discovery.Progress) error {
	return s.update(ctx, taskID, func(task *discovery.Task) (bool, time.Duration, error) {
		if task.Status != discovery.TaskStatusStarted {
			return false, 0, nil
		}
		p := progress
		task.Progress = &p
		return true, 0, nil
	})
}

// Get returns a task by ID.
func (s *TaskStore) Get(ctx context.Context, taskID string) (discovery.Task, error) {
	return s.load(ctx, s.client, taskID)
}

// Delete removes a task record.
func (s *TaskStore) Delete(ctx context.Context, taskID string) error {
	if err := s.client.Del(ctx, s.key(taskID)).Err(); err != nil {
		return fmt.Errorf("delete task %s: %w", taskID, err)
	}
	return nil
}

// update runs fn inside WATCH and writes the record back when fn asks for it.
// A ttl of zero leaves the key without expiry.
func (s *TaskStore) update(
	ctx context.Context,
	taskID string,
	fn func(*discovery.Task) (bool, time.Duration, error),
) error {
	key := s.key(taskID)
	txf := func(tx *redis.Tx) error {
		task, err := s.load(ctx, tx, taskID)
		if err != nil {
			return err
		}
		write, ttl, err := fn(&task)
		if err != nil || !write {
			return err
		}
		data, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("marshal task: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, discovery.ErrInvalidTransition) || errors.Is(err, discovery.ErrTaskNotFound) {
				return err
			}
			return fmt.Errorf("update task %s: %w", taskID, err)
		}
		return nil
	}
	return fmt.Errorf("update task %s: %w", taskID, redis.TxFailedErr)
}

func (s *TaskStore) load(ctx context.Context, c redis.Cmdable, taskID string) (discovery.Task, error) {
	raw, err := c.Get(ctx, s.key(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return discovery.Task{}, discovery.ErrTaskNotFound
	}
	if err != nil {
		return discovery.Task{}, fmt.Errorf("get task %s: %w", taskID, err)
	}
	var task discovery.Task
	if err := json.Unmarshal(raw, &task); err != nil {
		return discovery.Task{}, fmt.Errorf("decode task %s: %w", taskID, err)
	}
	return task, nil
}
