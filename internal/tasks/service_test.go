package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
	queuememory "github.com/JakeFAU/jobdiscovery/internal/queue/memory"
	"github.com/JakeFAU/jobdiscovery/internal/storage/memory"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      discovery.SearchRequest
		wantMax int
		wantErr bool
	}{
		{name: "defaults max", in: discovery.SearchRequest{Query: "go", ProfileRef: "p"}, wantMax: 25},
		{name: "clamps high", in: discovery.SearchRequest{Query: "go", ProfileRef: "p", MaxResults: 500}, wantMax: 125},
		{name: "clamps low", in: discovery.SearchRequest{Query: "go", ProfileRef: "p", MaxResults: -3}, wantMax: 1},
		{name: "keeps valid", in: discovery.SearchRequest{Query: "go", ProfileRef: "p", MaxResults: 40}, wantMax: 40},
		{name: "missing query", in: discovery.SearchRequest{Query: "  ", ProfileRef: "p"}, wantErr: true},
		{name: "missing profile", in: discovery.SearchRequest{Query: "go"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Normalize(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidRequest)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantMax, got.MaxResults)
		})
	}
}

func TestSubmitCreatesPendingAndEnqueues(t *testing.T) {
	t.Parallel()

	store := memory.NewTaskStore()
	queue := queuememory.NewQueue(2)
	svc := NewService(store, queue, &fakeIDs{}, fixedClock{}, Config{}, zap.NewNop())
	ctx := context.Background()

	receipt, err := svc.Submit(ctx, discovery.SearchRequest{ProfileRef: "p1", Query: " golang "})
	require.NoError(t, err)
	require.Equal(t, SubmitReceipt{TaskID: "task-1", Status: "started", EstimatedTimeSeconds: 120}, receipt)

	view, err := svc.Status(ctx, "task-1")
	require.NoError(t, err)
	require.Equal(t, discovery.TaskStatusPending, view.Status)

	item, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "task-1", item.TaskID)
	require.Equal(t, "golang", item.Request.Query)
	require.Equal(t, 25, item.Request.MaxResults)
}

func TestSubmitQueueFullRemovesTask(t *testing.T) {
	t.Parallel()

	store := memory.NewTaskStore()
	queue := queuememory.NewQueue(1)
	svc := NewService(store, queue, &fakeIDs{}, fixedClock{}, Config{EnqueueTimeout: 20 * time.Millisecond}, zap.NewNop())
	ctx := context.Background()
	req := discovery.SearchRequest{ProfileRef: "p1", Query: "go"}

	_, err := svc.Submit(ctx, req)
	require.NoError(t, err)
	_, err = svc.Submit(ctx, req)
	require.ErrorIs(t, err, ErrQueueFull)

	_, err = svc.Status(ctx, "task-2")
	require.ErrorIs(t, err, discovery.ErrTaskNotFound)
}

func TestSubmitValidationSkipsStore(t *testing.T) {
	t.Parallel()

	store := memory.NewTaskStore()
	svc := NewService(store, queuememory.NewQueue(1), &fakeIDs{}, fixedClock{}, Config{}, nil)

	_, err := svc.Submit(context.Background(), discovery.SearchRequest{ProfileRef: "p1"})
	require.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.Status(context.Background(), "task-1")
	require.ErrorIs(t, err, discovery.ErrTaskNotFound)
}

func TestStatusRetryableFailure(t *testing.T) {
	t.Parallel()

	store := memory.NewTaskStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, discovery.Task{
		ID:        "t1",
		Status:    discovery.TaskStatusFailure,
		Error:     "acquire credential: no eligible credential available",
		ErrorKind: discovery.KindCredentialExhausted,
	}))
	svc := NewService(store, queuememory.NewQueue(1), &fakeIDs{}, fixedClock{}, Config{}, nil)

	view, err := svc.Status(ctx, "t1")
	require.NoError(t, err)
	require.True(t, view.Retryable)
	require.Equal(t, discovery.KindCredentialExhausted, view.ErrorKind)
}

func TestSubmitIDFailure(t *testing.T) {
	t.Parallel()

	svc := NewService(memory.NewTaskStore(), queuememory.NewQueue(1), &fakeIDs{err: errors.New("entropy")}, fixedClock{}, Config{}, nil)
	_, err := svc.Submit(context.Background(), discovery.SearchRequest{ProfileRef: "p1", Query: "go"})
	require.ErrorContains(t, err, "entropy")
}

// --- fakes ---

type fakeIDs struct {
	mu  sync.Mutex
	n   int
	err error
}

func (f *fakeIDs) NewID() (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return fmt.Sprintf("task-%d", f.n), nil
}

type fixedClock struct{}

func (fixedClock) Now() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}
