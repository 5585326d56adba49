package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobdiscovery/internal/discovery"
)

func TestPublisherStoresEvents(t *testing.T) {
	t.Parallel()

	pub := New()
	ctx := context.Background()
	id1, err := pub.Publish(ctx, "task-events", discovery.TaskEvent{TaskID: "t1", Status: discovery.TaskStatusSuccess})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(ctx, "task-events", discovery.TaskEvent{TaskID: "t2", Status: discovery.TaskStatusFailure})
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	events := pub.Events()
	require.Len(t, events, 2)
	require.Equal(t, "t1", events[0].Event.TaskID)
	require.Equal(t, discovery.TaskStatusFailure, events[1].Event.Status)

	events[0].Topic = "modified"
	require.Equal(t, "task-events", pub.Events()[0].Topic, "Events must return a copy")
}

func TestPublisherRequiresTopic(t *testing.T) {
	t.Parallel()

	_, err := New().Publish(context.Background(), "", discovery.TaskEvent{})
	require.Error(t, err)
	require.Empty(t, New().Events())
}
