package reconciler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibsdb/bibselv/fbs"
	"github.com/bibsdb/bibselv/fbs/reconciler"
	"github.com/bibsdb/bibselv/testutil/fbstest"
)

func Test_Queue_FIFO(t *testing.T) {
	// arrange
	queue, err := reconciler.NewQueue()
	require.NoError(t, err)

	// act
	require.NoError(t, queue.Enqueue(context.Background(), fbs.QueueEntry{ItemIdentifier: "book-1001"}))
	require.NoError(t, queue.Enqueue(context.Background(), fbs.QueueEntry{ItemIdentifier: "book-1002"}))

	// assert
	first, ok := queue.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "book-1001", first.ItemIdentifier)

	second, ok := queue.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "book-1002", second.ItemIdentifier)

	_, ok = queue.Dequeue()
	assert.False(t, ok)
}

func Test_Queue_Enqueue_Error_AtCapacity(t *testing.T) {
	// arrange
	queue, err := reconciler.NewQueue(reconciler.WithQueueCapacity(1))
	require.NoError(t, err)

	require.NoError(t, queue.Enqueue(context.Background(), fbs.QueueEntry{ItemIdentifier: "book-1001"}))

	// act
	err = queue.Enqueue(context.Background(), fbs.QueueEntry{ItemIdentifier: "book-1002"})

	// assert
	assert.ErrorIs(t, err, reconciler.ErrQueueFull)
	assert.Equal(t, 1, queue.Len())
}

func Test_Queue_Requeue_PutsEntryAtTheFront(t *testing.T) {
	// arrange
	queue, err := reconciler.NewQueue()
	require.NoError(t, err)

	require.NoError(t, queue.Enqueue(context.Background(), fbs.QueueEntry{ItemIdentifier: "book-1002"}))

	// act
	queue.Requeue(fbs.QueueEntry{ItemIdentifier: "book-1001"})

	// assert
	first, ok := queue.Dequeue()
	require.True(t, ok)
	assert.Equal(t, "book-1001", first.ItemIdentifier)
}

func Test_Queue_Error_InvalidCapacity(t *testing.T) {
	_, err := reconciler.NewQueue(reconciler.WithQueueCapacity(0))

	assert.ErrorIs(t, err, reconciler.ErrInvalidCapacity)
}

func Test_Queue_ReportsDepthGauge(t *testing.T) {
	// arrange
	metrics := fbstest.NewMetricsCollectorSpy()
	queue, err := reconciler.NewQueue(reconciler.WithQueueMetrics(metrics))
	require.NoError(t, err)

	// act
	require.NoError(t, queue.Enqueue(context.Background(), fbs.QueueEntry{ItemIdentifier: "book-1001"}))
	require.NoError(t, queue.Enqueue(context.Background(), fbs.QueueEntry{ItemIdentifier: "book-1002"}))
	queue.Dequeue()

	// assert
	depth, recorded := metrics.LastValue(reconciler.QueueDepthMetric, nil)
	require.True(t, recorded)
	assert.Equal(t, float64(1), depth)
}
