package queue

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/pipelab/internal/storage"
)

func newQueue(t *testing.T) *Queue {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db)
}

func TestQueueFIFO(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	id1, err := q.Enqueue(ctx, EnqueueRequest{Pipeline: "a", SubmittedBy: "api", Payload: json.RawMessage(`{"x":1}`)})
	require.NoError(t, err)
	id2, err := q.Enqueue(ctx, EnqueueRequest{Pipeline: "b", Trigger: "system:webhook", SubmittedBy: "webhook"})
	require.NoError(t, err)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, depth)

	j1, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, j1)
	assert.Equal(t, id1, j1.ID)
	assert.Equal(t, StatusRunning, j1.Status)
	assert.Equal(t, DefaultTrigger, j1.Trigger)
	assert.JSONEq(t, `{"x":1}`, string(j1.Payload))
	assert.NotNil(t, j1.StartedAt)

	j2, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, id2, j2.ID)
	assert.Equal(t, "system:webhook", j2.Trigger)

	empty, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestQueueCompleteAndGet(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()
	id, err := q.Enqueue(ctx, EnqueueRequest{Pipeline: "a", SubmittedBy: "cli"})
	require.NoError(t, err)
	_, err = q.Dequeue(ctx)
	require.NoError(t, err)

	assert.Error(t, q.Complete(ctx, id, StatusRunning, nil))
	msg := "boom"
	require.NoError(t, q.Complete(ctx, id, StatusFailed, &msg))

	j, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, j.Status)
	require.NotNil(t, j.LastError)
	assert.Equal(t, "boom", *j.LastError)
	assert.NotNil(t, j.CompletedAt)

	_, err = q.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, q.Complete(ctx, "nope", StatusSucceeded, nil), ErrJobNotFound)
}

func TestEnqueueValidation(t *testing.T) {
	q := newQueue(t)
	_, err := q.Enqueue(context.Background(), EnqueueRequest{SubmittedBy: "x"})
	assert.Error(t, err)
	_, err = q.Enqueue(context.Background(), EnqueueRequest{Pipeline: "p"})
	assert.Error(t, err)
}

func TestRecoverOrphans(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()
	_, err := q.Enqueue(ctx, EnqueueRequest{Pipeline: "a", SubmittedBy: "cli"})
	require.NoError(t, err)
	_, err = q.Dequeue(ctx)
	require.NoError(t, err)

	n, err := q.RecoverOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	j, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.NotNil(t, j)
}
