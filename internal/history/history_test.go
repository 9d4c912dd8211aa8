package history

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/pipelab/internal/engine"
	"github.com/mattjoyce/pipelab/internal/log"
	"github.com/mattjoyce/pipelab/internal/storage"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR", "json")
	os.Exit(m.Run())
}

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), storage.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func entry(id, pipeline string, started time.Time) Entry {
	return Entry{
		ID:           id,
		PipelineName: pipeline,
		Fingerprint:  "blake3:abc",
		Status:       engine.RunCompleted,
		StartedAt:    started,
		FinishedAt:   started.Add(time.Second),
		DurationMs:   1000,
		Steps: []ExecutionStep{{
			UID:       "s1",
			PluginID:  "system",
			NodeID:    "log",
			Status:    engine.StepCompleted,
			StartedAt: started,
			Outputs:   map[string]any{"n": 1.0},
			Logs:      []engine.LogEntry{{Time: started, Level: "info", Message: "hi"}},
		}},
	}
}

func TestSaveAndGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, s.Save(ctx, entry("r1", "p", start)))
	got, err := s.Get(ctx, "r1")
	require.NoError(t, err)

	assert.Equal(t, "p", got.PipelineName)
	assert.Equal(t, engine.RunCompleted, got.Status)
	assert.True(t, got.StartedAt.Equal(start))
	require.Len(t, got.Steps, 1)
	assert.Equal(t, "log", got.Steps[0].NodeID)
	assert.Equal(t, 1.0, got.Steps[0].Outputs["n"])
	assert.Equal(t, "hi", got.Steps[0].Logs[0].Message)

	// Saving again replaces rather than duplicates.
	e := entry("r1", "p", start)
	e.Status = engine.RunFailed
	require.NoError(t, s.Save(ctx, e))
	got, err = s.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, engine.RunFailed, got.Status)
	assert.Len(t, got.Steps, 1)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListDeleteClear(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(ctx, entry("old", "a", base)))
	require.NoError(t, s.Save(ctx, entry("mid", "b", base.Add(time.Hour))))
	require.NoError(t, s.Save(ctx, entry("new", "a", base.Add(2*time.Hour))))

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "new", all[0].ID)
	assert.Empty(t, all[0].Steps)

	limited, err := s.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	byA, err := s.ListByPipeline(ctx, "a", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "old"}, []string{byA[0].ID, byA[1].ID})

	require.NoError(t, s.Delete(ctx, "mid"))
	assert.ErrorIs(t, s.Delete(ctx, "mid"), ErrNotFound)

	n, err := s.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
