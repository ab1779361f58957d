package lifecycle

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/humus/pkg/adapters/fs"
	"github.com/aretw0/humus/pkg/adapters/memory"
	"github.com/aretw0/humus/pkg/core"
	"github.com/aretw0/humus/pkg/engine"
	"github.com/aretw0/humus/pkg/graph"
)

func TestSourceFiltersEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan core.Event, 3)
	in <- core.Event{Type: core.EventModify, ID: "a"}
	in <- core.Event{Type: core.EventDelete, ID: "b"}
	in <- core.Event{Type: core.EventModify, ID: "c"}
	close(in)

	src := NewSource(in, core.EventModify)
	require.NoError(t, src.Start(ctx))

	var got []string
	for e := range src.Events() {
		got = append(got, e.(core.Event).ID)
	}
	assert.Equal(t, []string{"a", "c"}, got)
}

func TestEngineSource(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := memory.New()
	srv.Put(core.NewNode("n1", core.KindNote, core.RootID, time.Now()))
	eng := engine.New(graph.New(), srv)

	src := EngineSource(eng, core.EventResync)
	require.NoError(t, src.Start(ctx))
	_, err := eng.Sync(ctx)
	require.NoError(t, err)

	select {
	case e := <-src.Events():
		assert.Equal(t, core.EventResync, e.(core.Event).Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for resync event")
	}
}

type countingStore struct {
	n   atomic.Int32
	err error
}

func (c *countingStore) Checkpoint(*engine.Engine) error {
	c.n.Add(1)
	return c.err
}

func TestSyncWorker(t *testing.T) {
	srv := memory.New()
	g := graph.New()
	eng := engine.New(g, srv)
	store := &countingStore{}

	w := NewSyncWorker(eng, WithInterval(time.Hour), WithCheckpoint(store))
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = w.Stop(stopCtx)
	})

	// The first round runs at start.
	require.Eventually(t, func() bool { return len(srv.Requests()) == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err := g.CreateNode(core.KindNote, "")
	require.NoError(t, err)
	w.Trigger()
	require.Eventually(t, func() bool { return len(srv.Nodes()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return w.State().Metadata["rounds"] == "2" }, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 2, store.n.Load())
	assert.NoError(t, w.LastError())

	require.Error(t, w.Start(context.Background()), "second start is refused")
}

func TestSyncWorkerSurvivesFailures(t *testing.T) {
	srv := memory.New()
	srv.FailNext(errors.New("service unavailable"))
	eng := engine.New(graph.New(), srv)

	var reported atomic.Int32
	w := NewSyncWorker(eng, WithInterval(time.Hour), WithErrorHandler(func(error) { reported.Add(1) }))
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = w.Stop(stopCtx)
	})

	require.Eventually(t, func() bool { return reported.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Error(t, w.LastError())

	w.Trigger()
	require.Eventually(t, func() bool { return w.LastError() == nil }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, engine.StateSynced, eng.Status())
}

func TestSyncWorkerCheckpointsToDisk(t *testing.T) {
	srv := memory.New()
	srv.Put(core.NewNode("n1", core.KindNote, core.RootID, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	eng := engine.New(graph.New(), srv)
	store := fs.NewStore(filepath.Join(t.TempDir(), "replica.humus"))

	w := NewSyncWorker(eng, WithInterval(time.Hour), WithCheckpoint(store))
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = w.Stop(stopCtx)
	})

	require.Eventually(t, func() bool {
		st := store.State().(fs.StoreState)
		return st.Saves == 1
	}, 2*time.Second, 5*time.Millisecond)

	snap, err := store.Load()
	require.NoError(t, err)
	assert.Len(t, snap.Nodes, 1)
	assert.Equal(t, eng.Watermark(), snap.Watermark)
}
