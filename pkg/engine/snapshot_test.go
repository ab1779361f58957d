package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/humus/pkg/adapters/memory"
	"github.com/aretw0/humus/pkg/core"
	"github.com/aretw0/humus/pkg/graph"
)

func TestDumpRestore(t *testing.T) {
	srv := memory.New()
	seedNote(srv, "n1", "synced", "body")
	// Wire timestamps carry microseconds; keep the clock on whole seconds.
	g := graph.New(
		graph.WithIDAllocator(graph.NewSequence("tmp-")),
		graph.WithClock(func() time.Time { return epoch.Add(time.Minute) }),
	)
	eng := New(g, srv)
	ctx := context.Background()

	_, err := eng.Sync(ctx)
	require.NoError(t, err)
	require.NoError(t, g.Mutate("n1", core.FieldTitle, "offline edit"))
	list, err := g.CreateNode(core.KindList, "")
	require.NoError(t, err)
	_, err = g.AddItem(list, "Bread", false, core.PlacementBottom)
	require.NoError(t, err)
	_, err = g.CreateLabel("errands")
	require.NoError(t, err)

	snap, err := eng.Dump()
	require.NoError(t, err)
	assert.Equal(t, SnapshotFormat, snap.Format)
	assert.Equal(t, eng.Watermark(), snap.Watermark)

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	var loaded Snapshot
	require.NoError(t, json.Unmarshal(data, &loaded))

	g2 := graph.New(graph.WithIDAllocator(graph.NewSequence("tmp-")))
	eng2 := New(g2, srv)
	require.NoError(t, eng2.Restore(&loaded))

	if diff := cmp.Diff(g.Export(), g2.Export()); diff != "" {
		t.Errorf("restored graph differs (-want +got):\n%s", diff)
	}
	assert.Equal(t, eng.Watermark(), eng2.Watermark())
	assert.Equal(t, StateSynced, eng2.Status())

	// The restored replica picks up where the first left off.
	res, err := eng2.Sync(ctx)
	require.NoError(t, err)
	assert.False(t, res.Full)
	assert.Empty(t, g2.CollectDirty())
	onServer, _ := srv.Get("n1")
	assert.Equal(t, "offline edit", onServer.Title)
}

func TestRestoreRejectsUnknownFormat(t *testing.T) {
	g := graph.New()
	eng := New(g, memory.New())
	id, err := g.CreateNode(core.KindNote, "")
	require.NoError(t, err)

	err = eng.Restore(&Snapshot{Format: SnapshotFormat + 1})
	require.ErrorIs(t, err, core.ErrSnapshotFormat)
	_, ok := g.Get(id)
	assert.True(t, ok)
}

func TestRestoreRejectsCorruptNodes(t *testing.T) {
	g := graph.New()
	eng := New(g, memory.New())

	err := eng.Restore(&Snapshot{
		Format: SnapshotFormat,
		Nodes:  []json.RawMessage{json.RawMessage(`{"kind":"notes#node","id":"x","type":"NOPE"}`)},
	})
	var pe *core.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Zero(t, g.Len())
	assert.Equal(t, StateUnsynced, eng.Status())
}
