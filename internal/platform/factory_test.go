package platform

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/humus/pkg/adapters/memory"
	"github.com/aretw0/humus/pkg/core"
	"github.com/aretw0/humus/pkg/graph"
)

func TestNewRequiresTransport(t *testing.T) {
	_, err := New()
	assert.ErrorIs(t, err, ErrNoTransport)
}

func TestReplicaPersistsAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	srv := memory.New()
	path := filepath.Join(t.TempDir(), "replica.humus")

	r, err := New(WithTransport(srv), WithSnapshot(path), WithIDPrefix("local-"))
	require.NoError(t, err)
	id, err := r.Graph.CreateNode(core.KindNote, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "local-"))
	require.NoError(t, r.Graph.Mutate(id, core.FieldTitle, "remember me"))
	require.NoError(t, r.Save())

	// A fresh process picks up the unsynced edit and pushes it.
	r2, err := New(WithTransport(srv), WithSnapshot(path))
	require.NoError(t, err)
	n, ok := r2.Graph.Get(id)
	require.True(t, ok)
	assert.Equal(t, "remember me", n.Title)

	_, err = r2.Sync(ctx)
	require.NoError(t, err)
	require.Len(t, srv.Nodes(), 1)
	assert.Equal(t, "remember me", srv.Nodes()[0].Title)

	st := r2.Store.State()
	assert.NotNil(t, st)
}

func TestSortList(t *testing.T) {
	r, err := New(WithTransport(memory.New()), WithIDAllocator(graph.NewSequence("tmp-")))
	require.NoError(t, err)
	g := r.Graph

	list, err := g.CreateNode(core.KindList, "")
	require.NoError(t, err)
	for _, item := range []struct {
		text    string
		checked bool
	}{{"cherries", false}, {"apples", true}, {"bananas", false}} {
		_, err := g.AddItem(list, item.text, item.checked, core.PlacementBottom)
		require.NoError(t, err)
	}

	// New lists default to the graveyard policy.
	require.NoError(t, r.SortList(list))
	assert.Equal(t, []string{"bananas", "cherries", "apples"}, itemTexts(g.Items(list)))

	r.checkedPolicy = core.CheckedDefault
	require.NoError(t, r.SortList(list))
	assert.Equal(t, []string{"apples", "bananas", "cherries"}, itemTexts(g.Items(list)))

	r.checkedPolicy = ""
	assert.ErrorIs(t, r.SortList("missing"), core.ErrNotFound)
}

func TestAutoSync(t *testing.T) {
	srv := memory.New()
	r, err := New(WithTransport(srv), WithSnapshot(filepath.Join(t.TempDir(), "replica.humus")))
	require.NoError(t, err)

	w := r.AutoSync(time.Hour)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = w.Stop(ctx)
	})

	require.Eventually(t, func() bool {
		_, err := r.Store.Load()
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
}

func itemTexts(items []*core.Node) []string {
	out := make([]string, len(items))
	for i, n := range items {
		out[i] = n.Text
	}
	return out
}
