package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/humus/pkg/core"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var n int
	return func() time.Time {
		n++
		return t0.Add(time.Duration(n) * time.Second)
	}
}

func newTestGraph() *Graph {
	return New(WithIDAllocator(NewSequence("tmp-")), WithClock(fixedClock()))
}

func TestCreateNode(t *testing.T) {
	g := newTestGraph()

	id, err := g.CreateNode(core.KindNote, "")
	require.NoError(t, err)
	assert.Equal(t, "tmp-1", id)

	n, ok := g.Get(id)
	require.True(t, ok)
	assert.Equal(t, core.RootID, n.ParentID)
	assert.Equal(t, core.ColorWhite, n.Color)

	dirty := g.CollectDirty()
	require.Len(t, dirty, 1)
	assert.True(t, dirty[0].New)
	assert.Contains(t, dirty[0].Fields, core.FieldTitle)
	assert.NotContains(t, dirty[0].Fields, core.FieldChecked)

	t.Run("List item needs a list", func(t *testing.T) {
		_, err := g.CreateNode(core.KindListItem, id)
		assert.ErrorIs(t, err, core.ErrInvalid)
	})

	t.Run("Unknown parent", func(t *testing.T) {
		_, err := g.CreateNode(core.KindListItem, "nope")
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("Blobs are service-created", func(t *testing.T) {
		_, err := g.CreateNode(core.KindBlob, id)
		assert.ErrorIs(t, err, core.ErrInvalid)
	})
}

func TestSequenceSkipsTakenIDs(t *testing.T) {
	g := newTestGraph()
	require.NoError(t, g.Import(Export{Nodes: []*core.Node{
		core.NewNode("tmp-1", core.KindNote, core.RootID, time.Now()),
	}}))

	id, err := g.CreateNode(core.KindNote, "")
	require.NoError(t, err)
	assert.Equal(t, "tmp-2", id)
}

func TestMutate(t *testing.T) {
	g := newTestGraph()
	id, _ := g.CreateNode(core.KindNote, "")
	entry := g.CollectDirty()[0]
	require.True(t, g.ClearDirty(id, entry.Rev))
	require.False(t, g.IsDirty(id))

	t.Run("Equal value is a no-op", func(t *testing.T) {
		require.NoError(t, g.Mutate(id, core.FieldTitle, ""))
		assert.False(t, g.IsDirty(id))
	})

	t.Run("Marks field and timestamps", func(t *testing.T) {
		before, _ := g.Get(id)
		require.NoError(t, g.Mutate(id, core.FieldTitle, "Groceries"))

		dirty := g.CollectDirty()
		require.Len(t, dirty, 1)
		assert.Equal(t, []core.Field{core.FieldTitle, core.FieldTimestamps}, dirty[0].Fields)
		assert.False(t, dirty[0].New)

		after, _ := g.Get(id)
		assert.True(t, after.Timestamps.Edited.After(before.Timestamps.Edited))
		assert.True(t, after.Timestamps.Updated.After(before.Timestamps.Updated))
	})

	t.Run("Sub-collection edits stay local", func(t *testing.T) {
		g.ClearDirty(id, g.Stats().Revision)
		require.NoError(t, g.AddCollaborator(id, "a@example.com"))
		dirty := g.CollectDirty()
		require.Len(t, dirty, 1)
		assert.Equal(t, []core.Field{core.FieldCollaborators}, dirty[0].Fields)
	})

	t.Run("Wrong type", func(t *testing.T) {
		assert.ErrorIs(t, g.Mutate(id, core.FieldPinned, "yes"), core.ErrInvalid)
	})

	t.Run("Unknown node", func(t *testing.T) {
		assert.ErrorIs(t, g.Mutate("missing", core.FieldTitle, "x"), core.ErrNotFound)
	})
}

func TestClearDirtyKeepsNewerEdits(t *testing.T) {
	g := newTestGraph()
	id, _ := g.CreateNode(core.KindNote, "")
	g.ClearDirty(id, g.Stats().Revision)

	require.NoError(t, g.Mutate(id, core.FieldTitle, "one"))
	snap := g.CollectDirty()
	require.Len(t, snap, 1)

	// Edit lands while the push is in flight.
	require.NoError(t, g.Mutate(id, core.FieldText, "body"))

	clean := g.ClearDirty(id, snap[0].Rev)
	assert.False(t, clean)

	dirty := g.CollectDirty()
	require.Len(t, dirty, 1)
	assert.Equal(t, []core.Field{core.FieldText, core.FieldTimestamps}, dirty[0].Fields)
	assert.Equal(t, "one", snap[0].Node.Title, "snapshot is frozen")
}

func TestCollectDirtyOrder(t *testing.T) {
	g := newTestGraph()
	b, _ := g.CreateNode(core.KindList, "")
	a, _ := g.CreateNode(core.KindNote, "")
	first, err := g.AddItem(b, "first", false, core.PlacementBottom)
	require.NoError(t, err)
	second, err := g.AddItem(b, "second", false, core.PlacementBottom)
	require.NoError(t, err)
	require.NoError(t, g.Indent(first, second))
	top, err := g.AddItem(b, "top", false, core.PlacementTop)
	require.NoError(t, err)

	var got []string
	for _, e := range g.CollectDirty() {
		got = append(got, e.Node.ID)
	}
	// Top-level by ID; items un-indented first, then by key.
	assert.Equal(t, []string{b, top, first, second, a}, got)
}

func TestTrashAndDelete(t *testing.T) {
	g := newTestGraph()
	id, _ := g.CreateNode(core.KindNote, "")

	require.NoError(t, g.Trash(id))
	n, _ := g.Get(id)
	assert.True(t, n.Trashed())

	require.NoError(t, g.Untrash(id))
	n, _ = g.Get(id)
	assert.False(t, n.Trashed())

	require.NoError(t, g.Delete(id))
	n, ok := g.Get(id)
	require.True(t, ok, "deleted nodes stay until acknowledged")
	assert.True(t, n.Deleted())
	assert.Empty(t, g.All())
}

func TestCollaborators(t *testing.T) {
	g := newTestGraph()
	id, _ := g.CreateNode(core.KindNote, "")

	require.NoError(t, g.AddCollaborator(id, "a@example.com"))
	n, _ := g.Get(id)
	assert.Equal(t, core.RoleAdd, n.Collaborators["a@example.com"])

	require.NoError(t, g.RemoveCollaborator(id, "a@example.com"))
	n, _ = g.Get(id)
	assert.NotContains(t, n.Collaborators, "a@example.com", "pending add is withdrawn")

	require.NoError(t, g.Update(func(tx *Tx) error {
		node, _ := tx.Node(id)
		node.Collaborators["b@example.com"] = core.RoleWriter
		return nil
	}))
	require.NoError(t, g.RemoveCollaborator(id, "b@example.com"))
	n, _ = g.Get(id)
	assert.Equal(t, core.RoleRemove, n.Collaborators["b@example.com"])
	assert.Empty(t, n.CollaboratorEmails())
}

func TestUpdateRollsBack(t *testing.T) {
	g := newTestGraph()
	id, _ := g.CreateNode(core.KindList, "")

	err := g.Update(func(tx *Tx) error {
		n, _ := tx.Node(id)
		n.Title = "staged"
		return tx.Insert(core.NewNode("orphan", core.KindListItem, "missing", tx.Now()))
	})
	var ce *core.ConsistencyError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "orphan", ce.ID)

	n, _ := g.Get(id)
	assert.Empty(t, n.Title)
	_, ok := g.Get("orphan")
	assert.False(t, ok)
}

func TestRewriteID(t *testing.T) {
	g := newTestGraph()
	list, _ := g.CreateNode(core.KindList, "")
	parent, _ := g.AddItem(list, "parent", false, core.PlacementBottom)
	child, _ := g.AddItem(list, "child", false, core.PlacementBottom)
	require.NoError(t, g.Indent(parent, child))
	label, err := g.CreateLabel("home")
	require.NoError(t, err)
	require.NoError(t, g.AddLabel(list, label))

	require.NoError(t, g.Update(func(tx *Tx) error {
		if err := tx.RewriteID(list, "L1"); err != nil {
			return err
		}
		if err := tx.RewriteID(parent, "I1"); err != nil {
			return err
		}
		return tx.RewriteLabelID(label, "lab1")
	}))

	_, ok := g.Get(list)
	assert.False(t, ok, "provisional id is not kept as an alias")

	l, ok := g.Get("L1")
	require.True(t, ok)
	assert.True(t, l.HasLabel("lab1"))

	c, _ := g.Get(child)
	assert.Equal(t, "L1", c.ParentID)
	assert.Equal(t, "I1", c.SuperItemID)
	assert.True(t, g.IsDirty("L1"))
	assert.Len(t, g.Children("L1"), 2)

	_, ok = g.Label("lab1")
	assert.True(t, ok)

	t.Run("Collision", func(t *testing.T) {
		err := g.Update(func(tx *Tx) error { return tx.RewriteID(child, "I1") })
		var ce *core.ConsistencyError
		assert.ErrorAs(t, err, &ce)
	})
}

func TestExportImport(t *testing.T) {
	g := newTestGraph()
	list, _ := g.CreateNode(core.KindList, "")
	_, _ = g.AddItem(list, "milk", false, core.PlacementBottom)
	_, _ = g.CreateLabel("shop")

	ex := g.Export()
	h := newTestGraph()
	require.NoError(t, h.Import(ex))

	assert.Equal(t, g.Stats(), h.Stats())
	assert.Equal(t, g.Dirty(), h.Dirty())
}

func TestRebase(t *testing.T) {
	g := newTestGraph()
	require.NoError(t, g.Import(Export{Nodes: []*core.Node{
		remoteNote("n1", "Remote one"),
		remoteNote("n2", "Remote two"),
	}}))
	require.NoError(t, g.Mutate("n1", core.FieldTitle, "Local one"))
	local, _ := g.CreateNode(core.KindNote, "")

	baseline := []*core.Node{
		remoteNote("n1", "Server one"),
		remoteNote("n3", "Server three"),
	}
	require.NoError(t, g.Update(func(tx *Tx) error {
		tx.Rebase(baseline, nil)
		return nil
	}))

	n1, _ := g.Get("n1")
	assert.Equal(t, "Local one", n1.Title, "dirty field wins")
	_, ok := g.Get("n2")
	assert.False(t, ok, "clean node missing from baseline is dropped")
	_, ok = g.Get("n3")
	assert.True(t, ok)
	_, ok = g.Get(local)
	assert.True(t, ok, "unacknowledged node survives")
	assert.True(t, g.IsDirty(local))
}

func remoteNote(id, title string) *core.Node {
	n := core.NewNode(id, core.KindNote, core.RootID, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	n.Title = title
	return n
}

func TestStaleAckKeepsNewMark(t *testing.T) {
	g := newTestGraph()
	id, _ := g.CreateNode(core.KindNote, "")
	created := g.CollectDirty()[0].Rev

	assert.False(t, g.ClearDirty(id, created-1))
	dirty := g.CollectDirty()
	require.Len(t, dirty, 1)
	assert.True(t, dirty[0].New, "an ack that clears nothing is a no-op")

	// The title changes again before the creation is acknowledged.
	require.NoError(t, g.Mutate(id, core.FieldTitle, "t"))
	assert.False(t, g.ClearDirty(id, created))
	dirty = g.CollectDirty()
	require.Len(t, dirty, 1)
	assert.False(t, dirty[0].New)
	assert.Equal(t, []core.Field{core.FieldTitle, core.FieldTimestamps}, dirty[0].Fields)
}

func TestMutateRejectsStructuralFields(t *testing.T) {
	g := newTestGraph()
	list, _ := g.CreateNode(core.KindList, "")
	item, _ := g.AddItem(list, "milk", false, core.PlacementBottom)
	lbl, _ := g.CreateLabel("shop")
	g.ClearDirty(list, g.Stats().Revision)
	g.ClearDirty(item, g.Stats().Revision)

	tests := []struct {
		name  string
		id    string
		field core.Field
		value any
	}{
		{"sort", item, core.FieldSort, int64(1)},
		{"super item", item, core.FieldSuperItem, list},
		{"labels", list, core.FieldLabels, map[string]struct{}{lbl: {}}},
		{"collaborators", list, core.FieldCollaborators, map[string]core.Role{"a@example.com": core.RoleAdd}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, g.Mutate(tt.id, tt.field, tt.value), core.ErrInvalid)
			assert.False(t, g.IsDirty(tt.id))
		})
	}
}

func TestNoteBodyItem(t *testing.T) {
	note := core.NewNode("n1", core.KindNote, core.RootID, time.Unix(1, 0))
	note.Text = "eggs and milk"
	body := core.NewNode("b1", core.KindListItem, "n1", time.Unix(1, 0))
	body.Text = "eggs and milk"

	g := newTestGraph()
	require.NoError(t, g.Import(Export{Nodes: []*core.Node{note, body}}), "a note may hold its body item")

	require.NoError(t, g.Mutate("n1", core.FieldText, "eggs"))
	got, _ := g.Get("b1")
	assert.Equal(t, "eggs", got.Text, "body item follows the note")

	dirty := g.CollectDirty()
	require.Len(t, dirty, 2)
	assert.Equal(t, "n1", dirty[0].Node.ID)
	assert.Equal(t, "b1", dirty[1].Node.ID)
	assert.Contains(t, dirty[1].Fields, core.FieldText)
}

func TestNoteBodyItemIsNotAListItem(t *testing.T) {
	note := core.NewNode("n1", core.KindNote, core.RootID, time.Unix(1, 0))
	body := core.NewNode("b1", core.KindListItem, "n1", time.Unix(1, 0))
	g := newTestGraph()
	require.NoError(t, g.Import(Export{Nodes: []*core.Node{note, body}}))

	assert.ErrorIs(t, g.MoveItem("b1", ""), core.ErrInvalid)
	_, err := g.AddItemAfter("b1", "x", false)
	assert.ErrorIs(t, err, core.ErrInvalid)
}
