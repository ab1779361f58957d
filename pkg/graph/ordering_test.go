package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/humus/pkg/core"
)

func texts(items []*core.Node) []string {
	out := make([]string, len(items))
	for i, n := range items {
		out[i] = n.Text
	}
	return out
}

// assertStrictKeys checks that keys ascend within every sibling group of a
// list in display order, however the groups interleave.
func assertStrictKeys(t *testing.T, items []*core.Node) {
	t.Helper()
	groups := make(map[string][]*core.Node)
	for _, n := range items {
		groups[n.SuperItemID] = append(groups[n.SuperItemID], n)
	}
	for sup, sibs := range groups {
		for i := 1; i < len(sibs); i++ {
			assert.Less(t, sibs[i-1].SortValue, sibs[i].SortValue, "keys of %q and %q under %q", sibs[i-1].Text, sibs[i].Text, sup)
		}
	}
}

func newList(t *testing.T, g *Graph, items ...string) (string, []string) {
	t.Helper()
	list, err := g.CreateNode(core.KindList, "")
	require.NoError(t, err)
	var ids []string
	for _, text := range items {
		id, err := g.AddItem(list, text, false, core.PlacementBottom)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return list, ids
}

func TestAddItemPlacement(t *testing.T) {
	g := newTestGraph()
	list, _ := newList(t, g, "b", "c")

	_, err := g.AddItem(list, "a", false, core.PlacementTop)
	require.NoError(t, err)
	_, err = g.AddItem(list, "d", false, core.PlacementDefault)
	require.NoError(t, err)

	items := g.Items(list)
	assert.Equal(t, []string{"a", "b", "c", "d"}, texts(items))
	assertStrictKeys(t, items)
}

func TestAddItemAfterRespaces(t *testing.T) {
	g := New(WithIDAllocator(NewSequence("tmp-")), WithClock(fixedClock()), WithSortGap(4))
	list, ids := newList(t, g, "first", "last")

	// Insert repeatedly right after the first item until neighbours touch.
	after := ids[0]
	want := []string{"first"}
	for i := range 6 {
		text := string(rune('a' + i))
		id, err := g.AddItemAfter(after, text, false)
		require.NoError(t, err)
		after = id
		want = append(want, text)
	}
	want = append(want, "last")

	items := g.Items(list)
	assert.Equal(t, want, texts(items))
	assertStrictKeys(t, items)
}

func TestMoveItem(t *testing.T) {
	g := newTestGraph()
	list, ids := newList(t, g, "a", "b", "c")

	require.NoError(t, g.MoveItem(ids[0], ids[2]))
	assert.Equal(t, []string{"b", "c", "a"}, texts(g.Items(list)))

	require.NoError(t, g.MoveItem(ids[2], ""))
	assert.Equal(t, []string{"c", "b", "a"}, texts(g.Items(list)))

	assert.ErrorIs(t, g.MoveItem(ids[0], "missing"), core.ErrInvalid)
}

func TestIndentDedent(t *testing.T) {
	g := newTestGraph()
	list, ids := newList(t, g, "a", "b", "c", "d")
	a, b, c, d := ids[0], ids[1], ids[2], ids[3]

	require.NoError(t, g.Indent(a, c))
	require.NoError(t, g.Indent(a, b))
	items := g.Items(list)
	assert.Equal(t, []string{"a", "c", "b", "d"}, texts(items), "indent appends to sub-items")
	assertStrictKeys(t, items)

	subs := g.SubItems(a)
	require.Len(t, subs, 2)
	assert.Equal(t, a, subs[0].SuperItemID)

	t.Run("Indenting an item with sub-items", func(t *testing.T) {
		assert.ErrorIs(t, g.Indent(d, a), core.ErrInvalid)
	})

	t.Run("Nesting under an indented item", func(t *testing.T) {
		assert.ErrorIs(t, g.Indent(c, d), core.ErrInvalid)
	})

	t.Run("Dedent lands after the former parent", func(t *testing.T) {
		require.NoError(t, g.Dedent(b))
		items := g.Items(list)
		assert.Equal(t, []string{"a", "c", "b", "d"}, texts(items))
		n, _ := g.Get(b)
		assert.Empty(t, n.SuperItemID)
		assertStrictKeys(t, items)
	})

	t.Run("Dedent of a top-level item is a no-op", func(t *testing.T) {
		rev := g.Stats().Revision
		require.NoError(t, g.Dedent(d))
		assert.Equal(t, rev, g.Stats().Revision)
	})
}

func TestSortItems(t *testing.T) {
	g := newTestGraph()
	list, ids := newList(t, g, "pear", "Apple", "fig")
	require.NoError(t, g.Mutate(ids[1], core.FieldChecked, true))

	require.NoError(t, g.SortItems(list, DefaultCompare(core.CheckedGraveyard)))
	assert.Equal(t, []string{"fig", "pear", "Apple"}, texts(g.Items(list)))

	require.NoError(t, g.SortItems(list, DefaultCompare(core.CheckedDefault)))
	items := g.Items(list)
	assert.Equal(t, []string{"Apple", "fig", "pear"}, texts(items))
	assertStrictKeys(t, items)
}

func TestConversions(t *testing.T) {
	g := newTestGraph()
	note, _ := g.CreateNode(core.KindNote, "")
	require.NoError(t, g.Mutate(note, core.FieldTitle, "Trip"))
	require.NoError(t, g.Mutate(note, core.FieldText, "tickets\n\npassport\n"))

	list, err := g.NoteToList(note)
	require.NoError(t, err)
	l, _ := g.Get(list)
	assert.Equal(t, "Trip", l.Title)
	assert.Equal(t, []string{"tickets", "passport"}, texts(g.Items(list)))

	back, err := g.ListToNote(list)
	require.NoError(t, err)
	n, _ := g.Get(back)
	assert.Equal(t, "☐ tickets\n☐ passport", n.Text)

	_, err = g.NoteToList(list)
	assert.ErrorIs(t, err, core.ErrInvalid)
}

func TestStrictKeysAcrossSubItems(t *testing.T) {
	g := newTestGraph()
	list, ids := newList(t, g, "a", "b")
	require.NoError(t, g.Indent(ids[0], ids[1]))
	c, err := g.AddItem(list, "c", false, core.PlacementBottom)
	require.NoError(t, err)

	items := g.Items(list)
	assert.Equal(t, []string{"a", "b", "c"}, texts(items))
	assertStrictKeys(t, items)

	a, _ := g.Get(ids[0])
	last, _ := g.Get(c)
	assert.Less(t, a.SortValue, last.SortValue, "top-level items separated by a sub-item")
}
