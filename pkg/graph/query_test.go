package graph

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/humus/pkg/core"
)

func ids(nodes []*core.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

func TestFind(t *testing.T) {
	g := newTestGraph()

	recipe, _ := g.CreateNode(core.KindNote, "")
	require.NoError(t, g.Mutate(recipe, core.FieldTitle, "Recipe: soup"))
	require.NoError(t, g.Mutate(recipe, core.FieldColor, core.ColorGreen))

	shopping, _ := newList(t, g, "Leeks", "Potatoes")
	require.NoError(t, g.Mutate(shopping, core.FieldTitle, "Shopping"))
	require.NoError(t, g.Mutate(shopping, core.FieldPinned, true))

	old, _ := g.CreateNode(core.KindNote, "")
	require.NoError(t, g.Mutate(old, core.FieldTitle, "Recipe: old"))
	require.NoError(t, g.Trash(old))

	gone, _ := g.CreateNode(core.KindNote, "")
	require.NoError(t, g.Delete(gone))

	home, err := g.CreateLabel("Home")
	require.NoError(t, err)
	require.NoError(t, g.AddLabel(recipe, home))

	tests := []struct {
		name  string
		preds []Predicate
		want  []string
	}{
		{"All live, pinned first", nil, []string{shopping, recipe, old}},
		{"Not trashed", []Predicate{StateFilter{Trashed: Ptr(false)}}, []string{shopping, recipe}},
		{"Label", []Predicate{HasLabels(home)}, []string{recipe}},
		{"Unlabeled", []Predicate{HasLabels()}, []string{shopping, old}},
		{"Color", []Predicate{HasColors(core.ColorGreen, core.ColorRed)}, []string{recipe}},
		{"Item text", []Predicate{Text("potato")}, []string{shopping}},
		{"Regexp", []Predicate{Regexp(regexp.MustCompile(`^Recipe: s`))}, []string{recipe}},
		{"Glob", []Predicate{TitleGlob("Recipe:*")}, []string{recipe, old}},
		{"Malformed glob", []Predicate{TitleGlob("[")}, nil},
		{"Or", []Predicate{Or(HasLabels(home), StateFilter{Pinned: Ptr(true)})}, []string{shopping, recipe}},
		{"Not", []Predicate{Not(Text("recipe"))}, []string{shopping}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.Find(tt.preds...)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestLabels(t *testing.T) {
	g := newTestGraph()
	note, _ := g.CreateNode(core.KindNote, "")

	id, err := g.CreateLabel("Work")
	require.NoError(t, err)

	_, err = g.CreateLabel("work")
	assert.ErrorIs(t, err, core.ErrLabelExists)

	require.NoError(t, g.AddLabel(note, id))
	assert.ErrorIs(t, g.AddLabel(note, "missing"), core.ErrNotFound)

	other, _ := g.CreateLabel("Errands")
	assert.ErrorIs(t, g.RenameLabel(other, "WORK"), core.ErrLabelExists)
	require.NoError(t, g.RenameLabel(other, "Chores"))

	var names []string
	for _, l := range g.Labels() {
		names = append(names, l.Name)
	}
	assert.Equal(t, []string{"Chores", "Work"}, names)

	require.NoError(t, g.DeleteLabel(id))
	n, _ := g.Get(note)
	assert.False(t, n.HasLabel(id))
	_, ok := g.FindLabel("Work")
	assert.False(t, ok)

	l, ok := g.Label(id)
	require.True(t, ok, "deleted labels stay until acknowledged")
	assert.True(t, l.Deleted())

	set := g.Dirty()
	assert.Len(t, set.Labels, 2)
}

func TestLabelLookups(t *testing.T) {
	g := newTestGraph()
	work, err := g.EnsureLabel("Work")
	require.NoError(t, err)

	again, err := g.EnsureLabel("WORK")
	require.NoError(t, err)
	assert.Equal(t, work, again, "existing label is reused")

	_, err = g.EnsureLabel(" ")
	assert.ErrorIs(t, err, core.ErrInvalid)

	_, _ = g.CreateLabel("Workshop")
	home, _ := g.CreateLabel("Home")

	var names []string
	for _, l := range g.MatchLabels(regexp.MustCompile(`(?i)^work`)) {
		names = append(names, l.Name)
	}
	assert.Equal(t, []string{"Work", "Workshop"}, names)

	require.NoError(t, g.DeleteLabel(home))
	assert.Empty(t, g.MatchLabels(regexp.MustCompile(`Home`)), "deleted labels never match")

	recreated, err := g.EnsureLabel("Home")
	require.NoError(t, err)
	assert.NotEqual(t, home, recreated)
}
