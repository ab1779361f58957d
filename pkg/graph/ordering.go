package graph

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/aretw0/humus/pkg/core"
)

// Sort keys ascend: a smaller key sorts earlier. Siblings are the items of
// one list that share a super item ("" for top-level items).

// siblings returns the items of listID under superID, by key then ID.
// Items whose super item no longer exists count as top-level.
func (s *state) siblings(listID, superID, exclude string) []*core.Node {
	var out []*core.Node
	for id := range s.children[listID] {
		n := s.nodes[id]
		if id == exclude || n.Kind != core.KindListItem {
			continue
		}
		sup := n.SuperItemID
		if _, ok := s.nodes[sup]; !ok {
			sup = ""
		}
		if sup == superID {
			out = append(out, n)
		}
	}
	slices.SortFunc(out, bySortKey)
	return out
}

func bySortKey(a, b *core.Node) int {
	return cmp.Or(cmp.Compare(a.SortValue, b.SortValue), cmp.Compare(a.ID, b.ID))
}

// keyAt returns a key that places a new item at index pos of sibs. If the
// neighbours leave no room, a window around pos is renumbered first.
func (s *state) keyAt(sibs []*core.Node, pos int, gap int64, now time.Time) int64 {
	switch {
	case len(sibs) == 0:
		return gap
	case pos == 0:
		return sibs[0].SortValue - gap
	case pos == len(sibs):
		return sibs[len(sibs)-1].SortValue + gap
	}
	lo, hi := sibs[pos-1].SortValue, sibs[pos].SortValue
	if hi-lo > 1 {
		return lo + (hi-lo)/2
	}
	return s.respace(sibs, pos, gap, now)
}

// respace renumbers the smallest window around pos that can be spread out
// again and returns the key for the slot at pos. The window grows one item on
// each side until the surrounding keys leave at least gap/16 between items, or
// until it reaches an end of the list, where keys are free to extend.
func (s *state) respace(sibs []*core.Node, pos int, gap int64, now time.Time) int64 {
	minStep := max(gap/16, 1)
	l, r := pos, pos
	for {
		if l > 0 {
			l--
		}
		if r < len(sibs) {
			r++
		}
		count := int64(r-l) + 1
		boundedLo, boundedHi := l > 0, r < len(sibs)

		var first, step int64
		switch {
		case boundedLo && boundedHi:
			lo, hi := sibs[l-1].SortValue, sibs[r].SortValue
			step = (hi - lo) / (count + 1)
			if step < minStep {
				continue
			}
			first = lo + step
		case boundedLo:
			step, first = gap, sibs[l-1].SortValue+gap
		case boundedHi:
			step, first = gap, sibs[r].SortValue-gap*count
		default:
			step, first = gap, gap
		}

		var slot int64
		key := first
		for i := l; i <= r; i++ {
			if i == pos {
				slot = key
				key += step
			}
			if i < r {
				s.setSort(sibs[i], key, now)
				key += step
			}
		}
		return slot
	}
}

func (s *state) setSort(n *core.Node, key int64, now time.Time) {
	if n.SortValue == key {
		return
	}
	_, _ = s.set(n.ID, core.FieldSort, key, now)
}

func (s *state) listItem(id string) (*core.Node, *core.Node, error) {
	n, err := s.node(id)
	if err != nil {
		return nil, nil, err
	}
	if n.Kind != core.KindListItem {
		return nil, nil, fmt.Errorf("%w: %s is a %s, not a list item", core.ErrInvalid, id, n.Kind)
	}
	list, err := s.node(n.ParentID)
	if err != nil {
		return nil, nil, err
	}
	if list.Kind != core.KindList {
		return nil, nil, fmt.Errorf("%w: %s is the body of note %s", core.ErrInvalid, id, list.ID)
	}
	return n, list, nil
}

func (s *state) superOf(n *core.Node) string {
	if _, ok := s.nodes[n.SuperItemID]; ok {
		return n.SuperItemID
	}
	return ""
}

func indexOf(sibs []*core.Node, id string) int {
	return slices.IndexFunc(sibs, func(n *core.Node) bool { return n.ID == id })
}

// AddItem appends a new item to a list. PlacementTop puts it first; the
// default follows the list's new item placement setting.
func (g *Graph) AddItem(listID, text string, checked bool, placement core.Placement) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	list, err := g.st.node(listID)
	if err != nil {
		return "", err
	}
	if list.Kind != core.KindList {
		return "", fmt.Errorf("%w: %s is not a list", core.ErrInvalid, listID)
	}
	if placement == core.PlacementDefault {
		placement = list.Settings.NewItemPlacement
	}
	sibs := g.st.siblings(listID, "", "")
	pos := len(sibs)
	if placement == core.PlacementTop {
		pos = 0
	}
	return g.insertItem(list, "", sibs, pos, text, checked), nil
}

// AddItemAfter inserts a new item directly below afterID, at the same indent.
func (g *Graph) AddItemAfter(afterID, text string, checked bool) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	after, list, err := g.st.listItem(afterID)
	if err != nil {
		return "", err
	}
	sup := g.st.superOf(after)
	sibs := g.st.siblings(list.ID, sup, "")
	return g.insertItem(list, sup, sibs, indexOf(sibs, afterID)+1, text, checked), nil
}

func (g *Graph) insertItem(list *core.Node, sup string, sibs []*core.Node, pos int, text string, checked bool) string {
	now := g.now()
	n := core.NewNode(g.nextID(), core.KindListItem, list.ID, now)
	n.SortValue = g.st.keyAt(sibs, pos, g.gap, now)
	n.Text = text
	n.Checked = checked
	n.SuperItemID = sup
	g.st.link(n)
	g.st.markNew(n)
	g.st.touch(list.ID, now)
	return n.ID
}

// MoveItem places an item directly after afterID among its siblings. An empty
// afterID moves it to the top.
func (g *Graph) MoveItem(id, afterID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, list, err := g.st.listItem(id)
	if err != nil {
		return err
	}
	sup := g.st.superOf(n)
	sibs := g.st.siblings(list.ID, sup, id)
	pos := 0
	if afterID != "" {
		pos = indexOf(sibs, afterID) + 1
		if pos == 0 {
			return fmt.Errorf("%w: %s is not a sibling of %s", core.ErrInvalid, afterID, id)
		}
	}
	now := g.now()
	g.st.setSort(n, g.st.keyAt(sibs, pos, g.gap, now), now)
	return nil
}

// Indent nests child under parent, after parent's existing sub-items. Only one
// level of nesting exists: parent must be top-level and child must have no
// sub-items of its own.
func (g *Graph) Indent(parentID, childID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if parentID == childID {
		return fmt.Errorf("%w: cannot indent %s under itself", core.ErrInvalid, childID)
	}
	parent, list, err := g.st.listItem(parentID)
	if err != nil {
		return err
	}
	child, childList, err := g.st.listItem(childID)
	if err != nil {
		return err
	}
	if list.ID != childList.ID {
		return fmt.Errorf("%w: %s and %s are in different lists", core.ErrInvalid, parentID, childID)
	}
	if g.st.superOf(parent) != "" {
		return fmt.Errorf("%w: %s is itself indented", core.ErrInvalid, parentID)
	}
	if g.st.superOf(child) == parentID {
		return nil
	}
	if len(g.st.siblings(list.ID, childID, "")) > 0 {
		return fmt.Errorf("%w: %s has sub-items", core.ErrInvalid, childID)
	}

	now := g.now()
	sibs := g.st.siblings(list.ID, parentID, childID)
	key := g.st.keyAt(sibs, len(sibs), g.gap, now)
	if _, err := g.st.set(childID, core.FieldSuperItem, parentID, now); err != nil {
		return err
	}
	g.st.setSort(child, key, now)
	return nil
}

// Dedent lifts an indented item back to the top level, directly after its
// former parent.
func (g *Graph) Dedent(childID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	child, list, err := g.st.listItem(childID)
	if err != nil {
		return err
	}
	parentID := g.st.superOf(child)
	if parentID == "" {
		return nil
	}
	now := g.now()
	sibs := g.st.siblings(list.ID, "", childID)
	key := g.st.keyAt(sibs, indexOf(sibs, parentID)+1, g.gap, now)
	if _, err := g.st.set(childID, core.FieldSuperItem, "", now); err != nil {
		return err
	}
	g.st.setSort(child, key, now)
	return nil
}

// SortItems reorders a list with cmp, top-level items and each parent's
// sub-items independently. Keys are reassigned in comparator order.
func (g *Graph) SortItems(listID string, compare func(a, b *core.Node) int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	list, err := g.st.node(listID)
	if err != nil {
		return err
	}
	if list.Kind != core.KindList {
		return fmt.Errorf("%w: %s is not a list", core.ErrInvalid, listID)
	}
	now := g.now()
	assign := func(sibs []*core.Node) {
		slices.SortStableFunc(sibs, compare)
		for i, n := range sibs {
			g.st.setSort(n, g.gap*int64(i+1), now)
		}
	}
	top := g.st.siblings(listID, "", "")
	for _, parent := range top {
		assign(g.st.siblings(listID, parent.ID, ""))
	}
	assign(top)
	return nil
}

// DefaultCompare orders items for SortItems. Under the graveyard policy
// unchecked items come first; then text, case-insensitively, then ID.
func DefaultCompare(policy core.CheckedPolicy) func(a, b *core.Node) int {
	return func(a, b *core.Node) int {
		if policy == core.CheckedGraveyard && a.Checked != b.Checked {
			if a.Checked {
				return 1
			}
			return -1
		}
		return cmp.Or(
			cmp.Compare(strings.ToLower(a.Text), strings.ToLower(b.Text)),
			cmp.Compare(a.ID, b.ID),
		)
	}
}

// Items returns a list's live items in display order: each top-level item
// followed by its sub-items.
func (g *Graph) Items(listID string) []*core.Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.st.items(listID)
}

func (s *state) items(listID string) []*core.Node {
	var out []*core.Node
	for _, top := range s.siblings(listID, "", "") {
		if top.Deleted() {
			continue
		}
		out = append(out, top.Clone())
		for _, sub := range s.siblings(listID, top.ID, "") {
			if !sub.Deleted() {
				out = append(out, sub.Clone())
			}
		}
	}
	return out
}

// SubItems returns the live sub-items of an item, in order.
func (g *Graph) SubItems(itemID string) []*core.Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.st.nodes[itemID]
	if !ok || n.Kind != core.KindListItem {
		return nil
	}
	var out []*core.Node
	for _, sub := range g.st.siblings(n.ParentID, itemID, "") {
		if !sub.Deleted() {
			out = append(out, sub.Clone())
		}
	}
	return out
}

// NoteToList creates a new list from a note: the title carries over and each
// non-empty line of text becomes an item. The note is left as it is.
func (g *Graph) NoteToList(noteID string) (string, error) {
	note, ok := g.Get(noteID)
	if !ok {
		return "", fmt.Errorf("%w: %s", core.ErrNotFound, noteID)
	}
	if note.Kind != core.KindNote {
		return "", fmt.Errorf("%w: %s is not a note", core.ErrInvalid, noteID)
	}
	listID, err := g.convert(note, core.KindList)
	if err != nil {
		return "", err
	}
	for line := range strings.Lines(note.Text) {
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if _, err := g.AddItem(listID, line, false, core.PlacementBottom); err != nil {
			return "", err
		}
	}
	return listID, nil
}

// ListToNote creates a new note from a list, one line per item with a
// checkbox marker. The list is left as it is.
func (g *Graph) ListToNote(listID string) (string, error) {
	list, ok := g.Get(listID)
	if !ok {
		return "", fmt.Errorf("%w: %s", core.ErrNotFound, listID)
	}
	if list.Kind != core.KindList {
		return "", fmt.Errorf("%w: %s is not a list", core.ErrInvalid, listID)
	}
	noteID, err := g.convert(list, core.KindNote)
	if err != nil {
		return "", err
	}
	if err := g.Mutate(noteID, core.FieldText, RenderItems(g.Items(listID))); err != nil {
		return "", err
	}
	return noteID, nil
}

func (g *Graph) convert(src *core.Node, kind core.Kind) (string, error) {
	id, err := g.CreateNode(kind, core.RootID)
	if err != nil {
		return "", err
	}
	for _, f := range []core.Field{core.FieldTitle, core.FieldColor, core.FieldLabels} {
		var v any
		switch f {
		case core.FieldTitle:
			v = src.Title
		case core.FieldColor:
			v = src.Color
		case core.FieldLabels:
			v = src.Labels
		}
		if err := g.Mutate(id, f, v); err != nil {
			return "", err
		}
	}
	return id, nil
}

// RenderItems formats items as text, one per line, sub-items indented.
func RenderItems(items []*core.Node) string {
	var b strings.Builder
	for i, n := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		if n.SuperItemID != "" {
			b.WriteString("  ")
		}
		if n.Checked {
			b.WriteString("☑ ")
		} else {
			b.WriteString("☐ ")
		}
		b.WriteString(n.Text)
	}
	return b.String()
}
