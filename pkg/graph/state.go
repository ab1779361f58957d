package graph

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/aretw0/humus/pkg/core"
)

// dirtyState records, per field, the local revision of its last mutation.
type dirtyState struct {
	fields map[core.Field]uint64
	rev    uint64
	isNew  bool
}

func (d *dirtyState) clone() *dirtyState {
	return &dirtyState{fields: maps.Clone(d.fields), rev: d.rev, isNew: d.isNew}
}

// state is the arena. It is never shared between a committed graph and a
// staged transaction: Update works on a clone.
type state struct {
	nodes      map[string]*core.Node
	children   map[string]map[string]struct{}
	labels     map[string]*core.Label
	dirty      map[string]*dirtyState
	labelDirty map[string]*dirtyState
	seq        uint64
}

func newState() *state {
	return &state{
		nodes:      make(map[string]*core.Node),
		children:   map[string]map[string]struct{}{core.RootID: {}},
		labels:     make(map[string]*core.Label),
		dirty:      make(map[string]*dirtyState),
		labelDirty: make(map[string]*dirtyState),
	}
}

func (s *state) clone() *state {
	c := &state{
		nodes:      make(map[string]*core.Node, len(s.nodes)),
		children:   make(map[string]map[string]struct{}, len(s.children)),
		labels:     make(map[string]*core.Label, len(s.labels)),
		dirty:      make(map[string]*dirtyState, len(s.dirty)),
		labelDirty: make(map[string]*dirtyState, len(s.labelDirty)),
		seq:        s.seq,
	}
	for id, n := range s.nodes {
		c.nodes[id] = n.Clone()
	}
	for id, kids := range s.children {
		c.children[id] = maps.Clone(kids)
	}
	for id, l := range s.labels {
		c.labels[id] = l.Clone()
	}
	for id, d := range s.dirty {
		c.dirty[id] = d.clone()
	}
	for id, d := range s.labelDirty {
		c.labelDirty[id] = d.clone()
	}
	return c
}

func (s *state) node(id string) (*core.Node, error) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrNotFound, id)
	}
	return n, nil
}

// link attaches n to the arena without touching dirty state.
func (s *state) link(n *core.Node) {
	s.nodes[n.ID] = n
	kids := s.children[n.ParentID]
	if kids == nil {
		kids = make(map[string]struct{})
		s.children[n.ParentID] = kids
	}
	kids[n.ID] = struct{}{}
}

// unlink removes id and its descendants. Returns the removed IDs,
// descendants first.
func (s *state) unlink(id string) []string {
	n, ok := s.nodes[id]
	if !ok {
		return nil
	}
	var removed []string
	for kid := range s.children[id] {
		removed = append(removed, s.unlink(kid)...)
	}
	delete(s.children, id)
	if kids := s.children[n.ParentID]; kids != nil {
		delete(kids, id)
	}
	delete(s.nodes, id)
	delete(s.dirty, id)
	return append(removed, id)
}

// bump advances the local revision and marks fields of id dirty at it.
func (s *state) bump(id string, fields ...core.Field) uint64 {
	s.seq++
	d := s.dirty[id]
	if d == nil {
		d = &dirtyState{fields: make(map[core.Field]uint64)}
		s.dirty[id] = d
	}
	for _, f := range fields {
		d.fields[f] = s.seq
	}
	d.rev = s.seq
	return s.seq
}

func (s *state) bumpLabel(id string, fields ...core.Field) {
	s.seq++
	d := s.labelDirty[id]
	if d == nil {
		d = &dirtyState{fields: make(map[core.Field]uint64)}
		s.labelDirty[id] = d
	}
	for _, f := range fields {
		d.fields[f] = s.seq
	}
	d.rev = s.seq
}

// markNew records a freshly created node: every applicable field is dirty.
func (s *state) markNew(n *core.Node) {
	var fields []core.Field
	for _, f := range core.NodeFields {
		if f.Applies(n.Kind) {
			fields = append(fields, f)
		}
	}
	s.bump(n.ID, fields...)
	s.dirty[n.ID].isNew = true
}

// set assigns value to f and records the mutation. Equal values are a no-op.
// Non-collection edits also refresh the node's timestamps.
func (s *state) set(id string, f core.Field, value any, now time.Time) (bool, error) {
	n, err := s.node(id)
	if err != nil {
		return false, err
	}
	staged := *n
	if err := core.SetField(&staged, f, value); err != nil {
		return false, err
	}
	if core.FieldEqual(n, &staged, f) {
		return false, nil
	}
	core.CopyField(n, &staged, f)
	if f.SubCollection() || f == core.FieldTimestamps {
		s.bump(id, f)
		return true, nil
	}
	n.Timestamps.Updated = now
	if f.Edits() {
		n.Timestamps.Edited = now
	}
	s.bump(id, f, core.FieldTimestamps)
	if n.Kind == core.KindNote && f == core.FieldText {
		if b := s.bodyItem(id); b != nil {
			if _, err := s.set(b.ID, core.FieldText, n.Text, now); err != nil {
				return false, err
			}
		}
	}
	return true, nil
}

// bodyItem returns the list item the service keeps a note's text in, if the
// note has one.
func (s *state) bodyItem(noteID string) *core.Node {
	for _, n := range s.sortedChildren(noteID) {
		if n.Kind == core.KindListItem && !n.Deleted() {
			return n
		}
	}
	return nil
}

// clearDirty clears fields acknowledged at or below acked. Reports whether
// the entry is now clean. A stale ack that clears nothing changes nothing,
// not even the new-node mark.
func clearDirty(m map[string]*dirtyState, id string, acked uint64) bool {
	d, ok := m[id]
	if !ok {
		return true
	}
	cleared := false
	for f, rev := range d.fields {
		if rev <= acked {
			delete(d.fields, f)
			cleared = true
		}
	}
	if cleared {
		d.isNew = false
	}
	if len(d.fields) == 0 {
		delete(m, id)
		return true
	}
	return false
}

// depth is 0 for top-level items and 1 for indented ones.
func (s *state) depth(n *core.Node) int {
	if n.SuperItemID == "" {
		return 0
	}
	if _, ok := s.nodes[n.SuperItemID]; !ok {
		return 0
	}
	return 1
}

// sortedChildren orders a parent's children for pushing: top-level nodes by
// ID, otherwise un-indented before indented, then by sort key and ID.
func (s *state) sortedChildren(parent string) []*core.Node {
	kids := make([]*core.Node, 0, len(s.children[parent]))
	for id := range s.children[parent] {
		kids = append(kids, s.nodes[id])
	}
	if parent == core.RootID {
		slices.SortFunc(kids, func(a, b *core.Node) int { return cmp.Compare(a.ID, b.ID) })
		return kids
	}
	slices.SortFunc(kids, func(a, b *core.Node) int {
		return cmp.Or(
			cmp.Compare(s.depth(a), s.depth(b)),
			cmp.Compare(a.SortValue, b.SortValue),
			cmp.Compare(a.ID, b.ID),
		)
	})
	return kids
}

// walk visits every node reachable from the root, parents before children.
func (s *state) walk(visit func(n *core.Node)) {
	var rec func(parent string)
	rec = func(parent string) {
		for _, n := range s.sortedChildren(parent) {
			visit(n)
			rec(n.ID)
		}
	}
	rec(core.RootID)
}

// validate checks the structural invariants after a batch of changes.
func (s *state) validate() error {
	for id, n := range s.nodes {
		if n.Kind.TopLevel() {
			if n.ParentID != core.RootID {
				return &core.ConsistencyError{ID: id, Reason: fmt.Sprintf("top-level %s under %q", n.Kind, n.ParentID)}
			}
			continue
		}
		p, ok := s.nodes[n.ParentID]
		if !ok {
			return &core.ConsistencyError{ID: id, Reason: fmt.Sprintf("unknown parent %q", n.ParentID)}
		}
		if n.Kind == core.KindListItem && p.Kind != core.KindList && p.Kind != core.KindNote {
			return &core.ConsistencyError{ID: id, Reason: fmt.Sprintf("list item under %s", p.Kind)}
		}
	}
	return nil
}
