package graph

import (
	"fmt"
	"time"

	"github.com/aretw0/humus/pkg/core"
)

// Tx is a staged batch of changes. Nodes returned by Tx are the staged
// instances and may be modified in place; the caller is responsible for
// recording dirty state through Tx methods where needed.
type Tx struct {
	st  *state
	now time.Time
	ids core.IDAllocator
}

// Update runs fn against a staged copy of the replica and commits it if fn
// returns nil and the result is structurally consistent. Otherwise the
// replica is left exactly as it was.
func (g *Graph) Update(fn func(tx *Tx) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	tx := &Tx{st: g.st.clone(), now: g.now(), ids: g.ids}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.st.validate(); err != nil {
		return err
	}
	g.st = tx.st
	return nil
}

// View runs fn against the committed replica under a read lock. fn must not
// modify anything it is given.
func (g *Graph) View(fn func(tx *Tx) error) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fn(&Tx{st: g.st, now: g.now(), ids: g.ids})
}

// Now is the timestamp shared by every change in the transaction.
func (tx *Tx) Now() time.Time { return tx.now }

// Node returns the staged node.
func (tx *Tx) Node(id string) (*core.Node, bool) {
	n, ok := tx.st.nodes[id]
	return n, ok
}

// Label returns the staged label.
func (tx *Tx) Label(id string) (*core.Label, bool) {
	l, ok := tx.st.labels[id]
	return l, ok
}

// Nodes returns every staged node, parents before children.
func (tx *Tx) Nodes() []*core.Node {
	out := make([]*core.Node, 0, len(tx.st.nodes))
	tx.st.walk(func(n *core.Node) { out = append(out, n) })
	return out
}

// Labels returns every staged label.
func (tx *Tx) Labels() []*core.Label {
	out := make([]*core.Label, 0, len(tx.st.labels))
	for _, l := range tx.st.labels {
		out = append(out, l)
	}
	return out
}

// Insert adds a clean node received from the service. The parent may arrive
// later in the same transaction; it is checked at commit.
func (tx *Tx) Insert(n *core.Node) error {
	if _, ok := tx.st.nodes[n.ID]; ok {
		return fmt.Errorf("%w: %s already exists", core.ErrInvalid, n.ID)
	}
	tx.st.link(n)
	return nil
}

// Reparent moves a node under a different parent.
func (tx *Tx) Reparent(id, parentID string) error {
	n, err := tx.st.node(id)
	if err != nil {
		return err
	}
	if n.ParentID == parentID {
		return nil
	}
	if kids := tx.st.children[n.ParentID]; kids != nil {
		delete(kids, id)
	}
	n.ParentID = parentID
	kids := tx.st.children[parentID]
	if kids == nil {
		kids = make(map[string]struct{})
		tx.st.children[parentID] = kids
	}
	kids[id] = struct{}{}
	return nil
}

// Remove drops a node and its descendants from the arena, dirty state
// included. It returns the removed IDs.
func (tx *Tx) Remove(id string) []string {
	return tx.st.unlink(id)
}

// Set records a local mutation, as Graph.Mutate does.
func (tx *Tx) Set(id string, f core.Field, value any) (bool, error) {
	return tx.st.set(id, f, value, tx.now)
}

// FoldNoteBodies copies the text of each note's body item into the note,
// unless the note's text has unacknowledged local edits. It returns the
// notes that changed.
func (tx *Tx) FoldNoteBodies() []string {
	var changed []string
	tx.st.walk(func(n *core.Node) {
		if n.Kind != core.KindNote {
			return
		}
		b := tx.st.bodyItem(n.ID)
		if b == nil || b.Text == n.Text {
			return
		}
		if d, ok := tx.st.dirty[n.ID]; ok {
			if _, mine := d.fields[core.FieldText]; mine {
				return
			}
		}
		n.Text = b.Text
		changed = append(changed, n.ID)
	})
	return changed
}

// MarkDirty records fields of id as mutated at a new local revision.
func (tx *Tx) MarkDirty(id string, fields ...core.Field) {
	tx.st.bump(id, fields...)
}

// DirtyFields returns the unacknowledged fields of id with their revisions.
func (tx *Tx) DirtyFields(id string) map[core.Field]uint64 {
	d, ok := tx.st.dirty[id]
	if !ok {
		return nil
	}
	return d.fields
}

// IsDirty reports whether id has unacknowledged mutations.
func (tx *Tx) IsDirty(id string) bool {
	_, ok := tx.st.dirty[id]
	return ok
}

// IsNew reports whether id was created locally and never acknowledged.
func (tx *Tx) IsNew(id string) bool {
	d, ok := tx.st.dirty[id]
	return ok && d.isNew
}

// HasDirtyDescendant reports whether any node below id is dirty.
func (tx *Tx) HasDirtyDescendant(id string) bool {
	for kid := range tx.st.children[id] {
		if tx.IsDirty(kid) || tx.HasDirtyDescendant(kid) {
			return true
		}
	}
	return false
}

// ClearDirty clears acknowledged fields; see Graph.ClearDirty.
func (tx *Tx) ClearDirty(id string, acked uint64) bool {
	return clearDirty(tx.st.dirty, id, acked)
}

// ClearLabelDirty clears acknowledged label fields.
func (tx *Tx) ClearLabelDirty(id string, acked uint64) bool {
	return clearDirty(tx.st.labelDirty, id, acked)
}

// IsLabelDirty reports whether the label has unacknowledged mutations.
func (tx *Tx) IsLabelDirty(id string) bool {
	_, ok := tx.st.labelDirty[id]
	return ok
}

// LabelDirtyFields returns the unacknowledged fields of a label.
func (tx *Tx) LabelDirtyFields(id string) map[core.Field]uint64 {
	d, ok := tx.st.labelDirty[id]
	if !ok {
		return nil
	}
	return d.fields
}

// PutLabel inserts or replaces a label.
func (tx *Tx) PutLabel(l *core.Label) {
	tx.st.labels[l.ID] = l
}

// RemoveLabel drops a label from the registry and from every node.
func (tx *Tx) RemoveLabel(id string) {
	delete(tx.st.labels, id)
	delete(tx.st.labelDirty, id)
	for _, n := range tx.st.nodes {
		delete(n.Labels, id)
	}
}

// RewriteID replaces a provisional node ID with the permanent one. Every
// reference to the old ID moves with it: the arena key, the parent's child
// set, children's parent IDs, super-item references and dirty state.
func (tx *Tx) RewriteID(oldID, newID string) error {
	if oldID == newID {
		return nil
	}
	s := tx.st
	n, err := s.node(oldID)
	if err != nil {
		return err
	}
	if _, taken := s.nodes[newID]; taken {
		return &core.ConsistencyError{ID: newID, Reason: fmt.Sprintf("cannot rewrite %s: id already in use", oldID)}
	}

	delete(s.nodes, oldID)
	n.ID = newID
	s.nodes[newID] = n

	if kids := s.children[n.ParentID]; kids != nil {
		delete(kids, oldID)
		kids[newID] = struct{}{}
	}
	if kids, ok := s.children[oldID]; ok {
		delete(s.children, oldID)
		s.children[newID] = kids
		for kid := range kids {
			s.nodes[kid].ParentID = newID
		}
	}
	for _, other := range s.nodes {
		if other.SuperItemID == oldID {
			other.SuperItemID = newID
		}
	}
	if d, ok := s.dirty[oldID]; ok {
		delete(s.dirty, oldID)
		s.dirty[newID] = d
	}
	return nil
}

// RewriteLabelID replaces a provisional label ID with the permanent one,
// including references from nodes.
func (tx *Tx) RewriteLabelID(oldID, newID string) error {
	if oldID == newID {
		return nil
	}
	s := tx.st
	l, ok := s.labels[oldID]
	if !ok {
		return fmt.Errorf("%w: label %s", core.ErrNotFound, oldID)
	}
	if _, taken := s.labels[newID]; taken {
		return &core.ConsistencyError{ID: newID, Reason: fmt.Sprintf("cannot rewrite label %s: id already in use", oldID)}
	}
	delete(s.labels, oldID)
	l.ID = newID
	s.labels[newID] = l
	if d, ok := s.labelDirty[oldID]; ok {
		delete(s.labelDirty, oldID)
		s.labelDirty[newID] = d
	}
	for _, n := range s.nodes {
		if _, ok := n.Labels[oldID]; ok {
			delete(n.Labels, oldID)
			n.Labels[newID] = struct{}{}
		}
	}
	return nil
}

// Rebase replaces the staged replica with a fresh baseline and carries every
// unacknowledged local change onto it. For nodes present in both, dirty
// fields keep their local values. Dirty nodes missing from the baseline are
// kept, together with any ancestors they need.
func (tx *Tx) Rebase(nodes []*core.Node, labels []*core.Label) {
	prev := tx.st
	next := newState()
	next.seq = prev.seq

	for _, n := range nodes {
		next.link(n)
	}
	for _, l := range labels {
		next.labels[l.ID] = l
	}

	var carry func(id string)
	carry = func(id string) {
		if id == core.RootID {
			return
		}
		if _, ok := next.nodes[id]; ok {
			return
		}
		old, ok := prev.nodes[id]
		if !ok {
			return
		}
		carry(old.ParentID)
		next.link(old)
	}

	prev.walk(func(old *core.Node) {
		d, ok := prev.dirty[old.ID]
		if !ok {
			return
		}
		if cur, ok := next.nodes[old.ID]; ok {
			for f := range d.fields {
				core.CopyField(cur, old, f)
			}
		} else {
			carry(old.ID)
		}
		next.dirty[old.ID] = d
	})

	for id, d := range prev.labelDirty {
		old, ok := prev.labels[id]
		if !ok {
			continue
		}
		if cur, ok := next.labels[id]; ok {
			if _, dirtyName := d.fields[core.FieldName]; dirtyName {
				cur.Name = old.Name
			}
			if _, dirtyTS := d.fields[core.FieldTimestamps]; dirtyTS {
				cur.Timestamps = old.Timestamps
			}
		} else {
			next.labels[id] = old
		}
		next.labelDirty[id] = d
	}

	// Labels referenced by carried nodes must survive even if clean.
	for _, n := range next.nodes {
		for lid := range n.Labels {
			if _, ok := next.labels[lid]; ok {
				continue
			}
			if old, ok := prev.labels[lid]; ok {
				next.labels[lid] = old
			}
		}
	}
	tx.st = next
}
