package graph

import (
	"cmp"
	"maps"
	"slices"

	"github.com/aretw0/humus/pkg/core"
)

// DirtyEntry is a node awaiting acknowledgement, frozen at collection time.
type DirtyEntry struct {
	Node   *core.Node
	Fields []core.Field
	// Rev is the local revision of the node's latest mutation. Passing it
	// back to ClearDirty clears exactly what was collected.
	Rev uint64
	New bool
}

// DirtyLabel is a label awaiting acknowledgement.
type DirtyLabel struct {
	Label  *core.Label
	Fields []core.Field
	Rev    uint64
	New    bool
}

// DirtySet is everything a sync round pushes.
type DirtySet struct {
	Nodes  []DirtyEntry
	Labels []DirtyLabel
	// Rev is the graph revision at collection time.
	Rev uint64
}

// Empty reports whether there is nothing to push.
func (d DirtySet) Empty() bool {
	return len(d.Nodes) == 0 && len(d.Labels) == 0
}

func sortedFields(m map[core.Field]uint64) []core.Field {
	out := make([]core.Field, 0, len(m))
	for _, f := range core.NodeFields {
		if _, ok := m[f]; ok {
			out = append(out, f)
		}
	}
	if _, ok := m[core.FieldName]; ok {
		out = append(out, core.FieldName)
	}
	return out
}

// collect walks parents before children and appends orphans last, so the
// service never sees a child before its parent.
func (s *state) collect() []DirtyEntry {
	out := make([]DirtyEntry, 0, len(s.dirty))
	seen := make(map[string]struct{}, len(s.dirty))
	add := func(n *core.Node) {
		d, ok := s.dirty[n.ID]
		if !ok {
			return
		}
		seen[n.ID] = struct{}{}
		out = append(out, DirtyEntry{Node: n.Clone(), Fields: sortedFields(d.fields), Rev: d.rev, New: d.isNew})
	}
	s.walk(add)
	var orphans []string
	for id := range s.dirty {
		if _, ok := seen[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	slices.Sort(orphans)
	for _, id := range orphans {
		if n, ok := s.nodes[id]; ok {
			add(n)
		}
	}
	return out
}

func (s *state) collectLabels() []DirtyLabel {
	out := make([]DirtyLabel, 0, len(s.labelDirty))
	for _, id := range slices.Sorted(maps.Keys(s.labelDirty)) {
		l, ok := s.labels[id]
		if !ok {
			continue
		}
		d := s.labelDirty[id]
		out = append(out, DirtyLabel{Label: l.Clone(), Fields: sortedFields(d.fields), Rev: d.rev, New: d.isNew})
	}
	return out
}

// CollectDirty returns a snapshot of every dirty node. Mutations made after
// the call are not reflected in the returned entries.
func (g *Graph) CollectDirty() []DirtyEntry {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.st.collect()
}

// Dirty returns dirty nodes and labels under a single read lock.
func (g *Graph) Dirty() DirtySet {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return DirtySet{Nodes: g.st.collect(), Labels: g.st.collectLabels(), Rev: g.st.seq}
}

// ClearDirty clears the fields of id mutated at or before acked. It reports
// whether the node is clean afterwards.
func (g *Graph) ClearDirty(id string, acked uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return clearDirty(g.st.dirty, id, acked)
}

// IsDirty reports whether the node has unacknowledged mutations.
func (g *Graph) IsDirty(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.st.dirty[id]
	return ok
}

// DirtyRecord is the serializable form of a node's or label's dirty state.
type DirtyRecord struct {
	Fields map[core.Field]uint64 `json:"fields"`
	Rev    uint64                `json:"rev"`
	New    bool                  `json:"new,omitempty"`
}

// Export is a self-contained copy of the replica, parents before children.
type Export struct {
	Nodes      []*core.Node
	Labels     []*core.Label
	Dirty      map[string]DirtyRecord
	LabelDirty map[string]DirtyRecord
	Rev        uint64
}

// Export copies the whole replica including dirty state.
func (g *Graph) Export() Export {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s := g.st
	ex := Export{
		Dirty:      make(map[string]DirtyRecord, len(s.dirty)),
		LabelDirty: make(map[string]DirtyRecord, len(s.labelDirty)),
		Rev:        s.seq,
	}
	s.walk(func(n *core.Node) {
		ex.Nodes = append(ex.Nodes, n.Clone())
	})
	for _, id := range slices.Sorted(maps.Keys(s.labels)) {
		ex.Labels = append(ex.Labels, s.labels[id].Clone())
	}
	for id, d := range s.dirty {
		ex.Dirty[id] = DirtyRecord{Fields: maps.Clone(d.fields), Rev: d.rev, New: d.isNew}
	}
	for id, d := range s.labelDirty {
		ex.LabelDirty[id] = DirtyRecord{Fields: maps.Clone(d.fields), Rev: d.rev, New: d.isNew}
	}
	return ex
}

// Import replaces the replica with ex. The graph is left untouched if ex
// violates a structural invariant.
func (g *Graph) Import(ex Export) error {
	s := newState()
	for _, n := range ex.Nodes {
		s.link(n.Clone())
	}
	for _, l := range ex.Labels {
		s.labels[l.ID] = l.Clone()
	}
	restore := func(dst map[string]*dirtyState, src map[string]DirtyRecord, exists func(string) bool) {
		for id, r := range src {
			if !exists(id) {
				continue
			}
			dst[id] = &dirtyState{fields: maps.Clone(r.Fields), rev: r.Rev, isNew: r.New}
			if dst[id].fields == nil {
				dst[id].fields = make(map[core.Field]uint64)
			}
		}
	}
	restore(s.dirty, ex.Dirty, func(id string) bool { _, ok := s.nodes[id]; return ok })
	restore(s.labelDirty, ex.LabelDirty, func(id string) bool { _, ok := s.labels[id]; return ok })
	s.seq = ex.Rev
	for _, d := range s.dirty {
		s.seq = max(s.seq, d.rev)
	}
	for _, d := range s.labelDirty {
		s.seq = max(s.seq, d.rev)
	}
	if err := s.validate(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.st = s
	return nil
}

// byID orders nodes by ID.
func byID(a, b *core.Node) int { return cmp.Compare(a.ID, b.ID) }
