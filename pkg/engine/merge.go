package engine

import (
	"log/slog"

	"github.com/aretw0/humus/pkg/codec"
	"github.com/aretw0/humus/pkg/core"
	"github.com/aretw0/humus/pkg/graph"
)

// merger applies one round's exchange inside a graph transaction.
type merger struct {
	tx       *graph.Tx
	ids      core.IDAllocator
	logger   *slog.Logger
	res      *Result
	rewrites map[string]string
	events   []core.Event
	err      error
}

func (m *merger) emit(t core.EventType, id, oldID string) {
	m.events = append(m.events, core.Event{Type: t, ID: id, OldID: oldID, Timestamp: m.tx.Now().Unix()})
}

func (m *merger) resolve(id string) string {
	if to, ok := m.rewrites[id]; ok {
		return to
	}
	return id
}

// acknowledge rewrites provisional IDs echoed by the service and clears the
// dirty state of everything pushed, up to the revision it was pushed at. A
// new entity whose provisional ID was not echoed stays dirty: the service
// has not confirmed it, and the next push re-sends it whole.
func (m *merger) acknowledge(dirty graph.DirtySet, ex *exchange) {
	m.rewrites = make(map[string]string)
	for _, d := range ex.nodes {
		if d.ProvisionalID == "" {
			continue
		}
		if _, ok := m.tx.Node(d.ProvisionalID); !ok {
			continue
		}
		if err := m.tx.RewriteID(d.ProvisionalID, d.Node.ID); err != nil {
			m.err = err
			return
		}
		m.rewrites[d.ProvisionalID] = d.Node.ID
		m.res.Rewritten++
		m.emit(core.EventRewrite, d.Node.ID, d.ProvisionalID)
	}
	for _, dl := range ex.labels {
		if dl.ProvisionalID == "" {
			continue
		}
		if _, ok := m.tx.Label(dl.ProvisionalID); !ok {
			continue
		}
		if err := m.tx.RewriteLabelID(dl.ProvisionalID, dl.Label.ID); err != nil {
			m.err = err
			return
		}
		m.rewrites[dl.ProvisionalID] = dl.Label.ID
		m.res.Rewritten++
	}

	for _, entry := range dirty.Nodes {
		if m.unconfirmed(entry.Node.ID, entry.New) {
			m.logger.Debug("new node not echoed, keeping it dirty", "id", entry.Node.ID)
			continue
		}
		m.tx.ClearDirty(m.resolve(entry.Node.ID), entry.Rev)
	}
	for _, entry := range dirty.Labels {
		if m.unconfirmed(entry.Label.ID, entry.New) {
			continue
		}
		m.tx.ClearLabelDirty(m.resolve(entry.Label.ID), entry.Rev)
	}

	for _, d := range ex.nodes {
		d.Node.ParentID = m.resolve(d.Node.ParentID)
		if d.Node.SuperItemID != "" {
			d.Node.SuperItemID = m.resolve(d.Node.SuperItemID)
		}
		for lid := range d.Node.Labels {
			if to := m.resolve(lid); to != lid {
				delete(d.Node.Labels, lid)
				d.Node.Labels[to] = struct{}{}
			}
		}
	}
}

// unconfirmed reports whether a pushed new entity is still known only by its
// provisional ID.
func (m *merger) unconfirmed(id string, isNew bool) bool {
	if !isNew || m.ids == nil || !m.ids.IsProvisional(id) {
		return false
	}
	_, rewritten := m.rewrites[id]
	return !rewritten
}

// foldBodies mirrors note body items into note text.
func (m *merger) foldBodies(emit bool) {
	for _, id := range m.tx.FoldNoteBodies() {
		if emit {
			m.emit(core.EventModify, id, "")
		}
	}
}

func (m *merger) applyIncremental(dirty graph.DirtySet, ex *exchange) {
	m.acknowledge(dirty, ex)
	if m.err != nil {
		return
	}
	for _, dl := range ex.labels {
		m.mergeLabel(dl.Label)
	}
	for _, d := range ex.nodes {
		m.mergeNode(d)
		if m.err != nil {
			return
		}
	}
	m.sweep()
	m.foldBodies(true)
}

// mergeNode applies one remote node. Fields with unacknowledged local edits
// keep their local value; everything else follows the service.
func (m *merger) mergeNode(d *codec.Decoded) {
	remote := d.Node
	local, ok := m.tx.Node(remote.ID)

	if d.Tombstone {
		if ok && !m.pinned(remote.ID) {
			m.res.Removed += len(m.tx.Remove(remote.ID))
			m.emit(core.EventDelete, remote.ID, "")
		}
		return
	}
	if !ok {
		if remote.Deleted() {
			return
		}
		if err := m.tx.Insert(remote); err != nil {
			m.err = err
			return
		}
		m.emit(core.EventCreate, remote.ID, "")
		return
	}
	if remote.Version != 0 && remote.Version < local.Version {
		m.logger.Debug("skipping stale remote node", "id", remote.ID, "remote", remote.Version, "local", local.Version)
		return
	}

	dirtyFields := m.tx.DirtyFields(remote.ID)
	changed := false
	for _, f := range d.Fields {
		if _, mine := dirtyFields[f]; mine {
			continue
		}
		if !core.FieldEqual(local, remote, f) {
			core.CopyField(local, remote, f)
			changed = true
		}
	}
	if remote.ParentID != local.ParentID {
		if err := m.tx.Reparent(remote.ID, remote.ParentID); err != nil {
			m.err = err
			return
		}
		changed = true
	}
	if d.HasAnnotations {
		local.Annotations = remote.Annotations
	}
	if remote.Blob != nil {
		local.Blob = remote.Blob
	}
	local.Version = max(local.Version, remote.Version)
	if changed {
		m.emit(core.EventModify, remote.ID, "")
	}
}

func (m *merger) mergeLabel(remote *core.Label) {
	local, ok := m.tx.Label(remote.ID)
	dirty := m.tx.LabelDirtyFields(remote.ID)
	switch {
	case !ok:
		if !remote.Deleted() {
			m.tx.PutLabel(remote)
		}
	case remote.Deleted() && len(dirty) == 0:
		m.tx.RemoveLabel(remote.ID)
	default:
		if _, mine := dirty[core.FieldName]; !mine {
			local.Name = remote.Name
		}
		if _, mine := dirty[core.FieldTimestamps]; !mine {
			local.Timestamps = remote.Timestamps
		}
		local.Merged = remote.Merged
	}
}

// pinned reports whether a node must stay because it or a descendant still
// has unacknowledged changes.
func (m *merger) pinned(id string) bool {
	return m.tx.IsDirty(id) || m.tx.HasDirtyDescendant(id)
}

// sweep physically removes logically deleted nodes once nothing local
// depends on them, and labels deleted on both sides.
func (m *merger) sweep() {
	for _, n := range m.tx.Nodes() {
		if !n.Deleted() || m.pinned(n.ID) {
			continue
		}
		if _, still := m.tx.Node(n.ID); !still {
			continue
		}
		m.res.Removed += len(m.tx.Remove(n.ID))
		m.emit(core.EventDelete, n.ID, "")
	}
	for _, l := range m.tx.Labels() {
		if l.Deleted() && !m.tx.IsLabelDirty(l.ID) {
			m.tx.RemoveLabel(l.ID)
		}
	}
}

// applyFull rebuilds the replica from the service's node set. Deleted and
// tombstoned nodes are left out of the baseline.
func (m *merger) applyFull(dirty graph.DirtySet, ex *exchange) {
	m.acknowledge(dirty, ex)
	if m.err != nil {
		return
	}
	nodes := make([]*core.Node, 0, len(ex.nodes))
	seen := make(map[string]int, len(ex.nodes))
	for _, d := range ex.nodes {
		if i, dup := seen[d.Node.ID]; dup {
			// A later page supersedes an earlier one.
			nodes[i] = nil
		}
		seen[d.Node.ID] = len(nodes)
		if d.Tombstone || d.Node.Deleted() {
			nodes = append(nodes, nil)
			continue
		}
		nodes = append(nodes, d.Node)
	}
	baseline := nodes[:0]
	for _, n := range nodes {
		if n != nil {
			baseline = append(baseline, n)
		}
	}

	var labels []*core.Label
	for _, dl := range ex.labels {
		if !dl.Label.Deleted() {
			labels = append(labels, dl.Label)
		}
	}
	m.tx.Rebase(baseline, labels)
	m.foldBodies(false)
	m.emit(core.EventResync, "", "")
}
