package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aretw0/humus/pkg/core"
	"github.com/aretw0/humus/pkg/graph"
)

// SnapshotFormat is the current snapshot layout version.
const SnapshotFormat = 1

// Snapshot is the persisted form of an engine: the replica in wire format,
// its dirty state and the watermark. Unknown JSON fields are ignored on load.
type Snapshot struct {
	Format     int                          `json:"format"`
	SavedAt    time.Time                    `json:"saved_at"`
	Watermark  string                       `json:"watermark,omitempty"`
	Revision   uint64                       `json:"revision"`
	Nodes      []json.RawMessage            `json:"nodes"`
	Labels     []json.RawMessage            `json:"labels"`
	Dirty      map[string]graph.DirtyRecord `json:"dirty,omitempty"`
	LabelDirty map[string]graph.DirtyRecord `json:"label_dirty,omitempty"`
}

// Dump captures the replica. It is consistent with respect to sync rounds:
// the graph and watermark always belong to the same round.
func (e *Engine) Dump() (*Snapshot, error) {
	e.mu.Lock()
	ex := e.graph.Export()
	watermark := e.watermark
	e.mu.Unlock()

	s := &Snapshot{
		Format:     SnapshotFormat,
		SavedAt:    e.now(),
		Watermark:  watermark,
		Revision:   ex.Rev,
		Nodes:      make([]json.RawMessage, 0, len(ex.Nodes)),
		Labels:     make([]json.RawMessage, 0, len(ex.Labels)),
		Dirty:      ex.Dirty,
		LabelDirty: ex.LabelDirty,
	}
	for _, n := range ex.Nodes {
		raw, err := e.codec.Encode(n, nil, true)
		if err != nil {
			return nil, fmt.Errorf("dump: %w", err)
		}
		s.Nodes = append(s.Nodes, raw)
	}
	for _, l := range ex.Labels {
		raw, err := e.codec.EncodeLabel(l)
		if err != nil {
			return nil, fmt.Errorf("dump: %w", err)
		}
		s.Labels = append(s.Labels, raw)
	}
	return s, nil
}

// Restore replaces the replica with a snapshot. On error nothing changes.
func (e *Engine) Restore(s *Snapshot) error {
	if s.Format != SnapshotFormat {
		return fmt.Errorf("%w: %d", core.ErrSnapshotFormat, s.Format)
	}
	ex := graph.Export{
		Dirty:      s.Dirty,
		LabelDirty: s.LabelDirty,
		Rev:        s.Revision,
	}
	for _, raw := range s.Nodes {
		d, err := e.codec.Decode(raw)
		if err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		ex.Nodes = append(ex.Nodes, d.Node)
	}
	for _, raw := range s.Labels {
		d, err := e.codec.DecodeLabel(raw)
		if err != nil {
			return fmt.Errorf("restore: %w", err)
		}
		ex.Labels = append(ex.Labels, d.Label)
	}

	e.roundMu.Lock()
	defer e.roundMu.Unlock()
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.graph.Import(ex); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	e.watermark = s.Watermark
	e.needFull = false
	if s.Watermark == "" {
		e.state = StateUnsynced
	} else {
		e.state = StateSynced
	}
	return nil
}
