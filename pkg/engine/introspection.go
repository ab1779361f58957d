package engine

import (
	"time"

	"github.com/aretw0/introspection"

	"github.com/aretw0/humus/pkg/graph"
)

// EngineState exposes internal state for observability.
type EngineState struct {
	State         State       `json:"state"`
	Watermark     string      `json:"watermark,omitempty"`
	Session       string      `json:"session"`
	Rounds        int         `json:"rounds"`
	NeedsFullSync bool        `json:"needs_full_sync"`
	LastSync      *time.Time  `json:"last_sync,omitempty"`
	LastError     string      `json:"last_error,omitempty"`
	DroppedEvents uint64      `json:"dropped_events"`
	Graph         graph.Stats `json:"graph"`
}

// State implements introspection.Introspectable.
func (e *Engine) State() any {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := EngineState{
		State:         e.state,
		Watermark:     e.watermark,
		Session:       e.session,
		Rounds:        e.rounds,
		NeedsFullSync: e.needFull || e.watermark == "",
		DroppedEvents: e.dropped.Load(),
		Graph:         e.graph.Stats(),
	}
	if !e.lastSync.IsZero() {
		t := e.lastSync
		s.LastSync = &t
	}
	if e.lastErr != nil {
		s.LastError = e.lastErr.Error()
	}
	return s
}

// ComponentType implements introspection.Component.
func (e *Engine) ComponentType() string {
	return "sync-engine"
}

var _ introspection.Introspectable = (*Engine)(nil)
var _ introspection.Component = (*Engine)(nil)
