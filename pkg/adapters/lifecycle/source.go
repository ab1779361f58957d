// Package lifecycle runs humus replicas under aretw0/lifecycle: engine events
// as a lifecycle.Source and periodic sync as a supervised worker.
package lifecycle

import (
	"context"
	"slices"

	"github.com/aretw0/lifecycle"

	"github.com/aretw0/humus/pkg/core"
	"github.com/aretw0/humus/pkg/engine"
)

type eventSource struct {
	events <-chan core.Event
	types  []core.EventType
	out    chan lifecycle.Event
}

// NewSource creates a lifecycle.Source that re-emits replica events. With
// types given, other event types are dropped.
func NewSource(events <-chan core.Event, types ...core.EventType) lifecycle.Source {
	return &eventSource{
		events: events,
		types:  types,
		out:    make(chan lifecycle.Event),
	}
}

// EngineSource is NewSource over an engine's event stream.
func EngineSource(e *engine.Engine, types ...core.EventType) lifecycle.Source {
	return NewSource(e.Events(), types...)
}

func (s *eventSource) Events() <-chan lifecycle.Event {
	return s.out
}

func (s *eventSource) wants(e core.Event) bool {
	return len(s.types) == 0 || slices.Contains(s.types, e.Type)
}

func (s *eventSource) Start(ctx context.Context) error {
	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(s.out)
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-s.events:
				if !ok {
					return nil
				}
				if !s.wants(e) {
					continue
				}
				// core.Event implements lifecycle.Event.
				select {
				case s.out <- e:
				case <-ctx.Done():
					return nil
				}
			}
		}
	})
	return nil
}
