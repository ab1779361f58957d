package main

import (
	"fmt"
	"log/slog"

	"github.com/aretw0/humus/pkg/adapters/fs"
	"github.com/aretw0/humus/pkg/engine"
	"github.com/aretw0/humus/pkg/graph"
)

// replica is a snapshot loaded for inspection. Its engine has no transport.
type replica struct {
	store  *fs.Store
	snap   *engine.Snapshot
	graph  *graph.Graph
	engine *engine.Engine
}

func load(path string) (*replica, error) {
	logger := slog.Default()
	store := fs.NewStore(path, fs.WithLogger(logger))
	snap, err := store.Load()
	if err != nil {
		return nil, err
	}

	g := graph.New(graph.WithLogger(logger))
	e := engine.New(g, nil, engine.WithLogger(logger))
	if err := e.Restore(snap); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logger.Debug("snapshot loaded", "path", path, "nodes", g.Len(), "watermark", snap.Watermark)
	return &replica{store: store, snap: snap, graph: g, engine: e}, nil
}

func (r *replica) labelNames(ids []string) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if l, ok := r.graph.Label(id); ok {
			names = append(names, l.Name)
		} else {
			names = append(names, id)
		}
	}
	return names
}
