package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/humus/pkg/adapters/fs"
	"github.com/aretw0/humus/pkg/adapters/lifecycle"
	"github.com/aretw0/humus/pkg/codec"
	"github.com/aretw0/humus/pkg/core"
	"github.com/aretw0/humus/pkg/engine"
	"github.com/aretw0/humus/pkg/graph"
)

// ErrNoTransport is returned by New without WithTransport.
var ErrNoTransport = errors.New("no transport configured")

// Replica wires a graph, its sync engine and optional snapshot persistence.
type Replica struct {
	Graph  *graph.Graph
	Engine *engine.Engine
	// Store is nil unless WithSnapshot was given.
	Store *fs.Store

	logger        *slog.Logger
	checkedPolicy core.CheckedPolicy
	errorHandler  func(error)
}

// New assembles a replica. With WithSnapshot, a previously saved snapshot
// is restored before New returns.
func New(opts ...Option) (*Replica, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.transport == nil {
		return nil, ErrNoTransport
	}

	ids := o.ids
	if ids == nil {
		ids = graph.ULIDAllocator{Prefix: o.idPrefix}
	}
	gopts := []graph.Option{
		graph.WithIDAllocator(ids),
		graph.WithSortGap(o.sortGap),
		graph.WithLogger(o.logger),
	}
	eopts := []engine.Option{
		engine.WithConfig(o.engine),
		engine.WithCodec(codec.New(codec.WithFieldTable(o.fieldTable), codec.WithLogger(o.logger))),
		engine.WithLogger(o.logger),
	}
	if o.clock != nil {
		gopts = append(gopts, graph.WithClock(o.clock))
		eopts = append(eopts, engine.WithClock(o.clock))
	}
	if o.auth != nil {
		eopts = append(eopts, engine.WithAuthenticator(o.auth))
	}

	g := graph.New(gopts...)
	r := &Replica{
		Graph:         g,
		Engine:        engine.New(g, o.transport, eopts...),
		logger:        o.logger,
		checkedPolicy: o.checkedPolicy,
		errorHandler:  o.errorHandler,
	}

	if o.snapshot != "" {
		r.Store = fs.NewStore(o.snapshot, fs.WithCompression(o.compress), fs.WithLogger(o.logger))
		if _, err := r.Store.Resume(r.Engine); err != nil {
			return nil, fmt.Errorf("restore replica: %w", err)
		}
	}
	return r, nil
}

// Sync runs a round and, when persistence is configured, saves the result.
func (r *Replica) Sync(ctx context.Context) (*engine.Result, error) {
	res, err := r.Engine.Sync(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.Save(); err != nil {
		return res, err
	}
	return res, nil
}

// Save writes the snapshot. It is a no-op without WithSnapshot.
func (r *Replica) Save() error {
	if r.Store == nil {
		return nil
	}
	return r.Store.Checkpoint(r.Engine)
}

// SortList orders a list's items alphabetically, honouring the configured
// checked-items policy or, by default, the list's own.
func (r *Replica) SortList(listID string) error {
	policy := r.checkedPolicy
	if policy == "" {
		list, ok := r.Graph.Get(listID)
		if !ok {
			return fmt.Errorf("%w: %s", core.ErrNotFound, listID)
		}
		policy = list.Settings.CheckedPolicy
	}
	return r.Graph.SortItems(listID, graph.DefaultCompare(policy))
}

// AutoSync returns a stopped background worker syncing every interval and
// checkpointing after each successful round.
func (r *Replica) AutoSync(interval time.Duration) *lifecycle.SyncWorker {
	opts := []lifecycle.WorkerOption{
		lifecycle.WithInterval(interval),
		lifecycle.WithLogger(r.logger),
	}
	if r.Store != nil {
		opts = append(opts, lifecycle.WithCheckpoint(r.Store))
	}
	if r.errorHandler != nil {
		opts = append(opts, lifecycle.WithErrorHandler(r.errorHandler))
	}
	return lifecycle.NewSyncWorker(r.Engine, opts...)
}
