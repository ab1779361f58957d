package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/aretw0/lifecycle/pkg/core/worker"

	"github.com/aretw0/humus/pkg/engine"
)

// DefaultInterval is the auto-sync period used when none is given.
const DefaultInterval = time.Minute

// Checkpointer persists the replica after a successful round.
type Checkpointer interface {
	Checkpoint(e *engine.Engine) error
}

// SyncWorker runs engine.Sync on a fixed interval and on demand. Failed
// rounds are logged and retried on the next tick; the worker keeps running.
type SyncWorker struct {
	*worker.BaseWorker
	engine   *engine.Engine
	interval time.Duration
	store    Checkpointer
	logger   *slog.Logger
	onError  func(error)
	kick     chan struct{}
	cancel   context.CancelFunc

	mu       sync.Mutex
	rounds   int
	failures int
	lastErr  error
}

// WorkerOption configures a SyncWorker.
type WorkerOption func(*SyncWorker)

// WithInterval sets the period between rounds.
func WithInterval(d time.Duration) WorkerOption {
	return func(w *SyncWorker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithCheckpoint saves the replica after every successful round.
func WithCheckpoint(c Checkpointer) WorkerOption {
	return func(w *SyncWorker) {
		w.store = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) WorkerOption {
	return func(w *SyncWorker) {
		w.logger = l
	}
}

// WithErrorHandler receives round and checkpoint failures.
func WithErrorHandler(fn func(error)) WorkerOption {
	return func(w *SyncWorker) {
		w.onError = fn
	}
}

// NewSyncWorker creates a stopped worker for e.
func NewSyncWorker(e *engine.Engine, opts ...WorkerOption) *SyncWorker {
	w := &SyncWorker{
		BaseWorker: worker.NewBaseWorker("humus-autosync"),
		engine:     e,
		interval:   DefaultInterval,
		logger:     slog.New(slog.DiscardHandler),
		kick:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *SyncWorker) Start(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	status := w.State().Status
	if status != worker.StatusCreated && status != worker.StatusPending {
		return fmt.Errorf("sync worker already started (status: %s)", status)
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.SetStatus(worker.StatusRunning)
	return w.StartFunc(runCtx, w.run)
}

func (w *SyncWorker) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.StopRequested = true
		w.cancel()
	}
	return w.BaseWorker.Stop(ctx)
}

func (w *SyncWorker) State() worker.State {
	w.mu.Lock()
	rounds, failures := w.rounds, w.failures
	w.mu.Unlock()
	return w.ExportState(func(s *worker.State) {
		s.Metadata = map[string]string{
			worker.MetadataType: string(worker.TypeGoroutine),
			"interval":          w.interval.String(),
			"rounds":            fmt.Sprint(rounds),
			"failures":          fmt.Sprint(failures),
		}
	})
}

// Trigger asks for a round as soon as possible. Requests made while one is
// already pending are coalesced.
func (w *SyncWorker) Trigger() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// LastError returns the error of the most recent round, if it failed.
func (w *SyncWorker) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

func (w *SyncWorker) run(ctx context.Context) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("sync worker panic: %v", recovered)
			if w.logger.Enabled(ctx, slog.LevelDebug) {
				w.logger.Error("sync worker panic", "error", err, "stack", string(debug.Stack()))
			} else {
				w.logger.Error("sync worker panic", "error", err)
			}
		}
	}()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.once(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-w.kick:
		}
		w.once(ctx)
	}
}

func (w *SyncWorker) once(ctx context.Context) {
	res, err := w.engine.Sync(ctx)
	if ctx.Err() != nil {
		return
	}
	if err == nil && w.store != nil {
		if cerr := w.store.Checkpoint(w.engine); cerr != nil {
			err = fmt.Errorf("checkpoint: %w", cerr)
		}
	}

	w.mu.Lock()
	w.rounds++
	w.lastErr = err
	if err != nil {
		w.failures++
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Warn("auto-sync failed", "error", err)
		if w.onError != nil {
			w.onError(err)
		}
		return
	}
	w.logger.Debug("auto-sync complete", "received", res.Received, "pushed", res.Pushed, "watermark", res.Watermark)
}
