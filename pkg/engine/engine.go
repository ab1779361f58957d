// Package engine reconciles the local graph with the remote service.
//
// A round pushes the graph's dirty snapshot, pulls remote changes, and
// applies acknowledgments and remote deltas to the graph in a single
// transaction. Rounds are all-or-nothing: if anything fails, the graph and
// the watermark stay as they were and the dirty state is retained for the
// next attempt.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/aretw0/humus/pkg/codec"
	"github.com/aretw0/humus/pkg/core"
	"github.com/aretw0/humus/pkg/graph"
)

// State is the engine's position in the sync state machine.
type State string

const (
	StateUnsynced          State = "UNSYNCED"
	StateFullSyncInFlight  State = "FULL_SYNC_IN_FLIGHT"
	StateSynced            State = "SYNCED"
	StateIncrementalFlight State = "INCREMENTAL_SYNC_IN_FLIGHT"
	StateFailed            State = "FAILED"
)

// Config tunes retries and timeouts.
type Config struct {
	// MaxRetries bounds retries of transient failures per call.
	MaxRetries int
	// RetryBackoff is the first retry delay; it doubles on each retry.
	RetryBackoff time.Duration
	// RoundTimeout bounds each network call.
	RoundTimeout time.Duration
	// EventBuffer sizes the events channel.
	EventBuffer int
	// ClientPlatform and ClientVersion go into the request header.
	ClientPlatform string
	ClientVersion  string
}

// DefaultConfig returns the defaults used by New.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		RetryBackoff:   500 * time.Millisecond,
		RoundTimeout:   30 * time.Second,
		EventBuffer:    64,
		ClientPlatform: "ANDROID",
	}
}

// Result summarizes a completed round.
type Result struct {
	Full      bool
	Pushed    int
	Received  int
	Rewritten int
	Removed   int
	Watermark string
	// ParseErrors lists nodes the service sent that could not be decoded.
	// They were skipped; the rest of the round was applied.
	ParseErrors []*core.ParseError
}

// Engine drives sync rounds for one graph.
type Engine struct {
	graph     *graph.Graph
	codec     *codec.Codec
	transport core.Transport
	auth      core.Authenticator
	cfg       Config
	logger    *slog.Logger
	session   string
	now       func() time.Time

	flight  singleflight.Group
	roundMu sync.Mutex

	mu        sync.Mutex
	state     State
	watermark string
	needFull  bool
	lastSync  time.Time
	lastErr   error
	rounds    int

	events  chan core.Event
	dropped atomic.Uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the tuning parameters. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		def := DefaultConfig()
		if cfg.MaxRetries < 0 {
			cfg.MaxRetries = 0
		} else if cfg.MaxRetries == 0 {
			cfg.MaxRetries = def.MaxRetries
		}
		if cfg.RetryBackoff <= 0 {
			cfg.RetryBackoff = def.RetryBackoff
		}
		if cfg.RoundTimeout <= 0 {
			cfg.RoundTimeout = def.RoundTimeout
		}
		if cfg.EventBuffer <= 0 {
			cfg.EventBuffer = def.EventBuffer
		}
		if cfg.ClientPlatform == "" {
			cfg.ClientPlatform = def.ClientPlatform
		}
		e.cfg = cfg
	}
}

// WithCodec sets the codec, e.g. one with a custom field table.
func WithCodec(c *codec.Codec) Option {
	return func(e *Engine) {
		e.codec = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithAuthenticator sets the credential source. Without one, requests carry
// no token.
func WithAuthenticator(a core.Authenticator) Option {
	return func(e *Engine) {
		e.auth = a
	}
}

// WithClock overrides the time source for request timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an engine for g talking to t.
func New(g *graph.Graph, t core.Transport, opts ...Option) *Engine {
	e := &Engine{
		graph:     g,
		transport: t,
		cfg:       DefaultConfig(),
		logger:    slog.New(slog.DiscardHandler),
		session:   uuid.NewString(),
		now:       func() time.Time { return time.Now().UTC() },
		state:     StateUnsynced,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.codec == nil {
		e.codec = codec.New(codec.WithLogger(e.logger))
	}
	e.events = make(chan core.Event, e.cfg.EventBuffer)
	return e
}

// Graph returns the replica the engine reconciles.
func (e *Engine) Graph() *graph.Graph { return e.graph }

// Events returns changes applied from the remote. Events are dropped, not
// queued, when nobody keeps up.
func (e *Engine) Events() <-chan core.Event { return e.events }

// Status returns the current state.
func (e *Engine) Status() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Watermark returns the version of the last applied remote change.
func (e *Engine) Watermark() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.watermark
}

type mode int

const (
	modeAuto mode = iota
	modeFull
	modeIncremental
)

var flightKeys = map[mode]string{modeAuto: "auto", modeFull: "full", modeIncremental: "incremental"}

// Sync runs a full sync when none has completed yet (or the service asked
// for one) and an incremental round otherwise. Concurrent callers share the
// round in flight. Cancelling ctx abandons the wait, not the round: the
// round keeps the values of the first caller's context but not its
// cancellation, and each network call is bounded by Config.RoundTimeout.
func (e *Engine) Sync(ctx context.Context) (*Result, error) {
	return e.do(ctx, modeAuto)
}

// FullSync replaces the baseline with the service's full node set, keeping
// unacknowledged local changes on top.
func (e *Engine) FullSync(ctx context.Context) (*Result, error) {
	return e.do(ctx, modeFull)
}

// IncrementalSync exchanges changes since the watermark.
func (e *Engine) IncrementalSync(ctx context.Context) (*Result, error) {
	return e.do(ctx, modeIncremental)
}

func (e *Engine) do(ctx context.Context, m mode) (*Result, error) {
	roundCtx := context.WithoutCancel(ctx)
	ch := e.flight.DoChan(flightKeys[m], func() (any, error) {
		return e.run(roundCtx, m)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Result), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) run(ctx context.Context, m mode) (*Result, error) {
	e.roundMu.Lock()
	defer e.roundMu.Unlock()

	e.mu.Lock()
	full := m == modeFull || (m == modeAuto && (e.needFull || e.watermark == ""))
	e.mu.Unlock()

	res, err := e.round(ctx, full)
	var rr *core.ResyncRequiredError
	if err != nil && !full && errors.As(err, &rr) {
		e.logger.Warn("service requested full resync", "reason", rr.Reason)
		e.mu.Lock()
		e.needFull = true
		e.mu.Unlock()
		res, err = e.round(ctx, true)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rounds++
	if err != nil {
		e.state = StateFailed
		e.lastErr = err
		e.logger.Error("sync round failed", "full", full, "error", err)
		return nil, err
	}
	e.state = StateSynced
	e.lastErr = nil
	e.lastSync = e.now()
	e.logger.Info("sync round complete",
		"full", res.Full, "pushed", res.Pushed, "received", res.Received,
		"watermark", res.Watermark, "parse_errors", len(res.ParseErrors))
	return res, nil
}

// exchange is everything received during one round.
type exchange struct {
	nodes     []*codec.Decoded
	labels    []*codec.DecodedLabel
	toVersion string
}

func (e *Engine) round(ctx context.Context, full bool) (*Result, error) {
	e.setState(full)

	dirty := e.graph.Dirty()
	res := &Result{Full: full, Pushed: len(dirty.Nodes) + len(dirty.Labels)}

	e.mu.Lock()
	target := e.watermark
	e.mu.Unlock()
	if full {
		target = ""
	}

	req := codec.NewChangesRequest(e.header(), target, e.now())
	for _, entry := range dirty.Nodes {
		raw, err := e.codec.Encode(entry.Node, entry.Fields, entry.New)
		if err != nil {
			return nil, err
		}
		req.Nodes = append(req.Nodes, raw)
	}
	if len(dirty.Labels) > 0 {
		req.UserInfo = &codec.UserInfo{}
		for _, entry := range dirty.Labels {
			raw, err := e.codec.EncodeLabel(entry.Label)
			if err != nil {
				return nil, err
			}
			req.UserInfo.Labels = append(req.UserInfo.Labels, raw)
		}
	}

	ex := &exchange{toVersion: target}
	first := true
	for {
		call, op := e.transport.Changes, "changes"
		if full && first {
			call, op = e.transport.FullDump, "full dump"
		}
		resp, err := e.fetch(ctx, op, call, req)
		if err != nil {
			return nil, err
		}
		if resp.ForceFullResync && !full {
			return nil, &core.ResyncRequiredError{Reason: "forceFullResync"}
		}
		if resp.UpgradeRecommended {
			e.logger.Warn("service recommends a client upgrade")
		}

		nodes, perrs := e.codec.DecodeNodes(resp.Nodes)
		ex.nodes = append(ex.nodes, nodes...)
		res.ParseErrors = append(res.ParseErrors, perrs...)
		if resp.UserInfo != nil {
			for _, raw := range resp.UserInfo.Labels {
				dl, err := e.codec.DecodeLabel(raw)
				if err != nil {
					var pe *core.ParseError
					if errors.As(err, &pe) {
						e.logger.Warn("skipping label", "error", pe.Err)
						res.ParseErrors = append(res.ParseErrors, pe)
					}
					continue
				}
				ex.labels = append(ex.labels, dl)
			}
		}
		if resp.ToVersion != "" {
			ex.toVersion = resp.ToVersion
		}
		if !resp.Truncated {
			break
		}
		first = false
		req = codec.NewChangesRequest(e.header(), ex.toVersion, e.now())
	}
	res.Received = len(ex.nodes)

	var events []core.Event
	e.mu.Lock()
	err := e.graph.Update(func(tx *graph.Tx) error {
		m := &merger{tx: tx, ids: e.graph.IDs(), logger: e.logger, res: res}
		if full {
			m.applyFull(dirty, ex)
		} else {
			m.applyIncremental(dirty, ex)
		}
		if m.err != nil {
			return m.err
		}
		events = m.events
		return nil
	})
	if err == nil {
		e.watermark = ex.toVersion
		if full {
			e.needFull = false
		}
	}
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("apply round: %w", err)
	}
	res.Watermark = ex.toVersion

	for _, ev := range events {
		e.emit(ev)
	}
	return res, nil
}

func (e *Engine) setState(full bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if full {
		e.state = StateFullSyncInFlight
	} else {
		e.state = StateIncrementalFlight
	}
}

func (e *Engine) header() codec.RequestHeader {
	return codec.RequestHeader{
		ClientSessionID: e.session,
		ClientPlatform:  e.cfg.ClientPlatform,
		ClientVersion:   e.cfg.ClientVersion,
		Capabilities:    codec.DefaultCapabilities,
	}
}

type callFunc func(ctx context.Context, req core.Request) ([]byte, error)

// fetch sends one request, refreshing the credential once on rejection and
// retrying transient failures with exponential backoff.
func (e *Engine) fetch(ctx context.Context, op string, call callFunc, req *codec.ChangesRequest) (*codec.ChangesResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	token, err := e.token(ctx, false)
	if err != nil {
		return nil, err
	}

	refreshed := false
	for attempt := 0; ; attempt++ {
		raw, err := e.callOnce(ctx, op, call, core.Request{Token: token, Body: body})
		if err == nil {
			var resp codec.ChangesResponse
			if err := json.Unmarshal(raw, &resp); err != nil {
				return nil, fmt.Errorf("decode %s response: %w", op, &core.ParseError{Raw: raw, Err: err})
			}
			return &resp, nil
		}

		var ae *core.AuthError
		switch {
		case errors.As(err, &ae) && !refreshed:
			refreshed = true
			e.logger.Info("credential rejected, refreshing", "op", op)
			if token, err = e.token(ctx, true); err != nil {
				return nil, err
			}
			attempt--
			continue
		case core.IsTransient(err) && attempt < e.cfg.MaxRetries:
			delay := e.cfg.RetryBackoff << attempt
			e.logger.Warn("transient failure, retrying", "op", op, "attempt", attempt+1, "delay", delay, "error", err)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return nil, err
	}
}

func (e *Engine) callOnce(ctx context.Context, op string, call callFunc, req core.Request) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.RoundTimeout)
	defer cancel()
	raw, err := call(callCtx, req)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, &core.NetworkError{Op: op, Err: err}
	}
	return raw, err
}

func (e *Engine) token(ctx context.Context, refresh bool) (string, error) {
	if e.auth == nil {
		return "", nil
	}
	var (
		tok string
		err error
	)
	if refresh {
		tok, err = e.auth.Refresh(ctx)
	} else {
		tok, err = e.auth.Token(ctx)
	}
	if err != nil {
		var ae *core.AuthError
		if errors.As(err, &ae) {
			return "", err
		}
		return "", &core.AuthError{Err: err}
	}
	return tok, nil
}

func (e *Engine) emit(ev core.Event) {
	select {
	case e.events <- ev:
	default:
		e.dropped.Add(1)
		e.logger.Debug("event dropped", "event", ev.String())
	}
}
