package platform

import (
	"log/slog"
	"time"

	"github.com/aretw0/humus/pkg/codec"
	"github.com/aretw0/humus/pkg/core"
	"github.com/aretw0/humus/pkg/engine"
	"github.com/aretw0/humus/pkg/graph"
)

// options holds the configuration of a replica.
type options struct {
	logger        *slog.Logger
	transport     core.Transport
	auth          core.Authenticator
	ids           core.IDAllocator
	idPrefix      string
	sortGap       int64
	clock         func() time.Time
	engine        engine.Config
	fieldTable    codec.FieldTable
	checkedPolicy core.CheckedPolicy
	snapshot      string
	compress      bool
	errorHandler  func(error)
}

// Option configures a replica.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		logger:   slog.New(slog.DiscardHandler),
		idPrefix: graph.DefaultIDPrefix,
		sortGap:  graph.DefaultSortGap,
		engine:   engine.DefaultConfig(),
		compress: true,
	}
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTransport sets the connection to the remote service. Required.
func WithTransport(t core.Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// WithAuthenticator sets the credential source for requests.
func WithAuthenticator(a core.Authenticator) Option {
	return func(o *options) {
		o.auth = a
	}
}

// WithIDAllocator replaces the provisional ID allocator. It takes precedence
// over WithIDPrefix.
func WithIDAllocator(a core.IDAllocator) Option {
	return func(o *options) {
		o.ids = a
	}
}

// WithIDPrefix sets the prefix of provisional IDs.
func WithIDPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.idPrefix = prefix
		}
	}
}

// WithSortGap sets the spacing between freshly assigned sort keys.
func WithSortGap(gap int64) Option {
	return func(o *options) {
		o.sortGap = gap
	}
}

// WithClock overrides the time source of the graph and the engine.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

// WithEngineConfig tunes retries, timeouts and the event buffer.
func WithEngineConfig(cfg engine.Config) Option {
	return func(o *options) {
		o.engine = cfg
	}
}

// WithFieldTable replaces the mapping from fields to wire keys used for
// partial updates.
func WithFieldTable(t codec.FieldTable) Option {
	return func(o *options) {
		o.fieldTable = t
	}
}

// WithCheckedPolicy forces the checked-items policy used when sorting lists.
// By default each list's own setting applies.
func WithCheckedPolicy(p core.CheckedPolicy) Option {
	return func(o *options) {
		o.checkedPolicy = p
	}
}

// WithSnapshot persists the replica at path. An existing snapshot is
// restored when the replica is created.
func WithSnapshot(path string) Option {
	return func(o *options) {
		o.snapshot = path
	}
}

// WithCompression toggles zstd compression of snapshot files.
func WithCompression(on bool) Option {
	return func(o *options) {
		o.compress = on
	}
}

// WithErrorHandler receives failures of background auto-sync rounds.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) {
		o.errorHandler = fn
	}
}
