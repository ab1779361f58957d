package humus

import (
	"log/slog"
	"time"

	"github.com/aretw0/humus/internal/platform"
	"github.com/aretw0/humus/pkg/codec"
	"github.com/aretw0/humus/pkg/core"
	"github.com/aretw0/humus/pkg/engine"
)

// --- Types ---

// Replica is a graph, its sync engine and optional snapshot persistence.
type Replica = platform.Replica

// Config is the YAML configuration file.
type Config = platform.Config

// Node is a note, list, list item or blob.
type Node = core.Node

// Label is a registry entry attached to top-level nodes.
type Label = core.Label

// Event reports a change applied from the remote service.
type Event = core.Event

// Transport carries requests to the remote service.
type Transport = core.Transport

// Authenticator supplies bearer credentials.
type Authenticator = core.Authenticator

// SyncResult summarizes a sync round.
type SyncResult = engine.Result

// EngineConfig tunes retries and timeouts.
type EngineConfig = engine.Config

const (
	KindNote     = core.KindNote
	KindList     = core.KindList
	KindListItem = core.KindListItem

	PlacementTop    = core.PlacementTop
	PlacementBottom = core.PlacementBottom

	FieldTitle    = core.FieldTitle
	FieldText     = core.FieldText
	FieldColor    = core.FieldColor
	FieldPinned   = core.FieldPinned
	FieldArchived = core.FieldArchived
	FieldChecked  = core.FieldChecked
)

// --- Configuration ---

// Option configures a replica.
type Option = platform.Option

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return platform.WithLogger(logger)
}

// WithAuthenticator sets the credential source for requests.
func WithAuthenticator(a Authenticator) Option {
	return platform.WithAuthenticator(a)
}

// WithIDAllocator replaces the provisional ID allocator.
func WithIDAllocator(a core.IDAllocator) Option {
	return platform.WithIDAllocator(a)
}

// WithIDPrefix sets the prefix of provisional IDs.
func WithIDPrefix(prefix string) Option {
	return platform.WithIDPrefix(prefix)
}

// WithSortGap sets the spacing between freshly assigned sort keys.
func WithSortGap(gap int64) Option {
	return platform.WithSortGap(gap)
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return platform.WithClock(now)
}

// WithEngineConfig tunes retries, timeouts and the event buffer.
func WithEngineConfig(cfg EngineConfig) Option {
	return platform.WithEngineConfig(cfg)
}

// WithFieldTable replaces the field to wire key mapping used for partial
// updates.
func WithFieldTable(t codec.FieldTable) Option {
	return platform.WithFieldTable(t)
}

// WithCheckedPolicy forces the checked-items policy used by SortList.
func WithCheckedPolicy(p core.CheckedPolicy) Option {
	return platform.WithCheckedPolicy(p)
}

// WithSnapshot persists the replica at path.
func WithSnapshot(path string) Option {
	return platform.WithSnapshot(path)
}

// WithCompression toggles zstd compression of snapshot files.
func WithCompression(on bool) Option {
	return platform.WithCompression(on)
}

// WithErrorHandler receives failures of background auto-sync rounds.
func WithErrorHandler(fn func(error)) Option {
	return platform.WithErrorHandler(fn)
}

// --- Factory ---

// New creates a replica talking to t.
func New(t Transport, opts ...Option) (*Replica, error) {
	return platform.New(append([]Option{platform.WithTransport(t)}, opts...)...)
}

// Open creates a replica configured by a YAML file. Explicit options are
// applied after the file's.
func Open(configPath string, t Transport, opts ...Option) (*Replica, error) {
	cfg, err := platform.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	fileOpts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	return New(t, append(fileOpts, opts...)...)
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	return platform.LoadConfig(path)
}

// FindConfig looks upwards from startDir for humus.yaml.
func FindConfig(startDir string) (string, error) {
	return platform.FindConfig(startDir)
}
