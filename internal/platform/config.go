package platform

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/humus/pkg/codec"
	"github.com/aretw0/humus/pkg/core"
	"github.com/aretw0/humus/pkg/engine"
)

// ConfigFileName is the file FindConfig looks for.
const ConfigFileName = "humus.yaml"

// Config is the on-disk configuration. Zero values keep the defaults.
type Config struct {
	SortGap       int64               `yaml:"sort_gap"`
	CheckedPolicy string              `yaml:"checked_policy"`
	MaxRetries    int                 `yaml:"max_retries"`
	RetryBackoff  time.Duration       `yaml:"retry_backoff"`
	RoundTimeout  time.Duration       `yaml:"round_timeout"`
	EventBuffer   int                 `yaml:"event_buffer"`
	IDPrefix      string              `yaml:"id_prefix"`
	ClientVersion string              `yaml:"client_version"`
	Snapshot      string              `yaml:"snapshot"`
	Compress      *bool               `yaml:"compress"`
	FieldTable    map[string][]string `yaml:"field_table"`
}

// ParseConfig decodes YAML. Unknown keys are rejected.
func ParseConfig(data []byte) (*Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &c, nil
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Options converts the file into options. Invalid values are reported here
// rather than at first use.
func (c *Config) Options() ([]Option, error) {
	var opts []Option

	if c.SortGap < 0 {
		return nil, fmt.Errorf("%w: sort_gap must be positive", core.ErrInvalid)
	}
	if c.SortGap > 0 {
		opts = append(opts, WithSortGap(c.SortGap))
	}

	switch p := core.CheckedPolicy(c.CheckedPolicy); p {
	case "":
	case core.CheckedDefault, core.CheckedGraveyard:
		opts = append(opts, WithCheckedPolicy(p))
	default:
		return nil, fmt.Errorf("%w: checked_policy %q", core.ErrInvalid, c.CheckedPolicy)
	}

	cfg := engine.Config{
		MaxRetries:    c.MaxRetries,
		RetryBackoff:  c.RetryBackoff,
		RoundTimeout:  c.RoundTimeout,
		EventBuffer:   c.EventBuffer,
		ClientVersion: c.ClientVersion,
	}
	if cfg != (engine.Config{}) {
		opts = append(opts, WithEngineConfig(cfg))
	}

	if c.IDPrefix != "" {
		opts = append(opts, WithIDPrefix(c.IDPrefix))
	}
	if c.Snapshot != "" {
		opts = append(opts, WithSnapshot(c.Snapshot))
	}
	if c.Compress != nil {
		opts = append(opts, WithCompression(*c.Compress))
	}
	if len(c.FieldTable) > 0 {
		t, err := codec.ParseFieldTable(c.FieldTable)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithFieldTable(t))
	}
	return opts, nil
}
