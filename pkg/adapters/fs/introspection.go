package fs

import (
	"time"

	"github.com/aretw0/introspection"
)

// StoreState exposes internal state for observability.
type StoreState struct {
	Path       string     `json:"path"`
	Compressed bool       `json:"compressed"`
	Saves      int        `json:"saves"`
	Loads      int        `json:"loads"`
	LastSave   *time.Time `json:"last_save,omitempty"`
	LastSize   int        `json:"last_size,omitempty"`
	Digest     string     `json:"digest,omitempty"`
}

// State implements introspection.Introspectable.
func (s *Store) State() any {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := StoreState{
		Path:       s.path,
		Compressed: s.compress,
		Saves:      s.saves,
		Loads:      s.loads,
		LastSave:   s.lastSave,
		LastSize:   s.lastSize,
	}
	if s.lastSum != (Digest{}) {
		st.Digest = s.lastSum.String()
	}
	return st
}

// ComponentType implements introspection.Component.
func (s *Store) ComponentType() string {
	return "snapshot-store"
}

var _ introspection.Introspectable = (*Store)(nil)
var _ introspection.Component = (*Store)(nil)
