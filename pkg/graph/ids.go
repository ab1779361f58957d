package graph

import (
	"strconv"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
)

// DefaultIDPrefix marks provisional IDs.
const DefaultIDPrefix = "tmp-"

// ULIDAllocator issues provisional IDs of the form "<prefix><ulid>". ULIDs are
// time-ordered, so provisional nodes created later sort later.
type ULIDAllocator struct {
	Prefix string
}

// Next implements core.IDAllocator.
func (a ULIDAllocator) Next() string {
	return a.prefix() + ulid.Make().String()
}

// IsProvisional implements core.IDAllocator.
func (a ULIDAllocator) IsProvisional(id string) bool {
	return strings.HasPrefix(id, a.prefix())
}

func (a ULIDAllocator) prefix() string {
	if a.Prefix == "" {
		return DefaultIDPrefix
	}
	return a.Prefix
}

// Sequence issues "<prefix>1", "<prefix>2", ... It is deterministic and meant
// for tests and reproducible fixtures.
type Sequence struct {
	prefix string
	mu     sync.Mutex
	next   int
}

// NewSequence creates a Sequence allocator.
func NewSequence(prefix string) *Sequence {
	if prefix == "" {
		prefix = DefaultIDPrefix
	}
	return &Sequence{prefix: prefix, next: 1}
}

// Next implements core.IDAllocator.
func (s *Sequence) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.prefix + strconv.Itoa(s.next)
	s.next++
	return id
}

// IsProvisional implements core.IDAllocator.
func (s *Sequence) IsProvisional(id string) bool {
	return strings.HasPrefix(id, s.prefix)
}
