// Package graph holds the local replica: an arena of nodes keyed by ID, a
// label registry and the per-field dirty tracker.
//
// All reads return copies. Mutations go through Graph methods, which record
// dirty state, or through Update, which stages a batch and commits it only if
// every step and the final structural check succeed.
package graph

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/humus/pkg/core"
)

// DefaultSortGap is the spacing between sort keys assigned locally.
const DefaultSortGap int64 = 1 << 16

// Graph is the in-memory replica. It is safe for concurrent use; it must not
// be mutated while Update runs on another goroutine, which the lock ensures.
type Graph struct {
	mu     sync.RWMutex
	st     *state
	ids    core.IDAllocator
	now    func() time.Time
	gap    int64
	logger *slog.Logger
}

// Option configures a Graph.
type Option func(*Graph)

// WithIDAllocator sets the provisional ID allocator.
func WithIDAllocator(a core.IDAllocator) Option {
	return func(g *Graph) {
		g.ids = a
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Graph) {
		g.now = now
	}
}

// WithSortGap sets the spacing used when assigning sort keys.
func WithSortGap(gap int64) Option {
	return func(g *Graph) {
		if gap > 1 {
			g.gap = gap
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Graph) {
		g.logger = l
	}
}

// New creates an empty graph.
func New(opts ...Option) *Graph {
	g := &Graph{
		st:     newState(),
		ids:    ULIDAllocator{},
		now:    func() time.Time { return time.Now().UTC() },
		gap:    DefaultSortGap,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// IDs returns the allocator, so callers can tell provisional IDs apart.
func (g *Graph) IDs() core.IDAllocator {
	return g.ids
}

// nextID allocates a provisional ID that is not already in use.
func (g *Graph) nextID() string {
	for {
		id := g.ids.Next()
		if _, taken := g.st.nodes[id]; taken {
			continue
		}
		if _, taken := g.st.labels[id]; taken {
			continue
		}
		return id
	}
}

// CreateNode adds a fresh node under parentID and returns its provisional ID.
// Top-level kinds ignore parentID. List items are appended at the bottom of
// their list. Blobs are created by the service only.
func (g *Graph) CreateNode(kind core.Kind, parentID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch {
	case kind.TopLevel():
		parentID = core.RootID
	case kind == core.KindListItem:
		p, err := g.st.node(parentID)
		if err != nil {
			return "", err
		}
		if p.Kind != core.KindList {
			return "", fmt.Errorf("%w: list item parent %s is a %s", core.ErrInvalid, parentID, p.Kind)
		}
	default:
		return "", fmt.Errorf("%w: cannot create %s locally", core.ErrInvalid, kind)
	}

	now := g.now()
	n := core.NewNode(g.nextID(), kind, parentID, now)
	if kind == core.KindListItem {
		sibs := g.st.siblings(parentID, "", "")
		n.SortValue = g.st.keyAt(sibs, len(sibs), g.gap, now)
	}
	g.st.link(n)
	g.st.markNew(n)
	if kind == core.KindListItem {
		g.st.touch(parentID, now)
	}
	g.logger.Debug("node created", "id", n.ID, "kind", kind)
	return n.ID, nil
}

// guarded maps fields that have their own validated operation.
var guarded = map[core.Field]string{
	core.FieldSort:          "AddItemAfter, MoveItem or SortItems",
	core.FieldSuperItem:     "Indent or Dedent",
	core.FieldLabels:        "AddLabel or RemoveLabel",
	core.FieldCollaborators: "AddCollaborator or RemoveCollaborator",
}

// Mutate sets a field on a node. Setting a field to its current value is a
// no-op and leaves the dirty state untouched. Ordering, nesting, labels and
// collaborators are changed through their own operations.
func (g *Graph) Mutate(id string, f core.Field, value any) error {
	if op, ok := guarded[f]; ok {
		return fmt.Errorf("%w: set %s with %s", core.ErrInvalid, f, op)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	_, err := g.st.set(id, f, value, g.now())
	return err
}

// Trash moves a node to the trash.
func (g *Graph) Trash(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	_, err := g.st.set(id, core.FieldTrashed, now, now)
	return err
}

// Untrash restores a trashed node.
func (g *Graph) Untrash(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, err := g.st.set(id, core.FieldTrashed, time.Time{}, g.now())
	return err
}

// Delete marks a node deleted. It stays in the graph until the service
// acknowledges the deletion.
func (g *Graph) Delete(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	n, err := g.st.node(id)
	if err != nil {
		return err
	}
	if n.Deleted() {
		return nil
	}
	if _, err := g.st.set(id, core.FieldDeleted, now, now); err != nil {
		return err
	}
	if !n.Kind.TopLevel() {
		g.st.touch(n.ParentID, now)
	}
	return nil
}

// AddCollaborator requests access for email. Existing entries are kept.
func (g *Graph) AddCollaborator(id, email string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, err := g.st.node(id)
	if err != nil {
		return err
	}
	if role, ok := n.Collaborators[email]; ok && role != core.RoleRemove {
		return nil
	}
	next := cloneRoles(n.Collaborators)
	next[email] = core.RoleAdd
	_, err = g.st.set(id, core.FieldCollaborators, next, g.now())
	return err
}

// RemoveCollaborator revokes access for email. A pending add is withdrawn
// outright.
func (g *Graph) RemoveCollaborator(id, email string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, err := g.st.node(id)
	if err != nil {
		return err
	}
	role, ok := n.Collaborators[email]
	if !ok || role == core.RoleRemove {
		return nil
	}
	next := cloneRoles(n.Collaborators)
	if role == core.RoleAdd {
		delete(next, email)
	} else {
		next[email] = core.RoleRemove
	}
	_, err = g.st.set(id, core.FieldCollaborators, next, g.now())
	return err
}

func cloneRoles(m map[string]core.Role) map[string]core.Role {
	out := make(map[string]core.Role, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Get returns a copy of the node.
func (g *Graph) Get(id string) (*core.Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.st.nodes[id]
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

// All returns copies of the top-level nodes that are not deleted, by ID.
func (g *Graph) All() []*core.Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*core.Node
	for _, n := range g.st.sortedChildren(core.RootID) {
		if !n.Deleted() {
			out = append(out, n.Clone())
		}
	}
	return out
}

// Children returns copies of a node's direct children, in push order.
func (g *Graph) Children(id string) []*core.Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	kids := g.st.sortedChildren(id)
	out := make([]*core.Node, len(kids))
	for i, n := range kids {
		out[i] = n.Clone()
	}
	return out
}

// Len returns the number of nodes in the arena, the root excluded.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.st.nodes)
}

// Stats summarizes the replica.
type Stats struct {
	Nodes       int    `json:"nodes"`
	Labels      int    `json:"labels"`
	DirtyNodes  int    `json:"dirty_nodes"`
	DirtyLabels int    `json:"dirty_labels"`
	Revision    uint64 `json:"revision"`
}

// Stats returns counters for introspection.
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Stats{
		Nodes:       len(g.st.nodes),
		Labels:      len(g.st.labels),
		DirtyNodes:  len(g.st.dirty),
		DirtyLabels: len(g.st.labelDirty),
		Revision:    g.st.seq,
	}
}

// touch refreshes a node's updated timestamp after a structural change below it.
func (s *state) touch(id string, now time.Time) {
	n, ok := s.nodes[id]
	if !ok {
		return
	}
	n.Timestamps.Updated = now
	s.bump(id, core.FieldTimestamps)
}
