package graph

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/aretw0/humus/pkg/core"
)

func (s *state) labelByName(name string) *core.Label {
	for _, l := range s.labels {
		if !l.Deleted() && strings.EqualFold(l.Name, name) {
			return l
		}
	}
	return nil
}

// CreateLabel registers a new label. Names are unique, case-insensitively,
// among live labels.
func (g *Graph) CreateLabel(name string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createLabel(name)
}

// EnsureLabel returns the ID of the live label called name, creating it if
// there is none.
func (g *Graph) EnsureLabel(name string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if l := g.st.labelByName(name); l != nil {
		return l.ID, nil
	}
	return g.createLabel(name)
}

func (g *Graph) createLabel(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: empty label name", core.ErrInvalid)
	}
	if g.st.labelByName(name) != nil {
		return "", fmt.Errorf("%w: %q", core.ErrLabelExists, name)
	}
	now := g.now()
	l := &core.Label{
		ID:         g.nextID(),
		Name:       name,
		Timestamps: core.Timestamps{Created: now, Updated: now},
	}
	g.st.labels[l.ID] = l
	g.st.bumpLabel(l.ID, core.FieldName, core.FieldTimestamps)
	g.st.labelDirty[l.ID].isNew = true
	return l.ID, nil
}

// RenameLabel changes a label's name.
func (g *Graph) RenameLabel(id, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.st.labels[id]
	if !ok {
		return fmt.Errorf("%w: label %s", core.ErrNotFound, id)
	}
	if l.Name == name {
		return nil
	}
	if other := g.st.labelByName(name); other != nil && other.ID != id {
		return fmt.Errorf("%w: %q", core.ErrLabelExists, name)
	}
	l.Name = name
	l.Timestamps.Updated = g.now()
	g.st.bumpLabel(id, core.FieldName, core.FieldTimestamps)
	return nil
}

// DeleteLabel marks a label deleted and detaches it from every node.
func (g *Graph) DeleteLabel(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.st.labels[id]
	if !ok {
		return fmt.Errorf("%w: label %s", core.ErrNotFound, id)
	}
	if l.Deleted() {
		return nil
	}
	now := g.now()
	l.Timestamps.Deleted = now
	l.Timestamps.Updated = now
	g.st.bumpLabel(id, core.FieldTimestamps)
	for nid, n := range g.st.nodes {
		if !n.HasLabel(id) {
			continue
		}
		next := make(map[string]struct{}, len(n.Labels))
		for k := range n.Labels {
			if k != id {
				next[k] = struct{}{}
			}
		}
		if _, err := g.st.set(nid, core.FieldLabels, next, now); err != nil {
			return err
		}
	}
	return nil
}

// Label returns a copy of a label.
func (g *Graph) Label(id string) (*core.Label, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	l, ok := g.st.labels[id]
	if !ok {
		return nil, false
	}
	return l.Clone(), true
}

// FindLabel looks a live label up by name, case-insensitively.
func (g *Graph) FindLabel(name string) (*core.Label, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	l := g.st.labelByName(name)
	if l == nil {
		return nil, false
	}
	return l.Clone(), true
}

// MatchLabels returns the live labels whose name matches re, ordered by name.
func (g *Graph) MatchLabels(re *regexp.Regexp) []*core.Label {
	var out []*core.Label
	for _, l := range g.Labels() {
		if re.MatchString(l.Name) {
			out = append(out, l)
		}
	}
	return out
}

// Labels returns the live labels ordered by name.
func (g *Graph) Labels() []*core.Label {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*core.Label, 0, len(g.st.labels))
	for _, l := range g.st.labels {
		if !l.Deleted() {
			out = append(out, l.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *core.Label) int {
		return cmp.Or(cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// AddLabel attaches a live label to a top-level node.
func (g *Graph) AddLabel(nodeID, labelID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.editLabels(nodeID, labelID, true)
}

// RemoveLabel detaches a label from a node.
func (g *Graph) RemoveLabel(nodeID, labelID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.editLabels(nodeID, labelID, false)
}

func (g *Graph) editLabels(nodeID, labelID string, attach bool) error {
	n, err := g.st.node(nodeID)
	if err != nil {
		return err
	}
	if attach {
		l, ok := g.st.labels[labelID]
		if !ok || l.Deleted() {
			return fmt.Errorf("%w: label %s", core.ErrNotFound, labelID)
		}
	}
	if n.HasLabel(labelID) == attach {
		return nil
	}
	next := make(map[string]struct{}, len(n.Labels)+1)
	for k := range n.Labels {
		next[k] = struct{}{}
	}
	if attach {
		next[labelID] = struct{}{}
	} else {
		delete(next, labelID)
	}
	_, err = g.st.set(nodeID, core.FieldLabels, next, g.now())
	return err
}
