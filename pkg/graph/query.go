package graph

import (
	"regexp"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/aretw0/humus/pkg/core"
)

// Predicate selects top-level nodes.
type Predicate interface {
	Evaluate(n *core.Node) bool
}

// PredicateFunc adapts a function to Predicate.
type PredicateFunc func(n *core.Node) bool

// Evaluate implements Predicate.
func (f PredicateFunc) Evaluate(n *core.Node) bool { return f(n) }

// HasLabels matches nodes carrying any of the labels. With no labels it
// matches unlabeled nodes.
func HasLabels(ids ...string) Predicate {
	return PredicateFunc(func(n *core.Node) bool {
		if len(ids) == 0 {
			return len(n.Labels) == 0
		}
		return slices.ContainsFunc(ids, n.HasLabel)
	})
}

// HasColors matches nodes of any of the colors.
func HasColors(colors ...core.Color) Predicate {
	return PredicateFunc(func(n *core.Node) bool {
		return slices.Contains(colors, n.Color)
	})
}

// StateFilter matches on the boolean state flags. Nil fields match anything.
type StateFilter struct {
	Pinned   *bool
	Archived *bool
	Trashed  *bool
}

// Evaluate implements Predicate.
func (f StateFilter) Evaluate(n *core.Node) bool {
	if f.Pinned != nil && *f.Pinned != n.Pinned {
		return false
	}
	if f.Archived != nil && *f.Archived != n.Archived {
		return false
	}
	if f.Trashed != nil && *f.Trashed != n.Trashed() {
		return false
	}
	return true
}

// Ptr returns a pointer to v, for StateFilter literals.
func Ptr[T any](v T) *T { return &v }

// Text matches nodes whose title or text contains q, case-insensitively.
// List text includes the items.
func Text(q string) Predicate {
	q = strings.ToLower(q)
	return PredicateFunc(func(n *core.Node) bool {
		return strings.Contains(strings.ToLower(n.Title), q) ||
			strings.Contains(strings.ToLower(n.Text), q)
	})
}

// Regexp matches nodes whose title or text matches re.
func Regexp(re *regexp.Regexp) Predicate {
	return PredicateFunc(func(n *core.Node) bool {
		return re.MatchString(n.Title) || re.MatchString(n.Text)
	})
}

// TitleGlob matches titles against a glob pattern ("*", "?", "[a-z]",
// "{a,b}"). A malformed pattern matches nothing.
func TitleGlob(pattern string) Predicate {
	return PredicateFunc(func(n *core.Node) bool {
		ok, err := doublestar.Match(pattern, n.Title)
		return err == nil && ok
	})
}

// And matches when every predicate does.
func And(ps ...Predicate) Predicate {
	return PredicateFunc(func(n *core.Node) bool {
		for _, p := range ps {
			if !p.Evaluate(n) {
				return false
			}
		}
		return true
	})
}

// Or matches when any predicate does.
func Or(ps ...Predicate) Predicate {
	return PredicateFunc(func(n *core.Node) bool {
		for _, p := range ps {
			if p.Evaluate(n) {
				return true
			}
		}
		return false
	})
}

// Not inverts p.
func Not(p Predicate) Predicate {
	return PredicateFunc(func(n *core.Node) bool { return !p.Evaluate(n) })
}

// Find returns copies of the live top-level nodes matching every predicate,
// ordered pinned first, then by ID. Lists are evaluated with their items
// rendered into Text.
func (g *Graph) Find(ps ...Predicate) []*core.Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	p := And(ps...)
	var out []*core.Node
	for _, n := range g.st.sortedChildren(core.RootID) {
		if n.Deleted() {
			continue
		}
		subject := n
		if n.Kind == core.KindList {
			c := *n
			c.Text = RenderItems(g.st.items(n.ID))
			subject = &c
		}
		if p.Evaluate(subject) {
			out = append(out, n.Clone())
		}
	}
	slices.SortStableFunc(out, func(a, b *core.Node) int {
		if a.Pinned != b.Pinned {
			if a.Pinned {
				return -1
			}
			return 1
		}
		return byID(a, b)
	})
	return out
}
