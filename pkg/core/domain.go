// Package core holds the domain model shared by the graph, codec and sync engine.
package core

import (
	"maps"
	"slices"
	"time"
)

// RootID is the implicit parent of every top-level node.
const RootID = "root"

// Kind discriminates graph entities.
type Kind string

const (
	KindNote     Kind = "NOTE"
	KindList     Kind = "LIST"
	KindListItem Kind = "LIST_ITEM"
	KindBlob     Kind = "BLOB"
	KindLabel    Kind = "LABEL"
)

// TopLevel reports whether nodes of this kind hang directly off the root.
func (k Kind) TopLevel() bool {
	return k == KindNote || k == KindList
}

// Valid reports whether k is a known graph node kind.
func (k Kind) Valid() bool {
	switch k {
	case KindNote, KindList, KindListItem, KindBlob:
		return true
	}
	return false
}

// Color is the background color of a top-level node.
type Color string

const (
	ColorWhite    Color = "DEFAULT"
	ColorRed      Color = "RED"
	ColorOrange   Color = "ORANGE"
	ColorYellow   Color = "YELLOW"
	ColorGreen    Color = "GREEN"
	ColorTeal     Color = "TEAL"
	ColorBlue     Color = "BLUE"
	ColorDarkBlue Color = "CERULEAN"
	ColorPurple   Color = "PURPLE"
	ColorPink     Color = "PINK"
	ColorBrown    Color = "BROWN"
	ColorGray     Color = "GRAY"
)

// Role is a collaborator's access on a node. Share requests (RoleAdd,
// RoleRemove) stay pending until the server acknowledges them.
type Role string

const (
	RoleOwner  Role = "O"
	RoleWriter Role = "W"
	RoleAdd    Role = "WR"
	RoleRemove Role = "RM"
)

// Request reports whether r is a pending share request rather than a granted role.
func (r Role) Request() bool {
	return r == RoleAdd || r == RoleRemove
}

// Placement picks where a new list item lands.
type Placement string

const (
	PlacementDefault Placement = ""
	PlacementTop     Placement = "TOP"
	PlacementBottom  Placement = "BOTTOM"
)

// CheckedPolicy controls where checked list items sort.
type CheckedPolicy string

const (
	// CheckedDefault interleaves checked items with unchecked ones.
	CheckedDefault CheckedPolicy = "DEFAULT"
	// CheckedGraveyard segregates checked items below unchecked ones.
	CheckedGraveyard CheckedPolicy = "GRAVEYARD"
)

// GraveyardState is the visibility of the checked-items section.
type GraveyardState string

const (
	GraveyardExpanded  GraveyardState = "EXPANDED"
	GraveyardCollapsed GraveyardState = "COLLAPSED"
)

// BlobType discriminates media attachments.
type BlobType string

const (
	BlobAudio   BlobType = "AUDIO"
	BlobImage   BlobType = "IMAGE"
	BlobDrawing BlobType = "DRAWING"
)

// Valid reports whether t is a known blob type.
func (t BlobType) Valid() bool {
	return t == BlobAudio || t == BlobImage || t == BlobDrawing
}

// Timestamps tracks a node's lifecycle. Zero values mean "unset".
type Timestamps struct {
	Created time.Time
	Updated time.Time
	Edited  time.Time
	Trashed time.Time
	Deleted time.Time
}

// Settings are per-node list behaviours.
type Settings struct {
	NewItemPlacement Placement
	CheckedPolicy    CheckedPolicy
	GraveyardState   GraveyardState
}

// DefaultSettings mirrors what the service assigns to fresh nodes.
func DefaultSettings() Settings {
	return Settings{
		NewItemPlacement: PlacementBottom,
		CheckedPolicy:    CheckedGraveyard,
		GraveyardState:   GraveyardCollapsed,
	}
}

// AnnotationKind discriminates read-only annotations attached by the service.
type AnnotationKind string

const (
	AnnotationWebLink  AnnotationKind = "webLink"
	AnnotationCategory AnnotationKind = "topicCategory"
	AnnotationTask     AnnotationKind = "taskAssist"
)

// WebLink is a link preview annotation.
type WebLink struct {
	Title         string
	URL           string
	ImageURL      string
	ProvenanceURL string
	Description   string
}

// Annotation is server-generated metadata on a top-level node.
type Annotation struct {
	ID       string
	Kind     AnnotationKind
	WebLink  *WebLink
	Category string
	Suggest  string
}

// BlobInfo describes an immutable media attachment.
type BlobInfo struct {
	Type          BlobType
	MediaID       string
	Mimetype      string
	Width         int
	Height        int
	ByteSize      int64
	Length        int64
	ExtractedText string
	DrawingID     string
}

// Node is a single entity of the graph. Relationships are held as IDs; the
// graph owns every node.
type Node struct {
	ID         string
	Kind       Kind
	ParentID   string
	Version    int64
	SortValue  int64
	Text       string
	Timestamps Timestamps
	Settings   Settings

	// Top-level fields.
	Title         string
	Color         Color
	Pinned        bool
	Archived      bool
	Labels        map[string]struct{}
	Collaborators map[string]Role
	Annotations   []Annotation

	// List item fields.
	Checked     bool
	SuperItemID string

	// Blob fields.
	Blob *BlobInfo
}

// NewNode returns a node of the given kind with service defaults applied.
func NewNode(id string, kind Kind, parentID string, now time.Time) *Node {
	n := &Node{
		ID:       id,
		Kind:     kind,
		ParentID: parentID,
		Timestamps: Timestamps{
			Created: now,
			Updated: now,
			Edited:  now,
		},
		Settings: DefaultSettings(),
	}
	if kind.TopLevel() {
		n.Color = ColorWhite
		n.Labels = map[string]struct{}{}
		n.Collaborators = map[string]Role{}
	}
	return n
}

// Trashed reports whether the node sits in the trash.
func (n *Node) Trashed() bool {
	return !n.Timestamps.Trashed.IsZero() && n.Timestamps.Trashed.Unix() > 0
}

// Deleted reports whether the node is logically deleted.
func (n *Node) Deleted() bool {
	return !n.Timestamps.Deleted.IsZero() && n.Timestamps.Deleted.Unix() > 0
}

// LabelIDs returns the node's label set in sorted order.
func (n *Node) LabelIDs() []string {
	return slices.Sorted(maps.Keys(n.Labels))
}

// HasLabel reports whether the label is attached.
func (n *Node) HasLabel(id string) bool {
	_, ok := n.Labels[id]
	return ok
}

// CollaboratorEmails returns collaborators with access or a pending add, sorted.
func (n *Node) CollaboratorEmails() []string {
	out := make([]string, 0, len(n.Collaborators))
	for email, role := range n.Collaborators {
		if role != RoleRemove {
			out = append(out, email)
		}
	}
	slices.Sort(out)
	return out
}

// Clone returns a deep copy.
func (n *Node) Clone() *Node {
	c := *n
	if n.Labels != nil {
		c.Labels = maps.Clone(n.Labels)
	}
	if n.Collaborators != nil {
		c.Collaborators = maps.Clone(n.Collaborators)
	}
	if n.Annotations != nil {
		c.Annotations = make([]Annotation, len(n.Annotations))
		for i, a := range n.Annotations {
			if a.WebLink != nil {
				wl := *a.WebLink
				a.WebLink = &wl
			}
			c.Annotations[i] = a
		}
	}
	if n.Blob != nil {
		b := *n.Blob
		c.Blob = &b
	}
	return &c
}

// Label is a registry entry referenced by ID from top-level nodes.
type Label struct {
	ID         string
	Name       string
	Timestamps Timestamps
	Merged     time.Time
}

// Deleted reports whether the label is logically deleted.
func (l *Label) Deleted() bool {
	return !l.Timestamps.Deleted.IsZero() && l.Timestamps.Deleted.Unix() > 0
}

// Clone returns a copy.
func (l *Label) Clone() *Label {
	c := *l
	return &c
}
