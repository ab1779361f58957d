package core

import (
	"fmt"
	"maps"
	"time"
)

// Field names a mutable attribute tracked by the dirty tracker.
type Field string

const (
	FieldTitle         Field = "title"
	FieldText          Field = "text"
	FieldColor         Field = "color"
	FieldPinned        Field = "pinned"
	FieldArchived      Field = "archived"
	FieldTrashed       Field = "trashed"
	FieldDeleted       Field = "deleted"
	FieldChecked       Field = "checked"
	FieldSort          Field = "sort"
	FieldSuperItem     Field = "superItem"
	FieldSettings      Field = "settings"
	FieldLabels        Field = "labels"
	FieldCollaborators Field = "collaborators"
	FieldTimestamps    Field = "timestamps"

	// FieldName applies to labels only.
	FieldName Field = "name"
)

// NodeFields lists every field a graph node can carry, in encoding order.
var NodeFields = []Field{
	FieldTitle, FieldText, FieldColor, FieldPinned, FieldArchived,
	FieldTrashed, FieldDeleted, FieldChecked, FieldSort, FieldSuperItem,
	FieldSettings, FieldLabels, FieldCollaborators, FieldTimestamps,
}

// SubCollection reports whether f is a set-valued field whose edits mark only
// the collection itself.
func (f Field) SubCollection() bool {
	return f == FieldLabels || f == FieldCollaborators
}

// Edits reports whether changing f counts as a user edit (bumps "edited").
func (f Field) Edits() bool {
	switch f {
	case FieldTitle, FieldText, FieldColor, FieldChecked, FieldSuperItem:
		return true
	}
	return false
}

// Applies reports whether f is meaningful for nodes of kind k.
func (f Field) Applies(k Kind) bool {
	switch f {
	case FieldTitle, FieldColor, FieldPinned, FieldArchived, FieldLabels, FieldCollaborators:
		return k.TopLevel()
	case FieldChecked, FieldSuperItem:
		return k == KindListItem
	case FieldName:
		return k == KindLabel
	}
	return k.Valid()
}

// FieldEqual reports whether a and b agree on f.
func FieldEqual(a, b *Node, f Field) bool {
	switch f {
	case FieldTitle:
		return a.Title == b.Title
	case FieldText:
		return a.Text == b.Text
	case FieldColor:
		return a.Color == b.Color
	case FieldPinned:
		return a.Pinned == b.Pinned
	case FieldArchived:
		return a.Archived == b.Archived
	case FieldTrashed:
		return a.Timestamps.Trashed.Equal(b.Timestamps.Trashed)
	case FieldDeleted:
		return a.Timestamps.Deleted.Equal(b.Timestamps.Deleted)
	case FieldChecked:
		return a.Checked == b.Checked
	case FieldSort:
		return a.SortValue == b.SortValue
	case FieldSuperItem:
		return a.SuperItemID == b.SuperItemID
	case FieldSettings:
		return a.Settings == b.Settings
	case FieldLabels:
		return maps.Equal(a.Labels, b.Labels)
	case FieldCollaborators:
		return maps.Equal(a.Collaborators, b.Collaborators)
	case FieldTimestamps:
		return a.Timestamps.Created.Equal(b.Timestamps.Created) &&
			a.Timestamps.Updated.Equal(b.Timestamps.Updated) &&
			a.Timestamps.Edited.Equal(b.Timestamps.Edited)
	}
	return true
}

// CopyField copies f from src into dst.
func CopyField(dst, src *Node, f Field) {
	switch f {
	case FieldTitle:
		dst.Title = src.Title
	case FieldText:
		dst.Text = src.Text
	case FieldColor:
		dst.Color = src.Color
	case FieldPinned:
		dst.Pinned = src.Pinned
	case FieldArchived:
		dst.Archived = src.Archived
	case FieldTrashed:
		dst.Timestamps.Trashed = src.Timestamps.Trashed
	case FieldDeleted:
		dst.Timestamps.Deleted = src.Timestamps.Deleted
	case FieldChecked:
		dst.Checked = src.Checked
	case FieldSort:
		dst.SortValue = src.SortValue
	case FieldSuperItem:
		dst.SuperItemID = src.SuperItemID
	case FieldSettings:
		dst.Settings = src.Settings
	case FieldLabels:
		dst.Labels = maps.Clone(src.Labels)
	case FieldCollaborators:
		dst.Collaborators = maps.Clone(src.Collaborators)
	case FieldTimestamps:
		dst.Timestamps.Created = src.Timestamps.Created
		dst.Timestamps.Updated = src.Timestamps.Updated
		dst.Timestamps.Edited = src.Timestamps.Edited
	}
}

// SetField assigns value to f on n. The value's dynamic type must match the
// field; sub-collections are replaced wholesale.
func SetField(n *Node, f Field, value any) error {
	if !f.Applies(n.Kind) {
		return fmt.Errorf("%w: field %s does not apply to %s", ErrInvalid, f, n.Kind)
	}
	bad := func() error {
		return fmt.Errorf("%w: field %s cannot hold %T", ErrInvalid, f, value)
	}
	switch f {
	case FieldTitle, FieldText, FieldSuperItem:
		v, ok := value.(string)
		if !ok {
			return bad()
		}
		switch f {
		case FieldTitle:
			n.Title = v
		case FieldText:
			n.Text = v
		default:
			n.SuperItemID = v
		}
	case FieldColor:
		switch v := value.(type) {
		case Color:
			n.Color = v
		case string:
			n.Color = Color(v)
		default:
			return bad()
		}
	case FieldPinned, FieldArchived, FieldChecked:
		v, ok := value.(bool)
		if !ok {
			return bad()
		}
		switch f {
		case FieldPinned:
			n.Pinned = v
		case FieldArchived:
			n.Archived = v
		default:
			n.Checked = v
		}
	case FieldTrashed, FieldDeleted:
		v, ok := value.(time.Time)
		if !ok {
			return bad()
		}
		if f == FieldTrashed {
			n.Timestamps.Trashed = v
		} else {
			n.Timestamps.Deleted = v
		}
	case FieldSort:
		switch v := value.(type) {
		case int64:
			n.SortValue = v
		case int:
			n.SortValue = int64(v)
		default:
			return bad()
		}
	case FieldSettings:
		v, ok := value.(Settings)
		if !ok {
			return bad()
		}
		n.Settings = v
	case FieldLabels:
		v, ok := value.(map[string]struct{})
		if !ok {
			return bad()
		}
		n.Labels = maps.Clone(v)
	case FieldCollaborators:
		v, ok := value.(map[string]Role)
		if !ok {
			return bad()
		}
		n.Collaborators = maps.Clone(v)
	case FieldTimestamps:
		v, ok := value.(Timestamps)
		if !ok {
			return bad()
		}
		n.Timestamps.Created = v.Created
		n.Timestamps.Updated = v.Updated
		n.Timestamps.Edited = v.Edited
	default:
		return fmt.Errorf("%w: unknown field %q", ErrInvalid, f)
	}
	return nil
}
