// Package codec translates between graph nodes and the service's JSON schema.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/aretw0/humus/pkg/core"
)

// Decoded is one node as received from the service.
type Decoded struct {
	Node *core.Node
	// ProvisionalID is the client ID the service echoed back alongside the
	// permanent one, if any.
	ProvisionalID string
	// Fields lists the fields present on the wire. Absent fields must not
	// overwrite local values.
	Fields []core.Field
	// Tombstone is set for nodes that arrived without a parent.
	Tombstone bool
	// HasAnnotations reports whether the annotation group was sent.
	HasAnnotations bool
}

// DecodedLabel is one label as received from the service.
type DecodedLabel struct {
	Label         *core.Label
	ProvisionalID string
}

// Codec encodes and decodes nodes. The zero value is not usable; call New.
type Codec struct {
	table  FieldTable
	logger *slog.Logger
}

// Option configures a Codec.
type Option func(*Codec)

// WithFieldTable replaces the field-to-key mapping.
func WithFieldTable(t FieldTable) Option {
	return func(c *Codec) {
		if t != nil {
			c.table = t
		}
	}
}

// WithLogger sets the logger used for recoverable oddities in payloads.
func WithLogger(l *slog.Logger) Option {
	return func(c *Codec) {
		c.logger = l
	}
}

// New creates a Codec with the default field table.
func New(opts ...Option) *Codec {
	c := &Codec{
		table:  DefaultFieldTable(),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FieldTable returns the active mapping.
func (c *Codec) FieldTable() FieldTable {
	return c.table
}

func parseError(id string, raw []byte, err error) *core.ParseError {
	return &core.ParseError{ID: id, Raw: slices.Clone(raw), Err: err}
}

// Decode parses one node. Errors are *core.ParseError.
func (c *Codec) Decode(raw json.RawMessage) (*Decoded, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, parseError("", raw, err)
	}
	var w wireNode
	if err := json.Unmarshal(raw, &w); err != nil {
		var id string
		_ = json.Unmarshal(keys["id"], &id)
		return nil, parseError(id, raw, err)
	}
	if w.ID == "" {
		return nil, parseError("", raw, errors.New("missing id"))
	}
	if w.Kind != kindNode {
		c.logger.Warn("unexpected node kind", "id", w.ID, "kind", w.Kind)
	}
	kind := core.Kind(w.Type)
	if !kind.Valid() {
		return nil, parseError(w.ID, raw, fmt.Errorf("unknown node type %q", w.Type))
	}

	d := &Decoded{}
	id := w.ID
	if w.ServerID != "" && w.ServerID != w.ID {
		d.ProvisionalID = w.ID
		id = w.ServerID
	}
	parent := w.ParentID
	if w.ParentServerID != "" {
		parent = w.ParentServerID
	}
	d.Tombstone = parent == ""

	n := &core.Node{
		ID:        id,
		Kind:      kind,
		ParentID:  parent,
		SortValue: int64(w.SortValue),
		Text:      w.Text,
		Settings:  core.DefaultSettings(),
	}
	if w.BaseVersion != nil {
		n.Version = int64(*w.BaseVersion)
	}
	if ts := w.Timestamps; ts != nil {
		n.Timestamps.Created = toTime(ts.Created)
		n.Timestamps.Updated = toTime(ts.Updated)
		n.Timestamps.Edited = optTime(ts.UserEdited)
		n.Timestamps.Trashed = optTime(ts.Trashed)
		n.Timestamps.Deleted = optTime(ts.Deleted)
	}
	if s := w.NodeSettings; s != nil {
		n.Settings = core.Settings{
			NewItemPlacement: core.Placement(s.NewListItemPlacement),
			CheckedPolicy:    core.CheckedPolicy(s.CheckedListItemsPolicy),
			GraveyardState:   core.GraveyardState(s.GraveyardState),
		}
	}
	if w.AnnotationsGroup != nil {
		d.HasAnnotations = true
		n.Annotations = c.decodeAnnotations(w.ID, w.AnnotationsGroup.Annotations)
	}

	switch {
	case kind.TopLevel():
		decodeTopLevel(n, &w)
	case kind == core.KindListItem:
		if w.Checked != nil {
			n.Checked = *w.Checked
		}
		if w.SuperListItemID != nil {
			n.SuperItemID = *w.SuperListItemID
		}
	case kind == core.KindBlob:
		if w.Blob != nil {
			b, err := decodeBlob(w.Blob)
			if err != nil {
				return nil, parseError(w.ID, raw, err)
			}
			n.Blob = b
		}
	}

	for _, f := range c.table.present(func(k string) bool { _, ok := keys[k]; return ok }) {
		if f.Applies(kind) {
			d.Fields = append(d.Fields, f)
		}
	}
	d.Node = n
	return d, nil
}

func decodeTopLevel(n *core.Node, w *wireNode) {
	n.Color = core.ColorWhite
	if w.Color != nil {
		n.Color = core.Color(*w.Color)
	}
	if w.IsArchived != nil {
		n.Archived = *w.IsArchived
	}
	if w.IsPinned != nil {
		n.Pinned = *w.IsPinned
	}
	if w.Title != nil {
		n.Title = *w.Title
	}
	n.Labels = make(map[string]struct{}, len(w.LabelIDs))
	for _, ref := range w.LabelIDs {
		if toTime(ref.Deleted).IsZero() {
			n.Labels[ref.LabelID] = struct{}{}
		}
	}
	n.Collaborators = make(map[string]core.Role, len(w.RoleInfo)+len(w.ShareRequests))
	for _, r := range w.RoleInfo {
		n.Collaborators[r.Email] = core.Role(r.Role)
	}
	for _, r := range w.ShareRequests {
		n.Collaborators[r.Email] = core.Role(r.Type)
	}
}

func decodeBlob(w *wireBlob) (*core.BlobInfo, error) {
	t := core.BlobType(w.Type)
	if !t.Valid() {
		return nil, fmt.Errorf("unknown blob type %q", w.Type)
	}
	b := &core.BlobInfo{
		Type:          t,
		MediaID:       w.MediaID,
		Mimetype:      w.Mimetype,
		Width:         w.Width,
		Height:        w.Height,
		ByteSize:      w.ByteSize,
		Length:        w.Length,
		ExtractedText: w.ExtractedText,
	}
	if w.DrawingInfo != nil {
		b.DrawingID = w.DrawingInfo.DrawingID
	}
	return b, nil
}

func (c *Codec) decodeAnnotations(nodeID string, raws []json.RawMessage) []core.Annotation {
	var out []core.Annotation
	for _, raw := range raws {
		var w wireAnnotation
		if err := json.Unmarshal(raw, &w); err != nil {
			c.logger.Warn("skipping malformed annotation", "id", nodeID, "error", err)
			continue
		}
		a := core.Annotation{ID: w.ID}
		switch {
		case w.WebLink != nil:
			a.Kind = core.AnnotationWebLink
			a.WebLink = &core.WebLink{
				Title:         w.WebLink.Title,
				URL:           w.WebLink.URL,
				ImageURL:      w.WebLink.ImageURL,
				ProvenanceURL: w.WebLink.ProvenanceURL,
				Description:   w.WebLink.Description,
			}
		case w.TopicCategory != nil:
			a.Kind = core.AnnotationCategory
			a.Category = w.TopicCategory.Category
		case w.TaskAssist != nil:
			a.Kind = core.AnnotationTask
			a.Suggest = w.TaskAssist.SuggestType
		default:
			c.logger.Warn("skipping unknown annotation", "id", nodeID, "annotation", w.ID)
			continue
		}
		out = append(out, a)
	}
	return out
}

// DecodeNodes decodes a batch. A malformed node is reported and skipped; the
// rest of the batch is unaffected.
func (c *Codec) DecodeNodes(raws []json.RawMessage) ([]*Decoded, []*core.ParseError) {
	out := make([]*Decoded, 0, len(raws))
	var errs []*core.ParseError
	for _, raw := range raws {
		d, err := c.Decode(raw)
		if err != nil {
			var pe *core.ParseError
			if !errors.As(err, &pe) {
				pe = parseError("", raw, err)
			}
			c.logger.Warn("skipping node", "id", pe.ID, "error", pe.Err)
			errs = append(errs, pe)
			continue
		}
		out = append(out, d)
	}
	return out, errs
}

// Encode renders a node for pushing. With full set every key is emitted;
// otherwise only the identity keys and those carrying fields.
func (c *Codec) Encode(n *core.Node, fields []core.Field, full bool) (json.RawMessage, error) {
	w := wireNode{
		Kind:      kindNode,
		ID:        n.ID,
		ParentID:  n.ParentID,
		Type:      string(n.Kind),
		SortValue: flexInt(n.SortValue),
		Text:      n.Text,
		Timestamps: &wireTimestamps{
			Kind:       kindTimestamps,
			Created:    wireTime(n.Timestamps.Created),
			Updated:    wireTime(n.Timestamps.Updated),
			UserEdited: ptr(wireTime(n.Timestamps.Edited)),
			Trashed:    ptr(wireTime(n.Timestamps.Trashed)),
			Deleted:    ptr(wireTime(n.Timestamps.Deleted)),
		},
		NodeSettings: &wireSettings{
			Kind:                   kindSettings,
			NewListItemPlacement:   string(n.Settings.NewItemPlacement),
			GraveyardState:         string(n.Settings.GraveyardState),
			CheckedListItemsPolicy: string(n.Settings.CheckedPolicy),
		},
		AnnotationsGroup: &wireAnnotations{Kind: kindAnnotations},
	}
	if n.Version != 0 {
		w.BaseVersion = ptr(flexInt(n.Version))
	}
	for _, a := range n.Annotations {
		raw, err := json.Marshal(encodeAnnotation(a))
		if err != nil {
			return nil, fmt.Errorf("encode annotation %s: %w", a.ID, err)
		}
		w.AnnotationsGroup.Annotations = append(w.AnnotationsGroup.Annotations, raw)
	}

	switch {
	case n.Kind.TopLevel():
		w.Color = ptr(string(n.Color))
		w.IsArchived = ptr(n.Archived)
		w.IsPinned = ptr(n.Pinned)
		w.Title = ptr(n.Title)
		for _, id := range n.LabelIDs() {
			w.LabelIDs = append(w.LabelIDs, wireLabelRef{LabelID: id})
		}
		for _, email := range slices.Sorted(maps.Keys(n.Collaborators)) {
			role := n.Collaborators[email]
			if role.Request() {
				w.ShareRequests = append(w.ShareRequests, wireShare{Email: email, Type: string(role)})
			} else {
				w.RoleInfo = append(w.RoleInfo, wireRole{Email: email, Role: string(role), AuxiliaryType: "None"})
			}
		}
	case n.Kind == core.KindListItem:
		w.Checked = ptr(n.Checked)
		w.SuperListItemID = ptr(n.SuperItemID)
	case n.Kind == core.KindBlob && n.Blob != nil:
		w.Blob = encodeBlob(n.Blob)
	}

	raw, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode node %s: %w", n.ID, err)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("encode node %s: %w", n.ID, err)
	}
	if n.Kind.TopLevel() {
		// Empty sets must still travel so that removals reach the service.
		for _, k := range []string{"labelIds", "roleInfo", "shareRequests"} {
			if _, ok := obj[k]; !ok {
				obj[k] = json.RawMessage("[]")
			}
		}
	}
	if !full {
		keep := c.table.keysFor(fields)
		maps.DeleteFunc(obj, func(k string, _ json.RawMessage) bool {
			_, ok := keep[k]
			return !ok
		})
	}
	return json.Marshal(obj)
}

func encodeAnnotation(a core.Annotation) wireAnnotation {
	w := wireAnnotation{ID: a.ID}
	switch a.Kind {
	case core.AnnotationWebLink:
		if a.WebLink != nil {
			w.WebLink = &wireWebLink{
				Title:         a.WebLink.Title,
				URL:           a.WebLink.URL,
				ImageURL:      a.WebLink.ImageURL,
				ProvenanceURL: a.WebLink.ProvenanceURL,
				Description:   a.WebLink.Description,
			}
		}
	case core.AnnotationCategory:
		w.TopicCategory = &wireCategory{Category: a.Category}
	case core.AnnotationTask:
		w.TaskAssist = &wireTaskAssist{SuggestType: a.Suggest}
	}
	return w
}

func encodeBlob(b *core.BlobInfo) *wireBlob {
	w := &wireBlob{
		Kind:          kindBlob,
		Type:          string(b.Type),
		MediaID:       b.MediaID,
		Mimetype:      b.Mimetype,
		Length:        b.Length,
		Width:         b.Width,
		Height:        b.Height,
		ByteSize:      b.ByteSize,
		ExtractedText: b.ExtractedText,
	}
	if b.DrawingID != "" {
		w.DrawingInfo = &wireDrawing{DrawingID: b.DrawingID}
	}
	return w
}

// DecodeLabel parses one label entry of userInfo.
func (c *Codec) DecodeLabel(raw json.RawMessage) (*DecodedLabel, error) {
	var w wireLabel
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, parseError("", raw, err)
	}
	if w.MainID == "" {
		return nil, parseError("", raw, errors.New("missing mainId"))
	}
	d := &DecodedLabel{}
	id := w.MainID
	if w.ServerID != "" && w.ServerID != w.MainID {
		d.ProvisionalID = w.MainID
		id = w.ServerID
	}
	l := &core.Label{ID: id, Name: w.Name, Merged: toTime(w.LastMerged)}
	if ts := w.Timestamps; ts != nil {
		l.Timestamps = core.Timestamps{
			Created: toTime(ts.Created),
			Updated: toTime(ts.Updated),
			Deleted: optTime(ts.Deleted),
		}
	}
	d.Label = l
	return d, nil
}

// EncodeLabel renders a label for userInfo.
func (c *Codec) EncodeLabel(l *core.Label) (json.RawMessage, error) {
	w := wireLabel{
		MainID: l.ID,
		Name:   l.Name,
		Timestamps: &wireTimestamps{
			Kind:    kindTimestamps,
			Created: wireTime(l.Timestamps.Created),
			Updated: wireTime(l.Timestamps.Updated),
			Deleted: ptr(wireTime(l.Timestamps.Deleted)),
		},
		LastMerged: wireTime(l.Merged),
	}
	return json.Marshal(w)
}
