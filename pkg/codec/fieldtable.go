package codec

import (
	"fmt"
	"slices"

	"github.com/aretw0/humus/pkg/core"
)

// identityKeys are sent with every node, dirty or not.
var identityKeys = []string{"kind", "id", "serverId", "parentId", "parentServerId", "type", "baseVersion"}

// wireKeys lists every node key the codec knows how to emit.
var wireKeys = []string{
	"title", "text", "color", "isPinned", "isArchived", "timestamps", "checked",
	"sortValue", "superListItemId", "nodeSettings", "labelIds", "roleInfo",
	"shareRequests", "annotationsGroup", "blob",
}

// FieldTable maps each tracked field to the wire keys that carry it. Several
// fields may share a key (trashed, deleted and timestamps all travel in
// "timestamps").
type FieldTable map[core.Field][]string

// DefaultFieldTable matches the service's node schema.
func DefaultFieldTable() FieldTable {
	return FieldTable{
		core.FieldTitle:         {"title"},
		core.FieldText:          {"text"},
		core.FieldColor:         {"color"},
		core.FieldPinned:        {"isPinned"},
		core.FieldArchived:      {"isArchived"},
		core.FieldTrashed:       {"timestamps"},
		core.FieldDeleted:       {"timestamps"},
		core.FieldTimestamps:    {"timestamps"},
		core.FieldChecked:       {"checked"},
		core.FieldSort:          {"sortValue"},
		core.FieldSuperItem:     {"superListItemId"},
		core.FieldSettings:      {"nodeSettings"},
		core.FieldLabels:        {"labelIds"},
		core.FieldCollaborators: {"roleInfo", "shareRequests"},
	}
}

// ParseFieldTable builds a table from field-name keyed overrides, as found in
// configuration files. Fields not mentioned keep their default keys.
func ParseFieldTable(overrides map[string][]string) (FieldTable, error) {
	t := DefaultFieldTable()
	for name, keys := range overrides {
		f := core.Field(name)
		if !slices.Contains(core.NodeFields, f) {
			return nil, fmt.Errorf("field table: unknown field %q", name)
		}
		for _, k := range keys {
			if !slices.Contains(wireKeys, k) {
				return nil, fmt.Errorf("field table: field %q maps to unknown key %q", name, k)
			}
		}
		if len(keys) == 0 {
			return nil, fmt.Errorf("field table: field %q has no keys", name)
		}
		t[f] = slices.Clone(keys)
	}
	return t, nil
}

// keysFor returns the wire keys to emit for fields, identity keys included.
func (t FieldTable) keysFor(fields []core.Field) map[string]struct{} {
	keys := make(map[string]struct{}, len(identityKeys)+len(fields))
	for _, k := range identityKeys {
		keys[k] = struct{}{}
	}
	for _, f := range fields {
		for _, k := range t[f] {
			keys[k] = struct{}{}
		}
	}
	return keys
}

// present returns the fields carried by the given wire keys.
func (t FieldTable) present(has func(key string) bool) []core.Field {
	var out []core.Field
	for _, f := range core.NodeFields {
		if slices.ContainsFunc(t[f], has) {
			out = append(out, f)
		}
	}
	return out
}
