package index

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/vtkindex/internal/resource"
)

// toDocument flattens a property set into a bleve document.
func toDocument(ps resource.PropertySet) map[string]any {
	ancestors := make([]string, len(ps.AncestorIDs))
	for i, id := range ps.AncestorIDs {
		ancestors[i] = formatID(id)
	}
	props := make(map[string]any, len(ps.Properties))
	for k, v := range ps.Properties {
		props[k] = v
	}

	return map[string]any{
		fieldURI:              ps.URI,
		fieldResourceID:       formatID(ps.ID),
		fieldACLInheritedFrom: formatID(ps.ACLInheritedFrom),
		fieldAncestorIDs:      ancestors,
		fieldResourceType:     ps.ResourceType,
		fieldIsCollection:     ps.IsCollection,
		fieldSchemaVersion:    SchemaVersion,
		fieldProps:            props,
	}
}

// fromFields rebuilds a property set from stored fields.
// Returns a reason string (and ok=false) when the document cannot be mapped.
func fromFields(fields map[string]any) (resource.PropertySet, string, bool) {
	version, _ := fields[fieldSchemaVersion].(string)
	if version != SchemaVersion {
		return resource.PropertySet{}, fmt.Sprintf("schema version %q, expected %q", version, SchemaVersion), false
	}

	var ps resource.PropertySet
	var ok bool
	if ps.URI, ok = fields[fieldURI].(string); !ok || ps.URI == "" {
		return resource.PropertySet{}, "missing uri", false
	}

	var err error
	if ps.ID, err = parseIDField(fields, fieldResourceID); err != nil {
		return resource.PropertySet{}, err.Error(), false
	}
	if ps.ACLInheritedFrom, err = parseIDField(fields, fieldACLInheritedFrom); err != nil {
		return resource.PropertySet{}, err.Error(), false
	}

	for _, raw := range stringValues(fields[fieldAncestorIDs]) {
		id, err := parseID(raw)
		if err != nil {
			return resource.PropertySet{}, fmt.Sprintf("%s: %v", fieldAncestorIDs, err), false
		}
		ps.AncestorIDs = append(ps.AncestorIDs, id)
	}

	ps.ResourceType, _ = fields[fieldResourceType].(string)
	switch v := fields[fieldIsCollection].(type) {
	case bool:
		ps.IsCollection = v
	case string:
		ps.IsCollection = v == "T" || v == "true"
	}

	prefix := fieldProps + "."
	for name, value := range fields {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		if ps.Properties == nil {
			ps.Properties = map[string]string{}
		}
		ps.Properties[strings.TrimPrefix(name, prefix)] = fmt.Sprint(value)
	}

	return ps, "", true
}

func parseIDField(fields map[string]any, name string) (resource.ID, error) {
	raw, ok := fields[name].(string)
	if !ok {
		return 0, fmt.Errorf("missing %s", name)
	}
	id, err := parseID(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return id, nil
}

func formatID(id resource.ID) string {
	return strconv.FormatInt(int64(id), 10)
}

func parseID(s string) (resource.ID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return resource.ID(n), nil
}

// stringValues normalises a stored field that may hold one or many values.
func stringValues(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	default:
		return nil
	}
}
