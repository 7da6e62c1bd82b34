package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/vtkindex/internal/resource"
)

// marshalProperties converts a property map to JSON TEXT for storage.
// Go's json encoder sorts map keys, so equal maps produce equal TEXT.
func marshalProperties(props map[string]string) (string, error) {
	if len(props) == 0 {
		return "{}", nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false) // property values are stored verbatim
	if err := enc.Encode(props); err != nil {
		return "", fmt.Errorf("marshal properties: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalProperties parses JSON TEXT into a property map.
// Returns nil for an empty object.
func unmarshalProperties(data string) (map[string]string, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var props map[string]string
	if err := json.Unmarshal([]byte(data), &props); err != nil {
		return nil, fmt.Errorf("unmarshal properties: %w", err)
	}
	return props, nil
}

// marshalAncestors converts ancestor ids (root first) to a JSON array.
func marshalAncestors(ids []resource.ID) (string, error) {
	if len(ids) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("marshal ancestors: %w", err)
	}
	return string(data), nil
}

func unmarshalAncestors(data string) ([]resource.ID, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var ids []resource.ID
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		return nil, fmt.Errorf("unmarshal ancestors: %w", err)
	}
	return ids, nil
}

// marshalURIs encodes a uri list for json_each() based IN queries.
func marshalURIs(uris []string) (string, error) {
	if uris == nil {
		uris = []string{}
	}
	data, err := json.Marshal(uris)
	if err != nil {
		return "", fmt.Errorf("marshal uris: %w", err)
	}
	return string(data), nil
}
