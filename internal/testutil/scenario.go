package testutil

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/vtkindex/internal/resource"
)

// Scenario describes a backing store and an index that disagree, and the
// inconsistencies a check over them must report.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Store holds the authoritative property sets.
	Store []SetFixture `yaml:"store"`

	// Index holds the indexed documents, duplicates included.
	Index []SetFixture `yaml:"index"`

	// Expect lists the inconsistencies in discovery order.
	Expect []Expectation `yaml:"expect"`
}

// SetFixture is a property set in scenario form.
type SetFixture struct {
	URI        string            `yaml:"uri"`
	ID         int64             `yaml:"id"`
	ACL        int64             `yaml:"acl"`
	Collection bool              `yaml:"collection,omitempty"`
	Ancestors  []int64           `yaml:"ancestors,omitempty"`
	Properties map[string]string `yaml:"properties,omitempty"`

	// Unmappable marks an index document that cannot be materialised.
	Unmappable string `yaml:"unmappable,omitempty"`
}

// Expectation is one expected inconsistency.
type Expectation struct {
	URI   string `yaml:"uri"`
	Kind  string `yaml:"kind"`
	Count int    `yaml:"count,omitempty"`
}

// PropertySet converts the fixture to a property set.
func (s SetFixture) PropertySet() resource.PropertySet {
	ps := resource.PropertySet{
		URI:              s.URI,
		ID:               resource.ID(s.ID),
		ResourceType:     "file",
		IsCollection:     s.Collection,
		ACLInheritedFrom: resource.ID(s.ACL),
		Properties:       s.Properties,
	}
	if s.Collection {
		ps.ResourceType = "collection"
	}
	for _, a := range s.Ancestors {
		ps.AncestorIDs = append(ps.AncestorIDs, resource.ID(a))
	}
	return ps
}

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	for i, f := range append(append([]SetFixture(nil), s.Store...), s.Index...) {
		if f.URI == "" {
			return fmt.Errorf("entry %d: uri is required", i)
		}
	}
	for i, f := range s.Store {
		if f.Unmappable != "" {
			return fmt.Errorf("store entry %d: unmappable is only valid for index entries", i)
		}
	}
	for i, e := range s.Expect {
		if e.URI == "" || e.Kind == "" {
			return fmt.Errorf("expect entry %d: uri and kind are required", i)
		}
	}
	return nil
}

// Build creates a store and an index populated from the scenario.
func (s *Scenario) Build() (*MemStore, *MemIndex) {
	store := NewMemStore()
	for _, f := range s.Store {
		store.Put(f.PropertySet())
	}
	idx := NewMemIndex()
	for _, f := range s.Index {
		if f.Unmappable != "" {
			idx.PutUnmappable(f.URI, f.Unmappable)
			continue
		}
		idx.Put(f.PropertySet())
	}
	return store, idx
}
