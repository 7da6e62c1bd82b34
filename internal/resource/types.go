package resource

import "fmt"

// ID identifies a resource. Assigned by the backing store at creation time.
type ID int64

// NoACLInheritance marks a resource that carries its own ACL.
const NoACLInheritance ID = -1

// PropertySet is a snapshot of one resource's metadata.
//
// Snapshots are produced per scan or per batch and discarded afterwards.
// Properties and AncestorIDs must be treated as read-only once handed out.
type PropertySet struct {
	URI              string            `json:"uri"`
	ID               ID                `json:"id"`
	ResourceType     string            `json:"resource_type"`
	IsCollection     bool              `json:"is_collection"`
	ACLInheritedFrom ID                `json:"acl_inherited_from"`
	AncestorIDs      []ID              `json:"ancestor_ids,omitempty"`
	Properties       map[string]string `json:"properties,omitempty"`
}

// InheritsACL reports whether the resource's effective ACL comes from an ancestor.
func (ps PropertySet) InheritsACL() bool {
	return ps.ACLInheritedFrom != NoACLInheritance
}

// ACLSource returns the id of the resource supplying the effective ACL.
func (ps PropertySet) ACLSource() ID {
	if ps.InheritsACL() {
		return ps.ACLInheritedFrom
	}
	return ps.ID
}

func (ps PropertySet) String() string {
	return fmt.Sprintf("%s (id=%d, acl=%d)", ps.URI, ps.ID, ps.ACLInheritedFrom)
}

// PropertySetIterator walks property sets. Callers must always Close it.
type PropertySetIterator interface {
	Next() bool
	PropertySet() PropertySet
	Err() error
	Close() error
}

// URIIterator walks URIs. Duplicates are allowed and are meaningful.
type URIIterator interface {
	Next() bool
	URI() string
	Err() error
	Close() error
}

// LookupStatus is the outcome of looking up a single URI in the index.
type LookupStatus int

const (
	// LookupAbsent means no index instance exists for the URI.
	LookupAbsent LookupStatus = iota
	// LookupFound means exactly one instance exists and it was materialised.
	LookupFound
	// LookupUnmappable means the instance exists but cannot be turned into a PropertySet.
	LookupUnmappable
	// LookupAmbiguous means more than one instance exists.
	LookupAmbiguous
)

func (s LookupStatus) String() string {
	switch s {
	case LookupAbsent:
		return "absent"
	case LookupFound:
		return "found"
	case LookupUnmappable:
		return "unmappable"
	case LookupAmbiguous:
		return "ambiguous"
	default:
		return fmt.Sprintf("LookupStatus(%d)", int(s))
	}
}

// Lookup carries a LookupStatus and whatever payload goes with it.
type Lookup struct {
	Status      LookupStatus
	PropertySet PropertySet // set when Status == LookupFound
	Count       int         // number of instances seen
	Reason      string      // set when Status == LookupUnmappable
}
