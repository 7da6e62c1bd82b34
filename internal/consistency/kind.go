package consistency

import "fmt"

// Kind classifies an inconsistency. The set is closed.
type Kind int

const (
	// Missing: the uri is in the backing store but not in the index.
	Missing Kind = iota + 1
	// Dangling: the uri is in the index but not in the backing store.
	Dangling
	// Multiples: the index holds more than one document for the uri.
	Multiples
	// InvalidUUID: the single index document carries the wrong resource id.
	InvalidUUID
	// InvalidACLInheritedFrom: the single index document carries the wrong ACL source.
	InvalidACLInheritedFrom
	// Unmappable: the index document cannot be materialised.
	Unmappable
)

var kindNames = map[Kind]string{
	Missing:                 "missing",
	Dangling:                "dangling",
	Multiples:               "multiples",
	InvalidUUID:             "invalid_uuid",
	InvalidACLInheritedFrom: "invalid_acl_inherited_from",
	Unmappable:              "unmappable",
}

// Kinds lists every kind in declaration order.
func Kinds() []Kind {
	return []Kind{Missing, Dangling, Multiples, InvalidUUID, InvalidACLInheritedFrom, Unmappable}
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown inconsistency kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// needsCanonical reports whether repairing k re-inserts the backing-store copy.
func (k Kind) needsCanonical() bool {
	return k != Dangling
}
