package resource

import "fmt"

// ChangeType is the kind of mutation recorded in the change log.
type ChangeType int

const (
	ChangeCreated ChangeType = iota + 1
	ChangeModified
	ChangeACLModified
	ChangeDeleted
)

var changeTypeNames = map[ChangeType]string{
	ChangeCreated:     "created",
	ChangeModified:    "modified",
	ChangeACLModified: "acl_modified",
	ChangeDeleted:     "deleted",
}

func (t ChangeType) String() string {
	if name, ok := changeTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ChangeType(%d)", int(t))
}

// IsDeletion reports whether the change removed the resource.
func (t ChangeType) IsDeletion() bool {
	return t == ChangeDeleted
}

// ParseChangeType is the inverse of ChangeType.String.
func ParseChangeType(s string) (ChangeType, error) {
	for t, name := range changeTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown change type %q", s)
}

// ChangeLogEntry is the most recent mutation of one resource since the last poll.
type ChangeLogEntry struct {
	ChangeID     int64      `json:"change_id"`
	URI          string     `json:"uri"`
	ResourceID   ID         `json:"resource_id"`
	IsCollection bool       `json:"is_collection"`
	Type         ChangeType `json:"type"`
}

func (e ChangeLogEntry) String() string {
	return fmt.Sprintf("#%d %s %s (id=%d)", e.ChangeID, e.Type, e.URI, e.ResourceID)
}
