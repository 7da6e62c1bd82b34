package consistency

import (
	"context"
	"fmt"

	"github.com/roach88/vtkindex/internal/resource"
)

// Inconsistency is one divergence between the backing store and the index
// for a single uri.
type Inconsistency struct {
	Kind Kind
	URI  string

	// Count is the number of index documents seen at URI.
	Count int

	// Canonical is the backing-store copy. Nil for Dangling.
	Canonical *resource.PropertySet

	// Indexed is the materialised index copy, set for InvalidUUID and
	// InvalidACLInheritedFrom.
	Indexed *resource.PropertySet

	// Reason explains why an Unmappable document could not be materialised.
	Reason string
}

// CanRepair reports whether Repair can act on the inconsistency.
func (i Inconsistency) CanRepair() bool {
	if i.Kind.needsCanonical() {
		return i.Canonical != nil
	}
	return true
}

// Description is a one-line human-readable account of the divergence.
func (i Inconsistency) Description() string {
	switch i.Kind {
	case Missing:
		return "resource has no index document"
	case Dangling:
		return fmt.Sprintf("%s with no resource in the backing store", plural(i.Count, "index document"))
	case Multiples:
		return fmt.Sprintf("%d index documents, expected exactly one", i.Count)
	case InvalidUUID:
		if i.Indexed == nil || i.Canonical == nil {
			return "index document has the wrong resource id"
		}
		return fmt.Sprintf("index document has id %d, backing store has %d", i.Indexed.ID, i.Canonical.ID)
	case InvalidACLInheritedFrom:
		if i.Indexed == nil || i.Canonical == nil {
			return "index document has the wrong ACL source"
		}
		return fmt.Sprintf("index document inherits ACL from %d, backing store from %d",
			i.Indexed.ACLInheritedFrom, i.Canonical.ACLInheritedFrom)
	case Unmappable:
		return fmt.Sprintf("index document cannot be read: %s", i.Reason)
	default:
		return "unknown inconsistency"
	}
}

func (i Inconsistency) String() string {
	return fmt.Sprintf("%s %s: %s", i.Kind, i.URI, i.Description())
}

// Writer is the index surface a repair needs.
type Writer interface {
	DeleteURI(ctx context.Context, uri string) (int, error)
	Add(ctx context.Context, ps resource.PropertySet) error
	Commit(ctx context.Context) error
	Rollback()
}

// repair stages the corrective writes for inc and commits them. Deletes are
// always staged before the add, so a uri never holds more than one document
// mid-repair. Staged writes are discarded on failure.
func repair(ctx context.Context, w Writer, inc Inconsistency) error {
	if !inc.CanRepair() {
		return fmt.Errorf("%s %s: no backing-store copy", inc.Kind, inc.URI)
	}

	var err error
	switch inc.Kind {
	case Dangling:
		_, err = w.DeleteURI(ctx, inc.URI)
	case Missing, Multiples, InvalidUUID, InvalidACLInheritedFrom, Unmappable:
		// Missing also clears the uri: something may have indexed it since
		// the scan, and a second add would leave two documents.
		err = replace(ctx, w, inc.URI, *inc.Canonical)
	default:
		err = fmt.Errorf("unknown inconsistency kind %d", int(inc.Kind))
	}
	if err != nil {
		w.Rollback()
		return err
	}
	return w.Commit(ctx)
}

func replace(ctx context.Context, w Writer, uri string, ps resource.PropertySet) error {
	if _, err := w.DeleteURI(ctx, uri); err != nil {
		return err
	}
	return w.Add(ctx, ps)
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
