package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/vtkindex/internal/resource"
)

var (
	// ErrExists is returned when creating a resource at an occupied uri.
	ErrExists = errors.New("resource already exists")
	// ErrParentNotFound is returned when the parent collection is missing.
	ErrParentNotFound = errors.New("parent collection not found")
	// ErrNotCollection is returned when the parent is not a collection.
	ErrNotCollection = errors.New("parent is not a collection")
	// ErrRootResource is returned for operations the root does not support.
	ErrRootResource = errors.New("operation not permitted on root")
)

// NewResource describes a resource to create.
type NewResource struct {
	URI          string
	ResourceType string
	IsCollection bool
	// OwnACL gives the resource its own ACL instead of inheriting the parent's.
	OwnACL     bool
	Properties map[string]string
}

// CreateResource inserts a resource below an existing collection and logs a
// created entry in the same transaction.
//
// The root collection ("/") may be created without a parent and always owns
// its ACL. Other resources inherit the parent's ACL source unless OwnACL is set.
func (s *Store) CreateResource(ctx context.Context, nr NewResource) (resource.PropertySet, error) {
	uri, err := resource.NormalizeURI(nr.URI)
	if err != nil {
		return resource.PropertySet{}, fmt.Errorf("create resource: %w", err)
	}

	ps := resource.PropertySet{
		URI:              uri,
		ResourceType:     nr.ResourceType,
		IsCollection:     nr.IsCollection,
		ACLInheritedFrom: resource.NoACLInheritance,
		Properties:       nr.Properties,
	}
	if uri == resource.RootURI {
		ps.IsCollection = true
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM resources WHERE uri = ?`, uri).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check existing: %w", err)
		}
		if exists > 0 {
			return fmt.Errorf("%w: %s", ErrExists, uri)
		}

		if uri != resource.RootURI {
			parentURI := resource.ParentURI(uri)
			parent, err := scanPropertySet(tx.QueryRowContext(ctx, selectPropertySet+`WHERE uri = ?`, parentURI))
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrParentNotFound, parentURI)
			}
			if err != nil {
				return err
			}
			if !parent.IsCollection {
				return fmt.Errorf("%w: %s", ErrNotCollection, parentURI)
			}
			ps.AncestorIDs = append(append([]resource.ID{}, parent.AncestorIDs...), parent.ID)
			if !nr.OwnACL {
				ps.ACLInheritedFrom = parent.ACLSource()
			}
		}

		ancestorsJSON, err := marshalAncestors(ps.AncestorIDs)
		if err != nil {
			return err
		}
		propsJSON, err := marshalProperties(ps.Properties)
		if err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, `
			INSERT INTO resources
			(uri, resource_type, is_collection, acl_inherited_from, ancestor_ids, properties)
			VALUES (?, ?, ?, ?, ?, ?)
		`, ps.URI, ps.ResourceType, ps.IsCollection, ps.ACLInheritedFrom, ancestorsJSON, propsJSON)
		if err != nil {
			return fmt.Errorf("insert resource: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		ps.ID = resource.ID(id)

		return logChange(ctx, tx, ps.URI, ps.ID, ps.IsCollection, resource.ChangeCreated)
	})
	if err != nil {
		return resource.PropertySet{}, fmt.Errorf("create resource: %w", err)
	}
	return ps, nil
}

// UpdateProperties replaces the properties of the resource at uri and logs a
// modified entry.
func (s *Store) UpdateProperties(ctx context.Context, uri string, props map[string]string) error {
	uri, err := resource.NormalizeURI(uri)
	if err != nil {
		return fmt.Errorf("update properties: %w", err)
	}
	propsJSON, err := marshalProperties(props)
	if err != nil {
		return fmt.Errorf("update properties: %w", err)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		ps, err := scanPropertySet(tx.QueryRowContext(ctx, selectPropertySet+`WHERE uri = ?`, uri))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE resources SET properties = ? WHERE id = ?`, propsJSON, ps.ID); err != nil {
			return fmt.Errorf("update resource: %w", err)
		}
		return logChange(ctx, tx, ps.URI, ps.ID, ps.IsCollection, resource.ChangeModified)
	})
	if err != nil {
		return fmt.Errorf("update properties %s: %w", uri, err)
	}
	return nil
}

// SetOwnACL gives the resource at uri its own ACL. Descendants that
// inherited through it are re-pointed at it. Every resource whose
// acl_inherited_from changes gets an acl_modified entry.
//
// No-op if the resource already owns its ACL.
func (s *Store) SetOwnACL(ctx context.Context, uri string) error {
	return s.changeACL(ctx, uri, true)
}

// InheritACL makes the resource at uri inherit its parent's ACL source.
// Descendants that inherited from it follow along.
//
// No-op if the resource already inherits. Fails with ErrRootResource for "/".
func (s *Store) InheritACL(ctx context.Context, uri string) error {
	return s.changeACL(ctx, uri, false)
}

func (s *Store) changeACL(ctx context.Context, uri string, own bool) error {
	uri, err := resource.NormalizeURI(uri)
	if err != nil {
		return fmt.Errorf("change acl: %w", err)
	}
	if !own && uri == resource.RootURI {
		return fmt.Errorf("inherit acl: %w", ErrRootResource)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		ps, err := scanPropertySet(tx.QueryRowContext(ctx, selectPropertySet+`WHERE uri = ?`, uri))
		if err != nil {
			return err
		}
		if own != ps.InheritsACL() {
			return nil
		}

		// oldSource is what descendants currently point at; newSource replaces it.
		var newValue, oldSource, newSource resource.ID
		if own {
			newValue = resource.NoACLInheritance
			oldSource = ps.ACLInheritedFrom
			newSource = ps.ID
		} else {
			parent, err := scanPropertySet(tx.QueryRowContext(ctx, selectPropertySet+`WHERE uri = ?`, resource.ParentURI(uri)))
			if err != nil {
				return fmt.Errorf("read parent: %w", err)
			}
			newValue = parent.ACLSource()
			oldSource = ps.ID
			newSource = newValue
		}

		if _, err := tx.ExecContext(ctx, `UPDATE resources SET acl_inherited_from = ? WHERE id = ?`, newValue, ps.ID); err != nil {
			return fmt.Errorf("update acl: %w", err)
		}
		if err := logChange(ctx, tx, ps.URI, ps.ID, ps.IsCollection, resource.ChangeACLModified); err != nil {
			return err
		}

		affected, err := descendantsInheritingFrom(ctx, tx, ps.ID, oldSource)
		if err != nil {
			return err
		}
		for _, d := range affected {
			if _, err := tx.ExecContext(ctx, `UPDATE resources SET acl_inherited_from = ? WHERE id = ?`, newSource, d.ID); err != nil {
				return fmt.Errorf("update descendant acl: %w", err)
			}
			if err := logChange(ctx, tx, d.URI, d.ID, d.IsCollection, resource.ChangeACLModified); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("change acl %s: %w", uri, err)
	}
	return nil
}

// descendantsInheritingFrom lists descendants of ancestor whose ACL source is source.
func descendantsInheritingFrom(ctx context.Context, tx *sql.Tx, ancestor, source resource.ID) ([]resource.PropertySet, error) {
	rows, err := tx.QueryContext(ctx, selectPropertySet+`
		WHERE acl_inherited_from = ?
		AND EXISTS (SELECT 1 FROM json_each(resources.ancestor_ids) WHERE value = ?)
		ORDER BY uri COLLATE BINARY ASC
	`, source, ancestor)
	if err != nil {
		return nil, fmt.Errorf("query descendants: %w", err)
	}
	defer rows.Close()

	var out []resource.PropertySet
	for rows.Next() {
		ps, err := scanPropertySet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate descendants: %w", err)
	}
	return out, nil
}

// DeleteResource removes the resource at uri together with its subtree and
// logs a single deleted entry for the subtree root.
func (s *Store) DeleteResource(ctx context.Context, uri string) error {
	uri, err := resource.NormalizeURI(uri)
	if err != nil {
		return fmt.Errorf("delete resource: %w", err)
	}
	if uri == resource.RootURI {
		return fmt.Errorf("delete resource: %w", ErrRootResource)
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		ps, err := scanPropertySet(tx.QueryRowContext(ctx, selectPropertySet+`WHERE uri = ?`, uri))
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			DELETE FROM resources
			WHERE id = ?
			OR EXISTS (SELECT 1 FROM json_each(resources.ancestor_ids) WHERE value = ?)
		`, ps.ID, ps.ID)
		if err != nil {
			return fmt.Errorf("delete subtree: %w", err)
		}
		return logChange(ctx, tx, ps.URI, ps.ID, ps.IsCollection, resource.ChangeDeleted)
	})
	if err != nil {
		return fmt.Errorf("delete resource %s: %w", uri, err)
	}
	return nil
}
