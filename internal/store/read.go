package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/vtkindex/internal/resource"
)

// ErrNotFound is returned when no resource exists at a uri.
var ErrNotFound = errors.New("resource not found")

const selectPropertySet = `
	SELECT id, uri, resource_type, is_collection, acl_inherited_from, ancestor_ids, properties
	FROM resources
`

// OrderedPropertySets returns an iterator over every property set in
// ascending byte-wise uri order. Callers must Close the iterator.
func (s *Store) OrderedPropertySets(ctx context.Context) (resource.PropertySetIterator, error) {
	rows, err := s.db.QueryContext(ctx, selectPropertySet+`
		ORDER BY uri COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query ordered property sets: %w", err)
	}
	return &rowIterator{rows: rows}, nil
}

// PropertySetsForURIs returns one iterator over the property sets currently
// stored at the given uris, in uri order. URIs without a resource are
// silently absent from the result.
func (s *Store) PropertySetsForURIs(ctx context.Context, uris []string) (resource.PropertySetIterator, error) {
	list, err := marshalURIs(uris)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, selectPropertySet+`
		WHERE uri IN (SELECT value FROM json_each(?))
		ORDER BY uri COLLATE BINARY ASC
	`, list)
	if err != nil {
		return nil, fmt.Errorf("query property sets for uris: %w", err)
	}
	return &rowIterator{rows: rows}, nil
}

// PropertySetByURI retrieves a single property set.
// Returns ErrNotFound if no resource exists at uri.
func (s *Store) PropertySetByURI(ctx context.Context, uri string) (resource.PropertySet, error) {
	uri, err := resource.NormalizeURI(uri)
	if err != nil {
		return resource.PropertySet{}, err
	}
	return scanPropertySet(s.db.QueryRowContext(ctx, selectPropertySet+`WHERE uri = ?`, uri))
}

// CountResources returns the number of stored resources.
func (s *Store) CountResources(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM resources`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count resources: %w", err)
	}
	return n, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanPropertySet scans one resources row.
func scanPropertySet(row scanner) (resource.PropertySet, error) {
	var ps resource.PropertySet
	var ancestorsJSON, propsJSON string

	err := row.Scan(
		&ps.ID, &ps.URI, &ps.ResourceType, &ps.IsCollection,
		&ps.ACLInheritedFrom, &ancestorsJSON, &propsJSON,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return resource.PropertySet{}, ErrNotFound
	}
	if err != nil {
		return resource.PropertySet{}, fmt.Errorf("scan property set: %w", err)
	}

	ps.AncestorIDs, err = unmarshalAncestors(ancestorsJSON)
	if err != nil {
		return resource.PropertySet{}, fmt.Errorf("%s: %w", ps.URI, err)
	}
	ps.Properties, err = unmarshalProperties(propsJSON)
	if err != nil {
		return resource.PropertySet{}, fmt.Errorf("%s: %w", ps.URI, err)
	}
	return ps, nil
}

// rowIterator adapts *sql.Rows to resource.PropertySetIterator.
type rowIterator struct {
	rows    *sql.Rows
	current resource.PropertySet
	err     error
}

func (it *rowIterator) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}
	ps, err := scanPropertySet(it.rows)
	if err != nil {
		it.err = err
		return false
	}
	it.current = ps
	return true
}

func (it *rowIterator) PropertySet() resource.PropertySet {
	return it.current
}

func (it *rowIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	if err := it.rows.Err(); err != nil {
		return fmt.Errorf("iterate property sets: %w", err)
	}
	return nil
}

func (it *rowIterator) Close() error {
	return it.rows.Close()
}
