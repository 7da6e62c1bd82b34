package index

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2"
)

// uriIterator pages through all documents sorted by uri, then document id.
// Each page resumes after the sort key of the previous page's last hit, so
// a page costs the same however deep the iteration is. It is not
// snapshot-isolated: writes committed while iterating may be skipped.
type uriIterator struct {
	ctx    context.Context
	bi     bleve.Index
	page   []string
	pos    int
	after  []string // sort key of the last hit fetched
	done   bool
	closed bool
	err    error
}

func (it *uriIterator) Next() bool {
	if it.err != nil || it.closed {
		return false
	}
	if it.pos < len(it.page) {
		it.pos++
		return true
	}
	if it.done {
		return false
	}
	if err := it.fetch(); err != nil {
		it.err = err
		return false
	}
	if len(it.page) == 0 {
		return false
	}
	it.pos = 1
	return true
}

func (it *uriIterator) fetch() error {
	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), pageSize, 0, false)
	req.Fields = []string{fieldURI}
	req.SortBy([]string{fieldURI, "_id"})
	if it.after != nil {
		req.SetSearchAfter(it.after)
	}

	res, err := it.bi.SearchInContext(it.ctx, req)
	if err != nil {
		return fmt.Errorf("iterate index uris: %w", err)
	}

	it.page = it.page[:0]
	for _, hit := range res.Hits {
		uri, _ := hit.Fields[fieldURI].(string)
		it.page = append(it.page, uri)
	}
	if n := len(res.Hits); n > 0 {
		it.after = append([]string(nil), res.Hits[n-1].Sort...)
	}
	if len(res.Hits) < pageSize {
		it.done = true
	}
	return nil
}

func (it *uriIterator) URI() string {
	if it.pos == 0 || it.pos > len(it.page) {
		return ""
	}
	return it.page[it.pos-1]
}

func (it *uriIterator) Err() error {
	return it.err
}

func (it *uriIterator) Close() error {
	it.closed = true
	it.page = nil
	return nil
}
