package index

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// Stored field names.
const (
	fieldURI              = "uri"
	fieldResourceID       = "resourceId"
	fieldACLInheritedFrom = "aclInheritedFrom"
	fieldAncestorIDs      = "ancestorIds"
	fieldResourceType     = "resourceType"
	fieldIsCollection     = "isCollection"
	fieldSchemaVersion    = "schemaVersion"
	fieldProps            = "props"
)

// SchemaVersion is written into every document and into the index's
// internal storage. Documents written under another version are unmappable.
const SchemaVersion = "1"

var schemaKey = []byte("vtk:schema-version")

func keywordField() *mapping.FieldMapping {
	f := bleve.NewTextFieldMapping()
	f.Analyzer = keyword.Name
	f.Store = true
	f.IncludeInAll = false
	return f
}

func buildIndexMapping() mapping.IndexMapping {
	doc := bleve.NewDocumentStaticMapping()
	doc.AddFieldMappingsAt(fieldURI, keywordField())
	doc.AddFieldMappingsAt(fieldResourceID, keywordField())
	doc.AddFieldMappingsAt(fieldACLInheritedFrom, keywordField())
	doc.AddFieldMappingsAt(fieldAncestorIDs, keywordField())
	doc.AddFieldMappingsAt(fieldResourceType, keywordField())
	doc.AddFieldMappingsAt(fieldSchemaVersion, keywordField())

	isCollection := bleve.NewBooleanFieldMapping()
	isCollection.Store = true
	doc.AddFieldMappingsAt(fieldIsCollection, isCollection)

	// Properties are free-form; index them dynamically for text search.
	props := bleve.NewDocumentMapping()
	props.DefaultAnalyzer = standard.Name
	doc.AddSubDocumentMapping(fieldProps, props)

	idxMapping := bleve.NewIndexMapping()
	idxMapping.DefaultMapping = doc
	idxMapping.DefaultAnalyzer = standard.Name
	idxMapping.StoreDynamic = true
	return idxMapping
}
