package search

import (
	"strings"

	"github.com/m-mizutani/docent/pkg/model"
)

// Schema is the record layout of an index
type Schema string

const (
	// SchemaProduct holds PDF catalog chunks
	SchemaProduct Schema = "product"
	// SchemaWeb holds extracted web pages
	SchemaWeb Schema = "web"
)

// SchemaFor picks the schema from the index name: names containing "pdf"
// (any case) hold product chunks, everything else holds web pages.
func SchemaFor(index string) Schema {
	if strings.Contains(strings.ToLower(index), "pdf") {
		return SchemaProduct
	}
	return SchemaWeb
}

// Fields lists the stored fields of the schema, vector last
func (x Schema) Fields() []string {
	if x == SchemaProduct {
		return []string{
			"id", "parent_document_id", "content", "source_file", "source_file_hash",
			"chunk_number", "image_urls", "image_descriptions", "content_vector",
		}
	}
	return []string{"id", "title", "content", "source", "source_url", "content_vector"}
}

// Project drops fields that do not belong to the schema and the vector
func (x Schema) Project(doc *model.Document) *model.Document {
	out := &model.Document{
		ID:      doc.ID,
		Content: doc.Content,
		Score:   doc.Score,
	}
	switch x {
	case SchemaProduct:
		out.ParentDocumentID = doc.ParentDocumentID
		out.SourceFile = doc.SourceFile
		out.SourceFileHash = doc.SourceFileHash
		out.ChunkNumber = doc.ChunkNumber
		out.ImageURLs = doc.ImageURLs
		out.ImageDescriptions = doc.ImageDescriptions
	default:
		out.Title = doc.Title
		out.Source = doc.Source
		out.SourceURL = doc.SourceURL
	}
	return out
}

// fieldValue reads one named field of doc for metadata listings
func fieldValue(doc *model.Document, field string) (any, bool) {
	switch field {
	case "id":
		return doc.ID, true
	case "parent_document_id":
		return doc.ParentDocumentID, true
	case "content":
		return doc.Content, true
	case "source_file":
		return doc.SourceFile, true
	case "source_file_hash":
		return doc.SourceFileHash, true
	case "chunk_number":
		return doc.ChunkNumber, true
	case "image_urls":
		return doc.ImageURLs, true
	case "image_descriptions":
		return doc.ImageDescriptions, true
	case "title":
		return doc.Title, true
	case "source":
		return doc.Source, true
	case "source_url":
		return doc.SourceURL, true
	}
	return nil, false
}
