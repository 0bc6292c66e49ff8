package model

import "path"

// BlobToProcess is a source document queued for enrichment
type BlobToProcess struct {
	Name    string
	Content []byte
	Hash    string
}

// FileName is the base name stored as source_file in the index
func (x *BlobToProcess) FileName() string {
	return path.Base(x.Name)
}

// EnrichedChunk is one search-index record derived from a source document.
// ID and ParentDocumentID are deterministic so re-processing an unchanged
// blob yields the same records.
type EnrichedChunk struct {
	ID                string
	ParentDocumentID  string
	Content           string
	ContentVector     []float32
	SourceFile        string
	SourceFileHash    string
	ChunkNumber       int
	ImageURLs         []string
	ImageDescriptions []string
}

func (x *EnrichedChunk) Document() *Document {
	return &Document{
		ID:                x.ID,
		ParentDocumentID:  x.ParentDocumentID,
		Content:           x.Content,
		ContentVector:     x.ContentVector,
		SourceFile:        x.SourceFile,
		SourceFileHash:    x.SourceFileHash,
		ChunkNumber:       x.ChunkNumber,
		ImageURLs:         x.ImageURLs,
		ImageDescriptions: x.ImageDescriptions,
	}
}

// WebPage is an already extracted web page ready for indexing
type WebPage struct {
	Title   string `yaml:"title" json:"title" validate:"required"`
	Content string `yaml:"content" json:"content" validate:"required"`
	Source  string `yaml:"source" json:"source" validate:"required"`
	URL     string `yaml:"url" json:"url" validate:"required,url"`
}

// Document is a record of either index schema. Fields of the other schema
// stay zero.
type Document struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`

	// product schema
	ParentDocumentID  string   `json:"parent_document_id,omitempty"`
	SourceFile        string   `json:"source_file,omitempty"`
	SourceFileHash    string   `json:"source_file_hash,omitempty"`
	ChunkNumber       int      `json:"chunk_number,omitempty"`
	ImageURLs         []string `json:"image_urls,omitempty"`
	ImageDescriptions []string `json:"image_descriptions,omitempty"`

	// web schema
	Title     string `json:"title,omitempty"`
	Source    string `json:"source,omitempty"`
	SourceURL string `json:"source_url,omitempty"`

	ContentVector []float32 `json:"-"`
}

// Label names the document for citations
func (x *Document) Label() string {
	switch {
	case x.SourceFile != "":
		return x.SourceFile
	case x.Title != "":
		return x.Title
	case x.SourceURL != "":
		return x.SourceURL
	}
	return x.ID
}
