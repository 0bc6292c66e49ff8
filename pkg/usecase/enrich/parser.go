package enrich

import (
	"context"
	"image"
	"strings"

	"github.com/m-mizutani/docent/pkg/adapter"
	"github.com/m-mizutani/goerr/v2"
)

// Parser turns a source document into text chunks
type Parser interface {
	Chunks(ctx context.Context, data []byte) ([]string, error)
}

// Renderer rasterizes the first pages of a source document
type Renderer interface {
	Render(ctx context.Context, data []byte, limit int) ([]image.Image, error)
}

// PDFParser joins the text of every page and splits it into sentence chunks
type PDFParser struct {
	reader  adapter.DocumentReader
	chunker *Chunker
}

func NewPDFParser(reader adapter.DocumentReader, chunker *Chunker) *PDFParser {
	if chunker == nil {
		chunker = NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	}
	return &PDFParser{reader: reader, chunker: chunker}
}

func (p *PDFParser) Chunks(ctx context.Context, data []byte) ([]string, error) {
	pages, err := p.reader.Pages(ctx, data)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to extract text")
	}
	return p.chunker.Split(strings.Join(pages, " ")), nil
}

// Render delegates to the document reader
func (p *PDFParser) Render(ctx context.Context, data []byte, limit int) ([]image.Image, error) {
	return p.reader.Render(ctx, data, limit)
}
