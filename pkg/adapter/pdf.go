package adapter

import (
	"context"
	"image"

	"github.com/gen2brain/go-fitz"
	"github.com/m-mizutani/goerr/v2"
)

// DocumentReader extracts page text and page renders from a document
type DocumentReader interface {
	Pages(ctx context.Context, data []byte) ([]string, error)
	Render(ctx context.Context, data []byte, limit int) ([]image.Image, error)
}

// PDF reads documents with MuPDF. It is not safe for unbounded parallel use;
// callers gate it with a semaphore.
type PDF struct {
	dpi float64
}

func NewPDF() *PDF {
	return &PDF{dpi: 300}
}

func (p *PDF) Pages(ctx context.Context, data []byte) ([]string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open pdf")
	}
	defer doc.Close()

	pages := make([]string, 0, doc.NumPage())
	for i := 0; i < doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, goerr.Wrap(err, "pdf text extraction interrupted")
		}
		txt, err := doc.Text(i)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to extract page text", goerr.V("page", i+1))
		}
		pages = append(pages, txt)
	}
	return pages, nil
}

// Render rasterizes at most limit pages, starting from the first one
func (p *PDF) Render(ctx context.Context, data []byte, limit int) ([]image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open pdf")
	}
	defer doc.Close()

	n := min(doc.NumPage(), limit)
	images := make([]image.Image, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, goerr.Wrap(err, "pdf rendering interrupted")
		}
		img, err := doc.ImageDPI(i, p.dpi)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to render page", goerr.V("page", i+1))
		}
		images = append(images, img)
	}
	return images, nil
}
