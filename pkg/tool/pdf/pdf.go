// Package pdf is the retrieval tool over the product catalog index.
package pdf

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/docent/pkg/model"
	"github.com/m-mizutani/docent/pkg/tool"
	"github.com/m-mizutani/docent/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

const (
	FunctionName = "search_pdf_documents"

	msgEmptyQuery = "Error: Se requiere una consulta de búsqueda."
	msgNoResults  = "No se encontraron resultados relevantes en los PDFs indexados."
	msgError      = "Ocurrió un error al buscar en los documentos PDF."

	defaultTopK = 8
)

type Tool struct {
	topK     int64
	searcher tool.Searcher
}

// New creates the PDF catalog search tool
func New() *Tool {
	return &Tool{topK: defaultTopK}
}

// NewWithSearcher creates an initialized tool, for callers outside the registry
func NewWithSearcher(searcher tool.Searcher, topK int) *Tool {
	if topK <= 0 {
		topK = defaultTopK
	}
	return &Tool{topK: int64(topK), searcher: searcher}
}

func (x *Tool) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "pdf-top-k",
			Usage:       "Number of catalog chunks returned by the PDF search tool",
			Value:       defaultTopK,
			Sources:     cli.EnvVars("DOCENT_PDF_TOP_K"),
			Destination: &x.topK,
		},
	}
}

// Init enables the tool when a PDF index is available
func (x *Tool) Init(ctx context.Context, client *tool.Client) (bool, error) {
	if client == nil || client.PDF == nil {
		return false, nil
	}
	x.searcher = client.PDF
	return true, nil
}

func (x *Tool) Prompt(ctx context.Context) string {
	return "Usa " + FunctionName + " para preguntas sobre productos, especificaciones técnicas, fichas y catálogos en PDF. Cita el archivo de origen."
}

func (x *Tool) Spec() *genai.Tool {
	params, err := tool.ConvertSchema(tool.QuerySchema("Consulta de búsqueda en los documentos PDF técnicos"))
	if err != nil {
		return nil
	}
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        FunctionName,
				Description: "Busca en los documentos PDF técnicos y catálogos de productos indexados.",
				Parameters:  params,
			},
		},
	}
}

func (x *Tool) Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	return tool.TextResponse(fc, x.Retrieve(ctx, tool.QueryArg(fc))), nil
}

// Retrieve searches the catalog and formats the hits. Failures are reported
// as fixed messages so the model can keep going.
func (x *Tool) Retrieve(ctx context.Context, query string) string {
	logger := logging.From(ctx)
	if strings.TrimSpace(query) == "" {
		logger.Warn("pdf search called without query")
		return msgEmptyQuery
	}
	if x.searcher == nil {
		logger.Error("pdf search is not initialized")
		return msgError
	}

	docs, err := x.searcher.HybridSearch(ctx, query, int(x.topK))
	if err != nil {
		logger.Error("pdf search failed", "query", query, logging.ErrAttr(err))
		return msgError
	}
	logger.Debug("pdf search done", "query", query, "hits", len(docs))
	return Format(docs)
}

// Format renders hits with the **Archivo:** marker used for citations
func Format(docs []*model.Document) string {
	if len(docs) == 0 {
		return msgNoResults
	}

	entries := make([]string, 0, len(docs))
	for i, doc := range docs {
		source := doc.SourceFile
		if source == "" {
			source = "Documento PDF"
		}
		content := doc.Content
		if content == "" {
			content = "Sin contenido."
		}
		images := "Ninguna"
		if len(doc.ImageURLs) > 0 {
			images = strings.Join(doc.ImageURLs, "\n    - ")
		}

		entries = append(entries, fmt.Sprintf("%d. **Archivo:** %s\n- **Contenido:** %s\n- **Imágenes Relevantes:**\n    - %s",
			i+1, source, content, images))
	}
	return strings.Join(entries, "\n")
}
