// Package web is the retrieval tool over the indexed corporate web pages.
package web

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/docent/pkg/model"
	"github.com/m-mizutani/docent/pkg/tool"
	"github.com/m-mizutani/docent/pkg/utils/logging"
	"github.com/m-mizutani/docent/pkg/utils/text"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

const (
	FunctionName = "search_web_pages"

	msgEmptyQuery = "Error: Se requiere una consulta de búsqueda."
	msgNoResults  = "No se encontraron resultados relevantes en las páginas web indexadas."
	msgError      = "Ocurrió un error al buscar en las páginas web."

	defaultTopK       = 8
	institutionalTopK = 20
	snippetLength     = 1000
)

type Tool struct {
	topK     int64
	searcher tool.Searcher
}

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
			Name:        "web-top-k",
			Usage:       "Number of web pages returned by the web search tool",
			Value:       defaultTopK,
			Sources:     cli.EnvVars("DOCENT_WEB_TOP_K"),
			Destination: &x.topK,
		},
	}
}

func (x *Tool) Init(ctx context.Context, client *tool.Client) (bool, error) {
	if client == nil || client.Web == nil {
		return false, nil
	}
	x.searcher = client.Web
	return true, nil
}

func (x *Tool) Prompt(ctx context.Context) string {
	return "Usa " + FunctionName + " para preguntas institucionales (misión, visión, valores, contacto, proyectos, sostenibilidad) y contenido del sitio web oficial. Incluye la URL de la fuente."
}

func (x *Tool) Spec() *genai.Tool {
	params, err := tool.ConvertSchema(tool.QuerySchema("Consulta de búsqueda en el contenido web oficial"))
	if err != nil {
		return nil
	}
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        FunctionName,
				Description: "Busca en el contenido web oficial de la empresa indexado.",
				Parameters:  params,
			},
		},
	}
}

func (x *Tool) Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	return tool.TextResponse(fc, x.Retrieve(ctx, tool.QueryArg(fc))), nil
}

// Retrieve expands institutional queries, searches and re-ranks canonical
// pages first. Failures are reported as fixed messages.
func (x *Tool) Retrieve(ctx context.Context, query string) string {
	logger := logging.From(ctx)
	if strings.TrimSpace(query) == "" {
		return msgEmptyQuery
	}
	if x.searcher == nil {
		logger.Error("web search is not initialized")
		return msgError
	}

	found := detectIntents(query)
	expanded := expandQuery(query, found)
	topK := int(x.topK)
	if institutional(found) {
		topK = max(topK, institutionalTopK)
	}

	docs, err := x.searcher.HybridSearch(ctx, expanded, topK)
	if err != nil {
		logger.Error("web search failed", "query", expanded, logging.ErrAttr(err))
		return msgError
	}
	logger.Debug("web search done", "query", expanded, "top_k", topK, "hits", len(docs))

	return Format(rerank(docs, found))
}

// Format renders hits with the **Fuente:** and **URL:** markers used for
// citations
func Format(docs []*model.Document) string {
	if len(docs) == 0 {
		return msgNoResults
	}

	entries := make([]string, 0, len(docs))
	for i, doc := range docs {
		entries = append(entries, fmt.Sprintf("%d. **Título:** %s\n- **Contenido:** %s\n- **Fuente:** %s\n- **URL:** [%s](%s)",
			i+1,
			orDefault(doc.Title, "Sin título"),
			text.Snippet(orDefault(doc.Content, "Sin contenido."), snippetLength),
			orDefault(doc.Source, "Desconocida"),
			orDefault(doc.SourceURL, "No disponible"),
			orDefault(doc.SourceURL, "No disponible"),
		))
	}
	return strings.Join(entries, "\n")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
