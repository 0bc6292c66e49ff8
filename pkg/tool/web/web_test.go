package web_test

import (
	"context"
	"strings"
	"testing"

	"github.com/m-mizutani/docent/pkg/model"
	"github.com/m-mizutani/docent/pkg/tool/web"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

type mockSearcher struct {
	docs  []*model.Document
	err   error
	topK  int
	query string
}

func (m *mockSearcher) HybridSearch(ctx context.Context, query string, topK int) ([]*model.Document, error) {
	m.query = query
	m.topK = topK
	return m.docs, m.err
}

func TestRetrieveInstitutional(t *testing.T) {
	s := &mockSearcher{docs: []*model.Document{
		{Title: "Noticias", Content: "Nuestra misión en la feria", Source: "blog", SourceURL: "https://x.com/blog"},
		{Title: "Misión", Content: "Ser líderes", Source: "sobre_ajover", SourceURL: "https://x.com/mision"},
	}}
	out := web.NewWithSearcher(s, 8).Retrieve(context.Background(), "¿Cuál es la misión?")

	gt.Equal(t, s.topK, 20)
	gt.S(t, s.query).Contains("propósito")
	gt.True(t, strings.HasPrefix(out, "1. **Título:** Misión\n"))
	gt.S(t, out).Contains("- **URL:** [https://x.com/mision](https://x.com/mision)")
	gt.S(t, out).Contains("2. **Título:** Noticias")
}

func TestRetrieveGeneric(t *testing.T) {
	s := &mockSearcher{docs: []*model.Document{
		{Title: "B", Content: "b"},
		{Title: "A", Content: "a"},
	}}
	out := web.NewWithSearcher(s, 8).Retrieve(context.Background(), "productos galvanizados")

	gt.Equal(t, s.topK, 8)
	gt.Equal(t, s.query, "productos galvanizados")
	gt.True(t, strings.HasPrefix(out, "1. **Título:** B"))
	gt.S(t, out).Contains("- **Fuente:** Desconocida")
	gt.S(t, out).Contains("- **URL:** [No disponible](No disponible)")
}

func TestRetrieveProjectsKeepsTopK(t *testing.T) {
	s := &mockSearcher{}
	out := web.NewWithSearcher(s, 8).Retrieve(context.Background(), "proyectos recientes")
	gt.Equal(t, s.topK, 8)
	gt.Equal(t, out, "No se encontraron resultados relevantes en las páginas web indexadas.")
}

func TestRetrieveErrors(t *testing.T) {
	gt.Equal(t, web.NewWithSearcher(&mockSearcher{}, 8).Retrieve(context.Background(), ""),
		"Error: Se requiere una consulta de búsqueda.")
	gt.Equal(t, web.NewWithSearcher(&mockSearcher{err: goerr.New("x")}, 8).Retrieve(context.Background(), "hola"),
		"Ocurrió un error al buscar en las páginas web.")
}

func TestFormatSnippet(t *testing.T) {
	long := strings.Repeat("a", 1500)
	out := web.Format([]*model.Document{{Title: "T", Content: long, Source: "s", SourceURL: "https://x"}})
	gt.S(t, out).Contains(strings.Repeat("a", 1000) + "...")
	gt.S(t, out).NotContains(strings.Repeat("a", 1001))
}
