package rag_test

import (
	"context"
	"strings"
	"testing"

	"github.com/m-mizutani/docent/pkg/model"
	"github.com/m-mizutani/docent/pkg/usecase/rag"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

type mockLLM struct {
	condensed  []string
	system     string
	user       string
	maxTokens  int
	generateFn func() (string, error)
}

func (m *mockLLM) Condense(ctx context.Context, history []model.ChatMessage, followUp string) string {
	m.condensed = append(m.condensed, followUp)
	return "pregunta autónoma"
}

func (m *mockLLM) GenerateChat(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	m.system, m.user, m.maxTokens = systemPrompt, userPrompt, maxTokens
	if m.generateFn != nil {
		return m.generateFn()
	}
	return "respuesta", nil
}

type mockSearcher struct {
	queries []string
	docs    []*model.Document
	err     error
}

func (m *mockSearcher) HybridSearch(ctx context.Context, query string, topK int) ([]*model.Document, error) {
	m.queries = append(m.queries, query)
	return m.docs, m.err
}

func TestQueryWithContext(t *testing.T) {
	llm := &mockLLM{}
	pdf := &mockSearcher{docs: []*model.Document{
		{ID: "1", SourceFile: "bombas.pdf", Content: strings.Repeat("x", 300), Score: 0.9},
		{ID: "2", SourceFile: "valvulas.pdf", Content: "válvula", Score: 0.5},
	}}
	uc := rag.New(llm, pdf, nil)

	resp := uc.Query(context.Background(), &rag.Request{
		SessionID: "sess_abc",
		Query:     "  ¿Qué <b>presión</b>   soporta?  ",
	})
	gt.Equal(t, resp.Answer, "respuesta")
	gt.Equal(t, resp.Confidence, 0.85)
	gt.Equal(t, resp.InteractionID, model.TraceID("sess_abc", 1))
	gt.Equal(t, llm.maxTokens, rag.DefaultPDFMaxTokens)

	// no history, so the sanitized query is searched as is
	gt.A(t, llm.condensed).Length(0)
	gt.Equal(t, pdf.queries[0], "¿Qué bpresión/b soporta?")

	gt.S(t, llm.user).Contains("[Fuente 1: bombas.pdf]")
	gt.S(t, llm.user).Contains("[Fuente 2: valvulas.pdf]")
	gt.S(t, llm.user).Contains("Prioridad: normal")

	gt.A(t, resp.Sources).Length(2)
	gt.Equal(t, len([]rune(resp.Sources[0].Excerpt)), 200)
	gt.Equal(t, resp.Sources[1].SourceFile, "valvulas.pdf")
}

func TestQueryCondensesFollowUp(t *testing.T) {
	llm := &mockLLM{}
	web := &mockSearcher{}
	uc := rag.New(llm, nil, web)

	history := []model.ChatMessage{
		*model.NewChatMessage(model.RoleUser, "¿Quiénes son?"),
		*model.NewChatMessage(model.RoleAssistant, "Ajover"),
	}
	resp := uc.Query(context.Background(), &rag.Request{
		Query:   "¿y su misión?",
		History: history,
		Type:    rag.QueryWeb,
	})

	gt.Equal(t, web.queries[0], "pregunta autónoma")
	gt.Equal(t, resp.InteractionID, model.TraceID("new_session", 2))
	gt.Equal(t, llm.maxTokens, rag.DefaultWebMaxTokens)

	// nothing found
	gt.Equal(t, resp.Confidence, 0.3)
	gt.S(t, llm.user).Contains(rag.NoContext)
	gt.S(t, llm.system).Contains("institucional")
}

func TestQueryContextBudget(t *testing.T) {
	llm := &mockLLM{}
	pdf := &mockSearcher{docs: []*model.Document{
		{SourceFile: "a.pdf", Content: strings.Repeat("a", 100)},
		{SourceFile: "b.pdf", Content: strings.Repeat("b", 400)},
	}}
	uc := rag.New(llm, pdf, nil, rag.WithMaxContextTokens(50))

	resp := uc.Query(context.Background(), &rag.Request{Query: "q"})
	gt.Equal(t, resp.Confidence, 0.85)
	gt.S(t, llm.user).Contains("[Fuente 1: a.pdf]")
	gt.False(t, strings.Contains(llm.user, "b.pdf"))
}

func TestQueryFallback(t *testing.T) {
	cases := map[string]*rag.UseCase{
		"search failure": rag.New(&mockLLM{}, &mockSearcher{err: goerr.New("index down")}, nil),
		"generation failure": rag.New(&mockLLM{generateFn: func() (string, error) {
			return "", goerr.New("rate limited")
		}}, &mockSearcher{}, nil),
		"missing index": rag.New(&mockLLM{}, nil, nil),
	}
	for name, uc := range cases {
		t.Run(name, func(t *testing.T) {
			resp := uc.Query(context.Background(), &rag.Request{SessionID: "s", Query: "hola"})
			gt.Equal(t, resp.Answer, rag.FallbackMessage)
			gt.Equal(t, resp.Confidence, 0.0)
			gt.Equal(t, resp.SessionID, "s")
			gt.A(t, resp.Sources).Length(0)
		})
	}
}
