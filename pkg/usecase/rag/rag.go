// Package rag answers a single question from retrieved context without the
// tool-calling loop.
package rag

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/m-mizutani/docent/pkg/model"
	"github.com/m-mizutani/docent/pkg/utils/logging"
	"github.com/m-mizutani/docent/pkg/utils/text"
	"github.com/m-mizutani/goerr/v2"
)

type QueryType string

const (
	QueryPDF QueryType = "pdf"
	QueryWeb QueryType = "web"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

const (
	DefaultTopK             = 8
	DefaultMaxContextTokens = 6000
	DefaultPDFMaxTokens     = 4096
	DefaultWebMaxTokens     = 2048

	FallbackMessage = "Lo siento, un error inesperado ocurrió."
	NoContext       = "No se encontró información relevante en la base de conocimiento."

	confidenceWithContext    = 0.85
	confidenceWithoutContext = 0.3
	excerptLength            = 200
	newSessionLabel          = "new_session"
)

// answers are stamped in Colombian time (UTC-5, no daylight saving)
var colombia = time.FixedZone("COT", -5*60*60)

var (
	//go:embed prompt/system.md
	systemPromptRaw string
	//go:embed prompt/user.md
	userPromptRaw string

	systemPromptTmpl = template.Must(template.New("system").Parse(systemPromptRaw))
	userPromptTmpl   = template.Must(template.New("user").Parse(userPromptRaw))
)

// LLM condenses follow-ups and generates answers. llm.Gateway satisfies it.
type LLM interface {
	Condense(ctx context.Context, history []model.ChatMessage, followUp string) string
	GenerateChat(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
}

// Searcher is one search index. search.Gateway satisfies it.
type Searcher interface {
	HybridSearch(ctx context.Context, query string, topK int) ([]*model.Document, error)
}

type UseCase struct {
	llm              LLM
	searchers        map[QueryType]Searcher
	topK             int
	maxContextTokens int
	maxTokens        map[QueryType]int
}

type Option func(*UseCase)

func WithTopK(n int) Option {
	return func(uc *UseCase) {
		if n > 0 {
			uc.topK = n
		}
	}
}

func WithMaxContextTokens(n int) Option {
	return func(uc *UseCase) {
		if n > 0 {
			uc.maxContextTokens = n
		}
	}
}

// WithMaxTokens sets the answer length limit of a query type
func WithMaxTokens(t QueryType, n int) Option {
	return func(uc *UseCase) {
		if n > 0 {
			uc.maxTokens[t] = n
		}
	}
}

func New(llm LLM, pdf, web Searcher, opts ...Option) *UseCase {
	uc := &UseCase{
		llm:              llm,
		searchers:        map[QueryType]Searcher{},
		topK:             DefaultTopK,
		maxContextTokens: DefaultMaxContextTokens,
		maxTokens: map[QueryType]int{
			QueryPDF: DefaultPDFMaxTokens,
			QueryWeb: DefaultWebMaxTokens,
		},
	}
	if pdf != nil {
		uc.searchers[QueryPDF] = pdf
	}
	if web != nil {
		uc.searchers[QueryWeb] = web
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

type Request struct {
	SessionID string
	Query     string
	History   []model.ChatMessage
	Type      QueryType
	Priority  Priority
}

type Response struct {
	Answer        string              `json:"response"`
	Confidence    float64             `json:"confidence_score"`
	SessionID     string              `json:"session_id"`
	InteractionID string              `json:"interaction_id"`
	Timestamp     time.Time           `json:"timestamp"`
	Sources       []model.BasicSource `json:"sources"`
}

// Query answers req. Any failure is reported as a fallback answer with zero
// confidence rather than an error.
func (uc *UseCase) Query(ctx context.Context, req *Request) *Response {
	label := req.SessionID
	if label == "" {
		label = newSessionLabel
	}
	resp := &Response{
		SessionID:     req.SessionID,
		InteractionID: model.TraceID(label, len(req.History)/2+1),
		Timestamp:     time.Now().In(colombia),
		Sources:       []model.BasicSource{},
	}
	logger := logging.From(ctx).With("interaction_id", resp.InteractionID)
	ctx = logging.With(ctx, logger)

	answer, confidence, sources, err := uc.answer(ctx, req)
	if err != nil {
		logger.Error("rag query failed", logging.ErrAttr(err))
		resp.Answer = FallbackMessage
		resp.Confidence = 0
		return resp
	}

	resp.Answer = answer
	resp.Confidence = confidence
	resp.Sources = sources
	return resp
}

func (uc *UseCase) answer(ctx context.Context, req *Request) (string, float64, []model.BasicSource, error) {
	queryType := req.Type
	if queryType == "" {
		queryType = QueryPDF
	}
	priority := req.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	searcher, ok := uc.searchers[queryType]
	if !ok {
		return "", 0, nil, goerr.New("no index for query type", goerr.V("type", queryType))
	}

	query := text.SanitizeQuery(req.Query)
	if query == "" {
		return "", 0, nil, goerr.New("query is empty after sanitizing")
	}

	standalone := query
	if len(req.History) > 0 {
		standalone = uc.llm.Condense(ctx, req.History, query)
	}

	docs, err := searcher.HybridSearch(ctx, standalone, uc.topK)
	if err != nil {
		return "", 0, nil, err
	}

	contextText, used := uc.buildContext(docs)
	logging.From(ctx).Info("context built", "sources", used, "hits", len(docs))

	systemPrompt, err := render(systemPromptTmpl, map[string]any{"Type": string(queryType)})
	if err != nil {
		return "", 0, nil, err
	}
	userPrompt, err := render(userPromptTmpl, map[string]any{
		"Context":  contextText,
		"Query":    query,
		"Type":     string(queryType),
		"Priority": string(priority),
	})
	if err != nil {
		return "", 0, nil, err
	}

	answer, err := uc.llm.GenerateChat(ctx, systemPrompt, userPrompt, uc.maxTokens[queryType])
	if err != nil {
		return "", 0, nil, err
	}

	confidence := confidenceWithContext
	if used == 0 {
		confidence = confidenceWithoutContext
	}

	sources := make([]model.BasicSource, len(docs))
	for i, doc := range docs {
		sources[i] = model.BasicSource{
			SourceFile: doc.Label(),
			Excerpt:    text.Truncate(doc.Content, excerptLength),
			Score:      doc.Score,
		}
	}
	return answer, confidence, sources, nil
}

// buildContext concatenates hits in rank order until the token budget is
// exhausted. It returns the context and the number of hits it holds.
func (uc *UseCase) buildContext(docs []*model.Document) (string, int) {
	if len(docs) == 0 {
		return NoContext, 0
	}

	var parts []string
	total := 0
	for i, doc := range docs {
		part := fmt.Sprintf("[Fuente %d: %s]\n%s\n", i+1, doc.Label(), doc.Content)
		tokens := text.ApproxTokens(part)
		if total+tokens > uc.maxContextTokens {
			break
		}
		parts = append(parts, part)
		total += tokens
	}
	if len(parts) == 0 {
		return NoContext, 0
	}
	return strings.Join(parts, "\n"), len(parts)
}

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", goerr.Wrap(err, "failed to render prompt", goerr.V("template", tmpl.Name()))
	}
	return buf.String(), nil
}
