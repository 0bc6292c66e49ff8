// Package llm is the single choke point for model calls. Every request
// takes a token from a shared bucket and is retried on throttling.
package llm

import (
	"bytes"
	"context"
	_ "embed"
	"sort"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/m-mizutani/docent/pkg/adapter"
	"github.com/m-mizutani/docent/pkg/model"
	"github.com/m-mizutani/docent/pkg/utils/logging"
	"github.com/m-mizutani/docent/pkg/utils/ratelimit"
	"github.com/m-mizutani/docent/pkg/utils/retry"
	"github.com/m-mizutani/goerr/v2"
	"github.com/patrickmn/go-cache"
	"google.golang.org/genai"
)

const (
	ServiceUnavailableMessage = "Hubo un problema al contactar al servicio de IA."
	NotConfiguredMessage      = "El servicio de IA no está configurado."
	EmptyResponseMessage      = "No se pudo generar una respuesta."
	ImageErrorSentinel        = "[Error al analizar imagen]"

	DefaultRate     = 1.0
	DefaultCapacity = 5

	imageMaxTokens = 300
)

//go:embed prompt/condense.md
var condensePromptRaw string

//go:embed prompt/describe.md
var describePrompt string

var condensePromptTmpl = template.Must(template.New("condense").Parse(condensePromptRaw))

type Gateway struct {
	gemini   adapter.Gemini
	embedder adapter.Embedder

	bucket     *ratelimit.Bucket
	retryOpts  []retry.Option
	queryCache *cache.Cache
	closeOnce  sync.Once
}

type Option func(*Gateway)

// WithBucket shares an existing token bucket instead of a private one
func WithBucket(b *ratelimit.Bucket) Option {
	return func(g *Gateway) {
		g.bucket = b
	}
}

func WithRetry(opts ...retry.Option) Option {
	return func(g *Gateway) {
		g.retryOpts = append(g.retryOpts, opts...)
	}
}

// WithQueryCache keeps query embeddings for ttl; zero disables it
func WithQueryCache(ttl time.Duration) Option {
	return func(g *Gateway) {
		if ttl <= 0 {
			g.queryCache = nil
			return
		}
		g.queryCache = cache.New(ttl, 2*ttl)
	}
}

// New creates a gateway. Either client may be nil; calls needing a missing
// client degrade the same way a failed call does.
func New(gemini adapter.Gemini, embedder adapter.Embedder, opts ...Option) (*Gateway, error) {
	g := &Gateway{
		gemini:     gemini,
		embedder:   embedder,
		retryOpts:  []retry.Option{retry.WithRetryIf(adapter.IsRateLimited)},
		queryCache: cache.New(30*time.Minute, time.Hour),
	}
	for _, opt := range opts {
		opt(g)
	}

	if g.bucket == nil {
		b, err := ratelimit.New(DefaultRate, DefaultCapacity)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create token bucket")
		}
		g.bucket = b
	}
	return g, nil
}

// invoke takes a token and runs fn under the retry policy
func invoke[T any](ctx context.Context, g *Gateway, fn func(ctx context.Context) (T, error)) (T, error) {
	return retry.Do(ctx, func(ctx context.Context) (T, error) {
		if err := g.bucket.Acquire(ctx, 1); err != nil {
			var zero T
			return zero, err
		}
		return fn(ctx)
	}, g.retryOpts...)
}

// Generate is the raw content call used by the agent loop
func (g *Gateway) Generate(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if g.gemini == nil {
		return nil, goerr.New("generative model is not configured")
	}
	return invoke(ctx, g, func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		return g.gemini.GenerateContent(ctx, contents, config)
	})
}

// condenseMaxTokens grows the output budget with the conversation length
func condenseMaxTokens(historyLen int) int32 {
	switch {
	case historyLen <= 2:
		return 250
	case historyLen <= 4:
		return 300
	case historyLen <= 6:
		return 350
	default:
		return 400
	}
}

type historyLine struct {
	Speaker string
	Content string
}

// Condense rewrites followUp into a standalone question. It fails open:
// without history, without a model or on any error the follow-up is
// returned unchanged.
func (g *Gateway) Condense(ctx context.Context, history []model.ChatMessage, followUp string) string {
	if len(history) == 0 || g.gemini == nil {
		return followUp
	}

	lines := make([]historyLine, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case model.RoleUser:
			lines = append(lines, historyLine{Speaker: "Usuario", Content: msg.Content})
		case model.RoleAssistant:
			lines = append(lines, historyLine{Speaker: "Asistente", Content: msg.Content})
		}
	}

	var buf bytes.Buffer
	if err := condensePromptTmpl.Execute(&buf, map[string]any{
		"History":  lines,
		"Question": followUp,
	}); err != nil {
		logging.From(ctx).Warn("failed to render condense prompt", logging.ErrAttr(err))
		return followUp
	}

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0),
		MaxOutputTokens: condenseMaxTokens(len(history)),
		ThinkingConfig:  noThinking(),
	}
	contents := []*genai.Content{genai.NewContentFromText(buf.String(), genai.RoleUser)}

	resp, err := invoke(ctx, g, func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		return g.gemini.GenerateContent(ctx, contents, config)
	})
	if err != nil {
		logging.From(ctx).Warn("question condensation failed, using original question", logging.ErrAttr(err))
		return followUp
	}

	if condensed := strings.TrimSpace(ResponseText(resp)); condensed != "" {
		return condensed
	}
	return followUp
}

// DescribeImage asks the vision model about a JPEG image. Throttling and
// connection failures are returned as errors; any other failure yields
// ImageErrorSentinel so batch enrichment continues.
func (g *Gateway) DescribeImage(ctx context.Context, jpeg []byte) (string, error) {
	if g.gemini == nil {
		return ImageErrorSentinel, nil
	}

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: imageMaxTokens,
		MediaResolution: genai.MediaResolutionLow,
		ThinkingConfig:  noThinking(),
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(describePrompt),
			genai.NewPartFromBytes(jpeg, "image/jpeg"),
		}, genai.RoleUser),
	}

	resp, err := invoke(ctx, g, func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		return g.gemini.GenerateContent(ctx, contents, config)
	})
	if err != nil {
		if adapter.IsRateLimited(err) || adapter.IsConnectionError(err) {
			return "", err
		}
		logging.From(ctx).Warn("image description failed", logging.ErrAttr(err))
		return ImageErrorSentinel, nil
	}

	desc := strings.TrimSpace(ResponseText(resp))
	if desc == "" {
		return ImageErrorSentinel, nil
	}
	return desc, nil
}

// Embed returns the embedding of text, or an empty vector on failure.
// Document texts go through here and are never cached.
func (g *Gateway) Embed(ctx context.Context, text string) []float32 {
	if g.embedder == nil {
		return []float32{}
	}

	result, err := invoke(ctx, g, func(ctx context.Context) ([]adapter.Embedding, error) {
		return g.embedder.Embed(ctx, []string{text})
	})
	if err != nil || len(result) == 0 {
		logging.From(ctx).Warn("embedding failed", logging.ErrAttr(err))
		return []float32{}
	}
	return result[0].Vector
}

// EmbedQuery is Embed for search queries, served from the query cache
func (g *Gateway) EmbedQuery(ctx context.Context, query string) []float32 {
	if g.queryCache != nil {
		if v, ok := g.queryCache.Get(query); ok {
			return v.([]float32)
		}
	}

	vec := g.Embed(ctx, query)
	if g.queryCache != nil && len(vec) > 0 {
		g.queryCache.SetDefault(query, vec)
	}
	return vec
}

// CachedQueries reports how many query embeddings are held
func (g *Gateway) CachedQueries() int {
	if g.queryCache == nil {
		return 0
	}
	return g.queryCache.ItemCount()
}

// EmbedBatch embeds texts in one request. Results are placed by their
// provider index so the output order always matches the input order. On
// failure every vector is empty.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{}
	}
	if len(texts) == 0 || g.embedder == nil {
		return out
	}

	result, err := invoke(ctx, g, func(ctx context.Context) ([]adapter.Embedding, error) {
		return g.embedder.Embed(ctx, texts)
	})
	if err != nil {
		logging.From(ctx).Warn("batch embedding failed", "count", len(texts), logging.ErrAttr(err))
		return out
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Index < result[j].Index })
	for _, e := range result {
		if e.Index >= 0 && e.Index < len(out) {
			out[e.Index] = e.Vector
		}
	}
	return out
}

// GenerateChat produces the answer for a prompt pair. Throttling is
// returned to the caller; any other failure is replaced by a fixed message.
func (g *Gateway) GenerateChat(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	if g.gemini == nil {
		return NotConfiguredMessage, nil
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, ""),
		MaxOutputTokens:   int32(maxTokens),
	}
	contents := []*genai.Content{genai.NewContentFromText(userPrompt, genai.RoleUser)}

	resp, err := invoke(ctx, g, func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		return g.gemini.GenerateContent(ctx, contents, config)
	})
	if err != nil {
		if adapter.IsRateLimited(err) {
			return "", err
		}
		logging.From(ctx).Error("chat generation failed", logging.ErrAttr(err))
		return ServiceUnavailableMessage, nil
	}

	answer := strings.TrimSpace(ResponseText(resp))
	if answer == "" {
		return EmptyResponseMessage, nil
	}
	return answer, nil
}

func (g *Gateway) Close() error {
	var err error
	g.closeOnce.Do(func() {
		if g.queryCache != nil {
			g.queryCache.Flush()
		}
		if g.embedder != nil {
			if cerr := g.embedder.Close(); cerr != nil {
				err = goerr.Wrap(cerr, "failed to close embedder")
			}
		}
	})
	return err
}

// ResponseText joins the visible text parts of the first candidate
func ResponseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought || part.Text == "" {
			continue
		}
		sb.WriteString(part.Text)
	}
	return sb.String()
}

func noThinking() *genai.ThinkingConfig {
	budget := int32(0)
	return &genai.ThinkingConfig{
		IncludeThoughts: false,
		ThinkingBudget:  &budget,
	}
}
