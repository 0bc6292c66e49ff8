package adapter

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"syscall"

	"github.com/m-mizutani/docent/pkg/utils/retry"
	"github.com/m-mizutani/goerr/v2"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
	"google.golang.org/genai"
)

// Embedding is one vector of a batch. Index is the position of its input
// text, which providers may return out of order.
type Embedding struct {
	Index  int
	Vector []float32
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([]Embedding, error)
	Close() error
}

type OpenAIClient struct {
	client    openai.Client
	model     string
	dimension int64
}

type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	model           string
	azureEndpoint   string
	azureAPIVersion string
	baseURL         string
}

func WithOpenAIModel(model string) OpenAIOption {
	return func(c *openAIConfig) { c.model = model }
}

// WithAzure routes requests to an Azure OpenAI deployment
func WithAzure(endpoint, apiVersion string) OpenAIOption {
	return func(c *openAIConfig) {
		c.azureEndpoint = endpoint
		c.azureAPIVersion = apiVersion
	}
}

func WithOpenAIBaseURL(u string) OpenAIOption {
	return func(c *openAIConfig) { c.baseURL = u }
}

func NewOpenAI(apiKey string, opts ...OpenAIOption) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, goerr.New("openai api key is required")
	}

	cfg := openAIConfig{model: string(openai.EmbeddingModelTextEmbedding3Small)}
	for _, opt := range opts {
		opt(&cfg)
	}

	var reqOpts []option.RequestOption
	if cfg.azureEndpoint != "" {
		reqOpts = append(reqOpts,
			azure.WithEndpoint(cfg.azureEndpoint, cfg.azureAPIVersion),
			azure.WithAPIKey(apiKey),
		)
	} else {
		reqOpts = append(reqOpts, option.WithAPIKey(apiKey))
		if cfg.baseURL != "" {
			reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
		}
	}

	return &OpenAIClient{
		client:    openai.NewClient(reqOpts...),
		model:     cfg.model,
		dimension: EmbeddingDimension,
	}, nil
}

func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([]Embedding, error) {
	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model:      openai.EmbeddingModel(c.model),
		Dimensions: openai.Int(c.dimension),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embeddings", goerr.V("count", len(texts)))
	}

	out := make([]Embedding, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		out[i] = Embedding{Index: int(d.Index), Vector: vec}
	}
	return out, nil
}

func (c *OpenAIClient) Close() error { return nil }

// IsRateLimited reports whether err is a provider throttling response
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, retry.ErrRateLimited) {
		return true
	}

	var gErr genai.APIError
	if errors.As(err, &gErr) {
		return gErr.Code == http.StatusTooManyRequests || gErr.Status == "RESOURCE_EXHAUSTED"
	}

	var oErr *openai.Error
	if errors.As(err, &oErr) {
		return oErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// IsConnectionError reports whether err comes from the network rather than
// from the provider
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}
