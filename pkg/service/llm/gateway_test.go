package llm_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/docent/pkg/adapter"
	"github.com/m-mizutani/docent/pkg/model"
	"github.com/m-mizutani/docent/pkg/service/llm"
	"github.com/m-mizutani/docent/pkg/utils/ratelimit"
	"github.com/m-mizutani/docent/pkg/utils/retry"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"google.golang.org/genai"
)

type mockGemini struct {
	mu       sync.Mutex
	calls    int
	configs  []*genai.GenerateContentConfig
	contents [][]*genai.Content
	fn       func(call int) (*genai.GenerateContentResponse, error)
}

func (m *mockGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.configs = append(m.configs, config)
	m.contents = append(m.contents, contents)
	m.mu.Unlock()
	return m.fn(call)
}

type mockEmbedder struct {
	calls  int
	fn     func(texts []string) ([]adapter.Embedding, error)
	closed bool
}

func (m *mockEmbedder) Embed(ctx context.Context, texts []string) ([]adapter.Embedding, error) {
	m.calls++
	return m.fn(texts)
}

func (m *mockEmbedder) Close() error {
	m.closed = true
	return nil
}

func textResponse(s string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: genai.NewContentFromText(s, genai.RoleModel)},
		},
	}
}

func newGateway(t *testing.T, g adapter.Gemini, e adapter.Embedder) *llm.Gateway {
	t.Helper()
	bucket, err := ratelimit.New(1000, 100)
	gt.NoError(t, err)
	gw, err := llm.New(g, e,
		llm.WithBucket(bucket),
		llm.WithRetry(retry.WithBaseWait(time.Millisecond), retry.WithJitter(0)),
	)
	gt.NoError(t, err)
	return gw
}

func history(n int) []model.ChatMessage {
	out := make([]model.ChatMessage, 0, n)
	for i := 0; i < n; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		out = append(out, *model.NewChatMessage(role, "mensaje"))
	}
	return out
}

func TestCondense(t *testing.T) {
	ctx := context.Background()

	t.Run("empty history returns the follow-up", func(t *testing.T) {
		gem := &mockGemini{fn: func(int) (*genai.GenerateContentResponse, error) {
			return textResponse("should not be used"), nil
		}}
		gw := newGateway(t, gem, nil)
		gt.Equal(t, gw.Condense(ctx, nil, "¿y el precio?"), "¿y el precio?")
		gt.Equal(t, gem.calls, 0)
	})

	t.Run("rewrites with history", func(t *testing.T) {
		gem := &mockGemini{fn: func(int) (*genai.GenerateContentResponse, error) {
			return textResponse("  ¿Cuál es el precio del modelo X?\n"), nil
		}}
		gw := newGateway(t, gem, nil)
		got := gw.Condense(ctx, history(2), "¿y el precio?")
		gt.Equal(t, got, "¿Cuál es el precio del modelo X?")

		gt.Equal(t, *gem.configs[0].Temperature, float32(0))
		gt.Equal(t, gem.configs[0].MaxOutputTokens, int32(250))

		prompt := gem.contents[0][0].Parts[0].Text
		gt.True(t, strings.Contains(prompt, "Usuario: mensaje"))
		gt.True(t, strings.Contains(prompt, "Asistente: mensaje"))
		gt.True(t, strings.Contains(prompt, "¿y el precio?"))
	})

	t.Run("token budget grows with history", func(t *testing.T) {
		cases := map[int]int32{1: 250, 2: 250, 3: 300, 4: 300, 5: 350, 6: 350, 7: 400, 20: 400}
		for n, want := range cases {
			gem := &mockGemini{fn: func(int) (*genai.GenerateContentResponse, error) {
				return textResponse("q"), nil
			}}
			gw := newGateway(t, gem, nil)
			gw.Condense(ctx, history(n), "q")
			gt.Equal(t, gem.configs[0].MaxOutputTokens, want)
		}
	})

	t.Run("fails open on error", func(t *testing.T) {
		gem := &mockGemini{fn: func(int) (*genai.GenerateContentResponse, error) {
			return nil, goerr.New("boom")
		}}
		gw := newGateway(t, gem, nil)
		gt.Equal(t, gw.Condense(ctx, history(2), "original"), "original")
	})

	t.Run("fails open on empty answer", func(t *testing.T) {
		gem := &mockGemini{fn: func(int) (*genai.GenerateContentResponse, error) {
			return textResponse("   "), nil
		}}
		gw := newGateway(t, gem, nil)
		gt.Equal(t, gw.Condense(ctx, history(2), "original"), "original")
	})
}

func TestDescribeImage(t *testing.T) {
	ctx := context.Background()

	t.Run("returns description", func(t *testing.T) {
		gem := &mockGemini{fn: func(int) (*genai.GenerateContentResponse, error) {
			return textResponse("Una bomba centrífuga"), nil
		}}
		gw := newGateway(t, gem, nil)
		desc, err := gw.DescribeImage(ctx, []byte{0xff, 0xd8})
		gt.NoError(t, err)
		gt.Equal(t, desc, "Una bomba centrífuga")
		gt.Equal(t, gem.configs[0].MaxOutputTokens, int32(300))
		gt.Equal(t, gem.configs[0].MediaResolution, genai.MediaResolutionLow)

		parts := gem.contents[0][0].Parts
		gt.A(t, parts).Length(2)
		gt.Equal(t, parts[1].InlineData.MIMEType, "image/jpeg")
	})

	t.Run("provider error yields sentinel", func(t *testing.T) {
		gem := &mockGemini{fn: func(int) (*genai.GenerateContentResponse, error) {
			return nil, goerr.New("invalid image")
		}}
		gw := newGateway(t, gem, nil)
		desc, err := gw.DescribeImage(ctx, []byte{1})
		gt.NoError(t, err)
		gt.Equal(t, desc, llm.ImageErrorSentinel)
	})

	t.Run("rate limit propagates after retries", func(t *testing.T) {
		gem := &mockGemini{fn: func(int) (*genai.GenerateContentResponse, error) {
			return nil, goerr.Wrap(retry.ErrRateLimited, "429")
		}}
		gw := newGateway(t, gem, nil)
		_, err := gw.DescribeImage(ctx, []byte{1})
		gt.True(t, errors.Is(err, retry.ErrRateLimited))
		gt.Equal(t, gem.calls, retry.DefaultMaxAttempts)
	})
}

func TestEmbed(t *testing.T) {
	ctx := context.Background()

	t.Run("caches query embeddings", func(t *testing.T) {
		emb := &mockEmbedder{fn: func(texts []string) ([]adapter.Embedding, error) {
			return []adapter.Embedding{{Index: 0, Vector: []float32{0.1, 0.2}}}, nil
		}}
		gw := newGateway(t, nil, emb)
		gt.A(t, gw.EmbedQuery(ctx, "bomba")).Length(2)
		gt.A(t, gw.EmbedQuery(ctx, "bomba")).Length(2)
		gt.Equal(t, emb.calls, 1)
		gt.Equal(t, gw.CachedQueries(), 1)
	})

	t.Run("document embeddings bypass the cache", func(t *testing.T) {
		emb := &mockEmbedder{fn: func(texts []string) ([]adapter.Embedding, error) {
			return []adapter.Embedding{{Index: 0, Vector: []float32{0.1, 0.2}}}, nil
		}}
		gw := newGateway(t, nil, emb)
		for i := 0; i < 3; i++ {
			gt.A(t, gw.Embed(ctx, "Documento 'Bombas.pdf': caudal")).Length(2)
		}
		gt.Equal(t, emb.calls, 3)
		gt.Equal(t, gw.CachedQueries(), 0)
	})

	t.Run("failed query is not cached", func(t *testing.T) {
		emb := &mockEmbedder{fn: func(texts []string) ([]adapter.Embedding, error) {
			return nil, goerr.New("down")
		}}
		gw := newGateway(t, nil, emb)
		gt.A(t, gw.EmbedQuery(ctx, "bomba")).Length(0)
		gt.Equal(t, gw.CachedQueries(), 0)
	})

	t.Run("failure yields empty vector", func(t *testing.T) {
		emb := &mockEmbedder{fn: func(texts []string) ([]adapter.Embedding, error) {
			return nil, goerr.New("down")
		}}
		gw := newGateway(t, nil, emb)
		gt.A(t, gw.Embed(ctx, "bomba")).Length(0)
	})

	t.Run("missing embedder yields empty vector", func(t *testing.T) {
		gw := newGateway(t, nil, nil)
		gt.A(t, gw.Embed(ctx, "bomba")).Length(0)
	})
}

func TestEmbedBatchKeepsInputOrder(t *testing.T) {
	emb := &mockEmbedder{fn: func(texts []string) ([]adapter.Embedding, error) {
		// provider answers out of order
		out := make([]adapter.Embedding, 0, len(texts))
		for i := len(texts) - 1; i >= 0; i-- {
			out = append(out, adapter.Embedding{Index: i, Vector: []float32{float32(i)}})
		}
		return out, nil
	}}
	gw := newGateway(t, nil, emb)

	vecs := gw.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	gt.A(t, vecs).Length(3)
	for i, v := range vecs {
		gt.Equal(t, v[0], float32(i))
	}
}

func TestEmbedBatchFailure(t *testing.T) {
	emb := &mockEmbedder{fn: func(texts []string) ([]adapter.Embedding, error) {
		return nil, goerr.New("down")
	}}
	gw := newGateway(t, nil, emb)

	vecs := gw.EmbedBatch(context.Background(), []string{"a", "b"})
	gt.A(t, vecs).Length(2)
	gt.A(t, vecs[0]).Length(0)
	gt.A(t, vecs[1]).Length(0)
}

func TestGenerateChat(t *testing.T) {
	ctx := context.Background()

	t.Run("not configured", func(t *testing.T) {
		gw := newGateway(t, nil, nil)
		resp, err := gw.GenerateChat(ctx, "sys", "user", 100)
		gt.NoError(t, err)
		gt.Equal(t, resp, llm.NotConfiguredMessage)
	})

	t.Run("answer", func(t *testing.T) {
		gem := &mockGemini{fn: func(int) (*genai.GenerateContentResponse, error) {
			return textResponse("respuesta"), nil
		}}
		gw := newGateway(t, gem, nil)
		resp, err := gw.GenerateChat(ctx, "sys", "user", 4096)
		gt.NoError(t, err)
		gt.Equal(t, resp, "respuesta")
		gt.Equal(t, gem.configs[0].MaxOutputTokens, int32(4096))
		gt.Equal(t, gem.configs[0].SystemInstruction.Parts[0].Text, "sys")
	})

	t.Run("empty answer", func(t *testing.T) {
		gem := &mockGemini{fn: func(int) (*genai.GenerateContentResponse, error) {
			return &genai.GenerateContentResponse{}, nil
		}}
		gw := newGateway(t, gem, nil)
		resp, err := gw.GenerateChat(ctx, "sys", "user", 100)
		gt.NoError(t, err)
		gt.Equal(t, resp, llm.EmptyResponseMessage)
	})

	t.Run("other failure becomes fixed message", func(t *testing.T) {
		gem := &mockGemini{fn: func(int) (*genai.GenerateContentResponse, error) {
			return nil, goerr.New("500")
		}}
		gw := newGateway(t, gem, nil)
		resp, err := gw.GenerateChat(ctx, "sys", "user", 100)
		gt.NoError(t, err)
		gt.Equal(t, resp, llm.ServiceUnavailableMessage)
		gt.Equal(t, gem.calls, 1)
	})

	t.Run("throttled call recovers", func(t *testing.T) {
		gem := &mockGemini{fn: func(call int) (*genai.GenerateContentResponse, error) {
			if call < 3 {
				return nil, genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"}
			}
			return textResponse("ok"), nil
		}}
		gw := newGateway(t, gem, nil)
		resp, err := gw.GenerateChat(ctx, "sys", "user", 100)
		gt.NoError(t, err)
		gt.Equal(t, resp, "ok")
		gt.Equal(t, gem.calls, 3)
	})

	t.Run("rate limit propagates", func(t *testing.T) {
		gem := &mockGemini{fn: func(int) (*genai.GenerateContentResponse, error) {
			return nil, goerr.Wrap(retry.ErrRateLimited, "429")
		}}
		gw := newGateway(t, gem, nil)
		_, err := gw.GenerateChat(ctx, "sys", "user", 100)
		gt.True(t, errors.Is(err, retry.ErrRateLimited))
	})
}

func TestResponseTextSkipsThoughts(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "thinking...", Thought: true},
				{Text: "visible"},
			}},
		}},
	}
	gt.Equal(t, llm.ResponseText(resp), "visible")
	gt.Equal(t, llm.ResponseText(nil), "")
}

func TestClose(t *testing.T) {
	emb := &mockEmbedder{fn: func([]string) ([]adapter.Embedding, error) { return nil, nil }}
	gw := newGateway(t, nil, emb)
	gt.NoError(t, gw.Close())
	gt.NoError(t, gw.Close())
	gt.True(t, emb.closed)
}
