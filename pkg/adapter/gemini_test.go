package adapter_test

import (
	"context"
	"os"
	"testing"

	"github.com/m-mizutani/docent/pkg/adapter"
	"github.com/m-mizutani/gt"
	"google.golang.org/genai"
)

func setupGemini(t *testing.T) *adapter.GeminiClient {
	projectID := os.Getenv("TEST_GEMINI_PROJECT")
	if projectID == "" {
		t.Skip("TEST_GEMINI_PROJECT is not set")
	}

	client, err := adapter.NewGemini(context.Background(), projectID, "us-central1")
	gt.NoError(t, err)
	return client
}

func TestGenerateContent(t *testing.T) {
	client := setupGemini(t)
	ctx := context.Background()

	contents := []*genai.Content{
		genai.NewContentFromText("Hola, ¿cuál es la capital de Francia?", genai.RoleUser),
	}

	resp, err := client.GenerateContent(ctx, contents, nil)
	gt.NoError(t, err)

	if resp == nil ||
		len(resp.Candidates) == 0 ||
		resp.Candidates[0].Content == nil ||
		len(resp.Candidates[0].Content.Parts) == 0 ||
		resp.Candidates[0].Content.Parts[0].Text == "" {
		t.Fatal("unexpected response")
	}

	t.Log("response:", resp.Candidates[0].Content.Parts[0].Text)
}

func TestGeminiEmbed(t *testing.T) {
	client := setupGemini(t)

	embeddings, err := client.Embed(context.Background(), []string{"garantía del producto", "misión de la empresa"})
	gt.NoError(t, err)
	gt.A(t, embeddings).Length(2)
	for i, e := range embeddings {
		gt.Equal(t, e.Index, i)
		gt.A(t, e.Vector).Length(adapter.EmbeddingDimension)
	}
}
