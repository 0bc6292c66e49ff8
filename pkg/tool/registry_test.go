package tool_test

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/docent/pkg/model"
	"github.com/m-mizutani/docent/pkg/tool"
	"github.com/m-mizutani/docent/pkg/tool/pdf"
	"github.com/m-mizutani/docent/pkg/tool/web"
	"github.com/m-mizutani/gt"
	"google.golang.org/genai"
)

type stubSearcher struct{}

func (stubSearcher) HybridSearch(ctx context.Context, query string, topK int) ([]*model.Document, error) {
	return nil, nil
}

func TestRegistryInit(t *testing.T) {
	ctx := context.Background()

	t.Run("only tools with a searcher are enabled", func(t *testing.T) {
		r := tool.New(pdf.New(), web.New())
		gt.NoError(t, r.Init(ctx, &tool.Client{PDF: stubSearcher{}}))
		gt.A(t, r.Specs()).Length(1)
		gt.A(t, r.Names()).Length(1)
		gt.Equal(t, r.Names()[0], pdf.FunctionName)
		gt.S(t, r.Prompts(ctx)).Contains(pdf.FunctionName)
	})

	t.Run("both tools keep registration order", func(t *testing.T) {
		r := tool.New(pdf.New(), web.New())
		gt.NoError(t, r.Init(ctx, &tool.Client{PDF: stubSearcher{}, Web: stubSearcher{}}))
		gt.Equal(t, r.Names()[0], pdf.FunctionName)
		gt.Equal(t, r.Names()[1], web.FunctionName)
	})

	t.Run("flags are collected from every tool", func(t *testing.T) {
		r := tool.New(pdf.New(), web.New())
		gt.A(t, r.Flags()).Length(2)
	})
}

func TestRegistryExecute(t *testing.T) {
	ctx := context.Background()
	r := tool.New(pdf.New())
	gt.NoError(t, r.Init(ctx, &tool.Client{PDF: stubSearcher{}}))

	resp, err := r.Execute(ctx, genai.FunctionCall{Name: pdf.FunctionName, Args: map[string]any{"query": "bomba"}})
	gt.NoError(t, err)
	gt.Equal(t, resp.Name, pdf.FunctionName)
	gt.S(t, resp.Response["result"].(string)).Contains("No se encontraron")

	_, err = r.Execute(ctx, genai.FunctionCall{Name: "unknown"})
	gt.True(t, errors.Is(err, tool.ErrToolNotFound))
}

func TestConvertSchema(t *testing.T) {
	s, err := tool.ConvertSchema(tool.QuerySchema("q"))
	gt.NoError(t, err)
	gt.Equal(t, s.Type, genai.TypeObject)
	gt.Equal(t, s.Properties["query"].Type, genai.TypeString)
	gt.Equal(t, s.Properties["query"].Description, "q")
	gt.A(t, s.Required).Length(1)
}
