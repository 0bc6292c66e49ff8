package mcp_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/m-mizutani/docent/pkg/service/mcp"
	"github.com/m-mizutani/docent/pkg/tool"
	"github.com/m-mizutani/gt"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"google.golang.org/genai"
)

type stubRetriever struct {
	name    string
	queries []string
}

func (s *stubRetriever) Spec() *genai.Tool {
	return &genai.Tool{FunctionDeclarations: []*genai.FunctionDeclaration{{
		Name:        s.name,
		Description: "busca en " + s.name,
	}}}
}

func (s *stubRetriever) Retrieve(ctx context.Context, query string) string {
	s.queries = append(s.queries, query)
	return "[Fuente 1: manual.pdf] " + query
}

func TestServerInMemory(t *testing.T) {
	ctx := context.Background()
	pdf := &stubRetriever{name: "search_documents"}
	web := &stubRetriever{name: "search_website"}

	server, err := mcp.NewServer(pdf, web)
	gt.NoError(t, err)

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	gt.NoError(t, err)
	defer serverSession.Close()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	gt.NoError(t, err)
	defer session.Close()

	tools, err := session.ListTools(ctx, nil)
	gt.NoError(t, err)
	gt.A(t, tools.Tools).Length(2)

	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      "search_website",
		Arguments: map[string]any{"query": "misión"},
	})
	gt.NoError(t, err)
	gt.False(t, result.IsError)
	text, ok := result.Content[0].(*mcpsdk.TextContent)
	gt.True(t, ok)
	gt.Equal(t, text.Text, "[Fuente 1: manual.pdf] misión")
	gt.A(t, web.queries).Length(1)
	gt.A(t, pdf.queries).Length(0)
}

func TestServerRejectsEmptySpec(t *testing.T) {
	_, err := mcp.NewServer(&emptyRetriever{})
	gt.Error(t, err)
}

type emptyRetriever struct{}

func (emptyRetriever) Spec() *genai.Tool                                  { return nil }
func (emptyRetriever) Retrieve(ctx context.Context, query string) string { return "" }

func TestProviderRoundTrip(t *testing.T) {
	ctx := context.Background()
	pdf := &stubRetriever{name: "search_documents"}
	server, err := mcp.NewServer(pdf)
	gt.NoError(t, err)

	handler := mcpsdk.NewStreamableHTTPHandler(func(r *http.Request) *mcpsdk.Server {
		return server
	}, nil)
	testServer := httptest.NewServer(handler)
	defer testServer.Close()

	client := mcp.NewClient()
	gt.NoError(t, client.Connect(ctx, mcp.ServerConfig{
		Name:      "docent",
		Transport: "http",
		URL:       testServer.URL,
	}))
	defer client.Close()

	provider := mcp.NewProvider(client)
	enabled, err := provider.Init(ctx, &tool.Client{})
	gt.NoError(t, err)
	gt.True(t, enabled)

	spec := provider.Spec()
	gt.A(t, spec.FunctionDeclarations).Length(1)
	gt.Equal(t, spec.FunctionDeclarations[0].Name, "search_documents")
	gt.V(t, spec.FunctionDeclarations[0].Parameters).NotNil()
	gt.S(t, provider.Prompt(ctx)).Contains("MCP")

	resp, err := provider.Execute(ctx, genai.FunctionCall{
		ID:   "call-1",
		Name: "search_documents",
		Args: map[string]any{"query": "presión"},
	})
	gt.NoError(t, err)
	gt.Equal(t, resp.Response["result"], any("[Fuente 1: manual.pdf] presión"))

	_, err = provider.Execute(ctx, genai.FunctionCall{Name: "unknown"})
	gt.Error(t, err)
}
