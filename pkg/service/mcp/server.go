package mcp

import (
	"context"

	"github.com/m-mizutani/docent/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"google.golang.org/genai"
)

// Version is reported to MCP peers
const Version = "0.1.0"

// Retriever is a retrieval tool that can be served over MCP. The pdf and
// web tools satisfy it.
type Retriever interface {
	Spec() *genai.Tool
	Retrieve(ctx context.Context, query string) string
}

type queryParams struct {
	Query string `json:"query" jsonschema:"consulta de búsqueda en español"`
}

// NewServer publishes each retriever as an MCP tool under its function name
func NewServer(retrievers ...Retriever) (*mcp.Server, error) {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "docent",
		Version: Version,
	}, nil)

	for _, r := range retrievers {
		spec := r.Spec()
		if spec == nil || len(spec.FunctionDeclarations) == 0 {
			return nil, goerr.New("retriever has no function declaration")
		}
		decl := spec.FunctionDeclarations[0]

		mcp.AddTool(server, &mcp.Tool{
			Name:        decl.Name,
			Description: decl.Description,
		}, retrieveHandler(decl.Name, r))
	}
	return server, nil
}

func retrieveHandler(name string, r Retriever) func(context.Context, *mcp.CallToolRequest, *queryParams) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, params *queryParams) (*mcp.CallToolResult, any, error) {
		logging.From(ctx).Debug("MCP tool called", "tool", name, "query", params.Query)
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: r.Retrieve(ctx, params.Query)},
			},
		}, nil, nil
	}
}

// Serve runs server over stdin and stdout until ctx is done or the peer
// disconnects
func Serve(ctx context.Context, server *mcp.Server) error {
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return goerr.Wrap(err, "MCP server stopped")
	}
	return nil
}
