package main

import (
	"context"
	"log"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type glossaryParams struct {
	Term string `json:"term" jsonschema:"Término a definir"`
}

var glossary = map[string]string{
	"caudal":  "Volumen de fluido que pasa por una sección en una unidad de tiempo.",
	"presión": "Fuerza ejercida por unidad de superficie.",
}

func define(ctx context.Context, req *mcp.CallToolRequest, params *glossaryParams) (*mcp.CallToolResult, any, error) {
	definition, ok := glossary[strings.ToLower(params.Term)]
	if !ok {
		definition = "Término no encontrado: " + params.Term
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: definition},
		},
	}, nil, nil
}

func main() {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "test-glossary-server",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "glosario",
		Description: "Define un término técnico",
	}, define)

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
