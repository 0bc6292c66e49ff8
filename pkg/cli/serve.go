package cli

import (
	"context"

	"github.com/m-mizutani/docent/pkg/service/mcp"
	"github.com/m-mizutani/docent/pkg/tool/pdf"
	"github.com/m-mizutani/docent/pkg/tool/web"
	"github.com/m-mizutani/docent/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func serveMCPCommand(logCfg *logConfig) *cli.Command {
	var (
		cfg  config
		topK int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "top-k",
			Usage:       "Number of results returned by each search tool",
			Value:       8,
			Sources:     cli.EnvVars("DOCENT_MCP_TOP_K"),
			Destination: &topK,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, searchFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve-mcp",
		Usage: "Serve the PDF and web search tools over MCP stdio",
		Flags: flags,
		Action: action(logCfg, func(ctx context.Context, c *cli.Command) error {
			container := cfg.newContainer()
			defer shutdown(ctx, container)
			logger := logging.From(ctx)

			var retrievers []mcp.Retriever
			if s, err := container.PDFSearch(ctx); err != nil {
				logger.Warn("PDF search unavailable", logging.ErrAttr(err))
			} else {
				retrievers = append(retrievers, pdf.NewWithSearcher(s, int(topK)))
			}
			if s, err := container.WebSearch(ctx); err != nil {
				logger.Warn("web search unavailable", logging.ErrAttr(err))
			} else {
				retrievers = append(retrievers, web.NewWithSearcher(s, int(topK)))
			}
			if len(retrievers) == 0 {
				return goerr.New("no search index available")
			}

			server, err := mcp.NewServer(retrievers...)
			if err != nil {
				return err
			}
			logger.Info("serving MCP over stdio", "tools", len(retrievers))
			return mcp.Serve(ctx, server)
		}),
	}
}
