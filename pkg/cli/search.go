package cli

import (
	"context"
	"strings"

	"github.com/m-mizutani/docent/pkg/model"
	"github.com/m-mizutani/docent/pkg/service/search"
	"github.com/m-mizutani/docent/pkg/tool/pdf"
	"github.com/m-mizutani/docent/pkg/tool/web"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func searchCommand(logCfg *logConfig) *cli.Command {
	var (
		cfg    config
		index  string
		limit  int64
		asJSON bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "index",
			Aliases:     []string{"i"},
			Usage:       "Index to search (pdf, web)",
			Value:       "pdf",
			Destination: &index,
		},
		&cli.IntFlag{
			Name:        "limit",
			Aliases:     []string{"l"},
			Usage:       "Maximum number of results",
			Value:       search.DefaultTopK,
			Destination: &limit,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print raw documents as JSON",
			Destination: &asJSON,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, searchFlags(&cfg)...)

	return &cli.Command{
		Name:      "search",
		Usage:     "Run a hybrid search against an index",
		ArgsUsage: "<query>",
		Flags:     flags,
		Action: action(logCfg, func(ctx context.Context, c *cli.Command) error {
			query := strings.Join(c.Args().Slice(), " ")
			if strings.TrimSpace(query) == "" {
				return goerr.Wrap(errInvalidArgument, "query is required")
			}

			container := cfg.newContainer()
			defer shutdown(ctx, container)

			var (
				gateway *search.Gateway
				format  func(docs []*model.Document) string
				err     error
			)
			switch index {
			case "pdf":
				gateway, err = container.PDFSearch(ctx)
				format = pdf.Format
			case "web":
				gateway, err = container.WebSearch(ctx)
				format = web.Format
			default:
				return goerr.Wrap(errInvalidArgument, "unknown index", goerr.V("index", index))
			}
			if err != nil {
				return err
			}

			docs, err := gateway.HybridSearch(ctx, query, int(limit))
			if err != nil {
				return goerr.Wrap(err, "search failed")
			}
			if asJSON {
				return writeJSON(c.Root().Writer, docs)
			}
			_, err = c.Root().Writer.Write([]byte(format(docs) + "\n"))
			return err
		}),
	}
}
