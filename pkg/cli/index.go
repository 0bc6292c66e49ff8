package cli

import (
	"context"

	"github.com/m-mizutani/docent/pkg/adapter"
	"github.com/m-mizutani/docent/pkg/usecase/detect"
	"github.com/m-mizutani/docent/pkg/usecase/enrich"
	"github.com/m-mizutani/docent/pkg/usecase/indexer"
	"github.com/m-mizutani/docent/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func indexCommand(logCfg *logConfig) *cli.Command {
	return &cli.Command{
		Name:  "index",
		Usage: "Build the search indexes",
		Commands: []*cli.Command{
			indexPDFCommand(logCfg),
			indexWebCommand(logCfg),
		},
	}
}

func indexPDFCommand(logCfg *logConfig) *cli.Command {
	var (
		cfg          config
		prefix       string
		imagesPrefix string
		maxImages    int64
		concurrency  int64
		batchSize    int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "prefix",
			Usage:       "Only index blobs under this prefix",
			Sources:     cli.EnvVars("DOCENT_PDF_PREFIX"),
			Destination: &prefix,
		},
		&cli.StringFlag{
			Name:        "images-prefix",
			Usage:       "Blob prefix for extracted page images",
			Value:       enrich.DefaultImagesPrefix,
			Sources:     cli.EnvVars("DOCENT_IMAGES_PREFIX"),
			Destination: &imagesPrefix,
		},
		&cli.IntFlag{
			Name:        "max-images",
			Usage:       "Maximum rendered pages per document",
			Value:       enrich.DefaultMaxImages,
			Destination: &maxImages,
		},
		&cli.IntFlag{
			Name:        "concurrency",
			Usage:       "Documents enriched in parallel",
			Value:       indexer.DefaultConcurrency,
			Sources:     cli.EnvVars("DOCENT_INDEX_CONCURRENCY"),
			Destination: &concurrency,
		},
		&cli.IntFlag{
			Name:        "batch-size",
			Usage:       "Records per upload request",
			Value:       indexer.DefaultBatchSize,
			Destination: &batchSize,
		},
	}
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:  "pdf",
		Usage: "Index new and changed PDF documents from the bucket",
		Flags: flags,
		Action: action(logCfg, func(ctx context.Context, c *cli.Command) error {
			container := cfg.newContainer()
			defer shutdown(ctx, container)

			index, err := container.PDFSearch(ctx)
			if err != nil {
				return err
			}
			blob, err := container.Blob(ctx)
			if err != nil {
				return err
			}
			gateway, err := container.LLM(ctx)
			if err != nil {
				return err
			}
			engine, err := container.Policy(ctx)
			if err != nil {
				return err
			}

			blobs := detect.New(index, blob, detect.WithPolicy(engine)).BlobsToProcess(ctx, prefix)
			if len(blobs) == 0 {
				logging.From(ctx).Info("index is up to date")
				return writeJSON(c.Root().Writer, &indexer.Report{})
			}

			enricher, err := enrich.NewPDF(gateway, blob, adapter.NewPDF(),
				enrich.WithImagesPrefix(imagesPrefix),
				enrich.WithMaxImages(int(maxImages)),
			)
			if err != nil {
				return goerr.Wrap(err, "failed to create enrichment pipeline")
			}

			uc := indexer.New(index, enricher,
				indexer.WithConcurrency(int(concurrency)),
				indexer.WithBatchSize(int(batchSize)),
			)
			report, err := uc.IndexBlobs(ctx, blobs)
			if err != nil {
				return goerr.Wrap(err, "indexing failed")
			}
			return writeJSON(c.Root().Writer, report)
		}),
	}
}

func indexWebCommand(logCfg *logConfig) *cli.Command {
	var (
		cfg       config
		pagesFile string
		batchSize int64
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "pages",
			Usage:       "YAML file with the pages to index",
			Sources:     cli.EnvVars("DOCENT_WEB_PAGES"),
			Destination: &pagesFile,
			Required:    true,
		},
		&cli.IntFlag{
			Name:        "batch-size",
			Usage:       "Records per upload request",
			Value:       indexer.DefaultBatchSize,
			Destination: &batchSize,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, llmFlags(&cfg)...)
	flags = append(flags, searchFlags(&cfg)...)

	return &cli.Command{
		Name:  "web",
		Usage: "Index web pages listed in a YAML file",
		Flags: flags,
		Action: action(logCfg, func(ctx context.Context, c *cli.Command) error {
			pages, err := indexer.LoadPages(pagesFile)
			if err != nil {
				return goerr.Wrap(err, "failed to load pages", goerr.V("path", pagesFile))
			}

			container := cfg.newContainer()
			defer shutdown(ctx, container)

			index, err := container.WebSearch(ctx)
			if err != nil {
				return err
			}
			gateway, err := container.LLM(ctx)
			if err != nil {
				return err
			}

			uc := indexer.New(index, nil,
				indexer.WithEmbedder(gateway),
				indexer.WithBatchSize(int(batchSize)),
			)
			report, err := uc.IndexPages(ctx, pages)
			if err != nil {
				return goerr.Wrap(err, "indexing failed")
			}
			return writeJSON(c.Root().Writer, report)
		}),
	}
}
