package indexer

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/m-mizutani/docent/pkg/model"
	"github.com/m-mizutani/docent/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

var ErrInvalidPage = goerr.New("invalid web page")

type pagesFile struct {
	Pages []*model.WebPage `yaml:"pages"`
}

// LoadPages reads web pages from a YAML file of the form `pages: [...]`.
// Every page is validated.
func LoadPages(path string) ([]*model.WebPage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read pages file", goerr.V("path", path))
	}

	var file pagesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, goerr.Wrap(err, "failed to parse pages file", goerr.V("path", path))
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	for i, page := range file.Pages {
		if err := validate.Struct(page); err != nil {
			return nil, goerr.Wrap(ErrInvalidPage, err.Error(),
				goerr.V("path", path), goerr.V("index", i))
		}
	}
	return file.Pages, nil
}

// IndexPages embeds page contents and uploads them keyed by URL, so
// re-indexing a page replaces it. Pages whose embedding failed are skipped.
func (uc *UseCase) IndexPages(ctx context.Context, pages []*model.WebPage) (*Report, error) {
	if uc.embedder == nil {
		return nil, goerr.New("web page embedding is not configured")
	}
	logger := logging.From(ctx)
	started := time.Now()
	report := &Report{Documents: len(pages)}

	if err := uc.index.EnsureIndex(ctx); err != nil {
		return nil, err
	}

	var docs []*model.Document
	for start := 0; start < len(pages); start += uc.batchSize {
		end := min(start+uc.batchSize, len(pages))
		batch := pages[start:end]

		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = p.Content
		}
		vectors := uc.embedder.EmbedBatch(ctx, texts)

		for i, p := range batch {
			if i >= len(vectors) || len(vectors[i]) == 0 {
				logger.Warn("page embedding failed, skipping", "url", p.URL)
				continue
			}
			docs = append(docs, &model.Document{
				ID:            model.DeterministicID(p.URL),
				Title:         p.Title,
				Content:       p.Content,
				Source:        p.Source,
				SourceURL:     p.URL,
				ContentVector: vectors[i],
			})
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "web indexing interrupted")
	}

	uc.upload(ctx, docs, report)
	report.Elapsed = time.Since(started)
	logger.Info("web indexing completed",
		"pages", report.Documents,
		"indexed", report.Chunks,
		"failed_batches", report.FailedBatches)
	return report, nil
}
