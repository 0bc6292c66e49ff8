// Package indexer enriches queued documents and loads them into a search
// index in batches.
package indexer

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/docent/pkg/model"
	"github.com/m-mizutani/docent/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultConcurrency = 50
	DefaultBatchSize   = 100
)

// Index is the target search index. search.Gateway satisfies it.
type Index interface {
	EnsureIndex(ctx context.Context) error
	DeleteByParent(ctx context.Context, parentIDs []string) error
	Upload(ctx context.Context, docs []*model.Document) error
}

// Enricher turns one blob into index records. enrich.UseCase satisfies it.
type Enricher interface {
	Process(ctx context.Context, blob *model.BlobToProcess) ([]*model.EnrichedChunk, error)
}

// Embedder embeds many texts at once. llm.Gateway satisfies it.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) [][]float32
}

// Report summarizes one indexing run
type Report struct {
	Documents     int           `json:"documents"`
	Chunks        int           `json:"chunks"`
	Batches       int           `json:"batches"`
	FailedBatches int           `json:"failed_batches"`
	Elapsed       time.Duration `json:"elapsed"`
}

type UseCase struct {
	index       Index
	enricher    Enricher
	embedder    Embedder
	concurrency int
	batchSize   int
}

type Option func(*UseCase)

func WithConcurrency(n int) Option {
	return func(uc *UseCase) {
		if n > 0 {
			uc.concurrency = n
		}
	}
}

func WithBatchSize(n int) Option {
	return func(uc *UseCase) {
		if n > 0 {
			uc.batchSize = n
		}
	}
}

// WithEmbedder enables web page indexing
func WithEmbedder(e Embedder) Option {
	return func(uc *UseCase) {
		uc.embedder = e
	}
}

func New(index Index, enricher Enricher, opts ...Option) *UseCase {
	uc := &UseCase{
		index:       index,
		enricher:    enricher,
		concurrency: DefaultConcurrency,
		batchSize:   DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// IndexBlobs enriches every blob and uploads the resulting records. A blob
// that fails to enrich contributes no records; a failed batch is counted
// and skipped.
func (uc *UseCase) IndexBlobs(ctx context.Context, blobs []*model.BlobToProcess) (*Report, error) {
	logger := logging.From(ctx)
	started := time.Now()
	report := &Report{Documents: len(blobs)}

	if err := uc.index.EnsureIndex(ctx); err != nil {
		return nil, err
	}
	if uc.enricher == nil {
		return nil, goerr.New("document enrichment is not configured")
	}
	logger.Info("indexing documents", "count", len(blobs), "concurrency", uc.concurrency)

	results := make([][]*model.EnrichedChunk, len(blobs))
	var (
		mu      sync.Mutex
		parents []string
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(uc.concurrency)
	for i, blob := range blobs {
		eg.Go(func() error {
			if egCtx.Err() != nil {
				return nil
			}
			chunks, err := uc.enricher.Process(egCtx, blob)
			if err != nil {
				logger.Error("document enrichment failed", "name", blob.Name, logging.ErrAttr(err))
				return nil
			}
			results[i] = chunks
			if len(chunks) > 0 {
				mu.Lock()
				parents = append(parents, chunks[0].ParentDocumentID)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "indexing interrupted")
	}

	var docs []*model.Document
	for _, chunks := range results {
		for _, c := range chunks {
			docs = append(docs, c.Document())
		}
	}
	if len(docs) == 0 {
		logger.Warn("no chunks produced, nothing to upload")
		report.Elapsed = time.Since(started)
		return report, nil
	}

	// records of an older version may outnumber the new ones
	if err := uc.index.DeleteByParent(ctx, parents); err != nil {
		logger.Warn("failed to delete stale chunks", logging.ErrAttr(err))
	}

	uc.upload(ctx, docs, report)
	report.Elapsed = time.Since(started)
	logger.Info("indexing completed",
		"documents", report.Documents,
		"chunks", report.Chunks,
		"failed_batches", report.FailedBatches,
		"elapsed", report.Elapsed)
	return report, nil
}

// upload sends docs in sequential batches. When a batch fails, the chunks
// of its documents that did land are stored again with a blank source hash
// so the next change detection re-indexes those documents in full.
func (uc *UseCase) upload(ctx context.Context, docs []*model.Document, report *Report) {
	logger := logging.From(ctx)
	failed := map[string]bool{}
	var stored []*model.Document

	for start := 0; start < len(docs); start += uc.batchSize {
		end := min(start+uc.batchSize, len(docs))
		batch := docs[start:end]
		report.Batches++
		if err := uc.index.Upload(ctx, batch); err != nil {
			report.FailedBatches++
			for _, doc := range batch {
				failed[doc.ParentDocumentID] = true
			}
			logger.Error("batch upload failed, continuing",
				"batch", report.Batches, "size", len(batch), logging.ErrAttr(err))
			continue
		}
		report.Chunks += len(batch)
		stored = append(stored, batch...)
	}

	if len(failed) > 0 {
		uc.markDirty(ctx, stored, failed)
	}
}

func (uc *UseCase) markDirty(ctx context.Context, stored []*model.Document, failed map[string]bool) {
	var dirty []*model.Document
	for _, doc := range stored {
		if !failed[doc.ParentDocumentID] {
			continue
		}
		d := *doc
		d.SourceFileHash = ""
		dirty = append(dirty, &d)
	}
	if len(dirty) == 0 {
		return
	}

	logger := logging.From(ctx)
	for start := 0; start < len(dirty); start += uc.batchSize {
		end := min(start+uc.batchSize, len(dirty))
		if err := uc.index.Upload(ctx, dirty[start:end]); err != nil {
			logger.Error("failed to mark partially indexed documents for retry",
				"documents", len(failed), logging.ErrAttr(err))
			return
		}
	}
	logger.Warn("partially indexed documents will be re-indexed on the next run",
		"documents", len(failed), "chunks", len(dirty))
}
