// Package detect finds source documents that are new or changed since they
// were last indexed.
package detect

import (
	"context"
	"strings"

	"github.com/m-mizutani/docent/pkg/model"
	"github.com/m-mizutani/docent/pkg/policy"
	"github.com/m-mizutani/docent/pkg/utils/logging"
)

// Index lists what is already indexed. search.Gateway satisfies it.
type Index interface {
	DocumentsMetadata(ctx context.Context, fields ...string) ([]map[string]any, error)
}

// Blobs is the source document store. adapter.Storage satisfies it.
type Blobs interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Download(ctx context.Context, name string) ([]byte, error)
}

// IngestPolicy filters documents before enrichment. policy.Engine satisfies it.
type IngestPolicy interface {
	AllowIngest(ctx context.Context, input *policy.IngestInput) (bool, error)
}

type UseCase struct {
	index  Index
	blobs  Blobs
	policy IngestPolicy
}

type Option func(*UseCase)

func WithPolicy(p IngestPolicy) Option {
	return func(uc *UseCase) {
		uc.policy = p
	}
}

func New(index Index, blobs Blobs, opts ...Option) *UseCase {
	uc := &UseCase{index: index, blobs: blobs}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// indexedHashes maps each indexed document id to its content hash. The id
// derives from the full object name, so equal file names in different
// folders stay apart. A document whose chunks disagree on the hash maps to
// "" and is processed again.
func (uc *UseCase) indexedHashes(ctx context.Context) map[string]string {
	hashes := map[string]string{}
	rows, err := uc.index.DocumentsMetadata(ctx, "parent_document_id", "source_file_hash")
	if err != nil {
		logging.From(ctx).Warn("failed to read index metadata, treating every document as new", logging.ErrAttr(err))
		return hashes
	}
	for _, row := range rows {
		parent, _ := row["parent_document_id"].(string)
		if parent == "" {
			continue
		}
		hash, _ := row["source_file_hash"].(string)
		if prev, ok := hashes[parent]; ok && prev != hash {
			hash = ""
		}
		hashes[parent] = hash
	}
	return hashes
}

// BlobsToProcess downloads every PDF under prefix whose content differs
// from the indexed version. Per document failures are logged and skipped.
func (uc *UseCase) BlobsToProcess(ctx context.Context, prefix string) []*model.BlobToProcess {
	logger := logging.From(ctx).With("prefix", prefix)

	hashes := uc.indexedHashes(ctx)
	logger.Info("indexed documents loaded", "count", len(hashes))

	names, err := uc.blobs.List(ctx, prefix)
	if err != nil {
		logger.Error("failed to list source documents", logging.ErrAttr(err))
		return []*model.BlobToProcess{}
	}

	queued := []*model.BlobToProcess{}
	for _, name := range names {
		if ctx.Err() != nil {
			logger.Warn("change detection interrupted", logging.ErrAttr(ctx.Err()))
			break
		}
		if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
			continue
		}

		data, err := uc.blobs.Download(ctx, name)
		if err != nil {
			logger.Error("failed to download source document", "name", name, logging.ErrAttr(err))
			continue
		}
		blob := &model.BlobToProcess{
			Name:    name,
			Content: data,
			Hash:    model.ContentHash(data),
		}

		stored, indexed := hashes[model.DocumentID(name)]
		if indexed && stored == blob.Hash {
			logger.Debug("unchanged", "name", name)
			continue
		}

		if uc.policy != nil {
			allow, err := uc.policy.AllowIngest(ctx, policy.NewIngestInput(blob))
			if err != nil {
				logger.Error("ingest policy failed", "name", name, logging.ErrAttr(err))
				continue
			}
			if !allow {
				logger.Info("rejected by ingest policy", "name", name)
				continue
			}
		}

		if indexed {
			logger.Info("changed document detected", "name", name)
		} else {
			logger.Info("new document detected", "name", name)
		}
		queued = append(queued, blob)
	}

	logger.Info("change detection completed", "queued", len(queued))
	return queued
}
