// Package search is the hybrid lexical and vector retrieval over one index.
package search

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/m-mizutani/docent/pkg/model"
	"github.com/m-mizutani/docent/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"
)

// Embedder turns a query into a vector. An empty vector means the
// embedding could not be obtained.
type Embedder interface {
	EmbedQuery(ctx context.Context, query string) []float32
	Close() error
}

// DefaultTopK is used when a caller asks for zero results
const DefaultTopK = 5

type Gateway struct {
	backend  Backend
	index    string
	schema   Schema
	embedder Embedder

	closeOnce sync.Once
}

func New(backend Backend, index string, embedder Embedder) *Gateway {
	return &Gateway{
		backend:  backend,
		index:    index,
		schema:   SchemaFor(index),
		embedder: embedder,
	}
}

func (x *Gateway) Index() string  { return x.index }
func (x *Gateway) Schema() Schema { return x.schema }

// EnsureIndex creates the index with the schema of its name. Calling it on
// an existing index is a no-op.
func (x *Gateway) EnsureIndex(ctx context.Context) error {
	if err := x.backend.EnsureIndex(ctx, x.index, x.schema); err != nil {
		return goerr.Wrap(err, "failed to ensure index", goerr.V("index", x.index))
	}
	return nil
}

// HybridSearch runs the lexical leg and, when the query could be embedded,
// the vector leg. Both rankings are fused and projected to the schema.
func (x *Gateway) HybridSearch(ctx context.Context, query string, topK int) ([]*model.Document, error) {
	if strings.TrimSpace(query) == "" {
		return []*model.Document{}, nil
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	var vec []float32
	if x.embedder != nil {
		vec = x.embedder.EmbedQuery(ctx, query)
	}
	q := &Query{
		Index:  x.index,
		Schema: x.schema,
		Text:   query,
		Vector: vec,
		TopK:   topK,
	}

	var lexical, nearest []*model.Document
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		docs, err := x.backend.Lexical(ctx, q)
		if err != nil {
			return goerr.Wrap(err, "lexical search failed")
		}
		lexical = docs
		return nil
	})
	if len(vec) > 0 {
		eg.Go(func() error {
			docs, err := x.backend.Nearest(ctx, q)
			if err != nil {
				return goerr.Wrap(err, "vector search failed")
			}
			nearest = docs
			return nil
		})
	} else {
		logging.From(ctx).Debug("no query embedding, lexical search only", "index", x.index)
	}
	if err := eg.Wait(); err != nil {
		return nil, goerr.Wrap(err, "hybrid search failed", goerr.V("index", x.index), goerr.V("query", query))
	}

	fused := fuse(topK, lexical, nearest)
	out := make([]*model.Document, len(fused))
	for i, doc := range fused {
		out[i] = x.schema.Project(doc)
	}
	return out, nil
}

// DocumentsMetadata lists the requested fields of every document. A missing
// index is reported as an empty listing.
func (x *Gateway) DocumentsMetadata(ctx context.Context, fields ...string) ([]map[string]any, error) {
	docs, err := x.backend.Metadata(ctx, x.index)
	if err != nil {
		if errors.Is(err, ErrIndexNotFound) {
			return []map[string]any{}, nil
		}
		return nil, goerr.Wrap(err, "failed to fetch metadata", goerr.V("index", x.index))
	}

	out := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		row := make(map[string]any, len(fields))
		for _, f := range fields {
			if v, ok := fieldValue(doc, f); ok {
				row[f] = v
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// Upload upserts docs by id
func (x *Gateway) Upload(ctx context.Context, docs []*model.Document) error {
	if len(docs) == 0 {
		return nil
	}
	if err := x.backend.Upsert(ctx, x.index, docs); err != nil {
		return goerr.Wrap(err, "failed to upload documents",
			goerr.V("index", x.index), goerr.V("count", len(docs)))
	}
	return nil
}

// DeleteByParent removes every chunk whose parent is one of parentIDs
func (x *Gateway) DeleteByParent(ctx context.Context, parentIDs []string) error {
	if len(parentIDs) == 0 {
		return nil
	}
	if err := x.backend.DeleteByParent(ctx, x.index, parentIDs); err != nil {
		return goerr.Wrap(err, "failed to delete stale chunks",
			goerr.V("index", x.index), goerr.V("parents", len(parentIDs)))
	}
	return nil
}

// Close releases the backend and the embedder. Safe to call twice.
func (x *Gateway) Close() error {
	var err error
	x.closeOnce.Do(func() {
		var errs []error
		if cerr := x.backend.Close(); cerr != nil {
			errs = append(errs, goerr.Wrap(cerr, "failed to close search backend"))
		}
		if x.embedder != nil {
			if cerr := x.embedder.Close(); cerr != nil {
				errs = append(errs, goerr.Wrap(cerr, "failed to close embedder"))
			}
		}
		err = errors.Join(errs...)
	})
	return err
}
