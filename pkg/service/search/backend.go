package search

import (
	"context"
	"sort"

	"github.com/m-mizutani/docent/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

// ErrIndexNotFound is returned by backends for an index that was never
// created
var ErrIndexNotFound = goerr.New("index not found")

// rrfK is the rank constant of reciprocal rank fusion
const rrfK = 60

type Query struct {
	Index  string
	Schema Schema
	Text   string
	Vector []float32
	TopK   int
}

// Backend stores documents of one or more indexes. Lexical and Nearest
// return ranked lists, best first; fusion happens in the Gateway.
type Backend interface {
	EnsureIndex(ctx context.Context, index string, schema Schema) error
	Lexical(ctx context.Context, q *Query) ([]*model.Document, error)
	Nearest(ctx context.Context, q *Query) ([]*model.Document, error)
	Metadata(ctx context.Context, index string) ([]*model.Document, error)
	Upsert(ctx context.Context, index string, docs []*model.Document) error
	DeleteByParent(ctx context.Context, index string, parentIDs []string) error
	Close() error
}

// fuse merges ranked lists with reciprocal rank fusion. Documents seen in
// several lists accumulate score; ties keep first-seen order.
func fuse(topK int, lists ...[]*model.Document) []*model.Document {
	var (
		order  []*model.Document
		scores = map[string]float64{}
	)
	for _, list := range lists {
		for rank, doc := range list {
			if _, seen := scores[doc.ID]; !seen {
				order = append(order, doc)
			}
			scores[doc.ID] += 1.0 / float64(rrfK+rank+1)
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i].ID] > scores[order[j].ID]
	})
	if topK > 0 && len(order) > topK {
		order = order[:topK]
	}

	out := make([]*model.Document, len(order))
	for i, doc := range order {
		d := *doc
		d.Score = scores[doc.ID]
		out[i] = &d
	}
	return out
}
