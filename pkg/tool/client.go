package tool

import (
	"context"

	"github.com/m-mizutani/docent/pkg/model"
)

// Searcher runs a hybrid search over one index
type Searcher interface {
	HybridSearch(ctx context.Context, query string, topK int) ([]*model.Document, error)
}

// Client contains shared resources that tools can use
type Client struct {
	PDF Searcher
	Web Searcher
}
