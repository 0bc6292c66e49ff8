package indexer_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/m-mizutani/docent/pkg/model"
	"github.com/m-mizutani/docent/pkg/usecase/indexer"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
)

type mockIndex struct {
	mu        sync.Mutex
	ensured   int
	deleted   []string
	uploads   [][]*model.Document
	failBatch int
}

func (m *mockIndex) EnsureIndex(ctx context.Context) error {
	m.ensured++
	return nil
}

func (m *mockIndex) DeleteByParent(ctx context.Context, parentIDs []string) error {
	m.deleted = append(m.deleted, parentIDs...)
	return nil
}

func (m *mockIndex) Upload(ctx context.Context, docs []*model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads = append(m.uploads, docs)
	if len(m.uploads) == m.failBatch {
		return goerr.New("batch rejected")
	}
	return nil
}

type mockEnricher struct {
	chunksPerBlob int
	failName      string
}

func (m *mockEnricher) Process(ctx context.Context, blob *model.BlobToProcess) ([]*model.EnrichedChunk, error) {
	if blob.Name == m.failName {
		return nil, goerr.New("enrichment failed")
	}
	parent := model.DocumentID(blob.Name)
	out := make([]*model.EnrichedChunk, m.chunksPerBlob)
	for i := range out {
		out[i] = &model.EnrichedChunk{
			ID:               model.ChunkID(blob.Name, i+1),
			ParentDocumentID: parent,
			ChunkNumber:      i + 1,
			SourceFile:       blob.FileName(),
			SourceFileHash:   "hash-" + blob.FileName(),
		}
	}
	return out, nil
}

func blobs(n int) []*model.BlobToProcess {
	out := make([]*model.BlobToProcess, n)
	for i := range out {
		out[i] = &model.BlobToProcess{Name: fmt.Sprintf("docs/%d.pdf", i)}
	}
	return out
}

func TestIndexBlobs(t *testing.T) {
	index := &mockIndex{}
	uc := indexer.New(index, &mockEnricher{chunksPerBlob: 30}, indexer.WithConcurrency(4))

	report, err := uc.IndexBlobs(context.Background(), blobs(5))
	gt.NoError(t, err)
	gt.Equal(t, index.ensured, 1)
	gt.Equal(t, report.Documents, 5)
	gt.Equal(t, report.Chunks, 150)
	gt.Equal(t, report.Batches, 2)
	gt.Equal(t, report.FailedBatches, 0)

	gt.A(t, index.uploads).Length(2)
	gt.A(t, index.uploads[0]).Length(100)
	gt.A(t, index.uploads[1]).Length(50)

	// chunks keep blob order
	gt.Equal(t, index.uploads[0][0].SourceFile, "0.pdf")
	gt.Equal(t, index.uploads[0][30].SourceFile, "1.pdf")
	gt.A(t, index.deleted).Length(5)
}

func TestIndexBlobsContinuesPastFailures(t *testing.T) {
	index := &mockIndex{failBatch: 1}
	uc := indexer.New(index, &mockEnricher{chunksPerBlob: 10, failName: "docs/2.pdf"},
		indexer.WithBatchSize(15))

	report, err := uc.IndexBlobs(context.Background(), blobs(4))
	gt.NoError(t, err)
	gt.Equal(t, report.Batches, 2)
	gt.Equal(t, report.FailedBatches, 1)
	gt.Equal(t, report.Chunks, 15)
	gt.A(t, index.deleted).Length(3)

	// 1.pdf was split across the failed and the stored batch; its stored
	// chunks are written again without a hash so it is re-detected
	gt.A(t, index.uploads).Length(3)
	dirty := index.uploads[2]
	gt.A(t, dirty).Length(5)
	for _, doc := range dirty {
		gt.Equal(t, doc.ParentDocumentID, model.DocumentID("docs/1.pdf"))
		gt.Equal(t, doc.SourceFileHash, "")
	}
	// 3.pdf landed completely and keeps its hash
	gt.Equal(t, index.uploads[1][5].SourceFile, "3.pdf")
	gt.Equal(t, index.uploads[1][5].SourceFileHash, "hash-3.pdf")
}

func TestIndexBlobsWithoutFailuresLeavesHashes(t *testing.T) {
	index := &mockIndex{}
	uc := indexer.New(index, &mockEnricher{chunksPerBlob: 3}, indexer.WithBatchSize(2))

	_, err := uc.IndexBlobs(context.Background(), blobs(2))
	gt.NoError(t, err)
	gt.A(t, index.uploads).Length(3)
	for _, batch := range index.uploads {
		for _, doc := range batch {
			gt.NotEqual(t, doc.SourceFileHash, "")
		}
	}
}

func TestIndexBlobsNothingToUpload(t *testing.T) {
	index := &mockIndex{}
	report, err := indexer.New(index, &mockEnricher{}).IndexBlobs(context.Background(), blobs(2))
	gt.NoError(t, err)
	gt.Equal(t, report.Chunks, 0)
	gt.A(t, index.uploads).Length(0)
	gt.A(t, index.deleted).Length(0)
}

type mockEmbedder struct {
	empty string
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if text == m.empty {
			out[i] = []float32{}
			continue
		}
		out[i] = []float32{1, 2}
	}
	return out
}

func TestLoadAndIndexPages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.yaml")
	gt.NoError(t, os.WriteFile(path, []byte(`pages:
  - title: Misión
    content: Nuestra misión es servir.
    source: sobre_ajover
    url: https://www.example.com/sobre/
  - title: Contacto
    content: Escríbenos.
    source: contacto
    url: https://www.example.com/contacto/
`), 0644))

	pages, err := indexer.LoadPages(path)
	gt.NoError(t, err)
	gt.A(t, pages).Length(2)

	index := &mockIndex{}
	uc := indexer.New(index, nil, indexer.WithEmbedder(&mockEmbedder{empty: "Escríbenos."}))
	report, err := uc.IndexPages(context.Background(), pages)
	gt.NoError(t, err)
	gt.Equal(t, report.Documents, 2)
	gt.Equal(t, report.Chunks, 1)

	doc := index.uploads[0][0]
	gt.Equal(t, doc.ID, model.DeterministicID("https://www.example.com/sobre/"))
	gt.Equal(t, doc.Title, "Misión")
	gt.Equal(t, doc.Source, "sobre_ajover")
	gt.Equal(t, doc.SourceURL, "https://www.example.com/sobre/")
}

func TestLoadPagesValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.yaml")
	gt.NoError(t, os.WriteFile(path, []byte(`pages:
  - title: Sin URL
    content: x
    source: y
    url: not a url
`), 0644))

	_, err := indexer.LoadPages(path)
	gt.Error(t, err)
	gt.True(t, errors.Is(err, indexer.ErrInvalidPage))
}

func TestIndexPagesRequiresEmbedder(t *testing.T) {
	_, err := indexer.New(&mockIndex{}, nil).IndexPages(context.Background(), nil)
	gt.Error(t, err)
}
