package search

import (
	"context"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/docent/pkg/adapter"
	"github.com/m-mizutani/docent/pkg/model"
	"github.com/m-mizutani/docent/pkg/utils/text"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	indexRegistry = "_indexes"

	// Firestore accepts at most 30 values for array-contains-any and in
	maxDisjunction = 30
	maxDocKeywords = 200
	// lexical candidates fetched per requested result before local ranking
	lexicalFanout = 4
)

// firestoreDoc is the stored form of a document. Keywords back the lexical
// leg; the vector field needs a Firestore vector index with COSINE distance.
type firestoreDoc struct {
	ID                string             `firestore:"id"`
	ParentDocumentID  string             `firestore:"parent_document_id,omitempty"`
	Content           string             `firestore:"content"`
	SourceFile        string             `firestore:"source_file,omitempty"`
	SourceFileHash    string             `firestore:"source_file_hash,omitempty"`
	ChunkNumber       int                `firestore:"chunk_number,omitempty"`
	ImageURLs         []string           `firestore:"image_urls,omitempty"`
	ImageDescriptions []string           `firestore:"image_descriptions,omitempty"`
	Title             string             `firestore:"title,omitempty"`
	Source            string             `firestore:"source,omitempty"`
	SourceURL         string             `firestore:"source_url,omitempty"`
	Keywords          []string           `firestore:"keywords"`
	ContentVector     firestore.Vector32 `firestore:"content_vector,omitempty"`
	VectorDistance    float64            `firestore:"vector_distance,omitempty"`
}

type indexEntry struct {
	Name      string    `firestore:"name"`
	Schema    string    `firestore:"schema"`
	Fields    []string  `firestore:"fields"`
	Dimension int       `firestore:"dimension"`
	Distance  string    `firestore:"distance"`
	CreatedAt time.Time `firestore:"created_at"`
}

func toFirestoreDoc(doc *model.Document) *firestoreDoc {
	kw := text.Keywords(doc.Title + " " + doc.SourceFile + " " + doc.Content)
	if len(kw) > maxDocKeywords {
		kw = kw[:maxDocKeywords]
	}
	out := &firestoreDoc{
		ID:                doc.ID,
		ParentDocumentID:  doc.ParentDocumentID,
		Content:           doc.Content,
		SourceFile:        doc.SourceFile,
		SourceFileHash:    doc.SourceFileHash,
		ChunkNumber:       doc.ChunkNumber,
		ImageURLs:         doc.ImageURLs,
		ImageDescriptions: doc.ImageDescriptions,
		Title:             doc.Title,
		Source:            doc.Source,
		SourceURL:         doc.SourceURL,
		Keywords:          kw,
	}
	if len(doc.ContentVector) > 0 {
		out.ContentVector = firestore.Vector32(doc.ContentVector)
	}
	return out
}

func (x *firestoreDoc) document() *model.Document {
	return &model.Document{
		ID:                x.ID,
		ParentDocumentID:  x.ParentDocumentID,
		Content:           x.Content,
		SourceFile:        x.SourceFile,
		SourceFileHash:    x.SourceFileHash,
		ChunkNumber:       x.ChunkNumber,
		ImageURLs:         x.ImageURLs,
		ImageDescriptions: x.ImageDescriptions,
		Title:             x.Title,
		Source:            x.Source,
		SourceURL:         x.SourceURL,
	}
}

// Firestore keeps each index in its own collection
type Firestore struct {
	client    *firestore.Client
	prefix    string
	closeOnce sync.Once
}

type FirestoreOption func(*Firestore)

// WithCollectionPrefix namespaces index collections, mainly for tests
func WithCollectionPrefix(prefix string) FirestoreOption {
	return func(f *Firestore) {
		f.prefix = prefix
	}
}

func NewFirestore(ctx context.Context, projectID, databaseID string, opts ...FirestoreOption) (*Firestore, error) {
	if projectID == "" {
		return nil, goerr.New("firestore project is required")
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID), goerr.V("database", databaseID))
	}

	f := &Firestore{client: client}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *Firestore) collection(index string) *firestore.CollectionRef {
	return f.client.Collection(f.prefix + index)
}

func (f *Firestore) registry(index string) *firestore.DocumentRef {
	return f.client.Collection(f.prefix + indexRegistry).Doc(index)
}

func (f *Firestore) EnsureIndex(ctx context.Context, index string, schema Schema) error {
	entry := &indexEntry{
		Name:      index,
		Schema:    string(schema),
		Fields:    schema.Fields(),
		Dimension: adapter.EmbeddingDimension,
		Distance:  "COSINE",
		CreatedAt: time.Now().UTC(),
	}
	if _, err := f.registry(index).Create(ctx, entry); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil
		}
		return goerr.Wrap(err, "failed to register index", goerr.V("index", index))
	}
	return nil
}

func (f *Firestore) exists(ctx context.Context, index string) (bool, error) {
	if _, err := f.registry(index).Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, goerr.Wrap(err, "failed to look up index", goerr.V("index", index))
	}
	return true, nil
}

func readAll(iter *firestore.DocumentIterator) ([]*firestoreDoc, error) {
	defer iter.Stop()
	var out []*firestoreDoc
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate documents")
		}
		var doc firestoreDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode document", goerr.V("id", snap.Ref.ID))
		}
		out = append(out, &doc)
	}
	return out, nil
}

// Lexical matches query keywords against the stored keyword arrays and
// ranks candidates by the number of distinct keywords they contain.
func (f *Firestore) Lexical(ctx context.Context, q *Query) ([]*model.Document, error) {
	keywords := text.Keywords(q.Text)
	if len(keywords) == 0 {
		return nil, nil
	}
	if len(keywords) > maxDisjunction {
		keywords = keywords[:maxDisjunction]
	}

	iter := f.collection(q.Index).
		Where("keywords", "array-contains-any", keywords).
		Limit(q.TopK * lexicalFanout).
		Documents(ctx)
	docs, err := readAll(iter)
	if err != nil {
		return nil, goerr.Wrap(err, "keyword query failed", goerr.V("index", q.Index))
	}

	wanted := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		wanted[k] = struct{}{}
	}
	hits := make(map[string]int, len(docs))
	for _, d := range docs {
		for _, k := range d.Keywords {
			if _, ok := wanted[k]; ok {
				hits[d.ID]++
			}
		}
	}
	sort.SliceStable(docs, func(i, j int) bool { return hits[docs[i].ID] > hits[docs[j].ID] })
	if len(docs) > q.TopK {
		docs = docs[:q.TopK]
	}

	out := make([]*model.Document, len(docs))
	for i, d := range docs {
		out[i] = d.document()
		out[i].Score = float64(hits[d.ID]) / float64(len(keywords))
	}
	return out, nil
}

// Nearest runs a native cosine KNN query on content_vector
func (f *Firestore) Nearest(ctx context.Context, q *Query) ([]*model.Document, error) {
	if len(q.Vector) == 0 {
		return nil, nil
	}

	vq := f.collection(q.Index).FindNearest("content_vector",
		firestore.Vector32(q.Vector), q.TopK, firestore.DistanceMeasureCosine,
		&firestore.FindNearestOptions{DistanceResultField: "vector_distance"})
	docs, err := readAll(vq.Documents(ctx))
	if err != nil {
		return nil, goerr.Wrap(err, "vector query failed", goerr.V("index", q.Index))
	}

	out := make([]*model.Document, len(docs))
	for i, d := range docs {
		out[i] = d.document()
		out[i].Score = 1 - d.VectorDistance
	}
	return out, nil
}

func (f *Firestore) Metadata(ctx context.Context, index string) ([]*model.Document, error) {
	ok, err := f.exists(ctx, index)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, goerr.Wrap(ErrIndexNotFound, "index is not registered", goerr.V("index", index))
	}

	iter := f.collection(index).
		Select("id", "parent_document_id", "source_file", "source_file_hash", "chunk_number",
			"title", "source", "source_url", "keywords").
		Documents(ctx)
	docs, err := readAll(iter)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list documents", goerr.V("index", index))
	}

	out := make([]*model.Document, len(docs))
	for i, d := range docs {
		out[i] = d.document()
	}
	return out, nil
}

func (f *Firestore) Upsert(ctx context.Context, index string, docs []*model.Document) error {
	bw := f.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(docs))
	for _, doc := range docs {
		job, err := bw.Set(f.collection(index).Doc(doc.ID), toFirestoreDoc(doc))
		if err != nil {
			bw.End()
			return goerr.Wrap(err, "failed to enqueue document", goerr.V("id", doc.ID))
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			return goerr.Wrap(err, "failed to write document", goerr.V("id", docs[i].ID))
		}
	}
	return nil
}

func (f *Firestore) DeleteByParent(ctx context.Context, index string, parentIDs []string) error {
	var refs []*firestore.DocumentRef
	for start := 0; start < len(parentIDs); start += maxDisjunction {
		end := min(start+maxDisjunction, len(parentIDs))
		iter := f.collection(index).
			Where("parent_document_id", "in", parentIDs[start:end]).
			Select().
			Documents(ctx)
		snaps, err := iter.GetAll()
		if err != nil {
			return goerr.Wrap(err, "failed to find chunks", goerr.V("index", index))
		}
		for _, s := range snaps {
			refs = append(refs, s.Ref)
		}
	}
	if len(refs) == 0 {
		return nil
	}

	bw := f.client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(refs))
	for _, ref := range refs {
		job, err := bw.Delete(ref)
		if err != nil {
			bw.End()
			return goerr.Wrap(err, "failed to enqueue delete", goerr.V("id", ref.ID))
		}
		jobs = append(jobs, job)
	}
	bw.End()

	for i, job := range jobs {
		if _, err := job.Results(); err != nil {
			return goerr.Wrap(err, "failed to delete chunk", goerr.V("id", refs[i].ID))
		}
	}
	return nil
}

func (f *Firestore) Close() error {
	var err error
	f.closeOnce.Do(func() {
		if cerr := f.client.Close(); cerr != nil {
			err = goerr.Wrap(cerr, "failed to close firestore client")
		}
	})
	return err
}
