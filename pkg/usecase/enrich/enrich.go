// Package enrich turns a source document into embedded search records with
// stored and described page images.
package enrich

import (
	"context"
	"fmt"
	"image"
	"runtime"
	"time"

	"github.com/m-mizutani/docent/pkg/adapter"
	"github.com/m-mizutani/docent/pkg/model"
	"github.com/m-mizutani/docent/pkg/utils/imaging"
	"github.com/m-mizutani/docent/pkg/utils/logging"
	"github.com/m-mizutani/docent/pkg/utils/ratelimit"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultImagesPrefix = "images"
	DefaultMaxImages    = 10

	ImageConnectionError = "[IMAGEN: error de conexión]"
	ImageAnalysisError   = "[IMAGEN: error de análisis]"

	// vision and embedding calls are both throttled to 40 per 3 seconds
	limiterBurst  = 40
	limiterPeriod = 3 * time.Second
)

// LLM is the model side of enrichment. llm.Gateway satisfies it.
type LLM interface {
	DescribeImage(ctx context.Context, jpeg []byte) (string, error)
	Embed(ctx context.Context, text string) []float32
}

// ImageStore keeps extracted images and returns their public URL
type ImageStore interface {
	Upload(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

type UseCase struct {
	llm      LLM
	store    ImageStore
	parser   Parser
	renderer Renderer

	imagesPrefix string
	maxImages    int
	vision       *ratelimit.Bucket
	embedding    *ratelimit.Bucket
	cpu          *semaphore.Weighted
}

type Option func(*UseCase)

func WithImagesPrefix(prefix string) Option {
	return func(uc *UseCase) {
		uc.imagesPrefix = prefix
	}
}

func WithMaxImages(n int) Option {
	return func(uc *UseCase) {
		uc.maxImages = n
	}
}

func WithVisionLimiter(b *ratelimit.Bucket) Option {
	return func(uc *UseCase) {
		uc.vision = b
	}
}

func WithEmbeddingLimiter(b *ratelimit.Bucket) Option {
	return func(uc *UseCase) {
		uc.embedding = b
	}
}

// WithCPUSlots bounds how many CPU bound steps (render, encode, resize) run at once
func WithCPUSlots(n int64) Option {
	return func(uc *UseCase) {
		if n > 0 {
			uc.cpu = semaphore.NewWeighted(n)
		}
	}
}

func newLimiter() (*ratelimit.Bucket, error) {
	return ratelimit.New(float64(limiterBurst)/limiterPeriod.Seconds(), limiterBurst)
}

func New(llm LLM, store ImageStore, parser Parser, renderer Renderer, opts ...Option) (*UseCase, error) {
	uc := &UseCase{
		llm:          llm,
		store:        store,
		parser:       parser,
		renderer:     renderer,
		imagesPrefix: DefaultImagesPrefix,
		maxImages:    DefaultMaxImages,
		cpu:          semaphore.NewWeighted(int64(runtime.NumCPU())),
	}
	for _, opt := range opts {
		opt(uc)
	}

	var err error
	if uc.vision == nil {
		if uc.vision, err = newLimiter(); err != nil {
			return nil, err
		}
	}
	if uc.embedding == nil {
		if uc.embedding, err = newLimiter(); err != nil {
			return nil, err
		}
	}
	return uc, nil
}

// NewPDF wires the enrichment pipeline around a PDF reader
func NewPDF(llm LLM, store ImageStore, reader adapter.DocumentReader, opts ...Option) (*UseCase, error) {
	parser := NewPDFParser(reader, nil)
	return New(llm, store, parser, parser, opts...)
}

// cpuBound runs fn holding one CPU slot
func (uc *UseCase) cpuBound(ctx context.Context, fn func() error) error {
	if err := uc.cpu.Acquire(ctx, 1); err != nil {
		return goerr.Wrap(err, "interrupted while waiting for cpu slot")
	}
	defer uc.cpu.Release(1)
	return fn()
}

type imageResult struct {
	url         string
	description string
}

// Process enriches one blob. A failed image is dropped; a chunk whose
// embedding failed is kept with an empty vector. The returned records are in
// chunk order.
func (uc *UseCase) Process(ctx context.Context, blob *model.BlobToProcess) ([]*model.EnrichedChunk, error) {
	docID := model.DocumentID(blob.Name)
	if err := model.ValidateDocumentID(docID); err != nil {
		return nil, err
	}
	fileName := blob.FileName()
	logger := logging.From(ctx).With("file", fileName, "document_id", docID)
	ctx = logging.With(ctx, logger)
	started := time.Now()

	var chunks []string
	err := uc.cpuBound(ctx, func() error {
		var perr error
		chunks, perr = uc.parser.Chunks(ctx, blob.Content)
		if perr != nil {
			logger.Warn("chunk extraction failed", logging.ErrAttr(perr))
			chunks = nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var images []image.Image
	if uc.renderer != nil && uc.maxImages > 0 {
		err := uc.cpuBound(ctx, func() error {
			var rerr error
			images, rerr = uc.renderer.Render(ctx, blob.Content, uc.maxImages)
			if rerr != nil {
				logger.Warn("page rendering failed", logging.ErrAttr(rerr))
				images = nil
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	if len(images) > uc.maxImages {
		images = images[:uc.maxImages]
	}

	if len(chunks) == 0 {
		logger.Warn("no chunks extracted, indexing an empty chunk")
		chunks = []string{""}
	}

	urls, descriptions := uc.processImages(ctx, docID, images)

	hash := blob.Hash
	if hash == "" {
		hash = model.ContentHash(blob.Content)
	}

	records := make([]*model.EnrichedChunk, len(chunks))
	var eg errgroup.Group
	for i, chunk := range chunks {
		eg.Go(func() error {
			rec, err := uc.enrichChunk(ctx, blob.Name, fileName, hash, docID, i+1, chunk, urls, descriptions)
			if err != nil {
				logger.Warn("chunk enrichment failed", "chunk", i+1, logging.ErrAttr(err))
				return nil
			}
			records[i] = rec
			return nil
		})
	}
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "enrichment interrupted", goerr.V("file", fileName))
	}

	out := make([]*model.EnrichedChunk, 0, len(records))
	for _, rec := range records {
		if rec != nil {
			out = append(out, rec)
		}
	}

	logger.Info("document enriched",
		"chunks", len(out),
		"images", len(urls),
		"elapsed", time.Since(started))
	return out, nil
}

func (uc *UseCase) enrichChunk(ctx context.Context, blobName, fileName, hash, docID string, n int, chunk string, urls, descriptions []string) (*model.EnrichedChunk, error) {
	if err := uc.embedding.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	vec := uc.llm.Embed(ctx, fmt.Sprintf("Documento '%s': %s", fileName, chunk))
	if len(vec) == 0 {
		// kept without a vector so lexical search still finds it
		logging.From(ctx).Warn("chunk indexed without embedding", "chunk", n)
		vec = []float32{}
	}

	return &model.EnrichedChunk{
		ID:                model.ChunkID(blobName, n),
		ParentDocumentID:  docID,
		Content:           chunk,
		ContentVector:     vec,
		SourceFile:        fileName,
		SourceFileHash:    hash,
		ChunkNumber:       n,
		ImageURLs:         urls,
		ImageDescriptions: descriptions,
	}, nil
}

// processImages stores and describes every image concurrently. URLs and
// descriptions are aligned and keep page order; images whose upload failed
// are left out.
func (uc *UseCase) processImages(ctx context.Context, docID string, images []image.Image) ([]string, []string) {
	if len(images) == 0 || uc.store == nil {
		return []string{}, []string{}
	}

	results := make([]*imageResult, len(images))
	var eg errgroup.Group
	for i, img := range images {
		eg.Go(func() error {
			res, err := uc.processImage(ctx, docID, i+1, img)
			if err != nil {
				logging.From(ctx).Warn("image dropped", "image", i+1, logging.ErrAttr(err))
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = eg.Wait()

	urls := make([]string, 0, len(images))
	descriptions := make([]string, 0, len(images))
	for _, res := range results {
		if res == nil {
			continue
		}
		urls = append(urls, res.url)
		descriptions = append(descriptions, res.description)
	}
	return urls, descriptions
}

func (uc *UseCase) processImage(ctx context.Context, docID string, n int, img image.Image) (*imageResult, error) {
	imageID := model.ImageID(docID, n)
	if err := model.ValidateImageID(imageID); err != nil {
		return nil, err
	}

	var stored []byte
	if err := uc.cpuBound(ctx, func() error {
		var cerr error
		stored, cerr = imaging.Compress(img, imaging.MaxStoredBytes)
		return cerr
	}); err != nil {
		return nil, goerr.Wrap(err, "failed to compress image", goerr.V("image_id", imageID))
	}

	name := fmt.Sprintf("%s/%s.jpg", uc.imagesPrefix, imageID)
	url, err := uc.store.Upload(ctx, name, stored, "image/jpeg")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to upload image", goerr.V("name", name))
	}

	return &imageResult{
		url:         url,
		description: uc.describe(ctx, imageID, img),
	}, nil
}

func (uc *UseCase) describe(ctx context.Context, imageID string, img image.Image) string {
	logger := logging.From(ctx)

	var small []byte
	if err := uc.cpuBound(ctx, func() error {
		var rerr error
		small, rerr = imaging.ForVision(img)
		return rerr
	}); err != nil {
		logger.Warn("failed to prepare image for vision", "image_id", imageID, logging.ErrAttr(err))
		return ImageAnalysisError
	}

	if err := uc.vision.Acquire(ctx, 1); err != nil {
		logger.Warn("vision limiter wait failed", "image_id", imageID, logging.ErrAttr(err))
		return ImageAnalysisError
	}
	desc, err := uc.llm.DescribeImage(ctx, small)
	if err != nil {
		if adapter.IsConnectionError(err) {
			logger.Warn("vision service unreachable", "image_id", imageID, logging.ErrAttr(err))
			return ImageConnectionError
		}
		logger.Error("image description failed", "image_id", imageID, logging.ErrAttr(err))
		return ImageAnalysisError
	}
	return fmt.Sprintf("[IMAGEN: %s]", desc)
}
