package adapter

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
)

// Storage is the blob store holding source documents and extracted images
type Storage interface {
	// List returns the names of all objects under prefix
	List(ctx context.Context, prefix string) ([]string, error)
	// Download reads a whole object
	Download(ctx context.Context, name string) ([]byte, error)
	// Upload writes an object and returns its public URL
	Upload(ctx context.Context, name string, data []byte, contentType string) (string, error)
	Close() error
}

// storageClient implements Storage interface using Cloud Storage
type storageClient struct {
	bucketName string
	client     *storage.Client
}

// NewStorage creates a new Cloud Storage client
func NewStorage(ctx context.Context, bucketName string) (Storage, error) {
	if bucketName == "" {
		return nil, goerr.New("bucket name is required")
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	return &storageClient{
		bucketName: bucketName,
		client:     client,
	}, nil
}

func (s *storageClient) List(ctx context.Context, prefix string) ([]string, error) {
	it := s.client.Bucket(s.bucketName).Objects(ctx, &storage.Query{Prefix: prefix})

	var names []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list objects", goerr.V("prefix", prefix))
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

func (s *storageClient) Download(ctx context.Context, name string) ([]byte, error) {
	reader, err := s.client.Bucket(s.bucketName).Object(name).NewReader(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read from storage", goerr.Value("name", name))
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to download object", goerr.Value("name", name))
	}
	return data, nil
}

func (s *storageClient) Upload(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	writer := s.client.Bucket(s.bucketName).Object(name).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return "", goerr.Wrap(err, "failed to write object", goerr.Value("name", name))
	}
	if err := writer.Close(); err != nil {
		return "", goerr.Wrap(err, "failed to finalize object", goerr.Value("name", name))
	}

	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucketName, (&url.URL{Path: name}).EscapedPath()), nil
}

func (s *storageClient) Close() error {
	if err := s.client.Close(); err != nil {
		return goerr.Wrap(err, "failed to close storage client")
	}
	return nil
}
