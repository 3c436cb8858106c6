// Package vectorstore stores PCR passages with their embeddings and serves
// similarity search over them.
//
// Two implementations share the Store interface:
//   - ChromemStore: embedded chromem-go database persisted to a directory
//     (default, no external service).
//   - QdrantStore: remote Qdrant over gRPC with retries and a circuit breaker.
//
// Each store serves exactly one collection.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound is returned when the collection does not exist,
	// typically because nothing has been indexed yet.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrConnectionFailed indicates the backing service is unreachable.
	ErrConnectionFailed = errors.New("vector store connection failed")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyDocuments indicates an empty document batch.
	ErrEmptyDocuments = errors.New("empty or nil documents")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Document is a passage to be indexed.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]any
}

// SearchResult is one similarity hit, highest score first.
type SearchResult struct {
	ID       string
	Content  string
	Score    float32
	Metadata map[string]any
}

// CollectionInfo describes the store's collection.
type CollectionInfo struct {
	Name       string `json:"name"`
	PointCount int    `json:"point_count"`
	VectorSize int    `json:"vector_size"`
}

// Store is the passage index.
type Store interface {
	// AddDocuments embeds and upserts docs, creating the collection on first
	// use. Documents with an existing ID are replaced.
	AddDocuments(ctx context.Context, docs []Document) ([]string, error)

	// Search returns up to k passages most similar to query. It returns
	// ErrCollectionNotFound when nothing has been indexed.
	Search(ctx context.Context, query string, k int) ([]SearchResult, error)

	// SearchWithFilters is Search restricted to passages whose metadata
	// equals every filter value.
	SearchWithFilters(ctx context.Context, query string, k int, filters map[string]string) ([]SearchResult, error)

	// DeleteDocuments removes passages by ID.
	DeleteDocuments(ctx context.Context, ids []string) error

	// DeleteCollection drops the collection and every passage in it.
	DeleteCollection(ctx context.Context) error

	// CollectionInfo describes the collection or returns ErrCollectionNotFound.
	CollectionInfo(ctx context.Context) (*CollectionInfo, error)

	// Ping verifies the backing service is reachable.
	Ping(ctx context.Context) error

	Close() error
}

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName accepts 1-64 lowercase letters, digits and underscores.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

func validateQuery(query string, k int) error {
	if query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if len(query) > maxQueryLength {
		return fmt.Errorf("query exceeds maximum length of %d characters", maxQueryLength)
	}
	if k <= 0 {
		return fmt.Errorf("k must be positive, got %d", k)
	}
	return nil
}

const (
	maxQueryLength = 10000
	maxK           = 10000
)

// stringify flattens metadata values for backends that only store strings.
func stringify(md map[string]any) map[string]string {
	if md == nil {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}
