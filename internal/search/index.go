package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/pcrsearch/internal/reranker"
	"github.com/fyrsmithlabs/pcrsearch/internal/vectorstore"
)

// Index is the similarity-search collaborator: it returns up to k passages
// most similar to query, most similar first.
type Index interface {
	SimilaritySearch(ctx context.Context, query string, k int) ([]reranker.Passage, error)
}

// IndexFunc adapts a function to Index.
type IndexFunc func(ctx context.Context, query string, k int) ([]reranker.Passage, error)

// SimilaritySearch calls f.
func (f IndexFunc) SimilaritySearch(ctx context.Context, query string, k int) ([]reranker.Passage, error) {
	return f(ctx, query, k)
}

// StoreIndex serves passages from a vector store.
type StoreIndex struct {
	store vectorstore.Store
}

// NewStoreIndex wraps store. A nil store yields an index that always reports
// ErrIndexUnavailable.
func NewStoreIndex(store vectorstore.Store) *StoreIndex {
	return &StoreIndex{store: store}
}

// SimilaritySearch maps a missing collection or unreachable store to
// ErrIndexUnavailable; other failures are wrapped unchanged.
func (i *StoreIndex) SimilaritySearch(ctx context.Context, query string, k int) ([]reranker.Passage, error) {
	if i.store == nil {
		return nil, ErrIndexUnavailable
	}
	hits, err := i.store.Search(ctx, query, k)
	if err != nil {
		if errors.Is(err, vectorstore.ErrCollectionNotFound) || errors.Is(err, vectorstore.ErrConnectionFailed) {
			return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
		}
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	passages := make([]reranker.Passage, len(hits))
	for n, h := range hits {
		passages[n] = reranker.Passage{Text: h.Content, Metadata: h.Metadata}
	}
	return passages, nil
}
