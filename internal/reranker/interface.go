// Package reranker turns passage-level similarity hits into a ranked list of
// whole documents.
//
// A similarity search returns many passages, several of which usually belong
// to the same source document. DocumentReranker counts passages per document
// identifier (fid), keeps the most frequently hit documents and joins each
// document's passages into one context string.
package reranker

import (
	"context"
	"maps"
)

// MetadataFID is the metadata key carrying a passage's document identifier.
const MetadataFID = "fid"

// Passage is one retrieved chunk. Passages are treated as immutable.
type Passage struct {
	Text     string
	Metadata map[string]any
}

// FID returns the passage's document identifier. Passages without a non-empty
// string fid cannot be attributed to a document.
func (p Passage) FID() (string, bool) {
	fid, ok := p.Metadata[MetadataFID].(string)
	return fid, ok && fid != ""
}

// AggregatedRecord is one selected document with its passages joined.
type AggregatedRecord struct {
	FID string
	// Metadata is copied from the first passage seen for the document.
	Metadata map[string]any
	// Content joins the document's passage texts in candidate order.
	Content string
	// PassageCount is the document's relevance score: the number of its
	// passages in the candidate set.
	PassageCount int
	// Rank is the 1-based position in the result.
	Rank int
}

func newRecord(fid string, md map[string]any) *AggregatedRecord {
	return &AggregatedRecord{FID: fid, Metadata: maps.Clone(md)}
}

// Reranker selects and assembles the top documents for a query.
type Reranker interface {
	// Rerank returns at most topN records in ranked order. An empty passage
	// set yields an empty result.
	Rerank(ctx context.Context, query string, passages []Passage, topN int) ([]AggregatedRecord, error)

	// Close releases any resources held by the reranker.
	Close() error
}
