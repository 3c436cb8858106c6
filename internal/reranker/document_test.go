package reranker

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/pcrsearch/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func passage(fid, text string) Passage {
	md := map[string]any{"document_name": "doc " + fid}
	if fid != "" {
		md[MetadataFID] = fid
	}
	return Passage{Text: text, Metadata: md}
}

func TestRankTopDocuments(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		passages []Passage
		topN     int
		want     []string
	}{
		{
			name:     "empty",
			passages: nil,
			topN:     5,
			want:     []string{},
		},
		{
			name: "three A two B top one",
			passages: []Passage{
				passage("A", "a1"), passage("B", "b1"), passage("A", "a2"),
				passage("B", "b2"), passage("A", "a3"),
			},
			topN: 1,
			want: []string{"A"},
		},
		{
			name: "ties keep first occurrence",
			passages: []Passage{
				passage("C", "c1"), passage("A", "a1"), passage("B", "b1"),
				passage("B", "b2"), passage("A", "a2"), passage("C", "c2"),
			},
			topN: 3,
			want: []string{"C", "A", "B"},
		},
		{
			name: "higher count beats earlier occurrence",
			passages: []Passage{
				passage("A", "a1"), passage("B", "b1"), passage("B", "b2"),
			},
			topN: 2,
			want: []string{"B", "A"},
		},
		{
			name:     "single document capped by distinct count",
			passages: []Passage{passage("A", "1"), passage("A", "2"), passage("A", "3")},
			topN:     5,
			want:     []string{"A"},
		},
		{
			name: "passages without fid do not count",
			passages: []Passage{
				passage("", "x"), passage("", "y"), passage("", "z"),
				passage("B", "b1"), {Text: "nil metadata"},
				{Text: "numeric fid", Metadata: map[string]any{MetadataFID: 7}},
			},
			topN: 5,
			want: []string{"B"},
		},
		{
			name:     "non-positive top n",
			passages: []Passage{passage("A", "a")},
			topN:     0,
			want:     []string{},
		},
	}
	r := NewDocumentReranker()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.RankTopDocuments(ctx, tt.passages, tt.topN))
		})
	}
}

func TestAggregateDocuments(t *testing.T) {
	ctx := context.Background()
	r := NewDocumentReranker(WithSeparator(" | "))

	passages := []Passage{
		{Text: "a1", Metadata: map[string]any{MetadataFID: "A", "version": "1"}},
		passage("B", "b1"),
		{Text: "a2", Metadata: map[string]any{MetadataFID: "A", "version": "2"}},
		passage("C", "c1"),
		{Text: "a3", Metadata: map[string]any{MetadataFID: "A", "version": "3"}},
		passage("B", "b2"),
	}

	got := r.AggregateDocuments(ctx, passages, []string{"B", "A"})
	require.Len(t, got, 2)

	assert.Equal(t, "B", got[0].FID)
	assert.Equal(t, "b1 | b2", got[0].Content)
	assert.Equal(t, 2, got[0].PassageCount)
	assert.Equal(t, 1, got[0].Rank)

	assert.Equal(t, "A", got[1].FID)
	assert.Equal(t, "a1 | a2 | a3", got[1].Content)
	assert.Equal(t, "1", got[1].Metadata["version"], "metadata comes from the first passage")
	assert.Equal(t, 3, got[1].PassageCount)
	assert.Equal(t, 2, got[1].Rank)
}

func TestAggregateDocuments_MissingSelectionSkipped(t *testing.T) {
	ctx := context.Background()
	log := logging.NewTestLogger()
	r := NewDocumentReranker(WithLogger(log.Logger))

	got := r.AggregateDocuments(ctx, []Passage{passage("A", "a1")}, []string{"Z", "A", "A"})

	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].FID)
	assert.Equal(t, 1, got[0].Rank)
	log.AssertLogged(t, zapcore.WarnLevel, "no passages")
	log.AssertField(t, "no passages", "fid", "Z")
}

func TestAggregateDocuments_Empty(t *testing.T) {
	r := NewDocumentReranker()
	assert.Empty(t, r.AggregateDocuments(context.Background(), nil, nil))
	assert.Empty(t, r.AggregateDocuments(context.Background(), nil, []string{"A"}))
}

func TestAggregateDocuments_DoesNotAliasMetadata(t *testing.T) {
	md := map[string]any{MetadataFID: "A", "title": "original"}
	r := NewDocumentReranker()

	got := r.AggregateDocuments(context.Background(), []Passage{{Text: "x", Metadata: md}}, []string{"A"})
	require.Len(t, got, 1)
	got[0].Metadata["title"] = "changed"

	assert.Equal(t, "original", md["title"])
}

func TestRerank_MajorityDocumentWins(t *testing.T) {
	r := NewDocumentReranker()
	passages := []Passage{
		passage("A", "first"), passage("B", "b1"), passage("A", "second"),
		passage("B", "b2"), passage("A", "third"),
	}

	got, err := r.Rerank(context.Background(), "塑膠", passages, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].FID)
	assert.Equal(t, strings.Join([]string{"first", "second", "third"}, DefaultSeparator), got[0].Content)
}

func TestRerank_Properties(t *testing.T) {
	r := NewDocumentReranker()
	ctx := context.Background()

	// Deterministic pseudo-random candidate sets.
	for seed := 1; seed <= 20; seed++ {
		var passages []Passage
		inputFIDs := map[string]bool{}
		x := seed
		for i := 0; i < 60; i++ {
			x = (x*1103515245 + 12345) % 2147483648
			fid := ""
			if x%7 != 0 {
				fid = fmt.Sprintf("doc-%d", x%9)
				inputFIDs[fid] = true
			}
			passages = append(passages, passage(fid, fmt.Sprintf("p%d", i)))
		}
		topN := seed%5 + 1

		first, err := r.Rerank(ctx, "q", passages, topN)
		require.NoError(t, err)
		second, err := r.Rerank(ctx, "q", passages, topN)
		require.NoError(t, err)
		assert.Equal(t, first, second, "seed %d not idempotent", seed)

		assert.LessOrEqual(t, len(first), topN)
		assert.LessOrEqual(t, len(first), len(inputFIDs))
		seen := map[string]bool{}
		for i, rec := range first {
			assert.True(t, inputFIDs[rec.FID])
			assert.False(t, seen[rec.FID], "duplicate fid %s", rec.FID)
			seen[rec.FID] = true
			if i > 0 {
				assert.GreaterOrEqual(t, first[i-1].PassageCount, rec.PassageCount)
			}
		}
	}
}

func TestRerank_NilContext(t *testing.T) {
	r := NewDocumentReranker()
	//nolint:staticcheck // exercising the nil guard
	_, err := r.Rerank(nil, "q", nil, 1)
	assert.ErrorIs(t, err, ErrNilContext)
	assert.NoError(t, r.Close())
}

func TestPassage_FID(t *testing.T) {
	fid, ok := passage("A", "x").FID()
	assert.True(t, ok)
	assert.Equal(t, "A", fid)

	_, ok = Passage{}.FID()
	assert.False(t, ok)
}

var _ Reranker = (*DocumentReranker)(nil)
