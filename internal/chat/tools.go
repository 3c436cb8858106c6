package chat

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/tools"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pcrsearch/internal/logging"
	"github.com/fyrsmithlabs/pcrsearch/internal/pcr"
	"github.com/fyrsmithlabs/pcrsearch/internal/records"
	"github.com/fyrsmithlabs/pcrsearch/internal/search"
)

const (
	toolResultLimit = 3

	// Aggregated document text is cut to this many runes in tool output.
	maxExcerptRunes = 800
)

// RecordLister is the relational lookup used by DatabaseSearchTool.
type RecordLister interface {
	List(ctx context.Context, opts records.ListOptions) ([]pcr.Record, error)
}

// RecordSearcher is the document-level search used by VectorSearchTool.
type RecordSearcher interface {
	SearchRecords(ctx context.Context, query string, opts search.Options) ([]pcr.Record, error)
}

var (
	_ tools.Tool = (*DatabaseSearchTool)(nil)
	_ tools.Tool = (*VectorSearchTool)(nil)
)

// DatabaseSearchTool looks up PCR records by keyword.
type DatabaseSearchTool struct {
	lister RecordLister
	logger *logging.Logger
}

// NewDatabaseSearchTool wraps a record lister as a tool.
func NewDatabaseSearchTool(lister RecordLister, logger *logging.Logger) *DatabaseSearchTool {
	if logger == nil {
		logger = logging.Nop()
	}
	return &DatabaseSearchTool{lister: lister, logger: logger}
}

// Name returns the tool name the agent calls.
func (t *DatabaseSearchTool) Name() string { return "pcr_database_search" }

// Description tells the model when to use the relational lookup.
func (t *DatabaseSearchTool) Description() string {
	return "查詢產品碳足跡 PCR 資料庫。依產品名稱、制定者或產品範圍模糊搜尋，回傳 PCR 記錄的 JSON 陣列，找不到時回傳空陣列。"
}

// Call returns a JSON array of at most three records. Lookup failures are
// logged and reported as an empty array.
func (t *DatabaseSearchTool) Call(ctx context.Context, input string) (string, error) {
	query := strings.TrimSpace(input)
	t.logger.Info(ctx, "tool call", zap.String("tool", t.Name()), zap.String("query", query))

	recs, err := t.lister.List(ctx, records.ListOptions{Limit: toolResultLimit, Search: query})
	if err != nil {
		t.logger.Error(ctx, "tool failed", zap.String("tool", t.Name()), zap.Error(err))
		return "[]", nil
	}
	t.logger.Info(ctx, "tool completed", zap.String("tool", t.Name()), zap.Int("records", len(recs)))
	return encodeRecords(recs), nil
}

// VectorSearchTool runs the document-level semantic search.
type VectorSearchTool struct {
	searcher RecordSearcher
	logger   *logging.Logger
}

// NewVectorSearchTool wraps a document searcher as a tool.
func NewVectorSearchTool(searcher RecordSearcher, logger *logging.Logger) *VectorSearchTool {
	if logger == nil {
		logger = logging.Nop()
	}
	return &VectorSearchTool{searcher: searcher, logger: logger}
}

// Name returns the tool name the agent calls.
func (t *VectorSearchTool) Name() string { return "pcr_vector_search" }

// Description tells the model when to use the document content search.
func (t *VectorSearchTool) Description() string {
	return "以向量索引進行文件級檢索。回傳與查詢最相關的 PCR 文件（JSON 陣列，含內容摘錄），找不到時回傳空陣列。"
}

// Call returns a JSON array of the top three documents. Search failures
// are logged and reported as an empty array.
func (t *VectorSearchTool) Call(ctx context.Context, input string) (string, error) {
	query := strings.TrimSpace(input)
	t.logger.Info(ctx, "tool call", zap.String("tool", t.Name()), zap.String("query", query))

	recs, err := t.searcher.SearchRecords(ctx, query, search.Options{TopN: toolResultLimit})
	if err != nil {
		t.logger.Error(ctx, "tool failed", zap.String("tool", t.Name()), zap.Error(err))
		return "[]", nil
	}
	for i := range recs {
		recs[i].PageContent = excerpt(recs[i].PageContent, maxExcerptRunes)
	}
	t.logger.Info(ctx, "tool completed", zap.String("tool", t.Name()), zap.Int("records", len(recs)))
	return encodeRecords(recs), nil
}

func encodeRecords(recs []pcr.Record) string {
	if len(recs) == 0 {
		return "[]"
	}
	b, err := json.Marshal(recs)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func excerpt(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
