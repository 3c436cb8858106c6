package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/pcrsearch/internal/pcr"
	"github.com/fyrsmithlabs/pcrsearch/internal/records"
	"github.com/fyrsmithlabs/pcrsearch/internal/search"
)

type searchInput struct {
	Query string `json:"query" jsonschema:"Natural language description of the product or rule"`
	TopN  int    `json:"top_n,omitempty" jsonschema:"Number of documents to return (default: server setting)"`
	K     int    `json:"k,omitempty" jsonschema:"Number of passages to retrieve before ranking (default: server setting)"`
}

type recordsInput struct {
	Search string `json:"search,omitempty" jsonschema:"Keyword matched against document name, developer and product scope"`
	Skip   int    `json:"skip,omitempty" jsonschema:"Records to skip"`
	Limit  int    `json:"limit,omitempty" jsonschema:"Maximum records to return (default: 20)"`
}

type recordsOutput struct {
	Results []pcr.Record `json:"results" jsonschema:"Matching PCR records"`
	Count   int          `json:"count" jsonschema:"Number of records returned"`
}

const defaultRecordsLimit = 20

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "pcr_search",
		Description: "Find the Product Category Rules documents most relevant to a query. Documents are ranked by how many retrieved passages they contain.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args searchInput) (*mcp.CallToolResult, recordsOutput, error) {
		var out recordsOutput
		err := s.instrument(ctx, "pcr_search", func() error {
			q := strings.TrimSpace(args.Query)
			if q == "" {
				return fmt.Errorf("%w: query is required", search.ErrInvalidOptions)
			}
			recs, err := s.search.SearchRecords(ctx, q, search.Options{TopN: args.TopN, InitialK: args.K})
			if err != nil {
				return err
			}
			out = newRecordsOutput(recs)
			return nil
		})
		if err != nil {
			return nil, recordsOutput{}, err
		}
		return textResult(fmt.Sprintf("Found %d PCR documents", out.Count)), out, nil
	})

	if s.records == nil {
		s.logger.Warn("record store not configured, skipping pcr_records")
		return
	}

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "pcr_records",
		Description: "List PCR catalog records, optionally filtered by a keyword.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args recordsInput) (*mcp.CallToolResult, recordsOutput, error) {
		var out recordsOutput
		err := s.instrument(ctx, "pcr_records", func() error {
			limit := args.Limit
			if limit <= 0 {
				limit = defaultRecordsLimit
			}
			recs, err := s.records.List(ctx, records.ListOptions{
				Skip:   args.Skip,
				Limit:  limit,
				Search: strings.TrimSpace(args.Search),
			})
			if err != nil {
				return err
			}
			out = newRecordsOutput(recs)
			return nil
		})
		if err != nil {
			return nil, recordsOutput{}, err
		}
		return textResult(fmt.Sprintf("Found %d PCR records", out.Count)), out, nil
	})
}

func (s *Server) instrument(ctx context.Context, tool string, fn func() error) error {
	start := time.Now()
	s.metrics.IncrementActive(ctx, tool)
	err := fn()
	s.metrics.DecrementActive(ctx, tool)
	s.metrics.RecordInvocation(ctx, tool, time.Since(start), err)
	return err
}

func newRecordsOutput(recs []pcr.Record) recordsOutput {
	if recs == nil {
		recs = []pcr.Record{}
	}
	return recordsOutput{Results: recs, Count: len(recs)}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}
