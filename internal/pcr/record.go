// Package pcr holds the Product Category Rule domain types: catalog entries
// scraped from the registry, document identifiers (fid) and the record shape
// returned by search and lookup endpoints.
package pcr

import (
	"fmt"
	"strings"
)

// Metadata keys shared by the catalog, the vector index and the record store.
const (
	KeyRegNo         = "pcr_reg_no"
	KeySourceType    = "pcr_source_type"
	KeyDocumentName  = "document_name"
	KeyDeveloper     = "developer"
	KeyVersion       = "version"
	KeyApprovalDate  = "approval_date"
	KeyEffectiveDate = "effective_date"
	KeyProductScope  = "product_scope"
	KeyDownloadLink  = "download_link"
	KeyFeedbackLink  = "feedback_link"
	KeyCCCCodes      = "ccc_codes"
	KeyFID           = "fid"
	KeyFilename      = "downloaded_filename"
	KeyChunkIndex    = "chunk_index"
)

// Record is one PCR document. PageContent and PassageCount are only set on
// search results.
type Record struct {
	RegNo         string `json:"pcr_reg_no"`
	SourceType    string `json:"pcr_source_type"`
	DocumentName  string `json:"document_name"`
	Developer     string `json:"developer"`
	Version       string `json:"version"`
	ApprovalDate  string `json:"approval_date"`
	EffectiveDate string `json:"effective_date"`
	ProductScope  string `json:"product_scope"`
	DownloadLink  string `json:"download_link"`
	FeedbackLink  string `json:"feedback_link"`
	CCCCodes      string `json:"ccc_codes"`

	FID          string `json:"fid,omitempty"`
	PageContent  string `json:"page_content,omitempty"`
	PassageCount int    `json:"passage_count,omitempty"`
}

// RecordFromMetadata maps passage or catalog metadata onto a Record. Unknown
// keys are ignored and non-string values are formatted with %v.
func RecordFromMetadata(md map[string]any) Record {
	get := func(key string) string {
		v, ok := md[key]
		if !ok || v == nil {
			return ""
		}
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return Record{
		RegNo:         get(KeyRegNo),
		SourceType:    get(KeySourceType),
		DocumentName:  get(KeyDocumentName),
		Developer:     get(KeyDeveloper),
		Version:       get(KeyVersion),
		ApprovalDate:  get(KeyApprovalDate),
		EffectiveDate: get(KeyEffectiveDate),
		ProductScope:  get(KeyProductScope),
		DownloadLink:  get(KeyDownloadLink),
		FeedbackLink:  get(KeyFeedbackLink),
		CCCCodes:      get(KeyCCCCodes),
		FID:           get(KeyFID),
	}
}

// Summary renders the record as a short multi-line description for prompts.
func (r Record) Summary() string {
	var b strings.Builder
	line := func(label, v string) {
		if v != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, v)
		}
	}
	line("登錄編號", r.RegNo)
	line("文件名稱", r.DocumentName)
	line("制定者", r.Developer)
	line("版本", r.Version)
	line("核准日期", r.ApprovalDate)
	line("有效期限", r.EffectiveDate)
	line("適用範圍", r.ProductScope)
	line("下載連結", r.DownloadLink)
	return strings.TrimRight(b.String(), "\n")
}
