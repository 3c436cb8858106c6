package pcr

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGUID = "3f2504e0-4f89-11d3-9a0c-0305e82c3301"

func TestFIDFromFilename(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		want    string
		wantErr bool
	}{
		{"guid prefix", testGUID + "-塑膠製品.pdf", testGUID, false},
		{"upper case", strings.ToUpper(testGUID) + "-X.pdf", strings.ToUpper(testGUID), false},
		{"guid only", testGUID + ".pdf", testGUID, false},
		{"no guid", "report.pdf", "", true},
		{"guid not at start", "x-" + testGUID + ".pdf", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FIDFromFilename(tt.file)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrNoFID))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFIDFromLink(t *testing.T) {
	tests := []struct {
		name    string
		link    string
		want    string
		wantErr bool
	}{
		{"plain", "https://example.gov.tw/Download?fid=" + testGUID, testGUID, false},
		{"with trailing params", "https://example.gov.tw/Download?fid=" + testGUID + "&lang=zh", testGUID, false},
		{"missing param", "https://example.gov.tw/Download?id=1", "", true},
		{"suffixed value", "https://example.gov.tw/Download?fid=" + testGUID + "-23-015", "", true},
		{"not a guid", "https://example.gov.tw/Download?fid=abc", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FIDFromLink(tt.link)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoFID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecordFromMetadata(t *testing.T) {
	rec := RecordFromMetadata(map[string]any{
		KeyRegNo:        "23-015",
		KeyDocumentName: "塑膠製品",
		KeyDeveloper:    "環境部",
		KeyFID:          testGUID,
		KeyChunkIndex:   3,
		"unknown":       "ignored",
		KeyVersion:      nil,
	})

	assert.Equal(t, "23-015", rec.RegNo)
	assert.Equal(t, "塑膠製品", rec.DocumentName)
	assert.Equal(t, "環境部", rec.Developer)
	assert.Equal(t, testGUID, rec.FID)
	assert.Empty(t, rec.Version)
	assert.Empty(t, rec.PageContent)
}

func TestRecord_Summary(t *testing.T) {
	s := Record{RegNo: "23-015", DocumentName: "塑膠製品"}.Summary()
	assert.Equal(t, "登錄編號: 23-015\n文件名稱: 塑膠製品", s)
}

func TestCatalog_RoundTrip(t *testing.T) {
	input := `[
		{"pcr_reg_no": "A1", "download_link": "https://x/Download?fid=` + testGUID + `", "document_name": "紙類"},
		{"pcr_reg_no": "A2", "download_link": ""},
		{"pcr_reg_no": "A3", "download_link": "https://x/Download?fid=bad"},
		{"pcr_reg_no": "A4", "page": 12}
	]`
	entries, err := LoadCatalog(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assigned, err := AssignFIDs(entries)
	assert.Equal(t, 1, assigned)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoFID)
	assert.Contains(t, err.Error(), "A3")

	assert.Equal(t, testGUID, entries[0].FID())
	assert.Equal(t, NoLink, entries[1].FID())
	assert.Empty(t, entries[2].FID())
	assert.Equal(t, NoLink, entries[3].FID())
	// numbers decode as json.Number and keep their text
	assert.Equal(t, "12", RecordFromMetadata(map[string]any{KeyVersion: entries[3]["page"]}).Version)

	idx := IndexByFID(entries)
	require.Len(t, idx, 1)
	assert.Equal(t, "紙類", idx[testGUID].Record().DocumentName)

	var buf bytes.Buffer
	require.NoError(t, WriteCatalog(&buf, entries))
	assert.Contains(t, buf.String(), "紙類")
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Len(t, decoded, 4)
}

func TestLoadCatalog_Invalid(t *testing.T) {
	_, err := LoadCatalog(strings.NewReader(`{"not": "an array"}`))
	assert.Error(t, err)
}

func TestIsPlaceholder(t *testing.T) {
	assert.True(t, IsPlaceholder(""))
	assert.True(t, IsPlaceholder(NoFID))
	assert.True(t, IsPlaceholder(NoLink))
	assert.False(t, IsPlaceholder(testGUID))
}
